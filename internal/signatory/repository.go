package signatory

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/docflow/docflow/internal/shared"
)

// Repository reads signatories from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const selectSignatory = `SELECT id, kind, name, email, role, position, department FROM signatories`

// Find returns the first active signatory holding the role and position. An empty department
// matches any department.
func (r *Repository) Find(ctx context.Context, q Query) (Signatory, error) {
	row := r.pool.QueryRow(ctx, selectSignatory+`
WHERE active AND lower(role) = lower($1) AND lower(position) = lower($2) AND ($3 = '' OR lower(department) = lower($3))
ORDER BY id ASC LIMIT 1`, q.Role, q.Position, q.Department)
	return scanSignatory(row)
}

// FindByID returns a person by kind and id.
func (r *Repository) FindByID(ctx context.Context, kind shared.AssigneeKind, id int64) (Signatory, error) {
	row := r.pool.QueryRow(ctx, selectSignatory+` WHERE kind = $1 AND id = $2 AND active`, string(kind), id)
	return scanSignatory(row)
}

func scanSignatory(row pgx.Row) (Signatory, error) {
	var (
		sig  Signatory
		kind string
	)
	if err := row.Scan(&sig.ID, &kind, &sig.Name, &sig.Email, &sig.Role, &sig.Position, &sig.Department); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Signatory{}, ErrNotFound
		}
		return Signatory{}, err
	}
	sig.Kind = shared.AssigneeKind(kind)
	return sig, nil
}
