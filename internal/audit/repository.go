package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRepository reads audit_logs from PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// TimelineWindow implements Repository.
func (r *PGRepository) TimelineWindow(ctx context.Context, arg WindowParams) ([]TimelineRow, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, occurred_at, COALESCE(actor_id, 0), action, category, target_type, target_id, severity, details
FROM audit_logs
WHERE ($1::timestamptz IS NULL OR occurred_at >= $1)
  AND ($2::timestamptz IS NULL OR occurred_at < $2)
  AND ($3::bigint IS NULL OR actor_id = $3)
  AND ($4::text IS NULL OR target_type = $4)
  AND ($5::text IS NULL OR target_id = $5)
  AND ($6::text IS NULL OR action = $6)
ORDER BY occurred_at DESC, id DESC
OFFSET $7 LIMIT $8`, arg.FromAt, arg.ToAt, arg.Actor, arg.TargetType, arg.TargetID, arg.Action, arg.OffsetRows, arg.LimitRows)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TimelineRow
	for rows.Next() {
		var (
			row     TimelineRow
			details []byte
		)
		if err := rows.Scan(&row.ID, &row.At, &row.ActorID, &row.Action, &row.Category, &row.TargetType, &row.TargetID, &row.Severity, &details); err != nil {
			return nil, err
		}
		if len(details) > 0 && string(details) != "null" {
			if err := json.Unmarshal(details, &row.Details); err != nil {
				return nil, fmt.Errorf("audit: decode details of %d: %w", row.ID, err)
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
