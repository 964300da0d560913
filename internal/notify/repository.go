package notify

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/docflow/docflow/internal/shared"
)

// Repository reads and updates persisted notifications.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListFilter narrows List.
type ListFilter struct {
	RecipientID   int64
	RecipientKind shared.AssigneeKind
	UnreadOnly    bool
	Limit         int
}

const notificationColumns = `id, recipient_id, recipient_kind, event_type, title, message, document_id, reference_type, escalated, created_at, read_at`

// List returns the newest notifications of a recipient.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Notification, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `SELECT `+notificationColumns+`
FROM notifications
WHERE recipient_id = $1 AND recipient_kind = $2 AND ($3 = FALSE OR read_at IS NULL)
ORDER BY created_at DESC, id DESC
LIMIT $4`, filter.RecipientID, string(filter.RecipientKind), filter.UnreadOnly, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkRead stamps a notification owned by the recipient as read.
func (r *Repository) MarkRead(ctx context.Context, id, recipientID int64, kind shared.AssigneeKind, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE notifications SET read_at = COALESCE(read_at, $4)
WHERE id = $1 AND recipient_id = $2 AND recipient_kind = $3`, id, recipientID, string(kind), at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type pgTxStore struct {
	tx pgx.Tx
}

// NewTxStore binds a TxStore to an open transaction.
func NewTxStore(tx pgx.Tx) TxStore {
	return &pgTxStore{tx: tx}
}

func (s *pgTxStore) InsertNotification(ctx context.Context, n Notification) (Notification, error) {
	err := s.tx.QueryRow(ctx, `INSERT INTO notifications
(recipient_id, recipient_kind, event_type, title, message, document_id, reference_type, escalated, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		n.RecipientID, string(n.RecipientKind), string(n.EventType), n.Title, n.Message, n.DocumentID,
		string(n.ReferenceType), n.Escalated, n.CreatedAt).Scan(&n.ID)
	if err != nil {
		return Notification{}, err
	}
	return n, nil
}

func scanNotification(row pgx.Row) (Notification, error) {
	var (
		n                        Notification
		kind, eventType, refType string
	)
	if err := row.Scan(&n.ID, &n.RecipientID, &kind, &eventType, &n.Title, &n.Message, &n.DocumentID, &refType, &n.Escalated, &n.CreatedAt, &n.ReadAt); err != nil {
		return Notification{}, err
	}
	n.RecipientKind = shared.AssigneeKind(kind)
	n.EventType = EventType(eventType)
	n.ReferenceType = ReferenceType(refType)
	return n, nil
}
