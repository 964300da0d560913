package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/docflow/docflow/internal/funds"
	"github.com/docflow/docflow/internal/notify"
	"github.com/docflow/docflow/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for documents and steps.
type Repository struct {
	pool   *pgxpool.Pool
	txOpts db.TxOptions
}

// NewRepository constructs a repository. txOpts bounds the lock contention retries.
func NewRepository(pool *pgxpool.Pool, txOpts db.TxOptions) *Repository {
	return &Repository{pool: pool, txOpts: txOpts}
}

const documentColumns = `d.id, d.doc_type, d.title, d.description, d.status, d.submitter_id, d.submitter_kind,
d.submitter_name, d.department, d.file_path, d.form_data, d.created_at, d.updated_at`

const stepColumns = `s.id, s.document_id, s.step_order, s.name, s.assignee_id, s.assignee_kind, s.assignee_name,
s.status, s.is_gating, s.is_fund_trigger, s.acted_at, s.note, s.signature_ref, s.expired_at, s.resubmitted_at`

// WithTx wraps fn in a repeatable-read transaction retried on lock contention.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithRetryTx(ctx, r.pool, r.txOpts, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// GetDocument loads one document.
func (r *Repository) GetDocument(ctx context.Context, id int64) (Document, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents d WHERE d.id = $1`, id)
	return scanDocument(row)
}

// SetFilePath points a document at its rendered artifact.
func (r *Repository) SetFilePath(ctx context.Context, id int64, path string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE documents SET file_path = $2 WHERE id = $1`, id, path)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: document %d", ErrNotFound, id)
	}
	return nil
}

// ListSteps returns the steps of a document in order.
func (r *Repository) ListSteps(ctx context.Context, documentID int64) ([]Step, error) {
	return listSteps(ctx, r.pool, documentID)
}

// ListHistory returns the action log of a document, oldest first.
func (r *Repository) ListHistory(ctx context.Context, documentID int64) ([]HistoryEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, document_id, COALESCE(step_id, 0), COALESCE(actor_id, 0), action, note, at
FROM document_history WHERE document_id = $1 ORDER BY at ASC, id ASC`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []HistoryEntry
	for rows.Next() {
		var (
			e      HistoryEntry
			action string
		)
		if err := rows.Scan(&e.ID, &e.DocumentID, &e.StepID, &e.ActorID, &action, &e.Note, &e.At); err != nil {
			return nil, err
		}
		e.Action = HistoryAction(action)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListAssigned returns the documents on which the filter's actor holds a step.
func (r *Repository) ListAssigned(ctx context.Context, filter AssignedFilter) ([]AssignedDocument, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+documentColumns+`, `+stepColumns+`
FROM document_steps s
JOIN documents d ON d.id = s.document_id
WHERE s.assignee_id = $1 AND s.assignee_kind = $2 AND ($3 = FALSE OR s.status = 'pending')
ORDER BY d.created_at DESC, d.id DESC, s.step_order ASC
LIMIT $4`, filter.ActorID, string(filter.ActorKind), filter.OnlyPending, filter.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AssignedDocument
	for rows.Next() {
		var (
			row  documentRow
			step Step
		)
		if err := rows.Scan(append(row.targets(), stepTargets(&step)...)...); err != nil {
			return nil, err
		}
		doc, err := row.finish()
		if err != nil {
			return nil, err
		}
		out = append(out, AssignedDocument{Document: doc, Step: step})
	}
	return out, rows.Err()
}

// ListOverdue returns pending steps whose SLA baseline is at or before cutoff, oldest first.
func (r *Repository) ListOverdue(ctx context.Context, cutoff time.Time, limit int) ([]OverdueCandidate, error) {
	rows, err := r.pool.Query(ctx, `SELECT document_id, id, step_order, baseline FROM (
	SELECT s.document_id, s.id, s.step_order,
		GREATEST(COALESCE(prev.acted_at, d.created_at), s.resubmitted_at) AS baseline
	FROM document_steps s
	JOIN documents d ON d.id = s.document_id
	LEFT JOIN document_steps prev ON prev.document_id = s.document_id AND prev.step_order = s.step_order - 1
	WHERE s.status = 'pending'
) o
WHERE baseline <= $1
ORDER BY baseline ASC
LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []OverdueCandidate
	for rows.Next() {
		var c OverdueCandidate
		if err := rows.Scan(&c.DocumentID, &c.StepID, &c.StepOrder, &c.Baseline); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type txRepo struct {
	tx pgx.Tx
}

func (t *txRepo) LockDocument(ctx context.Context, id int64) (Document, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents d WHERE d.id = $1 FOR UPDATE`, id)
	return scanDocument(row)
}

func (t *txRepo) ListSteps(ctx context.Context, documentID int64) ([]Step, error) {
	return listSteps(ctx, t.tx, documentID)
}

func (t *txRepo) InsertDocument(ctx context.Context, doc Document) (Document, error) {
	form, err := EncodeFormData(doc.FormData)
	if err != nil {
		return Document{}, err
	}
	err = t.tx.QueryRow(ctx, `INSERT INTO documents
(doc_type, title, description, status, submitter_id, submitter_kind, submitter_name, department, file_path, form_data, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
RETURNING id`,
		string(doc.DocType), doc.Title, doc.Description, string(doc.Status), doc.SubmitterID, string(doc.SubmitterKind),
		doc.SubmitterName, doc.Department, doc.FilePath, form, doc.CreatedAt, doc.UpdatedAt).Scan(&doc.ID)
	if err != nil {
		return Document{}, err
	}
	return doc, nil
}

func (t *txRepo) InsertSteps(ctx context.Context, documentID int64, steps []Step) ([]Step, error) {
	if len(steps) == 0 {
		return nil, nil
	}
	batch := &pgx.Batch{}
	for _, st := range steps {
		batch.Queue(`INSERT INTO document_steps
(document_id, step_order, name, assignee_id, assignee_kind, assignee_name, status, is_gating, is_fund_trigger)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING id`,
			documentID, st.Order, st.Name, st.Assignee.ID, string(st.Assignee.Kind), st.Assignee.Name,
			string(st.Status), st.IsGating, st.IsFundTrigger)
	}
	results := t.tx.SendBatch(ctx, batch)
	saved := make([]Step, len(steps))
	for i, st := range steps {
		st.DocumentID = documentID
		if err := results.QueryRow().Scan(&st.ID); err != nil {
			_ = results.Close()
			return nil, fmt.Errorf("step %d: %w", st.Order, err)
		}
		saved[i] = st
	}
	if err := results.Close(); err != nil {
		return nil, err
	}
	return saved, nil
}

func (t *txRepo) UpdateStep(ctx context.Context, step Step) error {
	tag, err := t.tx.Exec(ctx, `UPDATE document_steps
SET status = $2, acted_at = $3, note = $4, signature_ref = $5, expired_at = $6, resubmitted_at = $7
WHERE id = $1`,
		step.ID, string(step.Status), step.ActedAt, step.Note, step.SignatureRef, step.ExpiredAt, step.ResubmittedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: step %d", ErrNotFound, step.ID)
	}
	return nil
}

func (t *txRepo) UpdateDocumentStatus(ctx context.Context, id int64, status DocumentStatus, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `UPDATE documents SET status = $2, updated_at = $3 WHERE id = $1`, id, string(status), at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: document %d", ErrNotFound, id)
	}
	return nil
}

func (t *txRepo) InsertHistory(ctx context.Context, entry HistoryEntry) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO document_history (document_id, step_id, actor_id, action, note, at)
VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.DocumentID, nullableID(entry.StepID), nullableID(entry.ActorID), string(entry.Action), entry.Note, entry.At)
	return err
}

func (t *txRepo) DeleteDocument(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: document %d", ErrNotFound, id)
	}
	return nil
}

func (t *txRepo) FundStore() funds.TxStore {
	return funds.NewTxStore(t.tx)
}

func (t *txRepo) NotificationStore() notify.TxStore {
	return notify.NewTxStore(t.tx)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listSteps(ctx context.Context, q querier, documentID int64) ([]Step, error) {
	rows, err := q.Query(ctx, `SELECT `+stepColumns+` FROM document_steps s WHERE s.document_id = $1 ORDER BY s.step_order`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var steps []Step
	for rows.Next() {
		var st Step
		if err := rows.Scan(stepTargets(&st)...); err != nil {
			return nil, err
		}
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

// documentRow carries the raw form payload until it is decoded by doc type.
type documentRow struct {
	doc  Document
	form []byte
}

func (d *documentRow) targets() []any {
	return []any{&d.doc.ID, &d.doc.DocType, &d.doc.Title, &d.doc.Description, &d.doc.Status, &d.doc.SubmitterID,
		&d.doc.SubmitterKind, &d.doc.SubmitterName, &d.doc.Department, &d.doc.FilePath, &d.form,
		&d.doc.CreatedAt, &d.doc.UpdatedAt}
}

func (d *documentRow) finish() (Document, error) {
	if len(d.form) > 0 {
		data, err := DecodeFormData(d.doc.DocType, d.form)
		if err != nil {
			return Document{}, fmt.Errorf("workflow: document %d form data: %w", d.doc.ID, err)
		}
		d.doc.FormData = data
	}
	return d.doc, nil
}

func stepTargets(st *Step) []any {
	return []any{&st.ID, &st.DocumentID, &st.Order, &st.Name, &st.Assignee.ID, &st.Assignee.Kind, &st.Assignee.Name,
		&st.Status, &st.IsGating, &st.IsFundTrigger, &st.ActedAt, &st.Note, &st.SignatureRef, &st.ExpiredAt, &st.ResubmittedAt}
}

func scanDocument(row pgx.Row) (Document, error) {
	var d documentRow
	if err := row.Scan(d.targets()...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, err
	}
	return d.finish()
}

func nullableID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}
