package workflow

import (
	"context"
	"time"

	"github.com/docflow/docflow/internal/funds"
	"github.com/docflow/docflow/internal/notify"
)

// RepositoryPort is the persistence boundary of the workflow service.
type RepositoryPort interface {
	// WithTx runs fn in one transaction, replaying it on transient lock contention.
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetDocument(ctx context.Context, id int64) (Document, error)
	// SetFilePath records the stored artifact of a committed document.
	SetFilePath(ctx context.Context, id int64, path string) error
	ListSteps(ctx context.Context, documentID int64) ([]Step, error)
	ListHistory(ctx context.Context, documentID int64) ([]HistoryEntry, error)
	ListAssigned(ctx context.Context, filter AssignedFilter) ([]AssignedDocument, error)
	// ListOverdue returns pending steps whose SLA baseline is at or before cutoff.
	ListOverdue(ctx context.Context, cutoff time.Time, limit int) ([]OverdueCandidate, error)
}

// TxRepository exposes the operations available inside a workflow transaction.
type TxRepository interface {
	// LockDocument loads a document and holds its row lock until the transaction ends.
	LockDocument(ctx context.Context, id int64) (Document, error)
	ListSteps(ctx context.Context, documentID int64) ([]Step, error)
	InsertDocument(ctx context.Context, doc Document) (Document, error)
	InsertSteps(ctx context.Context, documentID int64, steps []Step) ([]Step, error)
	UpdateStep(ctx context.Context, step Step) error
	UpdateDocumentStatus(ctx context.Context, id int64, status DocumentStatus, at time.Time) error
	InsertHistory(ctx context.Context, entry HistoryEntry) error
	DeleteDocument(ctx context.Context, id int64) error
	FundStore() funds.TxStore
	NotificationStore() notify.TxStore
}
