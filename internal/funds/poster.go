package funds

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

// TxStore is the transactional persistence used while posting. Implementations must run every
// call inside the transaction that completes the triggering step.
type TxStore interface {
	// HasEntry reports whether an entry of entryType whose description starts with label and
	// contains marker exists for the department.
	HasEntry(ctx context.Context, departmentID string, entryType EntryType, label, marker string) (bool, error)
	InsertEntry(ctx context.Context, entry LedgerEntry) (LedgerEntry, error)
	// ApplyDeduction atomically increases used_amount and lowers current_balance.
	ApplyDeduction(ctx context.Context, departmentID string, amount decimal.Decimal) (Balance, error)
	// ApplyCredit atomically raises initial_amount and current_balance.
	ApplyCredit(ctx context.Context, departmentID string, amount decimal.Decimal) (Balance, error)
}

// Poster writes fund deductions for approved SAF documents.
type Poster struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewPoster constructs a Poster.
func NewPoster(logger *slog.Logger) *Poster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poster{logger: logger, now: time.Now}
}

// PostForDocument posts one deduction per nonzero request. A category that already carries a
// deduction referencing the document is skipped, so replays post nothing.
func (p *Poster) PostForDocument(ctx context.Context, store TxStore, in PostingInput) ([]LedgerEntry, error) {
	if in.DocumentID == 0 {
		return nil, fmt.Errorf("%w: document id required", ErrValidation)
	}
	at := in.At
	if at.IsZero() {
		at = p.now()
	}
	marker := DocumentMarker(in.DocumentID)
	var posted []LedgerEntry
	for _, req := range in.Requests {
		if !req.Amount.IsPositive() {
			continue
		}
		if req.DepartmentID == "" {
			return nil, fmt.Errorf("%w: %s request without department", ErrValidation, req.Category)
		}
		label := DeductionLabel(req.Category)
		exists, err := store.HasEntry(ctx, req.DepartmentID, EntryDeduct, label, marker)
		if err != nil {
			return nil, fmt.Errorf("funds: check existing %s deduction: %w", req.Category, err)
		}
		if exists {
			p.logger.Info("fund deduction already posted", slog.Int64("document_id", in.DocumentID), slog.String("category", string(req.Category)))
			continue
		}
		balance, err := store.ApplyDeduction(ctx, req.DepartmentID, req.Amount)
		if err != nil {
			return nil, err
		}
		entry, err := store.InsertEntry(ctx, LedgerEntry{
			DepartmentID: req.DepartmentID,
			Type:         EntryDeduct,
			Amount:       req.Amount,
			Description:  fmt.Sprintf("%s %s %s", label, marker, in.DocumentTitle),
			CreatedAt:    at,
			CreatedBy:    in.ActorID,
		})
		if err != nil {
			return nil, fmt.Errorf("funds: insert %s entry: %w", req.Category, err)
		}
		if balance.CurrentBalance.IsNegative() {
			p.logger.Warn("fund balance overdrawn", slog.String("department", req.DepartmentID), slog.String("balance", balance.CurrentBalance.String()))
		}
		posted = append(posted, entry)
	}
	return posted, nil
}

// Credit adds money to a department fund.
func (p *Poster) Credit(ctx context.Context, store TxStore, in CreditInput) (LedgerEntry, error) {
	if in.DepartmentID == "" || !in.Amount.IsPositive() {
		return LedgerEntry{}, fmt.Errorf("%w: department and positive amount required", ErrValidation)
	}
	if in.Description == "" {
		in.Description = "Fund credit"
	}
	if _, err := store.ApplyCredit(ctx, in.DepartmentID, in.Amount); err != nil {
		return LedgerEntry{}, err
	}
	return store.InsertEntry(ctx, LedgerEntry{
		DepartmentID: in.DepartmentID,
		Type:         EntryAdd,
		Amount:       in.Amount,
		Description:  in.Description,
		CreatedAt:    p.now(),
		CreatedBy:    in.ActorID,
	})
}
