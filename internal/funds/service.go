package funds

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/docflow/docflow/internal/shared"
)

// Store is the persistence used by Service.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error
	Balance(ctx context.Context, departmentID string) (Balance, error)
	Entries(ctx context.Context, departmentID string, limit int) ([]LedgerEntry, error)
}

// Summary is a balance with its most recent ledger entries.
type Summary struct {
	Balance Balance
	Entries []LedgerEntry
}

// Service exposes fund reads and replenishment.
type Service struct {
	store  Store
	poster *Poster
	audit  shared.AuditRecorder
	logger *slog.Logger
}

// NewService constructs a Service.
func NewService(store Store, poster *Poster, audit shared.AuditRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if poster == nil {
		poster = NewPoster(logger)
	}
	return &Service{store: store, poster: poster, audit: audit, logger: logger}
}

// Summary returns a department balance and its latest entries.
func (s *Service) Summary(ctx context.Context, departmentID string, limit int) (Summary, error) {
	departmentID = strings.TrimSpace(departmentID)
	if departmentID == "" {
		return Summary{}, fmt.Errorf("%w: department required", ErrValidation)
	}
	balance, err := s.store.Balance(ctx, departmentID)
	if err != nil {
		return Summary{}, err
	}
	entries, err := s.store.Entries(ctx, departmentID, limit)
	if err != nil {
		return Summary{}, fmt.Errorf("funds: list entries: %w", err)
	}
	return Summary{Balance: balance, Entries: entries}, nil
}

// Credit replenishes a department fund. Only administrators may credit.
func (s *Service) Credit(ctx context.Context, actor shared.Actor, in CreditInput) (LedgerEntry, error) {
	if !strings.EqualFold(actor.Role, shared.RoleAdmin) {
		return LedgerEntry{}, fmt.Errorf("funds: credit requires admin: %w", ErrForbidden)
	}
	in.ActorID = actor.ID
	in.DepartmentID = strings.TrimSpace(in.DepartmentID)
	var entry LedgerEntry
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		var err error
		entry, err = s.poster.Credit(ctx, tx, in)
		return err
	})
	if err != nil {
		return LedgerEntry{}, err
	}
	shared.RecordAuditEvent(ctx, s.audit, s.logger, shared.AuditEvent{
		ActorID:    actor.ID,
		Action:     "FUND_CREDITED",
		Category:   "funds",
		TargetID:   in.DepartmentID,
		TargetType: "fund_balance",
		Details:    map[string]any{"amount": in.Amount.String(), "entry_id": entry.ID},
		At:         entry.CreatedAt,
	})
	return entry, nil
}
