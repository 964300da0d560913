// Package funds tracks student allocated fund balances and their ledger.
package funds

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/docflow/docflow/internal/platform/httpx"
)

// EntryType is the direction of a ledger entry.
type EntryType string

const (
	EntryAdd    EntryType = "add"
	EntryDeduct EntryType = "deduct"
)

// Category names a fund a SAF request draws from.
type Category string

const (
	// CategorySSC is the council-wide fund.
	CategorySSC Category = "SSC"
	// CategoryCSC is the requesting college's fund.
	CategoryCSC Category = "CSC"
)

// CouncilDepartment is the balance row backing CategorySSC.
const CouncilDepartment = "SSC"

// Balance is the running balance of one department fund.
type Balance struct {
	DepartmentID   string
	InitialAmount  decimal.Decimal
	UsedAmount     decimal.Decimal
	CurrentBalance decimal.Decimal
	UpdatedAt      time.Time
}

// LedgerEntry records one movement of a fund.
type LedgerEntry struct {
	ID           int64
	DepartmentID string
	Type         EntryType
	Amount       decimal.Decimal
	Description  string
	CreatedAt    time.Time
	CreatedBy    int64
}

// Request is one category amount asked for by a document.
type Request struct {
	Category     Category
	DepartmentID string
	Amount       decimal.Decimal
}

// PostingInput describes the deductions owed by an approved document.
type PostingInput struct {
	DocumentID    int64
	DocumentTitle string
	Requests      []Request
	ActorID       int64
	At            time.Time
}

// CreditInput replenishes a fund.
type CreditInput struct {
	DepartmentID string          `json:"department_id"`
	Amount       decimal.Decimal `json:"amount"`
	Description  string          `json:"description"`
	ActorID      int64           `json:"-"`
}

// DeductionLabel opens the description of every deduction drawn from category. Both council
// and college requests may hit the same department row, so dedupe keys on the label too.
func DeductionLabel(category Category) string {
	return "SAF " + string(category) + " deduction"
}

// DocumentMarker is embedded in ledger descriptions so postings can be traced back to, and
// deduplicated by, their document.
func DocumentMarker(documentID int64) string {
	return fmt.Sprintf("[doc:%d]", documentID)
}

var (
	// ErrFundNotConfigured indicates no balance row exists for the department.
	ErrFundNotConfigured = fmt.Errorf("funds: balance not configured: %w", httpx.ErrConflict)
	// ErrValidation indicates invalid input.
	ErrValidation = fmt.Errorf("funds: %w", httpx.ErrValidation)
	// ErrNotFound indicates a missing balance.
	ErrNotFound = fmt.Errorf("funds: %w", httpx.ErrNotFound)
	// ErrForbidden indicates the actor may not change fund balances.
	ErrForbidden = httpx.ErrForbidden
)
