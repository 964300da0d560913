package workflow

import (
	"errors"
	"fmt"
	"time"

	"github.com/docflow/docflow/internal/platform/httpx"
	"github.com/docflow/docflow/internal/shared"
)

// DocType selects the routing template and the form payload shape.
type DocType string

const (
	DocTypeProposal      DocType = "proposal"
	DocTypeSAF           DocType = "saf"
	DocTypeFacility      DocType = "facility"
	DocTypeCommunication DocType = "communication"
)

// Valid reports whether t is a known document type.
func (t DocType) Valid() bool {
	switch t {
	case DocTypeProposal, DocTypeSAF, DocTypeFacility, DocTypeCommunication:
		return true
	}
	return false
}

// DocumentStatus is the document level lifecycle.
type DocumentStatus string

const (
	StatusSubmitted  DocumentStatus = "submitted"
	StatusInProgress DocumentStatus = "in_progress"
	StatusOnHold     DocumentStatus = "on_hold"
	StatusApproved   DocumentStatus = "approved"
	StatusRejected   DocumentStatus = "rejected"
)

// StepStatus is the per-step lifecycle.
type StepStatus string

const (
	StepQueued    StepStatus = "queued"
	StepPending   StepStatus = "pending"
	StepCompleted StepStatus = "completed"
	StepRejected  StepStatus = "rejected"
	StepExpired   StepStatus = "expired"
	StepSkipped   StepStatus = "skipped"
)

// Done reports whether the step no longer blocks later steps.
func (s StepStatus) Done() bool {
	return s == StepCompleted || s == StepSkipped
}

// Assignee is the resolved signatory of a step.
type Assignee struct {
	ID   int64
	Kind shared.AssigneeKind
	Name string
}

// Matches reports whether actor is this assignee.
func (a Assignee) Matches(actor shared.Actor) bool {
	return a.ID != 0 && a.ID == actor.ID && a.Kind == actor.Kind()
}

// Document is a routed document.
type Document struct {
	ID            int64
	DocType       DocType
	Title         string
	Description   string
	Status        DocumentStatus
	SubmitterID   int64
	SubmitterKind shared.AssigneeKind
	SubmitterName string
	Department    string
	FilePath      string
	FormData      FormData
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsSubmitter reports whether actor created the document.
func (d Document) IsSubmitter(actor shared.Actor) bool {
	return d.SubmitterID == actor.ID && d.SubmitterKind == actor.Kind()
}

// Step is one required sign-off in a document chain.
type Step struct {
	ID            int64
	DocumentID    int64
	Order         int
	Name          string
	Assignee      Assignee
	Status        StepStatus
	IsGating      bool
	IsFundTrigger bool
	ActedAt       *time.Time
	Note          string
	SignatureRef  string
	ExpiredAt     *time.Time
	ResubmittedAt *time.Time
}

// HistoryAction enumerates document history actions.
type HistoryAction string

const (
	ActionSubmit   HistoryAction = "SUBMIT"
	ActionSign     HistoryAction = "SIGN"
	ActionReject   HistoryAction = "REJECT"
	ActionExpire   HistoryAction = "EXPIRE"
	ActionResubmit HistoryAction = "RESUBMIT"
)

// HistoryEntry is one row of the per-document action log.
type HistoryEntry struct {
	ID         int64
	DocumentID int64
	StepID     int64
	ActorID    int64
	Action     HistoryAction
	Note       string
	At         time.Time
}

// AssignedDocument is a document paired with the step the actor owns on it.
type AssignedDocument struct {
	Document Document
	Step     Step
}

// AssignedFilter narrows GetAssignedDocuments.
type AssignedFilter struct {
	ActorID     int64
	ActorKind   shared.AssigneeKind
	OnlyPending bool
	Limit       int
}

// OverdueCandidate is a pending step with the timestamp its SLA is measured from.
type OverdueCandidate struct {
	DocumentID int64
	StepID     int64
	StepOrder  int
	Baseline   time.Time
}

var (
	// ErrValidation indicates missing or malformed input.
	ErrValidation = fmt.Errorf("workflow: %w", httpx.ErrValidation)
	// ErrUnauthorized indicates the actor may not act on the target.
	ErrUnauthorized = fmt.Errorf("workflow: actor not eligible: %w", httpx.ErrForbidden)
	// ErrOutOfOrder indicates a lower-order step is still open.
	ErrOutOfOrder = fmt.Errorf("workflow: step out of order: %w", httpx.ErrConflict)
	// ErrNotFound indicates a missing document or step.
	ErrNotFound = fmt.Errorf("workflow: %w", httpx.ErrNotFound)
	// ErrConflict indicates contention persisted after retries.
	ErrConflict = fmt.Errorf("workflow: concurrent update, retry the request: %w", httpx.ErrConflict)
	// ErrNotOnHold indicates resubmission of a document that is not on hold.
	ErrNotOnHold = fmt.Errorf("workflow: document is not on hold: %w", httpx.ErrConflict)
	// ErrNoExpiredStep indicates an on-hold document without an expired step.
	ErrNoExpiredStep = fmt.Errorf("workflow: no expired step: %w", httpx.ErrConflict)
	// ErrTemplateRender is logged, never returned to callers of CreateDocument.
	ErrTemplateRender = errors.New("workflow: template render failed")
)
