// Package notify builds, stores and delivers workflow notifications.
package notify

import (
	"fmt"
	"time"

	"github.com/docflow/docflow/internal/platform/httpx"
	"github.com/docflow/docflow/internal/shared"
)

// ReferenceType classifies a notification for routing and display.
type ReferenceType string

const (
	RefPendingAction ReferenceType = "pending_action"
	RefFullyApproved ReferenceType = "fully_approved"
	RefRejected      ReferenceType = "rejected"
	RefOnHold        ReferenceType = "on_hold"
	RefResubmitted   ReferenceType = "resubmitted"
	RefCommentAdded  ReferenceType = "comment_added"
)

// escalated lists the reference types that leave the application through the external channel.
var escalated = map[ReferenceType]struct{}{
	RefPendingAction: {},
	RefFullyApproved: {},
	RefRejected:      {},
}

// Escalates reports whether notifications of this type are pushed externally.
func (r ReferenceType) Escalates() bool {
	_, ok := escalated[r]
	return ok
}

// EventType names a workflow transition that produces a notification.
type EventType string

const (
	EventStepActivated       EventType = "step_activated"
	EventDocumentApproved    EventType = "document_approved"
	EventDocumentRejected    EventType = "document_rejected"
	EventDocumentOnHold      EventType = "document_on_hold"
	EventDocumentResubmitted EventType = "document_resubmitted"
	EventCommentAdded        EventType = "comment_added"
)

var referenceFor = map[EventType]ReferenceType{
	EventStepActivated:       RefPendingAction,
	EventDocumentApproved:    RefFullyApproved,
	EventDocumentRejected:    RefRejected,
	EventDocumentOnHold:      RefOnHold,
	EventDocumentResubmitted: RefResubmitted,
	EventCommentAdded:        RefCommentAdded,
}

// Recipient identifies who receives a notification.
type Recipient struct {
	ID   int64
	Kind shared.AssigneeKind
	Name string
}

// Event is a workflow transition as seen by the emitter.
type Event struct {
	Type          EventType
	DocumentID    int64
	DocumentTitle string
	DocType       string
	Recipient     Recipient
	StepName      string
	ActorName     string
	Note          string
	At            time.Time
}

// Notification is a persisted in-app message.
type Notification struct {
	ID            int64
	RecipientID   int64
	RecipientKind shared.AssigneeKind
	EventType     EventType
	Title         string
	Message       string
	DocumentID    int64
	ReferenceType ReferenceType
	Escalated     bool
	CreatedAt     time.Time
	ReadAt        *time.Time
}

// DeliveryPayload is what the external channel needs to reach a recipient.
type DeliveryPayload struct {
	NotificationID int64               `json:"notification_id"`
	RecipientID    int64               `json:"recipient_id"`
	RecipientKind  shared.AssigneeKind `json:"recipient_kind"`
	Subject        string              `json:"subject"`
	Body           string              `json:"body"`
	DocumentID     int64               `json:"document_id"`
}

var (
	// ErrInvalidEvent indicates an event that cannot be turned into a notification.
	ErrInvalidEvent = fmt.Errorf("notify: invalid event: %w", httpx.ErrValidation)
	// ErrNotFound indicates a missing notification.
	ErrNotFound = fmt.Errorf("notify: %w", httpx.ErrNotFound)
	// ErrNoContact indicates the recipient has no delivery address.
	ErrNoContact = fmt.Errorf("notify: recipient has no contact address")
)
