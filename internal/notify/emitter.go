package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// TxStore persists notifications inside the caller's transaction.
type TxStore interface {
	InsertNotification(ctx context.Context, n Notification) (Notification, error)
}

// Dispatcher hands escalated notifications to the external delivery channel.
type Dispatcher interface {
	EnqueueDelivery(ctx context.Context, payload DeliveryPayload) error
}

// Emitter maps workflow events to notifications.
type Emitter struct {
	dispatcher Dispatcher
	logger     *slog.Logger
	now        func() time.Time
}

// NewEmitter constructs an Emitter. A nil dispatcher keeps every notification in-app.
func NewEmitter(dispatcher Dispatcher, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{
		dispatcher: dispatcher,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Build turns an event into an unsaved notification.
func (e *Emitter) Build(ev Event) (Notification, error) {
	ref, ok := referenceFor[ev.Type]
	if !ok {
		return Notification{}, fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, ev.Type)
	}
	if ev.Recipient.ID == 0 || ev.DocumentID == 0 {
		return Notification{}, fmt.Errorf("%w: recipient and document required", ErrInvalidEvent)
	}
	at := ev.At
	if at.IsZero() {
		at = e.now()
	}
	subject := e.subject(ev)
	var title, message string
	switch ev.Type {
	case EventStepActivated:
		title = "Signature required"
		message = fmt.Sprintf("%s is waiting for your signature as %s.", subject, ev.StepName)
	case EventDocumentApproved:
		title = "Document approved"
		message = fmt.Sprintf("%s has been fully approved.", subject)
	case EventDocumentRejected:
		title = "Document rejected"
		message = fmt.Sprintf("%s was rejected at %s.", subject, ev.StepName)
		if ev.Note != "" {
			message += " Reason: " + ev.Note
		}
	case EventDocumentOnHold:
		title = "Document on hold"
		message = fmt.Sprintf("%s is on hold because %s did not act in time. Resubmit it to continue.", subject, ev.StepName)
	case EventDocumentResubmitted:
		title = "Document resubmitted"
		message = fmt.Sprintf("%s was resubmitted and is back at %s.", subject, ev.StepName)
	case EventCommentAdded:
		title = "New comment"
		message = fmt.Sprintf("%s commented on %s: %s", fallback(ev.ActorName, "Someone"), subject, ev.Note)
	}
	return Notification{
		RecipientID:   ev.Recipient.ID,
		RecipientKind: ev.Recipient.Kind,
		EventType:     ev.Type,
		Title:         title,
		Message:       message,
		DocumentID:    ev.DocumentID,
		ReferenceType: ref,
		Escalated:     ref.Escalates(),
		CreatedAt:     at,
	}, nil
}

// Persist builds and stores one notification per event.
func (e *Emitter) Persist(ctx context.Context, store TxStore, events ...Event) ([]Notification, error) {
	out := make([]Notification, 0, len(events))
	for _, ev := range events {
		n, err := e.Build(ev)
		if err != nil {
			return nil, err
		}
		saved, err := store.InsertNotification(ctx, n)
		if err != nil {
			return nil, fmt.Errorf("notify: insert %s: %w", n.ReferenceType, err)
		}
		out = append(out, saved)
	}
	return out, nil
}

// Dispatch enqueues external delivery for escalated notifications. It must only be called after
// the transaction that persisted them has committed. Failures are logged and counted, never
// returned, so a committed transition is not reported as failed.
func (e *Emitter) Dispatch(ctx context.Context, notes []Notification) int {
	if e == nil || e.dispatcher == nil {
		return 0
	}
	sent := 0
	for _, n := range notes {
		if !n.Escalated {
			continue
		}
		payload := DeliveryPayload{
			NotificationID: n.ID,
			RecipientID:    n.RecipientID,
			RecipientKind:  n.RecipientKind,
			Subject:        n.Title,
			Body:           n.Message,
			DocumentID:     n.DocumentID,
		}
		if err := e.dispatcher.EnqueueDelivery(ctx, payload); err != nil {
			e.logger.Warn("enqueue notification delivery", slog.Int64("notification_id", n.ID), slog.Any("error", err))
			continue
		}
		sent++
	}
	return sent
}

func (e *Emitter) subject(ev Event) string {
	kind := strings.ReplaceAll(ev.DocType, "_", " ")
	if strings.EqualFold(kind, "saf") {
		kind = "SAF"
	} else if kind != "" {
		kind = cases.Title(language.English).String(kind)
	}
	title := fallback(ev.DocumentTitle, fmt.Sprintf("#%d", ev.DocumentID))
	if kind == "" {
		return fmt.Sprintf("%q", title)
	}
	return fmt.Sprintf("%s %q", kind, title)
}

func fallback(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
