package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docflow/docflow/internal/shared"
)

type memoryTxStore struct {
	saved []Notification
}

func (m *memoryTxStore) InsertNotification(_ context.Context, n Notification) (Notification, error) {
	n.ID = int64(len(m.saved) + 1)
	m.saved = append(m.saved, n)
	return n, nil
}

type recordingDispatcher struct {
	payloads []DeliveryPayload
	err      error
}

func (r *recordingDispatcher) EnqueueDelivery(_ context.Context, p DeliveryPayload) error {
	if r.err != nil {
		return r.err
	}
	r.payloads = append(r.payloads, p)
	return nil
}

func TestEscalationAllowList(t *testing.T) {
	assert.True(t, RefPendingAction.Escalates())
	assert.True(t, RefFullyApproved.Escalates())
	assert.True(t, RefRejected.Escalates())
	assert.False(t, RefOnHold.Escalates())
	assert.False(t, RefResubmitted.Escalates())
	assert.False(t, RefCommentAdded.Escalates())
}

func TestBuildMapsEvents(t *testing.T) {
	e := NewEmitter(nil, nil)
	at := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	recipient := Recipient{ID: 7, Kind: shared.KindEmployee, Name: "Dean Cruz"}

	cases := []struct {
		event     EventType
		ref       ReferenceType
		title     string
		escalated bool
	}{
		{EventStepActivated, RefPendingAction, "Signature required", true},
		{EventDocumentApproved, RefFullyApproved, "Document approved", true},
		{EventDocumentRejected, RefRejected, "Document rejected", true},
		{EventDocumentOnHold, RefOnHold, "Document on hold", false},
		{EventDocumentResubmitted, RefResubmitted, "Document resubmitted", false},
	}
	for _, tc := range cases {
		t.Run(string(tc.event), func(t *testing.T) {
			n, err := e.Build(Event{Type: tc.event, DocumentID: 12, DocumentTitle: "Tech week", DocType: "facility", Recipient: recipient, StepName: "College Dean", At: at})
			require.NoError(t, err)
			assert.Equal(t, tc.ref, n.ReferenceType)
			assert.Equal(t, tc.title, n.Title)
			assert.Equal(t, tc.escalated, n.Escalated)
			assert.Equal(t, int64(7), n.RecipientID)
			assert.Equal(t, at, n.CreatedAt)
			assert.Contains(t, n.Message, `Facility "Tech week"`)
		})
	}
}

func TestBuildRejectsIncompleteEvents(t *testing.T) {
	e := NewEmitter(nil, nil)
	_, err := e.Build(Event{Type: "unknown", DocumentID: 1, Recipient: Recipient{ID: 1}})
	assert.ErrorIs(t, err, ErrInvalidEvent)
	_, err = e.Build(Event{Type: EventStepActivated, DocumentID: 1})
	assert.ErrorIs(t, err, ErrInvalidEvent)
}

func TestRejectMessageCarriesReason(t *testing.T) {
	n, err := NewEmitter(nil, nil).Build(Event{Type: EventDocumentRejected, DocumentID: 3, DocumentTitle: "Budget", DocType: "saf", Recipient: Recipient{ID: 2}, StepName: "VP for Finance", Note: "missing receipts"})
	require.NoError(t, err)
	assert.Contains(t, n.Message, `SAF "Budget"`)
	assert.Contains(t, n.Message, "missing receipts")
}

func TestDispatchOnlyEscalated(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	e := NewEmitter(dispatcher, nil)
	store := &memoryTxStore{}
	notes, err := e.Persist(context.Background(), store,
		Event{Type: EventStepActivated, DocumentID: 1, Recipient: Recipient{ID: 10, Kind: shared.KindEmployee}, StepName: "OSA Director"},
		Event{Type: EventDocumentOnHold, DocumentID: 1, Recipient: Recipient{ID: 11, Kind: shared.KindStudent}, StepName: "OSA Director"},
	)
	require.NoError(t, err)
	require.Len(t, store.saved, 2)

	sent := e.Dispatch(context.Background(), notes)
	assert.Equal(t, 1, sent)
	require.Len(t, dispatcher.payloads, 1)
	assert.Equal(t, int64(10), dispatcher.payloads[0].RecipientID)
	assert.Equal(t, notes[0].ID, dispatcher.payloads[0].NotificationID)
}

func TestDispatchSwallowsEnqueueErrors(t *testing.T) {
	e := NewEmitter(&recordingDispatcher{err: errors.New("redis down")}, nil)
	sent := e.Dispatch(context.Background(), []Notification{{ID: 1, RecipientID: 2, Escalated: true}})
	assert.Zero(t, sent)
}
