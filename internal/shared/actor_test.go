package shared

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestActorFromHeaders(t *testing.T) {
	h := http.Header{}
	h.Set(HeaderActorID, "42")
	h.Set(HeaderActorRole, "Student")
	h.Set(HeaderActorPosition, "SSC President")
	h.Set(HeaderActorDepartment, "CCS")

	actor, ok := ActorFromHeaders(h)
	require.True(t, ok)
	require.Equal(t, int64(42), actor.ID)
	require.Equal(t, RoleStudent, actor.Role)
	require.Equal(t, KindStudent, actor.Kind())
	require.Equal(t, "CCS", actor.Department)
}

func TestActorFromHeadersRejectsMissingID(t *testing.T) {
	_, ok := ActorFromHeaders(http.Header{})
	require.False(t, ok)

	h := http.Header{}
	h.Set(HeaderActorID, "abc")
	_, ok = ActorFromHeaders(h)
	require.False(t, ok)
}

func TestActorKindDefaultsToEmployee(t *testing.T) {
	require.Equal(t, KindEmployee, Actor{Role: RoleAdmin}.Kind())
	require.Equal(t, KindEmployee, Actor{}.Kind())
}

func TestActorContextRoundTrip(t *testing.T) {
	_, ok := ActorFromContext(context.Background())
	require.False(t, ok)

	ctx := ContextWithActor(context.Background(), Actor{ID: 7, Role: RoleEmployee})
	actor, ok := ActorFromContext(ctx)
	require.True(t, ok)
	require.Equal(t, int64(7), actor.ID)
}

type failingRecorder struct{ calls int }

func (f *failingRecorder) Record(context.Context, AuditEvent) error {
	f.calls++
	return errors.New("audit store down")
}

func TestRecordAuditEventSwallowsFailures(t *testing.T) {
	rec := &failingRecorder{}
	require.NotPanics(t, func() {
		RecordAuditEvent(context.Background(), rec, nil, AuditEvent{Action: "document.sign", TargetType: "document", TargetID: "1"})
	})
	require.Equal(t, 1, rec.calls)
	RecordAuditEvent(context.Background(), nil, nil, AuditEvent{})
}
