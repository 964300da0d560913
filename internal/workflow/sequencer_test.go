package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docflow/docflow/internal/shared"
)

func chain(statuses ...StepStatus) []Step {
	steps := make([]Step, 0, len(statuses))
	for i, status := range statuses {
		steps = append(steps, Step{
			ID:       int64(i + 10),
			Order:    i + 1,
			Name:     "step",
			Status:   status,
			Assignee: Assignee{ID: int64(i + 100), Kind: shared.KindEmployee},
		})
	}
	return steps
}

func assigneeOf(st Step) shared.Actor {
	return shared.Actor{ID: st.Assignee.ID, Role: shared.RoleEmployee}
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StepQueued, StepPending))
	assert.True(t, CanTransition(StepPending, StepCompleted))
	assert.True(t, CanTransition(StepPending, StepExpired))
	assert.True(t, CanTransition(StepExpired, StepPending))
	assert.False(t, CanTransition(StepQueued, StepCompleted))
	assert.False(t, CanTransition(StepCompleted, StepPending))
	assert.False(t, CanTransition(StepRejected, StepPending))
}

func TestCheckHierarchy(t *testing.T) {
	steps := chain(StepCompleted, StepSkipped, StepPending, StepQueued)
	assert.NoError(t, CheckHierarchy(steps, steps[2]))
	assert.ErrorIs(t, CheckHierarchy(steps, steps[3]), ErrOutOfOrder)

	blocked := chain(StepCompleted, StepExpired, StepQueued)
	assert.ErrorIs(t, CheckHierarchy(blocked, blocked[2]), ErrOutOfOrder)
	rejected := chain(StepRejected, StepQueued)
	assert.ErrorIs(t, CheckHierarchy(rejected, rejected[1]), ErrOutOfOrder)
}

func TestResolveTarget(t *testing.T) {
	steps := chain(StepCompleted, StepPending, StepQueued)
	got, err := ResolveTarget(steps, 0, assigneeOf(steps[1]))
	require.NoError(t, err)
	assert.Equal(t, steps[1].ID, got.ID)

	got, err = ResolveTarget(steps, steps[2].ID, assigneeOf(steps[0]))
	require.NoError(t, err)
	assert.Equal(t, 3, got.Order)

	_, err = ResolveTarget(steps, 0, assigneeOf(steps[2]))
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = ResolveTarget(steps, 12345, assigneeOf(steps[1]))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCheckActionOrder(t *testing.T) {
	steps := chain(StepPending, StepQueued)
	assert.ErrorIs(t, CheckAction(steps, steps[1], assigneeOf(steps[0])), ErrUnauthorized)
	assert.ErrorIs(t, CheckAction(steps, steps[1], assigneeOf(steps[1])), ErrOutOfOrder)
	assert.NoError(t, CheckAction(steps, steps[0], assigneeOf(steps[0])))

	done := chain(StepCompleted, StepCompleted)
	assert.ErrorIs(t, CheckAction(done, done[1], assigneeOf(done[1])), ErrUnauthorized)
}

func TestCheckEligibilityKind(t *testing.T) {
	st := chain(StepPending)[0]
	student := shared.Actor{ID: st.Assignee.ID, Role: shared.RoleStudent}
	assert.ErrorIs(t, CheckEligibility(st, student), ErrUnauthorized)
	assert.NoError(t, CheckEligibility(st, assigneeOf(st)))
}

func TestNextQueuedAndFirstExpired(t *testing.T) {
	steps := chain(StepCompleted, StepQueued, StepQueued)
	next, ok := NextQueued(steps, steps[0])
	require.True(t, ok)
	assert.Equal(t, 2, next.Order)
	_, ok = NextQueued(steps, steps[2])
	assert.False(t, ok)

	expired, ok := FirstExpired(chain(StepCompleted, StepExpired, StepQueued))
	require.True(t, ok)
	assert.Equal(t, 2, expired.Order)
	_, ok = FirstExpired(steps)
	assert.False(t, ok)
}

func TestDeriveStatus(t *testing.T) {
	doc := Document{Status: StatusSubmitted}
	assert.Equal(t, StatusSubmitted, DeriveStatus(doc, chain(StepPending, StepQueued)))
	assert.Equal(t, StatusInProgress, DeriveStatus(doc, chain(StepCompleted, StepPending)))
	assert.Equal(t, StatusApproved, DeriveStatus(doc, chain(StepCompleted, StepSkipped)))
	assert.Equal(t, StatusRejected, DeriveStatus(doc, chain(StepCompleted, StepRejected, StepQueued)))
	assert.Equal(t, StatusOnHold, DeriveStatus(Document{Status: StatusInProgress}, chain(StepCompleted, StepExpired)))
	assert.Equal(t, StatusInProgress, DeriveStatus(Document{Status: StatusOnHold}, chain(StepCompleted, StepCompleted, StepPending)))
}

func TestBaseline(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	acted := created.Add(30 * time.Hour)
	resubmitted := created.Add(60 * time.Hour)
	doc := Document{CreatedAt: created}
	steps := chain(StepCompleted, StepPending)
	steps[0].ActedAt = &acted

	assert.Equal(t, created, Baseline(doc, steps, steps[0]))
	assert.Equal(t, acted, Baseline(doc, steps, steps[1]))
	steps[1].ResubmittedAt = &resubmitted
	assert.Equal(t, resubmitted, Baseline(doc, steps, steps[1]))
	early := created.Add(time.Hour)
	steps[1].ResubmittedAt = &early
	assert.Equal(t, acted, Baseline(doc, steps, steps[1]))
}
