package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docflow/docflow/internal/notify"
)

func TestSweepExpiresOnlyOverdueSteps(t *testing.T) {
	h := newHarness(t)
	old := h.create(t, submitter(), DocTypeCommunication, communicationForm(106))
	h.signNext(t, old.ID)

	h.clock.Advance(72 * time.Hour)
	fresh := h.create(t, submitter(), DocTypeCommunication, communicationForm(106))
	h.signNext(t, fresh.ID)

	h.clock.Advance(DefaultSLA - 72*time.Hour - time.Minute)
	res, err := h.svc.Sweep(context.Background(), h.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, res)

	h.clock.Advance(time.Minute)
	dispatched := h.dispatcher.count()
	res, err = h.svc.Sweep(context.Background(), h.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Scanned: 1, Expired: 1}, res)

	oldSteps := h.repo.stepsOf(old.ID)
	assert.Equal(t, StepExpired, oldSteps[1].Status)
	require.NotNil(t, oldSteps[1].ExpiredAt)
	assert.Equal(t, h.clock.Now(), *oldSteps[1].ExpiredAt)
	assert.Equal(t, StatusOnHold, h.repo.document(old.ID).Status)
	assertSingleActiveStep(t, oldSteps, StatusOnHold)

	assert.Equal(t, StepPending, h.repo.stepsOf(fresh.ID)[1].Status)
	assert.Equal(t, StatusInProgress, h.repo.document(fresh.ID).Status)

	notes := h.repo.notifications()
	last := notes[len(notes)-1]
	assert.Equal(t, notify.RefOnHold, last.ReferenceType)
	assert.Equal(t, int64(1), last.RecipientID)
	assert.False(t, last.Escalated)
	assert.Equal(t, dispatched, h.dispatcher.count(), "on_hold stays in-app")
	assert.Contains(t, h.audit.actions(), "STEP_EXPIRED")

	again, err := h.svc.Sweep(context.Background(), h.clock.Now())
	require.NoError(t, err)
	assert.Zero(t, again.Expired)
}

func TestSweepMeasuresFromResubmission(t *testing.T) {
	h := newHarness(t)
	doc := h.create(t, submitter(), DocTypeCommunication, communicationForm(106))
	h.clock.Advance(DefaultSLA)
	_, err := h.svc.Sweep(context.Background(), h.clock.Now())
	require.NoError(t, err)

	h.clock.Advance(48 * time.Hour)
	_, err = h.svc.Resubmit(context.Background(), submitter(), doc.ID)
	require.NoError(t, err)

	h.clock.Advance(DefaultSLA - time.Hour)
	res, err := h.svc.Sweep(context.Background(), h.clock.Now())
	require.NoError(t, err)
	assert.Zero(t, res.Expired)
	assert.Equal(t, StepPending, h.repo.stepsOf(doc.ID)[0].Status)

	h.clock.Advance(time.Hour)
	res, err = h.svc.Sweep(context.Background(), h.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Expired)
}

func TestSweepRespectsConfiguredSLA(t *testing.T) {
	h := newHarness(t)
	h.svc.SetSLA(24 * time.Hour)
	doc := h.create(t, submitter(), DocTypeCommunication, communicationForm(106))

	h.clock.Advance(24 * time.Hour)
	res, err := h.svc.Sweep(context.Background(), h.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Expired)
	assert.Equal(t, StatusOnHold, h.repo.document(doc.ID).Status)
}

// staleRepo replays an outdated candidate list to emulate a step acted on after listing.
type staleRepo struct {
	*memoryRepo
	candidates []OverdueCandidate
}

func (s staleRepo) ListOverdue(context.Context, time.Time, int) ([]OverdueCandidate, error) {
	return s.candidates, nil
}

func TestSweepRechecksInsideTransaction(t *testing.T) {
	h := newHarness(t)
	doc := h.create(t, submitter(), DocTypeCommunication, communicationForm(106))
	steps := h.repo.stepsOf(doc.ID)
	h.signNext(t, doc.ID)

	stale := staleRepo{memoryRepo: h.repo, candidates: []OverdueCandidate{
		{DocumentID: doc.ID, StepID: steps[0].ID, StepOrder: 1},
		{DocumentID: doc.ID, StepID: steps[1].ID, StepOrder: 2},
		{DocumentID: doc.ID + 1000, StepID: 1, StepOrder: 1},
	}}
	svc := NewService(stale, NewResolver(h.dir), nil, nil, nil)
	svc.WithClock(h.clock.Now)

	res, err := svc.Sweep(context.Background(), h.clock.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Scanned: 3, Expired: 0, Failed: 1}, res)
	assert.Equal(t, StepPending, h.repo.stepsOf(doc.ID)[1].Status)
}
