package workflow

import (
	"fmt"
	"sort"
	"time"

	"github.com/docflow/docflow/internal/shared"
)

var stepTransitions = map[StepStatus][]StepStatus{
	StepQueued:  {StepPending, StepSkipped},
	StepPending: {StepCompleted, StepRejected, StepExpired},
	StepExpired: {StepPending},
}

// CanTransition reports whether a step may move from one status to another.
func CanTransition(from, to StepStatus) bool {
	for _, allowed := range stepTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// SortSteps orders steps by StepOrder in place.
func SortSteps(steps []Step) {
	sort.Slice(steps, func(i, j int) bool { return steps[i].Order < steps[j].Order })
}

// CheckHierarchy fails with ErrOutOfOrder when any step below target is not completed or
// skipped. A rejected or expired predecessor therefore blocks target permanently.
func CheckHierarchy(steps []Step, target Step) error {
	for _, s := range steps {
		if s.Order < target.Order && !s.Status.Done() {
			return fmt.Errorf("%w: step %d (%s) is %s", ErrOutOfOrder, s.Order, s.Name, s.Status)
		}
	}
	return nil
}

// ResolveTarget picks the step an action applies to: the explicit stepID, or the actor's
// earliest pending step on the document.
func ResolveTarget(steps []Step, stepID int64, actor shared.Actor) (Step, error) {
	if stepID != 0 {
		for _, s := range steps {
			if s.ID == stepID {
				return s, nil
			}
		}
		return Step{}, fmt.Errorf("%w: step %d", ErrNotFound, stepID)
	}
	var (
		found Step
		ok    bool
	)
	for _, s := range steps {
		if s.Status != StepPending || !s.Assignee.Matches(actor) {
			continue
		}
		if !ok || s.Order < found.Order {
			found, ok = s, true
		}
	}
	if !ok {
		return Step{}, fmt.Errorf("%w: no pending step for actor %d", ErrNotFound, actor.ID)
	}
	return found, nil
}

// CheckEligibility fails with ErrUnauthorized unless actor is the assignee of a pending step.
func CheckEligibility(step Step, actor shared.Actor) error {
	if !step.Assignee.Matches(actor) {
		return fmt.Errorf("%w: step %d is assigned to someone else", ErrUnauthorized, step.Order)
	}
	if step.Status != StepPending {
		return fmt.Errorf("%w: step %d is %s", ErrUnauthorized, step.Order, step.Status)
	}
	return nil
}

// CheckAction validates that actor may act on target now: identity first, then ordering, then the
// pending status.
func CheckAction(steps []Step, target Step, actor shared.Actor) error {
	if !target.Assignee.Matches(actor) {
		return fmt.Errorf("%w: step %d is assigned to someone else", ErrUnauthorized, target.Order)
	}
	if err := CheckHierarchy(steps, target); err != nil {
		return err
	}
	return CheckEligibility(target, actor)
}

// NextQueued returns the step directly after current when it is still queued.
func NextQueued(steps []Step, current Step) (Step, bool) {
	for _, s := range steps {
		if s.Order == current.Order+1 && s.Status == StepQueued {
			return s, true
		}
	}
	return Step{}, false
}

// FirstExpired returns the lowest expired step.
func FirstExpired(steps []Step) (Step, bool) {
	var (
		found Step
		ok    bool
	)
	for _, s := range steps {
		if s.Status == StepExpired && (!ok || s.Order < found.Order) {
			found, ok = s, true
		}
	}
	return found, ok
}

// DeriveStatus recomputes the document status from its steps. A fully signed chain is approved
// and any rejection is terminal; otherwise the document is in progress, which also moves it out
// of submitted or on_hold once a step advances.
func DeriveStatus(doc Document, steps []Step) DocumentStatus {
	done := 0
	for _, s := range steps {
		if s.Status == StepRejected {
			return StatusRejected
		}
		if s.Status.Done() {
			done++
		}
	}
	if len(steps) > 0 && done == len(steps) {
		return StatusApproved
	}
	for _, s := range steps {
		if s.Status == StepExpired {
			return StatusOnHold
		}
	}
	if doc.Status == StatusSubmitted && done == 0 {
		return StatusSubmitted
	}
	return StatusInProgress
}

// Baseline returns the instant a pending step's SLA is measured from: the previous step's
// signature, the document creation for step 1, or the resubmission when that is later.
func Baseline(doc Document, steps []Step, step Step) time.Time {
	base := doc.CreatedAt
	if step.Order > 1 {
		for _, s := range steps {
			if s.Order == step.Order-1 && s.ActedAt != nil {
				base = *s.ActedAt
				break
			}
		}
	}
	if step.ResubmittedAt != nil && step.ResubmittedAt.After(base) {
		base = *step.ResubmittedAt
	}
	return base
}

// PendingCount counts active steps.
func PendingCount(steps []Step) int {
	n := 0
	for _, s := range steps {
		if s.Status == StepPending {
			n++
		}
	}
	return n
}

func replaceStep(steps []Step, updated Step) {
	for i := range steps {
		if steps[i].ID == updated.ID {
			steps[i] = updated
			return
		}
	}
}
