package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/docflow/docflow/internal/notify"
	"github.com/docflow/docflow/internal/shared"
)

const sweepBatchSize = 500

// SweepResult summarises one sweeper run.
type SweepResult struct {
	Scanned int `json:"scanned"`
	Expired int `json:"expired"`
	Failed  int `json:"failed"`
}

// Sweep expires every pending step that has waited at least the SLA as of now and puts its
// document on hold. Each expiry commits separately, so one failure does not undo the others, and
// a step acted on since it was listed is left alone.
func (s *Service) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	var res SweepResult
	candidates, err := s.repo.ListOverdue(ctx, now.Add(-s.sla), sweepBatchSize)
	if err != nil {
		return res, fmt.Errorf("workflow: list overdue steps: %w", err)
	}
	res.Scanned = len(candidates)
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		expired, err := s.expireStep(ctx, c, now)
		if err != nil {
			res.Failed++
			s.logger.Error("expire step", slog.Int64("document_id", c.DocumentID), slog.Int64("step_id", c.StepID), slog.Any("error", err))
			continue
		}
		if expired {
			res.Expired++
		}
	}
	if res.Scanned > 0 {
		s.logger.Info("workflow sweep finished", slog.Int("scanned", res.Scanned), slog.Int("expired", res.Expired), slog.Int("failed", res.Failed))
	}
	return res, nil
}

func (s *Service) expireStep(ctx context.Context, c OverdueCandidate, now time.Time) (bool, error) {
	var (
		expired bool
		doc     Document
		step    Step
		notes   []notify.Notification
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		expired, notes = false, nil
		var err error
		doc, err = tx.LockDocument(ctx, c.DocumentID)
		if err != nil {
			return err
		}
		steps, err := tx.ListSteps(ctx, doc.ID)
		if err != nil {
			return fmt.Errorf("workflow: list steps: %w", err)
		}
		SortSteps(steps)
		var found bool
		for _, st := range steps {
			if st.ID == c.StepID {
				step, found = st, true
				break
			}
		}
		if !found || step.Status != StepPending {
			return nil
		}
		if now.Sub(Baseline(doc, steps, step)) < s.sla {
			return nil
		}
		step.Status = StepExpired
		step.ExpiredAt = &now
		if err := tx.UpdateStep(ctx, step); err != nil {
			return fmt.Errorf("workflow: update step: %w", err)
		}
		doc.Status = StatusOnHold
		doc.UpdatedAt = now
		if err := tx.UpdateDocumentStatus(ctx, doc.ID, doc.Status, now); err != nil {
			return fmt.Errorf("workflow: update document: %w", err)
		}
		if err := tx.InsertHistory(ctx, HistoryEntry{DocumentID: doc.ID, StepID: step.ID, Action: ActionExpire, Note: "signature window elapsed", At: now}); err != nil {
			return fmt.Errorf("workflow: insert history: %w", err)
		}
		notes, err = s.emitter.Persist(ctx, tx.NotificationStore(), notify.Event{
			Type:          notify.EventDocumentOnHold,
			DocumentID:    doc.ID,
			DocumentTitle: doc.Title,
			DocType:       string(doc.DocType),
			Recipient:     submitterOf(doc),
			StepName:      step.Name,
			At:            now,
		})
		if err != nil {
			return err
		}
		expired = true
		return nil
	})
	if err != nil {
		return false, s.txError("expire step", err)
	}
	if !expired {
		return false, nil
	}
	s.afterCommit(ctx, notes, shared.AuditEvent{
		Action:     "STEP_EXPIRED",
		Category:   auditCategory,
		TargetID:   strconv.FormatInt(doc.ID, 10),
		TargetType: documentTarget,
		Details:    map[string]any{"step_id": step.ID, "step_order": step.Order, "assignee_id": step.Assignee.ID},
		Severity:   shared.SeverityWarning,
		At:         now,
	}, doc.DocType, ActionExpire)
	return true, nil
}
