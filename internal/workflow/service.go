package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/docflow/docflow/internal/funds"
	"github.com/docflow/docflow/internal/notify"
	"github.com/docflow/docflow/internal/platform/db"
	"github.com/docflow/docflow/internal/shared"
)

// DefaultSLA is how long a pending step may wait before the sweeper expires it.
const DefaultSLA = 120 * time.Hour

const (
	idempotencyModule = "workflow.documents"
	unknownName       = "Unknown"
	auditCategory     = "workflow"
	documentTarget    = "document"
)

// Renderer produces the document artifact and returns its path.
type Renderer interface {
	RenderTemplate(ctx context.Context, docType string, data any) (string, error)
}

// LedgerReader loads the fund postings of a document.
type LedgerReader interface {
	EntriesForDocument(ctx context.Context, documentID int64) ([]funds.LedgerEntry, error)
}

// IdempotencyStore guards CreateDocument against duplicate submissions.
type IdempotencyStore interface {
	Claim(ctx context.Context, module, key string) (ref string, done bool, err error)
	Complete(ctx context.Context, module, key, ref string) error
	Release(ctx context.Context, module, key string) error
}

// Observer receives committed transitions for metrics.
type Observer interface {
	ObserveTransition(docType, action string)
}

// CreateInput is the payload of CreateDocument.
type CreateInput struct {
	DocType        DocType         `json:"doc_type" validate:"required"`
	Title          string          `json:"title" validate:"required,max=200"`
	Description    string          `json:"description" validate:"max=4000"`
	FormData       json.RawMessage `json:"form_data" validate:"required"`
	IdempotencyKey string          `json:"-" validate:"max=128"`
}

// SignInput is the payload of Sign. StepID zero selects the actor's earliest pending step.
type SignInput struct {
	DocumentID   int64  `json:"-" validate:"required,gt=0"`
	StepID       int64  `json:"step_id" validate:"gte=0"`
	Note         string `json:"note" validate:"max=1000"`
	SignatureRef string `json:"signature_ref" validate:"max=512"`
}

// RejectInput is the payload of Reject.
type RejectInput struct {
	DocumentID int64  `json:"-" validate:"required,gt=0"`
	StepID     int64  `json:"step_id" validate:"gte=0"`
	Reason     string `json:"reason" validate:"required,max=1000"`
}

// Outcome describes a committed step action.
type Outcome struct {
	Document Document
	Step     Step
	Next     *Step
	Ledger   []funds.LedgerEntry
}

// DocumentDetail aggregates everything known about a document.
type DocumentDetail struct {
	Document Document
	Steps    []Step
	History  []HistoryEntry
	Ledger   []funds.LedgerEntry
}

// Service coordinates document creation and every step transition.
type Service struct {
	repo     RepositoryPort
	resolver *Resolver
	poster   *funds.Poster
	emitter  *notify.Emitter
	renderer Renderer
	ledger   LedgerReader
	idem     IdempotencyStore
	audit    shared.AuditRecorder
	observer Observer
	validate *validator.Validate
	logger   *slog.Logger
	sla      time.Duration
	now      func() time.Time
}

// NewService constructs the workflow service.
func NewService(repo RepositoryPort, resolver *Resolver, poster *funds.Poster, emitter *notify.Emitter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if poster == nil {
		poster = funds.NewPoster(logger)
	}
	if emitter == nil {
		emitter = notify.NewEmitter(nil, logger)
	}
	return &Service{
		repo:     repo,
		resolver: resolver,
		poster:   poster,
		emitter:  emitter,
		validate: validator.New(),
		logger:   logger,
		sla:      DefaultSLA,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetRenderer injects the artifact renderer.
func (s *Service) SetRenderer(r Renderer) { s.renderer = r }

// SetLedgerReader injects the fund ledger reader used by GetDocumentDetail.
func (s *Service) SetLedgerReader(l LedgerReader) { s.ledger = l }

// SetIdempotencyStore enables Idempotency-Key handling on CreateDocument.
func (s *Service) SetIdempotencyStore(store IdempotencyStore) { s.idem = store }

// SetAuditRecorder injects the audit sink.
func (s *Service) SetAuditRecorder(r shared.AuditRecorder) { s.audit = r }

// SetObserver injects the transition observer.
func (s *Service) SetObserver(o Observer) { s.observer = o }

// SetSLA overrides the step timeout.
func (s *Service) SetSLA(sla time.Duration) {
	if sla > 0 {
		s.sla = sla
	}
}

// SLA returns the configured step timeout.
func (s *Service) SLA() time.Duration { return s.sla }

// WithClock overrides the internal clock for deterministic tests.
func (s *Service) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// CreateDocument validates a submission, resolves its chain and stores it with all steps.
func (s *Service) CreateDocument(ctx context.Context, actor shared.Actor, in CreateInput) (doc Document, err error) {
	if err := requireActor(actor); err != nil {
		return Document{}, err
	}
	in.Title = strings.TrimSpace(in.Title)
	if err := s.validate.Struct(in); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if !in.DocType.Valid() {
		return Document{}, fmt.Errorf("%w: unknown doc_type %q", ErrValidation, in.DocType)
	}
	data, err := DecodeFormData(in.DocType, in.FormData)
	if err != nil {
		return Document{}, err
	}
	if err := s.validate.Struct(data); err != nil {
		return Document{}, fmt.Errorf("%w: form_data: %v", ErrValidation, err)
	}
	if err := data.check(); err != nil {
		return Document{}, err
	}

	if key := strings.TrimSpace(in.IdempotencyKey); key != "" && s.idem != nil {
		key = actorScopedKey(actor, key)
		ref, done, claimErr := s.idem.Claim(ctx, idempotencyModule, key)
		if claimErr != nil {
			if errors.Is(claimErr, shared.ErrIdempotencyConflict) {
				return Document{}, fmt.Errorf("%w: %v", ErrConflict, claimErr)
			}
			return Document{}, fmt.Errorf("workflow: claim idempotency key: %w", claimErr)
		}
		if done {
			id, parseErr := strconv.ParseInt(ref, 10, 64)
			if parseErr != nil {
				return Document{}, fmt.Errorf("workflow: stored idempotency ref %q: %w", ref, parseErr)
			}
			return s.repo.GetDocument(ctx, id)
		}
		defer func() {
			if err != nil {
				if relErr := s.idem.Release(context.WithoutCancel(ctx), idempotencyModule, key); relErr != nil {
					s.logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", relErr))
				}
				return
			}
			if compErr := s.idem.Complete(context.WithoutCancel(ctx), idempotencyModule, key, strconv.FormatInt(doc.ID, 10)); compErr != nil {
				s.logger.Warn("complete idempotency key", slog.String("key", key), slog.Any("error", compErr))
			}
		}()
	}

	if s.resolver == nil {
		return Document{}, errors.New("workflow: resolver not configured")
	}
	steps, err := s.resolver.Resolve(ctx, actor, data)
	if err != nil {
		return Document{}, err
	}

	now := s.now()
	doc = Document{
		DocType:       in.DocType,
		Title:         in.Title,
		Description:   strings.TrimSpace(in.Description),
		Status:        StatusSubmitted,
		SubmitterID:   actor.ID,
		SubmitterKind: actor.Kind(),
		SubmitterName: actor.Name,
		Department:    actor.Department,
		FormData:      data,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	doc.FilePath = placeholderPath(doc.DocType)

	var notes []notify.Notification
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		notes = nil
		created, err := tx.InsertDocument(ctx, doc)
		if err != nil {
			return fmt.Errorf("workflow: insert document: %w", err)
		}
		saved, err := tx.InsertSteps(ctx, created.ID, steps)
		if err != nil {
			return fmt.Errorf("workflow: insert steps: %w", err)
		}
		var firstStepID int64
		var events []notify.Event
		if len(saved) > 0 {
			firstStepID = saved[0].ID
			events = append(events, stepActivatedEvent(created, saved[0], now))
		}
		if err := tx.InsertHistory(ctx, HistoryEntry{DocumentID: created.ID, StepID: firstStepID, ActorID: actor.ID, Action: ActionSubmit, At: now}); err != nil {
			return fmt.Errorf("workflow: insert history: %w", err)
		}
		notes, err = s.emitter.Persist(ctx, tx.NotificationStore(), events...)
		if err != nil {
			return err
		}
		doc = created
		return nil
	})
	if err != nil {
		return Document{}, s.txError("create document", err)
	}
	s.attachArtifact(ctx, &doc, steps)

	s.afterCommit(ctx, notes, shared.AuditEvent{
		ActorID:    actor.ID,
		Action:     "DOCUMENT_SUBMITTED",
		Category:   auditCategory,
		TargetID:   strconv.FormatInt(doc.ID, 10),
		TargetType: documentTarget,
		Details:    map[string]any{"doc_type": string(doc.DocType), "steps": len(steps), "file_path": doc.FilePath},
		At:         now,
	}, doc.DocType, ActionSubmit)
	return doc, nil
}

// Sign completes the actor's step, activates the next one and recomputes the document status.
// A fund-trigger step on a SAF document posts its ledger deductions in the same transaction.
func (s *Service) Sign(ctx context.Context, actor shared.Actor, in SignInput) (Outcome, error) {
	if err := requireActor(actor); err != nil {
		return Outcome{}, err
	}
	if err := s.validate.Struct(in); err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	var (
		out   Outcome
		notes []notify.Notification
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		out, notes = Outcome{}, nil
		doc, steps, target, err := s.loadTarget(ctx, tx, in.DocumentID, in.StepID, actor)
		if err != nil {
			return err
		}
		now := s.now()
		target.Status = StepCompleted
		target.ActedAt = &now
		target.Note = strings.TrimSpace(in.Note)
		target.SignatureRef = in.SignatureRef
		if err := tx.UpdateStep(ctx, target); err != nil {
			return fmt.Errorf("workflow: update step: %w", err)
		}
		replaceStep(steps, target)

		var events []notify.Event
		if next, ok := NextQueued(steps, target); ok {
			next.Status = StepPending
			if err := tx.UpdateStep(ctx, next); err != nil {
				return fmt.Errorf("workflow: activate step: %w", err)
			}
			replaceStep(steps, next)
			out.Next = &next
			events = append(events, stepActivatedEvent(doc, next, now))
		}

		doc.Status = DeriveStatus(doc, steps)
		doc.UpdatedAt = now
		if err := tx.UpdateDocumentStatus(ctx, doc.ID, doc.Status, now); err != nil {
			return fmt.Errorf("workflow: update document: %w", err)
		}

		if target.IsFundTrigger && doc.DocType == DocTypeSAF {
			posted, err := s.postFunds(ctx, tx.FundStore(), doc, actor, now)
			if err != nil {
				return err
			}
			out.Ledger = posted
		}

		if doc.Status == StatusApproved {
			events = append(events, notify.Event{
				Type:          notify.EventDocumentApproved,
				DocumentID:    doc.ID,
				DocumentTitle: doc.Title,
				DocType:       string(doc.DocType),
				Recipient:     submitterOf(doc),
				StepName:      target.Name,
				At:            now,
			})
		}

		if err := tx.InsertHistory(ctx, HistoryEntry{DocumentID: doc.ID, StepID: target.ID, ActorID: actor.ID, Action: ActionSign, Note: target.Note, At: now}); err != nil {
			return fmt.Errorf("workflow: insert history: %w", err)
		}
		notes, err = s.emitter.Persist(ctx, tx.NotificationStore(), events...)
		if err != nil {
			return err
		}
		out.Document, out.Step = doc, target
		return nil
	})
	if err != nil {
		return Outcome{}, s.txError("sign", err)
	}

	details := map[string]any{"step_id": out.Step.ID, "step_order": out.Step.Order, "status": string(out.Document.Status)}
	if len(out.Ledger) > 0 {
		details["ledger_entries"] = len(out.Ledger)
	}
	s.afterCommit(ctx, notes, shared.AuditEvent{
		ActorID:    actor.ID,
		Action:     "STEP_SIGNED",
		Category:   auditCategory,
		TargetID:   strconv.FormatInt(out.Document.ID, 10),
		TargetType: documentTarget,
		Details:    details,
		At:         derefTime(out.Step.ActedAt),
	}, out.Document.DocType, ActionSign)
	return out, nil
}

// Reject rejects the actor's step, which terminates the document.
func (s *Service) Reject(ctx context.Context, actor shared.Actor, in RejectInput) (Outcome, error) {
	if err := requireActor(actor); err != nil {
		return Outcome{}, err
	}
	in.Reason = strings.TrimSpace(in.Reason)
	if err := s.validate.Struct(in); err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	var (
		out   Outcome
		notes []notify.Notification
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		out, notes = Outcome{}, nil
		doc, _, target, err := s.loadTarget(ctx, tx, in.DocumentID, in.StepID, actor)
		if err != nil {
			return err
		}
		now := s.now()
		target.Status = StepRejected
		target.ActedAt = &now
		target.Note = in.Reason
		if err := tx.UpdateStep(ctx, target); err != nil {
			return fmt.Errorf("workflow: update step: %w", err)
		}
		doc.Status = StatusRejected
		doc.UpdatedAt = now
		if err := tx.UpdateDocumentStatus(ctx, doc.ID, doc.Status, now); err != nil {
			return fmt.Errorf("workflow: update document: %w", err)
		}
		if err := tx.InsertHistory(ctx, HistoryEntry{DocumentID: doc.ID, StepID: target.ID, ActorID: actor.ID, Action: ActionReject, Note: in.Reason, At: now}); err != nil {
			return fmt.Errorf("workflow: insert history: %w", err)
		}
		notes, err = s.emitter.Persist(ctx, tx.NotificationStore(), notify.Event{
			Type:          notify.EventDocumentRejected,
			DocumentID:    doc.ID,
			DocumentTitle: doc.Title,
			DocType:       string(doc.DocType),
			Recipient:     submitterOf(doc),
			StepName:      target.Name,
			ActorName:     actor.Name,
			Note:          in.Reason,
			At:            now,
		})
		if err != nil {
			return err
		}
		out.Document, out.Step = doc, target
		return nil
	})
	if err != nil {
		return Outcome{}, s.txError("reject", err)
	}

	s.afterCommit(ctx, notes, shared.AuditEvent{
		ActorID:    actor.ID,
		Action:     "STEP_REJECTED",
		Category:   auditCategory,
		TargetID:   strconv.FormatInt(out.Document.ID, 10),
		TargetType: documentTarget,
		Details:    map[string]any{"step_id": out.Step.ID, "step_order": out.Step.Order, "reason": out.Step.Note},
		Severity:   shared.SeverityWarning,
		At:         derefTime(out.Step.ActedAt),
	}, out.Document.DocType, ActionReject)
	return out, nil
}

// Resubmit reactivates the expired step of an on-hold document. Only the submitter may do so.
func (s *Service) Resubmit(ctx context.Context, actor shared.Actor, documentID int64) (Outcome, error) {
	if err := requireActor(actor); err != nil {
		return Outcome{}, err
	}
	if documentID <= 0 {
		return Outcome{}, fmt.Errorf("%w: document id required", ErrValidation)
	}
	var (
		out   Outcome
		notes []notify.Notification
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		out, notes = Outcome{}, nil
		doc, err := tx.LockDocument(ctx, documentID)
		if err != nil {
			return err
		}
		if !doc.IsSubmitter(actor) {
			return fmt.Errorf("%w: only the submitter may resubmit", ErrUnauthorized)
		}
		if doc.Status != StatusOnHold {
			return fmt.Errorf("%w: status is %s", ErrNotOnHold, doc.Status)
		}
		steps, err := tx.ListSteps(ctx, doc.ID)
		if err != nil {
			return fmt.Errorf("workflow: list steps: %w", err)
		}
		SortSteps(steps)
		step, ok := FirstExpired(steps)
		if !ok {
			return ErrNoExpiredStep
		}
		now := s.now()
		step.Status = StepPending
		step.ExpiredAt = nil
		step.ResubmittedAt = &now
		if err := tx.UpdateStep(ctx, step); err != nil {
			return fmt.Errorf("workflow: update step: %w", err)
		}
		doc.Status = StatusInProgress
		if step.Order == 1 {
			doc.Status = StatusSubmitted
		}
		doc.UpdatedAt = now
		if err := tx.UpdateDocumentStatus(ctx, doc.ID, doc.Status, now); err != nil {
			return fmt.Errorf("workflow: update document: %w", err)
		}
		if err := tx.InsertHistory(ctx, HistoryEntry{DocumentID: doc.ID, StepID: step.ID, ActorID: actor.ID, Action: ActionResubmit, At: now}); err != nil {
			return fmt.Errorf("workflow: insert history: %w", err)
		}
		events := []notify.Event{stepActivatedEvent(doc, step, now)}
		if !step.Assignee.Matches(actor) {
			events = append(events, notify.Event{
				Type:          notify.EventDocumentResubmitted,
				DocumentID:    doc.ID,
				DocumentTitle: doc.Title,
				DocType:       string(doc.DocType),
				Recipient:     submitterOf(doc),
				StepName:      step.Name,
				At:            now,
			})
		}
		notes, err = s.emitter.Persist(ctx, tx.NotificationStore(), events...)
		if err != nil {
			return err
		}
		out.Document, out.Step = doc, step
		return nil
	})
	if err != nil {
		return Outcome{}, s.txError("resubmit", err)
	}

	s.afterCommit(ctx, notes, shared.AuditEvent{
		ActorID:    actor.ID,
		Action:     "DOCUMENT_RESUBMITTED",
		Category:   auditCategory,
		TargetID:   strconv.FormatInt(out.Document.ID, 10),
		TargetType: documentTarget,
		Details:    map[string]any{"step_id": out.Step.ID, "step_order": out.Step.Order},
		At:         derefTime(out.Step.ResubmittedAt),
	}, out.Document.DocType, ActionResubmit)
	return out, nil
}

// DeleteDocument removes a document while only the submitter's own signature has been given.
func (s *Service) DeleteDocument(ctx context.Context, actor shared.Actor, documentID int64) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	var doc Document
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		doc, err = tx.LockDocument(ctx, documentID)
		if err != nil {
			return err
		}
		if !doc.IsSubmitter(actor) {
			return fmt.Errorf("%w: only the submitter may delete", ErrUnauthorized)
		}
		steps, err := tx.ListSteps(ctx, doc.ID)
		if err != nil {
			return fmt.Errorf("workflow: list steps: %w", err)
		}
		for _, step := range steps {
			if step.Order > 1 && step.Status == StepCompleted {
				return fmt.Errorf("%w: step %d already signed", ErrConflict, step.Order)
			}
		}
		return tx.DeleteDocument(ctx, doc.ID)
	})
	if err != nil {
		return s.txError("delete document", err)
	}
	shared.RecordAuditEvent(ctx, s.audit, s.logger, shared.AuditEvent{
		ActorID:    actor.ID,
		Action:     "DOCUMENT_DELETED",
		Category:   auditCategory,
		TargetID:   strconv.FormatInt(documentID, 10),
		TargetType: documentTarget,
		Details:    map[string]any{"doc_type": string(doc.DocType), "title": doc.Title},
		Severity:   shared.SeverityWarning,
		At:         s.now(),
	})
	return nil
}

// GetAssignedDocuments lists documents carrying a step assigned to actor, newest first.
func (s *Service) GetAssignedDocuments(ctx context.Context, actor shared.Actor, filter AssignedFilter) ([]AssignedDocument, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	filter.ActorID = actor.ID
	filter.ActorKind = actor.Kind()
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 100
	}
	items, err := s.repo.ListAssigned(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("workflow: list assigned: %w", err)
	}
	for i := range items {
		if strings.TrimSpace(items[i].Document.SubmitterName) == "" {
			items[i].Document.SubmitterName = unknownName
		}
		if strings.TrimSpace(items[i].Step.Assignee.Name) == "" {
			items[i].Step.Assignee.Name = unknownName
		}
	}
	return items, nil
}

// GetDocumentDetail loads a document with its steps, history and ledger postings. History and
// ledger are best-effort and come back empty when they cannot be read.
func (s *Service) GetDocumentDetail(ctx context.Context, documentID int64) (DocumentDetail, error) {
	if documentID <= 0 {
		return DocumentDetail{}, fmt.Errorf("%w: document id required", ErrValidation)
	}
	var detail DocumentDetail
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		doc, err := s.repo.GetDocument(gctx, documentID)
		if err != nil {
			return err
		}
		detail.Document = doc
		return nil
	})
	g.Go(func() error {
		steps, err := s.repo.ListSteps(gctx, documentID)
		if err != nil {
			return fmt.Errorf("workflow: list steps: %w", err)
		}
		SortSteps(steps)
		detail.Steps = steps
		return nil
	})
	g.Go(func() error {
		history, err := s.repo.ListHistory(gctx, documentID)
		if err != nil {
			s.logger.Warn("load document history", slog.Int64("document_id", documentID), slog.Any("error", err))
			return nil
		}
		detail.History = history
		return nil
	})
	if s.ledger != nil {
		g.Go(func() error {
			entries, err := s.ledger.EntriesForDocument(gctx, documentID)
			if err != nil {
				s.logger.Warn("load document ledger", slog.Int64("document_id", documentID), slog.Any("error", err))
				return nil
			}
			detail.Ledger = entries
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return DocumentDetail{}, err
	}
	if detail.Document.DocType != DocTypeSAF {
		detail.Ledger = nil
	}
	if detail.History == nil {
		detail.History = []HistoryEntry{}
	}
	for i := range detail.Steps {
		if strings.TrimSpace(detail.Steps[i].Assignee.Name) == "" {
			detail.Steps[i].Assignee.Name = unknownName
		}
	}
	return detail, nil
}

func (s *Service) loadTarget(ctx context.Context, tx TxRepository, documentID, stepID int64, actor shared.Actor) (Document, []Step, Step, error) {
	doc, err := tx.LockDocument(ctx, documentID)
	if err != nil {
		return Document{}, nil, Step{}, err
	}
	steps, err := tx.ListSteps(ctx, doc.ID)
	if err != nil {
		return Document{}, nil, Step{}, fmt.Errorf("workflow: list steps: %w", err)
	}
	SortSteps(steps)
	target, err := ResolveTarget(steps, stepID, actor)
	if err != nil {
		return Document{}, nil, Step{}, err
	}
	if err := CheckAction(steps, target, actor); err != nil {
		return Document{}, nil, Step{}, err
	}
	return doc, steps, target, nil
}

func (s *Service) postFunds(ctx context.Context, store funds.TxStore, doc Document, actor shared.Actor, at time.Time) ([]funds.LedgerEntry, error) {
	data, ok := doc.FormData.(SafData)
	if !ok {
		return nil, fmt.Errorf("workflow: document %d carries %T, want SAF form data", doc.ID, doc.FormData)
	}
	entries, err := s.poster.PostForDocument(ctx, store, funds.PostingInput{
		DocumentID:    doc.ID,
		DocumentTitle: doc.Title,
		Requests: []funds.Request{
			{Category: funds.CategorySSC, DepartmentID: funds.CouncilDepartment, Amount: data.SSCAmount},
			{Category: funds.CategoryCSC, DepartmentID: doc.Department, Amount: data.CSCAmount},
		},
		ActorID: actor.ID,
		At:      at,
	})
	if err != nil {
		return nil, fmt.Errorf("workflow: post funds: %w", err)
	}
	return entries, nil
}

// attachArtifact renders a committed document and records where the artifact went. Rendering
// runs after commit so a rolled back or replayed transaction never leaves an upload behind.
// Failures keep the placeholder.
func (s *Service) attachArtifact(ctx context.Context, doc *Document, steps []Step) {
	if s.renderer == nil {
		return
	}
	path, err := s.renderer.RenderTemplate(ctx, string(doc.DocType), renderData(*doc, steps))
	if err != nil || path == "" {
		s.logger.Warn("render document artifact",
			slog.Int64("document_id", doc.ID),
			slog.String("doc_type", string(doc.DocType)),
			slog.Any("error", fmt.Errorf("%w: %v", ErrTemplateRender, err)))
		return
	}
	if err := s.repo.SetFilePath(context.WithoutCancel(ctx), doc.ID, path); err != nil {
		s.logger.Error("record document artifact",
			slog.Int64("document_id", doc.ID),
			slog.String("path", path),
			slog.Any("error", err))
		return
	}
	doc.FilePath = path
}

func placeholderPath(docType DocType) string {
	return fmt.Sprintf("placeholder://%s/%s", docType, uuid.NewString())
}

// actorScopedKey keeps one submitter's Idempotency-Key from matching another's.
func actorScopedKey(actor shared.Actor, key string) string {
	return fmt.Sprintf("%s:%d:%s", actor.Kind(), actor.ID, key)
}

func renderData(doc Document, steps []Step) map[string]any {
	signatories := make([]map[string]any, 0, len(steps))
	for _, st := range steps {
		signatories = append(signatories, map[string]any{
			"Order":    st.Order,
			"Name":     st.Name,
			"Assignee": st.Assignee.Name,
			"Gating":   st.IsGating,
		})
	}
	return map[string]any{
		"Title":       doc.Title,
		"Description": doc.Description,
		"Submitter":   doc.SubmitterName,
		"Department":  doc.Department,
		"CreatedAt":   doc.CreatedAt,
		"Form":        doc.FormData,
		"Steps":       signatories,
	}
}

// afterCommit runs the side effects that must only happen once the transaction is durable.
func (s *Service) afterCommit(ctx context.Context, notes []notify.Notification, ev shared.AuditEvent, docType DocType, action HistoryAction) {
	s.emitter.Dispatch(ctx, notes)
	shared.RecordAuditEvent(ctx, s.audit, s.logger, ev)
	if s.observer != nil {
		s.observer.ObserveTransition(string(docType), string(action))
	}
}

func (s *Service) txError(op string, err error) error {
	if errors.Is(err, db.ErrRetriesExhausted) {
		s.logger.Warn("workflow transaction contention", slog.String("op", op), slog.Any("error", err))
		return fmt.Errorf("%w: %s", ErrConflict, op)
	}
	return err
}

func requireActor(actor shared.Actor) error {
	if actor.ID <= 0 {
		return fmt.Errorf("%w: %v", ErrUnauthorized, shared.ErrActorMissing)
	}
	return nil
}

func stepActivatedEvent(doc Document, step Step, at time.Time) notify.Event {
	return notify.Event{
		Type:          notify.EventStepActivated,
		DocumentID:    doc.ID,
		DocumentTitle: doc.Title,
		DocType:       string(doc.DocType),
		Recipient:     notify.Recipient{ID: step.Assignee.ID, Kind: step.Assignee.Kind, Name: step.Assignee.Name},
		StepName:      step.Name,
		At:            at,
	}
}

func submitterOf(doc Document) notify.Recipient {
	return notify.Recipient{ID: doc.SubmitterID, Kind: doc.SubmitterKind, Name: doc.SubmitterName}
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
