package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/docflow/docflow/internal/funds"
	"github.com/docflow/docflow/internal/platform/httpx"
	"github.com/docflow/docflow/internal/shared"
)

// ServicePort is the behaviour the HTTP layer needs from Service.
type ServicePort interface {
	CreateDocument(ctx context.Context, actor shared.Actor, in CreateInput) (Document, error)
	Sign(ctx context.Context, actor shared.Actor, in SignInput) (Outcome, error)
	Reject(ctx context.Context, actor shared.Actor, in RejectInput) (Outcome, error)
	Resubmit(ctx context.Context, actor shared.Actor, documentID int64) (Outcome, error)
	DeleteDocument(ctx context.Context, actor shared.Actor, documentID int64) error
	GetAssignedDocuments(ctx context.Context, actor shared.Actor, filter AssignedFilter) ([]AssignedDocument, error)
	GetDocumentDetail(ctx context.Context, documentID int64) (DocumentDetail, error)
}

// Handler exposes workflow endpoints as JSON.
type Handler struct {
	logger  *slog.Logger
	service ServicePort
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, service ServicePort) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers document routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/assigned", h.assigned)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.detail)
		r.Delete("/", h.delete)
		r.Post("/sign", h.sign)
		r.Post("/reject", h.reject)
		r.Post("/resubmit", h.resubmit)
	})
}

type stepResponse struct {
	ID            int64      `json:"id"`
	Order         int        `json:"step_order"`
	Name          string     `json:"name"`
	AssigneeID    int64      `json:"assignee_id"`
	AssigneeKind  string     `json:"assignee_kind"`
	AssigneeName  string     `json:"assignee_name"`
	Status        string     `json:"status"`
	IsGating      bool       `json:"is_gating"`
	IsFundTrigger bool       `json:"is_fund_trigger"`
	ActedAt       *time.Time `json:"acted_at,omitempty"`
	Note          string     `json:"note,omitempty"`
	SignatureRef  string     `json:"signature_ref,omitempty"`
	ExpiredAt     *time.Time `json:"expired_at,omitempty"`
	ResubmittedAt *time.Time `json:"resubmitted_at,omitempty"`
}

type documentResponse struct {
	ID            int64     `json:"id"`
	DocType       string    `json:"doc_type"`
	Title         string    `json:"title"`
	Description   string    `json:"description,omitempty"`
	Status        string    `json:"status"`
	SubmitterID   int64     `json:"submitter_id"`
	SubmitterKind string    `json:"submitter_kind"`
	SubmitterName string    `json:"submitter_name"`
	Department    string    `json:"department"`
	FilePath      string    `json:"file_path"`
	FormData      FormData  `json:"form_data,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type historyResponse struct {
	StepID  int64     `json:"step_id,omitempty"`
	ActorID int64     `json:"actor_id,omitempty"`
	Action  string    `json:"action"`
	Note    string    `json:"note,omitempty"`
	At      time.Time `json:"at"`
}

type ledgerResponse struct {
	ID           int64           `json:"id"`
	DepartmentID string          `json:"department_id"`
	Type         string          `json:"type"`
	Amount       decimal.Decimal `json:"amount"`
	Description  string          `json:"description"`
	CreatedAt    time.Time       `json:"created_at"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var in CreateInput
	if err := decodeBody(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	in.IdempotencyKey = r.Header.Get("Idempotency-Key")
	doc, err := h.service.CreateDocument(r.Context(), actor, in)
	if err != nil {
		h.fail(w, "create document", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toDocumentResponse(doc))
}

func (h *Handler) assigned(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := h.service.GetAssignedDocuments(r.Context(), actor, AssignedFilter{
		OnlyPending: r.URL.Query().Get("status") == string(StepPending),
		Limit:       limit,
	})
	if err != nil {
		h.fail(w, "list assigned documents", err)
		return
	}
	type assignedResponse struct {
		Document documentResponse `json:"document"`
		Step     stepResponse     `json:"step"`
	}
	out := make([]assignedResponse, 0, len(items))
	for _, item := range items {
		doc := toDocumentResponse(item.Document)
		doc.FormData = nil
		out = append(out, assignedResponse{Document: doc, Step: toStepResponse(item.Step)})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"documents": out})
}

func (h *Handler) detail(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}
	id, ok := documentID(w, r)
	if !ok {
		return
	}
	detail, err := h.service.GetDocumentDetail(r.Context(), id)
	if err != nil {
		h.fail(w, "load document", err)
		return
	}
	steps := make([]stepResponse, 0, len(detail.Steps))
	for _, st := range detail.Steps {
		steps = append(steps, toStepResponse(st))
	}
	history := make([]historyResponse, 0, len(detail.History))
	for _, e := range detail.History {
		history = append(history, historyResponse{StepID: e.StepID, ActorID: e.ActorID, Action: string(e.Action), Note: e.Note, At: e.At})
	}
	resp := map[string]any{
		"document": toDocumentResponse(detail.Document),
		"steps":    steps,
		"history":  history,
	}
	if detail.Document.DocType == DocTypeSAF {
		resp["ledger"] = toLedgerResponse(detail.Ledger)
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := documentID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteDocument(r.Context(), actor, id); err != nil {
		h.fail(w, "delete document", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) sign(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := documentID(w, r)
	if !ok {
		return
	}
	var in SignInput
	if err := decodeBody(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	in.DocumentID = id
	out, err := h.service.Sign(r.Context(), actor, in)
	if err != nil {
		h.fail(w, "sign step", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toOutcomeResponse(out))
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := documentID(w, r)
	if !ok {
		return
	}
	var in RejectInput
	if err := decodeBody(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	in.DocumentID = id
	out, err := h.service.Reject(r.Context(), actor, in)
	if err != nil {
		h.fail(w, "reject step", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toOutcomeResponse(out))
}

func (h *Handler) resubmit(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := documentID(w, r)
	if !ok {
		return
	}
	out, err := h.service.Resubmit(r.Context(), actor, id)
	if err != nil {
		h.fail(w, "resubmit document", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toOutcomeResponse(out))
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (shared.Actor, bool) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", shared.ErrActorMissing.Error())
		return shared.Actor{}, false
	}
	return actor, true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, httpx.ErrValidation) || errors.Is(err, httpx.ErrNotFound) ||
		errors.Is(err, httpx.ErrForbidden) || errors.Is(err, httpx.ErrConflict) {
		h.logger.Info(op, slog.Any("error", err))
	} else {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func documentID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid document id")
		return 0, false
	}
	return id, true
}

func decodeBody(r *http.Request, target any) error {
	if err := httpx.DecodeJSON(r, target); err != nil && !errors.Is(err, io.EOF) {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			return errors.New("malformed JSON body")
		}
		return err
	}
	return nil
}

func toDocumentResponse(doc Document) documentResponse {
	return documentResponse{
		ID:            doc.ID,
		DocType:       string(doc.DocType),
		Title:         doc.Title,
		Description:   doc.Description,
		Status:        string(doc.Status),
		SubmitterID:   doc.SubmitterID,
		SubmitterKind: string(doc.SubmitterKind),
		SubmitterName: doc.SubmitterName,
		Department:    doc.Department,
		FilePath:      doc.FilePath,
		FormData:      doc.FormData,
		CreatedAt:     doc.CreatedAt,
		UpdatedAt:     doc.UpdatedAt,
	}
}

func toStepResponse(st Step) stepResponse {
	return stepResponse{
		ID:            st.ID,
		Order:         st.Order,
		Name:          st.Name,
		AssigneeID:    st.Assignee.ID,
		AssigneeKind:  string(st.Assignee.Kind),
		AssigneeName:  st.Assignee.Name,
		Status:        string(st.Status),
		IsGating:      st.IsGating,
		IsFundTrigger: st.IsFundTrigger,
		ActedAt:       st.ActedAt,
		Note:          st.Note,
		SignatureRef:  st.SignatureRef,
		ExpiredAt:     st.ExpiredAt,
		ResubmittedAt: st.ResubmittedAt,
	}
}

func toLedgerResponse(entries []funds.LedgerEntry) []ledgerResponse {
	out := make([]ledgerResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, ledgerResponse{
			ID:           e.ID,
			DepartmentID: e.DepartmentID,
			Type:         string(e.Type),
			Amount:       e.Amount,
			Description:  e.Description,
			CreatedAt:    e.CreatedAt,
		})
	}
	return out
}

func toOutcomeResponse(out Outcome) map[string]any {
	resp := map[string]any{
		"document": toDocumentResponse(out.Document),
		"step":     toStepResponse(out.Step),
	}
	if out.Next != nil {
		resp["next_step"] = toStepResponse(*out.Next)
	}
	if len(out.Ledger) > 0 {
		resp["ledger"] = toLedgerResponse(out.Ledger)
	}
	return resp
}
