package workflow

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docflow/docflow/internal/funds"
	"github.com/docflow/docflow/internal/shared"
)

type stubService struct {
	created  CreateInput
	signed   SignInput
	rejected RejectInput
	filter   AssignedFilter
	actor    shared.Actor
	err      error
	detail   DocumentDetail
	outcome  Outcome
	assigned []AssignedDocument
}

func (s *stubService) CreateDocument(_ context.Context, actor shared.Actor, in CreateInput) (Document, error) {
	s.actor, s.created = actor, in
	if s.err != nil {
		return Document{}, s.err
	}
	return Document{ID: 9, DocType: in.DocType, Title: in.Title, Status: StatusSubmitted}, nil
}

func (s *stubService) Sign(_ context.Context, actor shared.Actor, in SignInput) (Outcome, error) {
	s.actor, s.signed = actor, in
	return s.outcome, s.err
}

func (s *stubService) Reject(_ context.Context, actor shared.Actor, in RejectInput) (Outcome, error) {
	s.actor, s.rejected = actor, in
	return s.outcome, s.err
}

func (s *stubService) Resubmit(_ context.Context, actor shared.Actor, _ int64) (Outcome, error) {
	s.actor = actor
	return s.outcome, s.err
}

func (s *stubService) DeleteDocument(_ context.Context, actor shared.Actor, _ int64) error {
	s.actor = actor
	return s.err
}

func (s *stubService) GetAssignedDocuments(_ context.Context, actor shared.Actor, filter AssignedFilter) ([]AssignedDocument, error) {
	s.actor, s.filter = actor, filter
	return s.assigned, s.err
}

func (s *stubService) GetDocumentDetail(context.Context, int64) (DocumentDetail, error) {
	return s.detail, s.err
}

func newTestRouter(svc ServicePort) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if actor, ok := shared.ActorFromHeaders(req.Header); ok {
				req = req.WithContext(shared.ContextWithActor(req.Context(), actor))
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Route("/workflow/documents", NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc).MountRoutes)
	return r
}

func doRequest(t *testing.T, h http.Handler, method, path, body string, actor *shared.Actor) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if actor != nil {
		req.Header.Set(shared.HeaderActorID, "1")
		req.Header.Set(shared.HeaderActorRole, actor.Role)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerRequiresActor(t *testing.T) {
	rec := doRequest(t, newTestRouter(&stubService{}), http.MethodGet, "/workflow/documents/assigned", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandlerCreatePassesIdempotencyKey(t *testing.T) {
	svc := &stubService{}
	h := newTestRouter(svc)
	req := httptest.NewRequest(http.MethodPost, "/workflow/documents/", strings.NewReader(`{"doc_type":"proposal","title":"Summit","form_data":{"venue":"Gym"}}`))
	req.Header.Set(shared.HeaderActorID, "1")
	req.Header.Set(shared.HeaderActorRole, shared.RoleStudent)
	req.Header.Set("Idempotency-Key", "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "abc-123", svc.created.IdempotencyKey)
	assert.Equal(t, DocTypeProposal, svc.created.DocType)
	assert.JSONEq(t, `{"venue":"Gym"}`, string(svc.created.FormData))
	assert.Equal(t, shared.KindStudent, svc.actor.Kind())

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "submitted", body["status"])
}

func TestHandlerMalformedBody(t *testing.T) {
	actor := shared.Actor{Role: shared.RoleEmployee}
	rec := doRequest(t, newTestRouter(&stubService{}), http.MethodPost, "/workflow/documents/4/sign", `{"note":`, &actor)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerSignMapsErrors(t *testing.T) {
	actor := shared.Actor{Role: shared.RoleEmployee}
	cases := []struct {
		err    error
		status int
	}{
		{ErrUnauthorized, http.StatusForbidden},
		{ErrOutOfOrder, http.StatusConflict},
		{ErrNotFound, http.StatusNotFound},
		{ErrConflict, http.StatusConflict},
		{funds.ErrFundNotConfigured, http.StatusConflict},
	}
	for _, tc := range cases {
		svc := &stubService{err: tc.err}
		rec := doRequest(t, newTestRouter(svc), http.MethodPost, "/workflow/documents/4/sign", `{"step_id":12,"note":"ok"}`, &actor)
		assert.Equal(t, tc.status, rec.Code, tc.err.Error())
		assert.Equal(t, int64(4), svc.signed.DocumentID)
		assert.Equal(t, int64(12), svc.signed.StepID)
	}
}

func TestHandlerSignReturnsNextStepAndLedger(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc := &stubService{outcome: Outcome{
		Document: Document{ID: 4, DocType: DocTypeSAF, Status: StatusApproved},
		Step:     Step{ID: 40, Order: 7, Status: StepCompleted, ActedAt: &now},
		Ledger:   []funds.LedgerEntry{{ID: 1, DepartmentID: "SSC", Type: funds.EntryDeduct, Amount: decimal.NewFromInt(250)}},
	}}
	actor := shared.Actor{Role: shared.RoleEmployee}
	rec := doRequest(t, newTestRouter(svc), http.MethodPost, "/workflow/documents/4/sign", `{}`, &actor)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Document documentResponse `json:"document"`
		Step     stepResponse     `json:"step"`
		Next     *stepResponse    `json:"next_step"`
		Ledger   []ledgerResponse `json:"ledger"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "approved", body.Document.Status)
	assert.Equal(t, 7, body.Step.Order)
	assert.Nil(t, body.Next)
	require.Len(t, body.Ledger, 1)
	assert.True(t, decimal.NewFromInt(250).Equal(body.Ledger[0].Amount))
}

func TestHandlerRejectRequiresBody(t *testing.T) {
	svc := &stubService{err: ErrValidation}
	actor := shared.Actor{Role: shared.RoleEmployee}
	rec := doRequest(t, newTestRouter(svc), http.MethodPost, "/workflow/documents/4/reject", `{"reason":"budget"}`, &actor)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "budget", svc.rejected.Reason)
}

func TestHandlerAssignedFilter(t *testing.T) {
	svc := &stubService{assigned: []AssignedDocument{{
		Document: Document{ID: 3, Title: "Letter", FormData: CommunicationData{Subject: "hi"}},
		Step:     Step{ID: 30, Order: 2, Status: StepPending},
	}}}
	actor := shared.Actor{Role: shared.RoleEmployee}
	rec := doRequest(t, newTestRouter(svc), http.MethodGet, "/workflow/documents/assigned?status=pending&limit=5", "", &actor)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, svc.filter.OnlyPending)
	assert.Equal(t, 5, svc.filter.Limit)
	assert.NotContains(t, rec.Body.String(), "form_data")
	assert.Contains(t, rec.Body.String(), `"step_order":2`)
}

func TestHandlerDetailAndDelete(t *testing.T) {
	svc := &stubService{detail: DocumentDetail{
		Document: Document{ID: 5, DocType: DocTypeFacility},
		Steps:    []Step{{ID: 1, Order: 1}},
	}}
	actor := shared.Actor{Role: shared.RoleEmployee}
	h := newTestRouter(svc)

	rec := doRequest(t, h, http.MethodGet, "/workflow/documents/5", "", &actor)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), `"ledger"`)

	rec = doRequest(t, h, http.MethodGet, "/workflow/documents/abc", "", &actor)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, h, http.MethodDelete, "/workflow/documents/5", "", &actor)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
