package funds

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/docflow/docflow/internal/platform/httpx"
	"github.com/docflow/docflow/internal/shared"
)

// ServicePort is what Handler needs from Service.
type ServicePort interface {
	Summary(ctx context.Context, departmentID string, limit int) (Summary, error)
	Credit(ctx context.Context, actor shared.Actor, in CreditInput) (LedgerEntry, error)
}

// Handler exposes fund balances over HTTP.
type Handler struct {
	logger  *slog.Logger
	service ServicePort
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, service ServicePort) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers fund routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{department}", h.summary)
	r.Post("/{department}/credit", h.credit)
}

type entryResponse struct {
	ID          int64           `json:"id"`
	Type        string          `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"created_at"`
	CreatedBy   int64           `json:"created_by,omitempty"`
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	if _, ok := shared.ActorFromContext(r.Context()); !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	sum, err := h.service.Summary(r.Context(), chi.URLParam(r, "department"), limit)
	if err != nil {
		h.logger.Warn("fund summary", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	entries := make([]entryResponse, 0, len(sum.Entries))
	for _, e := range sum.Entries {
		entries = append(entries, toEntryResponse(e))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"department_id":   sum.Balance.DepartmentID,
		"initial_amount":  sum.Balance.InitialAmount,
		"used_amount":     sum.Balance.UsedAmount,
		"current_balance": sum.Balance.CurrentBalance,
		"updated_at":      sum.Balance.UpdatedAt,
		"entries":         entries,
	})
}

func (h *Handler) credit(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	var in CreditInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	in.DepartmentID = chi.URLParam(r, "department")
	entry, err := h.service.Credit(r.Context(), actor, in)
	if err != nil {
		h.logger.Warn("fund credit", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toEntryResponse(entry))
}

func toEntryResponse(e LedgerEntry) entryResponse {
	return entryResponse{
		ID:          e.ID,
		Type:        string(e.Type),
		Amount:      e.Amount,
		Description: e.Description,
		CreatedAt:   e.CreatedAt,
		CreatedBy:   e.CreatedBy,
	}
}
