package notify

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/docflow/docflow/internal/platform/httpx"
	"github.com/docflow/docflow/internal/shared"
)

// Store is the read side used by Handler.
type Store interface {
	List(ctx context.Context, filter ListFilter) ([]Notification, error)
	MarkRead(ctx context.Context, id, recipientID int64, kind shared.AssigneeKind, at time.Time) error
}

// Handler exposes the in-app notification inbox.
type Handler struct {
	store  Store
	logger *slog.Logger
}

// NewHandler constructs the handler.
func NewHandler(store Store, logger *slog.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

// MountRoutes registers inbox routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/{id}/read", h.markRead)
}

type notificationResponse struct {
	ID            int64      `json:"id"`
	EventType     string     `json:"event_type"`
	Title         string     `json:"title"`
	Message       string     `json:"message"`
	DocumentID    int64      `json:"document_id"`
	ReferenceType string     `json:"reference_type"`
	CreatedAt     time.Time  `json:"created_at"`
	ReadAt        *time.Time `json:"read_at,omitempty"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	notes, err := h.store.List(r.Context(), ListFilter{
		RecipientID:   actor.ID,
		RecipientKind: actor.Kind(),
		UnreadOnly:    r.URL.Query().Get("unread") == "true",
		Limit:         limit,
	})
	if err != nil {
		h.logger.Error("list notifications", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]notificationResponse, 0, len(notes))
	for _, n := range notes {
		out = append(out, notificationResponse{
			ID:            n.ID,
			EventType:     string(n.EventType),
			Title:         n.Title,
			Message:       n.Message,
			DocumentID:    n.DocumentID,
			ReferenceType: string(n.ReferenceType),
			CreatedAt:     n.CreatedAt,
			ReadAt:        n.ReadAt,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"notifications": out})
}

func (h *Handler) markRead(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid notification id")
		return
	}
	if err := h.store.MarkRead(r.Context(), id, actor.ID, actor.Kind(), time.Now().UTC()); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
