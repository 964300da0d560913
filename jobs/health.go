package jobs

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/docflow/docflow/internal/platform/httpx"
)

type queueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
}

// QueueHealth is the backlog of one queue.
type QueueHealth struct {
	Queue   string `json:"queue"`
	Pending int    `json:"pending"`
	Active  int    `json:"active"`
	Retry   int    `json:"retry"`
	Paused  bool   `json:"paused"`
}

// Handler serves /jobs endpoints.
type Handler struct {
	inspector queueInspector
	logger    *slog.Logger
}

// NewHandler builds the jobs handler. A nil inspector reports empty queues.
func NewHandler(inspector *asynq.Inspector, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{logger: logger}
	if inspector != nil {
		h.inspector = inspector
	}
	return h
}

// MountRoutes attaches job routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/health", h.health)
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	queues := make([]QueueHealth, 0, 2)
	for _, name := range []string{QueueDefault, QueueNotifications} {
		q := QueueHealth{Queue: name}
		if h.inspector != nil {
			info, err := h.inspector.GetQueueInfo(name)
			if err != nil && !errors.Is(err, asynq.ErrQueueNotFound) {
				h.logger.Warn("jobs health", slog.String("queue", name), slog.Any("error", err))
				httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "queue inspector unavailable")
				return
			}
			if info != nil {
				q.Pending, q.Active, q.Retry, q.Paused = info.Pending, info.Active, info.Retry, info.Paused
			}
		}
		queues = append(queues, q)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"queues": queues})
}
