package httphandler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ericfisherdev/mailcode/internal/contract"
	"github.com/ericfisherdev/mailcode/internal/domain/model"
	"github.com/ericfisherdev/mailcode/internal/domain/port/driven"
)

const maxBodyBytes = 64 << 10

// MessageHandler handles one inbound message. *application.MessageRouter
// satisfies it.
type MessageHandler interface {
	Handle(ctx context.Context, msg model.InboundMessage) (reply any, ok bool)
}

// SchedulerState reports the poll scheduler state for the health endpoint.
type SchedulerState interface {
	State() model.SchedulerState
}

// Handler is the HTTP driving adapter for the message channel and the
// overlay's record endpoints.
type Handler struct {
	router    MessageHandler
	records   driven.RecordStore
	scheduler SchedulerState
	logger    *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(
	router MessageHandler,
	records driven.RecordStore,
	scheduler SchedulerState,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		router:    router,
		records:   records,
		scheduler: scheduler,
		logger:    logger,
	}
}

// Routes holds optional handlers mounted next to the API.
type Routes struct {
	// WebSocket serves GET /api/v1/ws when set.
	WebSocket http.Handler
	// Metrics serves GET /metrics when set.
	Metrics http.Handler
}

const healthPath = "/api/v1/health"

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging and recovery middleware.
func NewServeMux(h *Handler, routes Routes, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET "+healthPath, h.Health)
	mux.HandleFunc("POST /api/v1/messages", h.PostMessage)
	mux.HandleFunc("GET /api/v1/record", h.GetRecord)
	mux.HandleFunc("POST /api/v1/record/shown", h.MarkShown)

	if routes.WebSocket != nil {
		mux.Handle("GET /api/v1/ws", routes.WebSocket)
	}
	if routes.Metrics != nil {
		mux.Handle("GET /metrics", routes.Metrics)
	}

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// PostMessage handles one inbound message and writes its reply. Actions
// without a reply answer 204.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	var req contract.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg, err := req.Inbound()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	if msg.Action == model.ActionAcquireCredential {
		// The consent flow may outlast the server write timeout and the caller.
		if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
			h.logger.Debug("cannot clear write deadline", "error", err)
		}
		ctx = context.WithoutCancel(ctx)
	}

	reply, ok := h.router.Handle(ctx, msg)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, http.StatusOK, contract.NewReply(req.ID, msg.Action, reply))
}

// GetRecord returns the latest verification record.
func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := h.records.GetLatest(r.Context())
	if err != nil {
		h.logger.Error("failed to get latest record", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if rec == nil {
		writeError(w, http.StatusNotFound, "no verification code")
		return
	}

	writeJSON(w, http.StatusOK, contract.NewRecord(*rec))
}

// MarkShown acknowledges that the overlay displayed the code.
func (h *Handler) MarkShown(w http.ResponseWriter, r *http.Request) {
	var req MarkShownRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}

	shown, err := h.records.MarkShown(r.Context(), req.Code)
	if err != nil {
		h.logger.Error("failed to mark record shown", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, MarkShownResponse{Shown: shown})
}

// Health returns a simple health check response with the polling state.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	polling := model.SchedulerStopped
	if h.scheduler != nil {
		polling = h.scheduler.State()
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Time:    time.Now().UTC().Format(time.RFC3339),
		Polling: string(polling),
	})
}
