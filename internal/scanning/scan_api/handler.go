package scan_api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"ms-gatepass/internal/auth"
	"ms-gatepass/internal/logger"
	"ms-gatepass/internal/models"
	"ms-gatepass/internal/scanning"
	"ms-gatepass/internal/utils"
)

type Handler struct {
	Service *scanning.Service
	Logger  *logger.Logger
}

func NewHandler(service *scanning.Service, log *logger.Logger) *Handler {
	return &Handler{Service: service, Logger: log}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/scan", h.Scan)
	r.Get("/ticket/search", h.Search)
	r.Post("/import", h.Import)
	r.Post("/event", h.CreateEvent)
	r.Delete("/event/{eventId}", h.DeleteEvent)
	r.Get("/event/{eventId}/inside", h.CurrentlyInside)
}

type scanResponse struct {
	Success       bool   `json:"success"`
	NewStatus     string `json:"new_status,omitempty"`
	Error         string `json:"error,omitempty"`
	CurrentStatus string `json:"current_status,omitempty"`
}

// Scan submits one transition request for a ticket. Validation
// rejections come back 409 with the reason and the ticket's current
// status; unknown tickets 404; storage trouble 503 (retryable).
func (h *Handler) Scan(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req models.ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	// the authenticated operator wins over whatever the client claims
	if op, ok := auth.OperatorFromContext(r.Context()); ok {
		req.OperatorID = op.ID
	}

	result, err := h.Service.Scan(r.Context(), req)
	if err != nil {
		h.writeScanError(w, err)
		h.Logger.LogAPI(r.Method, r.URL.Path, "rejected", time.Since(start).String())
		return
	}

	utils.WriteJSON(w, http.StatusOK, scanResponse{
		Success:   true,
		NewStatus: result.NewStatus,
	})
	h.Logger.LogAPI(r.Method, r.URL.Path, "200", time.Since(start).String())
}

func (h *Handler) writeScanError(w http.ResponseWriter, err error) {
	var vErr *scanning.ValidationError
	var nfErr *scanning.NotFoundError

	switch {
	case errors.As(err, &vErr):
		utils.WriteJSON(w, http.StatusConflict, scanResponse{
			Success:       false,
			Error:         vErr.Reason,
			CurrentStatus: vErr.CurrentStatus,
		})
	case errors.As(err, &nfErr):
		utils.WriteJSON(w, http.StatusNotFound, scanResponse{
			Success: false,
			Error:   nfErr.Error(),
		})
	case scanning.IsRetryable(err):
		utils.WriteJSON(w, http.StatusServiceUnavailable, scanResponse{
			Success: false,
			Error:   "temporary failure, retry the scan",
		})
	default:
		utils.WriteJSON(w, http.StatusInternalServerError, scanResponse{
			Success: false,
			Error:   err.Error(),
		})
	}
}

// Search looks up a ticket by number within an event and reports its
// snapshot plus the last applied action.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	number := r.URL.Query().Get("number")
	eventID := r.URL.Query().Get("eventId")
	if number == "" || eventID == "" {
		http.Error(w, "number and eventId query parameters are required", http.StatusBadRequest)
		return
	}

	result, err := h.Service.Search(r.Context(), number, eventID)
	if err != nil {
		utils.WriteJSON(w, http.StatusServiceUnavailable, utils.ErrorResponse("search failed", err.Error()))
		return
	}
	utils.WriteJSON(w, http.StatusOK, result)
}

// Import creates PENDING tickets out of a raw number batch. Idempotent;
// numbers already present are reported as duplicates.
func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	var req scanning.ImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.Service.Import(r.Context(), req)
	if err != nil {
		var vErr *scanning.ValidationError
		if errors.As(err, &vErr) {
			http.Error(w, vErr.Reason, http.StatusBadRequest)
			return
		}
		utils.WriteJSON(w, http.StatusServiceUnavailable, utils.ErrorResponse("import failed", err.Error()))
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("tickets imported", result))
}

func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var event models.Event
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	if err := h.Service.CreateEvent(r.Context(), event); err != nil {
		var vErr *scanning.ValidationError
		if errors.As(err, &vErr) {
			http.Error(w, vErr.Reason, http.StatusBadRequest)
			return
		}
		utils.WriteJSON(w, http.StatusServiceUnavailable, utils.ErrorResponse("create event failed", err.Error()))
		return
	}
	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("event created", event))
}

func (h *Handler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")
	if err := h.Service.DeleteEvent(r.Context(), eventID); err != nil {
		utils.WriteJSON(w, http.StatusServiceUnavailable, utils.ErrorResponse("delete event failed", err.Error()))
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("event deleted", nil))
}

// CurrentlyInside reports the derived admitted-but-not-exited count for
// an event.
func (h *Handler) CurrentlyInside(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")
	count, err := h.Service.CurrentlyInside(r.Context(), eventID)
	if err != nil {
		utils.WriteJSON(w, http.StatusServiceUnavailable, utils.ErrorResponse("count failed", err.Error()))
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]int{"currently_inside": count})
}
