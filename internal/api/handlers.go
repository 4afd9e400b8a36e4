package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/autoaccept/internal/automation"
	"github.com/shehryarbajwa/autoaccept/internal/controller"
	"github.com/shehryarbajwa/autoaccept/internal/stats"
	"github.com/shehryarbajwa/autoaccept/pkg/models"
)

// Backend is the controller surface the API serves
type Backend interface {
	Status() controller.Status
	Pages() []models.PageStatus
	Summaries() []models.SessionSummary
	Stats(ctx context.Context) stats.Result
	AwayActions(ctx context.Context) stats.Result
	Rollup(ctx context.Context) (models.Rollup, error)
	History(ctx context.Context, limit int) ([]models.Rollup, error)
	Totals(ctx context.Context) (models.Stats, error)
	SetFocus(focused bool)
	UpdateBannedCommands(patterns []string)
	UpdateConfig(cfg models.SessionConfig) error
	SendPrompt(ctx context.Context, pageID, text string) error
	Available(ctx context.Context) bool
	Relaunch(ctx context.Context) error
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	backend Backend
	logger  *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(backend Backend, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{backend: backend, logger: logger}
}

type focusRequest struct {
	Focused bool `json:"focused"`
}

type bannedRequest struct {
	Patterns []string `json:"patterns"`
}

type promptRequest struct {
	Text string `json:"text"`
}

type historyResponse struct {
	Rollups []models.Rollup `json:"rollups"`
	Totals  models.Stats    `json:"totals"`
}

type statsResponse struct {
	Current   stats.Result            `json:"current"`
	Summaries []models.SessionSummary `json:"summaries"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps backend errors to HTTP statuses
func statusFor(err error) int {
	switch {
	case errors.Is(err, controller.ErrUnknownPage):
		return http.StatusNotFound
	case errors.Is(err, controller.ErrNotLeader):
		return http.StatusConflict
	case errors.Is(err, automation.ErrNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, controller.ErrNoRelauncher):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// GetStatus handles GET /v1/status
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.backend.Status())
}

// ListPages handles GET /v1/pages
func (h *Handler) ListPages(w http.ResponseWriter, r *http.Request) {
	pages := h.backend.Pages()
	if pages == nil {
		pages = []models.PageStatus{}
	}
	writeJSON(w, http.StatusOK, pages)
}

// GetStats handles GET /v1/stats
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statsResponse{
		Current:   h.backend.Stats(r.Context()),
		Summaries: h.backend.Summaries(),
	})
}

// CollectStats handles POST /v1/stats/collect
func (h *Handler) CollectStats(w http.ResponseWriter, r *http.Request) {
	rollup, err := h.backend.Rollup(r.Context())
	if err != nil {
		h.logger.Warn("collect failed", zap.Error(err))
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rollup)
}

// GetAwayActions handles GET /v1/away
func (h *Handler) GetAwayActions(w http.ResponseWriter, r *http.Request) {
	res := h.backend.AwayActions(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"actionsWhileAway": res.Stats.ActionsWhileAway,
		"pages":            res.Pages,
	})
}

// SetFocus handles POST /v1/focus
func (h *Handler) SetFocus(w http.ResponseWriter, r *http.Request) {
	var req focusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	h.backend.SetFocus(req.Focused)
	w.WriteHeader(http.StatusNoContent)
}

// UpdateBanned handles PUT /v1/banned
func (h *Handler) UpdateBanned(w http.ResponseWriter, r *http.Request) {
	var req bannedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	h.backend.UpdateBannedCommands(req.Patterns)
	writeJSON(w, http.StatusOK, map[string]int{"patterns": len(req.Patterns)})
}

// UpdateConfig handles PUT /v1/config
func (h *Handler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var cfg models.SessionConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := h.backend.UpdateConfig(cfg); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// SendPrompt handles POST /v1/pages/{id}/prompt
func (h *Handler) SendPrompt(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req promptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	if err := h.backend.SendPrompt(r.Context(), id, req.Text); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// GetAvailable handles GET /v1/available
func (h *Handler) GetAvailable(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"available": h.backend.Available(r.Context())})
}

// Relaunch handles POST /v1/relaunch
func (h *Handler) Relaunch(w http.ResponseWriter, r *http.Request) {
	if err := h.backend.Relaunch(r.Context()); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// GetHistory handles GET /v1/history
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	rollups, err := h.backend.History(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rollups == nil {
		rollups = []models.Rollup{}
	}
	totals, err := h.backend.Totals(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{Rollups: rollups, Totals: totals})
}
