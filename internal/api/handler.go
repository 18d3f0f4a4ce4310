// Package api exposes the session over HTTP. Every handler only enqueues a
// command on the session loop and renders the result.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/geocoin/engine/internal/geo"
	"github.com/geocoin/engine/internal/model"
	"github.com/geocoin/engine/internal/session"
)

// Session is the subset of the session the handlers drive.
type Session interface {
	Submit(ctx context.Context, ev session.Event) (session.Result, error)
	WatchLocation(ctx context.Context, updates <-chan geo.Position) (stop func())
}

// Handler serves the game endpoints.
type Handler struct {
	session Session

	// location watch, guarded by mu
	mu       sync.Mutex
	watchCtx context.Context
	samples  chan geo.Position
	stop     func()
}

// NewHandler creates a handler. Location samples forwarded while tracking
// is on are bound to ctx.
func NewHandler(ctx context.Context, s Session) *Handler {
	return &Handler{session: s, watchCtx: ctx}
}

// Routes mounts the endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/state", h.GetState)
	r.Post("/move", h.Move)
	r.Post("/location", h.UpdateLocation)
	r.Post("/tracking", h.SetTracking)
	r.Post("/reset", h.Reset)
	r.Get("/caches/{cellID}", h.OpenCache)
	r.Post("/caches/{cellID}/collect", h.Collect)
	r.Post("/caches/{cellID}/deposit", h.Deposit)
}

// --- Request/Response types ---

// MoveRequest is the JSON body for POST /move.
type MoveRequest struct {
	Direction model.Direction `json:"direction"`
}

// LocationRequest is the JSON body for POST /location.
type LocationRequest struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// TrackingRequest is the JSON body for POST /tracking.
type TrackingRequest struct {
	Enabled bool `json:"enabled"`
}

// ResetRequest is the JSON body for POST /reset.
type ResetRequest struct {
	Confirm string `json:"confirm"`
}

// StateResponse is the JSON body returned from GET /state.
type StateResponse struct {
	session.Snapshot
	Tracking bool `json:"tracking"`
}

// --- HTTP Handlers ---

// GetState handles GET /api/v1/state
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	res, err := h.session.Submit(r.Context(), session.SnapshotRequested())
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StateResponse{Snapshot: res.Snapshot, Tracking: h.tracking()})
}

// Move handles POST /api/v1/move
func (h *Handler) Move(w http.ResponseWriter, r *http.Request) {
	var req MoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	h.submit(w, r, session.PlayerMoved(req.Direction))
}

// UpdateLocation handles POST /api/v1/location. Samples are only accepted
// while tracking is on, and are processed asynchronously.
func (h *Handler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	var req LocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	samples := h.samples
	h.mu.Unlock()
	if samples == nil {
		writeError(w, "location tracking is off", http.StatusConflict)
		return
	}

	select {
	case samples <- geo.Position{Lat: req.Lat, Lon: req.Lon}:
		w.WriteHeader(http.StatusAccepted)
	case <-r.Context().Done():
		writeError(w, "request cancelled", http.StatusServiceUnavailable)
	}
}

// SetTracking handles POST /api/v1/tracking
func (h *Handler) SetTracking(w http.ResponseWriter, r *http.Request) {
	var req TrackingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	switch {
	case req.Enabled && h.samples == nil:
		h.samples = make(chan geo.Position, 1)
		h.stop = h.session.WatchLocation(h.watchCtx, h.samples)
		slog.Info("location tracking enabled")
	case !req.Enabled && h.samples != nil:
		h.stop()
		h.samples, h.stop = nil, nil
		slog.Info("location tracking disabled")
	}
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, TrackingRequest{Enabled: req.Enabled})
}

// Reset handles POST /api/v1/reset
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	var req ResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	h.submit(w, r, session.ResetRequested(req.Confirm))
}

// OpenCache handles GET /api/v1/caches/{cellID}
func (h *Handler) OpenCache(w http.ResponseWriter, r *http.Request) {
	h.cacheCommand(w, r, session.OpenCache)
}

// Collect handles POST /api/v1/caches/{cellID}/collect
func (h *Handler) Collect(w http.ResponseWriter, r *http.Request) {
	h.cacheCommand(w, r, session.Collect)
}

// Deposit handles POST /api/v1/caches/{cellID}/deposit
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.cacheCommand(w, r, session.Deposit)
}

// Close stops the location watch, if any.
func (h *Handler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stop != nil {
		h.stop()
		h.samples, h.stop = nil, nil
	}
}

func (h *Handler) tracking() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.samples != nil
}

func (h *Handler) cacheCommand(w http.ResponseWriter, r *http.Request, event func(geo.CellID) session.Event) {
	cell, err := geo.ParseCellID(chi.URLParam(r, "cellID"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.submit(w, r, event(cell))
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request, ev session.Event) {
	res, err := h.session.Submit(r.Context(), ev)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrUnknownCache):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, session.ErrInvalidDirection),
		errors.Is(err, session.ErrResetNotConfirmed):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, geo.ErrInvalidPosition):
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, session.ErrClosed),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		writeError(w, "session unavailable", http.StatusServiceUnavailable)
	default:
		slog.Error("session command failed", "err", err)
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
