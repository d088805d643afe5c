// Package api provides HTTP handlers for the intent analysis service.
//
//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/cdoai/intentd/internal/cdoerr"
	"github.com/cdoai/intentd/internal/orchestrator"
	"github.com/cdoai/intentd/internal/store"
	"github.com/go-chi/chi/v5"
)

// Handler serves the conversation and intent endpoints.
type Handler struct {
	svc     *orchestrator.Service
	repo    store.Repository
	model   string
	version string
}

// NewHandler creates a Handler over the orchestration service and store.
func NewHandler(svc *orchestrator.Service, repo store.Repository, model, version string) *Handler {
	return &Handler{svc: svc, repo: repo, model: model, version: version}
}

// RegisterRoutes mounts all API routes on the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", h.Chat)
		r.Post("/intent", h.Intent)
		r.Get("/sessions", h.ListSessions)
		r.Post("/sessions", h.CreateSession)
		r.Get("/sessions/{sessionID}", h.GetSession)
		r.Delete("/sessions/{sessionID}", h.DeleteSession)
		r.Delete("/sessions/{sessionID}/messages", h.ClearSession)
		r.Delete("/sessions/{sessionID}/purge", h.PurgeSession)
		r.Get("/summary", h.Summary)
		r.Get("/status", h.Status)
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a structured JSON error response with a stable code.
func Error(w http.ResponseWriter, status int, message, code string) {
	JSON(w, status, map[string]string{"error": message, "error_code": code})
}

// fromError maps a coded error to a structured response.
func fromError(w http.ResponseWriter, err error) {
	code := cdoerr.CodeOf(err)
	Error(w, statusFor(code), err.Error(), code)
}

func statusFor(code string) int {
	switch code {
	case cdoerr.CodeEmptyInput, cdoerr.CodeInputTooLong:
		return http.StatusBadRequest
	case cdoerr.CodeSessionNotFound:
		return http.StatusNotFound
	case cdoerr.CodeRateLimit:
		return http.StatusTooManyRequests
	case cdoerr.CodeTimeout:
		return http.StatusGatewayTimeout
	case cdoerr.CodeAuth, cdoerr.CodeConnection:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
