package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cdoai/intentd/internal/cdoerr"
	"github.com/cdoai/intentd/internal/orchestrator"
	"github.com/go-chi/chi/v5"
)

type chatRequest struct {
	Input     string `json:"input"`
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	// IncludeResponse defaults to true; intent-only callers use /api/intent.
	IncludeResponse *bool `json:"include_response,omitempty"`
}

// Chat processes one conversational turn.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body", cdoerr.CodeEmptyInput)
		return
	}

	includeResponse := true
	if req.IncludeResponse != nil {
		includeResponse = *req.IncludeResponse
	}

	result := h.svc.ProcessTurn(r.Context(), orchestrator.TurnRequest{
		Input:           req.Input,
		SessionID:       req.SessionID,
		UserID:          req.UserID,
		IncludeResponse: includeResponse,
	})
	if !result.Success {
		JSON(w, statusFor(result.ErrorCode), result)
		return
	}
	JSON(w, http.StatusOK, result)
}

type intentRequest struct {
	Input     string `json:"input"`
	SessionID string `json:"session_id,omitempty"`
}

// Intent classifies input without persisting a turn.
func (h *Handler) Intent(w http.ResponseWriter, r *http.Request) {
	var req intentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body", cdoerr.CodeEmptyInput)
		return
	}

	result := h.svc.AnalyzeOnly(r.Context(), req.Input, req.SessionID)
	if !result.Success {
		JSON(w, statusFor(result.ErrorCode), result)
		return
	}
	JSON(w, http.StatusOK, result)
}

type createSessionRequest struct {
	Name   string `json:"name,omitempty"`
	UserID string `json:"user_id,omitempty"`
}

// CreateSession explicitly creates a new conversation session.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			Error(w, http.StatusBadRequest, "invalid request body", cdoerr.CodeEmptyInput)
			return
		}
	}

	session, err := h.repo.CreateSession(r.Context(), req.Name, req.UserID)
	if err != nil {
		fromError(w, err)
		return
	}
	JSON(w, http.StatusCreated, map[string]interface{}{"session": session})
}

// ListSessions lists non-deleted sessions, optionally filtered by user.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.repo.ListSessions(r.Context(), r.URL.Query().Get("user_id"))
	if err != nil {
		fromError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"sessions":       sessions,
		"total_sessions": len(sessions),
	})
}

// GetSession returns one session and its recent messages.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	session, err := h.repo.GetSession(r.Context(), sessionID)
	if err != nil {
		fromError(w, err)
		return
	}
	if session == nil {
		fromError(w, cdoerr.SessionNotFound(sessionID))
		return
	}

	limit := 50
	messages, err := h.repo.RecentMessages(r.Context(), sessionID, limit)
	if err != nil {
		fromError(w, err)
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"session":  session,
		"messages": messages,
	})
}

// DeleteSession soft-deletes a session; its messages remain until purged.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	deleted, err := h.repo.SoftDelete(r.Context(), sessionID)
	if err != nil {
		fromError(w, err)
		return
	}
	if !deleted {
		fromError(w, cdoerr.SessionNotFound(sessionID))
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"deleted": true, "session_id": sessionID})
}

// ClearSession removes all messages from a session, keeping the session.
func (h *Handler) ClearSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	cleared, err := h.repo.ClearMessages(r.Context(), sessionID)
	if err != nil {
		fromError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"cleared": cleared, "session_id": sessionID})
}

// PurgeSession hard-deletes a session and cascades its messages.
func (h *Handler) PurgeSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	purged, err := h.repo.Purge(r.Context(), sessionID)
	if err != nil {
		fromError(w, err)
		return
	}
	if !purged {
		fromError(w, cdoerr.SessionNotFound(sessionID))
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"purged": true, "session_id": sessionID})
}

// Summary returns conversation analytics.
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.repo.Summarize(r.Context())
	if err != nil {
		fromError(w, err)
		return
	}
	JSON(w, http.StatusOK, summary)
}

// Status reports service health and configuration highlights.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if err := h.repo.Ping(r.Context()); err != nil {
		status = "unhealthy"
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"status":    status,
		"version":   h.version,
		"llm_model": h.model,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
