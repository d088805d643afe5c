// Package orchestrator sequences one conversational turn: load context,
// classify, generate, persist, respond.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cdoai/intentd/internal/cdoerr"
	"github.com/cdoai/intentd/internal/domain"
	"github.com/cdoai/intentd/internal/intent"
	"github.com/cdoai/intentd/internal/llm"
	"github.com/cdoai/intentd/internal/store"
	"github.com/google/uuid"
)

const (
	// maxInputLength bounds a single user turn.
	maxInputLength = 10000
	// classifyContextLimit is how many stored messages feed classification.
	classifyContextLimit = 20
	// generateContextLimit is how many stored messages feed generation.
	generateContextLimit = 10
)

// TurnRequest is one user turn to process.
type TurnRequest struct {
	Input           string
	SessionID       string
	UserID          string
	IncludeResponse bool
}

// TurnResult is the outcome of a processed turn. Success=false only for
// validation and fatal storage/transport errors; a degraded generation
// still completes with DegradedResponse=true.
type TurnResult struct {
	Success            bool                 `json:"success"`
	RequestID          string               `json:"request_id"`
	SessionID          string               `json:"session_id,omitempty"`
	Intent             *domain.IntentResult `json:"intent_analysis,omitempty"`
	Response           string               `json:"response,omitempty"`
	UserMessageID      string               `json:"user_message_id,omitempty"`
	AssistantMessageID string               `json:"assistant_message_id,omitempty"`
	DegradedResponse   bool                 `json:"response_degraded,omitempty"`
	Error              string               `json:"error,omitempty"`
	ErrorCode          string               `json:"error_code,omitempty"`
	ProcessingTime     time.Duration        `json:"-"`
}

// Service wires the classifier, gateway, and store into the per-turn
// pipeline.
type Service struct {
	classifier *intent.Classifier
	gateway    llm.Gateway
	repo       store.Repository

	responseTemperature float64
	responseMaxTokens   int
	now                 func() time.Time
}

// Config holds orchestration settings for response generation.
type Config struct {
	ResponseTemperature float64
	ResponseMaxTokens   int
}

// NewService creates the orchestration service.
func NewService(classifier *intent.Classifier, gateway llm.Gateway, repo store.Repository, cfg Config) *Service {
	return &Service{
		classifier:          classifier,
		gateway:             gateway,
		repo:                repo,
		responseTemperature: cfg.ResponseTemperature,
		responseMaxTokens:   cfg.ResponseMaxTokens,
		now:                 time.Now,
	}
}

// ProcessTurn runs one turn end to end. Classification never aborts the
// turn; generation faults degrade to a canned per-category reply. Only
// validation failures and storage/auth/connection faults are turn-fatal.
func (s *Service) ProcessTurn(ctx context.Context, req TurnRequest) *TurnResult {
	start := s.now()
	result := &TurnResult{RequestID: uuid.NewString()}

	input := strings.TrimSpace(req.Input)
	if input == "" {
		return s.fail(result, start, cdoerr.New(cdoerr.CodeEmptyInput, "empty input provided"))
	}
	if len(input) > maxInputLength {
		return s.fail(result, start, cdoerr.New(cdoerr.CodeInputTooLong,
			fmt.Sprintf("input exceeds maximum length of %d characters", maxInputLength)))
	}

	session, err := s.resolveSession(ctx, req)
	if err != nil {
		return s.fail(result, start, err)
	}
	result.SessionID = session.ID

	contextMessages, err := s.repo.RecentMessages(ctx, session.ID, classifyContextLimit)
	if err != nil {
		return s.fail(result, start, err)
	}

	intentResult := s.classifier.Classify(ctx, input, contextMessages)
	result.Intent = intentResult

	userMsg := domain.NewUserMessage(input, map[string]string{
		"request_id":        result.RequestID,
		"intent_category":   string(intentResult.Category),
		"intent_confidence": fmt.Sprintf("%.2f", intentResult.Confidence),
	})
	if _, err := s.repo.AppendMessage(ctx, session.ID, userMsg); err != nil {
		return s.fail(result, start, err)
	}
	result.UserMessageID = userMsg.ID

	if req.IncludeResponse {
		response, degraded := s.generate(ctx, input, intentResult, contextMessages)
		result.Response = response
		result.DegradedResponse = degraded

		assistantMsg := domain.NewAssistantMessage(response, map[string]string{
			"request_id":      result.RequestID,
			"intent_category": string(intentResult.Category),
		})
		if _, err := s.repo.AppendMessage(ctx, session.ID, assistantMsg); err != nil {
			return s.fail(result, start, err)
		}
		result.AssistantMessageID = assistantMsg.ID
	}

	result.Success = true
	result.ProcessingTime = s.now().Sub(start)

	slog.Info("Processed turn",
		"request_id", result.RequestID,
		"session_id", session.ID,
		"category", intentResult.Category,
		"confidence", intentResult.Confidence,
		"degraded", result.DegradedResponse,
		"duration", result.ProcessingTime)
	return result
}

// AnalyzeOnly classifies input without persisting anything. Context is
// loaded best-effort when a session id is supplied.
func (s *Service) AnalyzeOnly(ctx context.Context, input, sessionID string) *TurnResult {
	start := s.now()
	result := &TurnResult{RequestID: uuid.NewString(), SessionID: sessionID}

	input = strings.TrimSpace(input)
	if input == "" {
		return s.fail(result, start, cdoerr.New(cdoerr.CodeEmptyInput, "empty input provided"))
	}

	var contextMessages []domain.Message
	if sessionID != "" {
		messages, err := s.repo.RecentMessages(ctx, sessionID, generateContextLimit)
		if err != nil {
			slog.Warn("Failed to load context for intent-only analysis",
				"session_id", sessionID, "error", err)
		} else {
			contextMessages = messages
		}
	}

	result.Intent = s.classifier.Classify(ctx, input, contextMessages)
	result.Success = true
	result.ProcessingTime = s.now().Sub(start)
	return result
}

func (s *Service) resolveSession(ctx context.Context, req TurnRequest) (*domain.Session, error) {
	if req.SessionID == "" {
		name := "Session " + s.now().Format("2006-01-02 15:04")
		return s.repo.CreateSession(ctx, name, req.UserID)
	}
	return s.repo.GetOrCreateSession(ctx, req.SessionID, req.UserID)
}

// generate produces the assistant reply. Any gateway fault or no-content
// outcome degrades to the per-category fallback table; generation never
// aborts the turn.
func (s *Service) generate(ctx context.Context, input string, intentResult *domain.IntentResult, contextMessages []domain.Message) (string, bool) {
	messages := []llm.ChatMessage{
		{Role: "system", Content: buildResponsePrompt(intentResult)},
	}
	if len(contextMessages) > generateContextLimit {
		contextMessages = contextMessages[len(contextMessages)-generateContextLimit:]
	}
	for _, msg := range contextMessages {
		role := "assistant"
		if msg.Type == domain.MessageUser {
			role = "user"
		}
		messages = append(messages, llm.ChatMessage{Role: role, Content: msg.Content})
	}
	messages = append(messages, llm.ChatMessage{Role: "user", Content: input})

	resp, err := s.gateway.Complete(ctx, messages, s.responseTemperature, s.responseMaxTokens)
	if err != nil {
		slog.Warn("Response generation failed, using fallback reply",
			"category", intentResult.Category, "error", err)
		return fallbackResponse(intentResult.Category), true
	}
	if !resp.Success {
		slog.Warn("Response generation returned no content, using fallback reply",
			"category", intentResult.Category)
		return fallbackResponse(intentResult.Category), true
	}
	return resp.Content, false
}

func (s *Service) fail(result *TurnResult, start time.Time, err error) *TurnResult {
	result.Success = false
	result.Error = err.Error()
	result.ErrorCode = cdoerr.CodeOf(err)
	result.ProcessingTime = s.now().Sub(start)
	slog.Error("Turn failed", "request_id", result.RequestID,
		"error_code", result.ErrorCode, "error", err)
	return result
}
