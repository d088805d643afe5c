// Package intent classifies user turns into a fixed category set.
//
// Classify is a total function: model transport failures and malformed
// model output are recovered locally through a deterministic keyword
// fallback, never propagated to callers.
package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cdoai/intentd/internal/cdoerr"
	"github.com/cdoai/intentd/internal/domain"
	"github.com/cdoai/intentd/internal/llm"
)

// contextWindow limits how many trailing messages feed the context
// summary; previews are truncated to previewLength characters.
const (
	contextWindow = 6
	previewLength = 100
)

// Classifier prompts the gateway for a structured classification and
// guarantees a valid IntentResult regardless of what comes back.
type Classifier struct {
	gateway     llm.Gateway
	temperature float64
	maxTokens   int
}

// NewClassifier creates a classifier using the given gateway and the
// classification-tuned sampling settings.
func NewClassifier(gateway llm.Gateway, temperature float64, maxTokens int) *Classifier {
	return &Classifier{
		gateway:     gateway,
		temperature: temperature,
		maxTokens:   maxTokens,
	}
}

// Classify determines the intent of userInput, optionally informed by
// recent conversation context. It never returns an error.
func (c *Classifier) Classify(ctx context.Context, userInput string, contextMessages []domain.Message) *domain.IntentResult {
	start := time.Now()

	messages := []llm.ChatMessage{
		{Role: "system", Content: buildClassificationPrompt()},
	}
	if summary := summarizeContext(contextMessages); summary != "" {
		messages = append(messages, llm.ChatMessage{
			Role:    "system",
			Content: "CONVERSATION CONTEXT: " + summary,
		})
	}
	messages = append(messages, llm.ChatMessage{
		Role:    "user",
		Content: "ANALYZE THIS INPUT: " + userInput,
	})

	resp, err := c.gateway.Complete(ctx, messages, c.temperature, c.maxTokens)
	if err != nil {
		slog.Warn("Intent classification request failed, using fallback", "error", err)
		result := fallbackClassification(userInput)
		result.ProcessingTime = time.Since(start)
		return result
	}
	if !resp.Success {
		slog.Warn("Intent classification returned no content, using fallback")
		result := fallbackClassification(userInput)
		result.ProcessingTime = time.Since(start)
		return result
	}

	result, err := parseIntentResponse(resp.Content)
	if err != nil {
		slog.Warn("Intent response unparsable, using fallback", "error", err)
		result = fallbackClassification(userInput)
	}
	result.ModelVersion = resp.Model
	result.ProcessingTime = time.Since(start)
	return result
}

// summarizeContext renders the trailing context window as
// "Role: preview" entries joined by " | ".
func summarizeContext(messages []domain.Message) string {
	if len(messages) == 0 {
		return ""
	}
	if len(messages) > contextWindow {
		messages = messages[len(messages)-contextWindow:]
	}

	parts := make([]string, 0, len(messages))
	for _, msg := range messages {
		role := "Assistant"
		if msg.Type == domain.MessageUser {
			role = "User"
		}
		preview := msg.Content
		if len(preview) > previewLength {
			preview = preview[:previewLength] + "..."
		}
		parts = append(parts, role+": "+preview)
	}
	return strings.Join(parts, " | ")
}

// rawIntent mirrors the JSON object the model is instructed to emit.
type rawIntent struct {
	Category         *string           `json:"category"`
	Confidence       *float64          `json:"confidence"`
	Reasoning        *string           `json:"reasoning"`
	Entities         map[string]string `json:"entities"`
	FollowUpNeeded   bool              `json:"follow_up_needed"`
	ContextDependent bool              `json:"context_dependent"`
	SuggestedActions []string          `json:"suggested_actions"`
}

// parseIntentResponse validates and coerces the model output. Unknown
// categories become general_chat at 0.5 with an explanatory note;
// out-of-range confidence is clamped, never rejected.
func parseIntentResponse(content string) (*domain.IntentResult, error) {
	cleaned := stripCodeFences(content)

	var raw rawIntent
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, cdoerr.Parsing("invalid JSON in intent response", err)
	}

	var missing []string
	if raw.Category == nil {
		missing = append(missing, "category")
	}
	if raw.Confidence == nil {
		missing = append(missing, "confidence")
	}
	if raw.Reasoning == nil || strings.TrimSpace(*raw.Reasoning) == "" {
		missing = append(missing, "reasoning")
	}
	if len(missing) > 0 {
		return nil, cdoerr.Parsing(
			"intent response missing required fields: "+strings.Join(missing, ", "), nil)
	}

	result := &domain.IntentResult{
		Category:         domain.IntentCategory(*raw.Category),
		Confidence:       domain.ClampConfidence(*raw.Confidence),
		Reasoning:        *raw.Reasoning,
		Entities:         raw.Entities,
		FollowUpNeeded:   raw.FollowUpNeeded,
		ContextDependent: raw.ContextDependent,
		SuggestedActions: raw.SuggestedActions,
	}

	if !result.Category.Valid() {
		slog.Warn("Model returned unknown intent category, coercing",
			"category", *raw.Category)
		result.Reasoning += fmt.Sprintf(
			" (Note: Invalid category %q was corrected)", *raw.Category)
		result.Category = domain.CategoryGeneralChat
		result.Confidence = 0.5
	}

	return result, nil
}

// stripCodeFences removes a Markdown code-fence wrapper, with or without
// a json language tag, if present.
func stripCodeFences(content string) string {
	cleaned := strings.TrimSpace(content)

	if idx := strings.Index(cleaned, "```json"); idx >= 0 {
		cleaned = cleaned[idx+len("```json"):]
		if end := strings.Index(cleaned, "```"); end >= 0 {
			cleaned = cleaned[:end]
		}
	} else if idx := strings.Index(cleaned, "```"); idx >= 0 {
		cleaned = cleaned[idx+len("```"):]
		if end := strings.Index(cleaned, "```"); end >= 0 {
			cleaned = cleaned[:end]
		}
	}
	return strings.TrimSpace(cleaned)
}

var (
	greetingKeywords = []string{"hello", "hi", "hey", "good morning", "good afternoon"}
	goodbyeKeywords  = []string{"bye", "goodbye", "see you", "farewell"}
)

// fallbackClassification applies deterministic keyword rules in order:
// greeting, goodbye, trailing question mark, then general chat.
func fallbackClassification(userInput string) *domain.IntentResult {
	lower := strings.ToLower(userInput)

	switch {
	case containsAny(lower, greetingKeywords):
		return &domain.IntentResult{
			Category:   domain.CategoryGreeting,
			Confidence: 0.7,
			Reasoning:  "Fallback classification based on greeting keywords",
		}
	case containsAny(lower, goodbyeKeywords):
		return &domain.IntentResult{
			Category:   domain.CategoryGoodbye,
			Confidence: 0.7,
			Reasoning:  "Fallback classification based on goodbye keywords",
		}
	case strings.HasSuffix(strings.TrimSpace(userInput), "?"):
		return &domain.IntentResult{
			Category:   domain.CategoryQuestionAnswering,
			Confidence: 0.6,
			Reasoning:  "Fallback classification based on question format",
		}
	default:
		return &domain.IntentResult{
			Category:   domain.CategoryGeneralChat,
			Confidence: 0.5,
			Reasoning:  "Fallback classification - default to general chat",
		}
	}
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
