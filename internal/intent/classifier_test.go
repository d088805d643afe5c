package intent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cdoai/intentd/internal/domain"
	"github.com/cdoai/intentd/internal/llm"
)

// stubGateway returns a fixed result or error for every call.
type stubGateway struct {
	result *llm.Result
	err    error
	calls  int
}

func (s *stubGateway) Complete(ctx context.Context, messages []llm.ChatMessage, temperature float64, maxTokens int) (*llm.Result, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func newClassifier(g llm.Gateway) *Classifier {
	return NewClassifier(g, 0.1, 500)
}

func TestClassifyHealthyModelOutput(t *testing.T) {
	t.Parallel()

	gateway := &stubGateway{result: &llm.Result{
		Success: true,
		Content: `{"category": "greeting", "confidence": 0.95, "reasoning": "Clear greeting with friendly tone", "entities": {}, "follow_up_needed": false, "context_dependent": false, "suggested_actions": ["respond_warmly"]}`,
		Model:   "gpt-4o",
	}}

	result := newClassifier(gateway).Classify(context.Background(), "Hello there!", nil)

	if result.Category != domain.CategoryGreeting {
		t.Errorf("Expected category greeting, got %s", result.Category)
	}
	if result.Confidence != 0.95 {
		t.Errorf("Expected confidence 0.95, got %v", result.Confidence)
	}
	if result.ModelVersion != "gpt-4o" {
		t.Errorf("Expected model version gpt-4o, got %q", result.ModelVersion)
	}
}

func TestClassifyUnparsableOutputFallsBack(t *testing.T) {
	t.Parallel()

	gateway := &stubGateway{result: &llm.Result{
		Success: true,
		Content: "I think the user wants something but I cannot say what.",
	}}

	result := newClassifier(gateway).Classify(context.Background(), "tell me about the thing", nil)

	if result.Category != domain.CategoryGeneralChat {
		t.Errorf("Expected category general_chat, got %s", result.Category)
	}
	if result.Confidence != 0.5 {
		t.Errorf("Expected confidence 0.5, got %v", result.Confidence)
	}
	if !strings.Contains(result.Reasoning, "Fallback") {
		t.Errorf("Expected fallback marker in reasoning, got %q", result.Reasoning)
	}
}

func TestClassifyGatewayErrorFallsBack(t *testing.T) {
	t.Parallel()

	gateway := &stubGateway{err: errors.New("connection refused")}

	result := newClassifier(gateway).Classify(context.Background(), "goodbye for now", nil)

	if result.Category != domain.CategoryGoodbye {
		t.Errorf("Expected category goodbye, got %s", result.Category)
	}
	if result.Confidence != 0.7 {
		t.Errorf("Expected confidence 0.7, got %v", result.Confidence)
	}
}

func TestClassifyNoContentFallsBack(t *testing.T) {
	t.Parallel()

	gateway := &stubGateway{result: &llm.Result{Success: false}}

	result := newClassifier(gateway).Classify(context.Background(), "what time is it?", nil)

	if result.Category != domain.CategoryQuestionAnswering {
		t.Errorf("Expected category question_answering, got %s", result.Category)
	}
	if result.Confidence != 0.6 {
		t.Errorf("Expected confidence 0.6, got %v", result.Confidence)
	}
}

func TestFallbackClassificationOrder(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input      string
		category   domain.IntentCategory
		confidence float64
	}{
		{"hello world", domain.CategoryGreeting, 0.7},
		{"Good morning everyone", domain.CategoryGreeting, 0.7},
		// Greeting keywords win over a trailing question mark.
		{"hi, can you help?", domain.CategoryGreeting, 0.7},
		{"bye now", domain.CategoryGoodbye, 0.7},
		{"see you later", domain.CategoryGoodbye, 0.7},
		{"what is a monad?", domain.CategoryQuestionAnswering, 0.6},
		{"just rambling about stuff", domain.CategoryGeneralChat, 0.5},
	}

	for _, tt := range tests {
		result := fallbackClassification(tt.input)
		if result.Category != tt.category {
			t.Errorf("fallback(%q): expected %s, got %s", tt.input, tt.category, result.Category)
		}
		if result.Confidence != tt.confidence {
			t.Errorf("fallback(%q): expected confidence %v, got %v", tt.input, tt.confidence, result.Confidence)
		}
		if result.Reasoning == "" {
			t.Errorf("fallback(%q): expected non-empty reasoning", tt.input)
		}
	}
}

func TestParseCoercesUnknownCategory(t *testing.T) {
	t.Parallel()

	result, err := parseIntentResponse(
		`{"category": "weather_lookup", "confidence": 0.9, "reasoning": "seems meteorological"}`)
	if err != nil {
		t.Fatalf("parseIntentResponse failed: %v", err)
	}
	if result.Category != domain.CategoryGeneralChat {
		t.Errorf("Expected coercion to general_chat, got %s", result.Category)
	}
	if result.Confidence != 0.5 {
		t.Errorf("Expected confidence reset to 0.5, got %v", result.Confidence)
	}
	if !strings.Contains(result.Reasoning, "weather_lookup") {
		t.Errorf("Expected reasoning note about the invalid category, got %q", result.Reasoning)
	}
}

func TestParseClampsConfidence(t *testing.T) {
	t.Parallel()

	result, err := parseIntentResponse(
		`{"category": "greeting", "confidence": 1.7, "reasoning": "very sure"}`)
	if err != nil {
		t.Fatalf("parseIntentResponse failed: %v", err)
	}
	if result.Confidence != 1.0 {
		t.Errorf("Expected confidence clamped to 1.0, got %v", result.Confidence)
	}

	result, err = parseIntentResponse(
		`{"category": "greeting", "confidence": -0.3, "reasoning": "negative"}`)
	if err != nil {
		t.Fatalf("parseIntentResponse failed: %v", err)
	}
	if result.Confidence != 0.0 {
		t.Errorf("Expected confidence clamped to 0.0, got %v", result.Confidence)
	}
}

func TestParseRejectsMissingFields(t *testing.T) {
	t.Parallel()

	if _, err := parseIntentResponse(`{"category": "greeting"}`); err == nil {
		t.Error("Expected error for missing confidence and reasoning")
	}
	if _, err := parseIntentResponse(`{"confidence": 0.5, "reasoning": "x"}`); err == nil {
		t.Error("Expected error for missing category")
	}
	if _, err := parseIntentResponse(`not json at all`); err == nil {
		t.Error("Expected error for invalid JSON")
	}
}

func TestStripCodeFences(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"json fence", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"bare fence", "```\n{\"a\": 1}\n```", `{"a": 1}`},
		{"no fence", `{"a": 1}`, `{"a": 1}`},
		{"fence with preamble", "Here you go:\n```json\n{\"a\": 1}\n```", `{"a": 1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stripCodeFences(tt.input); got != tt.want {
				t.Errorf("stripCodeFences(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSummarizeContext(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", 150)
	messages := []domain.Message{
		{Type: domain.MessageUser, Content: "first"},
		{Type: domain.MessageAssistant, Content: long},
	}

	summary := summarizeContext(messages)
	if !strings.Contains(summary, "User: first") {
		t.Errorf("Expected user entry in summary, got %q", summary)
	}
	if !strings.Contains(summary, "Assistant: "+long[:100]+"...") {
		t.Errorf("Expected truncated assistant preview, got %q", summary)
	}
	if !strings.Contains(summary, " | ") {
		t.Errorf("Expected delimiter between entries, got %q", summary)
	}

	// Only the trailing six messages feed the summary.
	var many []domain.Message
	for i := 0; i < 10; i++ {
		many = append(many, domain.Message{
			Type:    domain.MessageUser,
			Content: strings.Repeat("m", i+1),
		})
	}
	summary = summarizeContext(many)
	if strings.Count(summary, " | ") != 5 {
		t.Errorf("Expected 6 entries (5 delimiters), got %q", summary)
	}

	if summarizeContext(nil) != "" {
		t.Error("Expected empty summary for no context")
	}
}
