package domain

import "time"

// IntentCategory is one of a fixed set of classification labels driving
// response strategy. Unknown values are coerced to CategoryGeneralChat at
// the parsing boundary, never passed through.
type IntentCategory string

const (
	CategoryGeneralChat        IntentCategory = "general_chat"
	CategoryQuestionAnswering  IntentCategory = "question_answering"
	CategoryTaskRequest        IntentCategory = "task_request"
	CategoryInformationSeeking IntentCategory = "information_seeking"
	CategoryClarification      IntentCategory = "clarification"
	CategoryGreeting           IntentCategory = "greeting"
	CategoryGoodbye            IntentCategory = "goodbye"
)

// AllCategories lists every supported category in prompt order.
func AllCategories() []IntentCategory {
	return []IntentCategory{
		CategoryGeneralChat,
		CategoryQuestionAnswering,
		CategoryTaskRequest,
		CategoryInformationSeeking,
		CategoryClarification,
		CategoryGreeting,
		CategoryGoodbye,
	}
}

// CategoryDescriptions maps each category to its prompt description.
func CategoryDescriptions() map[IntentCategory]string {
	return map[IntentCategory]string{
		CategoryGeneralChat:        "Casual conversation and small talk",
		CategoryQuestionAnswering:  "Direct factual questions seeking specific answers",
		CategoryTaskRequest:        "Requests to perform specific actions or tasks",
		CategoryInformationSeeking: "Looking for information on particular topics",
		CategoryClarification:      "Asking for clarification or explanation of previous content",
		CategoryGreeting:           "Greetings, introductions, and conversation starters",
		CategoryGoodbye:            "Farewells, conversation endings, and sign-offs",
	}
}

// Valid reports whether the category is one of the fixed seven values.
func (c IntentCategory) Valid() bool {
	switch c {
	case CategoryGeneralChat, CategoryQuestionAnswering, CategoryTaskRequest,
		CategoryInformationSeeking, CategoryClarification, CategoryGreeting,
		CategoryGoodbye:
		return true
	}
	return false
}

// IntentResult is the structured outcome of classifying one user turn.
// Invariants: Category is always one of the fixed set and Confidence is
// always within [0.0, 1.0].
type IntentResult struct {
	Category         IntentCategory    `json:"category"`
	Confidence       float64           `json:"confidence"`
	Reasoning        string            `json:"reasoning"`
	Entities         map[string]string `json:"entities,omitempty"`
	FollowUpNeeded   bool              `json:"follow_up_needed"`
	ContextDependent bool              `json:"context_dependent"`
	SuggestedActions []string          `json:"suggested_actions,omitempty"`
	ModelVersion     string            `json:"model_version,omitempty"`
	ProcessingTime   time.Duration     `json:"-"`
}

// ClampConfidence forces any out-of-range confidence into [0.0, 1.0].
func ClampConfidence(confidence float64) float64 {
	if confidence < 0.0 {
		return 0.0
	}
	if confidence > 1.0 {
		return 1.0
	}
	return confidence
}

// IsHighConfidence reports whether the classification clears the 0.8 bar.
func (r *IntentResult) IsHighConfidence() bool {
	return r.Confidence >= 0.8
}
