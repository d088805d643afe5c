package intent

import (
	"fmt"
	"strings"

	"github.com/cdoai/intentd/internal/domain"
)

// buildClassificationPrompt enumerates the category set with
// descriptions and worked examples so the model answers with a single
// JSON object.
func buildClassificationPrompt() string {
	descriptions := domain.CategoryDescriptions()
	var categories strings.Builder
	for _, cat := range domain.AllCategories() {
		fmt.Fprintf(&categories, "- %s: %s\n", cat, descriptions[cat])
	}

	return `You are an expert intent analysis system. Analyze user input and determine their intent with high accuracy.

INTENT CATEGORIES:
` + categories.String() + `
RESPONSE FORMAT:
Respond with ONLY a valid JSON object in this exact format:
{
    "category": "intent_category",
    "confidence": 0.85,
    "reasoning": "Clear explanation of why this intent was chosen",
    "entities": {"key": "value", "extracted_info": "relevant_data"},
    "follow_up_needed": false,
    "context_dependent": false,
    "suggested_actions": ["action1", "action2"]
}

GUIDELINES:
- Be precise and consistent in classification
- Higher confidence for clear, specific requests
- Lower confidence for ambiguous or unclear input
- Extract all relevant entities mentioned
- Consider conversation flow and context
- Provide clear reasoning for your classification
- Suggest relevant follow-up actions when appropriate

EXAMPLES:

Input: "Hello there!"
Output: {"category": "greeting", "confidence": 0.95, "reasoning": "Clear greeting with friendly tone", "entities": {}, "follow_up_needed": false, "context_dependent": false, "suggested_actions": ["respond_warmly", "ask_how_to_help"]}

Input: "What's the weather like?"
Output: {"category": "information_seeking", "confidence": 0.90, "reasoning": "Direct request for weather information", "entities": {"topic": "weather"}, "follow_up_needed": true, "context_dependent": false, "suggested_actions": ["ask_location", "provide_weather_info"]}

Input: "Can you explain what we discussed earlier?"
Output: {"category": "clarification", "confidence": 0.88, "reasoning": "Request for clarification about previous conversation", "entities": {"reference": "earlier discussion"}, "follow_up_needed": false, "context_dependent": true, "suggested_actions": ["review_context", "summarize_previous"]}`
}
