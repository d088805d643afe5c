package orchestrator

import (
	"fmt"

	"github.com/cdoai/intentd/internal/domain"
)

const baseResponsePrompt = `You are a helpful AI assistant engaged in a natural conversation. You maintain context from previous messages and provide thoughtful, relevant responses.

CONVERSATION GUIDELINES:
- Be conversational and engaging
- Reference previous context when relevant
- Ask clarifying questions when needed
- Provide helpful and accurate information
- Maintain a friendly, professional tone
- Stay focused on the user's intent`

var intentGuidance = map[domain.IntentCategory]string{
	domain.CategoryGeneralChat:        "Engage in natural conversation. Be friendly and show interest in what the user is sharing.",
	domain.CategoryQuestionAnswering:  "Provide clear, accurate answers. If you're unsure, say so and suggest alternatives.",
	domain.CategoryTaskRequest:        "Acknowledge the task request. Explain what you understand and discuss next steps.",
	domain.CategoryInformationSeeking: "Provide helpful information on the requested topic. Be thorough but concise.",
	domain.CategoryClarification:      "Provide clear explanations and examples. Reference the conversation context appropriately.",
	domain.CategoryGreeting:           "Respond warmly to greetings. Set a positive tone for the conversation.",
	domain.CategoryGoodbye:            "Acknowledge farewells appropriately. Offer to help again in the future.",
}

// buildResponsePrompt tailors the generation system prompt to the
// detected intent.
func buildResponsePrompt(result *domain.IntentResult) string {
	guidance, ok := intentGuidance[result.Category]
	if !ok {
		guidance = "Respond appropriately to the user's message with consideration for their intent."
	}

	contextNote := ""
	if result.ContextDependent {
		contextNote = "\n\nIMPORTANT: This message depends on previous conversation context. Review the conversation history carefully."
	}
	if result.FollowUpNeeded {
		contextNote += "\n\nNOTE: The user's intent may need clarification. Consider asking follow-up questions."
	}

	return fmt.Sprintf("%s\n\nSPECIFIC GUIDANCE: %s%s\n\nINTENT DETECTED: %s (confidence: %.2f)\nREASONING: %s",
		baseResponsePrompt, guidance, contextNote,
		result.Category, result.Confidence, result.Reasoning)
}

var fallbackResponses = map[domain.IntentCategory]string{
	domain.CategoryGeneralChat:        "I'd be happy to chat! Could you tell me more about what's on your mind?",
	domain.CategoryQuestionAnswering:  "I'd like to help answer your question, but I'm having trouble processing it right now. Could you rephrase it?",
	domain.CategoryTaskRequest:        "I understand you're looking for assistance with a task. Let me know more details about what you need help with.",
	domain.CategoryInformationSeeking: "I'd be glad to help you find information. What specific topic are you interested in?",
	domain.CategoryClarification:      "I want to make sure I give you a clear explanation. Could you help me understand what specifically needs clarification?",
	domain.CategoryGreeting:           "Hello! It's great to meet you. How can I help you today?",
	domain.CategoryGoodbye:            "Thank you for our conversation! Feel free to reach out anytime you need assistance.",
}

// fallbackResponse returns the canned per-category reply used when
// generation degrades.
func fallbackResponse(category domain.IntentCategory) string {
	if reply, ok := fallbackResponses[category]; ok {
		return reply
	}
	return "I'm here to help! Could you tell me more about what you're looking for?"
}
