package domain

import "time"

// Role identifies the author side of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"

	// RoleSystem only appears in prompts, never on stored messages.
	RoleSystem Role = "system"
)

// Valid reports whether r may be stored on a chat message.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// AssistantUserID is the synthetic author recorded on model-generated
// messages, regardless of which user triggered the generation.
const AssistantUserID = "assistant"

// ChatMessage is a single persisted message within a chat.
type ChatMessage struct {
	ChatID           string `json:"chatId" dynamodbav:"chatId"`
	MessageID        string `json:"messageId" dynamodbav:"messageId"`
	UserID           string `json:"userId" dynamodbav:"userId"`
	Content          string `json:"content" dynamodbav:"content"`
	ReasoningContent string `json:"reasoningContent,omitempty" dynamodbav:"reasoningContent,omitempty"`
	Role             Role   `json:"role" dynamodbav:"role"`
	CreatedAt        string `json:"createdAt" dynamodbav:"createdAt"`
	UpdatedAt        string `json:"updatedAt" dynamodbav:"updatedAt"`
}

// NewChatMessage assembles a message for chatID. Assistant messages are
// stored under the synthetic AssistantUserID author.
func NewChatMessage(chatID, messageID, userID string, role Role, content, reasoningContent string, now time.Time) ChatMessage {
	if role == RoleAssistant {
		userID = AssistantUserID
	}
	ts := FormatTime(now)
	return ChatMessage{
		ChatID:           chatID,
		MessageID:        messageID,
		UserID:           userID,
		Content:          content,
		ReasoningContent: reasoningContent,
		Role:             role,
		CreatedAt:        ts,
		UpdatedAt:        ts,
	}
}

// PromptMessage is the provider-agnostic message shape sent to the LLM.
type PromptMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Completion is one assistant reply produced by the model. ReasoningContent
// is empty for models that do not emit a reasoning trace.
type Completion struct {
	Content          string
	ReasoningContent string
}
