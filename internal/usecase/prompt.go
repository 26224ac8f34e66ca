package usecase

import (
	"strings"

	"github.com/genicsecops/aws-serverless-llm-chat-dynamodb/internal/domain"
)

const defaultChatName = "New chat"

// buildPromptMessages assembles the completion request: the system prompt,
// the most recent window of stored history, then the new user message.
func buildPromptMessages(systemPrompt string, history []domain.ChatMessage, content string, maxContextItems int) []domain.PromptMessage {
	messages := make([]domain.PromptMessage, 0, len(history)+2)
	if prompt := strings.TrimSpace(systemPrompt); prompt != "" {
		messages = append(messages, domain.PromptMessage{Role: domain.RoleSystem, Content: prompt})
	}

	window := history
	if maxContextItems > 0 && len(window) > maxContextItems {
		window = window[len(window)-maxContextItems:]
	}
	for _, m := range window {
		if !m.Role.Valid() || strings.TrimSpace(m.Content) == "" {
			continue
		}
		messages = append(messages, domain.PromptMessage{Role: m.Role, Content: m.Content})
	}

	return append(messages, domain.PromptMessage{Role: domain.RoleUser, Content: content})
}

// deriveChatName titles a new chat after its first message, collapsed to a
// single line and cut at the name length bound.
func deriveChatName(content string) string {
	name := strings.Join(strings.Fields(content), " ")
	if name == "" {
		return defaultChatName
	}
	if runes := []rune(name); len(runes) > domain.MaxChatNameLength {
		return string(runes[:domain.MaxChatNameLength])
	}
	return name
}
