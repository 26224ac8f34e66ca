package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// TimeLayout is the fixed-width UTC timestamp format stored on all entities.
// Constant width keeps lexicographic order on sort keys equal to
// chronological order.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// MaxChatNameLength bounds user-facing chat names.
const MaxChatNameLength = 100

// Chat is one conversation owned by a single user.
type Chat struct {
	ChatID    string `json:"chatId" dynamodbav:"chatId"`
	UserID    string `json:"userId" dynamodbav:"userId"`
	Name      string `json:"name" dynamodbav:"name"`
	CreatedAt string `json:"createdAt" dynamodbav:"createdAt"`
	UpdatedAt string `json:"updatedAt" dynamodbav:"updatedAt"`
}

// NewChat assembles a chat owned by userID. The caller supplies the generated
// id and the creation time, so the constructor stays deterministic.
func NewChat(chatID, userID, name string, now time.Time) Chat {
	ts := FormatTime(now)
	return Chat{
		ChatID:    chatID,
		UserID:    userID,
		Name:      name,
		CreatedAt: ts,
		UpdatedAt: ts,
	}
}

// ValidateChatName enforces the 1..100 character bound on chat names.
func ValidateChatName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("chat name must not be empty")
	}
	if utf8.RuneCountInString(name) > MaxChatNameLength {
		return fmt.Errorf("chat name must be at most %d characters", MaxChatNameLength)
	}
	return nil
}
