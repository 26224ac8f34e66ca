package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/genicsecops/aws-serverless-llm-chat-dynamodb/internal/domain"
	"github.com/genicsecops/aws-serverless-llm-chat-dynamodb/internal/repository"
)

const (
	defaultMaxContext = 20
	defaultMaxContent = 4000
)

type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
	GetJSONParameter(ctx context.Context, name string, v any) error
}

type LLMClient interface {
	Chat(ctx context.Context, model string, messages []domain.PromptMessage) (domain.Completion, error)
	Moderate(ctx context.Context, input string) (bool, error)
}

// ChatStore is the persistence surface SendMessage and the CRUD delegates
// need. *repository.Client satisfies it.
type ChatStore interface {
	CreateChat(ctx context.Context, userID, name string) (*domain.Chat, error)
	GetChatForUser(ctx context.Context, chatID, userID string) (*domain.Chat, error)
	GetAllChatsForUser(ctx context.Context, userID string) ([]domain.Chat, error)
	UpdateChatName(ctx context.Context, chatID, userID, name string) (*domain.Chat, error)
	DeleteChat(ctx context.Context, chatID, userID string) (bool, error)
	CreateMessage(ctx context.Context, p repository.CreateMessageParams) (*domain.ChatMessage, error)
	GetMessagesForChat(ctx context.Context, chatID, userID string) ([]domain.ChatMessage, error)
	UpdateMessage(ctx context.Context, p repository.UpdateMessageParams) (*domain.ChatMessage, error)
	DeleteMessage(ctx context.Context, chatID, messageID, userID string) error
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// modelConfig is the JSON document stored under {prefix}/config/model.
type modelConfig struct {
	Model string `json:"model"`
}

type ChatService struct {
	params          ParamGetter
	llm             LLMClient
	store           ChatStore
	paramPrefix     string
	maxContextItems int
	maxContentLen   int

	cacheMu      sync.RWMutex
	cacheLoaded  bool
	systemPrompt string
	model        string
}

type SendMessageInput struct {
	ChatID  string // empty starts a new chat
	UserID  string
	Content string
}

type SendMessageOutput struct {
	Chat             domain.Chat
	UserMessage      domain.ChatMessage
	AssistantMessage domain.ChatMessage
}

type UpdateMessageInput struct {
	ChatID           string
	MessageID        string
	UserID           string
	Content          string
	ReasoningContent *string
}

func NewChatService(p ParamGetter, llm LLMClient, store ChatStore, paramPrefix string, maxContextItems, maxContentLen int) (*ChatService, error) {
	if p == nil {
		return nil, errors.New("usecase: param getter must not be nil")
	}
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	if store == nil {
		return nil, errors.New("usecase: chat store must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("usecase: parameter prefix must not be empty")
	}
	if maxContextItems <= 0 {
		maxContextItems = defaultMaxContext
	}
	if maxContentLen <= 0 {
		maxContentLen = defaultMaxContent
	}
	return &ChatService{
		params:          p,
		llm:             llm,
		store:           store,
		paramPrefix:     paramPrefix,
		maxContextItems: maxContextItems,
		maxContentLen:   maxContentLen,
	}, nil
}

// SendMessage runs one conversation turn: moderate the content, resolve or
// create the target chat, persist the user message, ask the model for a reply
// and persist it as the assistant message.
func (s *ChatService) SendMessage(ctx context.Context, in SendMessageInput) (SendMessageOutput, error) {
	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		return SendMessageOutput{}, newError(ErrorInvalidInput, "missing_user", nil)
	}
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return SendMessageOutput{}, newError(ErrorInvalidInput, "empty_content", nil)
	}
	if len(content) > s.maxContentLen {
		return SendMessageOutput{}, newError(ErrorInvalidInput, "content_too_long", nil)
	}
	if err := s.ensureConfig(ctx); err != nil {
		return SendMessageOutput{}, newError(ErrorInternal, "ssm_load_error", err)
	}

	flagged, err := s.llm.Moderate(ctx, content)
	if err != nil {
		if status, ok := upstreamStatusCode(err); ok && status == 429 {
			return SendMessageOutput{}, newError(ErrorRateLimited, "moderation_rate_limited", err)
		}
		return SendMessageOutput{}, newError(ErrorUpstream, "moderation_error", err)
	}
	if flagged {
		return SendMessageOutput{}, newError(ErrorInvalidInput, "moderation_flagged", nil)
	}

	chat, history, err := s.resolveChat(ctx, strings.TrimSpace(in.ChatID), userID, content)
	if err != nil {
		return SendMessageOutput{}, err
	}

	userMsg, err := s.store.CreateMessage(ctx, repository.CreateMessageParams{
		ChatID:  chat.ChatID,
		UserID:  userID,
		Content: content,
		Role:    domain.RoleUser,
	})
	if err != nil {
		if repository.IsNotFound(err) {
			return SendMessageOutput{}, newError(ErrorNotFound, "chat_not_found", err)
		}
		return SendMessageOutput{}, newError(ErrorInternal, "dynamodb_user_message_error", err)
	}

	completion, err := s.llm.Chat(ctx, s.model, buildPromptMessages(s.systemPrompt, history, content, s.maxContextItems))
	if err != nil {
		if status, ok := upstreamStatusCode(err); ok && status == 429 {
			return SendMessageOutput{}, newError(ErrorRateLimited, "openai_rate_limited", err)
		}
		return SendMessageOutput{}, newError(ErrorUpstream, "openai_error", err)
	}

	assistantMsg, err := s.store.CreateMessage(ctx, repository.CreateMessageParams{
		ChatID:           chat.ChatID,
		UserID:           userID,
		Content:          completion.Content,
		Role:             domain.RoleAssistant,
		ReasoningContent: completion.ReasoningContent,
	})
	if err != nil {
		return SendMessageOutput{}, newError(ErrorInternal, "dynamodb_assistant_message_error", err)
	}

	return SendMessageOutput{
		Chat:             *chat,
		UserMessage:      *userMsg,
		AssistantMessage: *assistantMsg,
	}, nil
}

// resolveChat loads the target chat and its prior messages. With no chat id
// it starts a fresh chat titled after the first message; the history is then
// empty by construction.
func (s *ChatService) resolveChat(ctx context.Context, chatID, userID, content string) (*domain.Chat, []domain.ChatMessage, error) {
	if chatID == "" {
		chat, err := s.store.CreateChat(ctx, userID, deriveChatName(content))
		if err != nil {
			return nil, nil, newError(ErrorInternal, "dynamodb_chat_create_error", err)
		}
		return chat, nil, nil
	}

	chat, err := s.store.GetChatForUser(ctx, chatID, userID)
	if err != nil {
		return nil, nil, newError(ErrorInternal, "dynamodb_chat_lookup_error", err)
	}
	if chat == nil {
		return nil, nil, newError(ErrorNotFound, "chat_not_found", nil)
	}
	history, err := s.store.GetMessagesForChat(ctx, chatID, userID)
	if err != nil {
		return nil, nil, newError(ErrorInternal, "dynamodb_history_error", err)
	}
	return chat, history, nil
}

func (s *ChatService) CreateChat(ctx context.Context, userID, name string) (*domain.Chat, error) {
	chat, err := s.store.CreateChat(ctx, userID, name)
	if err != nil {
		return nil, storeError("create_chat", err)
	}
	return chat, nil
}

func (s *ChatService) ListChats(ctx context.Context, userID string) ([]domain.Chat, error) {
	chats, err := s.store.GetAllChatsForUser(ctx, userID)
	if err != nil {
		return nil, storeError("list_chats", err)
	}
	return chats, nil
}

// GetChat returns one owned chat; a chat that is absent or owned by someone
// else surfaces as NOT_FOUND.
func (s *ChatService) GetChat(ctx context.Context, chatID, userID string) (*domain.Chat, error) {
	chat, err := s.store.GetChatForUser(ctx, chatID, userID)
	if err != nil {
		return nil, storeError("get_chat", err)
	}
	if chat == nil {
		return nil, newError(ErrorNotFound, "chat_not_found", nil)
	}
	return chat, nil
}

func (s *ChatService) GetMessages(ctx context.Context, chatID, userID string) ([]domain.ChatMessage, error) {
	msgs, err := s.store.GetMessagesForChat(ctx, chatID, userID)
	if err != nil {
		return nil, storeError("get_messages", err)
	}
	return msgs, nil
}

func (s *ChatService) RenameChat(ctx context.Context, chatID, userID, name string) (*domain.Chat, error) {
	chat, err := s.store.UpdateChatName(ctx, chatID, userID, name)
	if err != nil {
		return nil, storeError("rename_chat", err)
	}
	return chat, nil
}

func (s *ChatService) DeleteChat(ctx context.Context, chatID, userID string) error {
	deleted, err := s.store.DeleteChat(ctx, chatID, userID)
	if err != nil {
		return storeError("delete_chat", err)
	}
	if !deleted {
		return newError(ErrorNotFound, "chat_not_found", nil)
	}
	return nil
}

func (s *ChatService) UpdateMessage(ctx context.Context, in UpdateMessageInput) (*domain.ChatMessage, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, newError(ErrorInvalidInput, "empty_content", nil)
	}
	if len(content) > s.maxContentLen {
		return nil, newError(ErrorInvalidInput, "content_too_long", nil)
	}
	msg, err := s.store.UpdateMessage(ctx, repository.UpdateMessageParams{
		ChatID:           in.ChatID,
		MessageID:        in.MessageID,
		UserID:           in.UserID,
		Content:          content,
		ReasoningContent: in.ReasoningContent,
	})
	if err != nil {
		return nil, storeError("update_message", err)
	}
	return msg, nil
}

func (s *ChatService) DeleteMessage(ctx context.Context, chatID, messageID, userID string) error {
	if err := s.store.DeleteMessage(ctx, chatID, messageID, userID); err != nil {
		return storeError("delete_message", err)
	}
	return nil
}

func (s *ChatService) ensureConfig(ctx context.Context) error {
	s.cacheMu.RLock()
	if s.cacheLoaded {
		s.cacheMu.RUnlock()
		return nil
	}
	s.cacheMu.RUnlock()

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cacheLoaded {
		return nil
	}

	systemPrompt, model, err := s.loadSSMParams(ctx)
	if err != nil {
		return err
	}

	s.systemPrompt = systemPrompt
	s.model = model
	s.cacheLoaded = true
	return nil
}

func (s *ChatService) loadSSMParams(ctx context.Context) (systemPrompt, model string, err error) {
	prefix := strings.TrimRight(s.paramPrefix, "/")

	systemPrompt, err = s.params.GetParameter(ctx, prefix+"/system_prompt")
	if err != nil {
		return "", "", fmt.Errorf("usecase: load system prompt: %w", err)
	}
	var cfg modelConfig
	if err = s.params.GetJSONParameter(ctx, prefix+"/config/model", &cfg); err != nil {
		return "", "", fmt.Errorf("usecase: load model config: %w", err)
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return "", "", errors.New("usecase: model config has no model name")
	}
	return systemPrompt, cfg.Model, nil
}

// storeError translates repository error classes into usecase codes.
func storeError(op string, err error) *Error {
	switch {
	case repository.IsInvalidArgument(err) || repository.IsValidation(err):
		return newError(ErrorInvalidInput, op+"_invalid", err)
	case repository.IsNotFound(err):
		return newError(ErrorNotFound, op+"_not_found", err)
	default:
		return newError(ErrorInternal, "dynamodb_"+op+"_error", err)
	}
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}
