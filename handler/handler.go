package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"github.com/genicsecops/aws-serverless-llm-chat-dynamodb/internal/domain"
	"github.com/genicsecops/aws-serverless-llm-chat-dynamodb/internal/usecase"
)

// ChatService is the application surface the handler dispatches to.
// *usecase.ChatService satisfies it.
type ChatService interface {
	SendMessage(ctx context.Context, in usecase.SendMessageInput) (usecase.SendMessageOutput, error)
	CreateChat(ctx context.Context, userID, name string) (*domain.Chat, error)
	ListChats(ctx context.Context, userID string) ([]domain.Chat, error)
	GetChat(ctx context.Context, chatID, userID string) (*domain.Chat, error)
	GetMessages(ctx context.Context, chatID, userID string) ([]domain.ChatMessage, error)
	RenameChat(ctx context.Context, chatID, userID, name string) (*domain.Chat, error)
	DeleteChat(ctx context.Context, chatID, userID string) error
	UpdateMessage(ctx context.Context, in usecase.UpdateMessageInput) (*domain.ChatMessage, error)
	DeleteMessage(ctx context.Context, chatID, messageID, userID string) error
}

type Handler struct {
	svc ChatService
}

func NewHandler(svc ChatService) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("handler: chat service must not be nil")
	}
	return &Handler{svc: svc}, nil
}

// createChatRequest starts either an empty named chat or, when Content is
// set, a full first conversation turn in a fresh chat.
type createChatRequest struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

type renameChatRequest struct {
	Name string `json:"name"`
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

type updateMessageRequest struct {
	Content          string  `json:"content"`
	ReasoningContent *string `json:"reasoningContent,omitempty"`
}

type sendMessageResponse struct {
	Chat             domain.Chat        `json:"chat"`
	UserMessage      domain.ChatMessage `json:"userMessage"`
	AssistantMessage domain.ChatMessage `json:"assistantMessage"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handle routes an API Gateway proxy event. The caller identity is the `sub`
// claim set by the Cognito authorizer; requests without it are rejected.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := correlationID(req.Headers)

	userID := callerID(req)
	if userID == "" {
		return respondJSON(http.StatusUnauthorized, errorResponse{Error: "UNAUTHORIZED"}, corrID), nil
	}

	chatID := req.PathParameters["chatId"]
	messageID := req.PathParameters["messageId"]

	switch req.HTTPMethod + " " + req.Resource {
	case "POST /chats":
		return h.createChat(ctx, req, userID, corrID), nil
	case "GET /chats":
		return h.listChats(ctx, userID, corrID), nil
	case "GET /chats/{chatId}":
		return h.getChat(ctx, chatID, userID, corrID), nil
	case "PATCH /chats/{chatId}":
		return h.renameChat(ctx, req, chatID, userID, corrID), nil
	case "DELETE /chats/{chatId}":
		return h.deleteChat(ctx, chatID, userID, corrID), nil
	case "POST /chats/{chatId}/messages":
		return h.sendMessage(ctx, req, chatID, userID, corrID), nil
	case "GET /chats/{chatId}/messages":
		return h.getMessages(ctx, chatID, userID, corrID), nil
	case "PATCH /chats/{chatId}/messages/{messageId}":
		return h.updateMessage(ctx, req, chatID, messageID, userID, corrID), nil
	case "DELETE /chats/{chatId}/messages/{messageId}":
		return h.deleteMessage(ctx, chatID, messageID, userID, corrID), nil
	default:
		return respondJSON(http.StatusNotFound, errorResponse{Error: string(usecase.ErrorNotFound)}, corrID), nil
	}
}

func (h *Handler) createChat(ctx context.Context, req events.APIGatewayProxyRequest, userID, corrID string) events.APIGatewayProxyResponse {
	var in createChatRequest
	if err := json.Unmarshal([]byte(req.Body), &in); err != nil {
		return respondJSON(http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput)}, corrID)
	}

	if strings.TrimSpace(in.Content) != "" {
		out, err := h.svc.SendMessage(ctx, usecase.SendMessageInput{UserID: userID, Content: in.Content})
		if err != nil {
			return h.respondError(err, corrID)
		}
		return respondJSON(http.StatusCreated, sendMessageResponse(out), corrID)
	}

	chat, err := h.svc.CreateChat(ctx, userID, in.Name)
	if err != nil {
		return h.respondError(err, corrID)
	}
	return respondJSON(http.StatusCreated, chat, corrID)
}

func (h *Handler) listChats(ctx context.Context, userID, corrID string) events.APIGatewayProxyResponse {
	chats, err := h.svc.ListChats(ctx, userID)
	if err != nil {
		return h.respondError(err, corrID)
	}
	return respondJSON(http.StatusOK, chats, corrID)
}

func (h *Handler) getChat(ctx context.Context, chatID, userID, corrID string) events.APIGatewayProxyResponse {
	chat, err := h.svc.GetChat(ctx, chatID, userID)
	if err != nil {
		return h.respondError(err, corrID)
	}
	return respondJSON(http.StatusOK, chat, corrID)
}

func (h *Handler) renameChat(ctx context.Context, req events.APIGatewayProxyRequest, chatID, userID, corrID string) events.APIGatewayProxyResponse {
	var in renameChatRequest
	if err := json.Unmarshal([]byte(req.Body), &in); err != nil {
		return respondJSON(http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput)}, corrID)
	}
	chat, err := h.svc.RenameChat(ctx, chatID, userID, in.Name)
	if err != nil {
		return h.respondError(err, corrID)
	}
	return respondJSON(http.StatusOK, chat, corrID)
}

func (h *Handler) deleteChat(ctx context.Context, chatID, userID, corrID string) events.APIGatewayProxyResponse {
	if err := h.svc.DeleteChat(ctx, chatID, userID); err != nil {
		return h.respondError(err, corrID)
	}
	return respondNoContent(corrID)
}

func (h *Handler) sendMessage(ctx context.Context, req events.APIGatewayProxyRequest, chatID, userID, corrID string) events.APIGatewayProxyResponse {
	var in sendMessageRequest
	if err := json.Unmarshal([]byte(req.Body), &in); err != nil {
		return respondJSON(http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput)}, corrID)
	}
	out, err := h.svc.SendMessage(ctx, usecase.SendMessageInput{ChatID: chatID, UserID: userID, Content: in.Content})
	if err != nil {
		return h.respondError(err, corrID)
	}
	return respondJSON(http.StatusCreated, sendMessageResponse(out), corrID)
}

func (h *Handler) getMessages(ctx context.Context, chatID, userID, corrID string) events.APIGatewayProxyResponse {
	msgs, err := h.svc.GetMessages(ctx, chatID, userID)
	if err != nil {
		return h.respondError(err, corrID)
	}
	return respondJSON(http.StatusOK, msgs, corrID)
}

func (h *Handler) updateMessage(ctx context.Context, req events.APIGatewayProxyRequest, chatID, messageID, userID, corrID string) events.APIGatewayProxyResponse {
	var in updateMessageRequest
	if err := json.Unmarshal([]byte(req.Body), &in); err != nil {
		return respondJSON(http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput)}, corrID)
	}
	msg, err := h.svc.UpdateMessage(ctx, usecase.UpdateMessageInput{
		ChatID:           chatID,
		MessageID:        messageID,
		UserID:           userID,
		Content:          in.Content,
		ReasoningContent: in.ReasoningContent,
	})
	if err != nil {
		return h.respondError(err, corrID)
	}
	return respondJSON(http.StatusOK, msg, corrID)
}

func (h *Handler) deleteMessage(ctx context.Context, chatID, messageID, userID, corrID string) events.APIGatewayProxyResponse {
	if err := h.svc.DeleteMessage(ctx, chatID, messageID, userID); err != nil {
		return h.respondError(err, corrID)
	}
	return respondNoContent(corrID)
}

func (h *Handler) respondError(err error, corrID string) events.APIGatewayProxyResponse {
	var svcErr *usecase.Error
	if !errors.As(err, &svcErr) {
		svcErr = &usecase.Error{Code: usecase.ErrorInternal, Reason: "unexpected_error", Err: err}
	}
	status := statusForCode(svcErr.Code)
	if status >= 500 {
		slog.Error("request failed", "status", status, "code", svcErr.Code, "reason", svcErr.Reason, "correlationId", corrID, "err", svcErr.Err)
	}
	return respondJSON(status, errorResponse{Error: string(svcErr.Code)}, corrID)
}

func statusForCode(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest
	case usecase.ErrorNotFound:
		return http.StatusNotFound
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests
	case usecase.ErrorUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// callerID extracts the authenticated subject from the Cognito authorizer
// claims.
func callerID(req events.APIGatewayProxyRequest) string {
	claims, ok := req.RequestContext.Authorizer["claims"].(map[string]any)
	if !ok {
		return ""
	}
	sub, _ := claims["sub"].(string)
	return strings.TrimSpace(sub)
}

// correlationID echoes the caller's X-Correlation-Id header, generating one
// when absent so every response can be traced.
func correlationID(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, "X-Correlation-Id") && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return uuid.NewString()
}

func respondJSON(status int, body any, corrID string) events.APIGatewayProxyResponse {
	payload, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		payload = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    responseHeaders(corrID),
		Body:       string(payload),
	}
}

func respondNoContent(corrID string) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusNoContent,
		Headers:    responseHeaders(corrID),
	}
}

func responseHeaders(corrID string) map[string]string {
	return map[string]string{
		"Content-Type":     "application/json",
		"X-Correlation-Id": corrID,
	}
}
