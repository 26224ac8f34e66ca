package repository

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/genicsecops/aws-serverless-llm-chat-dynamodb/internal/domain"
)

// chatItem is the storage shape of a chat's metadata record.
type chatItem struct {
	PK         string `dynamodbav:"pk"`
	SK         string `dynamodbav:"sk"`
	GSI1PK     string `dynamodbav:"gsi1pk"`
	GSI1SK     string `dynamodbav:"gsi1sk"`
	EntityType string `dynamodbav:"entityType"`
	domain.Chat
}

// messageItem is the storage shape of a message record. Messages are not
// projected into the owner index.
type messageItem struct {
	PK         string `dynamodbav:"pk"`
	SK         string `dynamodbav:"sk"`
	EntityType string `dynamodbav:"entityType"`
	domain.ChatMessage
}

func newChatItem(chat domain.Chat) chatItem {
	return chatItem{
		PK:         chatPK(chat.ChatID),
		SK:         skChatMeta,
		GSI1PK:     userGSI1PK(chat.UserID),
		GSI1SK:     chatGSI1SK(chat.UpdatedAt),
		EntityType: entityTypeChat,
		Chat:       chat,
	}
}

func newMessageItem(msg domain.ChatMessage) messageItem {
	return messageItem{
		PK:          chatPK(msg.ChatID),
		SK:          messageSK(msg.CreatedAt, msg.MessageID),
		EntityType:  entityTypeMessage,
		ChatMessage: msg,
	}
}

func marshalChat(chat domain.Chat) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(newChatItem(chat))
	if err != nil {
		return nil, fmt.Errorf("marshal chat item: %w", err)
	}
	return item, nil
}

func unmarshalChat(item map[string]types.AttributeValue) (domain.Chat, error) {
	var ci chatItem
	if err := attributevalue.UnmarshalMap(item, &ci); err != nil {
		return domain.Chat{}, fmt.Errorf("unmarshal chat item: %w", err)
	}
	return ci.Chat, nil
}

func marshalMessage(msg domain.ChatMessage) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(newMessageItem(msg))
	if err != nil {
		return nil, fmt.Errorf("marshal message item: %w", err)
	}
	return item, nil
}

func unmarshalMessage(item map[string]types.AttributeValue) (domain.ChatMessage, error) {
	var mi messageItem
	if err := attributevalue.UnmarshalMap(item, &mi); err != nil {
		return domain.ChatMessage{}, fmt.Errorf("unmarshal message item: %w", err)
	}
	return mi.ChatMessage, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("attribute %q is not a string", key)
	}
	return s.Value, nil
}

// chatKey is the primary key of a chat's metadata item.
func chatKey(chatID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrPK: &types.AttributeValueMemberS{Value: chatPK(chatID)},
		attrSK: &types.AttributeValueMemberS{Value: skChatMeta},
	}
}

// messageKey is the primary key of a message item with the given sort key.
func messageKey(chatID, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrPK: &types.AttributeValueMemberS{Value: chatPK(chatID)},
		attrSK: &types.AttributeValueMemberS{Value: sk},
	}
}
