package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/genicsecops/aws-serverless-llm-chat-dynamodb/internal/domain"
)

// CreateChat persists a new chat owned by userID. The chat id and both
// timestamps are generated.
func (c *Client) CreateChat(ctx context.Context, userID, name string) (*domain.Chat, error) {
	if err := requireID("user id", userID); err != nil {
		return nil, err
	}
	if err := domain.ValidateChatName(name); err != nil {
		return nil, newError(ValidationError, err.Error(), err)
	}

	chat := domain.NewChat(c.opts.newID(), userID, name, c.opts.clock())
	item, err := marshalChat(chat)
	if err != nil {
		return nil, fmt.Errorf("repository: CreateChat: %w", err)
	}

	_, err = c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(pk)"),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: CreateChat: %w", err)
	}
	return &chat, nil
}

// GetChatForUser fetches a chat's metadata item. It returns (nil, nil) when
// the chat does not exist or belongs to a different user.
func (c *Client) GetChatForUser(ctx context.Context, chatID, userID string) (*domain.Chat, error) {
	if err := requireID("chat id", chatID); err != nil {
		return nil, err
	}
	if err := requireID("user id", userID); err != nil {
		return nil, err
	}

	// Consistent read: ownership checks must observe the caller's own
	// immediately preceding writes.
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            chatKey(chatID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: GetChatForUser: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, nil
	}

	chat, err := unmarshalChat(out.Item)
	if err != nil {
		return nil, fmt.Errorf("repository: GetChatForUser: %w", err)
	}
	if chat.UserID != userID {
		return nil, nil
	}
	return &chat, nil
}

// GetAllChatsForUser lists every chat owned by userID, most recently updated
// first.
func (c *Client) GetAllChatsForUser(ctx context.Context, userID string) ([]domain.Chat, error) {
	if err := requireID("user id", userID); err != nil {
		return nil, err
	}

	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		IndexName:              aws.String(gsi1Name),
		KeyConditionExpression: aws.String("gsi1pk = :pk AND begins_with(gsi1sk, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: userGSI1PK(userID)},
			":prefix": &types.AttributeValueMemberS{Value: pkPrefixChat},
		},
		// The index sorts by updatedAt; read newest first.
		ScanIndexForward: aws.Bool(false),
	}

	chats := make([]domain.Chat, 0)
	for {
		out, err := c.api.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("repository: GetAllChatsForUser: %w", err)
		}
		for _, item := range out.Items {
			chat, err := unmarshalChat(item)
			if err != nil {
				return nil, fmt.Errorf("repository: GetAllChatsForUser: %w", err)
			}
			chats = append(chats, chat)
		}
		if out.LastEvaluatedKey == nil {
			break
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
	return chats, nil
}

// UpdateChatName renames a chat and refreshes its recency ordering. The
// ownership check runs inside the update's condition, so a missing chat and
// a foreign chat both surface as NotFound.
func (c *Client) UpdateChatName(ctx context.Context, chatID, userID, name string) (*domain.Chat, error) {
	if err := requireID("chat id", chatID); err != nil {
		return nil, err
	}
	if err := requireID("user id", userID); err != nil {
		return nil, err
	}
	if err := domain.ValidateChatName(name); err != nil {
		return nil, newError(ValidationError, err.Error(), err)
	}

	updatedAt := domain.FormatTime(c.opts.clock())
	out, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(c.tableName),
		Key:                 chatKey(chatID),
		UpdateExpression:    aws.String("SET #name = :name, updatedAt = :updatedAt, gsi1sk = :gsi1sk"),
		ConditionExpression: aws.String("attribute_exists(pk) AND userId = :userId"),
		// "name" is a DynamoDB reserved word.
		ExpressionAttributeNames: map[string]string{"#name": "name"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":name":      &types.AttributeValueMemberS{Value: name},
			":updatedAt": &types.AttributeValueMemberS{Value: updatedAt},
			":gsi1sk":    &types.AttributeValueMemberS{Value: chatGSI1SK(updatedAt)},
			":userId":    &types.AttributeValueMemberS{Value: userID},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		var condFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condFailed) {
			return nil, newError(NotFound, "chat not found", err)
		}
		return nil, fmt.Errorf("repository: UpdateChatName: %w", err)
	}

	chat, err := unmarshalChat(out.Attributes)
	if err != nil {
		return nil, fmt.Errorf("repository: UpdateChatName: %w", err)
	}
	return &chat, nil
}

// DeleteChat removes a chat and every message under it. It reports false
// when the chat does not exist or belongs to a different user. The cascade
// deletes messages first and the metadata item last; the steps are not
// atomic, so a crash mid-cascade can leave orphaned messages.
func (c *Client) DeleteChat(ctx context.Context, chatID, userID string) (bool, error) {
	chat, err := c.GetChatForUser(ctx, chatID, userID)
	if err != nil {
		return false, err
	}
	if chat == nil {
		return false, nil
	}

	if err := c.deleteAllMessages(ctx, chatID); err != nil {
		return false, fmt.Errorf("repository: DeleteChat: %w", err)
	}

	_, err = c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.tableName),
		Key:       chatKey(chatID),
	})
	if err != nil {
		return false, fmt.Errorf("repository: DeleteChat: %w", err)
	}
	return true, nil
}

// touchChat bumps a chat's updatedAt and recency sort key after a message
// mutation. It is issued as a separate write, so the chat's index position
// can lag the message change if the touch fails mid-flight.
func (c *Client) touchChat(ctx context.Context, chatID, updatedAt string) error {
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(c.tableName),
		Key:                 chatKey(chatID),
		UpdateExpression:    aws.String("SET updatedAt = :updatedAt, gsi1sk = :gsi1sk"),
		ConditionExpression: aws.String("attribute_exists(pk)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":updatedAt": &types.AttributeValueMemberS{Value: updatedAt},
			":gsi1sk":    &types.AttributeValueMemberS{Value: chatGSI1SK(updatedAt)},
		},
	})
	if err != nil {
		var condFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condFailed) {
			// The chat was deleted between the message write and the touch.
			return nil
		}
		return fmt.Errorf("touch chat: %w", err)
	}
	return nil
}
