package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/genicsecops/aws-serverless-llm-chat-dynamodb/internal/domain"
)

const (
	// DynamoDB accepts at most 25 requests per BatchWriteItem call.
	maxBatchWriteItems = 25
	maxBatchRetries    = 5
	initialBackoff     = 50 * time.Millisecond
	maxBackoff         = 2 * time.Second
)

// CreateMessageParams carries the inputs for [Client.CreateMessage].
type CreateMessageParams struct {
	ChatID           string
	UserID           string
	Content          string
	Role             domain.Role
	ReasoningContent string
}

// UpdateMessageParams carries the inputs for [Client.UpdateMessage]. A nil
// ReasoningContent leaves the stored value unchanged.
type UpdateMessageParams struct {
	ChatID           string
	MessageID        string
	UserID           string
	Content          string
	ReasoningContent *string
}

// CreateMessage appends a message to a chat owned by the requesting user and
// bumps the chat's recency. Assistant messages are stored under the
// synthetic assistant author.
func (c *Client) CreateMessage(ctx context.Context, p CreateMessageParams) (*domain.ChatMessage, error) {
	if err := requireID("chat id", p.ChatID); err != nil {
		return nil, err
	}
	if err := requireID("user id", p.UserID); err != nil {
		return nil, err
	}
	chat, err := c.GetChatForUser(ctx, p.ChatID, p.UserID)
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return nil, newError(NotFound, "chat not found", nil)
	}

	// Checked after ownership: a missing chat wins over an invalid role.
	if !p.Role.Valid() {
		return nil, newError(ValidationError, fmt.Sprintf("role %q is not one of user, assistant", p.Role), nil)
	}

	msg := domain.NewChatMessage(p.ChatID, c.opts.newID(), p.UserID, p.Role, p.Content, p.ReasoningContent, c.opts.clock())
	item, err := marshalMessage(msg)
	if err != nil {
		return nil, fmt.Errorf("repository: CreateMessage: %w", err)
	}

	_, err = c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(pk) AND attribute_not_exists(sk)"),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: CreateMessage: %w", err)
	}

	if err := c.touchChat(ctx, p.ChatID, msg.CreatedAt); err != nil {
		return nil, fmt.Errorf("repository: CreateMessage: %w", err)
	}
	return &msg, nil
}

// GetMessagesForChat returns a chat's messages in chronological order. It
// returns an empty slice when the chat does not exist or belongs to a
// different user.
func (c *Client) GetMessagesForChat(ctx context.Context, chatID, userID string) ([]domain.ChatMessage, error) {
	chat, err := c.GetChatForUser(ctx, chatID, userID)
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return []domain.ChatMessage{}, nil
	}

	items, err := c.queryMessageItems(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("repository: GetMessagesForChat: %w", err)
	}

	msgs := make([]domain.ChatMessage, 0, len(items))
	for _, item := range items {
		msg, err := unmarshalMessage(item)
		if err != nil {
			return nil, fmt.Errorf("repository: GetMessagesForChat: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// UpdateMessage rewrites a message's content in a chat the caller owns and
// bumps the chat's recency.
func (c *Client) UpdateMessage(ctx context.Context, p UpdateMessageParams) (*domain.ChatMessage, error) {
	if err := requireID("message id", p.MessageID); err != nil {
		return nil, err
	}

	chat, err := c.GetChatForUser(ctx, p.ChatID, p.UserID)
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return nil, newError(NotFound, "chat not found", nil)
	}

	msg, err := c.findMessage(ctx, p.ChatID, p.MessageID)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, newError(NotFound, "message not found", nil)
	}

	updatedAt := domain.FormatTime(c.opts.clock())
	update := "SET content = :content, updatedAt = :updatedAt"
	values := map[string]types.AttributeValue{
		":content":   &types.AttributeValueMemberS{Value: p.Content},
		":updatedAt": &types.AttributeValueMemberS{Value: updatedAt},
	}
	if p.ReasoningContent != nil {
		update += ", reasoningContent = :reasoningContent"
		values[":reasoningContent"] = &types.AttributeValueMemberS{Value: *p.ReasoningContent}
	}

	out, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(c.tableName),
		Key:                       messageKey(p.ChatID, messageSK(msg.CreatedAt, msg.MessageID)),
		UpdateExpression:          aws.String(update),
		ConditionExpression:       aws.String("attribute_exists(pk)"),
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		var condFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condFailed) {
			return nil, newError(NotFound, "message not found", err)
		}
		return nil, fmt.Errorf("repository: UpdateMessage: %w", err)
	}

	updated, err := unmarshalMessage(out.Attributes)
	if err != nil {
		return nil, fmt.Errorf("repository: UpdateMessage: %w", err)
	}

	if err := c.touchChat(ctx, p.ChatID, updatedAt); err != nil {
		return nil, fmt.Errorf("repository: UpdateMessage: %w", err)
	}
	return &updated, nil
}

// DeleteMessage removes a message authored by userID and bumps the chat's
// recency. A missing message and an author mismatch both surface as
// NotFound; assistant messages only leave through the chat cascade.
func (c *Client) DeleteMessage(ctx context.Context, chatID, messageID, userID string) error {
	if err := requireID("chat id", chatID); err != nil {
		return err
	}
	if err := requireID("message id", messageID); err != nil {
		return err
	}
	if err := requireID("user id", userID); err != nil {
		return err
	}

	msg, err := c.findMessage(ctx, chatID, messageID)
	if err != nil {
		return err
	}
	if msg == nil || msg.UserID != userID {
		return newError(NotFound, "message not found", nil)
	}

	_, err = c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(c.tableName),
		Key:                 messageKey(chatID, messageSK(msg.CreatedAt, msg.MessageID)),
		ConditionExpression: aws.String("userId = :userId"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":userId": &types.AttributeValueMemberS{Value: userID},
		},
	})
	if err != nil {
		var condFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condFailed) {
			return newError(NotFound, "message not found", err)
		}
		return fmt.Errorf("repository: DeleteMessage: %w", err)
	}

	if err := c.touchChat(ctx, chatID, domain.FormatTime(c.opts.clock())); err != nil {
		return fmt.Errorf("repository: DeleteMessage: %w", err)
	}
	return nil
}

// queryMessageItems pages through the full MSG# range of a chat in sort-key
// order.
func (c *Client) queryMessageItems(ctx context.Context, chatID string) ([]map[string]types.AttributeValue, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("pk = :pk AND begins_with(sk, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: chatPK(chatID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixMsg},
		},
	}

	var items []map[string]types.AttributeValue
	for {
		out, err := c.api.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("query messages: %w", err)
		}
		items = append(items, out.Items...)
		if out.LastEvaluatedKey == nil {
			break
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
	return items, nil
}

// findMessage resolves a message id to its stored item by walking the chat's
// message range. The sort key embeds createdAt, which the caller does not
// know, so a targeted mutation costs a linear scan of the chat.
func (c *Client) findMessage(ctx context.Context, chatID, messageID string) (*domain.ChatMessage, error) {
	items, err := c.queryMessageItems(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("repository: findMessage: %w", err)
	}

	for _, item := range items {
		sk, err := strAttr(item, attrSK)
		if err != nil {
			return nil, fmt.Errorf("repository: findMessage: %w", err)
		}
		_, id, err := parseMessageSK(sk)
		if err != nil {
			return nil, fmt.Errorf("repository: findMessage: %w", err)
		}
		if id != messageID {
			continue
		}
		msg, err := unmarshalMessage(item)
		if err != nil {
			return nil, fmt.Errorf("repository: findMessage: %w", err)
		}
		return &msg, nil
	}
	return nil, nil
}

// deleteAllMessages drains the MSG# range of a chat with BatchWriteItem in
// chunks of 25, retrying unprocessed items with exponential backoff.
func (c *Client) deleteAllMessages(ctx context.Context, chatID string) error {
	items, err := c.queryMessageItems(ctx, chatID)
	if err != nil {
		return err
	}

	for start := 0; start < len(items); start += maxBatchWriteItems {
		end := min(start+maxBatchWriteItems, len(items))
		batch := items[start:end]

		requests := make([]types.WriteRequest, 0, len(batch))
		for _, item := range batch {
			requests = append(requests, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{
					Key: map[string]types.AttributeValue{
						attrPK: item[attrPK],
						attrSK: item[attrSK],
					},
				},
			})
		}

		in := &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{c.tableName: requests},
		}

		backoff := initialBackoff
		for attempt := 0; ; attempt++ {
			out, err := c.api.BatchWriteItem(ctx, in)
			if err != nil {
				return fmt.Errorf("batch delete messages: %w", err)
			}
			if len(out.UnprocessedItems) == 0 {
				break
			}
			if attempt == maxBatchRetries {
				return fmt.Errorf("%d unprocessed items after %d retries", len(out.UnprocessedItems[c.tableName]), maxBatchRetries)
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}

			backoff = min(backoff*2, maxBackoff)
			in.RequestItems = out.UnprocessedItems
		}
	}
	return nil
}
