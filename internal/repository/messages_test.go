package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"github.com/genicsecops/aws-serverless-llm-chat-dynamodb/internal/domain"
)

func ownedChatFake(t *testing.T) *fakeDynamo {
	t.Helper()
	chat := domain.NewChat("chat-1", "user-1", "My chat", testTime.Add(-time.Hour))
	return &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: makeChatItem(t, chat)}}
}

func TestCreateMessage_HappyPath(t *testing.T) {
	db := ownedChatFake(t)
	c := mustNewClient(t, db,
		WithClock(func() time.Time { return testTime }),
		WithIDGenerator(fixedIDs("msg-1")),
	)

	msg, err := c.CreateMessage(context.Background(), CreateMessageParams{
		ChatID:  "chat-1",
		UserID:  "user-1",
		Content: "hello",
		Role:    domain.RoleUser,
	})
	require.NoError(t, err)
	require.Equal(t, "msg-1", msg.MessageID)
	require.Equal(t, "user-1", msg.UserID)
	require.Equal(t, "hello", msg.Content)
	require.Equal(t, "2024-03-07T09:30:00.000Z", msg.CreatedAt)
	require.Equal(t, msg.CreatedAt, msg.UpdatedAt)

	require.Len(t, db.putIns, 1)
	put := db.putIns[0]
	require.Equal(t, "attribute_not_exists(pk) AND attribute_not_exists(sk)", *put.ConditionExpression)
	require.Equal(t, "CHAT#chat-1", put.Item[attrPK].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "MSG#2024-03-07T09:30:00.000Z#msg-1", put.Item[attrSK].(*types.AttributeValueMemberS).Value)
	require.Equal(t, entityTypeMessage, put.Item[attrEntityType].(*types.AttributeValueMemberS).Value)

	// The touch moves the chat to the front of the recency index.
	require.Len(t, db.updateIns, 1)
	touch := db.updateIns[0]
	require.Equal(t, "SET updatedAt = :updatedAt, gsi1sk = :gsi1sk", *touch.UpdateExpression)
	require.Equal(t, "attribute_exists(pk)", *touch.ConditionExpression)
	require.Equal(t, msg.CreatedAt, touch.ExpressionAttributeValues[":updatedAt"].(*types.AttributeValueMemberS).Value)
}

func TestCreateMessage_AssistantAuthorIsSynthetic(t *testing.T) {
	db := ownedChatFake(t)
	c := mustNewClient(t, db,
		WithClock(func() time.Time { return testTime }),
		WithIDGenerator(fixedIDs("msg-1")),
	)

	msg, err := c.CreateMessage(context.Background(), CreateMessageParams{
		ChatID:           "chat-1",
		UserID:           "user-1",
		Content:          "hi there",
		Role:             domain.RoleAssistant,
		ReasoningContent: "the user greeted me",
	})
	require.NoError(t, err)
	require.Equal(t, domain.AssistantUserID, msg.UserID)
	require.Equal(t, "the user greeted me", msg.ReasoningContent)

	put := db.putIns[0]
	require.Equal(t, domain.AssistantUserID, put.Item["userId"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "the user greeted me", put.Item["reasoningContent"].(*types.AttributeValueMemberS).Value)
}

func TestCreateMessage_OmitsEmptyReasoningContent(t *testing.T) {
	db := ownedChatFake(t)
	c := mustNewClient(t, db)

	_, err := c.CreateMessage(context.Background(), CreateMessageParams{
		ChatID:  "chat-1",
		UserID:  "user-1",
		Content: "hello",
		Role:    domain.RoleUser,
	})
	require.NoError(t, err)
	_, present := db.putIns[0].Item["reasoningContent"]
	require.False(t, present)
}

func TestCreateMessage_InvalidRole(t *testing.T) {
	db := ownedChatFake(t)
	c := mustNewClient(t, db)

	_, err := c.CreateMessage(context.Background(), CreateMessageParams{
		ChatID:  "chat-1",
		UserID:  "user-1",
		Content: "hello",
		Role:    "system",
	})
	require.True(t, IsValidation(err))
	require.Empty(t, db.putIns)
}

func TestCreateMessage_ChatAbsent(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	_, err := c.CreateMessage(context.Background(), CreateMessageParams{
		ChatID:  "chat-1",
		UserID:  "user-1",
		Content: "hello",
		Role:    domain.RoleUser,
	})
	require.True(t, IsNotFound(err))
	require.Empty(t, db.putIns)
}

func TestCreateMessage_AbsentChatWinsOverInvalidRole(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	_, err := c.CreateMessage(context.Background(), CreateMessageParams{
		ChatID:  "chat-1",
		UserID:  "user-1",
		Content: "hello",
		Role:    "system",
	})
	require.True(t, IsNotFound(err))
}

func TestCreateMessage_ChatNotOwned(t *testing.T) {
	chat := domain.NewChat("chat-1", "someone-else", "Their chat", testTime)
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: makeChatItem(t, chat)}}
	c := mustNewClient(t, db)

	_, err := c.CreateMessage(context.Background(), CreateMessageParams{
		ChatID:  "chat-1",
		UserID:  "user-1",
		Content: "hello",
		Role:    domain.RoleUser,
	})
	require.True(t, IsNotFound(err))
}

func TestCreateMessage_EmptyUserID(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	_, err := c.CreateMessage(context.Background(), CreateMessageParams{
		ChatID:  "chat-1",
		Content: "hello",
		Role:    domain.RoleUser,
	})
	require.True(t, IsInvalidArgument(err))
	require.Empty(t, db.getIns)
}

func TestCreateMessage_PutError(t *testing.T) {
	db := ownedChatFake(t)
	db.putErr = errors.New("throttled")
	c := mustNewClient(t, db)

	_, err := c.CreateMessage(context.Background(), CreateMessageParams{
		ChatID:  "chat-1",
		UserID:  "user-1",
		Content: "hello",
		Role:    domain.RoleUser,
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "CreateMessage")
}

func TestCreateMessage_TouchFailurePropagates(t *testing.T) {
	db := ownedChatFake(t)
	db.updateErr = errors.New("internal server error")
	c := mustNewClient(t, db)

	_, err := c.CreateMessage(context.Background(), CreateMessageParams{
		ChatID:  "chat-1",
		UserID:  "user-1",
		Content: "hello",
		Role:    domain.RoleUser,
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "touch chat")
}

func TestCreateMessage_TouchToleratesVanishedChat(t *testing.T) {
	db := ownedChatFake(t)
	db.updateErr = &types.ConditionalCheckFailedException{}
	c := mustNewClient(t, db)

	msg, err := c.CreateMessage(context.Background(), CreateMessageParams{
		ChatID:  "chat-1",
		UserID:  "user-1",
		Content: "hello",
		Role:    domain.RoleUser,
	})
	require.NoError(t, err)
	require.NotNil(t, msg)
}

func TestGetMessagesForChat_HappyPath(t *testing.T) {
	m1 := domain.NewChatMessage("chat-1", "msg-1", "user-1", domain.RoleUser, "question", "", testTime)
	m2 := domain.NewChatMessage("chat-1", "msg-2", "user-1", domain.RoleAssistant, "answer", "thinking", testTime.Add(time.Second))
	db := ownedChatFake(t)
	db.queryOuts = []*dynamodb.QueryOutput{{
		Items: []map[string]types.AttributeValue{
			makeMessageItem(t, m1),
			makeMessageItem(t, m2),
		},
	}}
	c := mustNewClient(t, db)

	msgs, err := c.GetMessagesForChat(context.Background(), "chat-1", "user-1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "msg-1", msgs[0].MessageID)
	require.Equal(t, "msg-2", msgs[1].MessageID)
	require.Equal(t, "thinking", msgs[1].ReasoningContent)

	require.Len(t, db.queryIns, 1)
	in := db.queryIns[0]
	require.Equal(t, "pk = :pk AND begins_with(sk, :prefix)", *in.KeyConditionExpression)
	require.Equal(t, "CHAT#chat-1", in.ExpressionAttributeValues[":pk"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, skPrefixMsg, in.ExpressionAttributeValues[":prefix"].(*types.AttributeValueMemberS).Value)
	// Messages read in ascending sort-key order, i.e. chronologically.
	require.Nil(t, in.ScanIndexForward)
}

func TestGetMessagesForChat_AbsentChat(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	msgs, err := c.GetMessagesForChat(context.Background(), "chat-1", "user-1")
	require.NoError(t, err)
	require.NotNil(t, msgs)
	require.Empty(t, msgs)
	require.Empty(t, db.queryIns)
}

func TestGetMessagesForChat_NotOwned(t *testing.T) {
	chat := domain.NewChat("chat-1", "someone-else", "Their chat", testTime)
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: makeChatItem(t, chat)}}
	c := mustNewClient(t, db)

	msgs, err := c.GetMessagesForChat(context.Background(), "chat-1", "user-1")
	require.NoError(t, err)
	require.Empty(t, msgs)
	require.Empty(t, db.queryIns)
}

func TestGetMessagesForChat_Paginates(t *testing.T) {
	m1 := domain.NewChatMessage("chat-1", "msg-1", "user-1", domain.RoleUser, "first", "", testTime)
	m2 := domain.NewChatMessage("chat-1", "msg-2", "user-1", domain.RoleUser, "second", "", testTime.Add(time.Second))
	db := ownedChatFake(t)
	db.queryOuts = []*dynamodb.QueryOutput{
		{
			Items:            []map[string]types.AttributeValue{makeMessageItem(t, m1)},
			LastEvaluatedKey: messageKey("chat-1", messageSK(m1.CreatedAt, m1.MessageID)),
		},
		{
			Items: []map[string]types.AttributeValue{makeMessageItem(t, m2)},
		},
	}
	c := mustNewClient(t, db)

	msgs, err := c.GetMessagesForChat(context.Background(), "chat-1", "user-1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Len(t, db.queryIns, 2)
}

func TestGetMessagesForChat_QueryError(t *testing.T) {
	db := ownedChatFake(t)
	db.queryErr = errors.New("throttled")
	c := mustNewClient(t, db)

	_, err := c.GetMessagesForChat(context.Background(), "chat-1", "user-1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "GetMessagesForChat")
}

func TestUpdateMessage_HappyPath(t *testing.T) {
	orig := domain.NewChatMessage("chat-1", "msg-1", "user-1", domain.RoleUser, "old", "", testTime.Add(-time.Minute))
	updated := orig
	updated.Content = "new"
	updated.UpdatedAt = "2024-03-07T09:30:00.000Z"

	db := ownedChatFake(t)
	db.queryOuts = []*dynamodb.QueryOutput{{Items: []map[string]types.AttributeValue{makeMessageItem(t, orig)}}}
	db.updateOut = &dynamodb.UpdateItemOutput{Attributes: makeMessageItem(t, updated)}
	c := mustNewClient(t, db, WithClock(func() time.Time { return testTime }))

	got, err := c.UpdateMessage(context.Background(), UpdateMessageParams{
		ChatID:    "chat-1",
		MessageID: "msg-1",
		UserID:    "user-1",
		Content:   "new",
	})
	require.NoError(t, err)
	require.Equal(t, "new", got.Content)
	require.Equal(t, "2024-03-07T09:30:00.000Z", got.UpdatedAt)

	require.Len(t, db.updateIns, 2)
	first := db.updateIns[0]
	require.Equal(t, "SET content = :content, updatedAt = :updatedAt", *first.UpdateExpression)
	require.Equal(t, messageSK(orig.CreatedAt, "msg-1"), first.Key[attrSK].(*types.AttributeValueMemberS).Value)
	require.Equal(t, types.ReturnValueAllNew, first.ReturnValues)
	_, hasReasoning := first.ExpressionAttributeValues[":reasoningContent"]
	require.False(t, hasReasoning)

	touch := db.updateIns[1]
	require.Contains(t, *touch.UpdateExpression, "gsi1sk")
}

func TestUpdateMessage_SetsReasoningContent(t *testing.T) {
	orig := domain.NewChatMessage("chat-1", "msg-1", "user-1", domain.RoleAssistant, "old", "old reasoning", testTime.Add(-time.Minute))
	db := ownedChatFake(t)
	db.queryOuts = []*dynamodb.QueryOutput{{Items: []map[string]types.AttributeValue{makeMessageItem(t, orig)}}}
	db.updateOut = &dynamodb.UpdateItemOutput{Attributes: makeMessageItem(t, orig)}
	c := mustNewClient(t, db)

	reasoning := "new reasoning"
	_, err := c.UpdateMessage(context.Background(), UpdateMessageParams{
		ChatID:           "chat-1",
		MessageID:        "msg-1",
		UserID:           "user-1",
		Content:          "new",
		ReasoningContent: &reasoning,
	})
	require.NoError(t, err)

	first := db.updateIns[0]
	require.Contains(t, *first.UpdateExpression, "reasoningContent = :reasoningContent")
	require.Equal(t, "new reasoning", first.ExpressionAttributeValues[":reasoningContent"].(*types.AttributeValueMemberS).Value)
}

func TestUpdateMessage_FindsMessageOnLaterPage(t *testing.T) {
	other := domain.NewChatMessage("chat-1", "msg-1", "user-1", domain.RoleUser, "first", "", testTime.Add(-2*time.Minute))
	target := domain.NewChatMessage("chat-1", "msg-2", "user-1", domain.RoleUser, "second", "", testTime.Add(-time.Minute))
	db := ownedChatFake(t)
	db.queryOuts = []*dynamodb.QueryOutput{
		{
			Items:            []map[string]types.AttributeValue{makeMessageItem(t, other)},
			LastEvaluatedKey: messageKey("chat-1", messageSK(other.CreatedAt, other.MessageID)),
		},
		{
			Items: []map[string]types.AttributeValue{makeMessageItem(t, target)},
		},
	}
	db.updateOut = &dynamodb.UpdateItemOutput{Attributes: makeMessageItem(t, target)}
	c := mustNewClient(t, db)

	got, err := c.UpdateMessage(context.Background(), UpdateMessageParams{
		ChatID:    "chat-1",
		MessageID: "msg-2",
		UserID:    "user-1",
		Content:   "edited",
	})
	require.NoError(t, err)
	require.Equal(t, "msg-2", got.MessageID)
}

func TestUpdateMessage_ChatNotFound(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	_, err := c.UpdateMessage(context.Background(), UpdateMessageParams{
		ChatID:    "chat-1",
		MessageID: "msg-1",
		UserID:    "user-1",
		Content:   "new",
	})
	require.True(t, IsNotFound(err))
	require.Empty(t, db.queryIns)
}

func TestUpdateMessage_MessageNotFound(t *testing.T) {
	other := domain.NewChatMessage("chat-1", "msg-9", "user-1", domain.RoleUser, "unrelated", "", testTime)
	db := ownedChatFake(t)
	db.queryOuts = []*dynamodb.QueryOutput{{Items: []map[string]types.AttributeValue{makeMessageItem(t, other)}}}
	c := mustNewClient(t, db)

	_, err := c.UpdateMessage(context.Background(), UpdateMessageParams{
		ChatID:    "chat-1",
		MessageID: "msg-1",
		UserID:    "user-1",
		Content:   "new",
	})
	require.True(t, IsNotFound(err))
	require.Empty(t, db.updateIns)
}

func TestUpdateMessage_RaceLostToDelete(t *testing.T) {
	orig := domain.NewChatMessage("chat-1", "msg-1", "user-1", domain.RoleUser, "old", "", testTime)
	db := ownedChatFake(t)
	db.queryOuts = []*dynamodb.QueryOutput{{Items: []map[string]types.AttributeValue{makeMessageItem(t, orig)}}}
	db.updateErr = &types.ConditionalCheckFailedException{}
	c := mustNewClient(t, db)

	_, err := c.UpdateMessage(context.Background(), UpdateMessageParams{
		ChatID:    "chat-1",
		MessageID: "msg-1",
		UserID:    "user-1",
		Content:   "new",
	})
	require.True(t, IsNotFound(err))
}

func TestUpdateMessage_EmptyMessageID(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{})
	_, err := c.UpdateMessage(context.Background(), UpdateMessageParams{
		ChatID:  "chat-1",
		UserID:  "user-1",
		Content: "new",
	})
	require.True(t, IsInvalidArgument(err))
}

func TestUpdateMessage_MalformedSortKey(t *testing.T) {
	db := ownedChatFake(t)
	db.queryOuts = []*dynamodb.QueryOutput{{Items: []map[string]types.AttributeValue{{
		attrPK: &types.AttributeValueMemberS{Value: "CHAT#chat-1"},
		attrSK: &types.AttributeValueMemberS{Value: "MSG#2024-03-07T09:30:00.000Z"},
	}}}}
	c := mustNewClient(t, db)

	_, err := c.UpdateMessage(context.Background(), UpdateMessageParams{
		ChatID:    "chat-1",
		MessageID: "msg-1",
		UserID:    "user-1",
		Content:   "new",
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "malformed")
}

func TestDeleteMessage_HappyPath(t *testing.T) {
	msg := domain.NewChatMessage("chat-1", "msg-1", "user-1", domain.RoleUser, "hi", "", testTime)
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{{Items: []map[string]types.AttributeValue{makeMessageItem(t, msg)}}}}
	c := mustNewClient(t, db, WithClock(func() time.Time { return testTime }))

	err := c.DeleteMessage(context.Background(), "chat-1", "msg-1", "user-1")
	require.NoError(t, err)

	// Authorship is resolved from the message range, not the chat item.
	require.Empty(t, db.getIns)

	require.Len(t, db.deleteIns, 1)
	del := db.deleteIns[0]
	require.Equal(t, messageSK(msg.CreatedAt, "msg-1"), del.Key[attrSK].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "userId = :userId", *del.ConditionExpression)
	require.Equal(t, "user-1", del.ExpressionAttributeValues[":userId"].(*types.AttributeValueMemberS).Value)

	require.Len(t, db.updateIns, 1)
}

func TestDeleteMessage_AuthorMismatch(t *testing.T) {
	msg := domain.NewChatMessage("chat-1", "msg-1", "someone-else", domain.RoleUser, "hi", "", testTime)
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{{Items: []map[string]types.AttributeValue{makeMessageItem(t, msg)}}}}
	c := mustNewClient(t, db)

	err := c.DeleteMessage(context.Background(), "chat-1", "msg-1", "user-1")
	require.True(t, IsNotFound(err))
	require.Empty(t, db.deleteIns)
}

func TestDeleteMessage_AssistantMessageNotDeletableByOwner(t *testing.T) {
	msg := domain.NewChatMessage("chat-1", "msg-1", "user-1", domain.RoleAssistant, "hi", "", testTime)
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{{Items: []map[string]types.AttributeValue{makeMessageItem(t, msg)}}}}
	c := mustNewClient(t, db)

	err := c.DeleteMessage(context.Background(), "chat-1", "msg-1", "user-1")
	require.True(t, IsNotFound(err))
}

func TestDeleteMessage_Missing(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	err := c.DeleteMessage(context.Background(), "chat-1", "msg-1", "user-1")
	require.True(t, IsNotFound(err))
}

func TestDeleteMessage_RaceLostToConcurrentWrite(t *testing.T) {
	msg := domain.NewChatMessage("chat-1", "msg-1", "user-1", domain.RoleUser, "hi", "", testTime)
	db := &fakeDynamo{
		queryOuts: []*dynamodb.QueryOutput{{Items: []map[string]types.AttributeValue{makeMessageItem(t, msg)}}},
		deleteErr: &types.ConditionalCheckFailedException{},
	}
	c := mustNewClient(t, db)

	err := c.DeleteMessage(context.Background(), "chat-1", "msg-1", "user-1")
	require.True(t, IsNotFound(err))
}

func TestDeleteMessage_DeleteError(t *testing.T) {
	msg := domain.NewChatMessage("chat-1", "msg-1", "user-1", domain.RoleUser, "hi", "", testTime)
	db := &fakeDynamo{
		queryOuts: []*dynamodb.QueryOutput{{Items: []map[string]types.AttributeValue{makeMessageItem(t, msg)}}},
		deleteErr: errors.New("internal server error"),
	}
	c := mustNewClient(t, db)

	err := c.DeleteMessage(context.Background(), "chat-1", "msg-1", "user-1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "DeleteMessage")
	require.False(t, IsNotFound(err))
}

func TestDeleteMessage_EmptyIDs(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{})

	require.True(t, IsInvalidArgument(c.DeleteMessage(context.Background(), "", "msg-1", "user-1")))
	require.True(t, IsInvalidArgument(c.DeleteMessage(context.Background(), "chat-1", "", "user-1")))
	require.True(t, IsInvalidArgument(c.DeleteMessage(context.Background(), "chat-1", "msg-1", "")))
}
