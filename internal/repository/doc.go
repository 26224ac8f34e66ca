// Package repository provides the DynamoDB-backed data access layer for
// chats and their messages.
//
// # Overview
//
// The package uses a single-table design. Both entity kinds share the
// table's composite primary key ("pk", "sk"):
//
//   - Chat metadata: pk=CHAT#<chatId>  sk=METADATA
//   - Message:       pk=CHAT#<chatId>  sk=MSG#<createdAt>#<messageId>
//
// A chat and its messages live in one item collection. METADATA sorts before
// every MSG# entry, so a range query over the partition returns the metadata
// item first and then the messages in chronological order: createdAt is a
// fixed-width UTC timestamp, and messageId breaks ties between equal
// timestamps.
//
// One Global Secondary Index supports the owner listing:
//
//   - GSI1: gsi1pk=USER#<userId>, gsi1sk=CHAT#<updatedAt>. Every message
//     mutation bumps the owning chat's updatedAt, so querying GSI1
//     newest-first lists a user's chats by recent activity.
//
// # Getting Started
//
// Create a [Client] with [New], supplying a DynamoDB API client and the
// table name, plus any [Option] values you need:
//
//	client, err := repository.New(dynamodb.NewFromConfig(cfg), tableName)
//
// [Client.ValidateSchema] checks a provisioned table against the layout
// above. The table itself is provisioned outside this package.
//
// # Concurrency
//
// [Client] is safe for concurrent use by multiple goroutines. Cascading
// deletes and updatedAt touches are issued as independent writes with no
// cross-item atomicity; see [Client.DeleteChat] and [Client.CreateMessage].
package repository
