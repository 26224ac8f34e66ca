package repository

import (
	"fmt"
	"strings"
)

const (
	// Physical attribute names of the table's composite primary key and the
	// owner index keys.
	attrPK     = "pk"
	attrSK     = "sk"
	attrGSI1PK = "gsi1pk"
	attrGSI1SK = "gsi1sk"

	// attrEntityType discriminates the two item kinds sharing the table.
	attrEntityType    = "entityType"
	entityTypeChat    = "CHAT"
	entityTypeMessage = "MESSAGE"

	// Key prefixes of the single-table layout.
	pkPrefixChat  = "CHAT#"
	skPrefixMsg   = "MSG#"
	gsiPrefixUser = "USER#"

	// skChatMeta is the constant sort key of a chat's metadata item. It must
	// sort before skPrefixMsg so the metadata item leads the partition.
	skChatMeta = "METADATA"

	// gsi1Name is the owner-recency index.
	gsi1Name = "GSI1"
)

func chatPK(chatID string) string {
	return pkPrefixChat + chatID
}

func userGSI1PK(userID string) string {
	return gsiPrefixUser + userID
}

func chatGSI1SK(updatedAt string) string {
	return pkPrefixChat + updatedAt
}

// messageSK composes the message sort key. Timestamp-first ordering gives
// chronological retrieval; messageId breaks ties between equal timestamps.
func messageSK(createdAt, messageID string) string {
	return skPrefixMsg + createdAt + "#" + messageID
}

// parseMessageSK splits a message sort key into its createdAt and messageId
// parts.
func parseMessageSK(sk string) (createdAt, messageID string, err error) {
	rest, ok := strings.CutPrefix(sk, skPrefixMsg)
	if !ok {
		return "", "", fmt.Errorf("sort key %q is not a message key", sk)
	}
	createdAt, messageID, ok = strings.Cut(rest, "#")
	if !ok || createdAt == "" || messageID == "" {
		return "", "", fmt.Errorf("malformed message sort key %q", sk)
	}
	return createdAt, messageID, nil
}

// requireID rejects empty identifiers before any storage access, and
// identifiers containing '#', which would corrupt a composed key.
func requireID(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return newError(InvalidArgument, field+" must not be empty", nil)
	}
	if strings.Contains(value, "#") {
		return newError(InvalidArgument, field+" must not contain '#'", nil)
	}
	return nil
}
