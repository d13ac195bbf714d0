package chatmemory

import (
	"fmt"
	"time"
)

// KeyPrefix namespaces transcript records in the cache.
const KeyPrefix = "chat:"

// ConversationKey maps a conversation identifier to its storage key. The
// identifier is used verbatim.
func ConversationKey(conversationID string) string {
	return KeyPrefix + conversationID
}

// NewConversationID returns the time-based identifier used when a caller does
// not supply one. Two calls within the same millisecond collide.
func NewConversationID(now time.Time) string {
	return fmt.Sprintf("conv_%d", now.UnixMilli())
}
