// Package chatmemory keeps a bounded, self-expiring transcript per conversation
// in a remote key/value cache and serves chat turns against it.
package chatmemory

import (
	"time"
)

// Role identifies who authored a message.
type Role string

const (
	UserRole      Role = "user"
	AssistantRole Role = "assistant"
)

// TimestampLayout is the ISO-8601 layout used for message timestamps (UTC, milliseconds).
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Message is one entry of a conversation transcript. Messages are never modified
// once appended.
type Message struct {
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// NewMessage builds a message stamped with at, formatted in UTC.
func NewMessage(role Role, content string, at time.Time) Message {
	return Message{
		Role:      role,
		Content:   content,
		Timestamp: at.UTC().Format(TimestampLayout),
	}
}

// Transcript is the ordered message history of one conversation, oldest first.
type Transcript []Message

// UserCount returns the number of user-authored messages.
func (t Transcript) UserCount() int {
	n := 0
	for _, m := range t {
		if m.Role == UserRole {
			n++
		}
	}
	return n
}

// Clone returns a copy that shares no backing array with t. The clone of an
// empty transcript is an empty, non-nil transcript.
func (t Transcript) Clone() Transcript {
	out := make(Transcript, len(t))
	copy(out, t)
	return out
}
