package broker

import (
	"time"

	"support-chat/internal/models"
)

// Event is the closed set of payloads carried through broker groups. Each
// endpoint type-switches over the variants it understands and discards the
// rest, so adding a kind means adding a type here and a case there.
type Event interface {
	event()
}

// MessageEvent is one persisted chat message, fanned out to every member of
// the chat's group, sender included. The timestamp is the server-assigned
// one from persistence; the sender's own client learns it from this echo.
type MessageEvent struct {
	ChatID    int64
	Message   string
	Sender    string
	Timestamp time.Time
	IsStaff   bool
}

// NewMessageNotice tells the admin group that a chat received a message.
// Lighter than MessageEvent and published regardless of whether any staff
// view is open on that chat.
type NewMessageNotice struct {
	ChatID  int64
	Message string
	Sender  string
}

// NewChatEvent tells the admin group that a chat was just created.
type NewChatEvent struct {
	Chat models.ChatSummary
}

func (MessageEvent) event()     {}
func (NewMessageNotice) event() {}
func (NewChatEvent) event()     {}
