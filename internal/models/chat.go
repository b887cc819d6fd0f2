package models

import "time"

// Chat is one user's support conversation. A user has at most one active
// chat at a time; closed chats stay around for their history.
type Chat struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
	IsActive  bool      `json:"is_active"`
}

// ChatSummary is the dashboard view of an active chat.
type ChatSummary struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	CreatedAt    time.Time `json:"created_at"`
	MessageCount int       `json:"message_count"`
	LastMessage  *string   `json:"last_message"`
}

// ChatHistoryEntry is one message as served in a history snapshot.
type ChatHistoryEntry struct {
	Message   string    `json:"message"`
	Sender    string    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
	IsStaff   bool      `json:"is_staff"`
}

// MessageReceipt is what the storage layer hands back after persisting a
// message. The timestamp is server-assigned and is the ordering key for the
// chat; the staff flag is whatever was recorded at write time.
type MessageReceipt struct {
	Timestamp time.Time
	IsStaff   bool
}
