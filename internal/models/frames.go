package models

type FrameType string

// Server→client frame tags. The chat endpoint emits chat_history and
// message; the dashboard endpoint emits all_chats, new_message and new_chat.
const (
	FrameChatHistory FrameType = "chat_history"
	FrameMessage     FrameType = "message"
	FrameAllChats    FrameType = "all_chats"
	FrameNewMessage  FrameType = "new_message"
	FrameNewChat     FrameType = "new_chat"
)

type ChatHistoryFrame struct {
	Type     FrameType          `json:"type"`
	Messages []ChatHistoryEntry `json:"messages"`
}

type MessageFrame struct {
	Type      FrameType `json:"type"`
	Message   string    `json:"message"`
	Sender    string    `json:"sender"`
	Timestamp string    `json:"timestamp"`
	IsStaff   bool      `json:"is_staff"`
}

type AllChatsFrame struct {
	Type  FrameType     `json:"type"`
	Chats []ChatSummary `json:"chats"`
}

type NewMessageFrame struct {
	Type    FrameType `json:"type"`
	ChatID  int64     `json:"chat_id"`
	Message string    `json:"message"`
	Sender  string    `json:"sender"`
}

type NewChatFrame struct {
	Type FrameType   `json:"type"`
	Chat ChatSummary `json:"chat"`
}

// InboundFrame is the only client→server payload the chat endpoint accepts.
type InboundFrame struct {
	Message string `json:"message"`
}
