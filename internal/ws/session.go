package ws

import (
	"context"
	"encoding/json"
	"time"

	"support-chat/internal/auth"
	"support-chat/internal/broker"
	"support-chat/internal/database"
	"support-chat/internal/models"
	"support-chat/pkg/logger"

	"github.com/gorilla/websocket"
)

// Session is one end user's live view of their support chat. It owns the
// chat group membership for the life of the connection: joined in Start,
// left exactly once when the read pump winds down, whatever the exit path.
type Session struct {
	conn     *websocket.Conn
	db       database.Database
	broker   *broker.Broker
	sub      *broker.Subscription
	identity auth.Identity
	chatID   int64
	group    string
	done     chan struct{}
}

func NewSession(conn *websocket.Conn, db database.Database, b *broker.Broker, identity auth.Identity, chatID int64) *Session {
	return &Session{
		conn:     conn,
		db:       db,
		broker:   b,
		sub:      broker.NewSubscription(),
		identity: identity,
		chatID:   chatID,
		group:    broker.ChatGroup(chatID),
		done:     make(chan struct{}),
	}
}

// Start joins the chat group, ships the history snapshot and hands the
// connection over to the pumps.
func (s *Session) Start() {
	s.broker.Join(s.group, s.sub)

	if err := s.sendHistory(); err != nil {
		logger.Error("Failed to send chat history for chat %d: %v", s.chatID, err)
		s.broker.Leave(s.group, s.sub)
		s.conn.Close()
		return
	}

	go s.writePump()
	go s.readPump()
}

// sendHistory sends every message of the chat in ascending timestamp order.
// An unknown chat id is an empty history, not a refusal.
func (s *Session) sendHistory() error {
	history, err := s.db.GetChatHistory(context.Background(), s.chatID)
	if err != nil {
		return err
	}
	if history == nil {
		history = []models.ChatHistoryEntry{}
	}

	return writeFrame(s.conn, models.ChatHistoryFrame{
		Type:     models.FrameChatHistory,
		Messages: history,
	})
}

func (s *Session) readPump() {
	defer func() {
		s.broker.Leave(s.group, s.sub)
		close(s.done)
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Error("WebSocket error on chat %d: %v", s.chatID, err)
			}
			break
		}

		var frame models.InboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			logger.Warn("Dropping malformed frame on chat %d: %v", s.chatID, err)
			continue
		}
		if frame.Message == "" {
			continue
		}

		s.handleMessage(frame.Message)
	}
}

// handleMessage persists first, then broadcasts. A failed write kills only
// this message: nothing is broadcast and the connection stays up. The two
// publishes are independent best-effort steps on top of the committed write.
func (s *Session) handleMessage(text string) {
	receipt, err := s.db.CreateMessage(context.Background(), s.chatID, s.identity.UserID, text, s.identity.IsStaff)
	if err != nil {
		logger.Error("Failed to persist message for chat %d: %v", s.chatID, err)
		return
	}

	s.broker.Publish(s.group, broker.MessageEvent{
		ChatID:    s.chatID,
		Message:   text,
		Sender:    s.identity.Username,
		Timestamp: receipt.Timestamp,
		IsStaff:   receipt.IsStaff,
	})

	// Always paired with the group publish, whether or not any staff view
	// is open on this chat.
	s.broker.Publish(broker.AdminGroup, broker.NewMessageNotice{
		ChatID:  s.chatID,
		Message: text,
		Sender:  s.identity.Username,
	})
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case event := <-s.sub.Events():
			msg, ok := event.(broker.MessageEvent)
			if !ok {
				continue // chat groups carry message events only
			}
			frame := models.MessageFrame{
				Type:      models.FrameMessage,
				Message:   msg.Message,
				Sender:    msg.Sender,
				Timestamp: msg.Timestamp.Format(time.RFC3339),
				IsStaff:   msg.IsStaff,
			}
			if err := writeFrame(s.conn, frame); err != nil {
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-s.done:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
