package ws

import (
	"context"
	"time"

	"support-chat/internal/broker"
	"support-chat/internal/models"
	"support-chat/internal/services"
	"support-chat/pkg/logger"

	"github.com/gorilla/websocket"
)

// Aggregator is one staff member's dashboard view. It watches every chat
// through the single admin group instead of joining chat groups one by one.
type Aggregator struct {
	conn    *websocket.Conn
	chatSvc *services.ChatService
	broker  *broker.Broker
	sub     *broker.Subscription
	done    chan struct{}
}

func NewAggregator(conn *websocket.Conn, chatSvc *services.ChatService, b *broker.Broker) *Aggregator {
	return &Aggregator{
		conn:    conn,
		chatSvc: chatSvc,
		broker:  b,
		sub:     broker.NewSubscription(),
		done:    make(chan struct{}),
	}
}

func (a *Aggregator) Start() {
	a.broker.Join(broker.AdminGroup, a.sub)

	if err := a.sendSnapshot(); err != nil {
		logger.Error("Failed to send dashboard snapshot: %v", err)
		a.broker.Leave(broker.AdminGroup, a.sub)
		a.conn.Close()
		return
	}

	go a.writePump()
	go a.readPump()
}

// sendSnapshot ships every currently active chat. ActiveChats sweeps idle
// chats first, so a freshly opened dashboard never shows reapable ones.
func (a *Aggregator) sendSnapshot() error {
	chats, err := a.chatSvc.ActiveChats(context.Background())
	if err != nil {
		return err
	}
	if chats == nil {
		chats = []models.ChatSummary{}
	}

	return writeFrame(a.conn, models.AllChatsFrame{
		Type:  models.FrameAllChats,
		Chats: chats,
	})
}

// readPump only watches for disconnects and keepalives. The dashboard does
// not accept application messages on this channel; staff replies travel
// through the chat endpoint and staff actions through the HTTP API.
func (a *Aggregator) readPump() {
	defer func() {
		a.broker.Leave(broker.AdminGroup, a.sub)
		close(a.done)
		a.conn.Close()
	}()

	a.conn.SetReadLimit(maxMessageSize)
	a.conn.SetReadDeadline(time.Now().Add(pongWait))
	a.conn.SetPongHandler(func(string) error {
		a.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := a.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Error("WebSocket error on dashboard: %v", err)
			}
			break
		}
	}
}

func (a *Aggregator) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		a.conn.Close()
	}()

	for {
		select {
		case event := <-a.sub.Events():
			var frame interface{}
			switch e := event.(type) {
			case broker.NewMessageNotice:
				frame = models.NewMessageFrame{
					Type:    models.FrameNewMessage,
					ChatID:  e.ChatID,
					Message: e.Message,
					Sender:  e.Sender,
				}
			case broker.NewChatEvent:
				frame = models.NewChatFrame{
					Type: models.FrameNewChat,
					Chat: e.Chat,
				}
			default:
				continue
			}
			if err := writeFrame(a.conn, frame); err != nil {
				return
			}

		case <-ticker.C:
			a.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := a.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-a.done:
			a.conn.SetWriteDeadline(time.Now().Add(writeWait))
			a.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
