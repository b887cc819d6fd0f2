package services

import (
	"context"
	"errors"
	"time"

	"support-chat/internal/broker"
	"support-chat/internal/database"
	"support-chat/internal/models"
	"support-chat/pkg/logger"
)

type ChatService struct {
	db      database.Database
	broker  *broker.Broker
	idleTTL time.Duration
}

func NewChatService(db database.Database, b *broker.Broker, idleTTL time.Duration) *ChatService {
	return &ChatService{
		db:      db,
		broker:  b,
		idleTTL: idleTTL,
	}
}

// OpenSupportChat returns the user's active chat, creating one if none
// exists. On creation the admin group is told about the new chat.
//
// Check-then-create is not transactional: two concurrent first visits can
// briefly leave the user with two active chats. Accepted: the window is a
// single request and the dashboard view self-corrects once one is closed.
func (s *ChatService) OpenSupportChat(ctx context.Context, userID int64) (*models.Chat, bool, error) {
	chat, err := s.db.GetActiveChatForUser(ctx, userID)
	if err == nil {
		return chat, false, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, false, err
	}

	chat, err = s.db.CreateChat(ctx, userID)
	if err != nil {
		return nil, false, err
	}

	// Chat is committed; the notification is best-effort on top of it.
	s.broker.Publish(broker.AdminGroup, broker.NewChatEvent{
		Chat: models.ChatSummary{
			ID:           chat.ID,
			Username:     chat.Username,
			CreatedAt:    chat.CreatedAt,
			MessageCount: 0,
			LastMessage:  nil,
		},
	})

	return chat, true, nil
}

func (s *ChatService) CloseChat(ctx context.Context, chatID int64) error {
	return s.db.CloseChat(ctx, chatID)
}

// ActiveChats reaps idle chats first, then lists what remains. This is the
// read behind both the staff dashboard page and the aggregator's initial
// snapshot.
func (s *ChatService) ActiveChats(ctx context.Context) ([]models.ChatSummary, error) {
	if _, err := s.ReapIdleChats(ctx); err != nil {
		logger.Error("Idle chat sweep failed: %v", err)
	}
	return s.db.ListActiveChats(ctx)
}

// ReapIdleChats removes active chats that are past the idle TTL and never
// received a message. Safe to run concurrently: a chat reaped by one sweep
// simply no longer matches the next.
func (s *ChatService) ReapIdleChats(ctx context.Context) (int, error) {
	count, err := s.db.DeactivateIdleChats(ctx, s.idleTTL)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		logger.Info("Reaped %d idle support chat(s)", count)
	}
	return count, nil
}

// RunReaper sweeps on a timer until the context is cancelled.
func (s *ChatService) RunReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.ReapIdleChats(ctx); err != nil {
				logger.Error("Idle chat sweep failed: %v", err)
			}
		}
	}
}
