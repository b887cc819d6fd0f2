package database

import (
	"context"
	"errors"
	"time"

	"support-chat/internal/models"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidCard       = errors.New("invalid card details")
	ErrAlreadyRefunded   = errors.New("already refunded")
	ErrNotRefundable     = errors.New("only paid transactions can be refunded")
)

type UserRepository interface {
	CreateUser(ctx context.Context, req *models.RegisterRequest) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
}

type ChatRepository interface {
	// GetActiveChatForUser returns the user's single active chat, or
	// ErrNotFound when none exists.
	GetActiveChatForUser(ctx context.Context, userID int64) (*models.Chat, error)
	CreateChat(ctx context.Context, userID int64) (*models.Chat, error)
	GetChatByID(ctx context.Context, chatID int64) (*models.Chat, error)
	CloseChat(ctx context.Context, chatID int64) error
	ListActiveChats(ctx context.Context) ([]models.ChatSummary, error)
	// DeactivateIdleChats removes every active chat older than threshold
	// that never received a message, and reports how many went.
	DeactivateIdleChats(ctx context.Context, threshold time.Duration) (int, error)
}

type MessageRepository interface {
	// GetChatHistory returns every message of a chat in ascending timestamp
	// order. An unknown chat id yields an empty history, not an error.
	GetChatHistory(ctx context.Context, chatID int64) ([]models.ChatHistoryEntry, error)
	CreateMessage(ctx context.Context, chatID, senderID int64, body string, isStaff bool) (*models.MessageReceipt, error)
}

type AccountRepository interface {
	GetAccountByUserID(ctx context.Context, userID int64) (*models.Account, error)
	Deposit(ctx context.Context, userID, amountCents int64) (*models.Account, error)
	Withdraw(ctx context.Context, userID, amountCents int64) (*models.Account, error)
	Refund(ctx context.Context, userID int64, orderID string) (*models.Account, error)
	ListTransactions(ctx context.Context, userID int64) ([]models.Transaction, error)
	DebitCard(ctx context.Context, req *models.VerifyCardRequest) (*models.Account, error)
	CreateTransactions(ctx context.Context, orders []models.OrderImport) ([]int64, error)
}

type Database interface {
	UserRepository
	ChatRepository
	MessageRepository
	AccountRepository
	Close() error
}
