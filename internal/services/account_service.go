package services

import (
	"context"
	"errors"

	"support-chat/internal/database"
	"support-chat/internal/models"

	"github.com/google/uuid"
)

// Request validation sentinels, checked with errors.Is at the handler
// boundary like the storage layer's own sentinels.
var (
	ErrInvalidAmount      = errors.New("amount must be greater than 0")
	ErrMissingOrderID     = errors.New("order id is required")
	ErrMissingCardDetails = errors.New("all card details required")
	ErrEmptyOrderBatch    = errors.New("no orders provided")
)

type AccountService struct {
	db database.Database
}

func NewAccountService(db database.Database) *AccountService {
	return &AccountService{db: db}
}

func (s *AccountService) GetAccount(ctx context.Context, userID int64) (*models.Account, error) {
	return s.db.GetAccountByUserID(ctx, userID)
}

func (s *AccountService) Deposit(ctx context.Context, userID, amountCents int64) (*models.Account, error) {
	if amountCents <= 0 {
		return nil, ErrInvalidAmount
	}
	return s.db.Deposit(ctx, userID, amountCents)
}

func (s *AccountService) Withdraw(ctx context.Context, userID, amountCents int64) (*models.Account, error) {
	if amountCents <= 0 {
		return nil, ErrInvalidAmount
	}
	return s.db.Withdraw(ctx, userID, amountCents)
}

func (s *AccountService) Refund(ctx context.Context, userID int64, orderID string) (*models.Account, error) {
	if orderID == "" {
		return nil, ErrMissingOrderID
	}
	return s.db.Refund(ctx, userID, orderID)
}

func (s *AccountService) History(ctx context.Context, userID int64) ([]models.Transaction, error) {
	return s.db.ListTransactions(ctx, userID)
}

// VerifyCard debits a card on behalf of the payment collaborator.
func (s *AccountService) VerifyCard(ctx context.Context, req *models.VerifyCardRequest) (*models.Account, error) {
	if req.CardNumber == "" || req.HoldName == "" || req.CVV == "" || req.TotalCents <= 0 {
		return nil, ErrMissingCardDetails
	}
	return s.db.DebitCard(ctx, req)
}

// ImportOrders records a batch of externally settled orders. Entries without
// an order id get one assigned.
func (s *AccountService) ImportOrders(ctx context.Context, orders []models.OrderImport) ([]int64, error) {
	if len(orders) == 0 {
		return nil, ErrEmptyOrderBatch
	}
	for i := range orders {
		if orders[i].OrderID == "" {
			orders[i].OrderID = uuid.NewString()
		}
		if orders[i].Status == "" {
			orders[i].Status = models.TransactionPending
		}
	}
	return s.db.CreateTransactions(ctx, orders)
}
