package models

import "time"

// All monetary values are integer cents.
type Account struct {
	ID                 int64     `json:"id"`
	UserID             int64     `json:"user_id"`
	Name               string    `json:"name"`
	CardNumber         string    `json:"card_number"`
	CVV                string    `json:"-"`
	BalanceCents       int64     `json:"balance_cents"`
	TotalDepositCents  int64     `json:"total_deposit_cents"`
	TotalWithdrawCents int64     `json:"total_withdraw_cents"`
	TotalRefundCents   int64     `json:"total_refund_cents"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

const (
	TransactionPending  = "pending"
	TransactionPaid     = "paid"
	TransactionRefunded = "refunded"
)

type Transaction struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"user_id"`
	Item       string    `json:"item"`
	TotalCents int64     `json:"total_cents"`
	OrderID    string    `json:"order_id"`
	Status     string    `json:"status"`
	Date       time.Time `json:"date"`
}

type AmountRequest struct {
	AmountCents int64 `json:"amount_cents"`
}

// VerifyCardRequest is the payment collaborator's debit call.
type VerifyCardRequest struct {
	CardNumber string `json:"card_number"`
	HoldName   string `json:"hold_name"`
	CVV        string `json:"cvv"`
	TotalCents int64  `json:"total_cents"`
}

// OrderImport is one entry of the payment collaborator's bulk order upload.
type OrderImport struct {
	CardNumber string `json:"card_number"`
	Item       string `json:"item"`
	Status     string `json:"status"`
	TotalCents int64  `json:"total_cents"`
	OrderID    string `json:"order_id"`
}
