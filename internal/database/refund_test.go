package database

import (
	"errors"
	"testing"

	"support-chat/internal/models"
)

func TestApplyRefundCreditsPaidTransaction(t *testing.T) {
	account := &models.Account{
		BalanceCents:      1000,
		TotalDepositCents: 5000,
		TotalRefundCents:  200,
	}
	txn := &models.Transaction{Status: models.TransactionPaid, TotalCents: 300}

	if err := applyRefund(account, txn); err != nil {
		t.Fatalf("applyRefund: %v", err)
	}

	if txn.Status != models.TransactionRefunded {
		t.Errorf("transaction status = %q, want %q", txn.Status, models.TransactionRefunded)
	}
	if account.BalanceCents != 1300 {
		t.Errorf("balance = %d, want 1300", account.BalanceCents)
	}
	if account.TotalDepositCents != 5300 {
		t.Errorf("total deposit = %d, want 5300", account.TotalDepositCents)
	}
	if account.TotalRefundCents != 500 {
		t.Errorf("total refund = %d, want 500", account.TotalRefundCents)
	}
}

func TestApplyRefundRejectsAlreadyRefunded(t *testing.T) {
	account := &models.Account{BalanceCents: 1000}
	txn := &models.Transaction{Status: models.TransactionRefunded, TotalCents: 300}

	if err := applyRefund(account, txn); !errors.Is(err, ErrAlreadyRefunded) {
		t.Fatalf("applyRefund error = %v, want ErrAlreadyRefunded", err)
	}
	if account.BalanceCents != 1000 {
		t.Errorf("rejected refund touched the balance: %d", account.BalanceCents)
	}
}

func TestApplyRefundRejectsUnpaidTransaction(t *testing.T) {
	account := &models.Account{BalanceCents: 1000}
	txn := &models.Transaction{Status: models.TransactionPending, TotalCents: 300}

	if err := applyRefund(account, txn); !errors.Is(err, ErrNotRefundable) {
		t.Fatalf("applyRefund error = %v, want ErrNotRefundable", err)
	}
	if txn.Status != models.TransactionPending {
		t.Errorf("rejected refund changed the status: %q", txn.Status)
	}
	if account.BalanceCents != 1000 {
		t.Errorf("rejected refund touched the balance: %d", account.BalanceCents)
	}
}
