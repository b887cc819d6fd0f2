package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"support-chat/internal/auth"
	"support-chat/internal/database"
	"support-chat/internal/models"
	"support-chat/internal/services"
	"support-chat/pkg/logger"

	"github.com/go-chi/chi/v5"
)

type AccountHandlers struct {
	accountService *services.AccountService
	authService    *auth.Service
}

func NewAccountHandlers(accountService *services.AccountService, authService *auth.Service) *AccountHandlers {
	return &AccountHandlers{
		accountService: accountService,
		authService:    authService,
	}
}

func (h *AccountHandlers) GetAccount(w http.ResponseWriter, r *http.Request) {
	identity, err := identityFromHeader(h.authService, r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	account, err := h.accountService.GetAccount(r.Context(), identity.UserID)
	if err != nil {
		logger.Error("Get account error: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(account)
}

func (h *AccountHandlers) Deposit(w http.ResponseWriter, r *http.Request) {
	h.amountOp(w, r, h.accountService.Deposit)
}

func (h *AccountHandlers) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.amountOp(w, r, h.accountService.Withdraw)
}

func (h *AccountHandlers) amountOp(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, userID, amountCents int64) (*models.Account, error)) {
	identity, err := identityFromHeader(h.authService, r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req models.AmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	account, err := op(r.Context(), identity.UserID, req.AmountCents)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidAmount):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, database.ErrInsufficientFunds):
			http.Error(w, "insufficient funds", http.StatusBadRequest)
		default:
			logger.Error("Account operation error: %v", err)
			http.Error(w, "internal server error", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(account)
}

func (h *AccountHandlers) Refund(w http.ResponseWriter, r *http.Request) {
	identity, err := identityFromHeader(h.authService, r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	orderID := chi.URLParam(r, "orderID")
	account, err := h.accountService.Refund(r.Context(), identity.UserID, orderID)
	if err != nil {
		switch {
		case errors.Is(err, database.ErrNotFound):
			http.Error(w, "transaction not found", http.StatusNotFound)
		case errors.Is(err, services.ErrMissingOrderID),
			errors.Is(err, database.ErrAlreadyRefunded),
			errors.Is(err, database.ErrNotRefundable):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			logger.Error("Refund error: %v", err)
			http.Error(w, "refund failed", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(account)
}

func (h *AccountHandlers) History(w http.ResponseWriter, r *http.Request) {
	identity, err := identityFromHeader(h.authService, r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	transactions, err := h.accountService.History(r.Context(), identity.UserID)
	if err != nil {
		logger.Error("Transaction history error: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(transactions)
}

// VerifyCard is the payment collaborator's debit endpoint, authorized by a
// service token rather than a user session.
func (h *AccountHandlers) VerifyCard(w http.ResponseWriter, r *http.Request) {
	if !h.serviceAuthorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req models.VerifyCardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	account, err := h.accountService.VerifyCard(r.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, database.ErrInvalidCard):
			http.Error(w, "invalid card details", http.StatusNotFound)
		case errors.Is(err, database.ErrInsufficientFunds):
			http.Error(w, "insufficient funds", http.StatusBadRequest)
		case errors.Is(err, services.ErrMissingCardDetails):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			logger.Error("Card verification error: %v", err)
			http.Error(w, "internal server error", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":       true,
		"user_id":       account.UserID,
		"balance_cents": account.BalanceCents,
	})
}

// ImportOrders bulk-records settled orders for the payment collaborator.
func (h *AccountHandlers) ImportOrders(w http.ResponseWriter, r *http.Request) {
	if !h.serviceAuthorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		Orders []models.OrderImport `json:"orders"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	entries, err := h.accountService.ImportOrders(r.Context(), req.Orders)
	if err != nil {
		switch {
		case errors.Is(err, database.ErrInvalidCard):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, services.ErrEmptyOrderBatch):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			logger.Error("Order import error: %v", err)
			http.Error(w, "internal server error", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"entries": entries,
	})
}

func (h *AccountHandlers) serviceAuthorized(r *http.Request) bool {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return false
	}
	return h.authService.VerifyServiceToken(strings.TrimPrefix(header, "Bearer ")) == nil
}
