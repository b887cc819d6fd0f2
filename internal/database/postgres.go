package database

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"support-chat/internal/models"
	"support-chat/pkg/logger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

type PostgresDB struct {
	pool *pgxpool.Pool
}

func NewPostgresDB(databaseURL string) (*PostgresDB, error) {
	pool, err := pgxpool.New(context.Background(), databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Connected to database successfully")
	return &PostgresDB{pool: pool}, nil
}

func (db *PostgresDB) Close() error {
	db.pool.Close()
	return nil
}

// User Repository Implementation
func (db *PostgresDB) CreateUser(ctx context.Context, req *models.RegisterRequest) (*models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO users (username, email, password_hash, first_name, last_name, phone_number, address, city, zip, is_staff, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, false, NOW())
		RETURNING id, username, email, first_name, last_name, phone_number, address, city, zip, is_staff, created_at`

	user := &models.User{PasswordHash: string(hash)}
	err = tx.QueryRow(ctx, query,
		req.Username, req.Email, string(hash), req.FirstName, req.LastName,
		req.PhoneNumber, req.Address, req.City, req.ZIP,
	).Scan(
		&user.ID, &user.Username, &user.Email, &user.FirstName, &user.LastName,
		&user.PhoneNumber, &user.Address, &user.City, &user.ZIP, &user.IsStaff, &user.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	accountQuery := `
		INSERT INTO accounts (user_id, name, card_number, cvv, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())`

	name := req.FirstName + " " + req.LastName
	for attempt := 0; ; attempt++ {
		cardNumber, err := randomDigits(16)
		if err != nil {
			return nil, err
		}
		cvv, err := randomDigits(3)
		if err != nil {
			return nil, err
		}

		_, err = tx.Exec(ctx, accountQuery, user.ID, name, cardNumber, cvv)
		if err == nil {
			break
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && attempt < 4 {
			continue // card number collision, regenerate
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return user, nil
}

func (db *PostgresDB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	query := `
		SELECT id, username, email, password_hash, first_name, last_name, phone_number, address, city, zip, is_staff, created_at
		FROM users WHERE username = $1`

	user := &models.User{}
	err := db.pool.QueryRow(ctx, query, username).Scan(
		&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.FirstName, &user.LastName,
		&user.PhoneNumber, &user.Address, &user.City, &user.ZIP, &user.IsStaff, &user.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return user, nil
}

func (db *PostgresDB) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	query := `
		SELECT id, username, email, first_name, last_name, phone_number, address, city, zip, is_staff, created_at
		FROM users WHERE id = $1`

	user := &models.User{}
	err := db.pool.QueryRow(ctx, query, id).Scan(
		&user.ID, &user.Username, &user.Email, &user.FirstName, &user.LastName,
		&user.PhoneNumber, &user.Address, &user.City, &user.ZIP, &user.IsStaff, &user.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return user, nil
}

// Chat Repository Implementation
func (db *PostgresDB) GetActiveChatForUser(ctx context.Context, userID int64) (*models.Chat, error) {
	query := `
		SELECT c.id, c.user_id, u.username, c.created_at, c.is_active
		FROM support_chats c JOIN users u ON c.user_id = u.id
		WHERE c.user_id = $1 AND c.is_active = true
		ORDER BY c.created_at DESC LIMIT 1`

	chat := &models.Chat{}
	err := db.pool.QueryRow(ctx, query, userID).Scan(
		&chat.ID, &chat.UserID, &chat.Username, &chat.CreatedAt, &chat.IsActive,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return chat, nil
}

func (db *PostgresDB) CreateChat(ctx context.Context, userID int64) (*models.Chat, error) {
	query := `
		INSERT INTO support_chats (user_id, created_at, is_active)
		SELECT u.id, NOW(), true FROM users u WHERE u.id = $1
		RETURNING id, user_id, created_at, is_active`

	chat := &models.Chat{}
	err := db.pool.QueryRow(ctx, query, userID).Scan(
		&chat.ID, &chat.UserID, &chat.CreatedAt, &chat.IsActive,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create chat: %w", err)
	}

	if err := db.pool.QueryRow(ctx, `SELECT username FROM users WHERE id = $1`, userID).Scan(&chat.Username); err != nil {
		return nil, err
	}

	return chat, nil
}

func (db *PostgresDB) GetChatByID(ctx context.Context, chatID int64) (*models.Chat, error) {
	query := `
		SELECT c.id, c.user_id, u.username, c.created_at, c.is_active
		FROM support_chats c JOIN users u ON c.user_id = u.id
		WHERE c.id = $1`

	chat := &models.Chat{}
	err := db.pool.QueryRow(ctx, query, chatID).Scan(
		&chat.ID, &chat.UserID, &chat.Username, &chat.CreatedAt, &chat.IsActive,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return chat, nil
}

func (db *PostgresDB) CloseChat(ctx context.Context, chatID int64) error {
	tag, err := db.pool.Exec(ctx, `UPDATE support_chats SET is_active = false WHERE id = $1`, chatID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *PostgresDB) ListActiveChats(ctx context.Context) ([]models.ChatSummary, error) {
	query := `
		SELECT c.id, u.username, c.created_at,
			(SELECT COUNT(*) FROM chat_messages m WHERE m.chat_id = c.id),
			(SELECT m.message FROM chat_messages m WHERE m.chat_id = c.id ORDER BY m.created_at DESC, m.id DESC LIMIT 1)
		FROM support_chats c
		JOIN users u ON c.user_id = u.id
		WHERE c.is_active = true
		ORDER BY c.created_at DESC`

	rows, err := db.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []models.ChatSummary
	for rows.Next() {
		var chat models.ChatSummary
		if err := rows.Scan(&chat.ID, &chat.Username, &chat.CreatedAt, &chat.MessageCount, &chat.LastMessage); err != nil {
			return nil, err
		}
		chats = append(chats, chat)
	}

	return chats, rows.Err()
}

func (db *PostgresDB) DeactivateIdleChats(ctx context.Context, threshold time.Duration) (int, error) {
	cutoff := time.Now().Add(-threshold)
	query := `
		DELETE FROM support_chats
		WHERE is_active = true
		AND created_at < $1
		AND NOT EXISTS (SELECT 1 FROM chat_messages m WHERE m.chat_id = support_chats.id)`

	tag, err := db.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// Message Repository Implementation
func (db *PostgresDB) GetChatHistory(ctx context.Context, chatID int64) ([]models.ChatHistoryEntry, error) {
	query := `
		SELECT m.message, u.username, m.created_at, m.is_staff
		FROM chat_messages m
		JOIN users u ON m.sender_id = u.id
		WHERE m.chat_id = $1
		ORDER BY m.created_at, m.id`

	rows, err := db.pool.Query(ctx, query, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.ChatHistoryEntry
	for rows.Next() {
		var msg models.ChatHistoryEntry
		if err := rows.Scan(&msg.Message, &msg.Sender, &msg.Timestamp, &msg.IsStaff); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

func (db *PostgresDB) CreateMessage(ctx context.Context, chatID, senderID int64, body string, isStaff bool) (*models.MessageReceipt, error) {
	query := `
		INSERT INTO chat_messages (chat_id, sender_id, message, is_staff, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING created_at`

	receipt := &models.MessageReceipt{IsStaff: isStaff}
	if err := db.pool.QueryRow(ctx, query, chatID, senderID, body, isStaff).Scan(&receipt.Timestamp); err != nil {
		return nil, fmt.Errorf("failed to save message: %w", err)
	}
	return receipt, nil
}

// Account Repository Implementation
const accountColumns = `id, user_id, name, card_number, cvv, balance_cents, total_deposit_cents, total_withdraw_cents, total_refund_cents, created_at, updated_at`

func scanAccount(row pgx.Row) (*models.Account, error) {
	account := &models.Account{}
	err := row.Scan(
		&account.ID, &account.UserID, &account.Name, &account.CardNumber, &account.CVV,
		&account.BalanceCents, &account.TotalDepositCents, &account.TotalWithdrawCents,
		&account.TotalRefundCents, &account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return account, nil
}

func (db *PostgresDB) GetAccountByUserID(ctx context.Context, userID int64) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE user_id = $1`

	account, err := scanAccount(db.pool.QueryRow(ctx, query, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return account, err
}

func (db *PostgresDB) Deposit(ctx context.Context, userID, amountCents int64) (*models.Account, error) {
	query := `
		UPDATE accounts
		SET balance_cents = balance_cents + $2,
			total_deposit_cents = total_deposit_cents + $2,
			updated_at = NOW()
		WHERE user_id = $1
		RETURNING ` + accountColumns

	account, err := scanAccount(db.pool.QueryRow(ctx, query, userID, amountCents))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return account, err
}

func (db *PostgresDB) Withdraw(ctx context.Context, userID, amountCents int64) (*models.Account, error) {
	query := `
		UPDATE accounts
		SET balance_cents = balance_cents - $2,
			total_withdraw_cents = total_withdraw_cents + $2,
			updated_at = NOW()
		WHERE user_id = $1 AND balance_cents >= $2
		RETURNING ` + accountColumns

	account, err := scanAccount(db.pool.QueryRow(ctx, query, userID, amountCents))
	if errors.Is(err, pgx.ErrNoRows) {
		// Either the account is missing or the balance was too low.
		if _, lookupErr := db.GetAccountByUserID(ctx, userID); lookupErr != nil {
			return nil, lookupErr
		}
		return nil, ErrInsufficientFunds
	}
	return account, err
}

// applyRefund validates the status transition and credits the refund onto the
// account in memory. Only paid transactions can be refunded; the amount goes
// back onto the balance and counts toward both the deposit and refund totals.
// The caller persists both sides under its row locks.
func applyRefund(account *models.Account, txn *models.Transaction) error {
	switch txn.Status {
	case models.TransactionRefunded:
		return ErrAlreadyRefunded
	case models.TransactionPaid:
	default:
		return ErrNotRefundable
	}

	txn.Status = models.TransactionRefunded
	account.BalanceCents += txn.TotalCents
	account.TotalDepositCents += txn.TotalCents
	account.TotalRefundCents += txn.TotalCents
	return nil
}

func (db *PostgresDB) Refund(ctx context.Context, userID int64, orderID string) (*models.Account, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var txn models.Transaction
	err = tx.QueryRow(ctx, `
		SELECT id, status, total_cents FROM transactions
		WHERE order_id = $1 AND user_id = $2
		FOR UPDATE`, orderID, userID).Scan(&txn.ID, &txn.Status, &txn.TotalCents)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	account, err := scanAccount(tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE user_id = $1 FOR UPDATE`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := applyRefund(account, &txn); err != nil {
		return nil, err
	}

	updateQuery := `
		UPDATE accounts
		SET balance_cents = $2,
			total_deposit_cents = $3,
			total_refund_cents = $4,
			updated_at = NOW()
		WHERE id = $1
		RETURNING ` + accountColumns

	account, err = scanAccount(tx.QueryRow(ctx, updateQuery, account.ID, account.BalanceCents, account.TotalDepositCents, account.TotalRefundCents))
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `UPDATE transactions SET status = $2 WHERE id = $1`, txn.ID, txn.Status); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return account, nil
}

func (db *PostgresDB) ListTransactions(ctx context.Context, userID int64) ([]models.Transaction, error) {
	query := `
		SELECT id, user_id, item, total_cents, order_id, status, date
		FROM transactions
		WHERE user_id = $1
		ORDER BY date DESC`

	rows, err := db.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []models.Transaction
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Item, &t.TotalCents, &t.OrderID, &t.Status, &t.Date); err != nil {
			return nil, err
		}
		transactions = append(transactions, t)
	}

	return transactions, rows.Err()
}

func (db *PostgresDB) DebitCard(ctx context.Context, req *models.VerifyCardRequest) (*models.Account, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var accountID int64
	var balance int64
	err = tx.QueryRow(ctx, `
		SELECT id, balance_cents FROM accounts
		WHERE card_number = $1 AND name = $2 AND cvv = $3
		FOR UPDATE`, req.CardNumber, req.HoldName, req.CVV).Scan(&accountID, &balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrInvalidCard
	}
	if err != nil {
		return nil, err
	}

	if balance < req.TotalCents {
		return nil, ErrInsufficientFunds
	}

	updateQuery := `
		UPDATE accounts
		SET balance_cents = balance_cents - $2,
			total_withdraw_cents = total_withdraw_cents + $2,
			updated_at = NOW()
		WHERE id = $1
		RETURNING ` + accountColumns

	account, err := scanAccount(tx.QueryRow(ctx, updateQuery, accountID, req.TotalCents))
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return account, nil
}

func (db *PostgresDB) CreateTransactions(ctx context.Context, orders []models.OrderImport) ([]int64, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var created []int64
	for _, order := range orders {
		var userID int64
		err := tx.QueryRow(ctx, `SELECT user_id FROM accounts WHERE card_number = $1`, order.CardNumber).Scan(&userID)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("card %s: %w", order.CardNumber, ErrInvalidCard)
		}
		if err != nil {
			return nil, err
		}

		var id int64
		err = tx.QueryRow(ctx, `
			INSERT INTO transactions (user_id, item, total_cents, order_id, status, date)
			VALUES ($1, $2, $3, $4, $5, NOW())
			RETURNING id`, userID, order.Item, order.TotalCents, order.OrderID, order.Status).Scan(&id)
		if err != nil {
			return nil, fmt.Errorf("failed to create transaction: %w", err)
		}
		created = append(created, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return created, nil
}

func randomDigits(n int) (string, error) {
	bytes := make([]byte, n)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	digits := make([]byte, n)
	for i, b := range bytes {
		digits[i] = '0' + b%10
	}
	return string(digits), nil
}
