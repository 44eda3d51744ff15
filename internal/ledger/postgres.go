package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/safedeal/escrow-backend/internal/models"
)

// Postgres реализует балансовый сервис поверх той же базы.
// Движок обращается к нему только через интерфейс Service и считает
// его внешним и потенциально медленным.
type Postgres struct {
	db *sqlx.DB
}

func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{db: db}
}

// GetBalance возвращает баланс участника, создаёт нулевой если не существует.
func (l *Postgres) GetBalance(ctx context.Context, userID uuid.UUID) (*models.UserBalance, error) {
	var balance models.UserBalance
	query := `
		INSERT INTO user_balances (user_id, available)
		VALUES ($1, 0)
		ON CONFLICT (user_id) DO UPDATE SET updated_at = NOW()
		RETURNING user_id, available, updated_at
	`
	if err := l.db.GetContext(ctx, &balance, query, userID); err != nil {
		return nil, l.classify(err, "get balance")
	}
	return &balance, nil
}

// Debit списывает сумму с баланса участника.
// Отказ при нехватке средств атомарен: баланс не меняется, проводка не создаётся.
func (l *Postgres) Debit(ctx context.Context, userID uuid.UUID, amount float64, dealID uuid.UUID, milestoneIdx *int, description string) (*models.Transaction, error) {
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, l.classify(err, "debit begin")
	}
	defer tx.Rollback()

	// Блокируем строку баланса: проверка и списание должны быть атомарны.
	var balance models.UserBalance
	err = tx.GetContext(ctx, &balance, `
		SELECT user_id, available, updated_at FROM user_balances WHERE user_id = $1 FOR UPDATE
	`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInsufficientFunds
		}
		return nil, l.classify(err, "debit lock balance")
	}
	if balance.Available < amount {
		return nil, ErrInsufficientFunds
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE user_balances SET available = available - $2, updated_at = NOW()
		WHERE user_id = $1
	`, userID, amount)
	if err != nil {
		return nil, l.classify(err, "debit update balance")
	}

	transaction, err := l.insertTransaction(ctx, tx, userID, dealID, milestoneIdx, models.TransactionTypeDebit, amount, description)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, l.classify(err, "debit commit")
	}
	return transaction, nil
}

// Credit зачисляет сумму на баланс участника.
func (l *Postgres) Credit(ctx context.Context, userID uuid.UUID, amount float64, dealID uuid.UUID, milestoneIdx *int, description string) (*models.Transaction, error) {
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, l.classify(err, "credit begin")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO user_balances (user_id, available)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET available = user_balances.available + $2, updated_at = NOW()
	`, userID, amount)
	if err != nil {
		return nil, l.classify(err, "credit update balance")
	}

	transaction, err := l.insertTransaction(ctx, tx, userID, dealID, milestoneIdx, models.TransactionTypeCredit, amount, description)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, l.classify(err, "credit commit")
	}
	return transaction, nil
}

// ListTransactions возвращает историю проводок участника.
func (l *Postgres) ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Transaction, error) {
	var transactions []models.Transaction
	err := l.db.SelectContext(ctx, &transactions, `
		SELECT id, user_id, deal_id, milestone_idx, direction, amount, status, description, created_at, completed_at
		FROM transactions WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, l.classify(err, "list transactions")
	}
	return transactions, nil
}

func (l *Postgres) insertTransaction(ctx context.Context, tx *sqlx.Tx, userID, dealID uuid.UUID, milestoneIdx *int, direction string, amount float64, description string) (*models.Transaction, error) {
	var transaction models.Transaction
	err := tx.GetContext(ctx, &transaction, `
		INSERT INTO transactions (user_id, deal_id, milestone_idx, direction, amount, status, description, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING id, user_id, deal_id, milestone_idx, direction, amount, status, description, created_at, completed_at
	`, userID, dealID, milestoneIdx, direction, amount, models.TransactionStatusSuccess, description)
	if err != nil {
		return nil, l.classify(err, "insert transaction")
	}
	return &transaction, nil
}

// classify отличает бизнес-отказ от инфраструктурного сбоя:
// всё, что не нехватка средств, считается временной недоступностью.
func (l *Postgres) classify(err error, op string) error {
	return fmt.Errorf("ledger: %s: %w: %v", op, ErrUnavailable, err)
}
