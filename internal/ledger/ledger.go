package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/safedeal/escrow-backend/internal/models"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrUnavailable       = errors.New("ledger unavailable")
)

// Service описывает внешний балансовый сервис: списание и зачисление
// с результатом успех/отказ. Вызовы не идемпотентны, поэтому движок
// обязан запрашивать каждую проводку не более одного раза на событие.
type Service interface {
	Debit(ctx context.Context, userID uuid.UUID, amount float64, dealID uuid.UUID, milestoneIdx *int, description string) (*models.Transaction, error)
	Credit(ctx context.Context, userID uuid.UUID, amount float64, dealID uuid.UUID, milestoneIdx *int, description string) (*models.Transaction, error)
	GetBalance(ctx context.Context, userID uuid.UUID) (*models.UserBalance, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Transaction, error)
}
