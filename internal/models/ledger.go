package models

import (
	"time"

	"github.com/google/uuid"
)

// Типы транзакций
const (
	TransactionTypeDebit  = "debit"
	TransactionTypeCredit = "credit"
)

// Статусы транзакций
const (
	TransactionStatusPending = "pending"
	TransactionStatusSuccess = "success"
	TransactionStatusFailed  = "failed"
)

// UserBalance представляет баланс участника сделок.
type UserBalance struct {
	UserID    uuid.UUID `db:"user_id" json:"user_id"`
	Available float64   `db:"available" json:"available"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Transaction представляет проводку внешнего балансового сервиса.
// Движок читает её только для ссылки, источником истины не владеет.
type Transaction struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	UserID       uuid.UUID  `db:"user_id" json:"user_id"`
	DealID       *uuid.UUID `db:"deal_id" json:"deal_id,omitempty"`
	MilestoneIdx *int       `db:"milestone_idx" json:"milestone_idx,omitempty"`
	Direction    string     `db:"direction" json:"direction"`
	Amount       float64    `db:"amount" json:"amount"`
	Status       string     `db:"status" json:"status"`
	Description  *string    `db:"description" json:"description,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	CompletedAt  *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}
