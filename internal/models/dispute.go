package models

import (
	"time"

	"github.com/google/uuid"
)

// Статусы споров
const (
	DisputeStatusOpen     = "open"
	DisputeStatusResolved = "resolved"
)

// MinReasonLen минимальная длина причины спора и причины запроса доработки.
const MinReasonLen = 10

// Dispute представляет запрос на разбирательство по сделке.
// MilestoneIdx равен nil, если спор касается всей сделки целиком.
// Пока спор открыт, ledger-переходы по затронутым этапам заморожены.
type Dispute struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	DealID       uuid.UUID  `db:"deal_id" json:"deal_id"`
	MilestoneIdx *int       `db:"milestone_idx" json:"milestone_idx,omitempty"`
	RaisedBy     uuid.UUID  `db:"raised_by" json:"raised_by"`
	Reason       string     `db:"reason" json:"reason"`
	Status       string     `db:"status" json:"status"`
	ResolvedBy   *uuid.UUID `db:"resolved_by" json:"resolved_by,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	ResolvedAt   *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
}

// DealWide сообщает, что спор замораживает всю сделку, а не один этап.
func (d *Dispute) DealWide() bool {
	return d.MilestoneIdx == nil
}
