package models

import (
	"time"

	"github.com/google/uuid"
)

// Роли создателя предложения
const (
	RoleBuyer  = "buyer"
	RoleSeller = "seller"
)

// Статусы предложений
const (
	ProposalStatusPending        = "pending"
	ProposalStatusAwaitingBuyer  = "awaiting_buyer_acceptance"
	ProposalStatusAccepted       = "accepted"
	ProposalStatusDeclined       = "declined"
)

// ValidCreatorRoles список валидных ролей создателя.
var ValidCreatorRoles = map[string]struct{}{
	RoleBuyer:  {},
	RoleSeller: {},
}

// EditableProposalStatuses статусы, в которых создатель может редактировать предложение.
var EditableProposalStatuses = map[string]struct{}{
	ProposalStatusPending:       {},
	ProposalStatusAwaitingBuyer: {},
}

// MilestoneSpec описывает этап будущей сделки внутри предложения.
// Это ещё не этап с runtime-состоянием, а только его условия.
type MilestoneSpec struct {
	ID          uuid.UUID `db:"id" json:"id"`
	ProposalID  uuid.UUID `db:"proposal_id" json:"proposal_id"`
	Idx         int       `db:"idx" json:"idx"`
	Title       string    `db:"title" json:"title"`
	Description string    `db:"description" json:"description"`
	Amount      float64   `db:"amount" json:"amount"`
	DueAt       time.Time `db:"due_at" json:"due_at"`
}

// Proposal представляет предложение о сделке между покупателем и продавцом.
// Суммы и комиссии никогда не хранятся: они всегда пересчитываются
// из этапов, чтобы исключить расхождение источников истины.
type Proposal struct {
	ID              uuid.UUID `db:"id" json:"id"`
	CreatorID       uuid.UUID `db:"creator_id" json:"creator_id"`
	CreatorRole     string    `db:"creator_role" json:"creator_role"`
	CounterpartyID  uuid.UUID `db:"counterparty_id" json:"counterparty_id"`
	FeeSplitPercent int       `db:"fee_split_percent" json:"fee_split_percent"`
	Status          string    `db:"status" json:"status"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`

	Milestones []MilestoneSpec `json:"milestones,omitempty"`
}

// BuyerID возвращает идентификатор покупателя по роли создателя.
func (p *Proposal) BuyerID() uuid.UUID {
	if p.CreatorRole == RoleBuyer {
		return p.CreatorID
	}
	return p.CounterpartyID
}

// SellerID возвращает идентификатор продавца по роли создателя.
func (p *Proposal) SellerID() uuid.UUID {
	if p.CreatorRole == RoleSeller {
		return p.CreatorID
	}
	return p.CounterpartyID
}

// Subtotal суммирует стоимость всех этапов предложения.
func (p *Proposal) Subtotal() float64 {
	var total float64
	for _, m := range p.Milestones {
		total += m.Amount
	}
	return total
}

// Editable сообщает, может ли создатель ещё менять предложение.
func (p *Proposal) Editable() bool {
	_, ok := EditableProposalStatuses[p.Status]
	return ok
}
