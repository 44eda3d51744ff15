package dto

import (
	"time"

	"github.com/google/uuid"
)

// MilestoneSpecRequest условия одного этапа в предложении или сделке.
type MilestoneSpecRequest struct {
	Title       string    `json:"title" binding:"required"`
	Description string    `json:"description"`
	Amount      float64   `json:"amount" binding:"required"`
	DueAt       time.Time `json:"due_at"`
}

// CreateProposalRequest запрос на создание предложения.
type CreateProposalRequest struct {
	CounterpartyID  uuid.UUID              `json:"counterparty_id" binding:"required"`
	CreatorRole     string                 `json:"creator_role" binding:"required"`
	FeeSplitPercent int                    `json:"fee_split_percent"`
	Milestones      []MilestoneSpecRequest `json:"milestones" binding:"required"`
}

// UpdateProposalRequest запрос на изменение условий предложения.
type UpdateProposalRequest struct {
	CounterpartyID  uuid.UUID              `json:"counterparty_id" binding:"required"`
	FeeSplitPercent int                    `json:"fee_split_percent"`
	Milestones      []MilestoneSpecRequest `json:"milestones" binding:"required"`
}

// CreateDealRequest запрос на создание прямой сделки с немедленным
// финансированием.
type CreateDealRequest struct {
	SellerID        uuid.UUID              `json:"seller_id" binding:"required"`
	FeeSplitPercent int                    `json:"fee_split_percent"`
	Milestones      []MilestoneSpecRequest `json:"milestones" binding:"required"`
}

// SubmitMilestoneRequest запись о сдаче работы по этапу.
type SubmitMilestoneRequest struct {
	Message string   `json:"message"`
	Files   []string `json:"files"`
}

// RejectMilestoneRequest запрос доработки этапа.
type RejectMilestoneRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// RaiseDisputeRequest запрос на открытие спора.
// MilestoneIdx nil означает спор по всей сделке.
type RaiseDisputeRequest struct {
	MilestoneIdx *int   `json:"milestone_idx"`
	Reason       string `json:"reason" binding:"required"`
}

// UpsertClientRequest запрос на заведение или обновление записи участника.
type UpsertClientRequest struct {
	DisplayName string `json:"display_name" binding:"required"`
}

// VerifyClientRequest запрос на переключение флага верифицированного
// крупного клиента. Указатель, чтобы явный false не отбрасывался биндингом.
type VerifyClientRequest struct {
	Verified *bool `json:"verified" binding:"required"`
}

// FeeQuoteRequest запрос предварительного расчёта комиссии.
type FeeQuoteRequest struct {
	Subtotal        float64 `json:"subtotal" binding:"required"`
	FeeSplitPercent int     `json:"fee_split_percent"`
}
