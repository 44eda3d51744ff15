package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Статусы сделок. В базе хранятся только awaiting_funding и in_progress;
// completed и in_dispute всегда вычисляются из этапов и открытых споров.
const (
	DealStatusAwaitingFunding = "awaiting_funding"
	DealStatusInProgress      = "in_progress"
	DealStatusCompleted       = "completed"
	DealStatusInDispute       = "in_dispute"
)

// Статусы этапов
const (
	MilestoneStatusFunded    = "funded"
	MilestoneStatusSubmitted = "submitted_for_approval"
	MilestoneStatusRevision  = "revision_requested"
	MilestoneStatusCompleted = "completed"
	MilestoneStatusDisputed  = "disputed"
)

// ValidMilestoneStatuses список валидных статусов этапов.
var ValidMilestoneStatuses = map[string]struct{}{
	MilestoneStatusFunded:    {},
	MilestoneStatusSubmitted: {},
	MilestoneStatusRevision:  {},
	MilestoneStatusCompleted: {},
	MilestoneStatusDisputed:  {},
}

// Deal представляет профинансированную escrow-сделку,
// материализованную из принятого предложения либо созданную напрямую.
type Deal struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	ProposalID      *uuid.UUID `db:"proposal_id" json:"proposal_id,omitempty"`
	BuyerID         uuid.UUID  `db:"buyer_id" json:"buyer_id"`
	SellerID        uuid.UUID  `db:"seller_id" json:"seller_id"`
	TotalAmount     float64    `db:"total_amount" json:"total_amount"`
	FeeAmount       float64    `db:"fee_amount" json:"fee_amount"`
	FeeSplitPercent int        `db:"fee_split_percent" json:"fee_split_percent"`
	Status          string     `db:"status" json:"status"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// Milestone представляет этап сделки с его runtime-состоянием:
// запись о сдаче работы, запись о доработке и состояние обратного отсчёта.
// Отсчёт хранится как данные (timestamp'ы), а не как таймер в памяти,
// поэтому переживает рестарт процесса.
type Milestone struct {
	ID          uuid.UUID `db:"id" json:"id"`
	DealID      uuid.UUID `db:"deal_id" json:"deal_id"`
	Idx         int       `db:"idx" json:"idx"`
	Title       string    `db:"title" json:"title"`
	Description string    `db:"description" json:"description"`
	Amount      float64   `db:"amount" json:"amount"`
	DueAt       time.Time `db:"due_at" json:"due_at"`
	Status      string    `db:"status" json:"status"`

	SubmissionMessage *string        `db:"submission_message" json:"submission_message,omitempty"`
	SubmissionFiles   pq.StringArray `db:"submission_files" json:"submission_files,omitempty"`
	SubmittedAt       *time.Time     `db:"submitted_at" json:"submitted_at,omitempty"`

	RevisionMessage     *string    `db:"revision_message" json:"revision_message,omitempty"`
	RevisionRequestedAt *time.Time `db:"revision_requested_at" json:"revision_requested_at,omitempty"`

	CountdownActive      bool       `db:"countdown_active" json:"countdown_active"`
	CountdownExpiresAt   *time.Time `db:"countdown_expires_at" json:"countdown_expires_at,omitempty"`
	CountdownCancelledAt *time.Time `db:"countdown_cancelled_at" json:"countdown_cancelled_at,omitempty"`

	PreDisputeStatus *string    `db:"pre_dispute_status" json:"-"`
	CompletedAt      *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

// OnHold сообщает, что отсчёт остановлен (отмена или запрос доработки),
// но этап не покинул цикл согласования. Это производный флаг,
// отдельного статуса для него намеренно нет.
func (m *Milestone) OnHold() bool {
	if m.Status != MilestoneStatusSubmitted && m.Status != MilestoneStatusRevision {
		return false
	}
	return !m.CountdownActive && m.CountdownCancelledAt != nil
}

// Terminal сообщает, достиг ли этап конечного состояния.
func (m *Milestone) Terminal() bool {
	return m.Status == MilestoneStatusCompleted
}

// MilestoneRef адресует этап внутри сделки (единица работы для sweep'а).
type MilestoneRef struct {
	DealID uuid.UUID `db:"deal_id" json:"deal_id"`
	Idx    int       `db:"idx" json:"idx"`
}

// DealProgress агрегирует прогресс сделки по завершённым этапам.
type DealProgress struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// Progress вычисляет прогресс по списку этапов.
func Progress(milestones []Milestone) DealProgress {
	p := DealProgress{Total: len(milestones)}
	for i := range milestones {
		if milestones[i].Status == MilestoneStatusCompleted {
			p.Completed++
		}
	}
	return p
}

// DeriveDealStatus вычисляет агрегатный статус сделки из этапов и споров.
// Статус никогда не хранится: это единственное правило производного статуса
// для всех потребителей.
func DeriveDealStatus(d *Deal, milestones []Milestone, hasOpenDispute bool) string {
	if hasOpenDispute {
		return DealStatusInDispute
	}
	if d.Status == DealStatusInProgress && len(milestones) > 0 {
		p := Progress(milestones)
		if p.Completed == p.Total {
			return DealStatusCompleted
		}
	}
	return d.Status
}
