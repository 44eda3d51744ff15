package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/safedeal/escrow-backend/internal/fee"
	"github.com/safedeal/escrow-backend/internal/ledger"
	"github.com/safedeal/escrow-backend/internal/logger"
	"github.com/safedeal/escrow-backend/internal/models"
	"github.com/safedeal/escrow-backend/internal/notify"
	"github.com/safedeal/escrow-backend/internal/pkg/apperror"
	"github.com/safedeal/escrow-backend/internal/repository"
	"github.com/safedeal/escrow-backend/internal/repository/common"
)

// DealRepository описывает хранилище сделок и этапов.
type DealRepository interface {
	CreateDeal(ctx context.Context, deal *models.Deal, milestones []models.Milestone) error
	GetDeal(ctx context.Context, id uuid.UUID) (*models.Deal, error)
	GetMilestone(ctx context.Context, dealID uuid.UUID, idx int) (*models.Milestone, error)
	ListMilestones(ctx context.Context, dealID uuid.UUID) ([]models.Milestone, error)
	ListDealsForParty(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Deal, error)
	DeleteDeal(ctx context.Context, id uuid.UUID) error
	MarkFunded(ctx context.Context, dealID uuid.UUID) (bool, error)
	RevertFunding(ctx context.Context, dealID uuid.UUID) error
	SubmitMilestone(ctx context.Context, dealID uuid.UUID, idx int, message string, files []string, expiresAt time.Time) (*models.Milestone, error)
	CompleteMilestone(ctx context.Context, dealID uuid.UUID, idx int, requireExpiredCountdown bool) (*models.Milestone, error)
	ReopenMilestone(ctx context.Context, dealID uuid.UUID, idx int, prev *models.Milestone) error
	RejectMilestone(ctx context.Context, dealID uuid.UUID, idx int, reason string) (*models.Milestone, error)
	CancelCountdown(ctx context.Context, dealID uuid.UUID, idx int) (*models.Milestone, error)
	ListExpiredCountdowns(ctx context.Context, now time.Time, limit int) ([]models.MilestoneRef, error)
}

// DisputeChecker сообщает о наличии открытого спора по сделке.
type DisputeChecker interface {
	HasOpenDispute(ctx context.Context, dealID uuid.UUID) (bool, error)
}

// DealInput условия прямой сделки (без стадии предложения).
type DealInput struct {
	SellerID        uuid.UUID
	FeeSplitPercent int
	Milestones      []MilestoneSpecInput
}

// SubmissionInput запись о сдаче работы по этапу.
type SubmissionInput struct {
	Message string
	Files   []string
}

// DealView сделка с производным статусом, этапами и расчётом комиссии.
type DealView struct {
	Deal       *models.Deal        `json:"deal"`
	Milestones []models.Milestone  `json:"milestones"`
	Progress   models.DealProgress `json:"progress"`
	Fee        *fee.Breakdown      `json:"fee"`
}

// FundResult результат финансирования сделки.
type FundResult struct {
	Deal           *models.Deal        `json:"deal"`
	DeductedAmount float64             `json:"deducted_amount"`
	Transaction    *models.Transaction `json:"transaction"`
}

// Исходы подтверждения этапа. Проигравший гонку подтверждений получает
// already_resolved, а не ошибку: для вызывающего это успешный no-op.
const (
	ApproveOutcomeApproved        = "approved"
	ApproveOutcomeAlreadyResolved = "already_resolved"
)

// ApprovalResult результат подтверждения этапа.
type ApprovalResult struct {
	Outcome       string              `json:"outcome"`
	Milestone     *models.Milestone   `json:"milestone,omitempty"`
	Transaction   *models.Transaction `json:"transaction,omitempty"`
	DealCompleted bool                `json:"deal_completed"`
}

// DealService реализует жизненный цикл сделки и её этапов: финансирование,
// сдачу работы, подтверждение с выплатой, запрос доработки и остановку отсчёта.
type DealService struct {
	repo     DealRepository
	disputes DisputeChecker
	clients  ClientDirectory
	ledger   ledger.Service
	sink     notify.Sink
	ceiling  float64
	window   time.Duration
}

func NewDealService(repo DealRepository, disputes DisputeChecker, clients ClientDirectory, ledgerSvc ledger.Service, sink notify.Sink, ceiling float64, window time.Duration) *DealService {
	return &DealService{
		repo:     repo,
		disputes: disputes,
		clients:  clients,
		ledger:   ledgerSvc,
		sink:     sink,
		ceiling:  ceiling,
		window:   window,
	}
}

// CreateFundedDeal создаёт прямую сделку и сразу финансирует её.
// Сделка рождается уже в in_progress, чтобы ручной /fund не мог пройти
// условный MarkFunded и списать деньги повторно. Отказ дебета откатывает
// создание: непрофинансированная прямая сделка не должна быть видна никому.
func (s *DealService) CreateFundedDeal(ctx context.Context, buyerID uuid.UUID, in DealInput) (*FundResult, error) {
	if in.SellerID == uuid.Nil || in.SellerID == buyerID {
		return nil, apperror.New(apperror.ErrCodeValidation, "продавец обязателен и не может совпадать с покупателем")
	}
	if len(in.Milestones) == 0 {
		return nil, apperror.New(apperror.ErrCodeValidation, "сделка должна содержать хотя бы один этап")
	}

	milestones := make([]models.Milestone, 0, len(in.Milestones))
	var subtotal float64
	for i, m := range in.Milestones {
		if strings.TrimSpace(m.Title) == "" {
			return nil, apperror.New(apperror.ErrCodeValidation, fmt.Sprintf("у этапа %d отсутствует название", i+1))
		}
		if m.Amount <= 0 {
			return nil, apperror.New(apperror.ErrCodeValidation, fmt.Sprintf("сумма этапа %d должна быть положительной", i+1))
		}
		subtotal += m.Amount
		milestones = append(milestones, models.Milestone{
			Idx:         i,
			Title:       m.Title,
			Description: m.Description,
			Amount:      m.Amount,
			DueAt:       m.DueAt,
			Status:      models.MilestoneStatusFunded,
		})
	}

	breakdown, err := enforceCeiling(ctx, s.clients, s.ceiling, buyerID, subtotal, in.FeeSplitPercent)
	if err != nil {
		return nil, err
	}

	deal := &models.Deal{
		ID:              uuid.New(),
		BuyerID:         buyerID,
		SellerID:        in.SellerID,
		TotalAmount:     breakdown.Subtotal,
		FeeAmount:       breakdown.TotalFee,
		FeeSplitPercent: in.FeeSplitPercent,
		Status:          models.DealStatusInProgress,
	}
	if err := s.repo.CreateDeal(ctx, deal, milestones); err != nil {
		return nil, err
	}

	deducted := deal.TotalAmount + breakdown.BuyerPortion
	transaction, err := s.ledger.Debit(ctx, buyerID, deducted, deal.ID, nil, "Финансирование сделки при создании")
	if err != nil {
		if delErr := s.repo.DeleteDeal(ctx, deal.ID); delErr != nil {
			logger.Log.WithField("deal_id", deal.ID).Errorf("deal service: компенсация создания не удалась: %v", delErr)
		}
		return nil, mapLedgerErr(err)
	}

	s.sink.Emit(deal.SellerID, notify.EventDealFunded, deal)
	return &FundResult{Deal: deal, DeductedAmount: deducted, Transaction: transaction}, nil
}

// FundDeal финансирует сделку, материализованную из принятого предложения.
// С покупателя списывается сумма сделки вместе с его долей комиссии.
func (s *DealService) FundDeal(ctx context.Context, actorID, dealID uuid.UUID) (*FundResult, error) {
	deal, err := s.repo.GetDeal(ctx, dealID)
	if err != nil {
		return nil, mapDealErr(err)
	}
	if deal.BuyerID != actorID {
		return nil, apperror.New(apperror.ErrCodeForbidden, "финансировать сделку может только покупатель")
	}

	breakdown, err := fee.Calculate(deal.TotalAmount, deal.FeeSplitPercent)
	if err != nil {
		return nil, err
	}

	// Условный переход awaiting_funding -> in_progress выбирает одного
	// победителя: двойное финансирование невозможно.
	funded, err := s.repo.MarkFunded(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if !funded {
		return nil, apperror.New(apperror.ErrCodeInvalidState, "сделка не ожидает финансирования")
	}

	deducted := deal.TotalAmount + breakdown.BuyerPortion
	transaction, err := s.ledger.Debit(ctx, deal.BuyerID, deducted, dealID, nil, "Финансирование сделки")
	if err != nil {
		if revertErr := s.repo.RevertFunding(ctx, dealID); revertErr != nil {
			logger.Log.WithField("deal_id", dealID).Errorf("deal service: компенсация финансирования не удалась: %v", revertErr)
		}
		return nil, mapLedgerErr(err)
	}
	deal.Status = models.DealStatusInProgress

	s.sink.Emit(deal.SellerID, notify.EventDealFunded, deal)
	return &FundResult{Deal: deal, DeductedAmount: deducted, Transaction: transaction}, nil
}

// GetDealView возвращает сделку с этапами и производным статусом.
// Видно сторонам сделки и администратору.
func (s *DealService) GetDealView(ctx context.Context, actor models.Actor, dealID uuid.UUID) (*DealView, error) {
	deal, err := s.repo.GetDeal(ctx, dealID)
	if err != nil {
		return nil, mapDealErr(err)
	}
	if actor.Kind == models.ActorKindUser && actor.ID != deal.BuyerID && actor.ID != deal.SellerID {
		return nil, apperror.ErrForbidden
	}

	milestones, err := s.repo.ListMilestones(ctx, dealID)
	if err != nil {
		return nil, err
	}
	hasOpenDispute, err := s.disputes.HasOpenDispute(ctx, dealID)
	if err != nil {
		return nil, err
	}
	deal.Status = models.DeriveDealStatus(deal, milestones, hasOpenDispute)

	breakdown, err := fee.Calculate(deal.TotalAmount, deal.FeeSplitPercent)
	if err != nil {
		return nil, err
	}
	return &DealView{
		Deal:       deal,
		Milestones: milestones,
		Progress:   models.Progress(milestones),
		Fee:        breakdown,
	}, nil
}

// ListDeals возвращает сделки, где пользователь сторона.
func (s *DealService) ListDeals(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Deal, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.repo.ListDealsForParty(ctx, userID, limit, offset)
}

// SubmitMilestone сдаёт работу по этапу и запускает обратный отсчёт.
// Повторная сдача после доработки запускает отсчёт заново на полное окно.
func (s *DealService) SubmitMilestone(ctx context.Context, actorID, dealID uuid.UUID, idx int, in SubmissionInput) (*models.Milestone, error) {
	deal, err := s.repo.GetDeal(ctx, dealID)
	if err != nil {
		return nil, mapDealErr(err)
	}
	if deal.SellerID != actorID {
		return nil, apperror.New(apperror.ErrCodeForbidden, "сдавать работу может только продавец")
	}

	milestone, err := s.repo.SubmitMilestone(ctx, dealID, idx, in.Message, in.Files, time.Now().Add(s.window))
	if err != nil {
		return nil, mapMilestoneErr(err, "этап нельзя сдать в текущем статусе")
	}

	s.sink.Emit(deal.BuyerID, notify.EventMilestoneSubmitted, milestone)
	return milestone, nil
}

// ApproveMilestone подтверждает этап и выплачивает продавцу его долю.
// Ручное подтверждение и авто-аппрув планировщика сходятся здесь: условный
// переход в репозитории выбирает одного победителя, проигравший получает
// исход already_resolved без повторной выплаты.
func (s *DealService) ApproveMilestone(ctx context.Context, actor models.Actor, dealID uuid.UUID, idx int) (*ApprovalResult, error) {
	deal, err := s.repo.GetDeal(ctx, dealID)
	if err != nil {
		return nil, mapDealErr(err)
	}
	if !actor.IsSystem() && actor.ID != deal.BuyerID {
		return nil, apperror.New(apperror.ErrCodeForbidden, "подтверждать этап может только покупатель")
	}

	// Системный актор проходит только при активном и истёкшем отсчёте.
	milestone, err := s.repo.CompleteMilestone(ctx, dealID, idx, actor.IsSystem())
	if err != nil {
		if errors.Is(err, common.ErrAlreadyResolved) {
			return &ApprovalResult{Outcome: ApproveOutcomeAlreadyResolved}, nil
		}
		return nil, mapMilestoneErr(err, "этап не находится на согласовании")
	}

	payout := sellerPayout(deal, milestone.Amount)
	transaction, err := s.ledger.Credit(ctx, deal.SellerID, payout, dealID, &idx,
		fmt.Sprintf("Выплата за этап %q", milestone.Title))
	if err != nil {
		// Компенсация: этап возвращается на согласование в прежнем
		// состоянии отсчёта, выплату возьмёт следующее подтверждение.
		prev := *milestone
		prev.Status = models.MilestoneStatusSubmitted
		prev.CountdownActive = milestone.CountdownCancelledAt == nil
		prev.CompletedAt = nil
		if reopenErr := s.repo.ReopenMilestone(ctx, dealID, idx, &prev); reopenErr != nil {
			logger.Log.WithField("deal_id", dealID).WithField("idx", idx).
				Errorf("deal service: компенсация подтверждения не удалась: %v", reopenErr)
		}
		return nil, mapLedgerErr(err)
	}

	milestones, err := s.repo.ListMilestones(ctx, dealID)
	if err != nil {
		return nil, err
	}
	progress := models.Progress(milestones)
	dealCompleted := progress.Total > 0 && progress.Completed == progress.Total

	s.sink.Emit(deal.SellerID, notify.EventMilestoneApproved, milestone)
	if dealCompleted {
		s.sink.Emit(deal.BuyerID, notify.EventDealCompleted, deal)
		s.sink.Emit(deal.SellerID, notify.EventDealCompleted, deal)
	}

	return &ApprovalResult{
		Outcome:       ApproveOutcomeApproved,
		Milestone:     milestone,
		Transaction:   transaction,
		DealCompleted: dealCompleted,
	}, nil
}

// RejectMilestone запрашивает доработку этапа. Отсчёт уходит в on hold,
// а не обнуляется: повторная сдача запустит его заново.
func (s *DealService) RejectMilestone(ctx context.Context, actorID, dealID uuid.UUID, idx int, reason string) (*models.Milestone, error) {
	reason = strings.TrimSpace(reason)
	if utf8.RuneCountInString(reason) < models.MinReasonLen {
		return nil, apperror.New(apperror.ErrCodeValidation,
			fmt.Sprintf("причина доработки должна быть не короче %d символов", models.MinReasonLen))
	}

	deal, err := s.repo.GetDeal(ctx, dealID)
	if err != nil {
		return nil, mapDealErr(err)
	}
	if deal.BuyerID != actorID {
		return nil, apperror.New(apperror.ErrCodeForbidden, "запросить доработку может только покупатель")
	}

	milestone, err := s.repo.RejectMilestone(ctx, dealID, idx, reason)
	if err != nil {
		return nil, mapMilestoneErr(err, "этап не находится на согласовании")
	}

	s.sink.Emit(deal.SellerID, notify.EventMilestoneRejected, milestone)
	return milestone, nil
}

// CancelCountdown останавливает обратный отсчёт, не меняя статус этапа.
// Этап остаётся на согласовании без дедлайна до явного решения покупателя.
func (s *DealService) CancelCountdown(ctx context.Context, actorID, dealID uuid.UUID, idx int) (*models.Milestone, error) {
	deal, err := s.repo.GetDeal(ctx, dealID)
	if err != nil {
		return nil, mapDealErr(err)
	}
	if deal.BuyerID != actorID {
		return nil, apperror.New(apperror.ErrCodeForbidden, "останавливать отсчёт может только покупатель")
	}

	milestone, err := s.repo.CancelCountdown(ctx, dealID, idx)
	if err != nil {
		return nil, mapMilestoneErr(err, "у этапа нет активного отсчёта")
	}

	s.sink.Emit(deal.SellerID, notify.EventCountdownCancelled, milestone)
	return milestone, nil
}

// sellerPayout считает выплату продавцу за этап: сумма этапа минус
// пропорциональная часть продавцовой доли комиссии.
func sellerPayout(deal *models.Deal, amount float64) float64 {
	breakdown, err := fee.Calculate(deal.TotalAmount, deal.FeeSplitPercent)
	if err != nil || deal.TotalAmount <= 0 {
		return amount
	}
	return amount - breakdown.SellerPortion*(amount/deal.TotalAmount)
}

func mapDealErr(err error) error {
	if errors.Is(err, repository.ErrDealNotFound) {
		return apperror.ErrDealNotFound
	}
	return err
}

// mapMilestoneErr переводит ошибки репозитория в таксономию движка.
// badTransitionMsg подставляется для отказа по текущему статусу этапа.
func mapMilestoneErr(err error, badTransitionMsg string) error {
	switch {
	case errors.Is(err, repository.ErrDealNotFound):
		return apperror.ErrDealNotFound
	case errors.Is(err, repository.ErrMilestoneNotFound):
		return apperror.ErrMilestoneNotFound
	case errors.Is(err, common.ErrFrozen):
		return apperror.New(apperror.ErrCodeFrozen, "этап заморожен открытым спором")
	case errors.Is(err, common.ErrBadTransition):
		return apperror.New(apperror.ErrCodeInvalidState, badTransitionMsg)
	default:
		return err
	}
}
