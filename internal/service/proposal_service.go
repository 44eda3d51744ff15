package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

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

// ProposalRepository описывает доступ к предложениям.
type ProposalRepository interface {
	CreateProposal(ctx context.Context, p *models.Proposal) error
	GetProposal(ctx context.Context, id uuid.UUID) (*models.Proposal, error)
	UpdateProposal(ctx context.Context, p *models.Proposal) error
	DeclineProposal(ctx context.Context, id uuid.UUID) (bool, error)
	AcceptProposal(ctx context.Context, proposalID uuid.UUID, fromStatus string, deal *models.Deal, milestones []models.Milestone) (bool, error)
	RevertAcceptance(ctx context.Context, proposalID, dealID uuid.UUID, restoreStatus string) error
	ListProposalsForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Proposal, error)
}

// ClientDirectory отдаёт записи участников для политики потолка сумм.
type ClientDirectory interface {
	GetClient(ctx context.Context, id uuid.UUID) (*models.Client, error)
}

// MilestoneSpecInput входные условия одного этапа.
type MilestoneSpecInput struct {
	Title       string
	Description string
	Amount      float64
	DueAt       time.Time
}

// ProposalInput входные условия предложения.
type ProposalInput struct {
	CounterpartyID  uuid.UUID
	CreatorRole     string
	FeeSplitPercent int
	Milestones      []MilestoneSpecInput
}

// AcceptAndFundResult результат принятия с немедленным финансированием.
type AcceptAndFundResult struct {
	Deal            *models.Deal        `json:"deal"`
	DeductedAmount  float64             `json:"deducted_amount"`
	Transaction     *models.Transaction `json:"transaction"`
}

// ProposalService реализует жизненный цикл предложения:
// создание, редактирование, принятие (с финансированием или без) и отклонение.
type ProposalService struct {
	repo    ProposalRepository
	clients ClientDirectory
	ledger  ledger.Service
	sink    notify.Sink
	ceiling float64
}

func NewProposalService(repo ProposalRepository, clients ClientDirectory, ledgerSvc ledger.Service, sink notify.Sink, ceiling float64) *ProposalService {
	return &ProposalService{
		repo:    repo,
		clients: clients,
		ledger:  ledgerSvc,
		sink:    sink,
		ceiling: ceiling,
	}
}

// CreateProposal валидирует условия и сохраняет предложение.
// Предложение продавца ожидает принятия покупателем, предложение покупателя
// сразу доступно продавцу для принятия.
func (s *ProposalService) CreateProposal(ctx context.Context, creatorID uuid.UUID, in ProposalInput) (*models.Proposal, *fee.Breakdown, error) {
	specs, breakdown, err := s.validateTerms(ctx, creatorID, in)
	if err != nil {
		return nil, nil, err
	}

	status := models.ProposalStatusPending
	if in.CreatorRole == models.RoleSeller {
		status = models.ProposalStatusAwaitingBuyer
	}

	p := &models.Proposal{
		ID:              uuid.New(),
		CreatorID:       creatorID,
		CreatorRole:     in.CreatorRole,
		CounterpartyID:  in.CounterpartyID,
		FeeSplitPercent: in.FeeSplitPercent,
		Status:          status,
		Milestones:      specs,
	}
	if err := s.repo.CreateProposal(ctx, p); err != nil {
		return nil, nil, err
	}

	s.sink.Emit(in.CounterpartyID, notify.EventProposalCreated, p)
	return p, breakdown, nil
}

// UpdateProposal меняет условия. Разрешено только создателю и только
// пока предложение не принято и не отклонено.
func (s *ProposalService) UpdateProposal(ctx context.Context, actorID, proposalID uuid.UUID, in ProposalInput) (*models.Proposal, error) {
	existing, err := s.repo.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, mapProposalErr(err)
	}
	if existing.CreatorID != actorID {
		return nil, apperror.New(apperror.ErrCodeForbidden, "менять предложение может только его создатель")
	}
	if !existing.Editable() {
		return nil, apperror.New(apperror.ErrCodeInvalidState, "предложение уже нельзя редактировать")
	}

	in.CreatorRole = existing.CreatorRole
	specs, _, err := s.validateTerms(ctx, actorID, in)
	if err != nil {
		return nil, err
	}

	existing.CounterpartyID = in.CounterpartyID
	existing.FeeSplitPercent = in.FeeSplitPercent
	existing.Milestones = specs
	if err := s.repo.UpdateProposal(ctx, existing); err != nil {
		if errors.Is(err, common.ErrBadTransition) {
			return nil, apperror.New(apperror.ErrCodeInvalidState, "предложение уже нельзя редактировать")
		}
		return nil, err
	}
	return existing, nil
}

// GetProposal возвращает предложение с пересчитанными суммами.
// Видно только сторонам предложения.
func (s *ProposalService) GetProposal(ctx context.Context, actorID, proposalID uuid.UUID) (*models.Proposal, *fee.Breakdown, error) {
	p, err := s.repo.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, nil, mapProposalErr(err)
	}
	if p.CreatorID != actorID && p.CounterpartyID != actorID {
		return nil, nil, apperror.ErrForbidden
	}
	breakdown, err := fee.Calculate(p.Subtotal(), p.FeeSplitPercent)
	if err != nil {
		return nil, nil, err
	}
	return p, breakdown, nil
}

// ListProposals возвращает предложения, где пользователь сторона.
func (s *ProposalService) ListProposals(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Proposal, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.repo.ListProposalsForUser(ctx, userID, limit, offset)
}

// AcceptProposal принимает предложение, созданное покупателем: продавец
// соглашается, материализуется сделка в ожидании финансирования.
// Предложение после принятия не меняется, источником истины становится сделка.
func (s *ProposalService) AcceptProposal(ctx context.Context, actorID, proposalID uuid.UUID) (*models.Deal, error) {
	p, err := s.repo.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, mapProposalErr(err)
	}
	if p.CounterpartyID != actorID {
		return nil, apperror.New(apperror.ErrCodeForbidden, "принять предложение может только контрагент")
	}
	if p.Status != models.ProposalStatusPending {
		return nil, apperror.New(apperror.ErrCodeInvalidState,
			fmt.Sprintf("предложение в статусе %s нельзя принять без финансирования", p.Status))
	}

	// Потолок и флаг клиента могли измениться после создания,
	// политика перепроверяется на момент принятия.
	breakdown, err := s.checkCeiling(ctx, p.CreatorID, p.Subtotal(), p.FeeSplitPercent)
	if err != nil {
		return nil, err
	}

	deal := s.materializeDeal(p, breakdown)
	milestones := specsToMilestones(p.Milestones)

	accepted, err := s.repo.AcceptProposal(ctx, proposalID, models.ProposalStatusPending, deal, milestones)
	if err != nil {
		return nil, err
	}
	if !accepted {
		return nil, apperror.New(apperror.ErrCodeInvalidState, "предложение уже принято или отклонено")
	}

	s.sink.Emit(p.CreatorID, notify.EventProposalAccepted, deal)
	return deal, nil
}

// AcceptAndFundProposal принимает предложение продавца и сразу списывает
// с покупателя сумму сделки вместе с его долей комиссии. Отказ дебета
// откатывает всю операцию: сделки нет, предложение остаётся в ожидании.
func (s *ProposalService) AcceptAndFundProposal(ctx context.Context, actorID, proposalID uuid.UUID) (*AcceptAndFundResult, error) {
	p, err := s.repo.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, mapProposalErr(err)
	}
	if p.CounterpartyID != actorID {
		return nil, apperror.New(apperror.ErrCodeForbidden, "принять предложение может только контрагент")
	}
	if p.Status != models.ProposalStatusAwaitingBuyer {
		return nil, apperror.New(apperror.ErrCodeInvalidState,
			fmt.Sprintf("предложение в статусе %s не ожидает принятия покупателем", p.Status))
	}

	breakdown, err := s.checkCeiling(ctx, p.CreatorID, p.Subtotal(), p.FeeSplitPercent)
	if err != nil {
		return nil, err
	}

	// Сделка материализуется сразу профинансированной: пока дебет не прошёл,
	// условный MarkFunded ручного /fund не найдёт awaiting_funding и не
	// спишет деньги второй раз. Единственный откат — RevertAcceptance.
	deal := s.materializeDeal(p, breakdown)
	deal.Status = models.DealStatusInProgress
	milestones := specsToMilestones(p.Milestones)

	accepted, err := s.repo.AcceptProposal(ctx, proposalID, models.ProposalStatusAwaitingBuyer, deal, milestones)
	if err != nil {
		return nil, err
	}
	if !accepted {
		return nil, apperror.New(apperror.ErrCodeInvalidState, "предложение уже принято или отклонено")
	}

	deducted := deal.TotalAmount + breakdown.BuyerPortion
	transaction, err := s.ledger.Debit(ctx, deal.BuyerID, deducted, deal.ID, nil, "Финансирование сделки при принятии предложения")
	if err != nil {
		// Компенсация: наружу не должно остаться ни сделки, ни принятия.
		if revertErr := s.repo.RevertAcceptance(ctx, proposalID, deal.ID, models.ProposalStatusAwaitingBuyer); revertErr != nil {
			logger.Log.WithField("proposal_id", proposalID).Errorf("proposal service: компенсация принятия не удалась: %v", revertErr)
		}
		return nil, mapLedgerErr(err)
	}

	s.sink.Emit(p.CreatorID, notify.EventProposalAccepted, deal)
	s.sink.Emit(deal.SellerID, notify.EventDealFunded, deal)

	return &AcceptAndFundResult{
		Deal:           deal,
		DeductedAmount: deducted,
		Transaction:    transaction,
	}, nil
}

// DeclineProposal отклоняет предложение. Доступно контрагенту.
func (s *ProposalService) DeclineProposal(ctx context.Context, actorID, proposalID uuid.UUID) error {
	p, err := s.repo.GetProposal(ctx, proposalID)
	if err != nil {
		return mapProposalErr(err)
	}
	if p.CounterpartyID != actorID {
		return apperror.New(apperror.ErrCodeForbidden, "отклонить предложение может только контрагент")
	}

	declined, err := s.repo.DeclineProposal(ctx, proposalID)
	if err != nil {
		return err
	}
	if !declined {
		return apperror.New(apperror.ErrCodeInvalidState, "предложение уже принято или отклонено")
	}

	s.sink.Emit(p.CreatorID, notify.EventProposalDeclined, p)
	return nil
}

// validateTerms проверяет условия предложения и считает комиссию.
func (s *ProposalService) validateTerms(ctx context.Context, creatorID uuid.UUID, in ProposalInput) ([]models.MilestoneSpec, *fee.Breakdown, error) {
	if _, ok := models.ValidCreatorRoles[in.CreatorRole]; !ok {
		return nil, nil, apperror.New(apperror.ErrCodeValidation, "роль создателя должна быть buyer или seller")
	}
	if in.CounterpartyID == uuid.Nil || in.CounterpartyID == creatorID {
		return nil, nil, apperror.New(apperror.ErrCodeValidation, "контрагент обязателен и не может совпадать с создателем")
	}
	if len(in.Milestones) == 0 {
		return nil, nil, apperror.New(apperror.ErrCodeValidation, "предложение должно содержать хотя бы один этап")
	}

	specs := make([]models.MilestoneSpec, 0, len(in.Milestones))
	var subtotal float64
	for i, m := range in.Milestones {
		if strings.TrimSpace(m.Title) == "" {
			return nil, nil, apperror.New(apperror.ErrCodeValidation, fmt.Sprintf("у этапа %d отсутствует название", i+1))
		}
		if m.Amount <= 0 {
			return nil, nil, apperror.New(apperror.ErrCodeValidation, fmt.Sprintf("сумма этапа %d должна быть положительной", i+1))
		}
		subtotal += m.Amount
		specs = append(specs, models.MilestoneSpec{
			Idx:         i,
			Title:       m.Title,
			Description: m.Description,
			Amount:      m.Amount,
			DueAt:       m.DueAt,
		})
	}

	breakdown, err := s.checkCeiling(ctx, creatorID, subtotal, in.FeeSplitPercent)
	if err != nil {
		return nil, nil, err
	}
	return specs, breakdown, nil
}

func (s *ProposalService) checkCeiling(ctx context.Context, creatorID uuid.UUID, subtotal float64, splitPercent int) (*fee.Breakdown, error) {
	return enforceCeiling(ctx, s.clients, s.ceiling, creatorID, subtotal, splitPercent)
}

// enforceCeiling применяет политику потолка сумм для неверифицированных
// клиентов и попутно валидирует subtotal и split через калькулятор.
func enforceCeiling(ctx context.Context, clients ClientDirectory, ceiling float64, clientID uuid.UUID, subtotal float64, splitPercent int) (*fee.Breakdown, error) {
	breakdown, err := fee.Calculate(subtotal, splitPercent)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeValidation, err.Error())
	}

	if ceiling > 0 && subtotal > ceiling {
		client, err := clients.GetClient(ctx, clientID)
		if err != nil {
			if errors.Is(err, repository.ErrClientNotFound) {
				return nil, apperror.New(apperror.ErrCodeValidation, "сумма сделки превышает лимит для неверифицированных клиентов")
			}
			return nil, err
		}
		if !client.HighVolumeVerified {
			return nil, apperror.New(apperror.ErrCodeValidation, "сумма сделки превышает лимит для неверифицированных клиентов")
		}
	}
	return breakdown, nil
}

// materializeDeal строит сделку из предложения. Суммы и split копируются
// и после этого неизменяемы.
func (s *ProposalService) materializeDeal(p *models.Proposal, breakdown *fee.Breakdown) *models.Deal {
	proposalID := p.ID
	return &models.Deal{
		ID:              uuid.New(),
		ProposalID:      &proposalID,
		BuyerID:         p.BuyerID(),
		SellerID:        p.SellerID(),
		TotalAmount:     breakdown.Subtotal,
		FeeAmount:       breakdown.TotalFee,
		FeeSplitPercent: p.FeeSplitPercent,
		Status:          models.DealStatusAwaitingFunding,
	}
}

// specsToMilestones превращает спецификации в этапы с начальным статусом funded.
func specsToMilestones(specs []models.MilestoneSpec) []models.Milestone {
	milestones := make([]models.Milestone, 0, len(specs))
	for _, spec := range specs {
		milestones = append(milestones, models.Milestone{
			Idx:         spec.Idx,
			Title:       spec.Title,
			Description: spec.Description,
			Amount:      spec.Amount,
			DueAt:       spec.DueAt,
			Status:      models.MilestoneStatusFunded,
		})
	}
	return milestones
}

func mapProposalErr(err error) error {
	if errors.Is(err, repository.ErrProposalNotFound) {
		return apperror.ErrProposalNotFound
	}
	return err
}

// mapLedgerErr переводит отказы балансового сервиса в таксономию движка.
func mapLedgerErr(err error) error {
	if errors.Is(err, ledger.ErrInsufficientFunds) {
		return apperror.Wrap(err, apperror.ErrCodeInsufficientBalance, "недостаточно средств на балансе")
	}
	return apperror.Wrap(err, apperror.ErrCodeLedgerUnavailable, "балансовый сервис временно недоступен, повторите запрос")
}
