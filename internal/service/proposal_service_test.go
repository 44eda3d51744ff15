package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/safedeal/escrow-backend/internal/ledger"
	"github.com/safedeal/escrow-backend/internal/models"
	"github.com/safedeal/escrow-backend/internal/notify"
	"github.com/safedeal/escrow-backend/internal/pkg/apperror"
)

type mockProposalRepo struct {
	mock.Mock
}

func (m *mockProposalRepo) CreateProposal(ctx context.Context, p *models.Proposal) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *mockProposalRepo) GetProposal(ctx context.Context, id uuid.UUID) (*models.Proposal, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Proposal), args.Error(1)
}

func (m *mockProposalRepo) UpdateProposal(ctx context.Context, p *models.Proposal) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *mockProposalRepo) DeclineProposal(ctx context.Context, id uuid.UUID) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockProposalRepo) AcceptProposal(ctx context.Context, proposalID uuid.UUID, fromStatus string, deal *models.Deal, milestones []models.Milestone) (bool, error) {
	args := m.Called(ctx, proposalID, fromStatus, deal, milestones)
	return args.Bool(0), args.Error(1)
}

func (m *mockProposalRepo) RevertAcceptance(ctx context.Context, proposalID, dealID uuid.UUID, restoreStatus string) error {
	args := m.Called(ctx, proposalID, dealID, restoreStatus)
	return args.Error(0)
}

func (m *mockProposalRepo) ListProposalsForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Proposal, error) {
	args := m.Called(ctx, userID, limit, offset)
	return args.Get(0).([]models.Proposal), args.Error(1)
}

type mockClientDir struct {
	mock.Mock
}

func (m *mockClientDir) GetClient(ctx context.Context, id uuid.UUID) (*models.Client, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Client), args.Error(1)
}

type mockLedger struct {
	mock.Mock
}

func (m *mockLedger) Debit(ctx context.Context, userID uuid.UUID, amount float64, dealID uuid.UUID, milestoneIdx *int, description string) (*models.Transaction, error) {
	args := m.Called(ctx, userID, amount, dealID, milestoneIdx, description)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transaction), args.Error(1)
}

func (m *mockLedger) Credit(ctx context.Context, userID uuid.UUID, amount float64, dealID uuid.UUID, milestoneIdx *int, description string) (*models.Transaction, error) {
	args := m.Called(ctx, userID, amount, dealID, milestoneIdx, description)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transaction), args.Error(1)
}

func (m *mockLedger) GetBalance(ctx context.Context, userID uuid.UUID) (*models.UserBalance, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.UserBalance), args.Error(1)
}

func (m *mockLedger) ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Transaction, error) {
	args := m.Called(ctx, userID, limit, offset)
	return args.Get(0).([]models.Transaction), args.Error(1)
}

const testCeiling = 5_000_000

func newProposalService(repo *mockProposalRepo, clients *mockClientDir, led *mockLedger) *ProposalService {
	return NewProposalService(repo, clients, led, notify.LogSink{}, testCeiling)
}

func validInput(counterparty uuid.UUID, role string) ProposalInput {
	return ProposalInput{
		CounterpartyID:  counterparty,
		CreatorRole:     role,
		FeeSplitPercent: 50,
		Milestones: []MilestoneSpecInput{
			{Title: "Дизайн", Amount: 600_000},
			{Title: "Разработка", Amount: 700_000},
		},
	}
}

func TestProposalService_CreateProposal_SellerAwaitsBuyer(t *testing.T) {
	repo := new(mockProposalRepo)
	svc := newProposalService(repo, new(mockClientDir), new(mockLedger))
	ctx := context.Background()
	creator := uuid.New()

	repo.On("CreateProposal", ctx, mock.AnythingOfType("*models.Proposal")).Return(nil)

	p, breakdown, err := svc.CreateProposal(ctx, creator, validInput(uuid.New(), models.RoleSeller))
	assert.NoError(t, err)
	assert.Equal(t, models.ProposalStatusAwaitingBuyer, p.Status)
	assert.Equal(t, creator, p.SellerID())
	assert.InDelta(t, 1_300_000, breakdown.Subtotal, 0.001)
	assert.InDelta(t, 0.05, breakdown.Rate, 0.0001)
	assert.InDelta(t, 69_875, breakdown.TotalFee, 0.001)
	repo.AssertExpectations(t)
}

func TestProposalService_CreateProposal_BuyerPending(t *testing.T) {
	repo := new(mockProposalRepo)
	svc := newProposalService(repo, new(mockClientDir), new(mockLedger))
	ctx := context.Background()

	repo.On("CreateProposal", ctx, mock.AnythingOfType("*models.Proposal")).Return(nil)

	p, _, err := svc.CreateProposal(ctx, uuid.New(), validInput(uuid.New(), models.RoleBuyer))
	assert.NoError(t, err)
	assert.Equal(t, models.ProposalStatusPending, p.Status)
}

func TestProposalService_CreateProposal_Validation(t *testing.T) {
	svc := newProposalService(new(mockProposalRepo), new(mockClientDir), new(mockLedger))
	ctx := context.Background()
	creator := uuid.New()

	in := validInput(uuid.New(), "arbiter")
	_, _, err := svc.CreateProposal(ctx, creator, in)
	assert.True(t, apperror.IsValidation(err))

	in = validInput(creator, models.RoleBuyer)
	_, _, err = svc.CreateProposal(ctx, creator, in)
	assert.True(t, apperror.IsValidation(err))

	in = validInput(uuid.New(), models.RoleBuyer)
	in.Milestones = nil
	_, _, err = svc.CreateProposal(ctx, creator, in)
	assert.True(t, apperror.IsValidation(err))

	in = validInput(uuid.New(), models.RoleBuyer)
	in.Milestones[0].Amount = -5
	_, _, err = svc.CreateProposal(ctx, creator, in)
	assert.True(t, apperror.IsValidation(err))

	in = validInput(uuid.New(), models.RoleBuyer)
	in.Milestones[1].Title = "   "
	_, _, err = svc.CreateProposal(ctx, creator, in)
	assert.True(t, apperror.IsValidation(err))

	in = validInput(uuid.New(), models.RoleBuyer)
	in.FeeSplitPercent = 120
	_, _, err = svc.CreateProposal(ctx, creator, in)
	assert.True(t, apperror.IsValidation(err))
}

func TestProposalService_CreateProposal_CeilingUnverified(t *testing.T) {
	repo := new(mockProposalRepo)
	clients := new(mockClientDir)
	svc := newProposalService(repo, clients, new(mockLedger))
	ctx := context.Background()
	creator := uuid.New()

	in := validInput(uuid.New(), models.RoleBuyer)
	in.Milestones = []MilestoneSpecInput{{Title: "Большой контракт", Amount: 6_000_000}}

	clients.On("GetClient", ctx, creator).Return(&models.Client{ID: creator}, nil)

	_, _, err := svc.CreateProposal(ctx, creator, in)
	assert.True(t, apperror.IsValidation(err))
	assert.Contains(t, err.Error(), "лимит")
}

func TestProposalService_CreateProposal_CeilingVerified(t *testing.T) {
	repo := new(mockProposalRepo)
	clients := new(mockClientDir)
	svc := newProposalService(repo, clients, new(mockLedger))
	ctx := context.Background()
	creator := uuid.New()

	in := validInput(uuid.New(), models.RoleBuyer)
	in.Milestones = []MilestoneSpecInput{{Title: "Большой контракт", Amount: 6_000_000}}

	clients.On("GetClient", ctx, creator).Return(&models.Client{ID: creator, HighVolumeVerified: true}, nil)
	repo.On("CreateProposal", ctx, mock.AnythingOfType("*models.Proposal")).Return(nil)

	_, breakdown, err := svc.CreateProposal(ctx, creator, in)
	assert.NoError(t, err)
	assert.InDelta(t, 0.04, breakdown.Rate, 0.0001)
}

func TestProposalService_UpdateProposal_NotCreator(t *testing.T) {
	repo := new(mockProposalRepo)
	svc := newProposalService(repo, new(mockClientDir), new(mockLedger))
	ctx := context.Background()

	p := &models.Proposal{
		ID:        uuid.New(),
		CreatorID: uuid.New(),
		Status:    models.ProposalStatusPending,
	}
	repo.On("GetProposal", ctx, p.ID).Return(p, nil)

	_, err := svc.UpdateProposal(ctx, uuid.New(), p.ID, validInput(uuid.New(), models.RoleBuyer))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "создатель")
}

func TestProposalService_UpdateProposal_NotEditable(t *testing.T) {
	repo := new(mockProposalRepo)
	svc := newProposalService(repo, new(mockClientDir), new(mockLedger))
	ctx := context.Background()
	creator := uuid.New()

	p := &models.Proposal{
		ID:        uuid.New(),
		CreatorID: creator,
		Status:    models.ProposalStatusAccepted,
	}
	repo.On("GetProposal", ctx, p.ID).Return(p, nil)

	_, err := svc.UpdateProposal(ctx, creator, p.ID, validInput(uuid.New(), models.RoleBuyer))
	assert.True(t, apperror.IsInvalidState(err))
}

func TestProposalService_GetProposal_PartyOnly(t *testing.T) {
	repo := new(mockProposalRepo)
	svc := newProposalService(repo, new(mockClientDir), new(mockLedger))
	ctx := context.Background()

	p := &models.Proposal{
		ID:             uuid.New(),
		CreatorID:      uuid.New(),
		CreatorRole:    models.RoleBuyer,
		CounterpartyID: uuid.New(),
		Status:         models.ProposalStatusPending,
		Milestones:     []models.MilestoneSpec{{Title: "Этап", Amount: 100_000}},
	}
	repo.On("GetProposal", ctx, p.ID).Return(p, nil)

	_, _, err := svc.GetProposal(ctx, uuid.New(), p.ID)
	assert.Equal(t, apperror.ErrForbidden, err)

	got, breakdown, err := svc.GetProposal(ctx, p.CounterpartyID, p.ID)
	assert.NoError(t, err)
	assert.Equal(t, p, got)
	assert.InDelta(t, 0.10, breakdown.Rate, 0.0001)
}

func TestProposalService_AcceptProposal_Success(t *testing.T) {
	repo := new(mockProposalRepo)
	svc := newProposalService(repo, new(mockClientDir), new(mockLedger))
	ctx := context.Background()
	buyer := uuid.New()
	seller := uuid.New()

	p := &models.Proposal{
		ID:              uuid.New(),
		CreatorID:       buyer,
		CreatorRole:     models.RoleBuyer,
		CounterpartyID:  seller,
		FeeSplitPercent: 50,
		Status:          models.ProposalStatusPending,
		Milestones:      []models.MilestoneSpec{{Title: "Этап", Amount: 500_000}},
	}
	repo.On("GetProposal", ctx, p.ID).Return(p, nil)
	repo.On("AcceptProposal", ctx, p.ID, models.ProposalStatusPending,
		mock.AnythingOfType("*models.Deal"), mock.AnythingOfType("[]models.Milestone")).Return(true, nil)

	deal, err := svc.AcceptProposal(ctx, seller, p.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.DealStatusAwaitingFunding, deal.Status)
	assert.Equal(t, buyer, deal.BuyerID)
	assert.Equal(t, seller, deal.SellerID)
	assert.InDelta(t, 500_000, deal.TotalAmount, 0.001)
	repo.AssertExpectations(t)
}

func TestProposalService_AcceptProposal_WrongActor(t *testing.T) {
	repo := new(mockProposalRepo)
	svc := newProposalService(repo, new(mockClientDir), new(mockLedger))
	ctx := context.Background()

	p := &models.Proposal{
		ID:             uuid.New(),
		CreatorID:      uuid.New(),
		CreatorRole:    models.RoleBuyer,
		CounterpartyID: uuid.New(),
		Status:         models.ProposalStatusPending,
		Milestones:     []models.MilestoneSpec{{Title: "Этап", Amount: 500_000}},
	}
	repo.On("GetProposal", ctx, p.ID).Return(p, nil)

	_, err := svc.AcceptProposal(ctx, p.CreatorID, p.ID)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "контрагент")
}

func TestProposalService_AcceptProposal_AlreadyDecided(t *testing.T) {
	repo := new(mockProposalRepo)
	svc := newProposalService(repo, new(mockClientDir), new(mockLedger))
	ctx := context.Background()
	seller := uuid.New()

	p := &models.Proposal{
		ID:              uuid.New(),
		CreatorID:       uuid.New(),
		CreatorRole:     models.RoleBuyer,
		CounterpartyID:  seller,
		FeeSplitPercent: 50,
		Status:          models.ProposalStatusPending,
		Milestones:      []models.MilestoneSpec{{Title: "Этап", Amount: 500_000}},
	}
	repo.On("GetProposal", ctx, p.ID).Return(p, nil)
	repo.On("AcceptProposal", ctx, p.ID, models.ProposalStatusPending,
		mock.AnythingOfType("*models.Deal"), mock.AnythingOfType("[]models.Milestone")).Return(false, nil)

	_, err := svc.AcceptProposal(ctx, seller, p.ID)
	assert.True(t, apperror.IsInvalidState(err))
}

func TestProposalService_AcceptAndFund_Success(t *testing.T) {
	repo := new(mockProposalRepo)
	led := new(mockLedger)
	svc := newProposalService(repo, new(mockClientDir), led)
	ctx := context.Background()
	buyer := uuid.New()
	seller := uuid.New()

	p := &models.Proposal{
		ID:              uuid.New(),
		CreatorID:       seller,
		CreatorRole:     models.RoleSeller,
		CounterpartyID:  buyer,
		FeeSplitPercent: 50,
		Status:          models.ProposalStatusAwaitingBuyer,
		Milestones: []models.MilestoneSpec{
			{Title: "Дизайн", Amount: 600_000},
			{Title: "Разработка", Amount: 700_000},
		},
	}
	repo.On("GetProposal", ctx, p.ID).Return(p, nil)
	// Сделка должна попасть в хранилище уже профинансированной:
	// окна awaiting_funding, через которое /fund списал бы деньги
	// второй раз, не существует.
	repo.On("AcceptProposal", ctx, p.ID, models.ProposalStatusAwaitingBuyer,
		mock.MatchedBy(func(d *models.Deal) bool {
			return d.Status == models.DealStatusInProgress
		}), mock.AnythingOfType("[]models.Milestone")).Return(true, nil)

	// Списывается подытог плюс покупательская половина комиссии.
	wantDeducted := 1_300_000 + 69_875.0/2
	tx := &models.Transaction{ID: uuid.New(), Amount: wantDeducted}
	led.On("Debit", ctx, buyer, mock.MatchedBy(func(amount float64) bool {
		return amount > wantDeducted-0.01 && amount < wantDeducted+0.01
	}), mock.AnythingOfType("uuid.UUID"), (*int)(nil), mock.AnythingOfType("string")).Return(tx, nil)

	res, err := svc.AcceptAndFundProposal(ctx, buyer, p.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.DealStatusInProgress, res.Deal.Status)
	assert.InDelta(t, wantDeducted, res.DeductedAmount, 0.01)
	assert.Equal(t, tx, res.Transaction)
	repo.AssertExpectations(t)
	led.AssertExpectations(t)
}

func TestProposalService_AcceptAndFund_InsufficientFunds(t *testing.T) {
	repo := new(mockProposalRepo)
	led := new(mockLedger)
	svc := newProposalService(repo, new(mockClientDir), led)
	ctx := context.Background()
	buyer := uuid.New()

	p := &models.Proposal{
		ID:              uuid.New(),
		CreatorID:       uuid.New(),
		CreatorRole:     models.RoleSeller,
		CounterpartyID:  buyer,
		FeeSplitPercent: 100,
		Status:          models.ProposalStatusAwaitingBuyer,
		Milestones:      []models.MilestoneSpec{{Title: "Этап", Amount: 500_000}},
	}
	repo.On("GetProposal", ctx, p.ID).Return(p, nil)
	repo.On("AcceptProposal", ctx, p.ID, models.ProposalStatusAwaitingBuyer,
		mock.AnythingOfType("*models.Deal"), mock.AnythingOfType("[]models.Milestone")).Return(true, nil)
	led.On("Debit", ctx, buyer, mock.AnythingOfType("float64"),
		mock.AnythingOfType("uuid.UUID"), (*int)(nil), mock.AnythingOfType("string")).Return(nil, ledger.ErrInsufficientFunds)
	// Компенсация обязана вернуть предложение в ожидание покупателя.
	repo.On("RevertAcceptance", ctx, p.ID, mock.AnythingOfType("uuid.UUID"),
		models.ProposalStatusAwaitingBuyer).Return(nil)

	_, err := svc.AcceptAndFundProposal(ctx, buyer, p.ID)
	assert.True(t, apperror.IsInsufficientBalance(err))
	repo.AssertExpectations(t)
}

func TestProposalService_AcceptAndFund_WrongStatus(t *testing.T) {
	repo := new(mockProposalRepo)
	svc := newProposalService(repo, new(mockClientDir), new(mockLedger))
	ctx := context.Background()
	seller := uuid.New()

	// Предложение покупателя не принимается через accept-and-fund.
	p := &models.Proposal{
		ID:             uuid.New(),
		CreatorID:      uuid.New(),
		CreatorRole:    models.RoleBuyer,
		CounterpartyID: seller,
		Status:         models.ProposalStatusPending,
		Milestones:     []models.MilestoneSpec{{Title: "Этап", Amount: 500_000}},
	}
	repo.On("GetProposal", ctx, p.ID).Return(p, nil)

	_, err := svc.AcceptAndFundProposal(ctx, seller, p.ID)
	assert.True(t, apperror.IsInvalidState(err))
}

func TestProposalService_DeclineProposal(t *testing.T) {
	repo := new(mockProposalRepo)
	svc := newProposalService(repo, new(mockClientDir), new(mockLedger))
	ctx := context.Background()
	counterparty := uuid.New()

	p := &models.Proposal{
		ID:             uuid.New(),
		CreatorID:      uuid.New(),
		CounterpartyID: counterparty,
		Status:         models.ProposalStatusPending,
	}
	repo.On("GetProposal", ctx, p.ID).Return(p, nil)
	repo.On("DeclineProposal", ctx, p.ID).Return(true, nil)

	err := svc.DeclineProposal(ctx, counterparty, p.ID)
	assert.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestProposalService_DeclineProposal_AlreadyDecided(t *testing.T) {
	repo := new(mockProposalRepo)
	svc := newProposalService(repo, new(mockClientDir), new(mockLedger))
	ctx := context.Background()
	counterparty := uuid.New()

	p := &models.Proposal{
		ID:             uuid.New(),
		CreatorID:      uuid.New(),
		CounterpartyID: counterparty,
		Status:         models.ProposalStatusAccepted,
	}
	repo.On("GetProposal", ctx, p.ID).Return(p, nil)
	repo.On("DeclineProposal", ctx, p.ID).Return(false, nil)

	err := svc.DeclineProposal(ctx, counterparty, p.ID)
	assert.True(t, apperror.IsInvalidState(err))
}
