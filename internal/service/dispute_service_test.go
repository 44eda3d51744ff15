package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/safedeal/escrow-backend/internal/models"
	"github.com/safedeal/escrow-backend/internal/notify"
	"github.com/safedeal/escrow-backend/internal/pkg/apperror"
	"github.com/safedeal/escrow-backend/internal/repository"
	"github.com/safedeal/escrow-backend/internal/repository/common"
)

type mockDisputeRepo struct {
	mock.Mock
}

func (m *mockDisputeRepo) CreateDispute(ctx context.Context, d *models.Dispute) error {
	args := m.Called(ctx, d)
	return args.Error(0)
}

func (m *mockDisputeRepo) ResolveDispute(ctx context.Context, disputeID, resolvedBy uuid.UUID) (*models.Dispute, error) {
	args := m.Called(ctx, disputeID, resolvedBy)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Dispute), args.Error(1)
}

func (m *mockDisputeRepo) GetDispute(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Dispute), args.Error(1)
}

func (m *mockDisputeRepo) HasOpenDispute(ctx context.Context, dealID uuid.UUID) (bool, error) {
	args := m.Called(ctx, dealID)
	return args.Bool(0), args.Error(1)
}

func (m *mockDisputeRepo) ListDisputesForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Dispute, error) {
	args := m.Called(ctx, userID, limit, offset)
	return args.Get(0).([]models.Dispute), args.Error(1)
}

func setupFundedDeal(t *testing.T, repo *fakeDealRepo) (uuid.UUID, uuid.UUID, uuid.UUID) {
	t.Helper()
	svc := newDealService(repo, &countingLedger{}, 72*time.Hour)
	buyer := uuid.New()
	seller := uuid.New()
	res, err := svc.CreateFundedDeal(context.Background(), buyer, dealInput(seller))
	assert.NoError(t, err)
	return res.Deal.ID, buyer, seller
}

func TestDisputeService_RaiseDispute_Success(t *testing.T) {
	deals := newFakeDealRepo()
	disputes := new(mockDisputeRepo)
	svc := NewDisputeService(disputes, deals, notify.LogSink{})
	ctx := context.Background()
	dealID, _, seller := setupFundedDeal(t, deals)

	idx := 1
	disputes.On("CreateDispute", ctx, mock.AnythingOfType("*models.Dispute")).Return(nil)

	d, err := svc.RaiseDispute(ctx, seller, dealID, DisputeInput{
		MilestoneIdx: &idx,
		Reason:       "Работа не оплачивается вовремя",
	})
	assert.NoError(t, err)
	assert.Equal(t, models.DisputeStatusOpen, d.Status)
	assert.Equal(t, seller, d.RaisedBy)
	assert.Equal(t, &idx, d.MilestoneIdx)
	disputes.AssertExpectations(t)
}

func TestDisputeService_RaiseDispute_ReasonTooShort(t *testing.T) {
	svc := NewDisputeService(new(mockDisputeRepo), newFakeDealRepo(), notify.LogSink{})

	_, err := svc.RaiseDispute(context.Background(), uuid.New(), uuid.New(), DisputeInput{Reason: "мало"})
	assert.True(t, apperror.IsValidation(err))
}

func TestDisputeService_RaiseDispute_PartyOnly(t *testing.T) {
	deals := newFakeDealRepo()
	svc := NewDisputeService(new(mockDisputeRepo), deals, notify.LogSink{})
	dealID, _, _ := setupFundedDeal(t, deals)

	_, err := svc.RaiseDispute(context.Background(), uuid.New(), dealID, DisputeInput{
		Reason: "Достаточно длинная причина",
	})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "сторона сделки")
}

func TestDisputeService_RaiseDispute_AwaitingFunding(t *testing.T) {
	deals := newFakeDealRepo()
	svc := NewDisputeService(new(mockDisputeRepo), deals, notify.LogSink{})
	ctx := context.Background()
	buyer := uuid.New()

	deal := &models.Deal{
		ID:      uuid.New(),
		BuyerID: buyer, SellerID: uuid.New(),
		TotalAmount: 500_000, FeeSplitPercent: 50,
		Status: models.DealStatusAwaitingFunding,
	}
	assert.NoError(t, deals.CreateDeal(ctx, deal, []models.Milestone{{Idx: 0, Status: models.MilestoneStatusFunded}}))

	_, err := svc.RaiseDispute(ctx, buyer, deal.ID, DisputeInput{Reason: "Достаточно длинная причина"})
	assert.True(t, apperror.IsInvalidState(err))
}

func TestDisputeService_RaiseDispute_MilestoneChecks(t *testing.T) {
	deals := newFakeDealRepo()
	disputes := new(mockDisputeRepo)
	svc := NewDisputeService(disputes, deals, notify.LogSink{})
	ctx := context.Background()
	dealID, buyer, _ := setupFundedDeal(t, deals)

	// Индекс вне диапазона.
	idx := 5
	_, err := svc.RaiseDispute(ctx, buyer, dealID, DisputeInput{
		MilestoneIdx: &idx,
		Reason:       "Достаточно длинная причина",
	})
	assert.Equal(t, apperror.ErrMilestoneNotFound, err)

	// По завершённому этапу спор не открывается.
	deals.mu.Lock()
	deals.milestones[0].Status = models.MilestoneStatusCompleted
	deals.mu.Unlock()
	idx = 0
	_, err = svc.RaiseDispute(ctx, buyer, dealID, DisputeInput{
		MilestoneIdx: &idx,
		Reason:       "Достаточно длинная причина",
	})
	assert.True(t, apperror.IsInvalidState(err))
}

func TestDisputeService_RaiseDispute_CompletedDeal(t *testing.T) {
	deals := newFakeDealRepo()
	svc := NewDisputeService(new(mockDisputeRepo), deals, notify.LogSink{})
	ctx := context.Background()
	dealID, buyer, _ := setupFundedDeal(t, deals)

	deals.mu.Lock()
	for i := range deals.milestones {
		deals.milestones[i].Status = models.MilestoneStatusCompleted
	}
	deals.mu.Unlock()

	_, err := svc.RaiseDispute(ctx, buyer, dealID, DisputeInput{Reason: "Достаточно длинная причина"})
	assert.True(t, apperror.IsInvalidState(err))
}

func TestDisputeService_RaiseDispute_Duplicate(t *testing.T) {
	deals := newFakeDealRepo()
	disputes := new(mockDisputeRepo)
	svc := NewDisputeService(disputes, deals, notify.LogSink{})
	ctx := context.Background()
	dealID, buyer, _ := setupFundedDeal(t, deals)

	disputes.On("CreateDispute", ctx, mock.AnythingOfType("*models.Dispute")).
		Return(repository.ErrDisputeAlreadyExists)

	_, err := svc.RaiseDispute(ctx, buyer, dealID, DisputeInput{Reason: "Достаточно длинная причина"})
	assert.True(t, apperror.IsInvalidState(err))
	assert.Contains(t, err.Error(), "уже открыт")
}

func TestDisputeService_ResolveDispute_AdminOnly(t *testing.T) {
	svc := NewDisputeService(new(mockDisputeRepo), newFakeDealRepo(), notify.LogSink{})

	_, err := svc.ResolveDispute(context.Background(), models.UserActor(uuid.New()), uuid.New())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "администратор")
}

func TestDisputeService_ResolveDispute_Success(t *testing.T) {
	deals := newFakeDealRepo()
	disputes := new(mockDisputeRepo)
	svc := NewDisputeService(disputes, deals, notify.LogSink{})
	ctx := context.Background()
	dealID, _, _ := setupFundedDeal(t, deals)
	admin := models.AdminActor(uuid.New())

	resolved := &models.Dispute{
		ID:         uuid.New(),
		DealID:     dealID,
		Status:     models.DisputeStatusResolved,
		ResolvedBy: &admin.ID,
	}
	disputes.On("ResolveDispute", ctx, resolved.ID, admin.ID).Return(resolved, nil)

	d, err := svc.ResolveDispute(ctx, admin, resolved.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.DisputeStatusResolved, d.Status)
	disputes.AssertExpectations(t)
}

func TestDisputeService_ResolveDispute_AlreadyResolved(t *testing.T) {
	disputes := new(mockDisputeRepo)
	svc := NewDisputeService(disputes, newFakeDealRepo(), notify.LogSink{})
	ctx := context.Background()
	admin := models.AdminActor(uuid.New())
	disputeID := uuid.New()

	disputes.On("ResolveDispute", ctx, disputeID, admin.ID).Return(nil, common.ErrBadTransition)

	_, err := svc.ResolveDispute(ctx, admin, disputeID)
	assert.True(t, apperror.IsInvalidState(err))
}

func TestDisputeService_GetDispute_PartyOrAdmin(t *testing.T) {
	deals := newFakeDealRepo()
	disputes := new(mockDisputeRepo)
	svc := NewDisputeService(disputes, deals, notify.LogSink{})
	ctx := context.Background()
	dealID, buyer, _ := setupFundedDeal(t, deals)

	d := &models.Dispute{ID: uuid.New(), DealID: dealID, Status: models.DisputeStatusOpen}
	disputes.On("GetDispute", ctx, d.ID).Return(d, nil)

	_, err := svc.GetDispute(ctx, models.UserActor(uuid.New()), d.ID)
	assert.Equal(t, apperror.ErrForbidden, err)

	got, err := svc.GetDispute(ctx, models.UserActor(buyer), d.ID)
	assert.NoError(t, err)
	assert.Equal(t, d, got)

	got, err = svc.GetDispute(ctx, models.AdminActor(uuid.New()), d.ID)
	assert.NoError(t, err)
	assert.Equal(t, d, got)
}
