package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/safedeal/escrow-backend/internal/ledger"
	"github.com/safedeal/escrow-backend/internal/models"
)

func setupExpiredDeal(t *testing.T, repo *fakeDealRepo, led *countingLedger) (*DealService, uuid.UUID, uuid.UUID, uuid.UUID) {
	t.Helper()
	// Отрицательное окно: любой сданный этап сразу просрочен.
	svc := newDealService(repo, led, -time.Millisecond)
	ctx := context.Background()
	buyer := uuid.New()
	seller := uuid.New()

	res, err := svc.CreateFundedDeal(ctx, buyer, dealInput(seller))
	assert.NoError(t, err)
	_, err = svc.SubmitMilestone(ctx, seller, res.Deal.ID, 0, SubmissionInput{})
	assert.NoError(t, err)
	_, err = svc.SubmitMilestone(ctx, seller, res.Deal.ID, 1, SubmissionInput{})
	assert.NoError(t, err)
	return svc, res.Deal.ID, buyer, seller
}

func TestCountdownService_Tick_ApprovesExpired(t *testing.T) {
	repo := newFakeDealRepo()
	led := &countingLedger{}
	deals, dealID, _, _ := setupExpiredDeal(t, repo, led)

	sweep := NewCountdownService(repo, deals, 100, 4)
	approved, err := sweep.Tick(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 2, approved)
	assert.Equal(t, 2, led.creditCount())

	for idx := 0; idx < 2; idx++ {
		m, err := repo.GetMilestone(context.Background(), dealID, idx)
		assert.NoError(t, err)
		assert.Equal(t, models.MilestoneStatusCompleted, m.Status)
	}

	// Повторный проход ничего не находит: состояние уже сошлось.
	approved, err = sweep.Tick(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 0, approved)
	assert.Equal(t, 2, led.creditCount())
}

func TestCountdownService_Tick_SkipsCancelled(t *testing.T) {
	repo := newFakeDealRepo()
	led := &countingLedger{}
	deals, dealID, buyer, _ := setupExpiredDeal(t, repo, led)
	ctx := context.Background()

	// Покупатель остановил отсчёт первого этапа: просроченный дедлайн
	// больше ничего не значит, единственный фильтр — активность отсчёта.
	_, err := deals.CancelCountdown(ctx, buyer, dealID, 0)
	assert.NoError(t, err)

	sweep := NewCountdownService(repo, deals, 100, 4)
	approved, err := sweep.Tick(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, approved)

	m, _ := repo.GetMilestone(ctx, dealID, 0)
	assert.Equal(t, models.MilestoneStatusSubmitted, m.Status)
	m, _ = repo.GetMilestone(ctx, dealID, 1)
	assert.Equal(t, models.MilestoneStatusCompleted, m.Status)
}

func TestCountdownService_Tick_IsolatesFailures(t *testing.T) {
	repo := newFakeDealRepo()
	led := &countingLedger{creditErr: ledger.ErrUnavailable}
	deals, dealID, _, _ := setupExpiredDeal(t, repo, led)
	ctx := context.Background()

	sweep := NewCountdownService(repo, deals, 100, 4)
	approved, err := sweep.Tick(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 0, approved)

	// Компенсация вернула этапы на согласование, следующий проход добирает.
	led.mu.Lock()
	led.creditErr = nil
	led.mu.Unlock()
	approved, err = sweep.Tick(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 2, approved)
	assert.Equal(t, 2, led.creditCount())

	m, _ := repo.GetMilestone(ctx, dealID, 1)
	assert.Equal(t, models.MilestoneStatusCompleted, m.Status)
}

func TestCountdownService_Tick_Empty(t *testing.T) {
	repo := newFakeDealRepo()
	sweep := NewCountdownService(repo, newDealService(repo, &countingLedger{}, time.Hour), 100, 4)

	approved, err := sweep.Tick(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 0, approved)
}

func TestCountdownService_Run_StopsOnCancel(t *testing.T) {
	repo := newFakeDealRepo()
	sweep := NewCountdownService(repo, newDealService(repo, &countingLedger{}, time.Hour), 100, 4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweep.Run(ctx, time.Millisecond)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweep не остановился по отмене контекста")
	}
}
