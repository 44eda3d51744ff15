package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/safedeal/escrow-backend/internal/logger"
	"github.com/safedeal/escrow-backend/internal/models"
	"github.com/safedeal/escrow-backend/internal/pkg/apperror"
)

// MilestoneApprover подтверждает этап от имени актора.
type MilestoneApprover interface {
	ApproveMilestone(ctx context.Context, actor models.Actor, dealID uuid.UUID, idx int) (*ApprovalResult, error)
}

// CountdownService периодически подбирает этапы с истёкшим обратным отсчётом
// и подтверждает их от имени системы. Sweep level-triggered: он читает только
// сохранённое состояние отсчётов, поэтому пропущенные тики и рестарты процесса
// ничего не теряют — истёкший этап будет подобран следующим проходом.
type CountdownService struct {
	deals       DealRepository
	approver    MilestoneApprover
	batchSize   int
	concurrency int
}

func NewCountdownService(deals DealRepository, approver MilestoneApprover, batchSize, concurrency int) *CountdownService {
	if batchSize <= 0 {
		batchSize = 100
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	return &CountdownService{
		deals:       deals,
		approver:    approver,
		batchSize:   batchSize,
		concurrency: concurrency,
	}
}

// Tick выполняет один проход: находит истёкшие отсчёты и подтверждает их.
// Отказ по одному этапу не останавливает остальные. Возвращает число
// успешно подтверждённых этапов.
func (s *CountdownService) Tick(ctx context.Context) (int, error) {
	refs, err := s.deals.ListExpiredCountdowns(ctx, time.Now(), s.batchSize)
	if err != nil {
		return 0, err
	}
	if len(refs) == 0 {
		return 0, nil
	}

	results := make([]bool, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, ref := range refs {
		i, ref := i, ref
		g.Go(func() error {
			res, err := s.approver.ApproveMilestone(gctx, models.SystemActor(), ref.DealID, ref.Idx)
			if err != nil {
				// Гонка с ручным действием или заморозка спором —
				// штатные исходы, этап просто пропускается.
				if apperror.IsFrozen(err) || apperror.IsInvalidState(err) {
					return nil
				}
				logger.Log.WithField("deal_id", ref.DealID).WithField("idx", ref.Idx).
					Errorf("countdown sweep: авто-аппрув не прошёл: %v", err)
				return nil
			}
			results[i] = res.Outcome == ApproveOutcomeApproved
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	approved := 0
	for _, ok := range results {
		if ok {
			approved++
		}
	}
	if approved > 0 {
		logger.Log.WithField("approved", approved).Info("countdown sweep: авто-аппрув этапов")
	}
	return approved, nil
}

// Run крутит sweep с заданным интервалом до отмены контекста.
func (s *CountdownService) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil {
				logger.Log.Errorf("countdown sweep: проход не удался: %v", err)
			}
		}
	}
}
