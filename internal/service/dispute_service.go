package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/safedeal/escrow-backend/internal/models"
	"github.com/safedeal/escrow-backend/internal/notify"
	"github.com/safedeal/escrow-backend/internal/pkg/apperror"
	"github.com/safedeal/escrow-backend/internal/repository"
	"github.com/safedeal/escrow-backend/internal/repository/common"
)

// DisputeRepository описывает хранилище споров.
type DisputeRepository interface {
	CreateDispute(ctx context.Context, d *models.Dispute) error
	ResolveDispute(ctx context.Context, disputeID, resolvedBy uuid.UUID) (*models.Dispute, error)
	GetDispute(ctx context.Context, id uuid.UUID) (*models.Dispute, error)
	HasOpenDispute(ctx context.Context, dealID uuid.UUID) (bool, error)
	ListDisputesForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Dispute, error)
}

// DisputeInput запрос на открытие спора.
type DisputeInput struct {
	MilestoneIdx *int
	Reason       string
}

// DisputeService открывает и разрешает споры. Открытый спор замораживает
// ledger-переходы по затронутым этапам; движок не выносит решений по существу,
// разрешение только снимает заморозку и возвращает этапу статус до спора.
type DisputeService struct {
	repo  DisputeRepository
	deals DealRepository
	sink  notify.Sink
}

func NewDisputeService(repo DisputeRepository, deals DealRepository, sink notify.Sink) *DisputeService {
	return &DisputeService{repo: repo, deals: deals, sink: sink}
}

// RaiseDispute открывает спор по сделке целиком или по одному её этапу.
func (s *DisputeService) RaiseDispute(ctx context.Context, actorID, dealID uuid.UUID, in DisputeInput) (*models.Dispute, error) {
	reason := strings.TrimSpace(in.Reason)
	if utf8.RuneCountInString(reason) < models.MinReasonLen {
		return nil, apperror.New(apperror.ErrCodeValidation,
			fmt.Sprintf("причина спора должна быть не короче %d символов", models.MinReasonLen))
	}

	deal, err := s.deals.GetDeal(ctx, dealID)
	if err != nil {
		return nil, mapDealErr(err)
	}
	if deal.BuyerID != actorID && deal.SellerID != actorID {
		return nil, apperror.New(apperror.ErrCodeForbidden, "открыть спор может только сторона сделки")
	}
	if deal.Status == models.DealStatusAwaitingFunding {
		return nil, apperror.New(apperror.ErrCodeInvalidState, "спор доступен только по профинансированной сделке")
	}

	milestones, err := s.deals.ListMilestones(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if models.DeriveDealStatus(deal, milestones, false) == models.DealStatusCompleted {
		return nil, apperror.New(apperror.ErrCodeInvalidState, "по завершённой сделке нельзя открыть спор")
	}
	if in.MilestoneIdx != nil {
		idx := *in.MilestoneIdx
		if idx < 0 || idx >= len(milestones) {
			return nil, apperror.ErrMilestoneNotFound
		}
		if milestones[idx].Status == models.MilestoneStatusCompleted {
			return nil, apperror.New(apperror.ErrCodeInvalidState, "по завершённому этапу нельзя открыть спор")
		}
	}

	dispute := &models.Dispute{
		ID:           uuid.New(),
		DealID:       dealID,
		MilestoneIdx: in.MilestoneIdx,
		RaisedBy:     actorID,
		Reason:       reason,
		Status:       models.DisputeStatusOpen,
	}
	if err := s.repo.CreateDispute(ctx, dispute); err != nil {
		switch {
		case errors.Is(err, repository.ErrDisputeAlreadyExists):
			return nil, apperror.New(apperror.ErrCodeInvalidState, "по этому предмету уже открыт спор")
		case errors.Is(err, common.ErrBadTransition):
			return nil, apperror.New(apperror.ErrCodeInvalidState, "этап нельзя оспорить в текущем статусе")
		default:
			return nil, err
		}
	}

	counterparty := deal.BuyerID
	if actorID == deal.BuyerID {
		counterparty = deal.SellerID
	}
	s.sink.Emit(counterparty, notify.EventDisputeOpened, dispute)
	return dispute, nil
}

// ResolveDispute закрывает спор. Доступно только администратору.
func (s *DisputeService) ResolveDispute(ctx context.Context, actor models.Actor, disputeID uuid.UUID) (*models.Dispute, error) {
	if actor.Kind != models.ActorKindAdmin {
		return nil, apperror.New(apperror.ErrCodeForbidden, "разрешать споры может только администратор")
	}

	dispute, err := s.repo.ResolveDispute(ctx, disputeID, actor.ID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrDisputeNotFound):
			return nil, apperror.ErrDisputeNotFound
		case errors.Is(err, common.ErrBadTransition):
			return nil, apperror.New(apperror.ErrCodeInvalidState, "спор уже разрешён")
		default:
			return nil, err
		}
	}

	if deal, err := s.deals.GetDeal(ctx, dispute.DealID); err == nil {
		s.sink.Emit(deal.BuyerID, notify.EventDisputeResolved, dispute)
		s.sink.Emit(deal.SellerID, notify.EventDisputeResolved, dispute)
	}
	return dispute, nil
}

// GetDispute возвращает спор. Видно сторонам сделки и администратору.
func (s *DisputeService) GetDispute(ctx context.Context, actor models.Actor, disputeID uuid.UUID) (*models.Dispute, error) {
	dispute, err := s.repo.GetDispute(ctx, disputeID)
	if err != nil {
		if errors.Is(err, repository.ErrDisputeNotFound) {
			return nil, apperror.ErrDisputeNotFound
		}
		return nil, err
	}
	if actor.Kind == models.ActorKindUser {
		deal, err := s.deals.GetDeal(ctx, dispute.DealID)
		if err != nil {
			return nil, mapDealErr(err)
		}
		if actor.ID != deal.BuyerID && actor.ID != deal.SellerID {
			return nil, apperror.ErrForbidden
		}
	}
	return dispute, nil
}

// ListDisputes возвращает споры по сделкам, где пользователь сторона.
func (s *DisputeService) ListDisputes(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Dispute, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.repo.ListDisputesForUser(ctx, userID, limit, offset)
}
