package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/safedeal/escrow-backend/internal/models"
	"github.com/safedeal/escrow-backend/internal/repository/common"
)

var (
	ErrDisputeNotFound      = errors.New("dispute not found")
	ErrDisputeAlreadyExists = errors.New("open dispute already exists for this target")
)

type DisputeRepository struct {
	db *sqlx.DB
}

func NewDisputeRepository(db *sqlx.DB) *DisputeRepository {
	return &DisputeRepository{db: db}
}

// CreateDispute открывает спор под блокировкой сделки. Для спора по этапу
// сам этап в той же транзакции переводится в disputed с запоминанием
// прежнего статуса; спор по всей сделке статусы этапов не трогает и
// замораживает переходы только через проверку открытых споров.
func (r *DisputeRepository) CreateDispute(ctx context.Context, d *models.Dispute) error {
	return common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := lockDeal(ctx, tx, d.DealID); err != nil {
			return err
		}

		var exists bool
		err := tx.GetContext(ctx, &exists, `
			SELECT EXISTS (
				SELECT 1 FROM disputes
				WHERE deal_id = $1 AND status = $2
				  AND (milestone_idx IS NOT DISTINCT FROM $3)
			)
		`, d.DealID, models.DisputeStatusOpen, d.MilestoneIdx)
		if err != nil {
			return fmt.Errorf("dispute repository: check existing %w", err)
		}
		if exists {
			return ErrDisputeAlreadyExists
		}

		if d.MilestoneIdx != nil {
			if _, err := markDisputedTx(ctx, tx, d.DealID, *d.MilestoneIdx); err != nil {
				return err
			}
		}

		err = tx.GetContext(ctx, d, `
			INSERT INTO disputes (id, deal_id, milestone_idx, raised_by, reason, status)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id, deal_id, milestone_idx, raised_by, reason, status, resolved_by, created_at, resolved_at
		`, d.ID, d.DealID, d.MilestoneIdx, d.RaisedBy, d.Reason, d.Status)
		if err != nil {
			return fmt.Errorf("dispute repository: create %w", err)
		}
		return nil
	})
}

// ResolveDispute закрывает спор и возвращает этапу его статус до спора.
// Движок не решает, кто прав: разморозка — единственный автоматический эффект.
func (r *DisputeRepository) ResolveDispute(ctx context.Context, disputeID, resolvedBy uuid.UUID) (*models.Dispute, error) {
	var dispute models.Dispute
	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &dispute, `
			SELECT * FROM disputes WHERE id = $1 FOR UPDATE
		`, disputeID)
		if err != nil {
			return ErrDisputeNotFound
		}
		if dispute.Status != models.DisputeStatusOpen {
			return common.ErrBadTransition
		}

		if _, err := lockDeal(ctx, tx, dispute.DealID); err != nil {
			return err
		}

		err = tx.GetContext(ctx, &dispute, `
			UPDATE disputes SET status = $2, resolved_by = $3, resolved_at = NOW()
			WHERE id = $1
			RETURNING id, deal_id, milestone_idx, raised_by, reason, status, resolved_by, created_at, resolved_at
		`, disputeID, models.DisputeStatusResolved, resolvedBy)
		if err != nil {
			return fmt.Errorf("dispute repository: resolve %w", err)
		}

		if dispute.MilestoneIdx != nil {
			return restoreFromDisputeTx(ctx, tx, dispute.DealID, *dispute.MilestoneIdx)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &dispute, nil
}

// GetDispute возвращает спор по ID.
func (r *DisputeRepository) GetDispute(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	return common.GetByID[models.Dispute](ctx, r.db, "disputes", id, ErrDisputeNotFound)
}

// HasOpenDispute сообщает, есть ли по сделке хотя бы один открытый спор.
func (r *DisputeRepository) HasOpenDispute(ctx context.Context, dealID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `
		SELECT EXISTS (SELECT 1 FROM disputes WHERE deal_id = $1 AND status = $2)
	`, dealID, models.DisputeStatusOpen)
	if err != nil {
		return false, fmt.Errorf("dispute repository: has open %w", err)
	}
	return exists, nil
}

// ListDisputesForUser возвращает споры по сделкам, где пользователь сторона.
func (r *DisputeRepository) ListDisputesForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Dispute, error) {
	var disputes []models.Dispute
	err := r.db.SelectContext(ctx, &disputes, `
		SELECT d.* FROM disputes d
		JOIN deals dl ON dl.id = d.deal_id
		WHERE d.raised_by = $1 OR dl.buyer_id = $1 OR dl.seller_id = $1
		ORDER BY d.created_at DESC LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("dispute repository: list %w", err)
	}
	return disputes, nil
}
