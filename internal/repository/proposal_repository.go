package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/safedeal/escrow-backend/internal/models"
	"github.com/safedeal/escrow-backend/internal/repository/common"
)

var ErrProposalNotFound = errors.New("proposal not found")

type ProposalRepository struct {
	db *sqlx.DB
}

func NewProposalRepository(db *sqlx.DB) *ProposalRepository {
	return &ProposalRepository{db: db}
}

// CreateProposal сохраняет предложение вместе со спецификациями этапов.
func (r *ProposalRepository) CreateProposal(ctx context.Context, p *models.Proposal) error {
	return common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, p, `
			INSERT INTO proposals (id, creator_id, creator_role, counterparty_id, fee_split_percent, status)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id, creator_id, creator_role, counterparty_id, fee_split_percent, status, created_at, updated_at
		`, p.ID, p.CreatorID, p.CreatorRole, p.CounterpartyID, p.FeeSplitPercent, p.Status)
		if err != nil {
			return fmt.Errorf("proposal repository: create %w", err)
		}
		return insertSpecsTx(ctx, tx, p.ID, p.Milestones)
	})
}

// insertSpecsTx вставляет спецификации этапов батчем.
func insertSpecsTx(ctx context.Context, tx *sqlx.Tx, proposalID uuid.UUID, specs []models.MilestoneSpec) error {
	inserter := common.NewBatchInserter(tx, `
		INSERT INTO proposal_milestones (proposal_id, idx, title, description, amount, due_at)
	`, 6, 100)
	for i := range specs {
		s := &specs[i]
		if err := inserter.Add(ctx, proposalID, s.Idx, s.Title, s.Description, s.Amount, s.DueAt); err != nil {
			return fmt.Errorf("proposal repository: add spec %w", err)
		}
	}
	if err := inserter.Flush(ctx); err != nil {
		return fmt.Errorf("proposal repository: insert specs %w", err)
	}
	return nil
}

// GetProposal возвращает предложение с этапами.
func (r *ProposalRepository) GetProposal(ctx context.Context, id uuid.UUID) (*models.Proposal, error) {
	p, err := common.GetByID[models.Proposal](ctx, r.db, "proposals", id, ErrProposalNotFound)
	if err != nil {
		return nil, err
	}
	err = r.db.SelectContext(ctx, &p.Milestones, `
		SELECT * FROM proposal_milestones WHERE proposal_id = $1 ORDER BY idx
	`, id)
	if err != nil {
		return nil, fmt.Errorf("proposal repository: load specs %w", err)
	}
	return p, nil
}

// ListProposalsForUser возвращает предложения, где пользователь является стороной.
func (r *ProposalRepository) ListProposalsForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Proposal, error) {
	var proposals []models.Proposal
	err := r.db.SelectContext(ctx, &proposals, `
		SELECT * FROM proposals WHERE creator_id = $1 OR counterparty_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("proposal repository: list %w", err)
	}
	return proposals, nil
}

// UpdateProposal заменяет условия предложения, пока оно редактируемо.
// Условный UPDATE гарантирует, что принятое предложение уже не изменится.
func (r *ProposalRepository) UpdateProposal(ctx context.Context, p *models.Proposal) error {
	return common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE proposals SET counterparty_id = $2, fee_split_percent = $3, updated_at = NOW()
			WHERE id = $1 AND status IN ($4, $5)
		`, p.ID, p.CounterpartyID, p.FeeSplitPercent,
			models.ProposalStatusPending, models.ProposalStatusAwaitingBuyer)
		if err != nil {
			return fmt.Errorf("proposal repository: update %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return common.ErrBadTransition
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM proposal_milestones WHERE proposal_id = $1`, p.ID); err != nil {
			return fmt.Errorf("proposal repository: clear specs %w", err)
		}
		return insertSpecsTx(ctx, tx, p.ID, p.Milestones)
	})
}

// DeclineProposal переводит предложение в declined.
func (r *ProposalRepository) DeclineProposal(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE proposals SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status IN ($3, $4)
	`, id, models.ProposalStatusDeclined,
		models.ProposalStatusPending, models.ProposalStatusAwaitingBuyer)
	if err != nil {
		return false, fmt.Errorf("proposal repository: decline %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// AcceptProposal принимает предложение и материализует сделку в одной
// транзакции. Условный UPDATE по статусу допускает ровно одно принятие.
func (r *ProposalRepository) AcceptProposal(ctx context.Context, proposalID uuid.UUID, fromStatus string, deal *models.Deal, milestones []models.Milestone) (bool, error) {
	accepted := false
	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		var status string
		err := tx.GetContext(ctx, &status, `
			UPDATE proposals SET status = $2, updated_at = NOW()
			WHERE id = $1 AND status = $3
			RETURNING status
		`, proposalID, models.ProposalStatusAccepted, fromStatus)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("proposal repository: accept %w", err)
		}
		accepted = true
		return insertDealTx(ctx, tx, deal, milestones)
	})
	if err != nil {
		return false, err
	}
	return accepted, nil
}

// RevertAcceptance компенсирует отказ дебета при accept-and-fund:
// сделка удаляется, предложение возвращается в прежний статус.
func (r *ProposalRepository) RevertAcceptance(ctx context.Context, proposalID, dealID uuid.UUID, restoreStatus string) error {
	return common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM milestones WHERE deal_id = $1`, dealID); err != nil {
			return fmt.Errorf("proposal repository: revert delete milestones %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM deals WHERE id = $1`, dealID); err != nil {
			return fmt.Errorf("proposal repository: revert delete deal %w", err)
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE proposals SET status = $2, updated_at = NOW()
			WHERE id = $1 AND status = $3
		`, proposalID, restoreStatus, models.ProposalStatusAccepted)
		if err != nil {
			return fmt.Errorf("proposal repository: revert status %w", err)
		}
		return nil
	})
}
