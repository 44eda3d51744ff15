package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/safedeal/escrow-backend/internal/models"
	"github.com/safedeal/escrow-backend/internal/repository/common"
)

var (
	ErrDealNotFound      = errors.New("deal not found")
	ErrMilestoneNotFound = errors.New("milestone not found")
)

const milestoneColumns = `id, deal_id, idx, title, description, amount, due_at, status,
	submission_message, submission_files, submitted_at,
	revision_message, revision_requested_at,
	countdown_active, countdown_expires_at, countdown_cancelled_at,
	pre_dispute_status, completed_at, created_at, updated_at`

type DealRepository struct {
	db *sqlx.DB
}

func NewDealRepository(db *sqlx.DB) *DealRepository {
	return &DealRepository{db: db}
}

// CreateDeal сохраняет сделку вместе с её этапами.
func (r *DealRepository) CreateDeal(ctx context.Context, deal *models.Deal, milestones []models.Milestone) error {
	return common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		return insertDealTx(ctx, tx, deal, milestones)
	})
}

// insertDealTx вставляет сделку и этапы внутри уже открытой транзакции.
// Используется и при создании сделки напрямую, и при принятии предложения.
func insertDealTx(ctx context.Context, tx *sqlx.Tx, deal *models.Deal, milestones []models.Milestone) error {
	err := tx.GetContext(ctx, deal, `
		INSERT INTO deals (id, proposal_id, buyer_id, seller_id, total_amount, fee_amount, fee_split_percent, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, proposal_id, buyer_id, seller_id, total_amount, fee_amount, fee_split_percent, status, created_at, updated_at
	`, deal.ID, deal.ProposalID, deal.BuyerID, deal.SellerID, deal.TotalAmount, deal.FeeAmount, deal.FeeSplitPercent, deal.Status)
	if err != nil {
		return fmt.Errorf("deal repository: create deal %w", err)
	}

	inserter := common.NewBatchInserter(tx, `
		INSERT INTO milestones (deal_id, idx, title, description, amount, due_at, status)
	`, 7, 100)
	for i := range milestones {
		m := &milestones[i]
		if err := inserter.Add(ctx, deal.ID, m.Idx, m.Title, m.Description, m.Amount, m.DueAt, models.MilestoneStatusFunded); err != nil {
			return fmt.Errorf("deal repository: add milestone %w", err)
		}
	}
	if err := inserter.Flush(ctx); err != nil {
		return fmt.Errorf("deal repository: insert milestones %w", err)
	}
	return nil
}

// GetDeal возвращает сделку по ID.
func (r *DealRepository) GetDeal(ctx context.Context, id uuid.UUID) (*models.Deal, error) {
	return common.GetByID[models.Deal](ctx, r.db, "deals", id, ErrDealNotFound)
}

// GetMilestone возвращает один этап сделки.
func (r *DealRepository) GetMilestone(ctx context.Context, dealID uuid.UUID, idx int) (*models.Milestone, error) {
	var m models.Milestone
	query := fmt.Sprintf(`SELECT %s FROM milestones WHERE deal_id = $1 AND idx = $2`, milestoneColumns)
	if err := r.db.GetContext(ctx, &m, query, dealID, idx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMilestoneNotFound
		}
		return nil, fmt.Errorf("deal repository: get milestone %w", err)
	}
	return &m, nil
}

// ListMilestones возвращает этапы сделки в исходном порядке.
func (r *DealRepository) ListMilestones(ctx context.Context, dealID uuid.UUID) ([]models.Milestone, error) {
	var milestones []models.Milestone
	query := fmt.Sprintf(`SELECT %s FROM milestones WHERE deal_id = $1 ORDER BY idx`, milestoneColumns)
	if err := r.db.SelectContext(ctx, &milestones, query, dealID); err != nil {
		return nil, fmt.Errorf("deal repository: list milestones %w", err)
	}
	return milestones, nil
}

// ListDealsForParty возвращает сделки, где пользователь покупатель или продавец.
func (r *DealRepository) ListDealsForParty(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Deal, error) {
	var deals []models.Deal
	err := r.db.SelectContext(ctx, &deals, `
		SELECT * FROM deals WHERE buyer_id = $1 OR seller_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("deal repository: list deals %w", err)
	}
	return deals, nil
}

// DeleteDeal удаляет сделку и её этапы. Используется только как компенсация
// при отказе дебета: наружу такая сделка никогда не была видна.
func (r *DealRepository) DeleteDeal(ctx context.Context, id uuid.UUID) error {
	return common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM milestones WHERE deal_id = $1`, id); err != nil {
			return fmt.Errorf("deal repository: delete milestones %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM deals WHERE id = $1`, id); err != nil {
			return fmt.Errorf("deal repository: delete deal %w", err)
		}
		return nil
	})
}

// MarkFunded переводит сделку awaiting_funding -> in_progress.
// Условный UPDATE допускает ровно одного победителя.
func (r *DealRepository) MarkFunded(ctx context.Context, dealID uuid.UUID) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE deals SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3
	`, dealID, models.DealStatusInProgress, models.DealStatusAwaitingFunding)
	if err != nil {
		return false, fmt.Errorf("deal repository: mark funded %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// RevertFunding компенсирует неудачный дебет: сделка возвращается в awaiting_funding.
func (r *DealRepository) RevertFunding(ctx context.Context, dealID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE deals SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3
	`, dealID, models.DealStatusAwaitingFunding, models.DealStatusInProgress)
	if err != nil {
		return fmt.Errorf("deal repository: revert funding %w", err)
	}
	return nil
}

// lockDeal блокирует строку сделки FOR UPDATE: все переходы по этапам
// одной сделки сериализуются через эту блокировку.
func lockDeal(ctx context.Context, tx *sqlx.Tx, dealID uuid.UUID) (*models.Deal, error) {
	var deal models.Deal
	err := tx.GetContext(ctx, &deal, `SELECT * FROM deals WHERE id = $1 FOR UPDATE`, dealID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDealNotFound
		}
		return nil, fmt.Errorf("deal repository: lock deal %w", err)
	}
	return &deal, nil
}

// frozenByDispute проверяет под блокировкой, заморожен ли этап открытым спором
// (по самому этапу или по всей сделке).
func frozenByDispute(ctx context.Context, tx *sqlx.Tx, dealID uuid.UUID, idx int) (bool, error) {
	var frozen bool
	err := tx.GetContext(ctx, &frozen, `
		SELECT EXISTS (
			SELECT 1 FROM disputes
			WHERE deal_id = $1 AND status = $2 AND (milestone_idx IS NULL OR milestone_idx = $3)
		)
	`, dealID, models.DisputeStatusOpen, idx)
	if err != nil {
		return false, fmt.Errorf("deal repository: check dispute freeze %w", err)
	}
	return frozen, nil
}

// SubmitMilestone переводит этап funded|revision_requested -> submitted_for_approval.
// Повторная сдача перезаписывает прежнюю запись о сдаче и очищает запись
// о доработке; отсчёт запускается заново.
func (r *DealRepository) SubmitMilestone(ctx context.Context, dealID uuid.UUID, idx int, message string, files []string, expiresAt time.Time) (*models.Milestone, error) {
	var milestone models.Milestone
	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		deal, err := lockDeal(ctx, tx, dealID)
		if err != nil {
			return err
		}
		if deal.Status != models.DealStatusInProgress {
			return common.ErrBadTransition
		}

		frozen, err := frozenByDispute(ctx, tx, dealID, idx)
		if err != nil {
			return err
		}
		if frozen {
			return common.ErrFrozen
		}

		query := fmt.Sprintf(`
			UPDATE milestones SET
				status = $3,
				submission_message = $4,
				submission_files = $5,
				submitted_at = NOW(),
				revision_message = NULL,
				revision_requested_at = NULL,
				countdown_active = TRUE,
				countdown_expires_at = $6,
				countdown_cancelled_at = NULL,
				updated_at = NOW()
			WHERE deal_id = $1 AND idx = $2 AND status IN ($7, $8)
			RETURNING %s
		`, milestoneColumns)
		err = tx.GetContext(ctx, &milestone, query,
			dealID, idx, models.MilestoneStatusSubmitted, message, pq.StringArray(files), expiresAt,
			models.MilestoneStatusFunded, models.MilestoneStatusRevision)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return r.classifyMiss(ctx, tx, dealID, idx)
			}
			return fmt.Errorf("deal repository: submit milestone %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &milestone, nil
}

// CompleteMilestone атомарно переводит этап submitted_for_approval -> completed.
// Именно этот условный UPDATE схлопывает гонку ручного аппрува и планировщика
// в одного победителя: проигравший получает ErrAlreadyResolved.
// requireExpiredCountdown включается для системного актора: авто-аппрув
// проходит только при активном и истёкшем отсчёте.
func (r *DealRepository) CompleteMilestone(ctx context.Context, dealID uuid.UUID, idx int, requireExpiredCountdown bool) (*models.Milestone, error) {
	var milestone models.Milestone
	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := lockDeal(ctx, tx, dealID); err != nil {
			return err
		}

		frozen, err := frozenByDispute(ctx, tx, dealID, idx)
		if err != nil {
			return err
		}
		if frozen {
			return common.ErrFrozen
		}

		cond := ""
		if requireExpiredCountdown {
			cond = "AND countdown_active AND countdown_expires_at <= NOW()"
		}
		query := fmt.Sprintf(`
			UPDATE milestones SET
				status = $3,
				countdown_active = FALSE,
				completed_at = NOW(),
				updated_at = NOW()
			WHERE deal_id = $1 AND idx = $2 AND status = $4 %s
			RETURNING %s
		`, cond, milestoneColumns)
		err = tx.GetContext(ctx, &milestone, query,
			dealID, idx, models.MilestoneStatusCompleted, models.MilestoneStatusSubmitted)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				// Этап существует, но условие не выполнено: уже завершён,
				// на доработке или отсчёт не активен. Для approve это no-op.
				if missErr := r.classifyMiss(ctx, tx, dealID, idx); errors.Is(missErr, common.ErrBadTransition) {
					return common.ErrAlreadyResolved
				} else {
					return missErr
				}
			}
			return fmt.Errorf("deal repository: complete milestone %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &milestone, nil
}

// ReopenMilestone компенсирует неудачное зачисление: этап возвращается в
// submitted_for_approval с прежним состоянием отсчёта.
func (r *DealRepository) ReopenMilestone(ctx context.Context, dealID uuid.UUID, idx int, prev *models.Milestone) error {
	return common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := lockDeal(ctx, tx, dealID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE milestones SET
				status = $3,
				countdown_active = $4,
				countdown_expires_at = $5,
				countdown_cancelled_at = $6,
				completed_at = NULL,
				updated_at = NOW()
			WHERE deal_id = $1 AND idx = $2 AND status = $7
		`, dealID, idx, models.MilestoneStatusSubmitted,
			prev.CountdownActive, prev.CountdownExpiresAt, prev.CountdownCancelledAt,
			models.MilestoneStatusCompleted)
		if err != nil {
			return fmt.Errorf("deal repository: reopen milestone %w", err)
		}
		return nil
	})
}

// RejectMilestone переводит этап submitted_for_approval -> revision_requested.
// Отсчёт уходит в on hold: active=false, cancelled_at проставлен,
// expires_at сохраняется до повторной сдачи.
func (r *DealRepository) RejectMilestone(ctx context.Context, dealID uuid.UUID, idx int, reason string) (*models.Milestone, error) {
	var milestone models.Milestone
	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := lockDeal(ctx, tx, dealID); err != nil {
			return err
		}

		frozen, err := frozenByDispute(ctx, tx, dealID, idx)
		if err != nil {
			return err
		}
		if frozen {
			return common.ErrFrozen
		}

		query := fmt.Sprintf(`
			UPDATE milestones SET
				status = $3,
				revision_message = $4,
				revision_requested_at = NOW(),
				countdown_active = FALSE,
				countdown_cancelled_at = NOW(),
				updated_at = NOW()
			WHERE deal_id = $1 AND idx = $2 AND status = $5
			RETURNING %s
		`, milestoneColumns)
		err = tx.GetContext(ctx, &milestone, query,
			dealID, idx, models.MilestoneStatusRevision, reason, models.MilestoneStatusSubmitted)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return r.classifyMiss(ctx, tx, dealID, idx)
			}
			return fmt.Errorf("deal repository: reject milestone %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &milestone, nil
}

// CancelCountdown останавливает активный отсчёт, не меняя статус этапа.
func (r *DealRepository) CancelCountdown(ctx context.Context, dealID uuid.UUID, idx int) (*models.Milestone, error) {
	var milestone models.Milestone
	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := lockDeal(ctx, tx, dealID); err != nil {
			return err
		}

		frozen, err := frozenByDispute(ctx, tx, dealID, idx)
		if err != nil {
			return err
		}
		if frozen {
			return common.ErrFrozen
		}

		query := fmt.Sprintf(`
			UPDATE milestones SET
				countdown_active = FALSE,
				countdown_cancelled_at = NOW(),
				updated_at = NOW()
			WHERE deal_id = $1 AND idx = $2 AND countdown_active
			RETURNING %s
		`, milestoneColumns)
		err = tx.GetContext(ctx, &milestone, query, dealID, idx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return r.classifyMiss(ctx, tx, dealID, idx)
			}
			return fmt.Errorf("deal repository: cancel countdown %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &milestone, nil
}

// markDisputedTx переводит этап в disputed, запоминая прежний статус
// для восстановления после разрешения спора. Отсчёт гасится навсегда.
func markDisputedTx(ctx context.Context, tx *sqlx.Tx, dealID uuid.UUID, idx int) (*models.Milestone, error) {
	var milestone models.Milestone
	query := fmt.Sprintf(`
		UPDATE milestones SET
			pre_dispute_status = status,
			status = $3,
			countdown_active = FALSE,
			countdown_cancelled_at = COALESCE(countdown_cancelled_at, NOW()),
			updated_at = NOW()
		WHERE deal_id = $1 AND idx = $2 AND status NOT IN ($4, $3)
		RETURNING %s
	`, milestoneColumns)
	err := tx.GetContext(ctx, &milestone, query,
		dealID, idx, models.MilestoneStatusDisputed, models.MilestoneStatusCompleted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrBadTransition
		}
		return nil, fmt.Errorf("deal repository: mark disputed %w", err)
	}
	return &milestone, nil
}

// restoreFromDisputeTx возвращает этапу его статус, записанный при входе в спор.
func restoreFromDisputeTx(ctx context.Context, tx *sqlx.Tx, dealID uuid.UUID, idx int) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE milestones SET
			status = pre_dispute_status,
			pre_dispute_status = NULL,
			updated_at = NOW()
		WHERE deal_id = $1 AND idx = $2 AND status = $3 AND pre_dispute_status IS NOT NULL
	`, dealID, idx, models.MilestoneStatusDisputed)
	if err != nil {
		return fmt.Errorf("deal repository: restore from dispute %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return common.ErrBadTransition
	}
	return nil
}

// ListExpiredCountdowns находит этапы с активным и истёкшим отсчётом.
// Выборка level-triggered: решает только сохранённое состояние,
// отменённые отсчёты (active=false) сюда не попадают никогда.
func (r *DealRepository) ListExpiredCountdowns(ctx context.Context, now time.Time, limit int) ([]models.MilestoneRef, error) {
	if limit <= 0 {
		limit = 100
	}
	var refs []models.MilestoneRef
	err := r.db.SelectContext(ctx, &refs, `
		SELECT deal_id, idx FROM milestones
		WHERE countdown_active AND countdown_expires_at <= $1 AND status = $2
		ORDER BY countdown_expires_at
		LIMIT $3
	`, now, models.MilestoneStatusSubmitted, limit)
	if err != nil {
		return nil, fmt.Errorf("deal repository: list expired countdowns %w", err)
	}
	return refs, nil
}

// classifyMiss различает "этап не существует" и "переход из текущего
// состояния не разрешён" после условного UPDATE с нулём строк.
func (r *DealRepository) classifyMiss(ctx context.Context, tx *sqlx.Tx, dealID uuid.UUID, idx int) error {
	var exists bool
	err := tx.GetContext(ctx, &exists, `
		SELECT EXISTS (SELECT 1 FROM milestones WHERE deal_id = $1 AND idx = $2)
	`, dealID, idx)
	if err != nil {
		return fmt.Errorf("deal repository: classify miss %w", err)
	}
	if !exists {
		return ErrMilestoneNotFound
	}
	return common.ErrBadTransition
}
