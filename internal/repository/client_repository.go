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

var ErrClientNotFound = errors.New("client not found")

type ClientRepository struct {
	db *sqlx.DB
}

func NewClientRepository(db *sqlx.DB) *ClientRepository {
	return &ClientRepository{db: db}
}

// GetClient возвращает запись участника.
func (r *ClientRepository) GetClient(ctx context.Context, id uuid.UUID) (*models.Client, error) {
	return common.GetByID[models.Client](ctx, r.db, "clients", id, ErrClientNotFound)
}

// UpsertClient создаёт или обновляет запись участника. Записи приходят
// от внешнего сервиса аутентификации при первом обращении.
func (r *ClientRepository) UpsertClient(ctx context.Context, c *models.Client) error {
	err := r.db.GetContext(ctx, c, `
		INSERT INTO clients (id, display_name, high_volume_verified)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET display_name = $2, updated_at = NOW()
		RETURNING id, display_name, high_volume_verified, created_at, updated_at
	`, c.ID, c.DisplayName, c.HighVolumeVerified)
	if err != nil {
		return fmt.Errorf("client repository: upsert %w", err)
	}
	return nil
}

// SetHighVolumeVerified переключает флаг верифицированного крупного клиента.
func (r *ClientRepository) SetHighVolumeVerified(ctx context.Context, id uuid.UUID, verified bool) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE clients SET high_volume_verified = $2, updated_at = NOW() WHERE id = $1
	`, id, verified)
	if err != nil {
		return fmt.Errorf("client repository: set verified %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrClientNotFound
	}
	return nil
}
