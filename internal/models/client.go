package models

import (
	"time"

	"github.com/google/uuid"
)

// Client представляет участника сделок с точки зрения движка.
// Аутентификация и KYC живут во внешнем сервисе, здесь хранится только
// флаг верифицированного крупного клиента для политики потолка сумм.
type Client struct {
	ID                 uuid.UUID `db:"id" json:"id"`
	DisplayName        string    `db:"display_name" json:"display_name"`
	HighVolumeVerified bool      `db:"high_volume_verified" json:"high_volume_verified"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`
}
