package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/safedeal/escrow-backend/internal/dto"
	"github.com/safedeal/escrow-backend/internal/http/handlers/common"
	"github.com/safedeal/escrow-backend/internal/models"
	"github.com/safedeal/escrow-backend/internal/pkg/apperror"
	"github.com/safedeal/escrow-backend/internal/repository"
)

// ClientStore управляет записями участников.
type ClientStore interface {
	UpsertClient(ctx context.Context, client *models.Client) error
	SetHighVolumeVerified(ctx context.Context, id uuid.UUID, verified bool) error
}

// ClientHandler административные операции над записями участников.
// Записи заводит внешний сервис аутентификации, здесь только
// сопровождение: имя и флаг верифицированного крупного клиента.
type ClientHandler struct {
	clients ClientStore
}

func NewClientHandler(clients ClientStore) *ClientHandler {
	return &ClientHandler{clients: clients}
}

// Upsert PUT /clients/:id — создание или обновление записи участника.
func (h *ClientHandler) Upsert(c *gin.Context) {
	clientID, ok := h.adminAndClient(c)
	if !ok {
		return
	}

	var req dto.UpsertClientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperror.Wrap(err, apperror.ErrCodeValidation, "имя участника обязательно"))
		return
	}

	client := &models.Client{ID: clientID, DisplayName: req.DisplayName}
	if err := h.clients.UpsertClient(c.Request.Context(), client); err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, client)
}

// Verify POST /clients/:id/verify — переключение флага верифицированного
// крупного клиента. От флага зависит потолок сумм для новых сделок.
func (h *ClientHandler) Verify(c *gin.Context) {
	clientID, ok := h.adminAndClient(c)
	if !ok {
		return
	}

	var req dto.VerifyClientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperror.Wrap(err, apperror.ErrCodeValidation, "значение флага verified обязательно"))
		return
	}

	if err := h.clients.SetHighVolumeVerified(c.Request.Context(), clientID, *req.Verified); err != nil {
		if errors.Is(err, repository.ErrClientNotFound) {
			_ = c.Error(apperror.ErrClientNotFound)
			return
		}
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, dto.SuccessResponse{Message: "флаг верификации обновлён"})
}

func (h *ClientHandler) adminAndClient(c *gin.Context) (uuid.UUID, bool) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		_ = c.Error(err)
		return uuid.Nil, false
	}
	if actor.Kind != models.ActorKindAdmin {
		_ = c.Error(apperror.New(apperror.ErrCodeForbidden, "операция доступна только администратору"))
		return uuid.Nil, false
	}
	clientID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		_ = c.Error(err)
		return uuid.Nil, false
	}
	return clientID, true
}
