package common

import (
	"fmt"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/safedeal/escrow-backend/internal/http/middleware"
	"github.com/safedeal/escrow-backend/internal/models"
	"github.com/safedeal/escrow-backend/internal/pkg/apperror"
)

// RoleAdmin роль администратора в claims внешнего сервиса аутентификации.
const RoleAdmin = "admin"

// CurrentUserID извлекает идентификатор пользователя из gin.Context.
func CurrentUserID(c *gin.Context) (uuid.UUID, error) {
	raw, exists := c.Get(middleware.ContextUserIDKey)
	if !exists {
		return uuid.Nil, apperror.ErrUnauthorized
	}
	userID, ok := raw.(uuid.UUID)
	if !ok || userID == uuid.Nil {
		return uuid.Nil, apperror.ErrUnauthorized
	}
	return userID, nil
}

// CurrentActor строит актора по идентичности из контекста:
// роль admin делает актора администратором, остальные — пользователи.
func CurrentActor(c *gin.Context) (models.Actor, error) {
	userID, err := CurrentUserID(c)
	if err != nil {
		return models.Actor{}, err
	}
	if role, _ := c.Get(middleware.ContextRoleKey); role == RoleAdmin {
		return models.AdminActor(userID), nil
	}
	return models.UserActor(userID), nil
}

// ParseUUIDParam читает UUID из параметра пути.
func ParseUUIDParam(c *gin.Context, paramName string) (uuid.UUID, error) {
	parsed, err := uuid.Parse(c.Param(paramName))
	if err != nil {
		return uuid.Nil, apperror.New(apperror.ErrCodeValidation,
			fmt.Sprintf("параметр %s должен быть валидным UUID", paramName))
	}
	return parsed, nil
}

// ParseIdxParam читает неотрицательный индекс этапа из параметра пути.
func ParseIdxParam(c *gin.Context, paramName string) (int, error) {
	idx, err := strconv.Atoi(c.Param(paramName))
	if err != nil || idx < 0 {
		return 0, apperror.New(apperror.ErrCodeValidation,
			fmt.Sprintf("параметр %s должен быть неотрицательным числом", paramName))
	}
	return idx, nil
}

// GetPagination извлекает limit и offset из query-параметров.
func GetPagination(c *gin.Context) (limit, offset int) {
	limit = parseIntQuery(c, "limit", 20)
	offset = parseIntQuery(c, "offset", 0)
	if limit < 1 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return
}

func parseIntQuery(c *gin.Context, key string, fallback int) int {
	if v := c.Query(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}
