package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/safedeal/escrow-backend/internal/service"
)

// SweepHandler служебный триггер авто-аппрувов. Дублирует периодический
// цикл планировщика: оба уровня level-triggered, лишний вызов безопасен.
type SweepHandler struct {
	sweep *service.CountdownService
}

func NewSweepHandler(sweep *service.CountdownService) *SweepHandler {
	return &SweepHandler{sweep: sweep}
}

// Trigger POST /internal/sweep
func (h *SweepHandler) Trigger(c *gin.Context) {
	approved, err := h.sweep.Tick(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"approved": approved})
}
