package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/safedeal/escrow-backend/internal/dto"
	"github.com/safedeal/escrow-backend/internal/fee"
	"github.com/safedeal/escrow-backend/internal/pkg/apperror"
)

// FeeHandler отдаёт предварительный расчёт комиссии.
type FeeHandler struct{}

func NewFeeHandler() *FeeHandler {
	return &FeeHandler{}
}

// Quote POST /fees/quote
func (h *FeeHandler) Quote(c *gin.Context) {
	var req dto.FeeQuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperror.Wrap(err, apperror.ErrCodeValidation, "подытог обязателен"))
		return
	}

	breakdown, err := fee.Calculate(req.Subtotal, req.FeeSplitPercent)
	if err != nil {
		_ = c.Error(apperror.Wrap(err, apperror.ErrCodeValidation, err.Error()))
		return
	}

	c.JSON(http.StatusOK, breakdown)
}
