package dto

import (
	"github.com/safedeal/escrow-backend/internal/fee"
	"github.com/safedeal/escrow-backend/internal/models"
)

// ErrorResponse стандартный ответ с ошибкой.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// SuccessResponse стандартный успешный ответ.
type SuccessResponse struct {
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// ProposalResponse предложение с пересчитанными суммами.
type ProposalResponse struct {
	Proposal *models.Proposal `json:"proposal"`
	Fee      *fee.Breakdown   `json:"fee"`
}
