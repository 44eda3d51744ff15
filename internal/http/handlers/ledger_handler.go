package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/safedeal/escrow-backend/internal/http/handlers/common"
	"github.com/safedeal/escrow-backend/internal/ledger"
)

// LedgerHandler отдаёт баланс и историю проводок участника.
// Движок балансами не владеет, это read-only витрина балансового сервиса.
type LedgerHandler struct {
	ledger ledger.Service
}

func NewLedgerHandler(ledgerSvc ledger.Service) *LedgerHandler {
	return &LedgerHandler{ledger: ledgerSvc}
}

// GetBalance GET /balance
func (h *LedgerHandler) GetBalance(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	balance, err := h.ledger.GetBalance(c.Request.Context(), userID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, balance)
}

// ListTransactions GET /transactions
func (h *LedgerHandler) ListTransactions(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	limit, offset := common.GetPagination(c)
	transactions, err := h.ledger.ListTransactions(c.Request.Context(), userID, limit, offset)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"transactions": transactions})
}
