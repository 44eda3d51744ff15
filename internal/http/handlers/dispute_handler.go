package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/safedeal/escrow-backend/internal/dto"
	"github.com/safedeal/escrow-backend/internal/http/handlers/common"
	"github.com/safedeal/escrow-backend/internal/pkg/apperror"
	"github.com/safedeal/escrow-backend/internal/service"
)

type DisputeHandler struct {
	disputes *service.DisputeService
}

func NewDisputeHandler(disputes *service.DisputeService) *DisputeHandler {
	return &DisputeHandler{disputes: disputes}
}

// Raise POST /deals/:id/disputes
func (h *DisputeHandler) Raise(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		_ = c.Error(err)
		return
	}
	dealID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		_ = c.Error(err)
		return
	}

	var req dto.RaiseDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperror.Wrap(err, apperror.ErrCodeValidation, "причина спора обязательна"))
		return
	}

	dispute, err := h.disputes.RaiseDispute(c.Request.Context(), userID, dealID, service.DisputeInput{
		MilestoneIdx: req.MilestoneIdx,
		Reason:       req.Reason,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, dispute)
}

// Resolve POST /disputes/:id/resolve
func (h *DisputeHandler) Resolve(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		_ = c.Error(err)
		return
	}
	disputeID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		_ = c.Error(err)
		return
	}

	dispute, err := h.disputes.ResolveDispute(c.Request.Context(), actor, disputeID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, dispute)
}

// Get GET /disputes/:id
func (h *DisputeHandler) Get(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		_ = c.Error(err)
		return
	}
	disputeID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		_ = c.Error(err)
		return
	}

	dispute, err := h.disputes.GetDispute(c.Request.Context(), actor, disputeID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, dispute)
}

// List GET /disputes
func (h *DisputeHandler) List(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	limit, offset := common.GetPagination(c)
	disputes, err := h.disputes.ListDisputes(c.Request.Context(), userID, limit, offset)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"disputes": disputes})
}
