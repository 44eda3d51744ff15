package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/safedeal/escrow-backend/internal/dto"
	"github.com/safedeal/escrow-backend/internal/http/handlers/common"
	"github.com/safedeal/escrow-backend/internal/pkg/apperror"
	"github.com/safedeal/escrow-backend/internal/service"
)

type DealHandler struct {
	deals *service.DealService
}

func NewDealHandler(deals *service.DealService) *DealHandler {
	return &DealHandler{deals: deals}
}

// Create POST /deals — прямая сделка с немедленным финансированием.
func (h *DealHandler) Create(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	var req dto.CreateDealRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperror.Wrap(err, apperror.ErrCodeValidation, "некорректное тело запроса"))
		return
	}

	res, err := h.deals.CreateFundedDeal(c.Request.Context(), userID, service.DealInput{
		SellerID:        req.SellerID,
		FeeSplitPercent: req.FeeSplitPercent,
		Milestones:      specInputs(req.Milestones),
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, res)
}

// Fund POST /deals/:id/fund
func (h *DealHandler) Fund(c *gin.Context) {
	userID, dealID, ok := h.userAndDeal(c)
	if !ok {
		return
	}

	res, err := h.deals.FundDeal(c.Request.Context(), userID, dealID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, res)
}

// Get GET /deals/:id
func (h *DealHandler) Get(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		_ = c.Error(err)
		return
	}
	dealID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		_ = c.Error(err)
		return
	}

	view, err := h.deals.GetDealView(c.Request.Context(), actor, dealID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, view)
}

// List GET /deals
func (h *DealHandler) List(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	limit, offset := common.GetPagination(c)
	deals, err := h.deals.ListDeals(c.Request.Context(), userID, limit, offset)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"deals": deals})
}

// SubmitMilestone POST /deals/:id/milestones/:idx/submit
func (h *DealHandler) SubmitMilestone(c *gin.Context) {
	userID, dealID, idx, ok := h.userDealIdx(c)
	if !ok {
		return
	}

	var req dto.SubmitMilestoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperror.Wrap(err, apperror.ErrCodeValidation, "некорректное тело запроса"))
		return
	}

	milestone, err := h.deals.SubmitMilestone(c.Request.Context(), userID, dealID, idx, service.SubmissionInput{
		Message: req.Message,
		Files:   req.Files,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, milestone)
}

// ApproveMilestone POST /deals/:id/milestones/:idx/approve
// Гонка с авто-аппрувом — не ошибка: проигравший получает outcome
// already_resolved со статусом 200.
func (h *DealHandler) ApproveMilestone(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		_ = c.Error(err)
		return
	}
	dealID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		_ = c.Error(err)
		return
	}
	idx, err := common.ParseIdxParam(c, "idx")
	if err != nil {
		_ = c.Error(err)
		return
	}

	res, err := h.deals.ApproveMilestone(c.Request.Context(), actor, dealID, idx)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, res)
}

// RejectMilestone POST /deals/:id/milestones/:idx/reject
func (h *DealHandler) RejectMilestone(c *gin.Context) {
	userID, dealID, idx, ok := h.userDealIdx(c)
	if !ok {
		return
	}

	var req dto.RejectMilestoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperror.Wrap(err, apperror.ErrCodeValidation, "причина доработки обязательна"))
		return
	}

	milestone, err := h.deals.RejectMilestone(c.Request.Context(), userID, dealID, idx, req.Reason)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, milestone)
}

// CancelCountdown POST /deals/:id/milestones/:idx/cancel-countdown
func (h *DealHandler) CancelCountdown(c *gin.Context) {
	userID, dealID, idx, ok := h.userDealIdx(c)
	if !ok {
		return
	}

	milestone, err := h.deals.CancelCountdown(c.Request.Context(), userID, dealID, idx)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, milestone)
}

func (h *DealHandler) userAndDeal(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		_ = c.Error(err)
		return uuid.Nil, uuid.Nil, false
	}
	dealID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		_ = c.Error(err)
		return uuid.Nil, uuid.Nil, false
	}
	return userID, dealID, true
}

func (h *DealHandler) userDealIdx(c *gin.Context) (uuid.UUID, uuid.UUID, int, bool) {
	userID, dealID, ok := h.userAndDeal(c)
	if !ok {
		return uuid.Nil, uuid.Nil, 0, false
	}
	idx, err := common.ParseIdxParam(c, "idx")
	if err != nil {
		_ = c.Error(err)
		return uuid.Nil, uuid.Nil, 0, false
	}
	return userID, dealID, idx, true
}
