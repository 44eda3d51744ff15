package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/safedeal/escrow-backend/internal/dto"
	"github.com/safedeal/escrow-backend/internal/http/handlers/common"
	"github.com/safedeal/escrow-backend/internal/pkg/apperror"
	"github.com/safedeal/escrow-backend/internal/service"
)

type ProposalHandler struct {
	proposals *service.ProposalService
}

func NewProposalHandler(proposals *service.ProposalService) *ProposalHandler {
	return &ProposalHandler{proposals: proposals}
}

// Create POST /proposals
func (h *ProposalHandler) Create(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	var req dto.CreateProposalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperror.Wrap(err, apperror.ErrCodeValidation, "некорректное тело запроса"))
		return
	}

	p, breakdown, err := h.proposals.CreateProposal(c.Request.Context(), userID, service.ProposalInput{
		CounterpartyID:  req.CounterpartyID,
		CreatorRole:     req.CreatorRole,
		FeeSplitPercent: req.FeeSplitPercent,
		Milestones:      specInputs(req.Milestones),
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, dto.ProposalResponse{Proposal: p, Fee: breakdown})
}

// Update PUT /proposals/:id
func (h *ProposalHandler) Update(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		_ = c.Error(err)
		return
	}
	proposalID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		_ = c.Error(err)
		return
	}

	var req dto.UpdateProposalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperror.Wrap(err, apperror.ErrCodeValidation, "некорректное тело запроса"))
		return
	}

	p, err := h.proposals.UpdateProposal(c.Request.Context(), userID, proposalID, service.ProposalInput{
		CounterpartyID:  req.CounterpartyID,
		FeeSplitPercent: req.FeeSplitPercent,
		Milestones:      specInputs(req.Milestones),
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, p)
}

// Get GET /proposals/:id
func (h *ProposalHandler) Get(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		_ = c.Error(err)
		return
	}
	proposalID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		_ = c.Error(err)
		return
	}

	p, breakdown, err := h.proposals.GetProposal(c.Request.Context(), userID, proposalID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, dto.ProposalResponse{Proposal: p, Fee: breakdown})
}

// List GET /proposals
func (h *ProposalHandler) List(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	limit, offset := common.GetPagination(c)
	proposals, err := h.proposals.ListProposals(c.Request.Context(), userID, limit, offset)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"proposals": proposals})
}

// Accept POST /proposals/:id/accept
func (h *ProposalHandler) Accept(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		_ = c.Error(err)
		return
	}
	proposalID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		_ = c.Error(err)
		return
	}

	deal, err := h.proposals.AcceptProposal(c.Request.Context(), userID, proposalID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"deal": deal})
}

// AcceptAndFund POST /proposals/:id/accept-and-fund
func (h *ProposalHandler) AcceptAndFund(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		_ = c.Error(err)
		return
	}
	proposalID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		_ = c.Error(err)
		return
	}

	res, err := h.proposals.AcceptAndFundProposal(c.Request.Context(), userID, proposalID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, res)
}

// Decline POST /proposals/:id/decline
func (h *ProposalHandler) Decline(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		_ = c.Error(err)
		return
	}
	proposalID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		_ = c.Error(err)
		return
	}

	if err := h.proposals.DeclineProposal(c.Request.Context(), userID, proposalID); err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, dto.SuccessResponse{Message: "предложение отклонено"})
}

func specInputs(specs []dto.MilestoneSpecRequest) []service.MilestoneSpecInput {
	out := make([]service.MilestoneSpecInput, 0, len(specs))
	for _, s := range specs {
		out = append(out, service.MilestoneSpecInput{
			Title:       s.Title,
			Description: s.Description,
			Amount:      s.Amount,
			DueAt:       s.DueAt,
		})
	}
	return out
}
