package router

import (
	"github.com/gin-gonic/gin"

	"github.com/safedeal/escrow-backend/internal/config"
	"github.com/safedeal/escrow-backend/internal/http/handlers"
	"github.com/safedeal/escrow-backend/internal/http/middleware"
	"github.com/safedeal/escrow-backend/internal/service"
)

func SetupRouter(
	cfg *config.Config,
	proposalHandler *handlers.ProposalHandler,
	dealHandler *handlers.DealHandler,
	disputeHandler *handlers.DisputeHandler,
	clientHandler *handlers.ClientHandler,
	ledgerHandler *handlers.LedgerHandler,
	feeHandler *handlers.FeeHandler,
	sweepHandler *handlers.SweepHandler,
	wsHandler *handlers.WSHandler,
	healthHandler *handlers.HealthHandler,
	tokenManager *service.TokenManager,
) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))

	r.GET("/health", healthHandler.Health)

	api := r.Group("/api")
	api.GET("/ws", wsHandler.Handle)

	// Служебный триггер планировщика: не пользовательский JWT,
	// а отдельное учётное данное системного актора.
	internal := api.Group("/internal")
	internal.Use(middleware.SweepAuth(cfg.SweepCredentialHash))
	internal.POST("/sweep", sweepHandler.Trigger)

	protected := api.Group("/")
	protected.Use(middleware.AuthMiddleware(tokenManager))
	protected.Use(middleware.RateLimitMiddleware(cfg.RateLimitLimit, cfg.RateLimitPeriod))
	{
		protected.POST("/fees/quote", feeHandler.Quote)

		protected.POST("/proposals", proposalHandler.Create)
		protected.GET("/proposals", proposalHandler.List)
		protected.GET("/proposals/:id", middleware.UUIDValidator("id"), proposalHandler.Get)
		protected.PUT("/proposals/:id", middleware.UUIDValidator("id"), proposalHandler.Update)
		protected.POST("/proposals/:id/accept", middleware.UUIDValidator("id"), proposalHandler.Accept)
		protected.POST("/proposals/:id/accept-and-fund", middleware.UUIDValidator("id"), proposalHandler.AcceptAndFund)
		protected.POST("/proposals/:id/decline", middleware.UUIDValidator("id"), proposalHandler.Decline)

		protected.POST("/deals", dealHandler.Create)
		protected.GET("/deals", dealHandler.List)
		protected.GET("/deals/:id", middleware.UUIDValidator("id"), dealHandler.Get)
		protected.POST("/deals/:id/fund", middleware.UUIDValidator("id"), dealHandler.Fund)
		protected.POST("/deals/:id/milestones/:idx/submit", middleware.UUIDValidator("id"), dealHandler.SubmitMilestone)
		protected.POST("/deals/:id/milestones/:idx/approve", middleware.UUIDValidator("id"), dealHandler.ApproveMilestone)
		protected.POST("/deals/:id/milestones/:idx/reject", middleware.UUIDValidator("id"), dealHandler.RejectMilestone)
		protected.POST("/deals/:id/milestones/:idx/cancel-countdown", middleware.UUIDValidator("id"), dealHandler.CancelCountdown)

		protected.POST("/deals/:id/disputes", middleware.UUIDValidator("id"), disputeHandler.Raise)
		protected.GET("/disputes", disputeHandler.List)
		protected.GET("/disputes/:id", middleware.UUIDValidator("id"), disputeHandler.Get)
		protected.POST("/disputes/:id/resolve", middleware.UUIDValidator("id"), disputeHandler.Resolve)

		protected.PUT("/clients/:id", middleware.UUIDValidator("id"), clientHandler.Upsert)
		protected.POST("/clients/:id/verify", middleware.UUIDValidator("id"), clientHandler.Verify)

		protected.GET("/balance", ledgerHandler.GetBalance)
		protected.GET("/transactions", ledgerHandler.ListTransactions)
	}

	return r
}
