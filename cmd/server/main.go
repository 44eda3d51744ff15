package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/safedeal/escrow-backend/internal/config"
	"github.com/safedeal/escrow-backend/internal/db"
	"github.com/safedeal/escrow-backend/internal/goroutine"
	httpHandlers "github.com/safedeal/escrow-backend/internal/http/handlers"
	httpRouter "github.com/safedeal/escrow-backend/internal/http/router"
	"github.com/safedeal/escrow-backend/internal/ledger"
	"github.com/safedeal/escrow-backend/internal/logger"
	"github.com/safedeal/escrow-backend/internal/repository"
	"github.com/safedeal/escrow-backend/internal/service"
	"github.com/safedeal/escrow-backend/internal/ws"
)

func main() {
	// Готовим контекст для graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("main: ошибка загрузки конфигурации: %v", err)
	}

	// Инициализация логгера
	if cfg.Env == "development" {
		logger.Init("debug")
		logger.SetTextFormatter()
	} else {
		logger.Init("info")
	}

	// Подключение к базе и миграции.
	dbConn, err := db.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("main: ошибка подключения к базе: %v", err)
	}
	defer safeClose(dbConn)

	if err := db.RunMigrations(ctx, dbConn, cfg.MigrationsPath); err != nil {
		log.Fatalf("main: ошибка миграций: %v", err)
	}

	tokenManager := service.NewTokenManager(cfg.JWTSecret)

	// Репозитории.
	proposalRepo := repository.NewProposalRepository(dbConn)
	dealRepo := repository.NewDealRepository(dbConn)
	disputeRepo := repository.NewDisputeRepository(dbConn)
	clientRepo := repository.NewClientRepository(dbConn)

	// Леджер живёт в той же базе, но за интерфейсом:
	// сервисы не знают, куда уходят списания.
	ledgerSvc := ledger.NewPostgres(dbConn)

	// Вебсокеты.
	hub := ws.NewHub(ctx)
	go hub.Run()

	// Сервисы.
	dealService := service.NewDealService(dealRepo, disputeRepo, clientRepo, ledgerSvc, hub, cfg.UnverifiedSubtotalCeiling, cfg.CountdownWindow)
	proposalService := service.NewProposalService(proposalRepo, clientRepo, ledgerSvc, hub, cfg.UnverifiedSubtotalCeiling)
	disputeService := service.NewDisputeService(disputeRepo, dealRepo, hub)
	sweepService := service.NewCountdownService(dealRepo, dealService, cfg.SweepBatchSize, cfg.SweepConcurrency)

	// Фоновый проход по истёкшим таймерам автоподтверждения.
	goroutine.SafeGoWithContext(ctx, func(ctx context.Context) {
		sweepService.Run(ctx, cfg.SweepInterval)
	})

	// HTTP хэндлеры.
	proposalHandler := httpHandlers.NewProposalHandler(proposalService)
	dealHandler := httpHandlers.NewDealHandler(dealService)
	disputeHandler := httpHandlers.NewDisputeHandler(disputeService)
	clientHandler := httpHandlers.NewClientHandler(clientRepo)
	ledgerHandler := httpHandlers.NewLedgerHandler(ledgerSvc)
	feeHandler := httpHandlers.NewFeeHandler()
	sweepHandler := httpHandlers.NewSweepHandler(sweepService)
	wsHandler := httpHandlers.NewWSHandler(hub, tokenManager)
	healthHandler := httpHandlers.NewHealthHandler(dbConn)

	// Роутер.
	engine := httpRouter.SetupRouter(cfg, proposalHandler, dealHandler, disputeHandler, clientHandler, ledgerHandler, feeHandler, sweepHandler, wsHandler, healthHandler, tokenManager)

	server := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: engine,
	}

	// Завершаем сервер при получении сигнала.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("main: ошибка остановки http сервера: %v", err)
		}
	}()

	log.Printf("main: HTTP сервер запущен на порту %s", cfg.HTTPPort)

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("main: сервер завершился с ошибкой: %v", err)
	}
}

// safeClose закрывает соединение с базой.
func safeClose(db *sqlx.DB) {
	if err := db.Close(); err != nil {
		log.Printf("main: ошибка закрытия базы: %v", err)
	}
}
