package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/escrow-backend/internal/chat"
	"github.com/ignatzorin/escrow-backend/internal/config"
	"github.com/ignatzorin/escrow-backend/internal/db"
	httpHandlers "github.com/ignatzorin/escrow-backend/internal/http/handlers"
	httpRouter "github.com/ignatzorin/escrow-backend/internal/http/router"
	"github.com/ignatzorin/escrow-backend/internal/logger"
	"github.com/ignatzorin/escrow-backend/internal/repository"
	"github.com/ignatzorin/escrow-backend/internal/repository/common"
	"github.com/ignatzorin/escrow-backend/internal/service"
	"github.com/ignatzorin/escrow-backend/internal/storage"
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
	logLevel := "info"
	if cfg.Env == "development" {
		logLevel = "debug"
		logger.Init(logLevel)
		logger.SetTextFormatter()
	} else {
		logger.Init(logLevel)
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

	// Вспомогательные сервисы.
	tokenManager := service.NewTokenManager(cfg.JWTSecret)

	attachmentStorage, err := storage.NewAttachmentStorage(cfg.AttachmentStoragePath, cfg.MaxUploadSizeMB)
	if err != nil {
		log.Fatalf("main: не удалось подготовить файловое хранилище: %v", err)
	}

	// Репозитории.
	txManager := common.NewTxManager(dbConn)
	dealRepo := repository.NewDealRepository(dbConn)
	ledgerRepo := repository.NewLedgerRepository(dbConn)
	reviewRepo := repository.NewReviewRepository(dbConn)
	outboxRepo := repository.NewOutboxRepository(dbConn)

	// Сервисы.
	dealService := service.NewDealService(
		txManager, dealRepo, ledgerRepo, reviewRepo, outboxRepo,
		cfg.CommissionRate, cfg.DefaultMaxRevisions,
		logger.WithComponent("deals"),
	)
	disputeService := service.NewDisputeService(dealService, logger.WithComponent("disputes"))
	reviewService := service.NewReviewService(reviewRepo)

	// Диспетчер уведомлений: разбирает outbox и шлёт карточки в чат.
	chatClient := chat.NewClient(cfg.ChatServiceURL, cfg.ChatServiceToken, cfg.NotifyTimeout)
	notifier := service.NewNotifier(
		outboxRepo, dealRepo, chatClient,
		cfg.NotifyTimeout, cfg.NotifyPollInterval, cfg.NotifyMaxAttempts,
		logger.WithComponent("notifier"),
	)
	notifier.Start(ctx)

	// HTTP хэндлеры.
	dealHandler := httpHandlers.NewDealHandler(dealService, attachmentStorage)
	disputeHandler := httpHandlers.NewDisputeHandler(disputeService)
	reviewHandler := httpHandlers.NewReviewHandler(reviewService)
	healthHandler := httpHandlers.NewHealthHandler(dbConn)

	// Роутер.
	engine := httpRouter.SetupRouter(cfg, dealHandler, disputeHandler, reviewHandler, healthHandler, tokenManager)

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
