package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/relaychat/relay-api/internal/config"
	"github.com/relaychat/relay-api/internal/database"
	"github.com/relaychat/relay-api/internal/handler"
	"github.com/relaychat/relay-api/internal/middleware"
	"github.com/relaychat/relay-api/internal/models"
	"github.com/relaychat/relay-api/internal/realtime"
	"github.com/relaychat/relay-api/internal/repository"
	"github.com/relaychat/relay-api/internal/router"
	"github.com/relaychat/relay-api/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(
		&models.Conversation{}, &models.ConversationMember{},
		&models.Message{}, &models.MessageDeletion{}, &models.Reaction{},
		&models.UnreadCounter{},
	); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	redisClient, err := database.ConnectRedis(cfg.RedisURL, cfg.AppName)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()

	natsConn, err := database.ConnectNATS(cfg.NATSURL, cfg.AppName)
	if err != nil {
		log.Fatalf("failed to connect to nats: %v", err)
	}
	if natsConn != nil {
		defer natsConn.Close()
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	conversationRepo := repository.NewConversationRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	unreadRepo := repository.NewUnreadRepository(db)

	realtimeRouter := realtime.NewRouter(logger)
	sequencer := realtime.NewSequencer(cfg.FanoutGapWait, logger)
	bus := realtime.NewBus(redisClient, natsConn, cfg.ChannelBase, realtimeRouter, logger)

	busCtx, stopBus := context.WithCancel(context.Background())
	defer stopBus()
	bus.Start(busCtx)

	broadcaster := service.NewBroadcaster(conversationRepo, realtimeRouter, sequencer, bus, redisClient, cfg.ChannelBase, logger)

	unreadService := service.NewUnreadService(unreadRepo, conversationRepo, broadcaster, logger)
	messageService := service.NewMessageService(messageRepo, conversationRepo, unreadService, broadcaster, validate, logger)
	reactionService := service.NewReactionService(messageRepo, conversationRepo, broadcaster, validate, logger)
	conversationService := service.NewConversationService(conversationRepo, unreadRepo, validate, logger)
	presenceService := service.NewPresenceService(redisClient, conversationRepo, broadcaster, cfg.ChannelBase, cfg.PresenceTTL, logger)
	gatewayService := service.NewGatewayService(realtimeRouter, broadcaster, messageService, unreadService, conversationService, presenceService, validate, logger)

	messageHandler := handler.NewMessageHandler(messageService, reactionService, logger)
	conversationHandler := handler.NewConversationHandler(conversationService, unreadService, logger)
	realtimeHandler := handler.NewRealtimeHandler(gatewayService, presenceService, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		MessageHandler:      messageHandler,
		ConversationHandler: conversationHandler,
		RealtimeHandler:     realtimeHandler,
		RealtimeRouter:      realtimeRouter,
		JWTMiddleware:       middleware.JWTProtected(cfg.JWTSecret),
		SendRateLimit:       middleware.RateLimit("message-send", cfg.SendRateLimit, cfg.SendRateWindow),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app, realtimeRouter, stopBus)
}

func waitForShutdown(app *fiber.App, realtimeRouter *realtime.Router, stopBus context.CancelFunc) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	realtimeRouter.Shutdown()
	stopBus()

	log.Println("server stopped")
}
