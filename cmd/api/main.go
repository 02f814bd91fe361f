package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-assessment-api/internal/assessment"
	"github.com/noah-isme/gema-assessment-api/internal/config"
	"github.com/noah-isme/gema-assessment-api/internal/database"
	"github.com/noah-isme/gema-assessment-api/internal/handler"
	applogger "github.com/noah-isme/gema-assessment-api/internal/logger"
	"github.com/noah-isme/gema-assessment-api/internal/middleware"
	"github.com/noah-isme/gema-assessment-api/internal/repository"
	"github.com/noah-isme/gema-assessment-api/internal/router"
	"github.com/noah-isme/gema-assessment-api/internal/service"
	"github.com/noah-isme/gema-assessment-api/pkg/ai"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := applogger.New(cfg.LogLevel, cfg.LogFormat)

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err := database.Migrate(db); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate database")
	}

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	probes := map[string]handler.Probe{
		"database": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(runCtx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		probes["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL, cfg.AppName)
		if err != nil {
			logger.Warn().Err(err).Msg("nats unavailable, results will not be streamed")
		} else {
			defer natsConn.Close()
			probes["nats"] = func(context.Context) error {
				if !natsConn.IsConnected() {
					return errors.New(natsConn.Status().String())
				}
				return nil
			}
		}
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	questionSetRepo := repository.NewQuestionSetRepository(db)
	outcomeRepo := repository.NewOutcomeRepository(db)

	evaluator := buildEvaluator(cfg, logger)

	broadcaster := service.NewSessionBroadcaster(service.BroadcasterConfig{
		Redis:       redisClient,
		NATS:        natsConn,
		KeyPrefix:   cfg.RedisPrefix,
		NATSSubject: cfg.NATSSubject,
		SnapshotTTL: cfg.SnapshotTTL,
	}, logger)
	broadcaster.Start(runCtx)

	questionSetService := service.NewQuestionSetService(questionSetRepo, validate, logger)
	sessionService := service.NewSessionService(questionSetService, evaluator, outcomeRepo, broadcaster, validate, service.SessionConfig{
		IdleTTL:           cfg.SessionIdleTTL,
		JanitorInterval:   cfg.SessionJanitorTick,
		EvaluationTimeout: cfg.EvaluationTimeout,
		StoreTimeout:      cfg.StoreTimeout,
	}, logger)
	go sessionService.Run(runCtx)
	seedService := service.NewSeedService(questionSetRepo, cfg.SeedEnabled, cfg.SeedToken, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger, AccessLog: cfg.AppEnv == "development"})
	router.Register(app, cfg, router.Dependencies{
		QuestionSetHandler:   handler.NewQuestionSetHandler(questionSetService, logger),
		SessionHandler:       handler.NewSessionHandler(sessionService, logger),
		SessionStreamHandler: handler.NewSessionStreamHandler(sessionService, logger),
		SeedHandler:          handler.NewSeedHandler(seedService, logger),
		HealthProbes:         probes,
		JWTMiddleware:        middleware.JWTProtected(cfg.JWTSecret),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	waitForShutdown(app, logger)

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	if err := sessionService.Shutdown(drainCtx); err != nil {
		logger.Error().Err(err).Msg("sessions did not drain before shutdown timeout")
	}
	cancelDrain()
	cancelRun()

	select {
	case <-broadcaster.Stopped():
	case <-time.After(cfg.StoreTimeout):
		logger.Warn().Msg("session broadcaster did not flush before exit")
	}
	logger.Info().Msg("server stopped")
}

func buildEvaluator(cfg config.Config, logger zerolog.Logger) assessment.Evaluator {
	var grader ai.Evaluator = ai.NewKeywordEvaluator()
	if cfg.UsesOpenAI() {
		openAI, err := ai.NewOpenAIEvaluator(ai.OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAIModel,
			Logger:  logger,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("openai evaluator unavailable, falling back to keyword marking")
		} else {
			grader = openAI
		}
	}
	logger.Info().Str("evaluator", grader.Name()).Msg("answer evaluator configured")
	return service.NewAIEvaluator(grader, logger)
}

func waitForShutdown(app *fiber.App, logger zerolog.Logger) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}
