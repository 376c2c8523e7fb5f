package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/safakadir/digital-banking/pkg/config"
	"github.com/safakadir/digital-banking/pkg/db"
	kafka2 "github.com/safakadir/digital-banking/pkg/kafka"
	"github.com/safakadir/digital-banking/pkg/metrics"
	"github.com/safakadir/digital-banking/pkg/mylogger"
	outbox "github.com/safakadir/digital-banking/pkg/outbox/repository"
	"github.com/safakadir/digital-banking/pkg/outbox/worker"
	"github.com/safakadir/digital-banking/pkg/server"
	"github.com/safakadir/digital-banking/pkg/txstore"
	"github.com/safakadir/digital-banking/pkg/utils"
	"github.com/safakadir/digital-banking/services/accounts/internal/service"
	"github.com/safakadir/digital-banking/services/accounts/internal/transport/http"
	"go.uber.org/zap"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}

	cfg := config.MustLoad()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := utils.InitTracer(ctx, cfg.ServiceName, cfg.Env)
	if err != nil {
		log.Fatalf("Error init tracer: %v", err)
	}

	pool, err := db.NewPostgresDB(ctx, cfg.Postgres)
	if err != nil {
		log.Fatalf("Error creating postgres DB: %v", err)
	}

	logger, err := config.NewLogger(cfg.Logger())
	if err != nil {
		log.Fatalf("Error creating logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	mylogger.Info(
		ctx,
		logger,
		"Accounts service started!",
	)

	m := metrics.New(cfg.ServiceName)

	store := txstore.NewPostgres(pool, logger)
	accountService := service.NewAccountService(store, logger)

	kafkaProducer, err := kafka2.NewProducer(cfg.Kafka.Brokers, logger)
	if err != nil {
		log.Fatalf("error creating kafka producer: %v", err)
	}

	outboxRepo := outbox.NewOutboxRepository()
	outboxProcessor := worker.NewOutboxProcessor(pool, outboxRepo, kafkaProducer, worker.Settings{
		BatchSize:   cfg.Outbox.BatchSize,
		Interval:    cfg.Outbox.Interval,
		MaxAttempts: cfg.Outbox.MaxAttempts,
	}, logger, m)
	go outboxProcessor.Start(ctx)

	grpcServer, healthServer := server.NewHealthServer(m)
	go func() {
		if err := server.ServeGRPC(grpcServer, cfg.GRPC.Port, logger); err != nil {
			mylogger.Error(ctx, logger, "gRPC server stopped", zap.Error(err))
		}
	}()
	go server.ServeMetrics(ctx, cfg.Metrics.Port, m, logger)

	app := server.NewHTTPApp(cfg, logger)
	http.RegisterRoutes(app, http.NewHandler(accountService, logger), cfg.Auth.JWTSecret)
	go func() {
		if err := app.Listen(cfg.HTTP.Port); err != nil {
			mylogger.Error(ctx, logger, "HTTP server stopped", zap.Error(err))
			stop()
		}
	}()

	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	<-ctx.Done()
	healthServer.Shutdown()

	shutdownCtx, exit := context.WithTimeout(context.Background(), 5*time.Second)
	defer exit()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		mylogger.Error(shutdownCtx, logger, "Error shutting down HTTP server", zap.Error(err))
	}
	grpcServer.GracefulStop()

	if err := kafkaProducer.Close(); err != nil {
		mylogger.Error(shutdownCtx, logger, "Error closing kafka producer", zap.Error(err))
	}

	if err := tp.Shutdown(shutdownCtx); err != nil {
		mylogger.Error(
			shutdownCtx,
			logger,
			"Error shutting down telemetry",
			zap.Error(err),
		)
	} else {
		mylogger.Info(
			shutdownCtx,
			logger,
			"Telemetry down correctly",
		)
	}

	pool.Close()
	mylogger.Info(shutdownCtx, logger, "Pool down correctly")
}
