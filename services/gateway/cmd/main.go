package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/safakadir/digital-banking/pkg/config"
	"github.com/safakadir/digital-banking/pkg/metrics"
	"github.com/safakadir/digital-banking/pkg/mylogger"
	"github.com/safakadir/digital-banking/pkg/server"
	"github.com/safakadir/digital-banking/pkg/utils"
	"github.com/safakadir/digital-banking/services/gateway/internal/pkg/client"
	"github.com/safakadir/digital-banking/services/gateway/internal/transport/http"
	"go.uber.org/zap"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf(".env not found: %v\n", err)
	}

	cfg := config.MustLoad()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := utils.InitTracer(ctx, cfg.ServiceName, cfg.Env)
	if err != nil {
		log.Fatalf("Failed to init trace: %v", err)
	}

	logger, err := config.NewLogger(cfg.Logger())
	if err != nil {
		log.Fatalf("Error creating logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	accountsHealth := mustHealthClient(utils.ParseWithFallback("ACCOUNTS_RPC_URL", "localhost:50051"))
	bankingHealth := mustHealthClient(utils.ParseWithFallback("BANKING_RPC_URL", "localhost:50053"))
	queryHealth := mustHealthClient(utils.ParseWithFallback("QUERY_RPC_URL", "localhost:50054"))

	upstreams := http.Upstreams{
		Accounts: http.NewUpstream("accounts", utils.ParseWithFallback("ACCOUNTS_HTTP_URL", "http://localhost:3000"), cfg.HTTP.Timeout, accountsHealth, logger),
		Banking:  http.NewUpstream("banking", utils.ParseWithFallback("BANKING_HTTP_URL", "http://localhost:3001"), cfg.HTTP.Timeout, bankingHealth, logger),
		Query:    http.NewUpstream("query", utils.ParseWithFallback("QUERY_HTTP_URL", "http://localhost:3003"), cfg.HTTP.Timeout, queryHealth, logger),
	}

	mylogger.Info(ctx, logger, "Gateway service started!")

	m := metrics.New(cfg.ServiceName)

	grpcServer, healthServer := server.NewHealthServer(m)
	go func() {
		if err := server.ServeGRPC(grpcServer, cfg.GRPC.Port, logger); err != nil {
			mylogger.Error(ctx, logger, "gRPC server stopped", zap.Error(err))
		}
	}()
	go server.ServeMetrics(ctx, cfg.Metrics.Port, m, logger)

	app := server.NewHTTPApp(cfg, logger)
	http.RegisterRoutes(app, upstreams, cfg.Auth.JWTSecret)

	go func() {
		mylogger.Info(ctx, logger, "HTTP Service listening", zap.String("port", cfg.HTTP.Port))
		if err := app.Listen(cfg.HTTP.Port); err != nil {
			mylogger.Error(ctx, logger, "HTTP server stopped", zap.Error(err))
		}
	}()

	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	<-ctx.Done()
	healthServer.Shutdown()

	mylogger.Info(ctx, logger, "Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		mylogger.Error(shutdownCtx, logger, "Error shutting down HTTP app", zap.Error(err))
	}
	grpcServer.GracefulStop()

	for _, hc := range []*client.HealthClient{accountsHealth, bankingHealth, queryHealth} {
		if err := hc.Close(); err != nil {
			mylogger.Error(shutdownCtx, logger, "Error closing upstream connection", zap.Error(err))
		}
	}

	if err := tp.Shutdown(shutdownCtx); err != nil {
		mylogger.Error(shutdownCtx, logger, "Error shutting down telemetry", zap.Error(err))
	} else {
		mylogger.Info(shutdownCtx, logger, "Telemetry stopped correctly")
	}
}

func mustHealthClient(url string) *client.HealthClient {
	hc, err := client.NewHealthClient(url)
	if err != nil {
		log.Fatalf("Error creating gRPC client: %v\n", err)
	}
	return hc
}
