package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/safakadir/digital-banking/pkg/metrics"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// NewHealthServer returns a gRPC server exposing the standard health
// service, instrumented like the rest of the process.
func NewHealthServer(m *metrics.Metrics) (*grpc.Server, *health.Server) {
	s := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.StreamInterceptor(grpc_prometheus.StreamServerInterceptor),
		grpc.UnaryInterceptor(grpc_prometheus.UnaryServerInterceptor),
	)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)

	grpc_prometheus.EnableHandlingTimeHistogram()
	m.Registry.MustRegister(grpc_prometheus.DefaultServerMetrics)
	grpc_prometheus.Register(s)

	return s, hs
}

func ServeGRPC(s *grpc.Server, addr string, logger *zap.Logger) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	logger.Info("gRPC server listening", zap.String("addr", addr))
	return s.Serve(lis)
}

// ServeMetrics exposes /metrics until ctx is done.
func ServeMetrics(ctx context.Context, addr string, m *metrics.Metrics, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Metrics server listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Metrics serving failed", zap.Error(err))
	}
}
