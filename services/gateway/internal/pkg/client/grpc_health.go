package client

import (
	"context"
	"fmt"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthClient asks an upstream service's gRPC health endpoint whether it
// is serving.
type HealthClient struct {
	conn   *grpc.ClientConn
	client healthpb.HealthClient
}

func NewHealthClient(url string) (*HealthClient, error) {
	conn, err := grpc.NewClient(
		url,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	)
	if err != nil {
		return nil, fmt.Errorf("create grpc client for %s: %w", url, err)
	}

	return &HealthClient{conn: conn, client: healthpb.NewHealthClient(conn)}, nil
}

func (h *HealthClient) Check(ctx context.Context) error {
	resp, err := h.client.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return err
	}

	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("upstream status %s", resp.GetStatus())
	}
	return nil
}

func (h *HealthClient) Close() error {
	return h.conn.Close()
}
