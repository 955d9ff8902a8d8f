package grpc

import (
	"context"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	grpclib "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"realtime-service/internal/logger"
	"realtime-service/internal/observability"
)

// ServiceName is the health service name reported next to the overall "" entry.
const ServiceName = "realtime-service"

// Pinger is satisfied by *sqlx.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthChecker keeps the gRPC health status in step with the database.
type HealthChecker struct {
	server   *health.Server
	pinger   Pinger
	interval time.Duration
	log      *logger.Logger
}

// NewHealthChecker builds a checker. A nil pinger (in-memory store) always
// reports SERVING.
func NewHealthChecker(pinger Pinger, interval time.Duration, log *logger.Logger) *HealthChecker {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &HealthChecker{
		server:   health.NewServer(),
		pinger:   pinger,
		interval: interval,
		log:      log.Named("health"),
	}
}

// Check pings once and publishes the result.
func (h *HealthChecker) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if h.pinger != nil {
		pingCtx, cancel := context.WithTimeout(ctx, h.interval/2)
		err := h.pinger.PingContext(pingCtx)
		cancel()
		if err != nil {
			h.log.Warn("database ping failed", logger.Error(err))
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	h.server.SetServingStatus("", status)
	h.server.SetServingStatus(ServiceName, status)
	return status
}

// Run re-checks on every interval until ctx ends, then reports NOT_SERVING.
func (h *HealthChecker) Run(ctx context.Context) error {
	h.Check(ctx)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.server.Shutdown()
			return nil
		case <-ticker.C:
			h.Check(ctx)
		}
	}
}

// NewServer builds the gRPC server exposing grpc.health.v1.Health.
func NewServer(checker *HealthChecker) *grpclib.Server {
	srv := grpclib.NewServer(
		grpclib.StatsHandler(otelgrpc.NewServerHandler()),
		grpclib.ChainUnaryInterceptor(observability.GRPCServerMetricsUnaryInterceptor()),
	)
	healthpb.RegisterHealthServer(srv, checker.server)
	return srv
}
