package observability

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_http_requests_total",
			Help: "Total number of HTTP requests processed by the realtime service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "realtime_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	grpcServerHandledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grpc_server_handled_total",
			Help: "Total number of gRPC requests handled by the server.",
		},
		[]string{"grpc_service", "grpc_method", "grpc_code"},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_ws_active_connections",
			Help: "Number of authenticated websocket connections on this node.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_ws_events_total",
			Help: "Total number of websocket lifecycle events.",
		},
		[]string{"event"},
	)
	wsAuthRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_ws_auth_rejections_total",
			Help: "Connection attempts refused by the authentication gate.",
		},
		[]string{"code"},
	)
	wsInboundTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_ws_inbound_frames_total",
			Help: "Inbound frames dispatched, by event and outcome code.",
		},
		[]string{"event", "code"},
	)
	fanoutDeliveredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_fanout_delivered_total",
			Help: "Frames queued to local connections, by event.",
		},
		[]string{"event"},
	)
	fanoutDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_fanout_dropped_total",
			Help: "Frames dropped during fan-out, by reason.",
		},
		[]string{"reason"},
	)
	clusterEnvelopesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_cluster_envelopes_total",
			Help: "Envelopes exchanged with other nodes.",
		},
		[]string{"direction", "result"},
	)
	persistDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "realtime_persist_duration_seconds",
			Help:    "Latency of store operations issued by the messaging core.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		grpcServerHandledTotal,
		wsActiveConnections,
		wsEventsTotal,
		wsAuthRejectionsTotal,
		wsInboundTotal,
		fanoutDeliveredTotal,
		fanoutDroppedTotal,
		clusterEnvelopesTotal,
		persistDuration,
		amqpPublishErrorsTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func GRPCServerMetricsUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		statusInfo := status.Convert(err)
		service, method := splitFullMethod(info.FullMethod)
		grpcServerHandledTotal.WithLabelValues(service, method, statusInfo.Code().String()).Inc()
		return resp, err
	}
}

func splitFullMethod(fullMethod string) (string, string) {
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 3 {
		return "unknown", "unknown"
	}
	return parts[1], parts[2]
}

func IncWSActive() {
	wsActiveConnections.Inc()
}

func DecWSActive() {
	wsActiveConnections.Dec()
}

func IncWSEvent(event string) {
	wsEventsTotal.WithLabelValues(event).Inc()
}

func IncAuthRejection(code string) {
	wsAuthRejectionsTotal.WithLabelValues(code).Inc()
}

// IncInbound records one dispatched inbound frame. code is "ok" on success.
func IncInbound(event, code string) {
	wsInboundTotal.WithLabelValues(event, code).Inc()
}

func AddFanoutDelivered(event string, n int) {
	if n > 0 {
		fanoutDeliveredTotal.WithLabelValues(event).Add(float64(n))
	}
}

func IncFanoutDropped(reason string) {
	fanoutDroppedTotal.WithLabelValues(reason).Inc()
}

func IncClusterEnvelope(direction, result string) {
	clusterEnvelopesTotal.WithLabelValues(direction, result).Inc()
}

// ObservePersist records the latency of a store call started at start.
func ObservePersist(operation string, start time.Time) {
	persistDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
