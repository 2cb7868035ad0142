package observability

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const serviceName = "linkguard"

var (
	registerOnce sync.Once

	auditMu     sync.RWMutex
	auditLogger = zap.NewNop()

	tracerProvider *trace.TracerProvider

	moderationOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkguard_moderation_outcomes_total",
			Help: "Moderation outcomes by kind",
		},
		[]string{"outcome"},
	)

	messageProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "linkguard_message_processing_duration_seconds",
			Help:    "Time spent moderating a single event",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	gatewayRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkguard_gateway_requests_total",
			Help: "Messaging gateway calls by method and result",
		},
		[]string{"method", "result"},
	)

	broadcastDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkguard_broadcast_deliveries_total",
			Help: "Broadcast deliveries by recipient kind and result",
		},
		[]string{"kind", "result"},
	)

	recipientsPruned = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkguard_recipients_pruned_total",
			Help: "Recipients removed after failed deliveries",
		},
		[]string{"kind"},
	)
)

// Init registers metrics, installs the audit logger and the tracer provider. Safe to call more
// than once; only the first call has effect.
func Init(ctx context.Context) error {
	_ = ctx
	var initErr error
	registerOnce.Do(func() {
		logger, err := zap.NewProduction()
		if err != nil {
			initErr = err
			return
		}
		auditMu.Lock()
		auditLogger = logger.Named("audit")
		auditMu.Unlock()

		prometheus.MustRegister(
			moderationOutcomes,
			messageProcessingDuration,
			gatewayRequests,
			broadcastDeliveries,
			recipientsPruned,
		)

		tracerProvider = trace.NewTracerProvider(
			trace.WithResource(resource.NewWithAttributes(
				semconv.SchemaURL,
				semconv.ServiceName(serviceName),
			)),
		)
		otel.SetTracerProvider(tracerProvider)
	})
	return initErr
}

// Shutdown flushes the audit log and the tracer provider.
func Shutdown(ctx context.Context) error {
	var errs error
	if tracerProvider != nil {
		errs = errors.Join(errs, tracerProvider.Shutdown(ctx))
	}
	// Sync on stderr-backed loggers fails with EINVAL on some platforms, nothing to act on.
	_ = Audit().Sync()
	return errs
}

// Audit returns the structured audit logger for moderation and broadcast actions.
func Audit() *zap.Logger {
	auditMu.RLock()
	defer auditMu.RUnlock()
	return auditLogger
}

func Tracer(name string) oteltrace.Tracer {
	return otel.Tracer(name)
}

func RecordOutcome(outcome string) {
	moderationOutcomes.WithLabelValues(outcome).Inc()
}

// StartMessageProcessing returns a function to record message processing duration
func StartMessageProcessing() func(status string) {
	started := time.Now()
	return func(status string) {
		messageProcessingDuration.WithLabelValues(status).Observe(time.Since(started).Seconds())
	}
}

func RecordGatewayCall(method, result string) {
	gatewayRequests.WithLabelValues(method, result).Inc()
}

func RecordDelivery(kind, result string) {
	broadcastDeliveries.WithLabelValues(kind, result).Inc()
}

func RecordPruned(kind string) {
	recipientsPruned.WithLabelValues(kind).Inc()
}

// MetricsServer exposes /metrics as a lifecycle component.
type MetricsServer struct {
	addr string

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	done     chan struct{}
}

func NewMetricsServer(addr string) *MetricsServer {
	return &MetricsServer{addr: addr}
}

func (m *MetricsServer) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.server != nil || m.addr == "" {
		return nil
	}

	lc := net.ListenConfig{}
	listener, err := lc.Listen(ctx, "tcp", m.addr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	m.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	m.listener = listener
	m.done = make(chan struct{})

	go func(srv *http.Server, l net.Listener, done chan struct{}) {
		defer close(done)
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithField("object", "MetricsServer").WithField("error", err.Error()).Error("metrics server failed")
		}
	}(m.server, listener, m.done)

	log.WithField("object", "MetricsServer").WithField("addr", listener.Addr().String()).Info("metrics server started")
	return nil
}

// Addr returns the bound address, useful when configured with port 0.
func (m *MetricsServer) Addr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listener == nil {
		return ""
	}
	return m.listener.Addr().String()
}

func (m *MetricsServer) Stop(ctx context.Context) error {
	m.mu.Lock()
	srv, done := m.server, m.done
	m.server, m.listener, m.done = nil, nil, nil
	m.mu.Unlock()
	if srv == nil {
		return nil
	}

	err := srv.Shutdown(ctx)
	select {
	case <-done:
	case <-ctx.Done():
	}
	return err
}
