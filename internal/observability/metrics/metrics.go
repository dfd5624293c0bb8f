package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 校验与注册表更新的结果标签
const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
	ResultError    = "error"
)

// Metrics 持有引擎的全部指标，每个实例使用独立的 Registry，便于在测试中重复创建。
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpErrors   *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	proofsValidated    *prometheus.CounterVec
	validationDuration *prometheus.HistogramVec
	registryUpdates    *prometheus.CounterVec
	eventFailures      prometheus.Counter
}

// New 创建并注册所有指标。
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ace_http_requests_total",
		Help: "Total number of HTTP requests processed.",
	}, []string{"handler", "method", "code"})
	m.httpErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ace_http_request_errors_total",
		Help: "Total number of HTTP requests that resulted in a server error.",
	}, []string{"handler", "method"})
	m.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ace_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"handler", "method"})

	m.proofsValidated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ace_proofs_validated_total",
		Help: "Proof validations by proof type and result.",
	}, []string{"proof_type", "result"})
	m.validationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ace_validation_duration_seconds",
		Help:    "Time spent verifying a proof.",
		Buckets: prometheus.DefBuckets,
	}, []string{"proof_type"})
	m.registryUpdates = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ace_registry_updates_total",
		Help: "Note registry updates by result.",
	}, []string{"result"})
	m.eventFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ace_event_publish_failures_total",
		Help: "Events that could not be published after commit.",
	})

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests, m.httpErrors, m.httpDuration,
		m.proofsValidated, m.validationDuration, m.registryUpdates, m.eventFailures,
	)
	return m
}

// Registry 返回底层 Registry。
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func (m *Metrics) ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	if status >= 500 {
		m.httpErrors.WithLabelValues(handler, method).Inc()
	}
	m.httpDuration.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// ObserveValidation 记录一次证明校验。
func (m *Metrics) ObserveValidation(proofType, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.proofsValidated.WithLabelValues(proofType, result).Inc()
	m.validationDuration.WithLabelValues(proofType).Observe(duration.Seconds())
}

// ObserveRegistryUpdate 记录一次注册表更新。
func (m *Metrics) ObserveRegistryUpdate(result string) {
	if m == nil {
		return
	}
	m.registryUpdates.WithLabelValues(result).Inc()
}

// ObserveEventFailure 记录一次事件发布失败。
func (m *Metrics) ObserveEventFailure() {
	if m == nil {
		return
	}
	m.eventFailures.Inc()
}

// Handler exposes the metrics in Prometheus text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// StartServer launches a standalone HTTP server exposing the /metrics endpoint.
func StartServer(ctx context.Context, addr string, handler http.Handler) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
