package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/sma-tuition-api/internal/models"
)

// Settlement outcomes reported by payment_requests_settled_total.
const (
	SettlementMatched   = "matched"
	SettlementUnmatched = "unmatched"
)

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots for API consumption.
type MetricsService struct {
	registry               *prometheus.Registry
	handler                http.Handler
	requestDuration        *prometheus.HistogramVec
	requestTotal           *prometheus.CounterVec
	dbQueryDuration        *prometheus.HistogramVec
	paymentRequestsCreated prometheus.Counter
	paymentRequestsSettled *prometheus.CounterVec
	uniqueAmountAttempts   prometheus.Histogram
	rateLimitRejections    *prometheus.CounterVec
	idempotencyReplays     *prometheus.CounterVec
	paymentsRecorded       *prometheus.CounterVec
	paymentRequestsExpired prometheus.Counter
	cacheLookups           *prometheus.CounterVec

	requestCount         uint64
	requestDurationTotal uint64
	dbQueryCount         uint64
	dbQueryDurationTotal uint64
	createdCount         uint64
	matchedCount         uint64
	unmatchedCount       uint64
	rejectionCount       uint64
	replayCount          uint64
	cacheHits            uint64
	cacheMisses          uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "db_query_duration_seconds",
		Help:    "Duration of database queries",
		Buckets: prometheus.DefBuckets,
	}, []string{"query"})

	paymentRequestsCreated := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "payment_requests_created_total",
		Help: "Payment requests created by students",
	})

	paymentRequestsSettled := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_requests_settled_total",
		Help: "Bank transfer events processed, by outcome",
	}, []string{"outcome"})

	paymentRequestsExpired := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "payment_requests_expired_total",
		Help: "Pending payment requests flipped to EXPIRED by the sweep",
	})

	uniqueAmountAttempts := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "unique_amount_attempts",
		Help:    "Draws needed to find a free unique transfer amount",
		Buckets: []float64{1, 2, 3, 5, 10, 20, 50},
	})

	rateLimitRejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rate_limit_rejections_total",
		Help: "Requests rejected by the rate limiter",
	}, []string{"action"})

	idempotencyReplays := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "idempotency_replays_total",
		Help: "Duplicate submissions answered from a stored result",
	}, []string{"action"})

	paymentsRecorded := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_recorded_total",
		Help: "Ledger payments recorded, by source",
	}, []string{"source"})

	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_lookups_total",
		Help: "Reference data cache lookups, by result",
	}, []string{"result"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(
		requestDuration, requestTotal, dbQueryDuration,
		paymentRequestsCreated, paymentRequestsSettled, paymentRequestsExpired, uniqueAmountAttempts,
		rateLimitRejections, idempotencyReplays, paymentsRecorded, cacheLookups, goroutines,
	)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:               registry,
		handler:                handler,
		requestDuration:        requestDuration,
		requestTotal:           requestTotal,
		dbQueryDuration:        dbQueryDuration,
		paymentRequestsCreated: paymentRequestsCreated,
		paymentRequestsSettled: paymentRequestsSettled,
		paymentRequestsExpired: paymentRequestsExpired,
		uniqueAmountAttempts:   uniqueAmountAttempts,
		rateLimitRejections:    rateLimitRejections,
		idempotencyReplays:     idempotencyReplays,
		paymentsRecorded:       paymentsRecorded,
		cacheLookups:           cacheLookups,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics and aggregates simple stats for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// ObserveDBQuery records database query timing.
func (m *MetricsService) ObserveDBQuery(label string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(label).Observe(duration.Seconds())
	atomic.AddUint64(&m.dbQueryCount, 1)
	atomic.AddUint64(&m.dbQueryDurationTotal, uint64(duration.Nanoseconds()))
}

// PaymentRequestCreated counts a committed payment request.
func (m *MetricsService) PaymentRequestCreated() {
	if m == nil {
		return
	}
	m.paymentRequestsCreated.Inc()
	atomic.AddUint64(&m.createdCount, 1)
}

// PaymentRequestsExpired counts requests flipped by the expiry sweep.
func (m *MetricsService) PaymentRequestsExpired(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.paymentRequestsExpired.Add(float64(n))
}

// TransferSettled counts a processed transfer event.
func (m *MetricsService) TransferSettled(matched bool) {
	if m == nil {
		return
	}
	if matched {
		m.paymentRequestsSettled.WithLabelValues(SettlementMatched).Inc()
		atomic.AddUint64(&m.matchedCount, 1)
		return
	}
	m.paymentRequestsSettled.WithLabelValues(SettlementUnmatched).Inc()
	atomic.AddUint64(&m.unmatchedCount, 1)
}

// ObserveUniqueAmountAttempts records how many draws an allocation needed.
func (m *MetricsService) ObserveUniqueAmountAttempts(attempts int) {
	if m == nil {
		return
	}
	m.uniqueAmountAttempts.Observe(float64(attempts))
}

// RateLimitRejected counts a rejected request.
func (m *MetricsService) RateLimitRejected(action string) {
	if m == nil {
		return
	}
	m.rateLimitRejections.WithLabelValues(action).Inc()
	atomic.AddUint64(&m.rejectionCount, 1)
}

// IdempotentReplay counts a duplicate answered from a stored result.
func (m *MetricsService) IdempotentReplay(action string) {
	if m == nil {
		return
	}
	m.idempotencyReplays.WithLabelValues(action).Inc()
	atomic.AddUint64(&m.replayCount, 1)
}

// PaymentRecorded counts a ledger payment.
func (m *MetricsService) PaymentRecorded(source models.PaymentSource) {
	if m == nil {
		return
	}
	m.paymentsRecorded.WithLabelValues(string(source)).Inc()
}

// CacheLookup counts a cache hit or miss.
func (m *MetricsService) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		atomic.AddUint64(&m.cacheHits, 1)
		m.cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	atomic.AddUint64(&m.cacheMisses, 1)
	m.cacheLookups.WithLabelValues("miss").Inc()
}

// Snapshot returns aggregated metrics suitable for the admin metrics endpoint.
func (m *MetricsService) Snapshot() models.SystemMetrics {
	if m == nil {
		return models.SystemMetrics{}
	}
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)
	dbCount := atomic.LoadUint64(&m.dbQueryCount)
	dbDuration := atomic.LoadUint64(&m.dbQueryDurationTotal)

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	var avgDBMs float64
	if dbCount > 0 {
		avgDBMs = float64(dbDuration) / float64(dbCount) / float64(time.Millisecond)
	}

	return models.SystemMetrics{
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		DBQueryCount:             dbCount,
		AverageDBQueryDurationMs: avgDBMs,
		PaymentRequestsCreated:   atomic.LoadUint64(&m.createdCount),
		TransfersMatched:         atomic.LoadUint64(&m.matchedCount),
		TransfersUnmatched:       atomic.LoadUint64(&m.unmatchedCount),
		RateLimitRejections:      atomic.LoadUint64(&m.rejectionCount),
		IdempotentReplays:        atomic.LoadUint64(&m.replayCount),
		CacheHits:                atomic.LoadUint64(&m.cacheHits),
		CacheMisses:              atomic.LoadUint64(&m.cacheMisses),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
