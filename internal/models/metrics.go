package models

import "time"

// SystemMetrics is a lightweight snapshot of instrumentation counters.
type SystemMetrics struct {
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	DBQueryCount             uint64    `json:"db_query_count"`
	AverageDBQueryDurationMs float64   `json:"average_db_query_duration_ms"`
	PaymentRequestsCreated   uint64    `json:"payment_requests_created"`
	TransfersMatched         uint64    `json:"transfers_matched"`
	TransfersUnmatched       uint64    `json:"transfers_unmatched"`
	RateLimitRejections      uint64    `json:"rate_limit_rejections"`
	IdempotentReplays        uint64    `json:"idempotent_replays"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}
