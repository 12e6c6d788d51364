package models

import "time"

// IdempotencyRecord stores the first result of a deduplicated operation.
// Result is nil while the first execution is still running.
type IdempotencyRecord struct {
	Key       string       `db:"key" json:"key"`
	Action    string       `db:"action" json:"action"`
	Result    []byte       `db:"result" json:"-"`
	Status    RecordStatus `db:"status" json:"status"`
	ExpiresAt time.Time    `db:"expires_at" json:"expires_at"`
	CreatedAt time.Time    `db:"created_at" json:"created_at"`
}

// Completed reports whether the first execution stored its result.
func (r IdempotencyRecord) Completed() bool {
	return len(r.Result) > 0
}

// ActiveAt reports whether the record still deduplicates calls at now.
func (r IdempotencyRecord) ActiveAt(now time.Time) bool {
	return r.Status == RecordStatusActive && now.Before(r.ExpiresAt)
}
