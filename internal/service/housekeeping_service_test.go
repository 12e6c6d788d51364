package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-tuition-api/internal/models"
)

func TestHousekeepingRunsEveryStep(t *testing.T) {
	clock := newFakeClock()
	rateStore := newMemoryRateLimitStore()
	rateStore.records["old|login"] = &models.RateLimitRecord{Identifier: "old", Action: "login", Count: 3, ExpiresAt: clock.Now().Add(-48 * time.Hour)}
	rates := NewRateLimitService(rateStore, nil, nil, WithRateLimitClock(clock.Now))

	idemStore := newMemoryIdempotencyStore()
	idem := newIdempotencyForTest(idemStore, clock)
	_, err := idemStore.Claim(context.Background(), "k", "test", clock.Now().Add(-time.Minute), clock.Now().Add(-time.Hour))
	require.NoError(t, err)

	svc := NewHousekeepingService(rates, idem, nil, nil)
	require.NoError(t, svc.Run(context.Background()))

	assert.Empty(t, rateStore.records)
	record, err := idemStore.GetRecord(context.Background(), "k")
	require.NoError(t, err)
	assert.False(t, record.ActiveAt(clock.Now()))
}
