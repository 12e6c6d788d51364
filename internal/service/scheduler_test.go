package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerRegister(t *testing.T) {
	s := NewScheduler(time.Second, nil)
	defer s.Stop(context.Background())

	noop := func(ctx context.Context) error { return nil }
	require.NoError(t, s.Register("disabled", "", noop))
	require.NoError(t, s.Register("sweep", "@every 1m", noop))
	assert.Len(t, s.cron.Entries(), 1)

	err := s.Register("broken", "not a cron", noop)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestSchedulerRunBoundsJobWithTimeout(t *testing.T) {
	s := NewScheduler(20*time.Millisecond, nil)
	defer s.Stop(context.Background())

	var deadlineSet bool
	var jobErr error
	s.run("slow", func(ctx context.Context) error {
		_, deadlineSet = ctx.Deadline()
		<-ctx.Done()
		jobErr = ctx.Err()
		return jobErr
	})
	assert.True(t, deadlineSet)
	assert.True(t, errors.Is(jobErr, context.DeadlineExceeded))
}

func TestSchedulerStopCancelsRunningJobs(t *testing.T) {
	s := NewScheduler(time.Minute, nil)
	s.Stop(context.Background())

	var jobErr error
	s.run("after-stop", func(ctx context.Context) error {
		jobErr = ctx.Err()
		return nil
	})
	assert.True(t, errors.Is(jobErr, context.Canceled))
}
