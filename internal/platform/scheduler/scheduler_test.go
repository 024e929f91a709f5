package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"khural/pkg/testutil"
)

// sunday is just before the Monday 00:01 weekly window.
var sunday = time.Date(2026, time.August, 23, 23, 0, 0, 0, time.UTC)

func TestScheduler_FiresOnSchedule(t *testing.T) {
	clock := clockwork.NewFakeClockAt(sunday)
	sched := New(WithClock(clock))

	fired := make(chan time.Time, 4)
	err := sched.Register("weekly-job", "1 0 * * 1", func(context.Context) error {
		fired <- clock.Now()
		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()

	testutil.When(t, "the clock reaches Monday 00:01", func(t *testing.T) {
		clock.BlockUntil(1)
		clock.Advance(61 * time.Minute)

		select {
		case at := <-fired:
			assert.Equal(t, time.Monday, at.Weekday())
			assert.Equal(t, 0, at.Hour())
			assert.Equal(t, 1, at.Minute())
		case <-time.After(2 * time.Second):
			t.Fatal("job did not fire")
		}
	})

	testutil.Then(t, "cancellation stops the loop", func(t *testing.T) {
		cancel()
		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(2 * time.Second):
			t.Fatal("scheduler did not stop")
		}
	})
}

func TestScheduler_JobErrorDoesNotStopTheLoop(t *testing.T) {
	clock := clockwork.NewFakeClockAt(sunday)
	sched := New(WithClock(clock))

	runs := make(chan struct{}, 4)
	err := sched.Register("flaky-job", "1 0 * * 1", func(context.Context) error {
		runs <- struct{}{}
		return errors.New("boom")
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = sched.Run(ctx) }()

	clock.BlockUntil(1)
	clock.Advance(61 * time.Minute)
	select {
	case <-runs:
	case <-time.After(2 * time.Second):
		t.Fatal("first run did not fire")
	}

	// The loop must schedule the next week despite the failure.
	clock.BlockUntil(1)
	clock.Advance(7 * 24 * time.Hour)
	select {
	case <-runs:
	case <-time.After(2 * time.Second):
		t.Fatal("job was not rescheduled after an error")
	}
}

func TestScheduler_RejectsBadExpression(t *testing.T) {
	sched := New()
	err := sched.Register("bad", "not a cron", func(context.Context) error { return nil })
	assert.Error(t, err)
}
