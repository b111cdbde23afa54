package credential

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liaison/internal/shared/logger"
)

func discardLogger() logger.Interface {
	return logger.NewLoggerWithSlog(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRefreshWorker_RefreshesExpiringOnTick(t *testing.T) {
	f := newServiceFixture(t)
	f.seedRecord(t, "U1", time.Minute)
	f.provider.result = &RefreshResult{
		AccessToken:  "refreshed-access",
		RefreshToken: "refreshed-refresh",
		ExpiresAt:    time.Now().Add(time.Hour),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := NewRefreshWorker(f.svc, 10*time.Millisecond, 10*time.Minute, discardLogger())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return f.provider.calls.Load() >= 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}

func TestRefreshWorker_KeepsRunningAfterSweepFailure(t *testing.T) {
	f := newServiceFixture(t)
	f.seedRecord(t, "U1", time.Minute)
	f.provider.err = assert.AnError

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := NewRefreshWorker(f.svc, 10*time.Millisecond, 10*time.Minute, discardLogger())
	go w.Run(ctx)

	// Failed sweeps keep retrying on subsequent ticks.
	require.Eventually(t, func() bool {
		return f.provider.calls.Load() >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestNewRefreshWorker_DefaultsNonPositiveDurations(t *testing.T) {
	f := newServiceFixture(t)

	w := NewRefreshWorker(f.svc, 0, -time.Second, discardLogger())

	assert.Equal(t, DefaultSweepInterval, w.interval)
	assert.Equal(t, DefaultSweepWindow, w.window)
}
