package credential

import (
	"context"
	"time"

	"liaison/internal/shared/logger"
)

const (
	// DefaultSweepInterval is how often the worker scans for expiring tokens.
	DefaultSweepInterval = time.Minute
	// DefaultSweepWindow is how far ahead of expiry a token is refreshed.
	DefaultSweepWindow = 10 * time.Minute
)

// RefreshWorker proactively refreshes stored tokens before they expire so
// interactive requests rarely pay the refresh round trip.
type RefreshWorker struct {
	svc      *Service
	interval time.Duration
	window   time.Duration
	logger   logger.Interface
}

func NewRefreshWorker(svc *Service, interval, window time.Duration, log logger.Interface) *RefreshWorker {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if window <= 0 {
		window = DefaultSweepWindow
	}
	return &RefreshWorker{
		svc:      svc,
		interval: interval,
		window:   window,
		logger:   log.Named("credential.refresh_worker"),
	}
}

// Run sweeps on every tick until the context is cancelled. Sweep errors
// are logged and the loop keeps going.
func (w *RefreshWorker) Run(ctx context.Context) {
	w.logger.Infow("refresh worker started",
		"interval", w.interval.String(),
		"window", w.window.String())

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Infow("refresh worker stopped")
			return
		case <-ticker.C:
			refreshed, err := w.svc.RefreshExpiring(ctx, w.window)
			if err != nil {
				w.logger.Warnw("refresh sweep failed", "error", err)
				continue
			}
			if refreshed > 0 {
				w.logger.Infow("refreshed expiring credentials", "count", refreshed)
			}
		}
	}
}
