package session

import (
	"context"
	"time"
)

const DefaultPollInterval = 2 * time.Second

// Poll calls fn with a fresh ListSessions result immediately and then on
// every tick until ctx is done. It is a diagnostic view; Subscribe is the
// way to follow a Manager's own transitions.
func Poll(ctx context.Context, m *Manager, interval time.Duration, fn func([]SessionSummary)) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	fn(m.ListSessions(ctx))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			fn(m.ListSessions(ctx))
		}
	}
}
