package syncer

import (
	"context"
	"log/slog"
	"time"
)

// Pinger checks remote reachability. remote.Adapter implements it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Monitor probes the remote periodically and reports reachability changes.
type Monitor struct {
	pinger   Pinger
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

// NewMonitor creates a monitor probing every interval.
func NewMonitor(p Pinger, interval time.Duration, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{
		pinger:   p,
		interval: interval,
		timeout:  min(interval, 10*time.Second),
		logger:   logger,
	}
}

// Probe runs one reachability check.
func (m *Monitor) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	if err := m.pinger.Ping(ctx); err != nil {
		m.logger.Debug("remote probe failed", "error", err)
		return false
	}
	return true
}

// Run probes until ctx is done, calling onChange after every probe. The
// receiver decides whether the value is a transition.
func (m *Monitor) Run(ctx context.Context, onChange func(online bool)) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			onChange(m.Probe(ctx))
		}
	}
}
