package publish

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// GateOptions tune the publish throttle.
type GateOptions struct {
	// MaxPerHour caps successful sends in any rolling 60-minute window.
	// Zero means unlimited.
	MaxPerHour int
	// MinDelay is the minimum wall-clock spacing between consecutive send
	// attempts, independent of the hourly window.
	MinDelay time.Duration
}

// Gate rate-limits emission through a Publisher. One Gate instance is shared
// by all platform cycles because the hourly budget belongs to the output
// destination, not to a platform; its window and pacing clock are guarded by
// a single lock.
type Gate struct {
	pub    Publisher
	opts   GateOptions
	logger zerolog.Logger

	mu          sync.Mutex
	sent        []time.Time
	lastAttempt time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewGate wraps a Publisher with the shared rate limit.
func NewGate(pub Publisher, opts GateOptions, logger zerolog.Logger) *Gate {
	return &Gate{
		pub:    pub,
		opts:   opts,
		logger: logger.With().Str("component", "publish_gate").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
		sleep:  sleepContext,
	}
}

// Send attempts one delivery. It reports OutcomeNoCapacity without calling
// the publisher when the hourly window is full; unavailable sends are
// surfaced untouched and do not consume window capacity.
func (g *Gate) Send(ctx context.Context, cand Candidate) (Outcome, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.prune(now)

	if g.opts.MaxPerHour > 0 && len(g.sent) >= g.opts.MaxPerHour {
		g.logger.Info().
			Int("window", len(g.sent)).
			Int("max_per_hour", g.opts.MaxPerHour).
			Msg("hourly publish budget exhausted")
		return OutcomeNoCapacity, nil
	}

	if g.opts.MinDelay > 0 && !g.lastAttempt.IsZero() {
		if wait := g.opts.MinDelay - now.Sub(g.lastAttempt); wait > 0 {
			if err := g.sleep(ctx, wait); err != nil {
				return OutcomeNoCapacity, err
			}
		}
	}
	g.lastAttempt = g.now()

	outcome, err := g.pub.Send(ctx, cand)
	if err != nil {
		return outcome, err
	}
	if outcome == OutcomeSent {
		g.sent = append(g.sent, g.now())
	}
	return outcome, nil
}

// WindowUsage reports successful sends currently inside the rolling window
// and the configured cap.
func (g *Gate) WindowUsage() (used, max int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prune(g.now())
	return len(g.sent), g.opts.MaxPerHour
}

func (g *Gate) prune(now time.Time) {
	cutoff := now.Add(-time.Hour)
	idx := 0
	for idx < len(g.sent) && g.sent[idx].Before(cutoff) {
		idx++
	}
	if idx > 0 {
		g.sent = append(g.sent[:0], g.sent[idx:]...)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
