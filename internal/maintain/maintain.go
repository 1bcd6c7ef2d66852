// Package maintain keeps the tracked population healthy: it removes
// items the source reports as permanently gone, evicts items whose
// media repeatedly fails, rotates out stale stock, and refills the
// population back to its target size.
package maintain

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"deal-radar/internal/platform"
	"deal-radar/internal/source"
	"deal-radar/internal/storage"
)

// Options configure a Maintainer.
type Options struct {
	Platform           platform.Code
	TargetCount        int
	HardDeathThreshold int
	SoftDeathThreshold int
	RotationPeriod     time.Duration
	RotationFraction   float64
	RefillAttempts     int
	Now                func() time.Time
}

// Maintainer runs population upkeep for one platform after each cycle.
// Each step is independent: a failed step is logged and skipped, never
// leaving the population half-modified.
type Maintainer struct {
	opts      Options
	store     maintStore
	collector source.Collector
	log       zerolog.Logger
}

// maintStore is the slice of storage the maintainer needs.
type maintStore interface {
	storage.ItemStore
	storage.RotationStore
}

// hardDeathReasons are the fatal source codes that qualify for removal.
var hardDeathReasons = []string{source.FatalNotFound, source.FatalGone}

// NewMaintainer constructs a Maintainer.
func NewMaintainer(store maintStore, collector source.Collector, opts Options, log zerolog.Logger) *Maintainer {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.RefillAttempts <= 0 {
		opts.RefillAttempts = 1
	}
	return &Maintainer{
		opts:      opts,
		store:     store,
		collector: collector,
		log: log.With().
			Str("component", "maintainer").
			Str("platform", string(opts.Platform)).
			Logger(),
	}
}

// Run executes one maintenance pass: hard-death sweep, soft-death sweep,
// rotation when due, then a refill back to the target population.
func (m *Maintainer) Run(ctx context.Context, platformID int64, queries []string) {
	m.sweepHardDead(ctx, platformID)
	m.sweepMediaDead(ctx, platformID)
	rotated := m.rotate(ctx, platformID)
	m.refill(ctx, platformID, queries, rotated)
}

// sweepHardDead deletes items the source answered with a fatal code on
// enough consecutive priceless observations.
func (m *Maintainer) sweepHardDead(ctx context.Context, platformID int64) {
	ids, err := m.store.ListHardDead(ctx, platformID, m.opts.HardDeathThreshold, hardDeathReasons)
	if err != nil {
		m.log.Error().Err(err).Msg("hard-death sweep query failed")
		return
	}
	if len(ids) == 0 {
		return
	}
	deleted, err := m.store.DeleteItems(ctx, platformID, ids)
	if err != nil {
		m.log.Error().Err(err).Msg("hard-death sweep delete failed")
		return
	}
	m.log.Info().Int64("deleted", deleted).Msg("removed permanently dead items")
}

// sweepMediaDead deletes items whose images failed on enough consecutive
// publish attempts.
func (m *Maintainer) sweepMediaDead(ctx context.Context, platformID int64) {
	ids, err := m.store.ListMediaDead(ctx, platformID, m.opts.SoftDeathThreshold)
	if err != nil {
		m.log.Error().Err(err).Msg("media-death sweep query failed")
		return
	}
	if len(ids) == 0 {
		return
	}
	deleted, err := m.store.DeleteItems(ctx, platformID, ids)
	if err != nil {
		m.log.Error().Err(err).Msg("media-death sweep delete failed")
		return
	}
	m.log.Info().Int64("deleted", deleted).Msg("removed items with dead media")
}

// rotate evicts the oldest fraction of the population once per rotation
// period. It reports whether a rotation ran this pass; the marker is only
// refreshed after the following refill restores the target, so a failed
// refill retries rotation next pass.
func (m *Maintainer) rotate(ctx context.Context, platformID int64) bool {
	if m.opts.RotationPeriod <= 0 || m.opts.RotationFraction <= 0 {
		return false
	}
	mark, err := m.store.RotationMark(ctx, platformID)
	if err != nil {
		m.log.Error().Err(err).Msg("rotation mark query failed")
		return false
	}
	now := m.opts.Now()
	if mark != nil && now.Sub(*mark) < m.opts.RotationPeriod {
		return false
	}
	n := int(float64(m.opts.TargetCount) * m.opts.RotationFraction)
	if n < 1 {
		n = 1
	}
	deleted, err := m.store.DeleteOldest(ctx, platformID, n)
	if err != nil {
		m.log.Error().Err(err).Msg("rotation delete failed")
		return false
	}
	m.log.Info().Int64("deleted", deleted).Msg("rotated out oldest items")
	return true
}

// refill tops the population up to the target. When a rotation ran this
// pass, the rotation marker is refreshed once the target is actually
// reached, so a short refill leaves the rotation incomplete.
func (m *Maintainer) refill(ctx context.Context, platformID int64, queries []string, rotated bool) {
	if m.opts.TargetCount <= 0 || len(queries) == 0 {
		return
	}
	count, err := m.store.CountItems(ctx, platformID)
	if err != nil {
		m.log.Error().Err(err).Msg("population count failed")
		return
	}
	need := m.opts.TargetCount - int(count)
	if need > 0 {
		m.collectInto(ctx, platformID, queries, need)
	}

	count, err = m.store.CountItems(ctx, platformID)
	if err != nil {
		m.log.Error().Err(err).Msg("population recount failed")
		return
	}
	if int(count) < m.opts.TargetCount {
		m.log.Warn().
			Int64("count", count).
			Int("target", m.opts.TargetCount).
			Msg("population below target after refill")
		return
	}
	if rotated {
		if err := m.store.SetRotationMark(ctx, platformID, m.opts.Now()); err != nil {
			m.log.Error().Err(err).Msg("rotation mark update failed")
		}
	}
}

// collectInto asks the source for candidates in bounded attempts until
// either `need` new items landed or the attempts are spent. Collection
// over-asks to compensate for duplicates already tracked, but inserts are
// capped so the population never overshoots the target.
func (m *Maintainer) collectInto(ctx context.Context, platformID int64, queries []string, need int) {
	existing, err := m.store.ListItemIDs(ctx, platformID)
	if err != nil {
		m.log.Error().Err(err).Msg("refill id listing failed")
		return
	}
	seen := make(map[string]struct{}, len(existing))
	for _, id := range existing {
		seen[id] = struct{}{}
	}

	added := 0
	for attempt := 1; attempt <= m.opts.RefillAttempts && added < need; attempt++ {
		if ctx.Err() != nil {
			return
		}
		remaining := need - added
		headroom := remaining * 10
		if headroom < remaining+30 {
			headroom = remaining + 30
		}
		ids, err := m.collector.Collect(ctx, m.opts.Platform, queries, headroom)
		if err != nil {
			m.log.Error().Err(err).Int("attempt", attempt).Msg("refill collection failed")
			continue
		}
		fresh := make([]string, 0, remaining)
		for _, id := range ids {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			fresh = append(fresh, id)
			if len(fresh) == remaining {
				break
			}
		}
		if len(fresh) == 0 {
			m.log.Warn().Int("attempt", attempt).Msg("refill collection yielded no new items")
			continue
		}
		n, err := m.store.AddItems(ctx, platformID, fresh)
		if err != nil {
			m.log.Error().Err(err).Int("attempt", attempt).Msg("refill insert failed")
			continue
		}
		added += int(n)
	}
	if added > 0 {
		m.log.Info().Int("added", added).Int("need", need).Msg("refilled population")
	}
}
