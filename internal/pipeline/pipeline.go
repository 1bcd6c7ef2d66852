// Package pipeline orchestrates one monitoring cycle per platform:
// refresh settings, observe the tracked population, fold observations
// into item state, publish qualifying changes, and run population
// maintenance.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"deal-radar/internal/maintain"
	"deal-radar/internal/platform"
	"deal-radar/internal/publish"
	"deal-radar/internal/selector"
	"deal-radar/internal/settings"
	"deal-radar/internal/source"
	"deal-radar/internal/storage"
	"deal-radar/internal/tracker"
)

// ErrSourceStorm aborts a cycle after too many consecutive source
// failures. The scheduler logs it and waits for the next tick.
var ErrSourceStorm = errors.New("source error storm")

// cycleStore is the slice of storage the orchestrator needs.
type cycleStore interface {
	storage.PlatformStore
	storage.ItemStore
	storage.CycleStore
}

// Defaults carry config-derived fallbacks used when the corresponding
// dynamic setting is absent.
type Defaults struct {
	MinPrice            float64
	MaxPrice            float64
	MinStock            int
	MinDiscountPercent  float64
	MinPriceDropPercent float64
	MinDiscountIncrease float64
	StabilityThreshold  int
	RefillQueries       []string
}

// Options configure an Orchestrator.
type Options struct {
	Platform      platform.Code
	BatchSize     int
	BatchDelay    time.Duration
	ErrorStormCap int
	TargetCount   int
	Defaults      Defaults
	Now           func() time.Time
}

// Orchestrator drives the per-platform cycle. It is reentrancy-unsafe on
// purpose; the scheduler guarantees one running cycle per platform.
type Orchestrator struct {
	opts     Options
	store    cycleStore
	src      source.Source
	selector *selector.Selector
	gate     *publish.Gate
	settings *settings.Cache
	maint    *maintain.Maintainer
	log      zerolog.Logger

	platformID int64
}

// NewOrchestrator wires a cycle orchestrator for one platform.
func NewOrchestrator(store cycleStore, src source.Source, sel *selector.Selector, gate *publish.Gate, cache *settings.Cache, maint *maintain.Maintainer, opts Options, log zerolog.Logger) *Orchestrator {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{
		opts:     opts,
		store:    store,
		src:      src,
		selector: sel,
		gate:     gate,
		settings: cache,
		maint:    maint,
		log: log.With().
			Str("component", "pipeline").
			Str("platform", string(opts.Platform)).
			Logger(),
	}
}

// RunCycle executes one full monitoring cycle. Tracking and publish
// bookkeeping commit together; maintenance runs outside that unit so a
// failed sweep never rolls back observed state.
func (o *Orchestrator) RunCycle(ctx context.Context) error {
	started := o.opts.Now()

	if err := o.settings.Refresh(ctx); err != nil {
		o.log.Warn().Err(err).Msg("settings refresh failed, using last known values")
	}

	if o.platformID == 0 {
		p, err := o.store.EnsurePlatform(ctx, string(o.opts.Platform), o.opts.Platform.Name())
		if err != nil {
			return fmt.Errorf("ensure platform: %w", err)
		}
		o.platformID = p.ID
	}

	ids, err := o.store.ListItemIDs(ctx, o.platformID)
	if err != nil {
		return fmt.Errorf("list items: %w", err)
	}
	if len(ids) == 0 {
		ids, err = o.collectInitial(ctx)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			o.log.Warn().Msg("nothing to monitor after collection")
			return nil
		}
	}

	observations, err := o.observeAll(ctx, ids)
	if err != nil {
		return err
	}
	queries := o.settings.List(settings.KeyRefillQueries, o.opts.Defaults.RefillQueries)
	if len(observations) == 0 {
		o.log.Warn().Msg("cycle produced no observations")
		o.maint.Run(ctx, o.platformID, queries)
		return nil
	}

	observations = filterObservations(observations, Thresholds{
		MinPrice:           o.settings.Float(settings.KeyMinPrice, o.opts.Defaults.MinPrice),
		MaxPrice:           o.settings.Float(settings.KeyMaxPrice, o.opts.Defaults.MaxPrice),
		MinStock:           o.settings.Int(settings.KeyMinStock, o.opts.Defaults.MinStock),
		MinDiscountPercent: o.settings.Float(settings.KeyMinDiscount, o.opts.Defaults.MinDiscountPercent),
	})

	if err := o.track(ctx, observations); err != nil {
		return err
	}

	o.maint.Run(ctx, o.platformID, queries)
	o.log.Info().
		Dur("took", o.opts.Now().Sub(started)).
		Int("observed", len(observations)).
		Msg("cycle finished")
	return nil
}

// collectInitial seeds an empty population and switches straight to
// monitoring within the same cycle.
func (o *Orchestrator) collectInitial(ctx context.Context) ([]string, error) {
	queries := o.settings.List(settings.KeyRefillQueries, o.opts.Defaults.RefillQueries)
	if len(queries) == 0 {
		o.log.Warn().Msg("no collection queries configured")
		return nil, nil
	}
	o.log.Info().Int("target", o.opts.TargetCount).Msg("population empty, collecting")
	found, err := o.src.Collect(ctx, o.opts.Platform, queries, o.opts.TargetCount)
	if err != nil {
		return nil, fmt.Errorf("collect: %w", err)
	}
	if len(found) > o.opts.TargetCount {
		found = found[:o.opts.TargetCount]
	}
	if _, err := o.store.AddItems(ctx, o.platformID, found); err != nil {
		return nil, fmt.Errorf("seed population: %w", err)
	}
	return o.store.ListItemIDs(ctx, o.platformID)
}

// observeAll polls the population in batches. Consecutive batch failures
// up to the storm cap trigger one source reset, then abort the cycle.
func (o *Orchestrator) observeAll(ctx context.Context, ids []string) ([]source.Observation, error) {
	var (
		out        []source.Observation
		errStreak  int
		resetTried bool
	)
	for start := 0; start < len(ids); start += o.opts.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := start + o.opts.BatchSize
		if end > len(ids) {
			end = len(ids)
		}
		batch, err := o.src.Observe(ctx, o.opts.Platform, ids[start:end])
		if err != nil {
			errStreak++
			o.log.Error().Err(err).Int("streak", errStreak).Msg("batch observation failed")
			if o.opts.ErrorStormCap > 0 && errStreak >= o.opts.ErrorStormCap {
				if !resetTried {
					resetTried = true
					if r, ok := o.src.(source.Recoverable); ok {
						if rerr := r.Reset(ctx); rerr != nil {
							o.log.Error().Err(rerr).Msg("source reset failed")
						} else {
							o.log.Info().Msg("source reset after error storm")
							errStreak = 0
							continue
						}
					}
				}
				return nil, fmt.Errorf("%w: %d consecutive failures", ErrSourceStorm, errStreak)
			}
		} else {
			errStreak = 0
			out = append(out, batch...)
		}
		if end < len(ids) && o.opts.BatchDelay > 0 {
			if err := sleepContext(ctx, o.opts.BatchDelay); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// track folds observations into item state and publishes qualifying
// changes. All writes ride one transaction committed after publishing,
// so an aborted cycle re-announces nothing it never recorded.
func (o *Orchestrator) track(ctx context.Context, observations []source.Observation) error {
	tx, err := o.store.BeginCycle(ctx)
	if err != nil {
		return fmt.Errorf("begin cycle: %w", err)
	}
	defer tx.Rollback(context.WithoutCancel(ctx))

	observedIDs := make([]string, len(observations))
	byID := make(map[string]source.Observation, len(observations))
	for i, obs := range observations {
		observedIDs[i] = obs.ExternalID
		byID[obs.ExternalID] = obs
	}
	items, err := tx.Items(ctx, o.platformID, observedIDs)
	if err != nil {
		return fmt.Errorf("load items: %w", err)
	}

	trk := tracker.New(tracker.Options{
		StabilityThreshold: o.settings.Int(settings.KeyStabilityThreshold, o.opts.Defaults.StabilityThreshold),
		Now:                o.opts.Now,
	})

	var results []tracker.Result
	var fresh, stabilized, changed int
	for _, obs := range observations {
		r := trk.Apply(o.platformID, items[obs.ExternalID], obs)
		if err := tx.SaveItem(ctx, r.Item); err != nil {
			return fmt.Errorf("save item %s: %w", obs.ExternalID, err)
		}
		if r.Snapshot != nil {
			r.Snapshot.ItemID = r.Item.ID
			if err := tx.AppendSnapshot(ctx, *r.Snapshot); err != nil {
				return fmt.Errorf("append snapshot %s: %w", obs.ExternalID, err)
			}
		}
		switch {
		case r.IsNew:
			fresh++
		case r.JustStabilized:
			stabilized++
		case r.HasChanges():
			changed++
		}
		results = append(results, r)
	}
	o.log.Info().
		Int("new", fresh).
		Int("stabilized", stabilized).
		Int("changed", changed).
		Msg("tracking applied")

	candidates := o.selector.Select(o.opts.Platform, results, byID, selector.Thresholds{
		MinPriceDropPercent: o.settings.Float(settings.KeyMinPriceDrop, o.opts.Defaults.MinPriceDropPercent),
		MinDiscountIncrease: o.settings.Float(settings.KeyMinDiscountIncrease, o.opts.Defaults.MinDiscountIncrease),
	})
	if err := o.publish(ctx, tx, candidates); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit cycle: %w", err)
	}
	return nil
}

// publish walks the candidates through the rate gate. Exhausted capacity
// stops the walk; the remaining candidates are deferred to a later cycle
// because their baselines were already advanced in this transaction.
func (o *Orchestrator) publish(ctx context.Context, tx storage.CycleTx, candidates []publish.Candidate) error {
	for i, cand := range candidates {
		outcome, err := o.gate.Send(ctx, cand)
		if err != nil {
			o.log.Error().Err(err).Str("external_id", cand.ExternalID).Msg("publish failed")
			continue
		}
		switch outcome {
		case publish.OutcomeSent:
			if err := tx.ResetMediaFail(ctx, o.platformID, cand.ExternalID); err != nil {
				return fmt.Errorf("reset media failures: %w", err)
			}
		case publish.OutcomeUnavailable:
			n, err := tx.BumpMediaFail(ctx, o.platformID, cand.ExternalID)
			if err != nil {
				return fmt.Errorf("record media failure: %w", err)
			}
			o.log.Warn().Str("external_id", cand.ExternalID).Int("media_failures", n).Msg("media unavailable")
		case publish.OutcomeNoCapacity:
			o.log.Info().Int("deferred", len(candidates)-i).Msg("publish budget exhausted")
			return nil
		}
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
