package tracker

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"deal-radar/internal/source"
	"deal-radar/internal/storage"
)

// Change fields.
const (
	FieldPrice    = "price"
	FieldDiscount = "discount"
)

// DiscountDeadBand is the minimum absolute discount delta, in percentage
// points, that counts as a change.
const DiscountDeadBand = 1.0

// DefaultStabilityThreshold is the number of complete observations required
// before an item's baseline is trusted.
const DefaultStabilityThreshold = 2

// Change is one detected delta against the item's baseline.
type Change struct {
	Field string
	Old   decimal.Decimal
	New   decimal.Decimal
}

// Result classifies one applied observation.
type Result struct {
	Item           *storage.Item
	IsNew          bool
	Stable         bool
	JustStabilized bool
	Changes        []Change
	Snapshot       *storage.Snapshot
}

// HasChanges reports whether any baseline delta fired.
func (r Result) HasChanges() bool {
	return len(r.Changes) > 0
}

// Options tune the tracker.
type Options struct {
	StabilityThreshold int
	Now                func() time.Time
}

// Tracker converts raw observations into durable item state transitions.
//
// The rules, in order: complete observations (price and old_price both
// positive) advance the stability counter; once the counter reaches the
// threshold the item stabilises and its baseline is pinned to that cycle's
// observation with no change events; afterwards price and discount are each
// compared against the baseline and advance it edge-by-edge when they move.
// Stability never reverts.
type Tracker struct {
	threshold int
	now       func() time.Time
}

// New constructs a Tracker.
func New(opts Options) *Tracker {
	threshold := opts.StabilityThreshold
	if threshold <= 0 {
		threshold = DefaultStabilityThreshold
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Tracker{threshold: threshold, now: now}
}

// Apply folds one observation into the item's state. A nil item means the
// listing is new; the returned Result carries the (possibly fresh) item to
// persist, detected changes, and an optional history snapshot. Apply never
// fails: malformed values were already coerced to absent upstream.
func (t *Tracker) Apply(platformID int64, item *storage.Item, obs source.Observation) Result {
	now := t.now()

	if item == nil {
		return t.create(platformID, obs, now)
	}

	result := Result{Item: item}

	// Fatal-not-found accounting: a valid price revives the item, a fatal
	// code without a price accumulates toward hard death.
	if obs.HasPrice() {
		item.DeadFailCount = 0
		item.LastDeadReason = ""
	} else if obs.IsFatal() {
		item.DeadFailCount++
		item.LastDeadReason = obs.FatalCode
	}

	if obs.Complete() {
		item.ObservationCount++
	}

	if !item.Stable && item.ObservationCount >= t.threshold {
		item.Stable = true
		if obs.HasPrice() {
			price := obs.Price
			item.BaselinePrice = &price
		}
		item.BaselineDiscount = copyFloat(obs.Discount)
		at := now
		item.BaselineSetAt = &at
		result.JustStabilized = true
	}

	if item.Stable && !result.JustStabilized {
		result.Changes = t.detect(item, obs, now)
	}

	t.updateDisplayFields(item, obs, now)

	if obs.HasPrice() {
		result.Snapshot = &storage.Snapshot{
			ItemID:     item.ID,
			Price:      decimalPtr(obs.Price),
			OldPrice:   optionalDecimal(obs.OldPrice),
			Discount:   copyFloat(obs.Discount),
			Stock:      copyInt(obs.Stock),
			Rating:     copyFloat(obs.Rating),
			ObservedAt: now,
		}
	}

	result.Stable = item.Stable
	return result
}

func (t *Tracker) create(platformID int64, obs source.Observation, now time.Time) Result {
	count := 0
	if obs.Complete() {
		count = 1
	}

	item := &storage.Item{
		PlatformID:       platformID,
		ExternalID:       obs.ExternalID,
		Title:            obs.Title,
		URL:              obs.URL,
		CurrentPrice:     optionalDecimal(obs.Price),
		OldPrice:         optionalDecimal(obs.OldPrice),
		Discount:         copyFloat(obs.Discount),
		Stock:            copyInt(obs.Stock),
		Rating:           copyFloat(obs.Rating),
		ObservationCount: count,
		Stable:           false,
	}
	at := now
	item.LastSeenAt = &at

	return Result{Item: item, IsNew: true}
}

// detect compares the observation to the baseline. Price and discount are
// independent; each advances its own baseline edge when it fires.
func (t *Tracker) detect(item *storage.Item, obs source.Observation, now time.Time) []Change {
	var changes []Change

	if item.BaselinePrice != nil && obs.HasPrice() && !obs.Price.Equal(*item.BaselinePrice) {
		changes = append(changes, Change{
			Field: FieldPrice,
			Old:   *item.BaselinePrice,
			New:   obs.Price,
		})
		price := obs.Price
		item.BaselinePrice = &price
		at := now
		item.BaselineSetAt = &at
	}

	if item.BaselineDiscount != nil && obs.Discount != nil {
		if math.Abs(*obs.Discount-*item.BaselineDiscount) >= DiscountDeadBand {
			changes = append(changes, Change{
				Field: FieldDiscount,
				Old:   decimal.NewFromFloat(*item.BaselineDiscount),
				New:   decimal.NewFromFloat(*obs.Discount),
			})
			item.BaselineDiscount = copyFloat(obs.Discount)
		}
	}

	return changes
}

// updateDisplayFields overwrites current values with whatever the
// observation carries; absent fields keep their previous value.
func (t *Tracker) updateDisplayFields(item *storage.Item, obs source.Observation, now time.Time) {
	if obs.HasPrice() {
		price := obs.Price
		item.CurrentPrice = &price
	}
	if obs.OldPrice.IsPositive() {
		old := obs.OldPrice
		item.OldPrice = &old
	}
	if obs.Discount != nil {
		item.Discount = copyFloat(obs.Discount)
	}
	if obs.Stock != nil {
		item.Stock = copyInt(obs.Stock)
	}
	if obs.Rating != nil {
		item.Rating = copyFloat(obs.Rating)
	}
	if obs.Title != "" {
		item.Title = obs.Title
	}
	if obs.URL != "" {
		item.URL = obs.URL
	}
	at := now
	item.LastSeenAt = &at
}

func decimalPtr(d decimal.Decimal) *decimal.Decimal {
	return &d
}

func optionalDecimal(d decimal.Decimal) *decimal.Decimal {
	if !d.IsPositive() {
		return nil
	}
	return &d
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

func copyInt(n *int64) *int64 {
	if n == nil {
		return nil
	}
	v := *n
	return &v
}
