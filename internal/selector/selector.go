// Package selector turns tracked changes into publish candidates.
package selector

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"deal-radar/internal/platform"
	"deal-radar/internal/publish"
	"deal-radar/internal/source"
	"deal-radar/internal/tracker"
)

// Thresholds gate which baseline changes are worth announcing. Both are
// read from dynamic settings each cycle, so a zero value is valid and
// means "announce every qualifying change".
type Thresholds struct {
	MinPriceDropPercent float64
	MinDiscountIncrease float64
}

// Selector builds candidates from cycle results.
type Selector struct {
	log zerolog.Logger
}

// NewSelector constructs a Selector.
func NewSelector(log zerolog.Logger) *Selector {
	return &Selector{log: log.With().Str("component", "selector").Logger()}
}

// Select picks the results whose changes pass the thresholds and shapes
// them into publish candidates. Observations supply media that is never
// persisted on the item; the map is keyed by external id.
func (s *Selector) Select(code platform.Code, results []tracker.Result, obs map[string]source.Observation, th Thresholds) []publish.Candidate {
	var out []publish.Candidate
	for _, r := range results {
		if r.IsNew || !r.Stable || r.JustStabilized || !r.HasChanges() {
			continue
		}
		reasons := s.reasons(r.Changes, th)
		if len(reasons) == 0 {
			continue
		}
		item := r.Item
		cand := publish.Candidate{
			Platform:   code,
			ExternalID: item.ExternalID,
			Title:      item.Title,
			URL:        item.URL,
			Reason:     strings.Join(reasons, "\n"),
		}
		if item.CurrentPrice != nil {
			cand.Price = *item.CurrentPrice
		}
		if item.OldPrice != nil {
			cand.OldPrice = *item.OldPrice
		}
		cand.Discount = item.Discount
		if o, ok := obs[item.ExternalID]; ok {
			cand.ImageURLs = o.ImageURLs
		}
		out = append(out, cand)
	}
	if len(out) > 0 {
		s.log.Debug().
			Str("platform", string(code)).
			Int("candidates", len(out)).
			Msg("selected publish candidates")
	}
	return out
}

func (s *Selector) reasons(changes []tracker.Change, th Thresholds) []string {
	var reasons []string
	for _, c := range changes {
		switch c.Field {
		case tracker.FieldPrice:
			if r, ok := priceDropReason(c, th.MinPriceDropPercent); ok {
				reasons = append(reasons, r)
			}
		case tracker.FieldDiscount:
			if r, ok := discountUpReason(c, th.MinDiscountIncrease); ok {
				reasons = append(reasons, r)
			}
		}
	}
	return reasons
}

// priceDropReason fires only on drops of at least minDropPercent relative
// to the old baseline. Rises and sub-threshold drops stay silent.
func priceDropReason(c tracker.Change, minDropPercent float64) (string, bool) {
	if !c.Old.IsPositive() || c.New.GreaterThanOrEqual(c.Old) {
		return "", false
	}
	drop, _ := c.Old.Sub(c.New).Div(c.Old).Mul(decimal.NewFromInt(100)).Float64()
	if drop < minDropPercent {
		return "", false
	}
	return fmt.Sprintf("📉 Price drop: %s → %s (-%.1f%%)", c.Old.String(), c.New.String(), drop), true
}

// discountUpReason fires only on increases of at least minIncrease
// percentage points.
func discountUpReason(c tracker.Change, minIncrease float64) (string, bool) {
	if c.New.LessThanOrEqual(c.Old) {
		return "", false
	}
	delta, _ := c.New.Sub(c.Old).Float64()
	if delta < minIncrease {
		return "", false
	}
	oldPct, _ := c.Old.Float64()
	newPct, _ := c.New.Float64()
	return fmt.Sprintf("🔥 Discount up: %.0f%% → %.0f%%", oldPct, newPct), true
}
