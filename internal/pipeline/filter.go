package pipeline

import (
	"github.com/shopspring/decimal"

	"deal-radar/internal/source"
)

// Thresholds are the per-cycle observation filters. A zero threshold
// disables its check; an active check fails observations that do not
// carry the field it inspects.
type Thresholds struct {
	MinPrice           float64
	MaxPrice           float64
	MinStock           int
	MinDiscountPercent float64
}

// filterObservations drops observations that fall outside the thresholds.
// Fatal observations always pass so that dead-item accounting still sees
// them.
func filterObservations(obs []source.Observation, th Thresholds) []source.Observation {
	out := make([]source.Observation, 0, len(obs))
	for _, o := range obs {
		if o.IsFatal() || passes(o, th) {
			out = append(out, o)
		}
	}
	return out
}

func passes(o source.Observation, th Thresholds) bool {
	if th.MinPrice > 0 {
		if !o.HasPrice() || o.Price.LessThan(decimal.NewFromFloat(th.MinPrice)) {
			return false
		}
	}
	if th.MaxPrice > 0 {
		if !o.HasPrice() || o.Price.GreaterThan(decimal.NewFromFloat(th.MaxPrice)) {
			return false
		}
	}
	if th.MinStock > 0 {
		if o.Stock == nil || *o.Stock < int64(th.MinStock) {
			return false
		}
	}
	if th.MinDiscountPercent > 0 {
		if o.Discount == nil || *o.Discount < th.MinDiscountPercent {
			return false
		}
	}
	return true
}
