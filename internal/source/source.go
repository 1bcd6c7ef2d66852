package source

import (
	"context"

	"github.com/shopspring/decimal"

	"deal-radar/internal/platform"
)

// Fatal error codes a source may attach to an observation when the listing
// itself is gone. Only these accumulate toward hard death.
const (
	FatalNotFound = "404"
	FatalGone     = "410"
)

// Observation is one normalized look at a listing. A zero Price or OldPrice
// means the value was absent; malformed upstream values are coerced to
// absent rather than failing the cycle.
type Observation struct {
	ExternalID string
	Title      string
	URL        string
	Price      decimal.Decimal
	OldPrice   decimal.Decimal
	Discount   *float64
	Stock      *int64
	Rating     *float64
	ImageURLs  []string
	FatalCode  string
}

// HasPrice reports whether a valid positive price was observed.
func (o Observation) HasPrice() bool {
	return o.Price.IsPositive()
}

// Complete reports whether the observation carries full pricing data. Only
// complete observations advance the stability counter.
func (o Observation) Complete() bool {
	return o.Price.IsPositive() && o.OldPrice.IsPositive()
}

// IsFatal reports whether the observation carries a fatal not-found signal.
func (o Observation) IsFatal() bool {
	return o.FatalCode == FatalNotFound || o.FatalCode == FatalGone
}

// Collector discovers candidate identifiers for a platform. Best effort: it
// may return fewer than requested but must not return duplicates.
type Collector interface {
	Collect(ctx context.Context, code platform.Code, queries []string, target int) ([]string, error)
}

// Monitor re-observes already tracked identifiers. Partial results are
// expected and not an error.
type Monitor interface {
	Observe(ctx context.Context, code platform.Code, externalIDs []string) ([]Observation, error)
}

// Source is the full per-platform collaborator.
type Source interface {
	Collector
	Monitor
}

// Recoverable is implemented by sources that can attempt a reconnect after
// an error storm.
type Recoverable interface {
	Reset(ctx context.Context) error
}
