package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Platform is a registered source marketplace.
type Platform struct {
	ID   int64
	Code string
	Name string
}

// Item is one tracked listing, unique per (platform_id, external_id).
//
// Baseline columns are null until the item stabilises; once Stable is set it
// never reverts. DeadFailCount counts consecutive fatal not-found
// observations, MediaFailCount counts consecutive publish-time media
// failures.
type Item struct {
	ID         int64
	PlatformID int64
	ExternalID string
	Title      string
	URL        string

	CurrentPrice *decimal.Decimal
	OldPrice     *decimal.Decimal
	Discount     *float64
	Stock        *int64
	Rating       *float64
	LastSeenAt   *time.Time

	ObservationCount int
	Stable           bool
	BaselinePrice    *decimal.Decimal
	BaselineDiscount *float64
	BaselineSetAt    *time.Time

	DeadFailCount  int
	LastDeadReason string
	MediaFailCount int

	CreatedAt time.Time
}

// HasCompleteData reports whether the stored prices qualify as complete.
func (i *Item) HasCompleteData() bool {
	return i.CurrentPrice != nil && i.OldPrice != nil &&
		i.CurrentPrice.IsPositive() && i.OldPrice.IsPositive()
}

// Snapshot is one append-only history record for an item.
type Snapshot struct {
	ID         int64
	ItemID     int64
	Price      *decimal.Decimal
	OldPrice   *decimal.Decimal
	Discount   *float64
	Stock      *int64
	Rating     *float64
	ObservedAt time.Time
}
