// Package settings caches dynamic runtime settings backed by the
// settings table. Values are re-read at the start of every cycle, so
// operators can retune filters without a restart.
package settings

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"deal-radar/internal/storage"
)

// Setting keys recognized by the pipeline. Unknown keys are kept in the
// cache but ignored.
const (
	KeyMinPrice            = "min_price"
	KeyMaxPrice            = "max_price"
	KeyMinStock            = "min_stock"
	KeyMinDiscount         = "min_discount_percent"
	KeyMinPriceDrop        = "min_price_drop_percent"
	KeyMinDiscountIncrease = "min_discount_increase"
	KeyRefillQueries       = "refill_queries"
	KeyStabilityThreshold  = "stability_threshold"
)

// Cache is an in-process snapshot of the settings table. Refresh replaces
// the snapshot wholesale; getters never touch the database.
type Cache struct {
	store storage.SettingStore
	log   zerolog.Logger

	mu     sync.RWMutex
	values map[string]string
}

// NewCache constructs a Cache with an empty snapshot. Call Refresh before
// the first read, otherwise all getters return their fallbacks.
func NewCache(store storage.SettingStore, log zerolog.Logger) *Cache {
	return &Cache{
		store:  store,
		log:    log.With().Str("component", "settings").Logger(),
		values: map[string]string{},
	}
}

// Refresh reloads the whole snapshot from the store.
func (c *Cache) Refresh(ctx context.Context) error {
	values, err := c.store.AllSettings(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.values = values
	c.mu.Unlock()
	return nil
}

// Set writes through to the store and updates the snapshot on success.
func (c *Cache) Set(ctx context.Context, key, value string) error {
	if err := c.store.SetSetting(ctx, key, value); err != nil {
		return err
	}
	c.mu.Lock()
	c.values[key] = value
	c.mu.Unlock()
	return nil
}

// Float returns the setting parsed as float64, or fallback when the key
// is absent or malformed. Malformed values are logged once per read.
func (c *Cache) Float(key string, fallback float64) float64 {
	raw, ok := c.get(key)
	if !ok {
		return fallback
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		c.log.Warn().Str("key", key).Str("value", raw).Msg("unparseable setting, using fallback")
		return fallback
	}
	return v
}

// Int returns the setting parsed as int, or fallback.
func (c *Cache) Int(key string, fallback int) int {
	raw, ok := c.get(key)
	if !ok {
		return fallback
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		c.log.Warn().Str("key", key).Str("value", raw).Msg("unparseable setting, using fallback")
		return fallback
	}
	return v
}

// List returns the setting split on commas with blanks dropped, or
// fallback when the key is absent or the value holds no entries.
func (c *Cache) List(key string, fallback []string) []string {
	raw, ok := c.get(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func (c *Cache) get(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}
