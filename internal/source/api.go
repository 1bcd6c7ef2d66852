package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"deal-radar/internal/platform"
)

// APIOptions configure one platform's catalog API client.
type APIOptions struct {
	Platform    platform.Code
	BaseURL     string
	ObservePath string
	SearchPath  string
	Timeout     time.Duration
	UserAgent   string
}

// APISource talks to a marketplace catalog API over JSON. It implements both
// the Collector and Monitor contracts.
type APISource struct {
	opts   APIOptions
	logger zerolog.Logger

	mu     sync.Mutex
	client *http.Client
}

// NewAPISource constructs a catalog API client.
func NewAPISource(opts APIOptions, logger zerolog.Logger) *APISource {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.ObservePath == "" {
		opts.ObservePath = "/v1/items"
	}
	if opts.SearchPath == "" {
		opts.SearchPath = "/v1/search"
	}
	return &APISource{
		opts: opts,
		logger: logger.With().
			Str("component", "source").
			Str("platform", string(opts.Platform)).
			Logger(),
		client: &http.Client{Timeout: opts.Timeout},
	}
}

type itemPayload struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	URL             string   `json:"url"`
	Price           any      `json:"price"`
	OldPrice        any      `json:"old_price"`
	DiscountPercent any      `json:"discount_percent"`
	Stock           any      `json:"stock"`
	Rating          any      `json:"rating"`
	Images          []string `json:"images"`
	Error           string   `json:"error"`
}

type observeResponse struct {
	Items []itemPayload `json:"items"`
}

type searchResponse struct {
	Items []struct {
		ID string `json:"id"`
	} `json:"items"`
}

// Observe fetches current listing state for the given identifiers.
func (s *APISource) Observe(ctx context.Context, code platform.Code, externalIDs []string) ([]Observation, error) {
	if len(externalIDs) == 0 {
		return nil, nil
	}
	if s.opts.BaseURL == "" {
		return nil, fmt.Errorf("source %s: base_url not configured", s.opts.Platform)
	}

	body, err := json.Marshal(map[string]any{"ids": externalIDs})
	if err != nil {
		return nil, fmt.Errorf("marshal observe request: %w", err)
	}

	endpoint := strings.TrimRight(s.opts.BaseURL, "/") + s.opts.ObservePath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create observe request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.opts.UserAgent != "" {
		req.Header.Set("User-Agent", s.opts.UserAgent)
	}

	resp, err := s.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("observe request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("observe returned status %d", resp.StatusCode)
	}

	var payload observeResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode observe response: %w", err)
	}

	observations := make([]Observation, 0, len(payload.Items))
	for _, item := range payload.Items {
		if item.ID == "" {
			continue
		}
		observations = append(observations, s.normalize(item))
	}

	s.logger.Debug().
		Int("requested", len(externalIDs)).
		Int("returned", len(observations)).
		Msg("batch observed")
	return observations, nil
}

// Collect discovers candidate identifiers across the given search queries,
// spreading the target evenly and deduplicating the result.
func (s *APISource) Collect(ctx context.Context, code platform.Code, queries []string, target int) ([]string, error) {
	if s.opts.BaseURL == "" {
		return nil, fmt.Errorf("source %s: base_url not configured", s.opts.Platform)
	}
	if target <= 0 {
		return nil, nil
	}
	if len(queries) == 0 {
		queries = []string{""}
	}

	perQuery := target/len(queries) + 1
	seen := make(map[string]struct{}, target)
	collected := make([]string, 0, target)

	for _, query := range queries {
		if len(collected) >= target {
			break
		}
		ids, err := s.search(ctx, query, perQuery)
		if err != nil {
			s.logger.Warn().Err(err).Str("query", query).Msg("search query failed")
			continue
		}
		for _, id := range ids {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			collected = append(collected, id)
			if len(collected) >= target {
				break
			}
		}
	}

	s.logger.Info().
		Int("queries", len(queries)).
		Int("collected", len(collected)).
		Int("target", target).
		Msg("collect finished")
	return collected, nil
}

// Reset drops pooled connections so the next request starts from a clean
// transport. Used after an error storm.
func (s *APISource) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.client.CloseIdleConnections()
	s.client = &http.Client{Timeout: s.opts.Timeout}
	s.logger.Warn().Msg("http client reset after error storm")
	return nil
}

func (s *APISource) httpClient() *http.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

func (s *APISource) search(ctx context.Context, query string, limit int) ([]string, error) {
	endpoint := strings.TrimRight(s.opts.BaseURL, "/") + s.opts.SearchPath
	params := url.Values{}
	if query != "" {
		params.Set("query", query)
	}
	params.Set("limit", strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}
	if s.opts.UserAgent != "" {
		req.Header.Set("User-Agent", s.opts.UserAgent)
	}

	resp, err := s.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	var payload searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	ids := make([]string, 0, len(payload.Items))
	for _, item := range payload.Items {
		if item.ID != "" {
			ids = append(ids, item.ID)
		}
	}
	return ids, nil
}

func (s *APISource) normalize(item itemPayload) Observation {
	obs := Observation{
		ExternalID: item.ID,
		Title:      item.Title,
		URL:        item.URL,
		Price:      coerceDecimal(item.Price),
		OldPrice:   coerceDecimal(item.OldPrice),
		Discount:   coerceFloat(item.DiscountPercent),
		Stock:      coerceInt(item.Stock),
		Rating:     coerceFloat(item.Rating),
		ImageURLs:  item.Images,
	}
	if item.Error == FatalNotFound || item.Error == FatalGone {
		obs.FatalCode = item.Error
	}
	return obs
}

// coerceDecimal turns a loosely typed JSON value into a price. Anything
// unparseable counts as absent.
func coerceDecimal(v any) decimal.Decimal {
	switch value := v.(type) {
	case nil:
		return decimal.Zero
	case float64:
		return decimal.NewFromFloat(value)
	case json.Number:
		d, err := decimal.NewFromString(value.String())
		if err != nil {
			return decimal.Zero
		}
		return d
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil {
			return decimal.Zero
		}
		return d
	default:
		return decimal.Zero
	}
}

func coerceFloat(v any) *float64 {
	switch value := v.(type) {
	case float64:
		return &value
	case json.Number:
		f, err := value.Float64()
		if err != nil {
			return nil
		}
		return &f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil
		}
		return &f
	default:
		return nil
	}
}

func coerceInt(v any) *int64 {
	switch value := v.(type) {
	case float64:
		n := int64(value)
		return &n
	case json.Number:
		n, err := value.Int64()
		if err != nil {
			return nil
		}
		return &n
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return nil
		}
		return &n
	default:
		return nil
	}
}

var (
	_ Source      = (*APISource)(nil)
	_ Recoverable = (*APISource)(nil)
)
