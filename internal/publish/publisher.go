package publish

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"deal-radar/internal/platform"
)

// Outcome classifies one send attempt.
type Outcome int

const (
	// OutcomeSent means the candidate was delivered with real media.
	OutcomeSent Outcome = iota
	// OutcomeUnavailable means the item had no resolvable media; the send
	// does not count against the rate budget and feeds the soft-death
	// counter upstream.
	OutcomeUnavailable
	// OutcomeNoCapacity means the hourly budget is exhausted. Only the Gate
	// produces this.
	OutcomeNoCapacity
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSent:
		return "sent"
	case OutcomeUnavailable:
		return "unavailable"
	case OutcomeNoCapacity:
		return "no_capacity"
	default:
		return "unknown"
	}
}

// Candidate is a publish-worthy item: a normalized observation plus the
// human-readable reason it qualified.
type Candidate struct {
	Platform   platform.Code
	ExternalID string
	Title      string
	URL        string
	Price      decimal.Decimal
	OldPrice   decimal.Decimal
	Discount   *float64
	ImageURLs  []string
	Reason     string
}

// Publisher delivers one candidate to the output channel. Implementations
// return OutcomeSent or OutcomeUnavailable; transport failures are errors.
type Publisher interface {
	Send(ctx context.Context, cand Candidate) (Outcome, error)
}

// LogPublisher writes candidates to the log instead of an external channel.
// Used when no output channel is configured.
type LogPublisher struct {
	logger zerolog.Logger
}

// NewLogPublisher constructs a log-only publisher.
func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.With().Str("component", "publish_log").Logger()}
}

// Send logs the candidate and reports it as sent.
func (p *LogPublisher) Send(ctx context.Context, cand Candidate) (Outcome, error) {
	p.logger.Info().
		Str("platform", string(cand.Platform)).
		Str("external_id", cand.ExternalID).
		Str("title", cand.Title).
		Str("price", cand.Price.String()).
		Str("reason", cand.Reason).
		Msg("deal (dry-run publish)")
	return OutcomeSent, nil
}

var _ Publisher = (*LogPublisher)(nil)
