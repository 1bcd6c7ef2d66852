package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	maxImageBytes      = 5 << 20
	floodRetryLimit    = 3
	defaultAPIBase     = "https://api.telegram.org"
	defaultSendTimeout = 30 * time.Second
)

// TelegramOptions configure the Telegram channel publisher.
type TelegramOptions struct {
	BotToken string
	ChatID   string
	APIBase  string
	Timeout  time.Duration
}

// TelegramPublisher posts deal photos with captions to a Telegram channel
// via the Bot API. An item whose images all fail to download is reported as
// unavailable, never sent with placeholder media.
type TelegramPublisher struct {
	opts   TelegramOptions
	client *http.Client
	logger zerolog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// NewTelegramPublisher constructs the Telegram publisher.
func NewTelegramPublisher(opts TelegramOptions, logger zerolog.Logger) *TelegramPublisher {
	if opts.APIBase == "" {
		opts.APIBase = defaultAPIBase
	}
	opts.APIBase = strings.TrimRight(opts.APIBase, "/")
	if opts.Timeout <= 0 {
		opts.Timeout = defaultSendTimeout
	}
	return &TelegramPublisher{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
		logger: logger.With().Str("component", "publish_telegram").Logger(),
		sleep:  sleepContext,
	}
}

// Send delivers one candidate as a photo post.
func (p *TelegramPublisher) Send(ctx context.Context, cand Candidate) (Outcome, error) {
	if p.opts.ChatID == "" {
		return OutcomeUnavailable, fmt.Errorf("telegram chat_id is not configured")
	}

	image, ok := p.resolveImage(ctx, cand.ImageURLs)
	if !ok {
		p.logger.Warn().
			Str("external_id", cand.ExternalID).
			Int("image_urls", len(cand.ImageURLs)).
			Msg("no resolvable media for candidate")
		return OutcomeUnavailable, nil
	}

	caption := renderCaption(cand)

	for attempt := 1; attempt <= floodRetryLimit; attempt++ {
		retryAfter, err := p.sendPhoto(ctx, image, caption, cand.URL)
		if err != nil {
			return OutcomeUnavailable, err
		}
		if retryAfter <= 0 {
			p.logger.Info().
				Str("platform", string(cand.Platform)).
				Str("external_id", cand.ExternalID).
				Msg("deal published")
			return OutcomeSent, nil
		}

		p.logger.Warn().
			Dur("retry_after", retryAfter).
			Int("attempt", attempt).
			Msg("telegram flood control, backing off")
		if err := p.sleep(ctx, retryAfter); err != nil {
			return OutcomeUnavailable, err
		}
	}

	return OutcomeUnavailable, fmt.Errorf("telegram flood control retries exhausted")
}

// resolveImage downloads the first reachable candidate image.
func (p *TelegramPublisher) resolveImage(ctx context.Context, urls []string) ([]byte, bool) {
	for _, imageURL := range urls {
		if imageURL == "" {
			continue
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
		if err != nil {
			continue
		}
		resp, err := p.client.Do(req)
		if err != nil {
			continue
		}
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
		resp.Body.Close()
		if readErr != nil || resp.StatusCode != http.StatusOK || len(body) == 0 {
			continue
		}
		return body, true
	}
	return nil, false
}

// sendPhoto performs one sendPhoto call. A positive duration means the API
// asked to retry after flood control.
func (p *TelegramPublisher) sendPhoto(ctx context.Context, image []byte, caption, linkURL string) (time.Duration, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	if err := writer.WriteField("chat_id", p.opts.ChatID); err != nil {
		return 0, fmt.Errorf("write chat_id field: %w", err)
	}
	if err := writer.WriteField("caption", caption); err != nil {
		return 0, fmt.Errorf("write caption field: %w", err)
	}
	if err := writer.WriteField("parse_mode", "HTML"); err != nil {
		return 0, fmt.Errorf("write parse_mode field: %w", err)
	}
	if linkURL != "" {
		markup, err := json.Marshal(map[string]any{
			"inline_keyboard": [][]map[string]string{{{"text": "Open deal", "url": linkURL}}},
		})
		if err != nil {
			return 0, fmt.Errorf("marshal reply markup: %w", err)
		}
		if err := writer.WriteField("reply_markup", string(markup)); err != nil {
			return 0, fmt.Errorf("write reply_markup field: %w", err)
		}
	}

	part, err := writer.CreateFormFile("photo", "photo.jpg")
	if err != nil {
		return 0, fmt.Errorf("create photo part: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return 0, fmt.Errorf("write photo part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return 0, fmt.Errorf("close multipart writer: %w", err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendPhoto", p.opts.APIBase, p.opts.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return 0, fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		OK         bool   `json:"ok"`
		ErrorCode  int    `json:"error_code"`
		Desc       string `json:"description"`
		Parameters struct {
			RetryAfter int `json:"retry_after"`
		} `json:"parameters"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("decode telegram response: %w", err)
	}

	if result.OK {
		return 0, nil
	}
	if result.ErrorCode == http.StatusTooManyRequests {
		return time.Duration(result.Parameters.RetryAfter+1) * time.Second, nil
	}
	return 0, fmt.Errorf("telegram error %d: %s", result.ErrorCode, result.Desc)
}

func renderCaption(cand Candidate) string {
	builder := strings.Builder{}
	if cand.Title != "" {
		builder.WriteString("<b>")
		builder.WriteString(htmlEscape(cand.Title))
		builder.WriteString("</b>\n\n")
	}
	if cand.Reason != "" {
		builder.WriteString(cand.Reason)
		builder.WriteString("\n\n")
	}
	builder.WriteString(fmt.Sprintf("Price: %s", cand.Price.StringFixed(0)))
	if cand.OldPrice.IsPositive() {
		builder.WriteString(fmt.Sprintf(" (was %s)", cand.OldPrice.StringFixed(0)))
	}
	if cand.Discount != nil && *cand.Discount > 0 {
		builder.WriteString(fmt.Sprintf("\nDiscount: %.0f%%", *cand.Discount))
	}
	return builder.String()
}

func htmlEscape(s string) string {
	replacer := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return replacer.Replace(s)
}

var _ Publisher = (*TelegramPublisher)(nil)
