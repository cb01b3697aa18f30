package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Sentinel errors for webhook delivery failures.
var (
	ErrWebhookUnreachable = errors.New("webhook unreachable")
	ErrWebhookRejected    = errors.New("webhook rejected request")
	ErrWebhookTimeout     = errors.New("webhook timeout")
)

// HTTPWebhookSender posts JSON payloads, retrying transport failures, 5xx
// and 429 responses with exponential backoff. Other 4xx responses are final.
type HTTPWebhookSender struct {
	client          *http.Client
	maxRetries      uint64
	initialInterval time.Duration
}

// NewHTTPWebhookSender creates a sender whose every attempt is bounded by
// timeout. maxRetries is the number of attempts after the first.
func NewHTTPWebhookSender(timeout time.Duration, maxRetries int) *HTTPWebhookSender {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &HTTPWebhookSender{
		client:          &http.Client{Timeout: timeout},
		maxRetries:      uint64(maxRetries),
		initialInterval: 500 * time.Millisecond,
	}
}

func (s *HTTPWebhookSender) SendWebhook(ctx context.Context, url string, payload []byte) error {
	attempt := 0
	op := func() error {
		attempt++
		err := s.post(ctx, url, payload)
		if err != nil && attempt <= int(s.maxRetries) {
			var perm *backoff.PermanentError
			if !errors.As(err, &perm) {
				slog.Warn("webhook attempt failed, retrying", "url", url, "attempt", attempt, "error", err)
			}
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.initialInterval
	b.MaxInterval = 10 * s.initialInterval
	b.MaxElapsedTime = 0
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, s.maxRetries), ctx))
}

func (s *HTTPWebhookSender) post(ctx context.Context, url string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("building request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "bugnest-notifier")

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return backoff.Permanent(classifyError(err))
		}
		return classifyError(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrWebhookUnreachable, resp.StatusCode)
	default:
		return backoff.Permanent(fmt.Errorf("%w: status %d", ErrWebhookRejected, resp.StatusCode))
	}
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrWebhookTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrWebhookTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrWebhookUnreachable, err)
}

var _ WebhookSender = (*HTTPWebhookSender)(nil)
