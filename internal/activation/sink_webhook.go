package activation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/straja-ai/apiguard/internal/redact"
)

var defaultBackoffs = []time.Duration{100 * time.Millisecond, 300 * time.Millisecond}

// WebhookSink POSTs each event as JSON. Network errors, 429 and 5xx are
// retried with backoff; other statuses fail immediately.
type WebhookSink struct {
	endpoint string
	headers  http.Header
	client   *http.Client
	backoffs []time.Duration
}

// NewWebhookSink validates endpoint and builds a sink whose individual
// attempts are bounded by timeout.
func NewWebhookSink(endpoint string, headers map[string]string, timeout time.Duration) (*WebhookSink, error) {
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("webhook: invalid url %q", redact.URL(endpoint))
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	hdr := make(http.Header, len(headers)+3)
	hdr.Set("Content-Type", "application/json")
	hdr.Set("User-Agent", "apiguard-audit/"+EventVersion)
	for k, v := range headers {
		hdr.Set(k, v)
	}
	return &WebhookSink{
		endpoint: endpoint,
		headers:  hdr,
		client:   &http.Client{Timeout: timeout},
		backoffs: defaultBackoffs,
	}, nil
}

func (s *WebhookSink) Name() string { return "webhook:" + redact.URL(s.endpoint) }

func (s *WebhookSink) Deliver(ctx context.Context, ev *Event) error {
	if ev == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("webhook: encode: %w", err)
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		retry, err := s.post(ctx, payload, ev.RequestID)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry || attempt >= len(s.backoffs) {
			return lastErr
		}
		t := time.NewTimer(s.backoffs[attempt])
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return errors.Join(lastErr, ctx.Err())
		}
	}
}

// post makes one attempt and reports whether a failure is worth retrying.
func (s *WebhookSink) post(ctx context.Context, payload []byte, requestID string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header = s.headers.Clone()
	if requestID != "" {
		req.Header.Set("X-Request-Id", requestID)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return ctx.Err() == nil, fmt.Errorf("webhook: post: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return false, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return true, fmt.Errorf("webhook: status %d body=%q", resp.StatusCode, truncateBody(body))
	default:
		return false, fmt.Errorf("webhook: status %d body=%q", resp.StatusCode, truncateBody(body))
	}
}

func (s *WebhookSink) Close(context.Context) error {
	s.client.CloseIdleConnections()
	return nil
}

func truncateBody(b []byte) string {
	const limit = 200
	if len(b) <= limit {
		return redact.String(string(b))
	}
	return redact.String(string(b[:limit])) + "..."
}
