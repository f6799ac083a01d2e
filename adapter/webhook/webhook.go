// Package webhook implements a sink that POSTs each message as JSON.
//
// Every Send is a single HTTP request; a non-2xx response is reported as a
// *StatusError and the message is not retried.
package webhook

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

	"github.com/pithecene-io/dispipe/adapter"
	"github.com/pithecene-io/dispipe/iox"
)

// DefaultTimeout is the default HTTP request timeout.
const DefaultTimeout = 10 * time.Second

// Config configures the webhook sink.
type Config struct {
	// URL is the HTTP endpoint to POST to (required).
	URL string
	// Headers are custom HTTP headers added to each request.
	Headers map[string]string
	// Timeout is the per-request timeout (default 10s).
	Timeout time.Duration
}

// Payload is the JSON body of each request.
type Payload struct {
	ChannelID uint64 `json:"channel_id,string"`
	Content   string `json:"content"`
	SentAt    string `json:"sent_at"` // RFC 3339, UTC
}

// Sink delivers messages via HTTP POST.
type Sink struct {
	config Config
	client *http.Client
	now    func() time.Time
}

// New creates a webhook sink from the given config.
// Returns an error if the URL is empty or not absolute.
func New(cfg Config) (*Sink, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook sink requires a URL")
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("webhook sink: invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("webhook sink: URL scheme must be http or https, got %q", u.Scheme)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Sink{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		now:    time.Now,
	}, nil
}

// Name implements adapter.Named.
func (s *Sink) Name() string { return "webhook" }

// Init implements adapter.Sink. The endpoint is not contacted; the first
// Send reports any connectivity problem.
func (s *Sink) Init(ctx context.Context) error {
	return ctx.Err()
}

// Send posts the message as JSON. One attempt; 4xx and 5xx both fail.
func (s *Sink) Send(ctx context.Context, channelID uint64, text string) error {
	body, err := json.Marshal(Payload{
		ChannelID: channelID,
		Content:   text,
		SentAt:    s.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("webhook: marshal message: %w", err)
	}
	if err := s.doRequest(ctx, body); err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	return nil
}

// StatusError is returned for non-2xx HTTP responses.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// doRequest performs a single HTTP POST and returns nil on 2xx.
func (s *Sink) doRequest(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range s.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer iox.DiscardClose(resp.Body)

	// Drain body to allow connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode}
	}

	return nil
}

// Close releases sink resources.
func (s *Sink) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

var (
	_ adapter.Sink  = (*Sink)(nil)
	_ adapter.Named = (*Sink)(nil)
)
