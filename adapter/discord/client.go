// Package discord implements a sink that posts messages to Discord channels
// through the REST API, with an optional gateway session that keeps the bot
// online.
//
// Every Send is a single POST /channels/{id}/messages. Sends from all workers
// share one token-bucket limiter, so a burst on one pipe cannot exhaust the
// bot's rate limit on its own.
package discord

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"github.com/pithecene-io/dispipe/adapter"
	"github.com/pithecene-io/dispipe/iox"
	"github.com/pithecene-io/dispipe/log"
	"github.com/pithecene-io/dispipe/types"
)

// Defaults.
const (
	DefaultBaseURL       = "https://discord.com/api/v10"
	DefaultGatewayURL    = "wss://gateway.discord.gg/?v=10&encoding=json"
	DefaultTimeout       = 10 * time.Second
	DefaultRatePerSecond = 5
	DefaultBurst         = 5
	DefaultInitRetries   = 2
)

// nonceLength is the longest nonce the API accepts.
const nonceLength = 25

var userAgent = fmt.Sprintf("DiscordBot (https://github.com/pithecene-io/dispipe, %s)", types.Version)

// Config configures the Discord sink.
type Config struct {
	// Token is the bot token (required). A "Bot " prefix is optional.
	Token string
	// BaseURL is the REST API root (default https://discord.com/api/v10).
	BaseURL string
	// GatewayURL is the websocket gateway (default wss://gateway.discord.gg/?v=10&encoding=json).
	GatewayURL string
	// Gateway enables the gateway session that shows the bot as online.
	Gateway bool
	// Timeout is the per-request timeout (default 10s).
	Timeout time.Duration
	// RatePerSecond is the sustained send rate shared by all channels (default 5).
	RatePerSecond float64
	// Burst is the number of sends allowed at once (default 5).
	Burst int
	// InitRetries is the number of retries of the credential check on 5xx
	// and 429 responses (default 2). Message sends are never retried.
	InitRetries int
}

// APIError is returned for non-2xx REST responses.
type APIError struct {
	Status  int
	Code    int    // Discord JSON error code, 0 when absent
	Message string // Discord error message, or the HTTP status text
	// RetryAfter is set on 429 responses.
	RetryAfter time.Duration
	Global     bool
}

func (e *APIError) Error() string {
	if e.Status == http.StatusTooManyRequests {
		return fmt.Sprintf("discord: rate limited (retry after %s): %s", e.RetryAfter, e.Message)
	}
	if e.Code != 0 {
		return fmt.Sprintf("discord: status %d code %d: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("discord: status %d: %s", e.Status, e.Message)
}

// Client is the Discord sink.
type Client struct {
	config  Config
	logger  *log.Logger
	rest    *resty.Client
	retry   *retryablehttp.Client
	limiter *rate.Limiter
	dialer  *websocket.Dialer

	mu   sync.RWMutex
	user string

	// gateway timings, shortened in tests
	reconnectMin time.Duration
	reconnectMax time.Duration
}

// New creates a Discord sink. A nil logger discards gateway logs.
func New(cfg Config, logger *log.Logger) (*Client, error) {
	cfg.Token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(cfg.Token), "Bot "))
	if cfg.Token == "" {
		return nil, fmt.Errorf("discord sink requires a token")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.GatewayURL == "" {
		cfg.GatewayURL = DefaultGatewayURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = DefaultRatePerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultBurst
	}
	if cfg.InitRetries < 0 {
		return nil, fmt.Errorf("init retries must be >= 0, got %d", cfg.InitRetries)
	}
	if cfg.InitRetries == 0 {
		cfg.InitRetries = DefaultInitRetries
	}
	if logger == nil {
		logger = log.Nop()
	}

	// The retryable client supplies the pooled transport for both paths.
	retry := retryablehttp.NewClient()
	retry.RetryMax = cfg.InitRetries
	retry.RetryWaitMin = 500 * time.Millisecond
	retry.RetryWaitMax = 5 * time.Second
	retry.Logger = nil
	retry.ErrorHandler = retryablehttp.PassthroughErrorHandler
	retry.HTTPClient.Timeout = cfg.Timeout

	rest := resty.New().
		SetTransport(retry.HTTPClient.Transport).
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Authorization", "Bot "+cfg.Token).
		SetHeader("User-Agent", userAgent)

	return &Client{
		config:       cfg,
		logger:       logger,
		rest:         rest,
		retry:        retry,
		limiter:      rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		dialer:       &websocket.Dialer{HandshakeTimeout: cfg.Timeout, Proxy: http.ProxyFromEnvironment},
		reconnectMin: time.Second,
		reconnectMax: time.Minute,
	}, nil
}

// Name implements adapter.Named.
func (c *Client) Name() string { return "discord" }

// User returns the bot user name found by Init.
func (c *Client) User() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user
}

type currentUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Init checks the token with GET /users/@me. 5xx and 429 responses are
// retried up to InitRetries times.
func (c *Client) Init(ctx context.Context) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/users/@me", nil)
	if err != nil {
		return fmt.Errorf("discord: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+c.config.Token)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.retry.Do(req)
	if err != nil {
		return fmt.Errorf("discord: init: %w", err)
	}
	defer iox.DiscardClose(resp.Body)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("discord: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parseAPIError(resp.StatusCode, resp.Header, body)
	}

	var u currentUser
	if err := json.Unmarshal(body, &u); err != nil {
		return fmt.Errorf("discord: decode user: %w", err)
	}
	c.mu.Lock()
	c.user = u.Username
	c.mu.Unlock()
	return nil
}

type createMessage struct {
	Content      string `json:"content"`
	Nonce        string `json:"nonce"`
	EnforceNonce bool   `json:"enforce_nonce"`
}

// Send waits for the shared limiter, then posts text to the channel.
// One attempt; a 429 is returned as an *APIError carrying RetryAfter.
func (c *Client) Send(ctx context.Context, channelID uint64, text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("discord: %w", adapter.ErrEmptyMessage)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("discord: rate limiter: %w", err)
	}

	resp, err := c.rest.R().
		SetContext(ctx).
		SetPathParam("channel", strconv.FormatUint(channelID, 10)).
		SetHeader("Content-Type", "application/json").
		SetBody(createMessage{Content: text, Nonce: newNonce(), EnforceNonce: true}).
		Post("/channels/{channel}/messages")
	if err != nil {
		return fmt.Errorf("discord: send: %w", err)
	}
	if resp.IsError() || resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return parseAPIError(resp.StatusCode(), resp.Header(), resp.Body())
	}
	return nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.retry.HTTPClient.CloseIdleConnections()
	return nil
}

// newNonce returns a random nonce of the maximum accepted length.
func newNonce() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:nonceLength]
}

type errorBody struct {
	Code       int     `json:"code"`
	Message    string  `json:"message"`
	RetryAfter float64 `json:"retry_after"`
	Global     bool    `json:"global"`
}

func parseAPIError(status int, header http.Header, body []byte) *APIError {
	e := &APIError{Status: status, Message: http.StatusText(status)}
	var b errorBody
	if json.Unmarshal(body, &b) == nil {
		e.Code = b.Code
		if b.Message != "" {
			e.Message = b.Message
		}
		e.Global = b.Global
		if b.RetryAfter > 0 {
			e.RetryAfter = time.Duration(b.RetryAfter * float64(time.Second))
		}
	}
	if e.RetryAfter == 0 && status == http.StatusTooManyRequests {
		if secs, err := strconv.ParseFloat(header.Get("Retry-After"), 64); err == nil {
			e.RetryAfter = time.Duration(secs * float64(time.Second))
		}
	}
	return e
}

var (
	_ adapter.Sink    = (*Client)(nil)
	_ adapter.Session = (*Client)(nil)
	_ adapter.Named   = (*Client)(nil)
)
