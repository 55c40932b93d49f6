// Package apis holds the thin HTTP clients for the services the monitoring tests read from:
// the orderbook, auction instances, the reference solver, coingecko, token lists and ethplorer.
package apis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Aidin1998/ebbo_monitor/pkg/metrics"
	"github.com/Aidin1998/ebbo_monitor/pkg/models"
)

var (
	// ErrNotFound is returned when the upstream answers 404.
	ErrNotFound = errors.New("not found")
	// ErrResponseTooLarge is returned when a body exceeds ClientConfig.MaxResponseBytes.
	ErrResponseTooLarge = errors.New("response too large")
)

// DefaultMaxResponseBytes bounds response bodies when no limit is configured.
const DefaultMaxResponseBytes = 64 << 20

// DefaultUserAgent is sent when no user agent is configured. Some upstreams reject the
// default Go user agent.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/51.0.2704.103 Safari/537.36"

// StatusError is a non-2xx answer other than 404.
type StatusError struct {
	Code int
	URL  string
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d from %s", e.Code, e.URL)
	}
	return fmt.Sprintf("unexpected status %d from %s: %s", e.Code, e.URL, e.Body)
}

// Temporary reports whether the request may succeed when retried.
func (e *StatusError) Temporary() bool {
	return e.Code >= http.StatusInternalServerError || e.Code == http.StatusTooManyRequests
}

// IsClientError reports whether err is a definitive 4xx rejection (404 included).
func IsClientError(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	var se *StatusError
	return errors.As(err, &se) && !se.Temporary() && se.Code >= 400 && se.Code < 500
}

// ClientConfig configures a Client.
type ClientConfig struct {
	Timeout       time.Duration
	MaxRetries    int
	RetryInterval time.Duration
	UserAgent     string
	// RatePerSecond limits outgoing requests. Zero disables limiting.
	RatePerSecond float64
	// MaxResponseBytes bounds the size of a response body.
	MaxResponseBytes int64
}

// DefaultClientConfig returns the configuration used when nothing is configured.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:          5 * time.Second,
		MaxRetries:       2,
		RetryInterval:    500 * time.Millisecond,
		UserAgent:        DefaultUserAgent,
		MaxResponseBytes: DefaultMaxResponseBytes,
	}
}

// Client performs JSON requests against one upstream service with retries on transient
// failures.
type Client struct {
	service       string
	http          *http.Client
	limiter       *rate.Limiter
	maxRetries    int
	retryInterval time.Duration
	userAgent     string
	maxBody       int64
	logger        *zap.Logger
}

// NewClient creates a client. service labels metrics and logs.
func NewClient(service string, cfg ClientConfig, logger *zap.Logger) *Client {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 500 * time.Millisecond
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = DefaultMaxResponseBytes
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	c := &Client{
		service:       service,
		http:          &http.Client{Timeout: cfg.Timeout},
		maxRetries:    cfg.MaxRetries,
		retryInterval: cfg.RetryInterval,
		userAgent:     cfg.UserAgent,
		maxBody:       cfg.MaxResponseBytes,
		logger:        logger.With(zap.String("service", service)),
	}
	if cfg.RatePerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}
	return c
}

// Service returns the service label.
func (c *Client) Service() string { return c.service }

// GetJSON decodes the answer to a GET on url into out.
func (c *Client) GetJSON(ctx context.Context, url string, out interface{}) error {
	body, err := c.Do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	return decode(url, body, out)
}

// PostJSON sends payload as JSON and decodes the answer into out.
func (c *Client) PostJSON(ctx context.Context, url string, payload, out interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request for %s: %w", url, err)
	}
	body, err := c.Do(ctx, http.MethodPost, url, data)
	if err != nil {
		return err
	}
	return decode(url, body, out)
}

// Do performs the request and returns the raw body of a 2xx answer. Transport errors,
// 5xx and 429 answers are retried with exponential backoff.
func (c *Client) Do(ctx context.Context, method, url string, payload []byte) ([]byte, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInterval
	b.MaxInterval = 10 * c.retryInterval

	attempt := 0
	body, err := backoff.Retry(ctx, func() ([]byte, error) {
		attempt++
		body, err := c.once(ctx, method, url, payload)
		if err != nil && !c.retryable(ctx, err) {
			return nil, backoff.Permanent(err)
		}
		return body, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(c.maxRetries+1)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			c.logger.Debug("Retrying upstream request",
				zap.String("url", url),
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(err))
		}))
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}
	return body, err
}

func (c *Client) retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrResponseTooLarge) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return true
}

func (c *Client) once(ctx context.Context, method, url string, payload []byte) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request for %s: %w", url, err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.UpstreamLatency.WithLabelValues(c.service).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues(c.service, "error").Inc()
		return nil, fmt.Errorf("request to %s failed: %w", url, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	metrics.UpstreamRequests.WithLabelValues(c.service, strconv.Itoa(resp.StatusCode)).Inc()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", url, err)
	}
	if int64(len(body)) > c.maxBody {
		return nil, fmt.Errorf("%s: %w (limit %d bytes)", url, ErrResponseTooLarge, c.maxBody)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s: %w", url, ErrNotFound)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, &StatusError{Code: resp.StatusCode, URL: url, Body: truncate(string(body), 256)}
	}
	return body, nil
}

func decode(url string, body []byte, out interface{}) error {
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode response from %s: %v", models.ErrIntegrity, url, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
