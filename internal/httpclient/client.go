package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"lunchfinder/discovery/internal/domain"
	"lunchfinder/discovery/internal/metrics"
)

const (
	DefaultTimeout      = 30 * time.Second
	defaultMaxBodyBytes = int64(20 * 1024 * 1024)
	userAgent           = "lunchfinder-discovery/1.0"
	redacted            = "REDACTED"
)

// Request describes one logical call. Endpoint is a short label used for
// logs and metrics; Path is appended to the client's base URL.
type Request struct {
	Endpoint string
	Path     string
	Query    url.Values
	// SkipAuth leaves the API key off the query string.
	SkipAuth bool
}

type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

type Client struct {
	baseURL      string
	apiKey       string
	http         *http.Client
	timeout      time.Duration
	retry        RetryConfig
	limiter      *rate.Limiter
	maxBodyBytes int64
	logger       *slog.Logger
	sleep        func(context.Context, time.Duration) error
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTimeout sets the per-attempt timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

func WithRetry(cfg RetryConfig) Option {
	return func(c *Client) {
		if cfg.MaxRetries < 0 {
			cfg.MaxRetries = 0
		}
		c.retry = cfg
	}
}

// WithRateLimit caps outgoing attempts per second. rps <= 0 disables the cap.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func WithMaxBodyBytes(limit int64) Option {
	return func(c *Client) {
		if limit > 0 {
			c.maxBodyBytes = limit
		}
	}
}

func withSleep(fn func(context.Context, time.Duration) error) Option {
	return func(c *Client) {
		c.sleep = fn
	}
}

func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:       strings.TrimSpace(apiKey),
		timeout:      DefaultTimeout,
		retry:        DefaultRetryConfig(),
		maxBodyBytes: defaultMaxBodyBytes,
		logger:       slog.Default(),
		sleep:        sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return c
}

// Do fetches req and decodes the JSON body into T.
func Do[T any](ctx context.Context, c *Client, req Request) (T, error) {
	var out T
	resp, err := c.Fetch(ctx, req)
	if err != nil {
		return out, err
	}
	if len(resp.Body) == 0 {
		return out, &domain.PlacesError{Kind: domain.PlacesErrDecoding, Message: "empty response body"}
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return out, &domain.PlacesError{Kind: domain.PlacesErrDecoding, Err: err}
	}
	return out, nil
}

// Fetch executes req with retries and returns the raw 2xx response.
// Only transport failures and 5xx responses are retried.
func (c *Client) Fetch(ctx context.Context, req Request) (Response, error) {
	target, err := c.buildURL(req)
	if err != nil {
		return Response{}, err
	}
	endpoint := req.Endpoint
	if endpoint == "" {
		endpoint = req.Path
	}

	var lastErr *domain.PlacesError
	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.retry.Delay(attempt - 1)
			c.logger.Info("places request retrying",
				slog.String("endpoint", endpoint),
				slog.Int("attempt", attempt+1),
				slog.Duration("delay", delay),
				slog.String("error", redactError(lastErr.Error(), c.apiKey)),
			)
			if err := c.sleep(ctx, delay); err != nil {
				return Response{}, classifyTransportError(ctx, err)
			}
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return Response{}, classifyTransportError(ctx, err)
			}
		}

		resp, perr := c.attempt(ctx, endpoint, target, attempt+1)
		if perr == nil {
			return resp, nil
		}
		lastErr = perr
		if !perr.Retryable() || ctx.Err() != nil {
			break
		}
	}
	return Response{}, lastErr
}

func (c *Client) attempt(ctx context.Context, endpoint string, target *url.URL, attempt int) (Response, *domain.PlacesError) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	logURL := redactURL(target)
	c.logger.Debug("places request started",
		slog.String("endpoint", endpoint),
		slog.String("url", logURL),
		slog.Int("attempt", attempt),
	)

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, target.String(), nil)
	if err != nil {
		return Response{}, &domain.PlacesError{Kind: domain.PlacesErrInvalidURL, Err: err}
	}
	httpReq.Header.Set("User-Agent", userAgent)
	httpReq.Header.Set("Accept", "application/json, image/*;q=0.9, */*;q=0.8")

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		perr := classifyTransportError(ctx, err)
		c.observe(endpoint, string(perr.Kind), start)
		c.logger.Warn("places request failed",
			slog.String("endpoint", endpoint),
			slog.Int("attempt", attempt),
			slog.Int64("latencyMs", time.Since(start).Milliseconds()),
			slog.String("error", redactError(perr.Error(), c.apiKey)),
		)
		return Response{}, perr
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes))
	if err != nil {
		perr := classifyTransportError(ctx, err)
		c.observe(endpoint, string(perr.Kind), start)
		return Response{}, perr
	}

	latency := time.Since(start)
	c.logger.Info("places request completed",
		slog.String("endpoint", endpoint),
		slog.Int("status", resp.StatusCode),
		slog.Int64("latencyMs", latency.Milliseconds()),
		slog.Int("attempt", attempt),
	)

	if perr := classifyStatus(resp, body); perr != nil {
		c.observe(endpoint, string(perr.Kind), start)
		return Response{}, perr
	}
	c.observe(endpoint, "ok", start)
	return Response{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

func (c *Client) observe(endpoint, outcome string, start time.Time) {
	metrics.PlacesAttemptsTotal.WithLabelValues(endpoint, outcome).Inc()
	metrics.PlacesRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

func (c *Client) buildURL(req Request) (*url.URL, error) {
	if !req.SkipAuth && c.apiKey == "" {
		return nil, &domain.PlacesError{Kind: domain.PlacesErrInvalidAPIKey, Message: "api key is not configured"}
	}
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, &domain.PlacesError{Kind: domain.PlacesErrInvalidURL, Err: err}
	}
	if (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, &domain.PlacesError{Kind: domain.PlacesErrInvalidURL, Message: fmt.Sprintf("invalid base url %q", c.baseURL)}
	}
	target := base.JoinPath(req.Path)

	query := url.Values{}
	for key, values := range req.Query {
		for _, value := range values {
			query.Add(key, value)
		}
	}
	if !req.SkipAuth {
		query.Set("key", c.apiKey)
	}
	target.RawQuery = query.Encode()
	return target, nil
}

func classifyStatus(resp *http.Response, body []byte) *domain.PlacesError {
	status := resp.StatusCode
	if status >= 200 && status < 300 {
		return nil
	}
	message := upstreamMessage(body)
	if message == "" {
		message = http.StatusText(status)
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &domain.PlacesError{Kind: domain.PlacesErrInvalidAPIKey, Status: status, Message: message}
	case status == http.StatusTooManyRequests:
		return &domain.PlacesError{
			Kind:       domain.PlacesErrRateLimited,
			Status:     status,
			Message:    message,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	}
	return &domain.PlacesError{Kind: domain.PlacesErrRequestFailed, Status: status, Message: message}
}

// upstreamMessage pulls a short message out of an error body without
// forwarding HTML or large payloads.
func upstreamMessage(body []byte) string {
	var envelope struct {
		ErrorMessage string `json:"error_message"`
		Error        any    `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		if envelope.ErrorMessage != "" {
			return envelope.ErrorMessage
		}
		switch v := envelope.Error.(type) {
		case string:
			return v
		case map[string]any:
			if msg, ok := v["message"].(string); ok {
				return msg
			}
		}
	}
	return ""
}

func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func redactURL(u *url.URL) string {
	clone := *u
	query := clone.Query()
	if query.Has("key") {
		query.Set("key", redacted)
		clone.RawQuery = query.Encode()
	}
	return clone.String()
}

func redactError(message, apiKey string) string {
	if apiKey == "" {
		return message
	}
	return strings.ReplaceAll(message, apiKey, redacted)
}
