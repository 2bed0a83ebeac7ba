package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/mkoziy/finsync/internal/logging"
	"github.com/mkoziy/finsync/internal/ratelimit"
)

const (
	defaultTimeout       = 30 * time.Second
	defaultConcurrency   = 10
	defaultRateLimitWait = 10 * time.Second
	maxMessageBody       = 256
)

// Config controls one provider's client.
type Config struct {
	BaseURL           string
	APIKey            string
	APIKeyParam       string
	Timeout           time.Duration
	Concurrency       int
	RateLimitWait     time.Duration
	MaxRateLimitWaits int
	RateLimit         ratelimit.Config
}

// Request is one logical fetch for an entity and dataset.
type Request struct {
	Entity  string
	Dataset string
	Path    string
	Params  url.Values
}

// Result is the terminal outcome of Fetch. Err is nil only for Success.
type Result struct {
	Body           []byte
	Class          Class
	StatusCode     int
	Message        string
	Attempts       int
	Retries        int
	RateLimitWaits int
	Duration       time.Duration
	Err            error
}

// RetryEvent describes one retry decision.
type RetryEvent struct {
	Attempt    int
	Class      Class
	StatusCode int
	Wait       time.Duration
	Message    string
}

// Observer is told about every retry before the client sleeps.
type Observer interface {
	Retrying(ctx context.Context, req Request, ev RetryEvent)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, req Request, ev RetryEvent)

func (f ObserverFunc) Retrying(ctx context.Context, req Request, ev RetryEvent) { f(ctx, req, ev) }

// Recorder receives per-request measurements.
type Recorder interface {
	ObserveRequest(dataset string, class Class, d time.Duration)
}

// Client performs provider requests under a semaphore and a pacing limiter,
// retrying rate-limited and transient responses.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    ratelimit.Limiter
	sem        chan struct{}
	observer   Observer
	recorder   Recorder
	logger     *logrus.Entry
	sleep      func(ctx context.Context, d time.Duration) error
	now        func() time.Time
	backoff    func(retry int) time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLimiter replaces the limiter built from Config.RateLimit.
func WithLimiter(l ratelimit.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithObserver registers a retry observer.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// WithRecorder registers a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(c *Client) { c.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(l *logrus.Entry) Option {
	return func(c *Client) { c.logger = l }
}

// WithSleep replaces the context-aware sleep used between retries.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = fn }
}

// NewClient creates a provider client.
func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.RateLimitWait <= 0 {
		cfg.RateLimitWait = defaultRateLimitWait
	}
	if cfg.APIKeyParam == "" {
		cfg.APIKeyParam = "apikey"
	}
	cfg.RateLimit = ratelimit.WithDefaults(cfg.RateLimit)

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		sem:        make(chan struct{}, cfg.Concurrency),
		logger:     logging.Discard(),
		sleep:      ratelimit.Sleep,
		now:        time.Now,
	}
	rl := cfg.RateLimit
	c.backoff = func(retry int) time.Duration { return ratelimit.CalculateBackoff(retry, rl) }

	for _, opt := range opts {
		opt(c)
	}
	if c.limiter == nil {
		c.limiter = ratelimit.NewLimiter(cfg.RateLimit)
	}
	return c
}

// MaxRetries returns the transient retry budget.
func (c *Client) MaxRetries() int { return c.cfg.RateLimit.Retries() }

// Fetch runs req to a terminal outcome. RateLimited responses wait and retry
// without spending the retry budget; Transient ones back off exponentially up
// to MaxRetries. Fatal, ClientError and Unknown return immediately.
func (c *Client) Fetch(ctx context.Context, req Request) Result {
	start := c.now()
	res := c.fetch(ctx, req)
	res.Duration = c.now().Sub(start)
	if c.recorder != nil {
		c.recorder.ObserveRequest(req.Dataset, res.Class, res.Duration)
	}
	return res
}

func (c *Client) fetch(ctx context.Context, req Request) Result {
	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	case <-ctx.Done():
		return canceled(ctx, Result{})
	}

	log := c.logger.WithFields(logrus.Fields{"symbol": req.Entity, "dataset": req.Dataset})
	var res Result
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return canceled(ctx, res)
		}

		res.Attempts++
		status, header, body, err := c.do(ctx, req)
		if ctx.Err() != nil {
			return canceled(ctx, res)
		}

		res.StatusCode = status
		res.Class = Classify(status, err)
		res.Message = c.message(status, body, err)

		switch res.Class {
		case Success:
			res.Body = body
			res.Message = ""
			return res

		case RateLimited:
			res.RateLimitWaits++
			if c.cfg.MaxRateLimitWaits > 0 && res.RateLimitWaits > c.cfg.MaxRateLimitWaits {
				res.Message = fmt.Sprintf("rate limited %d times, giving up", res.RateLimitWaits)
				return terminal(res)
			}
			wait := retryAfter(header.Get("Retry-After"), c.now())
			if wait <= 0 {
				wait = c.cfg.RateLimitWait
			}
			c.limiter.Pause(c.now().Add(wait))
			log.WithField("wait", wait).Warn("rate limited, waiting")
			if err := c.retry(ctx, req, res, wait); err != nil {
				return canceled(ctx, res)
			}

		case Transient:
			if !ratelimit.ShouldRetry(res.Retries, c.MaxRetries()) {
				res.Message = fmt.Sprintf("%s after %d retries", res.Message, res.Retries)
				return terminal(res)
			}
			res.Retries++
			wait := c.backoff(res.Retries)
			log.WithFields(logrus.Fields{
				"status":  status,
				"retry":   res.Retries,
				"backoff": wait,
			}).Warn("transient failure, retrying")
			if err := c.retry(ctx, req, res, wait); err != nil {
				return canceled(ctx, res)
			}

		case Fatal:
			log.WithField("status", status).Error("credential rejected")
			res.Err = &FatalError{
				StatusCode: status,
				Entity:     req.Entity,
				Dataset:    req.Dataset,
				Message:    res.Message,
			}
			return res

		default:
			log.WithFields(logrus.Fields{"status": status, "class": res.Class}).Warn(res.Message)
			return terminal(res)
		}
	}
}

func (c *Client) retry(ctx context.Context, req Request, res Result, wait time.Duration) error {
	if c.observer != nil {
		c.observer.Retrying(ctx, req, RetryEvent{
			Attempt:    res.Attempts,
			Class:      res.Class,
			StatusCode: res.StatusCode,
			Wait:       wait,
			Message:    res.Message,
		})
	}
	return c.sleep(ctx, wait)
}

func (c *Client) do(ctx context.Context, req Request) (int, http.Header, []byte, error) {
	u, err := c.buildURL(req)
	if err != nil {
		return 0, nil, nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("execute request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, resp.Header, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, resp.Header, body, nil
}

func (c *Client) buildURL(req Request) (string, error) {
	base, err := url.Parse(strings.TrimRight(c.cfg.BaseURL, "/") + "/" + strings.TrimLeft(req.Path, "/"))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	q := base.Query()
	for k, vs := range req.Params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	if c.cfg.APIKey != "" {
		q.Set(c.cfg.APIKeyParam, c.cfg.APIKey)
	}
	base.RawQuery = q.Encode()
	return base.String(), nil
}

func (c *Client) message(status int, body []byte, err error) string {
	var msg string
	switch {
	case err != nil:
		msg = err.Error()
	case status == http.StatusOK:
		return ""
	default:
		msg = fmt.Sprintf("%d %s", status, http.StatusText(status))
		if snippet := strings.TrimSpace(string(body)); snippet != "" {
			msg += ": " + clipUTF8(snippet, maxMessageBody)
		}
	}
	return c.Redact(msg)
}

// Redact masks the API key wherever it appears in s.
func (c *Client) Redact(s string) string {
	if c.cfg.APIKey == "" {
		return s
	}
	s = strings.ReplaceAll(s, url.QueryEscape(c.cfg.APIKey), "REDACTED")
	return strings.ReplaceAll(s, c.cfg.APIKey, "REDACTED")
}

// clipUTF8 cuts s to at most n bytes on a rune boundary and drops invalid
// sequences, so messages stay storable as text.
func clipUTF8(s string, n int) string {
	if len(s) > n {
		for n > 0 && !utf8.RuneStart(s[n]) {
			n--
		}
		s = s[:n]
	}
	return strings.ToValidUTF8(s, "")
}

// retryAfter parses a Retry-After header given as seconds or an HTTP-date.
func retryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return t.Sub(now)
	}
	return 0
}

func terminal(res Result) Result {
	res.Err = &Error{Class: res.Class, StatusCode: res.StatusCode, Message: res.Message}
	return res
}

func canceled(ctx context.Context, res Result) Result {
	if res.Class == Success {
		res.Class = Unknown
	}
	res.Message = "canceled"
	res.Err = fmt.Errorf("fetch canceled: %w", ctx.Err())
	return res
}
