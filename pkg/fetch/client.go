package fetch

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	errs "feedharvest/pkg/errors"
	"feedharvest/pkg/logger"
	"feedharvest/pkg/ratelimit"
	"feedharvest/pkg/retry"
)

// StatusError is returned for a response with a non-2xx status
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.Code)
}

// Retryable reports whether the request is worth repeating
func (e *StatusError) Retryable() bool {
	return errs.IsRetryableStatusCode(e.Code)
}

// Options configures a Client
type Options struct {
	UserAgent string
	// Cookie is sent verbatim as the Cookie header
	Cookie     string
	Timeout    time.Duration
	MaxRetries int
	// Backoff between attempts; defaults to exponential backoff
	Backoff retry.BackoffStrategy
	// Limiter paces every request; nil means unpaced
	Limiter ratelimit.Limiter
}

// Client fetches pages and media over HTTP with pacing and retries. It is
// safe for concurrent use.
type Client struct {
	http    *resty.Client
	limiter ratelimit.Limiter
	retrier *retry.Retrier
	logger  logger.Logger
}

// NewClient creates a Client
func NewClient(opts Options, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetLogger()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	backoff := opts.Backoff
	if backoff == nil {
		backoff = retry.DefaultExponentialBackoff()
	}

	client := resty.New()
	client.SetTimeout(opts.Timeout)
	client.SetHeaders(map[string]string{
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
		"Accept-Language": "en-US,en;q=0.9",
		"Cache-Control":   "no-cache",
		"Pragma":          "no-cache",
	})
	if opts.UserAgent != "" {
		client.SetHeader("User-Agent", opts.UserAgent)
	}
	if opts.Cookie != "" {
		client.SetHeader("Cookie", opts.Cookie)
	}

	log = log.WithField("component", "fetch")
	return &Client{
		http:    client,
		limiter: opts.Limiter,
		retrier: retry.NewRetrier(&retry.Config{
			MaxAttempts: opts.MaxRetries + 1,
			Backoff:     backoff,
			RetryIf:     retry.DefaultRetryIf,
			Logger:      log,
		}),
		logger: log,
	}
}

// SetHeader sets a header sent with every request
func (c *Client) SetHeader(key, value string) {
	c.http.SetHeader(key, value)
}

// Get fetches url and returns the response body. Network errors and
// retryable statuses are retried; other statuses fail at once with a
// *StatusError.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	var body []byte
	err := c.retrier.WithContext(ctx).Do(func() error {
		var err error
		body, err = c.get(ctx, url)
		return err
	})
	return body, err
}

// Download fetches a media file
func (c *Client) Download(ctx context.Context, url string) ([]byte, error) {
	data, err := c.Get(ctx, url)
	if err != nil {
		c.logger.WarnWithFields("Media download failed", map[string]interface{}{
			"url":   url,
			"error": err.Error(),
		})
		return nil, err
	}
	return data, nil
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	if c.limiter != nil {
		if !c.limiter.Allow() {
			logger.LogRateLimit(c.logger, url, 0)
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
	}

	start := time.Now()
	res, err := c.http.R().
		SetContext(ctx).
		Get(url)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	logger.LogRequest(c.logger, http.MethodGet, url, res.StatusCode(), time.Since(start))

	if res.StatusCode() < 200 || res.StatusCode() > 299 {
		serr := &StatusError{Code: res.StatusCode(), URL: url}
		if !serr.Retryable() {
			return nil, retry.Permanent(serr)
		}
		return nil, serr
	}
	return res.Body(), nil
}
