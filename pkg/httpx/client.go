// Package httpx builds the shared outbound HTTP client: requests are rate
// limited, retried on transient failures, and honour Retry-After.
package httpx

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"
)

// Options configures the outbound client.
type Options struct {
	Timeout    time.Duration
	RateLimit  float64 // requests per second
	MaxRetries int

	// RetryAfterScale multiplies server supplied Retry-After delays.
	RetryAfterScale float64
	RetryWaitMin    time.Duration
	RetryWaitMax    time.Duration
}

// DefaultOptions returns the transport policy used against Webex and Graph.
func DefaultOptions() Options {
	return Options{
		Timeout:         60 * time.Second,
		RateLimit:       5,
		MaxRetries:      5,
		RetryAfterScale: 1.2,
		RetryWaitMin:    500 * time.Millisecond,
		RetryWaitMax:    2 * time.Minute,
	}
}

// NewClient returns a standard *http.Client backed by retryablehttp.
func NewClient(opts Options, logger *slog.Logger) *http.Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = opts.MaxRetries
	rc.RetryWaitMin = opts.RetryWaitMin
	rc.RetryWaitMax = opts.RetryWaitMax
	rc.Backoff = retryAfterBackoff(opts.RetryAfterScale)
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = logger.With("component", "http")

	burst := int(math.Ceil(opts.RateLimit))
	if burst < 1 {
		burst = 1
	}
	rc.HTTPClient.Transport = &limitedTransport{
		base:    rc.HTTPClient.Transport,
		limiter: rate.NewLimiter(rate.Limit(opts.RateLimit), burst),
	}

	client := rc.StandardClient()
	client.Timeout = opts.Timeout
	return client
}

// retryAfterBackoff scales the server's Retry-After hint on 429 and 503
// responses and falls back to exponential backoff otherwise.
func retryAfterBackoff(scale float64) retryablehttp.Backoff {
	if scale <= 0 {
		scale = 1
	}
	return func(min, max time.Duration, attempt int, resp *http.Response) time.Duration {
		if resp != nil && (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable) {
			if s := resp.Header.Get("Retry-After"); s != "" {
				if secs, err := strconv.Atoi(s); err == nil && secs >= 0 {
					wait := time.Duration(float64(secs) * scale * float64(time.Second))
					if wait > max {
						wait = max
					}
					return wait
				}
			}
		}
		return retryablehttp.DefaultBackoff(min, max, attempt, resp)
	}
}

// limitedTransport waits on a token bucket before every round trip,
// including retries.
type limitedTransport struct {
	base    http.RoundTripper
	limiter *rate.Limiter
}

func (t *limitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}
