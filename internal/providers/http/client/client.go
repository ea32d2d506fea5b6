package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"
)

// DefaultUserAgent is sent by every outbound fetch.
const DefaultUserAgent = "Mozilla/5.0 (compatible; WebModder-Preview/1.0) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// ErrBodyTooLarge is returned when a response exceeds Options.MaxBodyBytes.
var ErrBodyTooLarge = errors.New("response body exceeds limit")

// Options configures a Client.
type Options struct {
	Timeout      time.Duration
	Retries      int
	RetryWait    time.Duration
	RetryMaxWait time.Duration
	RateLimit    float64 // requests per second, 0 = unlimited
	MaxBodyBytes int64
	UserAgent    string
}

// DefaultOptions returns production settings.
func DefaultOptions() Options {
	return Options{
		Timeout:      20 * time.Second,
		Retries:      1,
		RetryWait:    500 * time.Millisecond,
		RetryMaxWait: 5 * time.Second,
		MaxBodyBytes: 10 << 20,
		UserAgent:    DefaultUserAgent,
	}
}

// Client wraps resty with rate limiting and a pooled retryable transport.
type Client struct {
	resty   *resty.Client
	limiter *rate.Limiter
	maxBody int64
	mu      sync.RWMutex
}

// Response is the subset of an HTTP response the fetch providers need.
type Response struct {
	StatusCode  int
	Status      string
	ContentType string
	Body        []byte
	Duration    time.Duration
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// New creates an HTTP client from opts.
func New(opts Options) *Client {
	def := DefaultOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.RetryWait <= 0 {
		opts.RetryWait = def.RetryWait
	}
	if opts.RetryMaxWait <= 0 {
		opts.RetryMaxWait = def.RetryMaxWait
	}
	if opts.UserAgent == "" {
		opts.UserAgent = def.UserAgent
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = def.MaxBodyBytes
	}

	// retryablehttp provides the pooled cleanhttp transport; retries are driven by resty.
	retryClient := retryablehttp.NewClient()
	retryClient.Logger = nil

	restyClient := resty.New().
		SetTransport(retryClient.HTTPClient.Transport).
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.Retries).
		SetRetryWaitTime(opts.RetryWait).
		SetRetryMaxWaitTime(opts.RetryMaxWait).
		SetHeader("User-Agent", opts.UserAgent).
		SetHeader("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,application/json;q=0.8,*/*;q=0.5").
		SetHeader("Accept-Language", "en-US,en;q=0.9").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return !errors.Is(err, context.Canceled)
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
		})

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RateLimit > 0 {
		burst := int(opts.RateLimit)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	return &Client{
		resty:   restyClient,
		limiter: limiter,
		maxBody: opts.MaxBodyBytes,
	}
}

// SetHeader adds a default header.
func (c *Client) SetHeader(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resty.SetHeader(key, value)
}

// Get performs a rate-limited GET and returns the buffered response.
// Non-2xx statuses are not errors here; callers decide.
func (c *Client) Get(ctx context.Context, url string) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	c.mu.RLock()
	req := c.resty.R().SetContext(ctx)
	c.mu.RUnlock()

	resp, err := req.Get(url)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}

	body := resp.Body()
	if int64(len(body)) > c.maxBody {
		return nil, fmt.Errorf("%w: %d bytes", ErrBodyTooLarge, len(body))
	}

	return &Response{
		StatusCode:  resp.StatusCode(),
		Status:      resp.Status(),
		ContentType: resp.Header().Get("Content-Type"),
		Body:        body,
		Duration:    resp.Time(),
	}, nil
}
