// Package page fetches gallery pages and answers selector queries against
// the most recent response.
package page

import (
	"context"
	"gallery/internal/proxy"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// FetchObserver is notified after every completed request.
type FetchObserver interface {
	ObserveFetch(kind string, status int, elapsed time.Duration)
}

// ClientOptions configures the shared HTTP side of every Page.
type ClientOptions struct {
	Timeout  time.Duration
	Proxies  *proxy.Manager
	Renderer *Renderer // optional, used by FetchCollection
	Observer FetchObserver
	Logger   *zap.Logger
}

// Client wraps resty with the inter-request limiter used for collection fetches.
type Client struct {
	resty    *resty.Client
	proxies  *proxy.Manager
	renderer *Renderer
	observer FetchObserver
	logger   *zap.Logger

	mu      sync.Mutex
	limiter *rate.Limiter
	delay   time.Duration
}

// NewClient creates the HTTP client shared by pages. Redirects are
// followed; non-2xx statuses are reported, never retried.
func NewClient(opts ClientOptions) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Proxies == nil {
		opts.Proxies = proxy.NewManager(nil, nil)
	}

	rc := resty.New().
		SetTimeout(opts.Timeout).
		SetRetryCount(0)
	if p := opts.Proxies.GetProxy(); p != "" {
		rc.SetProxy(p)
	}

	return &Client{
		resty:    rc,
		proxies:  opts.Proxies,
		renderer: opts.Renderer,
		observer: opts.Observer,
		logger:   opts.Logger,
		limiter:  rate.NewLimiter(rate.Inf, 1),
	}
}

// NewPage returns a fresh working page bound to this client.
func (c *Client) NewPage() *Page {
	return &Page{client: c}
}

// request builds a resty request carrying ctx and a rotated user agent.
func (c *Client) request(ctx context.Context) *resty.Request {
	req := c.resty.R().SetContext(ctx)
	if ua := c.proxies.GetUserAgent(); ua != "" {
		req.SetHeader("User-Agent", ua)
	}
	return req
}

// throttle blocks until the next collection request may start. The first
// call never waits; later calls are spaced by delay.
func (c *Client) throttle(ctx context.Context, delay time.Duration) error {
	c.mu.Lock()
	if delay != c.delay {
		c.delay = delay
		if delay <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
		} else {
			c.limiter = rate.NewLimiter(rate.Every(delay), 1)
		}
	}
	limiter := c.limiter
	c.mu.Unlock()
	return limiter.Wait(ctx)
}

func (c *Client) observe(kind string, status int, start time.Time) {
	if c.observer != nil {
		c.observer.ObserveFetch(kind, status, time.Since(start))
	}
}
