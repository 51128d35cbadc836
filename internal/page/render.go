package page

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
)

// Renderer loads pages in headless Chrome for galleries whose index is
// built client-side.
type Renderer struct {
	timeout time.Duration

	once        sync.Once
	allocCtx    context.Context
	allocCancel context.CancelFunc
}

// NewRenderer prepares a renderer; the browser starts on first use.
func NewRenderer(timeout time.Duration) *Renderer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Renderer{timeout: timeout}
}

// Render navigates to url, waits for the body and returns the outer HTML.
func (r *Renderer) Render(ctx context.Context, url string) (string, error) {
	r.once.Do(func() {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)
		r.allocCtx, r.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	})

	taskCtx, taskCancel := chromedp.NewContext(r.allocCtx)
	defer taskCancel()
	taskCtx, cancel := context.WithTimeout(taskCtx, r.timeout)
	defer cancel()

	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	var html string
	err := chromedp.Run(taskCtx,
		chromedp.Navigate(url),
		chromedp.WaitVisible("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		return "", err
	}
	return html, nil
}

// Close shuts the browser down.
func (r *Renderer) Close() {
	if r.allocCancel != nil {
		r.allocCancel()
	}
}
