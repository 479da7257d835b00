package render

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/sirupsen/logrus"

	"aeo-audit/pkg/config"
	"aeo-audit/pkg/fetch"
	"aeo-audit/pkg/utils"
)

// settleDelay gives client-side frameworks time to hydrate after the body is ready
const settleDelay = 750 * time.Millisecond

// Renderer returns the DOM of a page after JavaScript has run
type Renderer interface {
	Render(ctx context.Context, pageURL string) (string, error)
}

// Chrome renders pages in tabs of one shared headless Chrome process,
// started lazily on the first Render.
type Chrome struct {
	allocCtx    context.Context
	cancelAlloc context.CancelFunc
	identity    fetch.Identity
	navTimeout  time.Duration
	tabTimeout  time.Duration
	log         *logrus.Entry

	mu            sync.Mutex
	browserCtx    context.Context
	cancelBrowser context.CancelFunc
	closed        bool
}

// NewChrome prepares a headless Chrome allocator carrying the bot identity
func NewChrome(cfg config.RenderConfig, identity fetch.Identity, log *logrus.Entry) *Chrome {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(identity.UserAgent),
	)
	if cfg.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ChromePath))
	}
	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Chrome{
		allocCtx:    allocCtx,
		cancelAlloc: cancel,
		identity:    identity,
		navTimeout:  cfg.RenderTimeout,
		tabTimeout:  cfg.BrowserTimeout,
		log:         log.WithField("component", "renderer"),
	}
}

// Render opens pageURL in a fresh tab and returns the outer HTML once the body is ready
func (c *Chrome) Render(ctx context.Context, pageURL string) (string, error) {
	browserCtx, err := c.browser()
	if err != nil {
		return "", err
	}

	tabCtx, cancelTab := chromedp.NewContext(browserCtx)
	defer cancelTab()

	// the caller's cancellation reaches the tab too
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	if c.tabTimeout > 0 {
		var cancel context.CancelFunc
		tabCtx, cancel = context.WithTimeout(tabCtx, c.tabTimeout)
		defer cancel()
	}

	headers := network.Headers{}
	for k, v := range c.identity.Headers() {
		headers[k] = v
	}

	start := time.Now()
	var html string
	err = chromedp.Run(tabCtx,
		network.Enable(),
		network.SetExtraHTTPHeaders(headers),
		chromedp.ActionFunc(func(ctx context.Context) error {
			navCtx := ctx
			if c.navTimeout > 0 {
				var cancel context.CancelFunc
				navCtx, cancel = context.WithTimeout(ctx, c.navTimeout)
				defer cancel()
			}
			return chromedp.Tasks{
				chromedp.Navigate(pageURL),
				chromedp.WaitReady("body"),
				chromedp.Sleep(settleDelay),
				chromedp.OuterHTML("html", &html),
			}.Do(navCtx)
		}),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", utils.ErrRender, err)
	}

	c.log.WithFields(logrus.Fields{"url": pageURL, "bytes": len(html), "duration": time.Since(start)}).Debug("Page rendered")
	return html, nil
}

// browser starts the shared browser on first use
func (c *Chrome) browser() (context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("%w: renderer closed", utils.ErrRender)
	}
	if c.browserCtx != nil && c.browserCtx.Err() == nil {
		return c.browserCtx, nil
	}

	browserCtx, cancel := chromedp.NewContext(c.allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("%w: starting browser: %w", utils.ErrRender, err)
	}
	c.log.Info("Headless browser started")
	c.browserCtx, c.cancelBrowser = browserCtx, cancel
	return browserCtx, nil
}

// Close shuts down the browser process
func (c *Chrome) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.cancelBrowser != nil {
		c.cancelBrowser()
	}
	c.cancelAlloc()
}
