package browser

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"profile-launcher/internal/core"
	"profile-launcher/internal/fingerprint"
)

// pwContext is the gecko/webkit BrowserContext over a playwright persistent context
type pwContext struct {
	family    core.EngineFamily
	bctx      playwright.BrowserContext
	browser   playwright.Browser // set only when attached through Connect
	endpoint  string
	settings  Settings
	downloads *Downloads
	logger    *zap.Logger
	done      *doneSignal
	seq       atomic.Uint64

	mu    sync.Mutex
	hooks []func(core.Page)
}

func newPWContext(family core.EngineFamily, bctx playwright.BrowserContext, b playwright.Browser, endpoint string, settings Settings, downloads *Downloads, logger *zap.Logger) *pwContext {
	c := &pwContext{
		family:    family,
		bctx:      bctx,
		browser:   b,
		endpoint:  endpoint,
		settings:  settings,
		downloads: downloads,
		logger:    logger,
		done:      newDoneSignal(),
	}

	timeout := float64(settings.navigationTimeout().Milliseconds())
	bctx.SetDefaultTimeout(timeout)
	bctx.SetDefaultNavigationTimeout(timeout)

	bctx.OnClose(func(playwright.BrowserContext) {
		c.done.fire()
	})
	for _, p := range bctx.Pages() {
		c.trackDownloads(p)
	}
	bctx.OnPage(func(p playwright.Page) {
		c.trackDownloads(p)

		c.mu.Lock()
		hooks := append(([]func(core.Page))(nil), c.hooks...)
		c.mu.Unlock()

		wrapped := newPWPage(p, settings)
		for _, h := range hooks {
			h(wrapped)
		}
	})
	go watch(c.done, c.Ping)

	return c
}

func (c *pwContext) trackDownloads(p playwright.Page) {
	if c.downloads == nil {
		return
	}
	p.OnDownload(func(d playwright.Download) {
		id := strconv.FormatUint(c.seq.Add(1), 10)
		c.downloads.Begin(id, d.URL(), d.SuggestedFilename())
		go func() {
			src, err := d.Path()
			if err != nil {
				c.downloads.Cancel(id)
				c.logger.Warn("download failed", zap.String("url", d.URL()), zap.Error(err))
				return
			}
			if _, err := c.downloads.Complete(id, src); err != nil {
				c.logger.Warn("failed to place download", zap.String("url", d.URL()), zap.Error(err))
			}
		}()
	})
}

func (c *pwContext) Family() core.EngineFamily { return c.family }

func (c *pwContext) Endpoint() string { return c.endpoint }

// PID is not exposed by playwright
func (c *pwContext) PID() int { return 0 }

func (c *pwContext) Done() <-chan struct{} { return c.done.ch }

func (c *pwContext) Pages(ctx context.Context) ([]core.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pages := c.bctx.Pages()
	out := make([]core.Page, 0, len(pages))
	for _, p := range pages {
		out = append(out, newPWPage(p, c.settings))
	}
	return out, nil
}

func (c *pwContext) NewPage(ctx context.Context) (core.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := c.bctx.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	return newPWPage(p, c.settings), nil
}

// firstPage returns the page a persistent context opens with, creating one if needed
func (c *pwContext) firstPage(ctx context.Context) (*pwPage, error) {
	if pages := c.bctx.Pages(); len(pages) > 0 {
		return newPWPage(pages[0], c.settings), nil
	}
	p, err := c.NewPage(ctx)
	if err != nil {
		return nil, err
	}
	return p.(*pwPage), nil
}

// anyPage returns an open page, or a transient one the caller must release
func (c *pwContext) anyPage(ctx context.Context) (*pwPage, func(), error) {
	if pages := c.bctx.Pages(); len(pages) > 0 {
		return newPWPage(pages[0], c.settings), func() {}, nil
	}
	p, err := c.NewPage(ctx)
	if err != nil {
		return nil, nil, err
	}
	return p.(*pwPage), func() { _ = p.Close() }, nil
}

func (c *pwContext) AddInitScript(ctx context.Context, script string) error {
	if err := c.bctx.AddInitScript(playwright.Script{Content: playwright.String(script)}); err != nil {
		return fmt.Errorf("failed to add init script: %w", err)
	}
	for _, p := range c.bctx.Pages() {
		if fingerprint.IsInternalURL(p.URL()) {
			continue
		}
		if _, err := newPWPage(p, c.settings).Evaluate(ctx, script); err != nil {
			c.logger.Debug("failed to apply init script to open page",
				zap.String("url", p.URL()),
				zap.Error(err))
		}
	}
	return nil
}

func (c *pwContext) OnNewPage(fn func(core.Page)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, fn)
}

func (c *pwContext) Cookies(ctx context.Context, urls ...string) ([]core.Cookie, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cookies, err := c.bctx.Cookies(urls...)
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}
	return fromPlaywrightCookies(cookies), nil
}

func (c *pwContext) SetCookies(ctx context.Context, cookies []core.Cookie) error {
	if len(cookies) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.bctx.AddCookies(toPlaywrightCookies(cookies)); err != nil {
		return fmt.Errorf("failed to set cookies: %w", err)
	}
	return nil
}

// Ping round-trips the driver with a cookie read, bounded by ctx
func (c *pwContext) Ping(ctx context.Context) error {
	if c.done.fired() {
		return core.ErrNotRunning
	}
	errc := make(chan error, 1)
	go func() {
		_, err := c.bctx.Cookies()
		errc <- err
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *pwContext) Close(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		err := c.bctx.Close()
		if c.browser != nil {
			if berr := c.browser.Close(); err == nil {
				err = berr
			}
		}
		errc <- err
	}()

	var err error
	select {
	case err = <-errc:
	case <-ctx.Done():
		err = ctx.Err()
	}
	c.done.fire()
	return err
}

// Disconnect detaches from a browser reached through Connect. A launched
// context has no connection of its own; its engine belongs to the driver.
func (c *pwContext) Disconnect() error {
	defer c.done.fire()
	if c.browser == nil {
		return nil
	}
	return c.browser.Close()
}

// Kill abandons the context without waiting; the engine process goes down
// with the playwright driver at shutdown
func (c *pwContext) Kill() error {
	go func() {
		_ = c.bctx.Close()
		if c.browser != nil {
			_ = c.browser.Close()
		}
	}()
	c.done.fire()
	return nil
}
