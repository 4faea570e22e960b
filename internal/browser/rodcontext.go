package browser

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/cdp"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"profile-launcher/internal/core"
	"profile-launcher/internal/fingerprint"
)

// rodContext is the chromium-family BrowserContext, one rod.Browser per
// profile rooted at its own user-data directory
type rodContext struct {
	browser   *rod.Browser
	ws        *cdp.WebSocket
	launcher  *launcher.Launcher // nil when attached through Connect
	endpoint  string
	settings  Settings
	downloads *Downloads
	staging   string
	logger    *zap.Logger
	done      *doneSignal

	mu         sync.Mutex
	scripts    []string
	hooks      []func(core.Page)
	pages      map[proto.TargetTargetID]*rod.Page
	sessions   map[proto.TargetTargetID]*rod.Page // auto-attached page sessions
	autoAttach bool
}

type proxyAuth struct {
	username string
	password string
}

func newRodContext(b *rod.Browser, ws *cdp.WebSocket, l *launcher.Launcher, endpoint string, settings Settings, downloads *Downloads, staging string, auth *proxyAuth, logger *zap.Logger) *rodContext {
	c := &rodContext{
		browser:   b,
		ws:        ws,
		launcher:  l,
		endpoint:  endpoint,
		settings:  settings,
		downloads: downloads,
		staging:   staging,
		logger:    logger,
		done:      newDoneSignal(),
		pages:     make(map[proto.TargetTargetID]*rod.Page),
		sessions:  make(map[proto.TargetTargetID]*rod.Page),
	}

	callbacks := []interface{}{
		func(e *proto.TargetTargetCreated) {
			if e.TargetInfo.Type == proto.TargetTargetInfoTypePage {
				go c.handleTarget(e.TargetInfo.TargetID)
			}
		},
		func(e *proto.TargetAttachedToTarget) {
			go c.prepareTarget(e)
		},
		func(e *proto.TargetTargetDestroyed) {
			c.mu.Lock()
			delete(c.pages, e.TargetID)
			delete(c.sessions, e.TargetID)
			c.mu.Unlock()
		},
	}
	if downloads != nil {
		callbacks = append(callbacks,
			func(e *proto.BrowserDownloadWillBegin) {
				downloads.Begin(e.GUID, e.URL, e.SuggestedFilename)
			},
			func(e *proto.BrowserDownloadProgress) {
				switch e.State {
				case proto.BrowserDownloadProgressStateCompleted:
					go c.completeDownload(e.GUID)
				case proto.BrowserDownloadProgressStateCanceled:
					downloads.Cancel(e.GUID)
				}
			},
		)
	}
	if auth != nil {
		_ = proto.FetchEnable{HandleAuthRequests: true}.Call(b)
		callbacks = append(callbacks,
			func(e *proto.FetchRequestPaused) {
				go func() {
					_ = proto.FetchContinueRequest{RequestID: e.RequestID}.Call(b)
				}()
			},
			func(e *proto.FetchAuthRequired) {
				go func() {
					err := proto.FetchContinueWithAuth{
						RequestID: e.RequestID,
						AuthChallengeResponse: &proto.FetchAuthChallengeResponse{
							Response: proto.FetchAuthChallengeResponseResponseProvideCredentials,
							Username: auth.username,
							Password: auth.password,
						},
					}.Call(b)
					if err != nil {
						logger.Debug("proxy auth failed", zap.Error(err))
					}
				}()
			},
		)
	}

	// the event stream ends when the connection drops
	wait := b.EachEvent(callbacks...)
	go func() {
		wait()
		c.done.fire()
	}()

	// new targets, popups included, stay paused until prepareTarget has
	// registered the init scripts on them
	c.mu.Lock()
	c.autoAttach = true
	c.mu.Unlock()
	err := proto.TargetSetAutoAttach{AutoAttach: true, WaitForDebuggerOnStart: true, Flatten: true}.Call(b)
	if err != nil {
		logger.Warn("auto-attach unavailable, init scripts follow target creation", zap.Error(err))
		c.mu.Lock()
		c.autoAttach = false
		c.mu.Unlock()
	}

	go watch(c.done, c.Ping)

	return c
}

func (c *rodContext) Family() core.EngineFamily { return core.EngineChromium }

func (c *rodContext) Endpoint() string { return c.endpoint }

func (c *rodContext) PID() int {
	if c.launcher == nil {
		return 0
	}
	return c.launcher.PID()
}

func (c *rodContext) Done() <-chan struct{} { return c.done.ch }

// prepareTarget registers every init script on a newly attached target
// and then lets it run
func (c *rodContext) prepareTarget(e *proto.TargetAttachedToTarget) {
	session := c.browser.PageFromSession(e.SessionID)

	if e.TargetInfo != nil && e.TargetInfo.Type == proto.TargetTargetInfoTypePage {
		c.mu.Lock()
		c.sessions[e.TargetInfo.TargetID] = session
		scripts := append([]string(nil), c.scripts...)
		c.mu.Unlock()

		for _, s := range scripts {
			if err := addScript(session, s); err != nil {
				c.logger.Debug("failed to register init script", zap.Error(err))
			}
		}
	}

	if e.WaitingForDebugger {
		if err := (proto.RuntimeRunIfWaitingForDebugger{}).Call(session); err != nil {
			c.logger.Debug("failed to resume target", zap.Error(err))
		}
	}
}

func addScript(p *rod.Page, script string) error {
	_, err := proto.PageAddScriptToEvaluateOnNewDocument{Source: script}.Call(p)
	return err
}

// adopt tracks page. Without auto-attach it also registers every init
// script on it. It reports false when the page was already adopted.
func (c *rodContext) adopt(page *rod.Page) bool {
	c.mu.Lock()
	if _, ok := c.pages[page.TargetID]; ok {
		c.mu.Unlock()
		return false
	}
	c.pages[page.TargetID] = page
	var scripts []string
	if !c.autoAttach {
		scripts = append(scripts, c.scripts...)
	}
	c.mu.Unlock()

	for _, s := range scripts {
		if err := addScript(page, s); err != nil {
			c.logger.Debug("failed to register init script", zap.Error(err))
		}
	}
	return true
}

func (c *rodContext) handleTarget(id proto.TargetTargetID) {
	page, err := c.browser.PageFromTarget(id)
	if err != nil {
		c.logger.Debug("failed to attach to new target", zap.Error(err))
		return
	}
	if !c.adopt(page) {
		return
	}

	c.mu.Lock()
	hooks := append(([]func(core.Page))(nil), c.hooks...)
	c.mu.Unlock()

	wrapped := newRodPage(page, c.settings)
	for _, h := range hooks {
		h(wrapped)
	}
}

func (c *rodContext) completeDownload(guid string) {
	if _, err := c.downloads.Complete(guid, filepath.Join(c.staging, guid)); err != nil {
		c.logger.Warn("failed to place download", zap.String("guid", guid), zap.Error(err))
	}
}

// Pages attach through the root browser since rod caches a page together
// with the context it was first attached under.
func (c *rodContext) Pages(ctx context.Context) ([]core.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pages, err := c.browser.Pages()
	if err != nil {
		return nil, fmt.Errorf("failed to list pages: %w", err)
	}
	out := make([]core.Page, 0, len(pages))
	for _, p := range pages {
		c.adopt(p)
		out = append(out, newRodPage(p, c.settings))
	}
	return out, nil
}

func (c *rodContext) NewPage(ctx context.Context) (core.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	page, err := c.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	c.adopt(page)
	return newRodPage(page, c.settings), nil
}

func (c *rodContext) AddInitScript(ctx context.Context, script string) error {
	c.mu.Lock()
	c.scripts = append(c.scripts, script)
	registered := c.pages
	if c.autoAttach {
		registered = c.sessions
	}
	targets := make([]*rod.Page, 0, len(registered))
	for _, p := range registered {
		targets = append(targets, p)
	}
	c.mu.Unlock()

	for _, p := range targets {
		if err := addScript(p.Context(ctx), script); err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("failed to register init script: %w", err)
			}
			// the target went away since it was attached
			c.logger.Debug("failed to register init script", zap.Error(err))
		}
	}

	// the script also applies to documents that are already loaded
	pages, err := c.browser.Pages()
	if err != nil {
		return fmt.Errorf("failed to list pages: %w", err)
	}
	for _, p := range pages {
		c.adopt(p)
		c.evalCurrent(ctx, p, script)
	}
	return nil
}

func (c *rodContext) evalCurrent(ctx context.Context, p *rod.Page, script string) {
	info, err := p.Context(ctx).Info()
	if err != nil || fingerprint.IsInternalURL(info.URL) {
		return
	}
	if _, err := newRodPage(p, c.settings).Evaluate(ctx, script); err != nil {
		c.logger.Debug("failed to apply init script to open page",
			zap.String("url", info.URL),
			zap.Error(err))
	}
}

func (c *rodContext) OnNewPage(fn func(core.Page)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, fn)
}

func (c *rodContext) Cookies(ctx context.Context, urls ...string) ([]core.Cookie, error) {
	cookies, err := c.browser.Context(ctx).GetCookies()
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}
	return filterCookies(fromProtoCookies(cookies), urls), nil
}

func (c *rodContext) SetCookies(ctx context.Context, cookies []core.Cookie) error {
	if len(cookies) == 0 {
		return nil
	}
	if err := c.browser.Context(ctx).SetCookies(toProtoCookies(cookies)); err != nil {
		return fmt.Errorf("failed to set cookies: %w", err)
	}
	return nil
}

func (c *rodContext) Ping(ctx context.Context) error {
	if c.done.fired() {
		return core.ErrNotRunning
	}
	_, err := c.browser.Context(ctx).Version()
	return err
}

func (c *rodContext) Close(ctx context.Context) error {
	err := c.browser.Context(ctx).Close()
	if err == nil && c.launcher != nil {
		select {
		case <-c.done.ch:
		case <-ctx.Done():
			err = ctx.Err()
		}
	}
	c.done.fire()
	return err
}

// Disconnect drops the CDP socket; the engine keeps running
func (c *rodContext) Disconnect() error {
	defer c.done.fire()
	if c.ws == nil {
		return nil
	}
	return c.ws.Close()
}

func (c *rodContext) Kill() error {
	defer c.done.fire()
	if c.launcher != nil {
		c.launcher.Kill()
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return c.browser.Context(ctx).Close()
}
