package browser

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"profile-launcher/internal/core"
	"profile-launcher/internal/fingerprint"
)

// PlaywrightRunner starts the playwright driver once per process and
// shares it between the gecko and webkit adapters
type PlaywrightRunner struct {
	mu sync.Mutex
	pw *playwright.Playwright
}

// NewPlaywrightRunner creates a runner; the driver starts on first use
func NewPlaywrightRunner() *PlaywrightRunner {
	return &PlaywrightRunner{}
}

func (r *PlaywrightRunner) get() (*playwright.Playwright, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pw != nil {
		return r.pw, nil
	}
	pw, err := playwright.Run(&playwright.RunOptions{SkipInstallBrowsers: true})
	if err != nil {
		return nil, fmt.Errorf("could not start playwright: %w", err)
	}
	r.pw = pw
	return pw, nil
}

// Stop shuts the driver down, taking every engine it launched with it
func (r *PlaywrightRunner) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pw == nil {
		return nil
	}
	err := r.pw.Stop()
	r.pw = nil
	return err
}

// playwrightAdapter is the shared implementation behind the gecko and webkit adapters
type playwrightAdapter struct {
	family   core.EngineFamily
	runner   *PlaywrightRunner
	settings Settings
	pipeline *fingerprint.Pipeline
	logger   *zap.Logger
}

func newPlaywrightAdapter(family core.EngineFamily, runner *PlaywrightRunner, settings Settings, pipeline *fingerprint.Pipeline, logger *zap.Logger) playwrightAdapter {
	return playwrightAdapter{
		family:   family,
		runner:   runner,
		settings: settings,
		pipeline: pipeline,
		logger:   logger.With(zap.String("engine", string(family))),
	}
}

func (a *playwrightAdapter) Family() core.EngineFamily { return a.family }

func (a *playwrightAdapter) LocateExecutable() (string, error) {
	return locateExecutable(a.family, a.settings.ExecutablePath)
}

func (a *playwrightAdapter) browserType() (playwright.BrowserType, error) {
	pw, err := a.runner.get()
	if err != nil {
		return nil, err
	}
	if a.family == core.EngineGecko {
		return pw.Firefox, nil
	}
	return pw.WebKit, nil
}

func (a *playwrightAdapter) launchOptions(executablePath, staging string, cfg *core.LaunchConfig) (playwright.BrowserTypeLaunchPersistentContextOptions, error) {
	opts := playwright.BrowserTypeLaunchPersistentContextOptions{
		ExecutablePath:  playwright.String(executablePath),
		Headless:        playwright.Bool(cfg.Headless),
		Args:            cfg.Args,
		AcceptDownloads: playwright.Bool(true),
		DownloadsPath:   playwright.String(staging),
		Viewport:        &playwright.Size{Width: cfg.WindowWidth, Height: cfg.WindowHeight},
		Timeout:         playwright.Float(float64(a.settings.connectTimeout().Milliseconds()) * 3),
	}
	if cfg.UserAgent != "" {
		opts.UserAgent = playwright.String(cfg.UserAgent)
	}
	if cfg.Locale != "" {
		opts.Locale = playwright.String(cfg.Locale)
	}
	if cfg.Timezone != "" {
		opts.TimezoneId = playwright.String(cfg.Timezone)
	}
	if cfg.ProxyURL != "" {
		server, user, pass, err := proxyParts(cfg.ProxyURL)
		if err != nil {
			return opts, fmt.Errorf("%w: %v", core.ErrConfiguration, err)
		}
		proxy := &playwright.Proxy{Server: server}
		if user != "" {
			proxy.Username = playwright.String(user)
			proxy.Password = playwright.String(pass)
		}
		opts.Proxy = proxy
	}
	if a.family == core.EngineGecko && len(cfg.Prefs) > 0 {
		opts.FirefoxUserPrefs = cfg.Prefs
	}
	return opts, nil
}

func (a *playwrightAdapter) Launch(ctx context.Context, executablePath string, cfg *core.LaunchConfig) (core.BrowserContext, error) {
	if err := os.MkdirAll(cfg.UserDataDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: failed to create user data dir: %v", core.ErrLaunch, err)
	}
	staging := filepath.Join(cfg.DownloadDir, ".incoming")
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return nil, fmt.Errorf("%w: failed to create download dir: %v", core.ErrLaunch, err)
	}

	bt, err := a.browserType()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrLaunch, err)
	}
	opts, err := a.launchOptions(executablePath, staging, cfg)
	if err != nil {
		return nil, err
	}

	type result struct {
		bctx playwright.BrowserContext
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		bctx, err := bt.LaunchPersistentContext(cfg.UserDataDir, opts)
		ch <- result{bctx, err}
	}()

	var res result
	select {
	case res = <-ch:
	case <-ctx.Done():
		// release the engine if it comes up after the caller gave up
		go func() {
			if late := <-ch; late.err == nil {
				_ = late.bctx.Close()
			}
		}()
		return nil, fmt.Errorf("%w: %v", core.ErrLaunch, ctx.Err())
	}
	if res.err != nil {
		return nil, fmt.Errorf("%w: %s: %v", core.ErrLaunch, executablePath, res.err)
	}

	logger := a.logger.With(zap.String("user_data_dir", cfg.UserDataDir))
	bc := newPWContext(a.family, res.bctx, nil, "", a.settings, NewDownloads(cfg.DownloadDir, logger), logger)

	if cfg.StartURL != "" {
		page, err := bc.firstPage(ctx)
		if err != nil {
			_ = bc.Kill()
			return nil, fmt.Errorf("%w: failed to open first page: %v", core.ErrLaunch, err)
		}
		if err := page.Navigate(ctx, cfg.StartURL, core.WaitLoad); err != nil {
			logger.Warn("start url did not load",
				zap.String("url", cfg.StartURL),
				zap.Error(err))
		}
	}

	logger.Info("browser launched", zap.Bool("headless", cfg.Headless))
	return bc, nil
}

// Connect attaches to a playwright browser server through its ws endpoint
func (a *playwrightAdapter) Connect(ctx context.Context, endpoint string) (core.BrowserContext, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bt, err := a.browserType()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrLaunch, err)
	}
	b, err := bt.Connect(endpoint, playwright.BrowserTypeConnectOptions{
		Timeout: playwright.Float(float64(a.settings.connectTimeout().Milliseconds())),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: debug endpoint unreachable: %v", core.ErrLaunch, err)
	}

	var bctx playwright.BrowserContext
	if contexts := b.Contexts(); len(contexts) > 0 {
		bctx = contexts[0]
	} else if bctx, err = b.NewContext(); err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("%w: failed to create context: %v", core.ErrLaunch, err)
	}
	return newPWContext(a.family, bctx, b, endpoint, a.settings, nil, a.logger), nil
}

func (a *playwrightAdapter) ApplyFingerprintProtection(ctx context.Context, bc core.BrowserContext, profile *core.Profile) (*core.InjectionResult, error) {
	return a.pipeline.Attach(ctx, bc, profile, fingerprint.FamilySnippet(a.family))
}

func (a *playwrightAdapter) asPW(bc core.BrowserContext) (*pwContext, error) {
	c, ok := bc.(*pwContext)
	if !ok || c.family != a.family {
		return nil, fmt.Errorf("%w: context is not %s-family", core.ErrUnsupportedEngine, a.family)
	}
	return c, nil
}

// ClearCache drops the page-visible CacheStorage entries. Playwright has
// no HTTP cache primitive for gecko and webkit.
func (a *playwrightAdapter) ClearCache(ctx context.Context, bc core.BrowserContext) error {
	c, err := a.asPW(bc)
	if err != nil {
		return err
	}
	page, release, err := c.anyPage(ctx)
	if err != nil {
		return err
	}
	defer release()

	if fingerprint.IsInternalURL(page.URL()) {
		return nil
	}
	if _, err := page.Evaluate(ctx, clearCachesJS); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	return nil
}

const clearCachesJS = `(async () => {
  if (!('caches' in self)) return 0;
  const keys = await caches.keys();
  await Promise.all(keys.map((k) => caches.delete(k)));
  return keys.length;
})()`

func (a *playwrightAdapter) ClearCookies(ctx context.Context, bc core.BrowserContext, rawURL string) error {
	c, err := a.asPW(bc)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	opts := playwright.BrowserContextClearCookiesOptions{}
	if rawURL != "" {
		u, err := url.Parse(rawURL)
		if err != nil || u.Hostname() == "" {
			return fmt.Errorf("invalid cookie url %q", rawURL)
		}
		opts.Domain = u.Hostname()
	}
	if err := c.bctx.ClearCookies(opts); err != nil {
		return fmt.Errorf("failed to clear cookies: %w", err)
	}
	return nil
}

// ClearLocalStorage opens the origin in a transient page and clears its storage there
func (a *playwrightAdapter) ClearLocalStorage(ctx context.Context, bc core.BrowserContext, rawURL string) error {
	c, err := a.asPW(bc)
	if err != nil {
		return err
	}
	origin, err := originOf(rawURL)
	if err != nil {
		return err
	}

	p, err := c.NewPage(ctx)
	if err != nil {
		return err
	}
	defer p.Close()

	if err := p.Navigate(ctx, origin, core.WaitDOMContentLoaded); err != nil {
		return fmt.Errorf("failed to open origin: %w", err)
	}
	if _, err := p.Evaluate(ctx, "localStorage.clear()"); err != nil {
		return fmt.Errorf("failed to clear local storage: %w", err)
	}
	return nil
}

func (a *playwrightAdapter) CleanupUserData(userDataDir string) bool {
	return CleanupLocks(userDataDir)
}
