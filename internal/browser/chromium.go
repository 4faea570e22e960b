package browser

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/cdp"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	rodstealth "github.com/go-rod/stealth"
	"go.uber.org/zap"

	"profile-launcher/internal/core"
	"profile-launcher/internal/fingerprint"
)

// chromiumBaseline hides automation markers and quiets background services
var chromiumBaseline = []string{
	"--disable-blink-features=AutomationControlled",
	"--disable-infobars",
	"--no-first-run",
	"--no-default-browser-check",
	"--disable-background-timer-throttling",
	"--disable-backgrounding-occluded-windows",
	"--disable-renderer-backgrounding",
	"--disable-component-update",
	"--disable-features=Translate,OptimizationHints,MediaRouter",
	"--password-store=basic",
	"--use-mock-keychain",
}

// ChromiumAdapter controls chromium-family browsers over CDP with rod
type ChromiumAdapter struct {
	settings Settings
	pipeline *fingerprint.Pipeline
	logger   *zap.Logger
}

// NewChromiumAdapter creates the chromium-family adapter
func NewChromiumAdapter(settings Settings, pipeline *fingerprint.Pipeline, logger *zap.Logger) *ChromiumAdapter {
	return &ChromiumAdapter{
		settings: settings,
		pipeline: pipeline,
		logger:   logger.With(zap.String("engine", string(core.EngineChromium))),
	}
}

func (a *ChromiumAdapter) Family() core.EngineFamily { return core.EngineChromium }

func (a *ChromiumAdapter) LocateExecutable() (string, error) {
	return locateExecutable(core.EngineChromium, a.settings.ExecutablePath)
}

func (a *ChromiumAdapter) BuildLaunchConfig(profile *core.Profile, userDataDir string, debugPort int, opts core.LaunchOptions) (*core.LaunchConfig, error) {
	cfg := buildCommon(core.EngineChromium, a.settings, profile, userDataDir, debugPort, opts)

	args := append([]string(nil), chromiumBaseline...)
	args = append(args, fmt.Sprintf("--window-size=%d,%d", cfg.WindowWidth, cfg.WindowHeight))
	if cfg.Locale != "" {
		args = append(args, "--lang="+cfg.Locale)
	}
	if cfg.UserAgent != "" {
		args = append(args, "--user-agent="+cfg.UserAgent)
	}
	if cfg.ProxyURL != "" {
		server, _, _, err := proxyParts(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrConfiguration, err)
		}
		args = append(args, "--proxy-server="+server)
	}
	if profile.Fingerprint.Enabled && profile.Fingerprint.WebRTCMode == core.WebRTCDisable {
		args = append(args, "--force-webrtc-ip-handling-policy=disable_non_proxied_udp")
	}

	cfg.Args = mergeArgs(args, opts.ExtraArgs)
	return cfg, nil
}

func (a *ChromiumAdapter) newLauncher(ctx context.Context, executablePath string, cfg *core.LaunchConfig) *launcher.Launcher {
	l := launcher.New().
		Context(ctx).
		Bin(executablePath).
		Leakless(false).
		UserDataDir(cfg.UserDataDir).
		RemoteDebuggingPort(cfg.DebugPort).
		Delete("enable-automation")

	if cfg.Headless {
		l.Set(flags.Headless, "new")
	} else {
		l.Headless(false)
	}

	for _, arg := range cfg.Args {
		name, value := flagName(arg)
		if value == "" {
			l.Set(flags.Flag(name))
		} else {
			l.Set(flags.Flag(name), value)
		}
	}

	if cfg.Timezone != "" {
		l.Env(append(os.Environ(), "TZ="+cfg.Timezone)...)
	}
	return l
}

func (a *ChromiumAdapter) Launch(ctx context.Context, executablePath string, cfg *core.LaunchConfig) (core.BrowserContext, error) {
	if err := os.MkdirAll(cfg.UserDataDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: failed to create user data dir: %v", core.ErrLaunch, err)
	}
	staging := filepath.Join(cfg.DownloadDir, ".incoming")
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return nil, fmt.Errorf("%w: failed to create download dir: %v", core.ErrLaunch, err)
	}

	l := a.newLauncher(ctx, executablePath, cfg)
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", core.ErrLaunch, executablePath, err)
	}

	b, ws, err := dial(ctx, controlURL)
	if err != nil {
		l.Kill()
		return nil, fmt.Errorf("%w: debug endpoint unreachable: %v", core.ErrLaunch, err)
	}

	err = proto.BrowserSetDownloadBehavior{
		Behavior:      proto.BrowserSetDownloadBehaviorBehaviorAllowAndName,
		DownloadPath:  staging,
		EventsEnabled: true,
	}.Call(b)
	if err != nil {
		a.logger.Warn("failed to enable download handling", zap.Error(err))
	}

	var auth *proxyAuth
	if cfg.ProxyURL != "" {
		if _, user, pass, err := proxyParts(cfg.ProxyURL); err == nil && user != "" {
			auth = &proxyAuth{username: user, password: pass}
		}
	}

	logger := a.logger.With(zap.String("user_data_dir", cfg.UserDataDir))
	bc := newRodContext(b, ws, l, controlURL, a.settings, NewDownloads(cfg.DownloadDir, logger), staging, auth, logger)

	page, err := bc.NewPage(ctx)
	if err != nil {
		_ = bc.Kill()
		return nil, fmt.Errorf("%w: failed to open first page: %v", core.ErrLaunch, err)
	}
	if cfg.StartURL != "" {
		if err := page.Navigate(ctx, cfg.StartURL, core.WaitLoad); err != nil {
			logger.Warn("start url did not load",
				zap.String("url", cfg.StartURL),
				zap.Error(err))
		}
	}

	logger.Info("browser launched",
		zap.String("endpoint", controlURL),
		zap.Int("pid", l.PID()),
		zap.Bool("headless", cfg.Headless))
	return bc, nil
}

// Connect attaches to a running chromium through a ws:// URL, an http
// debug address, or a bare port
func (a *ChromiumAdapter) Connect(ctx context.Context, endpoint string) (core.BrowserContext, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	controlURL := endpoint
	if !strings.HasPrefix(endpoint, "ws://") && !strings.HasPrefix(endpoint, "wss://") {
		u, err := launcher.ResolveURL(endpoint)
		if err != nil {
			return nil, fmt.Errorf("%w: debug endpoint unreachable: %v", core.ErrLaunch, err)
		}
		controlURL = u
	}

	b, ws, err := dial(ctx, controlURL)
	if err != nil {
		return nil, fmt.Errorf("%w: debug endpoint unreachable: %v", core.ErrLaunch, err)
	}
	return newRodContext(b, ws, nil, controlURL, a.settings, nil, "", nil, a.logger), nil
}

// dial connects to controlURL over a socket the context can drop later
// without closing the browser
func dial(ctx context.Context, controlURL string) (*rod.Browser, *cdp.WebSocket, error) {
	ws := &cdp.WebSocket{}
	if err := ws.Connect(ctx, controlURL, nil); err != nil {
		return nil, nil, err
	}
	b := rod.New().Client(cdp.New().Start(ws)).NoDefaultDevice()
	if err := b.Connect(); err != nil {
		_ = ws.Close()
		return nil, nil, err
	}
	return b, ws, nil
}

func (a *ChromiumAdapter) ApplyFingerprintProtection(ctx context.Context, bc core.BrowserContext, profile *core.Profile) (*core.InjectionResult, error) {
	return a.pipeline.Attach(ctx, bc, profile, rodstealth.JS, fingerprint.FamilySnippet(core.EngineChromium))
}

func asRod(bc core.BrowserContext) (*rodContext, error) {
	c, ok := bc.(*rodContext)
	if !ok {
		return nil, fmt.Errorf("%w: context is not chromium-family", core.ErrUnsupportedEngine)
	}
	return c, nil
}

// anyPage returns an open page, or a transient one the caller must release
func (c *rodContext) anyPage(ctx context.Context) (*rodPage, func(), error) {
	pages, err := c.Pages(ctx)
	if err != nil {
		return nil, nil, err
	}
	if len(pages) > 0 {
		return pages[0].(*rodPage), func() {}, nil
	}
	p, err := c.NewPage(ctx)
	if err != nil {
		return nil, nil, err
	}
	return p.(*rodPage), func() { _ = p.Close() }, nil
}

func (a *ChromiumAdapter) ClearCache(ctx context.Context, bc core.BrowserContext) error {
	c, err := asRod(bc)
	if err != nil {
		return err
	}
	page, release, err := c.anyPage(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := (proto.NetworkClearBrowserCache{}).Call(page.page.Context(ctx)); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	return nil
}

func (a *ChromiumAdapter) ClearCookies(ctx context.Context, bc core.BrowserContext, rawURL string) error {
	c, err := asRod(bc)
	if err != nil {
		return err
	}
	if rawURL == "" {
		if err := c.browser.Context(ctx).SetCookies(nil); err != nil {
			return fmt.Errorf("failed to clear cookies: %w", err)
		}
		return nil
	}

	cookies, err := c.Cookies(ctx, rawURL)
	if err != nil {
		return err
	}
	page, release, err := c.anyPage(ctx)
	if err != nil {
		return err
	}
	defer release()

	for _, cookie := range cookies {
		err := proto.NetworkDeleteCookies{
			Name:   cookie.Name,
			Domain: cookie.Domain,
			Path:   cookie.Path,
		}.Call(page.page.Context(ctx))
		if err != nil {
			return fmt.Errorf("failed to delete cookie %s: %w", cookie.Name, err)
		}
	}
	return nil
}

func (a *ChromiumAdapter) ClearLocalStorage(ctx context.Context, bc core.BrowserContext, rawURL string) error {
	c, err := asRod(bc)
	if err != nil {
		return err
	}
	origin, err := originOf(rawURL)
	if err != nil {
		return err
	}
	err = proto.StorageClearDataForOrigin{
		Origin:       origin,
		StorageTypes: "local_storage",
	}.Call(c.browser.Context(ctx))
	if err != nil {
		return fmt.Errorf("failed to clear local storage: %w", err)
	}
	return nil
}

func (a *ChromiumAdapter) CleanupUserData(userDataDir string) bool {
	return CleanupLocks(userDataDir)
}

func originOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid origin url %q", rawURL)
	}
	origin := u.Scheme + "://" + u.Hostname()
	if port := u.Port(); port != "" {
		if n, _ := strconv.Atoi(port); n > 0 {
			origin += ":" + port
		}
	}
	return origin, nil
}
