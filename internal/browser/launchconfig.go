package browser

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"profile-launcher/internal/core"
	"profile-launcher/internal/fingerprint"
)

const (
	defaultWindowWidth  = 1280
	defaultWindowHeight = 800
)

// Settings holds the process-wide adapter configuration
type Settings struct {
	ExecutablePath    string
	DownloadRoot      string
	Headless          bool
	DefaultStartURL   string
	ConnectTimeout    time.Duration
	NavigationTimeout time.Duration
}

// SettingsFor extracts the adapter settings of family from the application config
func SettingsFor(cfg *core.Config, family core.EngineFamily) Settings {
	return Settings{
		ExecutablePath:    cfg.Browser.ExecutablePaths[string(family)],
		DownloadRoot:      cfg.Paths.DownloadDir,
		Headless:          cfg.Browser.Headless,
		DefaultStartURL:   cfg.Browser.DefaultStartURL,
		ConnectTimeout:    cfg.Browser.ConnectTimeout,
		NavigationTimeout: cfg.Browser.NavigationTimeout,
	}
}

func (s Settings) navigationTimeout() time.Duration {
	if s.NavigationTimeout <= 0 {
		return 30 * time.Second
	}
	return s.NavigationTimeout
}

func (s Settings) connectTimeout() time.Duration {
	if s.ConnectTimeout <= 0 {
		return 10 * time.Second
	}
	return s.ConnectTimeout
}

// ProxyURL encodes the profile proxy as one authenticated URL, empty when disabled
func ProxyURL(p core.Proxy) string {
	if !p.Enabled || p.Host == "" {
		return ""
	}
	scheme := strings.ToLower(p.Scheme)
	if scheme == "" {
		scheme = "http"
	}
	u := url.URL{Scheme: scheme, Host: p.Host}
	if p.Port > 0 {
		u.Host = net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
	}
	if p.Username != "" {
		u.User = url.UserPassword(p.Username, p.Password)
	}
	return u.String()
}

// proxyParts splits an authenticated proxy URL into server and credentials
func proxyParts(raw string) (server, username, password string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", "", fmt.Errorf("invalid proxy url: %w", err)
	}
	if u.User != nil {
		username = u.User.Username()
		password, _ = u.User.Password()
	}
	u.User = nil
	return u.String(), username, password, nil
}

// buildCommon derives the family-independent part of a launch configuration.
// Precedence for headless and start URL: request, profile, settings.
func buildCommon(family core.EngineFamily, s Settings, profile *core.Profile, userDataDir string, debugPort int, opts core.LaunchOptions) *core.LaunchConfig {
	fp := fingerprint.Resolve(profile.ID, profile.Fingerprint)

	cfg := &core.LaunchConfig{
		Family:      family,
		UserDataDir: userDataDir,
		DownloadDir: DownloadDir(s.DownloadRoot, profile.ID),
		DebugPort:   debugPort,
		Headless:    s.Headless,
		ProxyURL:    ProxyURL(profile.Proxy),
		Prefs:       map[string]interface{}{},
	}

	if profile.Startup.Headless != nil {
		cfg.Headless = *profile.Startup.Headless
	}
	if opts.Headless != nil {
		cfg.Headless = *opts.Headless
	}

	switch {
	case opts.StartURL != "":
		cfg.StartURL = opts.StartURL
	case profile.Startup.StartURL != "":
		cfg.StartURL = profile.Startup.StartURL
	default:
		cfg.StartURL = s.DefaultStartURL
	}

	if fp.Enabled {
		cfg.UserAgent = fp.UserAgent
		cfg.Locale = fp.Language
		cfg.Timezone = fp.Timezone
	}

	cfg.WindowWidth, cfg.WindowHeight = defaultWindowWidth, defaultWindowHeight
	if fp.Enabled && profile.Fingerprint.ScreenWidth > 0 && profile.Fingerprint.ScreenHeight > 0 {
		cfg.WindowWidth, cfg.WindowHeight = fp.ScreenWidth, fp.AvailHeight
	}
	if profile.Startup.WindowWidth > 0 && profile.Startup.WindowHeight > 0 {
		cfg.WindowWidth, cfg.WindowHeight = profile.Startup.WindowWidth, profile.Startup.WindowHeight
	}

	return cfg
}

// flagName returns the bare name and value of a "--name=value" argument
func flagName(arg string) (name, value string) {
	arg = strings.TrimLeft(arg, "-")
	name, value, _ = strings.Cut(arg, "=")
	return name, value
}

// mergeArgs appends extra to base, replacing base flags of the same name
func mergeArgs(base, extra []string) []string {
	index := make(map[string]int, len(base))
	out := append([]string(nil), base...)
	for i, a := range out {
		name, _ := flagName(a)
		index[name] = i
	}
	for _, a := range extra {
		name, _ := flagName(a)
		if i, ok := index[name]; ok {
			out[i] = a
			continue
		}
		index[name] = len(out)
		out = append(out, a)
	}
	return out
}
