package fingerprint

import (
	"strings"

	"profile-launcher/internal/core"
)

const (
	defaultLanguage     = "en-US"
	defaultScreenWidth  = 1920
	defaultScreenHeight = 1080
	defaultColorDepth   = 24
	defaultHardware     = 8
	defaultMemory       = 8
	defaultNoiseLevel   = 3
	defaultWebGLVendor  = "Google Inc. (Intel)"
	defaultWebGLRender  = "ANGLE (Intel, Intel(R) UHD Graphics 630 Direct3D11 vs_5_0 ps_5_0, D3D11)"
	taskbarHeight       = 40
)

// Config is the fully resolved fingerprint of one launch. It is never
// persisted; two resolutions of the same profile fingerprint are equal.
type Config struct {
	ProfileID string
	Enabled   bool
	Mode      core.ProtectionMode
	Seed      uint32

	UserAgent string
	Platform  string
	Language  string
	Languages []string
	Timezone  string

	ScreenWidth      int
	ScreenHeight     int
	AvailHeight      int
	ColorDepth       int
	DevicePixelRatio float64

	WebGLVendor   string
	WebGLRenderer string

	CanvasNoise bool
	NoiseLevel  int
	AudioNoise  bool
	RectNoise   bool

	WebRTCMode     core.WebRTCMode
	WebRTCExcluded []string

	HardwareConcurrency int
	DeviceMemory        float64
	MaxTouchPoints      int

	AllowedFonts  []string
	FontRandomize bool
	SpoofPlugins  bool
	DoNotTrack    bool
}

// Resolve computes the launch-time view of a profile fingerprint
func Resolve(profileID string, fp core.Fingerprint) *Config {
	cfg := &Config{
		ProfileID:           profileID,
		Enabled:             fp.Enabled,
		Mode:                fp.ProtectionMode,
		Seed:                fp.Seed,
		UserAgent:           fp.UserAgent,
		Platform:            fp.Platform,
		Language:            fp.Language,
		Timezone:            fp.Timezone,
		ScreenWidth:         fp.ScreenWidth,
		ScreenHeight:        fp.ScreenHeight,
		ColorDepth:          fp.ColorDepth,
		DevicePixelRatio:    fp.DevicePixelRatio,
		WebGLVendor:         fp.WebGLVendor,
		WebGLRenderer:       fp.WebGLRenderer,
		CanvasNoise:         fp.CanvasNoise,
		NoiseLevel:          fp.CanvasNoiseLevel,
		AudioNoise:          fp.AudioNoise,
		WebRTCMode:          fp.WebRTCMode,
		HardwareConcurrency: fp.HardwareConcurrency,
		MaxTouchPoints:      fp.MaxTouchPoints,
		FontRandomize:       fp.FontRandomize,
		SpoofPlugins:        fp.SpoofPlugins,
		DoNotTrack:          fp.DoNotTrack,
	}

	if cfg.Seed == 0 {
		cfg.Seed = FNV1a(profileID)
	}
	if cfg.Mode != core.ProtectionEnhanced {
		cfg.Mode = core.ProtectionStandard
	}
	if cfg.Language == "" {
		cfg.Language = defaultLanguage
	}
	cfg.Languages = resolveLanguages(cfg.Language, fp.Languages)
	if cfg.Platform == "" {
		cfg.Platform = platformFromUserAgent(cfg.UserAgent)
	}

	if cfg.ScreenWidth <= 0 || cfg.ScreenHeight <= 0 {
		cfg.ScreenWidth, cfg.ScreenHeight = defaultScreenWidth, defaultScreenHeight
	}
	cfg.AvailHeight = cfg.ScreenHeight - taskbarHeight
	if cfg.ColorDepth <= 0 {
		cfg.ColorDepth = defaultColorDepth
	}
	if cfg.DevicePixelRatio <= 0 {
		cfg.DevicePixelRatio = 1
	}

	if cfg.WebGLVendor == "" {
		cfg.WebGLVendor = defaultWebGLVendor
	}
	if cfg.WebGLRenderer == "" {
		cfg.WebGLRenderer = defaultWebGLRender
	}

	if cfg.HardwareConcurrency <= 0 {
		cfg.HardwareConcurrency = defaultHardware
	}
	cfg.DeviceMemory = resolveMemory(fp.DeviceMemory)
	if cfg.MaxTouchPoints < 0 {
		cfg.MaxTouchPoints = 0
	}

	switch cfg.WebRTCMode {
	case core.WebRTCReplace, core.WebRTCDisable:
	default:
		cfg.WebRTCMode = core.WebRTCReal
	}
	cfg.WebRTCExcluded = append([]string(nil), fp.WebRTCExcluded...)

	cfg.AllowedFonts = append([]string(nil), fp.AllowedFonts...)
	if len(cfg.AllowedFonts) == 0 {
		cfg.AllowedFonts = defaultFonts(cfg.Platform)
	}

	cfg.NoiseLevel = clamp(cfg.NoiseLevel, 1, 10, defaultNoiseLevel)

	if cfg.Mode == core.ProtectionEnhanced {
		cfg.CanvasNoise = true
		cfg.AudioNoise = true
		cfg.RectNoise = true
		cfg.SpoofPlugins = true
		cfg.FontRandomize = true
		if cfg.WebRTCMode == core.WebRTCReal {
			cfg.WebRTCMode = core.WebRTCReplace
		}
		cfg.NoiseLevel = clamp(cfg.NoiseLevel+2, 1, 10, defaultNoiseLevel)
	}

	return cfg
}

func resolveLanguages(primary string, langs []string) []string {
	out := make([]string, 0, len(langs)+2)
	seen := make(map[string]bool)
	add := func(l string) {
		l = strings.TrimSpace(l)
		if l == "" || seen[l] {
			return
		}
		seen[l] = true
		out = append(out, l)
	}
	add(primary)
	for _, l := range langs {
		add(l)
	}
	if len(langs) == 0 {
		if base, _, ok := strings.Cut(primary, "-"); ok {
			add(base)
		}
	}
	return out
}

func platformFromUserAgent(ua string) string {
	switch {
	case strings.Contains(ua, "Windows"):
		return "Win32"
	case strings.Contains(ua, "Macintosh"), strings.Contains(ua, "Mac OS X"):
		return "MacIntel"
	case strings.Contains(ua, "Linux"):
		return "Linux x86_64"
	default:
		return "Win32"
	}
}

// deviceMemory only ever reports a power of two between 0.25 and 8
func resolveMemory(gb int) float64 {
	if gb <= 0 {
		return defaultMemory
	}
	v := 0.25
	for v*2 <= float64(gb) && v < 8 {
		v *= 2
	}
	return v
}

func clamp(v, lo, hi, fallback int) int {
	if v == 0 {
		return fallback
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

var (
	windowsFonts = []string{
		"Arial", "Arial Black", "Calibri", "Cambria", "Candara", "Comic Sans MS", "Consolas",
		"Courier New", "Georgia", "Impact", "Lucida Console", "Segoe UI", "Tahoma",
		"Times New Roman", "Trebuchet MS", "Verdana",
	}
	macFonts = []string{
		"American Typewriter", "Arial", "Avenir", "Courier New", "Georgia", "Helvetica",
		"Helvetica Neue", "Menlo", "Monaco", "Palatino", "Times", "Times New Roman", "Verdana",
	}
	linuxFonts = []string{
		"DejaVu Sans", "DejaVu Sans Mono", "DejaVu Serif", "Liberation Mono", "Liberation Sans",
		"Liberation Serif", "Noto Sans", "Ubuntu",
	}
)

func defaultFonts(platform string) []string {
	switch {
	case strings.HasPrefix(platform, "Mac"):
		return append([]string(nil), macFonts...)
	case strings.HasPrefix(platform, "Linux"):
		return append([]string(nil), linuxFonts...)
	default:
		return append([]string(nil), windowsFonts...)
	}
}
