package fingerprint

import (
	"math/rand"
	"strings"

	"profile-launcher/internal/core"
)

// common screen resolutions (width x height)
var screenResolutions = [][2]int{
	{1920, 1080},
	{2560, 1440},
	{1366, 768},
	{1440, 900},
	{1536, 864},
	{1680, 1050},
	{1600, 900},
	{1920, 1200},
}

var timezones = []string{
	"America/New_York",
	"America/Chicago",
	"America/Denver",
	"America/Los_Angeles",
	"Europe/London",
	"Europe/Berlin",
	"Europe/Paris",
	"Europe/Madrid",
}

type agent struct {
	UA       string
	Platform string
	Family   core.EngineFamily
}

var userAgents = []agent{
	{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36", "Win32", core.EngineChromium},
	{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36", "Win32", core.EngineChromium},
	{"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36", "MacIntel", core.EngineChromium},
	{"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36", "Linux x86_64", core.EngineChromium},
	{"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:133.0) Gecko/20100101 Firefox/133.0", "Win32", core.EngineGecko},
	{"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:133.0) Gecko/20100101 Firefox/133.0", "MacIntel", core.EngineGecko},
	{"Mozilla/5.0 (X11; Linux x86_64; rv:133.0) Gecko/20100101 Firefox/133.0", "Linux x86_64", core.EngineGecko},
	{"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.1 Safari/605.1.15", "MacIntel", core.EngineWebKit},
}

type glPair struct {
	Vendor   string
	Renderer string
}

var webGLByPlatform = map[string][]glPair{
	"Win32": {
		{"Google Inc. (NVIDIA)", "ANGLE (NVIDIA, NVIDIA GeForce RTX 3060 Direct3D11 vs_5_0 ps_5_0, D3D11)"},
		{"Google Inc. (NVIDIA)", "ANGLE (NVIDIA, NVIDIA GeForce GTX 1660 SUPER Direct3D11 vs_5_0 ps_5_0, D3D11)"},
		{"Google Inc. (Intel)", "ANGLE (Intel, Intel(R) UHD Graphics 770 Direct3D11 vs_5_0 ps_5_0, D3D11)"},
		{"Google Inc. (Intel)", "ANGLE (Intel, Intel(R) Iris(R) Xe Graphics Direct3D11 vs_5_0 ps_5_0, D3D11)"},
		{"Google Inc. (AMD)", "ANGLE (AMD, AMD Radeon RX 6600 Direct3D11 vs_5_0 ps_5_0, D3D11)"},
	},
	"MacIntel": {
		{"Google Inc. (Apple)", "ANGLE (Apple, ANGLE Metal Renderer: Apple M1, Unspecified Version)"},
		{"Google Inc. (Apple)", "ANGLE (Apple, ANGLE Metal Renderer: Apple M2, Unspecified Version)"},
		{"Google Inc. (Apple)", "ANGLE (Apple, ANGLE Metal Renderer: Apple M3 Pro, Unspecified Version)"},
	},
	"Linux x86_64": {
		{"Google Inc. (Intel)", "ANGLE (Intel, Mesa Intel(R) UHD Graphics 620 (KBL GT2), OpenGL 4.6)"},
		{"Google Inc. (AMD)", "ANGLE (AMD, AMD Radeon Graphics (radeonsi, renoir, LLVM 15.0.7), OpenGL 4.6)"},
	},
}

var languageSets = [][]string{
	{"en-US", "en"},
	{"en-US", "en", "es"},
	{"en-GB", "en"},
	{"de-DE", "de", "en"},
	{"fr-FR", "fr", "en"},
}

var (
	pixelRatios   = []float64{1, 1.25, 1.5, 2}
	concurrencies = []int{4, 6, 8, 12, 16}
	memories      = []int{4, 8, 16}
)

// Generate creates a random but internally consistent fingerprint. When
// family is set the user agent is drawn from that engine family.
func Generate(rng *rand.Rand, family core.EngineFamily) core.Fingerprint {
	pool := userAgents
	if family != "" {
		pool = nil
		for _, a := range userAgents {
			if a.Family == family {
				pool = append(pool, a)
			}
		}
		if len(pool) == 0 {
			pool = userAgents
		}
	}
	ua := pool[rng.Intn(len(pool))]
	screen := screenResolutions[rng.Intn(len(screenResolutions))]
	gls := webGLByPlatform[ua.Platform]
	gl := gls[rng.Intn(len(gls))]
	langs := languageSets[rng.Intn(len(languageSets))]

	ratio := pixelRatios[rng.Intn(len(pixelRatios))]
	if ua.Platform == "MacIntel" {
		ratio = 2
	}

	seed := rng.Uint32()
	if seed == 0 {
		seed = 1
	}

	return core.Fingerprint{
		Enabled:             true,
		UserAgent:           ua.UA,
		Platform:            ua.Platform,
		Language:            langs[0],
		Languages:           append([]string(nil), langs...),
		Timezone:            timezones[rng.Intn(len(timezones))],
		ScreenWidth:         screen[0],
		ScreenHeight:        screen[1],
		ColorDepth:          24,
		DevicePixelRatio:    ratio,
		WebGLVendor:         gl.Vendor,
		WebGLRenderer:       gl.Renderer,
		CanvasNoise:         true,
		CanvasNoiseLevel:    2 + rng.Intn(4),
		AudioNoise:          true,
		WebRTCMode:          core.WebRTCReplace,
		HardwareConcurrency: concurrencies[rng.Intn(len(concurrencies))],
		DeviceMemory:        memories[rng.Intn(len(memories))],
		MaxTouchPoints:      0,
		SpoofPlugins:        !strings.Contains(ua.UA, "Firefox"),
		ProtectionMode:      core.ProtectionStandard,
		Seed:                seed,
	}
}

// Regenerate produces a new fingerprint for the same engine family while
// keeping the operator's non-identity choices (protection mode, WebRTC
// policy, excluded addresses, font allow-list).
func Regenerate(rng *rand.Rand, family core.EngineFamily, old core.Fingerprint) core.Fingerprint {
	fp := Generate(rng, family)
	fp.Enabled = old.Enabled
	if old.ProtectionMode != "" {
		fp.ProtectionMode = old.ProtectionMode
	}
	if old.WebRTCMode != "" {
		fp.WebRTCMode = old.WebRTCMode
	}
	fp.WebRTCExcluded = append([]string(nil), old.WebRTCExcluded...)
	fp.AllowedFonts = append([]string(nil), old.AllowedFonts...)
	fp.FontRandomize = old.FontRandomize
	fp.DoNotTrack = old.DoNotTrack
	for fp.Seed == old.Seed {
		fp.Seed = rng.Uint32()
	}
	return fp
}
