package fingerprint

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"net/url"
	"strings"

	"profile-launcher/internal/core"
)

var (
	//go:embed js/prelude.js
	preludeJS string
	//go:embed js/automation.js
	automationJS string
	//go:embed js/navigator.js
	navigatorJS string
	//go:embed js/screen.js
	screenJS string
	//go:embed js/webgl.js
	webglJS string
	//go:embed js/canvas.js
	canvasJS string
	//go:embed js/webrtc.js
	webrtcJS string
	//go:embed js/fonts.js
	fontsJS string
	//go:embed js/audio.js
	audioJS string
	//go:embed js/plugins.js
	pluginsJS string
	//go:embed js/rects.js
	rectsJS string
	//go:embed js/chromium.js
	chromiumJS string
	//go:embed js/gecko.js
	geckoJS string
	//go:embed js/webkit.js
	webkitJS string
)

// only documents served over http(s) receive the overrides
const protocolGuard = "if (!/^https?:$/.test(location.protocol)) { return; }\n"

type payload struct {
	Seed                uint32   `json:"seed"`
	UserAgent           string   `json:"userAgent,omitempty"`
	Platform            string   `json:"platform"`
	Language            string   `json:"language"`
	Languages           []string `json:"languages"`
	Timezone            string   `json:"timezone,omitempty"`
	HardwareConcurrency int      `json:"hardwareConcurrency"`
	DeviceMemory        float64  `json:"deviceMemory"`
	MaxTouchPoints      int      `json:"maxTouchPoints"`
	DoNotTrack          bool     `json:"doNotTrack"`
	NoiseLevel          int      `json:"noiseLevel"`
	Screen              struct {
		Width            int     `json:"width"`
		Height           int     `json:"height"`
		AvailHeight      int     `json:"availHeight"`
		ColorDepth       int     `json:"colorDepth"`
		DevicePixelRatio float64 `json:"devicePixelRatio"`
	} `json:"screen"`
	WebGL struct {
		Vendor   string `json:"vendor"`
		Renderer string `json:"renderer"`
	} `json:"webgl"`
	WebRTC struct {
		Mode     core.WebRTCMode `json:"mode"`
		Excluded []string        `json:"excluded"`
	} `json:"webrtc"`
	Fonts struct {
		Allowed   []string `json:"allowed"`
		Randomize bool     `json:"randomize"`
	} `json:"fonts"`
}

func (c *Config) payload() []byte {
	p := payload{
		Seed:                c.Seed,
		Platform:            c.Platform,
		Language:            c.Language,
		Languages:           c.Languages,
		Timezone:            c.Timezone,
		HardwareConcurrency: c.HardwareConcurrency,
		DeviceMemory:        c.DeviceMemory,
		MaxTouchPoints:      c.MaxTouchPoints,
		DoNotTrack:          c.DoNotTrack,
		NoiseLevel:          c.NoiseLevel,
	}
	if c.Enabled {
		p.UserAgent = c.UserAgent
	}
	p.Screen.Width = c.ScreenWidth
	p.Screen.Height = c.ScreenHeight
	p.Screen.AvailHeight = c.AvailHeight
	p.Screen.ColorDepth = c.ColorDepth
	p.Screen.DevicePixelRatio = c.DevicePixelRatio
	p.WebGL.Vendor = c.WebGLVendor
	p.WebGL.Renderer = c.WebGLRenderer
	p.WebRTC.Mode = c.WebRTCMode
	p.WebRTC.Excluded = nonNil(c.WebRTCExcluded)
	p.Fonts.Allowed = nonNil(c.AllowedFonts)
	p.Fonts.Randomize = c.FontRandomize

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// a struct of strings, numbers and slices always encodes
	_ = enc.Encode(p)
	return bytes.TrimSpace(buf.Bytes())
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// FamilySnippet returns the engine-specific navigator touches
func FamilySnippet(family core.EngineFamily) string {
	switch family {
	case core.EngineChromium:
		return chromiumJS
	case core.EngineGecko:
		return geckoJS
	case core.EngineWebKit:
		return webkitJS
	default:
		return ""
	}
}

// Script builds the composite initialization script. extras are evaluated
// inside the protocol guard ahead of the profile overrides.
func (c *Config) Script(extras ...string) string {
	var b strings.Builder
	c.open(&b)

	for _, extra := range extras {
		if extra == "" {
			continue
		}
		b.WriteString("try {\n")
		b.WriteString(extra)
		b.WriteString("\n} catch (e) {}\n")
	}
	b.WriteString(automationJS)

	if c.Enabled {
		b.WriteString(navigatorJS)
		b.WriteString(screenJS)
		b.WriteString(webglJS)
		if c.CanvasNoise {
			b.WriteString(canvasJS)
		}
		if c.WebRTCMode != core.WebRTCReal {
			b.WriteString(webrtcJS)
		}
		b.WriteString(fontsJS)
		if c.AudioNoise {
			b.WriteString(audioJS)
		}
		if c.SpoofPlugins {
			b.WriteString(pluginsJS)
		}
		if c.RectNoise {
			b.WriteString(rectsJS)
		}
	}

	b.WriteString("})();\n")
	return b.String()
}

// PostLoadScript re-asserts the canvas and WebRTC overrides on a loaded
// page. Empty when neither is configured.
func (c *Config) PostLoadScript() string {
	if !c.Enabled || (!c.CanvasNoise && c.WebRTCMode == core.WebRTCReal) {
		return ""
	}
	var b strings.Builder
	c.open(&b)
	if c.CanvasNoise {
		b.WriteString(canvasJS)
	}
	if c.WebRTCMode != core.WebRTCReal {
		b.WriteString(webrtcJS)
	}
	b.WriteString("})();\n")
	return b.String()
}

func (c *Config) open(b *strings.Builder) {
	b.WriteString("(function () {\n")
	b.WriteString(protocolGuard)
	b.WriteString("const __fp = ")
	b.Write(c.payload())
	b.WriteString(";\n")
	b.WriteString(preludeJS)
}

// IsInternalURL reports whether raw is a browser-internal page that must not
// receive injected scripts
func IsInternalURL(raw string) bool {
	if raw == "" {
		return true
	}
	u, err := url.Parse(raw)
	if err != nil {
		return true
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return false
	default:
		return true
	}
}
