package browser

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"

	"github.com/go-rod/rod/lib/launcher"

	"profile-launcher/internal/core"
)

// chromiumCandidates is the fixed per-OS fallback list for chromium-family browsers
func chromiumCandidates(goos string) []string {
	switch goos {
	case "windows":
		var out []string
		for _, root := range []string{os.Getenv("ProgramFiles"), os.Getenv("ProgramFiles(x86)"), os.Getenv("LocalAppData")} {
			if root == "" {
				continue
			}
			out = append(out,
				filepath.Join(root, `Google\Chrome\Application\chrome.exe`),
				filepath.Join(root, `Chromium\Application\chrome.exe`),
				filepath.Join(root, `Microsoft\Edge\Application\msedge.exe`),
				filepath.Join(root, `BraveSoftware\Brave-Browser\Application\brave.exe`),
			)
		}
		return out
	case "darwin":
		return []string{
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
			"/Applications/Chromium.app/Contents/MacOS/Chromium",
			"/Applications/Microsoft Edge.app/Contents/MacOS/Microsoft Edge",
			"/Applications/Brave Browser.app/Contents/MacOS/Brave Browser",
		}
	default:
		return []string{
			"google-chrome",
			"google-chrome-stable",
			"chromium",
			"chromium-browser",
			"microsoft-edge",
			"brave-browser",
			"/usr/bin/google-chrome",
			"/usr/bin/chromium",
			"/snap/bin/chromium",
		}
	}
}

// playwrightBrowsersDir is where playwright keeps its patched engine builds
func playwrightBrowsersDir(goos string) string {
	if dir := os.Getenv("PLAYWRIGHT_BROWSERS_PATH"); dir != "" && dir != "0" {
		return dir
	}
	home, _ := os.UserHomeDir()
	switch goos {
	case "windows":
		return filepath.Join(os.Getenv("LocalAppData"), "ms-playwright")
	case "darwin":
		return filepath.Join(home, "Library", "Caches", "ms-playwright")
	default:
		return filepath.Join(home, ".cache", "ms-playwright")
	}
}

// playwrightCandidates lists installed playwright builds of family, newest first.
// Gecko and WebKit are only controllable through these patched builds.
func playwrightCandidates(family core.EngineFamily, goos string) []string {
	root := playwrightBrowsersDir(goos)

	var pattern string
	switch {
	case family == core.EngineGecko && goos == "windows":
		pattern = `firefox-*\firefox\firefox.exe`
	case family == core.EngineGecko && goos == "darwin":
		pattern = "firefox-*/firefox/Nightly.app/Contents/MacOS/firefox"
	case family == core.EngineGecko:
		pattern = "firefox-*/firefox/firefox"
	case family == core.EngineWebKit && goos == "windows":
		pattern = `webkit-*\Playwright.exe`
	case family == core.EngineWebKit:
		pattern = "webkit-*/pw_run.sh"
	default:
		return nil
	}

	matches, _ := filepath.Glob(filepath.Join(root, pattern))
	sort.Sort(sort.Reverse(sort.StringSlice(matches)))
	return matches
}

func isExecutable(p string) bool {
	if filepath.IsAbs(p) {
		info, err := os.Stat(p)
		return err == nil && !info.IsDir()
	}
	_, err := exec.LookPath(p)
	return err == nil
}

func resolvePath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	if full, err := exec.LookPath(p); err == nil {
		return full
	}
	return p
}

// locateExecutable tries the configured override, then the fixed fallback
// list, then (for chromium) rod's own lookup
func locateExecutable(family core.EngineFamily, override string) (string, error) {
	if override != "" {
		if isExecutable(override) {
			return resolvePath(override), nil
		}
		return "", fmt.Errorf("%w: %s override %q is not executable", core.ErrExecutableNotFound, family, override)
	}

	var candidates []string
	switch family {
	case core.EngineChromium:
		candidates = chromiumCandidates(runtime.GOOS)
	case core.EngineGecko, core.EngineWebKit:
		candidates = playwrightCandidates(family, runtime.GOOS)
	default:
		return "", fmt.Errorf("%w: %s", core.ErrUnsupportedEngine, family)
	}

	for _, c := range candidates {
		if isExecutable(c) {
			return resolvePath(c), nil
		}
	}

	if family == core.EngineChromium {
		if p, has := launcher.LookPath(); has {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %s", core.ErrExecutableNotFound, family)
}
