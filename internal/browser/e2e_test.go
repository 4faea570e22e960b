package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"profile-launcher/internal/core"
	"profile-launcher/internal/fingerprint"
)

// TestChromiumLaunchE2E drives a real chromium. Set PROFILE_LAUNCHER_E2E=1 to run it.
func TestChromiumLaunchE2E(t *testing.T) {
	if os.Getenv("PROFILE_LAUNCHER_E2E") != "1" {
		t.Skip("PROFILE_LAUNCHER_E2E not set")
	}

	logger := zap.NewNop()
	root := t.TempDir()
	a := NewChromiumAdapter(Settings{DownloadRoot: filepath.Join(root, "downloads"), Headless: true},
		fingerprint.NewPipeline(logger), logger)

	exe, err := a.LocateExecutable()
	if err != nil {
		t.Skipf("chromium not installed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	profile := testProfile()
	port, err := FreePort(9400)
	require.NoError(t, err)

	cfg, err := a.BuildLaunchConfig(profile, filepath.Join(root, "chromium_profile-a"), port,
		core.LaunchOptions{StartURL: "https://example.com"})
	require.NoError(t, err)

	bc, err := a.Launch(ctx, exe, cfg)
	require.NoError(t, err)
	defer bc.Kill()

	res, err := a.ApplyFingerprintProtection(ctx, bc, profile)
	require.NoError(t, err)
	assert.Contains(t, res.Script, profile.Fingerprint.UserAgent)

	pages, err := bc.Pages(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, pages)
	assert.Contains(t, pages[0].URL(), "example.com")

	ua, err := pages[0].Evaluate(ctx, "navigator.userAgent")
	require.NoError(t, err)
	assert.Equal(t, profile.Fingerprint.UserAgent, ua)

	require.NoError(t, bc.Close(ctx))
	select {
	case <-bc.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("context did not report closure")
	}
}

// TestChromiumPopupProtectedFromFirstScript opens a target=_blank popup and
// reads a value its first inline script captured while parsing.
func TestChromiumPopupProtectedFromFirstScript(t *testing.T) {
	if os.Getenv("PROFILE_LAUNCHER_E2E") != "1" {
		t.Skip("PROFILE_LAUNCHER_E2E not set")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><a id="pop" href="/popup" target="_blank">open</a></body></html>`)
	})
	mux.HandleFunc("/popup", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><script>window.__early = navigator.hardwareConcurrency;</script></head></html>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	logger := zap.NewNop()
	root := t.TempDir()
	a := NewChromiumAdapter(Settings{DownloadRoot: filepath.Join(root, "downloads"), Headless: true},
		fingerprint.NewPipeline(logger), logger)
	exe, err := a.LocateExecutable()
	if err != nil {
		t.Skipf("chromium not installed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	profile := testProfile()
	profile.Fingerprint.HardwareConcurrency = 3
	port, err := FreePort(9450)
	require.NoError(t, err)

	cfg, err := a.BuildLaunchConfig(profile, filepath.Join(root, "chromium_profile-a"), port,
		core.LaunchOptions{StartURL: srv.URL})
	require.NoError(t, err)
	bc, err := a.Launch(ctx, exe, cfg)
	require.NoError(t, err)
	defer bc.Kill()

	_, err = a.ApplyFingerprintProtection(ctx, bc, profile)
	require.NoError(t, err)

	pages, err := bc.Pages(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, pages)
	require.NoError(t, pages[0].Click(ctx, "#pop"))

	var popup core.Page
	require.Eventually(t, func() bool {
		pages, err := bc.Pages(ctx)
		if err != nil {
			return false
		}
		for _, p := range pages {
			if strings.HasSuffix(p.URL(), "/popup") {
				popup = p
				return true
			}
		}
		return false
	}, 10*time.Second, 100*time.Millisecond)

	early, err := popup.Evaluate(ctx, "window.__early")
	require.NoError(t, err)
	assert.EqualValues(t, 3, early)
}
