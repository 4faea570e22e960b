package browser

import (
	"go.uber.org/zap"

	"profile-launcher/internal/core"
	"profile-launcher/internal/fingerprint"
)

// WebKitAdapter controls playwright's webkit build
type WebKitAdapter struct {
	playwrightAdapter
}

// NewWebKitAdapter creates the webkit-family adapter
func NewWebKitAdapter(runner *PlaywrightRunner, settings Settings, pipeline *fingerprint.Pipeline, logger *zap.Logger) *WebKitAdapter {
	return &WebKitAdapter{newPlaywrightAdapter(core.EngineWebKit, runner, settings, pipeline, logger)}
}

// BuildLaunchConfig has no preference file to write; everything travels as
// context options
func (a *WebKitAdapter) BuildLaunchConfig(profile *core.Profile, userDataDir string, debugPort int, opts core.LaunchOptions) (*core.LaunchConfig, error) {
	cfg := buildCommon(core.EngineWebKit, a.settings, profile, userDataDir, debugPort, opts)
	cfg.Args = mergeArgs(nil, opts.ExtraArgs)
	return cfg, nil
}
