package browser

import (
	"strings"

	"go.uber.org/zap"

	"profile-launcher/internal/core"
	"profile-launcher/internal/fingerprint"
)

// GeckoAdapter controls playwright's firefox build
type GeckoAdapter struct {
	playwrightAdapter
}

// NewGeckoAdapter creates the gecko-family adapter
func NewGeckoAdapter(runner *PlaywrightRunner, settings Settings, pipeline *fingerprint.Pipeline, logger *zap.Logger) *GeckoAdapter {
	return &GeckoAdapter{newPlaywrightAdapter(core.EngineGecko, runner, settings, pipeline, logger)}
}

// geckoBaseline quiets first-run UI and telemetry and hides webdriver
var geckoBaseline = map[string]interface{}{
	"dom.webdriver.enabled":                      false,
	"browser.shell.checkDefaultBrowser":          false,
	"browser.aboutwelcome.enabled":               false,
	"browser.startup.homepage_override.mstone":   "ignore",
	"datareporting.policy.dataSubmissionEnabled": false,
	"toolkit.telemetry.enabled":                  false,
	"toolkit.telemetry.reportingpolicy.firstRun": false,
	"browser.download.folderList":                2,
	"browser.download.useDownloadDir":            true,
	"browser.download.manager.showWhenStarting":  false,
}

func (a *GeckoAdapter) BuildLaunchConfig(profile *core.Profile, userDataDir string, debugPort int, opts core.LaunchOptions) (*core.LaunchConfig, error) {
	cfg := buildCommon(core.EngineGecko, a.settings, profile, userDataDir, debugPort, opts)

	for k, v := range geckoBaseline {
		cfg.Prefs[k] = v
	}
	cfg.Prefs["browser.download.dir"] = cfg.DownloadDir

	if cfg.UserAgent != "" {
		cfg.Prefs["general.useragent.override"] = cfg.UserAgent
	}
	if profile.Fingerprint.Enabled {
		fp := fingerprint.Resolve(profile.ID, profile.Fingerprint)
		cfg.Prefs["intl.accept_languages"] = strings.Join(fp.Languages, ",")

		switch fp.WebRTCMode {
		case core.WebRTCDisable:
			cfg.Prefs["media.peerconnection.enabled"] = false
		case core.WebRTCReplace:
			cfg.Prefs["media.peerconnection.ice.default_address_only"] = true
			cfg.Prefs["media.peerconnection.ice.no_host"] = true
		}
	}

	cfg.Args = mergeArgs(nil, opts.ExtraArgs)
	return cfg, nil
}
