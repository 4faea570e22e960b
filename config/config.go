package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"profile-launcher/internal/core"
)

// EnvPrefix prefixes every environment override, e.g. PROFILE_LAUNCHER_PATHS_BASE_DIR
const EnvPrefix = "PROFILE_LAUNCHER"

// Load loads configuration from config.yaml and environment variables
func Load(configPath string) (*core.Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// no config file; defaults and env vars still apply
	}

	cfg := &core.Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("%w: config validation failed: %v", core.ErrConfiguration, err)
	}

	return cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Paths
	v.SetDefault("paths.base_dir", "data/profiles")
	v.SetDefault("paths.download_dir", "data/downloads")
	v.SetDefault("paths.scripts_dir", "data/scripts")
	v.SetDefault("paths.screenshot_dir", "data/screenshots")
	v.SetDefault("paths.database", "data/launcher.db")

	// Browser
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.default_start_url", "about:blank")
	v.SetDefault("browser.engine_priority", []string{})
	v.SetDefault("browser.executable_paths", map[string]string{})
	v.SetDefault("browser.connect_timeout", "10s")
	v.SetDefault("browser.navigation_timeout", "30s")
	v.SetDefault("browser.launch_timeout", "60s")
	v.SetDefault("browser.debug_port_base", 9222)

	// Automation
	v.SetDefault("automation.task_retention", "30m")
	v.SetDefault("automation.default_retry_delay", "1s")
	v.SetDefault("automation.humanize.typing_speed_min", 40)
	v.SetDefault("automation.humanize.typing_speed_max", 80)
	v.SetDefault("automation.humanize.typo_probability", 0.0) // form values stay exact
	v.SetDefault("automation.humanize.mouse_speed_min", 0.5)
	v.SetDefault("automation.humanize.mouse_speed_max", 1.5)
	v.SetDefault("automation.humanize.overshoot_chance", 0.3)
	v.SetDefault("automation.humanize.scroll_chunk_min", 50)
	v.SetDefault("automation.humanize.scroll_chunk_max", 200)
	v.SetDefault("automation.humanize.click_hold_min_ms", 50)
	v.SetDefault("automation.humanize.click_hold_max_ms", 150)

	// Governor
	v.SetDefault("governor.enabled", false)
	v.SetDefault("governor.max_instances", 10)
	v.SetDefault("governor.poll_interval", "30s")

	// Log
	v.SetDefault("log.development", false)
	v.SetDefault("log.level", "info")
}

var knownEngines = map[string]bool{
	string(core.EngineChromium): true,
	string(core.EngineGecko):    true,
	string(core.EngineWebKit):   true,
}

// validateConfig validates that required configuration fields are set
func validateConfig(cfg *core.Config) error {
	if cfg.Paths.BaseDir == "" {
		return fmt.Errorf("paths.base_dir is required")
	}
	if cfg.Paths.ScriptsDir == "" {
		return fmt.Errorf("paths.scripts_dir is required")
	}
	if cfg.Paths.Database == "" {
		return fmt.Errorf("paths.database is required")
	}
	if port := cfg.Browser.DebugPortBase; port < 1024 || port > 65000 {
		return fmt.Errorf("browser.debug_port_base must be between 1024 and 65000, got %d", port)
	}
	for _, family := range cfg.Browser.EnginePriority {
		if !knownEngines[family] {
			return fmt.Errorf("browser.engine_priority: unknown engine %q", family)
		}
	}
	for family := range cfg.Browser.ExecutablePaths {
		if !knownEngines[family] {
			return fmt.Errorf("browser.executable_paths: unknown engine %q", family)
		}
	}
	if cfg.Governor.Enabled && cfg.Governor.MaxInstances <= 0 {
		return fmt.Errorf("governor.max_instances must be positive when the governor is enabled")
	}
	h := cfg.Automation.Humanize
	if h.TypoProbability < 0 || h.TypoProbability > 1 {
		return fmt.Errorf("automation.humanize.typo_probability must be between 0 and 1")
	}
	if h.TypingSpeedMax < h.TypingSpeedMin {
		return fmt.Errorf("automation.humanize.typing_speed_max must not be below typing_speed_min")
	}
	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", cfg.Log.Level)
	}
	return nil
}
