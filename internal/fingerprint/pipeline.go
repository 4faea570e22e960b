package fingerprint

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"profile-launcher/internal/core"
)

const hookTimeout = 10 * time.Second

// Pipeline attaches a profile's composite script to a browsing context
type Pipeline struct {
	logger *zap.Logger
}

// NewPipeline creates a pipeline
func NewPipeline(logger *zap.Logger) *Pipeline {
	return &Pipeline{logger: logger.With(zap.String("component", "fingerprint"))}
}

// Attach registers the composite script on every current and future page of
// bc. extras are family-specific snippets evaluated ahead of the overrides.
func (p *Pipeline) Attach(ctx context.Context, bc core.BrowserContext, profile *core.Profile, extras ...string) (*core.InjectionResult, error) {
	cfg := Resolve(profile.ID, profile.Fingerprint)
	script := cfg.Script(extras...)

	if err := bc.AddInitScript(ctx, script); err != nil {
		return nil, fmt.Errorf("failed to add init script: %w", err)
	}

	// pages that start loading before the init script is registered on
	// their target still get the overrides once they are seen
	bc.OnNewPage(func(page core.Page) {
		if IsInternalURL(page.URL()) {
			return
		}
		hctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
		defer cancel()
		if _, err := page.Evaluate(hctx, script); err != nil {
			p.logger.Debug("new page injection failed",
				zap.String("profile_id", profile.ID),
				zap.String("url", page.URL()),
				zap.Error(err))
		}
	})

	p.logger.Info("fingerprint protection attached",
		zap.String("profile_id", profile.ID),
		zap.String("mode", string(cfg.Mode)),
		zap.Bool("enabled", cfg.Enabled),
		zap.String("webrtc", string(cfg.WebRTCMode)),
		zap.Int("script_bytes", len(script)))

	return &core.InjectionResult{
		Script:         script,
		PostLoadScript: cfg.PostLoadScript(),
	}, nil
}

// PostLoad re-asserts canvas and WebRTC overrides on a loaded page
func PostLoad(ctx context.Context, page core.Page, script string) error {
	if script == "" || IsInternalURL(page.URL()) {
		return nil
	}
	if _, err := page.Evaluate(ctx, script); err != nil {
		return fmt.Errorf("post-load protection failed: %w", err)
	}
	return nil
}
