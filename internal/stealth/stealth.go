package stealth

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"profile-launcher/internal/core"
)

// Stealth coordinates mouse, keyboard, jitter, and scroll components and
// drives them against a page. One instance serves one automation task.
type Stealth struct {
	mouse    *Mouse
	keyboard *Keyboard
	jitter   *Jitter
	scroll   *Scroll
	config   core.HumanizeConfig
	cursor   Point
}

// NewStealth creates a new Stealth instance with the given configuration
func NewStealth(config core.HumanizeConfig, seed int64) *Stealth {
	config = withDefaults(config)
	rng := rand.New(rand.NewSource(seed))
	return &Stealth{
		mouse: NewMouse(&MouseConfig{
			SpeedMin:        config.MouseSpeedMin,
			SpeedMax:        config.MouseSpeedMax,
			OvershootChance: config.OvershootChance,
		}, rng),
		keyboard: NewKeyboard(rng),
		jitter:   NewJitter(rng),
		scroll:   NewScroll(rng),
		config:   config,
	}
}

func withDefaults(c core.HumanizeConfig) core.HumanizeConfig {
	if c.TypingSpeedMin <= 0 {
		c.TypingSpeedMin = 40
	}
	if c.TypingSpeedMax < c.TypingSpeedMin {
		c.TypingSpeedMax = c.TypingSpeedMin + 30
	}
	if c.MouseSpeedMin <= 0 {
		c.MouseSpeedMin = 0.8
	}
	if c.MouseSpeedMax < c.MouseSpeedMin {
		c.MouseSpeedMax = c.MouseSpeedMin + 0.4
	}
	if c.ScrollChunkMin <= 0 {
		c.ScrollChunkMin = 80
	}
	if c.ScrollChunkMax < c.ScrollChunkMin {
		c.ScrollChunkMax = c.ScrollChunkMin + 120
	}
	if c.ClickHoldMinMs <= 0 {
		c.ClickHoldMinMs = 50
	}
	if c.ClickHoldMaxMs < c.ClickHoldMinMs {
		c.ClickHoldMaxMs = c.ClickHoldMinMs + 100
	}
	return c
}

// Type emits text one keystroke at a time into the focused element
func (s *Stealth) Type(ctx context.Context, page core.Page, text string) error {
	actions, err := s.keyboard.Actions(ctx, text, s.config.TypingSpeedMin, s.config.TypingSpeedMax, s.config.TypoProbability)
	if err != nil {
		return err
	}

	for _, a := range actions {
		switch a.Type {
		case ActionTypeKey:
			if err := page.TypeText(ctx, a.Key); err != nil {
				return fmt.Errorf("failed to type: %w", err)
			}
		case ActionTypeBackspace:
			if err := page.PressBackspace(ctx); err != nil {
				return fmt.Errorf("failed to press backspace: %w", err)
			}
		}
		if err := Sleep(ctx, a.Delay); err != nil {
			return err
		}
	}
	return nil
}

// Click moves the pointer along a curved path to a random point inside box
// and presses it with a randomized hold time
func (s *Stealth) Click(ctx context.Context, page core.Page, box core.Box) error {
	if box.Width <= 0 || box.Height <= 0 {
		return fmt.Errorf("element has empty bounding box")
	}

	target := s.mouse.PointIn(box)
	for _, p := range s.mouse.Path(s.cursor, target) {
		if err := page.MouseMove(ctx, p.X, p.Y); err != nil {
			return fmt.Errorf("failed to move mouse: %w", err)
		}
		if err := Sleep(ctx, s.mouse.StepDelay()); err != nil {
			return err
		}
	}
	s.cursor = target

	// brief hover before pressing
	if err := Sleep(ctx, s.jitter.Between(30*time.Millisecond, 120*time.Millisecond)); err != nil {
		return err
	}
	if err := page.MouseDown(ctx, target.X, target.Y); err != nil {
		return fmt.Errorf("failed to press mouse: %w", err)
	}
	hold := s.jitter.Between(
		time.Duration(s.config.ClickHoldMinMs)*time.Millisecond,
		time.Duration(s.config.ClickHoldMaxMs)*time.Millisecond,
	)
	// release even when ctx is done so the button is not left pressed
	_ = Sleep(ctx, hold)
	if err := page.MouseUp(context.WithoutCancel(ctx), target.X, target.Y); err != nil {
		return fmt.Errorf("failed to release mouse: %w", err)
	}
	return ctx.Err()
}

// Scroll wheels the page by dx, dy pixels in eased chunks
func (s *Stealth) Scroll(ctx context.Context, page core.Page, dx, dy int) error {
	for _, a := range s.scroll.Actions(dy, s.config.ScrollChunkMin, s.config.ScrollChunkMax) {
		if err := page.Wheel(ctx, 0, float64(a.Distance)); err != nil {
			return fmt.Errorf("failed to scroll: %w", err)
		}
		if err := Sleep(ctx, a.Delay); err != nil {
			return err
		}
	}
	for _, a := range s.scroll.Actions(dx, s.config.ScrollChunkMin, s.config.ScrollChunkMax) {
		if err := page.Wheel(ctx, float64(a.Distance), 0); err != nil {
			return fmt.Errorf("failed to scroll: %w", err)
		}
		if err := Sleep(ctx, a.Delay); err != nil {
			return err
		}
	}
	return nil
}

// Pause waits a short, human-looking interval between actions
func (s *Stealth) Pause(ctx context.Context) error {
	return Sleep(ctx, s.jitter.Gaussian(400*time.Millisecond, 150*time.Millisecond))
}
