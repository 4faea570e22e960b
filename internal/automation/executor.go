package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"profile-launcher/internal/core"
	"profile-launcher/internal/fingerprint"
	"profile-launcher/internal/stealth"
)

// runEnv is what steps of one task execute against
type runEnv struct {
	taskID        string
	page          core.Page
	human         *stealth.Stealth
	vars          map[string]string
	postLoad      string
	stepTimeout   time.Duration
	screenshotDir string
	logger        *zap.Logger
}

func (env *runEnv) bound(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = env.stepTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

// execute runs one step and returns its output
func (env *runEnv) execute(ctx context.Context, index int, step Step) (string, error) {
	switch s := step.(type) {
	case NavigateStep:
		return env.navigate(ctx, s)
	case WaitStep:
		return "", env.wait(ctx, s)
	case InputStep:
		return "", env.input(ctx, s)
	case ClickStep:
		return "", env.click(ctx, s)
	case SelectStep:
		sctx, cancel := env.bound(ctx, s.Timeout)
		defer cancel()
		if err := env.page.WaitSelector(sctx, s.Selector, core.StateVisible); err != nil {
			return "", err
		}
		return s.Value, env.page.SelectOption(sctx, s.Selector, s.Value)
	case ScreenshotStep:
		return env.screenshot(ctx, index, s)
	case ExtractStep:
		return env.extract(ctx, s)
	case EvaluateStep:
		return env.evaluate(ctx, s)
	case ScrollStep:
		return "", env.scroll(ctx, s)
	default:
		return "", fmt.Errorf("%w: unhandled step %T", core.ErrInvalidScript, step)
	}
}

func (env *runEnv) navigate(ctx context.Context, s NavigateStep) (string, error) {
	nctx, cancel := env.bound(ctx, s.Timeout)
	defer cancel()

	if err := env.page.Navigate(nctx, s.URL, s.WaitUntil); err != nil {
		return "", err
	}
	if err := fingerprint.PostLoad(nctx, env.page, env.postLoad); err != nil {
		env.logger.Debug("post-load protection skipped", zap.Error(err))
	}
	return env.page.URL(), nil
}

func (env *runEnv) wait(ctx context.Context, s WaitStep) error {
	switch s.Mode {
	case WaitForTime:
		return stealth.Sleep(ctx, s.Duration)
	case WaitForNavigation:
		wctx, cancel := env.bound(ctx, s.Timeout)
		defer cancel()
		return env.page.WaitNavigation(wctx)
	default:
		wctx, cancel := env.bound(ctx, s.Timeout)
		defer cancel()
		return env.page.WaitSelector(wctx, s.Selector, s.State)
	}
}

func (env *runEnv) input(ctx context.Context, s InputStep) error {
	ictx, cancel := env.bound(ctx, s.Timeout)
	defer cancel()

	if err := env.page.WaitSelector(ictx, s.Selector, core.StateVisible); err != nil {
		return err
	}
	if s.ClearFirst {
		if err := env.page.Clear(ictx, s.Selector); err != nil {
			return err
		}
	}
	if !s.Humanize {
		return env.page.Fill(ictx, s.Selector, s.Value)
	}

	if err := env.page.Focus(ictx, s.Selector); err != nil {
		return err
	}
	if err := env.human.Pause(ctx); err != nil {
		return err
	}
	// typing runs on the step context; per-key delays would eat the wait budget
	return env.human.Type(ctx, env.page, s.Value)
}

func (env *runEnv) click(ctx context.Context, s ClickStep) error {
	cctx, cancel := env.bound(ctx, s.Timeout)
	defer cancel()

	if err := env.page.WaitSelector(cctx, s.Selector, core.StateVisible); err != nil {
		return err
	}
	if !s.Humanize {
		return env.page.Click(cctx, s.Selector)
	}

	box, err := env.page.BoundingBox(cctx, s.Selector)
	if err != nil {
		return err
	}
	return env.human.Click(ctx, env.page, box)
}

func (env *runEnv) screenshot(ctx context.Context, index int, s ScreenshotStep) (string, error) {
	sctx, cancel := env.bound(ctx, s.Timeout)
	defer cancel()

	data, err := env.page.Screenshot(sctx, s.FullPage, s.Format)
	if err != nil {
		return "", err
	}

	path := s.Path
	if path == "" {
		ext := "png"
		if s.Format == "jpeg" {
			ext = "jpg"
		}
		path = filepath.Join(env.screenshotDir, fmt.Sprintf("%s-%d.%s", env.taskID, index, ext))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create screenshot directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write screenshot: %w", err)
	}
	return path, nil
}

func (env *runEnv) extract(ctx context.Context, s ExtractStep) (string, error) {
	ectx, cancel := env.bound(ctx, s.Timeout)
	defer cancel()

	if err := env.page.WaitSelector(ectx, s.Selector, core.StateAttached); err != nil {
		return "", err
	}

	var (
		value string
		err   error
	)
	if s.Attribute != "" {
		value, err = env.page.Attribute(ectx, s.Selector, s.Attribute)
	} else {
		value, err = env.page.Text(ectx, s.Selector)
	}
	if err != nil {
		return "", err
	}
	if s.Variable != "" {
		env.vars[s.Variable] = value
	}
	return value, nil
}

func (env *runEnv) evaluate(ctx context.Context, s EvaluateStep) (string, error) {
	ectx, cancel := env.bound(ctx, s.Timeout)
	defer cancel()

	v, err := env.page.Evaluate(ectx, s.Expression)
	if err != nil {
		return "", err
	}
	switch val := v.(type) {
	case nil:
		return "", nil
	case string:
		return val, nil
	}
	out, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v), nil
	}
	return string(out), nil
}

func (env *runEnv) scroll(ctx context.Context, s ScrollStep) error {
	sctx, cancel := env.bound(ctx, s.Timeout)
	defer cancel()

	if s.Selector != "" {
		return env.page.ScrollIntoView(sctx, s.Selector)
	}
	if !s.Humanize {
		return env.page.ScrollTo(sctx, s.X, s.Y)
	}

	v, err := env.page.Evaluate(sctx, "[window.scrollX, window.scrollY]")
	if err != nil {
		return err
	}
	x, y := scrollOffsets(v)
	return env.human.Scroll(ctx, env.page, s.X-x, s.Y-y)
}

// scrollOffsets reads the [x, y] pair the engines return as a JSON array
func scrollOffsets(v interface{}) (int, int) {
	pair, ok := v.([]interface{})
	if !ok || len(pair) != 2 {
		return 0, 0
	}
	return toInt(pair[0]), toInt(pair[1])
}

func toInt(v interface{}) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	case string:
		i, _ := strconv.Atoi(n)
		return i
	}
	return 0
}
