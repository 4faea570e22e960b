package automation

import (
	"fmt"
	"strings"
	"time"

	"profile-launcher/internal/core"
)

// Step is one decoded script action. The set of implementations is closed;
// Decode is the only constructor.
type Step interface {
	Kind() core.StepKind
	sealed()
}

// NavigateStep loads a URL
type NavigateStep struct {
	URL       string
	WaitUntil core.WaitUntil
	Timeout   time.Duration
}

// WaitMode selects which condition a WaitStep waits for
type WaitMode int

const (
	WaitForSelector WaitMode = iota
	WaitForTime
	WaitForNavigation
)

// WaitStep waits for a selector, a fixed time, or a navigation
type WaitStep struct {
	Mode     WaitMode
	Selector string
	State    core.ElementState
	Duration time.Duration
	Timeout  time.Duration
}

// InputStep writes a value into a form field
type InputStep struct {
	Selector   string
	Value      string
	ClearFirst bool
	Humanize   bool
	Timeout    time.Duration
}

// ClickStep clicks an element
type ClickStep struct {
	Selector string
	Humanize bool
	Timeout  time.Duration
}

// SelectStep picks an option of a select element
type SelectStep struct {
	Selector string
	Value    string
	Timeout  time.Duration
}

// ScreenshotStep captures the page to a file
type ScreenshotStep struct {
	Path     string
	FullPage bool
	Format   string
	Timeout  time.Duration
}

// ExtractStep reads text or an attribute, optionally into a variable
type ExtractStep struct {
	Selector  string
	Attribute string
	Variable  string
	Timeout   time.Duration
}

// EvaluateStep runs a script expression in the page
type EvaluateStep struct {
	Expression string
	Timeout    time.Duration
}

// ScrollStep scrolls an element into view or the window to a position
type ScrollStep struct {
	Selector string
	X, Y     int
	Humanize bool
	Timeout  time.Duration
}

func (NavigateStep) Kind() core.StepKind   { return core.StepNavigate }
func (WaitStep) Kind() core.StepKind       { return core.StepWait }
func (InputStep) Kind() core.StepKind      { return core.StepInput }
func (ClickStep) Kind() core.StepKind      { return core.StepClick }
func (SelectStep) Kind() core.StepKind     { return core.StepSelect }
func (ScreenshotStep) Kind() core.StepKind { return core.StepScreenshot }
func (ExtractStep) Kind() core.StepKind    { return core.StepExtract }
func (EvaluateStep) Kind() core.StepKind   { return core.StepEvaluate }
func (ScrollStep) Kind() core.StepKind     { return core.StepScroll }

func (NavigateStep) sealed()   {}
func (WaitStep) sealed()       {}
func (InputStep) sealed()      {}
func (ClickStep) sealed()      {}
func (SelectStep) sealed()     {}
func (ScreenshotStep) sealed() {}
func (ExtractStep) sealed()    {}
func (EvaluateStep) sealed()   {}
func (ScrollStep) sealed()     {}

func millis(ms int) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", core.ErrInvalidScript, fmt.Sprintf(format, args...))
}

// Decode turns the serialized form of a step into its typed variant
func Decode(spec core.StepSpec) (Step, error) {
	timeout := millis(spec.Timeout)

	switch spec.Type {
	case core.StepNavigate:
		if spec.URL == "" {
			return nil, invalid("navigate needs a url")
		}
		wait := core.WaitLoad
		switch strings.ToLower(spec.WaitUntil) {
		case "", "load":
		case "domcontentloaded":
			wait = core.WaitDOMContentLoaded
		case "networkidle":
			wait = core.WaitNetworkIdle
		default:
			return nil, invalid("unknown waitUntil %q", spec.WaitUntil)
		}
		return NavigateStep{URL: spec.URL, WaitUntil: wait, Timeout: timeout}, nil

	case core.StepWait:
		switch {
		case spec.Selector != "":
			state := core.StateVisible
			switch strings.ToLower(spec.State) {
			case "", "visible":
			case "attached":
				state = core.StateAttached
			default:
				return nil, invalid("unknown wait state %q", spec.State)
			}
			return WaitStep{Mode: WaitForSelector, Selector: spec.Selector, State: state, Timeout: timeout}, nil
		case spec.Time > 0:
			return WaitStep{Mode: WaitForTime, Duration: millis(spec.Time), Timeout: timeout}, nil
		case spec.Navigation:
			return WaitStep{Mode: WaitForNavigation, Timeout: timeout}, nil
		}
		return nil, invalid("wait needs a selector, a time, or navigation")

	case core.StepInput:
		if spec.Selector == "" {
			return nil, invalid("input needs a selector")
		}
		return InputStep{
			Selector:   spec.Selector,
			Value:      spec.Value,
			ClearFirst: spec.ClearFirst,
			Humanize:   spec.Humanize,
			Timeout:    timeout,
		}, nil

	case core.StepClick:
		if spec.Selector == "" {
			return nil, invalid("click needs a selector")
		}
		return ClickStep{Selector: spec.Selector, Humanize: spec.Humanize, Timeout: timeout}, nil

	case core.StepSelect:
		if spec.Selector == "" {
			return nil, invalid("select needs a selector")
		}
		return SelectStep{Selector: spec.Selector, Value: spec.Value, Timeout: timeout}, nil

	case core.StepScreenshot:
		format := strings.ToLower(spec.Format)
		switch format {
		case "":
			format = "png"
		case "png", "jpeg":
		case "jpg":
			format = "jpeg"
		default:
			return nil, invalid("unknown screenshot format %q", spec.Format)
		}
		return ScreenshotStep{Path: spec.Path, FullPage: spec.FullPage, Format: format, Timeout: timeout}, nil

	case core.StepExtract:
		if spec.Selector == "" {
			return nil, invalid("extract needs a selector")
		}
		return ExtractStep{
			Selector:  spec.Selector,
			Attribute: spec.Attribute,
			Variable:  spec.Variable,
			Timeout:   timeout,
		}, nil

	case core.StepEvaluate:
		if strings.TrimSpace(spec.Expression) == "" {
			return nil, invalid("evaluate needs an expression")
		}
		return EvaluateStep{Expression: spec.Expression, Timeout: timeout}, nil

	case core.StepScroll:
		step := ScrollStep{Selector: spec.Selector, Humanize: spec.Humanize, Timeout: timeout}
		if step.Selector == "" {
			if spec.X == nil && spec.Y == nil {
				return nil, invalid("scroll needs a selector or a position")
			}
			if spec.X != nil {
				step.X = *spec.X
			}
			if spec.Y != nil {
				step.Y = *spec.Y
			}
		}
		return step, nil
	}

	return nil, invalid("unknown step type %q", spec.Type)
}

// Validate decodes every step of script and reports the first problem
func Validate(script *core.Script) error {
	if len(script.Steps) == 0 {
		return invalid("script %q has no steps", script.ID)
	}
	for i, spec := range script.Steps {
		if _, err := Decode(spec); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
	}
	switch script.ErrorHandling.OnError {
	case "", core.OnErrorRetry, core.OnErrorAbort, core.OnErrorContinue:
	default:
		return invalid("unknown onError %q", script.ErrorHandling.OnError)
	}
	switch script.ErrorHandling.AfterRetries {
	case "", core.OnErrorAbort, core.OnErrorContinue:
	default:
		return invalid("afterRetries must be abort or continue, got %q", script.ErrorHandling.AfterRetries)
	}
	if script.ErrorHandling.MaxRetries < 0 {
		return invalid("maxRetries must not be negative")
	}
	return nil
}
