package browser

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"

	"profile-launcher/internal/core"
)

// rodPage drives one chromium tab through CDP input events
type rodPage struct {
	page     *rod.Page
	settings Settings

	mu     sync.Mutex
	mouseX float64
	mouseY float64
}

func newRodPage(page *rod.Page, settings Settings) *rodPage {
	return &rodPage{page: page, settings: settings}
}

// with binds ctx to the page, adding the navigation timeout when ctx has no deadline
func (p *rodPage) with(ctx context.Context) (*rod.Page, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return p.page.Context(ctx), func() {}
	}
	ctx, cancel := context.WithTimeout(ctx, p.settings.navigationTimeout())
	return p.page.Context(ctx), cancel
}

func (p *rodPage) element(pg *rod.Page, selector string) (*rod.Element, error) {
	el, err := pg.Element(selector)
	if err != nil {
		return nil, fmt.Errorf("element not found: %s: %w", selector, err)
	}
	return el, nil
}

func (p *rodPage) URL() string {
	info, err := p.page.Timeout(2 * time.Second).Info()
	if err != nil {
		return ""
	}
	return info.URL
}

func (p *rodPage) Navigate(ctx context.Context, url string, waitUntil core.WaitUntil) error {
	pg, cancel := p.with(ctx)
	defer cancel()

	var wait func()
	switch waitUntil {
	case core.WaitDOMContentLoaded:
		wait = pg.WaitNavigation(proto.PageLifecycleEventNameDOMContentLoaded)
	case core.WaitNetworkIdle:
		wait = pg.WaitNavigation(proto.PageLifecycleEventNameNetworkIdle)
	}

	if err := pg.Navigate(url); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}

	if wait != nil {
		wait()
		return pg.GetContext().Err()
	}
	if err := pg.WaitLoad(); err != nil {
		return fmt.Errorf("failed to wait for page load: %w", err)
	}
	return nil
}

func (p *rodPage) WaitSelector(ctx context.Context, selector string, state core.ElementState) error {
	pg, cancel := p.with(ctx)
	defer cancel()

	el, err := p.element(pg, selector)
	if err != nil {
		return err
	}
	if state == core.StateAttached {
		return nil
	}
	if err := el.WaitVisible(); err != nil {
		return fmt.Errorf("element not visible: %s: %w", selector, err)
	}
	return nil
}

func (p *rodPage) WaitNavigation(ctx context.Context) error {
	pg, cancel := p.with(ctx)
	defer cancel()

	pg.WaitNavigation(proto.PageLifecycleEventNameLoad)()
	if err := pg.GetContext().Err(); err != nil {
		return fmt.Errorf("navigation did not happen: %w", err)
	}
	return nil
}

func (p *rodPage) Fill(ctx context.Context, selector, value string) error {
	pg, cancel := p.with(ctx)
	defer cancel()

	el, err := p.element(pg, selector)
	if err != nil {
		return err
	}
	if err := el.SelectAllText(); err != nil {
		return fmt.Errorf("failed to select text: %w", err)
	}
	if err := el.Input(value); err != nil {
		return fmt.Errorf("failed to input value: %w", err)
	}
	return nil
}

func (p *rodPage) Clear(ctx context.Context, selector string) error {
	pg, cancel := p.with(ctx)
	defer cancel()

	el, err := p.element(pg, selector)
	if err != nil {
		return err
	}
	if err := el.SelectAllText(); err != nil {
		return fmt.Errorf("failed to select text: %w", err)
	}
	if err := pg.Keyboard.Type(input.Backspace); err != nil {
		return fmt.Errorf("failed to clear: %w", err)
	}
	return nil
}

func (p *rodPage) Focus(ctx context.Context, selector string) error {
	pg, cancel := p.with(ctx)
	defer cancel()

	el, err := p.element(pg, selector)
	if err != nil {
		return err
	}
	if err := el.Focus(); err != nil {
		return fmt.Errorf("failed to focus: %w", err)
	}
	return nil
}

// TypeText emits one key down/up pair per character. rod's key table only
// covers a US layout, so text is sent on the event rather than as a key code.
func (p *rodPage) TypeText(ctx context.Context, text string) error {
	pg, cancel := p.with(ctx)
	defer cancel()

	for _, r := range text {
		ch := string(r)
		err := proto.InputDispatchKeyEvent{
			Type:           proto.InputDispatchKeyEventTypeKeyDown,
			Text:           ch,
			UnmodifiedText: ch,
			Key:            ch,
		}.Call(pg)
		if err != nil {
			return fmt.Errorf("failed to type key: %w", err)
		}
		err = proto.InputDispatchKeyEvent{
			Type: proto.InputDispatchKeyEventTypeKeyUp,
			Key:  ch,
		}.Call(pg)
		if err != nil {
			return fmt.Errorf("failed to release key: %w", err)
		}
	}
	return nil
}

func (p *rodPage) PressBackspace(ctx context.Context) error {
	pg, cancel := p.with(ctx)
	defer cancel()

	if err := pg.Keyboard.Type(input.Backspace); err != nil {
		return fmt.Errorf("failed to press backspace: %w", err)
	}
	return nil
}

func (p *rodPage) BoundingBox(ctx context.Context, selector string) (core.Box, error) {
	pg, cancel := p.with(ctx)
	defer cancel()

	el, err := p.element(pg, selector)
	if err != nil {
		return core.Box{}, err
	}
	if err := el.ScrollIntoView(); err != nil {
		return core.Box{}, fmt.Errorf("failed to scroll into view: %w", err)
	}
	shape, err := el.Shape()
	if err != nil {
		return core.Box{}, fmt.Errorf("failed to get element shape: %w", err)
	}
	rect := shape.Box()
	if rect == nil {
		return core.Box{}, fmt.Errorf("element has no layout box: %s", selector)
	}
	return core.Box{X: rect.X, Y: rect.Y, Width: rect.Width, Height: rect.Height}, nil
}

func (p *rodPage) dispatchMouse(ctx context.Context, typ proto.InputDispatchMouseEventType, x, y float64) error {
	pg, cancel := p.with(ctx)
	defer cancel()

	ev := proto.InputDispatchMouseEvent{Type: typ, X: x, Y: y}
	if typ != proto.InputDispatchMouseEventTypeMouseMoved {
		ev.Button = proto.InputMouseButtonLeft
		ev.ClickCount = 1
	}
	if err := ev.Call(pg); err != nil {
		return err
	}

	p.mu.Lock()
	p.mouseX, p.mouseY = x, y
	p.mu.Unlock()
	return nil
}

func (p *rodPage) MouseMove(ctx context.Context, x, y float64) error {
	return p.dispatchMouse(ctx, proto.InputDispatchMouseEventTypeMouseMoved, x, y)
}

func (p *rodPage) MouseDown(ctx context.Context, x, y float64) error {
	return p.dispatchMouse(ctx, proto.InputDispatchMouseEventTypeMousePressed, x, y)
}

func (p *rodPage) MouseUp(ctx context.Context, x, y float64) error {
	return p.dispatchMouse(ctx, proto.InputDispatchMouseEventTypeMouseReleased, x, y)
}

func (p *rodPage) Click(ctx context.Context, selector string) error {
	pg, cancel := p.with(ctx)
	defer cancel()

	el, err := p.element(pg, selector)
	if err != nil {
		return err
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("failed to click %s: %w", selector, err)
	}
	return nil
}

func (p *rodPage) SelectOption(ctx context.Context, selector, value string) error {
	pg, cancel := p.with(ctx)
	defer cancel()

	el, err := p.element(pg, selector)
	if err != nil {
		return err
	}
	byValue := "[value=" + strconv.Quote(value) + "]"
	if err := el.Select([]string{byValue}, true, rod.SelectorTypeCSSSector); err == nil {
		return nil
	}
	if err := el.Select([]string{value}, true, rod.SelectorTypeText); err != nil {
		return fmt.Errorf("no option %q in %s: %w", value, selector, err)
	}
	return nil
}

func (p *rodPage) Screenshot(ctx context.Context, fullPage bool, format string) ([]byte, error) {
	pg, cancel := p.with(ctx)
	defer cancel()

	req := &proto.PageCaptureScreenshot{Format: proto.PageCaptureScreenshotFormatPng}
	if format == "jpeg" || format == "jpg" {
		req.Format = proto.PageCaptureScreenshotFormatJpeg
	}
	data, err := pg.Screenshot(fullPage, req)
	if err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return data, nil
}

func (p *rodPage) Text(ctx context.Context, selector string) (string, error) {
	pg, cancel := p.with(ctx)
	defer cancel()

	el, err := p.element(pg, selector)
	if err != nil {
		return "", err
	}
	return el.Text()
}

func (p *rodPage) Attribute(ctx context.Context, selector, name string) (string, error) {
	pg, cancel := p.with(ctx)
	defer cancel()

	el, err := p.element(pg, selector)
	if err != nil {
		return "", err
	}
	v, err := el.Attribute(name)
	if err != nil {
		return "", fmt.Errorf("failed to read attribute %s: %w", name, err)
	}
	if v == nil {
		return "", nil
	}
	return *v, nil
}

// Evaluate runs expression in the page's main world, awaiting promises
func (p *rodPage) Evaluate(ctx context.Context, expression string) (interface{}, error) {
	pg, cancel := p.with(ctx)
	defer cancel()

	res, err := proto.RuntimeEvaluate{
		Expression:    expression,
		ReturnByValue: true,
		AwaitPromise:  true,
	}.Call(pg)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate: %w", err)
	}
	if res.ExceptionDetails != nil {
		msg := res.ExceptionDetails.Text
		if ex := res.ExceptionDetails.Exception; ex != nil && ex.Description != "" {
			msg = ex.Description
		}
		return nil, fmt.Errorf("script error: %s", msg)
	}
	if res.Result == nil {
		return nil, nil
	}
	return res.Result.Value.Val(), nil
}

func (p *rodPage) ScrollTo(ctx context.Context, x, y int) error {
	_, err := p.Evaluate(ctx, fmt.Sprintf("window.scrollTo(%d, %d)", x, y))
	return err
}

func (p *rodPage) ScrollIntoView(ctx context.Context, selector string) error {
	pg, cancel := p.with(ctx)
	defer cancel()

	el, err := p.element(pg, selector)
	if err != nil {
		return err
	}
	return el.ScrollIntoView()
}

func (p *rodPage) Wheel(ctx context.Context, deltaX, deltaY float64) error {
	pg, cancel := p.with(ctx)
	defer cancel()

	p.mu.Lock()
	x, y := p.mouseX, p.mouseY
	p.mu.Unlock()

	return proto.InputDispatchMouseEvent{
		Type:   proto.InputDispatchMouseEventTypeMouseWheel,
		X:      x,
		Y:      y,
		DeltaX: deltaX,
		DeltaY: deltaY,
	}.Call(pg)
}

func (p *rodPage) Close() error {
	return p.page.Close()
}
