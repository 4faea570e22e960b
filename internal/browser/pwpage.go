package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"

	"profile-launcher/internal/core"
)

// pwPage drives one gecko/webkit tab through playwright
type pwPage struct {
	page     playwright.Page
	settings Settings
}

func newPWPage(page playwright.Page, settings Settings) *pwPage {
	return &pwPage{page: page, settings: settings}
}

// timeout converts the remaining ctx budget to playwright milliseconds
func (p *pwPage) timeout(ctx context.Context) (*float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d := p.settings.navigationTimeout()
	if deadline, ok := ctx.Deadline(); ok {
		d = time.Until(deadline)
		if d <= 0 {
			return nil, context.DeadlineExceeded
		}
	}
	return playwright.Float(float64(d.Milliseconds())), nil
}

func (p *pwPage) URL() string {
	return p.page.URL()
}

func (p *pwPage) Navigate(ctx context.Context, url string, waitUntil core.WaitUntil) error {
	t, err := p.timeout(ctx)
	if err != nil {
		return err
	}
	state := playwright.WaitUntilStateLoad
	switch waitUntil {
	case core.WaitDOMContentLoaded:
		state = playwright.WaitUntilStateDomcontentloaded
	case core.WaitNetworkIdle:
		state = playwright.WaitUntilStateNetworkidle
	}
	if _, err := p.page.Goto(url, playwright.PageGotoOptions{WaitUntil: state, Timeout: t}); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

func (p *pwPage) WaitSelector(ctx context.Context, selector string, state core.ElementState) error {
	t, err := p.timeout(ctx)
	if err != nil {
		return err
	}
	s := playwright.WaitForSelectorStateVisible
	if state == core.StateAttached {
		s = playwright.WaitForSelectorStateAttached
	}
	if _, err := p.page.WaitForSelector(selector, playwright.PageWaitForSelectorOptions{State: s, Timeout: t}); err != nil {
		return fmt.Errorf("element not found: %s: %w", selector, err)
	}
	return nil
}

func (p *pwPage) WaitNavigation(ctx context.Context) error {
	t, err := p.timeout(ctx)
	if err != nil {
		return err
	}
	if _, err := p.page.WaitForEvent("framenavigated", playwright.PageWaitForEventOptions{Timeout: t}); err != nil {
		return fmt.Errorf("navigation did not happen: %w", err)
	}
	return p.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{State: playwright.LoadStateLoad, Timeout: t})
}

func (p *pwPage) Fill(ctx context.Context, selector, value string) error {
	t, err := p.timeout(ctx)
	if err != nil {
		return err
	}
	if err := p.page.Fill(selector, value, playwright.PageFillOptions{Timeout: t}); err != nil {
		return fmt.Errorf("failed to input value: %w", err)
	}
	return nil
}

func (p *pwPage) Clear(ctx context.Context, selector string) error {
	return p.Fill(ctx, selector, "")
}

func (p *pwPage) Focus(ctx context.Context, selector string) error {
	t, err := p.timeout(ctx)
	if err != nil {
		return err
	}
	if err := p.page.Focus(selector, playwright.PageFocusOptions{Timeout: t}); err != nil {
		return fmt.Errorf("failed to focus: %w", err)
	}
	return nil
}

func (p *pwPage) TypeText(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.page.Keyboard().Type(text); err != nil {
		return fmt.Errorf("failed to type key: %w", err)
	}
	return nil
}

func (p *pwPage) PressBackspace(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.page.Keyboard().Press("Backspace"); err != nil {
		return fmt.Errorf("failed to press backspace: %w", err)
	}
	return nil
}

func (p *pwPage) BoundingBox(ctx context.Context, selector string) (core.Box, error) {
	t, err := p.timeout(ctx)
	if err != nil {
		return core.Box{}, err
	}
	loc := p.page.Locator(selector).First()
	if err := loc.ScrollIntoViewIfNeeded(playwright.LocatorScrollIntoViewIfNeededOptions{Timeout: t}); err != nil {
		return core.Box{}, fmt.Errorf("element not found: %s: %w", selector, err)
	}
	rect, err := loc.BoundingBox(playwright.LocatorBoundingBoxOptions{Timeout: t})
	if err != nil {
		return core.Box{}, fmt.Errorf("failed to get element box: %w", err)
	}
	if rect == nil {
		return core.Box{}, fmt.Errorf("element has no layout box: %s", selector)
	}
	return core.Box{X: rect.X, Y: rect.Y, Width: rect.Width, Height: rect.Height}, nil
}

func (p *pwPage) MouseMove(ctx context.Context, x, y float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.page.Mouse().Move(x, y)
}

func (p *pwPage) MouseDown(ctx context.Context, x, y float64) error {
	if err := p.MouseMove(ctx, x, y); err != nil {
		return err
	}
	return p.page.Mouse().Down()
}

func (p *pwPage) MouseUp(ctx context.Context, x, y float64) error {
	if err := p.MouseMove(ctx, x, y); err != nil {
		return err
	}
	return p.page.Mouse().Up()
}

func (p *pwPage) Click(ctx context.Context, selector string) error {
	t, err := p.timeout(ctx)
	if err != nil {
		return err
	}
	if err := p.page.Click(selector, playwright.PageClickOptions{Timeout: t}); err != nil {
		return fmt.Errorf("failed to click %s: %w", selector, err)
	}
	return nil
}

func (p *pwPage) SelectOption(ctx context.Context, selector, value string) error {
	t, err := p.timeout(ctx)
	if err != nil {
		return err
	}
	_, err = p.page.SelectOption(selector,
		playwright.SelectOptionValues{Values: &[]string{value}},
		playwright.PageSelectOptionOptions{Timeout: t})
	if err != nil {
		return fmt.Errorf("no option %q in %s: %w", value, selector, err)
	}
	return nil
}

func (p *pwPage) Screenshot(ctx context.Context, fullPage bool, format string) ([]byte, error) {
	t, err := p.timeout(ctx)
	if err != nil {
		return nil, err
	}
	typ := playwright.ScreenshotTypePng
	if format == "jpeg" || format == "jpg" {
		typ = playwright.ScreenshotTypeJpeg
	}
	data, err := p.page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(fullPage),
		Type:     typ,
		Timeout:  t,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return data, nil
}

func (p *pwPage) Text(ctx context.Context, selector string) (string, error) {
	t, err := p.timeout(ctx)
	if err != nil {
		return "", err
	}
	return p.page.InnerText(selector, playwright.PageInnerTextOptions{Timeout: t})
}

func (p *pwPage) Attribute(ctx context.Context, selector, name string) (string, error) {
	t, err := p.timeout(ctx)
	if err != nil {
		return "", err
	}
	v, err := p.page.GetAttribute(selector, name, playwright.PageGetAttributeOptions{Timeout: t})
	if err != nil {
		return "", fmt.Errorf("failed to read attribute %s: %w", name, err)
	}
	return v, nil
}

// Evaluate runs expression in the page, bounded by ctx
func (p *pwPage) Evaluate(ctx context.Context, expression string) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	type result struct {
		v   interface{}
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := p.page.Evaluate(expression)
		ch <- result{v, err}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("script error: %w", r.err)
		}
		return r.v, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pwPage) ScrollTo(ctx context.Context, x, y int) error {
	_, err := p.Evaluate(ctx, fmt.Sprintf("window.scrollTo(%d, %d)", x, y))
	return err
}

func (p *pwPage) ScrollIntoView(ctx context.Context, selector string) error {
	t, err := p.timeout(ctx)
	if err != nil {
		return err
	}
	return p.page.Locator(selector).First().ScrollIntoViewIfNeeded(playwright.LocatorScrollIntoViewIfNeededOptions{Timeout: t})
}

func (p *pwPage) Wheel(ctx context.Context, deltaX, deltaY float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.page.Mouse().Wheel(deltaX, deltaY)
}

func (p *pwPage) Close() error {
	return p.page.Close()
}
