package automation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"profile-launcher/internal/core"
)

type fakePage struct {
	mu       sync.Mutex
	url      string
	calls    []string
	typed    strings.Builder
	failing  map[string]error         // selector -> error returned by WaitSelector
	blocking map[string]chan struct{} // selector -> released when closed
	entered  chan string
	texts    map[string]string
	attrs    map[string]string
	evals    map[string]interface{}
	closeErr error
}

func newFakePage() *fakePage {
	return &fakePage{
		url:      "about:blank",
		failing:  make(map[string]error),
		blocking: make(map[string]chan struct{}),
		entered:  make(chan string, 16),
		texts:    make(map[string]string),
		attrs:    make(map[string]string),
		evals:    make(map[string]interface{}),
	}
}

func (p *fakePage) log(format string, args ...interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, fmt.Sprintf(format, args...))
}

func (p *fakePage) count(prefix string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (p *fakePage) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *fakePage) Navigate(_ context.Context, url string, _ core.WaitUntil) error {
	p.log("navigate %s", url)
	p.mu.Lock()
	p.url = url
	p.mu.Unlock()
	return nil
}

func (p *fakePage) WaitSelector(ctx context.Context, selector string, state core.ElementState) error {
	p.log("wait %s %s", selector, state)
	if selector == "#panic" {
		panic("binding exploded")
	}
	p.mu.Lock()
	block := p.blocking[selector]
	err := p.failing[selector]
	p.mu.Unlock()

	if block != nil {
		p.entered <- selector
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (p *fakePage) WaitNavigation(context.Context) error {
	p.log("wait-navigation")
	return nil
}

func (p *fakePage) Fill(_ context.Context, selector, value string) error {
	p.log("fill %s %s", selector, value)
	return nil
}

func (p *fakePage) Clear(_ context.Context, selector string) error {
	p.log("clear %s", selector)
	return nil
}

func (p *fakePage) Focus(_ context.Context, selector string) error {
	p.log("focus %s", selector)
	return nil
}

func (p *fakePage) TypeText(_ context.Context, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.typed.WriteString(text)
	p.calls = append(p.calls, "key "+text)
	return nil
}

func (p *fakePage) PressBackspace(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := []rune(p.typed.String())
	p.typed.Reset()
	if len(s) > 0 {
		p.typed.WriteString(string(s[:len(s)-1]))
	}
	p.calls = append(p.calls, "backspace")
	return nil
}

func (p *fakePage) BoundingBox(_ context.Context, selector string) (core.Box, error) {
	p.log("box %s", selector)
	return core.Box{X: 100, Y: 200, Width: 80, Height: 30}, nil
}

func (p *fakePage) MouseMove(_ context.Context, x, y float64) error {
	p.log("move %.0f %.0f", x, y)
	return nil
}

func (p *fakePage) MouseDown(_ context.Context, x, y float64) error {
	p.log("down %.0f %.0f", x, y)
	return nil
}

func (p *fakePage) MouseUp(_ context.Context, x, y float64) error {
	p.log("up %.0f %.0f", x, y)
	return nil
}

func (p *fakePage) Click(_ context.Context, selector string) error {
	p.log("click %s", selector)
	return nil
}

func (p *fakePage) SelectOption(_ context.Context, selector, value string) error {
	p.log("select %s %s", selector, value)
	return nil
}

func (p *fakePage) Screenshot(context.Context, bool, string) ([]byte, error) {
	p.log("screenshot")
	return []byte("\x89PNG"), nil
}

func (p *fakePage) Text(_ context.Context, selector string) (string, error) {
	p.log("text %s", selector)
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.texts[selector], nil
}

func (p *fakePage) Attribute(_ context.Context, selector, name string) (string, error) {
	p.log("attr %s %s", selector, name)
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attrs[selector+"@"+name], nil
}

func (p *fakePage) Evaluate(_ context.Context, expression string) (interface{}, error) {
	p.log("eval %s", expression)
	p.mu.Lock()
	defer p.mu.Unlock()
	if v, ok := p.evals[expression]; ok {
		if err, isErr := v.(error); isErr {
			return nil, err
		}
		return v, nil
	}
	return nil, nil
}

func (p *fakePage) ScrollTo(_ context.Context, x, y int) error {
	p.log("scroll-to %d %d", x, y)
	return nil
}

func (p *fakePage) ScrollIntoView(_ context.Context, selector string) error {
	p.log("scroll-into-view %s", selector)
	return nil
}

func (p *fakePage) Wheel(_ context.Context, dx, dy float64) error {
	p.log("wheel %.0f %.0f", dx, dy)
	return nil
}

func (p *fakePage) Close() error {
	p.log("close")
	return p.closeErr
}

// fakeContext hands out one shared page
type fakeContext struct {
	page *fakePage
}

func (c *fakeContext) Family() core.EngineFamily                  { return core.EngineChromium }
func (c *fakeContext) Endpoint() string                           { return "ws://fake" }
func (c *fakeContext) PID() int                                   { return 1 }
func (c *fakeContext) Pages(context.Context) ([]core.Page, error) { return []core.Page{c.page}, nil }
func (c *fakeContext) NewPage(context.Context) (core.Page, error) { return c.page, nil }
func (c *fakeContext) AddInitScript(context.Context, string) error {
	return nil
}
func (c *fakeContext) OnNewPage(func(core.Page)) {}
func (c *fakeContext) Cookies(context.Context, ...string) ([]core.Cookie, error) {
	return nil, nil
}
func (c *fakeContext) SetCookies(context.Context, []core.Cookie) error { return nil }
func (c *fakeContext) Ping(context.Context) error                      { return nil }
func (c *fakeContext) Done() <-chan struct{}                           { return nil }
func (c *fakeContext) Close(context.Context) error                     { return nil }
func (c *fakeContext) Kill() error                                     { return nil }
func (c *fakeContext) Disconnect() error                               { return nil }

type fakeSource struct {
	page    *fakePage
	err     error
	mu      sync.Mutex
	touches int
	opts    []core.LaunchOptions
}

func (s *fakeSource) Connect(_ context.Context, profileID string, opts core.LaunchOptions) (*core.InstanceHandle, error) {
	s.mu.Lock()
	s.opts = append(s.opts, opts)
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return &core.InstanceHandle{
		ProfileID:      profileID,
		Engine:         core.EngineChromium,
		Context:        &fakeContext{page: s.page},
		PostLoadScript: "/*post*/",
	}, nil
}

func (s *fakeSource) Touch(string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touches++
}

type fakeScripts struct {
	scripts map[string]*core.Script
}

func (f *fakeScripts) GetScript(_ context.Context, id string) (*core.Script, error) {
	s, ok := f.scripts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrScriptNotFound, id)
	}
	return s, nil
}

func (f *fakeScripts) SaveScript(context.Context, *core.Script) error { return nil }

func (f *fakeScripts) ListScripts(context.Context) ([]*core.Script, error) { return nil, nil }

func (f *fakeScripts) DeleteScript(context.Context, string) error { return nil }

type fakeTaskLog struct {
	mu   sync.Mutex
	runs []core.AutomationTask
}

func (l *fakeTaskLog) RecordTaskRun(_ context.Context, t *core.AutomationTask) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.runs = append(l.runs, *t)
	return nil
}

func (l *fakeTaskLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.runs)
}

var errMissing = errors.New("element not found")
