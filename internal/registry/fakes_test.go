package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"profile-launcher/internal/core"
)

type fakeStore struct {
	mu       sync.Mutex
	profiles map[string]*core.Profile
	saves    int
}

func newFakeStore(ids ...string) *fakeStore {
	s := &fakeStore{profiles: make(map[string]*core.Profile)}
	for _, id := range ids {
		s.profiles[id] = &core.Profile{ID: id, Name: id, Fingerprint: core.Fingerprint{Enabled: true, Seed: 7}}
	}
	return s
}

func (s *fakeStore) GetProfile(_ context.Context, id string) (*core.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrProfileNotFound, id)
	}
	cp := *p
	return &cp, nil
}

func (s *fakeStore) SaveProfile(_ context.Context, p *core.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.profiles[p.ID] = &cp
	s.saves++
	return nil
}

func (s *fakeStore) get(id string) *core.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profiles[id]
}

type fakeSelector struct {
	adapter *fakeAdapter
	err     error
}

func (f *fakeSelector) Select(*core.Profile) (core.EngineAdapter, string, error) {
	if f.err != nil {
		return nil, "", f.err
	}
	return f.adapter, "/usr/bin/fake-browser", nil
}

func (f *fakeSelector) Adapter(family core.EngineFamily) (core.EngineAdapter, error) {
	if family != f.adapter.Family() {
		return nil, core.ErrUnsupportedEngine
	}
	return f.adapter, nil
}

type fakeAdapter struct {
	launches   atomic.Int32
	cleanups   atomic.Int32
	launchWait time.Duration
	failLaunch atomic.Bool
	failInject atomic.Bool

	mu       sync.Mutex
	contexts []*fakeContext
	configs  []*core.LaunchConfig
}

func (a *fakeAdapter) Family() core.EngineFamily { return core.EngineChromium }

func (a *fakeAdapter) LocateExecutable() (string, error) { return "/usr/bin/fake-browser", nil }

func (a *fakeAdapter) BuildLaunchConfig(profile *core.Profile, userDataDir string, debugPort int, opts core.LaunchOptions) (*core.LaunchConfig, error) {
	return &core.LaunchConfig{
		Family:      core.EngineChromium,
		UserDataDir: userDataDir,
		DownloadDir: "/downloads/" + profile.ID,
		DebugPort:   debugPort,
		StartURL:    opts.StartURL,
	}, nil
}

func (a *fakeAdapter) Launch(ctx context.Context, _ string, cfg *core.LaunchConfig) (core.BrowserContext, error) {
	a.launches.Add(1)
	if a.launchWait > 0 {
		select {
		case <-time.After(a.launchWait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if a.failLaunch.Load() {
		return nil, fmt.Errorf("%w: process exited", core.ErrLaunch)
	}
	c := newFakeContext(fmt.Sprintf("ws://127.0.0.1:%d/devtools/browser/x", cfg.DebugPort))

	a.mu.Lock()
	a.contexts = append(a.contexts, c)
	a.configs = append(a.configs, cfg)
	a.mu.Unlock()
	return c, nil
}

func (a *fakeAdapter) Connect(_ context.Context, endpoint string) (core.BrowserContext, error) {
	c := newFakeContext(endpoint)
	a.mu.Lock()
	a.contexts = append(a.contexts, c)
	a.mu.Unlock()
	return c, nil
}

func (a *fakeAdapter) ApplyFingerprintProtection(context.Context, core.BrowserContext, *core.Profile) (*core.InjectionResult, error) {
	if a.failInject.Load() {
		return nil, errors.New("init script rejected")
	}
	return &core.InjectionResult{Script: "/*init*/", PostLoadScript: "/*post*/"}, nil
}

func (a *fakeAdapter) ClearCache(context.Context, core.BrowserContext) error { return nil }

func (a *fakeAdapter) ClearCookies(ctx context.Context, bc core.BrowserContext, _ string) error {
	return bc.SetCookies(ctx, nil)
}

func (a *fakeAdapter) ClearLocalStorage(context.Context, core.BrowserContext, string) error {
	return nil
}

func (a *fakeAdapter) CleanupUserData(string) bool {
	a.cleanups.Add(1)
	return false
}

func (a *fakeAdapter) context(i int) *fakeContext {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.contexts[i]
}

type fakeContext struct {
	endpoint string
	done     chan struct{}
	once     sync.Once

	closeErr    error
	keepOnClose bool
	pingErr     atomic.Value // error
	pingBlock   atomic.Bool

	mu          sync.Mutex
	cookies     []core.Cookie
	closes      int
	kills       int
	disconnects int
}

func newFakeContext(endpoint string) *fakeContext {
	return &fakeContext{endpoint: endpoint, done: make(chan struct{})}
}

func (c *fakeContext) Family() core.EngineFamily { return core.EngineChromium }
func (c *fakeContext) Endpoint() string          { return c.endpoint }
func (c *fakeContext) PID() int                  { return 4242 }
func (c *fakeContext) Done() <-chan struct{}     { return c.done }

func (c *fakeContext) disconnect() { c.once.Do(func() { close(c.done) }) }

func (c *fakeContext) Pages(context.Context) ([]core.Page, error) { return nil, nil }

func (c *fakeContext) NewPage(context.Context) (core.Page, error) {
	return nil, errors.New("no pages in fake")
}

func (c *fakeContext) AddInitScript(context.Context, string) error { return nil }
func (c *fakeContext) OnNewPage(func(core.Page))                   {}

func (c *fakeContext) Cookies(context.Context, ...string) ([]core.Cookie, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]core.Cookie(nil), c.cookies...), nil
}

func (c *fakeContext) SetCookies(_ context.Context, cookies []core.Cookie) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cookies = append([]core.Cookie(nil), cookies...)
	return nil
}

func (c *fakeContext) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.pingBlock.Load() {
		<-ctx.Done()
		return ctx.Err()
	}
	if err, ok := c.pingErr.Load().(error); ok && err != nil {
		return err
	}
	return nil
}

func (c *fakeContext) Close(context.Context) error {
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()
	if c.closeErr != nil {
		return c.closeErr
	}
	if !c.keepOnClose {
		c.disconnect()
	}
	return nil
}

func (c *fakeContext) Kill() error {
	c.mu.Lock()
	c.kills++
	c.mu.Unlock()
	c.disconnect()
	return nil
}

func (c *fakeContext) Disconnect() error {
	c.mu.Lock()
	c.disconnects++
	c.mu.Unlock()
	c.disconnect()
	return nil
}

func (c *fakeContext) counts() (closes, kills int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes, c.kills
}
