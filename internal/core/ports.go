package core

import (
	"context"
	"time"
)

// ProfileStore is the persisted source of profiles
type ProfileStore interface {
	// GetProfile returns the profile or an error wrapping ErrProfileNotFound
	GetProfile(ctx context.Context, id string) (*Profile, error)

	// SaveProfile persists a regenerated fingerprint or an updated cookie/storage snapshot
	SaveProfile(ctx context.Context, profile *Profile) error
}

// ScriptStore persists automation scripts, one entry per script id
type ScriptStore interface {
	GetScript(ctx context.Context, id string) (*Script, error)
	SaveScript(ctx context.Context, script *Script) error
	ListScripts(ctx context.Context) ([]*Script, error)
	DeleteScript(ctx context.Context, id string) error
}

// TaskLog records finished automation tasks for audit
type TaskLog interface {
	RecordTaskRun(ctx context.Context, task *AutomationTask) error
}

// EngineAdapter normalizes one browser family behind a uniform capability set
type EngineAdapter interface {
	// Family reports the engine identity
	Family() EngineFamily

	// LocateExecutable searches the OS-specific fallback list
	LocateExecutable() (string, error)

	// BuildLaunchConfig is pure apart from resolving the download directory
	BuildLaunchConfig(profile *Profile, userDataDir string, debugPort int, opts LaunchOptions) (*LaunchConfig, error)

	// Launch starts a persistent, isolated context rooted at cfg.UserDataDir
	Launch(ctx context.Context, executablePath string, cfg *LaunchConfig) (BrowserContext, error)

	// Connect attaches to an already-running engine via its debug endpoint
	Connect(ctx context.Context, endpoint string) (BrowserContext, error)

	// ApplyFingerprintProtection attaches the profile's injection scripts to every current and future page
	ApplyFingerprintProtection(ctx context.Context, bc BrowserContext, profile *Profile) (*InjectionResult, error)

	ClearCache(ctx context.Context, bc BrowserContext) error
	ClearCookies(ctx context.Context, bc BrowserContext, url string) error
	ClearLocalStorage(ctx context.Context, bc BrowserContext, url string) error

	// CleanupUserData removes stale single-instance locks without touching cookies or storage
	CleanupUserData(userDataDir string) bool
}

// InjectionResult describes what the fingerprint pipeline attached to a context
type InjectionResult struct {
	Script         string
	PostLoadScript string
}

// BrowserContext is the single handle type every adapter returns
type BrowserContext interface {
	Family() EngineFamily
	Endpoint() string
	PID() int

	Pages(ctx context.Context) ([]Page, error)
	NewPage(ctx context.Context) (Page, error)

	// AddInitScript runs script on every current page and registers it for future documents
	AddInitScript(ctx context.Context, script string) error
	// OnNewPage registers a standing hook for pages opened after the call
	OnNewPage(fn func(Page))

	Cookies(ctx context.Context, urls ...string) ([]Cookie, error)
	SetCookies(ctx context.Context, cookies []Cookie) error

	// Ping probes liveness of the underlying engine
	Ping(ctx context.Context) error
	// Done is closed once the engine disconnects or the context is closed
	Done() <-chan struct{}

	// Close attempts a graceful shutdown
	Close(ctx context.Context) error
	// Kill force-terminates without waiting for acknowledgement
	Kill() error
	// Disconnect drops the connection and leaves the engine running
	Disconnect() error
}

// WaitUntil is the readiness condition of a navigation
type WaitUntil string

const (
	WaitLoad             WaitUntil = "load"
	WaitDOMContentLoaded WaitUntil = "domcontentloaded"
	WaitNetworkIdle      WaitUntil = "networkidle"
)

// ElementState is the readiness requirement of a selector wait
type ElementState string

const (
	StateVisible  ElementState = "visible"
	StateAttached ElementState = "attached"
)

// Box is an element bounding box in CSS pixels
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Page is one tab of a browsing context
type Page interface {
	URL() string

	Navigate(ctx context.Context, url string, waitUntil WaitUntil) error
	WaitSelector(ctx context.Context, selector string, state ElementState) error
	WaitNavigation(ctx context.Context) error

	Fill(ctx context.Context, selector, value string) error
	Clear(ctx context.Context, selector string) error
	Focus(ctx context.Context, selector string) error
	TypeText(ctx context.Context, text string) error
	PressBackspace(ctx context.Context) error

	BoundingBox(ctx context.Context, selector string) (Box, error)
	MouseMove(ctx context.Context, x, y float64) error
	MouseDown(ctx context.Context, x, y float64) error
	MouseUp(ctx context.Context, x, y float64) error
	Click(ctx context.Context, selector string) error

	SelectOption(ctx context.Context, selector, value string) error
	Screenshot(ctx context.Context, fullPage bool, format string) ([]byte, error)
	Text(ctx context.Context, selector string) (string, error)
	Attribute(ctx context.Context, selector, name string) (string, error)
	Evaluate(ctx context.Context, expression string) (interface{}, error)

	ScrollTo(ctx context.Context, x, y int) error
	ScrollIntoView(ctx context.Context, selector string) error
	Wheel(ctx context.Context, deltaX, deltaY float64) error

	Close() error
}

// InstanceSource is the registry surface the automation engine depends on
type InstanceSource interface {
	Connect(ctx context.Context, profileID string, opts LaunchOptions) (*InstanceHandle, error)
	Touch(profileID string)
}

// Clock abstracts time for tests
type Clock func() time.Time
