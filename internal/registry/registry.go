package registry

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"profile-launcher/internal/browser"
	"profile-launcher/internal/core"
)

const (
	defaultLaunchTimeout = 60 * time.Second
	defaultCloseTimeout  = 10 * time.Second
	defaultProbeTimeout  = 10 * time.Second
	defaultListProbe     = 500 * time.Millisecond
)

// EngineSelector resolves the adapter that launches a profile
type EngineSelector interface {
	Select(profile *core.Profile) (core.EngineAdapter, string, error)
	Adapter(family core.EngineFamily) (core.EngineAdapter, error)
}

// Options configures a Registry
type Options struct {
	BaseDir         string
	DownloadRoot    string
	DebugPortBase   int
	LaunchTimeout   time.Duration
	CloseTimeout    time.Duration
	ProbeTimeout    time.Duration
	ListProbe       time.Duration
	SnapshotOnClose bool
}

func (o *Options) defaults() {
	if o.LaunchTimeout <= 0 {
		o.LaunchTimeout = defaultLaunchTimeout
	}
	if o.CloseTimeout <= 0 {
		o.CloseTimeout = defaultCloseTimeout
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = defaultProbeTimeout
	}
	if o.ListProbe <= 0 {
		o.ListProbe = defaultListProbe
	}
	if o.DebugPortBase <= 0 {
		o.DebugPortBase = 9222
	}
}

// disconnect is the message a monitor sends when an engine goes away
type disconnect struct {
	profileID  string
	generation uint64
}

// Registry owns one instance record per profile and drives its lifecycle.
// Writes to a profile's record happen under that profile's key lock.
type Registry struct {
	store    core.ProfileStore
	selector EngineSelector
	opts     Options
	logger   *zap.Logger
	now      core.Clock
	freePort func(base int) (int, error)

	mu      sync.RWMutex
	records map[string]*core.InstanceRecord
	keys    sync.Map // profile id -> *sync.Mutex

	launches    singleflight.Group
	generation  atomic.Uint64
	disconnects chan disconnect
	folders     chan core.FolderOpened
	closed      atomic.Bool
	stop        chan struct{}
	loopDone    chan struct{}
}

// New creates a registry and starts its disconnect loop
func New(store core.ProfileStore, selector EngineSelector, opts Options, logger *zap.Logger) *Registry {
	opts.defaults()
	r := &Registry{
		store:       store,
		selector:    selector,
		opts:        opts,
		logger:      logger.With(zap.String("component", "registry")),
		now:         time.Now,
		freePort:    browser.FreePort,
		records:     make(map[string]*core.InstanceRecord),
		disconnects: make(chan disconnect, 16),
		folders:     make(chan core.FolderOpened, 16),
		stop:        make(chan struct{}),
		loopDone:    make(chan struct{}),
	}
	go r.disconnectLoop()
	return r
}

// UserDataDir is the per-profile engine data directory
func UserDataDir(baseDir string, family core.EngineFamily, profileID string) string {
	return filepath.Join(baseDir, fmt.Sprintf("%s_%s", family, profileID))
}

func (r *Registry) keyLock(profileID string) *sync.Mutex {
	m, _ := r.keys.LoadOrStore(profileID, &sync.Mutex{})
	return m.(*sync.Mutex)
}

// lookup returns the live record pointer; callers read fields under r.mu
func (r *Registry) lookup(profileID string) *core.InstanceRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.records[profileID]
}

// snapshot copies the record of profileID
func (r *Registry) snapshot(profileID string) (core.InstanceRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[profileID]
	if !ok {
		return core.InstanceRecord{}, false
	}
	return *rec, true
}

func (r *Registry) update(rec *core.InstanceRecord, fn func(rec *core.InstanceRecord)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(rec)
}

func handleOf(rec core.InstanceRecord) *core.InstanceHandle {
	return &core.InstanceHandle{
		ProfileID:      rec.ProfileID,
		Engine:         rec.Engine,
		Endpoint:       rec.Endpoint,
		DebugPort:      rec.DebugPort,
		Context:        rec.Context,
		PostLoadScript: rec.PostLoadScript,
	}
}

// reserve picks a debug port no live record uses and stores rec as STARTING.
// It returns the record it displaced so a failed launch can put it back.
func (r *Registry) reserve(rec *core.InstanceRecord) (*core.InstanceRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	used := make(map[int]bool, len(r.records))
	for _, other := range r.records {
		if !other.Status.Terminal() && other.DebugPort > 0 {
			used[other.DebugPort] = true
		}
	}

	base := r.opts.DebugPortBase
	for {
		port, err := r.freePort(base)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrLaunch, err)
		}
		if !used[port] {
			rec.DebugPort = port
			break
		}
		base = port + 1
	}

	prev := r.records[rec.ProfileID]
	r.records[rec.ProfileID] = rec
	return prev, nil
}

// release undoes reserve after a failed launch
func (r *Registry) release(rec, prev *core.InstanceRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.records[rec.ProfileID] != rec {
		return
	}
	if prev != nil {
		r.records[rec.ProfileID] = prev
	} else {
		delete(r.records, rec.ProfileID)
	}
}

// Launch starts the profile's browser, or returns the handle of the
// instance already running for it. Concurrent callers share one launch,
// which runs detached from any caller's cancellation and is bounded by
// LaunchTimeout. A caller that gives up returns its ctx error while the
// launch carries on for the others.
func (r *Registry) Launch(ctx context.Context, profileID string, opts core.LaunchOptions) (*core.InstanceHandle, error) {
	if r.closed.Load() {
		return nil, core.ErrShuttingDown
	}

	ch := r.launches.DoChan(profileID, func() (interface{}, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opts.LaunchTimeout)
		defer cancel()

		lock := r.keyLock(profileID)
		lock.Lock()
		defer lock.Unlock()
		return r.launchLocked(lctx, profileID, opts)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			r.logger.Debug("joined in-flight launch", zap.String("profile_id", profileID))
		}
		return res.Val.(*core.InstanceHandle), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Registry) launchLocked(ctx context.Context, profileID string, opts core.LaunchOptions) (*core.InstanceHandle, error) {
	if rec, ok := r.snapshot(profileID); ok && !rec.Status.Terminal() {
		return handleOf(rec), nil
	}
	if r.closed.Load() {
		return nil, core.ErrShuttingDown
	}

	profile, err := r.store.GetProfile(ctx, profileID)
	if err != nil {
		return nil, err
	}

	adapter, exe, err := r.selector.Select(profile)
	if err != nil {
		return nil, err
	}
	family := adapter.Family()
	userDataDir := UserDataDir(r.opts.BaseDir, family, profileID)

	if adapter.CleanupUserData(userDataDir) {
		r.logger.Info("removed stale lock files",
			zap.String("profile_id", profileID),
			zap.String("user_data_dir", userDataDir))
	}

	rec := &core.InstanceRecord{
		ProfileID:   profileID,
		Engine:      family,
		Adapter:     adapter,
		UserDataDir: userDataDir,
		Status:      core.StatusStarting,
		StartTime:   r.now(),
		Generation:  r.generation.Add(1),
	}
	prev, err := r.reserve(rec)
	if err != nil {
		return nil, err
	}

	bc, err := r.start(ctx, adapter, exe, profile, rec, opts)
	if err != nil {
		r.release(rec, prev)
		r.logger.Warn("launch failed",
			zap.String("profile_id", profileID),
			zap.String("engine", string(family)),
			zap.Error(err))
		return nil, err
	}

	if r.closed.Load() {
		_ = bc.Kill()
		r.markClosed(profileID, rec.Generation, "")
		return nil, core.ErrShuttingDown
	}
	r.supervise(profileID, rec.Generation, bc)

	out, _ := r.snapshot(profileID)
	r.logger.Info("instance running",
		zap.String("profile_id", profileID),
		zap.String("engine", string(family)),
		zap.Int("debug_port", out.DebugPort),
		zap.Int("pid", out.PID))
	return handleOf(out), nil
}

// start runs the adapter launch sequence for a reserved record and flips
// it to RUNNING
func (r *Registry) start(ctx context.Context, adapter core.EngineAdapter, exe string, profile *core.Profile, rec *core.InstanceRecord, opts core.LaunchOptions) (core.BrowserContext, error) {
	cfg, err := adapter.BuildLaunchConfig(profile, rec.UserDataDir, rec.DebugPort, opts)
	if err != nil {
		return nil, err
	}

	lctx, cancel := context.WithTimeout(ctx, r.opts.LaunchTimeout)
	defer cancel()

	bc, err := adapter.Launch(lctx, exe, cfg)
	if err != nil {
		if !errors.Is(err, core.ErrLaunch) {
			err = fmt.Errorf("%w: %v", core.ErrLaunch, err)
		}
		return nil, err
	}

	injection, err := adapter.ApplyFingerprintProtection(lctx, bc, profile)
	if err != nil {
		_ = bc.Kill()
		return nil, fmt.Errorf("%w: fingerprint protection: %v", core.ErrLaunch, err)
	}

	if len(profile.Cookies) > 0 {
		if err := bc.SetCookies(lctx, profile.Cookies); err != nil {
			r.logger.Warn("failed to restore cookies",
				zap.String("profile_id", profile.ID),
				zap.Error(err))
		}
	}

	now := r.now()
	r.update(rec, func(rec *core.InstanceRecord) {
		rec.Context = bc
		rec.Endpoint = bc.Endpoint()
		rec.PID = bc.PID()
		rec.DownloadDir = cfg.DownloadDir
		rec.PostLoadScript = injection.PostLoadScript
		rec.Status = core.StatusRunning
		rec.LastActive = now
	})
	return bc, nil
}

// Connect returns the running instance of profileID. With AutoLaunch set a
// profile that is not running is launched instead of failing.
func (r *Registry) Connect(ctx context.Context, profileID string, opts core.LaunchOptions) (*core.InstanceHandle, error) {
	if rec, ok := r.GetRunningInstance(ctx, profileID); ok {
		r.Touch(profileID)
		return handleOf(*rec), nil
	}
	if !opts.AutoLaunch {
		return nil, fmt.Errorf("%w: %s", core.ErrNotRunning, profileID)
	}
	return r.Launch(ctx, profileID, opts)
}

// Attach adopts an engine that was started outside the registry, reached
// through its debug endpoint
func (r *Registry) Attach(ctx context.Context, profileID string, family core.EngineFamily, endpoint string) (*core.InstanceHandle, error) {
	if r.closed.Load() {
		return nil, core.ErrShuttingDown
	}

	lock := r.keyLock(profileID)
	lock.Lock()
	defer lock.Unlock()

	if rec, ok := r.snapshot(profileID); ok && !rec.Status.Terminal() {
		return handleOf(rec), nil
	}

	profile, err := r.store.GetProfile(ctx, profileID)
	if err != nil {
		return nil, err
	}
	adapter, err := r.selector.Adapter(family)
	if err != nil {
		return nil, err
	}

	cctx, cancel := context.WithTimeout(ctx, r.opts.ProbeTimeout)
	defer cancel()

	bc, err := adapter.Connect(cctx, endpoint)
	if err != nil {
		return nil, err
	}
	injection, err := adapter.ApplyFingerprintProtection(cctx, bc, profile)
	if err != nil {
		if derr := bc.Disconnect(); derr != nil {
			r.logger.Warn("failed to disconnect from engine",
				zap.String("profile_id", profileID),
				zap.Error(derr))
		}
		return nil, fmt.Errorf("%w: fingerprint protection: %v", core.ErrLaunch, err)
	}

	now := r.now()
	rec := &core.InstanceRecord{
		ProfileID:      profileID,
		Engine:         family,
		Adapter:        adapter,
		Context:        bc,
		Endpoint:       bc.Endpoint(),
		PID:            bc.PID(),
		UserDataDir:    UserDataDir(r.opts.BaseDir, family, profileID),
		DownloadDir:    browser.DownloadDir(r.opts.DownloadRoot, profileID),
		Status:         core.StatusRunning,
		StartTime:      now,
		LastActive:     now,
		PostLoadScript: injection.PostLoadScript,
		Generation:     r.generation.Add(1),
	}
	r.mu.Lock()
	r.records[profileID] = rec
	r.mu.Unlock()

	r.supervise(profileID, rec.Generation, bc)

	r.logger.Info("instance attached",
		zap.String("profile_id", profileID),
		zap.String("engine", string(family)),
		zap.String("endpoint", endpoint))
	return handleOf(*rec), nil
}
