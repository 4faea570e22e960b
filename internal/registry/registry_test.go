package registry

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"profile-launcher/internal/core"
)

func newTestRegistry(t *testing.T, store *fakeStore, adapter *fakeAdapter, opts Options) *Registry {
	t.Helper()
	if opts.BaseDir == "" {
		opts.BaseDir = t.TempDir()
	}
	if opts.DownloadRoot == "" {
		opts.DownloadRoot = t.TempDir()
	}
	r := New(store, &fakeSelector{adapter: adapter}, opts, zap.NewNop())
	r.freePort = func(base int) (int, error) { return base, nil }
	t.Cleanup(r.CloseAll)
	return r
}

func statusOf(r *Registry, profileID string) core.InstanceStatus {
	rec, ok := r.snapshot(profileID)
	if !ok {
		return ""
	}
	return rec.Status
}

func TestLaunchCreatesRunningRecord(t *testing.T) {
	store := newFakeStore("a")
	adapter := &fakeAdapter{}
	r := newTestRegistry(t, store, adapter, Options{BaseDir: "/profiles"})

	h, err := r.Launch(context.Background(), "a", core.LaunchOptions{StartURL: "https://example.com"})
	require.NoError(t, err)

	assert.Equal(t, "a", h.ProfileID)
	assert.Equal(t, core.EngineChromium, h.Engine)
	assert.Equal(t, 9222, h.DebugPort)
	assert.Equal(t, "/*post*/", h.PostLoadScript)
	assert.NotNil(t, h.Context)

	rec, ok := r.snapshot("a")
	require.True(t, ok)
	assert.Equal(t, core.StatusRunning, rec.Status)
	assert.Equal(t, filepath.Join("/profiles", "chromium_a"), rec.UserDataDir)
	assert.Equal(t, 4242, rec.PID)
	assert.False(t, rec.StartTime.IsZero())
	assert.EqualValues(t, 1, adapter.cleanups.Load())
}

func TestConcurrentLaunchStartsOneEngine(t *testing.T) {
	store := newFakeStore("a")
	adapter := &fakeAdapter{launchWait: 50 * time.Millisecond}
	r := newTestRegistry(t, store, adapter, Options{})

	const callers = 12
	handles := make([]*core.InstanceHandle, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := r.Launch(context.Background(), "a", core.LaunchOptions{})
			assert.NoError(t, err)
			handles[i] = h
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, adapter.launches.Load())
	for _, h := range handles {
		require.NotNil(t, h)
		assert.Same(t, handles[0].Context, h.Context)
	}
	assert.Len(t, r.ListRunning(context.Background()), 1)
}

func TestJoinedLaunchSurvivesFirstCallerCancelling(t *testing.T) {
	store := newFakeStore("a")
	adapter := &fakeAdapter{launchWait: 100 * time.Millisecond}
	r := newTestRegistry(t, store, adapter, Options{})

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := r.Launch(first, "a", core.LaunchOptions{})
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return adapter.launches.Load() == 1 }, time.Second, time.Millisecond)

	joined := make(chan *core.InstanceHandle, 1)
	go func() {
		h, err := r.Launch(context.Background(), "a", core.LaunchOptions{})
		assert.NoError(t, err)
		joined <- h
	}()

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	h := <-joined
	require.NotNil(t, h)
	assert.Equal(t, core.StatusRunning, statusOf(r, "a"))
	assert.EqualValues(t, 1, adapter.launches.Load())
}

func TestLaunchCloseLaunch(t *testing.T) {
	store := newFakeStore("a")
	adapter := &fakeAdapter{}
	r := newTestRegistry(t, store, adapter, Options{})
	ctx := context.Background()

	first, err := r.Launch(ctx, "a", core.LaunchOptions{})
	require.NoError(t, err)
	gen1 := r.lookup("a").Generation

	assert.True(t, r.Close(ctx, "a"))
	assert.Equal(t, core.StatusClosed, statusOf(r, "a"))
	rec, _ := r.snapshot("a")
	assert.False(t, rec.EndTime.IsZero())

	assert.False(t, r.Close(ctx, "a"), "closing twice reports nothing was running")

	second, err := r.Launch(ctx, "a", core.LaunchOptions{})
	require.NoError(t, err)
	assert.NotSame(t, first.Context, second.Context)
	assert.Equal(t, core.StatusRunning, statusOf(r, "a"))
	assert.Greater(t, r.lookup("a").Generation, gen1)
	assert.EqualValues(t, 2, adapter.launches.Load())
}

func TestFailedLaunchLeavesNoRecord(t *testing.T) {
	store := newFakeStore("a")
	adapter := &fakeAdapter{}
	adapter.failLaunch.Store(true)
	r := newTestRegistry(t, store, adapter, Options{})
	ctx := context.Background()

	_, err := r.Launch(ctx, "a", core.LaunchOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrLaunch)
	assert.Empty(t, r.Instances())

	adapter.failLaunch.Store(false)
	_, err = r.Launch(ctx, "a", core.LaunchOptions{})
	require.NoError(t, err)
	assert.Equal(t, core.StatusRunning, statusOf(r, "a"))
}

func TestFailedRelaunchKeepsPreviousRecord(t *testing.T) {
	store := newFakeStore("a")
	adapter := &fakeAdapter{}
	r := newTestRegistry(t, store, adapter, Options{})
	ctx := context.Background()

	_, err := r.Launch(ctx, "a", core.LaunchOptions{})
	require.NoError(t, err)
	require.True(t, r.Close(ctx, "a"))

	adapter.failLaunch.Store(true)
	_, err = r.Launch(ctx, "a", core.LaunchOptions{})
	require.Error(t, err)
	assert.Equal(t, core.StatusClosed, statusOf(r, "a"))
}

func TestLaunchConfigurationErrors(t *testing.T) {
	store := newFakeStore()
	adapter := &fakeAdapter{}
	r := newTestRegistry(t, store, adapter, Options{})

	_, err := r.Launch(context.Background(), "missing", core.LaunchOptions{})
	assert.ErrorIs(t, err, core.ErrProfileNotFound)
	assert.ErrorIs(t, err, core.ErrConfiguration)
	assert.Empty(t, r.Instances())
	assert.Zero(t, adapter.launches.Load())

	store.profiles["b"] = &core.Profile{ID: "b"}
	r.selector = &fakeSelector{adapter: adapter, err: core.ErrExecutableNotFound}
	_, err = r.Launch(context.Background(), "b", core.LaunchOptions{})
	assert.ErrorIs(t, err, core.ErrExecutableNotFound)
	assert.Empty(t, r.Instances())
}

func TestDisconnectMarksClosed(t *testing.T) {
	store := newFakeStore("a")
	adapter := &fakeAdapter{}
	r := newTestRegistry(t, store, adapter, Options{})

	_, err := r.Launch(context.Background(), "a", core.LaunchOptions{})
	require.NoError(t, err)

	adapter.context(0).disconnect()

	require.Eventually(t, func() bool {
		return statusOf(r, "a") == core.StatusClosed
	}, time.Second, 5*time.Millisecond)

	_, ok := r.GetRunningInstance(context.Background(), "a")
	assert.False(t, ok)
	_, err = r.Connect(context.Background(), "a", core.LaunchOptions{})
	assert.ErrorIs(t, err, core.ErrNotRunning)
}

func TestLateDisconnectIgnoredByNewerInstance(t *testing.T) {
	store := newFakeStore("a")
	adapter := &fakeAdapter{}
	r := newTestRegistry(t, store, adapter, Options{})
	ctx := context.Background()

	_, err := r.Launch(ctx, "a", core.LaunchOptions{})
	require.NoError(t, err)
	first := adapter.context(0)
	first.keepOnClose = true
	require.True(t, r.Close(ctx, "a"))

	_, err = r.Launch(ctx, "a", core.LaunchOptions{})
	require.NoError(t, err)

	first.disconnect()
	assert.Never(t, func() bool {
		return statusOf(r, "a") != core.StatusRunning
	}, 100*time.Millisecond, 5*time.Millisecond)
}

func TestCloseKillsWhenGracefulCloseFails(t *testing.T) {
	store := newFakeStore("a")
	adapter := &fakeAdapter{}
	r := newTestRegistry(t, store, adapter, Options{})
	ctx := context.Background()

	_, err := r.Launch(ctx, "a", core.LaunchOptions{})
	require.NoError(t, err)
	bc := adapter.context(0)
	bc.closeErr = errors.New("target crashed")

	assert.True(t, r.Close(ctx, "a"))
	closes, kills := bc.counts()
	assert.Equal(t, 1, closes)
	assert.Equal(t, 1, kills)
	assert.Equal(t, core.StatusClosed, statusOf(r, "a"))
}

func TestGetRunningInstanceChecksLiveness(t *testing.T) {
	store := newFakeStore("a")
	adapter := &fakeAdapter{}
	r := newTestRegistry(t, store, adapter, Options{})
	ctx := context.Background()

	_, err := r.Launch(ctx, "a", core.LaunchOptions{})
	require.NoError(t, err)

	rec, ok := r.GetRunningInstance(ctx, "a")
	require.True(t, ok)
	assert.Equal(t, core.StatusRunning, rec.Status)

	adapter.context(0).pingErr.Store(errors.New("connection reset"))
	_, ok = r.GetRunningInstance(ctx, "a")
	assert.False(t, ok)

	snap, _ := r.snapshot("a")
	assert.Equal(t, core.StatusClosed, snap.Status)
	assert.Contains(t, snap.Error, "connection reset")
}

func TestCancelledCallerLeavesInstancesRunning(t *testing.T) {
	store := newFakeStore("a", "b")
	adapter := &fakeAdapter{}
	r := newTestRegistry(t, store, adapter, Options{})

	for _, id := range []string{"a", "b"} {
		_, err := r.Launch(context.Background(), id, core.LaunchOptions{})
		require.NoError(t, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Len(t, r.ListRunning(ctx), 2)
	_, ok := r.GetRunningInstance(ctx, "a")
	assert.False(t, ok)
	assert.Equal(t, core.StatusRunning, statusOf(r, "a"))
	assert.Equal(t, core.StatusRunning, statusOf(r, "b"))

	r.CloseAll()
	for i := 0; i < 2; i++ {
		_, kills := adapter.context(i).counts()
		assert.Equal(t, 1, kills, "shutdown still reaches every engine")
	}
}

func TestListRunningKeepsSlowInstances(t *testing.T) {
	store := newFakeStore("a", "b", "c")
	adapter := &fakeAdapter{}
	r := newTestRegistry(t, store, adapter, Options{ListProbe: 30 * time.Millisecond})
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := r.Launch(ctx, id, core.LaunchOptions{})
		require.NoError(t, err)
	}
	adapter.context(1).pingBlock.Store(true)
	adapter.context(2).pingErr.Store(errors.New("gone"))

	start := time.Now()
	running := r.ListRunning(ctx)
	assert.Less(t, time.Since(start), time.Second)

	ids := make([]string, 0, len(running))
	for _, s := range running {
		ids = append(ids, s.ProfileID)
	}
	assert.ElementsMatch(t, []string{"a", "b"}, ids)
	assert.Equal(t, core.StatusClosed, statusOf(r, "c"))
}

func TestDistinctDebugPorts(t *testing.T) {
	store := newFakeStore("a", "b")
	adapter := &fakeAdapter{}
	r := newTestRegistry(t, store, adapter, Options{DebugPortBase: 9300})
	ctx := context.Background()

	ha, err := r.Launch(ctx, "a", core.LaunchOptions{})
	require.NoError(t, err)
	hb, err := r.Launch(ctx, "b", core.LaunchOptions{})
	require.NoError(t, err)

	assert.Equal(t, 9300, ha.DebugPort)
	assert.Equal(t, 9301, hb.DebugPort)
}

func TestConnectAutoLaunch(t *testing.T) {
	store := newFakeStore("a")
	adapter := &fakeAdapter{}
	r := newTestRegistry(t, store, adapter, Options{})
	ctx := context.Background()

	_, err := r.Connect(ctx, "a", core.LaunchOptions{})
	assert.ErrorIs(t, err, core.ErrNotRunning)

	h, err := r.Connect(ctx, "a", core.LaunchOptions{AutoLaunch: true})
	require.NoError(t, err)

	again, err := r.Connect(ctx, "a", core.LaunchOptions{})
	require.NoError(t, err)
	assert.Same(t, h.Context, again.Context)
	assert.EqualValues(t, 1, adapter.launches.Load())
}

func TestAttachAdoptsExternalEngine(t *testing.T) {
	store := newFakeStore("a")
	adapter := &fakeAdapter{}
	r := newTestRegistry(t, store, adapter, Options{})

	h, err := r.Attach(context.Background(), "a", core.EngineChromium, "ws://127.0.0.1:9555/devtools/browser/y")
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:9555/devtools/browser/y", h.Endpoint)
	assert.Equal(t, core.StatusRunning, statusOf(r, "a"))
	assert.Zero(t, adapter.launches.Load())

	_, err = r.Attach(context.Background(), "a", core.EngineGecko, "ws://x")
	assert.NoError(t, err, "a running profile returns its existing handle")
}

func TestAttachReleasesConnectionWhenProtectionFails(t *testing.T) {
	store := newFakeStore("a")
	adapter := &fakeAdapter{}
	adapter.failInject.Store(true)
	r := newTestRegistry(t, store, adapter, Options{})

	_, err := r.Attach(context.Background(), "a", core.EngineChromium, "ws://127.0.0.1:9555/devtools/browser/y")
	require.ErrorIs(t, err, core.ErrLaunch)

	c := adapter.context(0)
	c.mu.Lock()
	disconnects := c.disconnects
	c.mu.Unlock()
	assert.Equal(t, 1, disconnects)
	closes, kills := c.counts()
	assert.Zero(t, closes+kills, "an engine started elsewhere keeps running")

	_, ok := r.snapshot("a")
	assert.False(t, ok)
}

func TestCloseAll(t *testing.T) {
	store := newFakeStore("a", "b")
	adapter := &fakeAdapter{}
	r := New(store, &fakeSelector{adapter: adapter}, Options{BaseDir: t.TempDir()}, zap.NewNop())
	r.freePort = func(base int) (int, error) { return base, nil }
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		_, err := r.Launch(ctx, id, core.LaunchOptions{})
		require.NoError(t, err)
	}

	r.CloseAll()

	for i := 0; i < 2; i++ {
		closes, kills := adapter.context(i).counts()
		assert.Zero(t, closes, "shutdown does not wait for graceful close")
		assert.Equal(t, 1, kills)
	}
	assert.Equal(t, core.StatusClosed, statusOf(r, "a"))
	assert.Equal(t, core.StatusClosed, statusOf(r, "b"))

	_, err := r.Launch(ctx, "a", core.LaunchOptions{})
	assert.ErrorIs(t, err, core.ErrShuttingDown)

	r.CloseAll()
}

func TestTouchAndPurge(t *testing.T) {
	store := newFakeStore("a")
	adapter := &fakeAdapter{}
	r := newTestRegistry(t, store, adapter, Options{})
	ctx := context.Background()

	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return clock }

	_, err := r.Launch(ctx, "a", core.LaunchOptions{})
	require.NoError(t, err)

	clock = clock.Add(time.Minute)
	r.Touch("a")
	rec, _ := r.snapshot("a")
	assert.Equal(t, clock, rec.LastActive)

	assert.False(t, r.Purge("a"), "running records are not purged")
	r.Close(ctx, "a")
	assert.True(t, r.Purge("a"))
	assert.Empty(t, r.Instances())
}
