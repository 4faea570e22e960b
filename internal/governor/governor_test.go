package governor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"profile-launcher/internal/core"
)

type fakeInstances struct {
	mu      sync.Mutex
	running map[string]time.Time
	closed  []string
}

func newFakeInstances() *fakeInstances {
	return &fakeInstances{running: make(map[string]time.Time)}
}

func (f *fakeInstances) set(id string, lastActive time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running[id] = lastActive
}

func (f *fakeInstances) ListRunning(context.Context) []core.InstanceSummary {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]core.InstanceSummary, 0, len(f.running))
	for id, at := range f.running {
		out = append(out, core.InstanceSummary{ProfileID: id, Status: core.StatusRunning, LastActive: at})
	}
	return out
}

func (f *fakeInstances) Close(_ context.Context, id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.running[id]; !ok {
		return false
	}
	delete(f.running, id)
	f.closed = append(f.closed, id)
	return true
}

func (f *fakeInstances) closedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.closed...)
}

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestNewRejectsZeroLimit(t *testing.T) {
	_, err := New(newFakeInstances(), Options{}, zap.NewNop())
	assert.ErrorIs(t, err, core.ErrConfiguration)
}

func TestCheckUnderLimit(t *testing.T) {
	inst := newFakeInstances()
	inst.set("a", t0)
	inst.set("b", t0.Add(time.Second))

	g, err := New(inst, Options{MaxInstances: 2}, zap.NewNop())
	require.NoError(t, err)

	assert.Empty(t, g.Check(context.Background()))
	assert.Empty(t, inst.closedIDs())
}

func TestCheckClosesLeastRecentlyActive(t *testing.T) {
	inst := newFakeInstances()
	inst.set("a", t0.Add(3*time.Minute))
	inst.set("b", t0)
	inst.set("c", t0.Add(5*time.Minute))
	inst.set("d", t0.Add(time.Minute))

	g, err := New(inst, Options{MaxInstances: 2}, zap.NewNop())
	require.NoError(t, err)

	closed := g.Check(context.Background())
	assert.Equal(t, []string{"b", "d"}, closed)
	assert.Equal(t, []string{"b", "d"}, inst.closedIDs())
	assert.Empty(t, g.Check(context.Background()))
}

func TestRecentActivityProtectsInstance(t *testing.T) {
	inst := newFakeInstances()
	inst.set("a", t0)
	inst.set("b", t0.Add(time.Minute))

	g, err := New(inst, Options{MaxInstances: 2}, zap.NewNop())
	require.NoError(t, err)
	require.Empty(t, g.Check(context.Background()))

	// a sees activity, then a third instance starts
	inst.set("a", t0.Add(10*time.Minute))
	inst.set("c", t0.Add(2*time.Minute))

	assert.Equal(t, []string{"b"}, g.Check(context.Background()))
}

func TestForgetsInstancesClosedElsewhere(t *testing.T) {
	inst := newFakeInstances()
	inst.set("a", t0)
	inst.set("b", t0.Add(time.Minute))

	g, err := New(inst, Options{MaxInstances: 2}, zap.NewNop())
	require.NoError(t, err)
	require.Empty(t, g.Check(context.Background()))

	inst.Close(context.Background(), "a")
	inst.set("c", t0.Add(2*time.Minute))

	assert.Empty(t, g.Check(context.Background()))
	assert.Equal(t, 2, g.recent.Len())
}

func TestRunPollsUntilCancelled(t *testing.T) {
	inst := newFakeInstances()
	inst.set("a", t0)
	inst.set("b", t0.Add(time.Minute))

	g, err := New(inst, Options{MaxInstances: 1, PollInterval: 5 * time.Millisecond}, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		g.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return len(inst.closedIDs()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a"}, inst.closedIDs())

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
