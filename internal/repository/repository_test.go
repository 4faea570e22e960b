package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"profile-launcher/internal/core"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "data", "launcher.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestProfileRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	profile := &core.Profile{
		Name: "work",
		Fingerprint: core.Fingerprint{
			Enabled:     true,
			UserAgent:   "Mozilla/5.0 (Windows NT 10.0; Win64; x64)",
			Languages:   []string{"de-DE", "de"},
			ScreenWidth: 1600,
			WebRTCMode:  core.WebRTCDisable,
			Seed:        42,
		},
		Proxy:   core.Proxy{Enabled: true, Scheme: "socks5", Host: "10.0.0.2", Port: 1080},
		Cookies: []core.Cookie{{Name: "sid", Value: "abc", Domain: ".example.com", Path: "/"}},
	}
	require.NoError(t, repo.CreateProfile(ctx, profile))
	require.NotEmpty(t, profile.ID, "id assigned on create")

	got, err := repo.GetProfile(ctx, profile.ID)
	require.NoError(t, err)
	assert.Equal(t, "work", got.Name)
	assert.Equal(t, profile.Fingerprint, got.Fingerprint)
	assert.Equal(t, profile.Proxy, got.Proxy)
	assert.Equal(t, profile.Cookies, got.Cookies)
}

func TestGetProfileNotFound(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.GetProfile(context.Background(), "nope")
	assert.ErrorIs(t, err, core.ErrProfileNotFound)
	assert.ErrorIs(t, err, core.ErrConfiguration)
}

func TestSaveProfileUpdatesAndInserts(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	profile := &core.Profile{ID: "p1", Name: "alpha"}
	require.NoError(t, repo.SaveProfile(ctx, profile), "save inserts a missing profile")

	profile.Fingerprint.Seed = 99
	profile.Cookies = []core.Cookie{{Name: "a", Value: "1", Domain: "example.com", Path: "/"}}
	require.NoError(t, repo.SaveProfile(ctx, profile))

	got, err := repo.GetProfile(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, uint32(99), got.Fingerprint.Seed)
	assert.Len(t, got.Cookies, 1)

	assert.ErrorIs(t, repo.SaveProfile(ctx, &core.Profile{}), core.ErrConfiguration)
}

func TestListAndDeleteProfiles(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, repo.CreateProfile(ctx, &core.Profile{Name: name}))
	}

	profiles, err := repo.ListProfiles(ctx)
	require.NoError(t, err)
	require.Len(t, profiles, 3)
	assert.Equal(t, "alpha", profiles[0].Name)
	assert.Equal(t, "zeta", profiles[2].Name)

	require.NoError(t, repo.DeleteProfile(ctx, profiles[0].ID))
	assert.ErrorIs(t, repo.DeleteProfile(ctx, profiles[0].ID), core.ErrProfileNotFound)
}

func TestRecordTaskRun(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	task := &core.AutomationTask{
		ID:        "p1-1",
		ProfileID: "p1",
		ScriptID:  "login",
		Status:    core.TaskFailed,
		StartTime: start,
		EndTime:   start.Add(time.Minute),
		Error:     "step 1 (click): element not found",
		Results: []core.StepResult{
			{Index: 0, Status: core.StepSucceeded},
			{Index: 1, Status: core.StepRetrying},
			{Index: 1, Status: core.StepFailed},
		},
	}
	require.NoError(t, repo.RecordTaskRun(ctx, task))

	later := *task
	later.ID = "p1-2"
	later.Status = core.TaskCompleted
	later.StartTime = start.Add(time.Hour)
	later.Results = nil
	require.NoError(t, repo.RecordTaskRun(ctx, &later))
	require.NoError(t, repo.RecordTaskRun(ctx, &core.AutomationTask{ID: "p2-1", ProfileID: "p2", Status: core.TaskStopped}))

	runs, err := repo.TaskRuns(ctx, "p1", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "p1-2", runs[0].TaskID)
	assert.Equal(t, "p1-1", runs[1].TaskID)
	assert.Equal(t, 2, runs[1].Steps)
	assert.Equal(t, 1, runs[1].Failures)
	assert.Equal(t, core.TaskFailed, runs[1].Status)

	all, err := repo.TaskRuns(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	assert.Error(t, repo.RecordTaskRun(ctx, task), "task ids are unique")
}

func newTestScripts(t *testing.T) *ScriptFiles {
	t.Helper()
	store, err := NewScriptFiles(filepath.Join(t.TempDir(), "scripts"), zap.NewNop())
	require.NoError(t, err)
	return store
}

func TestScriptRoundTrip(t *testing.T) {
	store := newTestScripts(t)
	ctx := context.Background()
	y := 300

	script := &core.Script{
		Name:      "login",
		Variables: map[string]string{"user": "ada"},
		Steps: []core.StepSpec{
			{Type: core.StepNavigate, URL: "https://example.com/login", WaitUntil: "networkidle"},
			{Type: core.StepInput, Selector: "#user", Value: "{{user}}", Humanize: true},
			{Type: core.StepScroll, Y: &y},
		},
		ErrorHandling: core.ErrorHandling{OnError: core.OnErrorRetry, MaxRetries: 2, RetryDelay: 500, AfterRetries: core.OnErrorContinue},
	}
	require.NoError(t, store.SaveScript(ctx, script))
	require.NotEmpty(t, script.ID)
	assert.False(t, script.CreatedAt.IsZero())

	got, err := store.GetScript(ctx, script.ID)
	require.NoError(t, err)
	assert.Equal(t, script.Name, got.Name)
	assert.Equal(t, script.Variables, got.Variables)
	assert.Equal(t, script.Steps, got.Steps)
	assert.Equal(t, script.ErrorHandling, got.ErrorHandling)
	assert.True(t, script.CreatedAt.Equal(got.CreatedAt))
}

func TestScriptFromHandWrittenYAML(t *testing.T) {
	store := newTestScripts(t)
	doc := `name: search
steps:
  - type: navigate
    url: https://example.com/?q={{query}}
  - type: wait
    selector: "#results"
    timeout: 5000
  - type: extract
    selector: "#results .first"
    variable: first
errorHandling:
  onError: continue
`
	require.NoError(t, os.WriteFile(filepath.Join(store.dir, "search.yaml"), []byte(doc), 0o644))

	got, err := store.GetScript(context.Background(), "search")
	require.NoError(t, err)
	assert.Equal(t, "search", got.ID)
	require.Len(t, got.Steps, 3)
	assert.Equal(t, core.StepWait, got.Steps[1].Type)
	assert.Equal(t, 5000, got.Steps[1].Timeout)
	assert.Equal(t, "first", got.Steps[2].Variable)
	assert.Equal(t, core.OnErrorContinue, got.ErrorHandling.OnError)
}

func TestScriptNotFoundAndBadIDs(t *testing.T) {
	store := newTestScripts(t)
	ctx := context.Background()

	_, err := store.GetScript(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrScriptNotFound)
	assert.ErrorIs(t, store.DeleteScript(ctx, "missing"), core.ErrScriptNotFound)

	for _, id := range []string{"../escape", "a/b", ".hidden"} {
		_, err := store.GetScript(ctx, id)
		assert.ErrorIs(t, err, core.ErrInvalidScript, id)
	}

	require.NoError(t, os.WriteFile(filepath.Join(store.dir, "broken.yaml"), []byte("steps: [unclosed"), 0o644))
	_, err = store.GetScript(ctx, "broken")
	assert.ErrorIs(t, err, core.ErrInvalidScript)
}

func TestListAndDeleteScripts(t *testing.T) {
	store := newTestScripts(t)
	ctx := context.Background()

	for _, id := range []string{"b", "a", "c"} {
		require.NoError(t, store.SaveScript(ctx, &core.Script{ID: id, Steps: []core.StepSpec{{Type: core.StepClick, Selector: "#x"}}}))
	}
	require.NoError(t, os.WriteFile(filepath.Join(store.dir, "notes.txt"), []byte("ignored"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(store.dir, "bad.yaml"), []byte("steps: [unclosed"), 0o644))

	scripts, err := store.ListScripts(ctx)
	require.NoError(t, err)
	require.Len(t, scripts, 3)
	assert.Equal(t, "a", scripts[0].ID)
	assert.Equal(t, "c", scripts[2].ID)

	require.NoError(t, store.DeleteScript(ctx, "b"))
	scripts, err = store.ListScripts(ctx)
	require.NoError(t, err)
	assert.Len(t, scripts, 2)
}

func nextEvent(t *testing.T, events <-chan ScriptEvent, id string, match func(ScriptEvent) bool) ScriptEvent {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			require.True(t, ok, "watch channel closed early")
			if ev.ID == id && match(ev) {
				return ev
			}
		case <-timeout:
			t.Fatalf("no event for %s", id)
		}
	}
}

func TestWatchScripts(t *testing.T) {
	store := newTestScripts(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := store.Watch(ctx)
	require.NoError(t, err)

	script := &core.Script{ID: "w1", Steps: []core.StepSpec{{Type: core.StepClick, Selector: "#go"}}}
	require.NoError(t, store.SaveScript(ctx, script))
	ev := nextEvent(t, events, "w1", func(ev ScriptEvent) bool { return ev.Script != nil })
	assert.NoError(t, ev.Err)
	assert.Equal(t, "#go", ev.Script.Steps[0].Selector)

	require.NoError(t, os.WriteFile(filepath.Join(store.dir, "broken.yaml"), []byte("steps: [unclosed"), 0o644))
	ev = nextEvent(t, events, "broken", func(ev ScriptEvent) bool { return ev.Err != nil })
	assert.ErrorIs(t, ev.Err, core.ErrInvalidScript)

	require.NoError(t, store.DeleteScript(ctx, "w1"))
	nextEvent(t, events, "w1", func(ev ScriptEvent) bool { return ev.Removed })

	cancel()
	for range events {
	}
}
