package automation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"profile-launcher/internal/core"
	"profile-launcher/internal/stealth"
)

const (
	defaultRetention   = 30 * time.Minute
	defaultRetryDelay  = time.Second
	defaultStepTimeout = 30 * time.Second
)

// Options configures an Engine
type Options struct {
	TaskRetention     time.Duration
	DefaultRetryDelay time.Duration
	StepTimeout       time.Duration
	ScreenshotDir     string
	AutoLaunch        bool
	Humanize          core.HumanizeConfig
}

// Engine runs scripts against profile instances, one task per profile at a time
type Engine struct {
	source  core.InstanceSource
	scripts core.ScriptStore
	runs    core.TaskLog
	opts    Options
	logger  *zap.Logger
	now     core.Clock

	tasks *cache.Cache // task id -> *task

	mu   sync.Mutex
	busy map[string]string // profile id -> running task id
}

// NewEngine creates an automation engine. runs may be nil.
func NewEngine(source core.InstanceSource, scripts core.ScriptStore, runs core.TaskLog, opts Options, logger *zap.Logger) *Engine {
	if opts.TaskRetention <= 0 {
		opts.TaskRetention = defaultRetention
	}
	if opts.DefaultRetryDelay <= 0 {
		opts.DefaultRetryDelay = defaultRetryDelay
	}
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = defaultStepTimeout
	}
	if opts.ScreenshotDir == "" {
		opts.ScreenshotDir = "screenshots"
	}
	return &Engine{
		source:  source,
		scripts: scripts,
		runs:    runs,
		opts:    opts,
		logger:  logger.With(zap.String("component", "automation")),
		now:     time.Now,
		tasks:   cache.New(opts.TaskRetention, opts.TaskRetention/2),
		busy:    make(map[string]string),
	}
}

// task is the mutable state behind one AutomationTask
type task struct {
	mu    sync.Mutex
	state core.AutomationTask

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func (t *task) stopped() bool {
	select {
	case <-t.stop:
		return true
	default:
		return false
	}
}

func (t *task) snapshot() core.AutomationTask {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.state
	out.Results = append([]core.StepResult(nil), t.state.Results...)
	out.Variables = make(map[string]string, len(t.state.Variables))
	for k, v := range t.state.Variables {
		out.Variables[k] = v
	}
	return out
}

func (t *task) record(r core.StepResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.Results = append(t.state.Results, r)
}

// RunScript loads scriptID and starts it against profileID
func (e *Engine) RunScript(ctx context.Context, profileID, scriptID string, vars map[string]string) (string, error) {
	script, err := e.scripts.GetScript(ctx, scriptID)
	if err != nil {
		return "", err
	}
	return e.Start(ctx, profileID, script, vars)
}

// Start validates script, connects to the profile's instance and runs the
// script in the background. It returns the task id.
func (e *Engine) Start(ctx context.Context, profileID string, script *core.Script, vars map[string]string) (string, error) {
	if err := Validate(script); err != nil {
		return "", err
	}

	now := e.now()
	id := fmt.Sprintf("%s-%d", profileID, now.UnixNano())

	e.mu.Lock()
	if running, ok := e.busy[profileID]; ok {
		e.mu.Unlock()
		return "", fmt.Errorf("%w: %s runs %s", core.ErrProfileBusy, profileID, running)
	}
	e.busy[profileID] = id
	e.mu.Unlock()

	handle, err := e.source.Connect(ctx, profileID, core.LaunchOptions{AutoLaunch: e.opts.AutoLaunch})
	if err != nil {
		e.release(profileID, id)
		return "", err
	}

	variables := make(map[string]string, len(script.Variables)+len(vars))
	for k, v := range script.Variables {
		variables[k] = v
	}
	for k, v := range vars {
		variables[k] = v
	}

	t := &task{
		state: core.AutomationTask{
			ID:        id,
			ProfileID: profileID,
			ScriptID:  script.ID,
			Variables: variables,
			Status:    core.TaskPending,
			StartTime: now,
		},
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	e.tasks.Set(id, t, cache.NoExpiration)

	go e.run(t, script, handle)
	return id, nil
}

func (e *Engine) release(profileID, taskID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.busy[profileID] == taskID {
		delete(e.busy, profileID)
	}
}

func (e *Engine) lookup(taskID string) (*task, error) {
	v, ok := e.tasks.Get(taskID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrTaskNotFound, taskID)
	}
	return v.(*task), nil
}

// StopTask asks a task to stop before its next step
func (e *Engine) StopTask(taskID string) error {
	t, err := e.lookup(taskID)
	if err != nil {
		return err
	}
	t.stopOnce.Do(func() { close(t.stop) })
	return nil
}

// GetTaskStatus returns a snapshot of a task
func (e *Engine) GetTaskStatus(taskID string) (core.AutomationTask, error) {
	t, err := e.lookup(taskID)
	if err != nil {
		return core.AutomationTask{}, err
	}
	return t.snapshot(), nil
}

// Wait blocks until the task is terminal or ctx is done
func (e *Engine) Wait(ctx context.Context, taskID string) (core.AutomationTask, error) {
	t, err := e.lookup(taskID)
	if err != nil {
		return core.AutomationTask{}, err
	}
	select {
	case <-t.done:
		return t.snapshot(), nil
	case <-ctx.Done():
		return t.snapshot(), ctx.Err()
	}
}

// Tasks lists the retained tasks, newest first
func (e *Engine) Tasks() []core.AutomationTask {
	items := e.tasks.Items()
	out := make([]core.AutomationTask, 0, len(items))
	for _, item := range items {
		out = append(out, item.Object.(*task).snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartTime.After(out[j].StartTime)
	})
	return out
}

func (e *Engine) run(t *task, script *core.Script, handle *core.InstanceHandle) {
	logger := e.logger.With(
		zap.String("task_id", t.state.ID),
		zap.String("profile_id", handle.ProfileID),
		zap.String("script_id", script.ID))

	defer func() {
		e.finish(t, logger)
		close(t.done)
	}()

	t.mu.Lock()
	t.state.Status = core.TaskRunning
	t.mu.Unlock()

	ctx := context.Background()
	page, err := handle.Context.NewPage(ctx)
	if err != nil {
		e.setOutcome(t, core.TaskFailed, fmt.Errorf("failed to open page: %w", err))
		return
	}
	defer func() {
		if err := page.Close(); err != nil {
			logger.Warn("failed to close task page", zap.Error(err))
		}
	}()

	env := &runEnv{
		taskID:        t.state.ID,
		page:          page,
		human:         stealth.NewStealth(e.opts.Humanize, e.now().UnixNano()),
		vars:          copyVars(t.state.Variables),
		postLoad:      handle.PostLoadScript,
		stepTimeout:   e.opts.StepTimeout,
		screenshotDir: e.opts.ScreenshotDir,
		logger:        logger,
	}

	retryDelay := e.opts.DefaultRetryDelay
	if script.ErrorHandling.RetryDelay > 0 {
		retryDelay = millis(script.ErrorHandling.RetryDelay)
	}
	policy := newRetryPolicy(script.ErrorHandling)

	logger.Info("task started", zap.Int("steps", len(script.Steps)))

	status, runErr := e.steps(ctx, t, env, script, policy, retryDelay, handle.ProfileID, logger)
	e.setOutcome(t, status, runErr)
}

// steps runs the script in order and returns the terminal status
func (e *Engine) steps(ctx context.Context, t *task, env *runEnv, script *core.Script, policy *retryPolicy, retryDelay time.Duration, profileID string, logger *zap.Logger) (core.TaskStatus, error) {
	var failures []error

	for i, raw := range script.Steps {
		attempt := 1
		for {
			if t.stopped() {
				t.record(core.StepResult{Index: i, Kind: raw.Type, Attempt: attempt, Status: core.StepCancelled})
				logger.Info("task stopped", zap.Int("step", i))
				return core.TaskStopped, nil
			}

			spec := interpolateSpec(raw, env.vars)

			start := e.now()
			output, err := e.attempt(ctx, t, env, i, spec)
			e.source.Touch(profileID)

			result := core.StepResult{
				Index:    i,
				Kind:     raw.Type,
				Attempt:  attempt,
				Output:   output,
				Duration: e.now().Sub(start),
			}

			outcome := policy.Attempt(err)
			switch outcome {
			case Success:
				result.Status = core.StepSucceeded
			case Retry:
				result.Status = core.StepRetrying
				result.Error = err.Error()
			case GiveUp:
				result.Status = core.StepFailed
				result.Error = err.Error()
			}
			t.record(result)

			if outcome == Success {
				break
			}

			stepErr := &core.StepError{Index: i, Kind: raw.Type, Err: err}
			if outcome == Retry {
				logger.Warn("step failed, retrying",
					zap.Int("step", i),
					zap.Int("attempt", attempt),
					zap.Int("retries_used", policy.Retries()),
					zap.Error(err))
				select {
				case <-time.After(retryDelay):
				case <-t.stop:
				}
				attempt++
				continue
			}

			logger.Warn("step failed", zap.Int("step", i), zap.Error(err))
			if policy.AfterGiveUp() == core.OnErrorAbort {
				return core.TaskFailed, stepErr
			}
			failures = append(failures, stepErr)
			break
		}
	}

	return core.TaskCompleted, errors.Join(failures...)
}

// attempt decodes and executes one step, turning a panic in an engine
// binding into a step error
func (e *Engine) attempt(ctx context.Context, t *task, env *runEnv, index int, spec core.StepSpec) (output string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("step panicked: %v", r)
		}
	}()

	step, err := Decode(spec)
	if err != nil {
		return "", err
	}

	output, err = env.execute(ctx, index, step)
	if s, ok := step.(ExtractStep); ok && err == nil && s.Variable != "" {
		t.mu.Lock()
		t.state.Variables[s.Variable] = output
		t.mu.Unlock()
	}
	return output, err
}

func copyVars(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (e *Engine) setOutcome(t *task, status core.TaskStatus, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.Status = status
	t.state.EndTime = e.now()
	if err != nil {
		t.state.Error = err.Error()
	}
}

func (e *Engine) finish(t *task, logger *zap.Logger) {
	snap := t.snapshot()
	e.release(snap.ProfileID, snap.ID)
	e.tasks.Set(snap.ID, t, cache.DefaultExpiration)

	logger.Info("task finished",
		zap.String("status", string(snap.Status)),
		zap.Int("results", len(snap.Results)),
		zap.Duration("elapsed", snap.EndTime.Sub(snap.StartTime)))

	if e.runs == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.runs.RecordTaskRun(ctx, &snap); err != nil {
		logger.Warn("failed to record task run", zap.Error(err))
	}
}
