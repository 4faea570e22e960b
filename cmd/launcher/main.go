package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"profile-launcher/config"
	"profile-launcher/internal/automation"
	"profile-launcher/internal/browser"
	"profile-launcher/internal/core"
	"profile-launcher/internal/fingerprint"
	"profile-launcher/internal/governor"
	"profile-launcher/internal/registry"
	"profile-launcher/internal/repository"
	"profile-launcher/pkg/utils"
)

var (
	configPath  = flag.String("config", "", "Path to configuration file (default: config.yaml in . or ./config)")
	createName  = flag.String("create", "", "Create a profile with a generated fingerprint")
	engineName  = flag.String("engine", "", "Engine for -create: chromium, gecko or webkit")
	launchID    = flag.String("launch", "", "Launch the instance of a profile")
	closeID     = flag.String("close", "", "Close the instance of a profile after the other actions")
	list        = flag.Bool("list", false, "List profiles and their instances")
	listScripts = flag.Bool("scripts", false, "List stored scripts")
	runScript   = flag.String("run", "", "Run a script (requires -profile)")
	profileID   = flag.String("profile", "", "Profile for -run")
	regenerate  = flag.String("regenerate", "", "Regenerate the fingerprint of a profile")
	startURL    = flag.String("url", "", "Start URL for -launch")
	headless    = flag.Bool("headless", false, "Launch headless (overrides config and profile)")
	interactive = flag.Bool("interactive", true, "Read commands from stdin while instances run")
	vars        = utils.KeyValues{}
)

func main() {
	flag.Var(vars, "var", "Script variable name=value (repeatable)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Profile launcher starting", zap.String("config_path", *configPath))

	a, err := newApp(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a.background(ctx)

	if err := a.runFlags(ctx); err != nil {
		logger.Error("Command failed", zap.Error(err))
		a.shutdown()
		os.Exit(1)
	}

	if len(a.reg.ListRunning(ctx)) > 0 || a.hasActiveTasks() {
		logger.Info("Instances running; press Ctrl+C to close them all")
		if *interactive {
			go a.shell(ctx, cancel, os.Stdin, os.Stdout)
		}
		<-ctx.Done()
		logger.Info("Shutdown signal received, closing instances...")
	}

	a.shutdown()
	logger.Info("Profile launcher stopped")
}

func newLogger(cfg *core.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	if cfg.Log.Development {
		zc := zap.NewDevelopmentConfig()
		zc.Level = zap.NewAtomicLevelAt(level)
		return zc.Build()
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// app holds the wired components
type app struct {
	cfg     *core.Config
	logger  *zap.Logger
	repo    *repository.SQLiteRepository
	scripts *repository.ScriptFiles
	runner  *browser.PlaywrightRunner
	reg     *registry.Registry
	engine  *automation.Engine
	gov     *governor.Governor
}

func newApp(cfg *core.Config, logger *zap.Logger) (*app, error) {
	repo, err := repository.NewSQLiteRepository(cfg.Paths.Database, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("Repository initialized", zap.String("db_path", cfg.Paths.Database))

	scripts, err := repository.NewScriptFiles(cfg.Paths.ScriptsDir, logger)
	if err != nil {
		repo.Close()
		return nil, err
	}

	pipeline := fingerprint.NewPipeline(logger)
	runner := browser.NewPlaywrightRunner()
	selector := browser.NewSelector(logger, cfg.Browser.EnginePriority,
		browser.NewChromiumAdapter(browser.SettingsFor(cfg, core.EngineChromium), pipeline, logger),
		browser.NewGeckoAdapter(runner, browser.SettingsFor(cfg, core.EngineGecko), pipeline, logger),
		browser.NewWebKitAdapter(runner, browser.SettingsFor(cfg, core.EngineWebKit), pipeline, logger),
	)

	reg := registry.New(repo, selector, registry.Options{
		BaseDir:         cfg.Paths.BaseDir,
		DownloadRoot:    cfg.Paths.DownloadDir,
		DebugPortBase:   cfg.Browser.DebugPortBase,
		LaunchTimeout:   cfg.Browser.LaunchTimeout,
		SnapshotOnClose: true,
	}, logger)

	engine := automation.NewEngine(reg, scripts, repo, automation.Options{
		TaskRetention:     cfg.Automation.TaskRetention,
		DefaultRetryDelay: cfg.Automation.DefaultRetryDelay,
		StepTimeout:       cfg.Browser.NavigationTimeout,
		ScreenshotDir:     cfg.Paths.ScreenshotDir,
		AutoLaunch:        true,
		Humanize:          cfg.Automation.Humanize,
	}, logger)

	a := &app{
		cfg:     cfg,
		logger:  logger,
		repo:    repo,
		scripts: scripts,
		runner:  runner,
		reg:     reg,
		engine:  engine,
	}

	if cfg.Governor.Enabled {
		a.gov, err = governor.New(reg, governor.Options{
			MaxInstances: cfg.Governor.MaxInstances,
			PollInterval: cfg.Governor.PollInterval,
		}, logger)
		if err != nil {
			a.shutdown()
			return nil, err
		}
	}

	return a, nil
}

// background starts the governor, folder acknowledgements and script validation
func (a *app) background(ctx context.Context) {
	if a.gov != nil {
		go a.gov.Run(ctx)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case f := <-a.reg.Folders():
				a.logger.Info("Download folder opened",
					zap.String("profile_id", f.ProfileID),
					zap.String("path", f.Path))
			}
		}
	}()

	events, err := a.scripts.Watch(ctx)
	if err != nil {
		a.logger.Warn("Script watcher unavailable", zap.Error(err))
		return
	}
	go func() {
		for ev := range events {
			switch {
			case ev.Removed:
				a.logger.Info("Script removed", zap.String("script_id", ev.ID))
			case ev.Err != nil:
				a.logger.Warn("Script unreadable", zap.String("script_id", ev.ID), zap.Error(ev.Err))
			default:
				if err := automation.Validate(ev.Script); err != nil {
					a.logger.Warn("Script invalid", zap.String("script_id", ev.ID), zap.Error(err))
					continue
				}
				a.logger.Info("Script updated", zap.String("script_id", ev.ID), zap.Int("steps", len(ev.Script.Steps)))
			}
		}
	}()
}

// runFlags performs the one-shot actions in a fixed order: create,
// regenerate, list, launch, run, close
func (a *app) runFlags(ctx context.Context) error {
	if *createName != "" {
		family := core.EngineFamily(strings.ToLower(*engineName))
		profile := &core.Profile{
			Name:        *createName,
			Fingerprint: fingerprint.Generate(rand.New(rand.NewSource(time.Now().UnixNano())), family),
			Startup:     core.Startup{Engine: family},
		}
		if err := a.repo.CreateProfile(ctx, profile); err != nil {
			return err
		}
		fmt.Printf("created profile %s (%s)\n", profile.ID, profile.Name)
	}

	if *regenerate != "" {
		fp, err := a.reg.RegenerateFingerprint(ctx, *regenerate)
		if err != nil {
			return err
		}
		fmt.Printf("regenerated %s: %s\n", *regenerate, fp.UserAgent)
	}

	if *list {
		if err := a.printProfiles(ctx, os.Stdout); err != nil {
			return err
		}
	}
	if *listScripts {
		if err := a.printScripts(ctx, os.Stdout); err != nil {
			return err
		}
	}

	if *launchID != "" {
		opts := core.LaunchOptions{StartURL: *startURL}
		flag.Visit(func(f *flag.Flag) {
			if f.Name == "headless" {
				opts.Headless = headless
			}
		})
		handle, err := a.reg.Launch(ctx, *launchID, opts)
		if err != nil {
			return err
		}
		fmt.Printf("launched %s (%s) at %s\n", handle.ProfileID, handle.Engine, handle.Endpoint)
	}

	if *runScript != "" {
		if *profileID == "" {
			return fmt.Errorf("-run requires -profile")
		}
		task, err := a.runAndWait(ctx, *profileID, *runScript, vars)
		if err != nil {
			return err
		}
		printTask(os.Stdout, task)
	}

	if *closeID != "" {
		if !a.reg.Close(ctx, *closeID) {
			fmt.Printf("%s was not running\n", *closeID)
		}
	}
	return nil
}

func (a *app) runAndWait(ctx context.Context, profileID, scriptID string, vars map[string]string) (core.AutomationTask, error) {
	id, err := a.engine.RunScript(ctx, profileID, scriptID, vars)
	if err != nil {
		return core.AutomationTask{}, err
	}
	a.logger.Info("Task started", zap.String("task_id", id))

	task, err := a.engine.Wait(ctx, id)
	if err != nil {
		// interrupted; ask the task to stop before its next step
		_ = a.engine.StopTask(id)
	}
	return task, err
}

func (a *app) hasActiveTasks() bool {
	for _, t := range a.engine.Tasks() {
		if !t.Status.Terminal() {
			return true
		}
	}
	return false
}

func (a *app) shutdown() {
	for _, t := range a.engine.Tasks() {
		if !t.Status.Terminal() {
			_ = a.engine.StopTask(t.ID)
		}
	}

	a.reg.CloseAll()

	if err := a.runner.Stop(); err != nil {
		a.logger.Warn("Failed to stop playwright driver", zap.Error(err))
	}
	if err := a.repo.Close(); err != nil {
		a.logger.Error("Failed to close repository", zap.Error(err))
	}
}
