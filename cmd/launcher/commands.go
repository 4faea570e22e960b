package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"profile-launcher/internal/core"
	"profile-launcher/pkg/utils"
)

const shellHelp = `commands:
  launch <profile> [url]        start an instance
  close <profile>               close an instance
  attach <profile> <engine> <endpoint>
                                adopt an engine started elsewhere
  list                          profiles and instances
  scripts                       stored scripts
  run <script> <profile> [k=v]  start a script task
  status <task>                 show a task
  stop <task>                   stop a task before its next step
  tasks                         retained tasks
  regenerate <profile>          new fingerprint, applied on next launch
  cookies <profile>             save the instance cookies to the profile
  folder <profile>              open the download folder
  clear-cookies <profile> <url>
  clear-storage <profile> <url>
  clear-cache <profile>
  quit                          close everything and exit
`

// shell reads commands from in until it is closed, ctx is done, or quit is
// entered
func (a *app) shell(ctx context.Context, quit context.CancelFunc, in io.Reader, out io.Writer) {
	scanner := bufio.NewScanner(in)
	fmt.Fprint(out, "> ")
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) > 0 {
			if fields[0] == "quit" || fields[0] == "exit" {
				quit()
				return
			}
			if err := a.exec(ctx, out, fields[0], fields[1:]); err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}
		}
		fmt.Fprint(out, "> ")
	}
}

func need(args []string, n int, usage string) error {
	if len(args) < n {
		return fmt.Errorf("usage: %s", usage)
	}
	return nil
}

// exec runs one shell command
func (a *app) exec(ctx context.Context, out io.Writer, cmd string, args []string) error {
	switch cmd {
	case "help", "?":
		fmt.Fprint(out, shellHelp)

	case "launch":
		if err := need(args, 1, "launch <profile> [url]"); err != nil {
			return err
		}
		opts := core.LaunchOptions{}
		if len(args) > 1 {
			opts.StartURL = args[1]
		}
		handle, err := a.reg.Launch(ctx, args[0], opts)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "launched %s (%s) at %s\n", handle.ProfileID, handle.Engine, handle.Endpoint)

	case "attach":
		if err := need(args, 3, "attach <profile> <engine> <endpoint>"); err != nil {
			return err
		}
		handle, err := a.reg.Attach(ctx, args[0], core.EngineFamily(strings.ToLower(args[1])), args[2])
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "attached %s (%s) at %s\n", handle.ProfileID, handle.Engine, handle.Endpoint)

	case "close":
		if err := need(args, 1, "close <profile>"); err != nil {
			return err
		}
		if !a.reg.Close(ctx, args[0]) {
			fmt.Fprintf(out, "%s was not running\n", args[0])
		}

	case "list":
		return a.printProfiles(ctx, out)

	case "scripts":
		return a.printScripts(ctx, out)

	case "run":
		if err := need(args, 2, "run <script> <profile> [name=value...]"); err != nil {
			return err
		}
		kv := utils.KeyValues{}
		for _, pair := range args[2:] {
			if err := kv.Set(pair); err != nil {
				return err
			}
		}
		id, err := a.engine.RunScript(ctx, args[1], args[0], kv)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "task %s started\n", id)

	case "status":
		if err := need(args, 1, "status <task>"); err != nil {
			return err
		}
		task, err := a.engine.GetTaskStatus(args[0])
		if err != nil {
			return err
		}
		printTask(out, task)

	case "stop":
		if err := need(args, 1, "stop <task>"); err != nil {
			return err
		}
		if err := a.engine.StopTask(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(out, "stop requested for %s\n", args[0])

	case "tasks":
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TASK\tPROFILE\tSCRIPT\tSTATUS\tSTEPS\tELAPSED")
		now := time.Now()
		for _, t := range a.engine.Tasks() {
			end := t.EndTime
			if end.IsZero() {
				end = now
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
				t.ID, t.ProfileID, t.ScriptID, t.Status, len(t.Results), utils.FormatDuration(end.Sub(t.StartTime)))
		}
		return w.Flush()

	case "regenerate":
		if err := need(args, 1, "regenerate <profile>"); err != nil {
			return err
		}
		fp, err := a.reg.RegenerateFingerprint(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "regenerated %s: %s\n", args[0], fp.UserAgent)

	case "cookies":
		if err := need(args, 1, "cookies <profile>"); err != nil {
			return err
		}
		n, err := a.reg.SnapshotCookies(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "saved %d cookies\n", n)

	case "folder":
		if err := need(args, 1, "folder <profile>"); err != nil {
			return err
		}
		f, err := a.reg.OpenDownloadFolder(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(out, f.Path)

	case "clear-cookies":
		if err := need(args, 2, "clear-cookies <profile> <url>"); err != nil {
			return err
		}
		return a.reg.ClearCookies(ctx, args[0], args[1])

	case "clear-storage":
		if err := need(args, 2, "clear-storage <profile> <url>"); err != nil {
			return err
		}
		return a.reg.ClearLocalStorage(ctx, args[0], args[1])

	case "clear-cache":
		if err := need(args, 1, "clear-cache <profile>"); err != nil {
			return err
		}
		return a.reg.ClearCache(ctx, args[0])

	default:
		a.logger.Debug("unknown shell command", zap.String("command", cmd))
		return fmt.Errorf("unknown command %q (try help)", cmd)
	}
	return nil
}

// printProfiles lists stored profiles joined with this process's instances
func (a *app) printProfiles(ctx context.Context, out io.Writer) error {
	profiles, err := a.repo.ListProfiles(ctx)
	if err != nil {
		return err
	}

	instances := make(map[string]core.InstanceSummary)
	for _, s := range a.reg.Instances() {
		instances[s.ProfileID] = s
	}
	// re-validate liveness of the ones claiming to run
	for _, s := range a.reg.ListRunning(ctx) {
		instances[s.ProfileID] = s
	}

	now := time.Now()
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PROFILE\tNAME\tENGINE\tSTATUS\tUPTIME\tUSER AGENT")
	for _, p := range profiles {
		status, uptime := "-", "-"
		engine := string(p.Startup.Engine)
		if s, ok := instances[p.ID]; ok {
			status = string(s.Status)
			engine = string(s.Engine)
			if s.Status == core.StatusRunning {
				uptime = utils.Uptime(s.StartTime, now)
			}
		}
		if engine == "" {
			engine = "auto"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			p.ID, p.Name, engine, status, uptime, utils.Truncate(p.Fingerprint.UserAgent, 48))
	}
	return w.Flush()
}

func (a *app) printScripts(ctx context.Context, out io.Writer) error {
	scripts, err := a.scripts.ListScripts(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SCRIPT\tNAME\tSTEPS\tON ERROR")
	for _, s := range scripts {
		onError := string(s.ErrorHandling.OnError)
		if onError == "" {
			onError = string(core.OnErrorContinue)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", s.ID, utils.Truncate(s.Name, 32), len(s.Steps), onError)
	}
	return w.Flush()
}

func printTask(out io.Writer, t core.AutomationTask) {
	fmt.Fprintf(out, "task %s: %s", t.ID, t.Status)
	if !t.EndTime.IsZero() {
		fmt.Fprintf(out, " after %s", utils.FormatDuration(t.EndTime.Sub(t.StartTime)))
	}
	fmt.Fprintln(out)
	for _, r := range t.Results {
		line := fmt.Sprintf("  #%d %-10s attempt %d  %s", r.Index, r.Kind, r.Attempt, r.Status)
		if r.Output != "" {
			line += "  " + utils.Truncate(r.Output, 60)
		}
		if r.Error != "" {
			line += "  error: " + utils.Truncate(r.Error, 80)
		}
		fmt.Fprintln(out, line)
	}
	if t.Error != "" {
		fmt.Fprintf(out, "  %s\n", t.Error)
	}
}
