package repository

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"profile-launcher/internal/core"
)

// ScriptEvent reports a script file that was written or removed
type ScriptEvent struct {
	ID      string
	Removed bool
	Script  *core.Script // nil when removed or unreadable
	Err     error
}

// Watch emits an event for every script file written or removed under the
// store directory until ctx is done. The channel is closed on return.
func (s *ScriptFiles) Watch(ctx context.Context) (<-chan ScriptEvent, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create script watcher: %w", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", s.dir, err)
	}

	events := make(chan ScriptEvent, 16)
	go func() {
		defer close(events)
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				ev, relevant := s.translate(ctx, event)
				if !relevant {
					continue
				}
				select {
				case events <- ev:
				case <-ctx.Done():
					return
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("script watcher error", zap.Error(err))
			}
		}
	}()
	return events, nil
}

func (s *ScriptFiles) translate(ctx context.Context, event fsnotify.Event) (ScriptEvent, bool) {
	name := filepath.Base(event.Name)
	if filepath.Ext(name) != scriptExt {
		return ScriptEvent{}, false
	}
	id := strings.TrimSuffix(name, scriptExt)

	switch {
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		return ScriptEvent{ID: id, Removed: true}, true
	case event.Op&(fsnotify.Write|fsnotify.Create) != 0:
		script, err := s.GetScript(ctx, id)
		return ScriptEvent{ID: id, Script: script, Err: err}, true
	}
	return ScriptEvent{}, false
}
