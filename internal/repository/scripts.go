package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"profile-launcher/internal/core"
)

const scriptExt = ".yaml"

// ScriptFiles keeps one YAML document per script under a directory.
// It implements core.ScriptStore.
type ScriptFiles struct {
	dir    string
	logger *zap.Logger
	mu     sync.Mutex
}

// NewScriptFiles creates the script directory if needed
func NewScriptFiles(dir string, logger *zap.Logger) (*ScriptFiles, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create scripts directory: %w", err)
	}
	return &ScriptFiles{
		dir:    dir,
		logger: logger.With(zap.String("component", "scripts")),
	}, nil
}

func (s *ScriptFiles) path(id string) (string, error) {
	if id == "" || id != filepath.Base(id) || strings.HasPrefix(id, ".") {
		return "", fmt.Errorf("%w: bad script id %q", core.ErrInvalidScript, id)
	}
	return filepath.Join(s.dir, id+scriptExt), nil
}

// GetScript reads the script stored under id
func (s *ScriptFiles) GetScript(_ context.Context, id string) (*core.Script, error) {
	path, err := s.path(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", core.ErrScriptNotFound, id)
		}
		return nil, fmt.Errorf("failed to read script %s: %w", id, err)
	}

	var script core.Script
	if err := yaml.Unmarshal(data, &script); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", core.ErrInvalidScript, id, err)
	}
	// the file name wins over whatever id the document carries
	script.ID = id
	return &script, nil
}

// SaveScript writes script, assigning a new id when it has none
func (s *ScriptFiles) SaveScript(_ context.Context, script *core.Script) error {
	if script.ID == "" {
		script.ID = uuid.NewString()
	}
	path, err := s.path(script.ID)
	if err != nil {
		return err
	}

	now := time.Now()
	if script.CreatedAt.IsZero() {
		script.CreatedAt = now
	}
	script.UpdatedAt = now

	data, err := yaml.Marshal(script)
	if err != nil {
		return fmt.Errorf("failed to encode script %s: %w", script.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write script %s: %w", script.ID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write script %s: %w", script.ID, err)
	}

	s.logger.Debug("script saved", zap.String("script_id", script.ID), zap.Int("steps", len(script.Steps)))
	return nil
}

// ListScripts returns every readable script ordered by id. Unreadable files
// are logged and skipped.
func (s *ScriptFiles) ListScripts(ctx context.Context) ([]*core.Script, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list scripts: %w", err)
	}

	var scripts []*core.Script
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != scriptExt {
			continue
		}
		script, err := s.GetScript(ctx, strings.TrimSuffix(name, scriptExt))
		if err != nil {
			s.logger.Warn("skipping script", zap.String("file", name), zap.Error(err))
			continue
		}
		scripts = append(scripts, script)
	}

	sort.Slice(scripts, func(i, j int) bool {
		return scripts[i].ID < scripts[j].ID
	})
	return scripts, nil
}

// DeleteScript removes the script stored under id
func (s *ScriptFiles) DeleteScript(_ context.Context, id string) error {
	path, err := s.path(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", core.ErrScriptNotFound, id)
		}
		return fmt.Errorf("failed to delete script %s: %w", id, err)
	}
	return nil
}
