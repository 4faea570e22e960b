package browser

import (
	"fmt"
	"runtime"

	"go.uber.org/zap"

	"profile-launcher/internal/core"
)

// defaultPriority is the OS-specific engine preference order
func defaultPriority(goos string) []core.EngineFamily {
	switch goos {
	case "windows":
		return []core.EngineFamily{core.EngineChromium, core.EngineGecko}
	case "darwin":
		return []core.EngineFamily{core.EngineChromium, core.EngineWebKit, core.EngineGecko}
	default:
		return []core.EngineFamily{core.EngineChromium, core.EngineGecko}
	}
}

// Selector picks the adapter for a profile
type Selector struct {
	adapters map[core.EngineFamily]core.EngineAdapter
	priority []core.EngineFamily
	logger   *zap.Logger
}

// NewSelector creates a selector over adapters. An empty priority uses the
// OS default order.
func NewSelector(logger *zap.Logger, priority []string, adapters ...core.EngineAdapter) *Selector {
	s := &Selector{
		adapters: make(map[core.EngineFamily]core.EngineAdapter, len(adapters)),
		logger:   logger.With(zap.String("component", "selector")),
	}
	for _, a := range adapters {
		s.adapters[a.Family()] = a
	}
	for _, p := range priority {
		s.priority = append(s.priority, core.EngineFamily(p))
	}
	if len(s.priority) == 0 {
		s.priority = defaultPriority(runtime.GOOS)
	}
	return s
}

// Adapter returns the adapter of family
func (s *Selector) Adapter(family core.EngineFamily) (core.EngineAdapter, error) {
	a, ok := s.adapters[family]
	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrUnsupportedEngine, family)
	}
	return a, nil
}

// Select resolves the adapter and executable for profile. An explicit
// profile engine is honored or fails; otherwise the first installed engine
// in priority order wins.
func (s *Selector) Select(profile *core.Profile) (core.EngineAdapter, string, error) {
	if family := profile.Startup.Engine; family != "" {
		a, err := s.Adapter(family)
		if err != nil {
			return nil, "", err
		}
		exe, err := a.LocateExecutable()
		if err != nil {
			return nil, "", err
		}
		return a, exe, nil
	}

	for _, family := range s.priority {
		a, ok := s.adapters[family]
		if !ok {
			continue
		}
		exe, err := a.LocateExecutable()
		if err != nil {
			s.logger.Debug("engine not installed",
				zap.String("engine", string(family)),
				zap.Error(err))
			continue
		}
		return a, exe, nil
	}
	return nil, "", fmt.Errorf("%w: no engine from %v is installed", core.ErrExecutableNotFound, s.priority)
}
