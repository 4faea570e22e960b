package governor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"

	"profile-launcher/internal/core"
)

const (
	defaultPollInterval = 30 * time.Second
	trackedCapacity     = 4096
)

// Instances is the registry surface the governor needs. The governor only
// ever asks for a close; the registry stays the sole writer of instance state.
type Instances interface {
	ListRunning(ctx context.Context) []core.InstanceSummary
	Close(ctx context.Context, profileID string) bool
}

// Options configures a Governor
type Options struct {
	MaxInstances int
	PollInterval time.Duration
	CloseTimeout time.Duration
}

// Governor closes the least recently active instances once more than
// MaxInstances are running
type Governor struct {
	instances Instances
	opts      Options
	logger    *zap.Logger

	mu     sync.Mutex
	recent *lru.Cache // profile id -> last observed LastActive, oldest first
}

// New creates a governor. MaxInstances must be positive.
func New(instances Instances, opts Options, logger *zap.Logger) (*Governor, error) {
	if opts.MaxInstances <= 0 {
		return nil, fmt.Errorf("%w: max_instances must be positive", core.ErrConfiguration)
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.CloseTimeout <= 0 {
		opts.CloseTimeout = 15 * time.Second
	}

	recent, err := lru.New(trackedCapacity)
	if err != nil {
		return nil, err
	}

	return &Governor{
		instances: instances,
		opts:      opts,
		logger:    logger.With(zap.String("component", "governor")),
		recent:    recent,
	}, nil
}

// Run polls until ctx is done
func (g *Governor) Run(ctx context.Context) {
	ticker := time.NewTicker(g.opts.PollInterval)
	defer ticker.Stop()

	g.logger.Info("governor started",
		zap.Int("max_instances", g.opts.MaxInstances),
		zap.Duration("poll_interval", g.opts.PollInterval))

	for {
		select {
		case <-ctx.Done():
			g.logger.Info("governor stopped")
			return
		case <-ticker.C:
			g.Check(ctx)
		}
	}
}

// Check runs one poll and returns the profiles it asked the registry to close
func (g *Governor) Check(ctx context.Context) []string {
	victims := g.observe(g.instances.ListRunning(ctx))
	if len(victims) == 0 {
		return nil
	}

	var closed []string
	for _, id := range victims {
		cctx, cancel := context.WithTimeout(ctx, g.opts.CloseTimeout)
		ok := g.instances.Close(cctx, id)
		cancel()

		g.mu.Lock()
		g.recent.Remove(id)
		g.mu.Unlock()

		if !ok {
			g.logger.Debug("instance already gone", zap.String("profile_id", id))
			continue
		}
		g.logger.Info("closed idle instance", zap.String("profile_id", id))
		closed = append(closed, id)
	}
	return closed
}

// observe folds the running set into the recency order and picks the
// instances over the limit, least recently active first
func (g *Governor) observe(running []core.InstanceSummary) []string {
	sort.SliceStable(running, func(i, j int) bool {
		return running[i].LastActive.Before(running[j].LastActive)
	})

	g.mu.Lock()
	defer g.mu.Unlock()

	live := make(map[string]bool, len(running))
	for _, s := range running {
		live[s.ProfileID] = true
		prev, ok := g.recent.Peek(s.ProfileID)
		if !ok || s.LastActive.After(prev.(time.Time)) {
			// Add moves the entry to the most recent end
			g.recent.Add(s.ProfileID, s.LastActive)
		}
	}
	for _, key := range g.recent.Keys() {
		if id := key.(string); !live[id] {
			g.recent.Remove(id)
		}
	}

	excess := g.recent.Len() - g.opts.MaxInstances
	if excess <= 0 {
		return nil
	}

	victims := make([]string, 0, excess)
	for _, key := range g.recent.Keys() {
		if len(victims) == excess {
			break
		}
		victims = append(victims, key.(string))
	}
	g.logger.Info("instance limit exceeded",
		zap.Int("running", g.recent.Len()),
		zap.Int("max_instances", g.opts.MaxInstances),
		zap.Strings("closing", victims))
	return victims
}
