package registry

import (
	"context"
	"errors"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"profile-launcher/internal/core"
)

// supervise waits for the engine behind bc to go away and reports it to
// the disconnect loop
func (r *Registry) supervise(profileID string, generation uint64, bc core.BrowserContext) {
	go func() {
		select {
		case <-bc.Done():
		case <-r.stop:
			return
		}
		select {
		case r.disconnects <- disconnect{profileID: profileID, generation: generation}:
		case <-r.stop:
		}
	}()
}

func (r *Registry) disconnectLoop() {
	defer close(r.loopDone)
	for {
		select {
		case d := <-r.disconnects:
			if r.markClosed(d.profileID, d.generation, "") {
				r.logger.Warn("instance disconnected",
					zap.String("profile_id", d.profileID),
					zap.Uint64("generation", d.generation))
			}
		case <-r.stop:
			return
		}
	}
}

// markClosed flips the record of profileID to CLOSED when it still belongs
// to generation and is not terminal yet
func (r *Registry) markClosed(profileID string, generation uint64, reason string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[profileID]
	if !ok || rec.Generation != generation || rec.Status.Terminal() {
		return false
	}
	rec.Status = core.StatusClosed
	rec.EndTime = r.now()
	if reason != "" {
		rec.Error = reason
	}
	return true
}

// Close shuts the profile's instance down and reports whether one was
// running. The record always ends up CLOSED; failures are only logged.
func (r *Registry) Close(ctx context.Context, profileID string) bool {
	lock := r.keyLock(profileID)
	lock.Lock()
	defer lock.Unlock()

	rec := r.lookup(profileID)
	if rec == nil {
		return false
	}
	snap, _ := r.snapshot(profileID)
	if snap.Status.Terminal() {
		return false
	}

	r.update(rec, func(rec *core.InstanceRecord) {
		rec.Status = core.StatusClosing
	})

	logger := r.logger.With(zap.String("profile_id", profileID))

	if bc := snap.Context; bc != nil {
		if r.opts.SnapshotOnClose {
			if _, err := r.captureCookies(ctx, profileID, bc); err != nil {
				logger.Warn("failed to snapshot cookies before close", zap.Error(err))
			}
		}

		cctx, cancel := context.WithTimeout(ctx, r.opts.CloseTimeout)
		err := bc.Close(cctx)
		cancel()
		if err != nil {
			logger.Warn("graceful close failed, killing", zap.Error(err))
			if err := bc.Kill(); err != nil {
				logger.Warn("failed to kill browser", zap.Error(err))
			}
		}
	}

	r.update(rec, func(rec *core.InstanceRecord) {
		rec.Status = core.StatusClosed
		rec.EndTime = r.now()
	})
	logger.Info("instance closed")
	return true
}

// CloseAll force-terminates every live instance and stops the registry.
// It does not wait for graceful shutdown and must be called once.
func (r *Registry) CloseAll() {
	if r.closed.Swap(true) {
		return
	}

	r.mu.RLock()
	var live []core.InstanceRecord
	for _, rec := range r.records {
		if !rec.Status.Terminal() && rec.Context != nil {
			live = append(live, *rec)
		}
	}
	r.mu.RUnlock()

	var g errgroup.Group
	for _, rec := range live {
		rec := rec
		g.Go(func() error {
			if err := rec.Context.Kill(); err != nil {
				r.logger.Warn("failed to kill browser",
					zap.String("profile_id", rec.ProfileID),
					zap.Error(err))
			}
			r.markClosed(rec.ProfileID, rec.Generation, "")
			return nil
		})
	}
	_ = g.Wait()

	close(r.stop)
	<-r.loopDone

	r.logger.Info("all instances closed", zap.Int("count", len(live)))
}

// callerGone reports whether a liveness check failed because the caller gave up.
// Such a failure says nothing about the engine.
func callerGone(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled)
}

// GetRunningInstance returns a copy of the profile's record after pinging
// the engine. A failed ping closes the record. A ping cut short by the
// caller leaves it untouched.
func (r *Registry) GetRunningInstance(ctx context.Context, profileID string) (*core.InstanceRecord, bool) {
	rec, ok := r.snapshot(profileID)
	if !ok || rec.Status != core.StatusRunning || rec.Context == nil {
		return nil, false
	}

	pctx, cancel := context.WithTimeout(ctx, r.opts.ProbeTimeout)
	err := rec.Context.Ping(pctx)
	cancel()
	if err != nil {
		if callerGone(ctx, err) {
			return nil, false
		}
		if r.markClosed(profileID, rec.Generation, "liveness probe failed: "+err.Error()) {
			r.logger.Warn("instance failed liveness probe",
				zap.String("profile_id", profileID),
				zap.Error(err))
		}
		return nil, false
	}
	return &rec, true
}

// ListRunning returns the live instances. Probes that do not answer within
// the list budget leave their entry listed.
func (r *Registry) ListRunning(ctx context.Context) []core.InstanceSummary {
	r.mu.RLock()
	var candidates []core.InstanceRecord
	for _, rec := range r.records {
		if !rec.Status.Terminal() {
			candidates = append(candidates, *rec)
		}
	}
	r.mu.RUnlock()

	keep := make([]bool, len(candidates))
	var g errgroup.Group
	for i, rec := range candidates {
		i, rec := i, rec
		if rec.Status != core.StatusRunning || rec.Context == nil {
			keep[i] = true
			continue
		}
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, r.opts.ListProbe)
			defer cancel()

			err := rec.Context.Ping(pctx)
			switch {
			case err == nil, errors.Is(err, context.DeadlineExceeded), callerGone(ctx, err):
				keep[i] = true
			default:
				r.markClosed(rec.ProfileID, rec.Generation, "liveness probe failed: "+err.Error())
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]core.InstanceSummary, 0, len(candidates))
	for i, rec := range candidates {
		if keep[i] {
			out = append(out, rec.Summary())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out
}

// Instances returns every retained record, terminal ones included
func (r *Registry) Instances() []core.InstanceSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]core.InstanceSummary, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.Summary())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ProfileID < out[j].ProfileID
	})
	return out
}

// Purge drops a terminal record kept for inspection
func (r *Registry) Purge(profileID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[profileID]
	if !ok || !rec.Status.Terminal() {
		return false
	}
	delete(r.records, profileID)
	return true
}

// Touch marks the profile's instance as recently active
func (r *Registry) Touch(profileID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[profileID]; ok && !rec.Status.Terminal() {
		rec.LastActive = r.now()
	}
}
