package registry

import (
	"context"
	"fmt"
	"math/rand"

	"go.uber.org/zap"

	"profile-launcher/internal/browser"
	"profile-launcher/internal/core"
	"profile-launcher/internal/fingerprint"
)

// RegenerateFingerprint persists a fresh fingerprint for profileID. A
// running instance keeps its current identity until relaunched.
func (r *Registry) RegenerateFingerprint(ctx context.Context, profileID string) (core.Fingerprint, error) {
	lock := r.keyLock(profileID)
	lock.Lock()
	defer lock.Unlock()

	profile, err := r.store.GetProfile(ctx, profileID)
	if err != nil {
		return core.Fingerprint{}, err
	}

	family := profile.Startup.Engine
	if rec, ok := r.snapshot(profileID); ok && family == "" {
		family = rec.Engine
	}

	rng := rand.New(rand.NewSource(r.now().UnixNano()))
	profile.Fingerprint = fingerprint.Regenerate(rng, family, profile.Fingerprint)
	if err := r.store.SaveProfile(ctx, profile); err != nil {
		return core.Fingerprint{}, fmt.Errorf("failed to save profile: %w", err)
	}

	r.logger.Info("fingerprint regenerated",
		zap.String("profile_id", profileID),
		zap.String("user_agent", profile.Fingerprint.UserAgent))
	return profile.Fingerprint, nil
}

// SnapshotCookies reads the running instance's cookies back into the
// profile store
func (r *Registry) SnapshotCookies(ctx context.Context, profileID string) (int, error) {
	lock := r.keyLock(profileID)
	lock.Lock()
	defer lock.Unlock()

	rec, ok := r.snapshot(profileID)
	if !ok || rec.Status != core.StatusRunning || rec.Context == nil {
		return 0, fmt.Errorf("%w: %s", core.ErrNotRunning, profileID)
	}
	return r.captureCookies(ctx, profileID, rec.Context)
}

func (r *Registry) captureCookies(ctx context.Context, profileID string, bc core.BrowserContext) (int, error) {
	cctx, cancel := context.WithTimeout(ctx, r.opts.ProbeTimeout)
	defer cancel()

	cookies, err := bc.Cookies(cctx)
	if err != nil {
		return 0, err
	}
	profile, err := r.store.GetProfile(cctx, profileID)
	if err != nil {
		return 0, err
	}
	profile.Cookies = cookies
	if err := r.store.SaveProfile(cctx, profile); err != nil {
		return 0, fmt.Errorf("failed to save profile: %w", err)
	}

	r.logger.Debug("cookies captured",
		zap.String("profile_id", profileID),
		zap.Int("count", len(cookies)))
	return len(cookies), nil
}

// OpenDownloadFolder acknowledges an "open containing folder" request and
// publishes it on Folders
func (r *Registry) OpenDownloadFolder(profileID string) (core.FolderOpened, error) {
	ack, err := browser.OpenFolder(r.opts.DownloadRoot, profileID)
	if err != nil {
		return core.FolderOpened{}, err
	}
	select {
	case r.folders <- ack:
	default:
		r.logger.Debug("folder notification dropped, no reader",
			zap.String("profile_id", profileID))
	}
	return ack, nil
}

// Folders delivers folder-opened acknowledgements to the shell
func (r *Registry) Folders() <-chan core.FolderOpened {
	return r.folders
}

// running returns the live record of profileID for an adapter operation
func (r *Registry) running(profileID string) (core.InstanceRecord, error) {
	rec, ok := r.snapshot(profileID)
	if !ok || rec.Status != core.StatusRunning || rec.Context == nil || rec.Adapter == nil {
		return core.InstanceRecord{}, fmt.Errorf("%w: %s", core.ErrNotRunning, profileID)
	}
	return rec, nil
}

// ClearCache drops the HTTP cache of the profile's running instance
func (r *Registry) ClearCache(ctx context.Context, profileID string) error {
	lock := r.keyLock(profileID)
	lock.Lock()
	defer lock.Unlock()

	rec, err := r.running(profileID)
	if err != nil {
		return err
	}
	return rec.Adapter.ClearCache(ctx, rec.Context)
}

// ClearCookies removes the cookies sent to url, or every cookie when url is empty
func (r *Registry) ClearCookies(ctx context.Context, profileID, url string) error {
	lock := r.keyLock(profileID)
	lock.Lock()
	defer lock.Unlock()

	rec, err := r.running(profileID)
	if err != nil {
		return err
	}
	return rec.Adapter.ClearCookies(ctx, rec.Context, url)
}

// ClearLocalStorage empties local storage of the origin of url
func (r *Registry) ClearLocalStorage(ctx context.Context, profileID, url string) error {
	lock := r.keyLock(profileID)
	lock.Lock()
	defer lock.Unlock()

	rec, err := r.running(profileID)
	if err != nil {
		return err
	}
	return rec.Adapter.ClearLocalStorage(ctx, rec.Context, url)
}
