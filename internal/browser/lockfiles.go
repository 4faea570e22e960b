package browser

import (
	"errors"
	"os"
	"path/filepath"
)

// single-instance artifacts engines leave behind after a crash
var lockArtifacts = []string{
	"SingletonLock",
	"SingletonCookie",
	"SingletonSocket",
	"lockfile",
	"parent.lock",
	".parentlock",
	"lock",
}

// CleanupLocks removes stale lock artifacts from userDataDir. Cookies and
// storage are left untouched. It reports whether anything was removed.
func CleanupLocks(userDataDir string) bool {
	removed := false
	for _, name := range lockArtifacts {
		p := filepath.Join(userDataDir, name)
		// SingletonLock is a dangling symlink on linux, so Lstat rather than Stat
		if _, err := os.Lstat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := os.Remove(p); err == nil {
			removed = true
		}
	}
	return removed
}
