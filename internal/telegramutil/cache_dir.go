package telegramutil

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"
)

type cacheEntry struct {
	path    string
	modTime time.Time
	size    int64
}

// EnsureSecureCacheDir creates the downloaded-audio cache directory with
// owner-only permissions and refuses symlinked or foreign-owned paths.
func EnsureSecureCacheDir(dir string) error {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return fmt.Errorf("empty dir")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	dir = abs

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	fi, err := os.Lstat(dir)
	if err != nil {
		return err
	}
	if fi.Mode()&os.ModeSymlink != 0 {
		return fmt.Errorf("refusing symlink path: %s", dir)
	}
	if !fi.IsDir() {
		return fmt.Errorf("not a directory: %s", dir)
	}

	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok || st == nil {
		return fmt.Errorf("unsupported stat for: %s", dir)
	}
	if curUID := uint32(os.Getuid()); st.Uid != curUID {
		return fmt.Errorf("cache dir not owned by current user (uid=%d, owner=%d): %s", curUID, st.Uid, dir)
	}
	if perm := fi.Mode().Perm(); perm != 0o700 {
		if err := os.Chmod(dir, 0o700); err != nil {
			return fmt.Errorf("cache dir has insecure perms (%#o) and chmod failed: %w", perm, err)
		}
	}
	return nil
}

// CleanupCacheDir prunes the flat audio cache by age, then by file count and
// total size, oldest first.
func CleanupCacheDir(dir string, maxAge time.Duration, maxFiles int, maxTotalBytes int64) error {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return fmt.Errorf("missing dir")
	}
	if maxAge <= 0 && maxFiles <= 0 && maxTotalBytes <= 0 {
		return nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	now := time.Now()
	var kept []cacheEntry
	total := int64(0)
	for _, entry := range entries {
		if entry.IsDir() || entry.Type()&os.ModeSymlink != 0 {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if maxAge > 0 && now.Sub(info.ModTime()) > maxAge {
			_ = os.Remove(path)
			continue
		}
		kept = append(kept, cacheEntry{path: path, modTime: info.ModTime(), size: info.Size()})
		total += info.Size()
	}

	sort.Slice(kept, func(i, j int) bool { return kept[i].modTime.Before(kept[j].modTime) })
	needPrune := func() bool {
		if maxFiles > 0 && len(kept) > maxFiles {
			return true
		}
		if maxTotalBytes > 0 && total > maxTotalBytes {
			return true
		}
		return false
	}
	for needPrune() && len(kept) > 0 {
		old := kept[0]
		kept = kept[1:]
		total -= old.size
		_ = os.Remove(old.path)
	}
	return nil
}
