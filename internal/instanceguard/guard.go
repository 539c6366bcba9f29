package instanceguard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/tonyazhuuki/tldr-buddy/internal/fsstore"
)

var ErrLockUnavailable = errors.New("instanceguard: lock unavailable")

const (
	defaultGraceWait = 5 * time.Second
	lockFilePerm     = 0o600
	staleRetryLimit  = 3
)

type Config struct {
	// LockPath is the well-known lock file location.
	LockPath string
	// Signature is matched against other processes' command lines to find
	// competing instances. Empty disables the duplicate scan.
	Signature string
	// GraceWait bounds how long a duplicate gets to exit after SIGTERM
	// before it is killed.
	GraceWait time.Duration
}

// Owner is the JSON payload stored in the lock file. Its presence and content
// are the externally observable proof of single-instance enforcement.
type Owner struct {
	PID        int       `json:"pid"`
	Hostname   string    `json:"hostname"`
	AcquiredAt time.Time `json:"acquired_at"`
}

type Handle struct {
	path    string
	file    *os.File
	owner   Owner
	logger  *slog.Logger
	release sync.Once
}

// Acquire clears competing instances, then takes an exclusive flock on the
// lock file. A live holder that survives cleanup makes Acquire fail with
// ErrLockUnavailable; the caller is expected to abort startup.
func Acquire(ctx context.Context, logger *slog.Logger, cfg Config) (*Handle, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.LockPath == "" {
		return nil, fmt.Errorf("%w: empty lock path", ErrLockUnavailable)
	}
	if cfg.GraceWait <= 0 {
		cfg.GraceWait = defaultGraceWait
	}

	if cfg.Signature != "" {
		if err := terminateDuplicates(ctx, logger, cfg.Signature, cfg.GraceWait); err != nil {
			return nil, err
		}
	}

	for attempt := 0; attempt < staleRetryLimit; attempt++ {
		h, stale, err := tryLock(logger, cfg.LockPath)
		if err != nil {
			return nil, err
		}
		if h != nil {
			return h, nil
		}
		if !stale {
			return nil, lockHeldError(cfg.LockPath)
		}
		// Stale lock: owner is gone but the file lingers. Remove and retry.
		logger.Warn("instance_lock_stale_reclaim", "path", cfg.LockPath)
		_ = os.Remove(cfg.LockPath)
	}
	return nil, lockHeldError(cfg.LockPath)
}

// tryLock returns (handle, _, nil) on success, (nil, stale, nil) when the lock
// is held by someone else, or an error for anything unexpected.
func tryLock(logger *slog.Logger, path string) (*Handle, bool, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, lockFilePerm)
	if err != nil {
		return nil, false, fmt.Errorf("%w: open %s: %v", ErrLockUnavailable, path, err)
	}

	fd := int(file.Fd())
	for {
		err = unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			break
		}
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EAGAIN) {
			stale := false
			if owner, ok, _ := ReadOwner(path); ok {
				stale = !pidAlive(owner.PID)
			}
			_ = file.Close()
			return nil, stale, nil
		}
		_ = file.Close()
		return nil, false, fmt.Errorf("%w: flock %s: %v", ErrLockUnavailable, path, err)
	}

	host, _ := os.Hostname()
	owner := Owner{
		PID:        os.Getpid(),
		Hostname:   host,
		AcquiredAt: time.Now().UTC(),
	}
	if err := writeOwner(file, owner); err != nil {
		_ = unix.Flock(fd, unix.LOCK_UN)
		_ = file.Close()
		return nil, false, err
	}

	logger.Info("instance_lock_acquired", "path", path, "pid", owner.PID)
	return &Handle{path: path, file: file, owner: owner, logger: logger}, false, nil
}

// Release drops the flock and removes the lock file. Safe to call more than
// once and from deferred shutdown paths.
func (h *Handle) Release() {
	if h == nil {
		return
	}
	h.release.Do(func() {
		_ = unix.Flock(int(h.file.Fd()), unix.LOCK_UN)
		_ = h.file.Close()
		_ = os.Remove(h.path)
		if h.logger != nil {
			h.logger.Info("instance_lock_released", "path", h.path, "pid", h.owner.PID)
		}
	})
}

func (h *Handle) Owner() Owner { return h.owner }

func (h *Handle) Path() string { return h.path }

// ReadOwner reads the lock file metadata. ok is false when the file does not
// exist or holds no usable payload.
func ReadOwner(path string) (Owner, bool, error) {
	var owner Owner
	ok, err := fsstore.ReadJSON(path, &owner)
	if err != nil || !ok {
		return Owner{}, false, err
	}
	if owner.PID <= 0 {
		return Owner{}, false, nil
	}
	return owner, true, nil
}

func writeOwner(file *os.File, owner Owner) error {
	data, err := json.Marshal(owner)
	if err != nil {
		return fmt.Errorf("%w: encode owner: %v", ErrLockUnavailable, err)
	}
	data = append(data, '\n')
	if err := file.Truncate(0); err != nil {
		return fmt.Errorf("%w: truncate: %v", ErrLockUnavailable, err)
	}
	if _, err := file.Seek(0, 0); err != nil {
		return fmt.Errorf("%w: seek: %v", ErrLockUnavailable, err)
	}
	if _, err := file.Write(data); err != nil {
		return fmt.Errorf("%w: write owner: %v", ErrLockUnavailable, err)
	}
	return file.Sync()
}

func lockHeldError(path string) error {
	if owner, ok, _ := ReadOwner(path); ok {
		return fmt.Errorf("%w: %s held by pid %d on %s", ErrLockUnavailable, path, owner.PID, owner.Hostname)
	}
	return fmt.Errorf("%w: %s held by another process", ErrLockUnavailable, path)
}

func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}
	return errors.Is(err, unix.EPERM)
}
