package instanceguard

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

const terminatePollInterval = 100 * time.Millisecond

// terminateDuplicates finds other processes whose command line matches the
// signature, asks them to exit, and kills the ones that refuse within the
// grace window.
func terminateDuplicates(ctx context.Context, logger *slog.Logger, signature string, graceWait time.Duration) error {
	pids, err := matchingPIDs(signature)
	if err != nil {
		// /proc may be unavailable in some environments. The flock below
		// still enforces single-instance, so a failed scan is not fatal.
		logger.Warn("duplicate_scan_failed", "error", err.Error())
		return nil
	}
	if len(pids) == 0 {
		return nil
	}

	for _, pid := range pids {
		logger.Warn("duplicate_instance_sigterm", "pid", pid, "signature", signature)
		_ = unix.Kill(pid, unix.SIGTERM)
	}

	deadline := time.Now().Add(graceWait)
	remaining := pids
	for len(remaining) > 0 && time.Now().Before(deadline) {
		timer := time.NewTimer(terminatePollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		alive := remaining[:0]
		for _, pid := range remaining {
			if pidAlive(pid) {
				alive = append(alive, pid)
			}
		}
		remaining = alive
	}

	for _, pid := range remaining {
		logger.Warn("duplicate_instance_sigkill", "pid", pid)
		_ = unix.Kill(pid, unix.SIGKILL)
	}
	return nil
}

// matchingPIDs walks /proc for processes other than ourselves whose command
// line contains the signature.
func matchingPIDs(signature string) ([]int, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, err
	}

	self := os.Getpid()
	var pids []int
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(entry.Name())
		if err != nil || pid <= 0 || pid == self {
			continue
		}
		cmdline, err := os.ReadFile(filepath.Join("/proc", entry.Name(), "cmdline"))
		if err != nil {
			continue
		}
		line := string(bytes.ReplaceAll(cmdline, []byte{0}, []byte{' '}))
		if strings.Contains(line, signature) {
			pids = append(pids, pid)
		}
	}
	sort.Ints(pids)
	return pids, nil
}
