package storage

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/patchlings/patchlings/internal/config"

	"github.com/gofrs/flock"
)

// FileLock guards a .patchlings directory against concurrent long-running
// commands. The engine itself carries no cross-process lock; this guard
// belongs to the command layer, which acquires it before constructing an
// engine over a shared directory.
type FileLock struct {
	fileLock   *flock.Flock
	lockPath   string
	acquiredAt time.Time
	mu         sync.Mutex
	cancel     context.CancelFunc
}

type FileLockConfig struct {
	LockTimeout  time.Duration
	LockRetry    time.Duration
	LockMaxRetry int
}

func DefaultFileLockConfig() *FileLockConfig {
	lockTimeout, _ := config.DurationOrDefault(config.DefaultLockTimeout, config.DefaultLockTimeout)
	lockRetry, _ := config.DurationOrDefault(config.DefaultLockRetry, config.DefaultLockRetry)

	return &FileLockConfig{
		LockTimeout:  lockTimeout,
		LockRetry:    lockRetry,
		LockMaxRetry: config.DefaultLockMaxRetry,
	}
}

func NewFileLock(patchlingsDir string, cfg *FileLockConfig) (*FileLock, error) {
	if cfg == nil {
		cfg = DefaultFileLockConfig()
	}

	lockPath := filepath.Join(patchlingsDir, "patchlings.lock")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.LockTimeout)
	fl := &FileLock{
		fileLock: flock.New(lockPath),
		lockPath: lockPath,
		cancel:   cancel,
	}

	if err := fl.acquireWithRetry(ctx, cfg); err != nil {
		cancel()
		return nil, err
	}

	fl.acquiredAt = time.Now()
	slog.Info("Workspace lock acquired", "path", lockPath)
	return fl, nil
}

func (fl *FileLock) acquireWithRetry(ctx context.Context, cfg *FileLockConfig) error {
	for i := 0; i < cfg.LockMaxRetry; i++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("lock acquisition cancelled: %w", ctx.Err())
		default:
			locked, err := fl.fileLock.TryLock()
			if err != nil {
				return fmt.Errorf("failed to attempt lock: %w", err)
			}
			if locked {
				return nil
			}

			if i < cfg.LockMaxRetry-1 {
				time.Sleep(cfg.LockRetry)
			}
		}
	}

	return fmt.Errorf("workspace %s is locked by another instance (timeout after %v)",
		fl.lockPath, cfg.LockTimeout)
}

func (fl *FileLock) Unlock() {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.fileLock == nil {
		slog.Warn("Workspace lock already released", "path", fl.lockPath)
		return
	}

	if err := fl.fileLock.Unlock(); err != nil {
		slog.Error("Failed to release workspace lock", "path", fl.lockPath, "error", err)
	} else {
		slog.Info("Workspace lock released",
			"path", fl.lockPath,
			"held_duration_ms", time.Since(fl.acquiredAt).Milliseconds(),
		)
	}

	if fl.cancel != nil {
		fl.cancel()
	}
	fl.fileLock = nil
}
