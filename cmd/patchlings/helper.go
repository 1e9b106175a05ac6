package main

import (
	"github.com/patchlings/patchlings/internal/config"
	"github.com/patchlings/patchlings/internal/engine"
	"github.com/patchlings/patchlings/internal/storage"
)

func dirNameOrDefault(name string) string {
	if name == "" {
		return engine.DefaultDirName
	}
	return name
}

func lockConfig() *storage.FileLockConfig {
	out := storage.DefaultFileLockConfig()

	if d, err := config.DurationOrDefault(cfg.Lock.Timeout, config.DefaultLockTimeout); err == nil {
		out.LockTimeout = d
	}
	if d, err := config.DurationOrDefault(cfg.Lock.Retry, config.DefaultLockRetry); err == nil {
		out.LockRetry = d
	}
	if cfg.Lock.MaxRetry > 0 {
		out.LockMaxRetry = cfg.Lock.MaxRetry
	}
	return out
}
