package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/patchlings/patchlings/internal/pathutil"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"
)

type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Engine  EngineConfig  `koanf:"engine"`
	Adapter AdapterConfig `koanf:"adapter"`
	Lock    LockConfig    `koanf:"lock"`
}

type ServerConfig struct {
	Port            int    `koanf:"port"`
	LogLevel        string `koanf:"log_level"`
	ReadTimeout     string `koanf:"read_timeout"`
	WriteTimeout    string `koanf:"write_timeout"`
	ShutdownTimeout string `koanf:"shutdown_timeout"`
}

type EngineConfig struct {
	WorkspaceRoot       string `koanf:"workspace_root"`
	DirName             string `koanf:"dir_name"`
	Threshold           int    `koanf:"events_per_sec_threshold"`
	RecordTelemetry     bool   `koanf:"record_telemetry"`
	Storage             string `koanf:"storage"`
	MaxChaptersInMemory int    `koanf:"max_chapters_in_memory"`
	MaxRecordingBytes   int64  `koanf:"max_recording_bytes"`
	AllowContent        bool   `koanf:"allow_content"`
	WorkspaceSalt       string `koanf:"workspace_salt"`
}

type AdapterConfig struct {
	Source    string `koanf:"source"`
	TailPath  string `koanf:"tail_path"`
	BatchSize int    `koanf:"batch_size"`
	DemoRuns  int    `koanf:"demo_runs"`
	DemoTurns int    `koanf:"demo_turns"`
	DemoSeed  int64  `koanf:"demo_seed"`
}

type LockConfig struct {
	Timeout  string `koanf:"timeout"`
	Retry    string `koanf:"retry"`
	MaxRetry int    `koanf:"max_retry"`
}

const (
	DefaultServerPort            = 8217
	DefaultServerLogLevel        = "info"
	DefaultServerReadTimeout     = "10s"
	DefaultServerWriteTimeout    = "10s"
	DefaultServerShutdownTimeout = "5s"

	DefaultEngineDirName             = ".patchlings"
	DefaultEngineThreshold           = 120
	DefaultEngineStorage             = "fs"
	DefaultEngineMaxChaptersInMemory = 500
	DefaultEngineMaxRecordingBytes   = 2 * 1024 * 1024

	DefaultAdapterSource    = "stdin"
	DefaultAdapterBatchSize = 256
	DefaultAdapterDemoRuns  = 1
	DefaultAdapterDemoTurns = 3
	DefaultAdapterDemoSeed  = 1

	DefaultLockTimeout  = "30s"
	DefaultLockRetry    = "100ms"
	DefaultLockMaxRetry = 300

	// AllowContentEnv is the single environment variable that may flip the
	// allow_content default. It is read once at load time; event processing
	// never consults process state.
	AllowContentEnv = "PATCHLINGS_ALLOW_CONTENT"
)

func Load(cmd *cobra.Command) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"server.port":                     DefaultServerPort,
		"server.log_level":                DefaultServerLogLevel,
		"server.read_timeout":             DefaultServerReadTimeout,
		"server.write_timeout":            DefaultServerWriteTimeout,
		"server.shutdown_timeout":         DefaultServerShutdownTimeout,
		"engine.workspace_root":           "",
		"engine.dir_name":                 DefaultEngineDirName,
		"engine.events_per_sec_threshold": DefaultEngineThreshold,
		"engine.record_telemetry":         false,
		"engine.storage":                  DefaultEngineStorage,
		"engine.max_chapters_in_memory":   DefaultEngineMaxChaptersInMemory,
		"engine.max_recording_bytes":      DefaultEngineMaxRecordingBytes,
		"engine.allow_content":            allowContentDefault(),
		"adapter.source":                  DefaultAdapterSource,
		"adapter.batch_size":              DefaultAdapterBatchSize,
		"adapter.demo_runs":               DefaultAdapterDemoRuns,
		"adapter.demo_turns":              DefaultAdapterDemoTurns,
		"adapter.demo_seed":               DefaultAdapterDemoSeed,
		"lock.timeout":                    DefaultLockTimeout,
		"lock.retry":                      DefaultLockRetry,
		"lock.max_retry":                  DefaultLockMaxRetry,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	configPath := ""
	if cmd != nil {
		if flag := cmd.Flags().Lookup("config"); flag != nil {
			configPath = strings.TrimSpace(flag.Value.String())
		}
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, err
		}
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			globalPath := filepath.Join(home, ".patchlings", "config.yaml")
			if err := k.Load(file.Provider(globalPath), yaml.Parser()); err != nil {
				slog.Debug("Global config not found or invalid", "path", globalPath, "error", err)
			}
		}
	}

	k.Load(env.Provider("PATCHLINGS_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "PATCHLINGS_")), "_", ".", -1)
	}), nil)

	if cmd != nil {
		k.Load(posflag.Provider(cmd.Flags(), ".", k), nil)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	if cfg.Engine.WorkspaceRoot != "" {
		expanded, err := pathutil.Expand(cfg.Engine.WorkspaceRoot)
		if err != nil {
			return nil, err
		}
		cfg.Engine.WorkspaceRoot = expanded
	}
	if cfg.Adapter.TailPath != "" {
		expanded, err := pathutil.Expand(cfg.Adapter.TailPath)
		if err != nil {
			return nil, err
		}
		cfg.Adapter.TailPath = expanded
	}

	return &cfg, nil
}

func allowContentDefault() bool {
	raw := strings.TrimSpace(os.Getenv(AllowContentEnv))
	if raw == "" {
		return false
	}
	enabled, err := strconv.ParseBool(raw)
	if err != nil {
		return false
	}
	return enabled
}
