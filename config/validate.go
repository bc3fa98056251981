package config

import (
	"fmt"

	"github.com/donutAnees/Cluster-Bitcoin-Address/internal/storage"
)

// MaxFetchWorkers caps concurrent transaction fetches.
const MaxFetchWorkers = 256

// Validate checks runtime config for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.DataDir == "" {
		return fmt.Errorf("datadir must be set")
	}
	if cfg.RPC.Host == "" {
		return fmt.Errorf("rpc.host must be set")
	}
	if cfg.RPC.Port <= 0 || cfg.RPC.Port > 65535 {
		return fmt.Errorf("rpc.port must be in range [1, 65535]")
	}
	if cfg.RPC.Timeout <= 0 {
		return fmt.Errorf("rpc.timeout must be positive")
	}
	if cfg.RPC.RateLimit < 0 {
		return fmt.Errorf("rpc.ratelimit must not be negative")
	}

	switch cfg.Store.Backend {
	case storage.BackendBadger, storage.BackendBolt, storage.BackendMemory:
	default:
		return fmt.Errorf("store.backend must be %s, %s or %s",
			storage.BackendBadger, storage.BackendBolt, storage.BackendMemory)
	}

	if cfg.Checkpoint.Interval < 1 {
		return fmt.Errorf("checkpoint.interval must be at least 1")
	}
	if cfg.Fetch.Workers < 1 || cfg.Fetch.Workers > MaxFetchWorkers {
		return fmt.Errorf("fetch.workers must be in range [1, %d]", MaxFetchWorkers)
	}
	if cfg.Range.HasStart && cfg.Range.HasEnd && cfg.Range.Start > cfg.Range.End {
		return fmt.Errorf("range.start %d is after range.end %d", cfg.Range.Start, cfg.Range.End)
	}

	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error")
	}
	return nil
}
