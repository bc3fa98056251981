package config

import (
	"time"

	"github.com/donutAnees/Cluster-Bitcoin-Address/internal/storage"
)

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		DataDir: DefaultDataDir(),
		RPC: RPCConfig{
			Host:    "127.0.0.1",
			Port:    8332,
			Timeout: 30 * time.Second,
		},
		Store: StoreConfig{
			Backend: storage.BackendBadger,
		},
		Checkpoint: CheckpointConfig{
			Interval: 50,
		},
		Fetch: FetchConfig{
			Workers: 8,
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}
