// Package config handles clusterd configuration.
//
// Settings come from, in increasing precedence: built-in defaults, the
// <datadir>/cluster.conf file, and command-line flags.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/donutAnees/Cluster-Bitcoin-Address/internal/storage"
)

// Config holds runtime configuration.
type Config struct {
	DataDir string `conf:"datadir"`

	// bitcoind JSON-RPC endpoint
	RPC RPCConfig

	// State storage
	Store StoreConfig

	// Checkpoint cadence
	Checkpoint CheckpointConfig

	// Transaction fetching
	Fetch FetchConfig

	// Block range to process
	Range RangeConfig

	// Prometheus endpoint
	Metrics MetricsConfig

	// Logging
	Log LogConfig
}

// RPCConfig holds bitcoind connection settings.
type RPCConfig struct {
	Host      string        `conf:"rpc.host"`
	Port      int           `conf:"rpc.port"`
	User      string        `conf:"rpc.user"`
	Password  string        `conf:"rpc.password"`
	Timeout   time.Duration `conf:"rpc.timeout"`
	RateLimit float64       `conf:"rpc.ratelimit"` // Requests per second, 0 = unlimited.
}

// StoreConfig selects the checkpoint storage backend.
type StoreConfig struct {
	Backend string `conf:"store.backend"` // badger, bolt or memory
}

// CheckpointConfig holds checkpoint settings.
type CheckpointConfig struct {
	Interval uint64 `conf:"checkpoint.interval"` // Blocks between checkpoints.
}

// FetchConfig holds transaction fetch settings.
type FetchConfig struct {
	Workers int `conf:"fetch.workers"` // Concurrent getrawtransaction calls.
}

// RangeConfig is the inclusive block range to process. The Has flags
// distinguish an explicit 0 from an unset bound.
type RangeConfig struct {
	Start    uint64 `conf:"range.start"`
	End      uint64 `conf:"range.end"`
	HasStart bool
	HasEnd   bool
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Addr string `conf:"metrics.addr"` // Empty disables the endpoint.
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// =============================================================================
// Directory helpers
// =============================================================================

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.btccluster
//	macOS:   ~/Library/Application Support/BTCCluster
//	Windows: %APPDATA%\BTCCluster
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".btccluster"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "BTCCluster")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "BTCCluster")
		}
		return filepath.Join(home, "AppData", "Roaming", "BTCCluster")
	default:
		return filepath.Join(home, ".btccluster")
	}
}

// StateDir returns the directory holding checkpoint storage.
func (c *Config) StateDir() string {
	return filepath.Join(c.DataDir, "state")
}

// StorePath returns the path handed to storage.Open: a directory for
// badger, a file for bolt.
func (c *Config) StorePath() string {
	if c.Store.Backend == storage.BackendBolt {
		return filepath.Join(c.StateDir(), "cluster.db")
	}
	return filepath.Join(c.StateDir(), "badger")
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "cluster.conf")
}

// RPCURL returns the bitcoind endpoint URL.
func (c *Config) RPCURL() string {
	return fmt.Sprintf("http://%s", net.JoinHostPort(c.RPC.Host, strconv.Itoa(c.RPC.Port)))
}
