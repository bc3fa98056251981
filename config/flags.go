package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
)

// Version is reported by --version.
const Version = "0.1.0"

// Flags holds parsed command-line flags.
type Flags struct {
	// Commands
	Help    bool
	Version bool

	// Core
	DataDir string
	Config  string

	// RPC
	RPCHost      string
	RPCPort      int
	RPCUser      string
	RPCPassword  string
	RPCTimeout   string
	RPCRateLimit float64

	// Processing
	Start    uint64
	End      uint64
	Backend  string
	Interval uint64
	Workers  int

	// Metrics
	MetricsAddr string

	// Logging
	LogLevel string
	LogFile  string
	LogJSON  bool

	// Remaining args
	Args []string

	// Explicitly-set flags whose zero value is meaningful.
	SetStart     bool
	SetEnd       bool
	SetRateLimit bool
	SetLogJSON   bool
}

// ParseFlags parses command-line flags (without the program name).
func ParseFlags(args []string) (*Flags, error) {
	f := &Flags{}
	fs := flag.NewFlagSet("clusterd", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	// Commands
	fs.BoolVar(&f.Help, "help", false, "Show help message")
	fs.BoolVar(&f.Help, "h", false, "Show help message (shorthand)")
	fs.BoolVar(&f.Version, "version", false, "Show version information")
	fs.BoolVar(&f.Version, "v", false, "Show version (shorthand)")

	// Core
	fs.StringVar(&f.DataDir, "datadir", "", "Data directory path")
	fs.StringVar(&f.Config, "config", "", "Config file path")
	fs.StringVar(&f.Config, "c", "", "Config file path (shorthand)")

	// RPC
	fs.StringVar(&f.RPCHost, "rpc-host", "", "bitcoind RPC host")
	fs.IntVar(&f.RPCPort, "rpc-port", 0, "bitcoind RPC port")
	fs.StringVar(&f.RPCUser, "rpc-user", "", "bitcoind RPC user")
	fs.StringVar(&f.RPCPassword, "rpc-password", "", "bitcoind RPC password")
	fs.StringVar(&f.RPCTimeout, "rpc-timeout", "", "Per-request timeout")
	fs.Float64Var(&f.RPCRateLimit, "rpc-ratelimit", 0, "Requests per second (0 = unlimited)")

	// Processing
	fs.Uint64Var(&f.Start, "start", 0, "First block height")
	fs.Uint64Var(&f.End, "end", 0, "Last block height (inclusive)")
	fs.StringVar(&f.Backend, "store", "", "Storage backend (badger, bolt, memory)")
	fs.Uint64Var(&f.Interval, "checkpoint-interval", 0, "Blocks between checkpoints")
	fs.IntVar(&f.Workers, "workers", 0, "Concurrent transaction fetches per block")

	// Metrics
	fs.StringVar(&f.MetricsAddr, "metrics-addr", "", "Prometheus listen address")

	// Logging
	fs.StringVar(&f.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&f.LogFile, "log-file", "", "Log file path")
	fs.BoolVar(&f.LogJSON, "log-json", false, "Output logs as JSON")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			f.Help = true
			return f, nil
		}
		return nil, err
	}

	f.SetStart = isFlagSet(fs, "start")
	f.SetEnd = isFlagSet(fs, "end")
	f.SetRateLimit = isFlagSet(fs, "rpc-ratelimit")
	f.SetLogJSON = isFlagSet(fs, "log-json")

	f.Args = fs.Args()

	// A positional argument stops the parser; anything flag-like after it
	// would be silently ignored.
	for _, arg := range f.Args {
		if strings.HasPrefix(arg, "-") {
			return nil, fmt.Errorf("flag %q was not parsed (positional argument stopped parsing)", arg)
		}
	}

	return f, nil
}

// ApplyFlags applies command-line flags to a Config struct.
func ApplyFlags(cfg *Config, f *Flags) error {
	// Core
	if f.DataDir != "" {
		cfg.DataDir = f.DataDir
	}

	// RPC
	if f.RPCHost != "" {
		cfg.RPC.Host = f.RPCHost
	}
	if f.RPCPort != 0 {
		cfg.RPC.Port = f.RPCPort
	}
	if f.RPCUser != "" {
		cfg.RPC.User = f.RPCUser
	}
	if f.RPCPassword != "" {
		cfg.RPC.Password = f.RPCPassword
	}
	if f.RPCTimeout != "" {
		d, err := parseDuration(f.RPCTimeout)
		if err != nil {
			return fmt.Errorf("--rpc-timeout: %w", err)
		}
		cfg.RPC.Timeout = d
	}
	if f.SetRateLimit {
		cfg.RPC.RateLimit = f.RPCRateLimit
	}

	// Processing
	if f.SetStart {
		cfg.Range.Start, cfg.Range.HasStart = f.Start, true
	}
	if f.SetEnd {
		cfg.Range.End, cfg.Range.HasEnd = f.End, true
	}
	if f.Backend != "" {
		cfg.Store.Backend = strings.ToLower(f.Backend)
	}
	if f.Interval != 0 {
		cfg.Checkpoint.Interval = f.Interval
	}
	if f.Workers != 0 {
		cfg.Fetch.Workers = f.Workers
	}

	// Metrics
	if f.MetricsAddr != "" {
		cfg.Metrics.Addr = f.MetricsAddr
	}

	// Logging
	if f.LogLevel != "" {
		cfg.Log.Level = f.LogLevel
	}
	if f.LogFile != "" {
		cfg.Log.File = f.LogFile
	}
	if f.SetLogJSON {
		cfg.Log.JSON = f.LogJSON
	}
	return nil
}

// isFlagSet checks if a flag was explicitly set.
func isFlagSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

// PrintUsage writes the help text to w.
func PrintUsage(w io.Writer) {
	usage := `clusterd - Bitcoin address clustering over a bitcoind node

Usage:
  clusterd [options]
  clusterd --help

Commands:
  --help, -h      Show this help message
  --version, -v   Show version information

Core Options:
  --datadir       Data directory (default: ~/.btccluster)
  --config, -c    Config file path (default: <datadir>/cluster.conf)

RPC Options:
  --rpc-host      bitcoind host (default: 127.0.0.1)
  --rpc-port      bitcoind RPC port (default: 8332)
  --rpc-user      RPC user
  --rpc-password  RPC password
  --rpc-timeout   Per-request timeout (default: 30s)
  --rpc-ratelimit Requests per second, 0 = unlimited

Processing Options:
  --start                First block height (default: resume after checkpoint)
  --end                  Last block height, inclusive (default: node tip)
  --store                Storage backend: badger (default), bolt, memory
  --checkpoint-interval  Blocks between checkpoints (default: 50)
  --workers              Concurrent transaction fetches (default: 8)

Metrics Options:
  --metrics-addr  Prometheus listen address (default: disabled)

Logging Options:
  --log-level     Log level: debug, info, warn, error (default: info)
  --log-file      Log file path (default: stdout)
  --log-json      Output logs as JSON

Examples:
  # Cluster the first thousand blocks
  clusterd --start=0 --end=1000 --rpc-user=alice --rpc-password=secret

  # Resume after the last checkpoint up to the node tip
  clusterd

Note:
  The node must run with txindex=1. When no range is given on an
  interactive terminal, clusterd prompts for one.
`
	fmt.Fprint(w, usage)
}

// Load builds the configuration with the following precedence:
// 1. Default values
// 2. Auto-create data dirs + default config (idempotent)
// 3. Config file
// 4. Command-line flags
func Load(flags *Flags) (*Config, error) {
	cfg := Default()

	// Override datadir if specified
	if flags.DataDir != "" {
		cfg.DataDir = flags.DataDir
	}

	// Auto-create data directories and default config on first start.
	if err := EnsureDataDirs(cfg); err != nil {
		return nil, fmt.Errorf("ensuring data dirs: %w", err)
	}

	// Determine config file path
	configPath := flags.Config
	if configPath == "" {
		configPath = cfg.ConfigFile()
	}

	fileValues, err := LoadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config file: %w", err)
	}
	if err := ApplyFileConfig(cfg, fileValues); err != nil {
		return nil, fmt.Errorf("applying config file: %w", err)
	}

	// Apply flags (highest precedence)
	if err := ApplyFlags(cfg, flags); err != nil {
		return nil, fmt.Errorf("applying flags: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// EnsureDataDirs creates the data directory structure and a default config
// file if they don't already exist. Safe to call on every startup.
func EnsureDataDirs(cfg *Config) error {
	dirs := []string{
		cfg.DataDir,
		cfg.StateDir(),
		cfg.LogsDir(),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	configPath := cfg.ConfigFile()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := WriteDefaultConfig(configPath); err != nil {
			return fmt.Errorf("writing config file: %w", err)
		}
	}

	return nil
}
