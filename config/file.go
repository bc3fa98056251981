package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// LoadFile loads configuration from a .conf file.
// Format: key = value (one per line, # for comments)
func LoadFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse key = value
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("line %d: invalid format (expected key = value)", lineNum)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Remove quotes if present
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}

		values[key] = value
	}

	return values, scanner.Err()
}

// ApplyFileConfig applies file configuration to a Config struct.
func ApplyFileConfig(cfg *Config, values map[string]string) error {
	for key, value := range values {
		if err := setConfigValue(cfg, key, value); err != nil {
			return fmt.Errorf("config key %q: %w", key, err)
		}
	}
	return nil
}

// setConfigValue sets a config value by key.
func setConfigValue(cfg *Config, key, value string) error {
	switch key {
	case "datadir":
		cfg.DataDir = value

	// RPC
	case "rpc.host":
		cfg.RPC.Host = value
	case "rpc.port":
		port, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.RPC.Port = port
	case "rpc.user":
		cfg.RPC.User = value
	case "rpc.password":
		cfg.RPC.Password = value
	case "rpc.timeout":
		d, err := parseDuration(value)
		if err != nil {
			return err
		}
		cfg.RPC.Timeout = d
	case "rpc.ratelimit":
		r, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		cfg.RPC.RateLimit = r

	// Storage
	case "store.backend":
		cfg.Store.Backend = strings.ToLower(value)
	case "checkpoint.interval":
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		cfg.Checkpoint.Interval = n

	// Fetching
	case "fetch.workers":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.Fetch.Workers = n

	// Range
	case "range.start":
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		cfg.Range.Start, cfg.Range.HasStart = n, true
	case "range.end":
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		cfg.Range.End, cfg.Range.HasEnd = n, true

	// Metrics
	case "metrics.addr":
		cfg.Metrics.Addr = value

	// Logging
	case "log.level":
		cfg.Log.Level = value
	case "log.file":
		cfg.Log.File = value
	case "log.json":
		cfg.Log.JSON = parseBool(value)

	default:
		// Unknown keys are ignored
	}
	return nil
}

// parseBool parses a boolean value.
func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// parseDuration accepts a Go duration ("45s") or a bare number of seconds.
func parseDuration(s string) (time.Duration, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}

// WriteDefaultConfig writes a default configuration file.
func WriteDefaultConfig(path string) error {
	content := `# Bitcoin address clustering daemon configuration

# Data directory (default: ~/.btccluster)
# datadir = ~/.btccluster

# ============================================================================
# bitcoind RPC (the node needs txindex=1)
# ============================================================================

rpc.host = 127.0.0.1
rpc.port = 8332
# rpc.user =
# rpc.password =

# Per-request timeout (Go duration or seconds)
rpc.timeout = 30s

# Requests per second, 0 = unlimited
# rpc.ratelimit = 0

# ============================================================================
# State
# ============================================================================

# Storage backend: badger, bolt or memory
store.backend = badger

# Blocks between checkpoints
checkpoint.interval = 50

# Concurrent transaction fetches per block
fetch.workers = 8

# ============================================================================
# Block range (inclusive). Without range.start the run resumes after the
# last checkpoint.
# ============================================================================

# range.start = 0
# range.end = 1000

# ============================================================================
# Metrics
# ============================================================================

# Prometheus endpoint, empty disables
# metrics.addr = 127.0.0.1:9332

# ============================================================================
# Logging
# ============================================================================

log.level = info
# log.file =
log.json = false
`
	return os.WriteFile(path, []byte(content), 0644)
}
