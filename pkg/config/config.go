package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Bounds the engine enforces on a handful of tunables. Values outside these
// ranges are rejected by Validate rather than silently clamped.
const (
	MinHeartbeatInterval = 1 * time.Second
	MaxHeartbeatInterval = 30 * time.Second

	// DefaultValrefThreshold is the size, in bytes, above which a committed
	// val is promoted to a valref chain of blobrefs instead of being stored
	// inline in its parent directory entry.
	DefaultValrefThreshold = 4096
)

// Config holds everything the engine needs to start: where it persists
// content, how it names namespaces, and how chatty its background loops are.
type Config struct {
	// DataDir is the root directory for the content store and checkpoints.
	DataDir string `yaml:"data_dir"`

	// HashAlgo names the hash used to compute blobrefs (e.g. "sha1", "sha256").
	HashAlgo string `yaml:"hash_algo"`

	// ValrefThreshold is the inline-val size cutoff described above.
	ValrefThreshold int `yaml:"valref_threshold"`

	// Rank is this instance's position in the namespace's root hierarchy.
	// Only rank 0 publishes setroot/error events, and only ranks above 0
	// age out idle namespaces. Commits and fences are processed locally on
	// every rank; nothing is relayed upstream.
	Rank int `yaml:"rank"`

	// HeartbeatInterval governs how often the root manager's heartbeat
	// sweep runs: removing drained roots, aging out idle follower roots,
	// refreshing live roots in the cache, and expiring stale cache entries.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// CheckpointPeriod governs how often the root manager persists a
	// namespace's current root to the content store's checkpoint bucket.
	// A value <= 0 disables periodic checkpointing entirely.
	CheckpointPeriod time.Duration `yaml:"checkpoint_period"`

	// BindAddr is the address the HTTP API (health/ready/metrics) listens on.
	BindAddr string `yaml:"bind_addr"`

	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`
}

// Default returns a Config populated with the engine's defaults.
func Default() *Config {
	return &Config{
		DataDir:           "./kvsd-data",
		HashAlgo:          "sha1",
		ValrefThreshold:   DefaultValrefThreshold,
		Rank:              0,
		HeartbeatInterval: 5 * time.Second,
		CheckpointPeriod:  30 * time.Second,
		BindAddr:          "127.0.0.1:8080",
		LogLevel:          "info",
		LogJSON:           false,
	}
}

// Load reads a YAML config file, falling back to defaults for any field
// the file omits. A missing file is not an error; Default() is returned.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects a Config with out-of-bounds tunables.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.HashAlgo == "" {
		return fmt.Errorf("hash_algo must not be empty")
	}
	if c.ValrefThreshold <= 0 {
		return fmt.Errorf("valref_threshold must be positive, got %d", c.ValrefThreshold)
	}
	if c.Rank < 0 {
		return fmt.Errorf("rank must be >= 0, got %d", c.Rank)
	}
	if c.HeartbeatInterval < MinHeartbeatInterval || c.HeartbeatInterval > MaxHeartbeatInterval {
		return fmt.Errorf("heartbeat_interval must be within [%s, %s], got %s",
			MinHeartbeatInterval, MaxHeartbeatInterval, c.HeartbeatInterval)
	}
	return nil
}

// BindFlags registers the engine's persistent flags on cmd. Flag values
// take precedence over whatever was loaded from a config file; callers
// should call Load first, then ApplyFlags after cmd has parsed.
func BindFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("data-dir", "", "Data directory for content store and checkpoints")
	cmd.PersistentFlags().String("hash-algo", "", "Hash algorithm for blobrefs (sha1, sha256)")
	cmd.PersistentFlags().Int("valref-threshold", 0, "Inline val size threshold in bytes before promotion to valref")
	cmd.PersistentFlags().Int("rank", -1, "This instance's rank in the namespace root hierarchy")
	cmd.PersistentFlags().Duration("heartbeat-interval", 0, "Root heartbeat interval")
	cmd.PersistentFlags().Duration("checkpoint-period", 0, "Checkpoint persistence period")
	cmd.PersistentFlags().String("bind-addr", "", "HTTP bind address for health/ready/metrics")
	cmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
}

// ApplyFlags overrides cfg with any flag the user explicitly set.
func ApplyFlags(cfg *Config, cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("data-dir") {
		cfg.DataDir, _ = flags.GetString("data-dir")
	}
	if flags.Changed("hash-algo") {
		cfg.HashAlgo, _ = flags.GetString("hash-algo")
	}
	if flags.Changed("valref-threshold") {
		cfg.ValrefThreshold, _ = flags.GetInt("valref-threshold")
	}
	if flags.Changed("rank") {
		cfg.Rank, _ = flags.GetInt("rank")
	}
	if flags.Changed("heartbeat-interval") {
		cfg.HeartbeatInterval, _ = flags.GetDuration("heartbeat-interval")
	}
	if flags.Changed("checkpoint-period") {
		cfg.CheckpointPeriod, _ = flags.GetDuration("checkpoint-period")
	}
	if flags.Changed("bind-addr") {
		cfg.BindAddr, _ = flags.GetString("bind-addr")
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-json") {
		cfg.LogJSON, _ = flags.GetBool("log-json")
	}
}
