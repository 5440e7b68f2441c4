package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/tolelom/tolstake/catalog"
	"github.com/tolelom/tolstake/relay"
	"github.com/tolelom/tolstake/reward"
)

// Duration is a time.Duration that decodes from TOML strings like "5s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// RPCConfig holds the HTTP listener parameters.
type RPCConfig struct {
	Addr           string    `toml:"addr"`
	AuthToken      string    `toml:"auth_token"`
	AllowedOrigins []string  `toml:"allowed_origins"`
	TLS            TLSConfig `toml:"tls"`
}

// ClockConfig selects the time source.
type ClockConfig struct {
	NTPServer string   `toml:"ntp_server"` // empty → local wall clock
	MaxOffset Duration `toml:"max_offset"`
}

// Config holds all node configuration.
type Config struct {
	DataDir           string               `toml:"data_dir"`
	CacheSize         int                  `toml:"cache_size"` // LRU entries in front of LevelDB; 0 disables
	Verbosity         int                  `toml:"verbosity"`  // legacy geth levels: 0=crit … 5=trace
	AllowTimeOverride bool                 `toml:"allow_time_override"`
	RPC               RPCConfig            `toml:"rpc"`
	Clock             ClockConfig          `toml:"clock"`
	Catalog           catalog.ClientConfig `toml:"catalog"`
	Relay             relay.Config         `toml:"relay"`
	Genesis           GenesisConfig        `toml:"genesis"`
}

// DefaultConfig returns a single-node development configuration.
func DefaultConfig() *Config {
	return &Config{
		DataDir:   "./data",
		CacheSize: 4096,
		Verbosity: 3,
		RPC: RPCConfig{
			Addr: "127.0.0.1:8645",
		},
		Clock: ClockConfig{
			MaxOffset: Duration{2 * time.Second},
		},
		Relay: relay.Config{
			Prefix: "tolstake",
			Buffer: 1024,
		},
	}
}

// Load reads a TOML config file from path on top of the defaults, loads a
// .env file if present, and applies TOLSTAKE_* environment overrides. An
// empty path skips the file. The result has not been validated.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	}
	_ = godotenv.Load()
	applyEnvOverrides(cfg)
	return cfg, nil
}

// Save writes the config to path as TOML.
func Save(cfg *Config, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.DataDir, "TOLSTAKE_DATA_DIR")
	setInt(&cfg.CacheSize, "TOLSTAKE_CACHE_SIZE")
	setInt(&cfg.Verbosity, "TOLSTAKE_VERBOSITY")
	setBool(&cfg.AllowTimeOverride, "TOLSTAKE_ALLOW_TIME_OVERRIDE")

	setStr(&cfg.RPC.Addr, "TOLSTAKE_RPC_ADDR")
	setStr(&cfg.RPC.AuthToken, "TOLSTAKE_RPC_AUTH_TOKEN")
	setStringSlice(&cfg.RPC.AllowedOrigins, "TOLSTAKE_RPC_ALLOWED_ORIGINS")

	setStr(&cfg.Clock.NTPServer, "TOLSTAKE_NTP_SERVER")

	setStr(&cfg.Catalog.DSN, "TOLSTAKE_CATALOG_DSN")
	setStr(&cfg.Catalog.Host, "TOLSTAKE_CATALOG_HOST")
	setStr(&cfg.Catalog.User, "TOLSTAKE_CATALOG_USER")
	setStr(&cfg.Catalog.Password, "TOLSTAKE_CATALOG_PASSWORD")
	setStr(&cfg.Catalog.Database, "TOLSTAKE_CATALOG_DATABASE")

	setStr(&cfg.Relay.Addr, "TOLSTAKE_REDIS_ADDR")
	setStr(&cfg.Relay.Password, "TOLSTAKE_REDIS_PASSWORD")
	setInt(&cfg.Relay.DB, "TOLSTAKE_REDIS_DB")
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []string

	if c.DataDir == "" {
		errs = append(errs, "data_dir must not be empty")
	}
	if c.CacheSize < 0 {
		errs = append(errs, "cache_size must not be negative")
	}
	if c.Verbosity < 0 || c.Verbosity > 5 {
		errs = append(errs, fmt.Sprintf("verbosity must be in [0, 5], got %d", c.Verbosity))
	}
	if c.RPC.Addr == "" {
		errs = append(errs, "rpc: addr must not be empty")
	}
	if err := c.RPC.TLS.check(); err != nil {
		errs = append(errs, "rpc: "+err.Error())
	}
	if c.Clock.MaxOffset.Duration < 0 {
		errs = append(errs, "clock: max_offset must not be negative")
	}

	seen := make(map[string]bool)
	for i, a := range c.Genesis.Alloc {
		if a.Token == "" || a.Address == "" {
			errs = append(errs, fmt.Sprintf("genesis.alloc[%d]: token and address required", i))
		}
	}
	for i, p := range c.Genesis.Pools {
		if p.Admin == "" || p.Token == "" {
			errs = append(errs, fmt.Sprintf("genesis.pools[%d]: admin and token required", i))
		}
		if p.RewardRate > reward.MaxRate {
			errs = append(errs, fmt.Sprintf("genesis.pools[%d]: reward_rate %d above %d", i, p.RewardRate, reward.MaxRate))
		}
		if p.MinStakingDuration < 0 {
			errs = append(errs, fmt.Sprintf("genesis.pools[%d]: min_staking_duration must not be negative", i))
		}
		if p.ID != "" {
			if seen[p.ID] {
				errs = append(errs, fmt.Sprintf("genesis.pools[%d]: duplicate id %q", i, p.ID))
			}
			seen[p.ID] = true
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
