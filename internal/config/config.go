package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log       LoggingConfig   `yaml:"log"`
	RPC       RPCConfig       `yaml:"rpc"`
	Feed      FeedConfig      `yaml:"feed"`
	State     StateConfig     `yaml:"state"`
	Advisor   AdvisorConfig   `yaml:"advisor"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Fees      FeesConfig      `yaml:"fees"`
	Rebalance RebalanceConfig `yaml:"rebalance"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Wallets   []WalletConfig  `yaml:"wallets"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type RPCConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type FeedConfig struct {
	Enabled        bool          `yaml:"enabled"`
	URL            string        `yaml:"url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type AdvisorConfig struct {
	BaseURL  string        `yaml:"base_url"`
	Timeout  time.Duration `yaml:"timeout"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

type MonitorConfig struct {
	TickInterval    time.Duration `yaml:"tick_interval"`
	AlertCooldown   time.Duration `yaml:"alert_cooldown"`
	PositionTimeout time.Duration `yaml:"position_timeout"`
}

type FeesConfig struct {
	// MinClaimHomeAsset gates fee claims: accumulated claimable fees in
	// home-asset terms below this are left to keep compounding.
	MinClaimHomeAsset float64 `yaml:"min_claim_home_asset"`
}

type RebalanceConfig struct {
	CandidateCount int    `yaml:"candidate_count"`
	KeepWithinTop  int    `yaml:"keep_within_top"`
	RankMode       string `yaml:"rank_mode"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

type AnalyticsConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type WalletConfig struct {
	Address string `yaml:"address"`
	// PrivateKeyEnv names the environment variable carrying the wallet's
	// delegated signing key. Empty means the wallet has not delegated:
	// out-of-range positions alert instead of auto-rebalancing.
	PrivateKeyEnv string `yaml:"private_key_env"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, validate(&cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.RPC.Timeout == 0 {
		cfg.RPC.Timeout = 10 * time.Second
	}
	if cfg.Feed.ReconnectDelay == 0 {
		cfg.Feed.ReconnectDelay = 3 * time.Second
	}
	if cfg.Feed.PingInterval == 0 {
		cfg.Feed.PingInterval = 30 * time.Second
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/dlmm-range-bot.db"
	}
	if cfg.Advisor.Timeout == 0 {
		cfg.Advisor.Timeout = 5 * time.Second
	}
	if cfg.Advisor.CacheTTL == 0 {
		cfg.Advisor.CacheTTL = 10 * time.Minute
	}
	if cfg.Monitor.TickInterval == 0 {
		cfg.Monitor.TickInterval = 2 * time.Minute
	}
	if cfg.Monitor.AlertCooldown == 0 {
		cfg.Monitor.AlertCooldown = 30 * time.Minute
	}
	if cfg.Monitor.PositionTimeout == 0 {
		cfg.Monitor.PositionTimeout = 30 * time.Second
	}
	if cfg.Rebalance.CandidateCount == 0 {
		cfg.Rebalance.CandidateCount = 10
	}
	if cfg.Rebalance.KeepWithinTop == 0 {
		cfg.Rebalance.KeepWithinTop = 3
	}
	if cfg.Rebalance.RankMode == "" {
		cfg.Rebalance.RankMode = "fees"
	}
	if cfg.Analytics.QueueSize == 0 {
		cfg.Analytics.QueueSize = 256
	}
}

func validate(cfg *Config) error {
	if cfg.RPC.BaseURL == "" {
		return errors.New("rpc.base_url is required")
	}
	if cfg.Feed.Enabled && cfg.Feed.URL == "" {
		return errors.New("feed.url is required when feed is enabled")
	}
	if cfg.Analytics.Enabled && cfg.Analytics.DSN == "" {
		return errors.New("analytics.dsn is required when analytics is enabled")
	}
	if cfg.Fees.MinClaimHomeAsset < 0 {
		return errors.New("fees.min_claim_home_asset must be >= 0")
	}
	for i, w := range cfg.Wallets {
		if w.Address == "" {
			return fmt.Errorf("wallets[%d].address is required", i)
		}
	}
	return nil
}
