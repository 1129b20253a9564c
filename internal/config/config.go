package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	Store      StoreConfig      `yaml:"store"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Rules      RulesConfig      `yaml:"rules"`
	Notifier   NotifierConfig   `yaml:"notifier"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Redis      RedisConfig      `yaml:"redis"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Batch      BatchConfig      `yaml:"batch"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Digest     DigestConfig     `yaml:"digest"`
}

type ServerConfig struct {
	HTTPPort   int    `yaml:"http_port"`
	CORSOrigin string `yaml:"cors_origin"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type StoreConfig struct {
	Driver        string `yaml:"driver"`
	Path          string `yaml:"path"`
	DSN           string `yaml:"dsn"`
	EnableWAL     *bool  `yaml:"enable_wal"`
	BusyTimeoutMS int    `yaml:"busy_timeout_ms"`
	MaxOpenConns  int    `yaml:"max_open_conns"`
	MaxIdleConns  int    `yaml:"max_idle_conns"`
}

// WAL reports whether write-ahead logging is on. It defaults to true.
func (c StoreConfig) WAL() bool {
	return c.EnableWAL == nil || *c.EnableWAL
}

type MetricsConfig struct {
	TopElements  int           `yaml:"top_elements"`
	RecentWindow time.Duration `yaml:"recent_window"`
	RecentLimit  int           `yaml:"recent_limit"`
}

type RulesConfig struct {
	LowClickRate   LowClickRateConfig   `yaml:"low_click_rate"`
	LowScrollDepth LowScrollDepthConfig `yaml:"low_scroll_depth"`
	RageClicks     RageClicksConfig     `yaml:"rage_clicks"`
	DeadClicks     DeadClicksConfig     `yaml:"dead_clicks"`
	HighExitRate   HighExitRateConfig   `yaml:"high_exit_rate"`
}

type LowClickRateConfig struct {
	MinClickRate float64 `yaml:"min_click_rate"`
	MinPageViews int     `yaml:"min_page_views"`
}

type LowScrollDepthConfig struct {
	MaxScrollDepth float64 `yaml:"max_scroll_depth"`
	MinSessions    int     `yaml:"min_sessions"`
}

type RageClicksConfig struct {
	ClicksInWindow int   `yaml:"clicks_in_window"`
	TimeWindowMs   int64 `yaml:"time_window_ms"`
	MinOccurrences int   `yaml:"min_occurrences"`
}

type DeadClicksConfig struct {
	MinClicksOnNonInteractive int `yaml:"min_clicks_on_non_interactive"`
}

type HighExitRateConfig struct {
	MaxInteractionTimeMs int64 `yaml:"max_interaction_time_ms"`
	MinSessions          int   `yaml:"min_sessions"`
}

type NotifierConfig struct {
	BufferSize   int    `yaml:"buffer_size"`
	RedisChannel string `yaml:"redis_channel"`
}

// IngestConfig selects where POST /api/events batches go: "direct" writes to
// the store, "kafka" forwards to the events topic for the consumer.
type IngestConfig struct {
	Mode      string `yaml:"mode"`
	MaxEvents int    `yaml:"max_events"`
	MaxBodyKB int    `yaml:"max_body_kb"`
	Consume   bool   `yaml:"consume"`
}

type KafkaConfig struct {
	Brokers       []string          `yaml:"brokers"`
	Topics        map[string]string `yaml:"topics"`
	ConsumerGroup string            `yaml:"consumer_group"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type ClickHouseConfig struct {
	Addr         string `yaml:"addr"`
	Database     string `yaml:"database"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

type BatchConfig struct {
	Size          int           `yaml:"size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

type DigestConfig struct {
	Schedule string `yaml:"schedule"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse expands environment variables in data, decodes it and fills defaults.
// Rule thresholds are decoded over their defaults, so an explicit zero is kept.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := Config{Rules: DefaultRules()}
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}
	cfg.setDefaults()
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := Config{Rules: DefaultRules()}
	cfg.setDefaults()
	return &cfg
}

// DefaultRules returns the built-in rule thresholds.
func DefaultRules() RulesConfig {
	return RulesConfig{
		LowClickRate:   LowClickRateConfig{MinClickRate: 0.05, MinPageViews: 10},
		LowScrollDepth: LowScrollDepthConfig{MaxScrollDepth: 30, MinSessions: 5},
		RageClicks:     RageClicksConfig{ClicksInWindow: 3, TimeWindowMs: 2000, MinOccurrences: 2},
		DeadClicks:     DeadClicksConfig{MinClicksOnNonInteractive: 5},
		HighExitRate:   HighExitRateConfig{MaxInteractionTimeMs: 10000, MinSessions: 5},
	}
}

func (cfg *Config) setDefaults() {
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.CORSOrigin == "" {
		cfg.Server.CORSOrigin = "*"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "sqlite"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "data/events.sqlite"
	}
	if cfg.Store.BusyTimeoutMS == 0 {
		cfg.Store.BusyTimeoutMS = 5000
	}
	if cfg.Store.MaxOpenConns == 0 {
		cfg.Store.MaxOpenConns = 10
	}
	if cfg.Store.MaxIdleConns == 0 {
		cfg.Store.MaxIdleConns = 5
	}

	if cfg.Metrics.TopElements == 0 {
		cfg.Metrics.TopElements = 10
	}
	if cfg.Metrics.RecentWindow == 0 {
		cfg.Metrics.RecentWindow = time.Hour
	}
	if cfg.Metrics.RecentLimit == 0 {
		cfg.Metrics.RecentLimit = 5
	}

	if cfg.Notifier.BufferSize == 0 {
		cfg.Notifier.BufferSize = 16
	}
	if cfg.Notifier.RedisChannel == "" {
		cfg.Notifier.RedisChannel = "analyzer:notifications"
	}

	if cfg.Ingest.Mode == "" {
		cfg.Ingest.Mode = "direct"
	}
	if cfg.Ingest.MaxEvents == 0 {
		cfg.Ingest.MaxEvents = 500
	}
	if cfg.Ingest.MaxBodyKB == 0 {
		cfg.Ingest.MaxBodyKB = 512
	}

	if cfg.Kafka.Topics == nil {
		cfg.Kafka.Topics = map[string]string{}
	}
	if cfg.Kafka.Topics["events"] == "" {
		cfg.Kafka.Topics["events"] = "analyzer.events.batches"
	}
	if cfg.Kafka.ConsumerGroup == "" {
		cfg.Kafka.ConsumerGroup = "analyzer-event-store"
	}

	if cfg.ClickHouse.MaxOpenConns == 0 {
		cfg.ClickHouse.MaxOpenConns = 10
	}
	if cfg.ClickHouse.MaxIdleConns == 0 {
		cfg.ClickHouse.MaxIdleConns = 5
	}
	if cfg.Batch.Size == 0 {
		cfg.Batch.Size = 1000
	}
	if cfg.Batch.FlushInterval == 0 {
		cfg.Batch.FlushInterval = 5 * time.Second
	}

	if cfg.RateLimit.RequestsPerSecond == 0 {
		cfg.RateLimit.RequestsPerSecond = 50
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 100
	}
}
