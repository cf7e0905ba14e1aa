// Package types provides configuration types loaded once at process startup.
package types

import "time"

// Config is the process-wide configuration, loaded by viper from env vars
// (prefix REGIME_) and an optional YAML file, then injected into every
// component constructor — no package-level mutable config state.
type Config struct {
	BookID   string `mapstructure:"book_id"`
	LogLevel string `mapstructure:"log_level"`

	DatabaseDSN string `mapstructure:"database_dsn"`

	CandleSource CandleSourceConfig `mapstructure:"candle_source"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
	API          APIConfig          `mapstructure:"api"`

	IngestEnabled bool `mapstructure:"ingest_enabled"`
	DryRun        bool `mapstructure:"dry_run"`
}

// CandleSourceConfig configures the REST/WS candle source adapters.
type CandleSourceConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	WSURL          string        `mapstructure:"ws_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RetrySpacing   time.Duration `mapstructure:"retry_spacing"`
	MaxRetries     int           `mapstructure:"max_retries"`
}

// SchedulerConfig holds the recurring-task cadences named in spec.md §5.
type SchedulerConfig struct {
	Collector1m   time.Duration `mapstructure:"collector_1m"`
	Collector1h   time.Duration `mapstructure:"collector_1h"`
	Collector1d   time.Duration `mapstructure:"collector_1d"`
	CompositeRollup time.Duration `mapstructure:"composite_rollup"`
	DominanceRollup time.Duration `mapstructure:"dominance_rollup"`
	LearningFast  time.Duration `mapstructure:"learning_fast"` // 2h cadence
	LearningSlow  time.Duration `mapstructure:"learning_slow"` // 6h cadence
	LearningWeekly time.Duration `mapstructure:"learning_weekly"`
}

// APIConfig configures the minimal read-only HTTP/WS surface.
type APIConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// DefaultConfig returns conservative production defaults, mirroring the
// teacher's DefaultXConfig idiom.
func DefaultConfig() Config {
	return Config{
		BookID:   "default",
		LogLevel: "info",
		CandleSource: CandleSourceConfig{
			RequestTimeout: 10 * time.Second,
			RetrySpacing:   100 * time.Millisecond,
			MaxRetries:     3,
		},
		Scheduler: SchedulerConfig{
			Collector1m:     30 * time.Second,
			Collector1h:     5 * time.Minute,
			Collector1d:     30 * time.Minute,
			CompositeRollup: time.Minute,
			DominanceRollup: time.Minute,
			LearningFast:    2 * time.Hour,
			LearningSlow:    6 * time.Hour,
			LearningWeekly:  7 * 24 * time.Hour,
		},
		API: APIConfig{
			ListenAddr: ":8080",
		},
		IngestEnabled: true,
	}
}
