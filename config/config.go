package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"outreach-dispatch-service/internal/domain"
)

type Config struct {
	ServerPort   string
	DataDir      string
	ChannelsFile string
	CORSOrigins  []string

	Dispatch DispatchConfig
}

// DispatchConfig is loaded from the channels TOML file and carries every
// tunable of the dispatch core.
type DispatchConfig struct {
	MaxRetries             int   `toml:"max_retries"`
	BackoffScheduleMinutes []int `toml:"backoff_schedule_minutes"`
	DispatchBatchSize      int   `toml:"dispatch_batch_size"`
	RetryBatchSize         int   `toml:"retry_batch_size"`
	DispatchIntervalSec    int   `toml:"dispatch_interval_seconds"`
	RetryIntervalSec       int   `toml:"retry_interval_seconds"`
	ReloadIntervalSec      int   `toml:"reload_interval_seconds"`
	StripAliases           bool  `toml:"strip_aliases"`

	Channels map[string]ChannelConfig `toml:"channels"`
}

// ChannelConfig is one channel's throughput ceilings and delivery settings.
// A channel absent from the map is rejected by the rate limiter, never
// treated as unlimited.
type ChannelConfig struct {
	PerHour         int    `toml:"per_hour"`
	PerDay          int    `toml:"per_day"`
	MinDelaySeconds int    `toml:"min_delay_seconds"`
	ProviderURL     string `toml:"provider_url"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
	DryRun          bool   `toml:"dry_run"`
}

func (c ChannelConfig) MinDelay() time.Duration {
	return time.Duration(c.MinDelaySeconds) * time.Second
}

func (c ChannelConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// BackoffSchedule returns the retry delays, defaulting to
// 5m, 15m, 1h, 4h, 24h when the file does not override them.
func (d DispatchConfig) BackoffSchedule() []time.Duration {
	if len(d.BackoffScheduleMinutes) == 0 {
		return []time.Duration{
			5 * time.Minute,
			15 * time.Minute,
			time.Hour,
			4 * time.Hour,
			24 * time.Hour,
		}
	}
	schedule := make([]time.Duration, len(d.BackoffScheduleMinutes))
	for i, m := range d.BackoffScheduleMinutes {
		schedule[i] = time.Duration(m) * time.Minute
	}
	return schedule
}

// ChannelLimits returns the configured channels keyed by the closed channel
// enum, dropping anything the enum does not know.
func (d DispatchConfig) ChannelLimits() map[domain.Channel]ChannelConfig {
	limits := make(map[domain.Channel]ChannelConfig, len(d.Channels))
	for name, cc := range d.Channels {
		ch := domain.Channel(name)
		if ch.Valid() {
			limits[ch] = cc
		}
	}
	return limits
}

func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ServerPort:   getEnv("SERVER_PORT", "8080"),
		DataDir:      getEnv("DATA_DIR", "./data"),
		ChannelsFile: getEnv("CHANNELS_FILE", "./channels.toml"),
		CORSOrigins:  []string{getEnv("CORS_ORIGIN", "*")},
	}

	dispatch, err := loadDispatchConfig(cfg.ChannelsFile)
	if err != nil {
		return nil, err
	}
	cfg.Dispatch = dispatch
	return cfg, nil
}

func loadDispatchConfig(path string) (DispatchConfig, error) {
	cfg := DispatchConfig{
		MaxRetries:          3,
		DispatchBatchSize:   100,
		RetryBatchSize:      50,
		DispatchIntervalSec: 120,
		RetryIntervalSec:    300,
		ReloadIntervalSec:   120,
		StripAliases:        true,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// no channels file means no channel may send; the limiter
			// fails closed on the empty map
			cfg.Channels = map[string]ChannelConfig{}
			return cfg, nil
		}
		return DispatchConfig{}, fmt.Errorf("channels config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return DispatchConfig{}, fmt.Errorf("channels config parse failed (%s): %w", path, err)
	}
	if err := validateDispatchConfig(cfg); err != nil {
		return DispatchConfig{}, err
	}
	return cfg, nil
}

func validateDispatchConfig(cfg DispatchConfig) error {
	if cfg.MaxRetries <= 0 {
		return fmt.Errorf("channels config: max_retries must be positive")
	}
	if cfg.DispatchBatchSize <= 0 || cfg.RetryBatchSize <= 0 {
		return fmt.Errorf("channels config: batch sizes must be positive")
	}
	if cfg.DispatchIntervalSec <= 0 || cfg.RetryIntervalSec <= 0 || cfg.ReloadIntervalSec <= 0 {
		return fmt.Errorf("channels config: intervals must be positive")
	}
	for name, cc := range cfg.Channels {
		if !domain.Channel(name).Valid() {
			return fmt.Errorf("channels config: unknown channel %q", name)
		}
		if cc.PerHour <= 0 || cc.PerDay <= 0 {
			return fmt.Errorf("channels config: channel %q needs positive per_hour and per_day", name)
		}
		if cc.MinDelaySeconds < 0 {
			return fmt.Errorf("channels config: channel %q has negative min_delay_seconds", name)
		}
		if cc.ProviderURL == "" && !cc.DryRun {
			return fmt.Errorf("channels config: channel %q needs provider_url or dry_run", name)
		}
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
