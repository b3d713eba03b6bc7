package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from file, environment, and CLI flags.
// Priority (highest to lowest): CLI flags > env vars > config file > defaults.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	setDefaults(v, cfg)

	v.SetEnvPrefix("LINKWALK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("linkwalk")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".linkwalk"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configPath != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is okay if not explicitly specified
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// setDefaults registers default values in viper.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("collector.sample_visits", cfg.Collector.SampleVisits)
	v.SetDefault("collector.max_extra_visits", cfg.Collector.MaxExtraVisits)
	v.SetDefault("collector.consumer_workers", cfg.Collector.ConsumerWorkers)
	v.SetDefault("collector.fetch_batch_size", cfg.Collector.FetchBatchSize)
	v.SetDefault("collector.fetch_timeout", cfg.Collector.FetchTimeout)
	v.SetDefault("collector.navigate_timeout", cfg.Collector.NavigateTimeout)
	v.SetDefault("collector.element_timeout", cfg.Collector.ElementTimeout)
	v.SetDefault("collector.summary_path", cfg.Collector.SummaryPath)
	v.SetDefault("collector.output_path", cfg.Collector.OutputPath)

	v.SetDefault("pagination.max_pages", cfg.Pagination.MaxPages)
	v.SetDefault("pagination.next_locators", cfg.Pagination.NextLocators)
	v.SetDefault("pagination.use_vision_hint", cfg.Pagination.UseVisionHint)

	v.SetDefault("rate.base_delay", cfg.Rate.BaseDelay)
	v.SetDefault("rate.backoff_factor", cfg.Rate.BackoffFactor)
	v.SetDefault("rate.max_backoff_level", cfg.Rate.MaxBackoffLevel)
	v.SetDefault("rate.credit_recovery_pages", cfg.Rate.CreditRecoveryPages)
	v.SetDefault("rate.jitter_fraction", cfg.Rate.JitterFraction)

	v.SetDefault("channel.backend", cfg.Channel.Backend)
	v.SetDefault("channel.capacity", cfg.Channel.Capacity)
	v.SetDefault("channel.dir", cfg.Channel.Dir)
	v.SetDefault("channel.stream_database", cfg.Channel.StreamDatabase)
	v.SetDefault("channel.stream_collection", cfg.Channel.StreamCollection)
	v.SetDefault("channel.consumer_group", cfg.Channel.ConsumerGroup)
	v.SetDefault("channel.visibility_timeout", cfg.Channel.VisibilityTimeout)

	v.SetDefault("checkpoint.dir", cfg.Checkpoint.Dir)

	v.SetDefault("recovery.blocked_url_patterns", cfg.Recovery.BlockedURLPatterns)
	v.SetDefault("recovery.overlay_locators", cfg.Recovery.OverlayLocators)
	v.SetDefault("recovery.failure_threshold", cfg.Recovery.FailureThreshold)
	v.SetDefault("recovery.failure_window", cfg.Recovery.FailureWindow)

	v.SetDefault("browser.headless", cfg.Browser.Headless)
	v.SetDefault("browser.stealth", cfg.Browser.Stealth)

	v.SetDefault("decision.provider", cfg.Decision.Provider)
	v.SetDefault("decision.endpoint", cfg.Decision.Endpoint)
	v.SetDefault("decision.model", cfg.Decision.Model)
	v.SetDefault("decision.max_tokens", cfg.Decision.MaxTokens)
	v.SetDefault("decision.temperature", cfg.Decision.Temperature)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.output", cfg.Logging.Output)
	v.SetDefault("logging.max_size_mb", cfg.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", cfg.Logging.MaxBackups)
}
