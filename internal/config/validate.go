package config

import (
	"fmt"
	"net/url"
	"regexp"
)

// Validate checks the configuration for invalid values.
func Validate(cfg *Config) error {
	if cfg.Collector.SampleVisits < 2 {
		return fmt.Errorf("collector.sample_visits must be >= 2, got %d", cfg.Collector.SampleVisits)
	}
	if cfg.Collector.MaxExtraVisits < 0 {
		return fmt.Errorf("collector.max_extra_visits must be >= 0, got %d", cfg.Collector.MaxExtraVisits)
	}
	if cfg.Collector.ConsumerWorkers < 1 {
		return fmt.Errorf("collector.consumer_workers must be >= 1, got %d", cfg.Collector.ConsumerWorkers)
	}
	if cfg.Collector.FetchBatchSize < 1 {
		return fmt.Errorf("collector.fetch_batch_size must be >= 1, got %d", cfg.Collector.FetchBatchSize)
	}
	if cfg.Collector.FetchTimeout <= 0 {
		return fmt.Errorf("collector.fetch_timeout must be > 0")
	}
	if cfg.Collector.NavigateTimeout <= 0 {
		return fmt.Errorf("collector.navigate_timeout must be > 0")
	}

	if cfg.Pagination.MaxPages < 1 {
		return fmt.Errorf("pagination.max_pages must be >= 1, got %d", cfg.Pagination.MaxPages)
	}

	if cfg.Rate.BaseDelay < 0 {
		return fmt.Errorf("rate.base_delay must be >= 0")
	}
	if cfg.Rate.BackoffFactor < 1.0 {
		return fmt.Errorf("rate.backoff_factor must be >= 1.0, got %v", cfg.Rate.BackoffFactor)
	}
	if cfg.Rate.MaxBackoffLevel < 0 {
		return fmt.Errorf("rate.max_backoff_level must be >= 0, got %d", cfg.Rate.MaxBackoffLevel)
	}
	if cfg.Rate.CreditRecoveryPages < 1 {
		return fmt.Errorf("rate.credit_recovery_pages must be >= 1, got %d", cfg.Rate.CreditRecoveryPages)
	}
	if cfg.Rate.JitterFraction < 0 || cfg.Rate.JitterFraction > 1 {
		return fmt.Errorf("rate.jitter_fraction must be in [0,1], got %v", cfg.Rate.JitterFraction)
	}

	switch cfg.Channel.Backend {
	case "memory":
		if cfg.Channel.Capacity < 1 {
			return fmt.Errorf("channel.capacity must be >= 1 for the memory backend, got %d", cfg.Channel.Capacity)
		}
	case "file":
		if cfg.Channel.Dir == "" {
			return fmt.Errorf("channel.dir is required for the file backend")
		}
	case "stream":
		if cfg.Channel.StreamURI == "" {
			return fmt.Errorf("channel.stream_uri is required for the stream backend")
		}
		if cfg.Channel.VisibilityTimeout <= 0 {
			return fmt.Errorf("channel.visibility_timeout must be > 0 for the stream backend")
		}
	default:
		return fmt.Errorf("channel.backend must be memory/file/stream, got %q", cfg.Channel.Backend)
	}

	if cfg.Checkpoint.Dir == "" {
		return fmt.Errorf("checkpoint.dir must not be empty")
	}

	for _, pat := range cfg.Recovery.BlockedURLPatterns {
		if _, err := regexp.Compile(pat); err != nil {
			return fmt.Errorf("invalid recovery.blocked_url_patterns entry %q: %w", pat, err)
		}
	}
	if cfg.Recovery.FailureThreshold < 1 {
		return fmt.Errorf("recovery.failure_threshold must be >= 1, got %d", cfg.Recovery.FailureThreshold)
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be debug/info/warn/error, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be 'text' or 'json', got %q", cfg.Logging.Format)
	}

	return nil
}

// ValidateURL checks if a URL string is a usable list-page entry point.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}
