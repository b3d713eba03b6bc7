package config

import (
	"time"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Config is the root configuration for Linkwalk.
type Config struct {
	Collector  CollectorConfig  `mapstructure:"collector"  yaml:"collector"`
	Pagination PaginationConfig `mapstructure:"pagination" yaml:"pagination"`
	Rate       RateConfig       `mapstructure:"rate"       yaml:"rate"`
	Channel    ChannelConfig    `mapstructure:"channel"    yaml:"channel"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint" yaml:"checkpoint"`
	Recovery   RecoveryConfig   `mapstructure:"recovery"   yaml:"recovery"`
	Browser    BrowserConfig    `mapstructure:"browser"    yaml:"browser"`
	Decision   DecisionConfig   `mapstructure:"decision"   yaml:"decision"`
	Logging    LoggingConfig    `mapstructure:"logging"    yaml:"logging"`
}

// CollectorConfig controls the orchestrated collection run.
type CollectorConfig struct {
	TaskDescription  string        `mapstructure:"task_description"   yaml:"task_description"`
	SampleVisits     int           `mapstructure:"sample_visits"      yaml:"sample_visits"`
	MaxExtraVisits   int           `mapstructure:"max_extra_visits"   yaml:"max_extra_visits"`
	ConsumerWorkers  int           `mapstructure:"consumer_workers"   yaml:"consumer_workers"`
	FetchBatchSize   int           `mapstructure:"fetch_batch_size"   yaml:"fetch_batch_size"`
	FetchTimeout     time.Duration `mapstructure:"fetch_timeout"      yaml:"fetch_timeout"`
	NavigateTimeout  time.Duration `mapstructure:"navigate_timeout"   yaml:"navigate_timeout"`
	ElementTimeout   time.Duration `mapstructure:"element_timeout"    yaml:"element_timeout"`
	SummaryPath      string        `mapstructure:"summary_path"       yaml:"summary_path"`
	OutputPath       string        `mapstructure:"output_path"        yaml:"output_path"`
	Resume           bool          `mapstructure:"resume"             yaml:"resume"`
}

// PaginationConfig controls page advancement.
type PaginationConfig struct {
	MaxPages      int      `mapstructure:"max_pages"      yaml:"max_pages"`
	NextLocators  []string `mapstructure:"next_locators"  yaml:"next_locators"`
	UseVisionHint bool     `mapstructure:"use_vision_hint" yaml:"use_vision_hint"`
}

// RateConfig controls adaptive inter-page pacing.
type RateConfig struct {
	BaseDelay           time.Duration `mapstructure:"base_delay"            yaml:"base_delay"`
	BackoffFactor       float64       `mapstructure:"backoff_factor"        yaml:"backoff_factor"`
	MaxBackoffLevel     int           `mapstructure:"max_backoff_level"     yaml:"max_backoff_level"`
	CreditRecoveryPages int           `mapstructure:"credit_recovery_pages" yaml:"credit_recovery_pages"`
	JitterFraction      float64       `mapstructure:"jitter_fraction"       yaml:"jitter_fraction"`
}

// ChannelConfig selects and configures the URL channel backend.
type ChannelConfig struct {
	Backend           string        `mapstructure:"backend"            yaml:"backend"` // memory, file, stream
	Capacity          int           `mapstructure:"capacity"           yaml:"capacity"`
	Dir               string        `mapstructure:"dir"                yaml:"dir"`
	StreamURI         string        `mapstructure:"stream_uri"         yaml:"stream_uri"`
	StreamDatabase    string        `mapstructure:"stream_database"    yaml:"stream_database"`
	StreamCollection  string        `mapstructure:"stream_collection"  yaml:"stream_collection"`
	ConsumerGroup     string        `mapstructure:"consumer_group"     yaml:"consumer_group"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout" yaml:"visibility_timeout"`
}

// CheckpointConfig controls progress persistence.
type CheckpointConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// RecoveryConfig controls the fault-tolerance strategies.
type RecoveryConfig struct {
	BlockedURLPatterns []string      `mapstructure:"blocked_url_patterns" yaml:"blocked_url_patterns"`
	OverlayLocators    []string      `mapstructure:"overlay_locators"     yaml:"overlay_locators"`
	FailureThreshold   int           `mapstructure:"failure_threshold"    yaml:"failure_threshold"`
	FailureWindow      time.Duration `mapstructure:"failure_window"       yaml:"failure_window"`
}

// BrowserConfig controls the rod page driver.
type BrowserConfig struct {
	Headless    bool   `mapstructure:"headless"      yaml:"headless"`
	Stealth     bool   `mapstructure:"stealth"       yaml:"stealth"`
	UserDataDir string `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	WindowSize  string `mapstructure:"window_size"   yaml:"window_size"`
}

// DecisionConfig controls the LLM decision client.
type DecisionConfig struct {
	Provider    string  `mapstructure:"provider"    yaml:"provider"` // ollama, openai, custom
	Endpoint    string  `mapstructure:"endpoint"    yaml:"endpoint"`
	Model       string  `mapstructure:"model"       yaml:"model"`
	APIKey      string  `mapstructure:"api_key"     yaml:"api_key"`
	MaxTokens   int     `mapstructure:"max_tokens"  yaml:"max_tokens"`
	Temperature float64 `mapstructure:"temperature" yaml:"temperature"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level      string `mapstructure:"level"       yaml:"level"`
	Format     string `mapstructure:"format"      yaml:"format"`
	Output     string `mapstructure:"output"      yaml:"output"` // stderr, stdout, or a file path
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Collector: CollectorConfig{
			SampleVisits:    3,
			MaxExtraVisits:  2,
			ConsumerWorkers: 4,
			FetchBatchSize:  10,
			FetchTimeout:    5 * time.Second,
			NavigateTimeout: 30 * time.Second,
			ElementTimeout:  10 * time.Second,
			SummaryPath:     "./output/summary.json",
			OutputPath:      "./output/extracted.jsonl",
		},
		Pagination: PaginationConfig{
			MaxPages: 50,
			NextLocators: []string{
				`//a[@rel='next']`,
				`//a[contains(@class,'next')]`,
				`//button[contains(@class,'next')]`,
				`//a[contains(@aria-label,'Next')]`,
				`//a[normalize-space(text())='›' or normalize-space(text())='»']`,
			},
			UseVisionHint: true,
		},
		Rate: RateConfig{
			BaseDelay:           1 * time.Second,
			BackoffFactor:       1.5,
			MaxBackoffLevel:     6,
			CreditRecoveryPages: 5,
			JitterFraction:      0.1,
		},
		Channel: ChannelConfig{
			Backend:           "memory",
			Capacity:          256,
			Dir:               "./output/channel",
			StreamDatabase:    "linkwalk",
			StreamCollection:  "url_stream",
			ConsumerGroup:     "default",
			VisibilityTimeout: 2 * time.Minute,
		},
		Checkpoint: CheckpointConfig{
			Dir: ".linkwalk_checkpoints",
		},
		Recovery: RecoveryConfig{
			BlockedURLPatterns: []string{
				`\.(png|jpe?g|gif|svg|css|js|woff2?)(\?|$)`,
				`/(track|pixel|beacon|analytics)/`,
			},
			OverlayLocators: []string{
				`//div[contains(@class,'modal')]//button[contains(@class,'close')]`,
				`//button[contains(@aria-label,'lose')]`,
				`//div[contains(@class,'cookie')]//button`,
			},
			FailureThreshold: 3,
			FailureWindow:    10 * time.Minute,
		},
		Browser: BrowserConfig{
			Headless: true,
			Stealth:  true,
		},
		Decision: DecisionConfig{
			Provider:    "ollama",
			Endpoint:    "http://localhost:11434",
			Model:       "llama3",
			MaxTokens:   512,
			Temperature: 0.1,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			MaxSizeMB:  50,
			MaxBackups: 3,
		},
	}
}
