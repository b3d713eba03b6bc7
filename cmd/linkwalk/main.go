package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/linkwalk/linkwalk/internal/browser"
	"github.com/linkwalk/linkwalk/internal/channel"
	"github.com/linkwalk/linkwalk/internal/checkpoint"
	"github.com/linkwalk/linkwalk/internal/collector"
	"github.com/linkwalk/linkwalk/internal/config"
	"github.com/linkwalk/linkwalk/internal/decision"
	"github.com/linkwalk/linkwalk/internal/perception"
	"github.com/linkwalk/linkwalk/internal/sink"
)

var (
	cfgFile    string
	verbose    bool
	outputPath string
	backend    string
	maxPages   int
	workers    int
	baseDelay  string
	headful    bool
	taskDesc   string
	noProgress bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "linkwalk",
		Short: "linkwalk is a resumable list-page URL collector",
		Long: `linkwalk walks paginated list pages, learns the URL pattern of their
detail links from a few exploratory clicks, then bulk-collects matching
URLs page by page while a concurrent consumer extracts each detail page.

Progress is checkpointed after every page, so an interrupted run resumes
where it left off.`,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(collectCmd())
	rootCmd.AddCommand(resumeCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(clearCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(configCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// collectCmd creates the "collect" subcommand.
func collectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collect [list-page-url]",
		Short: "Start a fresh collection run",
		Long:  "Start collecting detail-page URLs from the given list page. Any existing checkpoint is replaced.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCollection(args[0], false)
		},
	}
	addRunFlags(cmd)
	return cmd
}

// resumeCmd creates the "resume" subcommand.
func resumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume [list-page-url]",
		Short: "Resume an interrupted run from its checkpoint",
		Long:  "Resume from the last checkpoint: collected URLs are not re-enqueued and paging restarts at the saved page.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCollection(args[0], true)
		},
	}
	addRunFlags(cmd)
	return cmd
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "extraction output file (JSONL)")
	cmd.Flags().StringVarP(&backend, "backend", "b", "", "url channel backend: memory, file, stream")
	cmd.Flags().IntVarP(&maxPages, "max-pages", "m", 0, "maximum list pages to visit (0 = use config)")
	cmd.Flags().IntVarP(&workers, "workers", "n", 0, "concurrent consumer workers (0 = use config)")
	cmd.Flags().StringVar(&baseDelay, "delay", "", "base delay between list pages (e.g. 1s)")
	cmd.Flags().StringVarP(&taskDesc, "task", "t", "", "natural-language description of the links to collect")
	cmd.Flags().BoolVar(&headful, "headful", false, "run the browser with a visible window")
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "disable the terminal progress spinner")
}

// runCollection wires the components and drives one run.
func runCollection(startURL string, resume bool) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyCLIOverrides(cfg, resume)

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := config.ValidateURL(startURL); err != nil {
		return fmt.Errorf("invalid URL %q: %w", startURL, err)
	}

	logger, closeLog := setupLogger(cfg.Logging)
	defer closeLog()

	logger.Info("starting collection",
		"url", startURL,
		"resume", resume,
		"backend", cfg.Channel.Backend,
		"max_pages", cfg.Pagination.MaxPages,
		"workers", cfg.Collector.ConsumerWorkers,
	)

	store, err := checkpoint.New(cfg.Checkpoint.Dir, logger)
	if err != nil {
		return fmt.Errorf("open checkpoint store: %w", err)
	}
	defer store.Close()

	if !resume && store.HasCheckpoint() {
		logger.Info("discarding previous checkpoint")
		if err := store.Clear(); err != nil {
			return fmt.Errorf("clear checkpoint: %w", err)
		}
	}

	ch, err := channel.New(cfg.Channel, logger)
	if err != nil {
		return fmt.Errorf("create url channel: %w", err)
	}
	defer ch.Close()

	drv, err := browser.New(cfg.Browser, logger)
	if err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	defer drv.Close()

	out, err := sink.NewJSONL(outputFile(cfg), logger)
	if err != nil {
		return fmt.Errorf("open output: %w", err)
	}
	defer out.Close()

	var decider collector.Decision
	if cfg.Decision.Provider != "" {
		decider = decision.New(cfg.Decision, logger)
	}

	coll := collector.New(cfg, logger,
		drv,
		perception.New(logger),
		decider,
		out,
		ch,
		store,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down...", "signal", sig)
		cancel()
	}()

	stopSpinner := startSpinner(coll)
	start := time.Now()
	summary, err := coll.Run(ctx, startURL)
	stopSpinner()
	if err != nil {
		return fmt.Errorf("collection run: %w", err)
	}

	elapsed := time.Since(start)
	fmt.Printf("\nRun %s in %s\n", summary.Status, elapsed.Round(time.Millisecond))
	fmt.Printf("   Pages:     %d visited\n", summary.Pages)
	fmt.Printf("   URLs:      %d collected, %d published\n", summary.CollectedCount, summary.PublishedCount)
	fmt.Printf("   Extracted: %d done, %d skipped, %d failed\n", summary.ConsumedCount, summary.SkippedCount, summary.ErrorCount)
	fmt.Printf("   Output:    %s\n", outputFile(cfg))

	for _, f := range ch.Failures() {
		logger.Warn("task failed permanently", "url", f.URL, "reason", f.Reason)
	}
	return nil
}

// statusCmd creates the "status" subcommand.
func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show checkpoint status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger, closeLog := setupLogger(cfg.Logging)
			defer closeLog()

			store, err := checkpoint.New(cfg.Checkpoint.Dir, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			if !store.HasCheckpoint() {
				fmt.Println("No checkpoint found.")
				return nil
			}

			p, err := store.Load()
			if err != nil {
				return err
			}
			if p == nil {
				fmt.Printf("Checkpoint directory %s holds %d URLs but no readable progress record.\n",
					cfg.Checkpoint.Dir, store.Count())
				return nil
			}

			fmt.Printf("Status:        %s\n", p.Status)
			if p.PauseReason != "" {
				fmt.Printf("Pause reason:  %s\n", p.PauseReason)
			}
			fmt.Printf("Current page:  %d\n", p.CurrentPageNum)
			fmt.Printf("Collected:     %d URLs (%d in log)\n", p.CollectedCount, store.Count())
			fmt.Printf("Backoff level: %d\n", p.BackoffLevel)
			fmt.Printf("Last updated:  %s\n", p.LastUpdated.Format(time.RFC3339))
			return nil
		},
	}
}

// clearCmd creates the "clear" subcommand.
func clearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete the checkpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger, closeLog := setupLogger(cfg.Logging)
			defer closeLog()

			store, err := checkpoint.New(cfg.Checkpoint.Dir, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Clear(); err != nil {
				return err
			}
			fmt.Println("Checkpoint cleared.")
			return nil
		},
	}
}

// versionCmd creates the "version" subcommand.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("linkwalk %s\n", config.Version)
		},
	}
}

// configCmd creates the "config" subcommand for inspecting configuration.
func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			fmt.Printf("Collector:\n")
			fmt.Printf("  Sample Visits:     %d\n", cfg.Collector.SampleVisits)
			fmt.Printf("  Max Extra Visits:  %d\n", cfg.Collector.MaxExtraVisits)
			fmt.Printf("  Consumer Workers:  %d\n", cfg.Collector.ConsumerWorkers)
			fmt.Printf("  Fetch Batch Size:  %d\n", cfg.Collector.FetchBatchSize)
			fmt.Printf("\nPagination:\n")
			fmt.Printf("  Max Pages:         %d\n", cfg.Pagination.MaxPages)
			fmt.Printf("  Next Locators:     %d configured\n", len(cfg.Pagination.NextLocators))
			fmt.Printf("\nRate Control:\n")
			fmt.Printf("  Base Delay:        %s\n", cfg.Rate.BaseDelay)
			fmt.Printf("  Backoff Factor:    %.2f\n", cfg.Rate.BackoffFactor)
			fmt.Printf("  Max Backoff Level: %d\n", cfg.Rate.MaxBackoffLevel)
			fmt.Printf("  Credit Pages:      %d\n", cfg.Rate.CreditRecoveryPages)
			fmt.Printf("\nChannel:\n")
			fmt.Printf("  Backend:           %s\n", cfg.Channel.Backend)
			fmt.Printf("  Capacity:          %d\n", cfg.Channel.Capacity)
			fmt.Printf("\nCheckpoint:\n")
			fmt.Printf("  Directory:         %s\n", cfg.Checkpoint.Dir)
			fmt.Printf("\nBrowser:\n")
			fmt.Printf("  Headless:          %v\n", cfg.Browser.Headless)
			fmt.Printf("  Stealth:           %v\n", cfg.Browser.Stealth)
			fmt.Printf("\nDecision:\n")
			fmt.Printf("  Provider:          %s\n", orNone(cfg.Decision.Provider))
			fmt.Printf("  Model:             %s\n", orNone(cfg.Decision.Model))
			return nil
		},
	}
}

// setupLogger builds the structured logger. File outputs rotate through
// lumberjack; the returned func closes the rotator.
func setupLogger(cfg config.LoggingConfig) (*slog.Logger, func()) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	} else if cfg.Level != "" {
		_ = level.UnmarshalText([]byte(cfg.Level))
	}
	opts := &slog.HandlerOptions{Level: level}

	var w io.Writer
	closeFn := func() {}
	switch cfg.Output {
	case "", "stderr":
		w = os.Stderr
	case "stdout":
		w = os.Stdout
	default:
		lj := &lumberjack.Logger{
			Filename:   cfg.Output,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		}
		w = lj
		closeFn = func() { lj.Close() }
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler), closeFn
}

// startSpinner renders a live counter from the collector's stats. Returns
// a stop func.
func startSpinner(coll *collector.Collector) func() {
	if noProgress {
		return func() {}
	}

	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetDescription("collecting"),
	)

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				s := coll.Stats()
				bar.Describe(fmt.Sprintf("pages %d | collected %d | extracted %d",
					s.PagesVisited.Load(), s.URLsDiscovered.Load(), s.URLsConsumed.Load()))
				_ = bar.Add(1)
			}
		}
	}()

	return func() {
		close(done)
		_ = bar.Finish()
		fmt.Fprintln(os.Stderr)
	}
}

// applyCLIOverrides applies command-line flag values to the config.
func applyCLIOverrides(cfg *config.Config, resume bool) {
	cfg.Collector.Resume = resume
	if backend != "" {
		cfg.Channel.Backend = backend
	}
	if maxPages > 0 {
		cfg.Pagination.MaxPages = maxPages
	}
	if workers > 0 {
		cfg.Collector.ConsumerWorkers = workers
	}
	if baseDelay != "" {
		if d, err := time.ParseDuration(baseDelay); err == nil {
			cfg.Rate.BaseDelay = d
		}
	}
	if outputPath != "" {
		cfg.Collector.OutputPath = outputPath
	}
	if taskDesc != "" {
		cfg.Collector.TaskDescription = taskDesc
	}
	if headful {
		cfg.Browser.Headless = false
	}
}

func outputFile(cfg *config.Config) string {
	if cfg.Collector.OutputPath != "" {
		return cfg.Collector.OutputPath
	}
	return "./output/extracted.jsonl"
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
