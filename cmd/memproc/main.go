package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/memtools/memproc"
	"github.com/memtools/memproc/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	v       *viper.Viper
	cfg     *config.Config
)

// Root command
var rootCmd = &cobra.Command{
	Use:   "memproc",
	Short: "Retrieve and restore a memories export",
	Long: `MEMPROC parses a saved memories export page, downloads every linked
asset with a worker pool, and restores the results: capture dates and GPS
coordinates go back into the files via exiftool, overlay assets are merged
onto their base image or video, and duplicate bundle contents are pruned.

Examples:
  memproc run                     # Full pipeline: download, metadata, combine, dedupe
  memproc download --limit 5      # Test run with the first five links
  memproc combine --dry-run       # Preview overlay merging
  memproc config                  # Show current configuration`,
	Version: memproc.Version,
}

// Run command - the whole pipeline
var runCmd = &cobra.Command{
	Use:   "run [flags]",
	Short: "Run the full pipeline",
	Long: `Download all pending assets, write location metadata, combine
overlays and prune duplicate bundle contents, in that order.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAll()
	},
}

var downloadCmd = &cobra.Command{
	Use:   "download [flags]",
	Short: "Download pending assets from the export",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDownload()
	},
}

var metadataCmd = &cobra.Command{
	Use:   "metadata [flags]",
	Short: "Write GPS metadata from the export into downloaded files",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMetadata()
	},
}

var combineCmd = &cobra.Command{
	Use:   "combine [flags]",
	Short: "Merge overlay assets onto their base image or video",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCombine()
	},
}

var dedupeCmd = &cobra.Command{
	Use:   "dedupe [flags]",
	Short: "Delete byte-identical duplicates inside expanded bundles",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDedupe()
	},
}

// Config command - show configuration
var configCmd = &cobra.Command{
	Use:   "config [flags]",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showConfig()
	},
}

func main() {
	Execute()
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	// Set up the PersistentPreRunE hook (must be done here to avoid initialization cycle)
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return initConfig()
	}

	// Add subcommands
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(metadataCmd)
	rootCmd.AddCommand(combineCmd)
	rootCmd.AddCommand(dedupeCmd)
	rootCmd.AddCommand(configCmd)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", fmt.Sprintf("config file (searches: ./memproc.yaml, %s/.config/memproc/memproc.yaml, /etc/memproc/memproc.yaml)", os.Getenv("HOME")))
	rootCmd.PersistentFlags().Bool("debug", config.DefaultDebug, "enable debug logging")
	rootCmd.PersistentFlags().String("html-file", config.DefaultHTMLFile, "export HTML file path")
	rootCmd.PersistentFlags().String("data-dir", config.DefaultDataDir, "download directory path")
	rootCmd.PersistentFlags().String("log-file", "", "log file path (empty = stderr)")
	rootCmd.PersistentFlags().Duration("timeout", config.DefaultTimeout, "per request HTTP timeout")

	// Download flags, shared by run
	for _, cmd := range []*cobra.Command{runCmd, downloadCmd} {
		cmd.Flags().IntP("workers", "w", config.DefaultWorkers, "number of parallel downloads")
		cmd.Flags().IntP("limit", "n", 0, "only process the first N links (0 = all)")
	}

	// Post-processing flags, shared by run
	for _, cmd := range []*cobra.Command{runCmd, combineCmd, dedupeCmd} {
		cmd.Flags().Bool("dry-run", false, "preview changes without writing or deleting")
		cmd.Flags().BoolP("keep", "k", false, "keep overlay source directories after combining")
	}
}

func initConfig() error {
	var err error
	v, err = config.Init()
	if err != nil {
		return err
	}

	// Override config file if specified
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Bind command-line flags to viper instance (must be done after viper is created)
	// Global flags
	v.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	v.BindPFlag("html_file", rootCmd.PersistentFlags().Lookup("html-file"))
	v.BindPFlag("data_dir", rootCmd.PersistentFlags().Lookup("data-dir"))
	v.BindPFlag("log_file", rootCmd.PersistentFlags().Lookup("log-file"))
	v.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))

	// The invoked subcommand wins for shared flags
	for _, cmd := range []*cobra.Command{runCmd, downloadCmd} {
		if flag := cmd.Flags().Lookup("workers"); flag != nil && flag.Changed {
			v.BindPFlag("download.workers", flag)
		}
		if flag := cmd.Flags().Lookup("limit"); flag != nil && flag.Changed {
			v.BindPFlag("download.limit", flag)
		}
	}
	for _, cmd := range []*cobra.Command{runCmd, combineCmd, dedupeCmd} {
		if flag := cmd.Flags().Lookup("dry-run"); flag != nil && flag.Changed {
			v.BindPFlag("post.dry_run", flag)
		}
		if flag := cmd.Flags().Lookup("keep"); flag != nil && flag.Changed {
			v.BindPFlag("post.keep_originals", flag)
		}
	}

	// Unmarshal config
	if err := v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Setup logging
	setupLogging()

	return nil
}

func setupLogging() {
	var (
		logLevel = slog.LevelInfo
		h        slog.Handler
		w        io.Writer
	)

	if cfg.Debug {
		logLevel = slog.LevelDebug
	}

	switch {
	case cfg.LogFile != "":
		f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			slog.Error("cannot open log", "err", err)
			os.Exit(1)
		}
		w = f
	default:
		w = os.Stderr
	}

	h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(h)
	slog.SetDefault(logger)
}

// ensureDataDir creates the download directory if it doesn't exist.
func ensureDataDir() error {
	if cfg.DataDir == "" {
		return fmt.Errorf("data directory not configured")
	}
	if _, err := os.Stat(cfg.DataDir); os.IsNotExist(err) {
		slog.Info("creating data directory", "path", cfg.DataDir)
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return fmt.Errorf("cannot create data directory: %w", err)
		}
	}
	return nil
}

// setupMetadata probes for exiftool once per run; a nil-backed writer
// degrades every metadata feature instead of erroring per item.
func setupMetadata() *memproc.MetadataWriter {
	if !cfg.Post.UseExiftool {
		slog.Info("exiftool disabled by configuration")
		return nil
	}
	return memproc.NewMetadataWriter()
}

// ledgerPath resolves a ledger filename relative to the data directory's
// parent, keeping ledgers next to the download folder as the export tooling
// expects.
func ledgerPath(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(filepath.Dir(cfg.DataDir), name)
}

// Command implementations

func runAll() error {
	if err := runDownload(); err != nil {
		slog.Error("download step failed", "err", err)
		return err
	}
	for _, step := range []struct {
		name string
		fn   func() error
	}{
		{"metadata", runMetadata},
		{"combine", runCombine},
		{"dedupe", runDedupe},
	} {
		if err := step.fn(); err != nil {
			// Later steps have their own preconditions; one failing step
			// does not invalidate the others.
			slog.Error("step failed", "step", step.name, "err", err)
		}
	}
	return nil
}

func runDownload() error {
	export, err := memproc.ParseExportFile(cfg.HTMLFile)
	if err != nil {
		return err
	}
	slog.Info("parsed export",
		"links", len(export.Entries),
		"date_rows", len(export.Locations))
	if err := ensureDataDir(); err != nil {
		return err
	}
	ok, err := memproc.HasSufficientDiskSpace(cfg.DataDir, cfg.Download.MinFreeDiskPercent)
	if err != nil {
		slog.Warn("cannot check disk space", "err", err)
	} else if !ok {
		return fmt.Errorf("insufficient free disk space below %s", cfg.DataDir)
	}
	ledger, err := memproc.LoadLedger(ledgerPath(cfg.Ledger.SuccessFile))
	if err != nil {
		return err
	}
	errorLedger, err := memproc.LoadErrorLedger(ledgerPath(cfg.Ledger.ErrorFile))
	if err != nil {
		return err
	}
	var index *memproc.ContentIndex
	if cfg.Ledger.IndexOn && cfg.Ledger.IndexDB != "" {
		index = &memproc.ContentIndex{Path: ledgerPath(cfg.Ledger.IndexDB)}
		if err := index.EnsureDB(); err != nil {
			slog.Warn("content index unavailable", "err", err)
			index = nil
		} else {
			defer index.Close()
		}
	}
	metadata := setupMetadata()
	if metadata != nil {
		defer metadata.Close()
	}
	downloader := &memproc.Downloader{
		Entries:    export.Entries,
		NumWorkers: cfg.Download.Workers,
		Limit:      cfg.Download.Limit,
		Fetcher:    memproc.NewFetcher(cfg.DataDir, cfg.Timeout),
		Ledger:     ledger,
		Errors:     errorLedger,
		Metadata:   metadata,
		Index:      index,
	}
	return downloader.Run(context.Background())
}

func runMetadata() error {
	successPath := ledgerPath(cfg.Ledger.SuccessFile)
	if _, err := os.Stat(successPath); err != nil {
		return fmt.Errorf("success ledger required, run download first: %w", err)
	}
	export, err := memproc.ParseExportFile(cfg.HTMLFile)
	if err != nil {
		return err
	}
	ledger, err := memproc.LoadLedger(successPath)
	if err != nil {
		return err
	}
	metadata := setupMetadata()
	if metadata != nil {
		defer metadata.Close()
	}
	step := &memproc.LocationStep{
		Export:      export,
		Ledger:      ledger,
		Dir:         cfg.DataDir,
		SummaryPath: ledgerPath(cfg.Ledger.SummaryFile),
		Metadata:    metadata,
	}
	_, err = step.Run()
	return err
}

func runCombine() error {
	if _, err := os.Stat(cfg.DataDir); err != nil {
		return fmt.Errorf("data directory required, run download first: %w", err)
	}
	metadata := setupMetadata()
	if metadata != nil {
		defer metadata.Close()
	}
	compositor := memproc.NewCompositor(cfg.DataDir, metadata)
	compositor.DryRun = cfg.Post.DryRun
	compositor.KeepOriginals = cfg.Post.KeepOriginals
	if !cfg.Post.UseFFmpeg {
		slog.Info("ffmpeg disabled by configuration, video groups will be skipped")
		compositor.DisableVideo()
	}
	_, err := compositor.Run()
	return err
}

func runDedupe() error {
	if _, err := os.Stat(cfg.DataDir); err != nil {
		return fmt.Errorf("data directory required, run download first: %w", err)
	}
	pruner := &memproc.Pruner{
		Dir:    cfg.DataDir,
		DryRun: cfg.Post.DryRun,
	}
	_, err := pruner.Run()
	return err
}

func showConfig() error {
	fmt.Printf("MEMPROC Configuration:\n")
	if v.ConfigFileUsed() != "" {
		fmt.Printf("Config File: %s\n", v.ConfigFileUsed())
	} else {
		fmt.Printf("Config File: none (using defaults/env vars/flags)\n")
	}
	fmt.Println()

	fmt.Printf("Effective Configuration:\n")
	fmt.Printf("  Debug: %t\n", cfg.Debug)
	fmt.Printf("  HTML File: %s\n", cfg.HTMLFile)
	fmt.Printf("  Data Dir: %s\n", cfg.DataDir)
	fmt.Printf("  Log File: %s\n", cfg.LogFile)
	fmt.Printf("  Timeout: %v\n", cfg.Timeout)
	fmt.Println()

	fmt.Printf("Ledger:\n")
	fmt.Printf("  Success File: %s\n", ledgerPath(cfg.Ledger.SuccessFile))
	fmt.Printf("  Error File: %s\n", ledgerPath(cfg.Ledger.ErrorFile))
	fmt.Printf("  Summary File: %s\n", ledgerPath(cfg.Ledger.SummaryFile))
	fmt.Printf("  Content Index: %t (%s)\n", cfg.Ledger.IndexOn, cfg.Ledger.IndexDB)
	fmt.Println()

	fmt.Printf("Download:\n")
	fmt.Printf("  Workers: %d\n", cfg.Download.Workers)
	fmt.Printf("  Limit: %d\n", cfg.Download.Limit)
	fmt.Printf("  Min Free Disk: %d%%\n", cfg.Download.MinFreeDiskPercent)
	fmt.Println()

	fmt.Printf("Post-processing:\n")
	fmt.Printf("  Dry Run: %t\n", cfg.Post.DryRun)
	fmt.Printf("  Keep Originals: %t\n", cfg.Post.KeepOriginals)
	fmt.Printf("  Use exiftool: %t\n", cfg.Post.UseExiftool)
	fmt.Printf("  Use ffmpeg: %t\n", cfg.Post.UseFFmpeg)

	return nil
}
