package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"nextgen-optimizer/internal/codec"
	"nextgen-optimizer/internal/config"
	"nextgen-optimizer/internal/converter"
	"nextgen-optimizer/internal/library"
	"nextgen-optimizer/internal/logger"
	"nextgen-optimizer/internal/scanner"
	"nextgen-optimizer/internal/statistics"
	"nextgen-optimizer/internal/web"

	"github.com/barasher/go-exiftool"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile      string
	uploadsDir   string
	outputFormat string
	quality      int
	forceAll     bool
	batchSize    int
	verbose      bool
	quiet        bool
	port         int

	// Set via -ldflags "-X main.version=... -X main.buildTime=..."
	version   = "dev"
	buildTime = "unknown"
)

// rootCmd is the base command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "nextgen-optimizer",
	Short: "Convert a media library to next-generation image formats",
	Long: `NextGen Optimizer converts the JPEG and PNG files of a media library
into next-generation formats (WebP, AVIF) and keeps the derived files
next to their originals so web servers can serve them directly.

Features:
- Scans the library and classifies images as converted, pending or ignored
- Converts originals and generated renditions in resumable batches
- Skips images below configurable dimension and file size thresholds
- Uses ffmpeg when available, with a built-in WebP encoder as fallback
- Reverts all derived files in one sweep
- Rewrites image URLs in HTML to their converted siblings`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// scanCmd scans the library and prints the classification summary.
var scanCmd = &cobra.Command{
	Use:   "scan [directory]",
	Short: "Scan the library and show conversion statistics",
	Long: `Scan the uploads directory (or the given directory) and display how many
images are already converted, still pending or ignored by the thresholds,
without converting anything.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScan(args)
	},
}

// convertCmd converts pending images batch by batch until none remain.
var convertCmd = &cobra.Command{
	Use:   "convert [directory]",
	Short: "Convert all pending images",
	Long: `Scan the library and convert every pending image, processing the queue
in batches. Already converted files are left untouched, so an interrupted
run picks up where it stopped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConvert(args)
	},
}

// convertOneCmd converts a single record by its library ID.
var convertOneCmd = &cobra.Command{
	Use:   "convert-one <id>",
	Short: "Convert a single image record",
	Long: `Convert one image record, identified by its path relative to the uploads
directory, including its renditions. Thresholds still apply unless --force
is given.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConvertOne(args[0])
	},
}

// revertCmd removes every derived file whose original still exists.
var revertCmd = &cobra.Command{
	Use:   "revert [directory]",
	Short: "Remove all derived files",
	Long: `Walk the uploads directory and delete every WebP and AVIF file that was
derived from a JPEG or PNG. Derived files whose original is gone are kept,
removing them would lose the image entirely.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRevert(args)
	},
}

// capabilitiesCmd reports which codec backends and formats are usable.
var capabilitiesCmd = &cobra.Command{
	Use:   "capabilities",
	Short: "Show available codec backends and formats",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCapabilities()
	},
}

// inspectCmd shows metadata and the threshold verdict for one file.
var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Inspect a file's metadata and conversion eligibility",
	Long: `Shows the file's metadata as reported by exiftool, whether it passes the
conversion thresholds and which derived files already exist next to it.
Useful for understanding why the scan ignored a particular image.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInspect(args[0])
	},
}

// versionCmd prints the build information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("nextgen-optimizer %s (built %s)\n", version, buildTime)
	},
}

// serveCmd starts the web interface and media server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web API and media server",
	Long: `Starts a web server exposing the optimizer's API:
- Trigger scans and batched conversions, with progress over WebSocket
- Revert all derived files
- Serve library files under /media/ with Accept-header negotiation,
  delivering the converted sibling to browsers that support it

Access the API at http://localhost:<port> (default: 8080)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")
	rootCmd.PersistentFlags().StringVar(&uploadsDir, "uploads", "", "uploads directory containing the media library")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "", "output format: webp, avif or both")
	rootCmd.PersistentFlags().IntVar(&quality, "quality", -1, "encoding quality (0-100)")
	rootCmd.PersistentFlags().BoolVar(&forceAll, "force", false, "convert even images below the thresholds")

	convertCmd.Flags().IntVar(&batchSize, "batch-size", 0, "records per batch (default from config)")
	serveCmd.Flags().IntVar(&port, "port", 8080, "port to run web server on")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(convertOneCmd)
	rootCmd.AddCommand(revertCmd)
	rootCmd.AddCommand(capabilitiesCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
}

// initConfig loads configuration file and environment variables.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.nextgen-optimizer")
		viper.AddConfigPath("/etc/nextgen-optimizer")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// runScan scans the library and prints the summary.
func runScan(args []string) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg)
	p := buildPipeline(cfg, log)
	defer p.cleanup()

	summary, pending, err := p.scan.Scan()
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	if !quiet {
		fmt.Println("\n==================================================")
		fmt.Println("SCAN RESULTS")
		fmt.Println("==================================================")
		fmt.Println("\n" + p.stats.GetSummary())
		if summary.PendingImages > 0 {
			fmt.Printf("\nRun 'nextgen-optimizer convert' to process the %d pending image(s).\n", len(pending))
		}
	}

	return nil
}

// runConvert scans the library and converts the pending queue batch by batch.
func runConvert(args []string) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg)
	p := buildPipeline(cfg, log)
	defer p.cleanup()

	_, pending, err := p.scan.Scan()
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	for len(pending) > 0 {
		result, remaining := p.scan.ConvertBatch(pending, batchSize)
		pending = remaining

		if !quiet {
			for _, outcome := range result.Results {
				printOutcome(outcome)
			}
		}
	}

	if !quiet {
		fmt.Println("\n" + p.stats.GetSummary())
	}

	return nil
}

// runConvertOne converts a single record identified by its library ID.
func runConvertOne(id string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg)
	p := buildPipeline(cfg, log)
	defer p.cleanup()

	rec, err := p.lib.Get(id)
	if err != nil {
		return fmt.Errorf("failed to look up record: %w", err)
	}
	if rec == nil {
		return fmt.Errorf("record does not exist: %s", id)
	}

	formats := codec.FormatsFor(cfg.Conversion.OutputFormat)
	result := p.conv.ConvertRecord(rec, formats)

	if !quiet {
		printOutcome(scanner.RecordOutcome{ID: id, Converted: result.Converted, Details: result.Details})
	}

	return nil
}

// runRevert removes all derived files under the uploads directory.
func runRevert(args []string) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg)

	formats := []codec.Format{codec.FormatWebP, codec.FormatAVIF}
	result := converter.RemoveAllDerived(cfg.UploadsDirectory, formats, log)

	if !quiet {
		fmt.Printf("Removed %d derived file(s), %d error(s).\n", result.Removed, result.Errors)
	}

	return nil
}

// runCapabilities probes the codec backends and prints what they support.
func runCapabilities() error {
	probe := codec.DefaultProbe()

	fmt.Println("Codec backends:")
	caps := probe.Capabilities()
	names := make([]string, 0, len(caps))
	for name := range caps {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c := caps[name]
		fmt.Printf("  %-8s available=%v webp=%v avif=%v\n", name, c.Available, c.WebP, c.AVIF)
	}

	fmt.Printf("\nPreferred engine: %s\n", probe.PreferredEngine())
	fmt.Printf("WebP supported:   %v\n", probe.SupportsFormat(codec.FormatWebP))
	fmt.Printf("AVIF supported:   %v\n", probe.SupportsFormat(codec.FormatAVIF))
	return nil
}

// runInspect prints metadata and the threshold verdict for a single file.
func runInspect(filePath string) error {
	if !fileExists(filePath) {
		return fmt.Errorf("file does not exist: %s", filePath)
	}

	cfg, err := loadConfig(nil)
	if err != nil {
		cfg = config.DefaultConfig()
	}

	fmt.Printf("Inspecting: %s\n\n", filePath)

	reason, m := converter.CheckThresholds(filePath, cfg.Conversion)
	if m.Width > 0 {
		fmt.Printf("Dimensions: %dx%d\n", m.Width, m.Height)
		fmt.Printf("Size: %d KB\n", m.SizeKB)
	}
	switch {
	case reason == converter.ReasonNone:
		fmt.Println("Eligibility: convertible")
	case cfg.Conversion.ForceAll:
		fmt.Printf("Eligibility: convertible (forced, would be %s)\n", reason)
	default:
		fmt.Printf("Eligibility: ignored (%s)\n", reason)
	}

	for _, f := range []codec.Format{codec.FormatWebP, codec.FormatAVIF} {
		target := converter.TargetPath(filePath, f)
		if fileExists(target) {
			fmt.Printf("Derived %s: %s\n", f, target)
		} else {
			fmt.Printf("Derived %s: not present\n", f)
		}
	}

	et, err := exiftool.NewExiftool()
	if err != nil {
		fmt.Printf("\nMetadata unavailable: %v\n", err)
		return nil
	}
	defer et.Close()

	metas := et.ExtractMetadata(filePath)
	if len(metas) != 1 || metas[0].Err != nil {
		fmt.Println("\nMetadata unavailable")
		return nil
	}

	keys := make([]string, 0, len(metas[0].Fields))
	for k := range metas[0].Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Println("\nMetadata:")
	for _, k := range keys {
		fmt.Printf("  %s: %v\n", k, metas[0].Fields[k])
	}

	return nil
}

// runServe starts the web server and handles graceful shutdown.
func runServe() error {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "CONFIG LOAD ERROR: %v\n", err)
		cfg = config.DefaultConfig()
		cfg.UploadsDirectory = "."
	}
	applyOverrides(cfg)

	log := setupLogger(cfg)
	p := buildPipeline(cfg, log)
	defer p.cleanup()

	server := web.NewServer(cfg, log, p.lib, p.scan, p.conv, p.probe, p.stats)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := server.Start(port); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	fmt.Printf("NextGen Optimizer API started on http://localhost:%d\n", port)
	fmt.Printf("Press Ctrl+C to stop the server\n\n")

	<-sigChan
	fmt.Println("\nShutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	fmt.Println("Server stopped gracefully")
	return nil
}

// pipeline bundles the wired-up core components of one CLI invocation.
type pipeline struct {
	lib     library.Library
	probe   *codec.Probe
	stats   *statistics.Statistics
	conv    *converter.Converter
	scan    *scanner.Scanner
	cleanup func()
}

// buildPipeline wires the library, converter and scanner together. The
// cleanup function closes the exiftool handle when one was opened.
func buildPipeline(cfg *config.Config, log *logrus.Logger) *pipeline {
	lib := library.NewDirLibrary(cfg.UploadsDirectory)
	probe := codec.DefaultProbe()
	stats := statistics.NewStatistics()

	var et *exiftool.Exiftool
	cleanup := func() {}
	if cfg.Conversion.PreserveMetadata {
		handle, err := exiftool.NewExiftool()
		if err != nil {
			log.WithError(err).Warn("exiftool unavailable, metadata will not be preserved")
		} else {
			et = handle
			cleanup = func() { et.Close() }
		}
	}

	conv := converter.NewConverter(cfg, probe, log, et)
	scan := scanner.NewScanner(lib, cfg, conv, stats, log)
	return &pipeline{lib: lib, probe: probe, stats: stats, conv: conv, scan: scan, cleanup: cleanup}
}

// printOutcome prints one record's conversion outcome, sizes in stable order.
func printOutcome(outcome scanner.RecordOutcome) {
	status := "unchanged"
	if outcome.Converted {
		status = "converted"
	}
	fmt.Printf("%s [%s]\n", outcome.ID, status)
	for _, size := range converter.SortedSizeKeys(outcome.Details) {
		fmt.Printf("    %s: %s\n", size, outcome.Details[size])
	}
}

// loadConfig loads configuration and applies CLI overrides.
func loadConfig(args []string) (*config.Config, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, err
	}

	if len(args) > 0 {
		cfg.UploadsDirectory = args[0]
	}
	applyOverrides(cfg)

	if cfg.UploadsDirectory == "" {
		cfg.UploadsDirectory = "."
	}

	if !dirExists(cfg.UploadsDirectory) {
		return nil, fmt.Errorf("uploads directory does not exist: %s", cfg.UploadsDirectory)
	}

	return cfg, nil
}

// applyOverrides copies set CLI flags over the loaded configuration.
func applyOverrides(cfg *config.Config) {
	if uploadsDir != "" {
		cfg.UploadsDirectory = uploadsDir
	}
	if outputFormat != "" {
		cfg.Conversion.OutputFormat = outputFormat
	}
	if quality >= 0 {
		cfg.Conversion.Quality = quality
	}
	if forceAll {
		cfg.Conversion.ForceAll = true
	}
}

// setupLogger configures and returns a logger.
func setupLogger(cfg *config.Config) *logrus.Logger {
	loggerCfg := logger.LoggerConfig{
		Level:      cfg.Logging.Level,
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
		Console:    !quiet,
	}

	if verbose {
		loggerCfg.Level = "debug"
	}
	if quiet {
		loggerCfg.Level = "error"
	}

	log, err := logger.NewLogger(loggerCfg)
	if err != nil {
		log = logrus.New()
		log.SetLevel(logrus.InfoLevel)
	}

	return log
}

// fileExists returns true if the given path exists and is a file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// dirExists returns true if the given path exists and is a directory.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
