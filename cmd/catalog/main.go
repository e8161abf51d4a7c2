package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Techinsane-official/scrapper/adapters"
	"github.com/Techinsane-official/scrapper/catalog"
	"github.com/Techinsane-official/scrapper/config"
	"github.com/Techinsane-official/scrapper/dedup"
	"github.com/Techinsane-official/scrapper/models"
	"github.com/Techinsane-official/scrapper/pipeline"
	"github.com/Techinsane-official/scrapper/quality"
	"github.com/Techinsane-official/scrapper/scraper"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file (defaults to ./catalog.yaml when present)")
	inputDir := flag.String("input", "", "Directory of raw record files (.json or .jsonl) to process")
	urlsFile := flag.String("urls", "", "File with one product or search URL per line to crawl")
	catalogPath := flag.String("catalog", "", "SQLite catalog path (empty keeps the catalog in memory)")
	adaptersFile := flag.String("adapters", "", "YAML file with selector adapters for extra retailers")
	outputFile := flag.String("output", "", "Output file path")
	outputFormat := flag.String("format", "", "Output format: csv, json, dual, or xlsx")
	batchSize := flag.Int("batch-size", 0, "Records per dedup batch")
	metricsAddr := flag.String("metrics-addr", "", "Prometheus metrics listen address (e.g. :9090)")
	verbose := flag.Bool("v", false, "Enable verbose logging")

	flag.Parse()

	logger, level := newLogger(*verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("loading configuration", slog.Any("error", err))
		os.Exit(1)
	}
	applyFlags(cfg, flagOverrides{
		inputDir:     *inputDir,
		urlsFile:     *urlsFile,
		catalogPath:  *catalogPath,
		adaptersFile: *adaptersFile,
		outputFile:   *outputFile,
		outputFormat: *outputFormat,
		batchSize:    *batchSize,
		metricsAddr:  *metricsAddr,
		verbose:      *verbose,
	})
	if cfg.Verbose && !*verbose {
		level.Set(slog.LevelDebug)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}
	crawl := len(cfg.URLs) > 0 || cfg.URLsFile != ""
	if cfg.InputDir == "" && !crawl {
		slog.Error("nothing to do: set an input directory or urls to crawl")
		os.Exit(2)
	}

	if err := run(cfg, crawl); err != nil {
		slog.Error("catalog run failed", slog.Any("error", err))
		os.Exit(1)
	}
}

type flagOverrides struct {
	inputDir     string
	urlsFile     string
	catalogPath  string
	adaptersFile string
	outputFile   string
	outputFormat string
	batchSize    int
	metricsAddr  string
	verbose      bool
}

// applyFlags lets explicitly set flags win over file and environment values.
func applyFlags(cfg *config.Config, f flagOverrides) {
	if f.inputDir != "" {
		cfg.InputDir = f.inputDir
	}
	if f.urlsFile != "" {
		cfg.URLsFile = f.urlsFile
	}
	if f.catalogPath != "" {
		cfg.CatalogPath = f.catalogPath
	}
	if f.adaptersFile != "" {
		cfg.AdaptersFile = f.adaptersFile
	}
	if f.outputFile != "" {
		cfg.OutputFile = f.outputFile
	}
	if f.outputFormat != "" {
		cfg.OutputFormat = strings.ToLower(f.outputFormat)
	}
	if f.batchSize > 0 {
		cfg.BatchSize = f.batchSize
	}
	if f.metricsAddr != "" {
		cfg.MetricsAddr = f.metricsAddr
	}
	if f.verbose {
		cfg.Verbose = true
	}
}

func run(cfg *config.Config, crawl bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, waiting for in-flight work to finish")
	}()

	store, err := openCatalog(cfg.CatalogPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("close catalog", slog.Any("error", err))
		}
	}()

	var s *scraper.Scraper
	var registry *prometheus.Registry
	if crawl {
		adapterRegistry, err := buildRegistry(cfg.AdaptersFile)
		if err != nil {
			return err
		}
		s, err = scraper.NewScraper(cfg, adapterRegistry)
		if err != nil {
			return fmt.Errorf("initialising scraper: %w", err)
		}
		registry = s.Metrics.Registry
	} else {
		registry = prometheus.NewRegistry()
	}
	metrics := pipeline.NewMetrics(registry)

	d, err := dedup.New(cfg.Matching, quality.NewScorer(cfg.Quality), slog.Default())
	if err != nil {
		return fmt.Errorf("initialising deduplicator: %w", err)
	}
	orchestrator := pipeline.NewOrchestrator(nil, quality.NewScorer(cfg.Quality), d, metrics, slog.Default())

	writer, err := createWriter(cfg.OutputFormat, cfg.OutputFile)
	if err != nil {
		return fmt.Errorf("creating writer: %w", err)
	}
	defer func() {
		if err := writer.Close(); err != nil {
			slog.Error("close writer", slog.Any("error", err))
		}
	}()

	metricsServer := startMetricsServer(cfg.MetricsAddr, registry)

	p := pipeline.NewPipeline(ctx, orchestrator, store, writer, cfg)
	var reviewMu sync.Mutex
	var review []models.MergeDecision
	p.SetSink(func(result *models.BatchResult) {
		reviewMu.Lock()
		review = append(review, result.ReviewQueue...)
		reviewMu.Unlock()
	})
	p.Start()
	if cfg.Verbose {
		p.StartMetricsReporting(10 * time.Second)
	}

	startTime := time.Now()
	var scrapeResult *models.ScraperResult
	if cfg.InputDir != "" {
		records, err := pipeline.LoadRawRecords(cfg.InputDir)
		if err != nil {
			_ = p.Close()
			return err
		}
		slog.Info("processing raw records",
			slog.String("input_dir", cfg.InputDir),
			slog.Int("records", len(records)),
		)
		if err := p.Process(records...); err != nil {
			_ = p.Close()
			return fmt.Errorf("queue records: %w", err)
		}
	}
	if s != nil {
		slog.Info("starting crawl",
			slog.Int("urls", len(cfg.URLs)),
			slog.String("urls_file", cfg.URLsFile),
			slog.Int("workers", cfg.Parallelism),
		)
		scrapeResult, err = s.Run(ctx, p)
		if err != nil {
			_ = p.Close()
			return fmt.Errorf("crawl: %w", err)
		}
	}

	if err := p.Close(); err != nil {
		return fmt.Errorf("pipeline shutdown: %w", err)
	}
	if err := writer.Validate(); err != nil {
		return fmt.Errorf("output validation: %w", err)
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	printSummary(p.Stats(), scrapeResult, review, time.Since(startTime), cfg.OutputFile)
	return nil
}

func openCatalog(path string) (catalog.Store, error) {
	if path == "" {
		return catalog.NewMemoryStore(), nil
	}
	store, err := catalog.OpenSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}
	return store, nil
}

// buildRegistry puts selector adapters from file ahead of the built-in ones.
func buildRegistry(adaptersFile string) (*adapters.Registry, error) {
	registry := adapters.Default()
	if adaptersFile == "" {
		return registry, nil
	}
	loaded, err := adapters.LoadSelectorAdapters(adaptersFile)
	if err != nil {
		return nil, fmt.Errorf("loading adapters: %w", err)
	}
	extra := make([]adapters.Adapter, 0, len(loaded))
	for _, s := range loaded {
		extra = append(extra, s)
	}
	registry.Prepend(extra...)
	slog.Info("selector adapters loaded", slog.Int("count", len(loaded)))
	return registry, nil
}

func startMetricsServer(addr string, registry *prometheus.Registry) *http.Server {
	if addr == "" {
		return nil
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	slog.Info("metrics server enabled", slog.String("addr", addr))
	return server
}

func createWriter(format, filename string) (pipeline.OutputWriter, error) {
	switch format {
	case "json":
		return pipeline.NewJSONWriter(filename)
	case "csv":
		return pipeline.NewCSVWriter(filename)
	case "dual":
		jsonFilename := strings.TrimSuffix(filename, ".csv") + ".json"
		return pipeline.NewDualWriter(filename, jsonFilename)
	case "xlsx":
		return pipeline.NewXLSXWriter(filename)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

func printSummary(stats pipeline.Stats, result *models.ScraperResult, review []models.MergeDecision, duration time.Duration, outputFile string) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Catalog run complete")

	if err := pipeline.RenderStats(os.Stdout, stats); err != nil {
		slog.Error("render stats", slog.Any("error", err))
	}

	if result != nil {
		successRate := 0.0
		if result.RequestCount > 0 {
			successRate = float64(result.RequestCount-len(result.FailedURLs)) / float64(result.RequestCount) * 100
		}
		fmt.Printf("  Requests:      %d\n", result.RequestCount)
		fmt.Printf("  Pages:         %d\n", result.PageCount)
		fmt.Printf("  Extracted:     %d\n", result.RecordCount)
		fmt.Printf("  Success rate:  %.2f%%\n", successRate)
		fmt.Printf("  Errors:        %d\n", result.ErrorCount)
		fmt.Printf("  Retries:       %d\n", result.RetryCount)
		fmt.Printf("  Failed URLs:   %d\n", len(result.FailedURLs))
		if len(result.ErrorsByType) > 0 {
			fmt.Printf("  Error types:   %v\n", result.ErrorsByType)
		}
	}

	recordsPerSec := 0.0
	if duration.Seconds() > 0 {
		recordsPerSec = float64(stats.Records) / duration.Seconds()
	}
	fmt.Printf("  Duration:      %v\n", duration)
	fmt.Printf("  Records/sec:   %.2f\n", recordsPerSec)
	fmt.Printf("  Output file:   %s\n", outputFile)

	if len(review) > 0 {
		fmt.Printf("\nHeld for review (%d)\n", len(review))
		if err := pipeline.RenderReviewQueue(os.Stdout, review); err != nil {
			slog.Error("render review queue", slog.Any("error", err))
		}
	}
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stderr) {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
