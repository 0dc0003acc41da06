package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/aluiziolira/go-scrape-units/config"
	"github.com/aluiziolira/go-scrape-units/documents"
	"github.com/aluiziolira/go-scrape-units/models"
	"github.com/aluiziolira/go-scrape-units/pipeline"
	"github.com/aluiziolira/go-scrape-units/runner"
	"github.com/aluiziolira/go-scrape-units/scraper"
	"github.com/aluiziolira/go-scrape-units/telemetry"
)

type flagValues struct {
	configPath   string
	mode         string
	units        string
	maxResults   int
	delay        float64
	parallel     int
	format       string
	output       string
	resultFile   string
	documents    bool
	headless     bool
	stealth      bool
	metricsAddr  string
	verbose      bool
	progressSecs int
}

func main() {
	os.Exit(run(os.Args[1:]))
}

// run executes the scrape and returns the process exit code. Deferred
// shutdowns complete before main exits.
func run(args []string) int {
	var fv flagValues
	fs := flag.NewFlagSet("scraper", flag.ExitOnError)
	fs.StringVar(&fv.configPath, "config", "", "YAML configuration file")
	fs.StringVar(&fv.mode, "mode", config.ModeBulk, "Scrape mode: bulk or specific")
	fs.StringVar(&fv.units, "unit", "", "Comma-separated unit numbers; each runs as its own session")
	fs.IntVar(&fv.maxResults, "max-results", 0, "Maximum records per session")
	fs.Float64Var(&fv.delay, "delay", 0, "Base delay between portal actions (seconds)")
	fs.IntVar(&fv.parallel, "parallel", 0, "Maximum concurrent sessions")
	fs.StringVar(&fv.format, "format", "csv", "Output format: csv, json, dual, or sqlite")
	fs.StringVar(&fv.output, "output", "", "Records output file path")
	fs.StringVar(&fv.resultFile, "result", "", "Run record JSON path")
	fs.BoolVar(&fv.documents, "documents", false, "Download unit documents")
	fs.BoolVar(&fv.headless, "headless", true, "Run Chrome headless")
	fs.BoolVar(&fv.stealth, "stealth", true, "Enable anti-detection measures")
	fs.StringVar(&fv.metricsAddr, "metrics-addr", "", "Prometheus metrics listen address (e.g. :9090)")
	fs.BoolVar(&fv.verbose, "v", false, "Enable verbose logging")
	fs.IntVar(&fv.progressSecs, "progress", 10, "Pipeline progress log interval in verbose mode (seconds)")
	_ = fs.Parse(args)

	logger, level := newLogger(fv.verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	cfg, err := config.Load(fv.configPath)
	if err != nil {
		slog.Error("loading configuration", slog.Any("error", err))
		return 1
	}
	applyFlags(fs, cfg, fv)
	units := splitUnits(fv.units)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, waiting for in-flight sessions to finish")
	}()

	tel, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName: "go-scrape-units",
		Version:     scraper.Version,
		Endpoint:    cfg.OTLPEndpoint,
	})
	if err != nil {
		slog.Error("initialising telemetry", slog.Any("error", err))
		return 1
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			slog.Error("telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	ctx, span := otel.Tracer("github.com/aluiziolira/go-scrape-units/cmd/scraper").Start(ctx, "scrape_run")
	defer span.End()

	metrics := scraper.NewMetrics()
	if cfg.MetricsAddr != "" {
		stopMetrics := startMetricsServer(cfg.MetricsAddr, metrics)
		defer stopMetrics()
	}

	opts := []scraper.Option{scraper.WithMetrics(metrics), scraper.WithLogger(logger)}
	if cfg.DownloadDocuments {
		docOpts := documents.DefaultOptions(cfg.DocumentsDir)
		docOpts.UserAgent = cfg.UserAgent
		docOpts.Bypass = cfg.EnableStealth
		docOpts.Delay = cfg.RequestDelay
		docOpts.Logger = logger
		opts = append(opts, scraper.WithDocumentFetcher(documents.NewDownloader(docOpts)))
	}
	factory := func(c *config.Config) runner.Session {
		return scraper.NewScraper(c, opts...)
	}

	jobs := runner.Jobs(cfg, units)
	slog.Info("starting scrape",
		slog.String("portal", cfg.PortalURL),
		slog.String("mode", cfg.ScrapeMode),
		slog.Int("sessions", len(jobs)),
		slog.Int("parallel", cfg.Parallelism),
	)

	startTime := time.Now()
	outcomes := runner.New(cfg.Parallelism, cfg.RequestDelay, factory, logger).Run(ctx, jobs)

	for _, o := range outcomes {
		if o.Result == nil {
			continue
		}
		path := resultPath(cfg.ResultFile, o.Job, len(outcomes) > 1)
		if err := pipeline.WriteResult(path, o.Result); err != nil {
			slog.Error("writing run record", slog.String("job", o.Job), slog.Any("error", err))
		}
	}

	var stats pipeline.Stats
	records := runner.Properties(outcomes)
	if len(records) > 0 {
		stats, err = writeRecords(cfg, records, fv)
		if err != nil {
			slog.Error("writing records", slog.Any("error", err))
			span.SetStatus(codes.Error, "writing records failed")
			return 1
		}
	}

	printSummary(outcomes, time.Since(startTime), stats, cfg)

	if failed := runner.Failed(outcomes); failed > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d of %d sessions failed", failed, len(outcomes)))
		return 1
	}
	return 0
}

func applyFlags(fs *flag.FlagSet, cfg *config.Config, fv flagValues) {
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "mode":
			cfg.ScrapeMode = strings.ToLower(fv.mode)
		case "max-results":
			cfg.MaxResults = fv.maxResults
		case "delay":
			cfg.RequestDelay = config.Seconds(fv.delay)
		case "parallel":
			cfg.Parallelism = fv.parallel
		case "format":
			cfg.OutputFormat = strings.ToLower(fv.format)
		case "output":
			cfg.OutputFile = fv.output
		case "result":
			cfg.ResultFile = fv.resultFile
		case "documents":
			cfg.DownloadDocuments = fv.documents
		case "headless":
			cfg.Headless = fv.headless
		case "stealth":
			cfg.EnableStealth = fv.stealth
		case "metrics-addr":
			cfg.MetricsAddr = fv.metricsAddr
		}
	})
	cfg.Verbose = fv.verbose
}

func splitUnits(raw string) []string {
	var units []string
	for _, u := range strings.Split(raw, ",") {
		if u = strings.TrimSpace(u); u != "" {
			units = append(units, u)
		}
	}
	return units
}

func resultPath(base, job string, multi bool) string {
	if !multi {
		return base
	}
	ext := filepath.Ext(base)
	name := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ' ' {
			return '_'
		}
		return r
	}, job)
	return strings.TrimSuffix(base, ext) + "-" + name + ext
}

func writeRecords(cfg *config.Config, records []models.PropertyRecord, fv flagValues) (pipeline.Stats, error) {
	writer, err := createWriter(cfg.OutputFormat, cfg.OutputFile)
	if err != nil {
		return pipeline.Stats{}, fmt.Errorf("create writer: %w", err)
	}
	defer func() {
		if err := writer.Close(); err != nil {
			slog.Error("close writer", slog.Any("error", err))
		}
	}()

	p, err := pipeline.NewPipeline(writer)
	if err != nil {
		return pipeline.Stats{}, err
	}
	p.Start(cfg.Parallelism)
	if cfg.Verbose {
		p.StartProgressLogging(slog.Default(), time.Duration(fv.progressSecs)*time.Second)
	}

	if err := p.Process(records); err != nil {
		p.Close()
		return p.Stats(), fmt.Errorf("process records: %w", err)
	}
	if err := p.Close(); err != nil {
		return p.Stats(), fmt.Errorf("pipeline shutdown: %w", err)
	}
	if err := writer.Validate(); err != nil {
		return p.Stats(), fmt.Errorf("output validation: %w", err)
	}
	return p.Stats(), nil
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
	case "sqlite":
		dbFilename := strings.TrimSuffix(filename, filepath.Ext(filename)) + ".db"
		return pipeline.NewSQLiteWriter(dbFilename)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

func printSummary(outcomes []runner.Outcome, duration time.Duration, stats pipeline.Stats, cfg *config.Config) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("Scrape complete")
	t.AppendHeader(table.Row{"Session", "Result", "Properties", "Requests", "Success rate", "Duration", "Error"})

	for _, o := range outcomes {
		row := table.Row{o.Job, "failed", 0, 0, "-", "-", ""}
		if o.Result != nil {
			m := o.Result.Metrics
			row[3] = m.TotalRequests
			row[4] = fmt.Sprintf("%.1f%%", m.SuccessRate*100)
			if o.Result.Success {
				row[1] = "ok"
				row[2] = len(o.Result.Properties)
			}
			if o.Result.Summary != nil {
				row[5] = time.Duration(o.Result.Summary.DurationMs) * time.Millisecond
			}
			if o.Result.Error != nil {
				row[6] = o.Result.Error.Type
			}
		} else if o.Err != nil {
			row[6] = o.Err.Error()
		}
		t.AppendRow(row)
	}

	t.AppendFooter(table.Row{"", "", stats.Processed, "", "", duration.Round(time.Millisecond), ""})
	t.SetStyle(table.StyleRounded)
	t.Render()

	if stats.Duplicates > 0 || len(stats.Rejected) > 0 {
		fmt.Printf("  Duplicates: %d  Rejected: %v\n", stats.Duplicates, stats.Rejected)
	}
	if stats.Processed > 0 {
		fmt.Printf("  Output file: %s (%s)\n", cfg.OutputFile, cfg.OutputFormat)
	}
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
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
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
