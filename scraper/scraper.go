package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/aluiziolira/go-scrape-units/browser"
	"github.com/aluiziolira/go-scrape-units/config"
	"github.com/aluiziolira/go-scrape-units/models"
	"github.com/aluiziolira/go-scrape-units/parser"
)

// Version is stamped into every run record. Overridden at build time.
var Version = "dev"

var tracer = otel.Tracer("github.com/aluiziolira/go-scrape-units/scraper")

// SessionFactory opens the browser page a run drives.
type SessionFactory func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (browser.Session, error)

// DocumentFetcher downloads the documents linked from extracted records
// using the authenticated browser cookies. It returns the saved paths.
type DocumentFetcher interface {
	Fetch(ctx context.Context, records []models.PropertyRecord, cookies []*http.Cookie) ([]string, error)
}

// Scraper runs one authenticated extraction against the partner portal.
type Scraper struct {
	cfg        *config.Config
	newSession SessionFactory
	metrics    *Metrics
	logger     *slog.Logger
	rng        *rand.Rand
	documents  DocumentFetcher
	now        func() time.Time

	dismissStrategies []DismissStrategy
}

// Option customises a Scraper.
type Option func(*Scraper)

// WithSessionFactory replaces the Chrome launcher.
func WithSessionFactory(f SessionFactory) Option {
	return func(s *Scraper) { s.newSession = f }
}

// WithMetrics mirrors run counters into m. m may be shared between
// concurrently running scrapers.
func WithMetrics(m *Metrics) Option {
	return func(s *Scraper) { s.metrics = m }
}

// WithLogger sets the base logger; each run adds its session id.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scraper) { s.logger = l }
}

// WithRand seeds the jitter source.
func WithRand(r *rand.Rand) Option {
	return func(s *Scraper) { s.rng = r }
}

// WithDocumentFetcher enables document downloads when the configuration
// asks for them.
func WithDocumentFetcher(f DocumentFetcher) Option {
	return func(s *Scraper) { s.documents = f }
}

// WithDismissStrategies replaces the overlay dismissal cascade.
func WithDismissStrategies(strategies ...DismissStrategy) Option {
	return func(s *Scraper) { s.dismissStrategies = strategies }
}

// NewScraper builds a scraper for cfg. cfg is validated by Run, not here,
// so an invalid configuration still yields a structured failure record.
func NewScraper(cfg *config.Config, opts ...Option) *Scraper {
	s := &Scraper{
		cfg:        cfg,
		newSession: ChromeSession,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rng == nil {
		seed := uint64(s.now().UnixNano())
		s.rng = rand.New(rand.NewPCG(seed, seed>>1|1))
	}
	if s.dismissStrategies == nil {
		s.dismissStrategies = DefaultDismissStrategies(cfg.Timings.ModalPause)
	}
	return s
}

// ChromeSession launches a Chrome tab configured from cfg.
func ChromeSession(ctx context.Context, cfg *config.Config, logger *slog.Logger) (browser.Session, error) {
	c, err := browser.NewChrome(ctx, browser.Options{
		Headless:  cfg.Headless,
		UserAgent: cfg.UserAgent,
		Width:     cfg.Viewport.Width,
		Height:    cfg.Viewport.Height,
		Stealth:   cfg.EnableStealth,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// run carries the per-session collaborators through one scrape.
type run struct {
	session     models.Session
	sess        browser.Session
	rate        *RateController
	rec         *Recorder
	logger      *slog.Logger
	diagnostics *Diagnostics
}

// Run executes the full pipeline and always returns a run record. The
// error is non-nil when the run failed; the record then carries it too.
func (s *Scraper) Run(ctx context.Context) (*models.RunResult, error) {
	session := models.Session{ID: uuid.NewString(), StartTime: s.now()}
	rec := NewRecorder(s.metrics)
	rec.now = s.now
	rec.start = session.StartTime
	logger := s.logger.With(slog.String("session_id", session.ID))

	result := &models.RunResult{
		SessionID:  session.ID,
		Timestamp:  session.StartTime.UTC(),
		ScrapeMode: s.cfg.ScrapeMode,
	}

	if err := s.cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.Any("error", err))
		rec.LogError("validate", err)
		return s.fail(result, rec, err), err
	}

	ctx, span := tracer.Start(ctx, "scrape", trace.WithAttributes(
		attribute.String("session_id", session.ID),
		attribute.String("scrape_mode", s.cfg.ScrapeMode),
	))
	defer span.End()

	sess, err := s.newSession(ctx, s.cfg, logger)
	if err != nil {
		err = fmt.Errorf("open browser session: %w", err)
		logger.Error("browser session failed", slog.Any("error", err))
		rec.LogError("session", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "session")
		return s.fail(result, rec, err), err
	}
	defer func() {
		if err := sess.Close(); err != nil {
			logger.Debug("close browser session", slog.Any("error", err))
		}
	}()

	rate := NewRateController(s.cfg.RequestDelay, s.cfg.EffectiveMaxDelay())
	rate.now = s.now
	rate.sleep = sess.Sleep

	r := &run{
		session:     session,
		sess:        sess,
		rate:        rate,
		rec:         rec,
		logger:      logger,
		diagnostics: NewDiagnostics(s.cfg.ScreenshotDir, session.ID),
	}

	logger.Info("scrape started",
		slog.String("mode", s.cfg.ScrapeMode),
		slog.Int("max_results", s.cfg.MaxResults),
	)

	records, docs, err := s.scrape(ctx, r)
	if err != nil {
		logger.Error("scrape failed", slog.String("error_type", errorTypeLabel(err)), slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, errorTypeLabel(err))
		return s.fail(result, rec, err), err
	}

	summary := rec.Summary()
	result.Success = true
	result.Configuration = runConfiguration(s.cfg)
	result.Summary = &models.RunSummary{
		TotalProperties: len(records),
		SuccessRate:     summary.SuccessRate,
		DurationMs:      s.now().Sub(session.StartTime).Milliseconds(),
	}
	result.Properties = records
	result.Documents = docs
	result.Metrics = summary
	result.Metadata = &models.RunMetadata{
		Version:   Version,
		PortalURL: s.cfg.PortalURL,
		UserAgent: s.cfg.UserAgent,
		Viewport:  fmt.Sprintf("%dx%d", s.cfg.Viewport.Width, s.cfg.Viewport.Height),
	}
	s.metrics.IncRun(true)
	span.SetAttributes(attribute.Int("properties", len(records)))

	logger.Info("scrape finished",
		slog.Int("properties", len(records)),
		slog.Float64("success_rate", summary.SuccessRate),
		slog.Int64("duration_ms", result.Summary.DurationMs),
	)
	return result, nil
}

func (s *Scraper) scrape(ctx context.Context, r *run) ([]models.PropertyRecord, []string, error) {
	auth := NewAuthenticator(s.cfg, r.sess, r.rate, r.rec, s.rng, r.logger)
	if err := auth.Login(ctx); err != nil {
		return nil, nil, err
	}

	dismisser := NewDismisser(r.sess, s.dismissStrategies, r.logger)
	dismisser.Dismiss(ctx)

	if err := s.openListing(ctx, r); err != nil {
		return nil, nil, err
	}

	waiter := NewRenderWaiter(r.sess, s.cfg.Timings, r.rec, r.logger)
	if _, err := waiter.Wait(ctx); err != nil {
		var renderErr RenderTimeoutError
		if !errors.As(err, &renderErr) || renderErr.Fatal {
			return nil, nil, err
		}
	}

	dismisser.Dismiss(ctx)

	opener := NewTableOpener(r.sess, s.cfg.Timings, r.rec, r.diagnostics, r.logger)
	start := s.now()
	if _, err := opener.Open(ctx); err != nil {
		r.rec.RecordFailure("open_table", s.now().Sub(start), err)
		r.rate.OnFailure()
		return nil, nil, err
	}
	r.rec.RecordSuccess("open_table", s.now().Sub(start))
	r.rate.OnSuccess()

	start = s.now()
	html, err := r.sess.OuterHTML(ctx, opener.selectors.Container)
	if err != nil {
		err = ExtractionError{Stage: "read_table", Err: err}
		r.rec.RecordFailure("read_table", s.now().Sub(start), err)
		r.rate.OnFailure()
		r.logger.Error("reading listing table failed, returning no records", slog.Any("error", err))
		return []models.PropertyRecord{}, nil, nil
	}

	mode := s.cfg.ScrapeMode
	specific := ""
	if mode == config.ModeSpecific {
		specific = s.cfg.SpecificUnit
	}
	records := parser.ExtractRecords(html, parser.Options{
		MaxResults:   s.cfg.MaxResults,
		Filters:      s.cfg.Filters,
		SpecificUnit: specific,
		BaseURL:      s.cfg.ListingURL(),
		Logger:       r.logger,
	})
	r.rec.AddProperties(len(records))

	docs := s.fetchDocuments(ctx, r, records)
	return records, docs, nil
}

func (s *Scraper) openListing(ctx context.Context, r *run) error {
	listingURL := s.cfg.ListingURL()
	if err := r.rate.Wait(ctx); err != nil {
		return err
	}

	start := s.now()
	navCtx, cancel := context.WithTimeout(ctx, s.cfg.Timings.NavigationTimeout)
	err := r.sess.Navigate(navCtx, listingURL)
	cancel()
	elapsed := s.now().Sub(start)
	if err != nil {
		navErr := NavigationError{URL: listingURL, Err: err}
		r.rec.RecordFailure("navigate_listing", elapsed, navErr)
		r.rate.OnFailure()
		s.metrics.SetBackoff(r.rate.Delay())
		return navErr
	}
	r.rec.RecordSuccess("navigate_listing", elapsed)
	r.rate.OnSuccess()
	s.metrics.SetBackoff(r.rate.Delay())
	return nil
}

func (s *Scraper) fetchDocuments(ctx context.Context, r *run, records []models.PropertyRecord) []string {
	if !s.cfg.DownloadDocuments || s.documents == nil || len(records) == 0 {
		return nil
	}
	cookies, err := r.sess.Cookies(ctx)
	if err != nil {
		r.logger.Warn("read session cookies", slog.Any("error", err))
		r.rec.LogError("documents", err)
		return nil
	}

	start := s.now()
	paths, err := s.documents.Fetch(ctx, records, cookies)
	if err != nil {
		r.rec.RecordFailure("documents", s.now().Sub(start), err)
		r.logger.Warn("document download incomplete", slog.Int("saved", len(paths)), slog.Any("error", err))
	} else {
		r.rec.RecordSuccess("documents", s.now().Sub(start))
	}
	s.metrics.AddDocuments(len(paths))
	return paths
}

func (s *Scraper) fail(result *models.RunResult, rec *Recorder, err error) *models.RunResult {
	result.Success = false
	result.Metrics = rec.Summary()
	result.Error = &models.RunError{
		Message: err.Error(),
		Type:    errorTypeLabel(err),
		Trace:   errorTrace(err),
	}
	s.metrics.IncRun(false)
	return result
}

func runConfiguration(cfg *config.Config) *models.RunConfiguration {
	filters := make(map[string]string, len(cfg.Filters))
	for k, v := range cfg.Filters {
		filters[k] = v
	}
	return &models.RunConfiguration{
		Email:             cfg.Email,
		ScrapeMode:        cfg.ScrapeMode,
		Filters:           filters,
		SpecificUnit:      cfg.SpecificUnit,
		MaxResults:        cfg.MaxResults,
		RequestDelay:      cfg.RequestDelay.Seconds(),
		RetryAttempts:     cfg.RetryAttempts,
		EnableStealth:     cfg.EnableStealth,
		DownloadDocuments: cfg.DownloadDocuments,
		ParallelRequests:  cfg.Parallelism,
	}
}
