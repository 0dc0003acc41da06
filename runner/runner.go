// Package runner schedules independent scrape sessions, bounded by the
// configured parallelism and staggered so sessions do not log in at the
// same instant.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/aluiziolira/go-scrape-units/config"
	"github.com/aluiziolira/go-scrape-units/models"
)

// Session is one scrape run. *scraper.Scraper satisfies it.
type Session interface {
	Run(ctx context.Context) (*models.RunResult, error)
}

// Factory builds the session for one job's configuration.
type Factory func(cfg *config.Config) Session

// Job is one session to run.
type Job struct {
	Name   string
	Config *config.Config
}

// Outcome is the result of one job. Result is set even when Err is not,
// unless the job never started.
type Outcome struct {
	Job    string
	Result *models.RunResult
	Err    error
}

// Runner runs jobs concurrently. Sessions share nothing but the metrics
// registry their factory hands them.
type Runner struct {
	parallelism int
	stagger     time.Duration
	factory     Factory
	logger      *slog.Logger
}

// New returns a runner allowing parallelism concurrent sessions, started
// at least stagger apart.
func New(parallelism int, stagger time.Duration, factory Factory, logger *slog.Logger) *Runner {
	if parallelism <= 0 {
		parallelism = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{parallelism: parallelism, stagger: stagger, factory: factory, logger: logger}
}

// Jobs expands cfg into one job per unit. With no units the configuration
// runs as a single job unchanged; otherwise each job is a specific-mode
// copy of cfg targeting one unit.
func Jobs(cfg *config.Config, units []string) []Job {
	var jobs []Job
	for _, unit := range units {
		unit = strings.TrimSpace(unit)
		if unit == "" {
			continue
		}
		c := *cfg
		c.Filters = maps.Clone(cfg.Filters)
		c.ScrapeMode = config.ModeSpecific
		c.SpecificUnit = unit
		jobs = append(jobs, Job{Name: unit, Config: &c})
	}
	if len(jobs) == 0 {
		name := cfg.ScrapeMode
		if cfg.ScrapeMode == config.ModeSpecific {
			name = cfg.SpecificUnit
		}
		jobs = append(jobs, Job{Name: name, Config: cfg})
	}
	return jobs
}

// Run executes every job and returns their outcomes in job order. A failed
// session does not stop the others; only cancellation of ctx does, in
// which case jobs not yet started report the context error.
func (r *Runner) Run(ctx context.Context, jobs []Job) []Outcome {
	outcomes := make([]Outcome, len(jobs))
	for i, job := range jobs {
		outcomes[i] = Outcome{Job: job.Name}
	}

	limit := rate.Inf
	if r.stagger > 0 {
		limit = rate.Every(r.stagger)
	}
	limiter := rate.NewLimiter(limit, 1)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallelism)

	var mu sync.Mutex
	for i, job := range jobs {
		if gctx.Err() != nil {
			outcomes[i].Err = gctx.Err()
			continue
		}
		g.Go(func() error {
			if err := limiter.Wait(gctx); err != nil {
				mu.Lock()
				outcomes[i].Err = fmt.Errorf("job %s not started: %w", job.Name, err)
				mu.Unlock()
				return nil
			}

			logger := r.logger.With(slog.String("job", job.Name))
			logger.Info("session starting")
			result, err := r.factory(job.Config).Run(gctx)
			if err != nil {
				logger.Error("session failed", slog.Any("error", err))
			} else {
				logger.Info("session finished", slog.Int("properties", len(result.Properties)))
			}

			mu.Lock()
			outcomes[i].Result = result
			outcomes[i].Err = err
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// Properties concatenates the records of every successful outcome.
func Properties(outcomes []Outcome) []models.PropertyRecord {
	var out []models.PropertyRecord
	for _, o := range outcomes {
		if o.Err == nil && o.Result != nil {
			out = append(out, o.Result.Properties...)
		}
	}
	return out
}

// Failed counts outcomes that ended in error.
func Failed(outcomes []Outcome) int {
	n := 0
	for _, o := range outcomes {
		if o.Err != nil {
			n++
		}
	}
	return n
}
