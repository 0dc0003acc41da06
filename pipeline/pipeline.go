// Package pipeline de-duplicates extracted unit records and streams them
// to batched output writers.
package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/go-scrape-units/models"
	"github.com/aluiziolira/go-scrape-units/parser"
)

var (
	// ErrPipelineClosed is returned when Process is called after shutdown.
	ErrPipelineClosed = errors.New("pipeline: closed")
)

const (
	defaultBuffer     = 512
	defaultBatchSize  = 64
	defaultDedupeSize = 20000
)

// OutputWriter defines the interface for data output.
type OutputWriter interface {
	Write(records []*models.PropertyRecord) error
	Close() error
	Validate() error
}

// Pipeline coordinates validation, de-duplication, and output writing.
// Records from concurrent sessions may be submitted to one Pipeline.
type Pipeline struct {
	writer    OutputWriter
	recordCh  chan *models.PropertyRecord
	batchSize int

	wg sync.WaitGroup

	seen *lru.Cache[string, struct{}]

	stats stats

	mu     sync.Mutex // guards closed/err
	closed bool
	err    error

	closeOnce    sync.Once
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// Option configures a Pipeline.
type Option func(*settings)

type settings struct {
	buffer     int
	batchSize  int
	dedupeSize int
}

// WithBuffer sets the queue capacity between Process and the workers.
func WithBuffer(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.buffer = n
		}
	}
}

// WithBatchSize sets how many records a worker hands to the writer at once.
func WithBatchSize(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithDedupeSize bounds how many record keys are remembered.
func WithDedupeSize(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.dedupeSize = n
		}
	}
}

// NewPipeline builds a pipeline over writer.
func NewPipeline(writer OutputWriter, opts ...Option) (*Pipeline, error) {
	cfg := settings{buffer: defaultBuffer, batchSize: defaultBatchSize, dedupeSize: defaultDedupeSize}
	for _, opt := range opts {
		opt(&cfg)
	}

	seen, err := lru.New[string, struct{}](cfg.dedupeSize)
	if err != nil {
		return nil, fmt.Errorf("create dedupe cache: %w", err)
	}

	return &Pipeline{
		writer:    writer,
		recordCh:  make(chan *models.PropertyRecord, cfg.buffer),
		batchSize: cfg.batchSize,
		seen:      seen,
		stats:     newStats(),
		shutdown:  make(chan struct{}),
	}, nil
}

// Start launches worker goroutines.
func (p *Pipeline) Start(workers int) {
	if workers <= 0 {
		workers = 1
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Process enqueues records for downstream processing.
func (p *Pipeline) Process(records []models.PropertyRecord) error {
	if len(records) == 0 {
		return nil
	}

	closed, err := p.state()
	if err != nil {
		return err
	}
	if closed {
		return ErrPipelineClosed
	}

	for i := range records {
		record := records[i]
		if err := p.enqueue(&record); err != nil {
			return err
		}
	}
	return nil
}

// Close waits for workers to drain the queue and prevents more submissions.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
	}
	p.mu.Unlock()

	p.signalShutdown()
	p.closeOnce.Do(func() {
		close(p.recordCh)
	})

	p.wg.Wait()
	return p.Err()
}

// Err returns the first error encountered during processing.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Stats is a snapshot of the pipeline counters.
type Stats struct {
	Processed  int64
	Duplicates int64
	Rejected   map[string]int
}

// Stats returns a snapshot of the internal counters.
func (p *Pipeline) Stats() Stats {
	return p.stats.snapshot()
}

// StartProgressLogging emits periodic progress logs until Close.
func (p *Pipeline) StartProgressLogging(logger *slog.Logger, interval time.Duration) {
	if interval <= 0 {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s := p.Stats()
				logger.Info("pipeline progress",
					slog.Int64("processed", s.Processed),
					slog.Int64("duplicates", s.Duplicates),
					slog.Int("rejected_kinds", len(s.Rejected)),
				)
			case <-p.shutdown:
				return
			}
		}
	}()
}

func (p *Pipeline) worker() {
	defer p.wg.Done()

	batch := make([]*models.PropertyRecord, 0, p.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := p.writer.Write(batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	for record := range p.recordCh {
		prepared := p.prepare(record)
		if prepared == nil {
			continue
		}
		batch = append(batch, prepared)
		if len(batch) >= p.batchSize {
			if err := flush(); err != nil {
				p.setErr(fmt.Errorf("write batch: %w", err))
				return
			}
		}
	}

	if err := flush(); err != nil {
		p.setErr(fmt.Errorf("write batch: %w", err))
	}
}

func (p *Pipeline) prepare(record *models.PropertyRecord) *models.PropertyRecord {
	record.Project = parser.NormalizeText(record.Project)
	record.UnitNo = parser.NormalizeText(record.UnitNo)

	if err := parser.ValidateRecord(record); err != nil {
		p.stats.reject("invalid_record")
		return nil
	}

	// ContainsOrAdd is atomic, so two workers never both accept a key.
	if found, _ := p.seen.ContainsOrAdd(record.Key(), struct{}{}); found {
		p.stats.duplicate()
		return nil
	}

	p.stats.processed()
	return record
}

func (p *Pipeline) enqueue(record *models.PropertyRecord) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ErrPipelineClosed
		}
	}()

	select {
	case <-p.shutdown:
		return ErrPipelineClosed
	case p.recordCh <- record:
		return nil
	}
}

func (p *Pipeline) setErr(err error) {
	if err == nil {
		return
	}

	p.mu.Lock()
	if p.err != nil {
		p.mu.Unlock()
		return
	}
	p.err = err
	p.closed = true
	p.mu.Unlock()

	p.signalShutdown()
	p.closeOnce.Do(func() {
		close(p.recordCh)
	})
}

func (p *Pipeline) state() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed, p.err
}

func (p *Pipeline) signalShutdown() {
	p.shutdownOnce.Do(func() {
		close(p.shutdown)
	})
}

type stats struct {
	mu         *sync.Mutex
	processedN int64
	duplicates int64
	rejected   map[string]int
}

func newStats() stats {
	return stats{mu: &sync.Mutex{}, rejected: make(map[string]int)}
}

func (s *stats) processed() {
	s.mu.Lock()
	s.processedN++
	s.mu.Unlock()
}

func (s *stats) duplicate() {
	s.mu.Lock()
	s.duplicates++
	s.mu.Unlock()
}

func (s *stats) reject(kind string) {
	s.mu.Lock()
	s.rejected[kind]++
	s.mu.Unlock()
}

func (s *stats) snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	rejected := make(map[string]int, len(s.rejected))
	for k, v := range s.rejected {
		rejected[k] = v
	}
	return Stats{Processed: s.processedN, Duplicates: s.duplicates, Rejected: rejected}
}
