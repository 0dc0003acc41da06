package scraper

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/aluiziolira/go-scrape-units/config"
)

func TestErrorTypeLabel(t *testing.T) {
	validation := (&config.Config{}).Validate()

	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{name: "nil", err: nil, expected: "unknown"},
		{name: "validation", err: validation, expected: "validation"},
		{name: "authentication", err: AuthenticationError{Attempts: 3, Err: errors.New("rejected")}, expected: "authentication"},
		{name: "navigation", err: NavigationError{URL: "https://x", Err: context.DeadlineExceeded}, expected: "navigation"},
		{name: "auth wrapping navigation", err: AuthenticationError{Attempts: 1, Err: NavigationError{URL: "https://x", Err: errors.New("dns")}}, expected: "authentication"},
		{name: "render", err: RenderTimeoutError{Phase: "populate", Err: ErrPollTimeout}, expected: "render_timeout"},
		{name: "extraction", err: ExtractionError{Stage: "rows", Err: ErrNoRows}, expected: "extraction"},
		{name: "poll timeout", err: fmt.Errorf("wait: %w", ErrPollTimeout), expected: "timeout"},
		{name: "deadline", err: context.DeadlineExceeded, expected: "timeout"},
		{name: "canceled", err: context.Canceled, expected: "canceled"},
		{name: "other", err: errors.New("boom"), expected: "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorTypeLabel(tt.err); got != tt.expected {
				t.Fatalf("errorTypeLabel(%v) = %q, want %q", tt.err, got, tt.expected)
			}
		})
	}
}

func TestErrorTraceFollowsWrapChain(t *testing.T) {
	root := errors.New("no post-login signal")
	err := AuthenticationError{Attempts: 2, Err: fmt.Errorf("attempt 2: %w", root)}

	trace := errorTrace(err)
	if len(trace) != 3 {
		t.Fatalf("trace = %q, want 3 entries", trace)
	}
	if trace[0] != err.Error() || trace[2] != root.Error() {
		t.Fatalf("trace order wrong: %q", trace)
	}
}

func TestErrorTraceJoined(t *testing.T) {
	err := errors.Join(errors.New("a"), errors.New("b"))
	trace := errorTrace(err)
	if len(trace) != 3 || trace[1] != "a" || trace[2] != "b" {
		t.Fatalf("trace = %q", trace)
	}
}

func TestRecorderInvariant(t *testing.T) {
	m := NewMetrics()
	rec := NewRecorder(m)

	rec.RecordSuccess("login", 100*time.Millisecond)
	rec.RecordFailure("login", 300*time.Millisecond, AuthenticationError{Attempts: 1, Err: errors.New("x")})
	rec.RecordSuccess("open_table", 200*time.Millisecond)
	rec.LogError("render_populate", RenderTimeoutError{Phase: "populate", Err: ErrPollTimeout})
	rec.AddProperties(7)

	s := rec.Summary()
	if s.SuccessfulRequests+s.FailedRequests != s.TotalRequests {
		t.Fatalf("success %d + failure %d != total %d", s.SuccessfulRequests, s.FailedRequests, s.TotalRequests)
	}
	if s.TotalRequests != 3 || s.PropertiesScraped != 7 {
		t.Fatalf("unexpected summary %+v", s)
	}
	if len(s.Errors) != 2 {
		t.Fatalf("error log has %d entries, want 2", len(s.Errors))
	}
	if s.AverageTimingMs != 200 {
		t.Fatalf("average timing = %v, want 200", s.AverageTimingMs)
	}
	if got, want := s.SuccessRate, 2.0/3.0; got != want {
		t.Fatalf("success rate = %v, want %v", got, want)
	}

	if got := testutil.ToFloat64(m.StepsTotal.WithLabelValues("login", "failure")); got != 1 {
		t.Fatalf("login failures metric = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("render_timeout")); got != 1 {
		t.Fatalf("render_timeout errors metric = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.PropertiesScraped); got != 7 {
		t.Fatalf("properties metric = %v, want 7", got)
	}
}

func TestRecorderEmptySuccessRate(t *testing.T) {
	if rate := NewRecorder(nil).SuccessRate(); rate != 0 {
		t.Fatalf("success rate = %v, want 0", rate)
	}
}
