package scraper

import (
	"context"
	"errors"
	"fmt"

	"github.com/aluiziolira/go-scrape-units/config"
)

var (
	// ErrControlNotFound means no reveal-listing control matched.
	ErrControlNotFound = errors.New("control not found")
	// ErrNoRows means the listing table never produced a row.
	ErrNoRows = errors.New("no rows loaded")
)

// NavigationError indicates the portal page could not be reached.
type NavigationError struct {
	URL string
	Err error
}

func (e NavigationError) Error() string {
	return fmt.Errorf("navigation to %s: %w", e.URL, e.Err).Error()
}

func (e NavigationError) Unwrap() error {
	return e.Err
}

// AuthenticationError indicates every login attempt failed.
type AuthenticationError struct {
	Attempts int
	Err      error
}

func (e AuthenticationError) Error() string {
	return fmt.Errorf("authentication failed after %d attempts: %w", e.Attempts, e.Err).Error()
}

func (e AuthenticationError) Unwrap() error {
	return e.Err
}

// RenderTimeoutError indicates the client-rendered UI never reached the
// expected state. Only fatal instances abort a run.
type RenderTimeoutError struct {
	Phase string
	Fatal bool
	Err   error
}

func (e RenderTimeoutError) Error() string {
	return fmt.Errorf("render %s: %w", e.Phase, e.Err).Error()
}

func (e RenderTimeoutError) Unwrap() error {
	return e.Err
}

// ExtractionError indicates the listing table never materialised.
// Screenshot is the diagnostic capture path, if one was taken.
type ExtractionError struct {
	Stage      string
	Screenshot string
	Err        error
}

func (e ExtractionError) Error() string {
	return fmt.Errorf("extraction %s: %w", e.Stage, e.Err).Error()
}

func (e ExtractionError) Unwrap() error {
	return e.Err
}

func errorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	var validation *config.ValidationError
	if errors.As(err, &validation) {
		return "validation"
	}
	var auth AuthenticationError
	if errors.As(err, &auth) {
		return "authentication"
	}
	var nav NavigationError
	if errors.As(err, &nav) {
		return "navigation"
	}
	var render RenderTimeoutError
	if errors.As(err, &render) {
		return "render_timeout"
	}
	var extraction ExtractionError
	if errors.As(err, &extraction) {
		return "extraction"
	}
	if errors.Is(err, ErrPollTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return "other"
}

// errorTrace flattens the wrap chain of err, outermost first.
func errorTrace(err error) []string {
	var trace []string
	for err != nil {
		trace = append(trace, err.Error())
		switch x := err.(type) {
		case interface{ Unwrap() []error }:
			for _, inner := range x.Unwrap() {
				trace = append(trace, errorTrace(inner)...)
			}
			return trace
		default:
			err = errors.Unwrap(err)
		}
	}
	return trace
}
