package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/aluiziolira/go-scrape-units/browser"
	"github.com/aluiziolira/go-scrape-units/config"
)

// TableSelectors locate the listing table and the controls around it.
// Reveal is tried in order; the first visible control wins.
type TableSelectors struct {
	Reveal      []string
	Container   string
	Spinner     string
	Rows        string
	FirstCells  string
	ErrorReload string
}

const scriptCSSErrorOverlay = `/* table:css-error */ (() => {
	const nodes = document.querySelectorAll('[role="alertdialog"], .auraErrorBox, #auraError, .slds-notify_alert');
	return Array.from(nodes).some(n => n.offsetParent !== null && (n.innerText || '').includes('CSS Error'));
})()`

// DefaultTableSelectors match the portal's available-units table.
func DefaultTableSelectors() TableSelectors {
	return TableSelectors{
		Reveal: []string{
			`button[title="Show Properties"]`,
			`button[title="Search"]`,
			`button.show-properties`,
			`c-available-units button.slds-button_brand`,
			`button[name="showProperties"]`,
		},
		Container:   `lightning-datatable, .slds-table, table[role="grid"]`,
		Spinner:     `lightning-spinner, .slds-spinner_container, .slds-spinner`,
		Rows:        `lightning-datatable tbody tr, .slds-table tbody tr, table[role="grid"] tbody tr`,
		FirstCells:  `lightning-datatable tbody tr:first-child td, .slds-table tbody tr:first-child td, table[role="grid"] tbody tr:first-child td`,
		ErrorReload: `#auraErrorReload, .auraErrorBox button, [role="alertdialog"] button`,
	}
}

// TableStats is what the opener observed once rows were present.
type TableStats struct {
	Reveal         string
	Reloaded       bool
	SpinnerCleared bool
	RowPolls       int
	Rows           int
	FirstRowCells  int
}

// TableOpener reveals the listing table and waits until it has rows.
type TableOpener struct {
	sess        browser.Session
	timings     config.Timings
	selectors   TableSelectors
	rec         *Recorder
	diagnostics *Diagnostics
	logger      *slog.Logger
}

// NewTableOpener builds an opener for one session. diagnostics may be nil.
func NewTableOpener(sess browser.Session, timings config.Timings, rec *Recorder, diagnostics *Diagnostics, logger *slog.Logger) *TableOpener {
	if logger == nil {
		logger = slog.Default()
	}
	return &TableOpener{
		sess:        sess,
		timings:     timings,
		selectors:   DefaultTableSelectors(),
		rec:         rec,
		diagnostics: diagnostics,
		logger:      logger,
	}
}

// Open clicks the reveal control and waits through spinners until rows
// render. Zero rows after the row poll is an ExtractionError.
func (o *TableOpener) Open(ctx context.Context) (TableStats, error) {
	ctx, span := tracer.Start(ctx, "open_table")
	defer span.End()

	var stats TableStats
	t := o.timings

	revealed, err := o.reveal(ctx)
	if err != nil {
		span.SetStatus(codes.Error, "reveal failed")
		return stats, err
	}
	stats.Reveal = revealed

	if err := o.sess.WaitFor(ctx, o.selectors.Container, browser.StateAttached, t.ContainerTimeout); err != nil {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		o.logger.Warn("table container not attached", slog.Any("error", err))
	}

	if o.errorOverlay(ctx) {
		o.logger.Warn("table error overlay shown, reloading")
		if err := o.sess.Click(ctx, o.selectors.ErrorReload); err != nil {
			o.logger.Debug("error overlay reload failed", slog.Any("error", err))
		}
		if err := o.sess.Sleep(ctx, t.ModalPause); err != nil {
			return stats, err
		}
		if _, err := o.reveal(ctx); err != nil {
			o.logger.Warn("reveal after reload failed", slog.Any("error", err))
		}
		stats.Reloaded = true
	}

	_, err = PollUntil(ctx, Poll{Interval: t.SpinnerInterval, MaxAttempts: t.SpinnerAttempts}, func(ctx context.Context) (bool, error) {
		visible, err := o.sess.Visible(ctx, o.selectors.Spinner)
		return !visible, err
	})
	if err != nil {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		o.logger.Warn("loading spinner never cleared, checking rows anyway", slog.Any("error", err))
		o.rec.LogError("table_spinner", err)
	} else {
		stats.SpinnerCleared = true
	}

	polls, err := PollUntil(ctx, Poll{Interval: t.RowInterval, MaxAttempts: t.RowAttempts}, func(ctx context.Context) (bool, error) {
		n, err := o.sess.Count(ctx, o.selectors.Rows)
		return n > 0, err
	})
	stats.RowPolls = polls
	if err != nil && ctx.Err() != nil {
		return stats, ctx.Err()
	}

	rows, countErr := o.sess.Count(ctx, o.selectors.Rows)
	if countErr != nil {
		rows = 0
	}
	stats.Rows = rows
	if cells, err := o.sess.Count(ctx, o.selectors.FirstCells); err == nil {
		stats.FirstRowCells = cells
	}
	span.SetAttributes(attribute.Int("rows", rows), attribute.Int("row_polls", polls))

	if rows == 0 {
		cause := ErrNoRows
		if err != nil {
			cause = fmt.Errorf("%w: %w", ErrNoRows, err)
		}
		extractErr := ExtractionError{Stage: "rows", Err: cause}
		if path, shotErr := o.diagnostics.Capture(ctx, o.sess, "no-rows"); shotErr != nil {
			o.logger.Debug("diagnostic screenshot failed", slog.Any("error", shotErr))
		} else {
			extractErr.Screenshot = path
		}
		span.RecordError(extractErr)
		span.SetStatus(codes.Error, "no rows")
		return stats, extractErr
	}

	o.logger.Info("listing table ready",
		slog.Int("rows", rows),
		slog.Int("first_row_cells", stats.FirstRowCells),
		slog.Int("row_polls", polls),
	)
	return stats, nil
}

func (o *TableOpener) reveal(ctx context.Context) (string, error) {
	for _, sel := range o.selectors.Reveal {
		visible, err := o.sess.Visible(ctx, sel)
		if err != nil || !visible {
			continue
		}
		if err := o.sess.Click(ctx, sel); err != nil {
			if errors.Is(err, context.Canceled) {
				return "", err
			}
			o.logger.Debug("reveal click failed", slog.String("selector", sel), slog.Any("error", err))
			continue
		}
		return sel, nil
	}
	return "", ExtractionError{Stage: "reveal", Err: ErrControlNotFound}
}

// errorOverlay reports the transient "CSS Error" box the framework shows
// when a stylesheet fails to load mid-render.
func (o *TableOpener) errorOverlay(ctx context.Context) bool {
	var shown bool
	if err := o.sess.Evaluate(ctx, scriptCSSErrorOverlay, &shown); err != nil {
		return false
	}
	return shown
}
