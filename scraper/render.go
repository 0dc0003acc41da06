package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/codes"

	"github.com/aluiziolira/go-scrape-units/browser"
	"github.com/aluiziolira/go-scrape-units/config"
)

// RenderSelectors describe what a mounted and populated listing page
// looks like.
type RenderSelectors struct {
	RootMarker      string
	StyledElements  string
	StyledThreshold int
	MinInteractive  int
	Keywords        []string
}

// DefaultRenderSelectors match the portal's Lightning community pages.
func DefaultRenderSelectors() RenderSelectors {
	return RenderSelectors{
		RootMarker:      `c-available-units, c-inventory-list, .siteforceContentArea, [data-aura-rendered-by]`,
		StyledElements:  `[class*="slds-"]`,
		StyledThreshold: 50,
		MinInteractive:  5,
		Keywords:        []string{"Filter", "Properties", "Search"},
	}
}

type mountProbe struct {
	Root   bool `json:"root"`
	Styled int  `json:"styled"`
}

type populateProbe struct {
	Buttons    int  `json:"buttons"`
	Inputs     int  `json:"inputs"`
	Clickables int  `json:"clickables"`
	Keyword    bool `json:"keyword"`
}

func (p populateProbe) interactive() int {
	return p.Buttons + p.Inputs + p.Clickables
}

const mountMarker = "/* render:mount */"
const populateMarker = "/* render:populate */"

func mountScript(sel RenderSelectors) string {
	return fmt.Sprintf(`%s (() => ({
	root: document.querySelector(%s) !== null,
	styled: document.querySelectorAll(%s).length
}))()`, mountMarker, quoteJS(sel.RootMarker), quoteJS(sel.StyledElements))
}

func populateScript(sel RenderSelectors) string {
	kw, _ := json.Marshal(sel.Keywords)
	return fmt.Sprintf(`%s (() => {
	const text = document.body ? document.body.innerText : '';
	return {
		buttons: document.querySelectorAll('button').length,
		inputs: document.querySelectorAll('input').length,
		clickables: document.querySelectorAll('[role="button"], [role="link"], [role="tab"]').length,
		keyword: %s.some(k => text.includes(k))
	};
})()`, populateMarker, kw)
}

// RenderReport describes how far the client-side rendering got.
type RenderReport struct {
	Mounted     bool
	Populated   bool
	Buttons     int
	Interactive int
}

// RenderWaiter waits for asynchronous component hydration on the current
// page before anything is clicked.
type RenderWaiter struct {
	sess      browser.Session
	timings   config.Timings
	selectors RenderSelectors
	rec       *Recorder
	logger    *slog.Logger
}

// NewRenderWaiter builds a waiter for one session.
func NewRenderWaiter(sess browser.Session, timings config.Timings, rec *Recorder, logger *slog.Logger) *RenderWaiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RenderWaiter{
		sess:      sess,
		timings:   timings,
		selectors: DefaultRenderSelectors(),
		rec:       rec,
		logger:    logger,
	}
}

// Wait runs the mount and populate phases followed by a settle delay.
// Timeouts degrade to a logged warning and a fallback delay; the only
// error is a fatal RenderTimeoutError when no button ever rendered.
func (w *RenderWaiter) Wait(ctx context.Context) (RenderReport, error) {
	ctx, span := tracer.Start(ctx, "wait_render")
	defer span.End()

	var report RenderReport
	t := w.timings

	mount := mountScript(w.selectors)
	_, err := PollUntil(ctx, Poll{Timeout: t.MountTimeout, Interval: t.RenderPollInterval}, func(ctx context.Context) (bool, error) {
		var probe mountProbe
		if err := w.sess.Evaluate(ctx, mount, &probe); err != nil {
			return false, err
		}
		return probe.Root || probe.Styled > w.selectors.StyledThreshold, nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		w.logger.Warn("component tree did not mount in time", slog.Any("error", err))
		w.rec.LogError("render_mount", RenderTimeoutError{Phase: "mount", Err: err})
	} else {
		report.Mounted = true
	}

	populate := populateScript(w.selectors)
	var last populateProbe
	_, err = PollUntil(ctx, Poll{Timeout: t.PopulateTimeout, Interval: t.RenderPollInterval}, func(ctx context.Context) (bool, error) {
		var probe populateProbe
		if err := w.sess.Evaluate(ctx, populate, &probe); err != nil {
			return false, err
		}
		last = probe
		return probe.interactive() >= w.selectors.MinInteractive && probe.Keyword, nil
	})
	populateErr := err
	if populateErr != nil && ctx.Err() != nil {
		return report, ctx.Err()
	}

	final := last
	if err := w.sess.Evaluate(ctx, populate, &final); err != nil {
		w.logger.Debug("final render probe failed", slog.Any("error", err))
		final = last
	}
	report.Buttons = final.Buttons
	report.Interactive = final.interactive()

	if final.Buttons == 0 {
		cause := populateErr
		if cause == nil {
			cause = fmt.Errorf("page rendered without buttons")
		}
		renderErr := RenderTimeoutError{Phase: "populate", Fatal: true, Err: cause}
		span.RecordError(renderErr)
		span.SetStatus(codes.Error, "no buttons rendered")
		return report, renderErr
	}

	if populateErr != nil {
		w.logger.Warn("listing UI not fully populated, continuing",
			slog.Int("interactive", report.Interactive),
			slog.Any("error", populateErr),
		)
		w.rec.LogError("render_populate", RenderTimeoutError{Phase: "populate", Err: populateErr})
		if err := w.sess.Sleep(ctx, t.RenderFallbackDelay); err != nil {
			return report, err
		}
		return report, nil
	}

	report.Populated = true
	if err := w.sess.Sleep(ctx, t.SettleDelay); err != nil {
		return report, err
	}
	return report, nil
}

func quoteJS(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
