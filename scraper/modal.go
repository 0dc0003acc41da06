package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aluiziolira/go-scrape-units/browser"
)

// DismissStrategy is one way of closing an overlay. Dismiss reports
// whether the overlay is confirmed gone.
type DismissStrategy interface {
	Name() string
	Dismiss(ctx context.Context, sess browser.Session) (bool, error)
}

// overlaySelectors are the overlay roots the portal renders, promotional
// interstitials first. The visibility probe and the selector strategy
// share this list.
var overlaySelectors = []string{
	`c-promotion-modal`,
	`.promo-popup`,
	`[class*="promotion"]`,
	`[role="dialog"]`,
	`.slds-modal`,
	`[aria-modal="true"]`,
	`section.slds-fade-in-open`,
}

const visibleDialogsMarker = "/* modal:visible-dialogs */"

var scriptVisibleDialogs = visibleDialogsScript(overlaySelectors)

func visibleDialogsScript(selectors []string) string {
	sel, _ := json.Marshal(strings.Join(selectors, ", "))
	return fmt.Sprintf(`%s (() => {
	const nodes = document.querySelectorAll(%s);
	return Array.from(nodes).filter(el => {
		const r = el.getBoundingClientRect();
		const s = window.getComputedStyle(el);
		return r.width > 0 && r.height > 0 && s.visibility !== 'hidden' && s.display !== 'none';
	}).length;
})()`, visibleDialogsMarker, sel)
}

// SelectorStrategy clicks the first visible close control inside each
// scope, in order, and confirms by re-checking the scope's visibility.
type SelectorStrategy struct {
	Scopes []string
	Close  []string
	Pause  time.Duration
}

func (s *SelectorStrategy) Name() string { return "selector" }

func (s *SelectorStrategy) Dismiss(ctx context.Context, sess browser.Session) (bool, error) {
	for _, scope := range s.Scopes {
		if visible, err := sess.Visible(ctx, scope); err != nil || !visible {
			continue
		}
		for _, closeSel := range s.Close {
			sel := scope + " " + closeSel
			visible, err := sess.Visible(ctx, sel)
			if err != nil || !visible {
				continue
			}
			if err := sess.Click(ctx, sel); err != nil {
				continue
			}
			if err := sess.Sleep(ctx, s.Pause); err != nil {
				return false, err
			}
			still, err := sess.Visible(ctx, scope)
			if err == nil && !still {
				return true, nil
			}
		}
	}
	return false, nil
}

// HeuristicClickStrategy searches every interactive element in the page
// for one whose text or attributes contain a keyword and clicks it.
type HeuristicClickStrategy struct {
	Keywords []string
	Pause    time.Duration
}

func (s *HeuristicClickStrategy) Name() string { return "heuristic" }

func (s *HeuristicClickStrategy) Dismiss(ctx context.Context, sess browser.Session) (bool, error) {
	var clicked bool
	if err := sess.Evaluate(ctx, heuristicClickScript(s.Keywords), &clicked); err != nil {
		return false, err
	}
	if !clicked {
		return false, nil
	}
	if err := sess.Sleep(ctx, s.Pause); err != nil {
		return false, err
	}
	return true, nil
}

const heuristicClickMarker = "/* modal:heuristic-click */"

func heuristicClickScript(keywords []string) string {
	kw, _ := json.Marshal(keywords)
	return fmt.Sprintf(`%s (() => {
	const keywords = %s;
	const candidates = document.querySelectorAll('button, a, [role="button"], [onclick], input[type="button"], input[type="submit"]');
	for (const el of candidates) {
		const haystack = [el.innerText, el.getAttribute('aria-label'), el.getAttribute('title'), el.getAttribute('value'), el.className]
			.filter(Boolean).join(' ').toLowerCase();
		if (!keywords.some(k => haystack.includes(k))) continue;
		const r = el.getBoundingClientRect();
		if (r.width === 0 || r.height === 0 || el.offsetParent === null) continue;
		el.click();
		return true;
	}
	return false;
})()`, heuristicClickMarker, kw)
}

// KeyboardStrategy presses Escape a few times and clicks an empty corner
// to close backdrop-bound overlays.
type KeyboardStrategy struct {
	Presses int
	Pause   time.Duration
	CornerX float64
	CornerY float64
}

func (s *KeyboardStrategy) Name() string { return "keyboard" }

func (s *KeyboardStrategy) Dismiss(ctx context.Context, sess browser.Session) (bool, error) {
	for i := 0; i < s.Presses; i++ {
		if err := sess.PressKey(ctx, browser.KeyEscape); err != nil {
			return false, err
		}
		if err := sess.Sleep(ctx, s.Pause); err != nil {
			return false, err
		}
	}
	if err := sess.ClickAt(ctx, s.CornerX, s.CornerY); err != nil {
		return false, err
	}
	if err := sess.Sleep(ctx, s.Pause); err != nil {
		return false, err
	}
	remaining, err := countVisibleDialogs(ctx, sess)
	if err != nil {
		return false, err
	}
	return remaining == 0, nil
}

// DefaultDismissStrategies is the cascade used against the portal's
// promotional interstitial.
func DefaultDismissStrategies(pause time.Duration) []DismissStrategy {
	return []DismissStrategy{
		&SelectorStrategy{
			Scopes: overlaySelectors,
			Close: []string{
				`button[title="Close"]`,
				`.slds-modal__close`,
				`button[aria-label*="close" i]`,
				`[data-dismiss="modal"]`,
				`.close`,
			},
			Pause: pause,
		},
		&HeuristicClickStrategy{
			Keywords: []string{"filter", "properties", "apply", "submit"},
			Pause:    pause,
		},
		&KeyboardStrategy{Presses: 2, Pause: pause, CornerX: 5, CornerY: 5},
	}
}

// DismissReport summarises one dismissal pass.
type DismissReport struct {
	Strategy  string
	Dismissed bool
	Residual  int
}

// Dismisser runs the strategy cascade. It never fails a scrape.
type Dismisser struct {
	sess       browser.Session
	strategies []DismissStrategy
	logger     *slog.Logger
}

// NewDismisser builds a dismisser over the given ordered strategies.
func NewDismisser(sess browser.Session, strategies []DismissStrategy, logger *slog.Logger) *Dismisser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dismisser{sess: sess, strategies: strategies, logger: logger}
}

// Dismiss tries each strategy until one confirms, then counts the dialogs
// still visible. Pages with no visible overlay skip the cascade.
func (d *Dismisser) Dismiss(ctx context.Context) DismissReport {
	ctx, span := tracer.Start(ctx, "dismiss_modal")
	defer span.End()

	var report DismissReport

	open, err := countVisibleDialogs(ctx, d.sess)
	if err != nil {
		d.logger.Debug("dialog probe failed", slog.Any("error", err))
	}
	if err == nil && open == 0 {
		return report
	}

	for _, strategy := range d.strategies {
		ok, err := strategy.Dismiss(ctx, d.sess)
		if err != nil {
			d.logger.Debug("dismiss strategy failed", slog.String("strategy", strategy.Name()), slog.Any("error", err))
		}
		if ok {
			report.Strategy = strategy.Name()
			report.Dismissed = true
			break
		}
	}

	residual, err := countVisibleDialogs(ctx, d.sess)
	if err != nil {
		d.logger.Debug("residual dialog probe failed", slog.Any("error", err))
	}
	report.Residual = residual
	if residual > 0 {
		d.logger.Warn("dialogs still visible after dismissal", slog.Int("residual", residual))
	} else {
		d.logger.Info("overlay dismissed", slog.String("strategy", report.Strategy))
	}
	return report
}

func countVisibleDialogs(ctx context.Context, sess browser.Session) (int, error) {
	var n int
	if err := sess.Evaluate(ctx, scriptVisibleDialogs, &n); err != nil {
		return 0, err
	}
	return n, nil
}
