// Package browser defines the page-automation capability the scraper
// drives, and a chromedp-backed implementation of it.
package browser

import (
	"context"
	"net/http"
	"time"
)

// WaitState is the element condition WaitFor blocks on.
type WaitState int

const (
	// StateAttached waits until the element exists in the DOM.
	StateAttached WaitState = iota
	// StateVisible waits until the element is rendered and visible.
	StateVisible
)

func (s WaitState) String() string {
	if s == StateVisible {
		return "visible"
	}
	return "attached"
}

// Keys accepted by PressKey.
const (
	KeyEscape = "Escape"
	KeyEnter  = "Enter"
)

// Session is a single browser page. Implementations are not safe for
// concurrent use; one scrape owns one Session.
type Session interface {
	Navigate(ctx context.Context, url string) error
	WaitFor(ctx context.Context, selector string, state WaitState, timeout time.Duration) error
	Fill(ctx context.Context, selector, value string) error
	Type(ctx context.Context, selector, text string) error
	Click(ctx context.Context, selector string) error
	ClickAt(ctx context.Context, x, y float64) error
	PressKey(ctx context.Context, key string) error
	// Evaluate runs script in the page and decodes its JSON result into out.
	// out may be nil.
	Evaluate(ctx context.Context, script string, out any) error
	Count(ctx context.Context, selector string) (int, error)
	Visible(ctx context.Context, selector string) (bool, error)
	URL(ctx context.Context) (string, error)
	OuterHTML(ctx context.Context, selector string) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Sleep(ctx context.Context, d time.Duration) error
	SetViewport(ctx context.Context, width, height int) error
	SetExtraHeaders(ctx context.Context, headers map[string]string) error
	Cookies(ctx context.Context) ([]*http.Cookie, error)
	Close() error
}

// Sleep blocks for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
