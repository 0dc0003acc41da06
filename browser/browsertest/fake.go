// Package browsertest provides a scripted in-memory browser.Session.
package browsertest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-units/browser"
)

// ErrNotFound is returned for selectors the fake has no element for.
var ErrNotFound = errors.New("browsertest: element not found")

// Session is a fake page. Elements and visibility are held in maps keyed
// by selector; the optional hooks override the defaults per call.
// Sleep never blocks, it only records the requested duration.
type Session struct {
	mu sync.Mutex

	CurrentURL string
	Elements   map[string]int
	Shown      map[string]bool
	HTML       map[string]string
	Jar        []*http.Cookie

	OnNavigate func(url string) error
	OnClick    func(selector string) error
	OnWaitFor  func(selector string, state browser.WaitState) error
	OnEvaluate func(script string) (any, error)
	OnCount    func(selector string) (int, error)

	calls  []string
	typed  map[string]string
	slept  []time.Duration
	closed bool
}

// New returns an empty fake positioned at about:blank.
func New() *Session {
	return &Session{
		CurrentURL: "about:blank",
		Elements:   map[string]int{},
		Shown:      map[string]bool{},
		HTML:       map[string]string{},
		typed:      map[string]string{},
	}
}

var _ browser.Session = (*Session)(nil)

// SetElement registers count matches for selector, visible or not.
func (s *Session) SetElement(selector string, count int, visible bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Elements[selector] = count
	s.Shown[selector] = visible
}

// SetURL moves the fake to url without recording a navigation.
func (s *Session) SetURL(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CurrentURL = url
}

// Calls returns the ordered log of actions, e.g. "click:#submit".
func (s *Session) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallsWithPrefix returns the logged actions starting with prefix.
func (s *Session) CallsWithPrefix(prefix string) []string {
	var out []string
	for _, c := range s.Calls() {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

// Typed returns the text typed into selector since its last Fill.
func (s *Session) Typed(selector string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.typed[selector]
}

// Slept returns every duration passed to Sleep.
func (s *Session) Slept() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.slept))
	copy(out, s.slept)
	return out
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) record(format string, args ...any) {
	s.mu.Lock()
	s.calls = append(s.calls, fmt.Sprintf(format, args...))
	s.mu.Unlock()
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.record("navigate:%s", url)
	if s.OnNavigate != nil {
		if err := s.OnNavigate(url); err != nil {
			return err
		}
	}
	s.SetURL(url)
	return nil
}

func (s *Session) WaitFor(ctx context.Context, selector string, state browser.WaitState, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.record("wait:%s:%s", state, selector)
	if s.OnWaitFor != nil {
		return s.OnWaitFor(selector, state)
	}
	s.mu.Lock()
	n, visible := s.Elements[selector], s.Shown[selector]
	s.mu.Unlock()
	if n == 0 || (state == browser.StateVisible && !visible) {
		return fmt.Errorf("wait for %q: %w", selector, context.DeadlineExceeded)
	}
	return nil
}

func (s *Session) Fill(ctx context.Context, selector, value string) error {
	s.record("fill:%s", selector)
	if err := s.require(selector); err != nil {
		return err
	}
	s.mu.Lock()
	s.typed[selector] = value
	s.mu.Unlock()
	return nil
}

func (s *Session) Type(ctx context.Context, selector, text string) error {
	if err := s.require(selector); err != nil {
		return err
	}
	s.mu.Lock()
	s.typed[selector] += text
	s.mu.Unlock()
	return nil
}

func (s *Session) Click(ctx context.Context, selector string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.record("click:%s", selector)
	if s.OnClick != nil {
		return s.OnClick(selector)
	}
	return s.require(selector)
}

func (s *Session) ClickAt(ctx context.Context, x, y float64) error {
	s.record("clickat:%.0f,%.0f", x, y)
	return nil
}

func (s *Session) PressKey(ctx context.Context, key string) error {
	s.record("key:%s", key)
	return nil
}

func (s *Session) Evaluate(ctx context.Context, script string, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.OnEvaluate == nil {
		return errors.New("browsertest: no evaluate hook")
	}
	v, err := s.OnEvaluate(script)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (s *Session) Count(ctx context.Context, selector string) (int, error) {
	if s.OnCount != nil {
		return s.OnCount(selector)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Elements[selector], nil
}

func (s *Session) Visible(ctx context.Context, selector string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Elements[selector] > 0 && s.Shown[selector], nil
}

func (s *Session) URL(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CurrentURL, nil
}

func (s *Session) OuterHTML(ctx context.Context, selector string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	html, ok := s.HTML[selector]
	if !ok {
		return "", fmt.Errorf("outer html %q: %w", selector, ErrNotFound)
	}
	return html, nil
}

func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	s.record("screenshot")
	return []byte("\x89PNG fake"), nil
}

func (s *Session) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.slept = append(s.slept, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *Session) SetViewport(ctx context.Context, width, height int) error {
	s.record("viewport:%dx%d", width, height)
	return nil
}

func (s *Session) SetExtraHeaders(ctx context.Context, headers map[string]string) error {
	s.record("headers:%d", len(headers))
	return nil
}

func (s *Session) Cookies(ctx context.Context) ([]*http.Cookie, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Jar, nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *Session) require(selector string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Elements[selector] == 0 {
		return fmt.Errorf("%q: %w", selector, ErrNotFound)
	}
	return nil
}
