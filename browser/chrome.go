package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
)

const defaultActionTimeout = 20 * time.Second

const hideWebdriverScript = `Object.defineProperty(navigator, 'webdriver', {get: () => undefined});
window.chrome = window.chrome || {runtime: {}};
Object.defineProperty(navigator, 'languages', {get: () => ['en-US', 'en']});`

// Options configures a Chrome session.
type Options struct {
	Headless  bool
	UserAgent string
	Width     int
	Height    int
	Stealth   bool
	ExecPath  string
	Logger    *slog.Logger
}

// Chrome is a Session backed by a chromedp-controlled Chrome tab.
type Chrome struct {
	tab    context.Context
	cancel context.CancelFunc
	logger *slog.Logger
}

// NewChrome launches a browser and opens one tab.
func NewChrome(parent context.Context, opts Options) (*Chrome, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
	)
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}
	if opts.Width > 0 && opts.Height > 0 {
		allocOpts = append(allocOpts, chromedp.WindowSize(opts.Width, opts.Height))
	}
	if opts.Stealth {
		allocOpts = append(allocOpts, chromedp.Flag("disable-blink-features", "AutomationControlled"))
	}
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(parent, allocOpts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(format string, args ...any) {
		logger.Debug(fmt.Sprintf(format, args...), slog.String("component", "chromedp"))
	}))

	c := &Chrome{
		tab: tabCtx,
		cancel: func() {
			cancelTab()
			cancelAlloc()
		},
		logger: logger,
	}

	start := []chromedp.Action{network.Enable()}
	if opts.Stealth {
		start = append(start, chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(hideWebdriverScript).Do(ctx)
			return err
		}))
	}
	if err := chromedp.Run(tabCtx, start...); err != nil {
		c.cancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	return c, nil
}

// run executes actions on the tab, bounded by ctx. Contexts without a
// deadline get defaultActionTimeout so no call can block forever.
func (c *Chrome) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(c.tab)
	defer cancel()
	if _, ok := ctx.Deadline(); !ok {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeout(runCtx, defaultActionTimeout)
		defer cancelTimeout()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (c *Chrome) Navigate(ctx context.Context, url string) error {
	return c.run(ctx, chromedp.Navigate(url))
}

func (c *Chrome) WaitFor(ctx context.Context, selector string, state WaitState, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var action chromedp.Action
	switch state {
	case StateVisible:
		action = chromedp.WaitVisible(selector, chromedp.ByQuery)
	default:
		action = chromedp.WaitReady(selector, chromedp.ByQuery)
	}
	if err := c.run(ctx, action); err != nil {
		return fmt.Errorf("wait for %q (%s): %w", selector, state, err)
	}
	return nil
}

func (c *Chrome) Fill(ctx context.Context, selector, value string) error {
	actions := []chromedp.Action{chromedp.Clear(selector, chromedp.ByQuery)}
	if value != "" {
		actions = append(actions, chromedp.SendKeys(selector, value, chromedp.ByQuery))
	}
	return c.run(ctx, actions...)
}

func (c *Chrome) Type(ctx context.Context, selector, text string) error {
	return c.run(ctx, chromedp.SendKeys(selector, text, chromedp.ByQuery))
}

func (c *Chrome) Click(ctx context.Context, selector string) error {
	return c.run(ctx, chromedp.Click(selector, chromedp.ByQuery))
}

func (c *Chrome) ClickAt(ctx context.Context, x, y float64) error {
	return c.run(ctx, chromedp.MouseClickXY(x, y))
}

func (c *Chrome) PressKey(ctx context.Context, key string) error {
	switch key {
	case KeyEscape:
		key = kb.Escape
	case KeyEnter:
		key = kb.Enter
	}
	return c.run(ctx, chromedp.KeyEvent(key))
}

func (c *Chrome) Evaluate(ctx context.Context, script string, out any) error {
	return c.run(ctx, chromedp.Evaluate(script, out))
}

func (c *Chrome) Count(ctx context.Context, selector string) (int, error) {
	var n int
	script := fmt.Sprintf(`document.querySelectorAll(%s).length`, quote(selector))
	if err := c.Evaluate(ctx, script, &n); err != nil {
		return 0, err
	}
	return n, nil
}

func (c *Chrome) Visible(ctx context.Context, selector string) (bool, error) {
	var visible bool
	script := fmt.Sprintf(`(() => {
	const el = document.querySelector(%s);
	if (!el) return false;
	const rect = el.getBoundingClientRect();
	const style = window.getComputedStyle(el);
	return rect.width > 0 && rect.height > 0 && style.visibility !== 'hidden' && style.display !== 'none';
})()`, quote(selector))
	if err := c.Evaluate(ctx, script, &visible); err != nil {
		return false, err
	}
	return visible, nil
}

func (c *Chrome) URL(ctx context.Context) (string, error) {
	var u string
	if err := c.run(ctx, chromedp.Location(&u)); err != nil {
		return "", err
	}
	return u, nil
}

func (c *Chrome) OuterHTML(ctx context.Context, selector string) (string, error) {
	var html string
	if err := c.run(ctx, chromedp.OuterHTML(selector, &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

func (c *Chrome) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := c.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (c *Chrome) Sleep(ctx context.Context, d time.Duration) error {
	return Sleep(ctx, d)
}

func (c *Chrome) SetViewport(ctx context.Context, width, height int) error {
	return c.run(ctx, chromedp.EmulateViewport(int64(width), int64(height)))
}

func (c *Chrome) SetExtraHeaders(ctx context.Context, headers map[string]string) error {
	h := make(network.Headers, len(headers))
	for k, v := range headers {
		h[k] = v
	}
	return c.run(ctx, network.SetExtraHTTPHeaders(h))
}

func (c *Chrome) Cookies(ctx context.Context) ([]*http.Cookie, error) {
	var out []*http.Cookie
	err := c.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		cookies, err := network.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		for _, ck := range cookies {
			hc := &http.Cookie{
				Name:     ck.Name,
				Value:    ck.Value,
				Domain:   ck.Domain,
				Path:     ck.Path,
				Secure:   ck.Secure,
				HttpOnly: ck.HTTPOnly,
			}
			if ck.Expires > 0 {
				hc.Expires = time.Unix(int64(ck.Expires), 0)
			}
			out = append(out, hc)
		}
		return nil
	}))
	return out, err
}

func (c *Chrome) Close() error {
	c.cancel()
	return nil
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
