package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/aluiziolira/go-scrape-units/browser"
	"github.com/aluiziolira/go-scrape-units/config"
)

// LoginSelectors locate the portal's login form. Email, Password and
// LoggedIn may be comma-separated selector lists.
type LoginSelectors struct {
	Email    string
	Password string
	Submit   []string
	LoggedIn string
}

// DefaultLoginSelectors match the portal's community login page.
func DefaultLoginSelectors() LoginSelectors {
	return LoginSelectors{
		Email:    `input[type="email"], input[name="username"], input[id*="username"], input[placeholder*="mail" i]`,
		Password: `input[type="password"]`,
		Submit: []string{
			`button[type="submit"]`,
			`input[type="submit"]`,
			`button.slds-button_brand`,
			`button[name="login"]`,
		},
		LoggedIn: `.profile-menu, .forceCommunityThemeProfileMenu, [data-logged-in], a[href*="logout"], a[href*="secur/logout"]`,
	}
}

var loginErrorMarkers = []string{"invalid", "incorrect", "error"}

const scriptLoginErrorText = `/* login:error-text */ (() => {
	const nodes = document.querySelectorAll('.error, .slds-has-error, .uiMessage, .loginError, [role="alert"], [aria-live="assertive"]');
	return Array.from(nodes).map(n => (n.innerText || '').trim()).filter(Boolean).join(' | ');
})()`

// Authenticator drives the login form with bounded retries.
type Authenticator struct {
	cfg       *config.Config
	sess      browser.Session
	rate      *RateController
	rec       *Recorder
	rng       *rand.Rand
	logger    *slog.Logger
	selectors LoginSelectors
	now       func() time.Time
}

// NewAuthenticator wires an authenticator for one session.
func NewAuthenticator(cfg *config.Config, sess browser.Session, rate *RateController, rec *Recorder, rng *rand.Rand, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		cfg:       cfg,
		sess:      sess,
		rate:      rate,
		rec:       rec,
		rng:       rng,
		logger:    logger,
		selectors: DefaultLoginSelectors(),
		now:       time.Now,
	}
}

// Login succeeds or returns an AuthenticationError wrapping the last
// attempt's cause. It never partially succeeds.
func (a *Authenticator) Login(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "authenticate")
	defer span.End()

	var lastErr error
	attempts := a.cfg.RetryAttempts
	for attempt := 1; attempt <= attempts; attempt++ {
		start := a.now()
		err := a.attempt(ctx)
		elapsed := a.now().Sub(start)

		if err == nil {
			a.rec.RecordSuccess("login", elapsed)
			a.rate.Reset()
			a.rec.metrics.SetBackoff(a.rate.Delay())
			span.SetAttributes(attribute.Int("attempts", attempt))
			a.logger.Info("login succeeded", slog.Int("attempt", attempt), slog.Duration("elapsed", elapsed))
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			span.RecordError(ctxErr)
			span.SetStatus(codes.Error, "login canceled")
			return ctxErr
		}

		lastErr = err
		a.rec.RecordFailure("login", elapsed, err)
		a.rate.OnFailure()
		a.rec.metrics.SetBackoff(a.rate.Delay())
		a.logger.Warn("login attempt failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
			slog.Any("error", err),
		)

		if attempt < attempts {
			a.rec.metrics.IncRetries()
			pause := jitter(a.rng, a.cfg.Timings.RetryJitterMin, a.cfg.Timings.RetryJitterMax)
			if err := a.sess.Sleep(ctx, pause); err != nil {
				return err
			}
		}
	}

	authErr := AuthenticationError{Attempts: attempts, Err: lastErr}
	span.RecordError(authErr)
	span.SetStatus(codes.Error, "login failed")
	return authErr
}

func (a *Authenticator) attempt(ctx context.Context) error {
	t := a.cfg.Timings
	loginURL := a.cfg.LoginURL()

	if err := a.rate.Wait(ctx); err != nil {
		return err
	}

	navCtx, cancel := context.WithTimeout(ctx, t.NavigationTimeout)
	err := a.sess.Navigate(navCtx, loginURL)
	cancel()
	if err != nil {
		return NavigationError{URL: loginURL, Err: err}
	}

	if a.cfg.EnableStealth {
		if err := applyStealth(ctx, a.sess, a.cfg, a.rng); err != nil {
			a.logger.Debug("stealth adjustments failed", slog.Any("error", err))
		}
	}

	if err := a.sess.WaitFor(ctx, a.selectors.Email, browser.StateAttached, t.FieldTimeout); err != nil {
		return fmt.Errorf("email field not found: %w", err)
	}
	if err := a.sess.WaitFor(ctx, a.selectors.Password, browser.StateAttached, t.FieldTimeout); err != nil {
		return fmt.Errorf("password field not found: %w", err)
	}

	if err := a.typeInto(ctx, a.selectors.Email, a.cfg.Email); err != nil {
		return fmt.Errorf("type email: %w", err)
	}
	if err := a.typeInto(ctx, a.selectors.Password, a.cfg.Password); err != nil {
		return fmt.Errorf("type password: %w", err)
	}

	if err := a.submit(ctx); err != nil {
		return err
	}

	_, err = PollUntil(ctx, Poll{Timeout: t.LoginTimeout, Interval: t.LoginPollInterval}, func(ctx context.Context) (bool, error) {
		return a.loggedIn(ctx, loginURL)
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	if msg := a.pageError(ctx); msg != "" {
		return fmt.Errorf("login rejected: %s", msg)
	}
	return fmt.Errorf("no post-login signal: %w", err)
}

// typeInto clears selector then types text one character at a time with a
// randomized pause between keys.
func (a *Authenticator) typeInto(ctx context.Context, selector, text string) error {
	if err := a.sess.Fill(ctx, selector, ""); err != nil {
		return err
	}
	for _, r := range text {
		if err := a.sess.Type(ctx, selector, string(r)); err != nil {
			return err
		}
		pause := jitter(a.rng, a.cfg.Timings.TypingDelayMin, a.cfg.Timings.TypingDelayMax)
		if err := a.sess.Sleep(ctx, pause); err != nil {
			return err
		}
	}
	return nil
}

func (a *Authenticator) submit(ctx context.Context) error {
	for _, sel := range a.selectors.Submit {
		visible, err := a.sess.Visible(ctx, sel)
		if err != nil || !visible {
			continue
		}
		if err := a.sess.Click(ctx, sel); err != nil {
			a.logger.Debug("submit click failed", slog.String("selector", sel), slog.Any("error", err))
			continue
		}
		return nil
	}
	if err := a.sess.PressKey(ctx, browser.KeyEnter); err != nil {
		return fmt.Errorf("submit login form: %w", err)
	}
	return nil
}

func (a *Authenticator) loggedIn(ctx context.Context, loginURL string) (bool, error) {
	current, err := a.sess.URL(ctx)
	if err == nil && current != "" && !samePage(current, loginURL) {
		return true, nil
	}
	n, countErr := a.sess.Count(ctx, a.selectors.LoggedIn)
	if countErr != nil {
		return false, countErr
	}
	return n > 0, err
}

func (a *Authenticator) pageError(ctx context.Context) string {
	var text string
	if err := a.sess.Evaluate(ctx, scriptLoginErrorText, &text); err != nil {
		return ""
	}
	lower := strings.ToLower(text)
	for _, marker := range loginErrorMarkers {
		if strings.Contains(lower, marker) {
			return strings.TrimSpace(text)
		}
	}
	return ""
}

// samePage compares host and path, ignoring query, fragment and a
// trailing slash, so an error reload of the login form is not a redirect.
func samePage(a, b string) bool {
	ua, errA := url.Parse(a)
	ub, errB := url.Parse(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return strings.EqualFold(ua.Host, ub.Host) &&
		strings.TrimSuffix(ua.Path, "/") == strings.TrimSuffix(ub.Path, "/")
}
