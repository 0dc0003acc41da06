package scraper

import (
	"io"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/aluiziolira/go-scrape-units/browser/browsertest"
	"github.com/aluiziolira/go-scrape-units/config"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// testTimings keeps real-timer polls in the millisecond range. Fixed
// pauses go through the fake session and never block.
func testTimings() config.Timings {
	return config.Timings{
		NavigationTimeout: time.Second,
		FieldTimeout:      10 * time.Millisecond,
		LoginTimeout:      20 * time.Millisecond,
		LoginPollInterval: time.Millisecond,
		RetryJitterMin:    3 * time.Second,
		RetryJitterMax:    7 * time.Second,
		TypingDelayMin:    50 * time.Millisecond,
		TypingDelayMax:    150 * time.Millisecond,

		ModalPause: 500 * time.Millisecond,

		MountTimeout:        20 * time.Millisecond,
		PopulateTimeout:     20 * time.Millisecond,
		RenderPollInterval:  time.Millisecond,
		SettleDelay:         2 * time.Second,
		RenderFallbackDelay: 5 * time.Second,

		ContainerTimeout: 10 * time.Millisecond,
		SpinnerInterval:  time.Millisecond,
		SpinnerAttempts:  30,
		RowInterval:      time.Millisecond,
		RowAttempts:      10,
	}
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Email = "agent@example.com"
	cfg.Password = "s3cret"
	cfg.RequestDelay = 500 * time.Millisecond
	cfg.ScreenshotDir = ""
	cfg.Timings = testTimings()
	return cfg
}

func testRand() *rand.Rand {
	return rand.New(rand.NewPCG(1, 2))
}

// testRate returns a controller whose sleeps go through sess.
func testRate(cfg *config.Config, sess *browsertest.Session) *RateController {
	rate := NewRateController(cfg.RequestDelay, cfg.EffectiveMaxDelay())
	rate.sleep = sess.Sleep
	return rate
}

// portalPage is the set of in-page probe answers a fake portal gives.
type portalPage struct {
	dialogs    func() int
	mount      map[string]any
	populate   map[string]any
	cssError   func() bool
	loginError string
	clickedAny bool
}

func healthyPage() *portalPage {
	return &portalPage{
		dialogs:  func() int { return 0 },
		mount:    map[string]any{"root": true, "styled": 120},
		populate: map[string]any{"buttons": 6, "inputs": 2, "clickables": 3, "keyword": true},
		cssError: func() bool { return false },
	}
}

func (p *portalPage) evaluate(script string) (any, error) {
	switch {
	case strings.Contains(script, "/* modal:visible-dialogs */"):
		return p.dialogs(), nil
	case strings.Contains(script, "/* modal:heuristic-click */"):
		return p.clickedAny, nil
	case strings.Contains(script, mountMarker):
		return p.mount, nil
	case strings.Contains(script, populateMarker):
		return p.populate, nil
	case strings.Contains(script, "/* table:css-error */"):
		return p.cssError(), nil
	case strings.Contains(script, "/* login:error-text */"):
		return p.loginError, nil
	}
	return nil, nil
}

const postLoginURL = "https://partner-portal.example.com/s/home"

// newLoginFake returns a fake positioned for the login form. The submit
// button redirects away from the login page on the attempts listed in
// succeedOn (1-based).
func newLoginFake(page *portalPage, succeedOn ...int) *browsertest.Session {
	sess := browsertest.New()
	sel := DefaultLoginSelectors()
	sess.SetElement(sel.Email, 1, true)
	sess.SetElement(sel.Password, 1, true)
	sess.SetElement(sel.Submit[0], 1, true)

	submits := 0
	sess.OnClick = func(selector string) error {
		if selector == sel.Submit[0] {
			submits++
			for _, n := range succeedOn {
				if n == submits {
					sess.SetURL(postLoginURL)
				}
			}
		}
		return nil
	}
	sess.OnEvaluate = page.evaluate
	return sess
}

// addListingTable makes the fake's listing table reveal with html as its
// container markup. rows is the row count the fake reports.
func addListingTable(sess *browsertest.Session, rows int, html string) {
	sel := DefaultTableSelectors()
	sess.SetElement(sel.Reveal[0], 1, true)
	sess.SetElement(sel.Container, 1, false)
	sess.SetElement(sel.Rows, rows, true)
	sess.SetElement(sel.FirstCells, 7, true)
	sess.HTML[sel.Container] = html
}
