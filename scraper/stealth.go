package scraper

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/aluiziolira/go-scrape-units/browser"
	"github.com/aluiziolira/go-scrape-units/config"
)

const viewportJitter = 64

var acceptLanguages = []string{
	"en-US,en;q=0.9",
	"en-GB,en;q=0.9",
	"en-US,en;q=0.8,ar;q=0.6",
}

// applyStealth nudges the viewport and request headers so consecutive
// sessions do not present an identical fingerprint.
func applyStealth(ctx context.Context, sess browser.Session, cfg *config.Config, rng *rand.Rand) error {
	w := cfg.Viewport.Width - rng.IntN(viewportJitter+1)
	h := cfg.Viewport.Height - rng.IntN(viewportJitter+1)
	if err := sess.SetViewport(ctx, w, h); err != nil {
		return fmt.Errorf("set viewport: %w", err)
	}

	headers := map[string]string{
		"Accept-Language":           acceptLanguages[rng.IntN(len(acceptLanguages))],
		"Upgrade-Insecure-Requests": "1",
		"Sec-Fetch-Site":            "same-origin",
		"Sec-Fetch-Mode":            "navigate",
		"DNT":                       "1",
	}
	if err := sess.SetExtraHeaders(ctx, headers); err != nil {
		return fmt.Errorf("set headers: %w", err)
	}
	return nil
}

// jitter returns a uniformly random duration in [min, max].
func jitter(rng *rand.Rand, min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rng.Int64N(int64(max-min)+1))
}
