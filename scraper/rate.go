package scraper

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-units/browser"
)

const (
	backoffGrowth = 1.5
	successDecay  = 0.9
)

// RateController spaces network-facing actions by an adaptive delay that
// grows on failure and decays on success, always within [base, max].
type RateController struct {
	mu       sync.Mutex
	base     time.Duration
	max      time.Duration
	current  time.Duration
	failures int
	last     time.Time

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// NewRateController starts at base. A max below base is raised to base.
func NewRateController(base, max time.Duration) *RateController {
	if max < base {
		max = base
	}
	return &RateController{
		base:    base,
		max:     max,
		current: base,
		now:     time.Now,
		sleep:   browser.Sleep,
	}
}

// Wait blocks until the current delay has elapsed since the previous action,
// then stamps now as the last action time.
func (r *RateController) Wait(ctx context.Context) error {
	r.mu.Lock()
	delay, last := r.current, r.last
	r.mu.Unlock()

	if !last.IsZero() {
		if remaining := delay - r.now().Sub(last); remaining > 0 {
			if err := r.sleep(ctx, remaining); err != nil {
				return err
			}
		}
	}

	r.mu.Lock()
	r.last = r.now()
	r.mu.Unlock()
	return nil
}

// OnSuccess clears the failure streak and decays the delay toward base.
func (r *RateController) OnSuccess() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = 0
	next := time.Duration(float64(r.current) * successDecay)
	if next < r.base {
		next = r.base
	}
	r.current = next
}

// OnFailure extends the streak and sets delay = min(max, base*1.5^streak).
func (r *RateController) OnFailure() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures++
	next := float64(r.base) * math.Pow(backoffGrowth, float64(r.failures))
	if next > float64(r.max) {
		r.current = r.max
		return
	}
	r.current = time.Duration(next)
}

// Reset returns the controller to its base delay.
func (r *RateController) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = 0
	r.current = r.base
}

// Delay is the current adapted delay.
func (r *RateController) Delay() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Failures is the current consecutive failure count.
func (r *RateController) Failures() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures
}
