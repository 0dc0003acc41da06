package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// Scrape modes accepted by Validate.
const (
	ModeBulk     = "bulk"
	ModeSpecific = "specific"
)

const (
	minMaxResults   = 1
	maxMaxResults   = 10000
	minRequestDelay = 500 * time.Millisecond
	maxRequestDelay = 10 * time.Second
	minRetries      = 1
	maxRetries      = 5
	maxParallelism  = 10
)

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// Viewport is the browser window size.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Timings holds the bounds of every wait in a scrape. Tests shrink these.
type Timings struct {
	NavigationTimeout time.Duration
	FieldTimeout      time.Duration
	LoginTimeout      time.Duration
	LoginPollInterval time.Duration
	RetryJitterMin    time.Duration
	RetryJitterMax    time.Duration
	TypingDelayMin    time.Duration
	TypingDelayMax    time.Duration

	ModalPause time.Duration

	MountTimeout        time.Duration
	PopulateTimeout     time.Duration
	RenderPollInterval  time.Duration
	SettleDelay         time.Duration
	RenderFallbackDelay time.Duration

	ContainerTimeout time.Duration
	SpinnerInterval  time.Duration
	SpinnerAttempts  int
	RowInterval      time.Duration
	RowAttempts      int
}

// Config holds scrape configuration. It is treated as immutable once
// Validate succeeds.
type Config struct {
	PortalURL   string
	LoginPath   string
	ListingPath string

	Email    string
	Password string

	ScrapeMode        string
	Filters           map[string]string
	SpecificUnit      string
	MaxResults        int
	RequestDelay      time.Duration
	MaxDelay          time.Duration
	RetryAttempts     int
	EnableStealth     bool
	DownloadDocuments bool
	Parallelism       int

	Headless      bool
	UserAgent     string
	Viewport      Viewport
	ScreenshotDir string
	DocumentsDir  string

	OutputFile   string
	OutputFormat string // csv, json, dual, or sqlite
	ResultFile   string
	MetricsAddr  string
	OTLPEndpoint string
	Verbose      bool

	Timings Timings
}

// DefaultTimings returns the production wait bounds.
func DefaultTimings() Timings {
	return Timings{
		NavigationTimeout: 60 * time.Second,
		FieldTimeout:      15 * time.Second,
		LoginTimeout:      30 * time.Second,
		LoginPollInterval: 500 * time.Millisecond,
		RetryJitterMin:    3 * time.Second,
		RetryJitterMax:    7 * time.Second,
		TypingDelayMin:    50 * time.Millisecond,
		TypingDelayMax:    150 * time.Millisecond,

		ModalPause: 500 * time.Millisecond,

		MountTimeout:        30 * time.Second,
		PopulateTimeout:     30 * time.Second,
		RenderPollInterval:  500 * time.Millisecond,
		SettleDelay:         2 * time.Second,
		RenderFallbackDelay: 5 * time.Second,

		ContainerTimeout: 30 * time.Second,
		SpinnerInterval:  2 * time.Second,
		SpinnerAttempts:  30,
		RowInterval:      3 * time.Second,
		RowAttempts:      10,
	}
}

// DefaultConfig returns conservative defaults for the partner portal.
func DefaultConfig() *Config {
	return &Config{
		PortalURL:     "https://partner-portal.example.com",
		LoginPath:     "/s/login/",
		ListingPath:   "/s/available-units",
		ScrapeMode:    ModeBulk,
		Filters:       map[string]string{},
		MaxResults:    1000,
		RequestDelay:  2 * time.Second,
		MaxDelay:      30 * time.Second,
		RetryAttempts: 3,
		EnableStealth: true,
		Parallelism:   2,
		Headless:      true,
		UserAgent:     "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		Viewport:      Viewport{Width: 1920, Height: 1080},
		ScreenshotDir: "output/screenshots",
		DocumentsDir:  "output/documents",
		OutputFile:    "output/units.csv",
		OutputFormat:  "csv",
		ResultFile:    "output/result.json",
		Timings:       DefaultTimings(),
	}
}

// LoginURL is the absolute URL of the portal login form.
func (c *Config) LoginURL() string {
	return joinURL(c.PortalURL, c.LoginPath)
}

// ListingURL is the absolute URL of the unit listing page.
func (c *Config) ListingURL() string {
	return joinURL(c.PortalURL, c.ListingPath)
}

func joinURL(base, path string) string {
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(path, "/")
}

// Validate checks every constraint and reports all violations at once.
func (c *Config) Validate() error {
	var violations []string
	add := func(format string, args ...any) {
		violations = append(violations, fmt.Sprintf(format, args...))
	}

	if c.PortalURL == "" {
		add("portal URL cannot be empty")
	} else if parsed, err := url.Parse(c.PortalURL); err != nil || parsed.Host == "" {
		add("portal URL must be absolute and include a host")
	}

	if !emailPattern.MatchString(strings.TrimSpace(c.Email)) {
		add("email must be a valid address")
	}
	if c.Password == "" {
		add("password cannot be empty")
	}

	switch c.ScrapeMode {
	case ModeBulk:
	case ModeSpecific:
		if strings.TrimSpace(c.SpecificUnit) == "" {
			add("specific unit is required in %s mode", ModeSpecific)
		}
	default:
		add("scrape mode must be %s or %s", ModeBulk, ModeSpecific)
	}

	if c.MaxResults < minMaxResults || c.MaxResults > maxMaxResults {
		add("max results must be between %d and %d", minMaxResults, maxMaxResults)
	}
	if c.RequestDelay < minRequestDelay || c.RequestDelay > maxRequestDelay {
		add("request delay must be between %s and %s", minRequestDelay, maxRequestDelay)
	}
	if c.RetryAttempts < minRetries || c.RetryAttempts > maxRetries {
		add("retry attempts must be between %d and %d", minRetries, maxRetries)
	}
	if c.Parallelism < 1 || c.Parallelism > maxParallelism {
		add("parallelism must be between 1 and %d", maxParallelism)
	}
	if c.UserAgent == "" {
		add("user agent cannot be empty")
	}
	if c.Viewport.Width <= 0 || c.Viewport.Height <= 0 {
		add("viewport dimensions must be positive")
	}
	if c.OutputFile == "" {
		add("output file cannot be empty")
	}
	switch c.OutputFormat {
	case "csv", "json", "dual", "sqlite":
	default:
		add("output format must be csv, json, dual, or sqlite")
	}

	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	return nil
}

// EffectiveMaxDelay is the backoff ceiling, never below the base delay.
func (c *Config) EffectiveMaxDelay() time.Duration {
	if c.MaxDelay < c.RequestDelay {
		return c.RequestDelay
	}
	return c.MaxDelay
}

// ValidationError lists every violated configuration constraint.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Violations, "; ")
}
