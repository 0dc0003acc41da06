package models

import "time"

// ErrorEntry is one timestamped failure in a run's error log.
type ErrorEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// MetricsSummary is the read-only view of a run's outcome counters.
type MetricsSummary struct {
	TotalRequests      int64         `json:"totalRequests"`
	SuccessfulRequests int64         `json:"successfulRequests"`
	FailedRequests     int64         `json:"failedRequests"`
	PropertiesScraped  int64         `json:"propertiesScraped"`
	SuccessRate        float64       `json:"successRate"`
	AverageTimingMs    float64       `json:"averageTimingMs"`
	Errors             []ErrorEntry  `json:"errors"`
	Timings            []int64       `json:"timingsMs"`
	Elapsed            time.Duration `json:"-"`
}

// RunConfiguration is the configuration echoed into the output record.
// Credentials other than the email are never included.
type RunConfiguration struct {
	Email             string            `json:"email"`
	ScrapeMode        string            `json:"scrapeMode"`
	Filters           map[string]string `json:"filters"`
	SpecificUnit      string            `json:"specificUnit,omitempty"`
	MaxResults        int               `json:"maxResults"`
	RequestDelay      float64           `json:"requestDelay"`
	RetryAttempts     int               `json:"retryAttempts"`
	EnableStealth     bool              `json:"enableStealth"`
	DownloadDocuments bool              `json:"downloadDocuments"`
	ParallelRequests  int               `json:"parallelRequests"`
}

// RunSummary condenses a successful run.
type RunSummary struct {
	TotalProperties int     `json:"totalProperties"`
	SuccessRate     float64 `json:"successRate"`
	DurationMs      int64   `json:"durationMs"`
}

// RunMetadata describes the scraper build and browser environment.
type RunMetadata struct {
	Version   string `json:"version"`
	PortalURL string `json:"portalUrl"`
	UserAgent string `json:"userAgent"`
	Viewport  string `json:"viewport"`
}

// RunError is the structured failure of a run.
type RunError struct {
	Message string   `json:"message"`
	Type    string   `json:"type"`
	Trace   []string `json:"trace"`
}

// RunResult is the single output record of a scrape. Successful runs fill
// Summary, Properties and Metadata; failed runs fill Error.
type RunResult struct {
	SessionID     string            `json:"sessionId"`
	Timestamp     time.Time         `json:"timestamp"`
	Success       bool              `json:"success"`
	ScrapeMode    string            `json:"scrapeMode,omitempty"`
	Configuration *RunConfiguration `json:"configuration,omitempty"`
	Summary       *RunSummary       `json:"summary,omitempty"`
	Properties    []PropertyRecord  `json:"properties,omitempty"`
	Documents     []string          `json:"documents,omitempty"`
	Metrics       MetricsSummary    `json:"metrics"`
	Metadata      *RunMetadata      `json:"metadata,omitempty"`
	Error         *RunError         `json:"error,omitempty"`
}
