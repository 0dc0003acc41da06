package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// FileConfig is the YAML layout of a scrape configuration file.
type FileConfig struct {
	PortalURL           string            `yaml:"portal_url"`
	LoginPath           string            `yaml:"login_path"`
	ListingPath         string            `yaml:"listing_path"`
	Email               string            `yaml:"email"`
	Password            string            `yaml:"password"`
	ScrapeMode          string            `yaml:"scrape_mode"`
	Filters             map[string]string `yaml:"filters"`
	SpecificUnit        string            `yaml:"specific_unit"`
	MaxResults          int               `yaml:"max_results"`
	RequestDelaySeconds float64           `yaml:"request_delay"`
	MaxDelaySeconds     float64           `yaml:"max_delay"`
	RetryAttempts       int               `yaml:"retry_attempts"`
	EnableStealth       *bool             `yaml:"enable_stealth"`
	DownloadDocuments   *bool             `yaml:"download_documents"`
	ParallelRequests    int               `yaml:"parallel_requests"`
	Headless            *bool             `yaml:"headless"`
	UserAgent           string            `yaml:"user_agent"`
	ViewportWidth       int               `yaml:"viewport_width"`
	ViewportHeight      int               `yaml:"viewport_height"`
	ScreenshotDir       string            `yaml:"screenshot_dir"`
	DocumentsDir        string            `yaml:"documents_dir"`
	OutputFile          string            `yaml:"output_file"`
	OutputFormat        string            `yaml:"output_format"`
	ResultFile          string            `yaml:"result_file"`
	MetricsAddr         string            `yaml:"metrics_addr"`
	OTLPEndpoint        string            `yaml:"otlp_endpoint"`
}

// Load builds a Config from defaults, the YAML file at path (plus its
// optional "<name>.local.<ext>" override), a .env file and the
// environment, in increasing priority. An empty path skips the files.
// The result is not validated.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		fc, err := ReadFile(path)
		if err != nil {
			return nil, err
		}
		fc.apply(cfg)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ReadFile decodes path and merges "<name>.local.<ext>" over it when present.
func ReadFile(path string) (FileConfig, error) {
	var out FileConfig

	data, err := os.ReadFile(path)
	if err != nil {
		return out, fmt.Errorf("read config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode config %q: %w", path, err)
	}

	localPath := localVariant(path)
	localData, err := os.ReadFile(localPath)
	if errors.Is(err, fs.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		return out, fmt.Errorf("read config %q: %w", localPath, err)
	}

	var override FileConfig
	if err := yaml.Unmarshal(localData, &override); err != nil {
		return out, fmt.Errorf("decode config %q: %w", localPath, err)
	}
	if err := mergo.Merge(&out, override, mergo.WithOverride); err != nil {
		return out, fmt.Errorf("merge config %q: %w", localPath, err)
	}
	slog.Info("merged config with local overrides", slog.String("local", localPath))
	return out, nil
}

func localVariant(path string) string {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	return filepath.Join(dir, name+".local"+ext)
}

func (fc FileConfig) apply(cfg *Config) {
	setString(&cfg.PortalURL, fc.PortalURL)
	setString(&cfg.LoginPath, fc.LoginPath)
	setString(&cfg.ListingPath, fc.ListingPath)
	setString(&cfg.Email, fc.Email)
	setString(&cfg.Password, fc.Password)
	setString(&cfg.ScrapeMode, fc.ScrapeMode)
	setString(&cfg.SpecificUnit, fc.SpecificUnit)
	setString(&cfg.UserAgent, fc.UserAgent)
	setString(&cfg.ScreenshotDir, fc.ScreenshotDir)
	setString(&cfg.DocumentsDir, fc.DocumentsDir)
	setString(&cfg.OutputFile, fc.OutputFile)
	setString(&cfg.OutputFormat, strings.ToLower(fc.OutputFormat))
	setString(&cfg.ResultFile, fc.ResultFile)
	setString(&cfg.MetricsAddr, fc.MetricsAddr)
	setString(&cfg.OTLPEndpoint, fc.OTLPEndpoint)

	for k, v := range fc.Filters {
		cfg.Filters[k] = v
	}
	if fc.MaxResults != 0 {
		cfg.MaxResults = fc.MaxResults
	}
	if fc.RequestDelaySeconds != 0 {
		cfg.RequestDelay = Seconds(fc.RequestDelaySeconds)
	}
	if fc.MaxDelaySeconds != 0 {
		cfg.MaxDelay = Seconds(fc.MaxDelaySeconds)
	}
	if fc.RetryAttempts != 0 {
		cfg.RetryAttempts = fc.RetryAttempts
	}
	if fc.ParallelRequests != 0 {
		cfg.Parallelism = fc.ParallelRequests
	}
	if fc.ViewportWidth != 0 {
		cfg.Viewport.Width = fc.ViewportWidth
	}
	if fc.ViewportHeight != 0 {
		cfg.Viewport.Height = fc.ViewportHeight
	}
	if fc.EnableStealth != nil {
		cfg.EnableStealth = *fc.EnableStealth
	}
	if fc.DownloadDocuments != nil {
		cfg.DownloadDocuments = *fc.DownloadDocuments
	}
	if fc.Headless != nil {
		cfg.Headless = *fc.Headless
	}
}

func applyEnv(cfg *Config) error {
	if v, ok := EnvString("PORTAL_EMAIL"); ok {
		cfg.Email = v
	}
	if v, ok := EnvString("PORTAL_PASSWORD"); ok {
		cfg.Password = v
	}
	if v, ok := EnvString("PORTAL_URL"); ok {
		cfg.PortalURL = v
	}
	if v, ok, err := EnvInt("SCRAPER_MAX_RESULTS"); err != nil {
		return err
	} else if ok {
		cfg.MaxResults = v
	}
	if v, ok, err := EnvInt("SCRAPER_PARALLEL"); err != nil {
		return err
	} else if ok {
		cfg.Parallelism = v
	}
	if v, ok, err := EnvFloat("SCRAPER_REQUEST_DELAY"); err != nil {
		return err
	} else if ok {
		cfg.RequestDelay = Seconds(v)
	}
	if v, ok := EnvString("SCRAPER_OUTPUT"); ok {
		cfg.OutputFile = v
	}
	if v, ok := EnvString("SCRAPER_METRICS_ADDR"); ok {
		cfg.MetricsAddr = v
	}
	if v, ok := EnvString("OTEL_EXPORTER_OTLP_ENDPOINT"); ok {
		cfg.OTLPEndpoint = v
	}
	return nil
}

// EnvString returns the trimmed value of key when it is set and non-empty.
func EnvString(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

// EnvInt parses key as an integer when set.
func EnvInt(key string) (int, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return v, true, nil
}

// EnvFloat parses key as a float when set.
func EnvFloat(key string) (float64, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return v, true, nil
}

// Seconds converts a fractional number of seconds to a Duration.
func Seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
