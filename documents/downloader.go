// Package documents downloads the brochures and floor plans linked from
// extracted unit rows, reusing the browser session's cookies.
package documents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"sync"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/gocolly/colly/v2"

	"github.com/aluiziolira/go-scrape-units/models"
)

const maxDocumentSize = 64 << 20

// Options configures a Downloader.
type Options struct {
	Dir             string
	UserAgent       string
	Timeout         time.Duration
	Parallelism     int
	Delay           time.Duration
	MaxRetries      int
	RetryBackoff    time.Duration
	RetryBackoffMax time.Duration
	// Bypass wraps the transport with Cloudflare browser fingerprinting.
	Bypass bool
	// Transport overrides the HTTP transport. Bypass is not applied to it.
	Transport http.RoundTripper
	Logger    *slog.Logger
}

// DefaultOptions returns conservative download settings.
func DefaultOptions(dir string) Options {
	return Options{
		Dir:             dir,
		Timeout:         60 * time.Second,
		Parallelism:     2,
		MaxRetries:      2,
		RetryBackoff:    500 * time.Millisecond,
		RetryBackoffMax: 5 * time.Second,
	}
}

// Downloader fetches unit documents with colly.
type Downloader struct {
	opts Options
}

// NewDownloader returns a downloader saving into opts.Dir.
func NewDownloader(opts Options) *Downloader {
	if opts.Parallelism <= 0 {
		opts.Parallelism = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Downloader{opts: opts}
}

type job struct {
	url string
	key string
}

// Fetch downloads the distinct document links of records. cookies are
// attached to every request. It returns the saved paths, sorted, along
// with a joined error for the links that could not be fetched.
func (d *Downloader) Fetch(ctx context.Context, records []models.PropertyRecord, cookies []*http.Cookie) ([]string, error) {
	jobs := collectJobs(records)
	if len(jobs) == 0 {
		return nil, nil
	}
	if err := os.MkdirAll(d.opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create documents dir %q: %w", d.opts.Dir, err)
	}

	c, err := d.newCollector()
	if err != nil {
		return nil, err
	}

	var (
		mu     sync.Mutex
		saved  []string
		failed []error
	)

	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
		}
	})

	c.OnResponse(func(r *colly.Response) {
		key, _ := r.Ctx.GetAny("key").(string)
		target := filepath.Join(d.opts.Dir, fileName(key, r.Request.URL))
		if err := r.Save(target); err != nil {
			mu.Lock()
			failed = append(failed, fmt.Errorf("save %s: %w", target, err))
			mu.Unlock()
			return
		}
		d.opts.Logger.Debug("document saved", slog.String("unit", key), slog.String("path", target))
		mu.Lock()
		saved = append(saved, target)
		mu.Unlock()
	})

	c.OnError(func(r *colly.Response, err error) {
		fe := classify(r.Request.URL.String(), err, r.StatusCode)

		attempt, _ := r.Ctx.GetAny("attempt").(int)
		if fe.Retryable() && attempt < d.opts.MaxRetries && ctx.Err() == nil {
			r.Ctx.Put("attempt", attempt+1)
			delay := d.backoff(attempt + 1)
			d.opts.Logger.Debug("retrying document",
				slog.String("url", fe.URL),
				slog.String("kind", fe.Kind),
				slog.Duration("delay", delay),
			)
			if sleep(ctx, delay) == nil {
				if retryErr := r.Request.Retry(); retryErr == nil {
					return
				}
			}
		}

		d.opts.Logger.Warn("document download failed", slog.String("url", fe.URL), slog.String("kind", fe.Kind), slog.Any("error", err))
		mu.Lock()
		failed = append(failed, fe)
		mu.Unlock()
	})

	for _, host := range cookieTargets(jobs) {
		if err := c.SetCookies(host, cookies); err != nil {
			return nil, fmt.Errorf("set cookies for %s: %w", host, err)
		}
	}

	for _, j := range jobs {
		reqCtx := colly.NewContext()
		reqCtx.Put("key", j.key)
		reqCtx.Put("attempt", 0)
		if err := c.Request(http.MethodGet, j.url, nil, reqCtx, nil); err != nil {
			mu.Lock()
			failed = append(failed, classify(j.url, err, 0))
			mu.Unlock()
		}
	}
	c.Wait()

	sort.Strings(saved)
	if err := ctx.Err(); err != nil {
		failed = append(failed, err)
	}
	return saved, errors.Join(failed...)
}

func (d *Downloader) newCollector() (*colly.Collector, error) {
	opts := []colly.CollectorOption{colly.Async(true), colly.AllowURLRevisit(), colly.MaxBodySize(maxDocumentSize)}
	if d.opts.UserAgent != "" {
		opts = append(opts, colly.UserAgent(d.opts.UserAgent))
	}
	c := colly.NewCollector(opts...)
	if d.opts.Timeout > 0 {
		c.SetRequestTimeout(d.opts.Timeout)
	}
	c.WithTransport(d.transport())

	if err := c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: d.opts.Parallelism,
		Delay:       d.opts.Delay,
	}); err != nil {
		return nil, fmt.Errorf("configure document rate limits: %w", err)
	}
	return c, nil
}

func (d *Downloader) transport() http.RoundTripper {
	if d.opts.Transport != nil {
		return d.opts.Transport
	}
	var rt http.RoundTripper = &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	if d.opts.Bypass {
		rt = cloudflarebp.AddCloudFlareByPass(rt)
	}
	return rt
}

func (d *Downloader) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	base := d.opts.RetryBackoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	delay := base * time.Duration(1<<(attempt-1))
	if max := d.opts.RetryBackoffMax; max > 0 && delay > max {
		delay = max
	}
	return delay
}

func collectJobs(records []models.PropertyRecord) []job {
	seen := make(map[string]struct{}, len(records))
	var jobs []job
	for i := range records {
		link := records[i].DocumentURL
		if link == "" {
			continue
		}
		if _, ok := seen[link]; ok {
			continue
		}
		seen[link] = struct{}{}
		jobs = append(jobs, job{url: link, key: records[i].Key()})
	}
	return jobs
}

// cookieTargets returns one origin URL per host so the collector jar
// scopes the browser cookies to every document host.
func cookieTargets(jobs []job) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, j := range jobs {
		u, err := url.Parse(j.url)
		if err != nil || u.Host == "" {
			continue
		}
		origin := u.Scheme + "://" + u.Host + "/"
		if _, ok := seen[origin]; ok {
			continue
		}
		seen[origin] = struct{}{}
		out = append(out, origin)
	}
	return out
}

func fileName(key string, u *url.URL) string {
	base := path.Base(u.Path)
	if base == "." || base == "/" {
		base = "document"
	}
	if key == "" {
		return colly.SanitizeFileName(base)
	}
	return colly.SanitizeFileName(key + "_" + base)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
