package scraper

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aluiziolira/go-scrape-units/browser"
)

// Diagnostics saves page screenshots when a stage fails. A nil
// *Diagnostics or an empty Dir disables capture.
type Diagnostics struct {
	Dir       string
	SessionID string
	now       func() time.Time
}

// NewDiagnostics returns a capturer writing under dir.
func NewDiagnostics(dir, sessionID string) *Diagnostics {
	return &Diagnostics{Dir: dir, SessionID: sessionID, now: time.Now}
}

// Capture writes a PNG of the current page and returns its path.
func (d *Diagnostics) Capture(ctx context.Context, sess browser.Session, label string) (string, error) {
	if d == nil || d.Dir == "" {
		return "", nil
	}
	png, err := sess.Screenshot(ctx)
	if err != nil {
		return "", fmt.Errorf("capture screenshot: %w", err)
	}
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create screenshot dir: %w", err)
	}
	name := fmt.Sprintf("%s-%s-%s.png", label, d.SessionID, d.now().UTC().Format("20060102T150405"))
	path := filepath.Join(d.Dir, name)
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return "", fmt.Errorf("write screenshot: %w", err)
	}
	return path, nil
}
