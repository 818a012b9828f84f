// Package browser provides the page-rendering capability behind a fixed
// concurrency cap. SPA and Medium-family adapters depend on it; everything
// else degrades gracefully when the pool is absent.
package browser

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Pool owns one headless browser and bounds concurrent renders with a
// semaphore. Borrowers wait on their context; a cancelled borrow never
// opens a page.
type Pool struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	sem      *semaphore.Weighted
	timeout  time.Duration
	log      *zap.Logger
}

// NewPool launches a headless browser and returns a pool allowing
// maxConcurrent simultaneous renders.
func NewPool(maxConcurrent int, renderTimeout time.Duration, log *zap.Logger) (*Pool, error) {
	if maxConcurrent <= 0 {
		maxConcurrent = 3
	}
	if renderTimeout <= 0 {
		renderTimeout = 45 * time.Second
	}

	l := launcher.New().
		Headless(true).
		Set("disable-blink-features", "AutomationControlled").
		Set("disable-gpu")
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Cleanup()
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	log.Info("browser pool ready", zap.Int("max_concurrent", maxConcurrent))
	return &Pool{
		browser:  b,
		launcher: l,
		sem:      semaphore.NewWeighted(int64(maxConcurrent)),
		timeout:  renderTimeout,
		log:      log,
	}, nil
}

// Render navigates a fresh page to url, waits for load, and returns the
// rendered HTML with the document response status and headers.
func (p *Pool) Render(ctx context.Context, url string) ([]byte, int, http.Header, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, 0, nil, fmt.Errorf("borrow browser: %w", err)
	}
	defer p.sem.Release(1)

	renderID := uuid.NewString()
	start := time.Now()
	p.log.Debug("render start", zap.String("render_id", renderID), zap.String("url", url))

	page, err := p.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, 0, nil, fmt.Errorf("open page: %w", err)
	}
	defer page.Close()
	page = page.Context(ctx).Timeout(p.timeout)

	var docResp proto.NetworkResponseReceived
	waitResp := page.WaitEvent(&docResp)

	if err := page.Navigate(url); err != nil {
		return nil, 0, nil, fmt.Errorf("navigate %s: %w", url, err)
	}
	waitResp()
	if err := page.WaitLoad(); err != nil {
		return nil, 0, nil, fmt.Errorf("wait load %s: %w", url, err)
	}

	html, err := page.HTML()
	if err != nil {
		return nil, 0, nil, fmt.Errorf("read html %s: %w", url, err)
	}

	status := http.StatusOK
	headers := http.Header{}
	if docResp.Response != nil {
		status = docResp.Response.Status
		for k, v := range docResp.Response.Headers {
			headers.Set(k, fmt.Sprint(v))
		}
	}

	p.log.Debug("render done",
		zap.String("render_id", renderID),
		zap.Int("status", status),
		zap.Duration("elapsed", time.Since(start)))
	return []byte(html), status, headers, nil
}

// Close shuts the browser down and reaps the launched process.
func (p *Pool) Close() error {
	err := p.browser.Close()
	p.launcher.Cleanup()
	return err
}
