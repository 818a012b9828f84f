// Package fetch is the resilient HTTP layer shared by every adapter and
// the enrichment pipeline. It mimics browser request headers, decompresses
// bodies the transport did not, and applies the per-status retry policy:
// one generic-Accept retry on 406, bounded exponential backoff on 429,
// bot-challenge fallthrough on gated 403/503, three attempts on 5xx.
package fetch

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/cenkalti/backoff/v4"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
)

const (
	defaultTimeout = 30 * time.Second

	maxRateLimitAttempts = 5
	rateLimitBudget      = 30 * time.Second
	maxServerErrAttempts = 3
)

// Options tune one fetch.
type Options struct {
	// Timeout bounds each attempt; defaults to 30s.
	Timeout time.Duration

	// BotGated routes 403/503 into ErrBotChallenged instead of treating
	// them as permanent/server errors.
	BotGated bool

	// InsecureTLS skips certificate verification. Only honored for hosts
	// on the configured allow-list; every use logs a warning.
	InsecureTLS bool
}

// Client performs resilient GETs. Safe for concurrent use.
type Client struct {
	http     *http.Client
	insecure *http.Client
	log      *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error // test seam
}

// NewClient builds a client pair: one verifying TLS, one not, for the
// broken-cert allow-list.
func NewClient(log *zap.Logger) *Client {
	insecureTransport := http.DefaultTransport.(*http.Transport).Clone()
	insecureTransport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	return &Client{
		http:     &http.Client{},
		insecure: &http.Client{Transport: insecureTransport},
		log:      log,
		sleep:    sleepCtx,
	}
}

// Get fetches url, returning the decompressed body.
func (c *Client) Get(ctx context.Context, url string, opts Options) ([]byte, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.InsecureTLS {
		c.log.Warn("tls verification disabled for fetch", zap.String("url", url))
	}

	bo := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(time.Second),
		backoff.WithMultiplier(2),
		backoff.WithMaxInterval(rateLimitBudget),
		backoff.WithMaxElapsedTime(0),
		backoff.WithRandomizationFactor(0),
	)

	var (
		accept            = defaultAccept
		triedGenericOnce  bool
		rateLimitAttempts int
		serverAttempts    int
		netAttempts       int
		attempts          int
		rateLimitStart    time.Time
	)

	for {
		attempts++
		body, status, header, err := c.do(ctx, url, accept, opts)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			netAttempts++
			if netAttempts >= maxServerErrAttempts {
				return nil, &FetchError{URL: url, Attempts: attempts, Retryable: true,
					Err: fmt.Errorf("%w: %v", ErrNetwork, err)}
			}
			if err := c.sleep(ctx, bo.NextBackOff()); err != nil {
				return nil, err
			}
			continue
		}

		switch {
		case status >= 200 && status < 300:
			return body, nil

		case status == http.StatusNotAcceptable && !triedGenericOnce:
			// Some feed servers reject a browser Accept header outright.
			triedGenericOnce = true
			accept = "*/*"
			continue

		case status == http.StatusTooManyRequests:
			if rateLimitStart.IsZero() {
				rateLimitStart = time.Now()
			}
			rateLimitAttempts++
			wait := retryAfter(header)
			if wait <= 0 {
				wait = bo.NextBackOff()
			}
			if rateLimitAttempts >= maxRateLimitAttempts ||
				time.Since(rateLimitStart)+wait > rateLimitBudget {
				return nil, &FetchError{URL: url, Status: status, Attempts: attempts,
					Retryable: true, Err: ErrRateLimited}
			}
			c.log.Debug("rate limited, backing off",
				zap.String("url", url), zap.Duration("wait", wait), zap.Int("attempt", attempts))
			if err := c.sleep(ctx, wait); err != nil {
				return nil, err
			}
			continue

		case (status == http.StatusForbidden || status == http.StatusServiceUnavailable) && opts.BotGated:
			return nil, &FetchError{URL: url, Status: status, Attempts: attempts,
				Err: ErrBotChallenged}

		case status >= 500:
			serverAttempts++
			if serverAttempts >= maxServerErrAttempts {
				return nil, &FetchError{URL: url, Status: status, Attempts: attempts, Retryable: true}
			}
			if err := c.sleep(ctx, bo.NextBackOff()); err != nil {
				return nil, err
			}
			continue

		default:
			// Remaining 4xx are permanent for this tick.
			return nil, &FetchError{URL: url, Status: status, Attempts: attempts}
		}
	}
}

// do performs a single attempt and returns the decompressed body.
func (c *Client) do(ctx context.Context, url, accept string, opts Options) ([]byte, int, http.Header, error) {
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("build request: %w", err)
	}
	browserHeaders(req.Header, accept)

	client := c.http
	if opts.InsecureTLS {
		client = c.insecure
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, nil, err
	}
	defer resp.Body.Close()

	body, err := decompress(resp.Body, resp.Header.Get("Content-Encoding"))
	if err != nil {
		return nil, resp.StatusCode, resp.Header, err
	}
	return body, resp.StatusCode, resp.Header, nil
}

// decompress unwraps a body by its Content-Encoding. Setting our own
// Accept-Encoding disables the transport's automatic gzip handling, so
// every listed coding is handled here.
func decompress(r io.Reader, encoding string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return io.ReadAll(r)
	case "gzip":
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer gz.Close()
		return io.ReadAll(gz)
	case "deflate":
		fr := flate.NewReader(r)
		defer fr.Close()
		return io.ReadAll(fr)
	case "br":
		return io.ReadAll(brotli.NewReader(r))
	case "zstd":
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		defer zr.Close()
		return io.ReadAll(zr)
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", encoding)
	}
}

// retryAfter parses a Retry-After header as delay seconds or an HTTP date.
func retryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
