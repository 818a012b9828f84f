package fetch

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testClient(t *testing.T) *Client {
	t.Helper()
	c := NewClient(zap.NewNop())
	// Backoff waits are recorded, not slept, to keep tests fast. The 429
	// scenario asserting real elapsed time overrides this again.
	c.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return c
}

func TestGetSendsBrowserHeaders(t *testing.T) {
	var gotUA, gotEncoding, gotDNT string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotEncoding = r.Header.Get("Accept-Encoding")
		gotDNT = r.Header.Get("DNT")
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	body, err := testClient(t).Get(context.Background(), srv.URL, Options{})
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), body)
	assert.Contains(t, gotUA, "Mozilla/5.0")
	assert.Contains(t, gotEncoding, "br")
	assert.Contains(t, gotEncoding, "zstd")
	assert.Equal(t, "1", gotDNT)
}

func TestGet406RetriesWithGenericAccept(t *testing.T) {
	var accepts []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accepts = append(accepts, r.Header.Get("Accept"))
		if r.Header.Get("Accept") != "*/*" {
			w.WriteHeader(http.StatusNotAcceptable)
			return
		}
		w.Write([]byte("feed"))
	}))
	defer srv.Close()

	body, err := testClient(t).Get(context.Background(), srv.URL, Options{})
	require.NoError(t, err)
	assert.Equal(t, []byte("feed"), body)
	require.Len(t, accepts, 2)
	assert.Equal(t, "*/*", accepts[1])
}

func TestGet429BackoffHonorsRetryAfter(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := NewClient(zap.NewNop()) // real sleeps: elapsed time is the assertion
	start := time.Now()
	body, err := c.Get(context.Background(), srv.URL, Options{})
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), body)
	assert.GreaterOrEqual(t, time.Since(start), 2*time.Second)
	assert.EqualValues(t, 3, calls.Load())
}

func TestGet429GivesUpWithinBudget(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := testClient(t).Get(context.Background(), srv.URL, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.LessOrEqual(t, calls.Load(), int32(5))

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.True(t, fe.Retryable)
	assert.Equal(t, http.StatusTooManyRequests, fe.Status)
}

func TestGetBotGated403(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := testClient(t).Get(context.Background(), srv.URL, Options{BotGated: true})
	assert.ErrorIs(t, err, ErrBotChallenged)
}

func TestGetUngated403IsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := testClient(t).Get(context.Background(), srv.URL, Options{})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrBotChallenged)
	assert.EqualValues(t, 1, calls.Load(), "permanent 4xx must not retry")

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.False(t, fe.Retryable)
}

func TestGet5xxRetriesThreeTimes(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("recovered"))
	}))
	defer srv.Close()

	body, err := testClient(t).Get(context.Background(), srv.URL, Options{})
	require.NoError(t, err)
	assert.Equal(t, []byte("recovered"), body)
	assert.EqualValues(t, 3, calls.Load())
}

func TestGet5xxExhaustsAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := testClient(t).Get(context.Background(), srv.URL, Options{})
	require.Error(t, err)
	assert.EqualValues(t, 3, calls.Load())
}

func TestGetDecompressesGzip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		gz.Write([]byte("gzip body"))
		gz.Close()
		w.Header().Set("Content-Encoding", "gzip")
		w.Write(buf.Bytes())
	}))
	defer srv.Close()

	body, err := testClient(t).Get(context.Background(), srv.URL, Options{})
	require.NoError(t, err)
	assert.Equal(t, []byte("gzip body"), body)
}

func TestGetDecompressesBrotli(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		bw := brotli.NewWriter(&buf)
		bw.Write([]byte("brotli body"))
		bw.Close()
		w.Header().Set("Content-Encoding", "br")
		w.Write(buf.Bytes())
	}))
	defer srv.Close()

	body, err := testClient(t).Get(context.Background(), srv.URL, Options{})
	require.NoError(t, err)
	assert.Equal(t, []byte("brotli body"), body)
}

func TestGetDecompressesZstd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		zw, err := zstd.NewWriter(&buf)
		require.NoError(t, err)
		zw.Write([]byte("zstd body"))
		zw.Close()
		w.Header().Set("Content-Encoding", "zstd")
		w.Write(buf.Bytes())
	}))
	defer srv.Close()

	body, err := testClient(t).Get(context.Background(), srv.URL, Options{})
	require.NoError(t, err)
	assert.Equal(t, []byte("zstd body"), body)
}

func TestGetZeroByteBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	body, err := testClient(t).Get(context.Background(), srv.URL, Options{})
	require.NoError(t, err)
	assert.Empty(t, body)
}

func TestGetCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := testClient(t).Get(ctx, srv.URL, Options{})
	assert.True(t, errors.Is(err, context.Canceled) || err != nil)
	assert.Error(t, err)
}

func TestRetryAfterParsing(t *testing.T) {
	h := http.Header{}
	assert.Equal(t, time.Duration(0), retryAfter(h))
	h.Set("Retry-After", "5")
	assert.Equal(t, 5*time.Second, retryAfter(h))
	h.Set("Retry-After", "not-a-number")
	assert.Equal(t, time.Duration(0), retryAfter(h))
}
