package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"fetchrace/internal/race"
)

// ErrTooLarge is returned when a response body exceeds HTTPOptions.MaxBytes.
var ErrTooLarge = errors.New("fetch: artifact exceeds size limit")

// HTTPOptions configures the HTTP mirror fetcher.
type HTTPOptions struct {
	// Client defaults to a client with a tuned transport and no overall timeout;
	// per-fetch deadlines come from the context (see WithTimeout).
	Client *http.Client

	// RatePerSec bounds requests per host across all attempts and retries.
	// Zero disables limiting.
	RatePerSec float64
	Burst      int

	UserAgent string

	// MaxBytes caps the body size. Zero means unlimited.
	MaxBytes int64
}

// HTTP fetches <source>/<artifact> with GET. Sources are http(s) base URLs.
type HTTP struct {
	artifact string
	client   *http.Client
	opts     HTTPOptions

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewHTTP(artifact string, opts HTTPOptions) *HTTP {
	client := opts.Client
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	return &HTTP{
		artifact: artifactKey(artifact),
		client:   client,
		opts:     opts,
		limiters: map[string]*rate.Limiter{},
	}
}

func (h *HTTP) limiter(host string) *rate.Limiter {
	if h.opts.RatePerSec <= 0 {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(h.opts.RatePerSec), h.opts.Burst)
		h.limiters[host] = l
	}
	return l
}

// URL returns the request URL for a source.
func (h *HTTP) URL(src race.SourceID) (string, error) {
	u, err := url.Parse(strings.TrimSpace(string(src)))
	if err != nil {
		return "", fmt.Errorf("%w %q: %v", ErrBadSource, src, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w %q: want http or https", ErrBadSource, src)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w %q: missing host", ErrBadSource, src)
	}
	return u.JoinPath(h.artifact).String(), nil
}

func (h *HTTP) Fetch(ctx context.Context, src race.SourceID) (race.Artifact, error) {
	target, err := h.URL(src)
	if err != nil {
		return race.Artifact{}, race.NewFetchError(src, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return race.Artifact{}, race.NewFetchError(src, fmt.Errorf("create request: %w", err))
	}
	if h.opts.UserAgent != "" {
		req.Header.Set("User-Agent", h.opts.UserAgent)
	}

	if l := h.limiter(req.URL.Host); l != nil {
		if err := l.Wait(ctx); err != nil {
			return race.Artifact{}, race.NewFetchError(src, fmt.Errorf("rate limit: %w", err))
		}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return race.Artifact{}, race.NewFetchError(src, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return race.Artifact{}, race.NewFetchError(src, err)
	}

	var body io.Reader = resp.Body
	if h.opts.MaxBytes > 0 {
		body = io.LimitReader(resp.Body, h.opts.MaxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return race.Artifact{}, race.NewFetchError(src, fmt.Errorf("read body: %w", err))
	}
	if h.opts.MaxBytes > 0 && int64(len(data)) > h.opts.MaxBytes {
		return race.Artifact{}, race.NewFetchError(src, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, h.opts.MaxBytes))
	}

	meta := map[string]string{"url": target}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		meta["content_type"] = ct
	}
	if etag := resp.Header.Get("ETag"); etag != "" {
		meta["etag"] = etag
	}
	return race.Artifact{Source: src, Name: h.artifact, Data: data, Meta: meta}, nil
}

func checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return fmt.Errorf("%w: %s", ErrNotFound, resp.Status)
	default:
		return fmt.Errorf("http status %s", resp.Status)
	}
}
