package capability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const fetchRetries = 3

// Download is a remote file saved locally.
type Download struct {
	Path     string
	FileName string
	MimeType string
	Size     int64
}

// Fetcher downloads URL sources into a local directory.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
	interval time.Duration // initial retry wait
	logger   *slog.Logger
}

// NewFetcher creates a fetcher. maxBytes <= 0 disables the size limit.
func NewFetcher(client *http.Client, maxBytes int64, logger *slog.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Minute}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{client: client, maxBytes: maxBytes, interval: time.Second, logger: logger.With("component", "fetcher")}
}

type retryableStatus struct {
	code int
}

func (e *retryableStatus) Error() string { return fmt.Sprintf("HTTP %d", e.code) }

// Fetch downloads rawURL into dir. Network errors, 5xx and 429 responses
// are retried with exponential backoff; anything else fails immediately.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, dir string) (*Download, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("fetch: invalid url %q", rawURL)
	}

	attempt := 1
	op := func() (*Download, error) {
		d, err := f.fetchOnce(ctx, u, dir)
		if err != nil && (ctx.Err() != nil || !isTransient(err)) {
			return nil, backoff.Permanent(err)
		}
		return d, err
	}
	notify := func(err error, wait time.Duration) {
		attempt++
		f.logger.Warn("retrying download", "url", rawURL, "attempt", attempt, "backoff", wait, "error", err)
	}

	policy := backoff.NewExponentialBackOff(backoff.WithInitialInterval(f.interval))
	d, err := backoff.RetryNotifyWithData(op,
		backoff.WithContext(backoff.WithMaxRetries(policy, fetchRetries), ctx), notify)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return nil, fmt.Errorf("fetch %s: %w", rawURL, cerr)
		}
		if isTransient(err) {
			return nil, fmt.Errorf("fetch %s: giving up after %d retries: %w", rawURL, fetchRetries, err)
		}
		return nil, err
	}
	return d, nil
}

func (f *Fetcher) fetchOnce(ctx context.Context, u *url.URL, dir string) (*Download, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &netError{err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, &retryableStatus{code: resp.StatusCode}
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("fetch %s: HTTP %d", u, resp.StatusCode)
	}
	if f.maxBytes > 0 && resp.ContentLength > f.maxBytes {
		return nil, fmt.Errorf("fetch %s: %d bytes exceeds limit of %d", u, resp.ContentLength, f.maxBytes)
	}

	name := downloadName(resp.Header.Get("Content-Disposition"), u)
	mimeType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	dest := filepath.Join(dir, name)

	out, err := os.Create(dest)
	if err != nil {
		return nil, fmt.Errorf("create download: %w", err)
	}
	var body io.Reader = resp.Body
	if f.maxBytes > 0 {
		body = io.LimitReader(resp.Body, f.maxBytes+1)
	}
	n, err := io.Copy(out, body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err == nil && f.maxBytes > 0 && n > f.maxBytes {
		err = fmt.Errorf("fetch %s: body exceeds limit of %d bytes", u, f.maxBytes)
	}
	if err != nil {
		os.Remove(dest)
		return nil, fmt.Errorf("download %s: %w", u, err)
	}

	f.logger.Debug("downloaded", "url", u.String(), "path", dest, "bytes", n)
	return &Download{Path: dest, FileName: name, MimeType: mimeType, Size: n}, nil
}

type netError struct{ err error }

func (e *netError) Error() string { return e.err.Error() }
func (e *netError) Unwrap() error { return e.err }

func isTransient(err error) bool {
	var ne *netError
	var rs *retryableStatus
	return errors.As(err, &ne) || errors.As(err, &rs)
}

// downloadName prefers the Content-Disposition filename, then the last URL
// path element. The result is always a bare file name.
func downloadName(disposition string, u *url.URL) string {
	if _, params, err := mime.ParseMediaType(disposition); err == nil {
		if name := safeName(params["filename"]); name != "" {
			return name
		}
	}
	if name := safeName(path.Base(u.Path)); name != "" {
		return name
	}
	return "download"
}

func safeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	return name
}
