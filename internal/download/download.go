package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxRetries = 3 // retries after the first attempt, so 4 attempts total

// Request describes one file to fetch.
type Request struct {
	URL         string
	Label       string // for logging only
	DisplayName string // fallback-filename component
	Version     string // fallback-filename component

	// OnProgress, when set, receives (bytesWritten, totalExpected) as the
	// body streams to disk. totalExpected is -1 when the server does not
	// report a Content-Length.
	OnProgress func(written, total int64)
}

// Downloader fetches vendor installers to a local temp directory with
// bounded retry. Only transport-level failures are retried; HTTP status
// failures are not (policy: transport errors are transient, status codes
// are the server's answer).
type Downloader struct {
	client     *http.Client
	retryDelay time.Duration // base delay, doubled per retry
	log        *zap.Logger
}

// New creates a Downloader. logger may be nil.
func New(logger *zap.Logger) *Downloader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Downloader{
		client:     &http.Client{},
		retryDelay: time.Second,
		log:        logger,
	}
}

// SetClient overrides the HTTP client (tests, proxies).
func (d *Downloader) SetClient(c *http.Client) { d.client = c }

// SetRetryDelay overrides the base backoff delay (tests).
func (d *Downloader) SetRetryDelay(delay time.Duration) { d.retryDelay = delay }

// Download fetches req.URL into destDir and returns the final file path.
// Each attempt group gets a fresh randomly-named working subdirectory that
// never survives the call: on success the file is moved up into destDir
// under its resolved name (overwriting any stale same-named file), on
// failure the partial directory is deleted.
func (d *Downloader) Download(ctx context.Context, destDir string, req Request) (string, error) {
	parsed, err := url.ParseRequestURI(req.URL)
	if err != nil || parsed.Host == "" {
		return "", invalidURL(req.URL, err)
	}

	workDir := filepath.Join(destDir, uuid.NewString())
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return "", filesystemError("failed to create download directory", err)
	}
	defer os.RemoveAll(workDir)

	var resp *http.Response
	var lastErr error
	for attempt := 1; ; attempt++ {
		resp, lastErr = d.get(ctx, req.URL)
		if lastErr == nil {
			break
		}
		if attempt > maxRetries {
			return "", fmt.Errorf("download of %s failed after %d attempts: %w", req.URL, attempt, lastErr)
		}
		delay := d.retryDelay << (attempt - 1) // 1s, 2s, 4s
		d.log.Warn("download attempt failed, retrying",
			zap.String("label", req.Label),
			zap.String("url", req.URL),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(lastErr))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &NetworkError{StatusCode: resp.StatusCode, Message: resp.Status}
	}

	partial := filepath.Join(workDir, "download.partial")
	written, err := d.writeBody(partial, resp, req.OnProgress)
	if err != nil {
		return "", filesystemError("failed to write download", err)
	}

	// resp.Request.URL is the post-redirect URL, which is the one that
	// actually names the file for CDN-fronted vendors.
	finalURL := parsed
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL
	}
	name := resolveFilename(finalURL, resp.Header.Get("Content-Disposition"), req.DisplayName, req.Version)

	finalPath := filepath.Join(destDir, name)
	if err := os.Remove(finalPath); err != nil && !os.IsNotExist(err) {
		return "", filesystemError("failed to replace stale download", err)
	}
	if err := os.Rename(partial, finalPath); err != nil {
		return "", filesystemError("failed to move download into place", err)
	}

	d.log.Info("download complete",
		zap.String("label", req.Label),
		zap.String("filename", name),
		zap.String("size", humanize.Bytes(uint64(written))),
		zap.String("url", finalURL.String()))
	return finalPath, nil
}

// get performs one GET attempt. Any error returned here is transport-level
// and therefore retryable; status-code handling happens in the caller.
func (d *Downloader) get(ctx context.Context, rawURL string) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	return d.client.Do(httpReq)
}

// writeBody streams the response body to path, emitting progress callbacks.
func (d *Downloader) writeBody(path string, resp *http.Response, onProgress func(int64, int64)) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var w io.Writer = f
	if onProgress != nil {
		w = io.MultiWriter(f, &progressWriter{total: resp.ContentLength, report: onProgress})
	}
	return io.Copy(w, resp.Body)
}

// progressWriter counts bytes and forwards running totals to a callback.
type progressWriter struct {
	written int64
	total   int64
	report  func(written, total int64)
}

func (p *progressWriter) Write(b []byte) (int, error) {
	p.written += int64(len(b))
	p.report(p.written, p.total)
	return len(b), nil
}

// IsRetryable reports whether err would have been retried by Download.
// Exposed so callers can log the retry/no-retry classification.
func IsRetryable(err error) bool {
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return false
	}
	var dlErr *Error
	if errors.As(err, &dlErr) {
		return false
	}
	return err != nil
}
