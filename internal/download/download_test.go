package download

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// flakyTransport fails the first n round trips at the transport level, then
// delegates to the default transport.
type flakyTransport struct {
	failures  int
	attempted int
}

func (f *flakyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	f.attempted++
	if f.attempted <= f.failures {
		return nil, fmt.Errorf("connection reset (attempt %d)", f.attempted)
	}
	return http.DefaultTransport.RoundTrip(req)
}

func newTestDownloader(rt http.RoundTripper) *Downloader {
	d := New(nil)
	d.SetClient(&http.Client{Transport: rt})
	d.SetRetryDelay(time.Millisecond)
	return d
}

func TestDownloadSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("installer-bytes"))
	}))
	defer srv.Close()

	dest := t.TempDir()
	d := newTestDownloader(http.DefaultTransport)
	got, err := d.Download(context.Background(), dest, Request{URL: srv.URL + "/Firefox.dmg", Label: "firefox"})
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if filepath.Base(got) != "Firefox.dmg" {
		t.Errorf("filename = %q, want Firefox.dmg", filepath.Base(got))
	}
	data, err := os.ReadFile(got)
	if err != nil || string(data) != "installer-bytes" {
		t.Errorf("downloaded content wrong: %q, %v", data, err)
	}
}

func TestDownloadRetriesTransportErrorsThenSucceeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	rt := &flakyTransport{failures: 2}
	d := newTestDownloader(rt)
	got, err := d.Download(context.Background(), t.TempDir(), Request{URL: srv.URL + "/app.zip"})
	if err != nil {
		t.Fatalf("Download failed after transient errors: %v", err)
	}
	if filepath.Base(got) != "app.zip" {
		t.Errorf("filename = %q", filepath.Base(got))
	}
	if rt.attempted != 3 {
		t.Errorf("expected 3 attempts, got %d", rt.attempted)
	}
}

func TestDownloadExhaustsRetriesAndLeavesNoTempDir(t *testing.T) {
	rt := &flakyTransport{failures: 100}
	d := newTestDownloader(rt)
	dest := t.TempDir()

	_, err := d.Download(context.Background(), dest, Request{URL: "http://127.0.0.1:9/app.zip"})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if rt.attempted != 4 {
		t.Errorf("expected 4 attempts (1 + 3 retries), got %d", rt.attempted)
	}

	entries, readErr := os.ReadDir(dest)
	if readErr != nil {
		t.Fatalf("read dest: %v", readErr)
	}
	if len(entries) != 0 {
		t.Errorf("expected no residual temp directories, found %d entries", len(entries))
	}
}

func TestDownloadHTTPStatusNotRetried(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		http.NotFound(w, r)
	}))
	defer srv.Close()

	d := newTestDownloader(http.DefaultTransport)
	_, err := d.Download(context.Background(), t.TempDir(), Request{URL: srv.URL + "/gone.dmg"})

	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("expected NetworkError, got %v", err)
	}
	if netErr.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d", netErr.StatusCode)
	}
	if requests != 1 {
		t.Errorf("404 should not be retried, server saw %d requests", requests)
	}
	if IsRetryable(err) {
		t.Error("HTTP status error must classify as non-retryable")
	}
}

func TestDownloadInvalidURL(t *testing.T) {
	d := New(nil)
	_, err := d.Download(context.Background(), t.TempDir(), Request{URL: "not a url"})
	var dlErr *Error
	if !errors.As(err, &dlErr) || dlErr.Code != CodeInvalidURL {
		t.Fatalf("expected invalid-URL error, got %v", err)
	}
}

func TestDownloadOverwritesStaleFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("fresh"))
	}))
	defer srv.Close()

	dest := t.TempDir()
	if err := os.WriteFile(filepath.Join(dest, "app.pkg"), []byte("stale"), 0644); err != nil {
		t.Fatalf("seed stale file: %v", err)
	}

	d := newTestDownloader(http.DefaultTransport)
	got, err := d.Download(context.Background(), dest, Request{URL: srv.URL + "/app.pkg"})
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	data, _ := os.ReadFile(got)
	if string(data) != "fresh" {
		t.Errorf("stale file not overwritten: %q", data)
	}
}

func TestDownloadProgressCallback(t *testing.T) {
	payload := make([]byte, 64*1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", fmt.Sprint(len(payload)))
		w.Write(payload)
	}))
	defer srv.Close()

	var lastWritten, lastTotal int64
	d := newTestDownloader(http.DefaultTransport)
	_, err := d.Download(context.Background(), t.TempDir(), Request{
		URL: srv.URL + "/big.dmg",
		OnProgress: func(written, total int64) {
			lastWritten, lastTotal = written, total
		},
	})
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if lastWritten != int64(len(payload)) {
		t.Errorf("final written = %d, want %d", lastWritten, len(payload))
	}
	if lastTotal != int64(len(payload)) {
		t.Errorf("total = %d, want %d", lastTotal, len(payload))
	}
}

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return u
}

func TestResolveFilenameFallbackChain(t *testing.T) {
	tests := []struct {
		name        string
		url         string
		disposition string
		want        string
	}{
		{
			name: "url filename wins",
			url:  "https://cdn.example.com/downloads/Firefox%20128.0.dmg",
			want: "Firefox 128.0.dmg",
		},
		{
			name:        "url filename beats disposition",
			url:         "https://cdn.example.com/App.pkg",
			disposition: `attachment; filename="other.pkg"`,
			want:        "App.pkg",
		},
		{
			name:        "disposition quoted",
			url:         "https://example.com/download/",
			disposition: `attachment; filename="foo.pkg"`,
			want:        "foo.pkg",
		},
		{
			name:        "disposition bare",
			url:         "https://example.com/download/",
			disposition: `attachment; filename=bar.dmg`,
			want:        "bar.dmg",
		},
		{
			name:        "disposition extended form",
			url:         "https://example.com/download/",
			disposition: `attachment; filename*=UTF-8''My%20App.pkg`,
			want:        "My App.pkg",
		},
		{
			name: "constructed fallback default dmg",
			url:  "https://example.com/download/latest",
			want: "Tool_1.2.dmg",
		},
		{
			name: "constructed fallback bare host",
			url:  "https://example.com",
			want: "Tool_1.2.dmg",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolveFilename(mustParse(t, tt.url), tt.disposition, "Tool", "1.2")
			if got != tt.want {
				t.Errorf("resolveFilename = %q, want %q", got, tt.want)
			}
		})
	}
}
