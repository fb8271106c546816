package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// MediaDownloader saves media attached to inbound messages under dir,
// named after the last segment of the media URL. It implements domain.MediaStore.
type MediaDownloader struct {
	dir      string
	maxBytes int64
	client   *http.Client
	logger   *slog.Logger
}

type MediaConfig struct {
	Dir      string
	MaxBytes int64
	Logger   *slog.Logger
	Client   *http.Client
}

func NewMediaDownloader(cfg MediaConfig) *MediaDownloader {
	if cfg.Dir == "" {
		cfg.Dir = "media"
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 25 << 20
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 60 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &MediaDownloader{dir: cfg.Dir, maxBytes: cfg.MaxBytes, client: cfg.Client, logger: cfg.Logger}
}

var errMediaTooLarge = errors.New("media exceeds size limit")

const mediaMaxAttempts = 3

var mediaRetryDelay = 500 * time.Millisecond

// Save downloads rawURL and returns the local path.
func (m *MediaDownloader) Save(ctx context.Context, rawURL string) (string, error) {
	name, err := mediaFileName(rawURL)
	if err != nil {
		return "", err
	}

	resp, err := m.fetch(ctx, rawURL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download media: status %d", resp.StatusCode)
	}
	if resp.ContentLength > m.maxBytes {
		return "", fmt.Errorf("%w: %d bytes", errMediaTooLarge, resp.ContentLength)
	}

	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return "", fmt.Errorf("create media dir: %w", err)
	}
	dest := filepath.Join(m.dir, name)
	f, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("create media file: %w", err)
	}

	n, err := io.Copy(f, io.LimitReader(resp.Body, m.maxBytes+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > m.maxBytes {
		err = errMediaTooLarge
	}
	if err != nil {
		os.Remove(dest)
		return "", fmt.Errorf("save media %s: %w", name, err)
	}

	m.logger.Info("saving file", "file", dest, "bytes", n)
	return dest, nil
}

// fetch GETs rawURL, retrying transport errors, 5xx and 429 with
// exponential backoff. Other statuses are returned to the caller as is.
func (m *MediaDownloader) fetch(ctx context.Context, rawURL string) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt < mediaMaxAttempts; attempt++ {
		if attempt > 0 {
			delay := mediaRetryDelay * time.Duration(1<<(attempt-1))
			m.logger.Warn("retrying media download", "url", rawURL, "attempt", attempt+1, "delay", delay, "err", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, fmt.Errorf("new request: %w", err)
		}
		resp, err := m.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			continue
		}
		return resp, nil
	}
	return nil, fmt.Errorf("download media after %d attempts: %w", mediaMaxAttempts, lastErr)
}

// mediaFileName returns the last path segment of rawURL, rejecting names
// that would escape the media directory.
func mediaFileName(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse media url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported media url scheme %q", u.Scheme)
	}
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("media url %q has no file name", rawURL)
	}
	return name, nil
}
