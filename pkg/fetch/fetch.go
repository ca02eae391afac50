// Package fetch implements the freshness gate in front of the dump
// mirrors: a source file is downloaded only when the remote copy is newer
// than the local cache, and the client fails over to the fallback archive
// when the primary mirror is unreachable.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/eyeonus/EDDBlink/pkg/apperrors"
	"github.com/eyeonus/EDDBlink/pkg/config"
)

// Source identifies one downloadable dump file.
type Source struct {
	// Name is the file name on the mirror and in the local cache.
	Name string

	// URL overrides mirror resolution entirely. Used for the coriolis
	// ship index, which is not hosted on the dump mirrors.
	URL string

	// NoMetadata marks sources that publish no usable Last-Modified
	// header. They are always considered stale and re-fetched.
	NoMetadata bool

	// PrimaryOnly marks files the fallback archive does not publish
	// (the live listings feed).
	PrimaryOnly bool
}

// Client talks to the dump mirrors. Fallback escalation is one way: once
// the primary mirror fails, the rest of the run stays on the archive.
type Client struct {
	http        *http.Client
	baseURL     string
	fallbackURL string
	dataDir     string
	logger      *zap.Logger
	fallback    bool

	// retry tuning, shortened by tests
	retryInterval time.Duration
	maxRetries    uint64
}

// NewClient builds a mirror client that caches downloads under dataDir.
func NewClient(cfg config.SourceConfig, dataDir string, logger *zap.Logger) *Client {
	return &Client{
		http:          &http.Client{Timeout: cfg.Timeout},
		baseURL:       cfg.BaseURL,
		fallbackURL:   cfg.FallbackURL,
		dataDir:       dataDir,
		logger:        logger.Named("fetch"),
		retryInterval: 500 * time.Millisecond,
		maxRetries:    4,
	}
}

// UseFallback starts the client on the fallback archive, as if the
// primary had already failed.
func (c *Client) UseFallback() {
	c.fallback = true
}

// OnFallback reports whether the client has escalated to the fallback
// archive.
func (c *Client) OnFallback() bool {
	return c.fallback
}

// Path returns where a source is cached locally.
func (c *Client) Path(src Source) string {
	return filepath.Join(c.dataDir, src.Name)
}

// Refresh downloads src if the remote copy is newer than the local cache,
// if no local copy exists, or if force is set. It reports whether a new
// copy was downloaded. A (false, nil) return means the local copy is
// already current, or the file is unavailable in a way the run should
// simply note and move past (live listings while on the fallback).
func (c *Client) Refresh(ctx context.Context, src Source, force bool) (bool, error) {
	path := c.Path(src)

	// No freshness metadata means no gate: every run downloads anew.
	if src.NoMetadata {
		if err := c.fetch(ctx, src, path); err != nil {
			return false, err
		}
		return true, nil
	}

	if c.fallback && src.PrimaryOnly {
		c.logger.Info("fallback archive does not publish file, skipping",
			zap.String("file", src.Name))
		return false, nil
	}

	remote, err := c.probe(ctx, src)
	if err != nil {
		// The probe may have escalated mid-flight.
		if c.fallback && src.PrimaryOnly {
			c.logger.Info("fallback archive does not publish file, skipping",
				zap.String("file", src.Name))
			return false, nil
		}
		return false, err
	}

	if !force {
		if fi, err := os.Stat(path); err == nil && !fi.ModTime().Before(remote) {
			c.logger.Debug("local copy is current",
				zap.String("file", src.Name),
				zap.Time("published", remote))
			return false, nil
		}
	}

	if err := c.fetch(ctx, src, path); err != nil {
		return false, err
	}

	// Stamp the cache with the published timestamp so the next run
	// compares against what the mirror said, not when we downloaded.
	if err := os.Chtimes(path, remote, remote); err != nil {
		return false, fmt.Errorf("failed to stamp %s: %w", src.Name, err)
	}

	return true, nil
}

// resolve returns the URL for src on the current mirror.
func (c *Client) resolve(src Source) string {
	if src.URL != "" {
		return src.URL
	}
	if c.fallback {
		return c.fallbackURL + src.Name
	}
	return c.baseURL + src.Name
}

// probe asks the current mirror for the file's published timestamp,
// escalating to the fallback archive if the primary cannot be reached.
func (c *Client) probe(ctx context.Context, src Source) (time.Time, error) {
	remote, err := c.head(ctx, c.resolve(src))
	if err == nil {
		return remote, nil
	}
	if c.fallback || src.URL != "" {
		return time.Time{}, fmt.Errorf("%w: %s: %v", apperrors.ErrSourceUnavailable, src.Name, err)
	}

	c.logger.Warn("primary mirror unreachable, switching to fallback archive",
		zap.String("file", src.Name),
		zap.Error(err))
	c.fallback = true

	if src.PrimaryOnly {
		return time.Time{}, fmt.Errorf("%w: %s is not published by the fallback archive",
			apperrors.ErrSourceUnavailable, src.Name)
	}

	remote, err = c.head(ctx, c.resolve(src))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s: %v", apperrors.ErrSourceUnavailable, src.Name, err)
	}
	return remote, nil
}

// head fetches the Last-Modified timestamp for a URL, retrying transient
// failures with bounded exponential backoff.
func (c *Client) head(ctx context.Context, url string) (time.Time, error) {
	var remote time.Time

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("mirror returned %s", resp.Status)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("mirror returned %s", resp.Status))
		}

		lastModified := resp.Header.Get("Last-Modified")
		if lastModified == "" {
			return backoff.Permanent(fmt.Errorf("no Last-Modified header"))
		}
		t, err := http.ParseTime(lastModified)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to parse Last-Modified %q: %w", lastModified, err))
		}
		remote = t
		return nil
	}

	notify := func(err error, wait time.Duration) {
		c.logger.Debug("retrying probe",
			zap.String("url", url),
			zap.Duration("wait", wait),
			zap.Error(err))
	}

	if err := backoff.RetryNotify(operation, c.policy(ctx), notify); err != nil {
		return time.Time{}, err
	}
	return remote, nil
}

// fetch downloads src to path via a temp file, retrying transient
// failures. The local file appears atomically.
func (c *Client) fetch(ctx context.Context, src Source, path string) error {
	url := c.resolve(src)
	c.logger.Info("downloading", zap.String("url", url))

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("mirror returned %s", resp.Status)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("mirror returned %s", resp.Status))
		}

		tmp, err := os.CreateTemp(filepath.Dir(path), src.Name+".tmp")
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create temp file: %w", err))
		}

		written, err := io.Copy(tmp, resp.Body)
		if cerr := tmp.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(tmp.Name())
			return err // usually the connection dying mid-body; retry
		}
		if err := os.Rename(tmp.Name(), path); err != nil {
			os.Remove(tmp.Name())
			return backoff.Permanent(fmt.Errorf("failed to move download into place: %w", err))
		}

		c.logger.Info("downloaded",
			zap.String("file", src.Name),
			zap.Int64("bytes", written))
		return nil
	}

	notify := func(err error, wait time.Duration) {
		c.logger.Debug("retrying download",
			zap.String("url", url),
			zap.Duration("wait", wait),
			zap.Error(err))
	}

	if err := backoff.RetryNotify(operation, c.policy(ctx), notify); err != nil {
		return fmt.Errorf("failed to download %s: %w", src.Name, err)
	}
	return nil
}

func (c *Client) policy(ctx context.Context) backoff.BackOffContext {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryInterval
	return backoff.WithContext(backoff.WithMaxRetries(bo, c.maxRetries), ctx)
}
