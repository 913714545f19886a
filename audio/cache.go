package audio

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sync/singleflight"
)

var _ Synthesizer = (*Cache)(nil)

// Cache memoizes an Engine on disk. Files are keyed by SHA-256 over
// "lang:text", so the same line is synthesized once and replayed from
// disk forever after. Concurrent misses for the same line share one
// render; files land via rename so a crash never leaves a partial file
// under a cache key.
type Cache struct {
	dir    string
	engine Engine
	logger *slog.Logger
	group  singleflight.Group
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithCacheLogger sets the logger used for cache diagnostics.
func WithCacheLogger(logger *slog.Logger) CacheOption {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCache creates the cache directory if needed and returns a cache
// delegating misses to engine.
func NewCache(dir string, engine Engine, opts ...CacheOption) (*Cache, error) {
	if engine == nil {
		return nil, errors.New("audio: cache requires an engine")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("audio: create cache dir: %w", err)
	}
	c := &Cache{
		dir:    dir,
		engine: engine,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Cache) Synthesize(ctx context.Context, text, lang string) (string, error) {
	if text == "" {
		return "", errors.New("audio: empty text")
	}
	path := c.Path(text, lang)
	if fileExists(path) {
		return path, nil
	}

	_, err, _ := c.group.Do(path, func() (any, error) {
		if fileExists(path) {
			return nil, nil
		}
		tmp := path + ".tmp"
		if err := c.engine.Render(ctx, text, lang, tmp); err != nil {
			_ = os.Remove(tmp)
			return nil, fmt.Errorf("audio: synthesize %s: %w", lang, err)
		}
		if err := os.Rename(tmp, path); err != nil {
			return nil, fmt.Errorf("audio: cache store: %w", err)
		}
		c.logger.Debug("audio: line synthesized", "lang", lang, "path", filepath.Base(path))
		return nil, nil
	})
	if err != nil {
		return "", err
	}
	return path, nil
}

// Path returns the cache file a line maps to, whether or not it exists.
func (c *Cache) Path(text, lang string) string {
	digest := sha256.Sum256([]byte(lang + ":" + text))
	return filepath.Join(c.dir, hex.EncodeToString(digest[:])+".mp3")
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
