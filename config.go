package surgibot

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds configuration for a Board. Zero values mean "use the
// default"; DefaultConfig returns the full set.
type Config struct {
	// Workers is the number of goroutines draining the job queue.
	Workers int

	// QueueCapacity bounds the job queue. TrySubmit on a full queue
	// returns ErrQueueFull instead of blocking.
	QueueCapacity int

	// StarveAfter promotes a background job that has waited this long
	// ahead of fresh interactive jobs.
	StarveAfter time.Duration

	// Debounce is the quiet window collapsing bursts of refresh triggers
	// for one subject into a single fetch.
	Debounce time.Duration

	// RenderCoalesce is the quiet window batching row mutations into one
	// emitted Render.
	RenderCoalesce time.Duration

	// PollInterval is how often the board refreshes the schedule on its
	// own, independent of push updates.
	PollInterval time.Duration

	// RequestTimeout bounds each remote fetch.
	RequestTimeout time.Duration

	// FetchRetries and FetchBackoff shape the source client's internal
	// retry policy for transient failures.
	FetchRetries int
	FetchBackoff time.Duration

	// MinAnnounceInterval is the per-subject announcement floor.
	MinAnnounceInterval time.Duration

	// CacheCapacity and CacheTTL size the lookup cache.
	CacheCapacity int
	CacheTTL      time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration

	// SourceURL is the remote data endpoint. Empty runs the board with
	// the Nop source: fetches report ErrUnavailable and renders carry
	// the stale flag.
	SourceURL string

	// FeedURL is the push feed endpoint. Empty disables the feed; the
	// board still polls.
	FeedURL string

	// Token authenticates against the remote API and feed.
	Token string

	// AudioDir is the on-disk cache for synthesized speech. Empty
	// disables synthesis caching.
	AudioDir string
}

// DefaultConfig returns a Config with the board's stock tuning.
func DefaultConfig() Config {
	return Config{
		Workers:             4,
		QueueCapacity:       64,
		StarveAfter:         2 * time.Second,
		Debounce:            180 * time.Millisecond,
		RenderCoalesce:      150 * time.Millisecond,
		PollInterval:        2 * time.Second,
		RequestTimeout:      6 * time.Second,
		FetchRetries:        3,
		FetchBackoff:        350 * time.Millisecond,
		MinAnnounceInterval: 5 * time.Second,
		CacheCapacity:       256,
		CacheTTL:            5 * time.Minute,
		ShutdownTimeout:     30 * time.Second,
	}
}

// FromEnv returns DefaultConfig overridden by SURGIBOT_* environment
// variables. Malformed values are errors, not silent fallbacks.
func FromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("SURGIBOT_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid SURGIBOT_WORKERS: %w", err)
		}
		cfg.Workers = n
	}
	if v := os.Getenv("SURGIBOT_QUEUE_CAPACITY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid SURGIBOT_QUEUE_CAPACITY: %w", err)
		}
		cfg.QueueCapacity = n
	}
	if v := os.Getenv("SURGIBOT_DEBOUNCE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid SURGIBOT_DEBOUNCE: %w", err)
		}
		cfg.Debounce = d
	}
	if v := os.Getenv("SURGIBOT_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid SURGIBOT_POLL_INTERVAL: %w", err)
		}
		cfg.PollInterval = d
	}
	if v := os.Getenv("SURGIBOT_REQUEST_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid SURGIBOT_REQUEST_TIMEOUT: %w", err)
		}
		cfg.RequestTimeout = d
	}
	if v := os.Getenv("SURGIBOT_MIN_ANNOUNCE_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid SURGIBOT_MIN_ANNOUNCE_INTERVAL: %w", err)
		}
		cfg.MinAnnounceInterval = d
	}
	if v := os.Getenv("SURGIBOT_SOURCE_URL"); v != "" {
		cfg.SourceURL = v
	}
	if v := os.Getenv("SURGIBOT_FEED_URL"); v != "" {
		cfg.FeedURL = v
	}
	if v := os.Getenv("SURGIBOT_TOKEN"); v != "" {
		cfg.Token = v
	}
	if v := os.Getenv("SURGIBOT_AUDIO_DIR"); v != "" {
		cfg.AudioDir = v
	}

	return cfg, nil
}
