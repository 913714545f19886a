package surgibot

import (
	"log/slog"

	"github.com/opdacuont2563-hash/surgibot/audio"
	"github.com/opdacuont2563-hash/surgibot/cache"
	"github.com/opdacuont2563-hash/surgibot/middleware"
	"github.com/opdacuont2563-hash/surgibot/source"
	"github.com/opdacuont2563-hash/surgibot/store"
)

// Option configures a Board.
type Option func(*Board) error

// WithConfig replaces the whole configuration. Apply it before options
// that override individual fields.
func WithConfig(cfg Config) Option {
	return func(b *Board) error {
		b.cfg = cfg
		return nil
	}
}

// WithLogger sets the structured logger for the board.
func WithLogger(l *slog.Logger) Option {
	return func(b *Board) error {
		if l != nil {
			b.logger = l
		}
		return nil
	}
}

// WithStore sets the persistence backend. A Board cannot be built
// without one.
func WithStore(s store.Store) Option {
	return func(b *Board) error {
		b.st = s
		return nil
	}
}

// WithSource sets the remote data source. Without one (and with no
// SourceURL configured) the board runs on the Nop source: fetches report
// ErrUnavailable and renders carry the stale flag.
func WithSource(s source.Source) Option {
	return func(b *Board) error {
		if s != nil {
			b.src = s
		}
		return nil
	}
}

// WithSpeaker sets the audio output used by synth jobs. Without one,
// announcements still pass the throttler and reach the feed; they are
// just not spoken on this host.
func WithSpeaker(s *audio.Speaker) Option {
	return func(b *Board) error {
		b.speaker = s
		return nil
	}
}

// WithLookupCache replaces the board's lookup cache.
func WithLookupCache(c *cache.Cache) Option {
	return func(b *Board) error {
		if c != nil {
			b.lookup = c
		}
		return nil
	}
}

// WithMiddleware appends middleware to the default execution chain
// (recover, tracing, metrics, logging, timeout).
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(b *Board) error {
		b.extraMW = append(b.extraMW, mws...)
		return nil
	}
}

// WithWorkers overrides Config.Workers.
func WithWorkers(n int) Option {
	return func(b *Board) error {
		if n > 0 {
			b.cfg.Workers = n
		}
		return nil
	}
}
