package audio

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
)

var _ Player = (*GstPlayer)(nil)

// GstPlayer plays audio files through a GStreamer playbin pipeline and
// blocks until the stream ends. A playback that outlives maxDuration is
// stopped and treated as finished rather than failed, so a corrupt file
// can never wedge a worker.
type GstPlayer struct {
	logger      *slog.Logger
	maxDuration time.Duration
}

// PlayerOption configures a GstPlayer.
type PlayerOption func(*GstPlayer)

// WithPlayerLogger sets the logger used for playback diagnostics.
func WithPlayerLogger(logger *slog.Logger) PlayerOption {
	return func(p *GstPlayer) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMaxPlayDuration caps how long a single file may play.
func WithMaxPlayDuration(d time.Duration) PlayerOption {
	return func(p *GstPlayer) {
		if d > 0 {
			p.maxDuration = d
		}
	}
}

// NewGstPlayer initializes GStreamer and returns a ready player.
func NewGstPlayer(opts ...PlayerOption) *GstPlayer {
	// Safe to call multiple times.
	gst.Init(nil)

	p := &GstPlayer{
		logger:      slog.Default(),
		maxDuration: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *GstPlayer) Play(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("audio: resolve %s: %w", path, err)
	}

	pipeline, err := gst.NewPipelineFromString(fmt.Sprintf("playbin uri=%q", "file://"+abs))
	if err != nil {
		return fmt.Errorf("audio: create playback pipeline: %w", err)
	}
	defer pipeline.SetState(gst.StateNull)

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("audio: start playback: %w", err)
	}

	bus := pipeline.GetPipelineBus()
	deadline := time.Now().Add(p.maxDuration)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if time.Now().After(deadline) {
			p.logger.Warn("audio: playback exceeded maximum duration, stopping",
				"path", filepath.Base(abs),
				"max", p.maxDuration,
			)
			return nil
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			return nil
		case gst.MessageError:
			gerr := msg.ParseError()
			p.logger.Error("audio: pipeline error",
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
				"path", filepath.Base(abs),
			)
			return fmt.Errorf("audio: playback failed: %s", gerr.Error())
		}
	}
}
