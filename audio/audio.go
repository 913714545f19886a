// Package audio provides the speech side of the board: a Synthesizer
// boundary with a disk cache in front of a TTS engine, a Player boundary
// with a GStreamer implementation, and a Speaker that sequences bilingual
// announcements. Everything here blocks and is only ever called from
// synth_play jobs, never from the interactive path.
package audio

import (
	"context"
	"log/slog"
	"time"
)

// Line is one utterance in one language.
type Line struct {
	Text string
	Lang string
}

// Sequence is a spoken announcement: ordered lines with Pause between
// them, and the whole thing repeated Repeat times with Gap between
// rounds. Repeat values below 1 mean a single round.
type Sequence struct {
	Lines  []Line
	Pause  time.Duration
	Repeat int
	Gap    time.Duration
}

// Synthesizer renders speech for one line of text and returns the path
// of a playable audio file.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, lang string) (string, error)
}

// Player plays one audio file to completion.
type Player interface {
	Play(ctx context.Context, path string) error
}

// Engine renders one line of speech into the file at dst. Implementations
// talk to a TTS backend; Cache wraps an Engine to add the disk layer.
type Engine interface {
	Render(ctx context.Context, text, lang, dst string) error
}

var _ Player = (*NopPlayer)(nil)

// NopPlayer discards playback requests. Used on hosts without audio
// output; the board keeps announcing through the feed and history.
type NopPlayer struct {
	Logger *slog.Logger
}

func (p *NopPlayer) Play(_ context.Context, path string) error {
	if p.Logger != nil {
		p.Logger.Debug("audio: playback skipped, no output configured", "path", path)
	}
	return nil
}
