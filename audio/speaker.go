package audio

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Speaker turns a Sequence into sound: each line is synthesized and
// played in order, with the sequence pause between lines and the gap
// between repeated rounds. Speak blocks for the full sequence.
type Speaker struct {
	synth  Synthesizer
	player Player
	logger *slog.Logger
}

// SpeakerOption configures a Speaker.
type SpeakerOption func(*Speaker)

// WithSpeakerLogger sets the logger used while speaking.
func WithSpeakerLogger(logger *slog.Logger) SpeakerOption {
	return func(s *Speaker) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSpeaker wires a synthesizer to a player.
func NewSpeaker(synth Synthesizer, player Player, opts ...SpeakerOption) *Speaker {
	s := &Speaker{
		synth:  synth,
		player: player,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Speaker) Speak(ctx context.Context, seq Sequence) error {
	rounds := seq.Repeat
	if rounds < 1 {
		rounds = 1
	}
	s.logger.Debug("audio: speaking", "lines", len(seq.Lines), "rounds", rounds)

	for round := range rounds {
		if err := s.speakRound(ctx, seq); err != nil {
			return err
		}
		if round+1 < rounds && seq.Gap > 0 {
			if err := sleep(ctx, seq.Gap); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Speaker) speakRound(ctx context.Context, seq Sequence) error {
	spoke := false
	for _, line := range seq.Lines {
		if line.Text == "" {
			continue
		}
		// The pause separates spoken lines, so none before the first.
		if spoke && seq.Pause > 0 {
			if err := sleep(ctx, seq.Pause); err != nil {
				return err
			}
		}
		path, err := s.synth.Synthesize(ctx, line.Text, line.Lang)
		if err != nil {
			return err
		}
		if err := s.player.Play(ctx, path); err != nil {
			return fmt.Errorf("audio: play %s line: %w", line.Lang, err)
		}
		spoke = true
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
