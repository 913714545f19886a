package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/opdacuont2563-hash/surgibot"
	"github.com/opdacuont2563-hash/surgibot/audio"
	"github.com/opdacuont2563-hash/surgibot/feed"
	"github.com/opdacuont2563-hash/surgibot/observability"
	"github.com/opdacuont2563-hash/surgibot/server"
	"github.com/opdacuont2563-hash/surgibot/store/sqlite"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the board aggregator",
	Long: `Run the aggregator: the HTTP/WS API, the push feed hub, the status
lifecycle janitor, scheduled public announcements, and the audio
pipeline. State persists in the local sqlite database and is restored
on startup.`,
	RunE: runServe,
}

func runServe(_ *cobra.Command, _ []string) error {
	logger := newLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := sqlite.Open(ctx, viper.GetString("db"), sqlite.WithLogger(logger))
	if err != nil {
		return err
	}

	cfg, err := surgibot.FromEnv()
	if err != nil {
		return err
	}
	// The aggregator is the source of truth; it has nothing to poll.
	cfg.PollInterval = 0
	if t := viper.GetString("token"); t != "" {
		cfg.Token = t
	}

	speaker, err := buildSpeaker(logger, cfg.AudioDir)
	if err != nil {
		return err
	}

	b, err := surgibot.New(
		surgibot.WithConfig(cfg),
		surgibot.WithStore(st),
		surgibot.WithSpeaker(speaker),
		surgibot.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	if err := b.Start(ctx); err != nil {
		return err
	}
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := b.Stop(shutCtx); err != nil {
			logger.Error("board stop error", slog.String("error", err.Error()))
		}
	}()

	metricsHandler, shutdownMetrics, err := observability.InitMetrics()
	if err != nil {
		return err
	}
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownMetrics(shutCtx)
	}()

	hub := feed.NewHub(logger)
	defer hub.Shutdown()

	srv := server.New(server.NewState(), st, hub, logger,
		server.WithAddr(viper.GetString("addr")),
		server.WithToken(cfg.Token),
		server.WithSubmitter(b.Pool()),
		server.WithAnnouncer(b.Throttler()),
		server.WithLookupCache(b.Cache()),
		server.WithMetricsHandler(metricsHandler),
		server.WithAnnounceSchedule(viper.GetString("announce")),
	)

	if err := srv.Restore(ctx); err != nil {
		return err
	}

	return srv.Run(ctx)
}

// buildSpeaker assembles the TTS pipeline: HTTP engine behind the disk
// cache, played through GStreamer. Without a TTS endpoint the server
// runs silent; announcements still reach the feed and history.
func buildSpeaker(logger *slog.Logger, fallbackDir string) (*audio.Speaker, error) {
	endpoint := viper.GetString("tts")
	if endpoint == "" {
		logger.Info("no tts endpoint configured, running silent")
		return nil, nil
	}

	dir := viper.GetString("audio-dir")
	if dir == "" {
		dir = fallbackDir
	}
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "surgibot-audio")
	}

	synth, err := audio.NewCache(dir, audio.NewHTTPEngine(endpoint),
		audio.WithCacheLogger(logger))
	if err != nil {
		return nil, err
	}

	player := audio.NewGstPlayer(audio.WithPlayerLogger(logger))
	return audio.NewSpeaker(synth, player, audio.WithSpeakerLogger(logger)), nil
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if viper.GetBool("verbose") {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", ":8088", "listen address")
	viper.BindPFlag("addr", serveCmd.Flags().Lookup("addr"))

	serveCmd.Flags().String("announce", "*/20 * * * *", "public announcement cron schedule (empty disables)")
	viper.BindPFlag("announce", serveCmd.Flags().Lookup("announce"))

	serveCmd.Flags().String("tts", "", "TTS endpoint URL (empty runs silent)")
	viper.BindPFlag("tts", serveCmd.Flags().Lookup("tts"))

	serveCmd.Flags().String("audio-dir", "", "directory for cached speech files")
	viper.BindPFlag("audio-dir", serveCmd.Flags().Lookup("audio-dir"))

	serveCmd.Flags().BoolP("verbose", "v", false, "debug logging")
	viper.BindPFlag("verbose", serveCmd.Flags().Lookup("verbose"))
}
