package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/opdacuont2563-hash/surgibot"
	"github.com/opdacuont2563-hash/surgibot/server"
	"github.com/opdacuont2563-hash/surgibot/source"
	"github.com/opdacuont2563-hash/surgibot/store/memory"
)

var boardCmd = &cobra.Command{
	Use:   "board",
	Short: "Watch the live status board in the terminal",
	Long: `Follow a running aggregator and repaint the patient board on every
change. Updates arrive over the push feed when available and by polling
otherwise; a stale marker appears when the server cannot be reached.`,
	RunE: runBoard,
}

func runBoard(cmd *cobra.Command, _ []string) error {
	base := strings.TrimSuffix(viper.GetString("url"), "/")

	// Renders own stdout; diagnostics stay on stderr.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	cfg := surgibot.DefaultConfig()
	cfg.SourceURL = base
	cfg.FeedURL = wsURL(base)
	cfg.Token = viper.GetString("token")

	b, err := surgibot.New(
		surgibot.WithConfig(cfg),
		surgibot.WithStore(memory.New()),
		surgibot.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := b.Start(ctx); err != nil {
		return err
	}
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		_ = b.Stop(shutCtx)
	}()

	b.Refresh("schedule")

	for {
		select {
		case <-ctx.Done():
			return nil
		case render, ok := <-b.Renders():
			if !ok {
				return nil
			}
			paint(cmd, render)
		}
	}
}

func paint(cmd *cobra.Command, r surgibot.Render) {
	cmd.Print("\033[H\033[2J")

	header := colorBold + "OR STATUS BOARD" + colorReset
	if !r.SyncedAt.IsZero() {
		header += colorDim + "  synced " + r.SyncedAt.Local().Format("15:04:05") + colorReset
	}
	if r.Stale {
		header += "  " + colorYellow + "⚠ stale" + colorReset
	}
	cmd.Println(header)
	cmd.Println("────────────────────────────────────────────────────")

	if len(r.Rows) == 0 {
		cmd.Println(colorDim + "no patients on the board" + colorReset)
		return
	}

	cmd.Printf("%s%-12s %-12s %-20s %s%s\n", colorDim, "PATIENT", "ID", "STATUS", "ETA", colorReset)
	for _, row := range r.Rows {
		status := cell(row, "status")
		cmd.Printf("%-12s %-12s %s %s\n",
			cell(row, "patient_id"),
			cell(row, "id"),
			statusColor(status)+fmt.Sprintf("%-20s", status)+colorReset,
			etaLabel(row))
	}
}

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

func statusColor(status string) string {
	switch server.Status(status) {
	case server.StatusWaiting:
		return colorCyan
	case server.StatusInSurgery:
		return colorYellow
	case server.StatusInRecovery:
		return colorCyan
	case server.StatusRecovered, server.StatusTransfer:
		return colorGreen
	case server.StatusPostponed:
		return colorRed
	}
	return ""
}

// cell renders a row field for display. JSON numbers arrive as float64;
// whole values print without a fraction.
func cell(row source.Row, key string) string {
	v, ok := row[key]
	if !ok || v == nil {
		return "-"
	}
	if f, ok := v.(float64); ok && f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return fmt.Sprintf("%v", v)
}

func etaLabel(row source.Row) string {
	v, ok := row["eta_minutes"]
	if !ok || v == nil {
		return "-"
	}
	switch n := v.(type) {
	case float64:
		return fmt.Sprintf("%d min", int(n))
	case int:
		return fmt.Sprintf("%d min", n)
	}
	return fmt.Sprintf("%v", v)
}

// wsURL maps the HTTP base URL onto the push feed endpoint. An
// unrecognized scheme disables the feed; the client then polls only.
func wsURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://") + "/api/ws"
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://") + "/api/ws"
	}
	return ""
}

func init() {
	rootCmd.AddCommand(boardCmd)

	boardCmd.Flags().String("url", "http://localhost:8088", "aggregator base URL")
	viper.BindPFlag("url", boardCmd.Flags().Lookup("url"))
}
