package cmd

import (
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"vidgrab/internal/server"
)

var flagListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the JSON API",
	Long: `Serve info, direct-URL and download operations over HTTP.

  POST   /api/info            {"url", "force", "timeout"}
  GET    /api/url             ?url=&format=&ceiling=&timeout=
  POST   /api/download        {"url", "format", "audio", "ceiling"}
  GET    /api/progress/{id}
  DELETE /api/progress/{id}   acknowledge, or cancel while running
  GET    /api/file/{id}`,
	Args: cobra.NoArgs,
	RunE: serveRun,
}

func init() {
	serveCmd.Flags().StringVar(&flagListen, "listen", "", "Address to listen on (default: listen in config)")
}

func serveRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	if flagListen != "" {
		cfg.Listen = flagListen
	}
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	// Warm the jar so the first request does not pay for a harvest.
	if err := a.creds.EnsureFresh(ctx); err != nil {
		logger.Warn("cookies unavailable, continuing without", slog.Any("error", err))
	}

	logger.Info("resolver ready",
		slog.String("engine", cfg.Engine),
		slog.Any("strategies", a.strategies),
	)
	go a.tracker.Run(ctx, time.Minute)

	return server.New(cfg.Listen, a.svc, logger).Run(ctx)
}
