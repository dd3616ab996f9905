// Package cmd implements the CLI commands using Cobra.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"vidgrab/internal/config"
	"vidgrab/internal/resolve"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Global flags
var (
	flagProxy   string
	flagEngine  string
	flagPlayer  string
	flagQuality int
	flagJSON    bool
	flagDebug   bool
)

// cfg holds the loaded configuration (merged: defaults < config file < env < flags).
var cfg *config.Config

// logger is built from cfg once it is loaded.
var logger = slog.Default()

var rootCmd = &cobra.Command{
	Use:   "vidgrab",
	Short: "Resolve, download and play YouTube videos from the terminal",
	Long: `vidgrab resolves YouTube metadata and direct stream URLs through a chain of
extraction strategies, keeps session cookies fresh, and paces upstream calls.
It can print metadata, hand a stream to mpv/vlc, download with ffmpeg, or serve
the same operations as a JSON API.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagProxy, "proxy", "", "Proxy URL for all upstream traffic")
	rootCmd.PersistentFlags().StringVarP(&flagEngine, "engine", "e", "", "Extraction engine: ytdlp | native")
	rootCmd.PersistentFlags().StringVar(&flagPlayer, "player", "", "Media player: mpv | vlc | iina | celluloid")
	rootCmd.PersistentFlags().IntVarP(&flagQuality, "quality", "q", 0, "Resolution ceiling for fallbacks: 360 | 480 | 720 | 1080")
	rootCmd.PersistentFlags().BoolVarP(&flagJSON, "json", "j", false, "Output as JSON")
	rootCmd.PersistentFlags().BoolVarP(&flagDebug, "debug", "x", false, "Debug logging to stderr")

	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(urlCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(cookiesCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig loads and merges configuration: defaults < config file < env < CLI flags.
func loadConfig(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// CLI flags override config file values
	if flagProxy != "" {
		cfg.Proxy = flagProxy
	}
	if flagEngine != "" {
		cfg.Engine = flagEngine
	}
	if flagPlayer != "" {
		cfg.Player = flagPlayer
	}
	if flagQuality != 0 {
		cfg.QualityCeiling = flagQuality
	}
	if flagDebug {
		cfg.Debug = true
	}

	// Re-validate after flag overrides
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// printJSON writes v to stdout, indented.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// describe turns resolution failures into the messages users see; other
// errors pass through.
func describe(err error) error {
	var (
		restricted *resolve.RestrictedError
		notFound   *resolve.NotFoundError
		exhausted  *resolve.ExhaustedError
	)
	switch {
	case errors.As(err, &restricted):
		return fmt.Errorf("content is restricted: %w", restricted.Err)
	case errors.As(err, &notFound):
		return errors.New("content not found")
	case errors.As(err, &exhausted):
		if exhausted.Reason() == resolve.ReasonRateLimited {
			return errors.New("upstream is rate limiting requests, try again later")
		}
		msg := "all extraction strategies failed"
		if exhausted.Format != "" {
			msg += fmt.Sprintf(" for format %q", exhausted.Format)
		}
		var causes []string
		for _, c := range exhausted.Causes {
			causes = append(causes, c.Error())
		}
		if len(causes) > 0 {
			msg += ": " + strings.Join(causes, "; ")
		}
		return errors.New(msg)
	}
	return err
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("vidgrab " + Version)
	},
}
