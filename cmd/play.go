package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"vidgrab/internal/config"
	"vidgrab/internal/contentref"
	"vidgrab/internal/history"
	"vidgrab/internal/media"
	"vidgrab/internal/player"
	"vidgrab/internal/subtitle"
)

var (
	flagContinue bool
	flagSubs     string
)

var playCmd = &cobra.Command{
	Use:   "play <url>",
	Short: "Play a video in mpv/vlc",
	Args:  cobra.ExactArgs(1),
	RunE:  playRun,
}

func init() {
	playCmd.Flags().StringVarP(&flagFormat, "format", "f", "", "Format expression (default: best)")
	playCmd.Flags().BoolVarP(&flagContinue, "continue", "c", false, "Resume from the position in history")
	playCmd.Flags().StringVarP(&flagSubs, "subs", "l", "", "Subtitle language, e.g. en or english (default: subs_language)")
}

func playRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	return resolveAndPlay(ctx, a, args[0], flagContinue)
}

// resolveAndPlay resolves raw, hands the stream to the configured player
// and records where playback stopped.
func resolveAndPlay(ctx context.Context, a *app, raw string, resume bool) error {
	ref, err := contentref.Parse(raw)
	if err != nil {
		return err
	}
	if ref.Playlist {
		return fmt.Errorf("%w: play needs a single video", contentref.ErrInvalidReference)
	}

	p := player.New(cfg.Player)
	if !p.Available() {
		return fmt.Errorf("player %q not found in PATH", cfg.Player)
	}

	md, err := a.svc.Info(ctx, raw, false)
	if err != nil {
		return describe(err)
	}
	src, err := a.svc.DirectURL(ctx, raw, flagFormat, cfg.QualityCeiling)
	if err != nil {
		return describe(err)
	}
	logger.Debug("stream resolved", slog.String("ref", ref.Key()), slog.String("format", src.FormatID))

	if flagJSON {
		return printJSON(map[string]any{
			"title":     md.Title,
			"url":       src.URL,
			"format":    src.FormatID,
			"subtitles": md.Subtitles,
		})
	}

	var histPath string
	if cfg.History {
		if histPath, err = config.HistoryPath(); err != nil {
			logger.Debug("history disabled", slog.Any("error", err))
		}
	}

	var startPos float64
	if resume && histPath != "" {
		entries, _ := history.Load(histPath)
		if e, ok := history.Find(entries, ref.ID); ok {
			startPos = e.Position
			logger.Debug("resuming", slog.Float64("position", startPos))
		}
	}

	lang := cfg.SubsLanguage
	if flagSubs != "" {
		lang = flagSubs
	}
	var subFile string
	if lang != "" {
		tmpDir, err := subtitle.NewTempDir()
		if err == nil {
			defer tmpDir.Cleanup()
			subFile = fetchSubtitle(ctx, a, raw, md, lang, tmpDir)
		}
	}

	lastPos, err := p.Play(ctx, *src, md.Title, startPos, subFile)
	if err != nil {
		return fmt.Errorf("playback failed: %w", err)
	}

	if histPath != "" {
		entry := history.Entry{
			ID:        ref.ID,
			Title:     md.Title,
			Position:  lastPos,
			Duration:  float64(md.Duration),
			WatchedAt: time.Now(),
		}
		if err := history.Save(histPath, entry); err != nil {
			logger.Debug("saving history failed", slog.Any("error", err))
		}
	}
	return nil
}

// fetchSubtitle downloads the best track for lang, or returns "" so playback
// continues without one. Track URLs are not persisted, so metadata served
// from a shared cache is refetched once.
func fetchSubtitle(ctx context.Context, a *app, raw string, md *media.VideoMetadata, lang string, dir *subtitle.TempDir) string {
	best := subtitle.BestMatch(md.Subtitles, lang)
	if best != nil && best.URL == "" {
		fresh, err := a.svc.Info(ctx, raw, true)
		if err != nil {
			logger.Debug("refetching subtitles failed", slog.Any("error", err))
			return ""
		}
		best = subtitle.BestMatch(fresh.Subtitles, lang)
	}
	if best == nil || best.URL == "" {
		logger.Info("no subtitles found", slog.String("language", lang))
		return ""
	}

	path, err := dir.Download(ctx, a.client, *best)
	if err != nil {
		logger.Debug("subtitle download failed", slog.Any("error", err))
		return ""
	}
	logger.Debug("subtitle file", slog.String("path", path), slog.String("language", best.Language))
	return path
}
