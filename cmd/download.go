package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"vidgrab/internal/progress"
	"vidgrab/internal/service"
	"vidgrab/internal/ui"
)

var (
	flagAudio     bool
	flagOutputDir string
	flagSelect    bool
)

var downloadCmd = &cobra.Command{
	Use:   "download <url>",
	Short: "Download a video, or its audio as mp3",
	Args:  cobra.ExactArgs(1),
	RunE:  downloadRun,
}

func init() {
	downloadCmd.Flags().StringVarP(&flagFormat, "format", "f", "", "Format expression (default: best)")
	downloadCmd.Flags().BoolVarP(&flagAudio, "audio", "a", false, "Extract audio to mp3")
	downloadCmd.Flags().StringVarP(&flagOutputDir, "output", "o", "", "Directory to save into (default: download_dir)")
	downloadCmd.Flags().BoolVarP(&flagSelect, "select", "s", false, "Pick the format interactively with fzf")
}

func downloadRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	if flagOutputDir != "" {
		cfg.DownloadDir = flagOutputDir
	}
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	format := flagFormat
	title := args[0]
	if flagSelect {
		md, err := a.svc.Info(ctx, args[0], false)
		if err != nil {
			return describe(err)
		}
		title = md.Title
		formats := md.Formats()
		if flagAudio {
			formats = md.AudioFormats
		}
		if format, err = ui.SelectFormat(formats); err != nil {
			return err
		}
	}

	id, err := a.svc.StartDownload(service.DownloadRequest{
		URL:     args[0],
		Format:  format,
		Audio:   flagAudio,
		Ceiling: cfg.QualityCeiling,
	})
	if err != nil {
		return describe(err)
	}
	logger.Debug("download started", slog.String("id", id))

	rec, err := ui.Watch(ctx, os.Stderr, title, func() (progress.Record, bool) {
		return a.tracker.Get(id)
	})
	if err != nil {
		if errors.Is(err, ui.ErrInterrupted) || ctx.Err() != nil {
			a.svc.Cancel(id)
			return errors.New("download cancelled")
		}
		return err
	}
	if rec.Status == progress.Failed {
		return fmt.Errorf("download failed: %s", rec.Error)
	}

	if flagJSON {
		return printJSON(rec)
	}
	fmt.Fprintf(os.Stderr, "Downloaded: %s\n", rec.Location)
	return nil
}
