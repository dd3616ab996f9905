package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"vidgrab/internal/config"
	"vidgrab/internal/history"
	"vidgrab/internal/ui"
)

var flagHistoryRemove bool

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Resume from watch history",
	Args:  cobra.NoArgs,
	RunE:  historyRun,
}

func init() {
	historyCmd.Flags().BoolVar(&flagHistoryRemove, "remove", false, "Remove the selected entry instead of playing it")
}

func historyRun(cmd *cobra.Command, args []string) error {
	path, err := config.HistoryPath()
	if err != nil {
		return err
	}
	entries, err := history.Load(path)
	if err != nil {
		return fmt.Errorf("loading history: %w", err)
	}

	if len(entries) == 0 {
		fmt.Println("No history entries found.")
		return nil
	}

	if flagJSON {
		return printJSON(entries)
	}

	// FormatForDisplay lists the most recent first.
	items := history.FormatForDisplay(entries)
	idx, err := ui.Select("History", items)
	if err != nil {
		return err
	}
	selected := entries[len(entries)-1-idx]

	if flagHistoryRemove {
		return history.Remove(path, selected.ID)
	}

	logger.Debug("resuming from history", slog.String("title", selected.Title), slog.String("id", selected.ID))

	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	return resolveAndPlay(ctx, a, selected.ID, true)
}
