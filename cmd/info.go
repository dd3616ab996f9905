package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"vidgrab/internal/media"
	"vidgrab/internal/ui"
)

var flagForce bool

var infoCmd = &cobra.Command{
	Use:   "info <url>",
	Short: "Show metadata and available formats",
	Args:  cobra.ExactArgs(1),
	RunE:  infoRun,
}

func init() {
	infoCmd.Flags().BoolVar(&flagForce, "force", false, "Bypass the metadata cache")
}

func infoRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	md, err := a.svc.Info(ctx, args[0], flagForce)
	if err != nil {
		return describe(err)
	}
	if flagJSON {
		return printJSON(md)
	}
	printMetadata(md)
	return nil
}

func printMetadata(md *media.VideoMetadata) {
	fmt.Println(md.Title)
	if md.Uploader != "" {
		fmt.Printf("by %s\n", md.Uploader)
	}
	if md.IsPlaylist {
		fmt.Printf("playlist, showing %d entries\n\n", len(md.Entries))
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		for i, e := range md.Entries {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", i+1, e.ID, e.Title, time.Duration(e.Duration)*time.Second)
		}
		tw.Flush()
		return
	}

	fmt.Printf("%s", time.Duration(md.Duration)*time.Second)
	if md.ViewCount > 0 {
		fmt.Printf(", %s views", humanize.Comma(md.ViewCount))
	}
	fmt.Print("\n\n")
	for _, f := range md.Formats() {
		fmt.Printf("  %-5s %s\n", f.Kind, ui.FormatLine(f))
	}
}
