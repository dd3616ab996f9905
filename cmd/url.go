package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var flagFormat string

var urlCmd = &cobra.Command{
	Use:   "url <url>",
	Short: "Print a direct stream URL for a format",
	Long: `Resolve a direct, fetchable URL. The format is a fallback expression such as
"137/22/best" or "bestaudio". When no listed format is offered, the best
format under the quality ceiling is used.`,
	Args: cobra.ExactArgs(1),
	RunE: urlRun,
}

func init() {
	urlCmd.Flags().StringVarP(&flagFormat, "format", "f", "", "Format expression (default: best)")
}

func urlRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	ru, err := a.svc.DirectURL(ctx, args[0], flagFormat, cfg.QualityCeiling)
	if err != nil {
		return describe(err)
	}
	if flagJSON {
		return printJSON(ru)
	}
	fmt.Println(ru.URL)
	return nil
}
