package cmd

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"vidgrab/internal/httputil"
)

var cookiesCmd = &cobra.Command{
	Use:   "cookies",
	Short: "Inspect or refresh the session cookie jar",
}

var cookiesRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Harvest a fresh cookie set now",
	Args:  cobra.NoArgs,
	RunE:  cookiesRefreshRun,
}

var cookiesShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the persisted cookie jar",
	Args:  cobra.NoArgs,
	RunE:  cookiesShowRun,
}

func init() {
	cookiesCmd.AddCommand(cookiesRefreshCmd)
	cookiesCmd.AddCommand(cookiesShowCmd)
}

func cookiesRefreshRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	client, err := httputil.NewClient(httputil.ClientOptions{Proxy: cfg.Proxy})
	if err != nil {
		return err
	}
	store, err := newCookieStore(client)
	if err != nil {
		return err
	}
	if err := store.Refresh(ctx); err != nil {
		return err
	}
	rec, _ := store.Snapshot()
	fmt.Fprintf(os.Stderr, "Saved %d cookies to %s\n", len(rec.Cookies), store.Path())
	return nil
}

// cookieView is the JSON shape of a jar entry. Values are never printed.
type cookieView struct {
	Domain  string    `json:"domain"`
	Name    string    `json:"name"`
	Secure  bool      `json:"secure"`
	Expires time.Time `json:"expires,omitzero"`
}

func cookiesShowRun(cmd *cobra.Command, args []string) error {
	store, err := newCookieStore(nil)
	if err != nil {
		return err
	}
	rec, err := store.Persisted()
	if errors.Is(err, os.ErrNotExist) {
		fmt.Println("No cookie jar yet. Run 'vidgrab cookies refresh'.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading cookie jar: %w", err)
	}

	views := make([]cookieView, len(rec.Cookies))
	for i, c := range rec.Cookies {
		views[i] = cookieView{Domain: c.Domain, Name: c.Name, Secure: c.Secure}
		if c.Expires > 0 {
			views[i].Expires = time.Unix(c.Expires, 0)
		}
	}
	if flagJSON {
		return printJSON(map[string]any{
			"path":       store.Path(),
			"created_at": rec.CreatedAt,
			"fresh":      rec.Fresh(time.Now()),
			"cookies":    views,
		})
	}

	state := "fresh"
	if !rec.Fresh(time.Now()) {
		state = "stale"
	}
	fmt.Printf("%s (%s, harvested %s)\n\n", store.Path(), state, humanize.Time(rec.CreatedAt))
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, v := range views {
		expires := "session"
		if !v.Expires.IsZero() {
			expires = humanize.Time(v.Expires)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", v.Domain, v.Name, expires)
	}
	return tw.Flush()
}
