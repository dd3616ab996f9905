package player

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"vidgrab/internal/media"
)

// Generic implements the Player interface for players like iina and celluloid
// that accept mpv-compatible arguments.
type Generic struct {
	name string
}

func (g *Generic) Name() string { return g.name }

func (g *Generic) Available() bool {
	_, err := exec.LookPath(g.name)
	return err == nil
}

// Play launches the generic player. Position tracking is not supported.
func (g *Generic) Play(ctx context.Context, src media.ResolvedURL, title string, startPos float64, subFile string) (float64, error) {
	// Both iina and celluloid accept mpv-style flags
	cmd := exec.CommandContext(ctx, g.name, mpvArgs(src, title, startPos, subFile, "")...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return 0, nil
		}
		return 0, fmt.Errorf("running %s: %w", g.name, err)
	}
	return 0, nil
}
