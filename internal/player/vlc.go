package player

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"vidgrab/internal/media"
)

// VLC implements the Player interface for VLC media player.
type VLC struct{}

func (v *VLC) Name() string { return "vlc" }

func (v *VLC) Available() bool {
	_, err := exec.LookPath("vlc")
	return err == nil
}

// Play launches VLC. VLC doesn't have IPC position tracking like mpv,
// so we return 0 for position.
func (v *VLC) Play(ctx context.Context, src media.ResolvedURL, title string, startPos float64, subFile string) (float64, error) {
	cmd := exec.CommandContext(ctx, "vlc", vlcArgs(src, title, startPos, subFile)...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return 0, nil // VLC exits non-zero on user close
		}
		return 0, fmt.Errorf("running vlc: %w", err)
	}
	return 0, nil
}

// vlcArgs drops headers other than User-Agent and Referer; VLC has no
// generic header option.
func vlcArgs(src media.ResolvedURL, title string, startPos float64, subFile string) []string {
	args := []string{
		src.URL,
		"--meta-title", title,
		"--play-and-exit",
	}
	if startPos > 0 {
		args = append(args, fmt.Sprintf("--start-time=%.0f", startPos))
	}
	if subFile != "" {
		args = append(args, "--sub-file="+subFile)
	}
	ua, referer, _ := splitHeaders(src.Headers)
	if ua != "" {
		args = append(args, "--http-user-agent="+ua)
	}
	if referer != "" {
		args = append(args, "--http-referrer="+referer)
	}
	return args
}
