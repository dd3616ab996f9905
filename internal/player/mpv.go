package player

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"vidgrab/internal/media"
)

// MPV implements the Player interface for mpv.
// Uses exec.Command with explicit args (no shell interpretation)
// and IPC via Unix socket at a randomized temp path.
type MPV struct {
	Bin string // defaults to "mpv"
}

func (m *MPV) Name() string { return "mpv" }

func (m *MPV) bin() string {
	if m.Bin != "" {
		return m.Bin
	}
	return "mpv"
}

func (m *MPV) Available() bool {
	_, err := exec.LookPath(m.bin())
	return err == nil
}

// Play launches mpv with the given stream and returns the final playback position.
func (m *MPV) Play(ctx context.Context, src media.ResolvedURL, title string, startPos float64, subFile string) (float64, error) {
	// Create randomized IPC socket path (prevents symlink attacks)
	socketDir, err := os.MkdirTemp("", "vidgrab-mpv-*")
	if err != nil {
		return 0, fmt.Errorf("creating temp dir for mpv socket: %w", err)
	}
	defer os.RemoveAll(socketDir)

	socketPath := filepath.Join(socketDir, "socket")

	cmd := exec.CommandContext(ctx, m.bin(), mpvArgs(src, title, startPos, subFile, socketPath)...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("starting mpv: %w", err)
	}

	exited := make(chan struct{})
	pos := make(chan float64, 1)
	go func() { pos <- trackPosition(socketPath, exited) }()

	err = cmd.Wait()
	close(exited)
	lastPos := <-pos
	var exitErr *exec.ExitError
	// mpv returns non-zero on user quit, which is normal
	if err != nil && !errors.As(err, &exitErr) {
		return lastPos, fmt.Errorf("running mpv: %w", err)
	}
	return lastPos, nil
}

func mpvArgs(src media.ResolvedURL, title string, startPos float64, subFile, socketPath string) []string {
	// Each arg is separate, no shell interpretation
	args := []string{
		src.URL,
		"--force-media-title=" + title,
		"--really-quiet",
	}
	if socketPath != "" {
		args = append(args, "--input-ipc-server="+socketPath)
	}
	if startPos > 0 {
		args = append(args, fmt.Sprintf("--start=+%.0f", startPos))
	}
	if subFile != "" {
		args = append(args, "--sub-file="+subFile)
	}

	ua, referer, rest := splitHeaders(src.Headers)
	if ua != "" {
		args = append(args, "--user-agent="+ua)
	}
	if referer != "" {
		args = append(args, "--referrer="+referer)
	}
	for _, h := range rest {
		// -append takes one header per flag, so commas in values survive.
		args = append(args, "--http-header-fields-append="+h[0]+": "+h[1])
	}
	return args
}

// trackPosition follows mpv's time-pos property until the socket closes.
// It gives up waiting for the socket once exited is closed.
func trackPosition(socketPath string, exited <-chan struct{}) float64 {
	var lastPos float64

	// Wait for socket to appear
	var conn net.Conn
	var err error
	for i := 0; i < 50; i++ {
		if conn, err = net.Dial("unix", socketPath); err == nil {
			break
		}
		select {
		case <-exited:
			return 0
		case <-time.After(100 * time.Millisecond):
		}
	}
	if conn == nil {
		return 0
	}
	defer conn.Close()

	cmd := map[string]any{
		"command":    []any{"observe_property", 1, "time-pos"},
		"request_id": 100,
	}
	data, _ := json.Marshal(cmd)
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil {
		return 0
	}

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var event struct {
			Event string  `json:"event"`
			Name  string  `json:"name"`
			Data  float64 `json:"data"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			continue
		}
		if event.Name == "time-pos" && event.Data > 0 {
			lastPos = event.Data
		}
	}
	return lastPos
}
