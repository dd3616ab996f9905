// Package download saves a resolved stream to disk. Progressive files are
// fetched over HTTP; manifests and audio conversions go through ffmpeg.
// ffmpeg runs with an explicit argument slice and output paths are checked
// against directory traversal.
package download

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"vidgrab/internal/httputil"
	"vidgrab/internal/media"
	"vidgrab/internal/progress"
)

// AudioBitrate is the mp3 bitrate used for audio conversions.
const AudioBitrate = "192k"

const reportEvery = 250 * time.Millisecond

// Reporter receives progress for a job. *progress.Tracker satisfies it.
type Reporter interface {
	Update(id string, d progress.Delta) error
}

// Job describes one download.
type Job struct {
	ID       string // progress ID, may be empty
	Source   media.ResolvedURL
	Title    string
	Dir      string
	Audio    bool // convert to mp3
	Duration int  // seconds, used for ffmpeg percentages
}

// Downloader is safe for concurrent use.
type Downloader struct {
	Client     *http.Client
	FFmpegPath string // looked up in PATH when empty
	Reporter   Reporter
}

// Download writes the job's stream into job.Dir and returns the final path.
// Partial files are removed on failure.
func (d *Downloader) Download(ctx context.Context, job Job) (string, error) {
	if err := job.Validate(); err != nil {
		return "", err
	}
	absDir, err := filepath.Abs(job.Dir)
	if err != nil {
		return "", fmt.Errorf("resolving output directory: %w", err)
	}
	if err := os.MkdirAll(absDir, 0755); err != nil {
		return "", fmt.Errorf("creating output directory: %w", err)
	}

	filename := httputil.SanitizeFilename(job.Title) + "." + outputExt(job)
	outputPath, err := httputil.SafeDownloadPath(absDir, filename)
	if err != nil {
		return "", fmt.Errorf("invalid output path: %w", err)
	}

	if job.Audio || job.Source.IsManifest() {
		err = d.ffmpeg(ctx, job, outputPath)
	} else {
		err = d.fetch(ctx, job, outputPath)
	}
	if err != nil {
		return "", err
	}
	return outputPath, nil
}

func outputExt(job Job) string {
	switch {
	case job.Audio:
		return "mp3"
	case job.Source.IsManifest(), job.Source.Ext == "":
		return "mp4"
	}
	return job.Source.Ext
}

func (d *Downloader) fetch(ctx context.Context, job Job, outputPath string) error {
	req, err := httputil.NewRequest(ctx, http.MethodGet, job.Source.URL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "*/*")
	for k, v := range job.Source.Headers {
		req.Header.Set(k, v)
	}

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("fetching stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetching stream: HTTP %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp(filepath.Dir(outputPath), ".vidgrab-*.part")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after rename

	w := &countingWriter{w: tmp, total: resp.ContentLength, id: job.ID, r: d.Reporter, every: rate.Sometimes{Interval: reportEvery}}
	if _, err := io.Copy(w, resp.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("writing stream: %w", err)
	}
	w.flush()
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, outputPath); err != nil {
		return fmt.Errorf("renaming download: %w", err)
	}
	return nil
}

type countingWriter struct {
	w     io.Writer
	done  int64
	total int64
	id    string
	r     Reporter
	every rate.Sometimes
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.done += int64(n)
	c.every.Do(c.flush)
	return n, err
}

func (c *countingWriter) flush() {
	if c.r == nil || c.id == "" {
		return
	}
	d := progress.Delta{BytesDone: c.done}
	if c.total > 0 {
		d.BytesTotal = c.total
	}
	_ = c.r.Update(c.id, d)
}

func (d *Downloader) ffmpeg(ctx context.Context, job Job, outputPath string) error {
	ffmpegPath := d.FFmpegPath
	if ffmpegPath == "" {
		p, err := exec.LookPath("ffmpeg")
		if err != nil {
			return fmt.Errorf("ffmpeg not found in PATH: %w", err)
		}
		ffmpegPath = p
	}

	cmd := exec.CommandContext(ctx, ffmpegPath, ffmpegArgs(job, outputPath)...)
	cmd.WaitDelay = 2 * time.Second
	var stderr strings.Builder
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting ffmpeg: %w", err)
	}

	d.readProgress(stdout, job)

	if err := cmd.Wait(); err != nil {
		// Clean up partial download on failure
		os.Remove(outputPath)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return fmt.Errorf("ffmpeg download failed: %w", err)
		}
		return fmt.Errorf("ffmpeg download failed: %w: %s", err, msg)
	}
	return nil
}

func ffmpegArgs(job Job, outputPath string) []string {
	args := []string{
		"-hide_banner", "-nostats", "-loglevel", "error",
		"-y", // Overwrite output
		"-progress", "pipe:1",
	}
	if h := headerBlock(job.Source.Headers); h != "" {
		args = append(args, "-headers", h)
	}
	args = append(args, "-i", job.Source.URL)

	if job.Audio {
		args = append(args, "-vn", "-c:a", "libmp3lame", "-b:a", AudioBitrate)
	} else {
		args = append(args, "-c", "copy")
	}

	return append(args, "-metadata", "title="+job.Title, outputPath)
}

// headerBlock renders headers the way ffmpeg's -headers option expects,
// sorted so the argument list is stable.
func headerBlock(headers map[string]string) string {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k + ": " + headers[k] + "\r\n")
	}
	return b.String()
}

// readProgress consumes ffmpeg's key=value progress stream until EOF.
func (d *Downloader) readProgress(r io.Reader, job Job) {
	every := rate.Sometimes{Interval: reportEvery}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		key, val, ok := strings.Cut(sc.Text(), "=")
		if !ok || d.Reporter == nil || job.ID == "" {
			continue
		}
		switch key {
		case "out_time_us", "out_time_ms": // both are microseconds
			us, err := strconv.ParseInt(val, 10, 64)
			if err != nil || us <= 0 || job.Duration <= 0 {
				continue
			}
			pct := float64(us) / 1e4 / float64(job.Duration)
			every.Do(func() {
				_ = d.Reporter.Update(job.ID, progress.Delta{Percent: min(pct, 99.9)})
			})
		case "total_size":
			n, err := strconv.ParseInt(val, 10, 64)
			if err == nil && n > 0 {
				_ = d.Reporter.Update(job.ID, progress.Delta{BytesDone: n})
			}
		}
	}
	_, _ = io.Copy(io.Discard, r)
}

// ErrNoSource is returned when a job has no URL.
var ErrNoSource = errors.New("no source URL")

// Validate checks a job before any work is started.
func (j Job) Validate() error {
	if j.Source.URL == "" {
		return ErrNoSource
	}
	if j.Dir == "" {
		return errors.New("no output directory")
	}
	return nil
}
