package ui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	bprogress "github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"golang.org/x/term"

	"vidgrab/internal/progress"
)

// ErrInterrupted is returned when the user quits the progress view.
var ErrInterrupted = errors.New("interrupted")

const pollEvery = 200 * time.Millisecond

// Poll returns the current state of the watched operation.
type Poll func() (progress.Record, bool)

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	infoStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(pollEvery, func(t time.Time) tea.Msg { return tickMsg(t) })
}

type progressModel struct {
	title       string
	poll        Poll
	bar         bprogress.Model
	rec         progress.Record
	interrupted bool
}

func newProgressModel(title string, poll Poll) progressModel {
	return progressModel{
		title: title,
		poll:  poll,
		bar:   bprogress.New(bprogress.WithDefaultGradient(), bprogress.WithWidth(50)),
	}
}

func (m progressModel) Init() tea.Cmd { return tick() }

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.interrupted = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.bar.Width = max(10, min(msg.Width-4, 80))
	case tickMsg:
		if rec, ok := m.poll(); ok {
			m.rec = rec
		}
		if m.rec.Status.Terminal() {
			return m, tea.Quit
		}
		return m, tick()
	}
	return m, nil
}

func (m progressModel) View() string {
	s := titleStyle.Render(m.title) + "\n" + m.bar.ViewAs(m.rec.Percent/100) + "\n"
	if info := statusLine(m.rec); info != "" {
		if m.rec.Status == progress.Failed {
			s += errStyle.Render(info) + "\n"
		} else {
			s += infoStyle.Render(info) + "\n"
		}
	}
	return s
}

func statusLine(r progress.Record) string {
	switch r.Status {
	case progress.Failed:
		return "failed: " + r.Error
	case progress.Completed:
		return "saved to " + r.Location
	case progress.Queued, "":
		return "waiting for a slot"
	}
	if r.BytesTotal > 0 {
		return fmt.Sprintf("%s / %s", humanize.Bytes(uint64(r.BytesDone)), humanize.Bytes(uint64(r.BytesTotal)))
	}
	if r.BytesDone > 0 {
		return humanize.Bytes(uint64(r.BytesDone))
	}
	return fmt.Sprintf("%.0f%%", r.Percent)
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool { return term.IsTerminal(int(f.Fd())) }

// Watch follows an operation until it reaches a terminal state. On a
// terminal it draws a progress bar on stderr; otherwise it writes a line to
// w whenever the status changes. The final record is returned.
func Watch(ctx context.Context, w io.Writer, title string, poll Poll) (progress.Record, error) {
	if IsTerminal(os.Stderr) {
		return watchTUI(ctx, title, poll)
	}
	return watchPlain(ctx, w, title, poll, pollEvery)
}

func watchTUI(ctx context.Context, title string, poll Poll) (progress.Record, error) {
	p := tea.NewProgram(newProgressModel(title, poll), tea.WithContext(ctx), tea.WithOutput(os.Stderr))
	final, err := p.Run()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return progress.Record{}, ctxErr
		}
		return progress.Record{}, fmt.Errorf("progress view: %w", err)
	}
	m := final.(progressModel)
	if m.interrupted {
		return m.rec, ErrInterrupted
	}
	return m.rec, nil
}

func watchPlain(ctx context.Context, w io.Writer, title string, poll Poll, every time.Duration) (progress.Record, error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	var last string
	for {
		rec, ok := poll()
		if ok {
			line := fmt.Sprintf("%s: %s %.0f%%", title, rec.Status, rec.Percent)
			if line != last {
				fmt.Fprintln(w, line)
				last = line
			}
			if rec.Status.Terminal() {
				return rec, nil
			}
		}
		select {
		case <-ctx.Done():
			return rec, ctx.Err()
		case <-ticker.C:
		}
	}
}
