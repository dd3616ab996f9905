package ui

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"vidgrab/internal/media"
	"vidgrab/internal/progress"
)

func TestFormatLine(t *testing.T) {
	got := FormatLine(media.FormatDescriptor{ID: "22", Ext: "mp4", Label: "720p", Size: 2_000_000})
	if !strings.HasPrefix(got, "22     mp4   720p") || !strings.HasSuffix(got, "2.0 MB") {
		t.Errorf("FormatLine = %q", got)
	}
	if got := FormatLine(media.FormatDescriptor{ID: "140", Ext: "m4a", Label: "128kbps m4a"}); got != "140    m4a   128kbps m4a" {
		t.Errorf("FormatLine without size = %q", got)
	}
}

func TestSelectNoItems(t *testing.T) {
	if _, err := Select("x", nil); err == nil {
		t.Error("expected error for empty list")
	}
}

func TestStatusLine(t *testing.T) {
	tests := []struct {
		rec  progress.Record
		want string
	}{
		{progress.Record{Status: progress.Queued}, "waiting for a slot"},
		{progress.Record{Status: progress.Running, BytesDone: 1000, BytesTotal: 4000}, "1.0 kB / 4.0 kB"},
		{progress.Record{Status: progress.Running, Percent: 42}, "42%"},
		{progress.Record{Status: progress.Completed, Location: "/tmp/a.mp4"}, "saved to /tmp/a.mp4"},
		{progress.Record{Status: progress.Failed, Error: "boom"}, "failed: boom"},
	}
	for _, tt := range tests {
		if got := statusLine(tt.rec); got != tt.want {
			t.Errorf("statusLine(%+v) = %q, want %q", tt.rec, got, tt.want)
		}
	}
}

func TestProgressModel(t *testing.T) {
	rec := progress.Record{Status: progress.Running, Percent: 30}
	m := newProgressModel("Video", func() (progress.Record, bool) { return rec, true })

	next, cmd := m.Update(tickMsg(time.Now()))
	m = next.(progressModel)
	if cmd == nil {
		t.Fatal("running record should schedule another tick")
	}
	if m.rec.Percent != 30 || !strings.Contains(m.View(), "Video") {
		t.Errorf("model = %+v", m.rec)
	}

	rec = progress.Record{Status: progress.Completed, Percent: 100, Location: "/x"}
	next, cmd = m.Update(tickMsg(time.Now()))
	m = next.(progressModel)
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("terminal record should quit")
	}
	if !strings.Contains(m.View(), "saved to /x") {
		t.Errorf("view = %q", m.View())
	}

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if !next.(progressModel).interrupted {
		t.Error("ctrl+c should mark the view interrupted")
	}
}

func TestWatchPlain(t *testing.T) {
	var n atomic.Int32
	poll := func() (progress.Record, bool) {
		switch n.Add(1) {
		case 1:
			return progress.Record{Status: progress.Queued}, true
		case 2, 3:
			return progress.Record{Status: progress.Running, Percent: 50}, true
		default:
			return progress.Record{Status: progress.Completed, Percent: 100}, true
		}
	}

	var buf bytes.Buffer
	rec, err := watchPlain(context.Background(), &buf, "vid", poll, time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != progress.Completed {
		t.Errorf("final = %+v", rec)
	}
	want := "vid: queued 0%\nvid: running 50%\nvid: completed 100%\n"
	if buf.String() != want {
		t.Errorf("output =\n%s\nwant\n%s", buf.String(), want)
	}
}

func TestWatchPlainCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	poll := func() (progress.Record, bool) { return progress.Record{Status: progress.Running}, true }
	if _, err := watchPlain(ctx, &bytes.Buffer{}, "vid", poll, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v", err)
	}
}
