package history

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissing(t *testing.T) {
	entries, err := Load(filepath.Join(t.TempDir(), "none.tsv"))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected empty history, got %d entries", len(entries))
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "history.tsv")

	entry := Entry{
		ID:        "dQw4w9WgXcQ",
		Title:     "Never Gonna Give You Up",
		Position:  120,
		Duration:  213,
		WatchedAt: time.Unix(1700000000, 0),
	}
	if err := Save(path, entry); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	entries, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	got := entries[0]
	if got.ID != entry.ID || got.Title != entry.Title {
		t.Errorf("got %+v", got)
	}
	if got.Position != entry.Position || got.Duration != entry.Duration {
		t.Errorf("Position/Duration = %f/%f", got.Position, got.Duration)
	}
	if !got.WatchedAt.Equal(entry.WatchedAt) {
		t.Errorf("WatchedAt = %v", got.WatchedAt)
	}
}

func TestSaveMovesToEnd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.tsv")

	Save(path, Entry{ID: "a", Title: "A", Position: 100})
	Save(path, Entry{ID: "b", Title: "B"})
	Save(path, Entry{ID: "a", Title: "A", Position: 500})

	entries, _ := Load(path)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries after update, got %d", len(entries))
	}
	if entries[1].ID != "a" || entries[1].Position != 500 {
		t.Errorf("latest entry = %+v", entries[1])
	}
}

func TestSaveBounded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.tsv")
	for i := 0; i < MaxEntries+5; i++ {
		if err := Save(path, Entry{ID: string(rune('A'+i%26)) + time.Duration(i).String(), Title: "x"}); err != nil {
			t.Fatal(err)
		}
	}
	entries, _ := Load(path)
	if len(entries) != MaxEntries {
		t.Errorf("len = %d, want %d", len(entries), MaxEntries)
	}
}

func TestRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.tsv")

	Save(path, Entry{ID: "a", Title: "A"})
	Save(path, Entry{ID: "b", Title: "B"})

	if err := Remove(path, "a"); err != nil {
		t.Fatal(err)
	}

	entries, _ := Load(path)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry after remove, got %d", len(entries))
	}
	if entries[0].ID != "b" {
		t.Errorf("remaining entry ID = %q, want b", entries[0].ID)
	}
	if _, ok := Find(entries, "a"); ok {
		t.Error("removed entry still found")
	}
}

func TestLoadSkipsMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.tsv")
	content := "# comment\nbroken line\nid1\tTitle\t10\t20\t1700000000\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	entries, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].ID != "id1" {
		t.Errorf("entries = %+v", entries)
	}
}

func TestFormatForDisplay(t *testing.T) {
	entries := []Entry{
		{Title: "Video A", Position: 500, Duration: 1000},
		{Title: "Video B"},
	}

	items := FormatForDisplay(entries)
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0] != "Video B" {
		t.Errorf("most recent first: items[0] = %q", items[0])
	}
	if items[1] != "Video A [50%]" {
		t.Errorf("display = %q, want 'Video A [50%%]'", items[1])
	}
}

func TestFormatLine(t *testing.T) {
	entry := Entry{
		ID:        "dQw4w9WgXcQ",
		Title:     "Tab\tTitle",
		Position:  100,
		Duration:  200,
		WatchedAt: time.Unix(5, 0),
	}

	line := formatLine(entry)
	expected := "dQw4w9WgXcQ\tTab Title\t100\t200\t5"
	if line != expected {
		t.Errorf("formatLine = %q, want %q", line, expected)
	}

	parsed, err := parseLine(line)
	if err != nil {
		t.Fatalf("parseLine error: %v", err)
	}
	if parsed.ID != entry.ID || parsed.Position != entry.Position {
		t.Errorf("parsed = %+v", parsed)
	}
}
