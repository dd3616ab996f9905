// Package history records played videos and their last position in a TSV
// file so playback can resume. Writes are atomic (temp file + rename).
package history

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// TSV columns: id, title, position, duration, watched_at
const numColumns = 5

// MaxEntries bounds the file; the oldest entries are dropped first.
const MaxEntries = 200

// Entry is one played video.
type Entry struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Position  float64   `json:"position"` // seconds
	Duration  float64   `json:"duration"` // seconds
	WatchedAt time.Time `json:"watched_at"`
}

// Load reads the history file, oldest entry first. A missing file is empty.
func Load(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening history: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		entry, err := parseLine(line)
		if err != nil {
			continue // Skip malformed lines
		}
		entries = append(entries, entry)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}

	return entries, nil
}

// Find returns the entry for id.
func Find(entries []Entry, id string) (Entry, bool) {
	for _, e := range entries {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

// Save records entry as the most recent, replacing any earlier entry for
// the same video.
func Save(path string, entry Entry) error {
	entries, err := Load(path)
	if err != nil {
		return err
	}

	kept := entries[:0]
	for _, e := range entries {
		if e.ID != entry.ID {
			kept = append(kept, e)
		}
	}
	kept = append(kept, entry)
	if len(kept) > MaxEntries {
		kept = kept[len(kept)-MaxEntries:]
	}
	return write(path, kept)
}

// Remove deletes the entry for id.
func Remove(path, id string) error {
	entries, err := Load(path)
	if err != nil {
		return err
	}

	var filtered []Entry
	for _, e := range entries {
		if e.ID != id {
			filtered = append(filtered, e)
		}
	}
	return write(path, filtered)
}

func write(path string, entries []Entry) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating history dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "history-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	writer := bufio.NewWriter(tmpFile)
	for _, e := range entries {
		if _, err := writer.WriteString(formatLine(e) + "\n"); err != nil {
			tmpFile.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("writing history: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("flushing history: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming history file: %w", err)
	}
	return nil
}

// FormatForDisplay creates display strings for fzf, most recent first.
func FormatForDisplay(entries []Entry) []string {
	items := make([]string, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		display := e.Title
		if e.Position > 0 && e.Duration > 0 {
			display += fmt.Sprintf(" [%.0f%%]", (e.Position/e.Duration)*100)
		}
		items = append(items, display)
	}
	return items
}

// parseLine parses a TSV line into an Entry.
func parseLine(line string) (Entry, error) {
	fields := strings.Split(line, "\t")
	if len(fields) < numColumns {
		return Entry{}, fmt.Errorf("expected %d columns, got %d", numColumns, len(fields))
	}

	position, _ := strconv.ParseFloat(fields[2], 64)
	duration, _ := strconv.ParseFloat(fields[3], 64)
	watched, _ := strconv.ParseInt(fields[4], 10, 64)

	return Entry{
		ID:        fields[0],
		Title:     fields[1],
		Position:  position,
		Duration:  duration,
		WatchedAt: time.Unix(watched, 0),
	}, nil
}

// formatLine converts an Entry to a TSV line. Tabs and newlines in titles
// would break the format, so they become spaces.
func formatLine(e Entry) string {
	title := strings.NewReplacer("\t", " ", "\n", " ", "\r", " ").Replace(e.Title)
	return strings.Join([]string{
		e.ID,
		title,
		strconv.FormatFloat(e.Position, 'f', 0, 64),
		strconv.FormatFloat(e.Duration, 'f', 0, 64),
		strconv.FormatInt(e.WatchedAt.Unix(), 10),
	}, "\t")
}
