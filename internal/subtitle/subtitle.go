// Package subtitle picks caption tracks and fetches them for the player.
// Files go to an os.MkdirTemp directory with a random suffix, never a
// predictable /tmp path.
package subtitle

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"vidgrab/internal/httputil"
	"vidgrab/internal/media"
)

// maxSize bounds a downloaded caption file.
const maxSize = 10 << 20

// Filter returns subtitles matching the preferred language (case-insensitive).
// A code such as "en" matches "en" and "en-GB"; a name such as "english"
// is matched against track labels.
func Filter(subtitles []media.Subtitle, language string) []media.Subtitle {
	if language == "" {
		return subtitles
	}

	lang := strings.ToLower(language)
	byCode := len(lang) <= 3 || strings.Contains(lang, "-")
	var matched []media.Subtitle

	for _, sub := range subtitles {
		var ok bool
		if byCode {
			code := strings.ToLower(sub.Language)
			ok = code == lang || strings.HasPrefix(code, lang+"-")
		} else {
			ok = strings.Contains(strings.ToLower(sub.Label), lang)
		}
		if ok {
			matched = append(matched, sub)
		}
	}

	return matched
}

// BestMatch returns the best matching subtitle for the given language.
// Prefers an exact language code, then human-made tracks over
// auto-generated ones.
func BestMatch(subtitles []media.Subtitle, language string) *media.Subtitle {
	filtered := Filter(subtitles, language)
	if len(filtered) == 0 {
		return nil
	}

	lang := strings.ToLower(language)
	best, bestScore := 0, -1
	for i, sub := range filtered {
		score := 0
		if strings.ToLower(sub.Language) == lang {
			score += 2
		}
		if !sub.Auto {
			score++
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return &filtered[best]
}

// TempDir manages a secure temporary directory for subtitle files.
type TempDir struct {
	path string
}

// NewTempDir creates a randomized temporary directory for subtitle files.
func NewTempDir() (*TempDir, error) {
	dir, err := os.MkdirTemp("", "vidgrab-subs-*")
	if err != nil {
		return nil, fmt.Errorf("creating subtitle temp dir: %w", err)
	}
	return &TempDir{path: dir}, nil
}

// Cleanup removes the temporary directory and all contents.
func (t *TempDir) Cleanup() {
	if t.path != "" {
		os.RemoveAll(t.path)
	}
}

// Download fetches a subtitle file to the temp directory and returns the local path.
func (t *TempDir) Download(ctx context.Context, client *http.Client, sub media.Subtitle) (string, error) {
	if err := httputil.ValidateURL(sub.URL); err != nil {
		return "", fmt.Errorf("invalid subtitle URL: %w", err)
	}

	ext := sub.Ext
	if ext == "" {
		ext = "vtt"
	}
	lang := sub.Language
	if lang == "" {
		lang = "subtitle"
	}
	localPath := filepath.Join(t.path, httputil.SanitizeFilename(lang+"."+ext))

	req, err := httputil.NewRequest(ctx, http.MethodGet, sub.URL, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("downloading subtitle: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("subtitle download returned status %d", resp.StatusCode)
	}

	f, err := os.Create(localPath)
	if err != nil {
		return "", fmt.Errorf("creating subtitle file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, io.LimitReader(resp.Body, maxSize)); err != nil {
		return "", fmt.Errorf("writing subtitle file: %w", err)
	}

	return localPath, nil
}
