// Package notes implements quick note capture: timestamped markdown
// files appended under a single directory, with HTML rendering for the
// monitor. Notes are written both by the capture_note tool and by
// callers directly.
package notes

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/yuin/goldmark"
)

// Store manages a notes directory. The zero value is not usable; call
// NewStore.
type Store struct {
	dir string
}

// NewStore creates the notes directory if needed and returns a store.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("notes directory not configured")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create notes dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// slugPattern strips everything that doesn't belong in a filename.
var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// slugify converts a title to a short filename-safe slug.
func slugify(title string) string {
	s := slugPattern.ReplaceAllString(strings.ToLower(title), "-")
	s = strings.Trim(s, "-")
	if len(s) > 40 {
		s = s[:40]
	}
	if s == "" {
		s = "note"
	}
	return s
}

// Capture writes a new note file named by timestamp and title slug,
// returning the file path. The title becomes the H1; the body is
// stored verbatim below it.
func (s *Store) Capture(title, body string) (string, error) {
	name := fmt.Sprintf("%s-%s.md", time.Now().Format("20060102-150405"), slugify(title))
	path := filepath.Join(s.dir, name)

	content := fmt.Sprintf("# %s\n\n%s\n", title, body)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write note: %w", err)
	}
	return path, nil
}

// Note is one captured note.
type Note struct {
	Name    string
	Path    string
	ModTime time.Time
}

// List returns all notes, newest first.
func (s *Store) List() ([]Note, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read notes dir: %w", err)
	}

	var out []Note
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Note{
			Name:    e.Name(),
			Path:    filepath.Join(s.dir, e.Name()),
			ModTime: info.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModTime.After(out[j].ModTime) })
	return out, nil
}

// RenderHTML renders one note's markdown to HTML.
func (s *Store) RenderHTML(name string) (string, error) {
	// Notes are always flat files directly in the dir; reject path
	// tricks before touching the filesystem.
	if name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid note name: %q", name)
	}

	raw, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return "", fmt.Errorf("read note: %w", err)
	}

	var buf bytes.Buffer
	if err := goldmark.Convert(raw, &buf); err != nil {
		return "", fmt.Errorf("render note: %w", err)
	}
	return buf.String(), nil
}
