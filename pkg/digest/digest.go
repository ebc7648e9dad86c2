package digest

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"xdigest/pkg/models"
)

// Extension is the file extension of every digest artifact
const Extension = ".txt"

// ErrInvalidName is returned for artifact names that are not <uuid>.txt
var ErrInvalidName = errors.New("invalid digest name")

// Render serializes posts as "Post {i}:\n{body}\n\n" blocks with 1-based indices
func Render(posts []models.Post) []byte {
	var buf bytes.Buffer
	for i, p := range posts {
		buf.WriteString("Post ")
		buf.WriteString(strconv.Itoa(i + 1))
		buf.WriteString(":\n")
		buf.WriteString(p.Body)
		buf.WriteString("\n\n")
	}
	return buf.Bytes()
}

// Writer stores digest artifacts under a directory
type Writer struct {
	dir string
}

// NewWriter creates the directory if needed
func NewWriter(dir string) (*Writer, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create digest directory: %w", err)
	}
	return &Writer{dir: dir}, nil
}

// Dir returns the artifact directory
func (w *Writer) Dir() string {
	return w.dir
}

// Write renders posts into a new uniquely named file and returns its path.
// The file appears atomically: it is written under a temporary name first.
func (w *Writer) Write(posts []models.Post) (string, error) {
	name := uuid.NewString() + Extension
	path := filepath.Join(w.dir, name)

	tmp, err := os.CreateTemp(w.dir, "."+name+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpName := tmp.Name()

	_, err = tmp.Write(Render(posts))
	closeErr := tmp.Close()
	if err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to write digest: %w", err)
	}
	if closeErr != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to close digest: %w", closeErr)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to rename digest: %w", err)
	}
	return path, nil
}

// Path resolves an artifact name to its path, rejecting anything that is not
// a bare <uuid>.txt name.
func (w *Writer) Path(name string) (string, error) {
	if filepath.Base(name) != name || !strings.HasSuffix(name, Extension) {
		return "", ErrInvalidName
	}
	if _, err := uuid.Parse(strings.TrimSuffix(name, Extension)); err != nil {
		return "", ErrInvalidName
	}
	return filepath.Join(w.dir, name), nil
}

// Cleanup removes artifacts older than maxAge and returns how many were removed
func (w *Writer) Cleanup(maxAge time.Duration, now time.Time) (int, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read digest directory: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, err := w.Path(entry.Name()); err != nil {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) < maxAge {
			continue
		}
		if err := os.Remove(filepath.Join(w.dir, entry.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}
