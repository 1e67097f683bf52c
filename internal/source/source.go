package source

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
)

const sqlExtension = ".sql"

var (
	// ErrSourceUnavailable indicates the migration directory could not be read.
	ErrSourceUnavailable = errors.New("migration source unavailable")

	// ErrRead indicates a candidate file vanished or became unreadable
	// between discovery and apply time.
	ErrRead = errors.New("migration file unreadable")
)

// Source discovers candidate migration files from a filesystem. It accepts
// any fs.FS so callers can pass os.DirFS for a real directory or an
// in-memory filesystem in tests.
type Source struct {
	fsys fs.FS
}

func New(fsys fs.FS) *Source {
	return &Source{fsys: fsys}
}

// NewDir creates a Source rooted at a directory on the local filesystem.
func NewDir(dir string) *Source {
	return &Source{fsys: os.DirFS(dir)}
}

// List returns the filenames of all candidate migrations, sorted in
// byte-wise ascending order. A directory with no candidates yields an
// empty slice, not an error.
func (s *Source) List() ([]string, error) {
	entries, err := fs.ReadDir(s.fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !strings.HasSuffix(entry.Name(), sqlExtension) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	return names, nil
}

// ReadBody returns the raw SQL text of one candidate. Bodies are always
// read fresh from the filesystem, never cached across runs.
func (s *Source) ReadBody(filename string) (string, error) {
	body, err := fs.ReadFile(s.fsys, filename)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrRead, filename, err)
	}
	return string(body), nil
}
