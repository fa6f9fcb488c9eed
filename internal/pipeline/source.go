package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// Source selects files below Dir.
type Source struct {
	Dir string
	// Patterns are doublestar globs relative to Dir, e.g. "**/*.{js,css}".
	Patterns []string
	// Ignore drops matches that match any of these globs.
	Ignore []string
	// Since, when non-zero, keeps only files modified after it.
	Since time.Time
}

// Match reports whether rel (slash separated, relative to Dir) is selected
// by the patterns and not ignored.
func (s Source) Match(rel string) bool {
	rel = filepath.ToSlash(rel)
	matched := false
	for _, p := range s.Patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}
	for _, p := range s.Ignore {
		if ok, _ := doublestar.Match(p, rel); ok {
			return false
		}
	}
	return true
}

// Read loads every selected regular file in lexical order. A missing Dir
// yields no files.
func (s Source) Read(ctx context.Context) ([]*File, error) {
	for _, p := range append(append([]string{}, s.Patterns...), s.Ignore...) {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid glob %q: %w", p, doublestar.ErrBadPattern)
		}
	}
	if _, err := os.Stat(s.Dir); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	fsys := os.DirFS(s.Dir)
	seen := make(map[string]bool)
	var rels []string
	for _, p := range s.Patterns {
		matches, err := doublestar.Glob(fsys, p, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("glob %q in %s: %w", p, s.Dir, err)
		}
		for _, m := range matches {
			if seen[m] || !s.Match(m) {
				continue
			}
			seen[m] = true
			rels = append(rels, m)
		}
	}
	sort.Strings(rels)

	files := make([]*File, 0, len(rels))
	for _, rel := range rels {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := filepath.Join(s.Dir, filepath.FromSlash(rel))
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if !s.Since.IsZero() && !info.ModTime().After(s.Since) {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		files = append(files, &File{
			Base:     s.Dir,
			Path:     path,
			Contents: data,
			ModTime:  info.ModTime(),
			Mode:     info.Mode(),
		})
	}
	return files, nil
}
