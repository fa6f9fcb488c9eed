// Package paths holds the Path Registry: the fixed mapping from asset
// category to source and destination directories.
package paths

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dshills/assetpipe/internal/config"
)

// Errors returned by the registry.
var (
	// ErrUnknownCategory is returned when a category has no entry.
	ErrUnknownCategory = errors.New("unknown category")

	// ErrOverlap is returned when two destinations are not disjoint.
	ErrOverlap = errors.New("overlapping destinations")

	// ErrInvalidEntry is returned for an entry missing required fields.
	ErrInvalidEntry = errors.New("invalid path entry")
)

// Entry maps one asset category to its directories.
type Entry struct {
	Category string
	Source   string
	Dest     string
	// Mirror entries write into the whole output tree and are exempt from
	// the disjointness check.
	Mirror bool
}

// RegistryError describes why an entry was rejected.
type RegistryError struct {
	Category string
	Other    string
	Err      error
}

// Error implements the error interface.
func (e *RegistryError) Error() string {
	if e.Other != "" {
		return fmt.Sprintf("paths: %s and %s: %v", e.Category, e.Other, e.Err)
	}
	return fmt.Sprintf("paths: %s: %v", e.Category, e.Err)
}

// Unwrap returns the underlying error.
func (e *RegistryError) Unwrap() error {
	return e.Err
}

// Registry is an immutable set of entries keyed by category.
type Registry struct {
	entries map[string]Entry
	names   []string
}

// New builds a registry. Source and Dest are cleaned; destinations of
// non-mirror entries must be pairwise disjoint.
func New(entries ...Entry) (*Registry, error) {
	r := &Registry{entries: make(map[string]Entry, len(entries))}
	for _, e := range entries {
		if e.Category == "" || e.Source == "" || e.Dest == "" {
			return nil, &RegistryError{Category: e.Category, Err: ErrInvalidEntry}
		}
		if _, dup := r.entries[e.Category]; dup {
			return nil, &RegistryError{Category: e.Category, Err: fmt.Errorf("%w: duplicate category", ErrInvalidEntry)}
		}
		e.Source = filepath.Clean(e.Source)
		e.Dest = filepath.Clean(e.Dest)
		r.entries[e.Category] = e
		r.names = append(r.names, e.Category)
	}
	sort.Strings(r.names)

	for i, a := range r.names {
		ea := r.entries[a]
		if ea.Mirror {
			continue
		}
		for _, b := range r.names[i+1:] {
			eb := r.entries[b]
			if eb.Mirror {
				continue
			}
			if Within(ea.Dest, eb.Dest) || Within(eb.Dest, ea.Dest) {
				return nil, &RegistryError{Category: a, Other: b, Err: ErrOverlap}
			}
		}
	}
	return r, nil
}

// FromConfig builds the registry from configuration, resolving category
// directories against the source and output trees.
func FromConfig(cfg *config.Config) (*Registry, error) {
	src, dist := cfg.SrcDir(), cfg.DistDir()
	entries := make([]Entry, 0, len(cfg.Paths.Categories))
	for name, c := range cfg.Paths.Categories {
		entries = append(entries, Entry{
			Category: name,
			Source:   filepath.Join(src, c.Source),
			Dest:     filepath.Join(dist, c.Dest),
			Mirror:   c.Mirror,
		})
	}
	return New(entries...)
}

// Lookup returns the entry for category.
func (r *Registry) Lookup(category string) (Entry, error) {
	e, ok := r.entries[category]
	if !ok {
		return Entry{}, &RegistryError{Category: category, Err: ErrUnknownCategory}
	}
	return e, nil
}

// Has reports whether category is registered.
func (r *Registry) Has(category string) bool {
	_, ok := r.entries[category]
	return ok
}

// Entries returns every entry in category order.
func (r *Registry) Entries() []Entry {
	out := make([]Entry, 0, len(r.names))
	for _, n := range r.names {
		out = append(out, r.entries[n])
	}
	return out
}

// Within reports whether path equals dir or lies beneath it.
func Within(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
