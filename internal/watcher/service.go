package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/dshills/assetpipe/internal/config"
	"github.com/dshills/assetpipe/internal/logging"
	"github.com/dshills/assetpipe/internal/paths"
)

// Runner runs a task by name. *task.Set satisfies it.
type Runner interface {
	Has(name string) bool
	Run(ctx context.Context, name string) error
}

// ErrUnknownTask is returned by New for a binding whose task the runner
// does not define.
var ErrUnknownTask = errors.New("unknown task")

// Binding is a watch binding resolved against the path registry.
type Binding struct {
	Category string
	Glob     string
	Task     string
	// Dir is the absolute source directory of Category.
	Dir string
}

// Match reports whether path, absolute, is below Dir and matches Glob.
func (b Binding) Match(path string) bool {
	if !paths.Within(path, b.Dir) {
		return false
	}
	rel, err := filepath.Rel(b.Dir, path)
	if err != nil || rel == "." {
		return false
	}
	ok, _ := doublestar.Match(b.Glob, filepath.ToSlash(rel))
	return ok
}

// Options configures a Service.
type Options struct {
	Registry *paths.Registry
	Bindings []config.WatchBinding
	Debounce time.Duration
	Runner   Runner
	Logger   *logging.Logger
	// Root bounds the search for an existing parent of a missing source
	// directory. Empty means no bound.
	Root string

	// WatcherOptions configure the default fsnotify watcher.
	WatcherOptions []Option
	// NewWatcher creates the underlying file watcher. Defaults to an
	// fsnotify watcher.
	NewWatcher func() (Watcher, error)
}

// Service watches source directories and runs the bound tasks.
type Service struct {
	bindings []Binding
	inert    []config.WatchBinding
	debounce time.Duration
	runner   Runner
	log      *logging.Logger
	root     string
	newW     func() (Watcher, error)

	mu   sync.Mutex
	runs map[string]int
}

// New resolves bindings against the registry. Bindings naming a category
// the registry does not know are logged and kept inert.
func New(opts Options) (*Service, error) {
	if opts.Registry == nil || opts.Runner == nil {
		return nil, errors.New("watcher: registry and runner are required")
	}
	s := &Service{
		debounce: opts.Debounce,
		runner:   opts.Runner,
		log:      opts.Logger,
		root:     opts.Root,
		newW:     opts.NewWatcher,
		runs:     make(map[string]int),
	}
	if s.log == nil {
		s.log = logging.Nop()
	}
	s.log = s.log.WithComponent("watcher")
	if s.newW == nil {
		wopts := opts.WatcherOptions
		s.newW = func() (Watcher, error) { return NewFSNotifyWatcher(wopts...) }
	}

	for _, wb := range opts.Bindings {
		if !doublestar.ValidatePattern(wb.Glob) {
			return nil, fmt.Errorf("watch binding %s: %w: %q", wb.Task, doublestar.ErrBadPattern, wb.Glob)
		}
		if !s.runner.Has(wb.Task) {
			return nil, fmt.Errorf("watch binding %s: %w: %s", wb.Category, ErrUnknownTask, wb.Task)
		}
		entry, err := opts.Registry.Lookup(wb.Category)
		if err != nil {
			s.log.Warn("watch binding references unregistered category",
				"category", wb.Category, "task", wb.Task)
			s.inert = append(s.inert, wb)
			continue
		}
		s.bindings = append(s.bindings, Binding{
			Category: wb.Category,
			Glob:     wb.Glob,
			Task:     wb.Task,
			Dir:      entry.Source,
		})
	}
	return s, nil
}

// Bindings returns the active bindings.
func (s *Service) Bindings() []Binding {
	return append([]Binding(nil), s.bindings...)
}

// Inert returns the bindings that reference unregistered categories.
func (s *Service) Inert() []config.WatchBinding {
	return append([]config.WatchBinding(nil), s.inert...)
}

// Runs returns how many times the watcher has run task.
func (s *Service) Runs(task string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[task]
}

// Run watches until ctx is cancelled. Task failures are logged and do not
// stop the watch.
func (s *Service) Run(ctx context.Context) error {
	inner, err := s.newW()
	if err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}
	w := NewDebouncedWatcher(inner, s.debounce)
	defer w.Close()
	defer func() {
		st := w.Stats()
		s.log.Debug("watch stopped",
			"paths", st.WatchedPaths, "events", st.TotalEvents, "errors", st.Errors)
	}()

	watched := make(map[string]bool)
	for _, b := range s.bindings {
		dir := b.Dir
		if !isDir(dir) {
			parent, ok := existingParent(dir, s.root)
			if !ok {
				s.log.Warn("source directory missing, not watched", "category", b.Category, "dir", dir)
				continue
			}
			s.log.Info("source directory missing, watching parent",
				"category", b.Category, "dir", dir, "parent", parent)
			dir = parent
		}
		if watched[dir] {
			continue
		}
		watched[dir] = true
		if err := w.WatchRecursive(dir); err != nil {
			if errors.Is(err, ErrPathNotExist) {
				s.log.Warn("source directory vanished, not watched", "category", b.Category, "dir", dir)
				continue
			}
			return fmt.Errorf("watching %s: %w", dir, err)
		}
	}

	// Each binding owns a queue of one: a trigger arriving while its task
	// runs is kept, any further trigger is dropped.
	ctx, cancel := context.WithCancel(ctx)
	triggers := make([]chan struct{}, len(s.bindings))
	var wg sync.WaitGroup
	for i, b := range s.bindings {
		triggers[i] = make(chan struct{}, 1)
		wg.Add(1)
		go func(b Binding, ch <-chan struct{}) {
			defer wg.Done()
			s.dispatch(ctx, b, ch)
		}(b, triggers[i])
	}
	defer wg.Wait()
	defer cancel()

	s.log.Info("watching", "bindings", len(s.bindings), "dirs", len(watched))
	errs := w.Errors()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events():
			if !ok {
				return nil
			}
			if ev.Op == OpChmod {
				continue
			}
			for i, b := range s.bindings {
				if !b.Match(ev.Path) {
					continue
				}
				select {
				case triggers[i] <- struct{}{}:
				default:
				}
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			s.log.Warn("watch error", "error", err)
		}
	}
}

func (s *Service) dispatch(ctx context.Context, b Binding, triggers <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-triggers:
		}
		if ctx.Err() != nil {
			return
		}
		s.mu.Lock()
		s.runs[b.Task]++
		s.mu.Unlock()

		start := time.Now()
		if err := s.runner.Run(ctx, b.Task); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Error("task failed", "task", b.Task, "error", err)
			continue
		}
		s.log.Info("rebuilt", "task", b.Task, "duration", time.Since(start).String())
	}
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// existingParent returns the nearest existing ancestor of dir that is still
// within root. Watching it recursively picks dir up once it is created.
func existingParent(dir, root string) (string, bool) {
	for d := filepath.Dir(dir); ; d = filepath.Dir(d) {
		if root != "" && !paths.Within(d, root) {
			return "", false
		}
		if isDir(d) {
			return d, true
		}
		if filepath.Dir(d) == d {
			return "", false
		}
	}
}
