// Package task defines the assetpipe tasks and the targets composed from
// them.
package task

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dshills/assetpipe/internal/config"
	"github.com/dshills/assetpipe/internal/dag"
	"github.com/dshills/assetpipe/internal/event"
	"github.com/dshills/assetpipe/internal/logging"
	"github.com/dshills/assetpipe/internal/paths"
	"github.com/dshills/assetpipe/internal/pipeline"
	"github.com/dshills/assetpipe/internal/transform"
)

// Task names.
const (
	Clean   = "clean"
	HTML    = "html"
	EJS     = "ejs"
	Styles  = "scss:compile"
	Scripts = "js"
	Lib     = "lib"
	JSON    = "json"
	Images  = "images"
	SVG     = "svg"
	Fonts   = "fonts"
	Videos  = "videos"
	Sample  = "sample"
	Serve   = "serve"
	Watch   = "watch"
)

// Target names beyond single tasks.
const (
	TargetDefault = "default"
	TargetBuild   = "build"
	TargetCompile = "compile"
)

// Sequence is the order build runs the transform tasks in.
var Sequence = []string{HTML, EJS, Styles, Scripts, Lib, JSON, Images, SVG, Fonts, Videos, Sample}

// Def describes a task.
type Def struct {
	Name        string
	Category    string
	Description string
	Run         dag.RunFunc
}

// Deps are the collaborators tasks need.
type Deps struct {
	Config    *config.Config
	Registry  *paths.Registry
	Publisher event.Publisher
	Compiler  transform.StyleCompiler
	Logger    *logging.Logger
}

// Set holds the task definitions of one process.
type Set struct {
	cfg       *config.Config
	reg       *paths.Registry
	publisher event.Publisher
	compiler  transform.StyleCompiler
	log       *logging.Logger

	mu      sync.Mutex
	defs    map[string]*Def
	locks   map[string]*sync.Mutex
	lastRun map[string]time.Time
}

// New defines the clean task and every transform task. Serve and watch are
// added by the caller with Register.
func New(d Deps) (*Set, error) {
	if d.Config == nil || d.Registry == nil {
		return nil, errors.New("task: config and registry are required")
	}
	s := &Set{
		cfg:       d.Config,
		reg:       d.Registry,
		publisher: d.Publisher,
		compiler:  d.Compiler,
		log:       d.Logger,
		defs:      make(map[string]*Def),
		locks:     make(map[string]*sync.Mutex),
		lastRun:   make(map[string]time.Time),
	}
	if s.publisher == nil {
		s.publisher = event.Discard
	}
	if s.log == nil {
		s.log = logging.Nop()
	}
	s.log = s.log.WithComponent("task")

	if err := s.Register(Clean, "", "remove the output tree", s.clean); err != nil {
		return nil, err
	}
	for _, def := range s.transforms() {
		if _, err := s.reg.Lookup(def.Category); err != nil {
			return nil, fmt.Errorf("task %s: %w", def.Name, err)
		}
		if err := s.Register(def.Name, def.Category, def.Description, def.Run); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Register adds a task.
func (s *Set) Register(name, category, description string, run dag.RunFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.defs[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, name)
	}
	s.defs[name] = &Def{Name: name, Category: category, Description: description, Run: run}
	s.locks[name] = &sync.Mutex{}
	return nil
}

// Lookup returns the run function of a task. Runs of the same task never
// overlap.
func (s *Set) Lookup(name string) (dag.RunFunc, bool) {
	s.mu.Lock()
	def, ok := s.defs[name]
	lock := s.locks[name]
	s.mu.Unlock()
	if !ok {
		return nil, false
	}
	return func(ctx context.Context) error {
		lock.Lock()
		defer lock.Unlock()
		return def.Run(ctx)
	}, true
}

// Run executes one task directly.
func (s *Set) Run(ctx context.Context, name string) error {
	run, ok := s.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	return run(ctx)
}

// Has reports whether name is a defined task.
func (s *Set) Has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.defs[name]
	return ok
}

// Defs returns every task sorted by name.
func (s *Set) Defs() []Def {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Def, 0, len(s.defs))
	for _, d := range s.defs {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Target returns the composition for a target or task name.
func (s *Set) Target(name string) (dag.Composition, error) {
	compile := dag.Series(dag.Tasks(Sequence...)...)
	build := dag.Series(compile, dag.Parallel(dag.Task(Serve), dag.Task(Watch)))
	switch name {
	case TargetDefault:
		return dag.Series(dag.Task(Clean), build), nil
	case TargetBuild:
		return build, nil
	case TargetCompile:
		return compile, nil
	}
	if s.Has(name) {
		return dag.Task(name), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownTask, name)
}

// Targets lists the composite targets with a short description.
func Targets() map[string]string {
	return map[string]string{
		TargetDefault: "clean, then build",
		TargetBuild:   "every transform task in sequence, then serve and watch",
		TargetCompile: "every transform task in sequence",
	}
}

// Graph flattens the named targets, run in order, into one graph.
func (s *Set) Graph(names ...string) (*dag.Graph, error) {
	if len(names) == 0 {
		names = []string{TargetDefault}
	}
	parts := make([]dag.Composition, 0, len(names))
	for _, n := range names {
		c, err := s.Target(n)
		if err != nil {
			return nil, err
		}
		parts = append(parts, c)
	}
	return dag.Flatten(dag.Series(parts...), s.Lookup)
}

func (s *Set) publish(ctx context.Context, name string, written []string) {
	if len(written) == 0 {
		return
	}
	ev := event.New(event.ReloadTopic(written), name, written...)
	if err := s.publisher.Publish(ctx, ev); err != nil && !errors.Is(err, event.ErrBusClosed) {
		s.log.Debug("reload not published", "task", name, "error", err)
	}
}

func (s *Set) markRun(name string, at time.Time) {
	s.mu.Lock()
	s.lastRun[name] = at
	s.mu.Unlock()
}

// LastRun returns when name last completed successfully, measured from its
// start.
func (s *Set) LastRun(name string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun[name]
}

// wrap converts pipeline failures into task errors.
func wrap(name string, err error) error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return err
	}
	var se *pipeline.StepError
	if errors.As(err, &se) {
		return &Error{Task: name, Path: se.Path, Err: se.Err}
	}
	return &Error{Task: name, Err: err}
}
