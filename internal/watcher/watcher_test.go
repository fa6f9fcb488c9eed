package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dshills/assetpipe/internal/config"
	"github.com/dshills/assetpipe/internal/paths"
)

type fakeWatcher struct {
	mu      sync.Mutex
	dirs    []string
	events  chan Event
	errors  chan error
	closeMu sync.Once
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{events: make(chan Event, 16), errors: make(chan error, 1)}
}

func (f *fakeWatcher) WatchRecursive(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirs = append(f.dirs, path)
	return nil
}

func (f *fakeWatcher) Events() <-chan Event { return f.events }
func (f *fakeWatcher) Errors() <-chan error { return f.errors }
func (f *fakeWatcher) Stats() Stats         { return Stats{} }

func (f *fakeWatcher) Close() error {
	f.closeMu.Do(func() {
		close(f.events)
		close(f.errors)
	})
	return nil
}

func (f *fakeWatcher) watched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.dirs...)
}

type countingRunner struct {
	mu    sync.Mutex
	runs  map[string]int
	block chan struct{}
	// started receives the task name each time a run begins.
	started chan string
	// known limits the defined tasks. Nil defines every name.
	known map[string]bool
}

func (r *countingRunner) Has(name string) bool {
	return r.known == nil || r.known[name]
}

func newCountingRunner() *countingRunner {
	return &countingRunner{runs: make(map[string]int), started: make(chan string, 16)}
}

func (r *countingRunner) Run(ctx context.Context, name string) error {
	r.mu.Lock()
	r.runs[name]++
	r.mu.Unlock()
	r.started <- name
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (r *countingRunner) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs[name]
}

func testRegistry(t *testing.T, root string) *paths.Registry {
	t.Helper()
	for _, dir := range []string{"src/assets/js", "src/assets/scss"} {
		if err := os.MkdirAll(filepath.Join(root, filepath.FromSlash(dir)), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	return missingRegistry(t, root)
}

// missingRegistry registers the script and style sources without creating
// them.
func missingRegistry(t *testing.T, root string) *paths.Registry {
	t.Helper()
	reg, err := paths.New(
		paths.Entry{Category: config.CategoryScripts, Source: filepath.Join(root, "src/assets/js"), Dest: filepath.Join(root, "dist/assets/js")},
		paths.Entry{Category: config.CategoryStyles, Source: filepath.Join(root, "src/assets/scss"), Dest: filepath.Join(root, "dist/assets/css")},
	)
	if err != nil {
		t.Fatal(err)
	}
	return reg
}

func waitStarted(t *testing.T, r *countingRunner) string {
	t.Helper()
	select {
	case name := <-r.started:
		return name
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a task run")
		return ""
	}
}

func expectNoStart(t *testing.T, r *countingRunner, d time.Duration) {
	t.Helper()
	select {
	case name := <-r.started:
		t.Fatalf("unexpected run of %s", name)
	case <-time.After(d):
	}
}

func TestBinding_Match(t *testing.T) {
	dir := filepath.FromSlash("/site/src/assets/js")
	tests := []struct {
		glob string
		path string
		want bool
	}{
		{"**/*.js", "/site/src/assets/js/app.js", true},
		{"**/*.js", "/site/src/assets/js/vendor/x.js", true},
		{"**/*.js", "/site/src/assets/js/app.ts", false},
		{"**/*.js", "/site/src/assets/scss/app.js", false},
		{"*", "/site/src/assets/js/app.js", true},
		{"*", "/site/src/assets/js/sub/app.js", false},
		{"**/*.js", "/site/src/assets/js", false},
		{"**/*.{js,css}", "/site/src/assets/js/a.css", true},
	}
	for _, tt := range tests {
		b := Binding{Glob: tt.glob, Dir: dir}
		if got := b.Match(filepath.FromSlash(tt.path)); got != tt.want {
			t.Errorf("Match(%q, %q) = %v, want %v", tt.glob, tt.path, got, tt.want)
		}
	}
}

func TestNew_UnregisteredCategoryIsInert(t *testing.T) {
	reg := testRegistry(t, t.TempDir())
	s, err := New(Options{
		Registry: reg,
		Runner:   newCountingRunner(),
		Bindings: []config.WatchBinding{
			{Category: config.CategoryScripts, Glob: "**/*.js", Task: "js"},
			{Category: "movies", Glob: "*", Task: "videos"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := len(s.Bindings()); got != 1 {
		t.Fatalf("active bindings = %d, want 1", got)
	}
	inert := s.Inert()
	if len(inert) != 1 || inert[0].Category != "movies" {
		t.Fatalf("Inert() = %+v", inert)
	}
}

func TestNew_DefaultBindingsFlagMovies(t *testing.T) {
	cfg := config.Default()
	cfg.Root = t.TempDir()
	reg, err := paths.FromConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	s, err := New(Options{Registry: reg, Runner: newCountingRunner(), Bindings: cfg.Watch.Bindings})
	if err != nil {
		t.Fatal(err)
	}
	inert := s.Inert()
	if len(inert) != 1 || inert[0].Task != "videos" {
		t.Fatalf("Inert() = %+v, want only the videos binding", inert)
	}
	if got, want := len(s.Bindings()), len(cfg.Watch.Bindings)-1; got != want {
		t.Fatalf("active bindings = %d, want %d", got, want)
	}
}

func TestNew_BadGlob(t *testing.T) {
	reg := testRegistry(t, t.TempDir())
	_, err := New(Options{
		Registry: reg,
		Runner:   newCountingRunner(),
		Bindings: []config.WatchBinding{{Category: config.CategoryScripts, Glob: "[", Task: "js"}},
	})
	if err == nil {
		t.Fatal("expected error for invalid glob")
	}
}

func TestNew_UnknownTask(t *testing.T) {
	runner := newCountingRunner()
	runner.known = map[string]bool{"js": true}
	_, err := New(Options{
		Registry: testRegistry(t, t.TempDir()),
		Runner:   runner,
		Bindings: []config.WatchBinding{
			{Category: config.CategoryScripts, Glob: "**/*.js", Task: "js"},
			{Category: config.CategoryStyles, Glob: "**/*.scss", Task: "scss"},
		},
	})
	if !errors.Is(err, ErrUnknownTask) {
		t.Fatalf("New() error = %v, want ErrUnknownTask", err)
	}
	if !strings.Contains(err.Error(), "scss") {
		t.Errorf("error should name the task: %v", err)
	}
}

func startService(t *testing.T, runner *countingRunner) (*Service, *fakeWatcher, string, func()) {
	t.Helper()
	root := t.TempDir()
	fw := newFakeWatcher()
	s, err := New(Options{
		Registry: testRegistry(t, root),
		Runner:   runner,
		Debounce: 10 * time.Millisecond,
		Bindings: []config.WatchBinding{
			{Category: config.CategoryScripts, Glob: "**/*.js", Task: "js"},
			{Category: config.CategoryStyles, Glob: "**/*.scss", Task: "scss:compile"},
		},
		NewWatcher: func() (Watcher, error) { return fw, nil },
	})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	stop := func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run() = %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("Run did not return after cancel")
		}
	}
	return s, fw, root, stop
}

func TestService_ScriptChangeRunsScriptTaskOnce(t *testing.T) {
	runner := newCountingRunner()
	s, fw, root, stop := startService(t, runner)
	defer stop()

	path := filepath.Join(root, "src/assets/js/app.js")
	fw.events <- Event{Path: path, Op: OpWrite}
	fw.events <- Event{Path: path, Op: OpWrite}

	if got := waitStarted(t, runner); got != "js" {
		t.Fatalf("ran %q, want js", got)
	}
	expectNoStart(t, runner, 100*time.Millisecond)
	if got := runner.count("js"); got != 1 {
		t.Fatalf("js runs = %d, want 1", got)
	}
	if got := runner.count("scss:compile"); got != 0 {
		t.Fatalf("scss:compile runs = %d, want 0", got)
	}
	if got := s.Runs("js"); got != 1 {
		t.Fatalf("Runs(js) = %d, want 1", got)
	}
}

func TestService_IgnoresUnmatchedAndChmod(t *testing.T) {
	runner := newCountingRunner()
	_, fw, root, stop := startService(t, runner)
	defer stop()

	fw.events <- Event{Path: filepath.Join(root, "src/assets/js/readme.md"), Op: OpWrite}
	fw.events <- Event{Path: filepath.Join(root, "src/assets/js/app.js"), Op: OpChmod}
	fw.events <- Event{Path: filepath.Join(root, "elsewhere/app.js"), Op: OpWrite}
	expectNoStart(t, runner, 100*time.Millisecond)
}

func TestService_CoalescesTriggersWhileRunning(t *testing.T) {
	runner := newCountingRunner()
	runner.block = make(chan struct{})
	_, fw, root, stop := startService(t, runner)
	defer stop()

	fw.events <- Event{Path: filepath.Join(root, "src/assets/js/a.js"), Op: OpWrite}
	waitStarted(t, runner)

	for _, name := range []string{"b.js", "c.js", "d.js"} {
		fw.events <- Event{Path: filepath.Join(root, "src/assets/js", name), Op: OpWrite}
	}
	// Let the debounced events reach the queue while the first run blocks.
	time.Sleep(100 * time.Millisecond)

	runner.block <- struct{}{}
	waitStarted(t, runner)
	runner.block <- struct{}{}
	expectNoStart(t, runner, 100*time.Millisecond)

	if got := runner.count("js"); got != 2 {
		t.Fatalf("js runs = %d, want 2", got)
	}
}

func TestService_BindingsRunIndependently(t *testing.T) {
	runner := newCountingRunner()
	runner.block = make(chan struct{})
	_, fw, root, stop := startService(t, runner)
	defer stop()

	fw.events <- Event{Path: filepath.Join(root, "src/assets/js/a.js"), Op: OpWrite}
	fw.events <- Event{Path: filepath.Join(root, "src/assets/scss/style.scss"), Op: OpWrite}

	seen := map[string]bool{waitStarted(t, runner): true, waitStarted(t, runner): true}
	if !seen["js"] || !seen["scss:compile"] {
		t.Fatalf("started %v, want js and scss:compile concurrently", seen)
	}
	close(runner.block)
}

func TestService_WatchesEachSourceDirOnce(t *testing.T) {
	runner := newCountingRunner()
	root := t.TempDir()
	fw := newFakeWatcher()
	s, err := New(Options{
		Registry: testRegistry(t, root),
		Runner:   runner,
		Bindings: []config.WatchBinding{
			{Category: config.CategoryScripts, Glob: "**/*.js", Task: "js"},
			{Category: config.CategoryScripts, Glob: "**/*.mjs", Task: "js"},
		},
		NewWatcher: func() (Watcher, error) { return fw, nil },
	})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for len(fw.watched()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if got := fw.watched(); len(got) != 1 {
		t.Fatalf("watched %v, want one directory", got)
	}
}

// runWatched starts s, waits until it has registered its watches and stops
// it again.
func runWatched(t *testing.T, s *Service, fw *fakeWatcher, want int) []string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.Now().Add(200 * time.Millisecond)
	for len(fw.watched()) < want && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run() = %v", err)
	}
	return fw.watched()
}

func TestService_MissingSourceDirWatchesParent(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	if err := os.Mkdir(src, 0o755); err != nil {
		t.Fatal(err)
	}
	fw := newFakeWatcher()
	s, err := New(Options{
		Registry: missingRegistry(t, root),
		Runner:   newCountingRunner(),
		Root:     root,
		Bindings: []config.WatchBinding{
			{Category: config.CategoryScripts, Glob: "**/*.js", Task: "js"},
			{Category: config.CategoryStyles, Glob: "**/*.scss", Task: "scss:compile"},
		},
		NewWatcher: func() (Watcher, error) { return fw, nil },
	})
	if err != nil {
		t.Fatal(err)
	}
	got := runWatched(t, s, fw, 1)
	if len(got) != 1 || got[0] != src {
		t.Fatalf("watched %v, want [%s]", got, src)
	}
}

func TestService_MissingSourceDirOutsideRoot(t *testing.T) {
	root := t.TempDir()
	fw := newFakeWatcher()
	s, err := New(Options{
		Registry:   missingRegistry(t, root),
		Runner:     newCountingRunner(),
		Root:       filepath.Join(root, "src", "assets"),
		Bindings:   []config.WatchBinding{{Category: config.CategoryScripts, Glob: "**/*.js", Task: "js"}},
		NewWatcher: func() (Watcher, error) { return fw, nil },
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := runWatched(t, s, fw, 1); len(got) != 0 {
		t.Fatalf("watched %v, want nothing above the root", got)
	}
}

// signalWatcher reports when the service has added its watches.
type signalWatcher struct {
	*FSNotifyWatcher
	added chan string
}

func (w *signalWatcher) WatchRecursive(path string) error {
	err := w.FSNotifyWatcher.WatchRecursive(path)
	w.added <- path
	return err
}

func TestService_SourceDirCreatedAfterStart(t *testing.T) {
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, "src"), 0o755); err != nil {
		t.Fatal(err)
	}
	added := make(chan string, 4)
	runner := newCountingRunner()
	s, err := New(Options{
		Registry: missingRegistry(t, root),
		Runner:   runner,
		Root:     root,
		Debounce: 10 * time.Millisecond,
		Bindings: []config.WatchBinding{{Category: config.CategoryScripts, Glob: "**/*.js", Task: "js"}},
		NewWatcher: func() (Watcher, error) {
			fsw, err := NewFSNotifyWatcher()
			if err != nil {
				return nil, err
			}
			return &signalWatcher{FSNotifyWatcher: fsw, added: added}, nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	defer func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run() = %v", err)
		}
	}()

	select {
	case <-added:
	case <-time.After(2 * time.Second):
		t.Fatal("service never added a watch")
	}
	dir := filepath.Join(root, "src", "assets", "js")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "app.js"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := waitStarted(t, runner); got != "js" {
		t.Fatalf("ran %q, want js", got)
	}
}

func TestDebouncedWatcher_CoalescesOps(t *testing.T) {
	inner := newFakeWatcher()
	dw := NewDebouncedWatcher(inner, 20*time.Millisecond)
	defer dw.Close()

	inner.events <- Event{Path: "/a", Op: OpCreate}
	inner.events <- Event{Path: "/a", Op: OpWrite}
	inner.events <- Event{Path: "/b", Op: OpWrite}

	got := map[string]Op{}
	for len(got) < 2 {
		select {
		case ev := <-dw.Events():
			got[ev.Path] = ev.Op
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out, got %v", got)
		}
	}
	if !got["/a"].Has(OpCreate) || !got["/a"].Has(OpWrite) {
		t.Errorf("/a op = %v, want CREATE|WRITE", got["/a"])
	}
	if got["/b"] != OpWrite {
		t.Errorf("/b op = %v, want WRITE", got["/b"])
	}
	select {
	case ev := <-dw.Events():
		t.Fatalf("extra event %+v", ev)
	case <-time.After(60 * time.Millisecond):
	}
}

func TestDebouncedWatcher_Flush(t *testing.T) {
	inner := newFakeWatcher()
	dw := NewDebouncedWatcher(inner, time.Hour)
	defer dw.Close()

	inner.events <- Event{Path: "/a", Op: OpWrite}
	deadline := time.Now().Add(2 * time.Second)
	for dw.PendingCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	dw.Flush()
	select {
	case ev := <-dw.Events():
		if ev.Path != "/a" {
			t.Fatalf("event path = %q", ev.Path)
		}
	case <-time.After(time.Second):
		t.Fatal("flush did not deliver the event")
	}
	if dw.PendingCount() != 0 {
		t.Fatal("pending events after flush")
	}
}

func TestDebouncedWatcher_CloseClosesChannels(t *testing.T) {
	dw := NewDebouncedWatcher(newFakeWatcher(), 10*time.Millisecond)
	if err := dw.Close(); err != nil {
		t.Fatal(err)
	}
	if _, ok := <-dw.Events(); ok {
		t.Fatal("events channel still open")
	}
	if err := dw.Close(); err != nil {
		t.Fatalf("second Close() = %v", err)
	}
}

func TestFSNotifyWatcher_DetectsWritesInNewDirectories(t *testing.T) {
	root := t.TempDir()
	w, err := NewFSNotifyWatcher()
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	if err := w.WatchRecursive(root); err != nil {
		t.Fatal(err)
	}

	sub := filepath.Join(root, "vendor")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	waitFor(t, w, sub)

	// The new directory is watched by now.
	deadline := time.Now().Add(2 * time.Second)
	for w.Stats().WatchedPaths < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	target := filepath.Join(sub, "lib.js")
	if err := os.WriteFile(target, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, w, target)
}

func TestFSNotifyWatcher_IgnoresHiddenAndSwapFiles(t *testing.T) {
	root := t.TempDir()
	w, err := NewFSNotifyWatcher()
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	if err := w.WatchRecursive(root); err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{".app.js.tmp", "app.js.swp", "app.js~"} {
		if err := os.WriteFile(filepath.Join(root, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	visible := filepath.Join(root, "app.js")
	if err := os.WriteFile(visible, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case ev := <-w.Events():
		if ev.Path != visible {
			t.Fatalf("event for ignored path %s", ev.Path)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for app.js event")
	}
}

func TestFSNotifyWatcher_ConfiguredIgnore(t *testing.T) {
	root := t.TempDir()
	w, err := NewFSNotifyWatcher(WithIgnore("*.bak"), WithIgnoreHidden(false))
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	if err := w.WatchRecursive(root); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(filepath.Join(root, "app.js.bak"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	hidden := filepath.Join(root, ".env")
	if err := os.WriteFile(hidden, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case ev := <-w.Events():
		if ev.Path != hidden {
			t.Fatalf("first event for %s, want %s", ev.Path, hidden)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for .env event")
	}
}

func TestNewFSNotifyWatcher_BadIgnorePattern(t *testing.T) {
	if _, err := NewFSNotifyWatcher(WithIgnore("[")); err == nil {
		t.Fatal("expected error for invalid ignore pattern")
	}
}

func TestFSNotifyWatcher_MissingPath(t *testing.T) {
	w, err := NewFSNotifyWatcher()
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	if err := w.WatchRecursive(filepath.Join(t.TempDir(), "nope")); err != ErrPathNotExist {
		t.Fatalf("WatchRecursive() = %v, want ErrPathNotExist", err)
	}
}

func waitFor(t *testing.T, w Watcher, path string) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-w.Events():
			if ev.Path == path {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for event on %s", path)
		}
	}
}
