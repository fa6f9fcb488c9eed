package transform

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bep/godartsass/v2"

	"github.com/dshills/assetpipe/internal/pipeline"
)

// ErrCompilerUnavailable is returned when the Dart Sass executable cannot
// be started.
var ErrCompilerUnavailable = errors.New("style compiler unavailable")

// StyleRequest is one stylesheet compilation.
type StyleRequest struct {
	// Path is the absolute path of the entry stylesheet.
	Path   string
	Source string
	// OutputStyle is "expanded" or "compressed".
	OutputStyle string
	// IncludePaths are searched for imports.
	IncludePaths []string
}

// StyleCompiler compiles a stylesheet to CSS.
type StyleCompiler interface {
	Compile(ctx context.Context, req StyleRequest) (string, error)
}

// DartSass compiles SCSS through the Dart Sass embedded protocol. The
// compiler process starts on first use and is reused until Close.
type DartSass struct {
	// Binary is the Dart Sass executable. Defaults to "sass" on PATH.
	Binary  string
	Timeout time.Duration
	// OnLog receives compiler warnings and debug output.
	OnLog func(msg string)

	mu         sync.Mutex
	transpiler *godartsass.Transpiler
}

func (d *DartSass) start() (*godartsass.Transpiler, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.transpiler != nil && !d.transpiler.IsShutDown() {
		return d.transpiler, nil
	}
	opts := godartsass.Options{
		DartSassEmbeddedFilename: d.Binary,
		Timeout:                  d.Timeout,
	}
	if d.OnLog != nil {
		opts.LogEventHandler = func(e godartsass.LogEvent) {
			d.OnLog(e.Message)
		}
	}
	t, err := godartsass.Start(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompilerUnavailable, err)
	}
	d.transpiler = t
	return t, nil
}

// Compile implements StyleCompiler.
func (d *DartSass) Compile(ctx context.Context, req StyleRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	t, err := d.start()
	if err != nil {
		return "", err
	}

	style := godartsass.OutputStyleExpanded
	if req.OutputStyle == "compressed" {
		style = godartsass.OutputStyleCompressed
	}
	res, err := t.Execute(godartsass.Args{
		Source:       req.Source,
		URL:          "file://" + filepath.ToSlash(req.Path),
		SourceSyntax: godartsass.SourceSyntaxSCSS,
		OutputStyle:  style,
		IncludePaths: req.IncludePaths,
	})
	if err != nil {
		return "", err
	}
	return res.CSS, nil
}

// Close stops the compiler process.
func (d *DartSass) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.transpiler == nil {
		return nil
	}
	err := d.transpiler.Close()
	d.transpiler = nil
	return err
}

// Sass compiles each file with a StyleCompiler and renames it to .css.
type Sass struct {
	Compiler    StyleCompiler
	OutputStyle string
}

// Transform implements pipeline.Transformer.
func (s Sass) Transform(ctx context.Context, f *pipeline.File) error {
	if s.Compiler == nil {
		return ErrCompilerUnavailable
	}
	dir := filepath.Dir(f.Path)
	includes := []string{dir}
	if f.Base != "" && f.Base != dir {
		includes = append(includes, f.Base)
	}
	css, err := s.Compiler.Compile(ctx, StyleRequest{
		Path:         f.Path,
		Source:       string(f.Contents),
		OutputStyle:  s.OutputStyle,
		IncludePaths: includes,
	})
	if err != nil {
		return err
	}
	f.Contents = []byte(css)
	f.SetExt(".css")
	return nil
}

// ReadEntry loads a single stylesheet as a pipeline file rooted at its own
// directory.
func ReadEntry(path string) (*pipeline.File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &pipeline.File{
		Base:     filepath.Dir(path),
		Path:     path,
		Contents: data,
		ModTime:  info.ModTime(),
		Mode:     info.Mode(),
	}, nil
}
