// Package pipeline moves files from a source glob through an ordered list of
// transformations into a destination directory.
package pipeline

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// File is one matched file moving through a task.
type File struct {
	// Base is the directory the glob was evaluated in.
	Base string
	// Path is the absolute path of the file. Transformations may change it
	// (e.g. to rename the extension); the part below Base is preserved on
	// write.
	Path     string
	Contents []byte
	ModTime  time.Time
	Mode     fs.FileMode
}

// Rel returns Path relative to Base.
func (f *File) Rel() string {
	rel, err := filepath.Rel(f.Base, f.Path)
	if err != nil {
		return filepath.Base(f.Path)
	}
	return rel
}

// Ext returns the file extension including the dot.
func (f *File) Ext() string {
	return filepath.Ext(f.Path)
}

// SetExt replaces the file extension.
func (f *File) SetExt(ext string) {
	f.Path = f.Path[:len(f.Path)-len(filepath.Ext(f.Path))] + ext
}

// Transformer is one step of a task.
type Transformer interface {
	Transform(ctx context.Context, f *File) error
}

// TransformFunc adapts a function to Transformer.
type TransformFunc func(ctx context.Context, f *File) error

// Transform calls fn.
func (fn TransformFunc) Transform(ctx context.Context, f *File) error {
	return fn(ctx, f)
}

// StepError reports which file a transformation failed on.
type StepError struct {
	Path string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Apply runs steps over every file in order. The first failure stops the
// run and is returned as a StepError.
func Apply(ctx context.Context, files []*File, steps ...Transformer) error {
	for _, f := range files {
		src := f.Path
		for _, step := range steps {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := step.Transform(ctx, f); err != nil {
				return &StepError{Path: src, Err: err}
			}
		}
	}
	return nil
}

// Dest writes files below dir, keeping each file's path relative to its
// base. It returns the written paths.
func Dest(ctx context.Context, dir string, files []*File) ([]string, error) {
	written := make([]string, 0, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		out := filepath.Join(dir, f.Rel())
		if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
			return written, &StepError{Path: out, Err: err}
		}
		mode := f.Mode.Perm()
		if mode == 0 {
			mode = 0644
		}
		if err := os.WriteFile(out, f.Contents, mode); err != nil {
			return written, &StepError{Path: out, Err: err}
		}
		written = append(written, out)
	}
	return written, nil
}

// Run reads src, applies steps and writes the result into dir. Nothing is
// written if any step fails.
func Run(ctx context.Context, src Source, dir string, steps ...Transformer) ([]string, error) {
	files, err := src.Read(ctx)
	if err != nil {
		return nil, err
	}
	if err := Apply(ctx, files, steps...); err != nil {
		return nil, err
	}
	return Dest(ctx, dir, files)
}
