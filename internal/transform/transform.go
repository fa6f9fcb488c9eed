// Package transform holds the file transformations used by assetpipe tasks.
//
// Each transformation implements pipeline.Transformer and wraps one
// collaborator: html/template, Dart Sass, esbuild, tdewolff/minify,
// the x/net/html tokenizer or the standard image codecs.
package transform

import (
	"context"

	"github.com/dshills/assetpipe/internal/pipeline"
)

// Rename replaces the extension of every file.
func Rename(ext string) pipeline.Transformer {
	return pipeline.TransformFunc(func(_ context.Context, f *pipeline.File) error {
		f.SetExt(ext)
		return nil
	})
}
