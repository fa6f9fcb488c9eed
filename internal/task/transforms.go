package task

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/dshills/assetpipe/internal/config"
	"github.com/dshills/assetpipe/internal/pipeline"
	"github.com/dshills/assetpipe/internal/transform"
)

func (s *Set) transforms() []Def {
	return []Def{
		{Name: HTML, Category: config.CategoryMarkup, Description: "copy markup changed since the last run", Run: s.html},
		{Name: EJS, Category: config.CategoryTemplates, Description: "render templates to pages", Run: s.pages},
		{Name: Styles, Category: config.CategoryStyles, Description: "compile and prefix the stylesheet", Run: s.styles},
		{Name: Scripts, Category: config.CategoryScripts, Description: "transpile and minify scripts", Run: s.scripts},
		{Name: Lib, Category: config.CategoryLib, Description: "copy vendor scripts and styles", Run: s.copy(Lib, config.CategoryLib, "**/*.{js,css}")},
		{Name: JSON, Category: config.CategoryJSON, Description: "copy json data", Run: s.copy(JSON, config.CategoryJSON, "**/*.json")},
		{Name: Images, Category: config.CategoryImages, Description: "optimize raster images", Run: s.images},
		{Name: SVG, Category: config.CategoryImages, Description: "copy svg images", Run: s.copy(SVG, config.CategoryImages, "**/*.svg")},
		{Name: Fonts, Category: config.CategoryFonts, Description: "copy fonts", Run: s.copy(Fonts, config.CategoryFonts, "**/*.{eot,otf,svg,ttf,woff,woff2}")},
		{Name: Videos, Category: config.CategoryVideos, Description: "copy videos", Run: s.copy(Videos, config.CategoryVideos, "*")},
		{Name: Sample, Category: config.CategorySample, Description: "copy sample files", Run: s.copy(Sample, config.CategorySample, "*")},
	}
}

func (s *Set) clean(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dist := s.cfg.DistDir()
	if err := os.RemoveAll(dist); err != nil {
		return &Error{Task: Clean, Path: dist, Err: err}
	}
	s.log.Info("output removed", "task", Clean, "path", dist)
	return nil
}

// transfer runs one source through steps into the category destination and
// announces the result.
func (s *Set) transfer(ctx context.Context, name, category string, srcs []pipeline.Source, steps ...pipeline.Transformer) error {
	entry, err := s.reg.Lookup(category)
	if err != nil {
		return &Error{Task: name, Err: err}
	}
	var written []string
	for _, src := range srcs {
		out, err := pipeline.Run(ctx, src, entry.Dest, steps...)
		written = append(written, out...)
		if err != nil {
			return wrap(name, err)
		}
	}
	s.log.Debug("files written", "task", name, "count", len(written))
	s.publish(ctx, name, written)
	return nil
}

func (s *Set) source(category string, patterns ...string) pipeline.Source {
	entry, _ := s.reg.Lookup(category)
	return pipeline.Source{Dir: entry.Source, Patterns: patterns}
}

func (s *Set) copy(name, category string, patterns ...string) func(context.Context) error {
	return func(ctx context.Context) error {
		return s.transfer(ctx, name, category, []pipeline.Source{s.source(category, patterns...)})
	}
}

// html copies markup modified since its last successful run.
func (s *Set) html(ctx context.Context) error {
	start := time.Now()
	src := s.source(config.CategoryMarkup, "**/*.html")
	src.Since = s.LastRun(HTML)
	if err := s.transfer(ctx, HTML, config.CategoryMarkup, []pipeline.Source{src}); err != nil {
		return err
	}
	s.markRun(HTML, start)
	return nil
}

// pages renders every non-partial template below the templates directory,
// plus the templates at the top of the source tree, into the pages output.
const pageExt = ".html"

func (s *Set) pages(ctx context.Context) error {
	tc := s.cfg.Templates
	pagePattern := "**/*" + tc.Ext
	partialPattern := "**/" + tc.PartialPrefix + "*" + tc.Ext

	nested := s.source(config.CategoryTemplates, pagePattern)
	nested.Ignore = []string{partialPattern}
	top := pipeline.Source{
		Dir:      s.cfg.SrcDir(),
		Patterns: []string{"*" + tc.Ext},
		Ignore:   []string{tc.PartialPrefix + "*" + tc.Ext},
	}
	partials := s.source(config.CategoryTemplates, partialPattern)
	topPartials := pipeline.Source{Dir: top.Dir, Patterns: top.Ignore}

	tmpl, err := transform.LoadTemplate(ctx, transform.TemplateOptions{
		Partials: []pipeline.Source{partials, topPartials},
		Data:     tc.Data,
		Ext:      pageExt,
	})
	if err != nil {
		return &Error{Task: EJS, Err: err}
	}
	s.log.Debug("partials loaded", "task", EJS, "partials", tmpl.Partials())

	return s.transfer(ctx, EJS, config.CategoryTemplates, []pipeline.Source{nested, top},
		tmpl,
		transform.Rename(pageExt),
		transform.Include{Prefix: tc.IncludePrefix, MaxDepth: transform.DefaultIncludeDepth},
		transform.Beautify{IndentSize: tc.IndentSize},
	)
}

// styles compiles the entry stylesheet. Compile failures are logged and
// leave the previous output in place.
func (s *Set) styles(ctx context.Context) error {
	entry, err := s.reg.Lookup(config.CategoryStyles)
	if err != nil {
		return &Error{Task: Styles, Err: err}
	}
	so := s.cfg.Styles
	path := filepath.Join(entry.Source, so.Entry)

	f, err := transform.ReadEntry(path)
	if errors.Is(err, fs.ErrNotExist) {
		s.log.Debug("no stylesheet entry", "task", Styles, "path", path)
		return nil
	}
	if err != nil {
		return &Error{Task: Styles, Path: path, Err: err}
	}

	compile := transform.Sass{Compiler: s.compiler, OutputStyle: so.OutputStyle}
	if err := compile.Transform(ctx, f); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.log.Error("style compile failed", "task", Styles, "file", path, "error", err)
		return nil
	}

	compressed := so.OutputStyle == "compressed"
	prefix, err := transform.NewPrefix(so.Targets, compressed)
	if err != nil {
		return &Error{Task: Styles, Err: err}
	}
	format := transform.FormatCSS{
		IndentType:  so.IndentType,
		IndentWidth: so.IndentWidth,
		Precision:   so.Precision,
		Compressed:  compressed,
	}
	files := []*pipeline.File{f}
	if err := pipeline.Apply(ctx, files, prefix, format); err != nil {
		return wrap(Styles, err)
	}
	written, err := pipeline.Dest(ctx, entry.Dest, files)
	if err != nil {
		return wrap(Styles, err)
	}
	s.publish(ctx, Styles, written)
	return nil
}

func (s *Set) scripts(ctx context.Context) error {
	target, err := transform.ParseScriptTarget(s.cfg.Scripts.Target)
	if err != nil {
		return &Error{Task: Scripts, Err: err}
	}
	return s.transfer(ctx, Scripts, config.CategoryScripts,
		[]pipeline.Source{s.source(config.CategoryScripts, "**/*.js")},
		transform.Transpile{Target: target},
		transform.NewMinify(transform.MediaJS, target),
	)
}

func (s *Set) images(ctx context.Context) error {
	return s.transfer(ctx, Images, config.CategoryImages,
		[]pipeline.Source{s.source(config.CategoryImages, "**/*.{png,jpg,jpeg,gif,ico}")},
		transform.OptimizeImage{JPEGQuality: s.cfg.Images.JPEGQuality},
	)
}
