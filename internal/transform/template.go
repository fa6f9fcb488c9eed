package transform

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dshills/assetpipe/internal/pipeline"
)

// Page describes the page being rendered. It is available to templates as
// .Page.
type Page struct {
	// Path is the output path relative to the templates destination,
	// slash separated.
	Path string
	// Name is the file name without extension.
	Name string
}

// Template renders pages with html/template. Every partial is parsed into
// each page's template set under its file name, so a page calls a partial
// with {{template "_header.tmpl" .}}.
type Template struct {
	partials map[string]string
	data     map[string]any
	ext      string
}

// TemplateOptions configures LoadTemplate.
type TemplateOptions struct {
	// Partials select the partial files, e.g. "**/_*.tmpl" below the
	// templates directory.
	Partials []pipeline.Source
	// Data is exposed to every page next to Page.
	Data map[string]any
	// Ext is the output extension reported in .Page.Path. Defaults to
	// ".html". Renaming the file is left to a Rename step.
	Ext string
}

// LoadTemplate reads the partials once so every page of a run shares them.
func LoadTemplate(ctx context.Context, opts TemplateOptions) (*Template, error) {
	t := &Template{
		partials: make(map[string]string),
		data:     opts.Data,
		ext:      opts.Ext,
	}
	if t.ext == "" {
		t.ext = ".html"
	}
	for _, src := range opts.Partials {
		files, err := src.Read(ctx)
		if err != nil {
			return nil, fmt.Errorf("reading partials: %w", err)
		}
		for _, f := range files {
			name := filepath.Base(f.Path)
			if _, dup := t.partials[name]; dup {
				return nil, fmt.Errorf("partial %q defined more than once", name)
			}
			t.partials[name] = string(f.Contents)
		}
	}
	return t, nil
}

// Partials returns the names of the loaded partials.
func (t *Template) Partials() []string {
	names := make([]string, 0, len(t.partials))
	for n := range t.partials {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Transform renders f. Its path is unchanged.
func (t *Template) Transform(_ context.Context, f *pipeline.File) error {
	name := filepath.Base(f.Path)
	page := template.New(name).Option("missingkey=error")
	for pname, src := range t.partials {
		if _, err := page.New(pname).Parse(src); err != nil {
			return fmt.Errorf("parsing partial %s: %w", pname, err)
		}
	}
	if _, err := page.Parse(string(f.Contents)); err != nil {
		return fmt.Errorf("parsing template: %w", err)
	}

	data := make(map[string]any, len(t.data)+1)
	for k, v := range t.data {
		data[k] = v
	}
	rel := filepath.ToSlash(f.Rel())
	stem := strings.TrimSuffix(rel, path.Ext(rel))
	data["Page"] = Page{
		Path: stem + t.ext,
		Name: path.Base(stem),
	}

	var buf bytes.Buffer
	if err := page.Execute(&buf, data); err != nil {
		return fmt.Errorf("rendering template: %w", err)
	}
	f.Contents = buf.Bytes()
	return nil
}
