package transform

import (
	"context"
	"fmt"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/dshills/assetpipe/internal/pipeline"
)

var engineNames = map[string]api.EngineName{
	"chrome":  api.EngineChrome,
	"edge":    api.EngineEdge,
	"firefox": api.EngineFirefox,
	"safari":  api.EngineSafari,
	"ios":     api.EngineIOS,
	"opera":   api.EngineOpera,
	"ie":      api.EngineIE,
}

// ParseEngines turns targets such as "chrome58" or "safari11.1" into
// esbuild engines.
func ParseEngines(targets []string) ([]api.Engine, error) {
	engines := make([]api.Engine, 0, len(targets))
	for _, t := range targets {
		t = strings.ToLower(strings.TrimSpace(t))
		i := strings.IndexAny(t, "0123456789")
		if i <= 0 {
			return nil, fmt.Errorf("invalid browser target %q", t)
		}
		name, ok := engineNames[t[:i]]
		if !ok {
			return nil, fmt.Errorf("unknown browser %q in target %q", t[:i], t)
		}
		engines = append(engines, api.Engine{Name: name, Version: t[i:]})
	}
	return engines, nil
}

// Prefix adds vendor prefixes for the configured browsers using esbuild's
// CSS transform.
type Prefix struct {
	Engines []api.Engine
	// Minify compacts the output.
	Minify bool
}

// NewPrefix builds a Prefix from browser target strings.
func NewPrefix(targets []string, minify bool) (*Prefix, error) {
	engines, err := ParseEngines(targets)
	if err != nil {
		return nil, err
	}
	return &Prefix{Engines: engines, Minify: minify}, nil
}

// Transform implements pipeline.Transformer.
func (p *Prefix) Transform(_ context.Context, f *pipeline.File) error {
	res := api.Transform(string(f.Contents), api.TransformOptions{
		Loader:           api.LoaderCSS,
		Engines:          p.Engines,
		Sourcefile:       f.Path,
		MinifyWhitespace: p.Minify,
		MinifySyntax:     p.Minify,
		LogLevel:         api.LogLevelSilent,
		Charset:          api.CharsetUTF8,
	})
	if len(res.Errors) > 0 {
		return messagesError(res.Errors)
	}
	f.Contents = res.Code
	return nil
}

// messagesError formats esbuild diagnostics.
func messagesError(msgs []api.Message) error {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m.Location != nil {
			parts = append(parts, fmt.Sprintf("%s:%d:%d: %s", m.Location.File, m.Location.Line, m.Location.Column, m.Text))
			continue
		}
		parts = append(parts, m.Text)
	}
	return fmt.Errorf("%s", strings.Join(parts, "; "))
}
