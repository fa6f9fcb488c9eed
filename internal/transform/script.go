package transform

import (
	"context"
	"fmt"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/js"

	"github.com/dshills/assetpipe/internal/pipeline"
)

var scriptTargets = map[string]api.Target{
	"es5":    api.ES5,
	"es2015": api.ES2015,
	"es6":    api.ES2015,
	"es2016": api.ES2016,
	"es2017": api.ES2017,
	"es2018": api.ES2018,
	"es2019": api.ES2019,
	"es2020": api.ES2020,
	"es2021": api.ES2021,
	"es2022": api.ES2022,
	"esnext": api.ESNext,
}

// scriptVersions gives the ECMAScript edition the JS minifier may emit for
// each target. Zero lets it use any syntax.
var scriptVersions = map[api.Target]int{
	api.ES5:    5,
	api.ES2015: 2015,
	api.ES2016: 2016,
	api.ES2017: 2017,
	api.ES2018: 2018,
	api.ES2019: 2019,
	api.ES2020: 2020,
	api.ES2021: 2021,
	api.ES2022: 2022,
	api.ESNext: 0,
}

// ParseScriptTarget maps names such as "es2015" to esbuild targets.
func ParseScriptTarget(name string) (api.Target, error) {
	t, ok := scriptTargets[strings.ToLower(name)]
	if !ok {
		return 0, fmt.Errorf("unknown script target %q", name)
	}
	return t, nil
}

// Transpile lowers modern JavaScript syntax to Target.
type Transpile struct {
	Target api.Target
}

// Transform implements pipeline.Transformer.
func (t Transpile) Transform(_ context.Context, f *pipeline.File) error {
	res := api.Transform(string(f.Contents), api.TransformOptions{
		Loader:     api.LoaderJS,
		Target:     t.Target,
		Sourcefile: f.Path,
		LogLevel:   api.LogLevelSilent,
	})
	if len(res.Errors) > 0 {
		return messagesError(res.Errors)
	}
	f.Contents = res.Code
	return nil
}

// Media types understood by Minify.
const (
	MediaJS  = "application/javascript"
	MediaCSS = "text/css"
)

// Minify compacts files of one media type.
type Minify struct {
	MediaType string
	m         *minify.M
}

// NewMinify returns a minifier for mediaType. JavaScript output stays
// within the syntax of target so minifying never undoes Transpile.
func NewMinify(mediaType string, target api.Target) *Minify {
	m := minify.New()
	m.Add(MediaJS, &js.Minifier{Version: scriptVersions[target]})
	m.AddFunc(MediaCSS, css.Minify)
	return &Minify{MediaType: mediaType, m: m}
}

// Transform implements pipeline.Transformer.
func (mn *Minify) Transform(_ context.Context, f *pipeline.File) error {
	out, err := mn.m.Bytes(mn.MediaType, f.Contents)
	if err != nil {
		return fmt.Errorf("minify: %w", err)
	}
	f.Contents = out
	return nil
}
