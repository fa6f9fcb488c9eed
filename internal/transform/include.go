package transform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dshills/assetpipe/internal/pipeline"
)

// DefaultIncludeDepth bounds nested includes.
const DefaultIncludeDepth = 10

var (
	// ErrIncludeDepth is returned when includes nest deeper than allowed.
	ErrIncludeDepth = errors.New("include depth exceeded")

	// ErrIncludeSyntax is returned for a malformed include directive.
	ErrIncludeSyntax = errors.New("malformed include directive")
)

// Include expands directives of the form
//
//	@@include('partials/nav.html')
//	@@include('partials/card.html', {"title": "Hello"})
//
// Paths resolve against the directory of the file containing the
// directive. The optional JSON object defines @@name substitutions inside
// the included file; nested includes inherit it.
type Include struct {
	// Prefix introduces directives and variables. Defaults to "@@".
	Prefix   string
	MaxDepth int
}

// Transform expands every include in f.
func (inc Include) Transform(_ context.Context, f *pipeline.File) error {
	src := f.Path
	out, err := inc.expand(f.Contents, filepath.Dir(src), nil, 0)
	if err != nil {
		return err
	}
	f.Contents = out
	return nil
}

func (inc Include) prefix() string {
	if inc.Prefix == "" {
		return "@@"
	}
	return inc.Prefix
}

func (inc Include) maxDepth() int {
	if inc.MaxDepth <= 0 {
		return DefaultIncludeDepth
	}
	return inc.MaxDepth
}

func (inc Include) expand(content []byte, dir string, vars map[string]any, depth int) ([]byte, error) {
	directive := []byte(inc.prefix() + "include(")

	var out bytes.Buffer
	rest := content
	for {
		i := bytes.Index(rest, directive)
		if i < 0 {
			out.Write(rest)
			break
		}
		out.Write(rest[:i])
		rest = rest[i+len(directive):]

		path, ctxVars, n, err := parseIncludeArgs(rest)
		if err != nil {
			return nil, err
		}
		rest = rest[n:]

		if depth+1 > inc.maxDepth() {
			return nil, fmt.Errorf("%w: %s (limit %d)", ErrIncludeDepth, path, inc.maxDepth())
		}

		target := path
		if !filepath.IsAbs(target) {
			target = filepath.Join(dir, filepath.FromSlash(path))
		}
		data, err := os.ReadFile(target)
		if err != nil {
			return nil, fmt.Errorf("include %s: %w", path, err)
		}

		merged := make(map[string]any, len(vars)+len(ctxVars))
		for k, v := range vars {
			merged[k] = v
		}
		for k, v := range ctxVars {
			merged[k] = v
		}

		data = inc.substitute(data, merged)
		expanded, err := inc.expand(data, filepath.Dir(target), merged, depth+1)
		if err != nil {
			return nil, err
		}
		out.Write(expanded)
	}
	return out.Bytes(), nil
}

// parseIncludeArgs parses "'path'[, {json}])" and returns the number of
// bytes consumed.
func parseIncludeArgs(b []byte) (string, map[string]any, int, error) {
	pos := skipSpace(b, 0)
	if pos >= len(b) || (b[pos] != '\'' && b[pos] != '"') {
		return "", nil, 0, fmt.Errorf("%w: expected quoted path", ErrIncludeSyntax)
	}
	quote := b[pos]
	end := bytes.IndexByte(b[pos+1:], quote)
	if end < 0 {
		return "", nil, 0, fmt.Errorf("%w: unterminated path", ErrIncludeSyntax)
	}
	path := string(b[pos+1 : pos+1+end])
	pos = skipSpace(b, pos+end+2)

	var vars map[string]any
	if pos < len(b) && b[pos] == ',' {
		pos = skipSpace(b, pos+1)
		dec := json.NewDecoder(bytes.NewReader(b[pos:]))
		dec.UseNumber()
		if err := dec.Decode(&vars); err != nil {
			return "", nil, 0, fmt.Errorf("%w: %s: %v", ErrIncludeSyntax, path, err)
		}
		pos = skipSpace(b, pos+int(dec.InputOffset()))
	}
	if pos >= len(b) || b[pos] != ')' {
		return "", nil, 0, fmt.Errorf("%w: %s: expected )", ErrIncludeSyntax, path)
	}
	return path, vars, pos + 1, nil
}

func skipSpace(b []byte, i int) int {
	for i < len(b) && (b[i] == ' ' || b[i] == '\t' || b[i] == '\n' || b[i] == '\r') {
		i++
	}
	return i
}

// substitute replaces @@name with the value of name. Longer names are
// replaced first so @@titleText is not clobbered by @@title. Nested objects
// are reachable as @@parent.child.
func (inc Include) substitute(data []byte, vars map[string]any) []byte {
	if len(vars) == 0 {
		return data
	}
	flat := make(map[string]string)
	flatten("", vars, flat)

	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})

	pairs := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		pairs = append(pairs, inc.prefix()+k, flat[k])
	}
	return []byte(strings.NewReplacer(pairs...).Replace(string(data)))
}

func flatten(prefix string, in map[string]any, out map[string]string) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch vv := v.(type) {
		case map[string]any:
			flatten(key, vv, out)
		case string:
			out[key] = vv
		case nil:
			out[key] = ""
		default:
			b, err := json.Marshal(vv)
			if err != nil {
				out[key] = fmt.Sprint(vv)
				continue
			}
			out[key] = string(b)
		}
	}
}
