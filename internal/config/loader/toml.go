package loader

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// IncludeKey is the top-level key naming files merged beneath a config file.
const IncludeKey = "@include"

// TOMLLoader loads configuration from TOML files.
type TOMLLoader struct {
	fs   FileSystem
	path string
}

// NewTOMLLoader creates a new TOML loader for the given path.
func NewTOMLLoader(path string) *TOMLLoader {
	return NewTOMLLoaderWithFS(DefaultFS(), path)
}

// NewTOMLLoaderWithFS creates a TOML loader with a custom file system.
func NewTOMLLoaderWithFS(fs FileSystem, path string) *TOMLLoader {
	return &TOMLLoader{
		fs:   fs,
		path: path,
	}
}

// Load reads configuration from the configured path.
func (l *TOMLLoader) Load() (map[string]any, error) {
	return l.LoadFrom(l.path)
}

// LoadFrom reads configuration from a specific path.
func (l *TOMLLoader) LoadFrom(path string) (map[string]any, error) {
	data, err := l.fs.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	return parseTOML(path, data)
}

func parseTOML(source string, data []byte) (map[string]any, error) {
	var config map[string]any
	if err := toml.Unmarshal(data, &config); err != nil {
		perr := &ParseError{
			Path:    source,
			Message: err.Error(),
			Err:     err,
		}
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			perr.Line, perr.Column = derr.Position()
		}
		return nil, perr
	}

	return config, nil
}

// LoadWithIncludes loads a TOML file and processes @include directives.
// Included files have lower priority than the including file.
// The maxDepth parameter limits nested includes.
func (l *TOMLLoader) LoadWithIncludes(path string, maxDepth int) (map[string]any, error) {
	return loadWithIncludes(l, path, maxDepth)
}

// loadWithIncludes is shared by the TOML and YAML loaders.
func loadWithIncludes(l FileLoader, path string, maxDepth int) (map[string]any, error) {
	if maxDepth <= 0 {
		return nil, fmt.Errorf("include depth exceeded for %s", path)
	}

	config, err := l.LoadFrom(path)
	if err != nil {
		return nil, err
	}
	if config == nil {
		return nil, nil
	}

	includes, hasIncludes := config[IncludeKey]
	if !hasIncludes {
		return config, nil
	}
	delete(config, IncludeKey)

	var includeList []string
	switch v := includes.(type) {
	case string:
		includeList = []string{v}
	case []any:
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%s must be string or array of strings", IncludeKey)
			}
			includeList = append(includeList, s)
		}
	case []string:
		includeList = v
	default:
		return nil, fmt.Errorf("%s must be string or array of strings, got %T", IncludeKey, includes)
	}

	baseDir := filepath.Dir(path)
	for _, inc := range includeList {
		incPath := inc
		if !filepath.IsAbs(inc) {
			incPath = filepath.Join(baseDir, inc)
		}

		incConfig, err := loadWithIncludes(l, incPath, maxDepth-1)
		if err != nil {
			return nil, fmt.Errorf("loading include %s: %w", incPath, err)
		}

		config = DeepMerge(incConfig, config)
	}

	return config, nil
}

// Decode converts a generic configuration map into the struct pointed to by
// out, using the struct's toml tags.
func Decode(in map[string]any, out any) error {
	data, err := toml.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return &ParseError{Path: "<merged>", Message: err.Error(), Err: err}
	}
	return nil
}
