package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/dshills/assetpipe/internal/config/loader"
	"github.com/pelletier/go-toml/v2"
)

// DefaultEnvPrefix is the prefix of environment variables read as config.
const DefaultEnvPrefix = "ASSETPIPE_"

// maxIncludeDepth bounds @include chains in config files.
const maxIncludeDepth = 8

// ConfigFileNames are tried in order when no config file is given.
var ConfigFileNames = []string{"assetpipe.toml", "assetpipe.yaml", "assetpipe.yml"}

// LoadOptions controls Load.
type LoadOptions struct {
	// Root is the project root. Defaults to the working directory.
	Root string
	// ConfigPath is an explicit config file. When empty the root is searched
	// for ConfigFileNames and a missing file is not an error.
	ConfigPath string
	// EnvPrefix overrides DefaultEnvPrefix.
	EnvPrefix string
	// SkipEnv disables the .env and environment layers.
	SkipEnv bool
	// Overrides maps dotted setting paths to values, applied last.
	Overrides map[string]any
	// FS is used to read config files. Defaults to the OS.
	FS loader.FileSystem
}

// Load builds the effective configuration from every layer.
func Load(opts LoadOptions) (*Config, error) {
	root := opts.Root
	if root == "" {
		root = "."
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root %q: %w", root, err)
	}
	fsys := opts.FS
	if fsys == nil {
		fsys = loader.DefaultFS()
	}
	prefix := opts.EnvPrefix
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}

	merged, err := defaultsMap()
	if err != nil {
		return nil, err
	}

	file, err := loadFile(fsys, absRoot, opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	merged = loader.DeepMerge(merged, file)

	if !opts.SkipEnv {
		dotenv, err := loader.NewDotEnvLoader(filepath.Join(absRoot, ".env"), prefix).Load()
		if err != nil {
			return nil, err
		}
		merged = loader.DeepMerge(merged, dotenv)

		env, err := loader.NewEnvLoader(prefix).Load()
		if err != nil {
			return nil, err
		}
		merged = loader.DeepMerge(merged, env)
	}

	if len(opts.Overrides) > 0 {
		flags := make(map[string]any)
		for path, v := range opts.Overrides {
			loader.Set(flags, path, v)
		}
		merged = loader.DeepMerge(merged, flags)
	}

	cfg := &Config{}
	if err := loader.Decode(dropNils(merged), cfg); err != nil {
		return nil, err
	}
	cfg.Root = absRoot

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FindConfigFile returns the first of ConfigFileNames present under root,
// or "" when there is none.
func FindConfigFile(fsys loader.FileSystem, root string) string {
	for _, name := range ConfigFileNames {
		path := filepath.Join(root, name)
		if _, err := fsys.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

func loadFile(fsys loader.FileSystem, root, path string) (map[string]any, error) {
	explicit := path != ""
	if !explicit {
		path = FindConfigFile(fsys, root)
		if path == "" {
			return nil, nil
		}
	} else if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}

	fl := loader.ForFile(fsys, path)
	if fl == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	if _, err := fsys.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return nil, err
	}

	type includer interface {
		LoadWithIncludes(path string, maxDepth int) (map[string]any, error)
	}
	if inc, ok := fl.(includer); ok {
		return inc.LoadWithIncludes(path, maxIncludeDepth)
	}
	return fl.LoadFrom(path)
}

// defaultsMap renders Default as a generic map so it can sit at the bottom
// of the merge.
func defaultsMap() (map[string]any, error) {
	data, err := toml.Marshal(Default())
	if err != nil {
		return nil, fmt.Errorf("encoding defaults: %w", err)
	}
	m := make(map[string]any)
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding defaults: %w", err)
	}
	return m, nil
}

func dropNils(m map[string]any) map[string]any {
	for k, v := range m {
		switch vv := v.(type) {
		case nil:
			delete(m, k)
		case map[string]any:
			dropNils(vv)
		}
	}
	return m
}
