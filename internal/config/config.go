package config

import (
	"fmt"
	"path/filepath"
	"slices"

	"github.com/bmatcuk/doublestar/v4"
)

// Category names used as Path Registry keys.
const (
	CategoryMarkup    = "markup"
	CategoryTemplates = "templates"
	CategoryFonts     = "fonts"
	CategoryImages    = "images"
	CategoryVideos    = "videos"
	CategorySample    = "sample"
	CategoryStyles    = "styles"
	CategoryScripts   = "scripts"
	CategoryLib       = "lib"
	CategoryJSON      = "json"
)

// Config is the fully merged assetpipe configuration.
type Config struct {
	// Root is the project root. Every relative path resolves against it.
	Root string `toml:"root"`

	Paths     PathsConfig     `toml:"paths"`
	Server    ServerConfig    `toml:"server"`
	Styles    StyleOptions    `toml:"styles"`
	Scripts   ScriptsConfig   `toml:"scripts"`
	Templates TemplatesConfig `toml:"templates"`
	Images    ImagesConfig    `toml:"images"`
	Watch     WatchConfig     `toml:"watch"`
	Runner    RunnerConfig    `toml:"runner"`
	Logging   LoggingConfig   `toml:"logging"`
}

// PathsConfig locates the source and output trees.
type PathsConfig struct {
	// Src is the source tree, relative to Root.
	Src string `toml:"src"`
	// Dist is the output tree, relative to Root.
	Dist string `toml:"dist"`
	// Categories maps category names to their directories. Source is
	// relative to Src and Dest relative to Dist.
	Categories map[string]CategoryPaths `toml:"categories"`
}

// CategoryPaths is one Path Registry entry as written in configuration.
type CategoryPaths struct {
	Source string `toml:"source"`
	Dest   string `toml:"dest"`
	// Mirror marks the entry whose destination is the whole output tree.
	Mirror bool `toml:"mirror"`
}

// ServerConfig configures the development server.
type ServerConfig struct {
	Host      string `toml:"host"`
	Port      int    `toml:"port"`
	StartPath string `toml:"start_path"`
	// BaseDir is the directory served over HTTP, relative to Root.
	BaseDir string `toml:"base_dir"`
	NoOpen  bool   `toml:"no_open"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// URL returns the browser URL of the start page.
func (s ServerConfig) URL() string {
	host := s.Host
	if host == "" || host == "0.0.0.0" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%d%s", host, s.Port, s.StartPath)
}

// StyleOptions are the Compile Options consumed by the style compile step.
type StyleOptions struct {
	// Entry is the stylesheet compiled, relative to the styles source dir.
	Entry       string `toml:"entry"`
	OutputStyle string `toml:"output_style"`
	IndentType  string `toml:"indent_type"`
	IndentWidth int    `toml:"indent_width"`
	Precision   int    `toml:"precision"`
	// Targets are browser targets for vendor prefixing, e.g. "safari11".
	Targets []string `toml:"targets"`
	// Compiler is the Dart Sass executable.
	Compiler string `toml:"compiler"`
}

// ScriptsConfig configures the script transform.
type ScriptsConfig struct {
	// Target is the ECMAScript baseline, e.g. "es2015".
	Target string `toml:"target"`
}

// TemplatesConfig configures template rendering.
type TemplatesConfig struct {
	Ext           string         `toml:"ext"`
	PartialPrefix string         `toml:"partial_prefix"`
	IncludePrefix string         `toml:"include_prefix"`
	IndentSize    int            `toml:"indent_size"`
	Data          map[string]any `toml:"data"`
}

// ImagesConfig configures raster image optimization.
type ImagesConfig struct {
	JPEGQuality int `toml:"jpeg_quality"`
}

// WatchConfig configures the watcher.
type WatchConfig struct {
	DebounceMS int `toml:"debounce_ms"`
	// Ignore holds doublestar patterns matched against base names of
	// changed files, e.g. editor swap files.
	Ignore []string `toml:"ignore"`
	// IncludeHidden reports changes to dot files.
	IncludeHidden bool           `toml:"include_hidden"`
	Bindings      []WatchBinding `toml:"bindings"`
}

// WatchBinding maps a category's source glob to the task re-run on change.
type WatchBinding struct {
	Category string `toml:"category"`
	Glob     string `toml:"glob"`
	Task     string `toml:"task"`
}

// RunnerConfig configures the task graph runner.
type RunnerConfig struct {
	Concurrency int `toml:"concurrency"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Root: ".",
		Paths: PathsConfig{
			Src:  "src",
			Dist: "dist",
			Categories: map[string]CategoryPaths{
				CategoryMarkup:    {Source: "", Dest: "", Mirror: true},
				CategoryTemplates: {Source: "pages", Dest: "pages"},
				CategoryFonts:     {Source: "assets/fonts", Dest: "assets/fonts"},
				CategoryImages:    {Source: "assets/images", Dest: "assets/images"},
				CategoryVideos:    {Source: "assets/videos", Dest: "assets/videos"},
				CategorySample:    {Source: "assets/sample", Dest: "assets/sample"},
				CategoryStyles:    {Source: "assets/scss", Dest: "assets/css"},
				CategoryScripts:   {Source: "assets/js", Dest: "assets/js"},
				CategoryLib:       {Source: "assets/lib", Dest: "assets/lib"},
				CategoryJSON:      {Source: "assets/json", Dest: "assets/json"},
			},
		},
		Server: ServerConfig{
			Host:      "localhost",
			Port:      3000,
			StartPath: "/dist/pages/main.html",
			BaseDir:   ".",
		},
		Styles: StyleOptions{
			Entry:       "style.scss",
			OutputStyle: "expanded",
			IndentType:  "space",
			IndentWidth: 4,
			Precision:   8,
			Targets:     []string{"chrome58", "edge16", "firefox57", "safari11", "ios11"},
			Compiler:    "sass",
		},
		Scripts: ScriptsConfig{
			Target: "es2015",
		},
		Templates: TemplatesConfig{
			Ext:           ".tmpl",
			PartialPrefix: "_",
			IncludePrefix: "@@",
			IndentSize:    2,
			Data:          map[string]any{},
		},
		Images: ImagesConfig{
			JPEGQuality: 80,
		},
		Watch: WatchConfig{
			DebounceMS: 100,
			Ignore:     []string{"*~", "*.swp", "*.swx", "#*#"},
			Bindings:   DefaultWatchBindings(),
		},
		Runner: RunnerConfig{
			Concurrency: 8,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DefaultWatchBindings returns the built-in watch table.
//
// The videos binding names the "movies" category, which has no registry
// entry. The watcher reports it at startup and leaves it inert; override
// the binding in a config file to watch the videos directory.
func DefaultWatchBindings() []WatchBinding {
	return []WatchBinding{
		{Category: CategoryTemplates, Glob: "**/*.tmpl", Task: "ejs"},
		{Category: CategoryStyles, Glob: "**/*.scss", Task: "scss:compile"},
		{Category: CategoryScripts, Glob: "**/*.js", Task: "js"},
		{Category: CategoryLib, Glob: "**/*.{js,css}", Task: "lib"},
		{Category: CategoryJSON, Glob: "**/*.json", Task: "json"},
		{Category: CategoryImages, Glob: "**/*.{png,jpg,jpeg,gif,ico}", Task: "images"},
		{Category: CategoryImages, Glob: "**/*.svg", Task: "svg"},
		{Category: CategoryFonts, Glob: "**/*.{eot,otf,svg,ttf,woff,woff2}", Task: "fonts"},
		{Category: "movies", Glob: "*", Task: "videos"},
		{Category: CategorySample, Glob: "*", Task: "sample"},
	}
}

// Abs resolves a root-relative path.
func (c *Config) Abs(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(c.Root, rel)
}

// SrcDir returns the absolute source tree.
func (c *Config) SrcDir() string { return c.Abs(c.Paths.Src) }

// DistDir returns the absolute output tree.
func (c *Config) DistDir() string { return c.Abs(c.Paths.Dist) }

var (
	outputStyles = []string{"expanded", "compressed"}
	indentTypes  = []string{"space", "tab"}
	logFormats   = []string{"", "console", "json"}
	logLevels    = []string{"debug", "info", "warn", "warning", "error"}
)

// Validate checks every setting and returns all failures at once.
func (c *Config) Validate() error {
	var errs ValidationErrors
	add := func(path, msg string, value any) {
		errs = append(errs, &ValidationError{Path: path, Message: msg, Value: value})
	}

	if c.Paths.Src == "" {
		add("paths.src", "must not be empty", c.Paths.Src)
	}
	if c.Paths.Dist == "" {
		add("paths.dist", "must not be empty", c.Paths.Dist)
	}
	if filepath.Clean(c.Paths.Dist) == "." {
		add("paths.dist", "must not be the project root", c.Paths.Dist)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port", "must be between 1 and 65535", c.Server.Port)
	}
	if !slices.Contains(outputStyles, c.Styles.OutputStyle) {
		add("styles.output_style", fmt.Sprintf("must be one of %v", outputStyles), c.Styles.OutputStyle)
	}
	if !slices.Contains(indentTypes, c.Styles.IndentType) {
		add("styles.indent_type", fmt.Sprintf("must be one of %v", indentTypes), c.Styles.IndentType)
	}
	if c.Styles.IndentWidth < 0 || c.Styles.IndentWidth > 10 {
		add("styles.indent_width", "must be between 0 and 10", c.Styles.IndentWidth)
	}
	if c.Styles.Precision < 0 || c.Styles.Precision > 20 {
		add("styles.precision", "must be between 0 and 20", c.Styles.Precision)
	}
	if c.Styles.Entry == "" {
		add("styles.entry", "must not be empty", c.Styles.Entry)
	}
	if c.Templates.IndentSize < 0 {
		add("templates.indent_size", "must not be negative", c.Templates.IndentSize)
	}
	if c.Templates.IncludePrefix == "" {
		add("templates.include_prefix", "must not be empty", c.Templates.IncludePrefix)
	}
	if c.Templates.Ext == "" {
		add("templates.ext", "must not be empty", c.Templates.Ext)
	}
	if c.Images.JPEGQuality < 1 || c.Images.JPEGQuality > 100 {
		add("images.jpeg_quality", "must be between 1 and 100", c.Images.JPEGQuality)
	}
	if c.Watch.DebounceMS < 0 {
		add("watch.debounce_ms", "must not be negative", c.Watch.DebounceMS)
	}
	for i, p := range c.Watch.Ignore {
		if !doublestar.ValidatePattern(p) {
			add(fmt.Sprintf("watch.ignore[%d]", i), "invalid pattern", p)
		}
	}
	for i, b := range c.Watch.Bindings {
		if b.Task == "" || b.Glob == "" {
			add(fmt.Sprintf("watch.bindings[%d]", i), "task and glob are required", b)
		}
	}
	if c.Runner.Concurrency < 1 {
		add("runner.concurrency", "must be at least 1", c.Runner.Concurrency)
	}
	if !slices.Contains(logLevels, c.Logging.Level) {
		add("logging.level", fmt.Sprintf("must be one of %v", logLevels), c.Logging.Level)
	}
	if !slices.Contains(logFormats, c.Logging.Format) {
		add("logging.format", "must be console or json", c.Logging.Format)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
