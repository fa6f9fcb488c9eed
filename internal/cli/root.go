// Package cli implements the assetpipe command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/dshills/assetpipe/internal/config"
	"github.com/dshills/assetpipe/internal/dag"
	"github.com/dshills/assetpipe/internal/event"
	"github.com/dshills/assetpipe/internal/logging"
	"github.com/dshills/assetpipe/internal/paths"
	"github.com/dshills/assetpipe/internal/server"
	"github.com/dshills/assetpipe/internal/task"
	"github.com/dshills/assetpipe/internal/transform"
	"github.com/dshills/assetpipe/internal/watcher"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
)

// Execute runs the root command and returns the process exit code.
func Execute(ctx context.Context) int {
	cmd := NewRootCmd()
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		return 1
	}
	return 0
}

type options struct {
	configPath string
	root       string
	logLevel   string
	logFormat  string
	noOpen     bool

	// compiler replaces Dart Sass in tests.
	compiler transform.StyleCompiler
	// logOutput defaults to stderr.
	logOutput io.Writer
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&options{})
}

func newRootCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assetpipe [task...]",
		Short: "Build, serve and watch a static site",
		Long: "assetpipe renders templates, compiles styles and scripts, copies assets\n" +
			"into the output tree, and serves it with live reload while watching sources.\n\n" +
			"With no arguments the \"default\" target runs: clean, then build.",
		Version:       version + " (" + commit + ")",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTargets(cmd, opts, args)
		},
	}

	f := cmd.PersistentFlags()
	f.StringVarP(&opts.configPath, "config", "c", "", "config file (.toml, .yaml, .yml)")
	f.StringVarP(&opts.root, "root", "r", ".", "project root")
	f.StringVar(&opts.logLevel, "log-level", "info", "log level: debug|info|warn|error")
	f.StringVar(&opts.logFormat, "log-format", "", "log format: console|json (default console on a terminal)")
	f.BoolVar(&opts.noOpen, "no-open", false, "do not open a browser")

	cmd.AddCommand(tasksCmd(opts))
	return cmd
}

// app is everything one invocation wires together.
type app struct {
	cfg      *config.Config
	reg      *paths.Registry
	log      *logging.Logger
	bus      *event.Bus
	set      *task.Set
	watch    *watcher.Service
	compiler transform.StyleCompiler
	closers  []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && !errors.Is(err, event.ErrBusClosed) {
			a.log.Debug("close failed", "error", err)
		}
	}
}

// flagOverrides returns the config settings given on the command line.
func flagOverrides(cmd *cobra.Command, opts *options) map[string]any {
	out := make(map[string]any)
	f := cmd.Flags()
	if f.Changed("log-level") {
		out["logging.level"] = opts.logLevel
	}
	if f.Changed("log-format") {
		out["logging.format"] = opts.logFormat
	}
	if f.Changed("no-open") {
		out["server.no_open"] = opts.noOpen
	}
	return out
}

func setup(cmd *cobra.Command, opts *options) (*app, error) {
	cfg, err := config.Load(config.LoadOptions{
		Root:       opts.root,
		ConfigPath: opts.configPath,
		Overrides:  flagOverrides(cmd, opts),
	})
	if err != nil {
		return nil, err
	}

	logOut := opts.logOutput
	if logOut == nil {
		logOut = os.Stderr
	}
	log := logging.New(logging.Config{
		Level:  logging.ParseLevel(cfg.Logging.Level),
		Format: logging.Format(cfg.Logging.Format),
		Output: logOut,
	})
	logging.SetDefault(log)

	reg, err := paths.FromConfig(cfg)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, reg: reg, log: log, bus: event.NewBus()}
	a.closers = append(a.closers, a.bus.Close)

	a.compiler = opts.compiler
	if a.compiler == nil {
		sassLog := log.WithComponent("sass")
		ds := &transform.DartSass{
			Binary: cfg.Styles.Compiler,
			OnLog:  func(msg string) { sassLog.Warn(msg) },
		}
		a.compiler = ds
		a.closers = append(a.closers, ds.Close)
	}

	a.set, err = task.New(task.Deps{
		Config:    cfg,
		Registry:  reg,
		Publisher: a.bus,
		Compiler:  a.compiler,
		Logger:    log,
	})
	if err != nil {
		return nil, err
	}

	gin.SetMode(gin.ReleaseMode)
	srv := server.New(server.Options{
		Config: cfg.Server,
		Root:   cfg.Abs(cfg.Server.BaseDir),
		Bus:    a.bus,
		Logger: log,
	})
	if err := a.set.Register(task.Serve, "", "serve the project with live reload", srv.Run); err != nil {
		return nil, err
	}

	a.watch, err = watcher.New(watcher.Options{
		Registry: reg,
		Bindings: cfg.Watch.Bindings,
		Debounce: time.Duration(cfg.Watch.DebounceMS) * time.Millisecond,
		Runner:   a.set,
		Logger:   log,
		Root:     cfg.Root,
		WatcherOptions: []watcher.Option{
			watcher.WithIgnore(cfg.Watch.Ignore...),
			watcher.WithIgnoreHidden(!cfg.Watch.IncludeHidden),
		},
	})
	if err != nil {
		return nil, err
	}
	if err := a.set.Register(task.Watch, "", "rebuild categories when sources change", a.watch.Run); err != nil {
		return nil, err
	}
	return a, nil
}

func runTargets(cmd *cobra.Command, opts *options, targets []string) error {
	a, err := setup(cmd, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	g, err := a.set.Graph(targets...)
	if err != nil {
		return err
	}
	exec := &dag.Executor{
		Graph:       g,
		Concurrency: a.cfg.Runner.Concurrency,
		Logger:      a.log,
	}
	res, runErr := exec.Run(cmd.Context())
	if res != nil {
		printSummary(cmd.OutOrStdout(), res)
	}
	if runErr != nil {
		return runErr
	}
	return nil
}
