// Package cli is the todo command line: cobra commands over one backend
// handle built from the configuration at startup.
package cli

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/Makepad-fr/tada/internal/config"
	"github.com/Makepad-fr/tada/internal/logging"
	"github.com/Makepad-fr/tada/internal/ui"
)

// Exit codes.
const (
	ExitOK    = 0
	ExitError = 1
	ExitUsage = 2
)

// UsageError marks errors caused by bad arguments.
var UsageError = errs.Class("usage")

// app is the state shared by every subcommand of one invocation.
type app struct {
	v      *viper.Viper
	cfg    config.Config
	log    *zap.Logger
	out    io.Writer
	errOut io.Writer

	closers []func() error
}

// Execute runs the command line with os.Args and returns the exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return Run(ctx, os.Args[1:], os.Stdout, os.Stderr)
}

// Run executes args and returns the exit code.
func Run(ctx context.Context, args []string, out, errOut io.Writer) int {
	a := &app{v: viper.New(), out: out, errOut: errOut, log: zap.NewNop()}
	root := a.rootCommand()
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(errOut)
	ui.SetOutput(out, errOut)

	err := root.ExecuteContext(ctx)
	if cerr := a.close(); cerr != nil {
		a.log.Warn("shutdown", zap.Error(cerr))
	}
	_ = a.log.Sync()
	if err == nil {
		return ExitOK
	}
	ui.Fail(err.Error())
	if isUsage(err) {
		return ExitUsage
	}
	return ExitError
}

func isUsage(err error) bool {
	if UsageError.Has(err) {
		return true
	}
	// cobra does not type these
	msg := err.Error()
	return strings.HasPrefix(msg, "unknown command") ||
		strings.HasPrefix(msg, "unknown flag") ||
		strings.HasPrefix(msg, "unknown shorthand flag")
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "todo",
		Short: "A realtime todo list",
		Long: `todo keeps a todo list in step with its backend: a local file, a sqlite
database, or a collection server whose changes stream in live.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = cmd.Help()
			return UsageError.New("missing subcommand")
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.loadConfig()
		},
	}
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return UsageError.Wrap(err)
	})

	flags := root.PersistentFlags()
	flags.String("config", "", "config file (default is <data-dir>/config.yaml)")
	flags.String("backend", config.BackendLocal, "backend: local, sqlite, memory or remote")
	flags.String("data-dir", config.DefaultDataDir(), "directory for data, credentials and logs")
	flags.String("collection", "todos", "collection to work on")
	flags.String("kv", config.KVJSON, "local storage: json or bolt")
	flags.String("remote-url", "", "collection server URL for the remote backend")
	flags.String("log-level", "warn", "log level")
	flags.String("log-file", "", "log file (the interactive list defaults to <data-dir>/tada.log)")
	flags.String("theme", "classic", "color theme: classic, neon or mono")
	for key, flag := range map[string]string{
		"config":     "config",
		"backend":    "backend",
		"data_dir":   "data-dir",
		"collection": "collection",
		"kv":         "kv",
		"remote.url": "remote-url",
		"log.level":  "log-level",
		"log.file":   "log-file",
		"theme":      "theme",
	} {
		_ = a.v.BindPFlag(key, flags.Lookup(flag))
	}

	root.AddCommand(
		a.lsCommand(),
		a.addCommand(),
		a.doneCommand(),
		a.editCommand(),
		a.rmCommand(),
		a.watchCommand(),
		a.authCommand(),
		a.serveCommand(),
	)
	return root
}

func (a *app) loadConfig() error {
	config.SetDefaults(a.v)
	cfg, err := config.Load(a.v)
	if err != nil {
		return UsageError.Wrap(err)
	}
	a.cfg = cfg
	ui.SetTheme(cfg.Theme)
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		ui.DisableColor()
	}
	return nil
}

// startLogger builds the logger. The interactive list must not write to the
// terminal, so it logs to a file.
func (a *app) startLogger(interactive bool) error {
	file := a.cfg.Log.File
	if file == "" && interactive {
		if err := os.MkdirAll(a.cfg.DataDir, 0o700); err != nil {
			return errs.Wrap(err)
		}
		file = filepath.Join(a.cfg.DataDir, "tada.log")
	}
	log, err := logging.New(a.cfg.Log.Level, file)
	if err != nil {
		return UsageError.Wrap(err)
	}
	a.log = log
	return nil
}

func (a *app) onClose(f func() error) {
	a.closers = append(a.closers, f)
}

func (a *app) close() error {
	var group errs.Group
	for i := len(a.closers) - 1; i >= 0; i-- {
		group.Add(a.closers[i]())
	}
	a.closers = nil
	return group.Err()
}

// exactArgs is cobra.ExactArgs reporting a usage error.
func exactArgs(n int, usage string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return UsageError.New("todo %s", usage)
		}
		return nil
	}
}

func minArgs(n int, usage string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) < n {
			return UsageError.New("todo %s", usage)
		}
		return nil
	}
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}
