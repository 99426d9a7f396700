package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/iTrooz/cmdcache/internal/config"
	"github.com/iTrooz/cmdcache/internal/runner"
)

// Exit codes of the tool itself. Replayed and executed commands exit with
// the wrapped program's code instead.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitConfigError = 2
)

// ErrNoCommand is returned when no program is given after the flags
var ErrNoCommand = errors.New("no command provided: usage: cmdcache [flags] -- <program> [args...]")

type options struct {
	ttl           string
	cacheSeconds  int
	cacheFailures bool
	verbose       bool
	clear         bool
	clearAll      bool
	cacheDir      string
	lockTimeout   string
	configPath    string
}

// Execute runs the tool with args (excluding the program name) and returns
// the exit code to terminate with.
func Execute(ctx context.Context, ver string, args []string, streams runner.Streams) int {
	exitCode := ExitOK
	started := false
	cmd := newRootCmd(ver, streams, &exitCode, &started)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return exitCode
	}

	fmt.Fprintf(streams.Stderr, "cmdcache: %v\n", err)

	var invErr *runner.InvocationError
	switch {
	case errors.As(err, &invErr):
		return invErr.ExitCode()
	case !started, errors.Is(err, config.ErrInvalidConfig), errors.Is(err, ErrNoCommand):
		return ExitConfigError
	default:
		return ExitFailure
	}
}

// Main is the entry point used by cmd/cmdcache
func Main(ver string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return Execute(ctx, ver, os.Args[1:], runner.StdStreams())
}

func newRootCmd(ver string, streams runner.Streams, exitCode *int, started *bool) *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "cmdcache [flags] -- <program> [args...]",
		Short: "Cache the output of commands for a while",
		Long: `cmdcache runs a command and caches its stdout, stderr and exit code.
Running the same command again while the cached result is fresh replays it
instead of running the command.`,
		Version:       ver,
		Example:       rootCmdExample,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			*started = true
			code, err := run(cmd, opts, args, streams)
			*exitCode = code
			return err
		},
	}
	cmd.SetOut(streams.Stdout)
	cmd.SetErr(streams.Stderr)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	})

	flags := cmd.Flags()
	flags.SetInterspersed(false)
	flags.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		if name == "cache-duration" {
			name = "ttl"
		}
		return pflag.NormalizedName(name)
	})
	flags.StringVarP(&opts.ttl, "ttl", "t", "", `how long results stay fresh, as a duration ("90s", "1h") or seconds (alias --cache-duration)`)
	flags.IntVarP(&opts.cacheSeconds, "cache-seconds", "c", 60, "how long results stay fresh, in seconds (--ttl wins when both are set)")
	flags.BoolVar(&opts.cacheFailures, "cache-failures", false, "also replay results of commands that exited non-zero")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log cache decisions to stderr")
	flags.BoolVar(&opts.clear, "clear", false, "remove the cached result of the given command")
	flags.BoolVar(&opts.clearAll, "clear-all", false, "remove every cached result")
	flags.StringVar(&opts.cacheDir, "cache-dir", "", "cache directory (default $"+config.EnvCacheDir+" or the user cache directory)")
	flags.StringVar(&opts.lockTimeout, "lock-timeout", "", "how long to wait for a concurrent run of the same command, 0 to not wait (default "+config.DefaultLockTimeout+")")
	flags.StringVar(&opts.configPath, "config", "", "config file (default "+config.DefaultPath()+")")
	cmd.MarkFlagsMutuallyExclusive("clear", "clear-all")

	return cmd
}

func run(cmd *cobra.Command, opts *options, args []string, streams runner.Streams) (int, error) {
	setupLogging(streams.Stderr, opts.verbose)

	cfg, err := resolveConfig(cmd.Flags(), opts)
	if err != nil {
		return ExitConfigError, err
	}
	logrus.Debugf("Cache directory: %s", cfg.Cache.Folder)
	logrus.Debugf("Cache TTL: %s", cfg.Cache.TTL)

	r, err := runner.NewFromConfig(cfg)
	if err != nil {
		return ExitConfigError, err
	}

	if opts.clearAll {
		if len(args) > 0 {
			return ExitConfigError, fmt.Errorf("%w: --clear-all does not take a command", config.ErrInvalidConfig)
		}
		if err := r.ClearAll(); err != nil {
			return ExitFailure, err
		}
		return ExitOK, nil
	}

	if len(args) == 0 {
		return ExitConfigError, ErrNoCommand
	}
	program, programArgs := args[0], args[1:]

	if opts.clear {
		if err := r.Clear(cmd.Context(), program, programArgs); err != nil {
			return ExitFailure, err
		}
		return ExitOK, nil
	}

	outcome, err := r.Run(cmd.Context(), program, programArgs, streams)
	if err != nil {
		return ExitFailure, err
	}
	return outcome.ExitCode, nil
}

// resolveConfig layers flags over the config file over the defaults.
// When both TTL forms are given, the duration form (--ttl / --cache-duration) wins.
func resolveConfig(flags *pflag.FlagSet, opts *options) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.configPath != "" {
		cfg, err = config.Load(opts.configPath)
	} else {
		cfg, err = config.LoadOptional(config.DefaultPath())
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}

	if flags.Changed("cache-seconds") {
		cfg.Cache.TTL = strconv.Itoa(opts.cacheSeconds)
	}
	if flags.Changed("ttl") {
		cfg.Cache.TTL = opts.ttl
	}
	if flags.Changed("cache-failures") {
		cfg.Cache.CacheFailures = opts.cacheFailures
	}
	if flags.Changed("cache-dir") {
		cfg.Cache.Folder = opts.cacheDir
	}
	if flags.Changed("lock-timeout") {
		cfg.Cache.LockTimeout = opts.lockTimeout
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupLogging sends logs to stderr so stdout only carries the command's output
func setupLogging(out io.Writer, verbose bool) {
	logrus.SetOutput(out)
	logrus.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: true,
		DisableQuote:     true,
	})
	if verbose {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.ErrorLevel)
	}
}

const rootCmdExample = `  # Cache the output of a slow command for an hour
  cmdcache --ttl 1h -- curl -s https://example.com/status

  # Same, in seconds
  cmdcache -c 3600 -- curl -s https://example.com/status

  # Also replay failures
  cmdcache --cache-failures -- ./flaky-check.sh

  # Forget the cached result of one command
  cmdcache --clear -- curl -s https://example.com/status

  # Forget everything
  cmdcache --clear-all`
