package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"jpegsweep/internal/config"
	"jpegsweep/internal/database"
	"jpegsweep/internal/exitcodes"
	"jpegsweep/internal/logging"
	"jpegsweep/internal/recompress"
	"jpegsweep/internal/runner"
)

// exitError carries the process exit code out of a cobra RunE
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

func withCode(code int, err error) error {
	return &exitError{code: code, err: err}
}

type rootOptions struct {
	configPath     string
	dryRun         bool
	verbose        bool
	verifyMetadata bool
	match          string
	identifier     string
	jpegtran       string
	identify       string
	historyDB      string
	metricsFile    string
}

// execute runs the command line and returns the process exit code
func execute(args []string) int {
	return executeWith(args, os.Stdout, os.Stderr)
}

func executeWith(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.Execute()
	if err == nil {
		return exitcodes.Success
	}

	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintln(stderr, "Error:", ee.err)
		}
		return ee.code
	}

	// cobra usage errors: unknown flag, wrong argument count
	fmt.Fprintln(stderr, "Error:", err)
	return exitcodes.InvalidConfig
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "jpegsweep [flags] DIRECTORY",
		Short: "Losslessly recompress JPEGs and fix PNG files that are really JPEGs",
		Long: `jpegsweep walks DIRECTORY and
  - rewrites every file whose name contains .jpg with jpegtran -copy all -perfect, in place
  - converts every file whose name contains .png but holds JPEG data to <name>.jpg,
    deleting the original once the conversion succeeded

Files are processed one at a time and a failure on one file does not stop the run.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(cmd, opts, args[0])
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "path to a YAML configuration file")

	local := cmd.Flags()
	local.BoolVar(&opts.dryRun, "dry-run", false, "report what would change without touching any file")
	local.BoolVarP(&opts.verbose, "verbose", "v", false, "log every candidate and decision")
	local.BoolVar(&opts.verifyMetadata, "verify-metadata", false, "warn when a rewrite drops the EXIF block")
	local.StringVar(&opts.match, "match", "", "name matching: substring (default) or suffix")
	local.StringVar(&opts.identifier, "identifier", "", "format detection: identify (default) or builtin")
	local.StringVar(&opts.jpegtran, "jpegtran", "", "jpegtran binary name or path")
	local.StringVar(&opts.identify, "identify", "", "ImageMagick identify binary name or path")
	local.StringVar(&opts.historyDB, "history-db", "", "record every action in this SQLite database")
	local.StringVar(&opts.metricsFile, "metrics-file", "", "write Prometheus metrics to this textfile after the run")

	cmd.AddCommand(newHistoryCmd(opts))
	return cmd
}

// loadConfig layers flags over the config file and environment
func loadConfig(opts *rootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}

	cfg.DryRun = cfg.DryRun || opts.dryRun
	cfg.VerifyMetadata = cfg.VerifyMetadata || opts.verifyMetadata
	overrides := []struct {
		dst *string
		val string
	}{
		{&cfg.Match, opts.match},
		{&cfg.Identifier, opts.identifier},
		{&cfg.Tools.Jpegtran, opts.jpegtran},
		{&cfg.Tools.Identify, opts.identify},
		{&cfg.DatabasePath, opts.historyDB},
		{&cfg.MetricsFile, opts.metricsFile},
	}
	for _, o := range overrides {
		if o.val != "" {
			*o.dst = o.val
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runSweep(cmd *cobra.Command, opts *rootOptions, dir string) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return withCode(exitcodes.InvalidConfig, fmt.Errorf("load config: %w", err))
	}
	if err := cfg.SetRoot(dir); err != nil {
		return withCode(exitcodes.InvalidConfig, err)
	}

	logger, closeLog := logging.NewWithConfig(cfg, opts.verbose)
	defer closeLog()

	if cfg.DryRun {
		logger.Infow("DRY RUN MODE: no files will be changed")
	}

	var db *database.HistoryDB
	if cfg.DatabasePath != "" {
		logger.Debugw("opening history database", "path", cfg.DatabasePath)
		db, err = database.NewHistoryDB(cfg.DatabasePath)
		if err != nil {
			return withCode(exitcodes.RuntimeError, fmt.Errorf("open history database: %w", err))
		}
		defer func() {
			if err := db.Close(); err != nil {
				logger.Errorw("failed to close database", "error", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summary, err := runner.RunOnce(ctx, cfg, logger, db)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warnw("interrupted", "recompressed", summary.Recompressed, "converted", summary.Converted)
		}
		return withCode(exitcodes.RuntimeError, err)
	}

	if code := exitCode(summary); code != exitcodes.Success {
		return withCode(code, nil)
	}
	return nil
}

// exitCode folds per-file outcomes into the process status
func exitCode(s recompress.Summary) int {
	switch {
	case s.Failed > 0:
		return exitcodes.FileFailures
	case s.SafetyBlocked > 0:
		return exitcodes.SafetyViolation
	default:
		return exitcodes.Success
	}
}
