// Package cmd provides the CLI commands for mealrag.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nutrimind/mealrag/internal/config"
	merrors "github.com/nutrimind/mealrag/internal/errors"
	"github.com/nutrimind/mealrag/internal/logging"
	"github.com/nutrimind/mealrag/internal/profiling"
	"github.com/nutrimind/mealrag/pkg/version"
)

// Profiling flags
var (
	profileCPU    string
	profileMem    string
	profileAllocs string
	profileTrace  string
	stopProfiling func() error
)

// Global flags
var (
	projectDir     string
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the mealrag CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mealrag",
		Short: "Hybrid meal search over a nutrition corpus",
		Long: `mealrag answers free-text meal questions over a local nutrition corpus.

Every query runs keyword (BM25) and semantic (embedding) retrieval,
fuses both rankings, reranks the candidates and prints each meal with
its nutrition facts.

Start with 'mealrag index build', then 'mealrag search "high protein breakfast"'.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("mealrag version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&projectDir, "dir", "C", ".", "Directory holding .mealrag.yaml and the relative corpus paths")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging on stderr and in the log file")

	cmd.PersistentFlags().StringVar(&profileCPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&profileMem, "profile-mem", "", "Write heap profile to file")
	cmd.PersistentFlags().StringVar(&profileAllocs, "profile-allocs", "", "Write allocation profile to file")
	cmd.PersistentFlags().StringVar(&profileTrace, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = startProfilingAndLogging
	cmd.PersistentPostRunE = stopProfilingAndLogging

	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newCorpusCmd())
	cmd.AddCommand(newMealsCmd())
	cmd.AddCommand(newEvalCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startProfilingAndLogging installs the default logger and starts any
// requested profiles.
func startProfilingAndLogging(cmd *cobra.Command, _ []string) error {
	// An invalid project config must not stop `config init` from replacing
	// it, so logging falls back to defaults and commands report the error.
	cfg, err := config.Load(projectDir)
	if err != nil {
		cfg = config.NewConfig()
	}

	logCfg := logging.Config{
		Level:         cfg.Logging.Level,
		FilePath:      cfg.Logging.File,
		MaxSizeMB:     cfg.Logging.MaxSizeMB,
		MaxFiles:      cfg.Logging.MaxFiles,
		Console:       debugMode,
		ConsoleWriter: cmd.ErrOrStderr(),
	}
	if debugMode {
		logCfg.Level = "debug"
	}

	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		// A read-only home directory still gets console logging.
		logCfg.FilePath = ""
		logger, cleanup, err = logging.Setup(logCfg)
		if err != nil {
			return fmt.Errorf("failed to setup logging: %w", err)
		}
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	slog.Debug("command_started",
		slog.String("command", cmd.CommandPath()),
		slog.String("version", version.Short()))

	opts := profiling.Options{
		CPU:    profileCPU,
		Heap:   profileMem,
		Allocs: profileAllocs,
		Trace:  profileTrace,
	}
	if opts.Enabled() {
		stop, err := profiling.Start(opts)
		if err != nil {
			return fmt.Errorf("failed to start profiling: %w", err)
		}
		stopProfiling = stop
	}

	return nil
}

// stopProfilingAndLogging ends profiling and flushes the log file.
func stopProfilingAndLogging(_ *cobra.Command, _ []string) error {
	var err error
	if stopProfiling != nil {
		if perr := stopProfiling(); perr != nil {
			err = fmt.Errorf("failed to write profiles: %w", perr)
		}
		stopProfiling = nil
	}

	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}

	return err
}

// Execute runs the root command and prints any error for the terminal.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := NewRootCmd().ExecuteContext(ctx)
	if err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "command_failed", merrors.LogAttrs(err)...)
		_, _ = fmt.Fprintln(os.Stderr, merrors.FormatForCLI(err))
	}
	return err
}

// loadConfig loads the configuration for the --dir directory.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(projectDir)
	if err != nil {
		return nil, merrors.ConfigError("failed to load configuration", err)
	}
	return cfg, nil
}

// fileExists checks if a file exists.
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
