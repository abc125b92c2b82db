// Package cmd provides the CLI commands for learnsearch.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/learnsearch/internal/config"
	lserrors "github.com/Aman-CERP/learnsearch/internal/errors"
	"github.com/Aman-CERP/learnsearch/internal/logging"
	"github.com/Aman-CERP/learnsearch/internal/profiling"
	"github.com/Aman-CERP/learnsearch/internal/ui"
	"github.com/Aman-CERP/learnsearch/pkg/version"
)

// Command annotations read by the root hooks.
const (
	// annotationNoConfig skips config loading for the command.
	annotationNoConfig = "learnsearch/no-config"
	// annotationVerbose logs at the configured level instead of warn.
	annotationVerbose = "learnsearch/verbose"
)

// app carries state shared by every subcommand of one invocation.
type app struct {
	dir     string
	debug   bool
	noColor bool

	profile profiling.Options

	cfg            *config.Config
	loggingCleanup func()
	profiler       *profiling.Session
}

// NewRootCmd creates the root command for the learnsearch CLI.
func NewRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:   "learnsearch",
		Short: "Index learning resources into a search engine",
		Long: `learnsearch keeps a search engine in sync with the learning resource catalog.

Full reindexes build fresh backing indices per object type and switch the
public aliases only when every chunk succeeded. Incremental updates write to
the live indices. All work runs as tasks on a persistent queue served by
'learnsearch worker'.`,
		Version:           version.Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRunE: func(*cobra.Command, []string) error {
			a.teardown()
			return nil
		},
	}
	cmd.SetVersionTemplate("learnsearch version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&a.dir, "dir", ".", "Directory holding "+config.ProjectConfigName)
	cmd.PersistentFlags().BoolVar(&a.debug, "debug", false, "Enable debug logging to "+logging.DefaultLogPath())
	cmd.PersistentFlags().BoolVar(&a.noColor, "no-color", false, "Disable colored output")
	cmd.PersistentFlags().StringVar(&a.profile.CPU, "cpuprofile", "", "Write a CPU profile to `file`")
	cmd.PersistentFlags().StringVar(&a.profile.Heap, "memprofile", "", "Write a heap profile to `file` on exit")
	cmd.PersistentFlags().StringVar(&a.profile.Trace, "trace", "", "Write an execution trace to `file`")
	_ = cmd.PersistentFlags().MarkHidden("trace")

	cmd.AddCommand(newRecreateIndexCmd(a))
	cmd.AddCommand(newUpdateIndexCmd(a))
	cmd.AddCommand(newUpsertCmd(a))
	cmd.AddCommand(newDeindexCmd(a))
	cmd.AddCommand(newPercolateCmd(a))
	cmd.AddCommand(newWorkerCmd(a))
	cmd.AddCommand(newStatusCmd(a))
	cmd.AddCommand(newGCCmd(a))
	cmd.AddCommand(newConfigCmd(a))
	cmd.AddCommand(newLogsCmd(a))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// setup loads configuration and installs the default logger.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if a.noColor || ui.DetectNoColor() {
		a.noColor = true
	}
	if cmd.Annotations[annotationNoConfig] != "" {
		return nil
	}

	cfg, err := config.Load(a.dir)
	if err != nil {
		return err
	}
	a.cfg = cfg

	logCfg := logging.Config{
		Level:         cfg.Logging.Level,
		FilePath:      cfg.Logging.File,
		MaxSizeMB:     cfg.Logging.MaxSizeMB,
		MaxFiles:      cfg.Logging.MaxFiles,
		WriteToStderr: true,
	}
	switch {
	case a.debug:
		logCfg.Level = "debug"
		if logCfg.FilePath == "" {
			logCfg.FilePath = logging.DefaultLogPath()
			logCfg.WriteToStderr = false
		}
	case cmd.Annotations[annotationVerbose] == "":
		// One-shot commands keep stderr for problems only.
		logCfg.Level = "warn"
	}

	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	a.loggingCleanup = cleanup
	slog.SetDefault(logger)
	slog.Debug("config_loaded", slog.String("dir", a.dir), slog.String("version", version.Version))

	if a.profile.Enabled() {
		a.profiler, err = profiling.Start(a.profile)
		if err != nil {
			return err
		}
	}
	return nil
}

func (a *app) teardown() {
	if err := a.profiler.Stop(); err != nil {
		slog.Warn("profiling_stop_failed", lserrors.LogAttrs(err)...)
	}
	a.profiler = nil
	if a.loggingCleanup != nil {
		a.loggingCleanup()
		a.loggingCleanup = nil
	}
}
