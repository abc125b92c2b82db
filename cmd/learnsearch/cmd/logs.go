package cmd

import (
	"fmt"
	"regexp"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/learnsearch/internal/logging"
)

func newLogsCmd(a *app) *cobra.Command {
	var (
		lines      int
		level      string
		filter     string
		task       string
		objectType string
		file       string
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent worker log entries",
		Long: `Show the last entries of the worker log, optionally filtered.

The log file is logging.file, or ~/.learnsearch/logs/learnsearch.log when the
worker ran with --debug.`,
		Example: `  learnsearch logs -n 100 --level warn
  learnsearch logs --task finish_recreate_index
  learnsearch logs --object-type course --filter chunk_failed`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if file == "" {
				file = a.cfg.Logging.File
			}
			path, err := logging.FindLogFile(file)
			if err != nil {
				return err
			}

			var pattern *regexp.Regexp
			if filter != "" {
				if pattern, err = regexp.Compile(filter); err != nil {
					return fmt.Errorf("invalid filter pattern: %w", err)
				}
			}

			v := logging.NewViewer(logging.ViewerConfig{
				Level:      level,
				Pattern:    pattern,
				Task:       task,
				ObjectType: objectType,
				NoColor:    a.noColor,
			}, cmd.OutOrStdout())
			entries, err := v.Tail(path, lines)
			if err != nil {
				return err
			}
			v.Print(entries)
			return nil
		},
	}

	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of entries to show")
	cmd.Flags().StringVar(&level, "level", "", "Minimum level (debug|info|warn|error)")
	cmd.Flags().StringVar(&filter, "filter", "", "Regular expression matched against the raw line")
	cmd.Flags().StringVar(&task, "task", "", "Only entries of this task name")
	cmd.Flags().StringVar(&objectType, "object-type", "", "Only entries about this object type")
	cmd.Flags().StringVar(&file, "file", "", "Log file (default logging.file)")
	return cmd
}
