package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/learnsearch/internal/config"
	"github.com/Aman-CERP/learnsearch/internal/output"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage learnsearch configuration.

Configuration precedence (lowest to highest):
  1. Hardcoded defaults
  2. User config (~/.config/learnsearch/config.yaml)
  3. Project config (` + config.ProjectConfigName + ` in --dir)
  4. Environment variables (LEARNSEARCH_*)`,
	}

	cmd.AddCommand(newConfigInitCmd(a))
	cmd.AddCommand(newConfigShowCmd(a))
	cmd.AddCommand(newConfigPathCmd())
	return cmd
}

func newConfigInitCmd(a *app) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default user configuration",
		Long: `Write the default configuration to the user config file. An existing file
is kept unless --force is given, in which case it is backed up first.`,
		Annotations: map[string]string{annotationNoConfig: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := output.NewWithColor(cmd.OutOrStdout(), !a.noColor)
			path := config.GetUserConfigPath()

			if _, err := os.Stat(path); err == nil {
				if !force {
					out.Warning("User configuration already exists")
					out.Field("location", path)
					out.Status("", "Use --force to overwrite it with the defaults (a backup is kept)")
					return nil
				}
				backup, err := config.BackupFile(path)
				if err != nil {
					return err
				}
				out.Field("backup", backup)
			}

			if err := config.NewConfig().WriteYAML(path); err != nil {
				return err
			}
			out.Success("Wrote user configuration")
			out.Field("location", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing configuration")
	return cmd
}

func newConfigShowCmd(a *app) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if jsonOutput {
				data, err := a.cfg.JSON()
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return err
			}
			data, err := yaml.Marshal(a.cfg)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "path",
		Short:       "Print the user config file path",
		Annotations: map[string]string{annotationNoConfig: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), config.GetUserConfigPath())
			return err
		},
	}
}
