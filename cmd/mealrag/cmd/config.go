package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nutrimind/mealrag/internal/config"
	"github.com/nutrimind/mealrag/internal/output"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage the mealrag configuration files.

Configuration precedence (lowest to highest):
  1. Hardcoded defaults
  2. User config (~/.config/mealrag/config.yaml)
  3. Project config (.mealrag.yaml in --dir)
  4. Environment variables (MEALRAG_*)`,
		Example: `  # Create user config with every default spelled out
  mealrag config init

  # Create .mealrag.yaml in the current directory
  mealrag config init --project

  # Show effective configuration
  mealrag config show --json`,
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigPathCmd())

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force bool
	var project bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with the defaults",
		Long: `Write the default configuration to the user config file, or with
--project to .mealrag.yaml in --dir.

An existing file is kept unless --force is given; it is then backed up
next to the original before being replaced.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := config.GetUserConfigPath()
			if project {
				path = filepath.Join(projectDir, config.ProjectConfigYAML)
			}
			return runConfigInit(cmd, path, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Replace an existing file after backing it up")
	cmd.Flags().BoolVar(&project, "project", false, "Write .mealrag.yaml in --dir instead of the user config")

	return cmd
}

func runConfigInit(cmd *cobra.Command, path string, force bool) error {
	out := output.New(cmd.OutOrStdout())

	if fileExists(path) {
		if !force {
			out.Warning("Configuration already exists")
			out.Statusf("📁", "Location: %s", path)
			out.Newline()
			out.Status("💡", "Use --force to replace it (a backup is kept)")
			return nil
		}

		backupPath, err := config.BackupFile(path)
		if err != nil {
			return fmt.Errorf("failed to backup config: %w", err)
		}
		out.Statusf("💾", "Backup: %s", backupPath)
	}

	if err := config.NewConfig().WriteYAML(path); err != nil {
		return err
	}

	out.Success("Created configuration")
	out.Statusf("📁", "Location: %s", path)
	out.Newline()
	out.Status("📋", "Next steps:")
	out.Status("", "  1. Point corpus.path at your meal corpus")
	out.Status("", "  2. Run 'mealrag config show' to verify")
	out.Status("", "  3. Run 'mealrag index build'")
	return nil
}

func newConfigShowCmd() *cobra.Command {
	var jsonOutput bool
	var defaults bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.NewConfig()
			source := "defaults"
			if !defaults {
				var err error
				cfg, err = loadConfig()
				if err != nil {
					return err
				}
				source = "merged (defaults + user + project + env)"
			}

			out := output.New(cmd.OutOrStdout())
			if jsonOutput {
				return out.JSON(cfg)
			}

			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			out.Statusf("⚙️ ", "Source: %s", source)
			out.Code(string(data))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&defaults, "defaults", false, "Show the built-in defaults only")

	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the user config file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), config.GetUserConfigPath())
			return err
		},
	}
}
