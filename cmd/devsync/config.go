package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fredcamaral/devsync/internal/adapters/secondary/config"
	"github.com/fredcamaral/devsync/internal/domain/services"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or create the devsync configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show [dir]",
	Short: "Print the effective configuration",
	Long: `Print the configuration serve would use in dir after merging the
defaults, the local config file and DEVSYNC_* environment variables.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a config file with the default settings",
	Long: `Write the default configuration to path (default: ./devsync.toml).
A .yaml or .yml extension writes YAML instead of TOML.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runConfigInit,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd, configInitCmd)

	configShowCmd.Flags().StringP("format", "f", "toml", "Output format: toml or yaml")
}

func newConfigService() *services.ConfigService {
	return services.NewConfigService(config.NewFileLoader(), config.NewConfigMerger())
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}

	explicit, _ := cmd.Flags().GetString("config")
	cfg, err := newConfigService().LoadConfig(cmd.Context(), dir, explicit, nil)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	format, _ := cmd.Flags().GetString("format")
	var name string
	switch format {
	case "toml":
		name = "devsync.toml"
	case "yaml", "yml":
		name = "devsync.yaml"
	default:
		return fmt.Errorf("unknown format %q: must be toml or yaml", format)
	}

	data, err := config.Encode(cfg, name)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := "devsync.toml"
	if len(args) == 1 {
		path = args[0]
	}
	path, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	if err := newConfigService().InitConfig(cmd.Context(), path); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", path)
	return nil
}
