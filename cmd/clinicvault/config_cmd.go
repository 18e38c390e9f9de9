package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
		Long: `Inspect clinicvault configuration. Subcommands print the loaded
configuration and the locations it resolves to.`,
		Example: `  clinicvault config show
  clinicvault config paths`,
	}

	cmd.AddCommand(
		newConfigShowCmd(),
		newConfigPathsCmd(),
	)

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		Long: `Display the current configuration in YAML format. If a config file
is loaded, shows the loaded configuration with any command-line overrides
applied.`,
		Example: `  clinicvault config show
  clinicvault config show --config /etc/clinicvault/clinicvault.yaml`,
		RunE: configShowRun,
	}

	return cmd
}

func configShowRun(cmd *cobra.Command, args []string) error {
	log := slog.Default()

	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	log.Debug("showing configuration")

	data, err := yaml.Marshal(globalCfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	fmt.Println("Current Configuration:")
	fmt.Println("======================")
	fmt.Println(string(data))

	return nil
}

func newConfigPathsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "paths",
		Short: "Display resolved data locations",
		Long: `Display the absolute locations the configuration resolves to. Relative
paths in the config file are taken relative to server.data_dir.`,
		Example: `  clinicvault config paths --data-dir /srv/clinic`,
		RunE:    configPathsRun,
	}

	return cmd
}

func configPathsRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	fmt.Printf("database: %s\n", globalCfg.DatabasePath())
	fmt.Printf("uploads:  %s\n", globalCfg.UploadsPath())
	fmt.Printf("settings: %s\n", globalCfg.SettingsPath())
	fmt.Printf("backups:  %s\n", globalCfg.BackupOutputDir())

	return nil
}
