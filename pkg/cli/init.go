package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/capstan/capstan/pkg/config"
)

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a new Capstan configuration",
		Long: `Initialize a new Capstan configuration file in the project root with a
local connection, example stages, and a sample hook table to edit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(force)
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite existing configuration")

	return cmd
}

func runInit(force bool) error {
	configPath := getConfigPath()

	// Check if config already exists
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("configuration already exists. Use --force to overwrite")
	}

	manager := config.NewManager()
	cfg := manager.GetDefaultConfig()

	if err := manager.SaveConfig(configPath, cfg); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	printSuccess(fmt.Sprintf("Created configuration at %s", configPath))
	printInfo("Edit the configuration to declare your connections, stages, and hooks")

	return nil
}
