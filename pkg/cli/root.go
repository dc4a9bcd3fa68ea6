// Package cli provides the command-line interface for Capstan
package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/capstan/capstan/pkg/config"
	"github.com/capstan/capstan/pkg/logger"
)

var (
	cfgFile     string
	projectRoot string
	verbosity   string
	version     string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "capstan",
	Short: "Task queue deployment over SSH",
	Long: `⚓ Capstan - Hook-aware task queues for remote deployment

Capstan resolves named tasks, shell commands, and closures into an ordered
queue, weaves in configured before/after hooks, and runs the queue against
each connection and stage. One failed task aborts the pass; the remaining
connections still get their turn.`,

	Run: func(cmd *cobra.Command, args []string) {
		// Check if version flag is set
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Printf("⚓ Capstan v%s\n", version)
			return
		}
		// If no subcommand, show help
		cmd.Help()
	},
}

// Execute runs the CLI
func Execute(v string) error {
	version = v

	// Initialize the root command explicitly (avoiding init())
	initializeRootCommand()

	return rootCmd.Execute()
}

// initializeRootCommand sets up the root command and its flags.
// This replaces the init() function to make initialization explicit and testable.
func initializeRootCommand() {
	// Set up config initialization
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: capstan.config.json)")
	rootCmd.PersistentFlags().StringVar(&projectRoot, "root", ".", "project root directory")
	rootCmd.PersistentFlags().StringVarP(&verbosity, "verbosity", "v", "info", "log level (debug, info, warn, error)")

	// Add version flag
	rootCmd.Flags().Bool("version", false, "Print version information and quit")

	// Add subcommands
	rootCmd.AddCommand(newDeployCmd())
	rootCmd.AddCommand(newRollbackCmd())
	rootCmd.AddCommand(newCheckCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newTasksCmd())
	rootCmd.AddCommand(newHooksCmd())
	rootCmd.AddCommand(newConnectionsCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newWatchCmd())
	rootCmd.AddCommand(newInitCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func initConfig() {
	if cfgFile != "" {
		// Use config file from flag
		viper.SetConfigFile(cfgFile)
	} else {
		// Search for config in project root
		viper.AddConfigPath(projectRoot)
		viper.SetConfigName("capstan.config")
		viper.SetConfigType("json")

		// Also try YAML
		viper.SetConfigName("capstan.config")
		viper.SetConfigType("yaml")
	}

	// Read in environment variables
	viper.SetEnvPrefix("CAPSTAN")
	viper.AutomaticEnv()

	// Read config file
	if err := viper.ReadInConfig(); err == nil {
		if verbosity == "debug" {
			fmt.Println("Using config file:", viper.ConfigFileUsed())
		}
	}
}

// Helper functions

var console = logger.NewConsoleLogger()

func printSuccess(message string) { console.Success(message) }

func printError(message string) { console.Error(message) }

func printInfo(message string) { console.Info(message) }

func printWarning(message string) { console.Warn(message) }

// getConfigPath resolves the config file: the --config flag if given, else
// whichever capstan.config.{json,yaml,yml} exists in the project root. The
// JSON path is returned when nothing exists yet, so load errors name it.
func getConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if path, err := config.NewManager().FindConfig(projectRoot); err == nil {
		return path
	}
	return filepath.Join(projectRoot, "capstan.config.json")
}
