// Package cmd contains the CLI commands for keywatch.
package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/good-yellow-bee/keywatch/internal/logging"
)

var (
	// Used for flags
	configFile string
	envFile    string
	verbose    bool
	output     string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "keywatch",
	Short: "keywatch - keyword alarms over a shared log store",
	Long: `keywatch periodically searches a shared log store for configured
keywords per project, tracks an alarm state for every (project, keyword)
pair and notifies on new alarms, reminders and recoveries.

Examples:
  # Run the scheduler and status API
  keywatch run -c configs/keywatch.yaml

  # Run a single scan and print the report
  keywatch scan -c configs/keywatch.yaml

  # Check the monitor configuration
  keywatch validate -c configs/keywatch.yaml`,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (optional)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file (default: .env next to the config file)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "output format (table, json)")
}

// loadConfig loads the dotenv file and the application config.
func loadConfig() (*Config, error) {
	path := envFile
	if path == "" {
		path = ".env"
		if configFile != "" {
			path = filepath.Join(filepath.Dir(configFile), ".env")
		}
	}
	if err := loadDotEnv(path); err != nil {
		return nil, err
	}

	cfg, err := LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if verbose {
		cfg.Log.Level = "debug"
		cfg.HTTP.Verbose = true
	}
	return cfg, nil
}

func newLogger(cfg *Config) (*zap.Logger, error) {
	return logging.NewLogger(cfg.Log.Level, cfg.Log.Format, "keywatch")
}
