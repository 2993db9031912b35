// Dialogcast renders multi-speaker dialogue scripts into podcast audio.
//
// Usage:
//
//	dialogcast serve [--config /path/to/dialogcast.yaml]
//	dialogcast render episode.txt -o episode.mp3
//	dialogcast engines
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/nadzzz/dialogcast/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

var (
	configFile string
	envFile    string
)

var rootCmd = &cobra.Command{
	Use:           "dialogcast",
	Short:         "Render dialogue scripts into multi-voice podcast audio",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if envFile == "" {
			return nil
		}
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("loading env file %s: %w", envFile, err)
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "dialogcast %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to config file (e.g. configs/dialogcast.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "load environment variables from this file before reading config")
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the configuration and installs the configured logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	config.SetupLogging(cfg.Logging)
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("dialogcast failed", "error", err)
		os.Exit(1)
	}
}
