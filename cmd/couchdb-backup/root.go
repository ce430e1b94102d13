package main

import (
	"os"
	"strings"

	"github.com/fgeck/couchdb-backup/internal/config"
	"github.com/fgeck/couchdb-backup/internal/models"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "dev"

	// Configuration flags.
	configFile string
	envFile    string
	verbose    bool
	quiet      bool
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "couchdb-backup",
	Short: "Back up CouchDB databases to local JSON files",
	Long: `couchdb-backup exports CouchDB databases to timestamped JSON files:
  - Optional Wake-on-LAN of the database host
  - Optional SSH local port forward to reach the database
  - Full document export via _all_docs?include_docs=true
  - Age based retention of old exports
  - Webhook and Telegram notifications

Configuration is read from the environment, a .env file and an optional YAML file.
Use as a one-shot command with an external scheduler (cron, systemd timer, etc.)`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "optional YAML config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "env file to load (ignored if missing)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose (debug) output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "enable quiet mode (errors only)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output logs in JSON format")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
}

func setupLogging() {
	// Set output format
	if jsonOutput {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
		output.FormatLevel = func(i interface{}) string {
			if s, ok := i.(string); ok {
				return strings.ToUpper(s)
			}
			return ""
		}
		log.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set log level
	switch {
	case quiet:
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case verbose:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// loadConfig reads the env file, then the YAML file if one was given, with the
// environment taking precedence over the file.
func loadConfig() (*models.BackupConfig, error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, err
	}

	parser := config.NewParser()
	if configFile != "" {
		return parser.LoadFile(configFile)
	}
	return parser.LoadEnv()
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
