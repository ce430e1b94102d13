package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fgeck/couchdb-backup/internal/config"
	"github.com/fgeck/couchdb-backup/internal/services/runner"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute the backup workflow",
	Long: `Execute the complete backup workflow:
1. Create the backup directory
2. Wake-on-LAN (if configured)
3. Open the SSH tunnel (if enabled)
4. Export every configured database
5. Delete exports older than the retention window
6. Send webhook / Telegram notification (if configured)
7. Close the SSH tunnel`,
	RunE: runBackup,
}

func runBackup(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := loadConfig()
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to load config")
		return err
	}

	// Validate configuration
	if err := config.Validate(cfg); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return err
	}

	log.Info().
		Str("config", configFile).
		Strs("databases", cfg.Databases).
		Str("directory", cfg.BackupDirectory).
		Msg("configuration loaded")

	// Set up context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			log.Warn().Str("signal", sig.String()).Msg("received signal, shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	// Run backup
	runnerSvc := runner.New(log.Logger, cfg.Fetch.Retries)
	if err := runnerSvc.Run(ctx, *cfg); err != nil {
		log.Error().Err(err).Msg("backup failed")
		return err
	}

	log.Info().Msg("backup completed successfully")
	return nil
}
