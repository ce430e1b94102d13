package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/fgeck/couchdb-backup/internal/config"
	"github.com/fgeck/couchdb-backup/internal/models"
	"github.com/fgeck/couchdb-backup/internal/services/couchdb"
	"github.com/fgeck/couchdb-backup/internal/services/tunnel"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var checkConnectivity bool

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long: `Validate the configuration without executing any backup operations.
With --check the SSH host and the database endpoint are contacted as well.`,
	RunE: validateConfig,
}

func init() {
	validateCmd.Flags().BoolVar(&checkConnectivity, "check", false, "also test SSH and database connectivity")
}

func validateConfig(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := loadConfig()
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to parse config")
		return err
	}

	// Validate configuration
	if err := config.Validate(cfg); err != nil {
		log.Error().Err(err).Msg("configuration validation failed")
		return err
	}

	printSummary(cfg)

	if !checkConnectivity {
		return nil
	}

	return checkEndpoints(cmd.Context(), cfg)
}

func printSummary(cfg *models.BackupConfig) {
	fmt.Println("Configuration is valid!")
	fmt.Println()
	fmt.Println("Summary:")
	fmt.Printf("  Databases: %s\n", strings.Join(cfg.Databases, ", "))
	fmt.Printf("  Endpoint: %s\n", tunnel.DirectBaseURL(cfg.CouchDB))
	fmt.Printf("  Backup directory: %s\n", cfg.BackupDirectory)
	fmt.Printf("  Retention: %d day(s)\n", int(cfg.Retention.MaxAge.Hours()/24))
	fmt.Printf("  Concurrency: %d\n", cfg.Fetch.Concurrency)
	fmt.Printf("  Continue on error: %v\n", cfg.Fetch.ContinueOnError)
	fmt.Println()
	fmt.Println("Optional Features:")
	fmt.Printf("  SSH tunnel: %v\n", cfg.SSH != nil)
	fmt.Printf("  Wake-on-LAN: %v\n", cfg.WOL != nil)
	fmt.Printf("  Webhook: %v\n", cfg.Webhook != nil)
	fmt.Printf("  Telegram: %v\n", cfg.Telegram != nil)

	if cfg.SSH != nil {
		fmt.Println()
		fmt.Println("SSH Configuration:")
		fmt.Printf("  Host: %s:%d\n", cfg.SSH.Host, cfg.SSH.Port)
		fmt.Printf("  Username: %s\n", cfg.SSH.Username)
		if cfg.SSH.HasKey() {
			fmt.Printf("  Auth: private key (%s)\n", cfg.SSH.KeyPath)
		} else {
			fmt.Printf("  Auth: password\n")
		}
		fmt.Printf("  Forward: %s:%d -> %s:%d\n", cfg.SSH.LocalAddr, cfg.SSH.LocalPort, cfg.SSH.RemoteAddr, cfg.SSH.RemotePort)
	}

	if cfg.WOL != nil {
		fmt.Println()
		fmt.Println("WOL Configuration:")
		fmt.Printf("  MAC Address: %s\n", cfg.WOL.MACAddress)
		fmt.Printf("  Broadcast IP: %s\n", cfg.WOL.BroadcastIP)
		if cfg.WOL.PollAddr != "" {
			fmt.Printf("  Poll Address: %s\n", cfg.WOL.PollAddr)
		}
	}

	if cfg.Telegram != nil {
		fmt.Println()
		fmt.Println("Telegram Configuration:")
		fmt.Printf("  Chat ID: %s\n", cfg.Telegram.ChatID)
		fmt.Printf("  Bot Token: (configured)\n")
	}
}

func checkEndpoints(ctx context.Context, cfg *models.BackupConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}

	tunnelSvc := tunnel.New(log.Logger)

	if cfg.SSH != nil {
		if err := tunnelSvc.TestConnection(ctx, *cfg); err != nil {
			log.Error().Err(err).Str("host", cfg.SSH.Host).Msg("SSH connection failed")
			return err
		}
		fmt.Println()
		fmt.Println("SSH connection: OK")
	}

	baseURL, handle, err := tunnelSvc.Acquire(ctx, *cfg)
	if err != nil {
		log.Error().Err(err).Msg("failed to reach database endpoint")
		return err
	}
	if handle != nil {
		defer func() { _ = handle.Close() }()
	}

	if err := couchdb.NewWithRetries(log.Logger, cfg.Fetch.Retries).Ping(ctx, cfg.CouchDB, baseURL); err != nil {
		log.Error().Err(err).Str("base_url", baseURL).Msg("database endpoint check failed")
		return err
	}
	fmt.Println("Database endpoint: OK")

	return nil
}
