// Package config loads the backup configuration from environment variables, an optional
// .env file and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fgeck/couchdb-backup/internal/models"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Parser handles configuration parsing. Every key can be overridden by an environment
// variable named after the key with dots replaced by underscores (couchdb.host -> COUCHDB_HOST).
type Parser struct {
	v *viper.Viper
}

// NewParser creates a new configuration parser.
func NewParser() *Parser {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("couchdb.protocol", "http")
	v.SetDefault("couchdb.port", 5984)
	v.SetDefault("backup_directory", "./backups")
	v.SetDefault("ssh.port", 22)
	v.SetDefault("forward.src_addr", "127.0.0.1")
	v.SetDefault("forward.dst_addr", "127.0.0.1")
	v.SetDefault("fetch.concurrency", 1)
	v.SetDefault("fetch.timeout", 30*time.Minute)
	v.SetDefault("fetch.retries", 3)
	v.SetDefault("timeouts.connect", 30*time.Second)
	v.SetDefault("timeouts.notify", 30*time.Second)

	return &Parser{v: v}
}

// LoadDotEnv loads variables from a .env file into the process environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("%w: loading env file %s: %w", models.ErrConfiguration, path, err)
	}
	return nil
}

// LoadEnv loads configuration from environment variables only.
func (p *Parser) LoadEnv() (*models.BackupConfig, error) {
	return p.parse()
}

// LoadFile loads configuration from a YAML file; environment variables take precedence.
func (p *Parser) LoadFile(path string) (*models.BackupConfig, error) {
	p.v.SetConfigFile(path)

	if err := p.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("%w: reading config file: %w", models.ErrConfiguration, err)
	}

	return p.parse()
}

// LoadReader loads configuration from YAML content (useful for testing).
func (p *Parser) LoadReader(content string) (*models.BackupConfig, error) {
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, fmt.Errorf("%w: reading config: %w", models.ErrConfiguration, err)
	}

	return p.parse()
}

//nolint:gocognit,gocyclo // parsing config requires checking many fields
func (p *Parser) parse() (*models.BackupConfig, error) {
	cfg := &models.BackupConfig{}

	// Databases (required).
	cfg.Databases = splitList(p.v.GetStringSlice("databases"))
	if len(cfg.Databases) == 0 {
		return nil, configError("databases is required")
	}

	// Database endpoint.
	cfg.CouchDB = models.CouchDBConfig{
		Protocol: strings.ToLower(p.v.GetString("couchdb.protocol")),
		Host:     p.v.GetString("couchdb.host"),
		Port:     p.v.GetInt("couchdb.port"),
		Username: p.expandEnv(p.v.GetString("couchdb.username")),
		Password: p.expandEnv(p.v.GetString("couchdb.password")),
	}

	if cfg.CouchDB.Protocol != "http" && cfg.CouchDB.Protocol != "https" {
		return nil, configError("couchdb.protocol must be one of: http, https")
	}
	if cfg.CouchDB.Port <= 0 || cfg.CouchDB.Port > 65535 {
		return nil, configError("couchdb.port must be between 1 and 65535")
	}
	if cfg.CouchDB.Password != "" && cfg.CouchDB.Username == "" {
		return nil, configError("couchdb.username is required when couchdb.password is set")
	}

	// Backup directory, relative paths resolve against the working directory.
	dir := p.expandEnv(p.v.GetString("backup_directory"))
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving backup_directory: %w", models.ErrConfiguration, err)
	}
	cfg.BackupDirectory = absDir

	// Retention (required).
	days := p.v.GetInt("data_retention_days")
	if days <= 0 {
		return nil, configError("data_retention_days is required and must be greater than 0")
	}
	cfg.Retention = models.RetentionPolicy{
		MaxAge:         time.Duration(days) * 24 * time.Hour,
		SweepOnFailure: p.v.GetBool("retention.sweep_on_failure"),
	}

	// Fetch settings.
	cfg.Fetch = models.FetchSettings{
		Concurrency:     p.v.GetInt("fetch.concurrency"),
		ContinueOnError: p.v.GetBool("fetch.continue_on_error"),
		Timeout:         p.v.GetDuration("fetch.timeout"),
		Retries:         p.v.GetInt("fetch.retries"),
	}
	if cfg.Fetch.Concurrency < 1 {
		cfg.Fetch.Concurrency = 1
	}
	if cfg.Fetch.Retries < 0 {
		return nil, configError("fetch.retries must not be negative")
	}

	cfg.Timeouts = models.Timeouts{
		Connect: p.v.GetDuration("timeouts.connect"),
		Notify:  p.v.GetDuration("timeouts.notify"),
		Run:     p.v.GetDuration("timeouts.run"),
	}

	// Optional SSH tunnel.
	if p.v.GetBool("ssh.enabled") { //nolint:nestif // config parsing with defaults
		cfg.SSH = &models.SSHTunnelConfig{
			Host:           p.v.GetString("ssh.host"),
			Port:           p.v.GetInt("ssh.port"),
			Username:       p.v.GetString("ssh.username"),
			Password:       p.expandEnv(p.v.GetString("ssh.password")),
			KeyPath:        p.expandEnv(p.v.GetString("ssh.private_key_path")),
			KnownHostsPath: p.expandEnv(p.v.GetString("ssh.known_hosts_path")),
			LocalAddr:      p.v.GetString("forward.src_addr"),
			LocalPort:      p.v.GetInt("forward.src_port"),
			RemoteAddr:     p.v.GetString("forward.dst_addr"),
			RemotePort:     p.v.GetInt("forward.dst_port"),
		}

		if cfg.SSH.Host == "" {
			return nil, configError("ssh.host is required when ssh is enabled")
		}
		if err := cfg.SSH.ValidateCredentials(); err != nil {
			return nil, err
		}
		if cfg.SSH.Username == "" {
			cfg.SSH.Username = "root"
		}
		if cfg.SSH.RemotePort == 0 {
			cfg.SSH.RemotePort = cfg.CouchDB.Port
		}
		if cfg.SSH.LocalPort < 0 || cfg.SSH.LocalPort > 65535 {
			return nil, configError("forward.src_port must be between 0 and 65535")
		}
	} else if cfg.CouchDB.Host == "" {
		return nil, configError("couchdb.host is required")
	}

	// Optional webhook.
	if url := p.expandEnv(p.v.GetString("webhook.url")); url != "" {
		cfg.Webhook = &models.WebhookConfig{URL: url}
	}

	// Optional Telegram config.
	botToken := p.expandEnv(p.v.GetString("telegram.bot_token"))
	chatID := p.expandEnv(p.v.GetString("telegram.chat_id"))
	if botToken != "" || chatID != "" || p.v.IsSet("telegram") {
		if botToken == "" {
			return nil, configError("telegram.bot_token is required when telegram is configured")
		}
		if chatID == "" {
			return nil, configError("telegram.chat_id is required when telegram is configured")
		}
		cfg.Telegram = &models.TelegramConfig{BotToken: botToken, ChatID: chatID}
	}

	// Optional WOL config.
	if mac := p.v.GetString("wol.mac_address"); mac != "" || p.v.IsSet("wol") { //nolint:nestif // config parsing with defaults
		cfg.WOL = &models.WOLConfig{
			MACAddress:    mac,
			BroadcastIP:   p.v.GetString("wol.broadcast_ip"),
			PollAddr:      p.v.GetString("wol.poll_addr"),
			Timeout:       p.v.GetDuration("wol.timeout"),
			PollInterval:  p.v.GetDuration("wol.poll_interval"),
			StabilizeWait: p.v.GetDuration("wol.stabilize_wait"),
		}

		if cfg.WOL.MACAddress == "" {
			return nil, configError("wol.mac_address is required when wol is configured")
		}

		// Set defaults.
		if cfg.WOL.BroadcastIP == "" {
			cfg.WOL.BroadcastIP = "255.255.255.255"
		}
		if cfg.WOL.Timeout == 0 {
			cfg.WOL.Timeout = 5 * time.Minute
		}
		if cfg.WOL.PollInterval == 0 {
			cfg.WOL.PollInterval = 10 * time.Second
		}
		if cfg.WOL.StabilizeWait == 0 {
			cfg.WOL.StabilizeWait = 10 * time.Second
		}
	}

	return cfg, nil
}

// expandEnv expands environment variables in the format ${VAR} or $VAR.
func (p *Parser) expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// splitList normalizes a comma separated list. Values may arrive as one string
// ("alpha,beta"), as whitespace separated fields or as a YAML sequence.
func splitList(values []string) []string {
	var out []string
	for _, part := range strings.Split(strings.Join(values, ","), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func configError(msg string) error {
	return fmt.Errorf("%w: %s", models.ErrConfiguration, msg)
}

// Validate performs validation on the loaded configuration.
func Validate(cfg *models.BackupConfig) error {
	if cfg == nil {
		return configError("configuration is nil")
	}

	if len(cfg.Databases) == 0 {
		return configError("databases is required")
	}

	if cfg.Retention.MaxAge <= 0 {
		return configError("data_retention_days must be greater than 0")
	}

	if cfg.BackupDirectory == "" {
		return configError("backup_directory is required")
	}

	if cfg.SSH != nil {
		return cfg.SSH.ValidateCredentials()
	}

	if cfg.CouchDB.Host == "" {
		return configError("couchdb.host is required")
	}

	return nil
}
