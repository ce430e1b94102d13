// Package models contains the data structures used throughout couchdb-backup.
package models

import "time"

// BackupConfig holds the complete configuration for a backup run.
type BackupConfig struct {
	Databases       []string
	CouchDB         CouchDBConfig
	BackupDirectory string
	Retention       RetentionPolicy
	Fetch           FetchSettings
	Timeouts        Timeouts
	SSH             *SSHTunnelConfig // nil if the database is reached directly
	WOL             *WOLConfig       // nil if not configured
	Webhook         *WebhookConfig   // nil if not configured
	Telegram        *TelegramConfig  // nil if not configured
}

// CouchDBConfig holds the database endpoint and its credentials.
type CouchDBConfig struct {
	Protocol string // "http" (default) or "https"
	Host     string
	Port     int
	Username string
	Password string
}

// RetentionPolicy defines how long artifacts are kept.
type RetentionPolicy struct {
	MaxAge         time.Duration
	SweepOnFailure bool // also sweep when the fetch phase failed
}

// FetchSettings controls how the fetch phase is scheduled.
type FetchSettings struct {
	Concurrency     int           // 1 (default) fetches sequentially in configured order
	ContinueOnError bool          // if false (default), the first failure stops the phase
	Timeout         time.Duration // per database
	Retries         int           // retries on transient HTTP failures
}

// Timeouts bounds the remaining suspension points of a run.
type Timeouts struct {
	Connect time.Duration // SSH dial
	Notify  time.Duration // each notification delivery
	Run     time.Duration // whole run, 0 disables
}
