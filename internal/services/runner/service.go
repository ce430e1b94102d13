// Package runner orchestrates the backup workflow.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fgeck/couchdb-backup/internal/models"
	"github.com/fgeck/couchdb-backup/internal/services/accounting"
	"github.com/fgeck/couchdb-backup/internal/services/couchdb"
	"github.com/fgeck/couchdb-backup/internal/services/retention"
	"github.com/fgeck/couchdb-backup/internal/services/telegram"
	"github.com/fgeck/couchdb-backup/internal/services/tunnel"
	"github.com/fgeck/couchdb-backup/internal/services/webhook"
	"github.com/fgeck/couchdb-backup/internal/services/wol"
	"github.com/rs/zerolog"
)

// Steps reported as the failed step of a run.
const (
	StepDirectory = "directory"
	StepWOL       = "wol"
	StepTransport = "transport"
	StepFetch     = "fetch"
)

const defaultNotifyTimeout = 30 * time.Second

// Service defines the interface for the backup runner.
type Service interface {
	Run(ctx context.Context, cfg models.BackupConfig) error
}

// Impl implements the runner Service interface.
type Impl struct {
	tunnelSvc     tunnel.Service
	couchdbSvc    couchdb.Service
	retentionSvc  retention.Service
	accountingSvc accounting.Service
	webhookSvc    webhook.Service
	telegramSvc   telegram.Service
	wolSvc        wol.Service
	logger        zerolog.Logger
}

// New creates a new runner service. fetchRetries is the retry budget of the database HTTP client.
func New(logger zerolog.Logger, fetchRetries int) *Impl {
	return &Impl{
		tunnelSvc:     tunnel.New(logger),
		couchdbSvc:    couchdb.NewWithRetries(logger, fetchRetries),
		retentionSvc:  retention.New(logger),
		accountingSvc: accounting.New(logger),
		webhookSvc:    webhook.New(logger),
		telegramSvc:   telegram.New(logger),
		wolSvc:        wol.New(logger),
		logger:        logger,
	}
}

// NewWithServices creates a new runner service with custom services (for testing).
func NewWithServices(
	logger zerolog.Logger,
	tunnelSvc tunnel.Service,
	couchdbSvc couchdb.Service,
	retentionSvc retention.Service,
	accountingSvc accounting.Service,
	webhookSvc webhook.Service,
	telegramSvc telegram.Service,
	wolSvc wol.Service,
) *Impl {
	return &Impl{
		tunnelSvc:     tunnelSvc,
		couchdbSvc:    couchdbSvc,
		retentionSvc:  retentionSvc,
		accountingSvc: accountingSvc,
		webhookSvc:    webhookSvc,
		telegramSvc:   telegramSvc,
		wolSvc:        wolSvc,
		logger:        logger,
	}
}

// Run executes the complete backup workflow. The transport handle is released and a
// summary is sent on every exit path.
//
//nolint:gocognit,gocyclo // backup workflow has multiple steps
func (s *Impl) Run(ctx context.Context, cfg models.BackupConfig) error {
	result := &models.RunResult{
		StartTime:     time.Now(),
		DirectorySize: -1,
	}

	if cfg.Timeouts.Run > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeouts.Run)
		defer cancel()
	}

	s.logger.Info().
		Strs("databases", cfg.Databases).
		Str("directory", cfg.BackupDirectory).
		Bool("ssh", cfg.SSH != nil).
		Msg("starting backup run")

	// Deferred in this order so the summary goes out before the tunnel is torn down.
	var handle tunnel.Handle
	defer func() { s.release(handle) }()
	defer func() {
		result.Duration = time.Since(result.StartTime)
		s.report(ctx, cfg, result)
	}()

	fail := func(step string, err error) error {
		result.FailedStep = step
		result.Error = err
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, models.ErrTimeout) {
			err = fmt.Errorf("%w: %w", models.ErrTimeout, err)
		}
		return fmt.Errorf("%s failed: %w", step, err)
	}

	// Step 1: Backup directory
	if err := os.MkdirAll(cfg.BackupDirectory, 0o750); err != nil {
		return fail(StepDirectory, fmt.Errorf("%w: creating backup directory %s: %w", models.ErrIO, cfg.BackupDirectory, err))
	}

	// Step 2: Wake-on-LAN (if configured)
	if cfg.WOL != nil {
		if err := s.runWOL(ctx, cfg.WOL); err != nil {
			return fail(StepWOL, err)
		}
	}

	// Step 3: Transport
	baseURL, h, err := s.tunnelSvc.Acquire(ctx, cfg)
	if err != nil {
		return fail(StepTransport, err)
	}
	handle = h

	// Step 4: Fetch
	outcomes, fetchErr := s.fetchAll(ctx, cfg, baseURL)
	result.Outcomes = outcomes

	// Step 5: Retention
	if fetchErr == nil || cfg.Retention.SweepOnFailure {
		result.Sweep = s.runSweep(ctx, cfg)
	} else {
		s.logger.Warn().Msg("skipping retention sweep after failed fetch phase")
	}

	// Step 6: Accounting
	size, err := s.accountingSvc.SizeOfDirectory(cfg.BackupDirectory)
	if err != nil {
		s.logger.Error().Err(err).Str("directory", cfg.BackupDirectory).Msg("failed to compute backup directory size")
	} else {
		result.DirectorySize = size
	}

	if fetchErr != nil {
		return fail(StepFetch, fetchErr)
	}

	result.Success = true
	s.logger.Info().
		Int("databases", len(outcomes)).
		Str("directory_size", accounting.Humanize(result.DirectorySize)).
		Dur("duration", time.Since(result.StartTime)).
		Msg("backup run completed successfully")

	return nil
}

func (s *Impl) runWOL(ctx context.Context, cfg *models.WOLConfig) error {
	s.logger.Info().
		Str("mac", cfg.MACAddress).
		Str("target", cfg.PollAddr).
		Msg("sending Wake-on-LAN packet")

	result, err := s.wolSvc.Wake(ctx, *cfg)
	if err != nil {
		return fmt.Errorf("%w: WOL failed: %w", models.ErrTransport, err)
	}
	if result.Error != nil {
		return fmt.Errorf("%w: WOL failed: %w", models.ErrTransport, result.Error)
	}

	if !result.TargetReady && cfg.PollAddr != "" {
		return fmt.Errorf("%w: target did not become ready after WOL", models.ErrTransport)
	}

	s.logger.Info().
		Bool("packet_sent", result.PacketSent).
		Bool("target_ready", result.TargetReady).
		Dur("wait_duration", result.WaitDuration).
		Msg("WOL completed")

	return nil
}

func (s *Impl) runSweep(ctx context.Context, cfg models.BackupConfig) *models.SweepResult {
	sweep := s.retentionSvc.Sweep(ctx, cfg.BackupDirectory, cfg.Retention.MaxAge)

	for _, fe := range sweep.Errors {
		s.logger.Warn().Err(fe.Error).Str("path", fe.Path).Msg("retention sweep error")
	}

	s.logger.Info().
		Int("deleted", len(sweep.Deleted)).
		Int("kept", sweep.Kept).
		Int("errors", len(sweep.Errors)).
		Msg("retention policy applied")

	return sweep
}

// release closes the transport handle if one was opened.
func (s *Impl) release(handle tunnel.Handle) {
	if handle == nil {
		return
	}
	if err := handle.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to close SSH tunnel")
	}
}

func (s *Impl) report(ctx context.Context, cfg models.BackupConfig, result *models.RunResult) {
	if result.Error != nil {
		s.logger.Error().
			Err(result.Error).
			Str("failed_step", result.FailedStep).
			Dur("duration", result.Duration).
			Msg("backup run failed")
	}

	if cfg.Webhook == nil && cfg.Telegram == nil {
		s.logger.Debug().Msg("no notifier configured")
		return
	}

	text := ComposeMessage(result)

	// The run context may already be past its deadline; delivery gets its own budget.
	timeout := cfg.Timeouts.Notify
	if timeout <= 0 {
		timeout = defaultNotifyTimeout
	}
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	if cfg.Webhook != nil {
		res, err := s.webhookSvc.SendNotification(notifyCtx, *cfg.Webhook, text)
		s.logNotification("webhook", res, err)
	}

	if cfg.Telegram != nil {
		res, err := s.telegramSvc.SendNotification(notifyCtx, *cfg.Telegram, text)
		s.logNotification("telegram", res, err)
	}
}

func (s *Impl) logNotification(channel string, res *models.NotificationResult, err error) {
	if err == nil && res != nil {
		err = res.Error
	}
	if err != nil {
		s.logger.Error().Err(err).Str("channel", channel).Msg("failed to send notification")
		return
	}
	s.logger.Info().Str("channel", channel).Msg("notification sent")
}
