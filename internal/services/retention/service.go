// Package retention prunes backup artifacts older than the retention window.
package retention

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fgeck/couchdb-backup/internal/models"
	"github.com/rs/zerolog"
)

// Service defines the interface for retention operations.
type Service interface {
	Sweep(ctx context.Context, dir string, maxAge time.Duration) *models.SweepResult
}

// Impl implements the retention Service interface.
type Impl struct {
	logger zerolog.Logger
	now    func() time.Time
}

// New creates a new retention service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		logger: logger,
		now:    time.Now,
	}
}

// NewWithClock creates a new retention service with a custom clock (for testing).
func NewWithClock(logger zerolog.Logger, now func() time.Time) *Impl {
	return &Impl{
		logger: logger,
		now:    now,
	}
}

// Sweep deletes every regular file in dir last modified before now-maxAge.
// Per-file failures are recorded in the result and do not stop the sweep.
func (s *Impl) Sweep(ctx context.Context, dir string, maxAge time.Duration) *models.SweepResult {
	result := &models.SweepResult{}
	cutoff := s.now().Add(-maxAge)

	s.logger.Info().
		Str("directory", dir).
		Dur("max_age", maxAge).
		Time("cutoff", cutoff).
		Msg("sweeping expired backups")

	entries, err := os.ReadDir(dir)
	if err != nil {
		err = fmt.Errorf("%w: reading directory: %w", models.ErrIO, err)
		s.logger.Error().Err(err).Str("directory", dir).Msg("failed to read backup directory")
		result.Errors = append(result.Errors, models.FileError{Path: dir, Error: err})
		return result
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			result.Errors = append(result.Errors, models.FileError{Path: dir, Error: ctx.Err()})
			s.logger.Warn().Err(ctx.Err()).Msg("sweep interrupted")
			break
		}

		path := filepath.Join(dir, entry.Name())
		if entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			s.recordError(result, path, "stat", err)
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}

		if !info.ModTime().Before(cutoff) {
			result.Kept++
			continue
		}

		if err := os.Remove(path); err != nil {
			s.recordError(result, path, "delete", err)
			continue
		}

		result.Deleted = append(result.Deleted, path)
		s.logger.Info().
			Str("file", path).
			Time("modified", info.ModTime()).
			Msg("deleted old backup")
	}

	s.logger.Info().
		Int("deleted", len(result.Deleted)).
		Int("kept", result.Kept).
		Int("errors", len(result.Errors)).
		Msg("retention sweep completed")

	return result
}

func (s *Impl) recordError(result *models.SweepResult, path, op string, err error) {
	err = fmt.Errorf("%w: %s: %w", models.ErrIO, op, err)
	result.Errors = append(result.Errors, models.FileError{Path: path, Error: err})
	s.logger.Error().Err(err).Str("file", path).Msg("failed to process backup file")
}
