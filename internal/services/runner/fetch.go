package runner

import (
	"context"
	"errors"
	"fmt"

	"github.com/fgeck/couchdb-backup/internal/models"
	"github.com/fgeck/couchdb-backup/internal/services/accounting"
	"golang.org/x/sync/errgroup"
)

// fetchAll backs up every configured database and returns one outcome per database in
// configured order. Unless ContinueOnError is set, the first failure stops the phase and
// databases not yet attempted are marked as skipped.
func (s *Impl) fetchAll(ctx context.Context, cfg models.BackupConfig, baseURL string) ([]models.FetchOutcome, error) {
	outcomes := make([]models.FetchOutcome, len(cfg.Databases))
	for i, db := range cfg.Databases {
		outcomes[i].Database = db
	}

	if cfg.Fetch.Concurrency > 1 {
		s.fetchConcurrent(ctx, cfg, baseURL, outcomes)
	} else {
		s.fetchSequential(ctx, cfg, baseURL, outcomes)
	}

	return outcomes, phaseError(outcomes, cfg.Fetch.ContinueOnError)
}

func (s *Impl) fetchSequential(ctx context.Context, cfg models.BackupConfig, baseURL string, outcomes []models.FetchOutcome) {
	stopped := false
	for i := range outcomes {
		if stopped {
			outcomes[i].Skipped = true
			continue
		}

		record, err := s.fetchOne(ctx, cfg, baseURL, outcomes[i].Database)
		if err != nil {
			outcomes[i].Error = err
			stopped = !cfg.Fetch.ContinueOnError
			continue
		}
		outcomes[i].Record = record
	}
}

func (s *Impl) fetchConcurrent(ctx context.Context, cfg models.BackupConfig, baseURL string, outcomes []models.FetchOutcome) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Fetch.Concurrency)

	for i := range outcomes {
		i := i
		g.Go(func() error {
			if gctx.Err() != nil && ctx.Err() == nil {
				// Another fetch failed first.
				outcomes[i].Skipped = true
				return nil
			}

			record, err := s.fetchOne(gctx, cfg, baseURL, outcomes[i].Database)
			if err != nil {
				if ctx.Err() == nil && gctx.Err() != nil && errors.Is(err, context.Canceled) {
					outcomes[i].Skipped = true
					return nil
				}
				outcomes[i].Error = err
				if cfg.Fetch.ContinueOnError {
					return nil
				}
				return err
			}
			outcomes[i].Record = record
			return nil
		})
	}

	// Errors are recorded per outcome.
	_ = g.Wait()
}

func (s *Impl) fetchOne(ctx context.Context, cfg models.BackupConfig, baseURL, database string) (*models.ArtifactRecord, error) {
	if cfg.Fetch.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Fetch.Timeout)
		defer cancel()
	}

	record, err := s.couchdbSvc.Fetch(ctx, cfg.CouchDB, baseURL, database, cfg.BackupDirectory)
	if err != nil {
		s.logger.Error().Err(err).Str("database", database).Msg("database backup failed")
		return nil, err
	}

	s.logger.Info().
		Str("database", database).
		Str("path", record.Path).
		Str("size", accounting.Humanize(record.SizeBytes)).
		Msg("database backed up")

	return record, nil
}

// phaseError reports the first failure in configured order, or all of them when continuing on error.
func phaseError(outcomes []models.FetchOutcome, continueOnError bool) error {
	var errs []error
	for _, o := range outcomes {
		if o.Error != nil {
			errs = append(errs, o.Error)
		}
	}

	switch {
	case len(errs) == 0:
		return nil
	case !continueOnError:
		return errs[0]
	default:
		return fmt.Errorf("%d of %d databases failed: %w", len(errs), len(outcomes), errors.Join(errs...))
	}
}
