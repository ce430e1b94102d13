// Package accounting computes artifact and backup directory sizes.
package accounting

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/fgeck/couchdb-backup/internal/models"
	"github.com/rs/zerolog"
)

const bytesPerMB = 1024 * 1024

// Service defines the interface for size accounting.
type Service interface {
	SizeOf(path string) (int64, error)
	SizeOfDirectory(path string) (int64, error)
}

// Impl implements the accounting Service interface.
type Impl struct {
	logger zerolog.Logger
}

// New creates a new accounting service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{logger: logger}
}

// SizeOf returns the size of a single file in bytes.
func (s *Impl) SizeOf(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("%w: stat %s: %w", models.ErrIO, path, err)
	}
	return info.Size(), nil
}

// SizeOfDirectory sums the sizes of the regular files directly inside path.
// Subdirectories are not descended into.
func (s *Impl) SizeOfDirectory(path string) (int64, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return 0, fmt.Errorf("%w: reading directory %s: %w", models.ErrIO, path, err)
	}

	var total int64
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// File vanished between ReadDir and Info, e.g. removed by a sweep.
			s.logger.Debug().Err(err).Str("file", filepath.Join(path, entry.Name())).Msg("skipping file")
			continue
		}
		total += info.Size()
	}

	s.logger.Debug().
		Str("directory", path).
		Str("size", Humanize(total)).
		Msg("directory size computed")

	return total, nil
}

// FormatMB renders bytes as megabytes with two decimals, e.g. "1.50 MB".
func FormatMB(bytes int64) string {
	return fmt.Sprintf("%.2f MB", float64(bytes)/bytesPerMB)
}

// Humanize renders bytes for log output, e.g. "1.5 MiB".
func Humanize(bytes int64) string {
	if bytes < 0 {
		return "unknown"
	}
	return humanize.IBytes(uint64(bytes))
}
