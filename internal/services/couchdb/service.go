// Package couchdb fetches full database snapshots from a CouchDB endpoint.
package couchdb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fgeck/couchdb-backup/internal/models"
	"github.com/rs/zerolog"
)

// ArtifactTimeLayout matches the millisecond UTC ISO-8601 form used in artifact names.
const ArtifactTimeLayout = "2006-01-02T15:04:05.000Z"

// maxNameAttempts bounds how far a colliding artifact timestamp is advanced.
const maxNameAttempts = 1000

// Service defines the interface for CouchDB snapshot operations.
type Service interface {
	Fetch(ctx context.Context, cfg models.CouchDBConfig, baseURL, database, dir string) (*models.ArtifactRecord, error)
	Ping(ctx context.Context, cfg models.CouchDBConfig, baseURL string) error
}

// HTTPClient allows mocking HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Impl implements the CouchDB Service interface.
type Impl struct {
	httpClient HTTPClient
	logger     zerolog.Logger
	now        func() time.Time
}

// New creates a new CouchDB service backed by a retrying HTTP client.
func New(logger zerolog.Logger) *Impl {
	return NewWithRetries(logger, DefaultRetries)
}

// NewWithRetries creates a new CouchDB service whose client retries transient failures up to retries times.
func NewWithRetries(logger zerolog.Logger, retries int) *Impl {
	return &Impl{
		httpClient: NewRetryingClient(logger, retries),
		logger:     logger,
		now:        time.Now,
	}
}

// NewWithClient creates a new CouchDB service with a custom HTTP client and clock (for testing).
func NewWithClient(logger zerolog.Logger, httpClient HTTPClient, now func() time.Time) *Impl {
	if now == nil {
		now = time.Now
	}
	return &Impl{
		httpClient: httpClient,
		logger:     logger,
		now:        now,
	}
}

// ArtifactFilename returns the artifact name for a database snapshot taken at ts.
func ArtifactFilename(database string, ts time.Time) string {
	return fmt.Sprintf("%s-%s.json", url.PathEscape(database), ts.UTC().Format(ArtifactTimeLayout))
}

// Fetch downloads all documents of database, including bodies, into a new artifact in dir.
func (s *Impl) Fetch(
	ctx context.Context,
	cfg models.CouchDBConfig,
	baseURL, database, dir string,
) (*models.ArtifactRecord, error) {
	start := s.now()
	reqURL := fmt.Sprintf("%s/%s/_all_docs?include_docs=true", strings.TrimRight(baseURL, "/"), url.PathEscape(database))

	s.logger.Info().
		Str("database", database).
		Str("directory", dir).
		Msg("starting database backup")

	req, err := s.newRequest(ctx, cfg, reqURL)
	if err != nil {
		return nil, &models.FetchError{Database: database, Err: err}
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &models.FetchError{Database: database, Err: classify(ctx, fmt.Errorf("request failed: %w", err))}
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkStatus(resp); err != nil {
		return nil, &models.FetchError{Database: database, Err: err}
	}

	file, path, ts, err := createArtifact(dir, database, start)
	if err != nil {
		return nil, &models.FetchError{Database: database, Err: fmt.Errorf("%w: creating artifact: %w", models.ErrIO, err)}
	}

	written, copyErr := io.Copy(file, resp.Body)
	closeErr := file.Close()
	if copyErr != nil || closeErr != nil {
		// Clean up partial file
		_ = os.Remove(path)
		if copyErr != nil {
			return nil, &models.FetchError{Database: database, Err: classify(ctx, fmt.Errorf("writing artifact: %w", copyErr))}
		}
		return nil, &models.FetchError{Database: database, Err: fmt.Errorf("%w: closing artifact: %w", models.ErrIO, closeErr)}
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, &models.FetchError{Database: database, Err: fmt.Errorf("%w: stat artifact: %w", models.ErrIO, err)}
	}

	record := &models.ArtifactRecord{
		Database:  database,
		Path:      path,
		SizeBytes: info.Size(),
		Timestamp: ts,
		Duration:  s.now().Sub(start),
	}

	s.logger.Info().
		Str("database", database).
		Str("output", path).
		Int64("size_bytes", record.SizeBytes).
		Int64("bytes_written", written).
		Dur("duration", record.Duration).
		Msg("database backup completed")

	return record, nil
}

// Ping checks that the endpoint is up and accepts the credentials.
func (s *Impl) Ping(ctx context.Context, cfg models.CouchDBConfig, baseURL string) error {
	req, err := s.newRequest(ctx, cfg, strings.TrimRight(baseURL, "/")+"/_up")
	if err != nil {
		return err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return classify(ctx, fmt.Errorf("request failed: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	return checkStatus(resp)
}

func (s *Impl) newRequest(ctx context.Context, cfg models.CouchDBConfig, reqURL string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if cfg.Username != "" {
		req.SetBasicAuth(cfg.Username, cfg.Password)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	detail := strings.TrimSpace(string(body))

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("authentication failed: status %d: %s", resp.StatusCode, detail)
	case http.StatusNotFound:
		return fmt.Errorf("database not found: status %d: %s", resp.StatusCode, detail)
	default:
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, detail)
	}
}

// createArtifact exclusively creates the artifact file. When the name is taken the
// timestamp advances by a millisecond, so artifacts are never overwritten.
func createArtifact(dir, database string, ts time.Time) (*os.File, string, time.Time, error) {
	for i := 0; i < maxNameAttempts; i++ {
		path := filepath.Join(dir, ArtifactFilename(database, ts))
		file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600) //nolint:gosec // path is built from config
		if err == nil {
			return file, path, ts, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, "", ts, err
		}
		ts = ts.Add(time.Millisecond)
	}
	return nil, "", ts, fmt.Errorf("no free artifact name for %s after %d attempts", database, maxNameAttempts)
}

func classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", models.ErrTimeout, err)
	}
	return err
}
