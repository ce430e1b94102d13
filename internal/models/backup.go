package models

import "time"

// ArtifactRecord describes one database snapshot written during a run.
type ArtifactRecord struct {
	Database  string
	Path      string
	SizeBytes int64
	Timestamp time.Time // the timestamp embedded in the filename
	Duration  time.Duration
}

// FetchOutcome is the per-database result of the fetch phase.
type FetchOutcome struct {
	Database string
	Record   *ArtifactRecord // set on success
	Error    error           // set on failure
	Skipped  bool            // not attempted because an earlier fetch failed
}

// RunResult aggregates everything a run reports.
type RunResult struct {
	Success       bool
	Outcomes      []FetchOutcome
	DirectorySize int64 // -1 if it could not be computed
	Sweep         *SweepResult
	FailedStep    string
	Error         error
	StartTime     time.Time
	Duration      time.Duration
}

// FileError records a per-file failure that did not halt the operation.
type FileError struct {
	Path  string
	Error error
}

// SweepResult holds the result of a retention sweep.
type SweepResult struct {
	Deleted []string
	Kept    int
	Errors  []FileError
}
