package models

import (
	"errors"
	"fmt"
)

// Error classes of a backup run. Wrapped errors are matched with errors.Is.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrTransport     = errors.New("transport error")
	ErrIO            = errors.New("io error")
	ErrNotification  = errors.New("notification error")
	ErrTimeout       = errors.New("timeout")
)

// FetchError reports the failure of a single database fetch.
type FetchError struct {
	Database string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching database %q: %v", e.Database, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
