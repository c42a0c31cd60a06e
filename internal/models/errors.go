package models

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by stores when no row matches.
	ErrNotFound = errors.New("not found")

	// ErrNoData marks a closed historical period that was never collected.
	// It is an outcome, not a failure.
	ErrNoData = errors.New("no data collected for this period")

	// ErrWriteConflict is a concurrent-write failure on the summary store.
	ErrWriteConflict = errors.New("concurrent write conflict")

	ErrInvalidRange        = errors.New("invalid date range")
	ErrUnknownClient       = errors.New("unknown client")
	ErrUnsupportedPlatform = errors.New("unsupported platform")
)

// UpstreamFetchError wraps a failed or malformed ad-platform call.
type UpstreamFetchError struct {
	Platform Platform
	ClientID string
	Err      error
}

func (e *UpstreamFetchError) Error() string {
	return fmt.Sprintf("upstream fetch failed for %s/%s: %v", e.ClientID, e.Platform, e.Err)
}

func (e *UpstreamFetchError) Unwrap() error { return e.Err }

// IsUpstream reports whether err is, or wraps, an UpstreamFetchError.
func IsUpstream(err error) bool {
	var ue *UpstreamFetchError
	return errors.As(err, &ue)
}
