package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownID is returned when a toggle or action references an id with no record
	ErrUnknownID = errors.New("unknown notification id")
	// ErrInvalidID is returned when cancelling an id that was never shown
	ErrInvalidID = errors.New("invalid notification id")
	// ErrInvalidImportance is returned for an unrecognised channel importance
	ErrInvalidImportance = errors.New("invalid channel importance")
	// ErrEngineStopped is returned when a request reaches a stopped engine
	ErrEngineStopped = errors.New("engine stopped")
)

// AssetLoadError reports a local album art asset that could not be opened or decoded
type AssetLoadError struct {
	Asset string
	Err   error
}

func (e *AssetLoadError) Error() string {
	return fmt.Sprintf("failed to load album art asset %q: %v", e.Asset, e.Err)
}

func (e *AssetLoadError) Unwrap() error {
	return e.Err
}

// FetchError reports a failed asynchronous album art fetch for a notification
type FetchError struct {
	ID  int
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch album art for notification %d from %s: %v", e.ID, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
