package backend

import (
	"errors"
	"fmt"
)

// Deterministic selection failures. Retrying cannot change the outcome.
var (
	ErrNoMatchingStream = errors.New("no candidate matches the requested policy")
	ErrNoAudio          = errors.New("no audio streams available")
	ErrEmptyPlaylist    = errors.New("playlist has no items")
)

// ResolutionError means metadata resolution failed on every available
// strategy. Both underlying causes are preserved for diagnostics.
type ResolutionError struct {
	URL         string
	PrimaryErr  error
	FallbackErr error
}

func (e *ResolutionError) Error() string {
	if e.FallbackErr != nil {
		return fmt.Sprintf("resolving %s: primary: %v; fallback: %v", e.URL, e.PrimaryErr, e.FallbackErr)
	}
	return fmt.Sprintf("resolving %s: %v", e.URL, e.PrimaryErr)
}

func (e *ResolutionError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.PrimaryErr != nil {
		errs = append(errs, e.PrimaryErr)
	}
	if e.FallbackErr != nil {
		errs = append(errs, e.FallbackErr)
	}
	return errs
}

// TransferError means byte transfer failed mid-flight on every strategy
// that attempted it.
type TransferError struct {
	URL         string
	Backend     Origin
	Err         error
	FallbackErr error
}

func (e *TransferError) Error() string {
	if e.FallbackErr != nil {
		return fmt.Sprintf("fetching %s: %s: %v; fallback: %v", e.URL, e.Backend, e.Err, e.FallbackErr)
	}
	return fmt.Sprintf("fetching %s: %s: %v", e.URL, e.Backend, e.Err)
}

func (e *TransferError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	if e.FallbackErr != nil {
		errs = append(errs, e.FallbackErr)
	}
	return errs
}

// PlaylistResolutionError means both enumeration strategies failed.
type PlaylistResolutionError struct {
	URL         string
	PrimaryErr  error
	FallbackErr error
}

func (e *PlaylistResolutionError) Error() string {
	if e.FallbackErr != nil {
		return fmt.Sprintf("enumerating playlist %s: primary: %v; fallback: %v", e.URL, e.PrimaryErr, e.FallbackErr)
	}
	return fmt.Sprintf("enumerating playlist %s: %v", e.URL, e.PrimaryErr)
}

func (e *PlaylistResolutionError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.PrimaryErr != nil {
		errs = append(errs, e.PrimaryErr)
	}
	if e.FallbackErr != nil {
		errs = append(errs, e.FallbackErr)
	}
	return errs
}

// TranscodeError wraps a post-processing failure. The pipeline never fails
// an item on it; the pre-transcode file is kept instead.
type TranscodeError struct {
	Path string
	Err  error
}

func (e *TranscodeError) Error() string {
	return fmt.Sprintf("transcoding %s: %v", e.Path, e.Err)
}

func (e *TranscodeError) Unwrap() error { return e.Err }

// Retryable reports whether another attempt could plausibly succeed.
// Selection failures are deterministic given the same resolution.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNoMatchingStream) || errors.Is(err, ErrNoAudio) {
		return false
	}
	return true
}
