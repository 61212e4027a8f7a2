package roadmap

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyBaseURL is returned when the loader has no backend URL.
	ErrEmptyBaseURL = errors.New("API base URL is empty")

	// ErrNoData is returned when neither the backend nor a fallback produced segments.
	ErrNoData = errors.New("no road data available")

	// ErrUnknownSession is returned for session IDs that are not mounted.
	ErrUnknownSession = errors.New("unknown map session")

	// ErrInvalidMode is returned for unrecognized mode or sub-mode names.
	ErrInvalidMode = errors.New("invalid mode")
)

// LoadError describes a failed dataset fetch.
type LoadError struct {
	Op  string
	URL string
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}
