package errors

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
)

// DispatchMode names how the candidate set of a dispatch was chosen.
type DispatchMode string

const (
	// ModePinned means the caller named the node explicitly.
	ModePinned DispatchMode = "pinned"
	// ModeDiscovered means candidates came from node discovery.
	ModeDiscovered DispatchMode = "discovered"
)

// DispatchError reports a logical request that no candidate served.
type DispatchError struct {
	Mode       DispatchMode
	Operation  string
	Candidates int
	Attempted  int
	LastURL    string
	Last       error
	failures   error
}

// NewDispatchError creates an empty DispatchError for a candidate list.
func NewDispatchError(mode DispatchMode, operation string, candidates int) *DispatchError {
	return &DispatchError{
		Mode:       mode,
		Operation:  operation,
		Candidates: candidates,
	}
}

// Record adds one failed candidate attempt.
func (e *DispatchError) Record(url string, err error) {
	e.Attempted++
	e.LastURL = url
	e.Last = err
	e.failures = multierr.Append(e.failures, fmt.Errorf("%s: %w", url, err))
}

// Failures returns every recorded candidate failure in attempt order.
func (e *DispatchError) Failures() []error {
	return multierr.Errors(e.failures)
}

// Error implements the error interface.
func (e *DispatchError) Error() string {
	last := "unknown"
	if e.Last != nil {
		last = e.Last.Error()
	}
	if e.Mode == ModePinned {
		return fmt.Sprintf("%s: request failed for %s (%d of %d candidates attempted): %s",
			e.Operation, e.LastURL, e.Attempted, e.Candidates, last)
	}
	return fmt.Sprintf("%s: all gateway nodes failed (%d tried). Last error: %s",
		e.Operation, e.Attempted, last)
}

// Unwrap returns the most recent candidate failure.
func (e *DispatchError) Unwrap() error {
	return e.Last
}

// AsDispatchError finds the first *DispatchError in err's chain.
func AsDispatchError(err error, target **DispatchError) bool {
	return errors.As(err, target)
}
