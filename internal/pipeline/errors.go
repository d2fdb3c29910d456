package pipeline

import (
	"errors"
	"fmt"
)

// ErrMalformedInput is returned when a page image cannot be loaded or decoded.
var ErrMalformedInput = errors.New("malformed input")

// PartialPageFailure reports that some units of a page failed in lenient mode.
// The outcome is still returned alongside this error.
type PartialPageFailure struct {
	Failed int
	Total  int
	First  error
}

func (e *PartialPageFailure) Error() string {
	return fmt.Sprintf("%d of %d units failed: %v", e.Failed, e.Total, e.First)
}

func (e *PartialPageFailure) Unwrap() error { return e.First }

// UnitError attributes a failure to one unit of a page.
type UnitError struct {
	Index int
	Label string
	Err   error
}

func (e *UnitError) Error() string {
	if e.Label != "" {
		return fmt.Sprintf("unit %d (%s): %v", e.Index, e.Label, e.Err)
	}
	return fmt.Sprintf("unit %d: %v", e.Index, e.Err)
}

func (e *UnitError) Unwrap() error { return e.Err }
