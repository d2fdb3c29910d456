package ocr

import (
	"errors"
	"fmt"
)

var (
	// ErrEngineUnavailable marks transport failures: connection refused,
	// DNS errors, timeouts before a response.
	ErrEngineUnavailable = errors.New("OCR engine unavailable")

	// ErrEngineRejected marks requests the engine answered with a failure.
	ErrEngineRejected = errors.New("OCR engine rejected request")

	// ErrMalformedImage marks an image that could not be encoded for the engine.
	ErrMalformedImage = errors.New("malformed image")
)

// EngineError carries the engine's failure response.
type EngineError struct {
	Backend    string
	StatusCode int
	Body       string
}

func (e *EngineError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s rejected request (status %d): %s", e.Backend, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s rejected request: %s", e.Backend, e.Body)
}

// Unwrap lets errors.Is match ErrEngineRejected.
func (e *EngineError) Unwrap() error { return ErrEngineRejected }

func unavailable(backend string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrEngineUnavailable, backend, err)
}
