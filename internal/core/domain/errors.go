package domain

import "errors"

var (
	// ErrConnectivity is returned when an endpoint cannot be reached or fails a probe.
	ErrConnectivity = errors.New("connectivity error")

	// ErrConfiguration is returned for invalid endpoint settings such as a chain ID mismatch.
	ErrConfiguration = errors.New("configuration error")

	// ErrNotFound is returned for unknown endpoint or alert ids.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when an operation collides with existing state.
	ErrConflict = errors.New("conflict")
)
