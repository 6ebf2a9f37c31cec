package agrokg

import "errors"

var (
	// ErrInvalidConfig is returned when the engine configuration is unusable.
	ErrInvalidConfig = errors.New("agrokg: invalid config")

	// ErrInvalidQuery is returned for malformed query parameters. Query
	// validation errors also carry a kgerr code and the offending field.
	ErrInvalidQuery = errors.New("agrokg: invalid query")

	// ErrStoreClosed is returned by every operation after Close.
	ErrStoreClosed = errors.New("agrokg: store closed")

	// ErrNotInitialized is returned by load and index operations on a store
	// whose uniqueness constraints have not been created by Initialize.
	ErrNotInitialized = errors.New("agrokg: store not initialized")

	// ErrUnsupportedFormat is returned for label files no parser handles.
	ErrUnsupportedFormat = errors.New("agrokg: unsupported document format")
)
