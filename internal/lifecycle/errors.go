package lifecycle

import "errors"

var (
	// ErrInstanceNotFound is returned for unknown instances, stale rows whose
	// container is gone, and foreign instances when existence is hidden
	ErrInstanceNotFound = errors.New("instance not found")

	// ErrForbidden is returned for foreign instances when existence is revealed
	ErrForbidden = errors.New("instance is owned by another tenant")

	// ErrUpstreamUnavailable is returned when the container engine or the
	// instance itself cannot be reached
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrInvalidArgument is returned for malformed request parameters
	ErrInvalidArgument = errors.New("invalid argument")
)
