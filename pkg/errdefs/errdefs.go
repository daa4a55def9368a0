// Package errdefs defines the error taxonomy shared by the registry, the
// heartbeat ingest path and the transports. Callers wrap these sentinels
// with fmt.Errorf("...: %w", ...) and test them with errors.Is.
package errdefs

import "errors"

var (
	// ErrNotFound means the referenced node or task does not exist
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized means the presented credential was missing or wrong
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidPayload means a request body failed validation
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrConflict means the write would violate a uniqueness or lifecycle rule
	ErrConflict = errors.New("conflict")

	// ErrUnavailable means this process cannot serve the write right now,
	// for example a Raft follower
	ErrUnavailable = errors.New("unavailable")
)

// IsNotFound reports whether err is or wraps ErrNotFound
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsUnauthorized reports whether err is or wraps ErrUnauthorized
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsInvalidPayload reports whether err is or wraps ErrInvalidPayload
func IsInvalidPayload(err error) bool {
	return errors.Is(err, ErrInvalidPayload)
}

// IsConflict reports whether err is or wraps ErrConflict
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsUnavailable reports whether err is or wraps ErrUnavailable
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
