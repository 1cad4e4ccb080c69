// Package errors provides consolidated error definitions for the storage manager.
//
// Two broad failure classes exist:
//
//   - Configuration errors: the caller passed an unknown strategy name, a missing
//     argument, an unsupported codec, or an invalid interval. These fail fast,
//     before any side effect, and satisfy IsConfig.
//   - Operation errors: file or database I/O failed mid-operation. These are
//     wrapped with Wrap/Wrapf so the root cause stays inspectable via errors.Is
//     and errors.As.
//
// Expected steady-state conditions (a record without a checksum, a query window
// with no shards) are not errors at all; managers return structured results for
// those.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	// Configuration errors
	ErrUnknownStrategy        = errors.New("unknown strategy")
	ErrUnknownTable           = errors.New("unknown table")
	ErrMissingArgument        = errors.New("missing required argument")
	ErrUnsupportedCompression = errors.New("unsupported compression type")
	ErrInvalidInterval        = errors.New("invalid interval")
	ErrInvalidConfig          = errors.New("invalid configuration")
	ErrAlreadyRunning         = errors.New("already running")

	// Not found errors
	ErrNotFound         = errors.New("not found")
	ErrRecordNotFound   = errors.New("record not found")
	ErrShardNotFound    = errors.New("shard not found")
	ErrChecksumNotFound = errors.New("checksum not found")

	// Invariant violations
	ErrShardOverlap = errors.New("shard date range overlaps an existing shard")
	ErrShardExists  = errors.New("shard already exists")

	// Internal errors
	ErrInternal = errors.New("internal error")
	ErrDatabase = errors.New("database error")
)

// Is is a convenience wrapper for errors.Is.
var Is = errors.Is

// As is a convenience wrapper for errors.As.
var As = errors.As

// New is a convenience wrapper for errors.New.
var New = errors.New

// IsConfig returns true if err is a caller configuration mistake.
// Configuration errors are raised before any side effect.
func IsConfig(err error) bool {
	return errors.Is(err, ErrUnknownStrategy) ||
		errors.Is(err, ErrUnknownTable) ||
		errors.Is(err, ErrMissingArgument) ||
		errors.Is(err, ErrUnsupportedCompression) ||
		errors.Is(err, ErrInvalidInterval) ||
		errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrAlreadyRunning)
}

// IsNotFound returns true if err is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrRecordNotFound) ||
		errors.Is(err, ErrShardNotFound) ||
		errors.Is(err, ErrChecksumNotFound)
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// NewUnknownStrategy creates an unknown-strategy error naming the strategy.
func NewUnknownStrategy(kind, name string) error {
	return fmt.Errorf("%s strategy '%s': %w", kind, name, ErrUnknownStrategy)
}

// NewMissingArgument creates a missing-argument error naming the argument.
func NewMissingArgument(name string) error {
	return fmt.Errorf("%s: %w", name, ErrMissingArgument)
}

// NewUnsupportedCompression creates an unsupported-codec error naming the codec.
func NewUnsupportedCompression(codec string) error {
	return fmt.Errorf("'%s': %w", codec, ErrUnsupportedCompression)
}

// NewNotFound creates a not-found error with entity context.
func NewNotFound(entityType, identifier string) error {
	return fmt.Errorf("%s '%s': %w", entityType, identifier, ErrNotFound)
}
