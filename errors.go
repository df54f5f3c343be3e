package cubestream

import (
	"fmt"
)

// ConfigurationError reports an invalid tile size, a malformed domain, or
// any other construction-time misconfiguration. It is returned the first
// time the bad configuration is exercised.
type ConfigurationError struct {
	// Field names the configuration value at fault.
	Field string

	// Reason describes what is wrong with it.
	Reason string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("cubestream: invalid configuration %s: %s", e.Field, e.Reason)
}

// FetchError reports a collaborator I/O failure for one tile. It identifies
// the failing tile and, when the fetch happened inside a verb, the verb that
// was running. A fetch failure aborts the entire reduction rather than
// producing a partial, silently wrong result.
type FetchError struct {
	// Tile is the descriptor whose fetch failed.
	Tile Tile

	// Verb names the verb being applied, if any.
	Verb string

	// Err is the underlying fetcher error.
	Err error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	if e.Verb != "" {
		return fmt.Sprintf("cubestream: verb %q: fetch of tile %d (time %d, space %d) failed: %v",
			e.Verb, e.Tile.Index, e.Tile.Time.Index, e.Tile.Space.Index, e.Err)
	}
	return fmt.Sprintf("cubestream: fetch of tile %d (time %d, space %d) failed: %v",
		e.Tile.Index, e.Tile.Time.Index, e.Tile.Space.Index, e.Err)
}

// Unwrap returns the underlying error, enabling errors.Is and errors.As.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// MaterializeTooLargeError reports that Materialize would exceed the
// configured safety threshold. Callers that really want the full cube can
// override the check with WithForce(true).
type MaterializeTooLargeError struct {
	// EstimatedBytes is the projected size of the materialized cube.
	EstimatedBytes int64

	// MaxBytes is the configured safety threshold.
	MaxBytes int64
}

// Error implements the error interface.
func (e *MaterializeTooLargeError) Error() string {
	return fmt.Sprintf("cubestream: materialize would need %d bytes, above the %d byte limit (use WithForce to override)",
		e.EstimatedBytes, e.MaxBytes)
}

// InsufficientContextError reports that a verb needs full-cube context that
// is unavailable in streaming mode, for example correlating against an
// external reference series. Materialize the cube first, then apply the
// verb to the eager result.
type InsufficientContextError struct {
	// Verb names the verb that cannot run on a VirtualCube.
	Verb string

	// Reason describes the missing context.
	Reason string
}

// Error implements the error interface.
func (e *InsufficientContextError) Error() string {
	return fmt.Sprintf("cubestream: verb %q needs materialization: %s", e.Verb, e.Reason)
}
