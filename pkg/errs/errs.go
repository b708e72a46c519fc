// Package errs defines the sentinel error taxonomy shared across the
// storage, sharding, consensus, and coordinator packages. Components wrap
// these with fmt.Errorf("...: %w", ...) so callers can still errors.Is
// against the taxonomy after the context has been added.
package errs

import "errors"

var (
	// ErrValidation means the input violated a data-model invariant.
	// Terminal: never retried internally.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound means the requested document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrAborted means a version conflict or consensus abort occurred.
	// Callers may retry with an updated expected_version.
	ErrAborted = errors.New("operation aborted")

	// ErrNoQuorum means a consensus proposal did not commit before its
	// deadline; the coordinator returns it in place of ErrTimeout. The
	// proposal is not retried before this error is returned.
	ErrNoQuorum = errors.New("no quorum available")

	// ErrIO means a backend storage operation (bolt read/write/delete)
	// failed. Surfaced to the caller as-is; nothing in pkg/storage
	// retries it.
	ErrIO = errors.New("storage io error")

	// ErrUnsupportedEncoding means the document codec saw an unknown
	// version tag.
	ErrUnsupportedEncoding = errors.New("unsupported encoding version")

	// ErrInsufficientNodes means the sharding engine cannot satisfy the
	// configured replication factor.
	ErrInsufficientNodes = errors.New("insufficient distinct nodes for replication factor")

	// ErrTimeout means a consensus deadline expired. Translated to
	// ErrNoQuorum at the coordinator boundary.
	ErrTimeout = errors.New("consensus deadline exceeded")

	// ErrNoShardAvailable means the sharding engine's ring is empty
	// outside of bootstrap mode.
	ErrNoShardAvailable = errors.New("no shard available")
)
