package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrSyncInProgress is returned by SyncAll while another run is active.
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrInvalidPayload marks an action whose payload can never be sent,
	// e.g. an UploadPhoto naming a photo that no longer exists. Such
	// actions are parked as failed without further attempts.
	ErrInvalidPayload = errors.New("invalid action payload")

	// ErrUnresolvedReference marks an action that names a local person
	// whose registration is parked. It waits for manual retry.
	ErrUnresolvedReference = errors.New("unresolved person reference")

	errMissingServerID = errors.New("server acknowledged create without an id")
)

// OperationTooLargeError is recorded on an action whose batch operation
// exceeds the size ceiling. The operation is never transmitted.
type OperationTooLargeError struct {
	ClientID string
	Size     int
	Limit    int
}

// Error implements the error interface.
func (e *OperationTooLargeError) Error() string {
	return fmt.Sprintf("batch operation %s is %d bytes, limit %d", e.ClientID, e.Size, e.Limit)
}

// IsOperationTooLarge reports whether err is an OperationTooLargeError.
func IsOperationTooLarge(err error) bool {
	var e *OperationTooLargeError
	return errors.As(err, &e)
}
