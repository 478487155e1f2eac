package netcode

import "errors"

var (
	ErrReconcileNested   = errors.New("reconciliation already running")
	ErrStaleReconcile    = errors.New("reconciliation older than replay window")
	ErrUnknownObject     = errors.New("unknown object")
	ErrShortPayload      = errors.New("reconcile payload too short")
	ErrNotOwner          = errors.New("sender does not own the object")
	ErrUnexpectedMessage = errors.New("unexpected message type")
)
