package sync

import (
	"context"
	"errors"
)

var (
	// ErrPeerUnreachable indicates that the peer cannot be reached right now.
	// It is never fatal: callers downgrade it to "stay pending in the queue".
	ErrPeerUnreachable = errors.New("sync: peer unreachable")
	// ErrNotActivated indicates a send attempted before the transport session
	// finished activating.
	ErrNotActivated = errors.New("sync: transport session not activated")
)

// ActivationState tracks the transport session lifecycle.
type ActivationState int

const (
	// ActivationNotStarted means Activate has not been called yet.
	ActivationNotStarted ActivationState = iota
	// Activating means pairing with the peer is in progress.
	Activating
	// Activated means the session is ready to send.
	Activated
	// ActivationFailed means pairing with the peer failed.
	ActivationFailed
)

// String names the state for logs and the status endpoint.
func (s ActivationState) String() string {
	switch s {
	case ActivationNotStarted:
		return "not_activated"
	case Activating:
		return "activating"
	case Activated:
		return "activated"
	case ActivationFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Transport is the link to the paired device. Implementations must make
// SendImmediate fail fast within a bounded time rather than hang, and must
// accept SendDeferred unconditionally with no delivery-time or ordering
// guarantee.
//
// The engine always tries SendImmediate first while the peer is reachable
// and falls back to the offline queue otherwise; SendDeferred is reserved
// for whole-catalog rebroadcast, where ordering does not matter.
type Transport interface {
	ActivationState() ActivationState
	Reachable() bool
	SendImmediate(ctx context.Context, event Event) error
	SendDeferred(event Event) error
}
