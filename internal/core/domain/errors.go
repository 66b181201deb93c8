package domain

import "errors"

var (
	// Media acquisition errors.
	ErrPermissionDenied         = errors.New("permission denied")
	ErrDeviceNotFound           = errors.New("device not found")
	ErrDeviceBusy               = errors.New("device busy")
	ErrConstraintsUnsatisfiable = errors.New("constraints unsatisfiable")

	// Session establishment errors.
	ErrConnectionTimeout    = errors.New("connection establishment timed out")
	ErrSignalingUnavailable = errors.New("signaling bus unavailable")
	ErrMaxRetriesExceeded   = errors.New("max connection retries exceeded")

	// Negotiation errors.
	ErrRenegotiationRejected = errors.New("renegotiation rejected: session not stable")

	// Engine state errors.
	ErrSessionNotFound = errors.New("peer session not found")
	ErrNotInRoom       = errors.New("not joined to a room")
	ErrAlreadyInRoom   = errors.New("already joined to a room")
)
