package domain

import "time"

// CompartmentLock is the ephemeral right of one user to edit a compartment
// within a check. Locks are never persisted.
type CompartmentLock struct {
	CheckID       string
	CompartmentID string
	UserID        string
	AcquiredAt    time.Time
}

type LockEventType string

const (
	LockEventTakenOver   LockEventType = "compartment.taken_over"
	LockEventCheckClosed LockEventType = "check.closed"
)

// LockEvent notifies users that a lock they held was removed.
type LockEvent struct {
	Type          LockEventType
	CheckID       string
	CompartmentID string
	Recipient     string
	ActorID       string
	ActorName     string
	At            time.Time
}
