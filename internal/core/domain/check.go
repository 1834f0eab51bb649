package domain

import (
	"fmt"
	"time"
)

type CheckStatus string

const (
	CheckStatusInProgress CheckStatus = "in_progress"
	CheckStatusCompleted  CheckStatus = "completed"
	CheckStatusAbandoned  CheckStatus = "abandoned"
)

// CheckState is the closed set of lifecycle variants of an InventoryCheck:
// InProgress, Completed and Abandoned.
type CheckState interface {
	Status() CheckStatus
	isCheckState()
}

type InProgress struct {
	LastActivityAt time.Time
	Notes          string
}

type Completed struct {
	CompletedAt time.Time
}

type Abandoned struct {
	AbandonedAt time.Time
	Reason      string // empty when no reason was given
}

func (InProgress) Status() CheckStatus { return CheckStatusInProgress }
func (Completed) Status() CheckStatus  { return CheckStatusCompleted }
func (Abandoned) Status() CheckStatus  { return CheckStatusAbandoned }

func (InProgress) isCheckState() {}
func (Completed) isCheckState()  {}
func (Abandoned) isCheckState()  {}

type CheckProgress struct {
	TotalItems  int
	Verified    int
	IssuesFound int
}

// InventoryCheck is one verification pass over a vehicle. Values are
// immutable: every transition returns a new InventoryCheck and the caller
// persists it.
type InventoryCheck struct {
	ID        string
	VehicleID string
	StationID string
	StartedBy string
	StartedAt time.Time
	Progress  CheckProgress
	State     CheckState
	Version   int // optimistic locking
}

// StartCheck creates a new in-progress check expecting totalItems verifications.
func StartCheck(id, vehicleID, stationID, userID string, startedAt time.Time, totalItems int, notes string) InventoryCheck {
	return InventoryCheck{
		ID:        id,
		VehicleID: vehicleID,
		StationID: stationID,
		StartedBy: userID,
		StartedAt: startedAt,
		Progress:  CheckProgress{TotalItems: totalItems},
		State:     InProgress{LastActivityAt: startedAt, Notes: notes},
	}
}

func (c InventoryCheck) Status() CheckStatus {
	if c.State == nil {
		return ""
	}
	return c.State.Status()
}

func (c InventoryCheck) IsInProgress() bool {
	_, ok := c.State.(InProgress)
	return ok
}

// WithItemVerified records one more verified item, counting it as an issue
// when hasIssue is set. Verified never exceeds TotalItems.
func (c InventoryCheck) WithItemVerified(hasIssue bool, at time.Time) (InventoryCheck, error) {
	state, ok := c.State.(InProgress)
	if !ok {
		return c, c.transitionError("verify item")
	}
	if c.Progress.Verified >= c.Progress.TotalItems {
		return c, fmt.Errorf("%w: all %d items verified", ErrInvalidRequest, c.Progress.TotalItems)
	}

	next := c
	next.Progress.Verified++
	if hasIssue {
		next.Progress.IssuesFound++
	}
	state.LastActivityAt = at
	next.State = state
	return next, nil
}

// Complete finishes the check. It fails with ErrIncompleteCheck while items
// remain unverified.
func (c InventoryCheck) Complete(at time.Time) (InventoryCheck, error) {
	if _, ok := c.State.(InProgress); !ok {
		return c, c.transitionError("complete")
	}
	if c.Progress.Verified < c.Progress.TotalItems {
		return c, fmt.Errorf("%w: %d of %d verified", ErrIncompleteCheck, c.Progress.Verified, c.Progress.TotalItems)
	}

	next := c
	next.State = Completed{CompletedAt: at}
	return next, nil
}

func (c InventoryCheck) Abandon(reason string, at time.Time) (InventoryCheck, error) {
	if _, ok := c.State.(InProgress); !ok {
		return c, c.transitionError("abandon")
	}

	next := c
	next.State = Abandoned{AbandonedAt: at, Reason: reason}
	return next, nil
}

func (c InventoryCheck) transitionError(action string) error {
	return fmt.Errorf("%w: cannot %s a %s check", ErrInvalidStateTransition, action, c.Status())
}
