package domain

import (
	"errors"
	"fmt"
)

var (
	ErrActiveCheckExists                = errors.New("vehicle already has an in-progress check")
	ErrCheckNotFound                    = errors.New("check not found")
	ErrVehicleNotFound                  = errors.New("vehicle not found")
	ErrCheckNotInProgress               = errors.New("check is not in progress")
	ErrInvalidStateTransition           = errors.New("invalid check state transition")
	ErrIncompleteCheck                  = errors.New("check has unverified items")
	ErrItemAlreadyVerified              = errors.New("item already verified in this check")
	ErrQuantityDiscrepancyRequiresNotes = errors.New("quantity discrepancy requires condition notes")
	ErrInvalidTarget                    = errors.New("verification must target exactly one of equipment unit or consumable stock")
	ErrInvalidRequest                   = errors.New("invalid request")
	ErrCompartmentLocked                = errors.New("compartment is locked by another user")

	// ErrConcurrentUpdate is returned by stores when a check was modified
	// between read and write.
	ErrConcurrentUpdate = errors.New("check modified concurrently")
)

// CompartmentLockedError reports who holds a compartment. HolderName is the
// resolved display name, or a generic label when none is known.
type CompartmentLockedError struct {
	CompartmentID string
	HolderID      string
	HolderName    string
}

func (e *CompartmentLockedError) Error() string {
	return fmt.Sprintf("compartment %s is being edited by %s", e.CompartmentID, e.HolderName)
}

func (e *CompartmentLockedError) Is(target error) bool {
	return target == ErrCompartmentLocked
}
