package port

import (
	"context"
	"errors"

	"github.com/rl1809/apparatus-check/internal/core/domain"
)

// ErrAccessDenied is returned by AccessControl implementations. It is not
// part of the workflow's own error kinds.
var ErrAccessDenied = errors.New("access denied")

type AccessControl interface {
	// RequireVehicleAccess fails unless the user may work on the vehicle
	RequireVehicleAccess(ctx context.Context, userID, vehicleID string) error

	// RequireCheckAccess fails unless the user may work on the check
	RequireCheckAccess(ctx context.Context, userID string, check domain.InventoryCheck) error
}

type DisplayNameResolver interface {
	// DisplayNameOf returns the user's display name; ok is false when unknown
	DisplayNameOf(ctx context.Context, userID string) (name string, ok bool, err error)
}
