package port

import (
	"context"

	"github.com/rl1809/apparatus-check/internal/core/domain"
)

// CheckRepository is the storage view used inside one transaction.
type CheckRepository interface {
	// FindInProgressCheck returns the vehicle's in-progress check, or nil if none exists
	FindInProgressCheck(ctx context.Context, vehicleID string) (*domain.InventoryCheck, error)

	// GetCheckForUpdate loads a check and serializes concurrent writers to it until commit
	GetCheckForUpdate(ctx context.Context, checkID string) (*domain.InventoryCheck, error)

	// CreateCheck inserts a new check, failing with domain.ErrActiveCheckExists if the vehicle has one in progress
	CreateCheck(ctx context.Context, check domain.InventoryCheck) error

	// SaveCheck updates a check and bumps its version, failing with domain.ErrConcurrentUpdate on a stale version
	SaveCheck(ctx context.Context, check domain.InventoryCheck) error

	// ExistsVerification reports whether the target already has a record in the check
	ExistsVerification(ctx context.Context, checkID string, target domain.Target) (bool, error)

	// SaveVerification inserts a record, failing with domain.ErrItemAlreadyVerified on a duplicate target
	SaveVerification(ctx context.Context, item domain.InventoryCheckItem) error

	// UpdateEquipmentStatus sets the tracked status of an equipment unit
	UpdateEquipmentStatus(ctx context.Context, unitID string, status domain.EquipmentStatus) error

	// CreateIssue persists an issue and returns its id
	CreateIssue(ctx context.Context, issue domain.Issue) (string, error)
}

// CheckStore is the storage collaborator of the workflow.
type CheckStore interface {
	// WithinTransaction runs fn atomically; any error rolls back every write made through repo
	WithinTransaction(ctx context.Context, fn func(ctx context.Context, repo CheckRepository) error) error

	// GetCheck retrieves a check by id, returning domain.ErrCheckNotFound if absent
	GetCheck(ctx context.Context, checkID string) (*domain.InventoryCheck, error)

	// ListVerifications returns every verification record of a check
	ListVerifications(ctx context.Context, checkID string) ([]domain.InventoryCheckItem, error)

	// StationForVehicle returns the station owning the vehicle, or domain.ErrVehicleNotFound
	StationForVehicle(ctx context.Context, vehicleID string) (string, error)

	// ListCompartments returns the vehicle's compartments with their expected item counts
	ListCompartments(ctx context.Context, vehicleID string) ([]domain.Compartment, error)
}
