package access

import (
	"context"
	"fmt"

	"github.com/rl1809/apparatus-check/internal/core/domain"
	"github.com/rl1809/apparatus-check/internal/port"
)

// MembershipSource answers which station a vehicle belongs to and whether a
// user is a member of a station.
type MembershipSource interface {
	StationForVehicle(ctx context.Context, vehicleID string) (string, error)
	IsStationMember(ctx context.Context, userID, stationID string) (bool, error)
}

// StationGatekeeper grants access to vehicles and checks of the stations a
// user belongs to.
type StationGatekeeper struct {
	members MembershipSource
}

func NewStationGatekeeper(members MembershipSource) *StationGatekeeper {
	return &StationGatekeeper{members: members}
}

func (g *StationGatekeeper) RequireVehicleAccess(ctx context.Context, userID, vehicleID string) error {
	stationID, err := g.members.StationForVehicle(ctx, vehicleID)
	if err != nil {
		return err
	}
	return g.requireMember(ctx, userID, stationID)
}

func (g *StationGatekeeper) RequireCheckAccess(ctx context.Context, userID string, check domain.InventoryCheck) error {
	return g.requireMember(ctx, userID, check.StationID)
}

func (g *StationGatekeeper) requireMember(ctx context.Context, userID, stationID string) error {
	if userID == "" {
		return fmt.Errorf("%w: anonymous user", port.ErrAccessDenied)
	}
	ok, err := g.members.IsStationMember(ctx, userID, stationID)
	if err != nil {
		return fmt.Errorf("check membership: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: user %s is not a member of station %s", port.ErrAccessDenied, userID, stationID)
	}
	return nil
}
