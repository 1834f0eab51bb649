package domain

import (
	"strings"
	"time"
)

type TargetKind string

const (
	TargetEquipment  TargetKind = "equipment"
	TargetConsumable TargetKind = "consumable"
)

// Target is the item a verification refers to: either an equipment unit or a
// consumable stock record, never both. The zero value is invalid.
type Target struct {
	kind TargetKind
	id   string
}

func EquipmentTarget(unitID string) Target {
	return Target{kind: TargetEquipment, id: unitID}
}

func ConsumableTarget(stockID string) Target {
	return Target{kind: TargetConsumable, id: stockID}
}

// NewTarget builds a Target from the nullable pair used at storage and
// transport boundaries. Exactly one id must be non-empty.
func NewTarget(equipmentUnitID, consumableStockID string) (Target, error) {
	equipmentUnitID = strings.TrimSpace(equipmentUnitID)
	consumableStockID = strings.TrimSpace(consumableStockID)

	switch {
	case equipmentUnitID != "" && consumableStockID == "":
		return EquipmentTarget(equipmentUnitID), nil
	case consumableStockID != "" && equipmentUnitID == "":
		return ConsumableTarget(consumableStockID), nil
	default:
		return Target{}, ErrInvalidTarget
	}
}

func (t Target) Kind() TargetKind { return t.kind }
func (t Target) ID() string       { return t.id }
func (t Target) IsValid() bool    { return t.kind != "" && t.id != "" }
func (t Target) IsEquipment() bool {
	return t.kind == TargetEquipment
}

// Key identifies the target uniquely within a check.
func (t Target) Key() string {
	return string(t.kind) + ":" + t.id
}

// Columns returns the target as the (equipment unit, consumable stock) pair.
func (t Target) Columns() (equipmentUnitID, consumableStockID string) {
	if t.kind == TargetEquipment {
		return t.id, ""
	}
	return "", t.id
}

type VerificationStatus string

const (
	VerificationPresent        VerificationStatus = "present"
	VerificationPresentDamaged VerificationStatus = "present_damaged"
	VerificationMissing        VerificationStatus = "missing"
	VerificationExpired        VerificationStatus = "expired"
	VerificationLowQuantity    VerificationStatus = "low_quantity"
)

func (s VerificationStatus) IsValid() bool {
	switch s {
	case VerificationPresent, VerificationPresentDamaged, VerificationMissing,
		VerificationExpired, VerificationLowQuantity:
		return true
	}
	return false
}

// RequiresIssue reports whether the outcome must open a tracked issue.
func (s VerificationStatus) RequiresIssue() bool {
	switch s {
	case VerificationMissing, VerificationPresentDamaged, VerificationExpired:
		return true
	}
	return false
}

type EquipmentStatus string

const (
	EquipmentStatusAvailable EquipmentStatus = "available"
	EquipmentStatusMissing   EquipmentStatus = "missing"
	EquipmentStatusDamaged   EquipmentStatus = "damaged"
)

// EquipmentStatusFor returns the tracked equipment status implied by a
// verification outcome, if any.
func EquipmentStatusFor(s VerificationStatus) (EquipmentStatus, bool) {
	switch s {
	case VerificationMissing:
		return EquipmentStatusMissing, true
	case VerificationPresentDamaged:
		return EquipmentStatusDamaged, true
	}
	return "", false
}

// InventoryCheckItem is the verification record for one target in one check.
type InventoryCheckItem struct {
	ID               string
	CheckID          string
	CompartmentID    string
	Target           Target
	Status           VerificationStatus
	ConditionNotes   string
	QuantityFound    *int
	QuantityExpected *int
	VerifiedBy       string
	VerifiedAt       time.Time
	IssueID          string // empty when no issue was opened
}

func (i InventoryCheckItem) HasIssue() bool {
	return i.IssueID != ""
}

// Compartment is a storage location on a vehicle with the number of
// checkable items it holds.
type Compartment struct {
	ID            string
	VehicleID     string
	Name          string
	ExpectedItems int
}
