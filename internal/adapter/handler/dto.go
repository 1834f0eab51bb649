package handler

import (
	"time"

	"github.com/rl1809/apparatus-check/internal/core/domain"
	"github.com/rl1809/apparatus-check/internal/core/service"
)

type CheckView struct {
	ID            string             `json:"id"`
	VehicleID     string             `json:"vehicle_id"`
	StationID     string             `json:"station_id"`
	StartedBy     string             `json:"started_by"`
	StartedAt     time.Time          `json:"started_at"`
	Status        domain.CheckStatus `json:"status"`
	TotalItems    int                `json:"total_items"`
	VerifiedItems int                `json:"verified_items"`
	IssuesFound   int                `json:"issues_found"`
	Notes         string             `json:"notes,omitempty"`
	CompletedAt   *time.Time         `json:"completed_at,omitempty"`
	AbandonedAt   *time.Time         `json:"abandoned_at,omitempty"`
	AbandonReason string             `json:"abandon_reason,omitempty"`
}

func checkView(c domain.InventoryCheck) CheckView {
	v := CheckView{
		ID:            c.ID,
		VehicleID:     c.VehicleID,
		StationID:     c.StationID,
		StartedBy:     c.StartedBy,
		StartedAt:     c.StartedAt,
		Status:        c.Status(),
		TotalItems:    c.Progress.TotalItems,
		VerifiedItems: c.Progress.Verified,
		IssuesFound:   c.Progress.IssuesFound,
	}
	switch s := c.State.(type) {
	case domain.InProgress:
		v.Notes = s.Notes
	case domain.Completed:
		v.CompletedAt = &s.CompletedAt
	case domain.Abandoned:
		v.AbandonedAt = &s.AbandonedAt
		v.AbandonReason = s.Reason
	}
	return v
}

type ItemView struct {
	ID                string                    `json:"id"`
	CheckID           string                    `json:"check_id"`
	CompartmentID     string                    `json:"compartment_id"`
	EquipmentUnitID   string                    `json:"equipment_unit_id,omitempty"`
	ConsumableStockID string                    `json:"consumable_stock_id,omitempty"`
	Status            domain.VerificationStatus `json:"status"`
	ConditionNotes    string                    `json:"condition_notes,omitempty"`
	QuantityFound     *int                      `json:"quantity_found,omitempty"`
	QuantityExpected  *int                      `json:"quantity_expected,omitempty"`
	VerifiedBy        string                    `json:"verified_by"`
	VerifiedAt        time.Time                 `json:"verified_at"`
	IssueID           string                    `json:"issue_id,omitempty"`
}

func itemView(i domain.InventoryCheckItem) ItemView {
	equipmentID, stockID := i.Target.Columns()
	return ItemView{
		ID:                i.ID,
		CheckID:           i.CheckID,
		CompartmentID:     i.CompartmentID,
		EquipmentUnitID:   equipmentID,
		ConsumableStockID: stockID,
		Status:            i.Status,
		ConditionNotes:    i.ConditionNotes,
		QuantityFound:     i.QuantityFound,
		QuantityExpected:  i.QuantityExpected,
		VerifiedBy:        i.VerifiedBy,
		VerifiedAt:        i.VerifiedAt,
		IssueID:           i.IssueID,
	}
}

type ProgressView struct {
	TotalItems  int `json:"total_items"`
	Verified    int `json:"verified"`
	IssuesFound int `json:"issues_found"`
}

type VerifyReply struct {
	Item     ItemView     `json:"item"`
	Progress ProgressView `json:"progress"`
}

func verifyReply(r service.VerifyResult) VerifyReply {
	return VerifyReply{
		Item: itemView(r.Item),
		Progress: ProgressView{
			TotalItems:  r.Progress.TotalItems,
			Verified:    r.Progress.Verified,
			IssuesFound: r.Progress.IssuesFound,
		},
	}
}

type AbandonRequest struct {
	CheckID string `json:"check_id"`
	Reason  string `json:"reason,omitempty"`
}

type CheckRef struct {
	CheckID string `json:"check_id"`
}

type CompartmentRef struct {
	CheckID       string `json:"check_id"`
	CompartmentID string `json:"compartment_id"`
}

type TakeOverReply struct {
	PreviousHolder string `json:"previous_holder,omitempty"`
}

type EndSessionReply struct {
	Released int `json:"released"`
}

type Empty struct{}
