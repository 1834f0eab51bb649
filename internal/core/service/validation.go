package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/rl1809/apparatus-check/internal/core/domain"
)

// VerifyRequest describes one item verification. Exactly one of
// EquipmentUnitID and ConsumableStockID must be set.
type VerifyRequest struct {
	CheckID           string                    `json:"check_id" validate:"required"`
	CompartmentID     string                    `json:"compartment_id" validate:"required"`
	EquipmentUnitID   string                    `json:"equipment_unit_id,omitempty"`
	ConsumableStockID string                    `json:"consumable_stock_id,omitempty"`
	Status            domain.VerificationStatus `json:"status" validate:"required,verification_status"`
	ConditionNotes    string                    `json:"condition_notes,omitempty" validate:"max=2000"`
	QuantityFound     *int                      `json:"quantity_found,omitempty" validate:"omitempty,min=0"`
	QuantityExpected  *int                      `json:"quantity_expected,omitempty" validate:"omitempty,min=0"`
}

type StartCheckRequest struct {
	VehicleID string `json:"vehicle_id" validate:"required"`
	Notes     string `json:"notes,omitempty" validate:"max=2000"`
}

// NewValidator returns a validator with the workflow's custom rules registered.
func NewValidator() (*validator.Validate, error) {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("verification_status", isVerificationStatus); err != nil {
		return nil, err
	}
	return v, nil
}

func isVerificationStatus(fl validator.FieldLevel) bool {
	return domain.VerificationStatus(fl.Field().String()).IsValid()
}

// validateStruct runs v over req and folds field errors into ErrInvalidRequest.
func validateStruct(v *validator.Validate, req any) error {
	err := v.Struct(req)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", domain.ErrInvalidRequest, strings.Join(msgs, ", "))
}
