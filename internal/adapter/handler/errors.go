package handler

import (
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rl1809/apparatus-check/internal/core/domain"
	"github.com/rl1809/apparatus-check/internal/port"
)

type errorKind struct {
	sentinel error
	code     string
	http     int
	grpc     codes.Code
}

// errorKinds is matched in order; the first sentinel err wraps wins.
var errorKinds = []errorKind{
	{domain.ErrInvalidRequest, "invalid_request", http.StatusBadRequest, codes.InvalidArgument},
	{domain.ErrInvalidTarget, "invalid_target", http.StatusBadRequest, codes.InvalidArgument},
	{domain.ErrQuantityDiscrepancyRequiresNotes, "quantity_discrepancy_requires_notes", http.StatusUnprocessableEntity, codes.FailedPrecondition},
	{port.ErrAccessDenied, "access_denied", http.StatusForbidden, codes.PermissionDenied},
	{domain.ErrCheckNotInProgress, "check_not_in_progress", http.StatusConflict, codes.FailedPrecondition},
	{domain.ErrCheckNotFound, "check_not_found", http.StatusNotFound, codes.NotFound},
	{domain.ErrVehicleNotFound, "vehicle_not_found", http.StatusNotFound, codes.NotFound},
	{domain.ErrActiveCheckExists, "active_check_exists", http.StatusConflict, codes.AlreadyExists},
	{domain.ErrItemAlreadyVerified, "item_already_verified", http.StatusConflict, codes.AlreadyExists},
	{domain.ErrIncompleteCheck, "incomplete_check", http.StatusUnprocessableEntity, codes.FailedPrecondition},
	{domain.ErrInvalidStateTransition, "invalid_state_transition", http.StatusConflict, codes.FailedPrecondition},
	{domain.ErrCompartmentLocked, "compartment_locked", http.StatusConflict, codes.Aborted},
	{domain.ErrConcurrentUpdate, "concurrent_update", http.StatusConflict, codes.Aborted},
}

var internalKind = errorKind{code: "internal", http: http.StatusInternalServerError, grpc: codes.Internal}

func classify(err error) errorKind {
	for _, k := range errorKinds {
		if errors.Is(err, k.sentinel) {
			return k
		}
	}
	return internalKind
}

type ErrorResponse struct {
	Error   string      `json:"error"`
	Message string      `json:"message"`
	Holder  *HolderView `json:"holder,omitempty"`
}

type HolderView struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

func errorResponse(err error) (int, ErrorResponse) {
	kind := classify(err)
	resp := ErrorResponse{Error: kind.code, Message: err.Error()}
	if kind == internalKind {
		resp.Message = "internal error"
	}

	var locked *domain.CompartmentLockedError
	if errors.As(err, &locked) {
		resp.Holder = &HolderView{UserID: locked.HolderID, DisplayName: locked.HolderName}
	}
	return kind.http, resp
}

// grpcError converts a workflow error into a status error.
func grpcError(err error) error {
	kind := classify(err)
	if kind == internalKind {
		return status.Error(codes.Internal, "internal error")
	}
	return status.Error(kind.grpc, err.Error())
}
