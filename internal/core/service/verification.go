package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rl1809/apparatus-check/internal/core/domain"
	"github.com/rl1809/apparatus-check/internal/port"
)

// MaxQuantityDiscrepancy is the relative difference between expected and
// found consumable quantities above which condition notes are required.
const MaxQuantityDiscrepancy = 0.20

// QuantityDiscrepancy returns |expected-found|/expected. ok is false when
// expected is not positive and no ratio is defined.
func QuantityDiscrepancy(expected, found int) (ratio float64, ok bool) {
	if expected <= 0 {
		return 0, false
	}
	diff := expected - found
	if diff < 0 {
		diff = -diff
	}
	return float64(diff) / float64(expected), true
}

// VerificationRecorder validates and records a single item verification
// inside the caller's transaction.
type VerificationRecorder struct {
	escalator *IssueEscalator
	guard     port.VerificationGuard
	logger    *zap.Logger
	newID     func() string
}

func NewVerificationRecorder(escalator *IssueEscalator, guard port.VerificationGuard, logger *zap.Logger) *VerificationRecorder {
	return &VerificationRecorder{
		escalator: escalator,
		guard:     guard,
		logger:    logger,
		newID:     uuid.NewString,
	}
}

// Record applies one verification to the check and returns the stored record
// and the advanced check. Validation failures leave repo untouched.
func (r *VerificationRecorder) Record(ctx context.Context, repo port.CheckRepository, req VerifyRequest, userID string, at time.Time) (domain.InventoryCheckItem, domain.InventoryCheck, error) {
	check, err := repo.GetCheckForUpdate(ctx, req.CheckID)
	if err != nil {
		if errors.Is(err, domain.ErrCheckNotFound) {
			return domain.InventoryCheckItem{}, domain.InventoryCheck{}, fmt.Errorf("%w: %w", domain.ErrCheckNotInProgress, err)
		}
		return domain.InventoryCheckItem{}, domain.InventoryCheck{}, fmt.Errorf("load check: %w", err)
	}
	if !check.IsInProgress() {
		return domain.InventoryCheckItem{}, *check, fmt.Errorf("%w: check %s is %s", domain.ErrCheckNotInProgress, check.ID, check.Status())
	}

	target, err := domain.NewTarget(req.EquipmentUnitID, req.ConsumableStockID)
	if err != nil {
		return domain.InventoryCheckItem{}, *check, err
	}

	if err := r.ensureNotVerified(ctx, repo, check.ID, target); err != nil {
		return domain.InventoryCheckItem{}, *check, err
	}
	if check.Progress.Verified >= check.Progress.TotalItems {
		return domain.InventoryCheckItem{}, *check, fmt.Errorf("%w: all %d items of check %s are verified",
			domain.ErrInvalidRequest, check.Progress.TotalItems, check.ID)
	}

	if err := validateQuantities(target, req); err != nil {
		return domain.InventoryCheckItem{}, *check, err
	}

	issueID, err := r.escalator.Escalate(ctx, repo, *check, target, req.Status, req.ConditionNotes, userID, at)
	if err != nil {
		return domain.InventoryCheckItem{}, *check, err
	}

	if target.IsEquipment() {
		if status, ok := domain.EquipmentStatusFor(req.Status); ok {
			if err := repo.UpdateEquipmentStatus(ctx, target.ID(), status); err != nil {
				return domain.InventoryCheckItem{}, *check, fmt.Errorf("update equipment status: %w", err)
			}
		}
	}

	item := domain.InventoryCheckItem{
		ID:               r.newID(),
		CheckID:          check.ID,
		CompartmentID:    req.CompartmentID,
		Target:           target,
		Status:           req.Status,
		ConditionNotes:   strings.TrimSpace(req.ConditionNotes),
		QuantityFound:    req.QuantityFound,
		QuantityExpected: req.QuantityExpected,
		VerifiedBy:       userID,
		VerifiedAt:       at,
		IssueID:          issueID,
	}
	if err := repo.SaveVerification(ctx, item); err != nil {
		return domain.InventoryCheckItem{}, *check, fmt.Errorf("save verification: %w", err)
	}

	next, err := check.WithItemVerified(item.HasIssue(), at)
	if err != nil {
		return domain.InventoryCheckItem{}, *check, err
	}
	if err := repo.SaveCheck(ctx, next); err != nil {
		return domain.InventoryCheckItem{}, *check, fmt.Errorf("save check progress: %w", err)
	}
	next.Version++

	return item, next, nil
}

// MarkRecorded feeds the fast-path guard after the surrounding transaction
// committed.
func (r *VerificationRecorder) MarkRecorded(ctx context.Context, item domain.InventoryCheckItem) {
	if r.guard == nil {
		return
	}
	if err := r.guard.MarkVerified(ctx, item.CheckID, item.Target.Key()); err != nil {
		r.logger.Warn("failed to mark verification in guard",
			zap.String("check_id", item.CheckID),
			zap.String("target", item.Target.Key()),
			zap.Error(err),
		)
	}
}

func (r *VerificationRecorder) ensureNotVerified(ctx context.Context, repo port.CheckRepository, checkID string, target domain.Target) error {
	if r.guard != nil {
		seen, err := r.guard.IsVerified(ctx, checkID, target.Key())
		if err != nil {
			r.logger.Warn("verification guard unavailable, falling back to storage",
				zap.String("check_id", checkID),
				zap.Error(err),
			)
		} else if seen {
			return fmt.Errorf("%w: %s", domain.ErrItemAlreadyVerified, target.Key())
		}
	}

	exists, err := repo.ExistsVerification(ctx, checkID, target)
	if err != nil {
		return fmt.Errorf("check existing verification: %w", err)
	}
	if exists {
		return fmt.Errorf("%w: %s", domain.ErrItemAlreadyVerified, target.Key())
	}
	return nil
}

func validateQuantities(target domain.Target, req VerifyRequest) error {
	if target.IsEquipment() {
		if req.QuantityFound != nil || req.QuantityExpected != nil {
			return fmt.Errorf("%w: quantities apply to consumables only", domain.ErrInvalidRequest)
		}
		return nil
	}
	if req.QuantityFound == nil || req.QuantityExpected == nil {
		return nil
	}

	ratio, ok := QuantityDiscrepancy(*req.QuantityExpected, *req.QuantityFound)
	if !ok || ratio <= MaxQuantityDiscrepancy {
		return nil
	}
	if strings.TrimSpace(req.ConditionNotes) != "" {
		return nil
	}
	return fmt.Errorf("%w: expected %d, found %d (%.0f%%)",
		domain.ErrQuantityDiscrepancyRequiresNotes, *req.QuantityExpected, *req.QuantityFound, ratio*100)
}
