package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rl1809/apparatus-check/internal/core/domain"
	"github.com/rl1809/apparatus-check/internal/port"
)

// acquireAttempts bounds retries when a competing lock disappears between a
// failed Acquire and the holder lookup.
const acquireAttempts = 3

type VerifyResult struct {
	Item     domain.InventoryCheckItem
	Progress domain.CheckProgress
}

// Option configures a CheckWorkflowService.
type Option func(*CheckWorkflowService)

// WithLockRegistry shares an existing registry, e.g. between transports.
func WithLockRegistry(r *LockRegistry) Option {
	return func(s *CheckWorkflowService) { s.locks = r }
}

func WithVerificationGuard(g port.VerificationGuard) Option {
	return func(s *CheckWorkflowService) { s.guard = g }
}

func WithNotifier(n port.LockNotifier) Option {
	return func(s *CheckWorkflowService) { s.notifier = n }
}

func WithClock(now func() time.Time) Option {
	return func(s *CheckWorkflowService) { s.now = now }
}

// CheckWorkflowService is the single entry point for starting, verifying,
// completing and abandoning checks and for coordinating compartment locks.
type CheckWorkflowService struct {
	store      port.CheckStore
	access     port.AccessControl
	locks      *LockRegistry
	guard      port.VerificationGuard
	notifier   port.LockNotifier
	recorder   *VerificationRecorder
	aggregator *ProgressAggregator
	validate   *validator.Validate
	logger     *zap.Logger
	now        func() time.Time
	newID      func() string
}

func NewCheckWorkflowService(store port.CheckStore, access port.AccessControl, names port.DisplayNameResolver, logger *zap.Logger, opts ...Option) (*CheckWorkflowService, error) {
	v, err := NewValidator()
	if err != nil {
		return nil, fmt.Errorf("register validations: %w", err)
	}

	s := &CheckWorkflowService{
		store:    store,
		access:   access,
		validate: v,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.locks == nil {
		s.locks = NewLockRegistry()
	}
	s.recorder = NewVerificationRecorder(NewIssueEscalator(), s.guard, logger)
	s.aggregator = NewProgressAggregator(names, logger)
	return s, nil
}

// Locks exposes the registry for presence display.
func (s *CheckWorkflowService) Locks() *LockRegistry {
	return s.locks
}

func (s *CheckWorkflowService) StartCheck(ctx context.Context, userID string, req StartCheckRequest) (domain.InventoryCheck, error) {
	if err := validateStruct(s.validate, req); err != nil {
		return domain.InventoryCheck{}, err
	}
	if err := s.access.RequireVehicleAccess(ctx, userID, req.VehicleID); err != nil {
		return domain.InventoryCheck{}, err
	}

	stationID, err := s.store.StationForVehicle(ctx, req.VehicleID)
	if err != nil {
		return domain.InventoryCheck{}, err
	}
	compartments, err := s.store.ListCompartments(ctx, req.VehicleID)
	if err != nil {
		return domain.InventoryCheck{}, fmt.Errorf("list compartments: %w", err)
	}
	total := 0
	for _, c := range compartments {
		total += c.ExpectedItems
	}

	check := domain.StartCheck(s.newID(), req.VehicleID, stationID, userID, s.now(), total, req.Notes)
	err = s.store.WithinTransaction(ctx, func(ctx context.Context, repo port.CheckRepository) error {
		existing, err := repo.FindInProgressCheck(ctx, req.VehicleID)
		if err != nil {
			return fmt.Errorf("find in-progress check: %w", err)
		}
		if existing != nil {
			return fmt.Errorf("%w: %s", domain.ErrActiveCheckExists, existing.ID)
		}
		return repo.CreateCheck(ctx, check)
	})
	if err != nil {
		s.logger.Debug("start check rejected",
			zap.String("vehicle_id", req.VehicleID),
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return domain.InventoryCheck{}, err
	}

	s.logger.Info("check started",
		zap.String("check_id", check.ID),
		zap.String("vehicle_id", check.VehicleID),
		zap.String("user_id", userID),
		zap.Int("total_items", total),
	)
	return check, nil
}

func (s *CheckWorkflowService) GetCheck(ctx context.Context, userID, checkID string) (domain.InventoryCheck, error) {
	return s.loadAuthorized(ctx, userID, checkID)
}

func (s *CheckWorkflowService) VerifyItem(ctx context.Context, userID string, req VerifyRequest) (VerifyResult, error) {
	if err := validateStruct(s.validate, req); err != nil {
		return VerifyResult{}, err
	}
	check, err := s.loadAuthorized(ctx, userID, req.CheckID)
	if err != nil {
		return VerifyResult{}, err
	}
	if err := s.requireCompartment(ctx, check.VehicleID, req.CompartmentID); err != nil {
		return VerifyResult{}, err
	}
	if err := s.requireNotLockedOut(ctx, req.CheckID, req.CompartmentID, userID); err != nil {
		return VerifyResult{}, err
	}

	var result VerifyResult
	err = s.store.WithinTransaction(ctx, func(ctx context.Context, repo port.CheckRepository) error {
		item, check, err := s.recorder.Record(ctx, repo, req, userID, s.now())
		if err != nil {
			return err
		}
		// A take-over may have landed since the first check; roll back if so.
		if err := s.requireNotLockedOut(ctx, req.CheckID, req.CompartmentID, userID); err != nil {
			return err
		}
		result = VerifyResult{Item: item, Progress: check.Progress}
		return nil
	})
	if err != nil {
		s.logger.Debug("verification rejected",
			zap.String("check_id", req.CheckID),
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return VerifyResult{}, err
	}
	s.recorder.MarkRecorded(ctx, result.Item)

	s.logger.Info("item verified",
		zap.String("check_id", req.CheckID),
		zap.String("target", result.Item.Target.Key()),
		zap.String("status", string(result.Item.Status)),
		zap.Bool("issue_opened", result.Item.HasIssue()),
		zap.Int("verified", result.Progress.Verified),
		zap.Int("total", result.Progress.TotalItems),
	)
	return result, nil
}

func (s *CheckWorkflowService) CompleteCheck(ctx context.Context, userID, checkID string) (domain.InventoryCheck, error) {
	return s.close(ctx, userID, checkID, "complete", func(c domain.InventoryCheck, at time.Time) (domain.InventoryCheck, error) {
		return c.Complete(at)
	})
}

func (s *CheckWorkflowService) AbandonCheck(ctx context.Context, userID, checkID, reason string) (domain.InventoryCheck, error) {
	return s.close(ctx, userID, checkID, "abandon", func(c domain.InventoryCheck, at time.Time) (domain.InventoryCheck, error) {
		return c.Abandon(reason, at)
	})
}

// AcquireCompartment gives userID the exclusive edit right to a compartment.
// It fails with a *domain.CompartmentLockedError when another user holds it.
func (s *CheckWorkflowService) AcquireCompartment(ctx context.Context, userID, checkID, compartmentID string) error {
	check, err := s.loadAuthorized(ctx, userID, checkID)
	if err != nil {
		return err
	}
	if !check.IsInProgress() {
		return fmt.Errorf("%w: check %s is %s", domain.ErrCheckNotInProgress, check.ID, check.Status())
	}

	for attempt := 0; attempt < acquireAttempts; attempt++ {
		if s.locks.Acquire(checkID, compartmentID, userID) {
			return s.confirmStillOpen(ctx, checkID, compartmentID, userID)
		}
		if lock, ok := s.locks.Holder(checkID, compartmentID); ok {
			return s.lockedError(ctx, compartmentID, lock.UserID)
		}
	}
	return s.lockedError(ctx, compartmentID, "")
}

// ReleaseCompartment drops userID's lock. Releasing a lock held by someone
// else is a no-op.
func (s *CheckWorkflowService) ReleaseCompartment(ctx context.Context, userID, checkID, compartmentID string) error {
	if _, err := s.loadAuthorized(ctx, userID, checkID); err != nil {
		return err
	}
	if !s.locks.Release(checkID, compartmentID, userID) {
		s.logger.Debug("release ignored, caller is not the holder",
			zap.String("check_id", checkID),
			zap.String("compartment_id", compartmentID),
			zap.String("user_id", userID),
		)
	}
	return nil
}

// TakeOverCompartment moves the lock to userID and returns the previous
// holder, who is notified. previous is empty when the compartment was free.
func (s *CheckWorkflowService) TakeOverCompartment(ctx context.Context, userID, checkID, compartmentID string) (string, error) {
	check, err := s.loadAuthorized(ctx, userID, checkID)
	if err != nil {
		return "", err
	}
	if !check.IsInProgress() {
		return "", fmt.Errorf("%w: check %s is %s", domain.ErrCheckNotInProgress, check.ID, check.Status())
	}

	previous, hadHolder := s.locks.TakeOver(checkID, compartmentID, userID)
	if err := s.confirmStillOpen(ctx, checkID, compartmentID, userID); err != nil {
		return "", err
	}
	if !hadHolder {
		return "", nil
	}

	s.logger.Info("compartment taken over",
		zap.String("check_id", checkID),
		zap.String("compartment_id", compartmentID),
		zap.String("user_id", userID),
		zap.String("previous_holder", previous),
	)
	if previous != userID {
		s.notify(ctx, domain.LockEvent{
			Type:          domain.LockEventTakenOver,
			CheckID:       checkID,
			CompartmentID: compartmentID,
			Recipient:     previous,
			ActorID:       userID,
			ActorName:     s.aggregator.DisplayName(ctx, userID),
			At:            s.now(),
		})
	}
	return previous, nil
}

// EndSession releases every lock the user holds. It is best-effort cleanup
// for a closed session and needs no authorization.
func (s *CheckWorkflowService) EndSession(ctx context.Context, userID string) []domain.CompartmentLock {
	released := s.locks.ReleaseAllForUser(userID)
	if len(released) > 0 {
		s.logger.Info("session locks released",
			zap.String("user_id", userID),
			zap.Int("count", len(released)),
		)
	}
	return released
}

func (s *CheckWorkflowService) GetProgress(ctx context.Context, userID, checkID string) (ProgressReport, error) {
	check, err := s.loadAuthorized(ctx, userID, checkID)
	if err != nil {
		return ProgressReport{}, err
	}

	compartments, err := s.store.ListCompartments(ctx, check.VehicleID)
	if err != nil {
		return ProgressReport{}, fmt.Errorf("list compartments: %w", err)
	}
	records, err := s.store.ListVerifications(ctx, check.ID)
	if err != nil {
		return ProgressReport{}, fmt.Errorf("list verifications: %w", err)
	}
	return s.aggregator.Aggregate(ctx, check, compartments, records, s.locks.LocksForCheck(check.ID)), nil
}

type closeFunc func(domain.InventoryCheck, time.Time) (domain.InventoryCheck, error)

// close moves a check to a terminal state and clears its locks.
func (s *CheckWorkflowService) close(ctx context.Context, userID, checkID, action string, transition closeFunc) (domain.InventoryCheck, error) {
	if _, err := s.loadAuthorized(ctx, userID, checkID); err != nil {
		return domain.InventoryCheck{}, err
	}

	var closed domain.InventoryCheck
	err := s.store.WithinTransaction(ctx, func(ctx context.Context, repo port.CheckRepository) error {
		current, err := repo.GetCheckForUpdate(ctx, checkID)
		if err != nil {
			return err
		}
		next, err := transition(*current, s.now())
		if err != nil {
			return err
		}
		if err := repo.SaveCheck(ctx, next); err != nil {
			return fmt.Errorf("save check: %w", err)
		}
		next.Version++
		closed = next
		return nil
	})
	if err != nil {
		s.logger.Debug("check "+action+" rejected",
			zap.String("check_id", checkID),
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return domain.InventoryCheck{}, err
	}

	cleared := s.locks.ClearForCheck(checkID)
	if s.guard != nil {
		if err := s.guard.ForgetCheck(ctx, checkID); err != nil {
			s.logger.Warn("failed to drop verification marks", zap.String("check_id", checkID), zap.Error(err))
		}
	}

	actorName := s.aggregator.DisplayName(ctx, userID)
	for _, lock := range cleared {
		if lock.UserID == userID {
			continue
		}
		s.notify(ctx, domain.LockEvent{
			Type:          domain.LockEventCheckClosed,
			CheckID:       checkID,
			CompartmentID: lock.CompartmentID,
			Recipient:     lock.UserID,
			ActorID:       userID,
			ActorName:     actorName,
			At:            s.now(),
		})
	}

	s.logger.Info("check closed",
		zap.String("check_id", checkID),
		zap.String("status", string(closed.Status())),
		zap.String("user_id", userID),
		zap.Int("locks_cleared", len(cleared)),
	)
	return closed, nil
}

func (s *CheckWorkflowService) loadAuthorized(ctx context.Context, userID, checkID string) (domain.InventoryCheck, error) {
	check, err := s.store.GetCheck(ctx, checkID)
	if err != nil {
		return domain.InventoryCheck{}, err
	}
	if err := s.access.RequireCheckAccess(ctx, userID, *check); err != nil {
		return domain.InventoryCheck{}, err
	}
	return *check, nil
}

// confirmStillOpen undoes a freshly installed lock when the check was closed
// concurrently, so that no lock outlives its check.
func (s *CheckWorkflowService) confirmStillOpen(ctx context.Context, checkID, compartmentID, userID string) error {
	check, err := s.store.GetCheck(ctx, checkID)
	if err == nil && check.IsInProgress() {
		return nil
	}
	s.locks.Release(checkID, compartmentID, userID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: check %s is %s", domain.ErrCheckNotInProgress, check.ID, check.Status())
}

// requireCompartment fails unless compartmentID belongs to the vehicle.
func (s *CheckWorkflowService) requireCompartment(ctx context.Context, vehicleID, compartmentID string) error {
	compartments, err := s.store.ListCompartments(ctx, vehicleID)
	if err != nil {
		return fmt.Errorf("list compartments: %w", err)
	}
	for _, c := range compartments {
		if c.ID == compartmentID {
			return nil
		}
	}
	return fmt.Errorf("%w: compartment %s is not on vehicle %s", domain.ErrInvalidRequest, compartmentID, vehicleID)
}

// requireNotLockedOut fails when another user holds the compartment.
func (s *CheckWorkflowService) requireNotLockedOut(ctx context.Context, checkID, compartmentID, userID string) error {
	if lock, ok := s.locks.Holder(checkID, compartmentID); ok && lock.UserID != userID {
		return s.lockedError(ctx, compartmentID, lock.UserID)
	}
	return nil
}

func (s *CheckWorkflowService) lockedError(ctx context.Context, compartmentID, holderID string) error {
	name := UnknownUserLabel
	if holderID != "" {
		name = s.aggregator.DisplayName(ctx, holderID)
	}
	return &domain.CompartmentLockedError{
		CompartmentID: compartmentID,
		HolderID:      holderID,
		HolderName:    name,
	}
}

func (s *CheckWorkflowService) notify(ctx context.Context, event domain.LockEvent) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, event)
}

// IsAuthorizationError reports whether err came from access control rather
// than from the workflow's own rules.
func IsAuthorizationError(err error) bool {
	return errors.Is(err, port.ErrAccessDenied)
}
