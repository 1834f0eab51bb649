package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rl1809/apparatus-check/internal/core/domain"
)

// Mock CheckRepository recording every write
type mockCheckRepo struct {
	mu            sync.Mutex
	checks        map[string]domain.InventoryCheck
	verified      map[string]bool
	items         []domain.InventoryCheckItem
	issues        []domain.Issue
	equipment     map[string]domain.EquipmentStatus
	existsCalls   int
	saveCheckErr  error
	createIssueID string
}

func newMockCheckRepo(checks ...domain.InventoryCheck) *mockCheckRepo {
	m := &mockCheckRepo{
		checks:        make(map[string]domain.InventoryCheck),
		verified:      make(map[string]bool),
		equipment:     make(map[string]domain.EquipmentStatus),
		createIssueID: "issue-1",
	}
	for _, c := range checks {
		m.checks[c.ID] = c
	}
	return m
}

func (m *mockCheckRepo) FindInProgressCheck(ctx context.Context, vehicleID string) (*domain.InventoryCheck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.checks {
		if c.VehicleID == vehicleID && c.IsInProgress() {
			return &c, nil
		}
	}
	return nil, nil
}

func (m *mockCheckRepo) GetCheckForUpdate(ctx context.Context, checkID string) (*domain.InventoryCheck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.checks[checkID]
	if !ok {
		return nil, domain.ErrCheckNotFound
	}
	return &c, nil
}

func (m *mockCheckRepo) CreateCheck(ctx context.Context, check domain.InventoryCheck) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[check.ID] = check
	return nil
}

func (m *mockCheckRepo) SaveCheck(ctx context.Context, check domain.InventoryCheck) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveCheckErr != nil {
		return m.saveCheckErr
	}
	check.Version++
	m.checks[check.ID] = check
	return nil
}

func (m *mockCheckRepo) ExistsVerification(ctx context.Context, checkID string, target domain.Target) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.existsCalls++
	return m.verified[checkID+"|"+target.Key()], nil
}

func (m *mockCheckRepo) SaveVerification(ctx context.Context, item domain.InventoryCheckItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := item.CheckID + "|" + item.Target.Key()
	if m.verified[key] {
		return domain.ErrItemAlreadyVerified
	}
	m.verified[key] = true
	m.items = append(m.items, item)
	return nil
}

func (m *mockCheckRepo) UpdateEquipmentStatus(ctx context.Context, unitID string, status domain.EquipmentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.equipment[unitID] = status
	return nil
}

func (m *mockCheckRepo) CreateIssue(ctx context.Context, issue domain.Issue) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.issues = append(m.issues, issue)
	return m.createIssueID, nil
}

func (m *mockCheckRepo) writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items) + len(m.issues) + len(m.equipment)
}

// Mock VerificationGuard
type mockGuard struct {
	mu     sync.Mutex
	marks  map[string]bool
	err    error
	marked int
}

func newMockGuard() *mockGuard {
	return &mockGuard{marks: make(map[string]bool)}
}

func (g *mockGuard) IsVerified(ctx context.Context, checkID, targetKey string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return false, g.err
	}
	return g.marks[checkID+"|"+targetKey], nil
}

func (g *mockGuard) MarkVerified(ctx context.Context, checkID, targetKey string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return g.err
	}
	g.marks[checkID+"|"+targetKey] = true
	g.marked++
	return nil
}

func (g *mockGuard) ForgetCheck(ctx context.Context, checkID string) error {
	return nil
}

func intRef(v int) *int { return &v }

func newTestRecorder(guard *mockGuard) *VerificationRecorder {
	if guard == nil {
		return NewVerificationRecorder(NewIssueEscalator(), nil, zap.NewNop())
	}
	return NewVerificationRecorder(NewIssueEscalator(), guard, zap.NewNop())
}

func testCheck(total int) domain.InventoryCheck {
	return domain.StartCheck("check-1", "engine-1", "station-1", "user-a", time.Now(), total, "")
}

func TestQuantityDiscrepancy(t *testing.T) {
	tests := []struct {
		expected, found int
		want            float64
		ok              bool
	}{
		{10, 10, 0, true},
		{10, 8, 0.2, true},
		{10, 7, 0.3, true},
		{10, 13, 0.3, true},
		{10, 0, 1, true},
		{0, 5, 0, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_%d", tt.expected, tt.found), func(t *testing.T) {
			got, ok := QuantityDiscrepancy(tt.expected, tt.found)
			assert.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestRecord_PresentItem(t *testing.T) {
	repo := newMockCheckRepo(testCheck(3))
	guard := newMockGuard()
	r := newTestRecorder(guard)

	item, next, err := r.Record(context.Background(), repo, VerifyRequest{
		CheckID:         "check-1",
		CompartmentID:   "cab",
		EquipmentUnitID: "scba-1",
		Status:          domain.VerificationPresent,
	}, "user-b", time.Now())
	require.NoError(t, err)

	assert.NotEmpty(t, item.ID)
	assert.Equal(t, "user-b", item.VerifiedBy)
	assert.False(t, item.HasIssue())
	assert.Equal(t, domain.CheckProgress{TotalItems: 3, Verified: 1}, next.Progress)
	assert.Equal(t, 1, next.Version)
	assert.Empty(t, repo.issues)
	assert.Empty(t, repo.equipment)

	// guard is only fed after commit
	assert.Equal(t, 0, guard.marked)
	r.MarkRecorded(context.Background(), item)
	assert.Equal(t, 1, guard.marked)
}

func TestRecord_MissingEquipmentOpensIssue(t *testing.T) {
	repo := newMockCheckRepo(testCheck(3))
	r := newTestRecorder(nil)

	item, next, err := r.Record(context.Background(), repo, VerifyRequest{
		CheckID:         "check-1",
		CompartmentID:   "cab",
		EquipmentUnitID: "scba-1",
		Status:          domain.VerificationMissing,
		ConditionNotes:  "not on truck",
	}, "user-b", time.Now())
	require.NoError(t, err)

	assert.Equal(t, "issue-1", item.IssueID)
	assert.Equal(t, domain.CheckProgress{TotalItems: 3, Verified: 1, IssuesFound: 1}, next.Progress)
	require.Len(t, repo.issues, 1)
	assert.Equal(t, domain.IssueSeverityHigh, repo.issues[0].Severity)
	assert.Equal(t, "not on truck", repo.issues[0].Description)
	assert.Equal(t, domain.EquipmentStatusMissing, repo.equipment["scba-1"])
}

func TestRecord_ExpiredConsumableLeavesEquipmentAlone(t *testing.T) {
	repo := newMockCheckRepo(testCheck(3))
	r := newTestRecorder(nil)

	item, _, err := r.Record(context.Background(), repo, VerifyRequest{
		CheckID:           "check-1",
		CompartmentID:     "cab",
		ConsumableStockID: "saline",
		Status:            domain.VerificationExpired,
	}, "user-b", time.Now())
	require.NoError(t, err)

	assert.True(t, item.HasIssue())
	require.Len(t, repo.issues, 1)
	assert.Equal(t, domain.IssueCategoryExpired, repo.issues[0].Category)
	assert.Empty(t, repo.equipment)
}

func TestRecord_Rejections(t *testing.T) {
	closed, err := testCheck(3).Abandon("", time.Now())
	require.NoError(t, err)
	full := testCheck(1)
	full.Progress.Verified = 1

	tests := []struct {
		name    string
		checks  []domain.InventoryCheck
		req     VerifyRequest
		wantErr error
	}{
		{
			name:    "unknown check",
			req:     VerifyRequest{CheckID: "check-1", CompartmentID: "cab", EquipmentUnitID: "scba-1", Status: domain.VerificationPresent},
			wantErr: domain.ErrCheckNotInProgress,
		},
		{
			name:    "closed check",
			checks:  []domain.InventoryCheck{closed},
			req:     VerifyRequest{CheckID: "check-1", CompartmentID: "cab", EquipmentUnitID: "scba-1", Status: domain.VerificationPresent},
			wantErr: domain.ErrCheckNotInProgress,
		},
		{
			name:    "no target",
			checks:  []domain.InventoryCheck{testCheck(3)},
			req:     VerifyRequest{CheckID: "check-1", CompartmentID: "cab", Status: domain.VerificationPresent},
			wantErr: domain.ErrInvalidTarget,
		},
		{
			name:    "both targets",
			checks:  []domain.InventoryCheck{testCheck(3)},
			req:     VerifyRequest{CheckID: "check-1", CompartmentID: "cab", EquipmentUnitID: "scba-1", ConsumableStockID: "gauze", Status: domain.VerificationPresent},
			wantErr: domain.ErrInvalidTarget,
		},
		{
			name:    "every item already verified",
			checks:  []domain.InventoryCheck{full},
			req:     VerifyRequest{CheckID: "check-1", CompartmentID: "cab", EquipmentUnitID: "scba-9", Status: domain.VerificationMissing},
			wantErr: domain.ErrInvalidRequest,
		},
		{
			name:   "quantities on equipment",
			checks: []domain.InventoryCheck{testCheck(3)},
			req: VerifyRequest{
				CheckID: "check-1", CompartmentID: "cab", EquipmentUnitID: "scba-1",
				Status: domain.VerificationMissing, QuantityExpected: intRef(10), QuantityFound: intRef(0),
			},
			wantErr: domain.ErrInvalidRequest,
		},
		{
			name:   "discrepancy over limit without notes",
			checks: []domain.InventoryCheck{testCheck(3)},
			req: VerifyRequest{
				CheckID: "check-1", CompartmentID: "cab", ConsumableStockID: "gauze",
				Status: domain.VerificationMissing, QuantityExpected: intRef(10), QuantityFound: intRef(7),
			},
			wantErr: domain.ErrQuantityDiscrepancyRequiresNotes,
		},
		{
			name:   "discrepancy with blank notes",
			checks: []domain.InventoryCheck{testCheck(3)},
			req: VerifyRequest{
				CheckID: "check-1", CompartmentID: "cab", ConsumableStockID: "gauze",
				Status: domain.VerificationLowQuantity, QuantityExpected: intRef(10), QuantityFound: intRef(2), ConditionNotes: "   ",
			},
			wantErr: domain.ErrQuantityDiscrepancyRequiresNotes,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMockCheckRepo(tt.checks...)
			r := newTestRecorder(nil)

			_, _, err := r.Record(context.Background(), repo, tt.req, "user-b", time.Now())
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, 0, repo.writes(), "rejected verification must not write")
		})
	}
}

func TestRecord_DiscrepancyAllowed(t *testing.T) {
	tests := []struct {
		name     string
		expected *int
		found    *int
		notes    string
	}{
		{name: "exactly twenty percent", expected: intRef(10), found: intRef(8)},
		{name: "over limit with notes", expected: intRef(10), found: intRef(7), notes: "used during response"},
		{name: "nothing expected", expected: intRef(0), found: intRef(4)},
		{name: "no quantities", expected: nil, found: nil},
		{name: "only found", expected: nil, found: intRef(1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMockCheckRepo(testCheck(3))
			r := newTestRecorder(nil)

			item, _, err := r.Record(context.Background(), repo, VerifyRequest{
				CheckID:           "check-1",
				CompartmentID:     "cab",
				ConsumableStockID: "gauze",
				Status:            domain.VerificationLowQuantity,
				QuantityExpected:  tt.expected,
				QuantityFound:     tt.found,
				ConditionNotes:    tt.notes,
			}, "user-b", time.Now())
			require.NoError(t, err)
			assert.Equal(t, tt.notes, item.ConditionNotes)
			assert.Len(t, repo.items, 1)
		})
	}
}

func TestRecord_DuplicateTarget(t *testing.T) {
	repo := newMockCheckRepo(testCheck(3))
	r := newTestRecorder(nil)
	req := VerifyRequest{CheckID: "check-1", CompartmentID: "cab", EquipmentUnitID: "scba-1", Status: domain.VerificationPresent}

	_, _, err := r.Record(context.Background(), repo, req, "user-b", time.Now())
	require.NoError(t, err)

	_, _, err = r.Record(context.Background(), repo, req, "user-c", time.Now())
	assert.ErrorIs(t, err, domain.ErrItemAlreadyVerified)
	assert.Len(t, repo.items, 1)
	assert.Equal(t, 1, repo.checks["check-1"].Progress.Verified)
}

func TestRecord_GuardShortCircuits(t *testing.T) {
	repo := newMockCheckRepo(testCheck(3))
	guard := newMockGuard()
	guard.marks["check-1|"+domain.EquipmentTarget("scba-1").Key()] = true
	r := newTestRecorder(guard)

	_, _, err := r.Record(context.Background(), repo, VerifyRequest{
		CheckID: "check-1", CompartmentID: "cab", EquipmentUnitID: "scba-1", Status: domain.VerificationPresent,
	}, "user-b", time.Now())

	assert.ErrorIs(t, err, domain.ErrItemAlreadyVerified)
	assert.Equal(t, 0, repo.existsCalls)
}

func TestRecord_GuardFailureFallsBackToStorage(t *testing.T) {
	repo := newMockCheckRepo(testCheck(3))
	guard := newMockGuard()
	guard.err = errors.New("redis unavailable")
	r := newTestRecorder(guard)

	item, _, err := r.Record(context.Background(), repo, VerifyRequest{
		CheckID: "check-1", CompartmentID: "cab", EquipmentUnitID: "scba-1", Status: domain.VerificationPresent,
	}, "user-b", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, repo.existsCalls)

	// mark failures are logged and swallowed
	r.MarkRecorded(context.Background(), item)
	assert.Equal(t, 0, guard.marked)
}

func TestRecord_SaveCheckFailure(t *testing.T) {
	repo := newMockCheckRepo(testCheck(3))
	repo.saveCheckErr = domain.ErrConcurrentUpdate
	r := newTestRecorder(nil)

	_, _, err := r.Record(context.Background(), repo, VerifyRequest{
		CheckID: "check-1", CompartmentID: "cab", EquipmentUnitID: "scba-1", Status: domain.VerificationPresent,
	}, "user-b", time.Now())
	assert.ErrorIs(t, err, domain.ErrConcurrentUpdate)
}
