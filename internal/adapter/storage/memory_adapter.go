package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/rl1809/apparatus-check/internal/core/domain"
	"github.com/rl1809/apparatus-check/internal/port"
)

type vehicleRecord struct {
	stationID    string
	compartments []domain.Compartment
}

type memoryState struct {
	checks        map[string]domain.InventoryCheck
	verifications map[string][]domain.InventoryCheckItem // checkID -> records
	targets       map[string]map[string]bool             // checkID -> target keys
	equipment     map[string]domain.EquipmentStatus
	issues        map[string]domain.Issue
	vehicles      map[string]vehicleRecord
	members       map[string]map[string]bool // userID -> stationIDs
	names         map[string]string
}

func newMemoryState() memoryState {
	return memoryState{
		checks:        map[string]domain.InventoryCheck{},
		verifications: map[string][]domain.InventoryCheckItem{},
		targets:       map[string]map[string]bool{},
		equipment:     map[string]domain.EquipmentStatus{},
		issues:        map[string]domain.Issue{},
		vehicles:      map[string]vehicleRecord{},
		members:       map[string]map[string]bool{},
		names:         map[string]string{},
	}
}

// clone copies the mutable parts of the state touched by transactions.
func (s memoryState) clone() memoryState {
	out := s
	out.checks = make(map[string]domain.InventoryCheck, len(s.checks))
	for k, v := range s.checks {
		out.checks[k] = v
	}
	out.verifications = make(map[string][]domain.InventoryCheckItem, len(s.verifications))
	for k, v := range s.verifications {
		out.verifications[k] = append([]domain.InventoryCheckItem(nil), v...)
	}
	out.targets = make(map[string]map[string]bool, len(s.targets))
	for k, v := range s.targets {
		keys := make(map[string]bool, len(v))
		for key := range v {
			keys[key] = true
		}
		out.targets[k] = keys
	}
	out.equipment = make(map[string]domain.EquipmentStatus, len(s.equipment))
	for k, v := range s.equipment {
		out.equipment[k] = v
	}
	out.issues = make(map[string]domain.Issue, len(s.issues))
	for k, v := range s.issues {
		out.issues[k] = v
	}
	return out
}

// MemoryStore is a non-durable CheckStore. Transactions run one at a time
// against a copy of the state that replaces it only on success.
type MemoryStore struct {
	mu    sync.Mutex
	state memoryState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemoryState()}
}

// AddVehicle registers a vehicle of a station with its compartments.
func (m *MemoryStore) AddVehicle(vehicleID, stationID string, compartments ...domain.Compartment) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range compartments {
		compartments[i].VehicleID = vehicleID
	}
	m.state.vehicles[vehicleID] = vehicleRecord{stationID: stationID, compartments: compartments}
}

// AddEquipment registers an equipment unit with an available status.
func (m *MemoryStore) AddEquipment(unitIDs ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range unitIDs {
		m.state.equipment[id] = domain.EquipmentStatusAvailable
	}
}

func (m *MemoryStore) GrantStation(userID, stationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.members[userID] == nil {
		m.state.members[userID] = map[string]bool{}
	}
	m.state.members[userID][stationID] = true
}

func (m *MemoryStore) SetDisplayName(userID, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.names[userID] = name
}

func (m *MemoryStore) WithinTransaction(ctx context.Context, fn func(ctx context.Context, repo port.CheckRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	working := m.state.clone()
	if err := fn(ctx, &memoryTx{state: &working}); err != nil {
		return err
	}
	m.state = working
	return nil
}

func (m *MemoryStore) GetCheck(ctx context.Context, checkID string) (*domain.InventoryCheck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	check, ok := m.state.checks[checkID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrCheckNotFound, checkID)
	}
	return &check, nil
}

func (m *MemoryStore) ListVerifications(ctx context.Context, checkID string) ([]domain.InventoryCheckItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]domain.InventoryCheckItem(nil), m.state.verifications[checkID]...), nil
}

func (m *MemoryStore) StationForVehicle(ctx context.Context, vehicleID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.state.vehicles[vehicleID]
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrVehicleNotFound, vehicleID)
	}
	return v.stationID, nil
}

func (m *MemoryStore) ListCompartments(ctx context.Context, vehicleID string) ([]domain.Compartment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.state.vehicles[vehicleID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrVehicleNotFound, vehicleID)
	}
	return append([]domain.Compartment(nil), v.compartments...), nil
}

func (m *MemoryStore) IsStationMember(ctx context.Context, userID, stationID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.members[userID][stationID], nil
}

func (m *MemoryStore) DisplayNameOf(ctx context.Context, userID string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	name, ok := m.state.names[userID]
	return name, ok, nil
}

func (m *MemoryStore) EquipmentStatus(unitID string) (domain.EquipmentStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status, ok := m.state.equipment[unitID]
	return status, ok
}

// Issues returns all stored issues ordered by report time.
func (m *MemoryStore) Issues() []domain.Issue {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.Issue, 0, len(m.state.issues))
	for _, issue := range m.state.issues {
		out = append(out, issue)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ReportedAt.Equal(out[j].ReportedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ReportedAt.Before(out[j].ReportedAt)
	})
	return out
}

type memoryTx struct {
	state *memoryState
}

func (t *memoryTx) FindInProgressCheck(ctx context.Context, vehicleID string) (*domain.InventoryCheck, error) {
	for _, check := range t.state.checks {
		if check.VehicleID == vehicleID && check.IsInProgress() {
			c := check
			return &c, nil
		}
	}
	return nil, nil
}

func (t *memoryTx) GetCheckForUpdate(ctx context.Context, checkID string) (*domain.InventoryCheck, error) {
	check, ok := t.state.checks[checkID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrCheckNotFound, checkID)
	}
	return &check, nil
}

func (t *memoryTx) CreateCheck(ctx context.Context, check domain.InventoryCheck) error {
	if existing, _ := t.FindInProgressCheck(ctx, check.VehicleID); existing != nil {
		return fmt.Errorf("%w: %s", domain.ErrActiveCheckExists, existing.ID)
	}
	if _, ok := t.state.checks[check.ID]; ok {
		return fmt.Errorf("check %s already exists", check.ID)
	}
	t.state.checks[check.ID] = check
	return nil
}

func (t *memoryTx) SaveCheck(ctx context.Context, check domain.InventoryCheck) error {
	stored, ok := t.state.checks[check.ID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrCheckNotFound, check.ID)
	}
	if stored.Version != check.Version {
		return domain.ErrConcurrentUpdate
	}
	check.Version++
	t.state.checks[check.ID] = check
	return nil
}

func (t *memoryTx) ExistsVerification(ctx context.Context, checkID string, target domain.Target) (bool, error) {
	return t.state.targets[checkID][target.Key()], nil
}

func (t *memoryTx) SaveVerification(ctx context.Context, item domain.InventoryCheckItem) error {
	keys := t.state.targets[item.CheckID]
	if keys == nil {
		keys = map[string]bool{}
		t.state.targets[item.CheckID] = keys
	}
	if keys[item.Target.Key()] {
		return fmt.Errorf("%w: %s", domain.ErrItemAlreadyVerified, item.Target.Key())
	}
	keys[item.Target.Key()] = true
	t.state.verifications[item.CheckID] = append(t.state.verifications[item.CheckID], item)
	return nil
}

func (t *memoryTx) UpdateEquipmentStatus(ctx context.Context, unitID string, status domain.EquipmentStatus) error {
	t.state.equipment[unitID] = status
	return nil
}

func (t *memoryTx) CreateIssue(ctx context.Context, issue domain.Issue) (string, error) {
	if issue.ID == "" {
		issue.ID = uuid.NewString()
	}
	t.state.issues[issue.ID] = issue
	return issue.ID, nil
}
