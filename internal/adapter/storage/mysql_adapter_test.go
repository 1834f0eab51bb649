package storage

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/apparatus-check/internal/core/domain"
	"github.com/rl1809/apparatus-check/internal/port"
)

func getMySQLDB(t *testing.T) *sql.DB {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = "root:root@tcp(localhost:3306)/apparatus_check?parseTime=true"
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}

	if err := db.Ping(); err != nil {
		t.Skipf("MySQL not available: %v", err)
	}

	return db
}

// seedVehicle inserts a fresh vehicle with one compartment and one equipment
// unit and returns their ids.
func seedVehicle(t *testing.T, db *sql.DB) (vehicleID, unitID string) {
	t.Helper()
	ctx := context.Background()
	vehicleID = "test-vehicle-" + uuid.NewString()[:8]
	unitID = "test-unit-" + uuid.NewString()[:8]

	_, err := db.ExecContext(ctx, `INSERT INTO vehicles (id, station_id, name) VALUES (?, 'test-station', 'Engine')`, vehicleID)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO compartments (id, vehicle_id, name, expected_items) VALUES (?, ?, 'Cab', 2)`, vehicleID+"-cab", vehicleID)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO equipment_units (id, compartment_id) VALUES (?, ?)`, unitID, vehicleID+"-cab")
	require.NoError(t, err)

	t.Cleanup(func() {
		db.ExecContext(ctx, `DELETE FROM inventory_check_items WHERE check_id IN (SELECT id FROM inventory_checks WHERE vehicle_id = ?)`, vehicleID)
		db.ExecContext(ctx, `DELETE FROM inventory_checks WHERE vehicle_id = ?`, vehicleID)
		db.ExecContext(ctx, `DELETE FROM issues WHERE vehicle_id = ?`, vehicleID)
		db.ExecContext(ctx, `DELETE FROM equipment_units WHERE id = ?`, unitID)
		db.ExecContext(ctx, `DELETE FROM compartments WHERE vehicle_id = ?`, vehicleID)
		db.ExecContext(ctx, `DELETE FROM vehicles WHERE id = ?`, vehicleID)
	})
	return vehicleID, unitID
}

func newMySQLAdapter(t *testing.T) (*MySQLAdapter, *sql.DB) {
	db := getMySQLDB(t)
	t.Cleanup(func() { db.Close() })

	adapter := NewMySQLAdapter(db)
	require.NoError(t, adapter.EnsureSchema(context.Background()))
	return adapter, db
}

func TestMySQLAdapter_CheckRoundTrip(t *testing.T) {
	adapter, db := newMySQLAdapter(t)
	ctx := context.Background()
	vehicleID, _ := seedVehicle(t, db)

	startedAt := time.Now().UTC().Truncate(time.Microsecond)
	check := domain.StartCheck(uuid.NewString(), vehicleID, "test-station", "user-a", startedAt, 2, "morning shift")
	err := adapter.WithinTransaction(ctx, func(ctx context.Context, repo port.CheckRepository) error {
		return repo.CreateCheck(ctx, check)
	})
	require.NoError(t, err)

	got, err := adapter.GetCheck(ctx, check.ID)
	require.NoError(t, err)
	assert.Equal(t, vehicleID, got.VehicleID)
	assert.Equal(t, domain.CheckStatusInProgress, got.Status())
	assert.Equal(t, 2, got.Progress.TotalItems)
	assert.Equal(t, "morning shift", got.State.(domain.InProgress).Notes)
	assert.Equal(t, 0, got.Version)
}

func TestMySQLAdapter_CreateCheck_ActiveCheckExists(t *testing.T) {
	adapter, db := newMySQLAdapter(t)
	ctx := context.Background()
	vehicleID, _ := seedVehicle(t, db)

	first := domain.StartCheck(uuid.NewString(), vehicleID, "test-station", "user-a", time.Now(), 2, "")
	require.NoError(t, adapter.WithinTransaction(ctx, func(ctx context.Context, repo port.CheckRepository) error {
		return repo.CreateCheck(ctx, first)
	}))

	second := domain.StartCheck(uuid.NewString(), vehicleID, "test-station", "user-b", time.Now(), 2, "")
	err := adapter.WithinTransaction(ctx, func(ctx context.Context, repo port.CheckRepository) error {
		return repo.CreateCheck(ctx, second)
	})
	assert.ErrorIs(t, err, domain.ErrActiveCheckExists)
}

func TestMySQLAdapter_SaveVerification_DuplicateTarget(t *testing.T) {
	adapter, db := newMySQLAdapter(t)
	ctx := context.Background()
	vehicleID, unitID := seedVehicle(t, db)

	check := domain.StartCheck(uuid.NewString(), vehicleID, "test-station", "user-a", time.Now(), 2, "")
	require.NoError(t, adapter.WithinTransaction(ctx, func(ctx context.Context, repo port.CheckRepository) error {
		return repo.CreateCheck(ctx, check)
	}))

	item := domain.InventoryCheckItem{
		ID:            uuid.NewString(),
		CheckID:       check.ID,
		CompartmentID: vehicleID + "-cab",
		Target:        domain.EquipmentTarget(unitID),
		Status:        domain.VerificationPresent,
		VerifiedBy:    "user-a",
		VerifiedAt:    time.Now(),
	}
	require.NoError(t, adapter.WithinTransaction(ctx, func(ctx context.Context, repo port.CheckRepository) error {
		return repo.SaveVerification(ctx, item)
	}))

	item.ID = uuid.NewString()
	err := adapter.WithinTransaction(ctx, func(ctx context.Context, repo port.CheckRepository) error {
		return repo.SaveVerification(ctx, item)
	})
	assert.ErrorIs(t, err, domain.ErrItemAlreadyVerified)

	records, err := adapter.ListVerifications(ctx, check.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, domain.EquipmentTarget(unitID), records[0].Target)
}

func TestMySQLAdapter_SaveCheck_OptimisticLock(t *testing.T) {
	adapter, db := newMySQLAdapter(t)
	ctx := context.Background()
	vehicleID, _ := seedVehicle(t, db)

	check := domain.StartCheck(uuid.NewString(), vehicleID, "test-station", "user-a", time.Now(), 2, "")
	require.NoError(t, adapter.WithinTransaction(ctx, func(ctx context.Context, repo port.CheckRepository) error {
		return repo.CreateCheck(ctx, check)
	}))

	next, err := check.WithItemVerified(true, time.Now())
	require.NoError(t, err)
	require.NoError(t, adapter.WithinTransaction(ctx, func(ctx context.Context, repo port.CheckRepository) error {
		return repo.SaveCheck(ctx, next)
	}))

	err = adapter.WithinTransaction(ctx, func(ctx context.Context, repo port.CheckRepository) error {
		return repo.SaveCheck(ctx, next)
	})
	assert.ErrorIs(t, err, domain.ErrConcurrentUpdate)

	got, err := adapter.GetCheck(ctx, check.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Version)
	assert.Equal(t, 1, got.Progress.Verified)
	assert.Equal(t, 1, got.Progress.IssuesFound)
}

func TestMySQLAdapter_RollbackOnError(t *testing.T) {
	adapter, db := newMySQLAdapter(t)
	ctx := context.Background()
	vehicleID, unitID := seedVehicle(t, db)

	err := adapter.WithinTransaction(ctx, func(ctx context.Context, repo port.CheckRepository) error {
		require.NoError(t, repo.UpdateEquipmentStatus(ctx, unitID, domain.EquipmentStatusMissing))
		return domain.ErrIncompleteCheck
	})
	require.ErrorIs(t, err, domain.ErrIncompleteCheck)

	var status string
	require.NoError(t, db.QueryRowContext(ctx, `SELECT status FROM equipment_units WHERE id = ?`, unitID).Scan(&status))
	assert.Equal(t, string(domain.EquipmentStatusAvailable), status)

	_, err = adapter.StationForVehicle(ctx, vehicleID+"-missing")
	assert.ErrorIs(t, err, domain.ErrVehicleNotFound)
}

func TestMySQLAdapter_UpdateEquipmentStatus_Upsert(t *testing.T) {
	adapter, db := newMySQLAdapter(t)
	ctx := context.Background()
	_, unitID := seedVehicle(t, db)
	unknownID := "test-unit-" + uuid.NewString()[:8]
	t.Cleanup(func() { db.ExecContext(ctx, `DELETE FROM equipment_units WHERE id = ?`, unknownID) })

	err := adapter.WithinTransaction(ctx, func(ctx context.Context, repo port.CheckRepository) error {
		if err := repo.UpdateEquipmentStatus(ctx, unitID, domain.EquipmentStatusDamaged); err != nil {
			return err
		}
		return repo.UpdateEquipmentStatus(ctx, unknownID, domain.EquipmentStatusMissing)
	})
	require.NoError(t, err)

	for id, want := range map[string]domain.EquipmentStatus{
		unitID:    domain.EquipmentStatusDamaged,
		unknownID: domain.EquipmentStatusMissing,
	} {
		var status string
		require.NoError(t, db.QueryRowContext(ctx, `SELECT status FROM equipment_units WHERE id = ?`, id).Scan(&status))
		assert.Equal(t, string(want), status, id)
	}
}
