package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"github.com/rl1809/apparatus-check/internal/core/domain"
	"github.com/rl1809/apparatus-check/internal/port"
)

//go:embed schema.sql
var schemaSQL string

const errDuplicateEntry = 1062

var checkColumns = []string{
	"id", "vehicle_id", "station_id", "started_by", "started_at", "status",
	"total_items", "verified_items", "issues_found", "notes", "last_activity_at",
	"completed_at", "abandoned_at", "abandon_reason", "version",
}

var itemColumns = []string{
	"id", "check_id", "compartment_id", "equipment_unit_id", "consumable_stock_id",
	"status", "condition_notes", "quantity_found", "quantity_expected",
	"verified_by", "verified_at", "issue_id",
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

// EnsureSchema creates missing tables. Statements run one by one so the DSN
// does not need multiStatements.
func (m *MySQLAdapter) EnsureSchema(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func (m *MySQLAdapter) WithinTransaction(ctx context.Context, fn func(ctx context.Context, repo port.CheckRepository) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &mysqlTx{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) GetCheck(ctx context.Context, checkID string) (*domain.InventoryCheck, error) {
	return getCheck(ctx, m.db, checkID, false)
}

func (m *MySQLAdapter) ListVerifications(ctx context.Context, checkID string) ([]domain.InventoryCheckItem, error) {
	query, args, err := sq.Select(itemColumns...).
		From("inventory_check_items").
		Where(sq.Eq{"check_id": checkID}).
		OrderBy("verified_at", "id").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query verifications: %w", err)
	}
	defer rows.Close()

	var items []domain.InventoryCheckItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (m *MySQLAdapter) StationForVehicle(ctx context.Context, vehicleID string) (string, error) {
	query, args, err := sq.Select("station_id").From("vehicles").Where(sq.Eq{"id": vehicleID}).ToSql()
	if err != nil {
		return "", err
	}

	var stationID string
	err = m.db.QueryRowContext(ctx, query, args...).Scan(&stationID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", domain.ErrVehicleNotFound, vehicleID)
	}
	if err != nil {
		return "", fmt.Errorf("query vehicle: %w", err)
	}
	return stationID, nil
}

func (m *MySQLAdapter) ListCompartments(ctx context.Context, vehicleID string) ([]domain.Compartment, error) {
	if _, err := m.StationForVehicle(ctx, vehicleID); err != nil {
		return nil, err
	}

	query, args, err := sq.Select("id", "vehicle_id", "name", "expected_items").
		From("compartments").
		Where(sq.Eq{"vehicle_id": vehicleID}).
		OrderBy("name", "id").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query compartments: %w", err)
	}
	defer rows.Close()

	var out []domain.Compartment
	for rows.Next() {
		var c domain.Compartment
		if err := rows.Scan(&c.ID, &c.VehicleID, &c.Name, &c.ExpectedItems); err != nil {
			return nil, fmt.Errorf("scan compartment: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (m *MySQLAdapter) IsStationMember(ctx context.Context, userID, stationID string) (bool, error) {
	query, args, err := sq.Select("COUNT(*)").
		From("station_members").
		Where(sq.Eq{"user_id": userID, "station_id": stationID}).
		ToSql()
	if err != nil {
		return false, err
	}

	var n int
	if err := m.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return false, fmt.Errorf("query membership: %w", err)
	}
	return n > 0, nil
}

func (m *MySQLAdapter) DisplayNameOf(ctx context.Context, userID string) (string, bool, error) {
	query, args, err := sq.Select("display_name").From("users").Where(sq.Eq{"id": userID}).ToSql()
	if err != nil {
		return "", false, err
	}

	var name sql.NullString
	err = m.db.QueryRowContext(ctx, query, args...).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query user: %w", err)
	}
	return name.String, name.Valid && name.String != "", nil
}

type mysqlTx struct {
	q queryer
}

func (t *mysqlTx) FindInProgressCheck(ctx context.Context, vehicleID string) (*domain.InventoryCheck, error) {
	query, args, err := sq.Select("id").
		From("inventory_checks").
		Where(sq.Eq{"active_vehicle_id": vehicleID}).
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return nil, err
	}

	var id string
	err = t.q.QueryRowContext(ctx, query, args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query active check: %w", err)
	}
	return getCheck(ctx, t.q, id, false)
}

func (t *mysqlTx) GetCheckForUpdate(ctx context.Context, checkID string) (*domain.InventoryCheck, error) {
	return getCheck(ctx, t.q, checkID, true)
}

func (t *mysqlTx) CreateCheck(ctx context.Context, check domain.InventoryCheck) error {
	cols := checkRow(check)
	query, args, err := sq.Insert("inventory_checks").
		SetMap(cols).
		ToSql()
	if err != nil {
		return err
	}

	if _, err := t.q.ExecContext(ctx, query, args...); err != nil {
		if isDuplicate(err) {
			return fmt.Errorf("%w: vehicle %s", domain.ErrActiveCheckExists, check.VehicleID)
		}
		return fmt.Errorf("insert check: %w", err)
	}
	return nil
}

func (t *mysqlTx) SaveCheck(ctx context.Context, check domain.InventoryCheck) error {
	cols := checkRow(check)
	for _, immutable := range []string{"id", "vehicle_id", "station_id", "started_by", "started_at", "total_items", "version"} {
		delete(cols, immutable)
	}

	query, args, err := sq.Update("inventory_checks").
		SetMap(cols).
		Set("version", sq.Expr("version + 1")).
		Where(sq.Eq{"id": check.ID, "version": check.Version}).
		ToSql()
	if err != nil {
		return err
	}

	result, err := t.q.ExecContext(ctx, query, args...)
	if err != nil {
		if isDuplicate(err) {
			return fmt.Errorf("%w: vehicle %s", domain.ErrActiveCheckExists, check.VehicleID)
		}
		return fmt.Errorf("update check: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrConcurrentUpdate
	}
	return nil
}

func (t *mysqlTx) ExistsVerification(ctx context.Context, checkID string, target domain.Target) (bool, error) {
	query, args, err := sq.Select("COUNT(*)").
		From("inventory_check_items").
		Where(sq.Eq{"check_id": checkID, "target_key": target.Key()}).
		ToSql()
	if err != nil {
		return false, err
	}

	var n int
	if err := t.q.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return false, fmt.Errorf("query verification: %w", err)
	}
	return n > 0, nil
}

func (t *mysqlTx) SaveVerification(ctx context.Context, item domain.InventoryCheckItem) error {
	equipmentID, stockID := item.Target.Columns()
	query, args, err := sq.Insert("inventory_check_items").
		SetMap(map[string]any{
			"id":                  item.ID,
			"check_id":            item.CheckID,
			"compartment_id":      item.CompartmentID,
			"equipment_unit_id":   nullString(equipmentID),
			"consumable_stock_id": nullString(stockID),
			"target_key":          item.Target.Key(),
			"status":              string(item.Status),
			"condition_notes":     nullString(item.ConditionNotes),
			"quantity_found":      nullInt(item.QuantityFound),
			"quantity_expected":   nullInt(item.QuantityExpected),
			"verified_by":         item.VerifiedBy,
			"verified_at":         item.VerifiedAt,
			"issue_id":            nullString(item.IssueID),
		}).
		ToSql()
	if err != nil {
		return err
	}

	if _, err := t.q.ExecContext(ctx, query, args...); err != nil {
		if isDuplicate(err) {
			return fmt.Errorf("%w: %s", domain.ErrItemAlreadyVerified, item.Target.Key())
		}
		return fmt.Errorf("insert verification: %w", err)
	}
	return nil
}

func (t *mysqlTx) UpdateEquipmentStatus(ctx context.Context, unitID string, status domain.EquipmentStatus) error {
	// Units missing from the catalogue are created so the status is never lost.
	query, args, err := sq.Insert("equipment_units").
		Columns("id", "status", "updated_at").
		Values(unitID, string(status), sq.Expr("NOW(6)")).
		Suffix("ON DUPLICATE KEY UPDATE status = VALUES(status), updated_at = VALUES(updated_at)").
		ToSql()
	if err != nil {
		return err
	}

	if _, err := t.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update equipment status: %w", err)
	}
	return nil
}

func (t *mysqlTx) CreateIssue(ctx context.Context, issue domain.Issue) (string, error) {
	if issue.ID == "" {
		issue.ID = uuid.NewString()
	}
	equipmentID, stockID := issue.Target.Columns()

	query, args, err := sq.Insert("issues").
		SetMap(map[string]any{
			"id":                  issue.ID,
			"equipment_unit_id":   nullString(equipmentID),
			"consumable_stock_id": nullString(stockID),
			"vehicle_id":          issue.VehicleID,
			"station_id":          issue.StationID,
			"title":               issue.Title,
			"description":         issue.Description,
			"severity":            string(issue.Severity),
			"category":            string(issue.Category),
			"reported_by":         issue.ReportedBy,
			"reported_at":         issue.ReportedAt,
		}).
		ToSql()
	if err != nil {
		return "", err
	}

	if _, err := t.q.ExecContext(ctx, query, args...); err != nil {
		return "", fmt.Errorf("insert issue: %w", err)
	}
	return issue.ID, nil
}

func getCheck(ctx context.Context, q queryer, checkID string, forUpdate bool) (*domain.InventoryCheck, error) {
	b := sq.Select(checkColumns...).From("inventory_checks").Where(sq.Eq{"id": checkID})
	if forUpdate {
		b = b.Suffix("FOR UPDATE")
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}

	check, err := scanCheck(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrCheckNotFound, checkID)
	}
	if err != nil {
		return nil, err
	}
	return &check, nil
}

func checkRow(c domain.InventoryCheck) map[string]any {
	row := map[string]any{
		"id":               c.ID,
		"vehicle_id":       c.VehicleID,
		"station_id":       c.StationID,
		"started_by":       c.StartedBy,
		"started_at":       c.StartedAt,
		"status":           string(c.Status()),
		"total_items":      c.Progress.TotalItems,
		"verified_items":   c.Progress.Verified,
		"issues_found":     c.Progress.IssuesFound,
		"notes":            sql.NullString{},
		"last_activity_at": sql.NullTime{},
		"completed_at":     sql.NullTime{},
		"abandoned_at":     sql.NullTime{},
		"abandon_reason":   sql.NullString{},
		"version":          c.Version,
	}

	switch s := c.State.(type) {
	case domain.InProgress:
		row["notes"] = nullString(s.Notes)
		row["last_activity_at"] = nullTime(s.LastActivityAt)
	case domain.Completed:
		row["completed_at"] = nullTime(s.CompletedAt)
	case domain.Abandoned:
		row["abandoned_at"] = nullTime(s.AbandonedAt)
		row["abandon_reason"] = nullString(s.Reason)
	}
	return row
}

func scanCheck(row rowScanner) (domain.InventoryCheck, error) {
	var c domain.InventoryCheck
	var status string
	var notes, reason sql.NullString
	var lastActivity, completedAt, abandonedAt sql.NullTime
	err := row.Scan(
		&c.ID, &c.VehicleID, &c.StationID, &c.StartedBy, &c.StartedAt, &status,
		&c.Progress.TotalItems, &c.Progress.Verified, &c.Progress.IssuesFound,
		&notes, &lastActivity, &completedAt, &abandonedAt, &reason, &c.Version,
	)
	if err != nil {
		return c, err
	}

	switch domain.CheckStatus(status) {
	case domain.CheckStatusInProgress:
		c.State = domain.InProgress{LastActivityAt: lastActivity.Time, Notes: notes.String}
	case domain.CheckStatusCompleted:
		c.State = domain.Completed{CompletedAt: completedAt.Time}
	case domain.CheckStatusAbandoned:
		c.State = domain.Abandoned{AbandonedAt: abandonedAt.Time, Reason: reason.String}
	default:
		return c, fmt.Errorf("check %s has unknown status %q", c.ID, status)
	}
	return c, nil
}

func scanItem(row rowScanner) (domain.InventoryCheckItem, error) {
	var item domain.InventoryCheckItem
	var status string
	var equipmentID, stockID, notes, issueID sql.NullString
	var quantityFound, quantityExpected sql.NullInt64
	err := row.Scan(
		&item.ID, &item.CheckID, &item.CompartmentID, &equipmentID, &stockID,
		&status, &notes, &quantityFound, &quantityExpected,
		&item.VerifiedBy, &item.VerifiedAt, &issueID,
	)
	if err != nil {
		return item, fmt.Errorf("scan verification: %w", err)
	}

	target, err := domain.NewTarget(equipmentID.String, stockID.String)
	if err != nil {
		return item, fmt.Errorf("verification %s: %w", item.ID, err)
	}
	item.Target = target
	item.Status = domain.VerificationStatus(status)
	item.ConditionNotes = notes.String
	item.IssueID = issueID.String
	item.QuantityFound = intPtr(quantityFound)
	item.QuantityExpected = intPtr(quantityExpected)
	return item, nil
}

func isDuplicate(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == errDuplicateEntry
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}
