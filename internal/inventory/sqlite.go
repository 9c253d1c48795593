package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/HerbHall/printfleet/pkg/models"
	"github.com/HerbHall/printfleet/pkg/plugin"
	"github.com/google/uuid"
)

// Compile-time interface guard.
var _ Manager = (*SQLiteRegistry)(nil)

// SQLiteRegistry implements Manager on the shared SQLite store.
type SQLiteRegistry struct {
	db *sql.DB
}

// NewSQLiteRegistry runs the inventory migrations and returns a registry.
// Calling it more than once on the same store is safe.
func NewSQLiteRegistry(ctx context.Context, store plugin.Store) (*SQLiteRegistry, error) {
	if err := store.Migrate(ctx, "inventory", migrations); err != nil {
		return nil, fmt.Errorf("inventory migrations: %w", err)
	}
	return &SQLiteRegistry{db: store.DB()}, nil
}

const deviceColumns = `id, name, address, kind, role, model, branch, location,
	state, last_checked, created_at`

func (r *SQLiteRegistry) Create(ctx context.Context, d *models.Device) error {
	if err := validate(d); err != nil {
		return err
	}
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.State == "" {
		d.State = models.StateUnknown
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO inventory_devices (`+deviceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Name, d.Address, string(d.Kind), string(d.Role), d.Model, d.Branch, d.Location,
		string(d.State), nullTime(d.LastChecked), d.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: inventory_devices.address") {
			return fmt.Errorf("%w: %s", ErrDuplicateIP, d.Address)
		}
		return fmt.Errorf("insert device %q: %w", d.Name, err)
	}
	return nil
}

func validate(d *models.Device) error {
	switch {
	case d.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalid)
	case d.Address == "":
		return fmt.Errorf("%w: address is required", ErrInvalid)
	case !d.Kind.Valid():
		return fmt.Errorf("%w: unknown kind %q", ErrInvalid, d.Kind)
	case !d.Role.Valid():
		return fmt.Errorf("%w: unknown role %q", ErrInvalid, d.Role)
	case d.Role != "" && !d.Kind.IsPrinter():
		return fmt.Errorf("%w: role applies to printers only", ErrInvalid)
	}
	return nil
}

func (r *SQLiteRegistry) GetByID(ctx context.Context, id string) (*models.Device, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+deviceColumns+` FROM inventory_devices WHERE id = ?`, id)
	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get device %q: %w", id, err)
	}
	return d, nil
}

func (r *SQLiteRegistry) GetAll(ctx context.Context, kind models.DeviceKind) ([]models.Device, error) {
	return r.query(ctx,
		`SELECT `+deviceColumns+` FROM inventory_devices WHERE kind = ? ORDER BY name`, string(kind))
}

func (r *SQLiteRegistry) List(ctx context.Context) ([]models.Device, error) {
	return r.query(ctx,
		`SELECT `+deviceColumns+` FROM inventory_devices ORDER BY kind, name`)
}

func (r *SQLiteRegistry) query(ctx context.Context, q string, args ...any) ([]models.Device, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var devices []models.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan device row: %w", err)
		}
		devices = append(devices, *d)
	}
	return devices, rows.Err()
}

func (r *SQLiteRegistry) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM inventory_devices WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete device %q: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteRegistry) UpsertConnectivity(ctx context.Context, id string, state models.ConnectivityState, ts time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE inventory_devices SET state = ?, last_checked = ? WHERE id = ?`,
		string(state), ts.UTC(), id)
	if err != nil {
		return fmt.Errorf("update connectivity of %q: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const consumableColumns = `device_id, level, previous_level, serial, page_counter,
	replacement_count, last_change_at, reserve_stock, last_alert_at, updated_at`

func (r *SQLiteRegistry) GetConsumable(ctx context.Context, id string) (models.ConsumableReading, error) {
	var (
		c                     models.ConsumableReading
		level, prev           sql.NullInt64
		lastChange, lastAlert sql.NullTime
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT `+consumableColumns+` FROM inventory_consumables WHERE device_id = ?`, id,
	).Scan(&c.DeviceID, &level, &prev, &c.Serial, &c.PageCounter,
		&c.ReplacementCount, &lastChange, &c.ReserveStock, &lastAlert, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		if _, gerr := r.GetByID(ctx, id); gerr != nil {
			return models.ConsumableReading{}, gerr
		}
		return models.ConsumableReading{DeviceID: id}, nil
	}
	if err != nil {
		return models.ConsumableReading{}, fmt.Errorf("get consumable of %q: %w", id, err)
	}

	if level.Valid {
		c.Level = models.IntPtr(int(level.Int64))
	}
	if prev.Valid {
		c.PreviousLevel = models.IntPtr(int(prev.Int64))
	}
	if lastChange.Valid {
		t := lastChange.Time
		c.LastChangeAt = &t
	}
	if lastAlert.Valid {
		t := lastAlert.Time
		c.LastAlertAt = &t
	}
	return c, nil
}

func (r *SQLiteRegistry) InitConsumable(ctx context.Context, id string, level *int, serial string, counter int64, reserve int) error {
	if reserve < 0 {
		reserve = 0
	}
	var lvl any
	if level != nil {
		lvl = *level
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO inventory_consumables (device_id, level, serial, page_counter, reserve_stock, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (device_id) DO NOTHING`,
		id, lvl, serial, counter, reserve, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("init consumable of %q: %w", id, err)
	}
	return nil
}

// UpsertConsumable shifts the stored level into previous_level and applies
// u in one statement. Reserve stock never drops below zero.
func (r *SQLiteRegistry) UpsertConsumable(ctx context.Context, id string, u models.ConsumableUpdate) error {
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}

	var lastChange any
	if u.LastChangeAt != nil {
		lastChange = u.LastChangeAt.UTC()
	}
	now := time.Now().UTC()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO inventory_consumables
			(device_id, level, serial, page_counter, replacement_count, last_change_at, reserve_stock, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, MAX(0, ?), ?)
		ON CONFLICT (device_id) DO UPDATE SET
			previous_level    = inventory_consumables.level,
			level             = excluded.level,
			serial            = excluded.serial,
			page_counter      = excluded.page_counter,
			replacement_count = inventory_consumables.replacement_count + ?,
			last_change_at    = COALESCE(?, inventory_consumables.last_change_at),
			reserve_stock     = MAX(0, inventory_consumables.reserve_stock + ?),
			updated_at        = excluded.updated_at`,
		id, u.Level, u.Serial, u.PageCounter, u.ReplacementIncrement, lastChange, u.ReserveDelta, now,
		u.ReplacementIncrement, lastChange, u.ReserveDelta,
	)
	if err != nil {
		return fmt.Errorf("upsert consumable of %q: %w", id, err)
	}
	return nil
}

func (r *SQLiteRegistry) StampAlert(ctx context.Context, id string, ts time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE inventory_consumables SET last_alert_at = ? WHERE device_id = ?`, ts.UTC(), id)
	if err != nil {
		return fmt.Errorf("stamp alert of %q: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDevice(s scanner) (*models.Device, error) {
	var (
		d                 models.Device
		kind, role, state string
		lastChecked       sql.NullTime
	)
	err := s.Scan(&d.ID, &d.Name, &d.Address, &kind, &role, &d.Model, &d.Branch, &d.Location,
		&state, &lastChecked, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	d.Kind = models.DeviceKind(kind)
	d.Role = models.PrinterRole(role)
	d.State = models.ConnectivityState(state)
	if lastChecked.Valid {
		d.LastChecked = lastChecked.Time
	}
	return &d, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

var migrations = []plugin.Migration{
	{
		Version:     1,
		Description: "create inventory tables",
		Up: func(tx *sql.Tx) error {
			stmts := []string{
				`CREATE TABLE inventory_devices (
					id           TEXT PRIMARY KEY,
					name         TEXT NOT NULL,
					address      TEXT NOT NULL UNIQUE,
					kind         TEXT NOT NULL,
					role         TEXT NOT NULL DEFAULT '',
					model        TEXT NOT NULL DEFAULT '',
					branch       TEXT NOT NULL DEFAULT '',
					location     TEXT NOT NULL DEFAULT '',
					state        TEXT NOT NULL DEFAULT 'unknown',
					last_checked DATETIME,
					created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_inventory_devices_kind ON inventory_devices(kind)`,
				`CREATE TABLE inventory_consumables (
					device_id         TEXT PRIMARY KEY REFERENCES inventory_devices(id) ON DELETE CASCADE,
					level             INTEGER,
					previous_level    INTEGER,
					serial            TEXT NOT NULL DEFAULT '',
					page_counter      INTEGER NOT NULL DEFAULT 0,
					replacement_count INTEGER NOT NULL DEFAULT 0,
					last_change_at    DATETIME,
					reserve_stock     INTEGER NOT NULL DEFAULT 0 CHECK (reserve_stock >= 0),
					last_alert_at     DATETIME,
					updated_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
				)`,
			}
			for _, s := range stmts {
				if _, err := tx.Exec(s); err != nil {
					return err
				}
			}
			return nil
		},
	},
}
