// Package registry keeps the durable record of switchboards registered as
// devices. Reconciliation diffs this set against discovery results, so it has
// to survive restarts, hence SQLite rather than process memory.
package registry

import (
	"context"
	"database/sql"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no device row exists for a serial.
var ErrNotFound = errors.New("device not found")

// Device is one registered switchboard.
type Device struct {
	Serial       string
	SiteID       string
	Manufacturer string
	Name         string
	Model        string
	SwVersion    string
	HwVersion    string
}

const schemaDevices = `
CREATE TABLE IF NOT EXISTS devices (
    serial        TEXT PRIMARY KEY,
    site_id       TEXT NOT NULL DEFAULT '',
    manufacturer  TEXT NOT NULL DEFAULT '',
    name          TEXT NOT NULL DEFAULT '',
    model         TEXT NOT NULL DEFAULT '',
    sw_version    TEXT NOT NULL DEFAULT '',
    hw_version    TEXT NOT NULL DEFAULT '',
    registered_at TIMESTAMP NOT NULL,
    updated_at    TIMESTAMP NOT NULL
);
`

const upsertDeviceSQL = `
INSERT INTO devices (serial, site_id, manufacturer, name, model, sw_version, hw_version, registered_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(serial) DO UPDATE SET
    site_id=excluded.site_id,
    manufacturer=excluded.manufacturer,
    name=excluded.name,
    model=excluded.model,
    sw_version=excluded.sw_version,
    hw_version=excluded.hw_version,
    updated_at=excluded.updated_at
`

const selectDeviceSQL = `
SELECT serial, site_id, manufacturer, name, model, sw_version, hw_version
FROM devices WHERE serial = ?
`

// Registry is a SQLite backed device store.
type Registry struct {
	db  *sql.DB
	log *log.Logger
}

// Open opens (creating if needed) the registry database at path and ensures
// the schema exists.
func Open(path string) (*Registry, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open registry db at %s", path)
	}

	// single writer keeps SQLite happy
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, errors.Wrapf(err, "failed to set %s", pragma)
		}
	}

	if _, err := db.Exec(schemaDevices); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to ensure registry schema")
	}

	return &Registry{
		db: db,
		log: log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "registry: ",
			Level:  log.GetLevel(),
		}),
	}, nil
}

func (r *Registry) Close() error {
	return r.db.Close()
}

// ListSerials returns every registered serial, sorted.
func (r *Registry) ListSerials(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT serial FROM devices ORDER BY serial")
	if err != nil {
		return nil, errors.Wrap(err, "failed to list devices")
	}
	defer rows.Close()

	serials := []string{}
	for rows.Next() {
		var serial string
		if err := rows.Scan(&serial); err != nil {
			return nil, errors.Wrap(err, "failed to scan device row")
		}
		serials = append(serials, serial)
	}
	return serials, rows.Err()
}

// Get fetches one registered device.
func (r *Registry) Get(ctx context.Context, serial string) (Device, error) {
	var d Device
	err := r.db.QueryRowContext(ctx, selectDeviceSQL, serial).Scan(
		&d.Serial, &d.SiteID, &d.Manufacturer, &d.Name, &d.Model, &d.SwVersion, &d.HwVersion,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Device{}, ErrNotFound
	}
	if err != nil {
		return Device{}, errors.Wrapf(err, "failed to get device %s", serial)
	}
	return d, nil
}

// Upsert registers a device or updates the registered record, keyed by
// serial. Calling it again with the same data is a no-op apart from the
// updated_at column.
func (r *Registry) Upsert(ctx context.Context, d Device) error {
	if d.Serial == "" {
		return errors.New("cannot register device without serial")
	}

	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, upsertDeviceSQL,
		d.Serial, d.SiteID, d.Manufacturer, d.Name, d.Model, d.SwVersion, d.HwVersion, now, now,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to upsert device %s", d.Serial)
	}

	r.log.Debug("device registered", "serial", d.Serial, "model", d.Model)
	return nil
}

// Delete removes a device record. Deleting an unknown serial returns
// ErrNotFound so the caller can treat it as an anomaly rather than a failure.
func (r *Registry) Delete(ctx context.Context, serial string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM devices WHERE serial = ?", serial)
	if err != nil {
		return errors.Wrapf(err, "failed to delete device %s", serial)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read delete result")
	}
	if affected == 0 {
		return ErrNotFound
	}

	r.log.Debug("device removed", "serial", serial)
	return nil
}
