package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var ErrDeviceRegistryEntryNotFound = errors.New("device registry entry not found")

// DeviceRegistryEntry is a persisted Device Registry row (§3 "Device
// Registry", §4.2): the subset of zbmodel.Device/Endpoint that needs to
// survive a Node R restart without a live Zigbee rejoin of every device.
type DeviceRegistryEntry struct {
	UID           string
	ProfileID     int64
	LayoutVersion int
	ShortAddr     uint16
	Name          string
	LastSeenMs    uint64
	HasOnOff      bool
	HasButton     bool
	Endpoints     []byte // JSON-encoded []zbmodel.Endpoint
}

// DeviceRegistryStore provides CRUD for the device_registry table.
type DeviceRegistryStore interface {
	Get(ctx context.Context, uid string) (*DeviceRegistryEntry, error)
	ListByProfile(ctx context.Context, profileID int64) ([]*DeviceRegistryEntry, error)
	Upsert(ctx context.Context, e *DeviceRegistryEntry) error
	Delete(ctx context.Context, uid string) error
}

// DeviceRegistry returns a DeviceRegistryStore for this database.
func (db *DB) DeviceRegistry() DeviceRegistryStore {
	return &deviceRegistryStore{db: db}
}

type deviceRegistryStore struct {
	db *DB
}

func (s *deviceRegistryStore) Get(ctx context.Context, uid string) (*DeviceRegistryEntry, error) {
	e := &DeviceRegistryEntry{}
	var hasOnOff, hasButton int
	err := s.db.QueryRowContext(ctx, `
		SELECT uid, profile_id, layout_version, short_addr, name, last_seen_ms, has_onoff, has_button, endpoints
		FROM device_registry WHERE uid = ?
	`, uid).Scan(&e.UID, &e.ProfileID, &e.LayoutVersion, &e.ShortAddr, &e.Name, &e.LastSeenMs, &hasOnOff, &hasButton, &e.Endpoints)
	if err == sql.ErrNoRows {
		return nil, ErrDeviceRegistryEntryNotFound
	}
	if err != nil {
		return nil, err
	}
	e.HasOnOff = hasOnOff != 0
	e.HasButton = hasButton != 0
	return e, nil
}

func (s *deviceRegistryStore) ListByProfile(ctx context.Context, profileID int64) ([]*DeviceRegistryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT uid, profile_id, layout_version, short_addr, name, last_seen_ms, has_onoff, has_button, endpoints
		FROM device_registry WHERE profile_id = ? ORDER BY name
	`, profileID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*DeviceRegistryEntry
	for rows.Next() {
		e := &DeviceRegistryEntry{}
		var hasOnOff, hasButton int
		if err := rows.Scan(&e.UID, &e.ProfileID, &e.LayoutVersion, &e.ShortAddr, &e.Name, &e.LastSeenMs, &hasOnOff, &hasButton, &e.Endpoints); err != nil {
			return nil, err
		}
		// Only layout version 1 is understood; rows tagged otherwise are not loaded.
		if e.LayoutVersion != 1 {
			continue
		}
		e.HasOnOff = hasOnOff != 0
		e.HasButton = hasButton != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

// Upsert writes e, overwriting any existing row for the same UID
// (deduplication on load, §3's "Device Registry ... deduplication on
// load").
func (s *deviceRegistryStore) Upsert(ctx context.Context, e *DeviceRegistryEntry) error {
	if e.UID == "" {
		return fmt.Errorf("device registry uid required")
	}
	layoutVersion := e.LayoutVersion
	if layoutVersion == 0 {
		layoutVersion = 1
	}
	endpoints := e.Endpoints
	if endpoints == nil {
		endpoints = []byte("[]")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO device_registry (uid, profile_id, layout_version, short_addr, name, last_seen_ms, has_onoff, has_button, endpoints, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT(uid) DO UPDATE SET
			short_addr = excluded.short_addr,
			name = excluded.name,
			last_seen_ms = excluded.last_seen_ms,
			has_onoff = excluded.has_onoff,
			has_button = excluded.has_button,
			endpoints = excluded.endpoints,
			updated_at = datetime('now')
	`, e.UID, e.ProfileID, layoutVersion, e.ShortAddr, e.Name, e.LastSeenMs, e.HasOnOff, e.HasButton, endpoints)
	if err != nil {
		return fmt.Errorf("failed to upsert device registry entry: %w", err)
	}
	return nil
}

func (s *deviceRegistryStore) Delete(ctx context.Context, uid string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM device_registry WHERE uid = ?`, uid)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrDeviceRegistryEntryNotFound
	}
	return nil
}
