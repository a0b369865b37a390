package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var ErrAutomationNotFound = errors.New("automation not found")

// Automation is a persisted compiled automation: the GWAR binary
// (§3, §4.5) plus the authoring document it was compiled from, so the API
// can round-trip an automation back to its editable JSON/CBOR form.
type Automation struct {
	ID         string
	ProfileID  int64
	Name       string
	Enabled    bool
	SourceDoc  []byte // the authoring document compiled into Compiled, as JSON
	Compiled   []byte // GWAR binary ((*automation.Compiled).Serialize output)
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// AutomationStore provides automation CRUD operations.
type AutomationStore interface {
	Get(ctx context.Context, id string) (*Automation, error)
	ListByProfile(ctx context.Context, profileID int64) ([]*Automation, error)
	Create(ctx context.Context, a *Automation) error
	SetEnabled(ctx context.Context, id string, enabled bool) error
	Update(ctx context.Context, a *Automation) error
	Delete(ctx context.Context, id string) error
}

// Automations returns an AutomationStore for this database.
func (db *DB) Automations() AutomationStore {
	return &automationStore{db: db}
}

type automationStore struct {
	db *DB
}

func (s *automationStore) Get(ctx context.Context, id string) (*Automation, error) {
	a := &Automation{}
	var createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, profile_id, name, enabled, source_doc, compiled, created_at, updated_at
		FROM automations WHERE id = ?
	`, id).Scan(&a.ID, &a.ProfileID, &a.Name, &a.Enabled, &a.SourceDoc, &a.Compiled, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrAutomationNotFound
	}
	if err != nil {
		return nil, err
	}
	a.CreatedAt, _ = time.Parse(time.DateTime, createdAt)
	a.UpdatedAt, _ = time.Parse(time.DateTime, updatedAt)
	return a, nil
}

func (s *automationStore) ListByProfile(ctx context.Context, profileID int64) ([]*Automation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, profile_id, name, enabled, source_doc, compiled, created_at, updated_at
		FROM automations WHERE profile_id = ? ORDER BY name
	`, profileID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Automation
	for rows.Next() {
		a := &Automation{}
		var createdAt, updatedAt string
		if err := rows.Scan(&a.ID, &a.ProfileID, &a.Name, &a.Enabled, &a.SourceDoc, &a.Compiled, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		a.CreatedAt, _ = time.Parse(time.DateTime, createdAt)
		a.UpdatedAt, _ = time.Parse(time.DateTime, updatedAt)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *automationStore) Create(ctx context.Context, a *Automation) error {
	if a.ID == "" {
		return fmt.Errorf("automation id required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO automations (id, profile_id, name, enabled, source_doc, compiled)
		VALUES (?, ?, ?, ?, ?, ?)
	`, a.ID, a.ProfileID, a.Name, a.Enabled, a.SourceDoc, a.Compiled)
	if err != nil {
		return fmt.Errorf("failed to create automation: %w", err)
	}
	return nil
}

func (s *automationStore) Update(ctx context.Context, a *Automation) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE automations
		SET name = ?, enabled = ?, source_doc = ?, compiled = ?, updated_at = datetime('now')
		WHERE id = ?
	`, a.Name, a.Enabled, a.SourceDoc, a.Compiled, a.ID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrAutomationNotFound
	}
	return nil
}

func (s *automationStore) SetEnabled(ctx context.Context, id string, enabled bool) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE automations SET enabled = ?, updated_at = datetime('now') WHERE id = ?
	`, enabled, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrAutomationNotFound
	}
	return nil
}

func (s *automationStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM automations WHERE id = ?`, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrAutomationNotFound
	}
	return nil
}
