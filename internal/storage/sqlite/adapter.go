// Package sqlite implements the storage contract on SQLite. It is the
// default backend for single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"automation-engine/internal/common/errors"
	"automation-engine/internal/credentials"
	"automation-engine/internal/units"
)

type Adapter struct {
	db     *sql.DB
	config *Config
}

func NewAdapter(config *Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid SQLite config: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	adapter := &Adapter{
		db:     db,
		config: config,
	}

	if err := adapter.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return adapter, nil
}

func (a *Adapter) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

func (a *Adapter) Health(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

func (a *Adapter) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS units (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			name TEXT NOT NULL,
			trigger_provider TEXT NOT NULL,
			trigger_target TEXT NOT NULL,
			trigger_params TEXT DEFAULT '{}',
			reaction_provider TEXT NOT NULL,
			reaction_target TEXT NOT NULL,
			reaction_params TEXT DEFAULT '{}',
			enabled BOOLEAN DEFAULT 1,
			shared_secret TEXT DEFAULT '',
			last_triggered_at DATETIME,
			trigger_count INTEGER DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS credentials (
			owner_id TEXT NOT NULL,
			provider_id TEXT NOT NULL,
			access_secret TEXT NOT NULL,
			refresh_secret TEXT DEFAULT '',
			expiry DATETIME,
			scope TEXT DEFAULT '',
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (owner_id, provider_id)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_units_owner ON units(owner_id)`,
		`CREATE INDEX IF NOT EXISTS idx_units_enabled ON units(enabled)`,
		`CREATE INDEX IF NOT EXISTS idx_units_trigger_provider ON units(trigger_provider)`,
	}

	for _, query := range queries {
		if _, err := a.db.Exec(query); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

const unitColumns = `id, owner_id, name,
	trigger_provider, trigger_target, trigger_params,
	reaction_provider, reaction_target, reaction_params,
	enabled, shared_secret, last_triggered_at, trigger_count,
	created_at, updated_at`

func (a *Adapter) CreateUnit(ctx context.Context, unit *units.Unit) error {
	if unit.ID == "" {
		unit.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	unit.CreatedAt = now
	unit.UpdatedAt = now

	triggerParams, err := marshalParams(unit.Trigger.Params)
	if err != nil {
		return err
	}
	reactionParams, err := marshalParams(unit.Reaction.Params)
	if err != nil {
		return err
	}
	secret, err := a.encrypt(unit.SharedSecret)
	if err != nil {
		return err
	}

	_, err = a.db.ExecContext(ctx, `INSERT INTO units
		(id, owner_id, name,
		 trigger_provider, trigger_target, trigger_params,
		 reaction_provider, reaction_target, reaction_params,
		 enabled, shared_secret, trigger_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		unit.ID, unit.OwnerID, unit.Name,
		unit.Trigger.ProviderID, unit.Trigger.TargetID, triggerParams,
		unit.Reaction.ProviderID, unit.Reaction.TargetID, reactionParams,
		unit.Enabled, secret, unit.CreatedAt, unit.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create unit: %w", err)
	}
	return nil
}

func (a *Adapter) UpdateUnit(ctx context.Context, unit *units.Unit) error {
	triggerParams, err := marshalParams(unit.Trigger.Params)
	if err != nil {
		return err
	}
	reactionParams, err := marshalParams(unit.Reaction.Params)
	if err != nil {
		return err
	}
	secret, err := a.encrypt(unit.SharedSecret)
	if err != nil {
		return err
	}
	unit.UpdatedAt = time.Now().UTC()

	result, err := a.db.ExecContext(ctx, `UPDATE units SET
		name = ?,
		trigger_provider = ?, trigger_target = ?, trigger_params = ?,
		reaction_provider = ?, reaction_target = ?, reaction_params = ?,
		enabled = ?, shared_secret = ?, updated_at = ?
		WHERE id = ?`,
		unit.Name,
		unit.Trigger.ProviderID, unit.Trigger.TargetID, triggerParams,
		unit.Reaction.ProviderID, unit.Reaction.TargetID, reactionParams,
		unit.Enabled, secret, unit.UpdatedAt, unit.ID)
	if err != nil {
		return fmt.Errorf("failed to update unit: %w", err)
	}
	return requireRowAffected(result, "unit")
}

func (a *Adapter) DeleteUnit(ctx context.Context, id string) error {
	result, err := a.db.ExecContext(ctx, `DELETE FROM units WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete unit: %w", err)
	}
	return requireRowAffected(result, "unit")
}

func (a *Adapter) GetUnit(ctx context.Context, id string) (*units.Unit, error) {
	row := a.db.QueryRowContext(ctx, `SELECT `+unitColumns+` FROM units WHERE id = ?`, id)
	unit, err := a.scanUnit(row)
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundError("unit")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get unit: %w", err)
	}
	return unit, nil
}

func (a *Adapter) ListUnitsByOwner(ctx context.Context, ownerID string) ([]*units.Unit, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT `+unitColumns+` FROM units WHERE owner_id = ? ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list units: %w", err)
	}
	defer rows.Close()
	return a.collectUnits(rows)
}

func (a *Adapter) ListEnabledPollUnits(ctx context.Context) ([]*units.Unit, error) {
	if len(a.config.PollProviderIDs) == 0 {
		return nil, nil
	}

	placeholders := ""
	args := make([]interface{}, 0, len(a.config.PollProviderIDs))
	for i, id := range a.config.PollProviderIDs {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args = append(args, id)
	}

	rows, err := a.db.QueryContext(ctx,
		`SELECT `+unitColumns+` FROM units
		 WHERE enabled = 1 AND trigger_provider IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list poll units: %w", err)
	}
	defer rows.Close()
	return a.collectUnits(rows)
}

// RecordSuccess advances the firing counters in one statement so concurrent
// firings never lose an increment.
func (a *Adapter) RecordSuccess(ctx context.Context, id string, firedAt time.Time) error {
	result, err := a.db.ExecContext(ctx,
		`UPDATE units SET trigger_count = trigger_count + 1, last_triggered_at = ?, updated_at = ?
		 WHERE id = ?`, firedAt.UTC(), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to record firing: %w", err)
	}
	return requireRowAffected(result, "unit")
}

// FindUnitsByProviderEvent narrows by provider in SQL and applies the query
// params in Go; params are stored as JSON and matching them in SQL would tie
// the schema to one engine's JSON functions.
func (a *Adapter) FindUnitsByProviderEvent(ctx context.Context, providerID string, query map[string]string) ([]string, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT `+unitColumns+` FROM units WHERE enabled = 1 AND trigger_provider = ?`, providerID)
	if err != nil {
		return nil, fmt.Errorf("failed to match units: %w", err)
	}
	defer rows.Close()

	matched, err := a.collectUnits(rows)
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, unit := range matched {
		if paramsMatchQuery(unit.Trigger.Params, query) {
			ids = append(ids, unit.ID)
		}
	}
	return ids, nil
}

func (a *Adapter) GetCredential(ctx context.Context, ownerID, providerID string) (*credentials.Credential, error) {
	row := a.db.QueryRowContext(ctx,
		`SELECT owner_id, provider_id, access_secret, refresh_secret, expiry, scope, updated_at
		 FROM credentials WHERE owner_id = ? AND provider_id = ?`, ownerID, providerID)

	var cred credentials.Credential
	var expiry sql.NullTime
	err := row.Scan(&cred.OwnerID, &cred.ProviderID, &cred.AccessSecret, &cred.RefreshSecret,
		&expiry, &cred.Scope, &cred.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundError("credential")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	if expiry.Valid {
		cred.Expiry = expiry.Time
	}

	if cred.AccessSecret, err = a.decrypt(cred.AccessSecret); err != nil {
		return nil, fmt.Errorf("failed to decrypt access secret: %w", err)
	}
	if cred.RefreshSecret, err = a.decrypt(cred.RefreshSecret); err != nil {
		return nil, fmt.Errorf("failed to decrypt refresh secret: %w", err)
	}
	return &cred, nil
}

func (a *Adapter) SaveCredential(ctx context.Context, cred *credentials.Credential) error {
	access, err := a.encrypt(cred.AccessSecret)
	if err != nil {
		return err
	}
	refresh, err := a.encrypt(cred.RefreshSecret)
	if err != nil {
		return err
	}

	var expiry interface{}
	if !cred.Expiry.IsZero() {
		expiry = cred.Expiry.UTC()
	}

	_, err = a.db.ExecContext(ctx, `INSERT INTO credentials
		(owner_id, provider_id, access_secret, refresh_secret, expiry, scope, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (owner_id, provider_id) DO UPDATE SET
			access_secret = excluded.access_secret,
			refresh_secret = excluded.refresh_secret,
			expiry = excluded.expiry,
			scope = excluded.scope,
			updated_at = excluded.updated_at`,
		cred.OwnerID, cred.ProviderID, access, refresh, expiry, cred.Scope, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return nil
}

func (a *Adapter) DeleteCredential(ctx context.Context, ownerID, providerID string) error {
	result, err := a.db.ExecContext(ctx,
		`DELETE FROM credentials WHERE owner_id = ? AND provider_id = ?`, ownerID, providerID)
	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return requireRowAffected(result, "credential")
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (a *Adapter) scanUnit(row rowScanner) (*units.Unit, error) {
	var unit units.Unit
	var triggerParams, reactionParams, secret string
	var lastTriggered sql.NullTime

	err := row.Scan(&unit.ID, &unit.OwnerID, &unit.Name,
		&unit.Trigger.ProviderID, &unit.Trigger.TargetID, &triggerParams,
		&unit.Reaction.ProviderID, &unit.Reaction.TargetID, &reactionParams,
		&unit.Enabled, &secret, &lastTriggered, &unit.TriggerCount,
		&unit.CreatedAt, &unit.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if unit.Trigger.Params, err = unmarshalParams(triggerParams); err != nil {
		return nil, err
	}
	if unit.Reaction.Params, err = unmarshalParams(reactionParams); err != nil {
		return nil, err
	}
	if unit.SharedSecret, err = a.decrypt(secret); err != nil {
		return nil, fmt.Errorf("failed to decrypt shared secret: %w", err)
	}
	if lastTriggered.Valid {
		at := lastTriggered.Time
		unit.LastTriggeredAt = &at
	}
	return &unit, nil
}

func (a *Adapter) collectUnits(rows *sql.Rows) ([]*units.Unit, error) {
	var out []*units.Unit
	for rows.Next() {
		unit, err := a.scanUnit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan unit: %w", err)
		}
		out = append(out, unit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate units: %w", err)
	}
	return out, nil
}

func (a *Adapter) encrypt(value string) (string, error) {
	if a.config.Encryptor == nil {
		return value, nil
	}
	return a.config.Encryptor.Encrypt(value)
}

func (a *Adapter) decrypt(value string) (string, error) {
	if a.config.Encryptor == nil {
		return value, nil
	}
	return a.config.Encryptor.Decrypt(value)
}

func marshalParams(params map[string]interface{}) (string, error) {
	if params == nil {
		return "{}", nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("failed to marshal params: %w", err)
	}
	return string(data), nil
}

func unmarshalParams(data string) (map[string]interface{}, error) {
	if data == "" || data == "{}" {
		return nil, nil
	}
	var params map[string]interface{}
	if err := json.Unmarshal([]byte(data), &params); err != nil {
		return nil, fmt.Errorf("failed to unmarshal params: %w", err)
	}
	return params, nil
}

func paramsMatchQuery(params map[string]interface{}, query map[string]string) bool {
	for key, want := range query {
		got, ok := params[key].(string)
		if !ok || got != want {
			return false
		}
	}
	return true
}

func requireRowAffected(result sql.Result, resource string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return errors.NotFoundError(resource)
	}
	return nil
}
