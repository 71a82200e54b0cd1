package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// InstanceRouting maps an instanceId to the whatsmeow store JID that owns its
// session blob, so the blob is scoped per instance instead of living in a
// single global file.
type InstanceRouting struct {
	InstanceID  string
	StoreJID    string
	IsActive    bool
	LastLoginAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   *time.Time
}

// SaveInstanceRouting records the binding between an instance and its
// whatsmeow device. An empty storeJID reserves the row before first pairing.
func SaveInstanceRouting(ctx context.Context, instanceID string, storeJID string) error {
	conn, err := openDB()
	if err != nil {
		return err
	}
	if storeJID == "" {
		_, err = conn.ExecContext(ctx, `
			INSERT INTO instance_routing (instance_id, store_jid, is_active, last_login_at, updated_at)
			VALUES ($1, NULL, FALSE, NULL, NOW())
			ON CONFLICT (instance_id) DO NOTHING
		`, instanceID)
		return err
	}

	// A store JID can only belong to one instance; steal it from any stale
	// binding first.
	_, err = conn.ExecContext(ctx, `
		UPDATE instance_routing
		SET store_jid = NULL, is_active = FALSE, updated_at = NOW()
		WHERE store_jid = $2 AND instance_id != $1
	`, instanceID, storeJID)
	if err != nil {
		return err
	}

	_, err = conn.ExecContext(ctx, `
		INSERT INTO instance_routing (instance_id, store_jid, is_active, last_login_at, updated_at)
		VALUES ($1, $2, TRUE, NOW(), NOW())
		ON CONFLICT (instance_id) DO UPDATE
		SET store_jid = EXCLUDED.store_jid,
		    is_active = TRUE,
		    last_login_at = NOW(),
		    updated_at = NOW()
	`, instanceID, storeJID)
	return err
}

// GetStoreJID returns the whatsmeow store JID routed to an instance.
func GetStoreJID(ctx context.Context, instanceID string) (string, bool, error) {
	conn, err := openDB()
	if err != nil {
		return "", false, err
	}
	var jid sql.NullString
	var isActive bool
	err = conn.QueryRowContext(ctx,
		`SELECT store_jid, is_active FROM instance_routing WHERE instance_id = $1`,
		instanceID).Scan(&jid, &isActive)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, ErrInstanceNotFound
	}
	if err != nil {
		return "", false, err
	}
	if !jid.Valid {
		return "", isActive, nil
	}
	return jid.String, isActive, nil
}

// SetRoutingActive flips the health flag on a routing row without touching
// the JID binding.
func SetRoutingActive(ctx context.Context, instanceID string, active bool) error {
	conn, err := openDB()
	if err != nil {
		return err
	}
	_, err = conn.ExecContext(ctx, `
		UPDATE instance_routing
		SET is_active = $2, updated_at = NOW()
		WHERE instance_id = $1
	`, instanceID, active)
	return err
}

// DeleteInstanceRouting deactivates the binding, keeping the row for audit.
func DeleteInstanceRouting(ctx context.Context, instanceID string) error {
	conn, err := openDB()
	if err != nil {
		return err
	}
	_, err = conn.ExecContext(ctx, `
		UPDATE instance_routing
		SET store_jid = NULL, is_active = FALSE, last_login_at = NULL, updated_at = NOW()
		WHERE instance_id = $1
	`, instanceID)
	return err
}

// ListInstanceRoutings returns all routed instances, newest first.
func ListInstanceRoutings(ctx context.Context) ([]InstanceRouting, error) {
	conn, err := openDB()
	if err != nil {
		return nil, err
	}
	rows, err := conn.QueryContext(ctx, `
		SELECT instance_id, store_jid, is_active, last_login_at, created_at, updated_at
		FROM instance_routing ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var routings []InstanceRouting
	for rows.Next() {
		var r InstanceRouting
		var jid sql.NullString
		var lastLogin sql.NullTime
		var updatedAt sql.NullTime
		if err := rows.Scan(&r.InstanceID, &jid, &r.IsActive, &lastLogin, &r.CreatedAt, &updatedAt); err != nil {
			return nil, err
		}
		if jid.Valid {
			r.StoreJID = jid.String
		}
		if lastLogin.Valid {
			value := lastLogin.Time
			r.LastLoginAt = &value
		}
		if updatedAt.Valid {
			value := updatedAt.Time
			r.UpdatedAt = &value
		}
		routings = append(routings, r)
	}
	return routings, rows.Err()
}
