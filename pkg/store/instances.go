package store

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Instance is one messaging-session credential bound to a user. The
// instanceId and accessToken pair authorizes send operations only together.
type Instance struct {
	InstanceID  string    `json:"instance_id"`
	UserID      int64     `json:"user_id"`
	AccessToken string    `json:"access_token,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// GenerateAccessToken returns a 32-char hex secret (128 bits from
// crypto/rand).
func GenerateAccessToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// CreateInstance mints fresh credentials for a user. Re-registration rotates
// both identifiers in place: the upsert is a single statement keyed on
// user_id, so concurrent registrations for one user can never produce two
// rows.
func CreateInstance(ctx context.Context, userID int64) (*Instance, error) {
	conn, err := openDB()
	if err != nil {
		return nil, err
	}

	if _, err := GetUserByID(ctx, userID); err != nil {
		return nil, err
	}

	accessToken, err := GenerateAccessToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	instance := &Instance{
		InstanceID:  uuid.NewString(),
		UserID:      userID,
		AccessToken: accessToken,
	}
	err = conn.QueryRowContext(ctx, `
		INSERT INTO instances (instance_id, user_id, access_token)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE
		SET instance_id = EXCLUDED.instance_id,
		    access_token = EXCLUDED.access_token,
		    updated_at = NOW()
		RETURNING created_at, updated_at
	`, instance.InstanceID, userID, accessToken).Scan(&instance.CreatedAt, &instance.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create instance: %w", err)
	}

	return instance, nil
}

// ValidateInstance reports whether the credential pair matches a stored row.
// Never returns an error to the caller: lookup failures and mismatches both
// read as false.
func ValidateInstance(ctx context.Context, instanceID, accessToken string) bool {
	conn, err := openDB()
	if err != nil {
		return false
	}

	var storedToken string
	err = conn.QueryRowContext(ctx,
		`SELECT access_token FROM instances WHERE instance_id = $1`,
		instanceID).Scan(&storedToken)
	if err != nil {
		// Burn a comparison anyway so not-found is not distinguishable by
		// timing.
		tokensEqual(accessToken, accessToken)
		return false
	}

	return tokensEqual(accessToken, storedToken)
}

// tokensEqual compares two secrets in constant time.
func tokensEqual(candidate, stored string) bool {
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(stored)) == 1
}

// GetInstanceByID resolves a credential row or ErrInstanceNotFound. The
// access token is not included.
func GetInstanceByID(ctx context.Context, instanceID string) (*Instance, error) {
	conn, err := openDB()
	if err != nil {
		return nil, err
	}

	var instance Instance
	err = conn.QueryRowContext(ctx, `
		SELECT instance_id, user_id, created_at, updated_at
		FROM instances WHERE instance_id = $1
	`, instanceID).Scan(&instance.InstanceID, &instance.UserID, &instance.CreatedAt, &instance.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInstanceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &instance, nil
}

// DeleteInstance removes a credential row. Deleting an unknown instance is
// not an error.
func DeleteInstance(ctx context.Context, instanceID string) error {
	conn, err := openDB()
	if err != nil {
		return err
	}

	_, err = conn.ExecContext(ctx, `DELETE FROM instances WHERE instance_id = $1`, instanceID)
	return err
}

// CountInstances is used by the admin stats endpoint.
func CountInstances(ctx context.Context) (int, error) {
	conn, err := openDB()
	if err != nil {
		return 0, err
	}

	var count int
	err = conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM instances`).Scan(&count)
	return count, err
}
