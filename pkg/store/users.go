package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// User identifies a human account owning messaging instances. Password
// material never leaves this package unhashed.
type User struct {
	ID             int64     `json:"id"`
	FirstName      string    `json:"first_name"`
	LastName       string    `json:"last_name"`
	WhatsAppNumber string    `json:"whatsapp_number"`
	Email          string    `json:"email"`
	CreatedAt      time.Time `json:"created_at"`
}

// CreateUser persists a new user with a bcrypt password hash and returns the
// stored row.
func CreateUser(ctx context.Context, firstName, lastName, whatsappNumber, email, password string) (*User, error) {
	conn, err := openDB()
	if err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &User{
		FirstName:      firstName,
		LastName:       lastName,
		WhatsAppNumber: whatsappNumber,
		Email:          email,
	}
	err = conn.QueryRowContext(ctx, `
		INSERT INTO users (first_name, last_name, whatsapp_number, email, password_hash)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, firstName, lastName, whatsappNumber, email, string(hash)).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return user, nil
}

// GetUserByID resolves a user or ErrUserNotFound.
func GetUserByID(ctx context.Context, id int64) (*User, error) {
	conn, err := openDB()
	if err != nil {
		return nil, err
	}

	var user User
	err = conn.QueryRowContext(ctx, `
		SELECT id, first_name, last_name, whatsapp_number, email, created_at
		FROM users WHERE id = $1
	`, id).Scan(&user.ID, &user.FirstName, &user.LastName, &user.WhatsAppNumber, &user.Email, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// CountUsers is used by the admin stats endpoint.
func CountUsers(ctx context.Context) (int, error) {
	conn, err := openDB()
	if err != nil {
		return 0, err
	}

	var count int
	err = conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}
