package user

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wabridge/go-whatsapp-instance-rest-api/internal/types"
	"github.com/wabridge/go-whatsapp-instance-rest-api/pkg/store"
)

type envelope struct {
	Status   bool                   `json:"status"`
	Code     int                    `json:"code"`
	Message  string                 `json:"message"`
	Response map[string]interface{} `json:"response"`
}

func postJSON(t *testing.T, app *fiber.App, body interface{}) (*http.Response, envelope) {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/users", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var parsed envelope
	require.NoError(t, json.Unmarshal(raw, &parsed))
	return resp, parsed
}

func restoreSeams(t *testing.T) {
	t.Helper()
	orig := createUser
	t.Cleanup(func() { createUser = orig })
}

func validBody() types.RequestCreateUser {
	return types.RequestCreateUser{
		FirstName:      "Ada",
		LastName:       "Lovelace",
		WhatsAppNumber: "6281234567890",
		Email:          "ada@example.com",
		Password:       "correct-horse",
	}
}

func TestCreateUserMissingFieldsEnumerated(t *testing.T) {
	restoreSeams(t)
	app := fiber.New()
	app.Post("/users", Create)

	resp, body := postJSON(t, app, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "first_name, last_name, whatsapp_number, email, password are required", body.Message)

	resp, body = postJSON(t, app, map[string]string{
		"first_name": "Ada", "last_name": "Lovelace",
		"whatsapp_number": "6281234567890", "email": "ada@example.com",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "password is required", body.Message)
}

func TestCreateUserRejectsShortPassword(t *testing.T) {
	restoreSeams(t)
	app := fiber.New()
	app.Post("/users", Create)

	request := validBody()
	request.Password = "short"
	resp, _ := postJSON(t, app, request)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateUserSuccess(t *testing.T) {
	restoreSeams(t)
	createUser = func(ctx context.Context, firstName, lastName, whatsappNumber, email, password string) (*store.User, error) {
		return &store.User{ID: 101, FirstName: firstName, LastName: lastName}, nil
	}
	app := fiber.New()
	app.Post("/users", Create)

	resp, body := postJSON(t, app, validBody())
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, float64(101), body.Response["user_id"])
}

func TestCreateUserDuplicate(t *testing.T) {
	restoreSeams(t)
	createUser = func(context.Context, string, string, string, string, string) (*store.User, error) {
		return nil, &pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"}
	}
	app := fiber.New()
	app.Post("/users", Create)

	resp, body := postJSON(t, app, validBody())
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body.Message, "already registered")
}
