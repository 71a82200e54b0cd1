package router

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBodyLimit(t *testing.T) {
	assert.Equal(t, 8*1024*1024, parseBodyLimit(""))
	assert.Equal(t, 8*1024*1024, parseBodyLimit("garbage"))
	assert.Equal(t, 512*1024, parseBodyLimit("512K"))
	assert.Equal(t, 16*1024*1024, parseBodyLimit("16M"))
	assert.Equal(t, 1024*1024*1024, parseBodyLimit("1G"))
	assert.Equal(t, 42, parseBodyLimit("42"))
	assert.Equal(t, 8*1024*1024, parseBodyLimit("-3M"))
}

func TestResponseEnvelopes(t *testing.T) {
	app := fiber.New()
	app.Get("/ok", func(c *fiber.Ctx) error {
		return ResponseSuccessWithData(c, "all good", map[string]interface{}{"value": 1})
	})
	app.Get("/forbidden", func(c *fiber.Ctx) error {
		return ResponseForbidden(c, "Invalid instance ID or access token.")
	})
	app.Get("/bulk", func(c *fiber.Ctx) error {
		return ResponseSuccessWithResults(c, "done", []string{"a", "b"})
	})

	fetch := func(path string) (int, map[string]interface{}) {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		raw, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(raw, &body))
		return resp.StatusCode, body
	}

	code, body := fetch("/ok")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["status"])
	assert.Equal(t, "all good", body["message"])
	assert.NotNil(t, body["response"])
	assert.NotContains(t, body, "error")
	assert.NotContains(t, body, "results")

	code, body = fetch("/forbidden")
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, false, body["status"])
	assert.Equal(t, "Invalid instance ID or access token.", body["error"])
	assert.NotContains(t, body, "response")

	code, body = fetch("/bulk")
	assert.Equal(t, http.StatusOK, code)
	assert.NotNil(t, body["results"])
	assert.NotContains(t, body, "response")
}

func TestHttpRequestID(t *testing.T) {
	app := fiber.New()
	app.Use(HttpRequestID())
	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString(c.Locals("request_id").(string))
	})

	// A provided ID is propagated untouched.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "trace-me")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, "trace-me", resp.Header.Get("X-Request-ID"))

	// A missing ID is minted.
	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/", nil), -1)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}
