package message

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wabridge/go-whatsapp-instance-rest-api/internal/types"
	pkgWhatsApp "github.com/wabridge/go-whatsapp-instance-rest-api/pkg/whatsapp"
)

type envelope struct {
	Status   bool                   `json:"status"`
	Code     int                    `json:"code"`
	Message  string                 `json:"message"`
	Response map[string]interface{} `json:"response"`
	Results  []types.BulkSendResult `json:"results"`
	Error    string                 `json:"error"`
}

func newTestApp() *fiber.App {
	app := fiber.New()
	app.Post("/send-text", SendText)
	app.Post("/send-bulk-text", SendBulkText)
	app.Post("/send-media", SendMedia)
	app.Post("/get-user-profile", GetUserProfile)
	return app
}

func postJSON(t *testing.T, app *fiber.App, path string, body interface{}) (*http.Response, envelope) {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var parsed envelope
	require.NoError(t, json.Unmarshal(raw, &parsed))
	return resp, parsed
}

func allowAllCredentials(context.Context, string, string) bool { return true }
func denyAllCredentials(context.Context, string, string) bool  { return false }

func restoreSeams(t *testing.T) {
	t.Helper()
	origValidate := validateCredentials
	origSendText := sendText
	origSendImage := sendImage
	origSendDocument := sendDocument
	origFetchMedia := fetchMedia
	origGetUserProfile := getUserProfile
	t.Cleanup(func() {
		validateCredentials = origValidate
		sendText = origSendText
		sendImage = origSendImage
		sendDocument = origSendDocument
		fetchMedia = origFetchMedia
		getUserProfile = origGetUserProfile
	})
}

func validSendTextBody() types.RequestSendText {
	return types.RequestSendText{
		InstanceCredentials: types.InstanceCredentials{
			InstanceID:  "b3a0c2de-1111-2222-3333-444455556666",
			AccessToken: "f00dfeedfacecafef00dfeedfacecafe",
		},
		Number:  "6281234567890",
		Message: "hello there",
	}
}

func TestMissingFieldsMessage(t *testing.T) {
	assert.Equal(t, "number is required", missingFieldsMessage([]string{"number"}))
	assert.Equal(t, "instance_id, access_token are required",
		missingFieldsMessage([]string{"instance_id", "access_token"}))
}

func TestSendTextMissingFieldsEnumerated(t *testing.T) {
	restoreSeams(t)
	app := newTestApp()

	resp, body := postJSON(t, app, "/send-text", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "instance_id, access_token, number, message are required", body.Message)

	// A partially filled request only reports what is actually missing.
	resp, body = postJSON(t, app, "/send-text", map[string]string{
		"instance_id": "abc", "number": "6281234567890",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "access_token, message are required", body.Message)
}

func TestSendTextInvalidCredentials(t *testing.T) {
	restoreSeams(t)
	validateCredentials = denyAllCredentials
	sendAttempted := false
	sendText = func(context.Context, string, string, string) (string, error) {
		sendAttempted = true
		return "", nil
	}
	app := newTestApp()

	resp, body := postJSON(t, app, "/send-text", validSendTextBody())
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "Invalid instance ID or access token.", body.Message)
	assert.False(t, body.Status)
	assert.False(t, sendAttempted, "send must not run with rejected credentials")
}

func TestSendTextSuccess(t *testing.T) {
	restoreSeams(t)
	validateCredentials = allowAllCredentials

	var gotInstanceID, gotNumber, gotMessage string
	sendText = func(ctx context.Context, instanceID, number, message string) (string, error) {
		gotInstanceID, gotNumber, gotMessage = instanceID, number, message
		return "3EB0D91C2A6F", nil
	}
	app := newTestApp()

	request := validSendTextBody()
	resp, body := postJSON(t, app, "/send-text", request)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Message sent successfully!", body.Message)
	assert.True(t, body.Status)
	assert.Equal(t, "3EB0D91C2A6F", body.Response["message_id"])
	assert.Equal(t, request.InstanceID, gotInstanceID)
	assert.Equal(t, request.Number, gotNumber)
	assert.Equal(t, request.Message, gotMessage)
}

func TestSendTextSessionNotReady(t *testing.T) {
	restoreSeams(t)
	validateCredentials = allowAllCredentials
	sendText = func(context.Context, string, string, string) (string, error) {
		return "", pkgWhatsApp.ErrSessionNotReady
	}
	app := newTestApp()

	resp, body := postJSON(t, app, "/send-text", validSendTextBody())
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, pkgWhatsApp.ErrSessionNotReady.Error(), body.Message)
}

func TestSendTextRejectsInvalidPhone(t *testing.T) {
	restoreSeams(t)
	validateCredentials = allowAllCredentials
	app := newTestApp()

	request := validSendTextBody()
	request.Number = "081234567890"
	resp, _ := postJSON(t, app, "/send-text", request)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSendBulkTextPartialFailure(t *testing.T) {
	restoreSeams(t)
	validateCredentials = allowAllCredentials
	sendText = func(ctx context.Context, instanceID, number, message string) (string, error) {
		if number == "6282000000002" {
			return "", errors.New("recipient is not registered on WhatsApp")
		}
		return "MSG-" + number, nil
	}
	app := newTestApp()

	request := types.RequestSendBulkText{
		InstanceCredentials: validSendTextBody().InstanceCredentials,
		Numbers:             []string{"6282000000001", "6282000000002", "6282000000003"},
		Message:             "broadcast",
	}
	resp, body := postJSON(t, app, "/send-bulk-text", request)

	// One failed recipient never fails the batch.
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body.Results, 3)

	assert.Equal(t, "6282000000001", body.Results[0].Number)
	assert.Equal(t, types.BulkStatusSent, body.Results[0].Status)
	assert.Equal(t, "MSG-6282000000001", body.Results[0].Response)

	assert.Equal(t, "6282000000002", body.Results[1].Number)
	assert.Equal(t, types.BulkStatusFailed, body.Results[1].Status)
	assert.Contains(t, body.Results[1].Error, "not registered")

	assert.Equal(t, "6282000000003", body.Results[2].Number)
	assert.Equal(t, types.BulkStatusSent, body.Results[2].Status)
}

func TestSendBulkTextInvalidNumberSkipsSend(t *testing.T) {
	restoreSeams(t)
	validateCredentials = allowAllCredentials

	var attempted []string
	sendText = func(ctx context.Context, instanceID, number, message string) (string, error) {
		attempted = append(attempted, number)
		return "MSG", nil
	}
	app := newTestApp()

	request := types.RequestSendBulkText{
		InstanceCredentials: validSendTextBody().InstanceCredentials,
		Numbers:             []string{"6282000000001", "012345", "6282000000003"},
		Message:             "broadcast",
	}
	resp, body := postJSON(t, app, "/send-bulk-text", request)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body.Results, 3)
	assert.Equal(t, types.BulkStatusFailed, body.Results[1].Status)
	assert.Equal(t, []string{"6282000000001", "6282000000003"}, attempted)
}

func TestSendBulkTextMissingNumbers(t *testing.T) {
	restoreSeams(t)
	app := newTestApp()

	request := types.RequestSendBulkText{
		InstanceCredentials: validSendTextBody().InstanceCredentials,
		Message:             "broadcast",
	}
	resp, body := postJSON(t, app, "/send-bulk-text", request)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "numbers is required", body.Message)
}

func TestSendMediaDispatchesImage(t *testing.T) {
	restoreSeams(t)
	validateCredentials = allowAllCredentials
	fetchMedia = func(context.Context, string) (*pkgWhatsApp.Media, error) {
		return &pkgWhatsApp.Media{Bytes: []byte{1, 2, 3}, MimeType: "image/jpeg", FileName: "photo.jpg"}, nil
	}
	imageSent := false
	sendImage = func(ctx context.Context, instanceID, number string, data []byte, mimeType, caption string) (string, error) {
		imageSent = true
		assert.Equal(t, "image/jpeg", mimeType)
		assert.Equal(t, "look at this", caption)
		return "IMG-1", nil
	}
	documentSent := false
	sendDocument = func(context.Context, string, string, []byte, string, string) (string, error) {
		documentSent = true
		return "", nil
	}
	app := newTestApp()

	request := types.RequestSendMedia{
		InstanceCredentials: validSendTextBody().InstanceCredentials,
		Number:              "6281234567890",
		MediaURL:            "https://cdn.example.com/photo.jpg",
		Caption:             "look at this",
	}
	resp, body := postJSON(t, app, "/send-media", request)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Message sent successfully!", body.Message)
	assert.Equal(t, "IMG-1", body.Response["message_id"])
	assert.True(t, imageSent)
	assert.False(t, documentSent, "image payloads must not go out as documents")
}

func TestSendMediaDispatchesDocument(t *testing.T) {
	restoreSeams(t)
	validateCredentials = allowAllCredentials
	fetchMedia = func(context.Context, string) (*pkgWhatsApp.Media, error) {
		return &pkgWhatsApp.Media{Bytes: []byte{1}, MimeType: "application/pdf", FileName: "report.pdf"}, nil
	}
	var gotFileName string
	sendDocument = func(ctx context.Context, instanceID, number string, data []byte, mimeType, fileName string) (string, error) {
		gotFileName = fileName
		return "DOC-1", nil
	}
	app := newTestApp()

	request := types.RequestSendMedia{
		InstanceCredentials: validSendTextBody().InstanceCredentials,
		Number:              "6281234567890",
		MediaURL:            "https://cdn.example.com/report.pdf",
	}
	resp, body := postJSON(t, app, "/send-media", request)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "DOC-1", body.Response["message_id"])
	assert.Equal(t, "report.pdf", gotFileName)
}

func TestSendMediaFetchFailure(t *testing.T) {
	restoreSeams(t)
	validateCredentials = allowAllCredentials
	fetchMedia = func(context.Context, string) (*pkgWhatsApp.Media, error) {
		return nil, errors.New("media url responded with status 404 Not Found")
	}
	app := newTestApp()

	request := types.RequestSendMedia{
		InstanceCredentials: validSendTextBody().InstanceCredentials,
		Number:              "6281234567890",
		MediaURL:            "https://cdn.example.com/missing.jpg",
	}
	resp, body := postJSON(t, app, "/send-media", request)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, body.Message, "Failed to fetch media")
}

func TestGetUserProfileSuccess(t *testing.T) {
	restoreSeams(t)
	validateCredentials = allowAllCredentials
	getUserProfile = func(context.Context, string, string) (*pkgWhatsApp.UserProfile, error) {
		return &pkgWhatsApp.UserProfile{
			JID:          "6281234567890@s.whatsapp.net",
			IsRegistered: true,
			Status:       "hey there",
		}, nil
	}
	app := newTestApp()

	request := types.RequestUserProfile{
		InstanceCredentials: validSendTextBody().InstanceCredentials,
		Number:              "6281234567890",
	}
	resp, body := postJSON(t, app, "/get-user-profile", request)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "6281234567890@s.whatsapp.net", body.Response["jid"])
	assert.Equal(t, true, body.Response["is_registered"])
}

func TestGetUserProfileMissingFields(t *testing.T) {
	restoreSeams(t)
	app := newTestApp()

	resp, body := postJSON(t, app, "/get-user-profile", map[string]string{"number": "6281234567890"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "instance_id, access_token are required", body.Message)
}
