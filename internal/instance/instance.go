package instance

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/wabridge/go-whatsapp-instance-rest-api/internal/types"
	"github.com/wabridge/go-whatsapp-instance-rest-api/pkg/log"
	"github.com/wabridge/go-whatsapp-instance-rest-api/pkg/router"
	"github.com/wabridge/go-whatsapp-instance-rest-api/pkg/store"
	pkgWhatsApp "github.com/wabridge/go-whatsapp-instance-rest-api/pkg/whatsapp"
)

const msgInvalidCredentials = "Invalid instance ID or access token."

// Seams for handler tests; production wiring is the package defaults.
var (
	createInstance      = store.CreateInstance
	deleteInstance      = store.DeleteInstance
	validateCredentials = store.ValidateInstance
	openSession         = pkgWhatsApp.Open
	sessionQR           = pkgWhatsApp.SessionQR
	stateOf             = pkgWhatsApp.StateOf
	logoutSession       = pkgWhatsApp.Logout
)

func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx
}

func credentialsFromQuery(c *fiber.Ctx) types.InstanceCredentials {
	return types.InstanceCredentials{
		InstanceID:  c.Query("instance_id"),
		AccessToken: c.Query("access_token"),
	}
}

func missingCredentialFields(creds types.InstanceCredentials) []string {
	var missing []string
	if strings.TrimSpace(creds.InstanceID) == "" {
		missing = append(missing, "instance_id")
	}
	if strings.TrimSpace(creds.AccessToken) == "" {
		missing = append(missing, "access_token")
	}
	return missing
}

func missingFieldsMessage(missing []string) string {
	if len(missing) == 1 {
		return missing[0] + " is required"
	}
	return strings.Join(missing, ", ") + " are required"
}

// Register
// @Summary     Register Instance
// @Description Mint credentials for a user and start a messaging session in the background
// @Tags        Instance
// @Accept      json
// @Produce     json
// @Success     201
// @Router      /register-instance [post]
func Register(c *fiber.Ctx) error {
	var request types.RequestRegisterInstance
	if err := c.BodyParser(&request); err != nil {
		return router.ResponseBadRequest(c, "Failed parse body request")
	}

	if request.UserID <= 0 {
		return router.ResponseBadRequest(c, "user_id is required")
	}

	created, err := createInstance(requestContext(c), request.UserID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return router.ResponseNotFound(c, "User not found")
		}
		log.Op(c, "RegisterInstance").WithError(err).Error("Failed to create instance")
		return router.ResponseInternalError(c, err.Error())
	}

	// Registration only mints credentials; pairing and connecting proceed in
	// the background and are observable through get-status and get-qr-code.
	go func(instanceID string) {
		if _, err := openSession(context.Background(), instanceID); err != nil {
			log.InstanceOp(instanceID, "RegisterInstance").
				WithError(err).Error("Failed to open session")
		}
	}(created.InstanceID)

	log.InstanceOp(created.InstanceID, "RegisterInstance").
		WithField("user_id", created.UserID).
		Info("Instance registered")

	return router.ResponseCreatedWithData(c, "Instance registered successfully", map[string]interface{}{
		"instance_id":  created.InstanceID,
		"access_token": created.AccessToken,
		"state":        string(pkgWhatsApp.StateInitializing),
	})
}

// GetQRCode
// @Summary     Get QR Code
// @Description Fetch the pending QR pairing challenge for an instance
// @Tags        Instance
// @Produce     json
// @Success     200
// @Router      /get-qr-code [get]
func GetQRCode(c *fiber.Ctx) error {
	creds := credentialsFromQuery(c)
	if missing := missingCredentialFields(creds); len(missing) > 0 {
		return router.ResponseBadRequest(c, missingFieldsMessage(missing))
	}

	if !validateCredentials(requestContext(c), creds.InstanceID, creds.AccessToken) {
		return router.ResponseForbidden(c, msgInvalidCredentials)
	}

	qrImage, expiresIn, err := sessionQR(creds.InstanceID)
	if err != nil {
		if errors.Is(err, pkgWhatsApp.ErrSessionNotFound) {
			return router.ResponseNotFound(c, "No session is registered for this instance")
		}
		if errors.Is(err, pkgWhatsApp.ErrNoQRPending) {
			return router.ResponseNotFound(c, "No QR challenge is pending for this instance")
		}
		log.Op(c, "GetQRCode").WithError(err).Error("Failed to fetch QR challenge")
		return router.ResponseInternalError(c, err.Error())
	}

	return router.ResponseSuccessWithData(c, "QR code retrieved successfully", map[string]interface{}{
		"qr_code":    qrImage,
		"expires_in": expiresIn,
	})
}

// GetStatus
// @Summary     Get Instance Status
// @Description Report the lifecycle state of an instance's session
// @Tags        Instance
// @Produce     json
// @Success     200
// @Router      /get-status [get]
func GetStatus(c *fiber.Ctx) error {
	creds := credentialsFromQuery(c)
	if missing := missingCredentialFields(creds); len(missing) > 0 {
		return router.ResponseBadRequest(c, missingFieldsMessage(missing))
	}

	if !validateCredentials(requestContext(c), creds.InstanceID, creds.AccessToken) {
		return router.ResponseForbidden(c, msgInvalidCredentials)
	}

	state, lastError, err := stateOf(creds.InstanceID)
	if err != nil {
		// Valid credentials with no live session read as disconnected; the
		// state machine stays queryable across restarts.
		if errors.Is(err, pkgWhatsApp.ErrSessionNotFound) {
			return router.ResponseSuccessWithData(c, "Instance status retrieved successfully", map[string]interface{}{
				"state": string(pkgWhatsApp.StateDisconnected),
			})
		}
		log.Op(c, "GetStatus").WithError(err).Error("Failed to resolve session state")
		return router.ResponseInternalError(c, err.Error())
	}

	data := map[string]interface{}{
		"state": string(state),
	}
	if lastError != "" {
		data["last_error"] = lastError
	}
	return router.ResponseSuccessWithData(c, "Instance status retrieved successfully", data)
}

// Logout
// @Summary     Logout Instance
// @Description Unpair the device and invalidate the instance credentials
// @Tags        Instance
// @Accept      json
// @Produce     json
// @Success     200
// @Router      /logout-instance [post]
func Logout(c *fiber.Ctx) error {
	var request types.RequestLogoutInstance
	if err := c.BodyParser(&request); err != nil {
		return router.ResponseBadRequest(c, "Failed parse body request")
	}

	if missing := missingCredentialFields(request.InstanceCredentials); len(missing) > 0 {
		return router.ResponseBadRequest(c, missingFieldsMessage(missing))
	}

	ctx := requestContext(c)
	if !validateCredentials(ctx, request.InstanceID, request.AccessToken) {
		return router.ResponseForbidden(c, msgInvalidCredentials)
	}

	if err := logoutSession(ctx, request.InstanceID); err != nil && !errors.Is(err, pkgWhatsApp.ErrSessionNotFound) {
		log.Op(c, "LogoutInstance").WithError(err).Error("Failed to log out session")
		return router.ResponseInternalError(c, err.Error())
	}

	if err := deleteInstance(ctx, request.InstanceID); err != nil {
		log.Op(c, "LogoutInstance").WithError(err).Error("Failed to delete instance credentials")
		return router.ResponseInternalError(c, err.Error())
	}

	log.InstanceOp(request.InstanceID, "LogoutInstance").Info("Instance logged out")

	return router.ResponseSuccess(c, "Instance logged out successfully")
}
