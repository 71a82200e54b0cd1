package message

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/wabridge/go-whatsapp-instance-rest-api/internal/types"
	"github.com/wabridge/go-whatsapp-instance-rest-api/pkg/log"
	"github.com/wabridge/go-whatsapp-instance-rest-api/pkg/router"
	"github.com/wabridge/go-whatsapp-instance-rest-api/pkg/store"
	"github.com/wabridge/go-whatsapp-instance-rest-api/pkg/validation"
	pkgWhatsApp "github.com/wabridge/go-whatsapp-instance-rest-api/pkg/whatsapp"
)

const msgInvalidCredentials = "Invalid instance ID or access token."

// Seams for handler tests; production wiring is the package defaults.
var (
	validateCredentials = store.ValidateInstance
	sendText            = pkgWhatsApp.SendText
	sendImage           = pkgWhatsApp.SendImage
	sendDocument        = pkgWhatsApp.SendDocument
	fetchMedia          = pkgWhatsApp.FetchMedia
	getUserProfile      = pkgWhatsApp.GetUserProfile
)

type requiredField struct {
	name  string
	value string
}

// missingFields returns the names of empty required fields, in declaration
// order, so a 400 enumerates everything the caller forgot at once.
func missingFields(fields ...requiredField) []string {
	var missing []string
	for _, field := range fields {
		if strings.TrimSpace(field.value) == "" {
			missing = append(missing, field.name)
		}
	}
	return missing
}

func missingFieldsMessage(missing []string) string {
	if len(missing) == 1 {
		return missing[0] + " is required"
	}
	return strings.Join(missing, ", ") + " are required"
}

func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx
}

func authorize(c *fiber.Ctx, creds types.InstanceCredentials, op string) bool {
	if !validateCredentials(requestContext(c), creds.InstanceID, creds.AccessToken) {
		log.Op(c, op).
			WithField("instance_id", log.MaskSecret(creds.InstanceID)).
			Warn("Credential pair rejected")
		return false
	}
	return true
}

func sendErrorResponse(c *fiber.Ctx, op string, err error) error {
	log.Op(c, op).WithError(err).Error("Send operation failed")
	return router.ResponseInternalError(c, err.Error())
}

// SendText
// @Summary     Send Text Message
// @Description Send a text message from an instance to one recipient
// @Tags        Message
// @Accept      json
// @Produce     json
// @Success     200
// @Router      /send-text [post]
func SendText(c *fiber.Ctx) error {
	var request types.RequestSendText
	if err := c.BodyParser(&request); err != nil {
		return router.ResponseBadRequest(c, "Failed parse body request")
	}

	missing := missingFields(
		requiredField{"instance_id", request.InstanceID},
		requiredField{"access_token", request.AccessToken},
		requiredField{"number", request.Number},
		requiredField{"message", request.Message},
	)
	if len(missing) > 0 {
		return router.ResponseBadRequest(c, missingFieldsMessage(missing))
	}

	if !authorize(c, request.InstanceCredentials, "SendText") {
		return router.ResponseForbidden(c, msgInvalidCredentials)
	}

	if err := validation.ValidatePhone(request.Number); err != nil {
		return router.ResponseBadRequest(c, err.Error())
	}
	if err := validation.ValidateMessageText(request.Message); err != nil {
		return router.ResponseBadRequest(c, err.Error())
	}

	messageID, err := sendText(requestContext(c), request.InstanceID, request.Number, request.Message)
	if err != nil {
		return sendErrorResponse(c, "SendText", err)
	}

	log.InstanceOp(request.InstanceID, "SendText").
		WithField("message_id", messageID).
		WithField("emoji_only", validation.IsEmojiOnly(request.Message)).
		Info("Text message sent")

	return router.ResponseSuccessWithData(c, "Message sent successfully!", map[string]interface{}{
		"message_id": messageID,
	})
}

// SendBulkText
// @Summary     Send Bulk Text Message
// @Description Send the same text message to many recipients, reporting each outcome independently
// @Tags        Message
// @Accept      json
// @Produce     json
// @Success     200
// @Router      /send-bulk-text [post]
func SendBulkText(c *fiber.Ctx) error {
	var request types.RequestSendBulkText
	if err := c.BodyParser(&request); err != nil {
		return router.ResponseBadRequest(c, "Failed parse body request")
	}

	missing := missingFields(
		requiredField{"instance_id", request.InstanceID},
		requiredField{"access_token", request.AccessToken},
		requiredField{"message", request.Message},
	)
	if len(request.Numbers) == 0 {
		missing = append(missing, "numbers")
	}
	if len(missing) > 0 {
		return router.ResponseBadRequest(c, missingFieldsMessage(missing))
	}

	if !authorize(c, request.InstanceCredentials, "SendBulkText") {
		return router.ResponseForbidden(c, msgInvalidCredentials)
	}

	if err := validation.ValidateMessageText(request.Message); err != nil {
		return router.ResponseBadRequest(c, err.Error())
	}

	ctx := requestContext(c)
	results := make([]types.BulkSendResult, 0, len(request.Numbers))
	sent := 0
	for _, number := range request.Numbers {
		result := types.BulkSendResult{Number: number}
		if err := validation.ValidatePhone(number); err != nil {
			result.Status = types.BulkStatusFailed
			result.Error = err.Error()
			results = append(results, result)
			continue
		}
		messageID, err := sendText(ctx, request.InstanceID, number, request.Message)
		if err != nil {
			result.Status = types.BulkStatusFailed
			result.Error = err.Error()
		} else {
			result.Status = types.BulkStatusSent
			result.Response = messageID
			sent++
		}
		results = append(results, result)
	}

	log.InstanceOp(request.InstanceID, "SendBulkText").
		WithField("total", len(request.Numbers)).
		WithField("sent", sent).
		Info("Bulk text send finished")

	return router.ResponseSuccessWithResults(c, "Bulk send finished", results)
}

// SendMedia
// @Summary     Send Media Message
// @Description Download media from a URL and send it as an image or document message
// @Tags        Message
// @Accept      json
// @Produce     json
// @Success     200
// @Router      /send-media [post]
func SendMedia(c *fiber.Ctx) error {
	var request types.RequestSendMedia
	if err := c.BodyParser(&request); err != nil {
		return router.ResponseBadRequest(c, "Failed parse body request")
	}

	missing := missingFields(
		requiredField{"instance_id", request.InstanceID},
		requiredField{"access_token", request.AccessToken},
		requiredField{"number", request.Number},
		requiredField{"media_url", request.MediaURL},
	)
	if len(missing) > 0 {
		return router.ResponseBadRequest(c, missingFieldsMessage(missing))
	}

	if !authorize(c, request.InstanceCredentials, "SendMedia") {
		return router.ResponseForbidden(c, msgInvalidCredentials)
	}

	if err := validation.ValidatePhone(request.Number); err != nil {
		return router.ResponseBadRequest(c, err.Error())
	}
	if err := validation.ValidateURL(request.MediaURL); err != nil {
		return router.ResponseBadRequest(c, err.Error())
	}

	ctx := requestContext(c)
	media, err := fetchMedia(ctx, request.MediaURL)
	if err != nil {
		log.Op(c, "SendMedia").WithError(err).Error("Failed to fetch media")
		return router.ResponseInternalError(c, "Failed to fetch media: "+err.Error())
	}

	fileName := request.FileName
	if fileName == "" {
		fileName = media.FileName
	}

	var messageID string
	if media.IsImage() {
		messageID, err = sendImage(ctx, request.InstanceID, request.Number, media.Bytes, media.MimeType, request.Caption)
	} else {
		messageID, err = sendDocument(ctx, request.InstanceID, request.Number, media.Bytes, media.MimeType, fileName)
	}
	if err != nil {
		return sendErrorResponse(c, "SendMedia", err)
	}

	log.InstanceOp(request.InstanceID, "SendMedia").
		WithField("message_id", messageID).
		WithField("mime_type", media.MimeType).
		Info("Media message sent")

	return router.ResponseSuccessWithData(c, "Message sent successfully!", map[string]interface{}{
		"message_id": messageID,
	})
}

// GetUserProfile
// @Summary     Get User Profile
// @Description Resolve a recipient number to its registration status and profile details
// @Tags        Message
// @Accept      json
// @Produce     json
// @Success     200
// @Router      /get-user-profile [post]
func GetUserProfile(c *fiber.Ctx) error {
	var request types.RequestUserProfile
	if err := c.BodyParser(&request); err != nil {
		return router.ResponseBadRequest(c, "Failed parse body request")
	}

	missing := missingFields(
		requiredField{"instance_id", request.InstanceID},
		requiredField{"access_token", request.AccessToken},
		requiredField{"number", request.Number},
	)
	if len(missing) > 0 {
		return router.ResponseBadRequest(c, missingFieldsMessage(missing))
	}

	if !authorize(c, request.InstanceCredentials, "GetUserProfile") {
		return router.ResponseForbidden(c, msgInvalidCredentials)
	}

	if err := validation.ValidatePhone(request.Number); err != nil {
		return router.ResponseBadRequest(c, err.Error())
	}

	profile, err := getUserProfile(requestContext(c), request.InstanceID, request.Number)
	if err != nil {
		return sendErrorResponse(c, "GetUserProfile", err)
	}

	return router.ResponseSuccessWithData(c, "User profile retrieved successfully", profile)
}
