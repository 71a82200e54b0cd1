package router

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/wabridge/go-whatsapp-instance-rest-api/pkg/log"
)

// Response is the uniform envelope for every endpoint: a human-readable
// message plus either a response/results payload on success or an error
// string with upstream detail on failure.
type Response struct {
	Status   bool        `json:"status"`
	Code     int         `json:"code"`
	Message  string      `json:"message"`
	Response interface{} `json:"response,omitempty"`
	Results  interface{} `json:"results,omitempty"`
	Error    string      `json:"error,omitempty"`
}

func logSuccess(c *fiber.Ctx, code int, message string) {
	statusMessage := http.StatusText(code)

	if statusMessage == message || c.OriginalURL() == BaseURL {
		log.Print(c).Info(fmt.Sprintf("%d %v", code, statusMessage))
	} else {
		log.Print(c).Info(fmt.Sprintf("%d %v", code, message))
	}
}

func logError(c *fiber.Ctx, code int, message string) {
	statusMessage := http.StatusText(code)

	if statusMessage == message {
		log.Print(c).Error(fmt.Sprintf("%d %v", code, statusMessage))
	} else {
		log.Print(c).Error(fmt.Sprintf("%d %v", code, message))
	}
}

func successEnvelope(message string) Response {
	response := Response{
		Status: true,
		Code:   http.StatusOK,
	}
	if strings.TrimSpace(message) == "" {
		message = http.StatusText(response.Code)
	}
	response.Message = message
	return response
}

func errorEnvelope(code int, message string) Response {
	response := Response{
		Status: false,
		Code:   code,
	}
	if strings.TrimSpace(message) == "" {
		message = http.StatusText(code)
	}
	response.Message = message
	response.Error = message
	return response
}

func ResponseSuccess(c *fiber.Ctx, message string) error {
	response := successEnvelope(message)
	logSuccess(c, response.Code, response.Message)
	return c.Status(response.Code).JSON(response)
}

func ResponseSuccessWithData(c *fiber.Ctx, message string, data interface{}) error {
	response := successEnvelope(message)
	response.Response = data
	logSuccess(c, response.Code, response.Message)
	return c.Status(response.Code).JSON(response)
}

// ResponseSuccessWithResults is used by bulk operations: partial failure is a
// normal outcome, so the status stays 200 and the per-recipient outcomes ride
// in the results list.
func ResponseSuccessWithResults(c *fiber.Ctx, message string, results interface{}) error {
	response := successEnvelope(message)
	response.Results = results
	logSuccess(c, response.Code, response.Message)
	return c.Status(response.Code).JSON(response)
}

func ResponseCreatedWithData(c *fiber.Ctx, message string, data interface{}) error {
	response := Response{
		Status:   true,
		Code:     http.StatusCreated,
		Response: data,
	}
	if strings.TrimSpace(message) == "" {
		message = http.StatusText(response.Code)
	}
	response.Message = message

	logSuccess(c, response.Code, response.Message)
	return c.Status(response.Code).JSON(response)
}

func ResponseNoContent(c *fiber.Ctx) error {
	return c.SendStatus(http.StatusNoContent)
}

func ResponseBadRequest(c *fiber.Ctx, message string) error {
	response := errorEnvelope(http.StatusBadRequest, message)
	logError(c, response.Code, response.Message)
	return c.Status(response.Code).JSON(response)
}

func ResponseUnauthorized(c *fiber.Ctx, message string) error {
	response := errorEnvelope(http.StatusUnauthorized, message)
	logError(c, response.Code, response.Message)
	return c.Status(response.Code).JSON(response)
}

// ResponseForbidden is the credential-mismatch response: instance ID and
// access token are validated together, and a failed pair always maps to 403.
func ResponseForbidden(c *fiber.Ctx, message string) error {
	response := errorEnvelope(http.StatusForbidden, message)
	logError(c, response.Code, response.Message)
	return c.Status(response.Code).JSON(response)
}

func ResponseNotFound(c *fiber.Ctx, message string) error {
	response := errorEnvelope(http.StatusNotFound, message)
	logError(c, response.Code, response.Message)
	return c.Status(response.Code).JSON(response)
}

func ResponseInternalError(c *fiber.Ctx, message string) error {
	response := errorEnvelope(http.StatusInternalServerError, message)
	logError(c, response.Code, response.Message)
	return c.Status(response.Code).JSON(response)
}

func ResponseBadGateway(c *fiber.Ctx, message string) error {
	response := errorEnvelope(http.StatusBadGateway, message)
	logError(c, response.Code, response.Message)
	return c.Status(response.Code).JSON(response)
}
