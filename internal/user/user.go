package user

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wabridge/go-whatsapp-instance-rest-api/internal/types"
	"github.com/wabridge/go-whatsapp-instance-rest-api/pkg/log"
	"github.com/wabridge/go-whatsapp-instance-rest-api/pkg/router"
	"github.com/wabridge/go-whatsapp-instance-rest-api/pkg/store"
	"github.com/wabridge/go-whatsapp-instance-rest-api/pkg/validation"
)

const minPasswordLength = 8

var createUser = store.CreateUser

func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Create
// @Summary     Create User
// @Description Register a user account that can own a messaging instance
// @Tags        User
// @Accept      json
// @Produce     json
// @Success     201
// @Router      /users [post]
func Create(c *fiber.Ctx) error {
	var request types.RequestCreateUser
	if err := c.BodyParser(&request); err != nil {
		return router.ResponseBadRequest(c, "Failed parse body request")
	}

	var missing []string
	for _, field := range []struct {
		name  string
		value string
	}{
		{"first_name", request.FirstName},
		{"last_name", request.LastName},
		{"whatsapp_number", request.WhatsAppNumber},
		{"email", request.Email},
		{"password", request.Password},
	} {
		if strings.TrimSpace(field.value) == "" {
			missing = append(missing, field.name)
		}
	}
	if len(missing) == 1 {
		return router.ResponseBadRequest(c, missing[0]+" is required")
	}
	if len(missing) > 1 {
		return router.ResponseBadRequest(c, strings.Join(missing, ", ")+" are required")
	}

	if err := validation.ValidatePhone(request.WhatsAppNumber); err != nil {
		return router.ResponseBadRequest(c, err.Error())
	}
	if err := validation.ValidateEmail(request.Email); err != nil {
		return router.ResponseBadRequest(c, err.Error())
	}
	if len(request.Password) < minPasswordLength {
		return router.ResponseBadRequest(c, "password must be at least 8 characters")
	}

	created, err := createUser(requestContext(c),
		request.FirstName, request.LastName, request.WhatsAppNumber, request.Email, request.Password)
	if err != nil {
		if isUniqueViolation(err) {
			return router.ResponseBadRequest(c, "whatsapp_number or email is already registered")
		}
		log.Op(c, "CreateUser").WithError(err).Error("Failed to create user")
		return router.ResponseInternalError(c, err.Error())
	}

	log.Op(c, "CreateUser").WithField("user_id", created.ID).Info("User created")

	return router.ResponseCreatedWithData(c, "User created successfully", map[string]interface{}{
		"user_id": created.ID,
	})
}
