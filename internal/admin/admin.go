package admin

import (
	"context"
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"

	"github.com/wabridge/go-whatsapp-instance-rest-api/pkg/env"
	"github.com/wabridge/go-whatsapp-instance-rest-api/pkg/log"
	"github.com/wabridge/go-whatsapp-instance-rest-api/pkg/router"
	"github.com/wabridge/go-whatsapp-instance-rest-api/pkg/store"
	pkgWhatsApp "github.com/wabridge/go-whatsapp-instance-rest-api/pkg/whatsapp"
)

// RequireSecret guards the admin surface with a shared secret header. With no
// ADMIN_SECRET configured the surface is disabled entirely.
func RequireSecret(c *fiber.Ctx) error {
	secret, err := env.GetEnvString("ADMIN_SECRET")
	if err != nil || secret == "" {
		return router.ResponseNotFound(c, "Not Found")
	}
	provided := c.Get("X-Admin-Secret")
	if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
		log.Op(c, "Admin").Warn("Admin secret rejected")
		return router.ResponseUnauthorized(c, "Invalid admin secret")
	}
	return c.Next()
}

func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx
}

// Stats
// @Summary     Admin Stats
// @Description Report user, instance, and live session counts
// @Tags        Admin
// @Produce     json
// @Success     200
// @Router      /admin/stats [get]
func Stats(c *fiber.Ctx) error {
	ctx := requestContext(c)

	userCount, err := store.CountUsers(ctx)
	if err != nil {
		log.Op(c, "AdminStats").WithError(err).Error("Failed to count users")
		return router.ResponseInternalError(c, err.Error())
	}
	instanceCount, err := store.CountInstances(ctx)
	if err != nil {
		log.Op(c, "AdminStats").WithError(err).Error("Failed to count instances")
		return router.ResponseInternalError(c, err.Error())
	}

	states := make(map[string]int)
	pkgWhatsApp.RangeSessions(func(instanceID string, session *pkgWhatsApp.Session) {
		states[string(session.State())]++
	})

	return router.ResponseSuccessWithData(c, "Stats retrieved successfully", map[string]interface{}{
		"users":          userCount,
		"instances":      instanceCount,
		"sessions":       pkgWhatsApp.SessionsLen(),
		"session_states": states,
	})
}

// Health
// @Summary     Admin Health
// @Description Verify the datastore is reachable
// @Tags        Admin
// @Produce     json
// @Success     200
// @Router      /admin/health [get]
func Health(c *fiber.Ctx) error {
	if err := store.Ping(requestContext(c)); err != nil {
		log.Op(c, "AdminHealth").WithError(err).Error("Datastore ping failed")
		return router.ResponseInternalError(c, "datastore unreachable: "+err.Error())
	}
	return router.ResponseSuccess(c, "Service is healthy")
}
