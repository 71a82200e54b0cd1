package internal

import (
	"github.com/gofiber/fiber/v2"
	swagger "github.com/gofiber/swagger"

	"github.com/wabridge/go-whatsapp-instance-rest-api/pkg/router"

	ctlAdmin "github.com/wabridge/go-whatsapp-instance-rest-api/internal/admin"
	ctlIndex "github.com/wabridge/go-whatsapp-instance-rest-api/internal/index"
	ctlInstance "github.com/wabridge/go-whatsapp-instance-rest-api/internal/instance"
	ctlMessage "github.com/wabridge/go-whatsapp-instance-rest-api/internal/message"
	ctlUser "github.com/wabridge/go-whatsapp-instance-rest-api/internal/user"
)

func Routes(app *fiber.App) {
	// Configure OpenAPI / Swagger
	specURL := router.BaseURL + "/docs/swagger.json"
	swaggerHandler := swagger.New(swagger.Config{
		URL: specURL,
	})

	// Route for Index
	// ---------------------------------------------
	if router.BaseURL == "" {
		app.Get("/", ctlIndex.Index)
	} else {
		app.Get(router.BaseURL, ctlIndex.Index)
		app.Get(router.BaseURL+"/", ctlIndex.Index)
	}

	// Route for OpenAPI / Swagger
	// ---------------------------------------------
	app.Get(router.BaseURL+"/docs/swagger.json", func(c *fiber.Ctx) error {
		return c.SendFile("docs/swagger.json")
	})
	app.Get(router.BaseURL+"/docs/*", swaggerHandler)

	// User routes
	app.Post(router.BaseURL+"/users", ctlUser.Create)

	// Instance lifecycle routes. Credentials travel in the body for writes
	// and in query parameters for reads.
	app.Post(router.BaseURL+"/register-instance", ctlInstance.Register)
	app.Get(router.BaseURL+"/get-qr-code", ctlInstance.GetQRCode)
	app.Get(router.BaseURL+"/get-status", ctlInstance.GetStatus)
	app.Post(router.BaseURL+"/logout-instance", ctlInstance.Logout)

	// Messaging routes
	app.Post(router.BaseURL+"/send-text", ctlMessage.SendText)
	app.Post(router.BaseURL+"/send-bulk-text", ctlMessage.SendBulkText)
	app.Post(router.BaseURL+"/send-media", ctlMessage.SendMedia)
	app.Post(router.BaseURL+"/get-user-profile", ctlMessage.GetUserProfile)

	// Admin routes (X-Admin-Secret authentication)
	app.Get(router.BaseURL+"/admin/stats", ctlAdmin.RequireSecret, ctlAdmin.Stats)
	app.Get(router.BaseURL+"/admin/health", ctlAdmin.RequireSecret, ctlAdmin.Health)
}
