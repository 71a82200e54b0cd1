package router

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cache"
	"github.com/gofiber/fiber/v2/utils"
)

// HttpCacheInMemory caches only the uncredentialed surface: the index page
// and the docs. Credentialed and admin endpoints are never served from
// cache, since a cache hit would replay one caller's response to another and
// skip credential validation entirely.
func HttpCacheInMemory(ttl int) fiber.Handler {
	if ttl <= 0 {
		ttl = 5
	}
	return cache.New(cache.Config{
		Next: func(c *fiber.Ctx) bool {
			return c.Method() != fiber.MethodGet || !cacheablePath(c.Path())
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return utils.CopyString(c.OriginalURL())
		},
		Expiration: time.Duration(ttl) * time.Second,
	})
}

func cacheablePath(path string) bool {
	if path == "/" || path == BaseURL || path == BaseURL+"/" {
		return true
	}
	return strings.HasPrefix(path, BaseURL+"/docs")
}
