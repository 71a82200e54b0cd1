package log

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

var logger = logrus.New()

func init() {
	logger.Formatter = &logrus.TextFormatter{
		TimestampFormat: time.RFC3339,
		FullTimestamp:   true,
		DisableColors:   false,
		ForceColors:     true,
	}
}

// Print returns a log entry enriched with request fields when a fiber context
// is available.
func Print(c *fiber.Ctx) *logrus.Entry {
	if c == nil {
		return logger.WithFields(logrus.Fields{})
	}

	remoteIP := c.IP()
	if v := c.Locals("remote_ip"); v != nil {
		if ip, ok := v.(string); ok && ip != "" {
			remoteIP = ip
		}
	}
	return logger.WithFields(logrus.Fields{
		"remote_ip": remoteIP,
		"method":    c.Method(),
		"uri":       c.OriginalURL(),
	})
}

// Op returns a request-scoped entry tagged with the operation name.
func Op(c *fiber.Ctx, op string) *logrus.Entry {
	return Print(c).WithField("operation", op)
}

// InstanceOp returns a log entry scoped to one messaging operation on one
// instance.
func InstanceOp(instanceID string, op string) *logrus.Entry {
	return logger.WithFields(logrus.Fields{
		"instance_id": MaskSecret(instanceID),
		"operation":   op,
	})
}

// MaskSecret hides all but the last four characters of an identifier so logs
// never carry a full credential.
func MaskSecret(s string) string {
	if len(s) <= 4 {
		return s
	}
	return "..." + s[len(s)-4:]
}
