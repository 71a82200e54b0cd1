package internal

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/wabridge/go-whatsapp-instance-rest-api/pkg/log"
	"github.com/wabridge/go-whatsapp-instance-rest-api/pkg/store"
	pkgWhatsApp "github.com/wabridge/go-whatsapp-instance-rest-api/pkg/whatsapp"
)

// Routines wires the periodic health check that keeps the routing table's
// active flag in step with what each client actually reports.
func Routines(cron *cron.Cron) {
	log.Print(nil).Info("Running Routine Tasks")

	if isHealthCheckEnabled() {
		_, err := cron.AddFunc("0 */5 * * * *", func() {
			if pkgWhatsApp.SessionsLen() == 0 {
				return
			}
			pkgWhatsApp.RangeSessions(func(instanceID string, session *pkgWhatsApp.Session) {
				healthy := session.Healthy()
				state := session.State()
				if state == pkgWhatsApp.StateReady && !healthy {
					log.InstanceOp(instanceID, "HealthCheck").Warn("Session unhealthy")
				} else {
					log.InstanceOp(instanceID, "HealthCheck").
						WithField("state", string(state)).
						Debug("Session checked")
				}
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				_ = store.SetRoutingActive(ctx, instanceID, healthy)
				cancel()
			})
		})
		if err != nil {
			log.Print(nil).WithField("error", err.Error()).Error("Failed to add health check cron job")
		}
	} else {
		log.Print(nil).Info("Health check cron disabled; relying on client event handlers")
	}

	cron.Start()
}

func isHealthCheckEnabled() bool {
	envValue, ok := os.LookupEnv("WHATSAPP_ENABLE_HEALTH_CHECK_CRON")
	if !ok {
		return true
	}
	enabled, err := strconv.ParseBool(envValue)
	if err != nil {
		log.Print(nil).Warn("Invalid WHATSAPP_ENABLE_HEALTH_CHECK_CRON value; defaulting to enabled")
		return true
	}
	return enabled
}
