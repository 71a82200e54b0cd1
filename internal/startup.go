package internal

import (
	"context"
	mathrand "math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/wabridge/go-whatsapp-instance-rest-api/pkg/env"
	"github.com/wabridge/go-whatsapp-instance-rest-api/pkg/log"
	"github.com/wabridge/go-whatsapp-instance-rest-api/pkg/store"
	pkgWhatsApp "github.com/wabridge/go-whatsapp-instance-rest-api/pkg/whatsapp"
)

func jitterSleep(max time.Duration) {
	if max <= 0 {
		return
	}
	ms := mathrand.Int64N(max.Milliseconds() + 1)
	time.Sleep(time.Duration(ms) * time.Millisecond)
}

func openWithRetry(instanceID string, retries int, baseBackoff time.Duration, maxBackoff time.Duration) error {
	if baseBackoff <= 0 {
		baseBackoff = 2 * time.Second
	}
	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Second
	}
	if retries < 1 {
		retries = 1
	}

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		_, lastErr = pkgWhatsApp.Open(context.Background(), instanceID)
		if lastErr == nil {
			return nil
		}

		// Exponential backoff with small jitter.
		backoff := baseBackoff * time.Duration(1<<(attempt-1))
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
		jitter := time.Duration(mathrand.Int64N(int64(500*time.Millisecond) + 1))
		time.Sleep(backoff + jitter)
	}
	return lastErr
}

// routingIndex maps each actively routed store JID to its instance for the
// restore pass. Inactive rows and reservations without a JID are skipped.
func routingIndex(routings []store.InstanceRouting) map[string]string {
	index := make(map[string]string, len(routings))
	for _, routing := range routings {
		if !routing.IsActive || routing.StoreJID == "" {
			continue
		}
		index[routing.StoreJID] = routing.InstanceID
	}
	return index
}

// Startup restores a session for every paired device found in the datastore,
// fanning out with bounded concurrency so a large fleet does not stampede the
// upstream servers on boot.
func Startup() {
	log.Print(nil).Info("Running Startup Tasks")

	ctx := context.Background()

	datastore, err := pkgWhatsApp.Datastore()
	if err != nil {
		log.Print(nil).WithError(err).Error("Failed to open WhatsApp datastore")
		return
	}

	devices, err := datastore.GetAllDevices(ctx)
	if err != nil {
		log.Print(nil).WithError(err).Error("Failed to load devices from datastore")
		return
	}

	routings, err := store.ListInstanceRoutings(ctx)
	if err != nil {
		log.Print(nil).WithError(err).Error("Failed to load instance routings")
		return
	}
	routedInstances := routingIndex(routings)

	maxConcurrent := env.GetEnvIntOrDefault("WHATSAPP_STARTUP_RESTORE_CONCURRENCY", 10)
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	jitterMax := env.GetEnvDurationOrDefault("WHATSAPP_STARTUP_RESTORE_JITTER_MAX", 5*time.Second)
	retries := env.GetEnvIntOrDefault("WHATSAPP_STARTUP_RESTORE_RETRIES", 5)
	baseBackoff := env.GetEnvDurationOrDefault("WHATSAPP_STARTUP_RESTORE_BACKOFF_BASE", 2*time.Second)
	maxBackoff := env.GetEnvDurationOrDefault("WHATSAPP_STARTUP_RESTORE_BACKOFF_MAX", 30*time.Second)

	var restored, failed int64
	sem := semaphore.NewWeighted(int64(maxConcurrent))
	var wg sync.WaitGroup

	for _, device := range devices {
		if device == nil || device.ID == nil {
			continue
		}
		storeJID := device.ID.String()
		instanceID, ok := routedInstances[storeJID]
		if !ok {
			log.Print(nil).Warn("No instance routed to device " + log.MaskSecret(storeJID) + ", skipping restore")
			continue
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(instanceID string) {
			defer wg.Done()
			defer sem.Release(1)

			jitterSleep(jitterMax)
			log.InstanceOp(instanceID, "Startup").Info("Restoring session")

			if err := openWithRetry(instanceID, retries, baseBackoff, maxBackoff); err != nil {
				log.InstanceOp(instanceID, "Startup").WithError(err).Warn("Failed to restore session")
				atomic.AddInt64(&failed, 1)
				return
			}
			atomic.AddInt64(&restored, 1)
		}(instanceID)
	}

	wg.Wait()
	log.Print(nil).
		WithField("restored", restored).
		WithField("failed", failed).
		WithField("concurrency", maxConcurrent).
		Info("Startup restore pass complete")
}
