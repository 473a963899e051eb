package core

import (
	"context"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/signalcore/trip"
)

const persistenceTimeout = 5 * time.Second

// setupTripPersistence creates the trip KV bucket and resumes a persisted
// active trip, when a bucket is configured. Persistence failures degrade
// to volatile trip state rather than failing the pipeline.
func (c *Core) setupTripPersistence(ctx context.Context) {
	bucketName := c.cfg.Trip.PersistenceBucket
	if bucketName == "" {
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, persistenceTimeout)
	defer cancel()

	bucket, err := c.client.CreateKeyValueBucket(opCtx, jetstream.KeyValueConfig{
		Bucket:      bucketName,
		Description: "persisted trip accumulators",
	})
	if err != nil {
		c.logger.Warn("trip persistence unavailable, keeping trip state volatile",
			"bucket", bucketName,
			"error", err)
		return
	}

	persistence := trip.NewKVPersistence(bucket)

	c.persistMu.Lock()
	c.persistence = persistence
	c.persistMu.Unlock()

	saved, found, err := persistence.Load(opCtx)
	if err != nil {
		c.logger.Warn("loading persisted trip failed", "error", err)
		return
	}
	if !found || !saved.Active {
		return
	}

	if err := c.aggregator.Resume(saved); err != nil {
		c.logger.Warn("resuming persisted trip failed", "error", err)
		return
	}
	c.logger.Info("resumed persisted trip",
		"distance", saved.Distance,
		"odometer_baseline", saved.OdometerBaseline)
}

// saveTrip persists the current trip state at shutdown.
func (c *Core) saveTrip() {
	c.persistMu.Lock()
	persistence := c.persistence
	c.persistMu.Unlock()
	if persistence == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistenceTimeout)
	defer cancel()

	if err := persistence.Save(ctx, c.aggregator.State()); err != nil {
		c.logger.Warn("persisting trip state failed", "error", err)
	}
}

// clearTrip removes the persisted trip state after an explicit reset.
func (c *Core) clearTrip() {
	c.persistMu.Lock()
	persistence := c.persistence
	c.persistMu.Unlock()
	if persistence == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistenceTimeout)
	defer cancel()

	if err := persistence.Clear(ctx); err != nil {
		c.logger.Warn("clearing persisted trip state failed", "error", err)
	}
}
