package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/vmihailenco/msgpack.v2"

	"github.com/towfleet/tracking/cli/tracker/model"
)

// LocationTTL bounds how long a distributed-cache entry stays authoritative.
const LocationTTL = 15 * time.Minute

// Store is the distributed tier of the cache. Implementations must treat a
// missing key as (nil, false, nil), not an error.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// LastKnown keeps the most recent fix per vehicle. The in-process map is the
// source of truth for this instance; the Store mirrors it across instances
// with a TTL. A nil Store degrades to in-process only.
type LastKnown struct {
	store Store

	mu    sync.RWMutex
	local map[string]model.EnrichedReport
}

func NewLastKnown(store Store) *LastKnown {
	return &LastKnown{
		store: store,
		local: make(map[string]model.EnrichedReport),
	}
}

func locationKey(vehicleID string) string {
	return fmt.Sprintf("vehicle:%s:location", vehicleID)
}

// Update overwrites the in-process entry and, when writeThrough is set,
// mirrors it into the distributed store. Store failures are logged and
// swallowed; the local entry is already in place.
func (c *LastKnown) Update(ctx context.Context, e model.EnrichedReport, writeThrough bool) {
	c.mu.Lock()
	c.local[e.VehicleID] = e
	c.mu.Unlock()

	if !writeThrough || c.store == nil {
		return
	}
	raw, err := msgpack.Marshal(&e)
	if err != nil {
		log.WithField("vehicle", e.VehicleID).Debugf("cache encode failed: %v", err)
		return
	}
	if err := c.store.Set(ctx, locationKey(e.VehicleID), raw, LocationTTL); err != nil {
		log.WithField("vehicle", e.VehicleID).Debugf("distributed cache write failed: %v", err)
	}
}

// Lookup returns the last known fix, in-process first, distributed store
// second. A store hit is promoted into the local map.
func (c *LastKnown) Lookup(ctx context.Context, vehicleID string) (model.EnrichedReport, bool) {
	c.mu.RLock()
	e, ok := c.local[vehicleID]
	c.mu.RUnlock()
	if ok {
		return e, true
	}

	if c.store == nil {
		return model.EnrichedReport{}, false
	}
	raw, found, err := c.store.Get(ctx, locationKey(vehicleID))
	if err != nil {
		log.WithField("vehicle", vehicleID).Debugf("distributed cache read failed: %v", err)
		return model.EnrichedReport{}, false
	}
	if !found {
		return model.EnrichedReport{}, false
	}
	if err := msgpack.Unmarshal(raw, &e); err != nil {
		log.WithField("vehicle", vehicleID).Debugf("cache decode failed: %v", err)
		return model.EnrichedReport{}, false
	}

	c.mu.Lock()
	c.local[vehicleID] = e
	c.mu.Unlock()
	return e, true
}

// Promote installs a fix loaded from durable storage into both tiers.
func (c *LastKnown) Promote(ctx context.Context, e model.EnrichedReport) {
	c.Update(ctx, e, true)
}
