package source

import (
	"time"

	"github.com/towfleet/tracking/cli/tracker/model"
)

// Locations is the durable-storage surface for location records. Records are
// append-only: written in batches, read back for enrichment and history,
// removed only by the retention sweep.
type Locations interface {
	// InsertBatch writes all records inside one transaction. Either every
	// record lands or none do.
	InsertBatch(records []model.LocationRecord) error

	// LastByVehicle returns the most recent record for the vehicle, or
	// (nil, nil) when the vehicle has never reported.
	LastByVehicle(vehicleID string) (*model.LocationRecord, error)

	// History returns one page of records within [start, end] ordered by
	// device timestamp, plus the total count for the range.
	History(vehicleID string, start, end time.Time, offset, limit int) ([]model.LocationRecord, int, error)

	// DeleteOlderThan removes at most limit records whose device timestamp
	// precedes cutoff and reports how many went away.
	DeleteOlderThan(cutoff time.Time, limit int) (int64, error)

	// ActiveVehicleCount counts distinct vehicles seen since the given time.
	ActiveVehicleCount(since time.Time) (int, error)
}
