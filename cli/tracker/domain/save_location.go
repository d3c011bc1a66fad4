package domain

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/towfleet/tracking/cli/tracker/cache"
	"github.com/towfleet/tracking/cli/tracker/model"
)

const (
	DefaultTimestampThreshold = 60 * time.Second
	DefaultCacheWriteProb     = 0.1
	DefaultBusSampleProb      = 0.2

	busLocationChannel = "tracking:location:update"

	alertTypeGeofence = "GEOFENCE_VIOLATION"
	alertTypeSpeed    = "SPEED_VIOLATION"
	eventGeofence     = "geofenceAlert"
	eventSpeed        = "speedAlert"
)

// Broadcaster is the real-time fanout surface consumed by the ingestion
// pipeline.
type Broadcaster interface {
	BroadcastLocation(ctx context.Context, e *model.EnrichedReport)
	EmitAlert(ctx context.Context, dispatchID, event string, payload interface{})
}

// Sink accepts records for durable persistence. Enqueue must not block.
type Sink interface {
	Enqueue(rec model.LocationRecord)
}

// BusPublisher is the cross-instance event bus surface.
type BusPublisher interface {
	Publish(channel string, payload []byte) error
}

// LastLocationRepo is the durable fallback for enrichment lookups.
type LastLocationRepo interface {
	GetLastKnownLocation(vehicleID string) (*model.LocationRecord, error)
}

// Alert is the payload of geofence and speed violation events.
type Alert struct {
	VehicleID  string  `json:"vehicleId"`
	DispatchID string  `json:"dispatchId"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	Timestamp  int64   `json:"timestamp"`
	AlertType  string  `json:"alertType"`
	Speed      float64 `json:"speed,omitempty"`
	MaxSpeed   float64 `json:"maxSpeed,omitempty"`
}

// SaveLocationSettings are the ingestion knobs, resolved from config.
type SaveLocationSettings struct {
	TimestampThreshold time.Duration
	PersistEnabled     bool
	GeofenceEnabled    bool
	SpeedAlertEnabled  bool
	MaxSpeed           float64

	// CacheWriteProb is the fraction of updates mirrored into the
	// distributed cache; BusSampleProb the fraction published
	// cross-instance when no violation forces it. Load shedding knobs: 1.0
	// buys convergence at full write volume.
	CacheWriteProb float64
	BusSampleProb  float64
}

func (s *SaveLocationSettings) applyDefaults() {
	if s.TimestampThreshold <= 0 {
		s.TimestampThreshold = DefaultTimestampThreshold
	}
	if s.CacheWriteProb <= 0 {
		s.CacheWriteProb = DefaultCacheWriteProb
	}
	if s.BusSampleProb <= 0 {
		s.BusSampleProb = DefaultBusSampleProb
	}
}

// SaveLocation is the ingestion use-case: one call per incoming report.
// Collaborator failures never surface to the caller; the only negative
// results are invalid and stale reports.
type SaveLocation struct {
	Settings SaveLocationSettings

	Cache       *cache.LastKnown
	Alerts      *GeoAlerts
	Queue       Sink
	Broadcaster Broadcaster
	Bus         BusPublisher
	Repository  LastLocationRepo

	now    func() time.Time
	random func() float64
}

func NewSaveLocation(settings SaveLocationSettings, c *cache.LastKnown, alerts *GeoAlerts,
	queue Sink, broadcaster Broadcaster, bus BusPublisher, repo LastLocationRepo) *SaveLocation {
	settings.applyDefaults()
	return &SaveLocation{
		Settings:    settings,
		Cache:       c,
		Alerts:      alerts,
		Queue:       queue,
		Broadcaster: broadcaster,
		Bus:         bus,
		Repository:  repo,
		now:         time.Now,
		random:      rand.Float64,
	}
}

// Run processes one report through the pipeline. Returns false when the
// report is rejected; true once every best-effort step has been dispatched.
func (s *SaveLocation) Run(ctx context.Context, report model.LocationReport) bool {
	if err := report.Validate(); err != nil {
		log.Debugf("Rejected location report: %v", err)
		return false
	}

	age := s.now().Sub(report.Time())
	if age > s.Settings.TimestampThreshold {
		if age > 2*s.Settings.TimestampThreshold {
			log.Warnf("Rejected outdated location update for vehicle %s (age %s)",
				report.VehicleID, age)
		}
		return false
	}

	violation := false
	if s.Settings.GeofenceEnabled && s.Alerts != nil {
		if !s.Alerts.IsWithinGeofence(&report) {
			violation = true
			log.Warnf("Vehicle %s outside permitted geofence: %f, %f",
				report.VehicleID, report.Latitude, report.Longitude)
			s.emitAlert(ctx, eventGeofence, Alert{
				VehicleID:  report.VehicleID,
				DispatchID: report.DispatchID,
				Latitude:   report.Latitude,
				Longitude:  report.Longitude,
				Timestamp:  report.Timestamp,
				AlertType:  alertTypeGeofence,
			})
		}
	}

	if s.Settings.SpeedAlertEnabled && s.Alerts != nil {
		if s.Alerts.ExceedsSpeedLimit(&report) {
			violation = true
			log.Warnf("Vehicle %s exceeding speed limit: %.1f km/h (max %.1f)",
				report.VehicleID, report.Speed, s.Settings.MaxSpeed)
			s.emitAlert(ctx, eventSpeed, Alert{
				VehicleID:  report.VehicleID,
				DispatchID: report.DispatchID,
				Latitude:   report.Latitude,
				Longitude:  report.Longitude,
				Timestamp:  report.Timestamp,
				AlertType:  alertTypeSpeed,
				Speed:      report.Speed,
				MaxSpeed:   s.Settings.MaxSpeed,
			})
		}
	}

	enriched := model.EnrichedReport{LocationReport: report}
	if prev, ok := s.previousFix(ctx, report.VehicleID); ok {
		enriched.Apply(ComputeTravelMetrics(&prev, &report))
	}

	s.Cache.Update(ctx, enriched, s.random() < s.Settings.CacheWriteProb)

	if s.Settings.PersistEnabled && s.Queue != nil {
		s.Queue.Enqueue(model.NewRecord(enriched))
	}

	if s.Broadcaster != nil {
		s.Broadcaster.BroadcastLocation(ctx, &enriched)
	}

	if s.Bus != nil && (violation || s.random() < s.Settings.BusSampleProb) {
		if payload, err := json.Marshal(&enriched); err == nil {
			if err := s.Bus.Publish(busLocationChannel, payload); err != nil {
				log.Debugf("Cross-instance publish failed for vehicle %s: %v",
					report.VehicleID, err)
			}
		}
	}

	if s.random() < 0.05 {
		log.Debugf("Location updated for vehicle %s", report.VehicleID)
	}
	return true
}

// previousFix resolves the vehicle's last fix: in-process cache, distributed
// cache, then durable storage, promoting storage hits into the cache.
func (s *SaveLocation) previousFix(ctx context.Context, vehicleID string) (model.LocationReport, bool) {
	if e, ok := s.Cache.Lookup(ctx, vehicleID); ok {
		return e.LocationReport, true
	}

	if s.Repository == nil {
		return model.LocationReport{}, false
	}
	rec, err := s.Repository.GetLastKnownLocation(vehicleID)
	if err != nil {
		log.Debugf("Last known location lookup failed for vehicle %s: %v", vehicleID, err)
		return model.LocationReport{}, false
	}
	if rec == nil {
		return model.LocationReport{}, false
	}

	s.Cache.Promote(ctx, rec.EnrichedReport)
	return rec.LocationReport, true
}

func (s *SaveLocation) emitAlert(ctx context.Context, event string, a Alert) {
	if s.Broadcaster == nil {
		return
	}
	go s.Broadcaster.EmitAlert(ctx, a.DispatchID, event, a)
}
