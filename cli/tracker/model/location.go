package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LocationReport is a single position fix handed over by the ingestion
// endpoint. Timestamp is epoch milliseconds as sent by the device.
type LocationReport struct {
	VehicleID          string  `json:"vehicleId" msgpack:"vehicle_id"`
	DispatchID         string  `json:"dispatchId,omitempty" msgpack:"dispatch_id"`
	Latitude           float64 `json:"latitude" msgpack:"latitude"`
	Longitude          float64 `json:"longitude" msgpack:"longitude"`
	Speed              float64 `json:"speed" msgpack:"speed"`
	Timestamp          int64   `json:"timestamp" msgpack:"timestamp"`
	Bearing            float64 `json:"bearing,omitempty" msgpack:"bearing"`
	RegistrationNumber string  `json:"registrationNumber,omitempty" msgpack:"registration_number"`
	PlateNumber        string  `json:"plateNumber,omitempty" msgpack:"plate_number"`
	VehicleColor       string  `json:"vehicleColor,omitempty" msgpack:"vehicle_color"`
	VehicleMake        string  `json:"vehicleMake,omitempty" msgpack:"vehicle_make"`
	VehicleDescription string  `json:"vehicleDescription,omitempty" msgpack:"vehicle_description"`
}

// Validate checks the report invariants. Range violations are a caller error,
// not a transient condition.
func (r *LocationReport) Validate() error {
	if r.VehicleID == "" {
		return fmt.Errorf("empty vehicle id")
	}
	if r.Latitude < -90 || r.Latitude > 90 {
		return fmt.Errorf("latitude %f out of range", r.Latitude)
	}
	if r.Longitude < -180 || r.Longitude > 180 {
		return fmt.Errorf("longitude %f out of range", r.Longitude)
	}
	if r.Speed < 0 {
		return fmt.Errorf("negative speed %f", r.Speed)
	}
	return nil
}

// TravelMetrics is derived from two consecutive fixes of the same vehicle.
type TravelMetrics struct {
	DistanceKm float64 `json:"distanceTraveled" msgpack:"distance_km"`
	BearingDeg int     `json:"bearing" msgpack:"bearing_deg"`
	ETASeconds int     `json:"etaSeconds" msgpack:"eta_seconds"`
}

// EnrichedReport is a report with travel metrics filled in when a previous
// fix for the vehicle was known. For the first fix of a vehicle the metric
// fields stay zero.
type EnrichedReport struct {
	LocationReport
	DistanceTraveled float64 `json:"distanceTraveled" msgpack:"distance_traveled"`
	BearingDeg       int     `json:"bearingDeg" msgpack:"bearing_deg"`
	ETASeconds       int     `json:"etaSeconds" msgpack:"eta_seconds"`
}

// Apply copies computed metrics onto the report. The device-sent bearing is
// overwritten, so clients reading the plain bearing field see the computed
// value.
func (e *EnrichedReport) Apply(m TravelMetrics) {
	e.DistanceTraveled = m.DistanceKm
	e.BearingDeg = m.BearingDeg
	e.Bearing = float64(m.BearingDeg)
	e.ETASeconds = m.ETASeconds
}

// LocationRecord is the persisted form. Immutable once written; removed only
// by the retention sweep.
type LocationRecord struct {
	ID string `json:"id" msgpack:"id"`
	EnrichedReport
	CreatedAt time.Time `json:"createdAt" msgpack:"created_at"`
}

// NewRecord stamps an enriched report with an id and creation time.
func NewRecord(e EnrichedReport) LocationRecord {
	return LocationRecord{
		ID:             uuid.NewString(),
		EnrichedReport: e,
		CreatedAt:      time.Now().UTC(),
	}
}

// Time converts the report's device timestamp to time.Time.
func (r *LocationReport) Time() time.Time {
	return time.UnixMilli(r.Timestamp)
}

// ToBytes serializes the record for queue-style sinks.
func (l *LocationRecord) ToBytes() ([]byte, error) {
	return json.Marshal(l)
}
