package domain

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/towfleet/tracking/cli/tracker/model"
)

// Membership verdicts are cached per ~1.1 km grid cell; a cell does not
// change sides between vehicle passes, so the TTL can be long.
const geofenceCellTTL = 30 * time.Minute

// RegionChecker answers whether a coordinate lies inside the permitted area.
type RegionChecker interface {
	Contains(lat, lng float64) bool
}

// Rect is an axis-aligned lat/lng bounding box.
type Rect struct {
	MinLat float64 `yaml:"min_lat"`
	MaxLat float64 `yaml:"max_lat"`
	MinLng float64 `yaml:"min_lng"`
	MaxLng float64 `yaml:"max_lng"`
}

func (r Rect) Contains(lat, lng float64) bool {
	return lat >= r.MinLat && lat <= r.MaxLat && lng >= r.MinLng && lng <= r.MaxLng
}

// RectSet is a RegionChecker over multiple boxes; a point is within the
// geofence when any box contains it.
type RectSet []Rect

func (s RectSet) Contains(lat, lng float64) bool {
	for _, r := range s {
		if r.Contains(lat, lng) {
			return true
		}
	}
	return false
}

type cellVerdict struct {
	within  bool
	expires time.Time
}

// GeoAlerts evaluates geofence and speed-limit violations. Evaluation never
// fails an update: with no regions configured the geofence check degrades to
// "within".
type GeoAlerts struct {
	regions  RegionChecker
	maxSpeed float64

	mu    sync.Mutex
	cells map[string]cellVerdict

	now func() time.Time
}

func NewGeoAlerts(regions RegionChecker, maxSpeed float64) *GeoAlerts {
	return &GeoAlerts{
		regions:  regions,
		maxSpeed: maxSpeed,
		cells:    make(map[string]cellVerdict),
		now:      time.Now,
	}
}

// IsWithinGeofence reports whether the fix lies inside the permitted area,
// consulting the grid-cell cache before the region checker.
func (g *GeoAlerts) IsWithinGeofence(r *model.LocationReport) bool {
	if g.regions == nil {
		return true
	}

	key := cellKey(r.Latitude, r.Longitude)

	g.mu.Lock()
	if v, ok := g.cells[key]; ok && g.now().Before(v.expires) {
		g.mu.Unlock()
		return v.within
	}
	g.mu.Unlock()

	within := g.regions.Contains(r.Latitude, r.Longitude)

	g.mu.Lock()
	g.cells[key] = cellVerdict{within: within, expires: g.now().Add(geofenceCellTTL)}
	g.mu.Unlock()

	return within
}

// ExceedsSpeedLimit is a plain threshold check, no caching.
func (g *GeoAlerts) ExceedsSpeedLimit(r *model.LocationReport) bool {
	return r.Speed > g.maxSpeed
}

func cellKey(lat, lng float64) string {
	return fmt.Sprintf("%.2f:%.2f", math.Round(lat*100)/100, math.Round(lng*100)/100)
}
