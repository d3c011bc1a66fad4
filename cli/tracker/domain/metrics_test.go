package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/towfleet/tracking/cli/tracker/model"
)

func TestComputeTravelMetricsShortHop(t *testing.T) {
	prev := &model.LocationReport{Latitude: 0, Longitude: 0, Speed: 0, Timestamp: 1000}
	curr := &model.LocationReport{Latitude: 0.01, Longitude: 0, Speed: 36, Timestamp: 2000}

	m := ComputeTravelMetrics(prev, curr)

	// 0.01 deg of latitude is ~1.112 km; at 36 km/h (10 m/s) that's ~111 s.
	assert.InDelta(t, 1.112, m.DistanceKm, 0.001)
	assert.Equal(t, 0, m.BearingDeg)
	assert.InDelta(t, 111, m.ETASeconds, 1)
}

func TestComputeTravelMetricsSamePoint(t *testing.T) {
	p := &model.LocationReport{Latitude: 52.52, Longitude: 13.405, Speed: 0}

	m := ComputeTravelMetrics(p, p)

	assert.Equal(t, 0.0, m.DistanceKm)
	assert.Equal(t, 0, m.ETASeconds)
}

func TestComputeTravelMetricsZeroSpeedFiniteETA(t *testing.T) {
	prev := &model.LocationReport{Latitude: 0, Longitude: 0, Speed: 0}
	curr := &model.LocationReport{Latitude: 0.01, Longitude: 0, Speed: 0}

	m := ComputeTravelMetrics(prev, curr)

	// Epsilon floor: a parked vehicle gets a huge but finite ETA.
	assert.Greater(t, m.ETASeconds, 1000000)
}

func TestComputeTravelMetricsLongDistanceUsesHaversine(t *testing.T) {
	berlin := &model.LocationReport{Latitude: 52.5200, Longitude: 13.4050, Speed: 90}
	munich := &model.LocationReport{Latitude: 48.1351, Longitude: 11.5820, Speed: 90}

	m := ComputeTravelMetrics(berlin, munich)

	// Great-circle Berlin-Munich is ~504 km.
	assert.InDelta(t, 504, m.DistanceKm, 5)
}

func TestComputeTravelMetricsBearingRange(t *testing.T) {
	cases := []struct {
		name       string
		dLat, dLon float64
		expected   int
	}{
		{"north", 0.01, 0, 0},
		{"east", 0, 0.01, 90},
		{"south", -0.01, 0, 180},
		{"west", 0, -0.01, 270},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			prev := &model.LocationReport{Latitude: 10, Longitude: 10, Speed: 50}
			curr := &model.LocationReport{Latitude: 10 + tc.dLat, Longitude: 10 + tc.dLon, Speed: 50}

			m := ComputeTravelMetrics(prev, curr)

			assert.InDelta(t, tc.expected, m.BearingDeg, 1)
			assert.GreaterOrEqual(t, m.BearingDeg, 0)
			assert.Less(t, m.BearingDeg, 360)
			assert.GreaterOrEqual(t, m.DistanceKm, 0.0)
		})
	}
}
