package domain

import (
	"math"

	"github.com/towfleet/tracking/cli/tracker/model"
)

const (
	earthRadiusKm = 6371.0
	degToRad      = math.Pi / 180.0

	// Below this delta (radians) the haversine terms lose precision, so the
	// planar approximation is used instead.
	smallDeltaRad = 0.001

	// Floor for speed in m/s when computing ETA, so a parked vehicle gets a
	// large finite ETA instead of a division by zero.
	minSpeedMS = 0.001
)

// ComputeTravelMetrics derives distance, initial bearing and ETA from two
// consecutive fixes of the same vehicle. Pure function; prev and curr are not
// modified.
func ComputeTravelMetrics(prev, curr *model.LocationReport) model.TravelMetrics {
	lat1 := prev.Latitude * degToRad
	lat2 := curr.Latitude * degToRad
	lng1 := prev.Longitude * degToRad
	lng2 := curr.Longitude * degToRad

	dLat := lat2 - lat1
	dLon := lng2 - lng1

	var distance float64
	if math.Abs(dLat) < smallDeltaRad && math.Abs(dLon) < smallDeltaRad {
		x := dLon * math.Cos((lat1+lat2)/2)
		y := dLat
		distance = math.Sqrt(x*x+y*y) * earthRadiusKm
	} else {
		a := math.Sin(dLat/2)*math.Sin(dLat/2) +
			math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
		c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
		distance = earthRadiusKm * c
	}

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	bearing := math.Mod(math.Atan2(y, x)/degToRad+360, 360)

	speedMS := minSpeedMS
	if curr.Speed > 0 {
		speedMS = curr.Speed / 3.6
	}
	eta := distance * 1000 / speedMS

	return model.TravelMetrics{
		DistanceKm: roundTo(distance, 4),
		BearingDeg: int(math.Round(bearing)) % 360,
		ETASeconds: int(math.Round(eta)),
	}
}

func roundTo(v float64, decimals int) float64 {
	p := math.Pow10(decimals)
	return math.Round(v*p) / p
}
