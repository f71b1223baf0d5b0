// Package geo provides the geospatial and temporal primitives shared by
// the rule set.
package geo

import (
	"math"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const earthRadiusKm = 6371.0

// DistanceKm returns the great-circle (haversine) distance in kilometers
// between two locations. Returns 0 when either location lacks coordinates.
// Symmetric: DistanceKm(a, b) == DistanceKm(b, a).
func DistanceKm(a, b *domain.Geolocation) float64 {
	if !a.HasCoordinates() || !b.HasCoordinates() {
		return 0
	}
	return haversine(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
}

func haversine(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	deltaLat := (lat2 - lat1) * math.Pi / 180
	deltaLon := (lon2 - lon1) * math.Pi / 180

	h := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*math.Sin(deltaLon/2)*math.Sin(deltaLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusKm * c
}

// HourOfDay returns the hour of the timestamp in the given zone.
// A nil zone means UTC.
func HourOfDay(t time.Time, zone *time.Location) int {
	if zone == nil {
		zone = time.UTC
	}
	return t.In(zone).Hour()
}
