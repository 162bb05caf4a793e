package pricing

import (
	"math"

	"github.com/Additional-Code/nightowl/internal/money"
)

const earthRadiusKm = 6371.0

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether p is a finite coordinate within WGS84 bounds.
func (p Point) Valid() bool {
	return finite(p.Lat) && finite(p.Lng) &&
		p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// DistanceKm is the great-circle distance between a and b, rounded to two
// decimals. It is zero when either point is invalid.
func DistanceKm(a, b Point) float64 {
	if !a.Valid() || !b.Valid() {
		return 0
	}
	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return money.Round2(earthRadiusKm * c)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
