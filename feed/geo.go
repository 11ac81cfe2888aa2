package feed

import (
	"errors"
	"math"
	"strconv"
)

const earthRadiusKm = 6371.0

// Point is a WGS84 coordinate in degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// PointOf returns a Point from optional coordinates. Both must be set.
func PointOf(lat, lon *float64) *Point {
	if lat == nil || lon == nil {
		return nil
	}
	return &Point{Lat: *lat, Lon: *lon}
}

// Distance returns the great-circle distance between a and b in kilometers.
func Distance(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Radius is a visibility radius in kilometers.
type Radius int

const (
	// Unlimited disables geo filtering.
	Unlimited Radius = -1
	// DefaultRadius is used until the viewer picks another one.
	DefaultRadius Radius = 100
)

// ErrInvalidRadius is returned by ParseRadius for values that are neither a
// positive number of kilometers nor the unlimited sentinel.
var ErrInvalidRadius = errors.New("invalid radius")

// ParseRadius parses a radius query value. An empty string yields
// DefaultRadius; "unlimited" and "-1" yield Unlimited.
func ParseRadius(s string) (Radius, error) {
	switch s {
	case "":
		return DefaultRadius, nil
	case "unlimited", "-1":
		return Unlimited, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, ErrInvalidRadius
	}
	return Radius(n), nil
}

// IsUnlimited reports whether r disables geo filtering.
func (r Radius) IsUnlimited() bool {
	return r == Unlimited
}

func (r Radius) String() string {
	if r.IsUnlimited() {
		return "unlimited"
	}
	return strconv.Itoa(int(r))
}
