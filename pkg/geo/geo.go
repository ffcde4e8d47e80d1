// Package geo implements spherical distance math for tour start locations.
package geo

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Earth radius in the supported units.
const (
	EarthRadiusMiles = 3963.2
	EarthRadiusKm    = 6378.1
)

// Unit is a distance unit.
type Unit string

const (
	Miles      Unit = "mi"
	Kilometers Unit = "km"
)

// ParseUnit accepts "mi" or "km".
func ParseUnit(raw string) (Unit, error) {
	switch u := Unit(strings.ToLower(strings.TrimSpace(raw))); u {
	case Miles, Kilometers:
		return u, nil
	default:
		return "", fmt.Errorf("unsupported unit %q, use mi or km", raw)
	}
}

// Radius returns the Earth radius expressed in u.
func (u Unit) Radius() float64 {
	if u == Miles {
		return EarthRadiusMiles
	}
	return EarthRadiusKm
}

// Point is a WGS84 coordinate in degrees.
type Point struct {
	Lat float64
	Lng float64
}

// ParseLatLng parses "lat,lng".
func ParseLatLng(raw string) (Point, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 2 {
		return Point{}, fmt.Errorf("expected lat,lng but got %q", raw)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return Point{}, fmt.Errorf("parse latitude: %w", err)
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return Point{}, fmt.Errorf("parse longitude: %w", err)
	}
	p := Point{Lat: lat, Lng: lng}
	if err := p.Validate(); err != nil {
		return Point{}, err
	}
	return p, nil
}

// Validate checks coordinate ranges.
func (p Point) Validate() error {
	if math.IsNaN(p.Lat) || p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("latitude %v out of range", p.Lat)
	}
	if math.IsNaN(p.Lng) || p.Lng < -180 || p.Lng > 180 {
		return fmt.Errorf("longitude %v out of range", p.Lng)
	}
	return nil
}

// AngularRadius converts a linear distance into radians on the sphere.
func AngularRadius(distance float64, u Unit) float64 {
	return distance / u.Radius()
}

// CentralAngle returns the angle in radians between a and b (haversine).
func CentralAngle(a, b Point) float64 {
	lat1, lat2 := toRad(a.Lat), toRad(b.Lat)
	dLat := lat2 - lat1
	dLng := toRad(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Within reports whether p lies inside the spherical cap of the given angular
// radius around center. The boundary is inclusive.
func Within(center, p Point, radians float64) bool {
	return CentralAngle(center, p) <= radians
}

// Distance returns the great-circle distance between a and b in u.
func Distance(a, b Point, u Unit) float64 {
	return CentralAngle(a, b) * u.Radius()
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
