package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/noah-isme/tour-booking-api/pkg/geo"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// GeoPoint is a GeoJSON point with an optional label. Coordinates are
// [longitude, latitude]. Stored as JSONB.
type GeoPoint struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates" validate:"omitempty,len=2"`
	Address     string    `json:"address,omitempty"`
	Description string    `json:"description,omitempty"`
}

// Point converts the GeoJSON coordinates into a geo.Point.
func (g GeoPoint) Point() (geo.Point, bool) {
	if len(g.Coordinates) != 2 {
		return geo.Point{}, false
	}
	return geo.Point{Lng: g.Coordinates[0], Lat: g.Coordinates[1]}, true
}

// Value implements driver.Valuer.
func (g GeoPoint) Value() (driver.Value, error) {
	if g.Type == "" {
		g.Type = "Point"
	}
	return marshalColumn(g)
}

// Scan implements sql.Scanner.
func (g *GeoPoint) Scan(src interface{}) error {
	return unmarshalColumn(src, g)
}

// Location is a stop on a tour itinerary.
type Location struct {
	GeoPoint
	Day int `json:"day,omitempty"`
}

// Locations is stored as a JSONB array.
type Locations []Location

// Value implements driver.Valuer.
func (l Locations) Value() (driver.Value, error) {
	if l == nil {
		l = Locations{}
	}
	return marshalColumn(l)
}

// Scan implements sql.Scanner.
func (l *Locations) Scan(src interface{}) error {
	return unmarshalColumn(src, l)
}

// StartDates is stored as a JSONB array of RFC 3339 timestamps.
type StartDates []time.Time

// Value implements driver.Valuer.
func (d StartDates) Value() (driver.Value, error) {
	if d == nil {
		d = StartDates{}
	}
	return marshalColumn(d)
}

// Scan implements sql.Scanner.
func (d *StartDates) Scan(src interface{}) error {
	return unmarshalColumn(src, d)
}

func marshalColumn(v interface{}) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func unmarshalColumn(src interface{}, dst interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("unsupported column source %T", src)
	}
}
