package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang/geo/s2"
)

const earthRadiusKm = 6371.0088

// Coordinates is a WGS84 latitude/longitude pair in degrees.
type Coordinates struct {
	Lat float64 `json:"lat" yaml:"latitude"`
	Lon float64 `json:"lon" yaml:"longitude"`
}

func (c Coordinates) String() string {
	return fmt.Sprintf("%g, %g", c.Lat, c.Lon)
}

// DistanceKm returns the great-circle distance between c and o.
func (c Coordinates) DistanceKm(o Coordinates) float64 {
	a := s2.LatLngFromDegrees(c.Lat, c.Lon)
	b := s2.LatLngFromDegrees(o.Lat, o.Lon)
	return a.Distance(b).Radians() * earthRadiusKm
}

// ParseCoordinates parses the "lat, lon" form produced by String.
func ParseCoordinates(s string) (Coordinates, error) {
	lat, lon, ok := strings.Cut(s, ",")
	if !ok {
		return Coordinates{}, fmt.Errorf("coordinates %q: missing comma", s)
	}
	var c Coordinates
	var err error
	if c.Lat, err = strconv.ParseFloat(strings.TrimSpace(lat), 64); err != nil {
		return Coordinates{}, fmt.Errorf("coordinates %q: latitude: %w", s, err)
	}
	if c.Lon, err = strconv.ParseFloat(strings.TrimSpace(lon), 64); err != nil {
		return Coordinates{}, fmt.Errorf("coordinates %q: longitude: %w", s, err)
	}
	if c.Lat < -90 || c.Lat > 90 || c.Lon < -180 || c.Lon > 180 {
		return Coordinates{}, fmt.Errorf("coordinates %q: out of range", s)
	}
	return c, nil
}

// Event is a single concrete calendar entry as seen by the core, independent
// of whether it came from the Google Calendar API, an ICS feed or memory.
// Start / End are normalized to UTC at the adapter boundary.
type Event struct {
	CalendarID string `json:"calendar_id"`
	ID         string `json:"id"`

	Summary     string `json:"summary"`
	Description string `json:"description"`
	Location    string `json:"location"`

	// AllDay entries carry midnight-to-midnight bounds and are never used
	// as waypoints.
	AllDay bool `json:"all_day"`

	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Same reports whether two reads of an entry carry the same content that
// routing depends on. Used for change detection between passes.
func (e Event) Same(o Event) bool {
	return e.CalendarID == o.CalendarID &&
		e.ID == o.ID &&
		e.Summary == o.Summary &&
		e.Description == o.Description &&
		e.Location == o.Location &&
		e.AllDay == o.AllDay &&
		e.Start.Equal(o.Start) &&
		e.End.Equal(o.End)
}
