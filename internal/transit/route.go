// Package transit holds the common route model, the backend contract and
// the Finder that picks one route per leg.
package transit

import (
	"fmt"
	"strings"
	"time"

	"commutecal/internal/model"
)

// Category is the normalized transport mode of a leg.
type Category string

const (
	Walk         Category = "walk"
	Bus          Category = "bus"
	RegionalBus  Category = "regional_bus"
	Tram         Category = "tram"
	Subway       Category = "subway"
	Suburban     Category = "suburban"
	Regional     Category = "regional"
	LongDistance Category = "long_distance"
	Ferry        Category = "ferry"
	Taxi         Category = "taxi"
)

var glyphs = map[Category]string{
	Walk:         "🚶",
	Bus:          "🚌",
	RegionalBus:  "🚏",
	Tram:         "🚋",
	Subway:       "🚇",
	Suburban:     "🚈",
	Regional:     "🚝",
	LongDistance: "🚄",
	Ferry:        "🛥️",
	Taxi:         "🚕",
}

// Glyph returns the symbol used in summaries; unknown categories render as
// their name.
func (c Category) Glyph() string {
	if g, ok := glyphs[c]; ok {
		return g
	}
	return string(c)
}

// Stop is a leg endpoint.
type Stop struct {
	Name        string             `json:"name"`
	Place       string             `json:"place,omitempty"`
	Coordinates *model.Coordinates `json:"coordinates,omitempty"`
}

func (s Stop) String() string {
	if s.Place == "" {
		return s.Name
	}
	return s.Name + ", " + s.Place
}

// Leg is one homogeneous segment of a Route.
type Leg struct {
	Departure time.Time `json:"departure"`
	Arrival   time.Time `json:"arrival"`
	From      Stop      `json:"from"`
	To        Stop      `json:"to"`
	Category  Category  `json:"category"`
	Line      string    `json:"line,omitempty"`
	Direction string    `json:"direction,omitempty"`
}

func (l Leg) Minutes() int {
	return int(l.Arrival.Sub(l.Departure) / time.Minute)
}

// label renders "🚇 U6" or "🚶 7" for walking legs.
func (l Leg) label() string {
	if l.Category == Walk {
		return fmt.Sprintf("%s %d", l.Category.Glyph(), l.Minutes())
	}
	return strings.TrimSpace(l.Category.Glyph() + " " + l.Line)
}

// Route is one journey alternative. Legs is never empty for routes
// returned by backends.
type Route struct {
	// Origin and Destination are the requested endpoints, not the first and
	// last stop names.
	Origin      model.Coordinates `json:"origin"`
	Destination model.Coordinates `json:"destination"`
	Legs        []Leg             `json:"legs"`
}

func (r Route) Departure() time.Time { return r.Legs[0].Departure }
func (r Route) Arrival() time.Time   { return r.Legs[len(r.Legs)-1].Arrival }
func (r Route) Duration() time.Duration {
	return r.Arrival().Sub(r.Departure())
}

// Summary is the compact one-line form used as the event title.
func (r Route) Summary() string {
	parts := make([]string, len(r.Legs))
	for i, l := range r.Legs {
		parts[i] = l.label()
	}
	return strings.Join(parts, " ➜ ")
}

// Description is the event body. The first line carries the requested
// origin and destination as "lat, lon | lat, lon"; consumers of published
// events (the departure lamp) read it back.
func (r Route) Description(loc *time.Location) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s | %s\n\n", r.Origin, r.Destination)
	for _, l := range r.Legs {
		mode := l.Category.Glyph()
		if l.Category != Walk {
			mode = l.label()
			if l.Direction != "" {
				mode += " (" + l.Direction + ")"
			}
		}
		fmt.Fprintf(&b, "%s <b>%s</b> ➜ %s\n", l.Departure.In(loc).Format("15:04"), mode, l.To.Name)
	}
	fmt.Fprintf(&b, "\n<b>Ankunft:</b> %s Uhr\n", r.Arrival().In(loc).Format("15:04"))
	fmt.Fprintf(&b, "<i>Dauer: %s</i>", formatDuration(r.Duration()))
	return b.String()
}

func formatDuration(d time.Duration) string {
	m := int(d.Round(time.Minute) / time.Minute)
	if m < 60 {
		return fmt.Sprintf("%d min", m)
	}
	return fmt.Sprintf("%d h %02d min", m/60, m%60)
}

// Event renders r as a route calendar entry.
func (r Route) Event(loc *time.Location) model.Event {
	return model.Event{
		Summary:     r.Summary(),
		Description: r.Description(loc),
		Location:    r.Legs[len(r.Legs)-1].To.String(),
		Start:       r.Departure().UTC(),
		End:         r.Arrival().UTC(),
	}
}

// Matches reports whether the published event ev already represents r.
// Only start, end and summary are compared; description drift is ignored.
func Matches(ev model.Event, r Route) bool {
	return ev.Start.Equal(r.Departure()) &&
		ev.End.Equal(r.Arrival()) &&
		ev.Summary == r.Summary()
}

// Endpoints reads the "lat, lon | lat, lon" header back from a published
// description.
func Endpoints(description string) (origin, destination model.Coordinates, err error) {
	line, _, _ := strings.Cut(description, "\n")
	a, b, ok := strings.Cut(line, "|")
	if !ok {
		return origin, destination, fmt.Errorf("route description: no endpoint header")
	}
	if origin, err = model.ParseCoordinates(a); err != nil {
		return origin, destination, err
	}
	destination, err = model.ParseCoordinates(b)
	return origin, destination, err
}
