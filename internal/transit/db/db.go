// Package db is the long-distance rail backend, speaking the db-rest
// (v6.db.transport.rest) journeys API.
package db

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"commutecal/internal/httpx"
	"commutecal/internal/model"
	"commutecal/internal/transit"
)

var products = map[string]transit.Category{
	"nationalExpress": transit.LongDistance,
	"national":        transit.LongDistance,
	"regionalExpress": transit.Regional,
	"regional":        transit.Regional,
	"suburban":        transit.Suburban,
	"subway":          transit.Subway,
	"tram":            transit.Tram,
	"bus":             transit.Bus,
	"ferry":           transit.Ferry,
	"taxi":            transit.Taxi,
}

type Backend struct {
	client  *httpx.Client
	baseURL string
	results int
}

func New(client *httpx.Client, baseURL string) *Backend {
	return &Backend{client: client, baseURL: baseURL, results: 6}
}

type location struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// endpoint is a stop, or an address/POI that carries coordinates inline.
type endpoint struct {
	Type      string    `json:"type"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	Location  *location `json:"location"`
	Latitude  *float64  `json:"latitude"`
	Longitude *float64  `json:"longitude"`
}

type leg struct {
	Origin           endpoint `json:"origin"`
	Destination      endpoint `json:"destination"`
	Departure        *string  `json:"departure"`
	PlannedDeparture *string  `json:"plannedDeparture"`
	Arrival          *string  `json:"arrival"`
	PlannedArrival   *string  `json:"plannedArrival"`
	Walking          bool     `json:"walking"`
	Cancelled        bool     `json:"cancelled"`
	Direction        string   `json:"direction"`
	Line             *struct {
		Name    string `json:"name"`
		Product string `json:"product"`
	} `json:"line"`
}

type journeysResponse struct {
	Journeys []struct {
		Legs []leg `json:"legs"`
	} `json:"journeys"`
}

func (b *Backend) Query(ctx context.Context, origin, destination model.Coordinates, at time.Time, anchor transit.Anchor) ([]transit.Route, error) {
	q := url.Values{
		"from.latitude":  {formatFloat(origin.Lat)},
		"from.longitude": {formatFloat(origin.Lon)},
		"from.address":   {origin.String()},
		"to.latitude":    {formatFloat(destination.Lat)},
		"to.longitude":   {formatFloat(destination.Lon)},
		"to.address":     {destination.String()},
		"results":        {strconv.Itoa(b.results)},
		"stopovers":      {"false"},
		"remarks":        {"false"},
		"language":       {"de"},
	}
	if anchor == transit.Arrival {
		q.Set("arrival", at.UTC().Format(time.RFC3339))
	} else {
		q.Set("departure", at.UTC().Format(time.RFC3339))
	}

	var res journeysResponse
	if err := b.client.GetJSON(ctx, b.baseURL, "/journeys", q, &res); err != nil {
		return nil, fmt.Errorf("db journeys: %w", err)
	}
	return parse(res)
}

func parse(res journeysResponse) ([]transit.Route, error) {
	routes := make([]transit.Route, 0, len(res.Journeys))
	for i, j := range res.Journeys {
		if cancelled(j.Legs) {
			continue
		}
		r := transit.Route{Legs: make([]transit.Leg, 0, len(j.Legs))}
		for k, l := range j.Legs {
			tl, ok, err := toLeg(l)
			if err != nil {
				return nil, fmt.Errorf("db journey %d leg %d: %w: %v", i, k, transit.ErrMalformed, err)
			}
			if ok {
				r.Legs = append(r.Legs, tl)
			}
		}
		if len(r.Legs) > 0 {
			routes = append(routes, r)
		}
	}
	return routes, nil
}

// cancelled reports whether any leg of a journey will not run. Such legs
// still carry their planned times, so they must be caught before toLeg.
func cancelled(legs []leg) bool {
	for _, l := range legs {
		if l.Cancelled {
			return true
		}
	}
	return false
}

// toLeg maps one db-rest leg. Legs with neither realtime nor planned times
// are dropped; a journey made only of those is dropped by parse.
func toLeg(l leg) (transit.Leg, bool, error) {
	depStr := firstSet(l.Departure, l.PlannedDeparture)
	arrStr := firstSet(l.Arrival, l.PlannedArrival)
	if depStr == "" || arrStr == "" {
		return transit.Leg{}, false, nil
	}
	dep, err := time.Parse(time.RFC3339, depStr)
	if err != nil {
		return transit.Leg{}, false, err
	}
	arr, err := time.Parse(time.RFC3339, arrStr)
	if err != nil {
		return transit.Leg{}, false, err
	}

	out := transit.Leg{
		Departure: dep,
		Arrival:   arr,
		From:      toStop(l.Origin),
		To:        toStop(l.Destination),
		Direction: l.Direction,
	}
	switch {
	case l.Walking:
		out.Category = transit.Walk
	case l.Line != nil:
		out.Line = l.Line.Name
		cat, ok := products[l.Line.Product]
		if !ok {
			cat = transit.Category(l.Line.Product)
		}
		out.Category = cat
	default:
		return transit.Leg{}, false, fmt.Errorf("leg without line")
	}
	return out, true, nil
}

func toStop(e endpoint) transit.Stop {
	s := transit.Stop{Name: e.Name}
	if s.Name == "" {
		s.Name = e.Address
	}
	lat, lon := e.Latitude, e.Longitude
	if e.Location != nil {
		lat, lon = e.Location.Latitude, e.Location.Longitude
	}
	if lat != nil && lon != nil {
		s.Coordinates = &model.Coordinates{Lat: *lat, Lon: *lon}
	}
	return s
}

func firstSet(vals ...*string) string {
	for _, v := range vals {
		if v != nil && *v != "" {
			return *v
		}
	}
	return ""
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
