// Package mvg is the regional transit backend (MVG fib/v2 connection API).
package mvg

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"commutecal/internal/httpx"
	"commutecal/internal/model"
	"commutecal/internal/transit"
)

const transportTypes = "SCHIFF,RUFTAXI,BAHN,UBAHN,TRAM,SBAHN,BUS,REGIONAL_BUS"

var categories = map[string]transit.Category{
	"PEDESTRIAN":   transit.Walk,
	"BUS":          transit.Bus,
	"REGIONAL_BUS": transit.RegionalBus,
	"TRAM":         transit.Tram,
	"UBAHN":        transit.Subway,
	"SBAHN":        transit.Suburban,
	"BAHN":         transit.Regional,
	"SCHIFF":       transit.Ferry,
	"RUFTAXI":      transit.Taxi,
}

type Backend struct {
	client  *httpx.Client
	baseURL string
}

func New(client *httpx.Client, baseURL string) *Backend {
	return &Backend{client: client, baseURL: baseURL}
}

type place struct {
	Name                  string   `json:"name"`
	Place                 string   `json:"place"`
	Latitude              *float64 `json:"latitude"`
	Longitude             *float64 `json:"longitude"`
	PlannedDeparture      string   `json:"plannedDeparture"`
	ArrivalDelayInMinutes int      `json:"arrivalDelayInMinutes"`
}

type part struct {
	From place `json:"from"`
	To   place `json:"to"`
	Line struct {
		TransportType string `json:"transportType"`
		Label         string `json:"label"`
		Destination   string `json:"destination"`
	} `json:"line"`
}

type connection struct {
	Parts []part `json:"parts"`
}

func (b *Backend) Query(ctx context.Context, origin, destination model.Coordinates, at time.Time, anchor transit.Anchor) ([]transit.Route, error) {
	q := url.Values{
		"originLatitude":           {formatFloat(origin.Lat)},
		"originLongitude":          {formatFloat(origin.Lon)},
		"destinationLatitude":      {formatFloat(destination.Lat)},
		"destinationLongitude":     {formatFloat(destination.Lon)},
		"routingDateTime":          {at.UTC().Format("2006-01-02T15:04:05.000Z")},
		"routingDateTimeIsArrival": {strconv.FormatBool(anchor == transit.Arrival)},
		"transportTypes":           {transportTypes},
	}

	var conns []connection
	if err := b.client.GetJSON(ctx, b.baseURL, "/connection", q, &conns); err != nil {
		return nil, fmt.Errorf("mvg connection: %w", err)
	}
	return parse(conns)
}

func parse(conns []connection) ([]transit.Route, error) {
	routes := make([]transit.Route, 0, len(conns))
	for i, c := range conns {
		if len(c.Parts) == 0 {
			continue
		}
		r := transit.Route{Legs: make([]transit.Leg, 0, len(c.Parts))}
		for j, p := range c.Parts {
			leg, err := toLeg(p)
			if err != nil {
				return nil, fmt.Errorf("mvg connection %d part %d: %w: %v", i, j, transit.ErrMalformed, err)
			}
			r.Legs = append(r.Legs, leg)
		}
		routes = append(routes, r)
	}
	return routes, nil
}

func toLeg(p part) (transit.Leg, error) {
	dep, err := time.Parse(time.RFC3339, p.From.PlannedDeparture)
	if err != nil {
		return transit.Leg{}, err
	}
	// The arrival stop reports its planned departure; the arrival delay
	// is added on top.
	arr, err := time.Parse(time.RFC3339, p.To.PlannedDeparture)
	if err != nil {
		return transit.Leg{}, err
	}
	arr = arr.Add(time.Duration(p.To.ArrivalDelayInMinutes) * time.Minute)

	cat, ok := categories[p.Line.TransportType]
	if !ok {
		cat = transit.Category(strings.ToLower(p.Line.TransportType))
	}

	return transit.Leg{
		Departure: dep,
		Arrival:   arr,
		From:      toStop(p.From),
		To:        toStop(p.To),
		Category:  cat,
		Line:      p.Line.Label,
		Direction: p.Line.Destination,
	}, nil
}

func toStop(p place) transit.Stop {
	s := transit.Stop{Name: p.Name, Place: p.Place}
	if p.Latitude != nil && p.Longitude != nil {
		s.Coordinates = &model.Coordinates{Lat: *p.Latitude, Lon: *p.Longitude}
	}
	return s
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
