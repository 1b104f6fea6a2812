package db

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"commutecal/internal/httpx"
	"commutecal/internal/model"
	"commutecal/internal/transit"
)

const journeysJSON = `{
  "journeys": [
    {
      "legs": [
        {
          "origin": {"type": "location", "address": "48.1374, 11.5755", "latitude": 48.1374, "longitude": 11.5755},
          "destination": {"type": "stop", "name": "München Hbf", "location": {"latitude": 48.1402, "longitude": 11.5586}},
          "departure": "2026-10-19T06:40:00+02:00",
          "plannedDeparture": "2026-10-19T06:40:00+02:00",
          "arrival": "2026-10-19T06:52:00+02:00",
          "walking": true
        },
        {
          "origin": {"type": "stop", "name": "München Hbf", "location": {"latitude": 48.1402, "longitude": 11.5586}},
          "destination": {"type": "stop", "name": "Nürnberg Hbf", "location": {"latitude": 49.4456, "longitude": 11.0825}},
          "departure": "2026-10-19T07:03:00+02:00",
          "plannedDeparture": "2026-10-19T06:58:00+02:00",
          "arrival": null,
          "plannedArrival": "2026-10-19T08:04:00+02:00",
          "direction": "Berlin Hbf",
          "line": {"name": "ICE 1000", "product": "nationalExpress"}
        }
      ]
    },
    {
      "legs": [
        {
          "origin": {"type": "stop", "name": "München Hbf"},
          "destination": {"type": "stop", "name": "Nürnberg Hbf"},
          "departure": null,
          "plannedDeparture": null,
          "arrival": null,
          "plannedArrival": null,
          "line": {"name": "RE 1", "product": "regional"}
        }
      ]
    }
  ]
}`

func TestQuery(t *testing.T) {
	var got url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/journeys" {
			http.NotFound(w, r)
			return
		}
		got = r.URL.Query()
		_, _ = w.Write([]byte(journeysJSON))
	}))
	defer srv.Close()

	b := New(httpx.New("commutecal-test", time.Second), srv.URL)
	at := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	routes, err := b.Query(context.Background(),
		model.Coordinates{Lat: 48.1374, Lon: 11.5755},
		model.Coordinates{Lat: 49.4456, Lon: 11.0825},
		at, transit.Arrival)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}

	if got.Get("arrival") != "2026-10-19T09:00:00Z" || got.Has("departure") {
		t.Errorf("anchor params = %v", got)
	}
	if got.Get("from.latitude") != "48.1374" || got.Get("to.longitude") != "11.0825" || got.Get("results") != "6" {
		t.Errorf("endpoint params = %v", got)
	}

	if len(routes) != 1 {
		t.Fatalf("routes = %d, want 1 (cancelled journey dropped)", len(routes))
	}
	r := routes[0]
	if s := r.Summary(); s != "🚶 12 ➜ 🚄 ICE 1000" {
		t.Errorf("Summary() = %q", s)
	}
	// Realtime departure wins over planned; planned arrival fills a null.
	if want := time.Date(2026, 10, 19, 5, 3, 0, 0, time.UTC); !r.Legs[1].Departure.Equal(want) {
		t.Errorf("departure = %v, want %v", r.Legs[1].Departure.UTC(), want)
	}
	if want := time.Date(2026, 10, 19, 6, 4, 0, 0, time.UTC); !r.Arrival().Equal(want) {
		t.Errorf("arrival = %v, want %v", r.Arrival().UTC(), want)
	}
	if r.Legs[0].From.Name != "48.1374, 11.5755" || r.Legs[0].From.Coordinates == nil {
		t.Errorf("address origin = %+v", r.Legs[0].From)
	}
	if r.Legs[1].Direction != "Berlin Hbf" {
		t.Errorf("direction = %q", r.Legs[1].Direction)
	}
}

func TestParseDropsCancelledJourneys(t *testing.T) {
	const body = `{"journeys": [
	  {"legs": [
	    {"origin": {"name": "München Hbf"}, "destination": {"name": "Nürnberg Hbf"},
	     "departure": null, "plannedDeparture": "2026-10-19T06:58:00+02:00",
	     "arrival": null, "plannedArrival": "2026-10-19T08:04:00+02:00",
	     "cancelled": true, "line": {"name": "ICE 1000", "product": "nationalExpress"}}
	  ]},
	  {"legs": [
	    {"departure": "2026-10-19T06:40:00+02:00", "arrival": "2026-10-19T06:52:00+02:00", "walking": true},
	    {"departure": null, "plannedDeparture": "2026-10-19T07:10:00+02:00",
	     "arrival": null, "plannedArrival": "2026-10-19T08:20:00+02:00",
	     "cancelled": true, "line": {"name": "RE 1", "product": "regional"}}
	  ]},
	  {"legs": [
	    {"departure": "2026-10-19T07:30:00+02:00", "arrival": "2026-10-19T08:35:00+02:00",
	     "line": {"name": "ICE 1002", "product": "nationalExpress"}}
	  ]}
	]}`

	var res journeysResponse
	if err := json.Unmarshal([]byte(body), &res); err != nil {
		t.Fatal(err)
	}
	routes, err := parse(res)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(routes) != 1 || routes[0].Summary() != "🚄 ICE 1002" {
		t.Errorf("routes = %+v, want only the running ICE 1002", routes)
	}
}

func TestQueryDepartureParam(t *testing.T) {
	var got url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query()
		_, _ = w.Write([]byte(`{"journeys": []}`))
	}))
	defer srv.Close()

	b := New(httpx.New("", time.Second), srv.URL)
	routes, err := b.Query(context.Background(), model.Coordinates{}, model.Coordinates{Lat: 1}, time.Date(2026, 10, 19, 17, 0, 0, 0, time.UTC), transit.Departure)
	if err != nil || len(routes) != 0 {
		t.Fatalf("routes=%v err=%v", routes, err)
	}
	if got.Get("departure") != "2026-10-19T17:00:00Z" || got.Has("arrival") {
		t.Errorf("anchor params = %v", got)
	}
}

func TestQueryMalformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "html maintenance page", body: "<!DOCTYPE html><html></html>"},
		{name: "bad timestamp", body: `{"journeys": [{"legs": [{"departure": "tomorrow", "arrival": "later", "line": {"name": "S1", "product": "suburban"}}]}]}`},
		{name: "leg without line", body: `{"journeys": [{"legs": [{"departure": "2026-10-19T07:00:00Z", "arrival": "2026-10-19T07:10:00Z"}]}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := New(httpx.New("", time.Second), srv.URL).Query(context.Background(), model.Coordinates{}, model.Coordinates{Lat: 1}, time.Now(), transit.Arrival)
			if !errors.Is(err, transit.ErrMalformed) {
				t.Errorf("err = %v, want ErrMalformed", err)
			}
		})
	}
}
