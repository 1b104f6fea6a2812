package location

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"commutecal/internal/httpx"
	"commutecal/internal/model"
)

type fakeBackends struct {
	srv      *httptest.Server
	requests atomic.Int32
}

func newFakeBackends(t *testing.T) *fakeBackends {
	t.Helper()
	f := &fakeBackends{}
	mux := http.NewServeMux()
	mux.HandleFunc("/nav/api/get/5602.EG.001", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"name": "Hörsaal 1", "coords": {"lat": 48.2625, "lon": 11.668}}`))
	})
	mux.HandleFunc("/nav/api/get/mw1801", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"name": "MW 1801", "coords": {"lat": 48.2656, "lon": 11.6702}}`))
	})
	mux.HandleFunc("/nav/api/get/nocoords", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"name": "Somewhere", "coords": null}`))
	})
	mux.HandleFunc("/nav/api/search", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("q") {
		case "Hörsaal 1":
			_, _ = w.Write([]byte(`{"sections": [{"facet": "rooms", "entries": [{"id": "5602.EG.001"}]}]}`))
		case "MW":
			_, _ = w.Write([]byte(`{"sections": [{"facet": "rooms", "entries": []}, {"facet": "sites_buildings", "entries": [{"id": "mw1801"}]}]}`))
		default:
			_, _ = w.Write([]byte(`{"sections": []}`))
		}
	})
	mux.HandleFunc("/mvg/location", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("query") {
		case "Marienplatz":
			_, _ = w.Write([]byte(`[{"name": "Marienplatz", "place": "München", "latitude": 48.1374, "longitude": 11.5755}]`))
		case "Maintenance":
			_, _ = w.Write([]byte(`<html>Wartung</html>`))
		case "Nowhere":
			_, _ = w.Write([]byte(`[]`))
		default:
			_, _ = w.Write([]byte(`[{"name": "x", "latitude": null, "longitude": null}]`))
		}
	})

	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.requests.Add(1)
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeBackends) resolver() *Resolver {
	return New(httpx.New("commutecal-test", time.Second), f.srv.URL+"/nav", f.srv.URL+"/mvg", 16)
}

func TestResolve(t *testing.T) {
	f := newFakeBackends(t)
	r := f.resolver()

	hs1 := model.Coordinates{Lat: 48.2625, Lon: 11.668}
	tests := []struct {
		name   string
		raw    string
		want   model.Coordinates
		wantOK bool
	}{
		{name: "parenthesized campus id", raw: "Hörsaal 1, \"Interims I\" (5602.EG.001)", want: hs1, wantOK: true},
		{name: "last parenthesis wins", raw: "Seminar (MW) (5602.EG.001)", want: hs1, wantOK: true},
		{name: "id prefix", raw: "id:5602.EG.001", want: hs1, wantOK: true},
		{name: "geo prefix", raw: "geo:48.1, 11.5", want: model.Coordinates{Lat: 48.1, Lon: 11.5}, wantOK: true},
		{name: "bad geo prefix", raw: "geo:north", wantOK: false},
		{name: "search prefix", raw: "search:Hörsaal 1", want: hs1, wantOK: true},
		{name: "search falls back to second section", raw: "search:MW", want: model.Coordinates{Lat: 48.2656, Lon: 11.6702}, wantOK: true},
		{name: "search without hits", raw: "search:zzz", wantOK: false},
		{name: "mvg fallback", raw: "Marienplatz", want: model.Coordinates{Lat: 48.1374, Lon: 11.5755}, wantOK: true},
		{name: "mvg html response", raw: "Maintenance", wantOK: false},
		{name: "mvg empty array", raw: "Nowhere", wantOK: false},
		{name: "mvg null coordinates", raw: "Null Island", wantOK: false},
		{name: "campus id without coords", raw: "id:nocoords", wantOK: false},
		{name: "unknown campus id", raw: "(missing.id)", wantOK: false},
		{name: "empty", raw: "  ", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := r.Resolve(context.Background(), tt.raw)
			if ok != tt.wantOK {
				t.Fatalf("Resolve(%q) ok = %v, want %v", tt.raw, ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("Resolve(%q) = %+v, want %+v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestResolveCachesHits(t *testing.T) {
	f := newFakeBackends(t)
	r := f.resolver()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, ok := r.Resolve(ctx, "Marienplatz"); !ok {
			t.Fatal("expected hit")
		}
	}
	if n := f.requests.Load(); n != 1 {
		t.Errorf("requests = %d, want 1", n)
	}

	// Misses are not cached.
	r.Resolve(ctx, "Nowhere")
	r.Resolve(ctx, "Nowhere")
	if n := f.requests.Load(); n != 3 {
		t.Errorf("requests = %d, want 3", n)
	}
}

func TestLookupReturnsNames(t *testing.T) {
	f := newFakeBackends(t)
	p, ok := f.resolver().Lookup(context.Background(), "Marienplatz")
	if !ok || p.Name != "Marienplatz" || p.Place != "München" {
		t.Errorf("Lookup = %+v, %v", p, ok)
	}
}
