package httpx

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

func TestGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			if r.Header.Get("User-Agent") != "commutecal-test" {
				http.Error(w, "no ua", http.StatusForbidden)
				return
			}
			if r.URL.Query().Get("query") != "Garching" {
				http.Error(w, "bad query", http.StatusBadRequest)
				return
			}
			_, _ = w.Write([]byte(`[{"latitude": 48.26, "longitude": 11.67}]`))
		case "/html":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html><body>Wartungsarbeiten</body></html>"))
		case "/broken":
			_, _ = w.Write([]byte(`{"journeys": [`))
		case "/down":
			http.Error(w, "upstream", http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	c := New("commutecal-test", time.Second)

	tests := []struct {
		name          string
		path          string
		wantErr       bool
		wantMalformed bool
	}{
		{name: "json array", path: "/ok"},
		{name: "html page", path: "/html", wantErr: true, wantMalformed: true},
		{name: "truncated json", path: "/broken", wantErr: true, wantMalformed: true},
		{name: "bad status", path: "/down", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out []struct {
				Latitude  *float64 `json:"latitude"`
				Longitude *float64 `json:"longitude"`
			}
			err := c.GetJSON(context.Background(), srv.URL+"/", tt.path, url.Values{"query": {"Garching"}}, &out)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got := errors.Is(err, ErrMalformed); got != tt.wantMalformed {
				t.Errorf("errors.Is(err, ErrMalformed) = %v (err %v)", got, err)
			}
			if err == nil && (len(out) != 1 || out[0].Latitude == nil || *out[0].Latitude != 48.26) {
				t.Errorf("decoded %+v", out)
			}
		})
	}
}
