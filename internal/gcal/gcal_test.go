package gcal

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/option"

	"commutecal/internal/calendar"
	"commutecal/internal/model"
)

func newTestCalendar(t *testing.T, h http.Handler) *Calendar {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(context.Background(),
		option.WithEndpoint(srv.URL+"/calendar/v3/"),
		option.WithHTTPClient(srv.Client()),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestListEvents(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skip("tzdata unavailable")
	}

	var query map[string]string
	mux := http.NewServeMux()
	mux.HandleFunc("/calendar/v3/calendars/tum/events", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		query = map[string]string{
			"timeMin":      q.Get("timeMin"),
			"timeMax":      q.Get("timeMax"),
			"singleEvents": q.Get("singleEvents"),
			"orderBy":      q.Get("orderBy"),
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"items": [
			{"id": "a", "summary": "Dies academicus", "start": {"date": "2026-10-19"}, "end": {"date": "2026-10-20"}},
			{"id": "b", "summary": "VL Info", "location": "MW 2001", "description": "arrive",
			 "start": {"dateTime": "2026-10-19T09:00:00+02:00"}, "end": {"dateTime": "2026-10-19T10:00:00+02:00"}},
			{"id": "c", "status": "cancelled", "start": {"dateTime": "2026-10-19T11:00:00+02:00"}, "end": {"dateTime": "2026-10-19T12:00:00+02:00"}}
		]}`)
	})
	c := newTestCalendar(t, mux)

	evs, err := c.ListEvents(context.Background(), "tum", time.Date(2026, 10, 19, 15, 0, 0, 0, berlin))
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if query["singleEvents"] != "true" || query["orderBy"] != "startTime" {
		t.Errorf("query = %v", query)
	}
	if query["timeMin"] != "2026-10-19T00:00:00+02:00" || query["timeMax"] != "2026-10-20T00:00:00+02:00" {
		t.Errorf("window = %s .. %s", query["timeMin"], query["timeMax"])
	}
	if len(evs) != 2 {
		t.Fatalf("got %d events, want 2", len(evs))
	}
	if !evs[0].AllDay || !evs[0].Start.Equal(time.Date(2026, 10, 19, 0, 0, 0, 0, berlin)) {
		t.Errorf("all-day event = %+v", evs[0])
	}
	want := model.Event{
		CalendarID: "tum", ID: "b", Summary: "VL Info", Location: "MW 2001", Description: "arrive",
		Start: time.Date(2026, 10, 19, 7, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC),
	}
	got := evs[1]
	if got.Start.Location() != time.UTC || evs[0].Start.Location() != time.UTC {
		t.Errorf("start zones = %v, %v, want UTC", got.Start.Location(), evs[0].Start.Location())
	}
	if got.ID != want.ID || got.CalendarID != want.CalendarID || !got.Same(want) || got.Description != want.Description {
		t.Errorf("event = %+v, want %+v", got, want)
	}
}

func TestCreateAndDelete(t *testing.T) {
	var inserted map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("/calendar/v3/calendars/routes/events", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method", http.StatusMethodNotAllowed)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&inserted); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		inserted["id"] = "new1"
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(inserted)
	})
	mux.HandleFunc("/calendar/v3/calendars/routes/events/new1", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/calendar/v3/calendars/routes/events/gone", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusGone)
		io.WriteString(w, `{"error": {"code": 410, "message": "Resource has been deleted"}}`)
	})
	c := newTestCalendar(t, mux)
	ctx := context.Background()

	ev := model.Event{
		Summary:     "🚇 U6",
		Description: "48.1, 11.5 | 48.2, 11.6",
		Start:       time.Date(2026, 10, 19, 8, 30, 0, 0, time.UTC),
		End:         time.Date(2026, 10, 19, 8, 50, 0, 0, time.UTC),
	}
	created, err := c.CreateEvent(ctx, "routes", ev)
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	if created.ID != "new1" || created.CalendarID != "routes" || created.Summary != ev.Summary ||
		!created.Start.Equal(ev.Start) || !created.End.Equal(ev.End) {
		t.Errorf("created = %+v", created)
	}
	if start, _ := inserted["start"].(map[string]any); start["dateTime"] != "2026-10-19T08:30:00Z" {
		t.Errorf("inserted start = %v", inserted["start"])
	}

	if err := c.DeleteEvent(ctx, "routes", "new1"); err != nil {
		t.Errorf("DeleteEvent: %v", err)
	}
	if err := c.DeleteEvent(ctx, "routes", "gone"); !errors.Is(err, calendar.ErrNotFound) {
		t.Errorf("DeleteEvent(gone) = %v, want ErrNotFound", err)
	}
}

func TestTokenRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "token.json")
	if _, err := Client(context.Background(), &oauth2.Config{}, path); !errors.Is(err, ErrNoToken) {
		t.Fatalf("Client without token = %v, want ErrNoToken", err)
	}

	tok := &oauth2.Token{AccessToken: "abc", RefreshToken: "def", Expiry: time.Now().Add(time.Hour)}
	if err := saveToken(path, tok); err != nil {
		t.Fatalf("saveToken: %v", err)
	}
	got, err := loadToken(path)
	if err != nil {
		t.Fatalf("loadToken: %v", err)
	}
	if got.AccessToken != "abc" || got.RefreshToken != "def" {
		t.Errorf("token = %+v", got)
	}
	if _, err := Client(context.Background(), &oauth2.Config{}, path); err != nil {
		t.Errorf("Client: %v", err)
	}
}
