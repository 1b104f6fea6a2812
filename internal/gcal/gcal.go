// Package gcal implements calendar.Calendar on top of the Google Calendar
// API.
package gcal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"commutecal/internal/calendar"
	"commutecal/internal/model"
)

type Calendar struct {
	svc *gcal.Service
}

// New creates the adapter. Production callers pass option.WithHTTPClient
// with an authorized client (see Client); tests point WithEndpoint at a
// local server.
func New(ctx context.Context, opts ...option.ClientOption) (*Calendar, error) {
	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcal: new service: %w", err)
	}
	return &Calendar{svc: svc}, nil
}

// ListEvents returns the single (expanded) events overlapping day, ordered
// by start.
func (c *Calendar) ListEvents(ctx context.Context, calendarID string, day time.Time) ([]model.Event, error) {
	from, to := calendar.DayBounds(day)
	loc := day.Location()

	var out []model.Event
	call := c.svc.Events.List(calendarID).
		TimeMin(from.Format(time.RFC3339)).
		TimeMax(to.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		ShowDeleted(false).
		MaxResults(250)

	err := call.Pages(ctx, func(page *gcal.Events) error {
		for _, item := range page.Items {
			if item.Status == "cancelled" {
				continue
			}
			ev, err := fromAPI(calendarID, item, loc)
			if err != nil {
				return err
			}
			out = append(out, ev)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("gcal: list %s: %w", calendarID, err)
	}
	return out, nil
}

func (c *Calendar) CreateEvent(ctx context.Context, calendarID string, ev model.Event) (model.Event, error) {
	created, err := c.svc.Events.Insert(calendarID, toAPI(ev)).Context(ctx).Do()
	if err != nil {
		return model.Event{}, fmt.Errorf("gcal: insert into %s: %w", calendarID, err)
	}
	out, err := fromAPI(calendarID, created, ev.Start.Location())
	if err != nil {
		return model.Event{}, err
	}
	return out, nil
}

func (c *Calendar) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	err := c.svc.Events.Delete(calendarID, eventID).Context(ctx).Do()
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && (gerr.Code == http.StatusNotFound || gerr.Code == http.StatusGone) {
		return fmt.Errorf("gcal: delete %s/%s: %w", calendarID, eventID, calendar.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("gcal: delete %s/%s: %w", calendarID, eventID, err)
	}
	return nil
}

func fromAPI(calendarID string, item *gcal.Event, loc *time.Location) (model.Event, error) {
	ev := model.Event{
		CalendarID:  calendarID,
		ID:          item.Id,
		Summary:     item.Summary,
		Description: item.Description,
		Location:    item.Location,
	}
	var err error
	if ev.Start, ev.AllDay, err = parseTime(item.Start, loc); err != nil {
		return ev, fmt.Errorf("gcal: event %s start: %w", item.Id, err)
	}
	if ev.End, _, err = parseTime(item.End, loc); err != nil {
		return ev, fmt.Errorf("gcal: event %s end: %w", item.Id, err)
	}
	return ev, nil
}

// parseTime reads dateTime, or date for all-day events. Dates are
// midnight in loc. Both come back in UTC.
func parseTime(t *gcal.EventDateTime, loc *time.Location) (time.Time, bool, error) {
	if t == nil {
		return time.Time{}, false, errors.New("missing time")
	}
	if t.DateTime != "" {
		ts, err := time.Parse(time.RFC3339, t.DateTime)
		return ts.UTC(), false, err
	}
	if loc == nil {
		loc = time.Local
	}
	ts, err := time.ParseInLocation(time.DateOnly, t.Date, loc)
	return ts.UTC(), true, err
}

func toAPI(ev model.Event) *gcal.Event {
	out := &gcal.Event{
		Summary:     ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
	}
	if ev.AllDay {
		out.Start = &gcal.EventDateTime{Date: ev.Start.Format(time.DateOnly)}
		out.End = &gcal.EventDateTime{Date: ev.End.Format(time.DateOnly)}
		return out
	}
	out.Start = &gcal.EventDateTime{DateTime: ev.Start.Format(time.RFC3339)}
	out.End = &gcal.EventDateTime{DateTime: ev.End.Format(time.RFC3339)}
	return out
}
