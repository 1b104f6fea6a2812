package ics

import (
	"context"
	"fmt"
	"time"

	"commutecal/internal/calendar"
	"commutecal/internal/model"
)

// Calendar serves subscribed ICS feeds as read-only calendars. It is used
// for the primary (campus) calendar, which is usually published as a feed.
type Calendar struct {
	fetcher *Fetcher
	feeds   map[string]Feed
}

func NewCalendar(fetcher *Fetcher, feeds ...Feed) *Calendar {
	c := &Calendar{fetcher: fetcher, feeds: make(map[string]Feed, len(feeds))}
	for _, f := range feeds {
		c.feeds[f.ID] = f
	}
	return c
}

func (c *Calendar) ListEvents(ctx context.Context, calendarID string, day time.Time) ([]model.Event, error) {
	feed, ok := c.feeds[calendarID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", calendar.ErrUnknownCalendar, calendarID)
	}

	payload, err := c.fetcher.Fetch(ctx, feed)
	if err != nil {
		return nil, err
	}
	entries, err := Parse(payload.Body, day.Location())
	if err != nil {
		return nil, err
	}

	from, to := calendar.DayBounds(day)
	return Expand(calendarID, entries, from, to)
}

func (c *Calendar) CreateEvent(context.Context, string, model.Event) (model.Event, error) {
	return model.Event{}, calendar.ErrReadOnly
}

func (c *Calendar) DeleteEvent(context.Context, string, string) error {
	return calendar.ErrReadOnly
}
