// Package calendar defines the calendar collaborator used by the core and a
// few adapters that do not need a network client.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"commutecal/internal/model"
)

var (
	// ErrReadOnly is returned by adapters that cannot write (ICS feeds).
	ErrReadOnly = errors.New("calendar: read-only calendar")
	// ErrNotFound is returned when deleting an unknown event.
	ErrNotFound = errors.New("calendar: event not found")
	// ErrUnknownCalendar is returned by Mux for unregistered calendar ids.
	ErrUnknownCalendar = errors.New("calendar: unknown calendar id")
)

// Calendar lists, creates and deletes events of one or more calendars.
// Implementations return events ordered by start time and normalized to UTC.
type Calendar interface {
	ListEvents(ctx context.Context, calendarID string, day time.Time) ([]model.Event, error)
	CreateEvent(ctx context.Context, calendarID string, ev model.Event) (model.Event, error)
	DeleteEvent(ctx context.Context, calendarID, eventID string) error
}

// DayBounds returns [midnight, next midnight) of day in day's location.
func DayBounds(day time.Time) (time.Time, time.Time) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	return start, start.AddDate(0, 0, 1)
}

// Overlaps reports whether ev intersects the calendar day of day.
func Overlaps(ev model.Event, day time.Time) bool {
	start, end := DayBounds(day)
	return ev.Start.Before(end) && ev.End.After(start) ||
		// Zero-length entries exactly at midnight still belong to the day.
		ev.Start.Equal(start)
}

// Mux dispatches calls to the Calendar registered for a calendar id, so
// the core can work with one collaborator while primary, override and
// route calendars live in different systems.
type Mux struct {
	routes map[string]Calendar
}

func NewMux() *Mux {
	return &Mux{routes: make(map[string]Calendar)}
}

// Handle registers c for calendarID, replacing any earlier registration.
func (m *Mux) Handle(calendarID string, c Calendar) {
	m.routes[calendarID] = c
}

func (m *Mux) lookup(calendarID string) (Calendar, error) {
	c, ok := m.routes[calendarID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCalendar, calendarID)
	}
	return c, nil
}

func (m *Mux) ListEvents(ctx context.Context, calendarID string, day time.Time) ([]model.Event, error) {
	c, err := m.lookup(calendarID)
	if err != nil {
		return nil, err
	}
	return c.ListEvents(ctx, calendarID, day)
}

func (m *Mux) CreateEvent(ctx context.Context, calendarID string, ev model.Event) (model.Event, error) {
	c, err := m.lookup(calendarID)
	if err != nil {
		return model.Event{}, err
	}
	return c.CreateEvent(ctx, calendarID, ev)
}

func (m *Mux) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	c, err := m.lookup(calendarID)
	if err != nil {
		return err
	}
	return c.DeleteEvent(ctx, calendarID, eventID)
}
