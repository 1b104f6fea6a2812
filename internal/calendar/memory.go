package calendar

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"commutecal/internal/model"
)

// Memory is an in-process Calendar. It backs dry runs (route calendar
// writes go nowhere) and tests.
type Memory struct {
	mu     sync.RWMutex
	events map[string][]model.Event

	creates int
	deletes int
}

func NewMemory() *Memory {
	return &Memory{events: make(map[string][]model.Event)}
}

// Seed adds events as-is, assigning ids to those without one.
func (m *Memory) Seed(calendarID string, evs ...model.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ev := range evs {
		if ev.ID == "" {
			ev.ID = uuid.NewString()
		}
		ev.CalendarID = calendarID
		m.events[calendarID] = append(m.events[calendarID], ev)
	}
}

// Events returns a copy of everything stored for calendarID.
func (m *Memory) Events(calendarID string) []model.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Event, len(m.events[calendarID]))
	copy(out, m.events[calendarID])
	return out
}

// Writes returns the number of successful create and delete calls.
func (m *Memory) Writes() (creates, deletes int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.creates, m.deletes
}

func (m *Memory) ListEvents(_ context.Context, calendarID string, day time.Time) ([]model.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.Event, 0)
	for _, ev := range m.events[calendarID] {
		if Overlaps(ev, day) {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Start.Before(out[j].Start)
	})
	return out, nil
}

func (m *Memory) CreateEvent(_ context.Context, calendarID string, ev model.Event) (model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev.ID = uuid.NewString()
	ev.CalendarID = calendarID
	ev.Start = ev.Start.UTC()
	ev.End = ev.End.UTC()
	m.events[calendarID] = append(m.events[calendarID], ev)
	m.creates++
	return ev, nil
}

func (m *Memory) DeleteEvent(_ context.Context, calendarID, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	evs := m.events[calendarID]
	for i, ev := range evs {
		if ev.ID == eventID {
			m.events[calendarID] = append(evs[:i:i], evs[i+1:]...)
			m.deletes++
			return nil
		}
	}
	return fmt.Errorf("%w: %s/%s", ErrNotFound, calendarID, eventID)
}
