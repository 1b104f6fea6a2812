// Package itinerary merges the primary and override calendars into the
// ordered list of places a day visits.
package itinerary

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"commutecal/internal/calendar"
	"commutecal/internal/directive"
	appLog "commutecal/internal/log"
	"commutecal/internal/model"
)

// Waypoint is one calendar entry the day's route passes through.
type Waypoint struct {
	Event      model.Event
	Directives directive.Set
}

// Home is the day's home state after override entries were applied.
// Disabled wins over Override: a day without home legs never uses it.
type Home struct {
	// Override replaces the configured home for the day.
	Override *model.Coordinates
	Disabled bool
	// Unresolved is set when an override's location could not be looked
	// up. Legs then fall back to the configured home.
	Unresolved bool
}

func (h Home) Equal(o Home) bool {
	if h.Disabled != o.Disabled {
		return false
	}
	if h.Override == nil || o.Override == nil {
		return h.Override == nil && o.Override == nil
	}
	return *h.Override == *o.Override
}

// Day is the itinerary of one calendar day.
type Day struct {
	Date      time.Time
	Waypoints []Waypoint
	Home      Home
}

// Equal reports whether two builds of the same day would produce the same
// legs: same waypoint entries in the same order and the same home state.
func (d Day) Equal(o Day) bool {
	if len(d.Waypoints) != len(o.Waypoints) || !d.Home.Equal(o.Home) {
		return false
	}
	for i := range d.Waypoints {
		if !d.Waypoints[i].Event.Same(o.Waypoints[i].Event) {
			return false
		}
	}
	return true
}

// Resolver resolves a free-form location to coordinates.
type Resolver interface {
	Resolve(ctx context.Context, raw string) (model.Coordinates, bool)
}

// Markers are the substrings that classify entries.
type Markers struct {
	// Stream marks primary entries that are video streams of a lecture.
	Stream string
	// Cancel in an override summary cancels matching primary entries.
	Cancel        string
	RouteRelevant string
	HomeOverride  string
	HomeDisabled  string
	NoRoute       string
}

type Builder struct {
	cal        calendar.Calendar
	primaryID  string
	overrideID string
	resolver   Resolver
	markers    Markers
}

func NewBuilder(cal calendar.Calendar, primaryID, overrideID string, resolver Resolver, markers Markers) *Builder {
	return &Builder{
		cal:        cal,
		primaryID:  primaryID,
		overrideID: overrideID,
		resolver:   resolver,
		markers:    markers,
	}
}

// Build reads both calendars for day and returns the merged itinerary.
// An empty day is not an error.
func (b *Builder) Build(ctx context.Context, day time.Time) (Day, error) {
	out := Day{Date: day}

	primary, err := b.cal.ListEvents(ctx, b.primaryID, day)
	if err != nil {
		return out, fmt.Errorf("list primary calendar: %w", err)
	}
	overrides, err := b.cal.ListEvents(ctx, b.overrideID, day)
	if err != nil {
		return out, fmt.Errorf("list override calendar: %w", err)
	}

	primary = filter(primary, func(ev model.Event) bool {
		return !ev.AllDay && !contains(ev.Description, b.markers.Stream)
	})
	overrides = filter(overrides, b.relevantOverride)

	var extra []model.Event
	for _, ov := range overrides {
		if contains(ov.Summary, b.markers.Cancel) {
			primary = b.cancel(primary, ov)
			continue
		}
		override := contains(ov.Description, b.markers.HomeOverride)
		disabled := contains(ov.Description, b.markers.HomeDisabled)
		if override {
			if c, ok := b.resolver.Resolve(ctx, ov.Location); ok {
				out.Home.Override = &c
			} else {
				out.Home.Unresolved = true
				appLog.Warn("home override location unresolved", "event", ov.Summary, "location", ov.Location)
			}
		}
		if disabled {
			out.Home.Disabled = true
		}
		// Home entries and all-day entries only carry day-wide directives.
		if !override && !disabled && !ov.AllDay {
			extra = append(extra, ov)
		}
	}

	merged := append(primary, extra...)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Start.Before(merged[j].Start)
	})

	out.Waypoints = make([]Waypoint, len(merged))
	for i, ev := range merged {
		out.Waypoints[i] = Waypoint{Event: ev, Directives: directive.Parse(ev.Description)}
	}
	return out, nil
}

func (b *Builder) relevantOverride(ev model.Event) bool {
	return contains(ev.Summary, b.markers.Cancel) ||
		contains(ev.Description, b.markers.RouteRelevant) ||
		contains(ev.Description, b.markers.HomeOverride) ||
		contains(ev.Description, b.markers.HomeDisabled) ||
		contains(ev.Description, b.markers.NoRoute)
}

// cancel drops primary entries with the same bounds as the cancellation
// entry whose summary contains the text following the marker. Without such
// text every entry with the same bounds is dropped.
func (b *Builder) cancel(primary []model.Event, ov model.Event) []model.Event {
	i := strings.Index(ov.Summary, b.markers.Cancel)
	suffix := strings.TrimSpace(ov.Summary[i+len(b.markers.Cancel):])

	return filter(primary, func(ev model.Event) bool {
		match := ev.Start.Equal(ov.Start) && ev.End.Equal(ov.End) &&
			(suffix == "" || strings.Contains(ev.Summary, suffix))
		if match {
			appLog.Info("primary entry cancelled", "event", ev.Summary, "by", ov.Summary)
		}
		return !match
	})
}

func filter(evs []model.Event, keep func(model.Event) bool) []model.Event {
	out := make([]model.Event, 0, len(evs))
	for _, ev := range evs {
		if keep(ev) {
			out = append(out, ev)
		}
	}
	return out
}

// contains is strings.Contains that never matches an unset marker.
func contains(s, marker string) bool {
	return marker != "" && strings.Contains(s, marker)
}
