package reconcile

import (
	"context"
	"fmt"
	"time"

	"commutecal/internal/calendar"
	"commutecal/internal/itinerary"
	appLog "commutecal/internal/log"
	"commutecal/internal/model"
	"commutecal/internal/transit"
)

// DayBuilder builds the itinerary of a day.
type DayBuilder interface {
	Build(ctx context.Context, day time.Time) (itinerary.Day, error)
}

// Result describes one reconcile pass.
type Result struct {
	// Itinerary is the snapshot to pass as previous on the next call.
	Itinerary itinerary.Day
	// Upcoming is the earliest published route departing within the
	// lookahead window, if any.
	Upcoming *model.Event
	// Skipped is set when nothing changed and no route was upcoming.
	Skipped bool
	// Incomplete is set when a leg was dropped for a reason that may not
	// hold next time. Itinerary must not be reused as previous then.
	Incomplete bool
	Routes  []transit.Route
	Created int
	Deleted int
}

type Options struct {
	RoutesCalendarID string
	Location         *time.Location
	Lookahead        time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

type Reconciler struct {
	cal     calendar.Calendar
	builder DayBuilder
	planner *Planner
	opts    Options
}

func New(cal calendar.Calendar, builder DayBuilder, planner *Planner, opts Options) *Reconciler {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Lookahead <= 0 {
		opts.Lookahead = 30 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Reconciler{cal: cal, builder: builder, planner: planner, opts: opts}
}

// Reconcile brings the route calendar for day in line with the day's
// itinerary. When previous equals the fresh itinerary and no published
// route is upcoming the pass stops before querying any transit backend.
//
// Write errors abort the pass; the returned Result then reflects the
// writes done so far.
func (r *Reconciler) Reconcile(ctx context.Context, day time.Time, previous *itinerary.Day) (Result, error) {
	day = day.In(r.opts.Location)

	published, err := r.published(ctx, day)
	if err != nil {
		return Result{}, err
	}

	it, err := r.builder.Build(ctx, day)
	if err != nil {
		return Result{}, err
	}

	res := Result{Itinerary: it, Upcoming: r.upcoming(published)}
	if previous != nil && previous.Equal(it) && res.Upcoming == nil {
		res.Skipped = true
		return res, nil
	}

	var complete bool
	res.Routes, complete = r.planner.Plan(ctx, it)
	res.Incomplete = !complete
	stale, missing := diff(published, res.Routes)

	for _, ev := range stale {
		if err := r.cal.DeleteEvent(ctx, r.opts.RoutesCalendarID, ev.ID); err != nil {
			return res, fmt.Errorf("delete route %q: %w", ev.Summary, err)
		}
		res.Deleted++
		appLog.Info("route removed", "day", day.Format(time.DateOnly), "summary", ev.Summary, "start", ev.Start.In(r.opts.Location).Format("15:04"))
	}

	for _, route := range missing {
		created, err := r.cal.CreateEvent(ctx, r.opts.RoutesCalendarID, route.Event(r.opts.Location))
		if err != nil {
			return res, fmt.Errorf("create route %q: %w", route.Summary(), err)
		}
		res.Created++
		published = append(published, created)
		appLog.Info("route added", "day", day.Format(time.DateOnly), "summary", created.Summary, "start", created.Start.In(r.opts.Location).Format("15:04"))
	}

	if res.Created > 0 || res.Deleted > 0 {
		res.Upcoming = r.upcoming(without(published, stale))
	}
	return res, nil
}

// Preview builds and plans day without touching the route calendar.
func (r *Reconciler) Preview(ctx context.Context, day time.Time) (itinerary.Day, []transit.Route, error) {
	it, err := r.builder.Build(ctx, day.In(r.opts.Location))
	if err != nil {
		return it, nil, err
	}
	routes, _ := r.planner.Plan(ctx, it)
	return it, routes, nil
}

// published lists route events starting on day. Routes crossing midnight
// belong to the day they depart on; all-day entries are never ours.
func (r *Reconciler) published(ctx context.Context, day time.Time) ([]model.Event, error) {
	evs, err := r.cal.ListEvents(ctx, r.opts.RoutesCalendarID, day)
	if err != nil {
		return nil, fmt.Errorf("list route calendar: %w", err)
	}
	from, to := calendar.DayBounds(day)
	out := make([]model.Event, 0, len(evs))
	for _, ev := range evs {
		if ev.AllDay || ev.Start.Before(from) || !ev.Start.Before(to) {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// upcoming returns the earliest event departing in [now, now+lookahead].
func (r *Reconciler) upcoming(evs []model.Event) *model.Event {
	now := r.opts.Now()
	horizon := now.Add(r.opts.Lookahead)

	var best *model.Event
	for i := range evs {
		s := evs[i].Start
		if s.Before(now) || s.After(horizon) {
			continue
		}
		if best == nil || s.Before(best.Start) {
			ev := evs[i]
			best = &ev
		}
	}
	return best
}

// diff pairs published events with target routes one to one. Events left
// over are stale, routes left over are missing.
func diff(published []model.Event, targets []transit.Route) (stale []model.Event, missing []transit.Route) {
	used := make([]bool, len(published))
	for _, route := range targets {
		matched := false
		for i, ev := range published {
			if !used[i] && transit.Matches(ev, route) {
				used[i], matched = true, true
				break
			}
		}
		if !matched {
			missing = append(missing, route)
		}
	}
	for i, ev := range published {
		if !used[i] {
			stale = append(stale, ev)
		}
	}
	return stale, missing
}

func without(evs, drop []model.Event) []model.Event {
	if len(drop) == 0 {
		return evs
	}
	gone := make(map[string]bool, len(drop))
	for _, ev := range drop {
		gone[ev.ID] = true
	}
	out := make([]model.Event, 0, len(evs))
	for _, ev := range evs {
		if !gone[ev.ID] {
			out = append(out, ev)
		}
	}
	return out
}
