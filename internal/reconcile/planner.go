// Package reconcile computes a day's target routes and brings the route
// calendar in line with them.
package reconcile

import (
	"context"
	"time"

	"commutecal/internal/directive"
	"commutecal/internal/itinerary"
	appLog "commutecal/internal/log"
	"commutecal/internal/model"
	"commutecal/internal/transit"
)

// RouteFinder picks one route for a request. Errors other than the
// settled ones of package transit count as failures worth retrying.
type RouteFinder interface {
	Find(ctx context.Context, req transit.Request) (transit.Route, error)
}

// Planner turns an itinerary into target routes.
type Planner struct {
	finder       RouteFinder
	resolver     itinerary.Resolver
	home         model.Coordinates
	marginBefore time.Duration
	marginAfter  time.Duration
}

func NewPlanner(finder RouteFinder, resolver itinerary.Resolver, home model.Coordinates, marginBefore, marginAfter time.Duration) *Planner {
	return &Planner{
		finder:       finder,
		resolver:     resolver,
		home:         home,
		marginBefore: marginBefore,
		marginAfter:  marginAfter,
	}
}

type stop struct {
	wp     itinerary.Waypoint
	coords model.Coordinates
	ok     bool
}

// Plan returns the routes the day should have: home to the first
// waypoint, between adjacent waypoints, and from the last waypoint home.
// Legs that cannot be routed are dropped and logged. complete is false
// when a leg was dropped because a backend or location lookup failed, so
// the same itinerary may plan differently on the next attempt.
func (p *Planner) Plan(ctx context.Context, d itinerary.Day) (routes []transit.Route, complete bool) {
	if len(d.Waypoints) == 0 {
		return nil, true
	}

	stops := make([]stop, len(d.Waypoints))
	for i, wp := range d.Waypoints {
		stops[i].wp = wp
		if wp.Event.Location == "" {
			appLog.Debug("waypoint without location", "event", wp.Event.Summary)
			continue
		}
		stops[i].coords, stops[i].ok = p.resolver.Resolve(ctx, wp.Event.Location)
	}

	home := p.home
	if d.Home.Override != nil {
		home = *d.Home.Override
	}

	complete = !d.Home.Unresolved
	add := func(req transit.Request, what string) {
		r, err := p.finder.Find(ctx, req)
		if err == nil {
			routes = append(routes, r)
			return
		}
		if !transit.Settled(err) {
			complete = false
		}
		appLog.Debug("no route for leg", "leg", what, "at", req.At.Format(time.RFC3339), "err", err)
	}
	routable := func(s stop, leg string) bool {
		if s.wp.Directives.Enabled(directive.NoRoute) {
			return false
		}
		if !s.ok {
			if s.wp.Event.Location != "" {
				complete = false
			}
			appLog.Info("skipping leg; location unresolved", "event", s.wp.Event.Summary, "location", s.wp.Event.Location, "leg", leg)
			return false
		}
		return true
	}

	first, last := stops[0], stops[len(stops)-1]
	if !d.Home.Disabled && routable(first, "from home") {
		add(transit.Request{
			Origin:      home,
			Destination: first.coords,
			At:          first.wp.Event.Start.Add(-p.before(first.wp)),
			Anchor:      transit.Arrival,
			Backend:     backend(first.wp),
		}, "home → "+first.wp.Event.Summary)
	}

	for i := 0; i+1 < len(stops); i++ {
		a, b := stops[i], stops[i+1]
		if !routable(a, "to "+b.wp.Event.Summary) || !routable(b, "from "+a.wp.Event.Summary) {
			continue
		}
		req := transit.Request{
			Origin:      a.coords,
			Destination: b.coords,
			Anchor:      transit.Departure,
			At:          a.wp.Event.End.Add(p.after(a.wp)),
			Backend:     backend(a.wp, b.wp),
		}
		if b.wp.Directives.Enabled(directive.Arrive) {
			req.Anchor = transit.Arrival
			req.At = b.wp.Event.Start.Add(-p.before(b.wp))
		}
		add(req, a.wp.Event.Summary+" → "+b.wp.Event.Summary)
	}

	if !d.Home.Disabled && routable(last, "to home") {
		add(transit.Request{
			Origin:      last.coords,
			Destination: home,
			At:          last.wp.Event.End.Add(p.after(last.wp)),
			Anchor:      transit.Departure,
			Backend:     backend(last.wp),
		}, last.wp.Event.Summary+" → home")
	}

	return routes, complete
}

func (p *Planner) before(wp itinerary.Waypoint) time.Duration {
	return time.Duration(wp.Directives.Minutes(directive.MarginBefore, int(p.marginBefore/time.Minute))) * time.Minute
}

func (p *Planner) after(wp itinerary.Waypoint) time.Duration {
	return time.Duration(wp.Directives.Minutes(directive.MarginAfter, int(p.marginAfter/time.Minute))) * time.Minute
}

func backend(wps ...itinerary.Waypoint) transit.BackendKind {
	for _, wp := range wps {
		if wp.Directives.Enabled(directive.DBRouting) {
			return transit.LongDistanceBackend
		}
	}
	return transit.RegionalBackend
}
