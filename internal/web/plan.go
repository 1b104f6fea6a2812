package web

import (
	"time"

	"commutecal/internal/directive"
	"commutecal/internal/itinerary"
	"commutecal/internal/model"
	"commutecal/internal/transit"
)

type planResponse struct {
	Date      string        `json:"date"`
	Home      homeDTO       `json:"home"`
	Waypoints []waypointDTO `json:"waypoints"`
	Routes    []routeDTO    `json:"routes"`
}

type homeDTO struct {
	Override *model.Coordinates `json:"override,omitempty"`
	Disabled bool               `json:"disabled"`
}

type waypointDTO struct {
	Summary    string        `json:"summary"`
	Location   string        `json:"location"`
	Start      time.Time     `json:"start"`
	End        time.Time     `json:"end"`
	Directives directive.Set `json:"directives,omitempty"`
}

type routeDTO struct {
	Summary         string            `json:"summary"`
	Departure       time.Time         `json:"departure"`
	Arrival         time.Time         `json:"arrival"`
	DurationMinutes int               `json:"duration_minutes"`
	Origin          model.Coordinates `json:"origin"`
	Destination     model.Coordinates `json:"destination"`
	Description     string            `json:"description"`
}

func newPlanResponse(date string, it itinerary.Day, routes []transit.Route, loc *time.Location) planResponse {
	resp := planResponse{
		Date:      date,
		Home:      homeDTO{Override: it.Home.Override, Disabled: it.Home.Disabled},
		Waypoints: make([]waypointDTO, 0, len(it.Waypoints)),
		Routes:    make([]routeDTO, 0, len(routes)),
	}
	for _, wp := range it.Waypoints {
		resp.Waypoints = append(resp.Waypoints, waypointDTO{
			Summary:    wp.Event.Summary,
			Location:   wp.Event.Location,
			Start:      wp.Event.Start.In(loc),
			End:        wp.Event.End.In(loc),
			Directives: wp.Directives,
		})
	}
	for _, r := range routes {
		resp.Routes = append(resp.Routes, routeDTO{
			Summary:         r.Summary(),
			Departure:       r.Departure().In(loc),
			Arrival:         r.Arrival().In(loc),
			DurationMinutes: int(r.Duration() / time.Minute),
			Origin:          r.Origin,
			Destination:     r.Destination,
			Description:     r.Description(loc),
		})
	}
	return resp
}
