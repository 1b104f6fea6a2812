package main

import (
	"context"
	"encoding/csv"
	"io"
	"time"

	"github.com/jszwec/csvutil"

	"commutecal/internal/transit"
	"commutecal/internal/web"
)

// planRow is one line of the -plan CSV export.
type planRow struct {
	Date        string `csv:"date"`
	Departure   string `csv:"departure"`
	Arrival     string `csv:"arrival"`
	Minutes     int    `csv:"minutes"`
	Summary     string `csv:"summary"`
	Origin      string `csv:"origin"`
	Destination string `csv:"destination"`
}

// writePlanCSV previews day and prints its target routes.
func writePlanCSV(ctx context.Context, w io.Writer, p web.Previewer, day time.Time, loc *time.Location) error {
	_, routes, err := p.Preview(ctx, day)
	if err != nil {
		return err
	}
	return encodePlan(w, planRows(day, routes, loc))
}

func planRows(day time.Time, routes []transit.Route, loc *time.Location) []planRow {
	rows := make([]planRow, 0, len(routes))
	for _, r := range routes {
		rows = append(rows, planRow{
			Date:        day.Format(time.DateOnly),
			Departure:   r.Departure().In(loc).Format("15:04"),
			Arrival:     r.Arrival().In(loc).Format("15:04"),
			Minutes:     int(r.Duration() / time.Minute),
			Summary:     r.Summary(),
			Origin:      r.Origin.String(),
			Destination: r.Destination.String(),
		})
	}
	return rows
}

func encodePlan(w io.Writer, rows []planRow) error {
	cw := csv.NewWriter(w)
	enc := csvutil.NewEncoder(cw)
	if len(rows) == 0 {
		if err := enc.EncodeHeader(planRow{}); err != nil {
			return err
		}
	} else if err := enc.Encode(rows); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}
