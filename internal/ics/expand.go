package ics

import (
	"errors"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "commutecal/internal/log"
	"commutecal/internal/model"
)

const maxInstancesPerSeries = 5000

// Expand turns entries into concrete events intersecting [from, to).
// RRULE series are expanded with EXDATEs removed and RECURRENCE-ID
// replacements applied. Events come back sorted by start, in UTC.
func Expand(calendarID string, entries []Entry, from, to time.Time) ([]model.Event, error) {
	if to.Before(from) {
		return nil, errors.New("ics: expand window ends before it starts")
	}

	series := make(map[string][]Entry)
	replacements := make(map[string][]Entry)
	for _, e := range entries {
		if e.RecurrenceID != nil {
			replacements[e.UID] = append(replacements[e.UID], e)
			continue
		}
		series[e.UID] = append(series[e.UID], e)
	}

	out := make([]model.Event, 0)
	for uid, bases := range series {
		for _, base := range bases {
			for _, inst := range instances(base, from, to) {
				ev := base
				if r, ok := replacementFor(replacements[uid], inst.start); ok {
					inst = span{r.Start, r.End}
					ev = r
				}
				if !overlaps(inst.start, inst.end, from, to) {
					continue
				}
				out = append(out, toEvent(calendarID, ev, inst))
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Start.Equal(out[j].Start) {
			return out[i].ID < out[j].ID
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out, nil
}

type span struct {
	start, end time.Time
}

func instances(e Entry, from, to time.Time) []span {
	if e.RRule == "" {
		return []span{{e.Start, e.End}}
	}

	rule, err := rrule.StrToRRule(e.RRule)
	if err != nil {
		appLog.Error("ics: bad RRULE", err, "uid", e.UID, "rrule", e.RRule)
		return nil
	}
	rule.DTStart(e.Start)

	var set rrule.Set
	set.RRule(rule)
	for _, ex := range e.ExDates {
		set.ExDate(ex.In(e.Start.Location()))
	}

	// Widen the lower bound by the event length so instances that started
	// before the window but are still running are kept.
	dur := e.End.Sub(e.Start)
	starts := set.Between(from.Add(-dur).In(e.Start.Location()), to.In(e.Start.Location()), true)
	if len(starts) > maxInstancesPerSeries {
		appLog.Warn("ics: truncating series", "uid", e.UID, "cap", maxInstancesPerSeries)
		starts = starts[:maxInstancesPerSeries]
	}

	out := make([]span, 0, len(starts))
	for _, s := range starts {
		if e.AllDay {
			day := time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, s.Location())
			out = append(out, span{day, day.AddDate(0, 0, 1)})
			continue
		}
		out = append(out, span{s, s.Add(dur)})
	}
	return out
}

func replacementFor(candidates []Entry, start time.Time) (Entry, bool) {
	for _, c := range candidates {
		if c.RecurrenceID.Equal(start) {
			return c, true
		}
	}
	return Entry{}, false
}

func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	if aStart.Equal(aEnd) {
		return !aStart.Before(bStart) && aStart.Before(bEnd)
	}
	return aStart.Before(bEnd) && aEnd.After(bStart)
}

func toEvent(calendarID string, e Entry, s span) model.Event {
	return model.Event{
		CalendarID:  calendarID,
		ID:          e.UID + "/" + s.start.UTC().Format("20060102T150405Z"),
		Summary:     e.Summary,
		Description: e.Description,
		Location:    e.Location,
		AllDay:      e.AllDay,
		Start:       s.start.UTC(),
		End:         s.end.UTC(),
	}
}
