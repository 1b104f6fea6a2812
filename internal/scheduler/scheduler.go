// Package scheduler runs the today, week and future reconcile loops.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"commutecal/internal/itinerary"
	appLog "commutecal/internal/log"
	"commutecal/internal/model"
	"commutecal/internal/reconcile"
)

// Loop names.
const (
	Today  = "today"
	Week   = "week"
	Future = "future"
)

// Reconciler is what a loop drives; *reconcile.Reconciler implements it.
type Reconciler interface {
	Reconcile(ctx context.Context, day time.Time, previous *itinerary.Day) (reconcile.Result, error)
}

// Factory builds the reconciler of one loop. It is called once per loop so
// that loops never share a location cache.
type Factory func(loop string) Reconciler

// UpcomingFunc is told after every clean today pass about the route
// departing soon, or nil when none is. Errors and panics are logged and
// never stop the loop.
type UpcomingFunc func(ctx context.Context, ev *model.Event) error

type Config struct {
	Location *time.Location
	// WeekStart is time.Monday or time.Sunday.
	WeekStart time.Weekday
	// WeeksAhead is how many whole weeks after the current one the future
	// loop covers.
	WeeksAhead int

	Today  cron.Schedule
	Week   cron.Schedule
	Future cron.Schedule
	// TodayFast replaces the today schedule while a route is upcoming.
	TodayFast time.Duration
}

// ParseConfig builds a Config from standard 5-field cron expressions.
func ParseConfig(loc *time.Location, weekStart string, weeksAhead int, today, week, future string, fast time.Duration) (Config, error) {
	cfg := Config{Location: loc, WeekStart: time.Monday, WeeksAhead: weeksAhead, TodayFast: fast}
	if weekStart == "sunday" {
		cfg.WeekStart = time.Sunday
	}
	for _, s := range []struct {
		name string
		spec string
		dst  *cron.Schedule
	}{
		{Today, today, &cfg.Today},
		{Week, week, &cfg.Week},
		{Future, future, &cfg.Future},
	} {
		sched, err := cron.ParseStandard(s.spec)
		if err != nil {
			return cfg, fmt.Errorf("scheduler: %s schedule %q: %w", s.name, s.spec, err)
		}
		*s.dst = sched
	}
	return cfg, nil
}

type Scheduler struct {
	cfg        Config
	factory    Factory
	onUpcoming UpcomingFunc
	status     *Status
	now        func() time.Time
}

func New(cfg Config, factory Factory, onUpcoming UpcomingFunc, status *Status) *Scheduler {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if status == nil {
		status = NewStatus()
	}
	return &Scheduler{
		cfg:        cfg,
		factory:    factory,
		onUpcoming: onUpcoming,
		status:     status,
		now:        time.Now,
	}
}

func (s *Scheduler) Status() *Status { return s.status }

// Run starts the three loops and blocks until ctx is cancelled and every
// loop has finished its current pass.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, name := range []string{Today, Week, Future} {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			s.runLoop(ctx, newLoop(name, s.factory(name)))
		}(name)
	}
	wg.Wait()
	appLog.Info("scheduler stopped")
}

// RunOnce performs a single pass of the named loops in order and returns
// the joined errors.
func (s *Scheduler) RunOnce(ctx context.Context, names ...string) error {
	var errs []error
	for _, name := range names {
		l := newLoop(name, s.factory(name))
		if _, err := s.pass(ctx, l, s.now().In(s.cfg.Location)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type loop struct {
	name  string
	rec   Reconciler
	scope string
	snaps map[string]itinerary.Day
}

func newLoop(name string, rec Reconciler) *loop {
	return &loop{name: name, rec: rec, snaps: map[string]itinerary.Day{}}
}

func (s *Scheduler) runLoop(ctx context.Context, l *loop) {
	appLog.Info("loop started", "loop", l.name)
	for {
		now := s.now().In(s.cfg.Location)
		upcoming, err := s.pass(ctx, l, now)
		if err != nil {
			appLog.Error("reconcile pass failed", err, "loop", l.name)
		}

		wait := s.wait(l.name, now, upcoming)
		s.status.setNext(l.name, now.Add(wait))

		// 슬립 지점에서만 종료를 확인한다.
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			appLog.Info("loop stopped", "loop", l.name)
			return
		case <-timer.C:
		}
	}
}

// wait returns the sleep before the next pass of loop.
func (s *Scheduler) wait(name string, now time.Time, upcoming bool) time.Duration {
	var sched cron.Schedule
	switch name {
	case Today:
		sched = s.cfg.Today
	case Week:
		sched = s.cfg.Week
	default:
		sched = s.cfg.Future
	}
	d := time.Minute
	if sched != nil {
		d = sched.Next(now).Sub(now)
	}
	if name == Today && upcoming && s.cfg.TodayFast > 0 && s.cfg.TodayFast < d {
		d = s.cfg.TodayFast
	}
	if d <= 0 {
		d = time.Second
	}
	return d
}

// pass reconciles every day of the loop's scope once. It is not cancelled
// by ctx; a started pass always finishes.
func (s *Scheduler) pass(ctx context.Context, l *loop, now time.Time) (bool, error) {
	ctx = context.WithoutCancel(ctx)

	days, scope := s.days(l.name, now)
	if scope != l.scope {
		if l.scope != "" {
			appLog.Debug("scope advanced; dropping snapshots", "loop", l.name, "from", l.scope, "to", scope)
		}
		l.scope = scope
		l.snaps = map[string]itinerary.Day{}
	}

	rep := Report{Loop: l.name, Started: now}
	var errs []error
	for _, day := range days {
		key := day.Format(time.DateOnly)
		var prev *itinerary.Day
		if snap, ok := l.snaps[key]; ok {
			prev = &snap
		}

		res, err := l.rec.Reconcile(ctx, day, prev)
		rep.Created += res.Created
		rep.Deleted += res.Deleted
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			// Without a clean pass the day must be recomputed next time.
			delete(l.snaps, key)
			continue
		}
		if res.Incomplete {
			delete(l.snaps, key)
		} else {
			l.snaps[key] = res.Itinerary
		}
		rep.Days++
		if res.Skipped {
			rep.Skipped++
		}
		if res.Upcoming != nil && (rep.Upcoming == nil || res.Upcoming.Start.Before(rep.Upcoming.Start)) {
			up := *res.Upcoming
			rep.Upcoming = &up
		}
	}

	err := errors.Join(errs...)
	if rep.Upcoming != nil || (l.name == Today && err == nil) {
		s.notify(ctx, rep.Upcoming)
	}

	rep.Finished = s.now()
	if err != nil {
		rep.Error = err.Error()
	}
	s.status.record(rep)
	appLog.Debug("pass done", "loop", l.name, "days", len(days), "skipped", rep.Skipped, "created", rep.Created, "deleted", rep.Deleted)
	return rep.Upcoming != nil, err
}

func (s *Scheduler) notify(ctx context.Context, ev *model.Event) {
	if s.onUpcoming == nil {
		return
	}
	summary := ""
	if ev != nil {
		summary = ev.Summary
	}
	defer func() {
		if r := recover(); r != nil {
			appLog.Error("upcoming callback panicked", fmt.Errorf("%v", r), "summary", summary)
		}
	}()
	if err := s.onUpcoming(ctx, ev); err != nil {
		appLog.Error("upcoming callback failed", err, "summary", summary)
	}
}

// days returns the days a loop covers at now plus a key that changes when
// that set moves forward.
//
//   - today:  now's day
//   - week:   the rest of the current week after today
//   - future: WeeksAhead whole weeks after the current one
func (s *Scheduler) days(name string, now time.Time) ([]time.Time, string) {
	today := midnight(now)
	weekStart := startOfWeek(today, s.cfg.WeekStart)
	nextWeek := weekStart.AddDate(0, 0, 7)

	switch name {
	case Today:
		return []time.Time{today}, today.Format(time.DateOnly)
	case Week:
		var out []time.Time
		for d := today.AddDate(0, 0, 1); d.Before(nextWeek); d = d.AddDate(0, 0, 1) {
			out = append(out, d)
		}
		return out, today.Format(time.DateOnly)
	default:
		var out []time.Time
		end := nextWeek.AddDate(0, 0, 7*s.cfg.WeeksAhead)
		for d := nextWeek; d.Before(end); d = d.AddDate(0, 0, 1) {
			out = append(out, d)
		}
		return out, weekStart.Format(time.DateOnly)
	}
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func startOfWeek(day time.Time, start time.Weekday) time.Time {
	offset := (int(day.Weekday()) - int(start) + 7) % 7
	return day.AddDate(0, 0, -offset)
}
