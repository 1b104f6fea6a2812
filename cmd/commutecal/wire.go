package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/api/option"

	"commutecal/internal/calendar"
	"commutecal/internal/config"
	"commutecal/internal/gcal"
	"commutecal/internal/httpx"
	"commutecal/internal/ics"
	"commutecal/internal/itinerary"
	"commutecal/internal/lamp"
	"commutecal/internal/location"
	appLog "commutecal/internal/log"
	"commutecal/internal/reconcile"
	"commutecal/internal/scheduler"
	"commutecal/internal/transit"
	"commutecal/internal/transit/db"
	"commutecal/internal/transit/mvg"
)

const (
	dnsRetries        = 3
	locationCacheSize = 512
)

type app struct {
	conf      *config.Config
	cal       calendar.Calendar
	http      *httpx.Client
	finder    *transit.Finder
	scheduler *scheduler.Scheduler
	lamp      *lamp.Lamp
}

// wire builds every collaborator once. Loops get their own reconciler and
// location cache through newReconciler.
func wire(ctx context.Context, conf *config.Config, dryRun bool) (*app, error) {
	cal, err := buildCalendar(ctx, conf, dryRun)
	if err != nil {
		return nil, err
	}

	a := &app{
		conf: conf,
		cal:  calendar.WithDNSRetry(cal, dnsRetries),
		http: httpx.New(conf.UserAgent, time.Duration(conf.Backends.TimeoutSeconds)*time.Second),
	}
	a.finder = transit.NewFinder(
		mvg.New(a.http, conf.Backends.MVGURL),
		db.New(a.http, conf.Backends.DBURL),
		transit.FinderConfig{
			MinDistanceKm: conf.Routing.MinDistanceKm,
			Shift:         time.Duration(conf.Routing.ShiftMinutes) * time.Minute,
			MaxShifts:     conf.Routing.MaxShifts,
		},
	)

	var onUpcoming scheduler.UpcomingFunc
	if conf.Lamp.Enabled {
		a.lamp = lamp.New(
			lamp.DefaultDriver(conf.Lamp.FarPin, conf.Lamp.NearPin, conf.Lamp.ImminentPin),
			conf.Home.Coordinates(),
			conf.Routing.MinDistanceKm,
		)
		onUpcoming = a.lamp.OnUpcoming
	}

	schedCfg, err := scheduler.ParseConfig(conf.Location(), conf.WeekStart, conf.Schedule.WeeksAhead,
		conf.Schedule.Today, conf.Schedule.Week, conf.Schedule.Future, conf.TodayFastInterval())
	if err != nil {
		return nil, err
	}
	a.scheduler = scheduler.New(schedCfg, func(loop string) scheduler.Reconciler {
		return a.newReconciler(loop)
	}, onUpcoming, scheduler.NewStatus())

	return a, nil
}

func (a *app) newReconciler(loop string) *reconcile.Reconciler {
	conf := a.conf
	resolver := location.New(a.http, conf.Backends.NavigaTUMURL, conf.Backends.MVGURL, locationCacheSize)
	builder := itinerary.NewBuilder(a.cal, conf.Calendars.Primary.ID, conf.Calendars.Override.ID, resolver, itinerary.Markers{
		Stream:        conf.Markers.Stream,
		Cancel:        conf.Markers.Cancel,
		RouteRelevant: conf.Markers.RouteRelevant,
		HomeOverride:  conf.Markers.HomeOverride,
		HomeDisabled:  conf.Markers.HomeDisabled,
		NoRoute:       conf.Markers.NoRoute,
	})
	planner := reconcile.NewPlanner(a.finder, resolver, conf.Home.Coordinates(),
		time.Duration(conf.Routing.MarginBeforeMinutes)*time.Minute,
		time.Duration(conf.Routing.MarginAfterMinutes)*time.Minute)

	appLog.Debug("reconciler created", "loop", loop)
	return reconcile.New(a.cal, builder, planner, reconcile.Options{
		RoutesCalendarID: conf.Calendars.Routes.ID,
		Location:         conf.Location(),
		Lookahead:        time.Duration(conf.Routing.LookaheadMinutes) * time.Minute,
	})
}

// buildCalendar routes each configured calendar id to its adapter.
func buildCalendar(ctx context.Context, conf *config.Config, dryRun bool) (calendar.Calendar, error) {
	mux := calendar.NewMux()
	refs := []config.CalendarRef{conf.Calendars.Primary, conf.Calendars.Override, conf.Calendars.Routes}

	var (
		google *gcal.Calendar
		feeds  []ics.Feed
		mem    = calendar.NewMemory()
	)
	for i, ref := range refs {
		isRoutes := i == len(refs)-1
		if isRoutes && dryRun {
			appLog.Info("dry run: routes go to an in-memory calendar", "calendar", ref.ID)
			mux.Handle(ref.ID, mem)
			continue
		}
		switch ref.Kind {
		case config.KindGoogle:
			if google == nil {
				c, err := googleCalendar(ctx, conf)
				if err != nil {
					return nil, err
				}
				google = c
			}
			mux.Handle(ref.ID, google)
		case config.KindICS:
			feeds = append(feeds, ics.Feed{ID: ref.ID, URL: ref.URL})
		case config.KindMemory:
			mux.Handle(ref.ID, mem)
		default:
			return nil, fmt.Errorf("calendar %s: unknown kind %q", ref.ID, ref.Kind)
		}
	}

	if len(feeds) > 0 {
		fetcher := ics.NewFetcher(conf.ICSCacheDir, conf.UserAgent, time.Duration(conf.Backends.TimeoutSeconds)*time.Second)
		feedCal := ics.NewCalendar(fetcher, feeds...)
		for _, f := range feeds {
			mux.Handle(f.ID, feedCal)
		}
	}
	return mux, nil
}

func googleCalendar(ctx context.Context, conf *config.Config) (*gcal.Calendar, error) {
	oc, err := gcal.OAuthConfig(conf.Google.CredentialsFile)
	if err != nil {
		return nil, err
	}
	client, err := gcal.Client(ctx, oc, conf.Google.TokenFile)
	if errors.Is(err, gcal.ErrNoToken) {
		return nil, fmt.Errorf("%w (token file %s)", err, conf.Google.TokenFile)
	}
	if err != nil {
		return nil, err
	}
	return gcal.New(ctx, option.WithHTTPClient(client))
}
