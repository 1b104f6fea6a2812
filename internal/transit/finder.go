package transit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"commutecal/internal/httpx"
	appLog "commutecal/internal/log"
	"commutecal/internal/model"
)

// ErrMalformed is returned by backends whose response could not be parsed.
var ErrMalformed = httpx.ErrMalformed

// Settled outcomes of Find. Any other error is a backend failure and may
// go away on the next attempt.
var (
	ErrTooClose  = errors.New("endpoints within walking distance")
	ErrNoRoute   = errors.New("no route satisfies anchor")
	ErrNoBackend = errors.New("no transit backend configured")
)

// Settled reports whether err is a lasting answer rather than a failure.
func Settled(err error) bool {
	return errors.Is(err, ErrTooClose) || errors.Is(err, ErrNoRoute) || errors.Is(err, ErrNoBackend)
}

// Anchor says whether a request time is an arrive-by or depart-at bound.
type Anchor int

const (
	Departure Anchor = iota
	Arrival
)

func (a Anchor) String() string {
	if a == Arrival {
		return "arrival"
	}
	return "departure"
}

// BackendKind selects one of the two routing providers.
type BackendKind int

const (
	RegionalBackend BackendKind = iota
	LongDistanceBackend
)

func (k BackendKind) String() string {
	if k == LongDistanceBackend {
		return "long_distance"
	}
	return "regional"
}

// Backend queries one routing provider for candidates near at.
type Backend interface {
	Query(ctx context.Context, origin, destination model.Coordinates, at time.Time, anchor Anchor) ([]Route, error)
}

// Request describes one leg to route.
type Request struct {
	Origin      model.Coordinates
	Destination model.Coordinates
	At          time.Time
	Anchor      Anchor
	Backend     BackendKind
}

// FinderConfig bounds the search.
type FinderConfig struct {
	MinDistanceKm float64
	Shift         time.Duration
	MaxShifts     int
}

// Finder selects one route per request.
type Finder struct {
	backends map[BackendKind]Backend
	cfg      FinderConfig
}

func NewFinder(regional, longDistance Backend, cfg FinderConfig) *Finder {
	if cfg.Shift <= 0 {
		cfg.Shift = 30 * time.Minute
	}
	if cfg.MaxShifts < 0 {
		cfg.MaxShifts = 0
	}
	return &Finder{
		backends: map[BackendKind]Backend{
			RegionalBackend:     regional,
			LongDistanceBackend: longDistance,
		},
		cfg: cfg,
	}
}

// Find returns the best route for req. It fails with ErrTooClose when the
// endpoints are too close, with ErrNoRoute when nothing satisfies the
// anchor after cfg.MaxShifts shifted retries, and with the backend's error
// when a query fails.
func (f *Finder) Find(ctx context.Context, req Request) (Route, error) {
	if d := req.Origin.DistanceKm(req.Destination); d <= f.cfg.MinDistanceKm {
		appLog.Debug("short hop; not routing", "origin", req.Origin, "destination", req.Destination, "km", fmt.Sprintf("%.2f", d))
		return Route{}, ErrTooClose
	}

	b := f.backends[req.Backend]
	if b == nil {
		appLog.Warn("no transit backend configured", "backend", req.Backend)
		return Route{}, fmt.Errorf("%s: %w", req.Backend, ErrNoBackend)
	}

	step := f.cfg.Shift
	if req.Anchor == Arrival {
		step = -step
	}

	at := req.At
	for attempt := 0; attempt <= f.cfg.MaxShifts; attempt++ {
		routes, err := f.query(ctx, b, req, at)
		if err != nil {
			appLog.Error("transit query failed", err, "backend", req.Backend, "anchor", req.Anchor, "at", at.Format(time.RFC3339))
			return Route{}, fmt.Errorf("%s query: %w", req.Backend, err)
		}
		if best, ok := Select(routes, at, req.Anchor); ok {
			best.Origin, best.Destination = req.Origin, req.Destination
			return best, nil
		}
		at = at.Add(step)
	}

	appLog.Warn("no route satisfies anchor", "backend", req.Backend, "anchor", req.Anchor,
		"at", req.At.Format(time.RFC3339), "shifts", f.cfg.MaxShifts)
	return Route{}, ErrNoRoute
}

// query calls the backend, retrying once when the response was malformed.
func (f *Finder) query(ctx context.Context, b Backend, req Request, at time.Time) ([]Route, error) {
	policy := backoff.WithContext(backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 1), ctx)
	return backoff.RetryNotifyWithData(
		func() ([]Route, error) {
			routes, err := b.Query(ctx, req.Origin, req.Destination, at, req.Anchor)
			if err != nil && !errors.Is(err, ErrMalformed) {
				return nil, backoff.Permanent(err)
			}
			return routes, err
		},
		policy,
		func(err error, _ time.Duration) {
			appLog.Warn("malformed transit response; retrying", "backend", req.Backend, "err", err)
		},
	)
}

// Select applies the anchor rule: for Arrival the latest departure among
// routes arriving by at, for Departure the earliest arrival among routes
// leaving at or after at. Ties keep the earlier candidate.
func Select(routes []Route, at time.Time, anchor Anchor) (Route, bool) {
	var best Route
	found := false
	for _, r := range routes {
		if len(r.Legs) == 0 {
			continue
		}
		switch anchor {
		case Arrival:
			if r.Arrival().After(at) {
				continue
			}
			if !found || r.Departure().After(best.Departure()) {
				best, found = r, true
			}
		default:
			if r.Departure().Before(at) {
				continue
			}
			if !found || r.Arrival().Before(best.Arrival()) {
				best, found = r, true
			}
		}
	}
	return best, found
}
