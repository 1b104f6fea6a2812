// Package location turns the free-form location text of calendar entries
// into coordinates.
//
// Resolution order, first success wins:
//
//	"Hörsaal 1 (5602.EG.001)"  campus id in the last parenthesis
//	"id:5602.EG.001"           campus id
//	"geo:48.2625, 11.668"      literal coordinates
//	"search:Interims Hörsaal"  campus search, first hit
//	anything else              MVG location search, first hit
package location

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/bluele/gcache"

	"commutecal/internal/httpx"
	appLog "commutecal/internal/log"
	"commutecal/internal/model"
)

const (
	PrefixID     = "id:"
	PrefixGeo    = "geo:"
	PrefixSearch = "search:"
)

var errNoResult = errors.New("no result")

// Place is a resolved location.
type Place struct {
	Name        string
	Place       string
	Coordinates model.Coordinates
}

// Resolver resolves and caches locations. It is not shared between
// scheduler loops; each loop builds its own.
type Resolver struct {
	client       *httpx.Client
	navigaTUMURL string
	mvgURL       string
	cache        gcache.Cache
}

// New returns a Resolver. navigaTUMURL is the campus navigation service,
// mvgURL the MVG fib/v2 base.
func New(client *httpx.Client, navigaTUMURL, mvgURL string, cacheSize int) *Resolver {
	if cacheSize <= 0 {
		cacheSize = 512
	}
	return &Resolver{
		client:       client,
		navigaTUMURL: navigaTUMURL,
		mvgURL:       mvgURL,
		cache: gcache.New(cacheSize).
			LRU().
			Expiration(24 * time.Hour).
			Build(),
	}
}

// Resolve returns the coordinates of raw. Failures are logged and reported
// as false; they never abort the caller.
func (r *Resolver) Resolve(ctx context.Context, raw string) (model.Coordinates, bool) {
	p, ok := r.Lookup(ctx, raw)
	return p.Coordinates, ok
}

// Lookup is Resolve with the name and place of the hit.
func (r *Resolver) Lookup(ctx context.Context, raw string) (Place, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Place{}, false
	}
	if v, err := r.cache.Get(raw); err == nil {
		return v.(Place), true
	}

	p, err := r.lookup(ctx, raw)
	if err != nil {
		appLog.Warn("location unresolved", "location", raw, "err", err)
		return Place{}, false
	}
	_ = r.cache.Set(raw, p)
	return p, true
}

func (r *Resolver) lookup(ctx context.Context, raw string) (Place, error) {
	if id, ok := parenthesized(raw); ok {
		return r.byID(ctx, id)
	}
	switch {
	case strings.HasPrefix(raw, PrefixID):
		return r.byID(ctx, strings.TrimSpace(strings.TrimPrefix(raw, PrefixID)))
	case strings.HasPrefix(raw, PrefixGeo):
		c, err := model.ParseCoordinates(strings.TrimPrefix(raw, PrefixGeo))
		if err != nil {
			return Place{}, err
		}
		return Place{Name: raw, Coordinates: c}, nil
	case strings.HasPrefix(raw, PrefixSearch):
		id, err := r.search(ctx, strings.TrimSpace(strings.TrimPrefix(raw, PrefixSearch)))
		if err != nil {
			return Place{}, err
		}
		return r.byID(ctx, id)
	default:
		return r.mvgSearch(ctx, raw)
	}
}

// parenthesized returns the content of the last "(...)" group.
func parenthesized(raw string) (string, bool) {
	open := strings.LastIndex(raw, "(")
	if open < 0 {
		return "", false
	}
	inner := raw[open+1:]
	if end := strings.Index(inner, ")"); end >= 0 {
		inner = inner[:end]
	}
	inner = strings.TrimSpace(inner)
	return inner, inner != ""
}

type navigaTUMLocation struct {
	Name   string `json:"name"`
	Coords *struct {
		Lat *float64 `json:"lat"`
		Lon *float64 `json:"lon"`
	} `json:"coords"`
}

func (r *Resolver) byID(ctx context.Context, id string) (Place, error) {
	if id == "" {
		return Place{}, errors.New("empty campus id")
	}
	var loc navigaTUMLocation
	if err := r.client.GetJSON(ctx, r.navigaTUMURL, "/api/get/"+url.PathEscape(id), nil, &loc); err != nil {
		return Place{}, fmt.Errorf("campus id %s: %w", id, err)
	}
	if loc.Coords == nil || loc.Coords.Lat == nil || loc.Coords.Lon == nil {
		return Place{}, fmt.Errorf("campus id %s: %w", id, errNoResult)
	}
	return Place{
		Name:        loc.Name,
		Coordinates: model.Coordinates{Lat: *loc.Coords.Lat, Lon: *loc.Coords.Lon},
	}, nil
}

type navigaTUMSearch struct {
	Sections []struct {
		Facet   string `json:"facet"`
		Entries []struct {
			ID string `json:"id"`
		} `json:"entries"`
	} `json:"sections"`
}

func (r *Resolver) search(ctx context.Context, q string) (string, error) {
	var res navigaTUMSearch
	if err := r.client.GetJSON(ctx, r.navigaTUMURL, "/api/search", url.Values{"q": {q}}, &res); err != nil {
		return "", fmt.Errorf("campus search %q: %w", q, err)
	}
	// First section holds the best matches; the second is the fallback.
	for i := 0; i < len(res.Sections) && i < 2; i++ {
		for _, e := range res.Sections[i].Entries {
			if e.ID != "" {
				return e.ID, nil
			}
		}
	}
	return "", fmt.Errorf("campus search %q: %w", q, errNoResult)
}

type mvgLocation struct {
	Name      string   `json:"name"`
	Place     string   `json:"place"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

func (r *Resolver) mvgSearch(ctx context.Context, q string) (Place, error) {
	var res []mvgLocation
	if err := r.client.GetJSON(ctx, r.mvgURL, "/location", url.Values{"query": {q}}, &res); err != nil {
		return Place{}, fmt.Errorf("mvg location %q: %w", q, err)
	}
	if len(res) == 0 || res[0].Latitude == nil || res[0].Longitude == nil {
		return Place{}, fmt.Errorf("mvg location %q: %w", q, errNoResult)
	}
	return Place{
		Name:        res[0].Name,
		Place:       res[0].Place,
		Coordinates: model.Coordinates{Lat: *res[0].Latitude, Lon: *res[0].Longitude},
	}, nil
}
