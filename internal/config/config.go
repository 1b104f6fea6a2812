package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"commutecal/internal/model"
)

// Calendar kinds understood by cmd/commutecal when wiring collaborators.
const (
	KindGoogle = "google"
	KindICS    = "ics"
	KindMemory = "memory"
)

// CalendarRef points at one logical calendar.
type CalendarRef struct {
	// Kind selects the adapter: "google", "ics" (read-only) or "memory".
	Kind string `yaml:"kind" json:"kind" validate:"oneof=google ics memory"`
	// ID is the calendar id used in API calls and logs.
	ID string `yaml:"id" json:"id" validate:"required"`
	// URL is the subscription endpoint for ics calendars.
	URL string `yaml:"url,omitempty" json:"url,omitempty" validate:"omitempty,url"`
}

// CalendarsConfig names the three calendars the reconciler works with.
type CalendarsConfig struct {
	// Primary is the schedule source (e.g. the university course calendar).
	Primary CalendarRef `yaml:"primary" json:"primary"`
	// Override carries cancellations and directive entries.
	Override CalendarRef `yaml:"override" json:"override"`
	// Routes is the output calendar owned by commutecal.
	Routes CalendarRef `yaml:"routes" json:"routes"`
}

type HomeConfig struct {
	Latitude  float64 `yaml:"latitude" json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `yaml:"longitude" json:"longitude" validate:"gte=-180,lte=180"`
}

func (h HomeConfig) Coordinates() model.Coordinates {
	return model.Coordinates{Lat: h.Latitude, Lon: h.Longitude}
}

type GoogleConfig struct {
	CredentialsFile string `yaml:"credentials_file" json:"credentials_file"`
	TokenFile       string `yaml:"token_file" json:"token_file"`
}

type RoutingConfig struct {
	MarginBeforeMinutes int     `yaml:"margin_before_minutes" json:"margin_before_minutes" validate:"gte=0"`
	MarginAfterMinutes  int     `yaml:"margin_after_minutes" json:"margin_after_minutes" validate:"gte=0"`
	MinDistanceKm       float64 `yaml:"min_distance_km" json:"min_distance_km" validate:"gte=0"`
	ShiftMinutes        int     `yaml:"shift_minutes" json:"shift_minutes" validate:"gt=0"`
	MaxShifts           int     `yaml:"max_shifts" json:"max_shifts" validate:"gte=0,lte=10"`
	LookaheadMinutes    int     `yaml:"lookahead_minutes" json:"lookahead_minutes" validate:"gt=0"`
}

type BackendsConfig struct {
	MVGURL         string `yaml:"mvg_url" json:"mvg_url" validate:"url"`
	DBURL          string `yaml:"db_url" json:"db_url" validate:"url"`
	NavigaTUMURL   string `yaml:"navigatum_url" json:"navigatum_url" validate:"url"`
	TimeoutSeconds int    `yaml:"timeout_seconds" json:"timeout_seconds" validate:"gt=0"`
}

// ScheduleConfig holds the polling cadence of the three loops. Cadences are
// standard 5-field cron expressions; TodayFast is a Go duration used while
// a leg departs soon.
type ScheduleConfig struct {
	Today      string `yaml:"today" json:"today"`
	TodayFast  string `yaml:"today_fast" json:"today_fast"`
	Week       string `yaml:"week" json:"week"`
	Future     string `yaml:"future" json:"future"`
	WeeksAhead int    `yaml:"weeks_ahead" json:"weeks_ahead" validate:"gte=0,lte=12"`
}

// MarkersConfig lists the substrings that classify calendar entries.
type MarkersConfig struct {
	Stream        string `yaml:"stream" json:"stream" validate:"required"`
	Cancel        string `yaml:"cancel" json:"cancel" validate:"required"`
	RouteRelevant string `yaml:"route_relevant" json:"route_relevant" validate:"required"`
	HomeOverride  string `yaml:"home_override" json:"home_override" validate:"required"`
	HomeDisabled  string `yaml:"home_disabled" json:"home_disabled" validate:"required"`
	NoRoute       string `yaml:"no_route" json:"no_route" validate:"required"`
}

// LampConfig configures the optional GPIO departure lamp.
type LampConfig struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	FarPin      string `yaml:"far_pin" json:"far_pin"`
	NearPin     string `yaml:"near_pin" json:"near_pin"`
	ImminentPin string `yaml:"imminent_pin" json:"imminent_pin"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the status API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the status API. Empty disables it.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone that defines calendar days (e.g. "Europe/Berlin").
	Timezone string `yaml:"timezone" json:"timezone"`

	// WeekStart is "monday" (default) or "sunday"; it bounds the week loop.
	WeekStart string `yaml:"week_start" json:"week_start" validate:"oneof=monday sunday"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	// UserAgent is sent to every third-party backend.
	UserAgent string `yaml:"user_agent" json:"user_agent"`

	// ICSCacheDir stores ETag/Last-Modified metadata for ics calendars.
	ICSCacheDir string `yaml:"ics_cache_dir" json:"ics_cache_dir"`

	Home      HomeConfig      `yaml:"home" json:"home"`
	Calendars CalendarsConfig `yaml:"calendars" json:"calendars"`
	Google    GoogleConfig    `yaml:"google" json:"google"`
	Routing   RoutingConfig   `yaml:"routing" json:"routing"`
	Backends  BackendsConfig  `yaml:"backends" json:"backends"`
	Schedule  ScheduleConfig  `yaml:"schedule" json:"schedule"`
	Markers   MarkersConfig   `yaml:"markers" json:"markers"`
	Lamp      LampConfig      `yaml:"lamp" json:"lamp"`

	// BasicAuth, if non-nil, protects every endpoint except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"-"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:      "127.0.0.1:8080",
		Timezone:    "Europe/Berlin",
		WeekStart:   "monday",
		LogLevel:    "info",
		UserAgent:   "commutecal/0.1",
		ICSCacheDir: "./var/ics-cache",
		Calendars: CalendarsConfig{
			Primary:  CalendarRef{Kind: KindGoogle},
			Override: CalendarRef{Kind: KindGoogle},
			Routes:   CalendarRef{Kind: KindGoogle},
		},
		Google: GoogleConfig{
			CredentialsFile: "credentials.json",
			TokenFile:       "token.json",
		},
		Routing: RoutingConfig{
			MarginBeforeMinutes: 10,
			MarginAfterMinutes:  0,
			MinDistanceKm:       0.5,
			ShiftMinutes:        30,
			MaxShifts:           3,
			LookaheadMinutes:    30,
		},
		Backends: BackendsConfig{
			MVGURL:         "https://www.mvg.de/api/fib/v2",
			DBURL:          "https://v6.db.transport.rest",
			NavigaTUMURL:   "https://nav.tum.de",
			TimeoutSeconds: 15,
		},
		Schedule: ScheduleConfig{
			Today:      "*/5 * * * *",
			TodayFast:  "1m",
			Week:       "*/30 * * * *",
			Future:     "0 */4 * * *",
			WeeksAhead: 2,
		},
		Markers: MarkersConfig{
			Stream:        "Videoübertragung aus",
			Cancel:        "Ausfall",
			RouteRelevant: "route_relevant",
			HomeOverride:  "home_override",
			HomeDisabled:  "home_disabled",
			NoRoute:       "no_route",
		},
		Lamp: LampConfig{
			FarPin:      "GPIO17",
			NearPin:     "GPIO27",
			ImminentPin: "GPIO22",
		},
	}
}

// Normalize fills in missing/zero values with defaults so that partially
// filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()

	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	switch c.WeekStart {
	case "monday", "sunday":
	default:
		c.WeekStart = def.WeekStart
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.UserAgent == "" {
		c.UserAgent = def.UserAgent
	}
	if c.ICSCacheDir == "" {
		c.ICSCacheDir = def.ICSCacheDir
	}
	for _, ref := range []*CalendarRef{&c.Calendars.Primary, &c.Calendars.Override, &c.Calendars.Routes} {
		if ref.Kind == "" {
			ref.Kind = KindGoogle
		}
	}
	if c.Google.CredentialsFile == "" {
		c.Google.CredentialsFile = def.Google.CredentialsFile
	}
	if c.Google.TokenFile == "" {
		c.Google.TokenFile = def.Google.TokenFile
	}

	if c.Routing.ShiftMinutes <= 0 {
		c.Routing.ShiftMinutes = def.Routing.ShiftMinutes
	}
	if c.Routing.LookaheadMinutes <= 0 {
		c.Routing.LookaheadMinutes = def.Routing.LookaheadMinutes
	}

	if c.Backends.MVGURL == "" {
		c.Backends.MVGURL = def.Backends.MVGURL
	}
	if c.Backends.DBURL == "" {
		c.Backends.DBURL = def.Backends.DBURL
	}
	if c.Backends.NavigaTUMURL == "" {
		c.Backends.NavigaTUMURL = def.Backends.NavigaTUMURL
	}
	if c.Backends.TimeoutSeconds <= 0 {
		c.Backends.TimeoutSeconds = def.Backends.TimeoutSeconds
	}

	if c.Schedule.Today == "" {
		c.Schedule.Today = def.Schedule.Today
	}
	if c.Schedule.TodayFast == "" {
		c.Schedule.TodayFast = def.Schedule.TodayFast
	}
	if c.Schedule.Week == "" {
		c.Schedule.Week = def.Schedule.Week
	}
	if c.Schedule.Future == "" {
		c.Schedule.Future = def.Schedule.Future
	}

	if c.Markers.Stream == "" {
		c.Markers.Stream = def.Markers.Stream
	}
	if c.Markers.Cancel == "" {
		c.Markers.Cancel = def.Markers.Cancel
	}
	if c.Markers.RouteRelevant == "" {
		c.Markers.RouteRelevant = def.Markers.RouteRelevant
	}
	if c.Markers.HomeOverride == "" {
		c.Markers.HomeOverride = def.Markers.HomeOverride
	}
	if c.Markers.HomeDisabled == "" {
		c.Markers.HomeDisabled = def.Markers.HomeDisabled
	}
	if c.Markers.NoRoute == "" {
		c.Markers.NoRoute = def.Markers.NoRoute
	}

	if c.Lamp.FarPin == "" {
		c.Lamp.FarPin = def.Lamp.FarPin
	}
	if c.Lamp.NearPin == "" {
		c.Lamp.NearPin = def.Lamp.NearPin
	}
	if c.Lamp.ImminentPin == "" {
		c.Lamp.ImminentPin = def.Lamp.ImminentPin
	}
}

// Validate checks struct tags plus the cross-field rules tags cannot express.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	for name, ref := range map[string]CalendarRef{
		"primary":  c.Calendars.Primary,
		"override": c.Calendars.Override,
		"routes":   c.Calendars.Routes,
	} {
		if ref.Kind == KindICS && ref.URL == "" {
			return fmt.Errorf("config: calendars.%s: ics calendar requires url", name)
		}
	}
	if c.Calendars.Routes.Kind == KindICS {
		return errors.New("config: calendars.routes: route calendar must be writable")
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("config: timezone %q: %w", c.Timezone, err)
	}
	for name, spec := range map[string]string{
		"today":  c.Schedule.Today,
		"week":   c.Schedule.Week,
		"future": c.Schedule.Future,
	} {
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("config: schedule.%s %q: %w", name, spec, err)
		}
	}
	if d, err := time.ParseDuration(c.Schedule.TodayFast); err != nil || d <= 0 {
		return fmt.Errorf("config: schedule.today_fast %q is not a positive duration", c.Schedule.TodayFast)
	}
	return nil
}

// Location returns the configured timezone, falling back to time.Local.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// TodayFastInterval returns the parsed Schedule.TodayFast duration.
func (c *Config) TodayFastInterval() time.Duration {
	d, err := time.ParseDuration(c.Schedule.TodayFast)
	if err != nil || d <= 0 {
		return time.Minute
	}
	return d
}

// LoadEnv loads KEY=VALUE files into the process environment. Missing files
// are skipped; variables already set in the environment win.
func LoadEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("config: load env file %s: %w", p, err)
		}
	}
	return nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and used as the base.
//   - Environment overrides (see ApplyEnv) are applied on top.
//   - The result is normalized and validated.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	var cfg *Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// First run: create default config file.
		cfg = DefaultConfig()
		if err := Save(path, cfg); err != nil {
			return cfg, err
		}
	case err != nil:
		return nil, err
	default:
		// Keys missing from the file keep their defaults; an explicit zero
		// such as max_shifts: 0 still wins.
		cfg = DefaultConfig()
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv applies overrides using the variable names of the older
// .env based deployment.
func (c *Config) ApplyEnv() error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	str("USER_AGENT", &c.UserAgent)
	str("TUM_CALENDAR_ID", &c.Calendars.Primary.ID)
	str("MAIN_CALENDAR_ID", &c.Calendars.Override.ID)
	str("ROUTE_CALENDAR_ID", &c.Calendars.Routes.ID)

	intVar := func(key string, dst *int) error {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			return nil
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("config: env %s: %w", key, err)
		}
		*dst = int(f)
		return nil
	}
	floatVar := func(key string, dst *float64) error {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			return nil
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("config: env %s: %w", key, err)
		}
		*dst = f
		return nil
	}

	for _, step := range []error{
		intVar("TIME_MARGIN_BEFORE_IN_MINUTES", &c.Routing.MarginBeforeMinutes),
		intVar("TIME_MARGIN_AFTER_IN_MINUTES", &c.Routing.MarginAfterMinutes),
		intVar("PRE_CALC_WEEK_COUNT", &c.Schedule.WeeksAhead),
		floatVar("HOME_LATITUDE", &c.Home.Latitude),
		floatVar("HOME_LONGITUDE", &c.Home.Longitude),
		floatVar("MIN_ROUTE_DISTANCE_IN_KM", &c.Routing.MinDistanceKm),
	} {
		if step != nil {
			return step
		}
	}
	return nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".commutecal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
