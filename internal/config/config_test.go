package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validYAML = `
timezone: Europe/Berlin
home:
  latitude: 48.1374
  longitude: 11.5755
calendars:
  primary:
    kind: ics
    id: tum
    url: https://campus.tum.de/feed.ics
  override:
    id: main@example.com
  routes:
    id: routes@example.com
routing:
  margin_before_minutes: 15
  min_distance_km: 0.4
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_FromFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Calendars.Primary.Kind != KindICS {
		t.Errorf("primary kind = %q", cfg.Calendars.Primary.Kind)
	}
	if cfg.Calendars.Override.Kind != KindGoogle {
		t.Errorf("override kind should default to google, got %q", cfg.Calendars.Override.Kind)
	}
	if cfg.Routing.MarginBeforeMinutes != 15 {
		t.Errorf("margin before = %d", cfg.Routing.MarginBeforeMinutes)
	}
	// Defaults filled by Normalize.
	if cfg.Routing.ShiftMinutes != 30 || cfg.Routing.LookaheadMinutes != 30 {
		t.Errorf("routing defaults not applied: %+v", cfg.Routing)
	}
	// Keys the file leaves out keep their defaults.
	if cfg.Routing.MaxShifts != 3 || cfg.Routing.MarginAfterMinutes != 0 || cfg.Routing.MinDistanceKm != 0.4 {
		t.Errorf("routing = %+v, want max_shifts 3 from defaults", cfg.Routing)
	}
	if cfg.Backends.TimeoutSeconds != 15 || cfg.Schedule.WeeksAhead != 2 {
		t.Errorf("backends=%+v schedule=%+v", cfg.Backends, cfg.Schedule)
	}
	if cfg.Markers.Cancel != "Ausfall" {
		t.Errorf("cancel marker = %q", cfg.Markers.Cancel)
	}
	if cfg.Home.Coordinates().Lat != 48.1374 {
		t.Errorf("home = %+v", cfg.Home)
	}
}

func TestLoad_ExplicitZeroWins(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML+"  max_shifts: 0\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Routing.MaxShifts != 0 || cfg.Routing.MarginBeforeMinutes != 15 {
		t.Errorf("routing = %+v", cfg.Routing)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ROUTE_CALENDAR_ID", "other-routes@example.com")
	t.Setenv("TIME_MARGIN_AFTER_IN_MINUTES", "7.0")
	t.Setenv("HOME_LATITUDE", "48.2")
	t.Setenv("PRE_CALC_WEEK_COUNT", "4")

	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Calendars.Routes.ID != "other-routes@example.com" {
		t.Errorf("routes id = %q", cfg.Calendars.Routes.ID)
	}
	if cfg.Routing.MarginAfterMinutes != 7 {
		t.Errorf("margin after = %d", cfg.Routing.MarginAfterMinutes)
	}
	if cfg.Home.Latitude != 48.2 {
		t.Errorf("home latitude = %v", cfg.Home.Latitude)
	}
	if cfg.Schedule.WeeksAhead != 4 {
		t.Errorf("weeks ahead = %d", cfg.Schedule.WeeksAhead)
	}
}

func TestLoad_BadEnvValue(t *testing.T) {
	t.Setenv("HOME_LONGITUDE", "east")
	if _, err := Load(writeConfig(t, validYAML)); err == nil {
		t.Fatal("expected error for non-numeric HOME_LONGITUDE")
	}
}

func TestLoad_FirstRunWritesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	t.Setenv("TUM_CALENDAR_ID", "tum")
	t.Setenv("MAIN_CALENDAR_ID", "main")
	t.Setenv("ROUTE_CALENDAR_ID", "routes")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Calendars.Primary.ID != "tum" {
		t.Errorf("primary id = %q", cfg.Calendars.Primary.ID)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("config perms = %o, want 600", perm)
	}
}

func TestLoad_FirstRunWithoutCalendarsFailsValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error for missing calendar ids")
	}
	if cfg == nil {
		t.Fatal("config should still be returned so callers can report it")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	if _, err := Load(writeConfig(t, "invalid: yaml: content: [[[")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		c := DefaultConfig()
		c.Calendars.Primary.ID = "tum"
		c.Calendars.Override.ID = "main"
		c.Calendars.Routes.ID = "routes"
		return c
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(c *Config) {}},
		{name: "latitude out of range", mutate: func(c *Config) { c.Home.Latitude = 91 }, wantErr: "Latitude"},
		{name: "unknown calendar kind", mutate: func(c *Config) { c.Calendars.Override.Kind = "caldav" }, wantErr: "Kind"},
		{name: "ics without url", mutate: func(c *Config) { c.Calendars.Primary.Kind = KindICS }, wantErr: "requires url"},
		{name: "read-only route calendar", mutate: func(c *Config) {
			c.Calendars.Routes.Kind = KindICS
			c.Calendars.Routes.URL = "https://example.com/r.ics"
		}, wantErr: "writable"},
		{name: "bad cron", mutate: func(c *Config) { c.Schedule.Week = "every monday" }, wantErr: "schedule.week"},
		{name: "bad fast interval", mutate: func(c *Config) { c.Schedule.TodayFast = "-1m" }, wantErr: "today_fast"},
		{name: "bad timezone", mutate: func(c *Config) { c.Timezone = "Mars/Olympus" }, wantErr: "timezone"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("COMMUTECAL_TEST_VALUE=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("COMMUTECAL_TEST_VALUE", "")
	os.Unsetenv("COMMUTECAL_TEST_VALUE")

	if err := LoadEnv(filepath.Join(dir, "missing.env"), envPath); err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if got := os.Getenv("COMMUTECAL_TEST_VALUE"); got != "from-file" {
		t.Errorf("COMMUTECAL_TEST_VALUE = %q", got)
	}
}
