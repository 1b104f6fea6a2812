// Package lamp drives three GPIO LEDs that count down to the departure of
// the next route leaving from home.
package lamp

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	appLog "commutecal/internal/log"
	"commutecal/internal/model"
	"commutecal/internal/transit"
)

// Stage is what the lamp shows.
type Stage int

const (
	Off Stage = iota
	// Far: more than 10 minutes left.
	Far
	// Near: 5 to 10 minutes.
	Near
	// Close: 3 to 5 minutes.
	Close
	// Flash: 1.5 to 3 minutes, every LED on.
	Flash
)

func (s Stage) String() string {
	switch s {
	case Far:
		return "far"
	case Near:
		return "near"
	case Close:
		return "close"
	case Flash:
		return "flash"
	default:
		return "off"
	}
}

// StageFor maps the time left until departure to a stage.
func StageFor(left time.Duration) Stage {
	switch {
	case left > 10*time.Minute:
		return Far
	case left < 90*time.Second:
		return Off
	case left < 3*time.Minute:
		return Flash
	case left < 5*time.Minute:
		return Close
	default:
		return Near
	}
}

// Driver switches the LEDs.
type Driver interface {
	Set(stage Stage) error
}

type gpioDriver struct {
	far, near, imminent gpio.PinOut
}

// NewGPIODriver opens the three output pins by periph name (e.g. "GPIO17").
func NewGPIODriver(farPin, nearPin, imminentPin string) (Driver, error) {
	if runtime.GOOS != "linux" {
		return nil, errors.New("lamp: gpio unavailable on this platform")
	}
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("lamp: periph host init failed: %w", err)
	}
	open := func(name string) (gpio.PinOut, error) {
		p := gpioreg.ByName(name)
		if p == nil {
			return nil, fmt.Errorf("lamp: gpio %s not found", name)
		}
		if err := p.Out(gpio.Low); err != nil {
			return nil, fmt.Errorf("lamp: gpio %s Out failed: %w", name, err)
		}
		return p, nil
	}

	d := &gpioDriver{}
	var err error
	if d.far, err = open(farPin); err != nil {
		return nil, err
	}
	if d.near, err = open(nearPin); err != nil {
		return nil, err
	}
	if d.imminent, err = open(imminentPin); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *gpioDriver) Set(stage Stage) error {
	far, near, imminent := pinLevels(stage)
	for _, p := range []struct {
		pin gpio.PinOut
		on  bool
	}{{d.far, far}, {d.near, near}, {d.imminent, imminent}} {
		if err := p.pin.Out(level(p.on)); err != nil {
			return fmt.Errorf("lamp: %s: %w", p.pin.Name(), err)
		}
	}
	return nil
}

func pinLevels(stage Stage) (far, near, imminent bool) {
	switch stage {
	case Far:
		return true, false, false
	case Near:
		return false, true, false
	case Close:
		return false, false, true
	case Flash:
		return true, true, true
	default:
		return false, false, false
	}
}

func level(on bool) gpio.Level {
	if on {
		return gpio.High
	}
	return gpio.Low
}

// MockDriver logs stage changes instead of touching hardware.
type MockDriver struct {
	mu   sync.Mutex
	last Stage
	sets int
}

func (m *MockDriver) Set(stage Stage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if stage != m.last {
		appLog.Info("lamp stage (mock)", "stage", stage.String())
	}
	m.last = stage
	m.sets++
	return nil
}

// Last returns the last stage set and how many times Set was called.
func (m *MockDriver) Last() (Stage, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last, m.sets
}

// DefaultDriver tries the GPIO pins and falls back to a MockDriver.
func DefaultDriver(farPin, nearPin, imminentPin string) Driver {
	d, err := NewGPIODriver(farPin, nearPin, imminentPin)
	if err != nil {
		appLog.Warn("gpio lamp unavailable; using mock", "err", err)
		return &MockDriver{}
	}
	return d
}

// Lamp reacts to upcoming routes. Only routes whose origin lies within
// minDistanceKm of home are shown.
type Lamp struct {
	driver        Driver
	home          model.Coordinates
	minDistanceKm float64
	now           func() time.Time
}

func New(driver Driver, home model.Coordinates, minDistanceKm float64) *Lamp {
	return &Lamp{driver: driver, home: home, minDistanceKm: minDistanceKm, now: time.Now}
}

// OnUpcoming has the shape of scheduler.UpcomingFunc. Without a route
// leaving home soon every LED goes off.
func (l *Lamp) OnUpcoming(_ context.Context, ev *model.Event) error {
	if ev == nil {
		return l.driver.Set(Off)
	}
	origin, _, err := transit.Endpoints(ev.Description)
	if err != nil {
		return fmt.Errorf("lamp: %q: %w", ev.Summary, err)
	}
	if d := origin.DistanceKm(l.home); d > l.minDistanceKm {
		appLog.Debug("upcoming route does not start at home", "summary", ev.Summary, "distance_km", d)
		return l.driver.Set(Off)
	}
	return l.driver.Set(StageFor(ev.Start.Sub(l.now())))
}

// Close switches every LED off.
func (l *Lamp) Close() error {
	return l.driver.Set(Off)
}
