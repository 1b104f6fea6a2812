package scheduler

import (
	"sync"
	"time"

	"commutecal/internal/model"
)

// Report describes one finished pass of a loop.
type Report struct {
	Loop     string       `json:"loop"`
	Started  time.Time    `json:"started"`
	Finished time.Time    `json:"finished"`
	Days     int          `json:"days"`
	Skipped  int          `json:"skipped"`
	Created  int          `json:"created"`
	Deleted  int          `json:"deleted"`
	Upcoming *model.Event `json:"upcoming,omitempty"`
	Error    string       `json:"error,omitempty"`
}

// LoopStatus is the status board entry of one loop.
type LoopStatus struct {
	Last    *Report   `json:"last,omitempty"`
	Passes  int       `json:"passes"`
	Errors  int       `json:"errors"`
	NextRun time.Time `json:"next_run"`
}

// Status is written by the loops and read by the HTTP API only.
type Status struct {
	mu    sync.Mutex
	loops map[string]LoopStatus
}

func NewStatus() *Status {
	return &Status{loops: map[string]LoopStatus{}}
}

func (s *Status) record(r Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ls := s.loops[r.Loop]
	ls.Last = &r
	ls.Passes++
	if r.Error != "" {
		ls.Errors++
	}
	s.loops[r.Loop] = ls
}

func (s *Status) setNext(loop string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ls := s.loops[loop]
	ls.NextRun = at
	s.loops[loop] = ls
}

// Snapshot returns a copy of the board keyed by loop name.
func (s *Status) Snapshot() map[string]LoopStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]LoopStatus, len(s.loops))
	for k, v := range s.loops {
		if v.Last != nil {
			last := *v.Last
			v.Last = &last
		}
		out[k] = v
	}
	return out
}
