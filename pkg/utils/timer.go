package utils

import (
	"sync"
	"time"
)

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock with the time package.
type RealClock struct{}

// Now returns the current time.
func (RealClock) Now() time.Time { return time.Now() }

// Stage is one timed step of a run.
type Stage struct {
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration_ns"`
}

// StageTimer records the duration of sequential pipeline stages in the
// order they were started.
type StageTimer struct {
	mu     sync.Mutex
	clock  Clock
	start  time.Time
	stages []Stage
	open   map[string]time.Time
}

// NewStageTimer creates a StageTimer. A nil clock uses the wall clock.
func NewStageTimer(clock Clock) *StageTimer {
	if clock == nil {
		clock = RealClock{}
	}
	return &StageTimer{
		clock: clock,
		start: clock.Now(),
		open:  make(map[string]time.Time),
	}
}

// Start begins timing name and returns a func that stops it, for use with defer.
func (t *StageTimer) Start(name string) func() time.Duration {
	t.mu.Lock()
	t.open[name] = t.clock.Now()
	t.mu.Unlock()
	return func() time.Duration { return t.Stop(name) }
}

// Stop ends the stage started under name. Stopping an unknown or already
// stopped stage is a no-op returning 0.
func (t *StageTimer) Stop(name string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	began, ok := t.open[name]
	if !ok {
		return 0
	}
	delete(t.open, name)
	d := t.clock.Now().Sub(began)
	t.stages = append(t.stages, Stage{Name: name, Duration: d})
	return d
}

// Stages returns a copy of the completed stages.
func (t *StageTimer) Stages() []Stage {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Stage, len(t.stages))
	copy(out, t.stages)
	return out
}

// Total returns the time elapsed since the timer was created.
func (t *StageTimer) Total() time.Duration {
	return t.clock.Now().Sub(t.start)
}

// Log writes one debug line per completed stage and the total.
func (t *StageTimer) Log(logger Logger) {
	logger = OrNull(logger)
	for _, s := range t.Stages() {
		logger.Debug("stage %-10s %v", s.Name, s.Duration)
	}
	logger.Debug("stage %-10s %v", "total", t.Total())
}
