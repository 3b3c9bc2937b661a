// Package simulation drives simulated widgets through the context pool so the
// admission and recovery machinery can be exercised without a GPU.
//
// Every widget sits behind its own failure boundary. On each frame the
// boundaries render; the widget honours the admission gate, registers a
// simulated surface once it is admitted and surfaces context loss as an error.
// Losses, restores and remounts are injected at random using a seeded source
// so a run can be reproduced.
package simulation

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/timzifer/ctxguard/boundary"
	"github.com/timzifer/ctxguard/config"
	"github.com/timzifer/ctxguard/guard"
	"github.com/timzifer/ctxguard/lifecycle"
	"github.com/timzifer/ctxguard/runtime/eventloop"
	"github.com/timzifer/ctxguard/surface"
)

// Defaults applied by OptionsFromConfig.
const (
	DefaultWidgets         = 6
	DefaultFrameInterval   = 250 * time.Millisecond
	DefaultLossInterval    = 5 * time.Second
	DefaultRestoreAfter    = 2 * time.Second
	DefaultRemountInterval = 7 * time.Second
)

// Options tunes a simulation run. A zero interval disables that activity.
type Options struct {
	Widgets         int
	FrameInterval   time.Duration
	LossInterval    time.Duration
	RestoreAfter    time.Duration
	RemountInterval time.Duration
	Seed            int64
}

// OptionsFromConfig applies defaults to the configured values.
func OptionsFromConfig(cfg config.SimulationConfig) Options {
	opts := Options{
		Widgets:         cfg.Widgets,
		FrameInterval:   cfg.FrameInterval.Duration,
		LossInterval:    cfg.LossInterval.Duration,
		RestoreAfter:    cfg.RestoreAfter.Duration,
		RemountInterval: cfg.RemountInterval.Duration,
		Seed:            cfg.Seed,
	}
	if opts.Widgets <= 0 {
		opts.Widgets = DefaultWidgets
	}
	if opts.FrameInterval <= 0 {
		opts.FrameInterval = DefaultFrameInterval
	}
	if opts.LossInterval <= 0 {
		opts.LossInterval = DefaultLossInterval
	}
	if opts.RestoreAfter <= 0 {
		opts.RestoreAfter = DefaultRestoreAfter
	}
	if opts.RemountInterval <= 0 {
		opts.RemountInterval = DefaultRemountInterval
	}
	if opts.Seed == 0 {
		opts.Seed = time.Now().UnixNano()
	}
	return opts
}

// Stats counts what happened during a run.
type Stats struct {
	Frames       int `json:"frames"`
	Placeholders int `json:"placeholders"`
	Registered   int `json:"registered"`
	Losses       int `json:"losses"`
	Restores     int `json:"restores"`
	Remounts     int `json:"remounts"`
	Recoveries   int `json:"recoveries"`
	Recreatable  int `json:"recreatable"`
}

// Simulation owns the simulated widgets. All methods run on the manager's
// scheduler thread.
type Simulation struct {
	manager *guard.Manager
	sched   eventloop.Scheduler
	logger  zerolog.Logger
	opts    Options
	rng     *rand.Rand

	slots       []*slot
	timers      []eventloop.Timer
	restores    map[*surface.Simulated]eventloop.Timer
	unsubscribe func()
	stats       Stats
	running     bool
}

type slot struct {
	name     string
	boundary *boundary.Boundary
	widget   *sceneWidget
	mounts   int
}

// New prepares a simulation on m.
func New(m *guard.Manager, opts Options, logger zerolog.Logger) *Simulation {
	if opts.Widgets <= 0 {
		opts.Widgets = DefaultWidgets
	}
	return &Simulation{
		manager:  m,
		sched:    m.Scheduler(),
		logger:   logger.With().Str("component", "simulation").Logger(),
		opts:     opts,
		rng:      rand.New(rand.NewSource(opts.Seed)),
		restores: make(map[*surface.Simulated]eventloop.Timer),
	}
}

// Start mounts the widgets and schedules the recurring activities.
func (s *Simulation) Start() {
	if s.running {
		return
	}
	s.running = true
	s.unsubscribe = s.manager.SubscribeRecovery(func() error {
		s.stats.Recoveries++
		s.logger.Info().Int("active", s.manager.Registry().Len()).Msg("recovery broadcast received")
		return nil
	})
	for i := 0; i < s.opts.Widgets; i++ {
		sl := &slot{name: fmt.Sprintf("widget-%d", i)}
		s.mount(sl)
		s.slots = append(s.slots, sl)
	}
	s.logger.Info().Int("widgets", len(s.slots)).Int64("seed", s.opts.Seed).Msg("simulation started")

	s.every(s.opts.FrameInterval, s.Frame)
	s.every(s.opts.LossInterval, s.loseRandom)
	s.every(s.opts.RemountInterval, s.remountRandom)
	s.Frame()
}

// Stop unmounts every widget and cancels pending activity.
func (s *Simulation) Stop() {
	if !s.running {
		return
	}
	s.running = false
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = nil
	for sf, t := range s.restores {
		t.Stop()
		delete(s.restores, sf)
	}
	for _, sl := range s.slots {
		s.manager.ReleaseBoundary(sl.boundary)
	}
	s.slots = nil
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	s.logger.Info().Interface("stats", s.stats).Msg("simulation stopped")
}

// Stats returns the counters collected so far.
func (s *Simulation) Stats() Stats {
	return s.stats
}

// Frame renders every boundary once.
func (s *Simulation) Frame() {
	s.stats.Frames++
	for _, sl := range s.slots {
		sl.boundary.Render()
	}
}

// Lose drops the context of the widget at index i. It reports whether a live
// context was dropped.
func (s *Simulation) Lose(i int) bool {
	if i < 0 || i >= len(s.slots) {
		return false
	}
	w := s.slots[i].widget
	if w == nil || w.surface == nil || w.surface.Lost() {
		return false
	}
	sf := w.surface
	sf.Lose()
	s.stats.Losses++
	s.logger.Debug().Str("widget", s.slots[i].name).Msg("injected context loss")
	if s.opts.RestoreAfter > 0 {
		s.restores[sf] = s.sched.AfterFunc(s.opts.RestoreAfter, func() {
			delete(s.restores, sf)
			if !s.running {
				return
			}
			sf.Restore()
			s.stats.Restores++
		})
	}
	return true
}

// Remount unmounts and mounts the widget at index i, as a page navigation would.
func (s *Simulation) Remount(i int) {
	if i < 0 || i >= len(s.slots) {
		return
	}
	sl := s.slots[i]
	s.manager.ReleaseBoundary(sl.boundary)
	s.mount(sl)
	s.stats.Remounts++
}

func (s *Simulation) mount(sl *slot) {
	sl.mounts++
	name := fmt.Sprintf("%s#%d", sl.name, sl.mounts)
	sl.boundary = s.manager.NewBoundary(name, func() (boundary.Widget, error) {
		w := &sceneWidget{sim: s, name: name}
		w.adapter = s.manager.NewAdapter(name, lifecycle.WithRecreatable(func() {
			s.stats.Recreatable++
		}))
		w.adapter.AcquireID()
		sl.widget = w
		return w, nil
	})
}

func (s *Simulation) loseRandom() {
	if len(s.slots) == 0 {
		return
	}
	start := s.rng.Intn(len(s.slots))
	for n := 0; n < len(s.slots); n++ {
		if s.Lose((start + n) % len(s.slots)) {
			return
		}
	}
}

func (s *Simulation) remountRandom() {
	if len(s.slots) == 0 {
		return
	}
	s.Remount(s.rng.Intn(len(s.slots)))
}

func (s *Simulation) every(d time.Duration, fn func()) {
	if d <= 0 {
		return
	}
	idx := len(s.timers)
	s.timers = append(s.timers, nil)
	var tick func()
	tick = func() {
		if !s.running {
			return
		}
		fn()
		s.timers[idx] = s.sched.AfterFunc(d, tick)
	}
	s.timers[idx] = s.sched.AfterFunc(d, tick)
}

// sceneWidget renders a placeholder while the pool is full, creates its
// context once it is admitted and reports a lost context to its boundary.
type sceneWidget struct {
	sim     *Simulation
	name    string
	adapter *lifecycle.Adapter
	surface *surface.Simulated
}

func (w *sceneWidget) Render() error {
	if err := w.adapter.Err(); err != nil {
		return err
	}
	if !w.adapter.ShouldRender() {
		w.sim.stats.Placeholders++
		return nil
	}
	if w.surface == nil || w.adapter.State() == lifecycle.StateIdle {
		if w.surface == nil {
			w.surface = surface.NewSimulated(w.name, w.sim.sched)
		}
		if err := w.adapter.RegisterContext(w.surface); err != nil {
			return err
		}
		w.sim.stats.Registered++
	}
	return nil
}

func (w *sceneWidget) Close() {
	w.adapter.Close()
	if w.surface != nil {
		if t, ok := w.sim.restores[w.surface]; ok {
			t.Stop()
			delete(w.sim.restores, w.surface)
		}
		if err := w.surface.Release(); err != nil && !errors.Is(err, surface.ErrReleased) {
			w.sim.logger.Debug().Err(err).Str("surface", w.surface.ID()).Msg("could not release context on unmount")
		}
	}
}
