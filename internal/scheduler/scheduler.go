// Package scheduler drives the simulation one tick at a time: it asks the
// planner for proposals, mediates them, applies the result and keeps the
// derived world metrics up to date.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"housesim/internal/applicator"
	"housesim/internal/domain"
	"housesim/internal/mediator"
	"housesim/internal/rng"
)

type Planner interface {
	Plan(ctx context.Context, actx domain.AgentContext) domain.AgentStep
}

// ActionCatalog is the externally maintained device capability directory.
// Devices it does not know fall back to their spec actuators.
type ActionCatalog interface {
	Actions(deviceID string) ([]string, bool)
}

type EventSink interface {
	PublishEvents(ctx context.Context, events []domain.WorldEvent) error
}

// SinkFunc adapts a plain function to EventSink.
type SinkFunc func(ctx context.Context, events []domain.WorldEvent) error

func (f SinkFunc) PublishEvents(ctx context.Context, events []domain.WorldEvent) error {
	return f(ctx, events)
}

type Config struct {
	TickSeconds    float64
	Interval       time.Duration
	PlanningPhases int
	MaxEvents      int
	PromptInbox    int

	HarmonyWindow  int
	HarmonyRate    float64
	HarmonyNoiseSD float64

	SensorNoiseTemp  float64
	SensorNoiseLevel float64

	DirectorQuietTicks uint64

	Mediator   mediator.Config
	Applicator applicator.Config
}

func DefaultConfig() Config {
	return Config{
		TickSeconds:        60,
		Interval:           time.Second,
		PlanningPhases:     4,
		MaxEvents:          500,
		PromptInbox:        4,
		HarmonyWindow:      50,
		HarmonyRate:        0.2,
		HarmonyNoiseSD:     0.01,
		SensorNoiseTemp:    0.2,
		SensorNoiseLevel:   1.5,
		DirectorQuietTicks: 10,
		Mediator:           mediator.DefaultConfig(),
		Applicator:         applicator.DefaultConfig(),
	}
}

type Scheduler struct {
	cfg        Config
	planner    Planner
	rng        *rng.Source
	mediator   *mediator.Mediator
	applicator *applicator.Applicator
	logger     *slog.Logger

	// tickMu serialises ticks; mu guards world for readers and control calls.
	tickMu  sync.Mutex
	mu      sync.RWMutex
	world   *domain.WorldState
	catalog ActionCatalog
	sinks   []EventSink
}

// New wires the tick pipeline. The random source is shared by mediation,
// physics, the derived metrics and runtime device creation, and is only
// drawn from while mu is held.
func New(cfg Config, world *domain.WorldState, src *rng.Source, planner Planner, logger *slog.Logger) *Scheduler {
	defaults := DefaultConfig()
	if cfg.TickSeconds <= 0 {
		cfg.TickSeconds = defaults.TickSeconds
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.PlanningPhases <= 0 {
		cfg.PlanningPhases = defaults.PlanningPhases
	}
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = defaults.MaxEvents
	}
	if cfg.PromptInbox <= 0 {
		cfg.PromptInbox = defaults.PromptInbox
	}
	if cfg.HarmonyWindow <= 0 {
		cfg.HarmonyWindow = defaults.HarmonyWindow
	}
	if cfg.HarmonyRate <= 0 {
		cfg.HarmonyRate = defaults.HarmonyRate
	}
	if cfg.DirectorQuietTicks == 0 {
		cfg.DirectorQuietTicks = defaults.DirectorQuietTicks
	}
	if cfg.Applicator.MaxTempStep <= 0 {
		cfg.Applicator = defaults.Applicator
	}
	if logger == nil {
		logger = slog.Default()
	}
	if src == nil {
		src = rng.New(world.Seed)
	}
	if world.Speed <= 0 {
		world.Speed = 1
	}
	return &Scheduler{
		cfg:        cfg,
		planner:    planner,
		rng:        src,
		mediator:   mediator.New(cfg.Mediator, src, logger),
		applicator: applicator.New(cfg.Applicator, src, logger),
		logger:     logger,
		world:      world,
	}
}

func (s *Scheduler) SetCatalog(c ActionCatalog) {
	s.mu.Lock()
	s.catalog = c
	s.mu.Unlock()
}

func (s *Scheduler) AddSink(sink EventSink) {
	s.mu.Lock()
	s.sinks = append(s.sinks, sink)
	s.mu.Unlock()
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	s.world.Running = true
	s.mu.Unlock()
	s.logger.Info("simulation started")
}

// Pause stops future ticks; a tick already in flight completes.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	s.world.Running = false
	s.mu.Unlock()
	s.logger.Info("simulation paused")
}

func (s *Scheduler) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.world.Running
}

func (s *Scheduler) SetSpeed(speed float64) error {
	if speed <= 0 || speed > 100 {
		return fmt.Errorf("speed must be in (0,100], got %v", speed)
	}
	s.mu.Lock()
	s.world.Speed = speed
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) SetRulePacks(packs []domain.RulePack) {
	s.mu.Lock()
	s.world.Policies.RulePacks = packs
	s.mu.Unlock()
	s.logger.Info("rule packs replaced", "count", len(packs))
}

// AddDevice gives the device the same personality pass as a scenario device:
// jittered goal weights and, when phase is nil, a random planning phase.
func (s *Scheduler) AddDevice(spec domain.DeviceSpec, phase *int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if spec.ID == "" {
		return fmt.Errorf("device id is required")
	}
	if _, ok := s.world.Devices[spec.ID]; ok {
		return fmt.Errorf("device %s already exists", spec.ID)
	}
	if _, ok := s.world.Rooms[spec.Room]; !ok {
		return fmt.Errorf("room %s does not exist", spec.Room)
	}
	if phase != nil && (*phase < 0 || *phase >= s.cfg.PlanningPhases) {
		return fmt.Errorf("phase must be in [0,%d), got %d", s.cfg.PlanningPhases, *phase)
	}
	spec.Goals, spec.Phase = domain.Personalize(spec.Goals, s.world.Jitter, phase, s.cfg.PlanningPhases, s.rng)
	s.world.AddDevice(spec)
	return nil
}

func (s *Scheduler) RemoveDevice(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.world.Devices[id]; !ok {
		return false
	}
	s.world.RemoveDevice(id)
	return true
}

// SetDeviceStatus lets an operator park a device in safe mode, which keeps
// it out of planning until it is set back to idle.
func (s *Scheduler) SetDeviceStatus(id string, status domain.DeviceStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	dev, ok := s.world.Devices[id]
	if !ok {
		return false
	}
	dev.Status = status
	return true
}

// Snapshot is a deep copy taken between ticks.
func (s *Scheduler) Snapshot() *domain.WorldState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.world.Clone()
}

// Events returns the newest limit events, oldest first. limit <= 0 returns
// the whole log.
func (s *Scheduler) Events(limit int) []domain.WorldEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := s.world.Events
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return append([]domain.WorldEvent(nil), events...)
}

func (s *Scheduler) interval() time.Duration {
	s.mu.RLock()
	speed := s.world.Speed
	s.mu.RUnlock()
	if speed <= 0 {
		speed = 1
	}
	d := time.Duration(float64(s.cfg.Interval) / speed)
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d
}

// Run paces ticks at Interval / Speed until ctx is done. Ticks only happen
// while the simulation is running.
func (s *Scheduler) Run(ctx context.Context) {
	interval := s.interval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	s.logger.Info("tick scheduler started", "interval", interval)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("tick scheduler stopped")
			return
		case <-ticker.C:
			if !s.Running() {
				continue
			}
			s.Step(ctx)
			if next := s.interval(); next != interval {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}

func (s *Scheduler) publish(ctx context.Context, sinks []EventSink, events []domain.WorldEvent) {
	if len(events) == 0 {
		return
	}
	for _, sink := range sinks {
		if err := sink.PublishEvents(ctx, events); err != nil {
			s.logger.Warn("publish events failed", "error", err)
		}
	}
}
