package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"

	"golang.org/x/sync/errgroup"

	"housesim/internal/domain"
	"housesim/internal/planner"
)

type planJob struct {
	deviceID string
	actx     domain.AgentContext
}

// Step runs exactly one tick regardless of the running flag and returns the
// events it produced. It never panics: unexpected failures become
// system_error events and the remaining stages still run.
func (s *Scheduler) Step(ctx context.Context) []domain.WorldEvent {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	s.mu.Lock()
	w := s.world
	startIdx := len(w.Events)
	var jobs []planJob
	s.guard(w, "prepare", func() {
		w.Tick++
		w.TimeSec += s.cfg.TickSeconds
		jobs = s.selectPlanners(w)
	})
	s.mu.Unlock()

	steps := s.planAll(ctx, jobs)

	s.mu.Lock()
	s.guard(w, "commit", func() { s.commit(w, jobs, steps) })
	s.guard(w, "harmony", func() { s.updateHarmony(w) })
	s.guard(w, "sensors", func() { s.updateSensors(w) })
	s.guard(w, "director", func() { s.maybeDirect(w) })

	var fresh []domain.WorldEvent
	if startIdx <= len(w.Events) {
		fresh = append(fresh, w.Events[startIdx:]...)
	}
	w.TrimEvents(s.cfg.MaxEvents)
	sinks := append([]EventSink(nil), s.sinks...)
	s.mu.Unlock()

	s.publish(ctx, sinks, fresh)
	return fresh
}

// guard is the tick-level catch-all.
func (s *Scheduler) guard(w *domain.WorldState, stage string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("tick stage failed", "stage", stage, "tick", w.Tick, "panic", r, "stack", string(debug.Stack()))
			w.AppendEvents(w.NewEvent(domain.EventSystemError, "", "",
				fmt.Sprintf("tick %d stage %s failed: %v", w.Tick, stage, r),
				map[string]any{"stage": stage}))
		}
	}()
	fn()
}

// selectPlanners builds contexts for the active devices whose planning phase
// matches this tick, in device id order.
func (s *Scheduler) selectPlanners(w *domain.WorldState) []planJob {
	ids := w.SortedDeviceIDs()
	bucket := int(w.Tick % uint64(s.cfg.PlanningPhases))
	var jobs []planJob
	for _, id := range ids {
		dev := w.Devices[id]
		if dev.Status == domain.StatusSafe {
			continue
		}
		phase := dev.Spec.Phase % s.cfg.PlanningPhases
		if phase < 0 {
			phase += s.cfg.PlanningPhases
		}
		if phase != bucket {
			continue
		}
		jobs = append(jobs, planJob{deviceID: id, actx: s.buildContext(w, dev, ids)})
	}
	return jobs
}

func (s *Scheduler) buildContext(w *domain.WorldState, dev *domain.DeviceRuntime, ids []string) domain.AgentContext {
	var room domain.RoomState
	if r, ok := w.Rooms[dev.Room]; ok {
		room = *r
		room.Tags = append([]string(nil), r.Tags...)
	}
	actions := append([]string(nil), dev.Spec.Actuators...)
	if s.catalog != nil {
		if listed, ok := s.catalog.Actions(dev.Spec.ID); ok && len(listed) > 0 {
			actions = listed
		}
	}
	peers := make([]domain.PeerSummary, 0, len(ids))
	for _, id := range ids {
		if id == dev.Spec.ID {
			continue
		}
		p := w.Devices[id]
		peers = append(peers, domain.PeerSummary{ID: id, Name: p.Spec.Name, Room: p.Room, Category: p.Spec.Category, Status: p.Status})
	}
	spec := dev.Spec
	spec.Room = dev.Room
	return domain.AgentContext{
		Device:           spec,
		Room:             room,
		Policies:         w.Policies,
		Inbox:            dev.RecentInbox(s.cfg.PromptInbox),
		AvailableActions: actions,
		TimeSec:          w.TimeSec,
		Tick:             w.Tick,
		Peers:            peers,
	}
}

// planAll fans out one planner call per job and joins them all before
// returning. Results are indexed by job, so their order never depends on
// completion order.
func (s *Scheduler) planAll(ctx context.Context, jobs []planJob) []domain.AgentStep {
	steps := make([]domain.AgentStep, len(jobs))
	if len(jobs) == 0 {
		return steps
	}
	g, gctx := errgroup.WithContext(ctx)
	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			steps[i] = s.planOne(gctx, job)
			return nil
		})
	}
	_ = g.Wait()
	return steps
}

func (s *Scheduler) planOne(ctx context.Context, job planJob) (step domain.AgentStep) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("planner panicked", "device_id", job.deviceID, "panic", r)
			step = planner.Fallback(job.actx, fmt.Sprintf("planner panic: %v", r))
		}
	}()
	if s.planner == nil {
		return planner.Fallback(job.actx, "no planner configured")
	}
	return s.planner.Plan(ctx, job.actx)
}

func isIdleAction(name string) bool {
	switch name {
	case domain.ActIdle, domain.ActWait, domain.ActNoop:
		return true
	}
	return false
}

// commit mediates, applies and records the outcome of one planning round.
func (s *Scheduler) commit(w *domain.WorldState, jobs []planJob, steps []domain.AgentStep) {
	proposals := make([]domain.Proposal, 0, len(jobs))
	var events []domain.WorldEvent
	for i, job := range jobs {
		dev, ok := w.Devices[job.deviceID]
		if !ok {
			events = append(events, w.NewEvent(domain.EventActionFailed, "", job.deviceID,
				fmt.Sprintf("device %s removed while planning", job.deviceID),
				map[string]any{"reason": "unknown_device"}))
			continue
		}
		step := steps[i]
		last := step.Clone()
		dev.LastProposal = &last
		if planner.IsFallback(step) {
			events = append(events, w.NewEvent(domain.EventPlannerFallback, dev.Room, job.deviceID, step.Explain, nil))
		}
		proposals = append(proposals, domain.Proposal{DeviceID: job.deviceID, Step: step})
	}

	result := s.mediator.Mediate(proposals, w)
	events = append(events, result.Log...)

	approved := result.Approved
	for _, p := range proposals {
		for _, m := range p.Step.MessagesTo {
			approved = append(approved, domain.ApprovedAction{
				DeviceID: p.DeviceID,
				Action: domain.ProposedAction{
					Name: domain.ActSendMessage,
					Args: map[string]any{"to": m.To, "content": m.Content},
				},
			})
		}
	}
	events = append(events, s.applicator.Apply(w, approved)...)
	s.applicator.PhysicsPass(w)
	s.applicator.RegenerateResources(w)

	losers := map[string]bool{}
	for _, r := range result.Resolutions {
		losers[r.Loser] = true
	}
	actedApproved := map[string]bool{}
	for _, a := range result.Approved {
		if !isIdleAction(a.Action.Name) {
			actedApproved[a.DeviceID] = true
		}
	}
	for _, p := range proposals {
		dev, ok := w.Devices[p.DeviceID]
		if !ok {
			continue
		}
		switch {
		case losers[p.DeviceID]:
			dev.Status = domain.StatusConflict
		case proposedAction(p.Step):
			dev.Status = domain.StatusActing
		default:
			dev.Status = domain.StatusIdle
		}
		if actedApproved[p.DeviceID] {
			if peers := respondedTo(dev, w.Tick); len(peers) > 0 {
				events = append(events, w.NewEvent(domain.EventCooperation, dev.Room, p.DeviceID,
					fmt.Sprintf("%s acted on messages from %v", p.DeviceID, peers),
					map[string]any{"peers": peers}))
			}
		}
		dev.SetScratch(keyLastPlanTick, float64(w.Tick))
	}

	for _, e := range events {
		if e.Kind == domain.EventAction || e.Kind == domain.EventMessage {
			w.LastActivityTick = w.Tick
			break
		}
	}
	w.AppendEvents(events...)
}

const keyLastPlanTick = "last_plan_tick"

func proposedAction(step domain.AgentStep) bool {
	for _, a := range step.Actions {
		if !isIdleAction(a.Name) {
			return true
		}
	}
	return false
}

// respondedTo lists senders whose messages arrived since the device last
// planned, in arrival order without duplicates.
func respondedTo(dev *domain.DeviceRuntime, tick uint64) []string {
	since := uint64(dev.Scratch(keyLastPlanTick, 0))
	seen := map[string]bool{}
	var out []string
	for _, m := range dev.Inbox {
		if m.Tick < since || m.Tick >= tick || seen[m.From] {
			continue
		}
		seen[m.From] = true
		out = append(out, m.From)
	}
	return out
}
