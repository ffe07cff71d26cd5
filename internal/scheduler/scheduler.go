// Package scheduler coordinates at most one running InspectionEngine per
// FrameSource, serializes start/stop against concurrent callers, and fans
// per-cycle results out to subscribers without ever blocking the
// inspection loop on a slow reader.
package scheduler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"sync"

	"github.com/lumenforge/visioncheck/internal/engine"
	"github.com/lumenforge/visioncheck/internal/framesource"
	"github.com/lumenforge/visioncheck/internal/outputbank"
	"github.com/lumenforge/visioncheck/internal/program"
	"github.com/lumenforge/visioncheck/internal/store"
	"github.com/lumenforge/visioncheck/internal/timeutil"
)

// subscriberQueueDepth bounds each subscriber's result channel. A
// subscriber that falls this far behind starts losing the oldest results
// rather than stalling the inspection loop.
const subscriberQueueDepth = 32

// Status reports what the scheduler is currently doing.
type Status struct {
	Running   bool
	ProgramID string
	OKCount   uint64
	NGCount   uint64
	CycleSeq  uint64
}

// Scheduler owns the single FrameSource/OutputBank pair attached to the
// station and the one InspectionEngine allowed to run against them at a
// time.
type Scheduler struct {
	store   *store.ProgramStore
	source  framesource.Source
	outputs outputbank.Bank
	clock   timeutil.Clock

	mu        sync.Mutex
	active    *engine.Engine
	programID string
	cancel    context.CancelFunc

	subMu       sync.Mutex
	subscribers map[string]chan engine.Result
}

// New constructs a Scheduler bound to the given program store, frame
// source, and output bank. Only one of these schedulers should exist per
// physical FrameSource/OutputBank pair.
func New(s *store.ProgramStore, source framesource.Source, outputs outputbank.Bank, clock timeutil.Clock) *Scheduler {
	return &Scheduler{
		store:       s,
		source:      source,
		outputs:     outputs,
		clock:       clock,
		subscribers: make(map[string]chan engine.Result),
	}
}

// AlreadyRunningError is returned by Start when another program is already
// holding the FrameSource.
type AlreadyRunningError struct {
	Running string
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("program %q is already running; stop it first", e.Running)
}

// Start loads the named program and begins its cycle loop. It fails if any
// program is already running, or if the engine fails to load (an
// unreadable master or a dimension mismatch, both fatal per §7).
func (s *Scheduler) Start(programID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		return &AlreadyRunningError{Running: s.programID}
	}

	prog, err := s.store.Get(programID)
	if err != nil {
		return fmt.Errorf("load program %q: %w", programID, err)
	}

	e := engine.New(prog, s.source, s.outputs, s.clock)
	if err := e.Load(); err != nil {
		e.Release()
		return fmt.Errorf("engine load: %w", err)
	}

	e.OnResult(s.broadcast)

	ctx, cancel := context.WithCancel(context.Background())
	s.active = e
	s.programID = programID
	s.cancel = cancel
	e.Start(ctx)
	return nil
}

// Stop signals the running engine to terminate after its current cycle,
// waits for it, and releases the FrameSource for the next Start. It is a
// no-op if nothing is running.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	active := s.active
	cancel := s.cancel
	s.mu.Unlock()

	if active == nil {
		return
	}

	cancel()
	active.Stop()
	active.Release()

	s.mu.Lock()
	s.active = nil
	s.programID = ""
	s.cancel = nil
	s.mu.Unlock()
}

// Status reports whether an engine is running and, if so, its counters.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	active := s.programID
	e := s.active
	s.mu.Unlock()

	if e == nil {
		return Status{Running: false}
	}
	st := e.Status()
	return Status{Running: st.Running, ProgramID: active, OKCount: st.OKCount, NGCount: st.NGCount, CycleSeq: st.CycleSeq}
}

// ExternalTrigger forwards a rising edge to the running engine, if any. It
// is a no-op when no program is active or the active program is not in
// external trigger mode.
func (s *Scheduler) ExternalTrigger() {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if active != nil {
		active.ExternalTrigger()
	}
}

// Subscribe registers a new result stream with a bounded, drop-oldest
// queue. The returned handle is passed to Unsubscribe to stop delivery and
// release the channel.
func (s *Scheduler) Subscribe() (string, <-chan engine.Result) {
	id := randomID()
	ch := make(chan engine.Result, subscriberQueueDepth)
	s.subMu.Lock()
	s.subscribers[id] = ch
	s.subMu.Unlock()
	return id, ch
}

// Unsubscribe stops delivery to handle and closes its channel.
func (s *Scheduler) Unsubscribe(handle string) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if ch, ok := s.subscribers[handle]; ok {
		close(ch)
		delete(s.subscribers, handle)
	}
}

func (s *Scheduler) broadcast(r engine.Result) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for id, ch := range s.subscribers {
		select {
		case ch <- r:
		default:
			// Queue is full: drop the oldest result to make room rather
			// than block the inspection loop or the other subscribers.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- r:
			default:
				log.Printf("scheduler: subscriber %s dropped cycle %d, queue still full", id, r.CycleSeq)
			}
		}
	}
}

func randomID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// ValidateForScheduling re-checks a program's configuration against the
// scheduler's own FrameSource/OutputBank dimensions before Start is
// attempted, surfacing configuration drift earlier than engine.Load would.
func ValidateForScheduling(cfg program.Config, width, height int) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return cfg.ValidateROIs(width, height)
}
