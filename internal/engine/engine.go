// Package engine implements the InspectionEngine: the per-program cycle
// loop that captures a frame, runs its tools, drives outputs, and emits a
// result, one cycle at a time, forever until stopped.
package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lumenforge/visioncheck/internal/framesource"
	"github.com/lumenforge/visioncheck/internal/imageops"
	"github.com/lumenforge/visioncheck/internal/outputbank"
	"github.com/lumenforge/visioncheck/internal/program"
	"github.com/lumenforge/visioncheck/internal/quality"
	"github.com/lumenforge/visioncheck/internal/timeutil"
	"github.com/lumenforge/visioncheck/internal/tool"
)

// ToolResult is one tool's outcome within a cycle.
type ToolResult struct {
	ToolName     string
	MatchingRate float64
	Verdict      tool.Verdict
	Diagnostic   string
}

// Result is the outcome of one inspection cycle.
type Result struct {
	CycleSeq       uint64
	StartedAt      time.Time
	EndedAt        time.Time
	Duration       time.Duration
	Tools          []ToolResult
	Offset         *tool.Offset
	ProgramVerdict tool.Verdict
	OutputsDriven  map[int]outputbank.Level
	CaptureIssue   string
}

// FatalError means the engine could not continue and has stopped itself.
// Per §7, dimension mismatches and unreadable masters are fatal to the
// engine, not just the cycle.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return fmt.Sprintf("engine fatal: %v", e.Err) }
func (e *FatalError) Unwrap() error { return e.Err }

// Engine owns one program's tools, frame source, and output bank for the
// duration of one load/start/stop/release cycle.
type Engine struct {
	prog    *program.Program
	source  framesource.Source
	outputs outputbank.Bank
	clock   timeutil.Clock

	tools []tool.Tool

	mu          sync.Mutex
	running     bool
	stopRequest chan struct{}
	stopped     chan struct{}

	cycleSeq  uint64
	okCount   uint64
	ngCount   uint64
	firstRun  bool
	lastStart time.Time

	master *imageops.Frame

	onResult func(Result)

	triggerCh chan struct{}
}

// New constructs an Engine for prog, bound to source and outputs.
func New(prog *program.Program, source framesource.Source, outputs outputbank.Bank, clock timeutil.Clock) *Engine {
	return &Engine{
		prog:      prog,
		source:    source,
		outputs:   outputs,
		clock:     clock,
		firstRun:  true,
		triggerCh: make(chan struct{}, 1),
	}
}

// OnResult registers the callback invoked after every cycle (normally the
// Scheduler's fan-out to subscribers).
func (e *Engine) OnResult(f func(Result)) { e.onResult = f }

// Load reads the master image from disk, validates its dimensions, and
// configures every tool against it. Per-tool configuration failures are
// logged and leave that tool in failed_to_configure state; the engine still
// loads.
func (e *Engine) Load() error {
	master, err := imageops.LoadFrame(e.prog.MasterPath)
	if err != nil {
		return &FatalError{Err: fmt.Errorf("load master: %w", err)}
	}
	if master.Width != e.prog.Width || master.Height != e.prog.Height {
		master.Close()
		return &FatalError{Err: fmt.Errorf("master on disk is %dx%d, program expects %dx%d",
			master.Width, master.Height, e.prog.Width, e.prog.Height)}
	}

	tools, err := e.prog.Config.BuildTools()
	if err != nil {
		master.Close()
		return &FatalError{Err: err}
	}
	for _, t := range tools {
		if err := t.Configure(master); err != nil {
			log.Printf("engine: tool %q failed to configure: %v", t.Name(), err)
		}
	}

	e.master = master
	e.tools = tools
	return nil
}

// Release discards the engine's loaded features. Call after Stop.
func (e *Engine) Release() {
	if e.master != nil {
		e.master.Close()
		e.master = nil
	}
	e.tools = nil
}

// ExternalTrigger records a pending rising edge for trigger mode external.
// Edges arriving mid-cycle are coalesced to at most one pending trigger.
func (e *Engine) ExternalTrigger() {
	select {
	case e.triggerCh <- struct{}{}:
	default:
	}
}

// Start begins the cycle loop on its own goroutine and returns immediately.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.stopRequest = make(chan struct{})
	e.stopped = make(chan struct{})
	e.mu.Unlock()

	go e.run(ctx)
}

// Stop signals the loop to terminate after the current cycle completes and
// blocks until it does.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	stopRequest := e.stopRequest
	stopped := e.stopped
	e.mu.Unlock()

	close(stopRequest)
	<-stopped

	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
}

// Status reports whether the engine is currently running and its counters.
type Status struct {
	Running  bool
	OKCount  uint64
	NGCount  uint64
	CycleSeq uint64
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{Running: e.running, OKCount: e.okCount, NGCount: e.ngCount, CycleSeq: e.cycleSeq}
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.stopped)

	for {
		select {
		case <-e.stopRequest:
			return
		case <-ctx.Done():
			return
		default:
		}

		if err := e.waitForTrigger(ctx); err != nil {
			return
		}

		result := e.runCycle(ctx)

		e.mu.Lock()
		e.cycleSeq++
		result.CycleSeq = e.cycleSeq
		if result.ProgramVerdict == tool.OK {
			e.okCount++
		} else {
			e.ngCount++
		}
		e.lastStart = result.StartedAt
		e.mu.Unlock()

		if e.onResult != nil {
			e.onResult(result)
		}
	}
}

func (e *Engine) waitForTrigger(ctx context.Context) error {
	trig := e.prog.Config.Trigger
	switch trig.Mode {
	case program.TriggerInternal:
		e.mu.Lock()
		last := e.lastStart
		e.mu.Unlock()
		if last.IsZero() {
			return nil
		}
		target := last.Add(time.Duration(trig.IntervalMs) * time.Millisecond)
		wait := e.clock.Until(target)
		if wait <= 0 {
			// Overrun: start immediately, no catch-up burst.
			return nil
		}
		select {
		case <-e.clock.After(wait):
			return nil
		case <-e.stopRequest:
			return errStopped
		case <-ctx.Done():
			return ctx.Err()
		}
	case program.TriggerExternal:
		select {
		case <-e.triggerCh:
		case <-e.stopRequest:
			return errStopped
		case <-ctx.Done():
			return ctx.Err()
		}
		select {
		case <-e.clock.After(time.Duration(trig.DelayMs) * time.Millisecond):
			return nil
		case <-e.stopRequest:
			return errStopped
		case <-ctx.Done():
			return ctx.Err()
		}
	default:
		return fmt.Errorf("unknown trigger mode %q", trig.Mode)
	}
}

var errStopped = fmt.Errorf("engine stopped")

func (e *Engine) runCycle(ctx context.Context) Result {
	start := e.clock.Now()
	result := Result{StartedAt: start}

	frame, err := e.source.Capture(ctx, framesource.BrightnessMode(e.prog.Config.Capture.BrightnessMode), e.prog.Config.Capture.Focus)
	if err != nil {
		result.ProgramVerdict = tool.NG
		result.CaptureIssue = err.Error()
		result.OutputsDriven = e.driveOutputs(tool.NG)
		result.EndedAt = e.clock.Now()
		result.Duration = result.EndedAt.Sub(start)
		return result
	}
	defer frame.Close()

	if e.firstRun {
		e.firstRun = false
		if cmp, err := quality.Compare(e.master, frame); err == nil && !cmp.Consistent {
			log.Printf("engine: quality issues on first cycle: %v", cmp.Issues)
		} else if err == nil && len(cmp.Warnings) > 0 {
			log.Printf("engine: quality warnings on first cycle: %v", cmp.Warnings)
		}
	}

	offset := tool.Offset{}
	allOK := true

	for i, t := range e.tools {
		var r tool.Result
		if i == 0 && isPositionAdjust(t) {
			r = t.Evaluate(frame, tool.Offset{})
			if r.Verdict == tool.OK {
				offset = r.Offset
			}
		} else {
			r = t.Evaluate(frame, offset)
		}
		if r.Verdict != tool.OK {
			allOK = false
		}
		result.Tools = append(result.Tools, ToolResult{
			ToolName:     t.Name(),
			MatchingRate: r.MatchingRate,
			Verdict:      r.Verdict,
			Diagnostic:   r.Diagnostic,
		})
	}
	if len(e.tools) > 0 {
		result.Offset = &offset
	}

	verdict := tool.OK
	if !allOK {
		verdict = tool.NG
	}
	result.ProgramVerdict = verdict
	result.OutputsDriven = e.driveOutputs(verdict)
	result.EndedAt = e.clock.Now()
	result.Duration = result.EndedAt.Sub(start)
	return result
}

func isPositionAdjust(t tool.Tool) bool {
	_, ok := t.(*tool.PositionAdjustTool)
	return ok
}

func (e *Engine) driveOutputs(verdict tool.Verdict) map[int]outputbank.Level {
	driven := make(map[int]outputbank.Level, len(e.prog.Config.Outputs))
	for line, assignment := range e.prog.Config.Outputs {
		var level outputbank.Level
		switch assignment {
		case program.AlwaysOn:
			level = outputbank.High
		case program.AlwaysOff:
			level = outputbank.Low
		case program.OnOK:
			level = outputbank.Level(verdict == tool.OK)
		case program.OnNG:
			level = outputbank.Level(verdict == tool.NG)
		case program.NotUsed:
			continue
		}
		if err := e.outputs.Set(line-1, level); err != nil {
			log.Printf("engine: output line %d: %v", line, err)
			continue
		}
		driven[line] = level
	}
	return driven
}
