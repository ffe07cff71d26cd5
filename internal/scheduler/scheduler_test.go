package scheduler

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/lumenforge/visioncheck/internal/framesource"
	"github.com/lumenforge/visioncheck/internal/fsutil"
	"github.com/lumenforge/visioncheck/internal/imageops"
	"github.com/lumenforge/visioncheck/internal/outputbank"
	"github.com/lumenforge/visioncheck/internal/program"
	"github.com/lumenforge/visioncheck/internal/store"
	"github.com/lumenforge/visioncheck/internal/timeutil"
	"github.com/lumenforge/visioncheck/internal/tool"
)

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	mat := gocv.NewMatWithSize(h, w, gocv.MatTypeCV8UC3)
	mat.SetTo(gocv.NewScalar(125, 125, 125, 0))
	frame := imageops.NewFrame(mat)
	defer frame.Close()
	buf, err := imageops.EncodePNG(frame, 1)
	if err != nil {
		t.Fatalf("encode test png: %v", err)
	}
	return buf
}

func validOutputs() map[int]program.OutputAssignment {
	m := make(map[int]program.OutputAssignment, outputbank.NumLines)
	for i := 1; i <= outputbank.NumLines; i++ {
		m[i] = program.NotUsed
	}
	return m
}

func newTestScheduler(t *testing.T) (*Scheduler, *store.ProgramStore) {
	t.Helper()
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	clock := timeutil.NewMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	// Engine.Load decodes the master straight off disk, so the store must
	// write it to a real directory rather than an in-memory double.
	ps := store.NewProgramStore(db, fsutil.OSFileSystem{}, clock, filepath.Join(t.TempDir(), "master_images"))

	src := framesource.NewSimulatedSource(200, 150)
	bank := outputbank.NewSimulatedBank()
	sched := New(ps, src, bank, timeutil.RealClock{})
	return sched, ps
}

func baseConfig() program.Config {
	return program.Config{
		Name:    "widget-check",
		Trigger: program.Trigger{Mode: program.TriggerExternal, DelayMs: 0},
		Capture: program.Capture{BrightnessMode: "normal", Focus: 50},
		Tools: []program.ToolConfig{
			{Name: "area1", Kind: tool.KindArea, ROI: imageops.ROI{X: 10, Y: 10, W: 50, H: 50}, Threshold: 50},
		},
		Outputs: validOutputs(),
	}
}

func TestStartStopLifecycle(t *testing.T) {
	sched, ps := newTestScheduler(t)
	prog, err := ps.Create(baseConfig(), testPNG(t, 200, 150))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := sched.Start(prog.ID); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer sched.Stop()

	status := sched.Status()
	if !status.Running || status.ProgramID != prog.ID {
		t.Errorf("Status() = %+v, want running for %s", status, prog.ID)
	}

	sched.Stop()
	if sched.Status().Running {
		t.Error("Status().Running = true after Stop()")
	}
}

func TestStartRejectsSecondProgramWhileRunning(t *testing.T) {
	sched, ps := newTestScheduler(t)
	prog1, err := ps.Create(baseConfig(), testPNG(t, 200, 150))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	cfg2 := baseConfig()
	cfg2.Name = "other"
	prog2, err := ps.Create(cfg2, testPNG(t, 200, 150))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := sched.Start(prog1.ID); err != nil {
		t.Fatalf("Start(prog1) error = %v", err)
	}
	defer sched.Stop()

	err = sched.Start(prog2.ID)
	if err == nil {
		t.Fatal("expected AlreadyRunningError starting a second program")
	}
	var already *AlreadyRunningError
	if !errors.As(err, &already) {
		t.Errorf("expected *AlreadyRunningError, got %T: %v", err, err)
	}
}

func TestValidateForSchedulingRejectsROIOutsideLiveFrame(t *testing.T) {
	cfg := baseConfig() // tool ROI is (10,10,50,50)
	if err := ValidateForScheduling(cfg, 200, 150); err != nil {
		t.Errorf("ValidateForScheduling() error = %v, want nil for a frame the ROI fits in", err)
	}
	if err := ValidateForScheduling(cfg, 30, 30); err == nil {
		t.Error("expected ValidateForScheduling to reject an ROI that no longer fits a 30x30 frame")
	}
}

func TestSubscribeReceivesBroadcastResults(t *testing.T) {
	sched, ps := newTestScheduler(t)
	prog, err := ps.Create(baseConfig(), testPNG(t, 200, 150))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	handle, results := sched.Subscribe()
	defer sched.Unsubscribe(handle)

	if err := sched.Start(prog.ID); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer sched.Stop()

	sched.ExternalTrigger()
	select {
	case r := <-results:
		if r.CycleSeq != 1 {
			t.Errorf("CycleSeq = %d, want 1", r.CycleSeq)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for first result")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	sched, _ := newTestScheduler(t)
	handle, results := sched.Subscribe()
	sched.Unsubscribe(handle)

	if _, ok := <-results; ok {
		t.Error("expected channel to be closed after Unsubscribe")
	}
}
