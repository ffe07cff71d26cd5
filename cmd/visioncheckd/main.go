package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/lumenforge/visioncheck/internal/engine"
	"github.com/lumenforge/visioncheck/internal/framesource"
	"github.com/lumenforge/visioncheck/internal/fsutil"
	"github.com/lumenforge/visioncheck/internal/outputbank"
	"github.com/lumenforge/visioncheck/internal/scheduler"
	"github.com/lumenforge/visioncheck/internal/store"
	"github.com/lumenforge/visioncheck/internal/timeutil"
	"github.com/lumenforge/visioncheck/internal/version"
)

var (
	dbPath     = flag.String("db", "visioncheck.db", "Path to the program database")
	masterDir  = flag.String("master-dir", "./master_images", "Directory for stored master images")
	devMode    = flag.Bool("dev", false, "Use a simulated camera and output bank instead of hardware")
	devWidth   = flag.Int("dev-width", 640, "Simulated camera frame width, dev mode only")
	devHeight  = flag.Int("dev-height", 480, "Simulated camera frame height, dev mode only")
	cameraDev  = flag.Int("camera-device", 0, "V4L2 device index for the camera")
	outputPins = [outputbank.NumLines]string{"GPIO17", "GPIO27", "GPIO22", "GPIO23", "GPIO24", "GPIO25", "GPIO5", "GPIO6"}
	autostart  = flag.String("autostart", "", "Program ID to start running immediately")
	showVer    = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVer {
		fmt.Printf("visioncheckd %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	db, err := store.Open(*dbPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	programStore := store.NewProgramStore(db, fsutil.OSFileSystem{}, timeutil.RealClock{}, *masterDir)

	source, outputs, err := openStation()
	if err != nil {
		log.Fatalf("open station hardware: %v", err)
	}
	defer source.Close()
	defer outputs.Close()

	sched := scheduler.New(programStore, source, outputs, timeutil.RealClock{})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	handle, results := sched.Subscribe()
	g.Go(func() error {
		defer sched.Unsubscribe(handle)
		logResults(gctx, results)
		return nil
	})

	if *autostart != "" {
		if err := sched.Start(*autostart); err != nil {
			log.Fatalf("autostart program %q: %v", *autostart, err)
		}
		log.Printf("started program %q", *autostart)
	}

	<-ctx.Done()
	log.Print("shutting down...")
	sched.Stop()
	if err := g.Wait(); err != nil {
		log.Printf("subsystem error: %v", err)
	}
	log.Print("graceful shutdown complete")
}

// openStation constructs the FrameSource/OutputBank pair for this host:
// real camera and GPIO hardware by default, or an in-process simulation
// under -dev for development away from the bench.
func openStation() (framesource.Source, outputbank.Bank, error) {
	if *devMode {
		log.Printf("dev mode: simulated %dx%d camera and output bank", *devWidth, *devHeight)
		return framesource.NewSimulatedSource(*devWidth, *devHeight), outputbank.NewSimulatedBank(), nil
	}

	cam, err := framesource.OpenCamera(*cameraDev)
	if err != nil {
		return nil, nil, fmt.Errorf("open camera: %w", err)
	}
	bank, err := outputbank.OpenGPIOBank(outputPins)
	if err != nil {
		cam.Close()
		return nil, nil, fmt.Errorf("open GPIO bank: %w", err)
	}
	return cam, bank, nil
}

// logResults drains the scheduler's result stream and logs a one-line
// summary per cycle until ctx is done. It stands in for the history sink
// the spec calls out of scope.
func logResults(ctx context.Context, results <-chan engine.Result) {
	for {
		select {
		case r, ok := <-results:
			if !ok {
				return
			}
			if r.CaptureIssue != "" {
				log.Printf("cycle %d: NG (capture failure: %s)", r.CycleSeq, r.CaptureIssue)
				continue
			}
			log.Printf("cycle %d: %s, %d tool(s), duration=%s", r.CycleSeq, r.ProgramVerdict, len(r.Tools), r.Duration)
		case <-ctx.Done():
			return
		}
	}
}
