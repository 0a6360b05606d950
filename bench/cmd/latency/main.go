// Package bench — latency/main.go
//
// Tick latency measurement tool.
//
// The supervisor must finish every tick well inside the loop cadence
// (default 1 s) or motion timeouts and resend timers drift. This tool runs
// the supervisor against in-process scripted peers and measures the
// wall-clock cost of each Tick(), including router drains, a profile in
// progress, and the scheduler poll.
//
// Method:
//   1. Build a supervisor in flight/autonomous with a permissive peer
//      script (every command acked next tick).
//   2. Time each Tick() with the monotonic clock.
//   3. Results are written to a CSV file; p50/p95/p99 to stdout.
//
// The measurement includes:
//   - Router drain and handler execution
//   - Mode tick and one sub-machine step
//   - Scheduler poll and flag sweep
//
// It does NOT include:
//   - Device-layer serial I/O (out of process)
//   - Go runtime scheduling overhead (mitigated by runtime.LockOSThread)
//
// Output CSV columns:
//   iteration, latency_us

package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/rachuts/pibd/internal/config"
	"github.com/rachuts/pibd/internal/link"
	"github.com/rachuts/pibd/internal/supervisor"
)

// benchClock advances one simulated second per Tick so timers fire.
type benchClock struct {
	mono time.Duration
	wall time.Time
}

func (c *benchClock) Now() time.Time           { return c.wall }
func (c *benchClock) Monotonic() time.Duration { return c.mono }
func (c *benchClock) step()                    { c.mono += time.Second; c.wall = c.wall.Add(time.Second) }

func main() {
	iterations := flag.Int("iterations", 100000, "Number of ticks to measure")
	outputFile := flag.String("output", "tick_latency.csv", "Output CSV file path")
	flag.Parse()

	// Lock to OS thread to minimise scheduling jitter.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	cfg := config.Defaults()
	cfg.Profiler.SZATrigger = true
	cfg.Profiler.RAOverride = true
	cfg.Profiler.ProfileSize = 100
	cfg.Profiler.DockAmount = 20
	cfg.Profiler.PUWarmupTime = 10
	cfg.Profiler.PreprofileTime = 5
	cfg.Profiler.DwellTime = 60

	clock := &benchClock{wall: time.Now()}
	mcb := link.NewEndpoint(link.DefaultQueueDepth)
	pu := link.NewEndpoint(link.DefaultQueueDepth)
	zephyr := &link.ZephyrQueue{}

	sup := supervisor.New(supervisor.Params{
		Log:    zap.NewNop(),
		Config: &cfg,
		Clock:  clock,
		MCB:    mcb,
		PU:     pu,
		Zephyr: zephyr,
	})
	sup.RequestMode(supervisor.ModeFlight)
	sup.HandleTelecommand(supervisor.Telecommand{ID: supervisor.TCSetAuto})
	sup.HandleGPS(110, true)

	f, err := os.Create(*outputFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create output: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()
	_ = w.Write([]string{"iteration", "latency_us"})

	var buckets [10001]int // histogram buckets: 0-10000µs

	for i := 0; i < *iterations; i++ {
		// permissive peer script: ack whatever went out last tick
		for _, sent := range mcb.TakeSent() {
			switch sent.ID {
			case link.MCBReelIn, link.MCBReelOut, link.MCBDock, link.MCBInNoLW, link.MCBGoLowPower:
				mcb.Deliver(link.Ack(sent.ID, true))
			}
		}
		for _, sent := range pu.TakeSent() {
			switch sent.ID {
			case link.PUSendStatus:
				pu.Deliver(link.StatusFrame(link.PUStatus{Time: uint32(i), VBattery: 15}))
			case link.PUGoWarmup, link.PUGoProfile:
				pu.Deliver(link.Ack(sent.ID, true))
			case link.PUSendTSENRecord, link.PUSendProfileRecord:
				pu.Deliver(link.Ascii(link.PUNoMoreRecords))
			}
		}
		for _, msg := range zephyr.Take() {
			switch msg.Kind {
			case "RA":
				sup.HandleRAAck(supervisor.AckOK)
			case "TM":
				sup.HandleTMAck(supervisor.AckOK)
			}
		}

		start := time.Now()
		sup.Tick()
		latency := time.Since(start)
		clock.step()

		latencyUs := int(latency.Microseconds())
		if latencyUs < len(buckets) {
			buckets[latencyUs]++
		}
		_ = w.Write([]string{strconv.Itoa(i), strconv.Itoa(latencyUs)})
	}

	p50, p95, p99 := computePercentiles(buckets[:], *iterations)

	fmt.Printf("Tick Latency Results (%d iterations)\n", *iterations)
	fmt.Printf("  p50: %dµs\n", p50)
	fmt.Printf("  p95: %dµs\n", p95)
	fmt.Printf("  p99: %dµs\n", p99)
	fmt.Printf("  Output: %s\n", *outputFile)

	// Exit 1 if p99 > 2000µs (target not met).
	if p99 > 2000 {
		fmt.Fprintf(os.Stderr, "FAIL: p99 %dµs exceeds 2000µs target\n", p99)
		os.Exit(1)
	}
}

func computePercentiles(hist []int, total int) (p50, p95, p99 int) {
	targets := []struct {
		pct float64
		out *int
	}{
		{0.50, &p50},
		{0.95, &p95},
		{0.99, &p99},
	}
	cumulative := 0
	ti := 0
	for i, count := range hist {
		cumulative += count
		for ti < len(targets) && float64(cumulative) >= targets[ti].pct*float64(total) {
			*targets[ti].out = i
			ti++
		}
		if ti == len(targets) {
			break
		}
	}
	return
}
