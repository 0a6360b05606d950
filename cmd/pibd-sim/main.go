// Package main — cmd/pibd-sim/main.go
//
// Closed-loop PIB flight simulator.
//
// Purpose: exercise the full supervisor against scripted MCB and PU peers
// without hardware — a whole autonomous night (GPS fix, SZA sweep, profile
// scheduling, reel motions, dock, offload) in milliseconds.
//
// Peer model:
//   - MCB: acks every motion command on the next tick, reports motion
//     finished after the commanded duration (docks finish with the
//     loose-wire fault, as the real board does), acks low power.
//   - PU: answers status requests, acks warmup/profile commands, returns
//     one TSEN record and two profile records after each profile command,
//     then no-more-records.
//   - OBC: acks RA and TM immediately.
//
// Time: one simulated second per tick. The SZA sweeps from day into night
// at the configured rate so the autonomous trigger fires naturally.
//
// Output: CSV to stdout, one row every -sample ticks (tick, mode, substate,
// motion, profiles_remaining, profile_id); summary to stderr.
//
// Usage:
//   pibd-sim [flags]
//   pibd-sim -ticks 40000 -num-profiles 3 -profile-period 7200

package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/rachuts/pibd/internal/config"
	"github.com/rachuts/pibd/internal/link"
	"github.com/rachuts/pibd/internal/supervisor"
)

// simClock is a deterministic Clock advanced one second per tick.
type simClock struct {
	mono time.Duration
	wall time.Time
}

func (c *simClock) Now() time.Time           { return c.wall }
func (c *simClock) Monotonic() time.Duration { return c.mono }
func (c *simClock) step(d time.Duration)     { c.mono += d; c.wall = c.wall.Add(d) }

// mcbSim models the motor control board.
type mcbSim struct {
	ep        *link.Endpoint
	ackID     uint8 // pending command ack, 0 = none
	remaining int   // ticks until the active motion completes
	kind      uint8 // active motion command id
	lowPower  bool
}

func (m *mcbSim) tick() {
	if m.ackID != 0 {
		m.ep.Deliver(link.Ack(m.ackID, true))
		m.ackID = 0
	}
	if m.remaining > 0 {
		m.remaining--
		if m.remaining == 0 {
			if m.kind == link.MCBDock || m.kind == link.MCBInNoLW {
				// docks complete through the loose-wire fault line
				m.ep.Deliver(link.MotionFault([8]uint16{0x10}))
			} else {
				m.ep.Deliver(link.Ascii(link.MCBMotionFinished))
			}
		}
	}

	for _, f := range m.ep.TakeSent() {
		switch f.ID {
		case link.MCBReelIn, link.MCBReelOut, link.MCBDock, link.MCBInNoLW:
			l, v, err := link.DecodeMotionCommand(f)
			if err != nil {
				continue
			}
			m.ackID = f.ID
			m.kind = f.ID
			// motion completes in commanded time (seconds == ticks)
			m.remaining = int(60*l/v) + 2
		case link.MCBGoLowPower:
			m.lowPower = true
			m.ep.Deliver(link.Ack(link.MCBGoLowPower, true))
		case link.MCBCancelMotion:
			m.remaining = 0
		case link.MCBZeroReel:
			m.ep.Deliver(link.Ack(link.MCBZeroReel, true))
		}
	}
}

// puSim models the profiling unit.
type puSim struct {
	ep          *link.Endpoint
	statusClock uint32
	tsenLeft    int
	recordsLeft int
}

func (p *puSim) tick() {
	for _, f := range p.ep.TakeSent() {
		switch f.ID {
		case link.PUSendStatus:
			p.statusClock += 60
			p.ep.Deliver(link.StatusFrame(link.PUStatus{
				Time: p.statusClock, VBattery: 15.1, ICharge: 0.4,
				Therm1: -31.5, Therm2: -28.0, HeaterStat: 1,
			}))
		case link.PUGoWarmup:
			p.ep.Deliver(link.Ack(link.PUGoWarmup, true))
		case link.PUGoProfile:
			p.ep.Deliver(link.Ack(link.PUGoProfile, true))
			p.tsenLeft = 1
			p.recordsLeft = 2
		case link.PUSendTSENRecord:
			if p.tsenLeft > 0 {
				p.tsenLeft--
				p.ep.Deliver(link.Frame{Type: link.FrameBinary, ID: link.PUTSENRecord,
					Payload: []byte{0xA0, 0x01, 0x02, 0x03}, ChecksumOK: true})
			} else {
				p.ep.Deliver(link.Ascii(link.PUNoMoreRecords))
			}
		case link.PUSendProfileRecord:
			if p.recordsLeft > 0 {
				p.recordsLeft--
				p.ep.Deliver(link.Frame{Type: link.FrameBinary, ID: link.PUProfileRecord,
					Payload: []byte{1, 2, 3, 4}, ChecksumOK: true})
			} else {
				p.ep.Deliver(link.Ascii(link.PUNoMoreRecords))
			}
		}
	}
}

func main() {
	// ── Flags ─────────────────────────────────────────────────────────────────
	ticks := flag.Int("ticks", 40000, "Number of simulated seconds")
	numProfiles := flag.Int("num-profiles", 3, "Profiles per night")
	profilePeriod := flag.Int("profile-period", 7200, "Seconds between profiles")
	dwell := flag.Int("dwell", 900, "Dwell seconds")
	nightAt := flag.Int("night-at", 600, "Tick at which the SZA sweep reaches 110 degrees")
	shutdownAt := flag.Int("shutdown-at", 0, "Tick at which the OBC shutdown warning arrives (0 = never)")
	every := flag.Int("sample", 10, "CSV sample interval in ticks")
	flag.Parse()

	cfg := config.Defaults()
	cfg.Profiler.NumProfiles = uint8(*numProfiles)
	cfg.Profiler.ProfilePeriod = uint16(*profilePeriod)
	cfg.Profiler.DwellTime = uint16(*dwell)
	cfg.Profiler.SZATrigger = true
	cfg.Profiler.RAOverride = true // no OBC authority loop in the sim
	cfg.Profiler.ProfileSize = 100 // keep motions short
	cfg.Profiler.DockAmount = 20
	cfg.Profiler.DockOvershoot = 5
	cfg.Profiler.PUWarmupTime = 30
	cfg.Profiler.PreprofileTime = 10

	clock := &simClock{wall: time.Date(2026, 1, 15, 18, 0, 0, 0, time.UTC)}
	mcb := &mcbSim{ep: link.NewEndpoint(link.DefaultQueueDepth)}
	pu := &puSim{ep: link.NewEndpoint(link.DefaultQueueDepth)}
	zephyr := &link.ZephyrQueue{}

	sup := supervisor.New(supervisor.Params{
		Log:    zap.NewNop(),
		Config: &cfg,
		Clock:  clock,
		MCB:    mcb.ep,
		PU:     pu.ep,
		Zephyr: zephyr,
	})

	sup.RequestMode(supervisor.ModeFlight)
	sup.HandleTelecommand(supervisor.Telecommand{ID: supervisor.TCSetAuto})

	// ── Simulation ────────────────────────────────────────────────────────────
	w := csv.NewWriter(os.Stdout)
	defer w.Flush()
	_ = w.Write([]string{"tick", "mode", "substate", "motion", "profiles_remaining", "profile_id"})

	profilesDone := 0
	for t := 0; t < *ticks; t++ {
		// day → night sweep: start at SZA 30, reach 110 past night-at
		sza := 30.0 + 80.0*float64(t)/float64(*nightAt)
		if sza > 110 {
			sza = 110
		}
		sup.HandleGPS(sza, true)

		if *shutdownAt > 0 && t == *shutdownAt {
			sup.NotifyShutdown()
		}

		// OBC acks anything pending
		for _, msg := range zephyr.Take() {
			switch msg.Kind {
			case "RA":
				sup.HandleRAAck(supervisor.AckOK)
			case "TM":
				sup.HandleTMAck(supervisor.AckOK)
			}
		}

		sup.Tick()
		mcb.tick()
		pu.tick()
		clock.step(time.Second)

		snap := sup.Status()
		if t%*every == 0 {
			_ = w.Write([]string{
				strconv.Itoa(t), snap.Mode, strconv.Itoa(int(snap.Substate)),
				snap.Motion, strconv.Itoa(int(snap.ProfilesRemaining)),
				strconv.Itoa(int(snap.ProfileID)),
			})
		}
		if int(snap.ProfileID)-1 > profilesDone {
			profilesDone = int(snap.ProfileID) - 1
		}
	}

	fmt.Fprintf(os.Stderr, "pibd-sim: %d ticks, %d profiles started, final mode %s\n",
		*ticks, profilesDone, sup.Mode())
}
