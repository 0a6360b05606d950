// Package supervisor — supervisor.go
//
// Hierarchical mode/substate scheduler for the Profiler Interface Board.
//
// The Supervisor owns every piece of mutable instrument state: the action
// flag registry, the one-shot scheduler, peer status, the per-sub-machine
// state, and the current mode/substate pair. One external main loop calls
// Tick() at a fixed cadence; each tick runs:
//
//	1. drain + route inbound MCB and PU frames (handlers mutate status)
//	2. apply pending mode change / pending error
//	3. one step of the current mode's substate machine
//	4. scheduler poll (fired timers become action flags)
//	5. action flag staleness sweep
//
// Everything is single-threaded cooperative: no locks, no goroutines, no
// blocking waits. A substate "waits" by returning without progress and
// polling a flag or a router-updated boolean on the next tick.
//
// Mode transitions:
//   - The OBC requests a mode; the current mode is driven through its exit
//     substate before the next mode's entry substate runs.
//   - Sub-machines and routers never write the substate directly; they
//     return a transition request (sub-machines) or latch a pending error
//     (routers) that the supervisor applies itself.

package supervisor

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rachuts/pibd/internal/config"
	"github.com/rachuts/pibd/internal/flags"
	"github.com/rachuts/pibd/internal/link"
	"github.com/rachuts/pibd/internal/observability"
	"github.com/rachuts/pibd/internal/sched"
	"github.com/rachuts/pibd/internal/storage"
	"github.com/rachuts/pibd/internal/telemetry"
)

// Resend timeouts, seconds. The MCB and PU sit on short wired links; the
// OBC round trip is slower.
const (
	mcbResendTimeout    = 10 * time.Second
	puResendTimeout     = 10 * time.Second
	zephyrResendTimeout = 60 * time.Second
)

// safetyDockLength is the dock distance commanded after a full retract in
// safety mode. If the reel is further out than this, something bigger is
// wrong than a dock can fix.
const safetyDockLength = 200

// Mode is the top-level instrument mode, commanded by the OBC.
type Mode uint8

const (
	ModeStandby Mode = iota
	ModeFlight
	ModeLowPower
	ModeSafety
	ModeEndOfFlight
)

// String returns the mode's two-letter flight designator.
func (m Mode) String() string {
	switch m {
	case ModeStandby:
		return "SB"
	case ModeFlight:
		return "FL"
	case ModeLowPower:
		return "LP"
	case ModeSafety:
		return "SA"
	case ModeEndOfFlight:
		return "EF"
	default:
		return fmt.Sprintf("M%d", uint8(m))
	}
}

// Substate tags the position inside a mode. The four low values are shared
// sentinels; each mode defines its own substates from subModeBase up.
type Substate uint8

const (
	SubEntry    Substate = 0
	SubError    Substate = 1
	SubShutdown Substate = 2
	SubExit     Substate = 3

	subModeBase Substate = 10
)

// Ack is the tri-state acknowledgement for OBC handshakes.
type Ack uint8

const (
	NoAck Ack = iota
	AckOK
	AckNak
)

// Motion is the reel motion kind. At most one motion is active at a time.
type Motion uint8

const (
	MotionNone Motion = iota
	MotionReelIn
	MotionReelOut
	MotionDock
	MotionInNoLW
)

// String returns the motion kind name.
func (m Motion) String() string {
	switch m {
	case MotionNone:
		return "none"
	case MotionReelIn:
		return "reel_in"
	case MotionReelOut:
		return "reel_out"
	case MotionDock:
		return "dock"
	case MotionInNoLW:
		return "in_no_lw"
	default:
		return fmt.Sprintf("motion(%d)", uint8(m))
	}
}

// stepResult is what a sub-machine step reports back to the mode code.
type stepResult uint8

const (
	stepContinue stepResult = iota
	stepDone
	stepError
)

// Clock supplies the two time bases. The scheduler and motion timing use
// the monotonic base; profile triggers and PU status freshness use the wall
// clock, which jumps when the OBC delivers a GPS fix.
type Clock interface {
	Now() time.Time
	Monotonic() time.Duration
}

// realClock is the production Clock.
type realClock struct{ start time.Time }

// NewRealClock returns a Clock backed by the system time.
func NewRealClock() Clock { return &realClock{start: time.Now()} }

func (c *realClock) Now() time.Time           { return time.Now() }
func (c *realClock) Monotonic() time.Duration { return time.Since(c.start) }

// Hardware is the discrete-output surface: the OBC-required safe line and
// the PU power switch. Pin toggling lives in the device layer.
type Hardware interface {
	SetSafe(on bool)
	SetPUPower(on bool)
}

// NopHardware discards output changes (simulator, tests).
type NopHardware struct{}

func (NopHardware) SetSafe(bool)    {}
func (NopHardware) SetPUPower(bool) {}

// Store is the persistence surface the supervisor writes through: config
// snapshots on telecommand writes, and the profile ledger.
type Store interface {
	SaveProfilerConfig(*config.ProfilerConfig) error
	AppendProfile(storage.ProfileEntry) error
}

// Params collects the Supervisor's collaborators.
type Params struct {
	Log     *zap.Logger
	Config  *config.Config
	Clock   Clock
	MCB     link.Link
	PU      link.Link
	Zephyr  link.Zephyr
	Metrics *observability.Metrics
	Store   Store    // optional
	HW      Hardware // optional
}

// Supervisor composes the scheduler, flag registry, config handle, peer
// link adapters, and per-sub-machine state. See the package comment for the
// tick contract.
type Supervisor struct {
	log     *zap.Logger
	cfg     *config.Config
	clock   Clock
	mcb     link.Link
	pu      link.Link
	zephyr  link.Zephyr
	metrics *observability.Metrics
	store   Store
	hw      Hardware

	flags flags.Registry
	sched sched.Scheduler

	mode        Mode
	substate    Substate
	pendingMode *Mode
	pendingErr  bool

	// OBC-side inputs
	autonomousMode bool
	timeValid      bool
	sza            float64
	raAck          Ack
	tmAck          Ack
	sAck           Ack

	// MCB state tracking
	mcbLowPower      bool
	motionOngoing    bool
	dockOngoing      bool
	mcbReelingIn     bool
	motion           Motion
	maxMotionTime    time.Duration
	motionFault      [8]uint16
	profileStartMono time.Duration

	// PU state tracking
	puStatus        link.PUStatus
	puLastStatus    uint32 // wall clock of last valid status frame
	recordReceived  bool
	tsenReceived    bool
	puNoMoreRecords bool
	puWarmup        bool
	puProfile       bool
	puPreprofile    bool
	checkPUSuccess  bool
	pendingRecord   []byte // last accepted PU binary record, awaiting TM

	// autonomous profile tracking
	profilesRemaining uint8
	profilesScheduled bool

	// per-run motion geometry
	deployLength      float32
	retractLength     float32
	dockLength        float32
	dockedProfileTime uint16

	// downlink buffers
	motionTM telemetry.MotionBuffer
	lora     telemetry.LoRaAggregator

	// periodic TSEN cadence
	lastTSEN time.Time

	// profile ledger entry in flight
	currentProfile *storage.ProfileEntry

	// sub-machine state
	checkPU       checkPUMachine
	profile       profileMachine
	redock        redockMachine
	puOffload     puOffloadMachine
	tsen          tsenMachine
	manualMotion  manualMotionMachine
	dockedProfile dockedProfileMachine
}

// New builds a Supervisor in Standby/entry.
func New(p Params) *Supervisor {
	if p.Log == nil {
		p.Log = zap.NewNop()
	}
	if p.Metrics == nil {
		p.Metrics = observability.NewMetrics()
	}
	if p.HW == nil {
		p.HW = NopHardware{}
	}
	if p.Clock == nil {
		p.Clock = NewRealClock()
	}
	return &Supervisor{
		log:     p.Log,
		cfg:     p.Config,
		clock:   p.Clock,
		mcb:     p.MCB,
		pu:      p.PU,
		zephyr:  p.Zephyr,
		metrics: p.Metrics,
		store:   p.Store,
		hw:      p.HW,
		mode:    ModeStandby,
	}
}

// Tick advances the supervisor by one step. The caller drains device-level
// I/O into the links before calling and transmits whatever the links queued
// afterwards.
func (s *Supervisor) Tick() {
	now := s.clock.Monotonic()
	s.metrics.TicksTotal.Inc()

	s.runMCBRouter()
	s.runPURouter()
	s.checkTSENCadence()
	s.loraIdleFlush(now)

	s.applyPending()
	s.runMode()

	for _, a := range s.sched.Poll(now) {
		s.flags.Set(a)
	}
	s.metrics.SchedulerDepth.Set(float64(s.sched.Pending()))
	s.metrics.StaleFlagsTotal.Add(float64(s.flags.Sweep()))
	s.metrics.ProfilesRemaining.Set(float64(s.profilesRemaining))
}

// applyPending applies an OBC mode change or a router-latched error before
// the mode tick runs.
func (s *Supervisor) applyPending() {
	if s.pendingMode != nil && *s.pendingMode != s.mode {
		next := *s.pendingMode
		s.pendingMode = nil

		// drive the current mode through its exit substate first
		s.substate = SubExit
		s.runMode()

		s.metrics.ModeTransitionsTotal.WithLabelValues(s.mode.String(), next.String()).Inc()
		s.log.Info("mode change", zap.String("from", s.mode.String()), zap.String("to", next.String()))
		s.mode = next
		s.substate = SubEntry
		s.metrics.ModeGauge.Set(float64(next))
	} else if s.pendingMode != nil {
		s.pendingMode = nil
	}

	if s.pendingErr {
		s.pendingErr = false
		s.enterError()
	}
}

// runMode dispatches to the active mode's substate machine.
func (s *Supervisor) runMode() {
	switch s.mode {
	case ModeStandby:
		s.standbyMode()
	case ModeFlight:
		s.flightMode()
	case ModeLowPower:
		s.lowPowerMode()
	case ModeSafety:
		s.safetyMode()
	case ModeEndOfFlight:
		s.endOfFlightMode()
	}
}

// enterError lands the current mode in its error substate.
func (s *Supervisor) enterError() {
	if s.substate == SubError {
		return
	}
	s.metrics.ModeErrorsTotal.WithLabelValues(s.mode.String()).Inc()
	s.substate = SubError
}

// requestError latches an error transition from a message handler; it is
// applied before the next mode tick.
func (s *Supervisor) requestError() {
	s.pendingErr = true
}

// ── OBC-side inputs ──────────────────────────────────────────────────────────

// RequestMode records an OBC mode command, applied on the next tick.
func (s *Supervisor) RequestMode(m Mode) {
	s.pendingMode = &m
}

// NotifyShutdown is the OBC shutdown warning.
func (s *Supervisor) NotifyShutdown() {
	s.substate = SubShutdown
}

// HandleGPS records a GPS fix relayed by the OBC.
func (s *Supervisor) HandleGPS(sza float64, valid bool) {
	s.sza = sza
	if valid {
		s.timeValid = true
	}
}

// HandleRAAck records the request-authority acknowledgement.
func (s *Supervisor) HandleRAAck(a Ack) { s.raAck = a }

// HandleTMAck records the telemetry acknowledgement.
func (s *Supervisor) HandleTMAck(a Ack) { s.tmAck = a }

// HandleSAck records the safety message acknowledgement.
func (s *Supervisor) HandleSAck(a Ack) { s.sAck = a }

// ── Flag helpers ─────────────────────────────────────────────────────────────

// setAction posts an action flag.
func (s *Supervisor) setAction(a flags.Action) { s.flags.Set(a) }

// checkAction reads and clears an action flag.
func (s *Supervisor) checkAction(a flags.Action) bool { return s.flags.Consume(a) }

// schedule arms a one-shot timer for an action.
func (s *Supervisor) schedule(a flags.Action, delay time.Duration) bool {
	return s.sched.Add(a, delay, s.clock.Monotonic())
}

// ── Downlink log helpers ─────────────────────────────────────────────────────

// zephyrLogFine downlinks a nominal log message.
func (s *Supervisor) zephyrLogFine(msg string) {
	s.log.Info(msg)
	s.zephyr.Log(link.FlagFine, msg)
}

// zephyrLogWarn downlinks a warning.
func (s *Supervisor) zephyrLogWarn(msg string) {
	s.log.Warn(msg)
	s.zephyr.Log(link.FlagWarn, msg)
}

// zephyrLogCrit downlinks a critical message.
func (s *Supervisor) zephyrLogCrit(msg string) {
	s.log.Error(msg)
	s.zephyr.Log(link.FlagCrit, msg)
}

// ── PU dock tracking ─────────────────────────────────────────────────────────

// puDock marks the PU docked and powered. Called on every frame received
// over the wired PU channel: traffic there implies a completed dock.
func (s *Supervisor) puDock() {
	if !s.cfg.Profiler.PUDocked {
		s.cfg.Profiler.PUDocked = true
		s.persistConfig()
	}
	s.hw.SetPUPower(true)
}

// puUndock marks the PU off the wire, power removed.
func (s *Supervisor) puUndock() {
	if s.cfg.Profiler.PUDocked {
		s.cfg.Profiler.PUDocked = false
		s.persistConfig()
	}
	s.hw.SetPUPower(false)
}

// persistConfig snapshots the instrument config; storage failures are
// logged, never fatal in flight.
func (s *Supervisor) persistConfig() {
	if s.store == nil {
		return
	}
	if err := s.store.SaveProfilerConfig(&s.cfg.Profiler); err != nil {
		s.log.Error("config snapshot failed", zap.Error(err))
	}
}

// checkTSENCadence posts COMMAND_SEND_TSEN every ten wall-clock minutes,
// aligned with the hour.
func (s *Supervisor) checkTSENCadence() {
	now := s.clock.Now()
	if now.After(s.lastTSEN.Add(540*time.Second)) && now.Minute()%10 == 0 {
		s.lastTSEN = now
		s.setAction(flags.CommandSendTSEN)
	}
}

// ── Status snapshot (operator socket) ────────────────────────────────────────

// Snapshot is a point-in-time view of the supervisor for ground test.
type Snapshot struct {
	Mode              string  `json:"mode"`
	Substate          uint8   `json:"substate"`
	Autonomous        bool    `json:"autonomous"`
	TimeValid         bool    `json:"time_valid"`
	Motion            string  `json:"motion"`
	MotionOngoing     bool    `json:"motion_ongoing"`
	ProfilesRemaining uint8   `json:"profiles_remaining"`
	ProfileID         uint16  `json:"profile_id"`
	PUDocked          bool    `json:"pu_docked"`
	PUBattery         float32 `json:"pu_battery"`
	SchedulerDepth    int     `json:"scheduler_depth"`
}

// Status returns the current snapshot.
func (s *Supervisor) Status() Snapshot {
	return Snapshot{
		Mode:              s.mode.String(),
		Substate:          uint8(s.substate),
		Autonomous:        s.autonomousMode,
		TimeValid:         s.timeValid,
		Motion:            s.motion.String(),
		MotionOngoing:     s.motionOngoing,
		ProfilesRemaining: s.profilesRemaining,
		ProfileID:         s.cfg.Profiler.ProfileID,
		PUDocked:          s.cfg.Profiler.PUDocked,
		PUBattery:         s.puStatus.VBattery,
		SchedulerDepth:    s.sched.Pending(),
	}
}

// Mode returns the current mode (tests, simulator).
func (s *Supervisor) Mode() Mode { return s.mode }

// SubstateTag returns the current substate tag (tests, simulator).
func (s *Supervisor) SubstateTag() Substate { return s.substate }
