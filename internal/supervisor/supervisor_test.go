package supervisor

import (
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/rachuts/pibd/internal/config"
	"github.com/rachuts/pibd/internal/flags"
	"github.com/rachuts/pibd/internal/link"
)

// testClock is a hand-stepped Clock.
type testClock struct {
	mono time.Duration
	wall time.Time
}

func (c *testClock) Now() time.Time           { return c.wall }
func (c *testClock) Monotonic() time.Duration { return c.mono }

type fakeHW struct {
	safe    bool
	puPower bool
}

func (h *fakeHW) SetSafe(on bool)    { h.safe = on }
func (h *fakeHW) SetPUPower(on bool) { h.puPower = on }

// harness wires a supervisor to in-memory peers and a stepped clock.
type harness struct {
	cfg   *config.Config
	clock *testClock
	mcb   *link.Endpoint
	pu    *link.Endpoint
	zeph  *link.ZephyrQueue
	hw    *fakeHW
	sup   *Supervisor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := config.Defaults()
	h := &harness{
		cfg: &cfg,
		// wall minute 3: clear of the ten-minute TSEN cadence boundary
		clock: &testClock{wall: time.Date(2026, 1, 15, 12, 3, 0, 0, time.UTC)},
		mcb:   link.NewEndpoint(256),
		pu:    link.NewEndpoint(256),
		zeph:  &link.ZephyrQueue{},
		hw:    &fakeHW{},
	}
	h.sup = New(Params{
		Log:    zap.NewNop(),
		Config: h.cfg,
		Clock:  h.clock,
		MCB:    h.mcb,
		PU:     h.pu,
		Zephyr: h.zeph,
		HW:     h.hw,
	})
	return h
}

// tick runs one supervisor tick without moving the clock.
func (h *harness) tick() { h.sup.Tick() }

// advance steps the clock one second at a time, ticking after each step.
func (h *harness) advance(d time.Duration) {
	for elapsed := time.Duration(0); elapsed < d; elapsed += time.Second {
		h.clock.mono += time.Second
		h.clock.wall = h.clock.wall.Add(time.Second)
		h.sup.Tick()
	}
}

// enterFlight drives the supervisor into flight mode past the GPS wait.
func (h *harness) enterFlight(autonomous bool) {
	h.sup.autonomousMode = autonomous
	h.sup.RequestMode(ModeFlight)
	h.sup.HandleGPS(100, true)
	h.tick() // entry
	h.tick() // GPS wait -> idle
}

// sentMCB counts outbound MCB frames with the given id.
func (h *harness) sentMCB(id uint8) int {
	n := 0
	for _, f := range h.mcb.TakeSent() {
		if f.ID == id {
			n++
		}
	}
	return n
}

// zephyrContains reports whether any recorded OBC message of the given kind
// contains sub in its detail.
func (h *harness) zephyrContains(kind, sub string) bool {
	for _, m := range h.zeph.Msgs {
		if m.Kind == kind && strings.Contains(m.Detail, sub) {
			return true
		}
	}
	return false
}

// ── Mode supervisor ──────────────────────────────────────────────────────────

func TestStandby_SendsModeRequestAndReschedules(t *testing.T) {
	h := newHarness(t)

	h.tick() // entry schedules SEND_IMR at +0; it fires at this tick's poll
	h.tick() // flag consumed, IMR sent
	h.tick()
	if got := len(h.zeph.Msgs); got != 1 || h.zeph.Msgs[0].Kind != "IMR" {
		t.Fatalf("expected one IMR, got %v", h.zeph.Msgs)
	}

	h.advance(61 * time.Second)
	imrs := 0
	for _, m := range h.zeph.Msgs {
		if m.Kind == "IMR" {
			imrs++
		}
	}
	if imrs != 2 {
		t.Fatalf("expected rescheduled IMR after 60s, got %d", imrs)
	}
}

func TestModeChange_ExitBeforeEntry(t *testing.T) {
	h := newHarness(t)
	h.tick()

	h.sup.RequestMode(ModeLowPower)
	h.tick() // exit standby, enter LP
	if h.sup.Mode() != ModeLowPower {
		t.Fatalf("mode = %v", h.sup.Mode())
	}

	h.tick() // lpAlertMCB sends the command
	if h.sentMCB(link.MCBGoLowPower) != 1 {
		t.Fatal("LP entry did not command MCB low power")
	}

	h.mcb.Deliver(link.Ack(link.MCBGoLowPower, true))
	h.tick()
	if h.sup.SubstateTag() != lpLoop {
		t.Fatalf("substate = %d, want lpLoop", h.sup.SubstateTag())
	}
}

func TestLowPower_ResendsUntilAcked(t *testing.T) {
	h := newHarness(t)
	h.sup.RequestMode(ModeLowPower)
	h.tick()
	h.tick() // first send
	// resend fires at +10 s, flag consumed at +11 s, second send at +12 s
	h.advance(12 * time.Second)
	h.tick() // still waiting for the ack
	h.tick()

	if got := h.sentMCB(link.MCBGoLowPower); got < 2 {
		t.Fatalf("expected a resent LP command, got %d sends", got)
	}
}

func TestFlight_GPSWaitBranchesByAutonomy(t *testing.T) {
	h := newHarness(t)
	h.sup.RequestMode(ModeFlight)
	h.tick()
	h.tick()
	if h.sup.SubstateTag() != flGPSWait {
		t.Fatalf("substate = %d, want GPS wait before time valid", h.sup.SubstateTag())
	}

	h.sup.HandleGPS(100, true)
	h.tick()
	if h.sup.SubstateTag() != flmIdle {
		t.Fatalf("substate = %d, want manual idle", h.sup.SubstateTag())
	}

	h2 := newHarness(t)
	h2.enterFlight(true)
	if h2.sup.SubstateTag() != flaIdle {
		t.Fatalf("substate = %d, want autonomous idle", h2.sup.SubstateTag())
	}
}

// ── Scenario: motion retry (single resend, then error) ───────────────────────

func TestManualMotion_SingleRetryThenError(t *testing.T) {
	h := newHarness(t)
	h.cfg.Profiler.RAOverride = true
	h.enterFlight(false)

	h.sup.HandleTelecommand(Telecommand{ID: TCDeployX, Params: TCParams{DeployLen: 100}})
	h.advance(30 * time.Second) // no MCB ack ever arrives

	if got := h.sentMCB(link.MCBReelOut); got != 2 {
		t.Fatalf("reel-out sends = %d, want exactly 2 (one retry)", got)
	}
	if h.sup.SubstateTag() != flErrorLoop {
		t.Fatalf("substate = %d, want flight error loop", h.sup.SubstateTag())
	}
	if !h.zephyrContains("LOG", "MCB never confirmed motion") {
		t.Fatal("missing never-confirmed warning")
	}
}

func TestManualMotion_CompletesWithTMAck(t *testing.T) {
	h := newHarness(t)
	h.cfg.Profiler.RAOverride = true
	h.enterFlight(false)

	h.sup.HandleTelecommand(Telecommand{ID: TCRetractX, Params: TCParams{RetractLen: 50}})
	h.advance(4 * time.Second)

	if h.sentMCB(link.MCBReelIn) != 1 {
		t.Fatal("no reel-in command sent")
	}
	h.mcb.Deliver(link.Ack(link.MCBReelIn, true))
	h.tick()
	if !h.sup.motionOngoing {
		t.Fatal("motion not ongoing after ack")
	}

	h.mcb.Deliver(link.Ascii(link.MCBMotionFinished))
	h.tick() // router clears, monitor sends TM
	if h.sup.motionOngoing {
		t.Fatal("motion still ongoing after finished")
	}
	if !h.zephyrContains("TM", "Finished commanded manual motion") {
		t.Fatal("missing completion TM")
	}

	h.sup.HandleTMAck(AckOK)
	h.tick()
	if h.sup.SubstateTag() != flmIdle {
		t.Fatalf("substate = %d, want manual idle after TM ack", h.sup.SubstateTag())
	}
}

// ── Scenario: dock fault reinterpreted as success ────────────────────────────

func TestDockFault_AssumedSuccess(t *testing.T) {
	h := newHarness(t)
	h.enterFlight(false)

	h.sup.motion = MotionDock
	h.mcb.Deliver(link.Ack(link.MCBDock, true))
	h.tick()
	if !h.sup.motionOngoing || !h.sup.dockOngoing {
		t.Fatal("dock ack did not set ongoing flags")
	}

	h.mcb.Deliver(link.MotionFault([8]uint16{0x8, 0, 0, 0, 0, 0, 0, 0}))
	h.tick()

	if h.sup.motionOngoing || h.sup.dockOngoing {
		t.Fatal("fault during dock did not clear motion flags")
	}
	if !h.zephyrContains("TM", "dock condition assumed") {
		t.Fatal("missing nominal dock-assumed TM")
	}
	if h.sup.SubstateTag() == SubError || h.sup.SubstateTag() == flErrorLoop {
		t.Fatal("dock fault escalated to mode error")
	}
}

func TestMotionFault_OutsideDockIsCritical(t *testing.T) {
	h := newHarness(t)
	h.enterFlight(false)

	h.sup.motion = MotionReelOut
	h.mcb.Deliver(link.Ack(link.MCBReelOut, true))
	h.tick()

	h.mcb.Deliver(link.MotionFault([8]uint16{0x2}))
	h.tick()

	if h.sup.motionOngoing {
		t.Fatal("fault did not clear motion")
	}
	if !h.zephyrContains("TM", "MCB Fault") {
		t.Fatal("missing critical fault TM")
	}
	if h.sup.SubstateTag() != flErrorLoop && h.sup.SubstateTag() != SubError {
		t.Fatalf("substate = %d, want error landing", h.sup.SubstateTag())
	}
}

// ── Scenario: redock exhaustion (P8) ─────────────────────────────────────────

func TestVerifyDock_RedockExhaustion(t *testing.T) {
	h := newHarness(t)
	h.cfg.Profiler.NumRedock = 2
	h.cfg.Profiler.PUDocked = false
	h.enterFlight(false)

	m := &h.sup.profile
	for attempt := 1; attempt <= 2; attempt++ {
		m.state = pmVerifyDock
		if res := m.step(h.sup); res != stepContinue {
			t.Fatalf("attempt %d: step = %v, want continue into redock", attempt, res)
		}
		if m.state != pmRedock {
			t.Fatalf("attempt %d: state = %d, want redock", attempt, m.state)
		}
		if m.redockCount != uint8(attempt) {
			t.Fatalf("attempt %d: redockCount = %d", attempt, m.redockCount)
		}
	}

	m.state = pmVerifyDock
	if res := m.step(h.sup); res != stepError {
		t.Fatalf("third failed dock: step = %v, want error", res)
	}
	if m.redockCount != 3 {
		t.Fatalf("redockCount = %d, want 3", m.redockCount)
	}
	if !h.zephyrContains("LOG", "Exceeded allowable number of redock attempts") {
		t.Fatal("missing redock-exhaustion critical")
	}
}

func TestVerifyDock_DockedGoesToLowPower(t *testing.T) {
	h := newHarness(t)
	h.cfg.Profiler.PUDocked = true
	h.enterFlight(false)

	m := &h.sup.profile
	m.state = pmVerifyDock
	m.step(h.sup) // zero reel
	m.step(h.sup) // LP command
	if m.state != pmConfirmMCBLP {
		t.Fatalf("state = %d, want confirm MCB LP", m.state)
	}
	// sentMCB drains the queue, so count both ids from one drain
	zero, lp := 0, 0
	for _, f := range h.mcb.TakeSent() {
		switch f.ID {
		case link.MCBZeroReel:
			zero++
		case link.MCBGoLowPower:
			lp++
		}
	}
	if zero != 1 || lp != 1 {
		t.Fatal("missing zero reel or low power command")
	}
}

// ── Scenario: CheckPU freshness ──────────────────────────────────────────────

func TestCheckPU_FreshStatusNoRetry(t *testing.T) {
	h := newHarness(t)
	h.enterFlight(false)

	h.sup.puLastStatus = 1000
	m := &h.sup.checkPU
	m.restart()
	m.step(h.sup) // entry: record watermark
	m.step(h.sup) // send request

	if got := len(h.pu.TakeSent()); got != 1 {
		t.Fatalf("status requests = %d, want 1", got)
	}

	// router observes a new status before the retry timer fires
	h.sup.puLastStatus = 1050
	if !m.step(h.sup) {
		t.Fatal("not done after fresh status")
	}
	if !h.sup.checkPUSuccess {
		t.Fatal("checkPUSuccess = false")
	}
	if got := len(h.pu.TakeSent()); got != 0 {
		t.Fatalf("retry emitted: %d extra requests", got)
	}
}

func TestCheckPU_DoubleTimeoutWarnsAndFinishes(t *testing.T) {
	h := newHarness(t)
	h.enterFlight(false)

	m := &h.sup.checkPU
	m.restart()
	m.step(h.sup) // entry
	m.step(h.sup) // first request

	// first retry timer fires: one resend allowed
	h.sup.flags.Set(flags.ResendPUCheck)
	if m.step(h.sup) {
		t.Fatal("done after first timeout")
	}
	m.step(h.sup) // second request

	// second timeout: warn and finish with failure
	h.sup.flags.Set(flags.ResendPUCheck)
	if !m.step(h.sup) {
		t.Fatal("not done after second timeout")
	}
	if h.sup.checkPUSuccess {
		t.Fatal("checkPUSuccess = true after two timeouts")
	}
	if !h.zephyrContains("LOG", "PU not responding to status request") {
		t.Fatal("missing status-request warning")
	}
	if got := len(h.pu.TakeSent()); got != 2 {
		t.Fatalf("status requests = %d, want 2", got)
	}
}

// ── Scenario: TSEN pre-emption ───────────────────────────────────────────────

func TestTSEN_ProfilePreemptsInAutonomous(t *testing.T) {
	h := newHarness(t)
	h.enterFlight(true)

	h.sup.tsen.restart()
	h.sup.flags.Set(flags.ActionBeginProfile)

	if !h.sup.tsen.step(h.sup) {
		t.Fatal("TSEN did not yield to pending profile")
	}
	if !h.sup.flags.Peek(flags.ActionBeginProfile) {
		t.Fatal("ACTION_BEGIN_PROFILE not re-posted")
	}
}

func TestTSEN_ManualOverrideKillsFetch(t *testing.T) {
	h := newHarness(t)
	h.enterFlight(false)

	h.sup.tsen.restart()
	h.sup.flags.Set(flags.ActionOverrideTSEN)
	if !h.sup.tsen.step(h.sup) {
		t.Fatal("override did not kill TSEN")
	}
	if h.sup.flags.Peek(flags.ActionOverrideTSEN) {
		t.Fatal("override flag not consumed")
	}
}

// ── P7: manual motion TCs rejected in autonomous ─────────────────────────────

func TestTelecommand_MotionRejectedInAutonomous(t *testing.T) {
	h := newHarness(t)
	h.enterFlight(true)

	h.sup.HandleTelecommand(Telecommand{ID: TCDeployX, Params: TCParams{DeployLen: 100}})
	if h.sup.flags.Peek(flags.ActionReelOut) {
		t.Fatal("reel-out flag posted despite autonomous mode")
	}
	if !h.zephyrContains("LOG", "Switch to manual mode") {
		t.Fatal("missing rejection warning")
	}
}

func TestTelecommand_AutonomySwitchRejectedDuringMotion(t *testing.T) {
	h := newHarness(t)
	h.enterFlight(false)

	h.sup.motionOngoing = true
	h.sup.HandleTelecommand(Telecommand{ID: TCSetAuto})
	if h.sup.autonomousMode {
		t.Fatal("autonomy switched while motion ongoing")
	}
	if !h.zephyrContains("LOG", "can't update mode") {
		t.Fatal("missing rejection warning")
	}
}

func TestTelecommand_FullRetractNaks(t *testing.T) {
	h := newHarness(t)
	if h.sup.HandleTelecommand(Telecommand{ID: TCFullRetract}) {
		t.Fatal("FULLRETRACT acked")
	}
}

// ── OBC shutdown warning ─────────────────────────────────────────────────────

func TestShutdownWarning_FlightParksMCB(t *testing.T) {
	h := newHarness(t)
	h.enterFlight(false)

	h.sup.NotifyShutdown()
	h.tick() // shutdown landing commands MCB low power
	if h.sentMCB(link.MCBGoLowPower) != 1 {
		t.Fatal("shutdown warning did not command MCB low power")
	}
	if h.sup.SubstateTag() != flShutdownLoop {
		t.Fatalf("substate = %d, want flight shutdown loop", h.sup.SubstateTag())
	}

	// the loop is terminal until the OBC changes mode
	h.advance(5 * time.Second)
	if h.sup.SubstateTag() != flShutdownLoop {
		t.Fatalf("substate = %d, left shutdown loop without a mode change", h.sup.SubstateTag())
	}

	h.sup.RequestMode(ModeLowPower)
	h.tick()
	if h.sup.Mode() != ModeLowPower {
		t.Fatalf("mode = %v, want low power after OBC mode change", h.sup.Mode())
	}
}

func TestShutdownWarning_IdlesInOtherModes(t *testing.T) {
	for _, mode := range []Mode{ModeStandby, ModeLowPower, ModeSafety, ModeEndOfFlight} {
		h := newHarness(t)
		h.sup.RequestMode(mode)
		h.tick()

		h.sup.NotifyShutdown()
		h.advance(3 * time.Second)
		if h.sup.SubstateTag() != SubShutdown {
			t.Fatalf("%v: substate = %d, want shutdown", mode, h.sup.SubstateTag())
		}
	}
}
