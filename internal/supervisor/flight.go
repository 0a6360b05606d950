// Package supervisor — flight.go
//
// Flight mode: wait for a valid GPS time, then run either the manual or
// the autonomous family of substates. Exactly one sub-machine steps per
// tick; a sub-machine reporting stepError lands the mode in its error
// substate, which parks the reel and waits for EXIT_ERROR_STATE from the
// ground (or an OBC mode change).

package supervisor

import (
	"fmt"

	"github.com/rachuts/pibd/internal/flags"
	"github.com/rachuts/pibd/internal/link"
)

// Flight substates. FLM = manual family, FLA = autonomous family.
const (
	flGPSWait = subModeBase + iota

	flmIdle
	flmCheckPU
	flmManualMotion
	flmRedock
	flmTSEN
	flmPUOffload
	flmProfile
	flmDocked

	flaIdle
	flaWaitProfile
	flaTSEN
	flaProfile
	flaPUOffload
	flaNoteProfileEnd

	flErrorLoop
	flShutdownLoop
)

// szaDayReset: below this solar zenith angle the sun is high enough to call
// it daytime; the nightly profile budget re-arms.
const szaDayReset = 45

func (s *Supervisor) flightMode() {
	switch s.substate {
	case SubEntry:
		s.log.Info("entering FL")
		s.substate = flGPSWait

	case flGPSWait:
		// wait for the first GPS message from the OBC to set the time
		s.log.Debug("waiting on GPS time")
		if s.timeValid {
			if s.autonomousMode {
				s.substate = flaIdle
			} else {
				s.substate = flmIdle
			}
		}

	case SubError:
		s.log.Error("landed in flight error")
		s.sched.Clear()
		s.motionOngoing = false
		s.profilesRemaining = 0
		s.motion = MotionNone
		s.mcb.Send(link.Ascii(link.MCBGoLowPower))
		s.schedule(flags.ResendMCBLowPower, mcbResendTimeout)
		s.mcbLowPower = false
		s.substate = flErrorLoop

	case flErrorLoop:
		s.log.Debug("FL error loop")
		if !s.mcbLowPower && s.checkAction(flags.ResendMCBLowPower) {
			s.schedule(flags.ResendMCBLowPower, mcbResendTimeout)
			s.mcb.Send(link.Ascii(link.MCBGoLowPower)) // just constantly send
		}

		if s.checkAction(flags.ExitErrorState) {
			s.log.Info("leaving flight error loop")
			s.substate = SubEntry
		}

	case SubShutdown:
		s.log.Info("shutdown warning received in FL")
		s.mcb.Send(link.Ascii(link.MCBGoLowPower))
		s.substate = flShutdownLoop

	case flShutdownLoop:

	case SubExit:
		s.mcb.Send(link.Ascii(link.MCBGoLowPower))
		s.log.Info("exiting FL")

	default:
		if s.autonomousMode {
			s.autonomousFlight()
		} else {
			s.manualFlight()
		}
	}
}

func (s *Supervisor) manualFlight() {
	switch s.substate {
	case flmIdle:
		s.log.Debug("FL manual idle")
		switch {
		case s.checkAction(flags.ActionReelIn):
			s.log.Info("reel in manual command")
			s.motion = MotionReelIn
			s.manualMotion.restart()
			s.substate = flmManualMotion
		case s.checkAction(flags.ActionReelOut):
			s.log.Info("reel out manual command")
			s.motion = MotionReelOut
			s.manualMotion.restart()
			s.substate = flmManualMotion
		case s.checkAction(flags.ActionDock):
			s.log.Info("dock manual command")
			s.motion = MotionDock
			s.manualMotion.restart()
			s.substate = flmManualMotion
		case s.checkAction(flags.ActionCheckPU):
			s.log.Info("check PU manual command")
			s.checkPU.restart()
			s.substate = flmCheckPU
		case s.checkAction(flags.CommandRedock):
			s.log.Info("redock manual command")
			s.motion = MotionInNoLW
			s.redock.restart()
			s.substate = flmRedock
		case s.checkAction(flags.CommandSendTSEN):
			s.log.Info("send TSEN manual command")
			s.tsen.restart()
			s.substate = flmTSEN
		case s.checkAction(flags.CommandManualProfile):
			s.log.Info("profile manual command")
			s.profile.restart()
			s.substate = flmProfile
		case s.checkAction(flags.ActionOffloadPU):
			s.log.Info("offload PU manual command")
			s.puOffload.restart()
			s.substate = flmPUOffload
		case s.checkAction(flags.CommandDockedProfile):
			s.log.Info("docked profile")
			s.dockedProfile.restart()
			s.substate = flmDocked
		}

	case flmCheckPU:
		if s.checkPU.step(s) {
			// only send status if the check succeeded (a warning already
			// went down otherwise)
			if s.checkPUSuccess {
				s.zephyrLogFine(fmt.Sprintf("PU status: %d, %0.2f, %0.2f, %0.2f, %0.2f, %d",
					s.puStatus.Time, s.puStatus.VBattery, s.puStatus.ICharge,
					s.puStatus.Therm1, s.puStatus.Therm2, s.puStatus.HeaterStat))
			}
			s.substate = flmIdle
		}

	case flmManualMotion:
		switch s.manualMotion.step(s) {
		case stepDone:
			s.substate = flmIdle
		case stepError:
			s.enterError()
		}

	case flmRedock:
		switch s.redock.step(s) {
		case stepDone:
			s.substate = flmIdle
		case stepError:
			s.enterError()
		}

	case flmTSEN:
		if s.tsen.step(s) {
			s.substate = flmIdle
		}

	case flmPUOffload:
		if s.puOffload.step(s) {
			s.substate = flmIdle
		}

	case flmProfile:
		switch s.profile.step(s) {
		case stepDone:
			s.substate = flmIdle
		case stepError:
			s.enterError()
		}

	case flmDocked:
		if s.dockedProfile.step(s) {
			s.substate = flmIdle
		}

	default:
		s.log.Error("unknown manual substate")
	}
}

func (s *Supervisor) autonomousFlight() {
	p := &s.cfg.Profiler

	switch s.substate {
	case flaIdle:
		// daytime: re-arm the nightly profile budget
		if s.sza < szaDayReset {
			s.profilesRemaining = p.NumProfiles
			s.profilesScheduled = false
		}

		szaTriggered := p.SZATrigger && s.sza > float64(p.SZAMinimum)
		timeTriggered := !p.SZATrigger && uint32(s.clock.Now().Unix()) >= p.TimeTrigger

		switch {
		case s.profilesRemaining != 0 && (szaTriggered || timeTriggered):
			if s.profilesScheduled {
				s.substate = flaWaitProfile
			} else if s.scheduleProfiles() { // result goes down as a log message
				s.profilesScheduled = true
				s.substate = flaWaitProfile
			} else {
				s.enterError()
			}
		case s.checkAction(flags.CommandSendTSEN):
			s.tsen.restart()
			s.substate = flaTSEN
		}

	case flaWaitProfile:
		if s.checkAction(flags.ActionBeginProfile) {
			s.profile.restart()
			s.substate = flaProfile
		} else if s.checkAction(flags.CommandSendTSEN) {
			s.tsen.restart()
			s.substate = flaTSEN
		}

	case flaTSEN:
		if s.tsen.step(s) {
			s.substate = flaIdle
		}

	case flaProfile:
		switch s.profile.step(s) {
		case stepDone:
			s.puOffload.restart()
			s.substate = flaPUOffload
		case stepError:
			s.enterError()
		}

	case flaPUOffload:
		if s.puOffload.step(s) {
			s.substate = flaNoteProfileEnd
		}

	case flaNoteProfileEnd:
		if s.profilesRemaining != 0 {
			s.profilesRemaining--
		}
		s.substate = flaIdle

	default:
		s.log.Error("unknown autonomous substate")
	}
}
