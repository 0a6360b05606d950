// Package supervisor — redock.go
//
// ReDock sub-machine: a scheduled choreography to re-seat a PU that failed
// to dock. Post a short reel-out now, a no-loose-wire retract at +30 s, and
// a PU check at +60 s; an idle substate dispatches on whichever fires next.
// Terminal on PU-docked-confirmed or on PU status failure.
//
// The caller sets deployLength/retractLength first (the profile sequencer
// uses the configured redock lengths, the RETRYDOCK telecommand its own).

package supervisor

import (
	"fmt"
	"time"

	"github.com/rachuts/pibd/internal/flags"
	"github.com/rachuts/pibd/internal/link"
)

// Redock choreography offsets.
const (
	redockInDelay    = 30 * time.Second
	redockCheckDelay = 60 * time.Second
)

type redockState uint8

const (
	rdEntry redockState = iota
	rdIdle
	rdStartMotion
	rdVerifyMotion
	rdMonitorMotion
	rdCheckPU
	rdWaitPU
)

type redockMachine struct {
	state           redockState
	resendAttempted bool
}

func (m *redockMachine) restart() { m.state = rdEntry }

// step advances one substate.
func (m *redockMachine) step(s *Supervisor) stepResult {
	switch m.state {
	case rdEntry:
		m.state = rdIdle
		s.setAction(flags.ActionReelOut)
		s.schedule(flags.ActionInNoLW, redockInDelay)
		s.schedule(flags.ActionCheckPU, redockCheckDelay)
		s.metrics.RedockAttemptsTotal.Inc()

	case rdIdle:
		if s.checkAction(flags.ActionReelOut) {
			m.state = rdStartMotion
			s.motion = MotionReelOut
			m.resendAttempted = false
		} else if s.checkAction(flags.ActionInNoLW) {
			m.state = rdStartMotion
			s.motion = MotionInNoLW
			m.resendAttempted = false
		} else if s.checkAction(flags.ActionCheckPU) {
			m.state = rdCheckPU
			m.resendAttempted = false
		}

	case rdStartMotion:
		if s.motionOngoing {
			s.zephyrLogWarn("Motion commanded while motion ongoing")
			return stepError
		}

		if s.startMCBMotion() {
			m.state = rdVerifyMotion
			s.schedule(flags.ResendMotionCommand, mcbResendTimeout)
		} else {
			s.zephyrLogWarn("Motion start error")
			return stepError
		}

	case rdVerifyMotion:
		if s.motionOngoing { // set in the ack handler
			s.log.Info("MCB commanded motion")
			m.state = rdMonitorMotion
		}

		if s.checkAction(flags.ResendMotionCommand) {
			if !m.resendAttempted {
				m.resendAttempted = true
				m.state = rdStartMotion
			} else {
				m.resendAttempted = false
				s.zephyrLogWarn("MCB never confirmed motion")
				return stepError
			}
		}

	case rdMonitorMotion:
		if s.checkAction(flags.ActionMotionStop) {
			s.zephyrLogFine("Commanded motion stop")
			return stepDone
		}

		if !s.motionOngoing {
			m.state = rdIdle
		}

	case rdCheckPU:
		s.pu.Send(link.Ascii(link.PUSendStatus))
		s.schedule(flags.ResendPUCheck, puResendTimeout)
		m.state = rdWaitPU

	case rdWaitPU:
		if s.cfg.Profiler.PUDocked {
			s.zephyrLogFine(fmt.Sprintf("PU status: %d, %0.2f, %0.2f, %0.2f, %0.2f, %d",
				s.puStatus.Time, s.puStatus.VBattery, s.puStatus.ICharge,
				s.puStatus.Therm1, s.puStatus.Therm2, s.puStatus.HeaterStat))
			s.mcb.Send(link.Ascii(link.MCBZeroReel))
			return stepDone
		}

		if s.checkAction(flags.ResendPUCheck) {
			if !m.resendAttempted {
				m.resendAttempted = true
				m.state = rdCheckPU
			} else {
				m.resendAttempted = false
				s.zephyrLogWarn("PU not responding to status request")
				return stepDone
			}
		}

	default:
		return stepDone
	}

	return stepContinue
}
