// Package supervisor — manualmotion.go
//
// ManualMotion sub-machine: one ground-commanded reel motion, with the full
// handshake chain — request authority from the OBC, start and verify the
// motion (single command retry), monitor to completion, downlink the motion
// TM and wait for its ack (single retransmit).
//
// Single-retry rationale: the MCB and the serial link fail independently
// and transiently; one retry covers most losses without risking a double
// start — the motionOngoing flag set by the eventual ack guards re-entry.

package supervisor

import (
	"github.com/rachuts/pibd/internal/flags"
	"github.com/rachuts/pibd/internal/link"
)

type manualMotionState uint8

const (
	mmEntry manualMotionState = iota
	mmSendRA
	mmWaitRAAck
	mmStartMotion
	mmVerifyMotion
	mmMonitorMotion
	mmTMAck
)

type manualMotionMachine struct {
	state           manualMotionState
	resendAttempted bool
}

func (m *manualMotionMachine) restart() { m.state = mmEntry }

// step advances one substate.
func (m *manualMotionMachine) step(s *Supervisor) stepResult {
	switch m.state {
	case mmEntry, mmSendRA:
		s.raAck = NoAck
		s.zephyr.RA()
		m.state = mmWaitRAAck
		s.schedule(flags.ResendRA, zephyrResendTimeout)
		s.log.Info("sending RA")

	case mmWaitRAAck:
		if s.cfg.Profiler.RAOverride { // emergency override
			s.raAck = AckOK
		}
		if s.raAck == AckOK {
			m.state = mmStartMotion
			m.resendAttempted = false
			s.log.Info("RA ACK")
		} else if s.raAck == AckNak {
			m.resendAttempted = false
			s.zephyrLogWarn("Cannot perform motion, RA NAK")
			return stepDone
		} else if s.checkAction(flags.ResendRA) {
			if !m.resendAttempted {
				m.resendAttempted = true
				m.state = mmSendRA
			} else {
				s.zephyrLogWarn("Never received RAAck")
				m.resendAttempted = false
				return stepDone
			}
		}

	case mmStartMotion:
		if s.motionOngoing {
			s.zephyrLogWarn("Motion commanded while motion ongoing")
			return stepError
		}

		if s.startMCBMotion() {
			m.state = mmVerifyMotion
			s.schedule(flags.ResendMotionCommand, mcbResendTimeout)
		} else {
			s.zephyrLogWarn("Motion start error")
			return stepError
		}

	case mmVerifyMotion:
		if s.motionOngoing { // set in the ack handler
			s.log.Info("MCB commanded motion")
			s.schedule(flags.ActionMotionTimeout, s.maxMotionTime)
			m.state = mmMonitorMotion
		}

		if s.checkAction(flags.ResendMotionCommand) {
			if !m.resendAttempted {
				m.resendAttempted = true
				m.state = mmStartMotion
			} else {
				m.resendAttempted = false
				s.zephyrLogWarn("MCB never confirmed motion")
				return stepError
			}
		}

	case mmMonitorMotion:
		if s.checkAction(flags.ActionMotionStop) {
			s.zephyrLogFine("Commanded motion stop")
			return stepDone
		}

		if s.checkAction(flags.ActionMotionTimeout) {
			s.sendMCBTM(link.FlagCrit, "MCB Motion took longer than expected")
			s.metrics.MotionTimeoutsTotal.Inc()
			s.cancelMotion()
			return stepError
		}

		if !s.motionOngoing {
			s.sendMCBTM(link.FlagFine, "Finished commanded manual motion")
			m.state = mmTMAck
			s.schedule(flags.ResendTM, zephyrResendTimeout)
		}

	case mmTMAck:
		if s.tmAck == AckOK {
			s.log.Info("Zephyr ACKed motion TM")
			return stepDone
		} else if s.tmAck == AckNak || s.checkAction(flags.ResendTM) {
			// attempt one resend; the transport still holds the message
			s.log.Error("needed to resend TM")
			s.zephyr.ResendTM()
			return stepDone
		}

	default:
		return stepDone
	}

	return stepContinue
}
