// Package supervisor — safety.go
//
// Safety mode: make the tether safe for the OBC, linearly — full retract,
// dock, MCB low power, then the safety message with ack wait. The SAFE
// discrete is driven high while looping and dropped on exit.

package supervisor

import (
	"github.com/rachuts/pibd/internal/flags"
	"github.com/rachuts/pibd/internal/link"
)

const (
	saSendFullRetract = subModeBase + iota
	saVerifyFullRetract
	saMonitorFullRetract
	saCommandDock
	saVerifyDock
	saMonitorDock
	saSendMCBLP
	saVerifyMCBLP
	saSendS
	saAckWait
	saLoop
)

func (s *Supervisor) safetyMode() {
	switch s.substate {
	case SubEntry:
		s.log.Info("entering SA")
		s.substate = saSendFullRetract

	case saSendFullRetract:
		s.mcbReelingIn = false
		s.motionOngoing = true
		s.mcb.Send(link.Ascii(link.MCBFullRetract))
		s.schedule(flags.ResendFullRetract, mcbResendTimeout)
		s.substate = saVerifyFullRetract

	case saVerifyFullRetract:
		if s.mcbReelingIn {
			s.log.Info("MCB performing full retract")
			s.substate = saMonitorFullRetract
		}
		if s.checkAction(flags.ResendFullRetract) {
			s.substate = saSendFullRetract
		}

	case saMonitorFullRetract:
		if !s.motionOngoing {
			s.log.Info("MCB full retract appears complete")
			s.dockLength = safetyDockLength
			s.substate = saCommandDock
		}

	case saCommandDock:
		s.motion = MotionDock
		if s.startMCBMotion() {
			s.substate = saVerifyDock
			s.schedule(flags.ResendMotionCommand, mcbResendTimeout)
		} else {
			s.zephyrLogWarn("Motion start error")
			s.enterError()
		}

	case saVerifyDock:
		if s.motionOngoing { // set in the ack handler
			s.log.Info("MCB commanded motion")
			s.schedule(flags.ActionMotionTimeout, s.maxMotionTime)
			s.substate = saMonitorDock
		}
		if s.checkAction(flags.ResendMotionCommand) {
			s.substate = saCommandDock
		}

	case saMonitorDock:
		if !s.motionOngoing {
			s.substate = saSendMCBLP
		}

	case saSendMCBLP:
		s.mcbLowPower = false
		s.mcb.Send(link.Ascii(link.MCBGoLowPower))
		s.schedule(flags.ResendMCBLowPower, mcbResendTimeout)
		s.substate = saVerifyMCBLP

	case saVerifyMCBLP:
		if s.mcbLowPower {
			s.log.Info("MCB in low power for safety")
			s.substate = saSendS
		}
		if s.checkAction(flags.ResendMCBLowPower) {
			s.mcb.Send(link.Ascii(link.MCBGoLowPower))
			s.substate = saSendS // just skip to sending safety
		}

	case saSendS:
		s.log.Info("sending safety message")
		s.hw.SetSafe(true)
		s.sAck = NoAck
		s.zephyr.S()
		s.schedule(flags.ResendSafety, zephyrResendTimeout)
		s.substate = saAckWait

	case saAckWait:
		s.log.Debug("waiting on safety ack")
		if s.sAck == AckOK {
			s.sAck = NoAck
			s.substate = saLoop
		} else if s.sAck == AckNak {
			// a resend is already scheduled
			s.sAck = NoAck
		}
		if s.checkAction(flags.ResendSafety) {
			s.substate = saSendS
		}

	case saLoop:
		s.log.Debug("SA loop")
		s.hw.SetSafe(true)

	case SubError:
		s.log.Debug("SA error")

	case SubShutdown:
		s.log.Info("shutdown warning received in SA")

	case SubExit:
		s.hw.SetSafe(false)
		s.log.Info("exiting SA")

	default:
		s.log.Error("unknown substate in SA")
		s.substate = SubEntry
	}
}
