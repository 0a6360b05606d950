// Package supervisor — mcb_router.go
//
// Motor Control Board message router and handlers.
//
// The router drains the MCB link until empty each tick, before the mode
// tick runs, so anything a handler sets is observable by the same tick's
// mode code.
//
// Dock fault policy: the MCB reports a completed dock through the
// loose-wire fault line, so a motion fault while dockOngoing is treated as
// a successful dock and downlinked nominally. A fault during any other
// motion is critical and latches MODE_ERROR. The fault registers do not
// distinguish the two cases further; the dockOngoing flag is the whole
// discriminator.

package supervisor

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/rachuts/pibd/internal/flags"
	"github.com/rachuts/pibd/internal/link"
)

// runMCBRouter drains and dispatches every pending MCB frame.
func (s *Supervisor) runMCBRouter() {
	for {
		f, ok := s.mcb.Next()
		if !ok {
			return
		}
		s.metrics.FramesTotal.WithLabelValues("mcb", f.Type.String()).Inc()

		switch f.Type {
		case link.FrameAscii:
			s.handleMCBAscii(f)
		case link.FrameAck:
			s.handleMCBAck(f)
		case link.FrameBinary:
			s.handleMCBBin(f)
		case link.FrameString:
			s.handleMCBString(f)
		default:
			s.log.Error("unknown message type from MCB")
		}
	}
}

// clearMotionTimeout drops the armed motion timeout, both the pending
// scheduler entry and an already-fired flag.
func (s *Supervisor) clearMotionTimeout() {
	s.sched.Cancel(flags.ActionMotionTimeout)
	s.flags.Consume(flags.ActionMotionTimeout)
}

func (s *Supervisor) handleMCBAscii(f link.Frame) {
	switch f.ID {
	case link.MCBMotionFinished:
		s.clearMotionTimeout()
		s.log.Info("MCB motion finished") // state machine reports to Zephyr
		s.motionOngoing = false

	case link.MCBMotionFault:
		s.clearMotionTimeout()
		// if already cleared, assume this is the repeat
		if !s.motionOngoing {
			return
		}

		regs, err := link.DecodeMotionFault(f)
		if err == nil {
			s.motionFault = regs
			if s.dockOngoing {
				s.metrics.MotionFaultsTotal.WithLabelValues("dock_assumed").Inc()
				s.sendMCBTM(link.FlagFine, fmt.Sprintf(
					"MCB: dock condition assumed: %x,%x,%x,%x,%x,%x,%x,%x",
					regs[0], regs[1], regs[2], regs[3], regs[4], regs[5], regs[6], regs[7]))
				s.dockOngoing = false
				s.motionOngoing = false
				return
			}

			s.motionOngoing = false
			s.metrics.MotionFaultsTotal.WithLabelValues("fault").Inc()
			s.sendMCBTM(link.FlagCrit, fmt.Sprintf(
				"MCB Fault: %x,%x,%x,%x,%x,%x,%x,%x",
				regs[0], regs[1], regs[2], regs[3], regs[4], regs[5], regs[6], regs[7]))
			s.requestError()
			return
		}

		if s.dockOngoing {
			s.metrics.MotionFaultsTotal.WithLabelValues("dock_assumed").Inc()
			s.sendMCBTM(link.FlagFine, "MCB dock detected: error receiving expected fault info")
			s.dockOngoing = false
			s.motionOngoing = false
			return
		}
		s.motionOngoing = false
		s.metrics.MotionFaultsTotal.WithLabelValues("fault").Inc()
		s.sendMCBTM(link.FlagCrit, "MCB Fault: error receiving parameters")
		s.requestError()

	default:
		s.log.Error("unknown MCB ASCII message received", zap.Uint8("id", f.ID))
	}
}

func (s *Supervisor) handleMCBAck(f link.Frame) {
	switch f.ID {
	case link.MCBGoLowPower:
		s.log.Info("MCB in low power")
		s.mcbLowPower = true
	case link.MCBReelIn:
		if s.motion == MotionReelIn {
			s.noteProfileStart()
		}
	case link.MCBReelOut:
		if s.motion == MotionReelOut {
			s.noteProfileStart()
		}
	case link.MCBDock:
		if s.motion == MotionDock {
			s.noteProfileStart()
		}
	case link.MCBInNoLW:
		if s.motion == MotionInNoLW {
			s.noteProfileStart()
		}
	case link.MCBFullRetract:
		s.mcbReelingIn = true
	case link.MCBInAcc:
		s.zephyrLogFine("MCB acked retract acc")
	case link.MCBOutAcc:
		s.zephyrLogFine("MCB acked deploy acc")
	case link.MCBDockAcc:
		s.zephyrLogFine("MCB acked dock acc")
	case link.MCBZeroReel:
		s.zephyrLogFine("MCB acked zero reel")
	case link.MCBTempLimits:
		s.zephyrLogFine("MCB acked temp limits")
	case link.MCBTorqueLimits:
		s.zephyrLogFine("MCB acked torque limits")
	case link.MCBCurrLimits:
		s.zephyrLogFine("MCB acked curr limits")
	case link.MCBIgnoreLimits:
		s.zephyrLogFine("MCB acked ignore limits")
	case link.MCBUseLimits:
		s.zephyrLogFine("MCB acked use limits")
	default:
		s.log.Error("unknown MCB ack received", zap.Uint8("id", f.ID))
	}
}

func (s *Supervisor) handleMCBBin(f link.Frame) {
	switch f.ID {
	case link.MCBMotionTM:
		s.addMCBTM(f.Payload)
	case link.MCBEEPROM:
		// forward the MCB's EEPROM dump upstream
		s.tmAck = NoAck
		s.sendTM(link.FlagFine, "MCB EEPROM Contents", f.Payload)
		s.log.Info("sent MCB EEPROM as TM")
	default:
		s.log.Error("unknown MCB bin received", zap.Uint8("id", f.ID))
	}
}

func (s *Supervisor) handleMCBString(f link.Frame) {
	switch f.ID {
	case link.MCBError:
		s.zephyrLogCrit(f.Text)
		s.requestError()
	default:
		s.log.Error("unknown MCB string message received", zap.Uint8("id", f.ID))
	}
}
