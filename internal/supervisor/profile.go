// Package supervisor — profile.go
//
// Profile sub-machine: the full atmospheric profile sequence.
//
//	RA handshake → PU warmup → TSEN fetch → PU profile command →
//	preprofile dwell → reel out → dwell → reel in → dock wait → dock →
//	PU status → dock verification (redock loop, bounded) → zero reel →
//	MCB low power
//
// The reel motions run through the shared start/verify/monitor template at
// the bottom of the switch; pmMonitorMotion branches per motion kind when
// the motion finishes. Dock verification trusts the wired-channel contract:
// any PU frame marks pu_docked, so a dock that produced no PU traffic did
// not seat the connector and earns a redock, up to num_redock attempts.

package supervisor

import (
	"fmt"
	"time"

	"github.com/rachuts/pibd/internal/flags"
	"github.com/rachuts/pibd/internal/link"
)

// dockWaitGrace is the fallback delay between reel-in completion and the
// dock command when no motion-timeout flag arrives first.
const dockWaitGrace = 60 * time.Second

type profileState uint8

const (
	pmEntry profileState = iota
	pmSendRA
	pmWaitRAAck
	pmHousekeepingCheck
	pmSetPUWarmup
	pmConfirmPUWarmup
	pmWarmup
	pmGetTSEN
	pmSetPUProfile
	pmConfirmPUProfile
	pmPreprofileWait
	pmReelOut
	pmDwell
	pmReelIn
	pmDockWait
	pmDock
	pmGetPUStatus
	pmVerifyDock
	pmZeroReel
	pmRedock
	pmStartMotion
	pmVerifyMotion
	pmMonitorMotion
	pmConfirmMCBLP
)

type profileMachine struct {
	state           profileState
	resendAttempted bool
	redockCount     uint8
}

func (m *profileMachine) restart() { m.state = pmEntry }

// step advances one substate.
func (m *profileMachine) step(s *Supervisor) stepResult {
	p := &s.cfg.Profiler

	switch m.state {
	case pmEntry, pmSendRA:
		s.raAck = NoAck
		s.zephyr.RA()
		m.state = pmWaitRAAck
		s.schedule(flags.ResendRA, zephyrResendTimeout)
		s.log.Info("sending RA")

	case pmWaitRAAck:
		if p.RAOverride { // emergency or test override
			s.raAck = AckOK
		}
		s.log.Debug("FLA wait RA ack")
		if s.raAck == AckOK {
			m.state = pmHousekeepingCheck
			m.resendAttempted = false
			s.log.Info("RA ACK")
		} else if s.raAck == AckNak {
			s.zephyrLogWarn("Cannot perform motion, RA NAK")
			m.resendAttempted = false
			return stepDone
		} else if s.checkAction(flags.ResendRA) {
			if !m.resendAttempted {
				m.resendAttempted = true
				m.state = pmSendRA
			} else {
				s.zephyrLogWarn("Never received RAAck")
				m.resendAttempted = false
				return stepDone
			}
		}

	case pmHousekeepingCheck:
		m.state = pmSetPUWarmup
		m.resendAttempted = false

	case pmSetPUWarmup:
		s.puWarmup = false
		s.pu.Send(link.WarmupFrame(link.WarmupCommand{
			FlashTemp:   p.FlashTemp,
			Heater1Temp: p.Heater1Temp,
			Heater2Temp: p.Heater2Temp,
			FlashPower:  p.FlashPower,
			TSENPower:   p.TSENPower,
		}))
		s.schedule(flags.ResendPUWarmup, puResendTimeout)
		m.state = pmConfirmPUWarmup

	case pmConfirmPUWarmup:
		if s.puWarmup {
			m.state = pmWarmup
			s.schedule(flags.ActionEndWarmup, time.Duration(p.PUWarmupTime)*time.Second)
		} else if s.checkAction(flags.ResendPUWarmup) {
			if !m.resendAttempted {
				m.resendAttempted = true
				m.state = pmSetPUWarmup
			} else {
				m.resendAttempted = false
				s.zephyrLogWarn("PU not responding to warmup command")
				return stepDone
			}
		}

	case pmWarmup:
		if s.checkAction(flags.ActionEndWarmup) {
			s.tsen.restart()
			m.state = pmGetTSEN
		}

	case pmGetTSEN:
		if s.tsen.step(s) {
			m.state = pmSetPUProfile
		}

	case pmSetPUProfile:
		s.retractLength = p.ProfileSize - p.DockAmount
		s.deployLength = p.ProfileSize
		s.dockLength = p.DockAmount + p.DockOvershoot
		s.puProfile = false
		s.puStartProfile(m.trigger(s))
		s.schedule(flags.ResendPUGoProfile, puResendTimeout)
		m.state = pmConfirmPUProfile

	case pmConfirmPUProfile:
		if s.puProfile {
			m.state = pmPreprofileWait
			s.schedule(flags.ActionEndPreprofile, time.Duration(p.PreprofileTime)*time.Second)
		} else if s.checkAction(flags.ResendPUGoProfile) {
			if !m.resendAttempted {
				m.resendAttempted = true
				m.state = pmSetPUProfile
			} else {
				m.resendAttempted = false
				s.zephyrLogWarn("PU not responding to profile command")
				return stepDone
			}
		}

	case pmPreprofileWait:
		if s.checkAction(flags.ActionEndPreprofile) {
			m.state = pmReelOut
			m.resendAttempted = false
		}

	case pmReelOut:
		s.log.Debug("FLA reel out")
		s.motion = MotionReelOut
		m.state = pmStartMotion
		m.resendAttempted = false

	case pmReelIn:
		s.log.Debug("FLA reel in")
		s.motion = MotionReelIn
		m.state = pmStartMotion
		m.resendAttempted = false

	case pmDockWait:
		// a motion-timeout flag or the backup action, whichever first
		if s.checkAction(flags.ActionMotionTimeout) || s.checkAction(flags.ActionEndDockWait) {
			m.state = pmDock
		}

	case pmDock:
		s.log.Debug("FLA dock")
		s.motion = MotionDock
		m.state = pmStartMotion
		m.resendAttempted = false

	case pmGetPUStatus:
		if s.checkPU.step(s) {
			m.state = pmVerifyDock
		}

	case pmVerifyDock:
		if p.PUDocked {
			s.mcb.Send(link.Ascii(link.MCBZeroReel))
			m.state = pmZeroReel
		} else {
			m.redockCount++
			if m.redockCount == p.NumRedock+1 {
				s.zephyrLogCrit("No dock! Exceeded allowable number of redock attempts")
				return stepError
			}
			s.deployLength = p.RedockOut
			s.retractLength = p.RedockIn
			s.redock.restart()
			m.state = pmRedock
		}

	case pmZeroReel:
		s.mcb.Send(link.Ascii(link.MCBGoLowPower))
		s.schedule(flags.ResendMCBLowPower, mcbResendTimeout)
		m.state = pmConfirmMCBLP

	case pmRedock:
		switch s.redock.step(s) {
		case stepDone:
			s.checkPU.restart()
			m.state = pmGetPUStatus
		case stepError:
			return stepError
		}

	case pmStartMotion:
		s.log.Debug("FLA start motion")
		if s.motionOngoing {
			s.zephyrLogWarn("Motion commanded while motion ongoing")
			return stepError
		}

		if s.startMCBMotion() {
			m.state = pmVerifyMotion
			s.schedule(flags.ResendMotionCommand, mcbResendTimeout)
		} else {
			s.zephyrLogWarn("Motion start error")
			return stepError
		}

	case pmVerifyMotion:
		s.log.Debug("FLA verify motion")
		if s.motionOngoing { // set in the ack handler
			s.log.Info("MCB commanded motion")
			s.schedule(flags.ActionMotionTimeout, s.maxMotionTime)
			m.state = pmMonitorMotion
		}

		if s.checkAction(flags.ResendMotionCommand) {
			if !m.resendAttempted {
				m.resendAttempted = true
				m.state = pmStartMotion
			} else {
				m.resendAttempted = false
				s.zephyrLogWarn("MCB never confirmed motion")
				return stepError
			}
		}

	case pmMonitorMotion:
		s.log.Debug("FLA monitor motion")

		if s.checkAction(flags.ActionMotionStop) {
			s.zephyrLogWarn("Commanded motion stop in autonomous")
			return stepError
		}

		if s.checkAction(flags.ActionMotionTimeout) {
			s.sendMCBTM(link.FlagCrit, "MCB Motion took longer than expected")
			s.metrics.MotionTimeoutsTotal.Inc()
			s.cancelMotion()
			return stepError
		}

		if !s.motionOngoing {
			s.log.Info("motion complete")
			switch s.motion {
			case MotionReelOut:
				s.sendMCBTM(link.FlagFine, "Finished profile reel out")
				if s.schedule(flags.ActionEndDwell, time.Duration(p.DwellTime)*time.Second) {
					s.log.Info(fmt.Sprintf("scheduled dwell: %d s", p.DwellTime))
					m.state = pmDwell
				} else {
					s.zephyrLogCrit("Unable to schedule dwell")
					return stepError
				}
			case MotionReelIn:
				s.sendMCBTM(link.FlagFine, "Finished profile reel in")
				s.schedule(flags.ActionEndDockWait, dockWaitGrace)
				m.state = pmDockWait
			case MotionDock:
				// the dock TM went down in the MCB fault handler
				m.redockCount = 0
				s.checkPU.restart()
				m.state = pmGetPUStatus
			default:
				s.sendMCBTM(link.FlagCrit, "Unknown motion finished in profile monitor")
				return stepError
			}
		}

	case pmDwell:
		s.log.Debug("FLA dwell")
		if s.checkAction(flags.ActionEndDwell) {
			s.log.Info("finished dwell")
			m.state = pmReelIn
		}

	case pmConfirmMCBLP:
		if s.mcbLowPower {
			s.log.Info("profile finished, MCB in low power")
			s.mcbLowPower = false
			s.noteProfileComplete(m.redockCount)
			if p.PUAutoOffload {
				s.log.Info("begin automatic PU offload")
				s.setAction(flags.ActionOffloadPU)
				s.setAction(flags.ActionOverrideTSEN)
			}
			return stepDone
		} else if s.checkAction(flags.ResendMCBLowPower) {
			if !m.resendAttempted {
				m.resendAttempted = true
				s.mcb.Send(link.Ascii(link.MCBGoLowPower))
			} else {
				m.resendAttempted = false
				s.zephyrLogWarn("MCB never powered off after profile")
				return stepError
			}
		}

	default:
		return stepDone
	}

	return stepContinue
}

// trigger labels the ledger entry with what started this profile.
func (m *profileMachine) trigger(s *Supervisor) string {
	switch {
	case !s.autonomousMode:
		return "manual"
	case s.cfg.Profiler.SZATrigger:
		return "sza"
	default:
		return "time"
	}
}
