// Package supervisor — dockedprofile.go
//
// DockedProfile sub-machine: run the PU's instruments without deploying —
// warmup, a TSEN fetch, then a profile command parameterised for the docked
// case (short dwell and ascent, LoRa off) and a fixed-duration wait.
//
// The PU has no dedicated docked-sampling command; the profile command is
// reused with the descent window set to the docked duration less a fixed
// preamble. The preamble and the 5 s dwell/ascent stubs are inherited from
// the flight unit and kept as named constants.

package supervisor

import (
	"time"

	"github.com/rachuts/pibd/internal/flags"
	"github.com/rachuts/pibd/internal/link"
)

// Docked profile command shape (see package comment).
const (
	dockedPreamble    = 10 // seconds subtracted from the sampling window
	dockedStubSeconds = 5  // dwell and ascent stubs
	dockedDwellRate   = 1
)

type dockedProfileState uint8

const (
	dpEntry dockedProfileState = iota
	dpSetPUWarmup
	dpConfirmPUWarmup
	dpWarmup
	dpGetTSEN
	dpSetPUPreprofile
	dpConfirmPUPreprofile
	dpPreprofileWait
)

type dockedProfileMachine struct {
	state           dockedProfileState
	resendAttempted bool
}

func (m *dockedProfileMachine) restart() { m.state = dpEntry }

// step advances one substate; returns true when terminal.
func (m *dockedProfileMachine) step(s *Supervisor) bool {
	p := &s.cfg.Profiler

	switch m.state {
	case dpEntry, dpSetPUWarmup:
		s.puWarmup = false
		s.pu.Send(link.WarmupFrame(link.WarmupCommand{
			FlashTemp:   p.FlashTemp,
			Heater1Temp: p.Heater1Temp,
			Heater2Temp: p.Heater2Temp,
			FlashPower:  p.FlashPower,
			TSENPower:   p.TSENPower,
		}))
		s.schedule(flags.ResendPUWarmup, puResendTimeout)
		m.state = dpConfirmPUWarmup

	case dpConfirmPUWarmup:
		if s.puWarmup {
			m.state = dpWarmup
			s.schedule(flags.ActionEndWarmup, time.Duration(p.PUWarmupTime)*time.Second)
		} else if s.checkAction(flags.ResendPUWarmup) {
			if !m.resendAttempted {
				m.resendAttempted = true
				m.state = dpSetPUWarmup
			} else {
				m.resendAttempted = false
				s.zephyrLogWarn("PU not responding to warmup command")
				return true
			}
		}

	case dpWarmup:
		if s.checkAction(flags.ActionEndWarmup) {
			s.tsen.restart()
			m.state = dpGetTSEN
		}

	case dpGetTSEN:
		if s.tsen.step(s) {
			m.state = dpSetPUPreprofile
		}

	case dpSetPUPreprofile:
		s.puProfile = false
		s.pu.Send(link.ProfileFrame(link.ProfileCommand{
			DownSeconds:  int32(s.dockedProfileTime) - dockedPreamble,
			DwellSeconds: dockedStubSeconds,
			UpSeconds:    dockedStubSeconds,
			ProfileRate:  p.DockedRate,
			DwellRate:    dockedDwellRate,
			TSEN:         p.DockedTSEN,
			ROPC:         p.DockedROPC,
			FLASH:        p.DockedFLASH,
			LoRaTM:       false,
		}))
		s.schedule(flags.ResendPUGoProfile, puResendTimeout)
		m.state = dpConfirmPUPreprofile

	case dpConfirmPUPreprofile:
		if s.puProfile {
			m.state = dpPreprofileWait
			s.schedule(flags.ActionEndPreprofile, time.Duration(s.dockedProfileTime)*time.Second)
		} else if s.checkAction(flags.ResendPUGoProfile) {
			if !m.resendAttempted {
				m.resendAttempted = true
				m.state = dpSetPUPreprofile
			} else {
				m.resendAttempted = false
				s.zephyrLogWarn("PU not responding to profile command")
				return true
			}
		}

	case dpPreprofileWait:
		if s.checkAction(flags.ActionEndPreprofile) {
			s.zephyrLogFine("Finished docked profile")
			if p.PUAutoOffload {
				s.log.Info("begin automatic PU offload")
				s.setAction(flags.ActionOffloadPU)
				s.setAction(flags.ActionOverrideTSEN)
			}
			return true
		}

	default:
		return true
	}

	return false
}
