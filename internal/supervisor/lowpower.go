// Package supervisor — lowpower.go
//
// Low power mode: push the MCB into low power (with resend until acked),
// then idle.

package supervisor

import (
	"github.com/rachuts/pibd/internal/flags"
	"github.com/rachuts/pibd/internal/link"
)

const (
	lpAlertMCB = subModeBase + iota
	lpCheckMCB
	lpLoop
)

func (s *Supervisor) lowPowerMode() {
	switch s.substate {
	case SubEntry:
		s.log.Info("entering LP")
		s.substate = lpAlertMCB

	case lpAlertMCB:
		s.log.Info("commanding MCB low power")
		s.mcb.Send(link.Ascii(link.MCBGoLowPower))
		s.schedule(flags.ResendMCBLowPower, mcbResendTimeout)
		s.substate = lpCheckMCB

	case lpCheckMCB:
		s.log.Debug("waiting on MCB LP ack")
		if s.mcbLowPower {
			s.mcbLowPower = false
			s.substate = lpLoop
		} else if s.checkAction(flags.ResendMCBLowPower) {
			s.substate = lpAlertMCB
		}

	case lpLoop:
		s.log.Debug("LP loop")

	case SubError:
		s.log.Debug("LP error")

	case SubShutdown:
		s.log.Info("shutdown warning received in LP")

	case SubExit:
		s.log.Info("exiting LP")

	default:
		s.log.Error("unknown substate in LP")
		s.substate = SubEntry
	}
}
