// Package supervisor — endofflight.go
//
// End of flight mode: cancel any motion, park the MCB in low power, idle
// until cutdown.

package supervisor

import "github.com/rachuts/pibd/internal/link"

const efLoop = subModeBase

func (s *Supervisor) endOfFlightMode() {
	switch s.substate {
	case SubEntry:
		s.log.Info("entering EF")
		s.cancelMotion()
		s.mcb.Send(link.Ascii(link.MCBGoLowPower))
		s.substate = efLoop

	case efLoop:
		s.log.Debug("EF loop")

	case SubError:
		s.log.Debug("EF error")

	case SubShutdown:
		s.log.Info("shutdown warning received in EF")

	case SubExit:
		s.log.Info("exiting EF")

	default:
		s.log.Error("unknown substate in EF")
		s.substate = SubEntry
	}
}
