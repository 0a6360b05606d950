// Package supervisor — standby.go
//
// Standby mode: wait for the OBC to pick a flight mode, nudging it with a
// mode request every minute.

package supervisor

import (
	"time"

	"github.com/rachuts/pibd/internal/flags"
)

const sbLoop = subModeBase

// imrPeriod is the mode-request cadence while in standby.
const imrPeriod = 60 * time.Second

func (s *Supervisor) standbyMode() {
	switch s.substate {
	case SubEntry:
		s.log.Info("entering SB")
		// send mode request in first loop
		s.schedule(flags.SendIMR, 0)
		s.substate = sbLoop

	case sbLoop:
		s.log.Debug("SB loop")
		if s.checkAction(flags.SendIMR) {
			s.log.Info("sending mode request to OBC")
			s.zephyr.IMR()
			s.schedule(flags.SendIMR, imrPeriod)
		}

	case SubError:
		s.log.Debug("SB error")

	case SubShutdown:
		s.log.Info("shutdown warning received in SB")

	case SubExit:
		s.log.Info("exiting SB")

	default:
		s.log.Error("unknown substate in SB")
		s.substate = SubEntry
	}
}
