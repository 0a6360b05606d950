// Package supervisor — tsen.go
//
// TSEN sub-machine: check the PU, pull TSEN records one at a time, downlink
// each as a TM, loop until the PU reports no more records.
//
// Pre-emption: in manual mode a pending ACTION_OVERRIDE_TSEN kills the
// fetch (a ground command wants the PU); in autonomous mode a pending
// ACTION_BEGIN_PROFILE wins — the flag is re-posted for FLA_WAIT_PROFILE
// and the fetch ends immediately.

package supervisor

import (
	"fmt"

	"github.com/rachuts/pibd/internal/flags"
	"github.com/rachuts/pibd/internal/link"
)

type tsenState uint8

const (
	tsEntry tsenState = iota
	tsGetPUStatus
	tsRequestTSEN
	tsWaitTSEN
	tsTMAck
)

type tsenMachine struct {
	state           tsenState
	resendAttempted bool
}

func (m *tsenMachine) restart() { m.state = tsEntry }

// step advances one substate; returns true when terminal.
func (m *tsenMachine) step(s *Supervisor) bool {
	// TSEN is overrideable: by command in manual, by profile time in
	// autonomous.
	if !s.autonomousMode && s.checkAction(flags.ActionOverrideTSEN) {
		return true
	} else if s.autonomousMode && s.checkAction(flags.ActionBeginProfile) {
		s.setAction(flags.ActionBeginProfile)
		return true
	}

	switch m.state {
	case tsEntry:
		m.resendAttempted = false
		s.checkPU.restart()
		m.state = tsGetPUStatus

	case tsGetPUStatus:
		if s.checkPU.step(s) {
			m.state = tsRequestTSEN
		}

	case tsRequestTSEN:
		s.pu.Send(link.Ascii(link.PUSendTSENRecord))
		s.schedule(flags.ResendPUTSEN, puResendTimeout)
		s.tsenReceived = false
		s.puNoMoreRecords = false
		m.state = tsWaitTSEN

	case tsWaitTSEN:
		if s.tsenReceived { // ACK/NAK handled in the PU router
			s.tsenReceived = false
			s.log.Info(fmt.Sprintf("received TSEN: %d", len(s.pendingRecord)))
			s.sendTSENTM()
			m.state = tsTMAck
			s.schedule(flags.ResendTM, zephyrResendTimeout)
			break
		} else if s.puNoMoreRecords {
			s.puNoMoreRecords = false
			s.log.Info("no more TSEN records")
			return true
		}

		if s.checkAction(flags.ResendPUTSEN) {
			if !m.resendAttempted {
				m.resendAttempted = true
				m.state = tsRequestTSEN
			} else {
				m.resendAttempted = false
				s.zephyrLogWarn("PU not successful in sending TSEN")
				return true
			}
		}

	case tsTMAck:
		if s.tmAck == AckOK {
			m.state = tsEntry
		} else if s.tmAck == AckNak || s.checkAction(flags.ResendTM) {
			// attempt one resend; the transport still holds the message
			s.log.Error("needed to resend TM")
			s.zephyr.ResendTM()
			m.state = tsEntry
		}

	default:
		return true
	}

	return false
}
