// Package supervisor — checkpu.go
//
// CheckPU sub-machine: request a fresh PU status and wait for the router to
// observe one. Freshness is detected by the status watermark moving, not by
// the reply itself, so a status that arrives for any other reason counts.
// One retry; a second timeout is a warning, not an error — the caller reads
// checkPUSuccess.

package supervisor

import (
	"github.com/rachuts/pibd/internal/flags"
	"github.com/rachuts/pibd/internal/link"
)

type checkPUState uint8

const (
	cpEntry checkPUState = iota
	cpSendRequest
	cpWaitRequest
)

type checkPUMachine struct {
	state           checkPUState
	resendAttempted bool
	lastStatus      uint32
}

func (m *checkPUMachine) restart() { m.state = cpEntry }

// step advances one substate; returns true when terminal.
func (m *checkPUMachine) step(s *Supervisor) bool {
	switch m.state {
	case cpEntry:
		s.log.Info("starting CheckPU flight state")
		m.resendAttempted = false
		s.checkPUSuccess = false
		m.lastStatus = s.puLastStatus
		m.state = cpSendRequest

	case cpSendRequest:
		s.pu.Send(link.Ascii(link.PUSendStatus))
		s.schedule(flags.ResendPUCheck, puResendTimeout)
		m.state = cpWaitRequest

	case cpWaitRequest:
		if m.lastStatus != s.puLastStatus {
			m.resendAttempted = false
			s.checkPUSuccess = true
			return true
		}

		if s.checkAction(flags.ResendPUCheck) {
			if !m.resendAttempted {
				m.resendAttempted = true
				m.state = cpSendRequest
			} else {
				m.resendAttempted = false
				s.zephyrLogWarn("PU not responding to status request")
				return true
			}
		}

	default:
		return true
	}

	return false
}
