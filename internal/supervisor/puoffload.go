// Package supervisor — puoffload.go
//
// PUOffload sub-machine: drain the PU's stored profile records. Each pass
// re-checks the PU status, requests one record, downlinks it with a
// status-embedded detail string, waits for the TM ack (one retransmit),
// and loops until the PU reports no more records.

package supervisor

import (
	"fmt"

	"github.com/rachuts/pibd/internal/flags"
	"github.com/rachuts/pibd/internal/link"
)

type puOffloadState uint8

const (
	poEntry puOffloadState = iota
	poGetPUStatus
	poWaitPUStatus
	poRequestPacket
	poWaitPacket
	poTMAck
)

type puOffloadMachine struct {
	state           puOffloadState
	resendAttempted bool
	packetNum       uint8
}

func (m *puOffloadMachine) restart() { m.state = poEntry }

// step advances one substate; returns true when terminal.
func (m *puOffloadMachine) step(s *Supervisor) bool {
	switch m.state {
	case poEntry:
		m.resendAttempted = false
		m.packetNum = 0
		m.state = poGetPUStatus

	case poGetPUStatus:
		s.checkPU.restart()
		m.state = poWaitPUStatus

	case poWaitPUStatus:
		if s.checkPU.step(s) {
			m.state = poRequestPacket
		}

	case poRequestPacket:
		s.pu.Send(link.Ascii(link.PUSendProfileRecord))
		s.schedule(flags.ResendPURecord, puResendTimeout)
		s.recordReceived = false
		s.puNoMoreRecords = false
		m.state = poWaitPacket

	case poWaitPacket:
		if s.recordReceived { // ACK/NAK handled in the PU router
			s.recordReceived = false
			m.packetNum++
			s.log.Info(fmt.Sprintf("received profile record: %d", len(s.pendingRecord)))
			s.sendProfileTM(m.packetNum)
			m.state = poTMAck
			s.schedule(flags.ResendTM, zephyrResendTimeout)
			break
		} else if s.puNoMoreRecords {
			s.puNoMoreRecords = false
			s.log.Info("no more profile records")
			return true
		}

		if s.checkAction(flags.ResendPURecord) {
			if !m.resendAttempted {
				m.resendAttempted = true
				m.state = poRequestPacket
			} else {
				m.resendAttempted = false
				s.zephyrLogWarn("PU not successful in sending profile record")
				return true
			}
		}

	case poTMAck:
		if s.tmAck == AckOK {
			m.resendAttempted = false
			m.state = poGetPUStatus
		} else if s.tmAck == AckNak || s.checkAction(flags.ResendTM) {
			// attempt one resend; the transport still holds the message
			s.log.Error("needed to resend TM")
			s.zephyr.ResendTM()
			m.resendAttempted = false
			m.state = poGetPUStatus
		}

	default:
		return true
	}

	return false
}
