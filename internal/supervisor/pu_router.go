// Package supervisor — pu_router.go
//
// Profiling Unit message router and handlers.
//
// Every frame drained here arrived over the wired PU channel, which only
// works docked — so the router marks the PU docked and powered before
// dispatching anything. That physical contract is what the profile
// sequencer's VERIFY_DOCK leans on.

package supervisor

import (
	"go.uber.org/zap"

	"github.com/rachuts/pibd/internal/link"
)

// runPURouter drains and dispatches every pending PU frame.
func (s *Supervisor) runPURouter() {
	for {
		f, ok := s.pu.Next()
		if !ok {
			return
		}
		s.puDock()
		s.metrics.FramesTotal.WithLabelValues("pu", f.Type.String()).Inc()

		switch f.Type {
		case link.FrameAscii:
			s.handlePUAscii(f)
		case link.FrameAck:
			s.handlePUAck(f)
		case link.FrameBinary:
			s.handlePUBin(f)
		case link.FrameString:
			s.handlePUString(f)
		default:
			s.log.Error("unknown message type from PU")
		}
	}
}

func (s *Supervisor) handlePUAscii(f link.Frame) {
	switch f.ID {
	case link.PUStatusMsg:
		st, err := link.DecodePUStatus(f)
		if !f.ChecksumOK || err != nil {
			s.puStatus = link.PUStatus{}
			return
		}
		s.puStatus = st
		s.puLastStatus = uint32(s.clock.Now().Unix())

	case link.PUNoMoreRecords:
		s.puNoMoreRecords = true

	default:
		s.log.Error("unknown PU ASCII message received", zap.Uint8("id", f.ID))
	}
}

func (s *Supervisor) handlePUAck(f link.Frame) {
	switch f.ID {
	case link.PUGoWarmup:
		s.log.Info("PU in warmup")
		s.puWarmup = true
	case link.PUGoProfile:
		s.log.Info("PU in profile")
		s.puProfile = true
	case link.PUGoPreprofile:
		s.log.Info("PU in preprofile")
		s.puPreprofile = true
	case link.PUReset:
		s.zephyrLogFine("PU acked reset")
	default:
		s.log.Error("unknown PU ack received", zap.Uint8("id", f.ID))
	}
}

func (s *Supervisor) handlePUBin(f link.Frame) {
	switch f.ID {
	case link.PUTSENRecord:
		if f.ChecksumOK && s.bufferPURecord(f.Payload) {
			s.tsenReceived = true
			s.pu.Send(link.Ack(link.PUTSENRecord, true))
		} else {
			s.log.Error("TSEN checksum invalid or error adding to TM buffer")
			s.pu.Send(link.Ack(link.PUTSENRecord, false))
			s.pendingRecord = nil
		}

	case link.PUProfileRecord:
		if f.ChecksumOK && s.bufferPURecord(f.Payload) {
			s.recordReceived = true
			s.pu.Send(link.Ack(link.PUProfileRecord, true))
		} else {
			s.log.Error("profile record checksum invalid or error adding to TM buffer")
			s.pu.Send(link.Ack(link.PUProfileRecord, false))
			s.pendingRecord = nil
		}

	default:
		s.log.Error("unknown PU bin received", zap.Uint8("id", f.ID))
	}
}

// bufferPURecord stages one PU record for the next TM; a record too large
// for a telemetry message is rejected so the PU renegotiates.
func (s *Supervisor) bufferPURecord(payload []byte) bool {
	if len(payload) == 0 || len(payload) > maxPURecord {
		return false
	}
	s.pendingRecord = append([]byte(nil), payload...)
	return true
}

// maxPURecord bounds a single PU record to what one TM can carry.
const maxPURecord = 8192

func (s *Supervisor) handlePUString(f link.Frame) {
	switch f.ID {
	case link.PUError:
		s.zephyrLogCrit(f.Text)
		s.requestError()
	default:
		s.log.Error("unknown PU string message received", zap.Uint8("id", f.ID))
	}
}
