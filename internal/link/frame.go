// Package link — frame.go
//
// Frame model for the PIB's three serial peers.
//
// The PIB talks to the MCB (motor control board), the PU (profiling unit)
// and the Zephyr OBC over independent framed serial channels. Low-level
// framing and CRC live in the device layer; this package deals in decoded
// frames: a type (ascii / ack / binary / string), a message id, and either a
// binary payload or a text body. ChecksumOK carries the device layer's
// verdict upward so handlers can reject corrupt status and record frames
// without re-parsing.
//
// Message id spaces are per peer. Commands and their acks share an id: an
// ack frame with ID=MCBReelOut acknowledges the reel-out command.

package link

import "fmt"

// FrameType classifies a decoded frame.
type FrameType uint8

const (
	FrameAscii FrameType = iota
	FrameAck
	FrameBinary
	FrameString
)

// String returns the frame type name.
func (t FrameType) String() string {
	switch t {
	case FrameAscii:
		return "ascii"
	case FrameAck:
		return "ack"
	case FrameBinary:
		return "binary"
	case FrameString:
		return "string"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Frame is one decoded message from (or to) a peer.
type Frame struct {
	Type       FrameType
	ID         uint8
	Payload    []byte // binary and parameterised ascii frames
	Text       string // string frames
	ChecksumOK bool
	Accept     bool // ack frames: true = ACK, false = NAK
}

// MCB message ids.
const (
	MCBMotionFinished uint8 = iota + 1
	MCBMotionFault
	MCBReelIn
	MCBReelOut
	MCBDock
	MCBInNoLW
	MCBFullRetract
	MCBCancelMotion
	MCBZeroReel
	MCBGoLowPower
	MCBGetEEPROM
	MCBInAcc
	MCBOutAcc
	MCBDockAcc
	MCBTempLimits
	MCBTorqueLimits
	MCBCurrLimits
	MCBIgnoreLimits
	MCBUseLimits
	MCBMotionTM
	MCBEEPROM
	MCBError
)

// PU message ids.
const (
	PUStatusMsg uint8 = iota + 1
	PUNoMoreRecords
	PUSendStatus
	PUSendTSENRecord
	PUSendProfileRecord
	PUGoWarmup
	PUGoProfile
	PUGoPreprofile
	PUReset
	PULoRaStatus
	PUTSENRecord
	PUProfileRecord
	PUError
)

// MotionTMSize is the fixed length of one MCB motion telemetry record.
const MotionTMSize = 25

// Link is one peer endpoint: inbound frames are drained with Next, outbound
// commands are Sent. Send returns false when the device layer cannot accept
// the frame (buffer full, port down).
type Link interface {
	// Next returns the next pending inbound frame, if any.
	Next() (Frame, bool)

	// Send queues an outbound frame.
	Send(f Frame) bool
}
