// Package telemetry — motion.go
//
// MCB motion telemetry buffering.
//
// During a motion the MCB streams fixed-size binary TM records. Two
// downlink modes:
//
//   Buffered (default): records accumulate locally and go down as one
//   telemetry message when the motion phase ends. Wire format:
//
//     [u32 BE profile-start epoch seconds]
//     then per record: [0xA5] [u16 BE tenths-of-seconds since start] [record]
//
//   Real-time: every record is downlinked immediately with no sync/time
//   framing; the epoch header still prefaces the first.
//
// The buffer is bounded; records that would overflow are dropped and
// counted, never partially written.

package telemetry

import "encoding/binary"

// MotionSyncByte separates buffered motion TM records.
const MotionSyncByte = 0xA5

// MotionBufferSize bounds the accumulated motion TM, matching the largest
// telemetry message the OBC accepts.
const MotionBufferSize = 8192

// MotionBuffer accumulates MCB motion TM records for one profile phase.
type MotionBuffer struct {
	buf     []byte
	counter uint16
	dropped int
}

// Reset clears the buffer and writes the profile-start epoch header. This
// happens in both modes; in real-time mode the header prefaces the first
// immediate packet.
func (b *MotionBuffer) Reset(startEpoch uint32) {
	b.buf = b.buf[:0]
	b.counter = 0
	b.dropped = 0
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], startEpoch)
	b.buf = append(b.buf, hdr[:]...)
}

// Append adds one motion TM record. elapsedTenths is the time since profile
// start in tenths of seconds; it is framed in only when realtime is false.
// Returns false when the record would overflow the buffer.
func (b *MotionBuffer) Append(record []byte, elapsedTenths uint16, realtime bool) bool {
	need := len(record)
	if !realtime {
		need += 3
	}
	if len(b.buf)+need > MotionBufferSize {
		b.dropped++
		return false
	}
	if !realtime {
		b.buf = append(b.buf, MotionSyncByte, byte(elapsedTenths>>8), byte(elapsedTenths))
	}
	b.buf = append(b.buf, record...)
	return true
}

// Take returns the buffered bytes and resets the buffer to empty (no new
// header; the next profile calls Reset).
func (b *MotionBuffer) Take() []byte {
	out := append([]byte(nil), b.buf...)
	b.buf = b.buf[:0]
	return out
}

// NextPacketNum increments and returns the per-motion packet counter, used
// to label real-time packets.
func (b *MotionBuffer) NextPacketNum() uint16 {
	b.counter++
	return b.counter
}

// Len returns the number of buffered bytes.
func (b *MotionBuffer) Len() int { return len(b.buf) }

// Dropped returns the number of records rejected on overflow.
func (b *MotionBuffer) Dropped() int { return b.dropped }
