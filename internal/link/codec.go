// Package link — codec.go
//
// Frame constructors and payload codecs.
//
// Payload layouts are fixed big-endian structs. These helpers are shared by
// the supervisor (outbound commands, inbound decoding), the simulator
// (peer side), and the tests; keeping both directions here means a layout
// change cannot drift between them.

package link

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Ascii returns a bare ascii frame with no parameters.
func Ascii(id uint8) Frame {
	return Frame{Type: FrameAscii, ID: id, ChecksumOK: true}
}

// Ack returns an acknowledgement frame for the given command id.
func Ack(id uint8, accept bool) Frame {
	return Frame{Type: FrameAck, ID: id, Accept: accept, ChecksumOK: true}
}

// ErrorString returns a peer error string frame.
func ErrorString(id uint8, text string) Frame {
	return Frame{Type: FrameString, ID: id, Text: text, ChecksumOK: true}
}

// ── Motion commands (PIB → MCB) ──────────────────────────────────────────────

// MotionCommand builds a reel-in/reel-out/dock/in-no-LW command frame.
// length is in revolutions, velocity in rpm.
func MotionCommand(id uint8, length, velocity float32) Frame {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint32(buf[0:], math.Float32bits(length))
	binary.BigEndian.PutUint32(buf[4:], math.Float32bits(velocity))
	return Frame{Type: FrameAscii, ID: id, Payload: buf, ChecksumOK: true}
}

// DecodeMotionCommand returns the (length, velocity) of a motion command.
func DecodeMotionCommand(f Frame) (float32, float32, error) {
	if len(f.Payload) != 8 {
		return 0, 0, fmt.Errorf("motion command payload: %d bytes, want 8", len(f.Payload))
	}
	l := math.Float32frombits(binary.BigEndian.Uint32(f.Payload[0:]))
	v := math.Float32frombits(binary.BigEndian.Uint32(f.Payload[4:]))
	return l, v, nil
}

// ── Motion fault (MCB → PIB) ─────────────────────────────────────────────────

// MotionFault builds an MCB motion fault frame from the eight fault
// registers.
func MotionFault(regs [8]uint16) Frame {
	buf := make([]byte, 16)
	for i, r := range regs {
		binary.BigEndian.PutUint16(buf[2*i:], r)
	}
	return Frame{Type: FrameAscii, ID: MCBMotionFault, Payload: buf, ChecksumOK: true}
}

// DecodeMotionFault returns the eight fault registers of a motion fault
// frame.
func DecodeMotionFault(f Frame) ([8]uint16, error) {
	var regs [8]uint16
	if len(f.Payload) != 16 {
		return regs, fmt.Errorf("motion fault payload: %d bytes, want 16", len(f.Payload))
	}
	for i := range regs {
		regs[i] = binary.BigEndian.Uint16(f.Payload[2*i:])
	}
	return regs, nil
}

// ── PU status (PU → PIB) ─────────────────────────────────────────────────────

// PUStatus is the parsed body of a PU status frame.
type PUStatus struct {
	Time       uint32 // PU wall clock, epoch seconds
	VBattery   float32
	ICharge    float32
	Therm1     float32
	Therm2     float32
	HeaterStat uint8
}

// StatusFrame encodes a PU status frame.
func StatusFrame(st PUStatus) Frame {
	buf := make([]byte, 21)
	binary.BigEndian.PutUint32(buf[0:], st.Time)
	binary.BigEndian.PutUint32(buf[4:], math.Float32bits(st.VBattery))
	binary.BigEndian.PutUint32(buf[8:], math.Float32bits(st.ICharge))
	binary.BigEndian.PutUint32(buf[12:], math.Float32bits(st.Therm1))
	binary.BigEndian.PutUint32(buf[16:], math.Float32bits(st.Therm2))
	buf[20] = st.HeaterStat
	return Frame{Type: FrameAscii, ID: PUStatusMsg, Payload: buf, ChecksumOK: true}
}

// DecodePUStatus parses a PU status frame body.
func DecodePUStatus(f Frame) (PUStatus, error) {
	var st PUStatus
	if len(f.Payload) != 21 {
		return st, fmt.Errorf("PU status payload: %d bytes, want 21", len(f.Payload))
	}
	st.Time = binary.BigEndian.Uint32(f.Payload[0:])
	st.VBattery = math.Float32frombits(binary.BigEndian.Uint32(f.Payload[4:]))
	st.ICharge = math.Float32frombits(binary.BigEndian.Uint32(f.Payload[8:]))
	st.Therm1 = math.Float32frombits(binary.BigEndian.Uint32(f.Payload[12:]))
	st.Therm2 = math.Float32frombits(binary.BigEndian.Uint32(f.Payload[16:]))
	st.HeaterStat = f.Payload[20]
	return st, nil
}

// ── PU warmup command (PIB → PU) ─────────────────────────────────────────────

// WarmupCommand parameterises the PU heater and sensor warmup.
type WarmupCommand struct {
	FlashTemp   float32
	Heater1Temp float32
	Heater2Temp float32
	FlashPower  uint8
	TSENPower   uint8
}

// WarmupFrame encodes a PU warmup command.
func WarmupFrame(c WarmupCommand) Frame {
	buf := make([]byte, 14)
	binary.BigEndian.PutUint32(buf[0:], math.Float32bits(c.FlashTemp))
	binary.BigEndian.PutUint32(buf[4:], math.Float32bits(c.Heater1Temp))
	binary.BigEndian.PutUint32(buf[8:], math.Float32bits(c.Heater2Temp))
	buf[12] = c.FlashPower
	buf[13] = c.TSENPower
	return Frame{Type: FrameAscii, ID: PUGoWarmup, Payload: buf, ChecksumOK: true}
}

// DecodeWarmup parses a PU warmup command body.
func DecodeWarmup(f Frame) (WarmupCommand, error) {
	var c WarmupCommand
	if len(f.Payload) != 14 {
		return c, fmt.Errorf("warmup payload: %d bytes, want 14", len(f.Payload))
	}
	c.FlashTemp = math.Float32frombits(binary.BigEndian.Uint32(f.Payload[0:]))
	c.Heater1Temp = math.Float32frombits(binary.BigEndian.Uint32(f.Payload[4:]))
	c.Heater2Temp = math.Float32frombits(binary.BigEndian.Uint32(f.Payload[8:]))
	c.FlashPower = f.Payload[12]
	c.TSENPower = f.Payload[13]
	return c, nil
}

// ── PU profile command (PIB → PU) ────────────────────────────────────────────

// ProfileCommand parameterises a PU profile: descent, dwell, and ascent
// durations plus sampling rates and instrument enables.
type ProfileCommand struct {
	DownSeconds  int32
	DwellSeconds uint16
	UpSeconds    int32
	ProfileRate  uint32
	DwellRate    uint32
	TSEN         uint8
	ROPC         uint8
	FLASH        uint8
	LoRaTM       bool
}

// ProfileFrame encodes a PU go-profile command.
func ProfileFrame(c ProfileCommand) Frame {
	buf := make([]byte, 22)
	binary.BigEndian.PutUint32(buf[0:], uint32(c.DownSeconds))
	binary.BigEndian.PutUint16(buf[4:], c.DwellSeconds)
	binary.BigEndian.PutUint32(buf[6:], uint32(c.UpSeconds))
	binary.BigEndian.PutUint32(buf[10:], c.ProfileRate)
	binary.BigEndian.PutUint32(buf[14:], c.DwellRate)
	buf[18] = c.TSEN
	buf[19] = c.ROPC
	buf[20] = c.FLASH
	if c.LoRaTM {
		buf[21] = 1
	}
	return Frame{Type: FrameAscii, ID: PUGoProfile, Payload: buf, ChecksumOK: true}
}

// DecodeProfile parses a PU go-profile command body.
func DecodeProfile(f Frame) (ProfileCommand, error) {
	var c ProfileCommand
	if len(f.Payload) != 22 {
		return c, fmt.Errorf("profile payload: %d bytes, want 22", len(f.Payload))
	}
	c.DownSeconds = int32(binary.BigEndian.Uint32(f.Payload[0:]))
	c.DwellSeconds = binary.BigEndian.Uint16(f.Payload[4:])
	c.UpSeconds = int32(binary.BigEndian.Uint32(f.Payload[6:]))
	c.ProfileRate = binary.BigEndian.Uint32(f.Payload[10:])
	c.DwellRate = binary.BigEndian.Uint32(f.Payload[14:])
	c.TSEN = f.Payload[18]
	c.ROPC = f.Payload[19]
	c.FLASH = f.Payload[20]
	c.LoRaTM = f.Payload[21] != 0
	return c, nil
}

// ── PU LoRa status rate (PIB → PU) ───────────────────────────────────────────

// LoRaStatusFrame encodes the PU status beacon period command.
func LoRaStatusFrame(seconds uint16) Frame {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, seconds)
	return Frame{Type: FrameAscii, ID: PULoRaStatus, Payload: buf, ChecksumOK: true}
}

// ── MCB limit commands (PIB → MCB) ───────────────────────────────────────────

// Float32sFrame encodes an id plus a flat list of float32 parameters
// (acceleration and limit commands).
func Float32sFrame(id uint8, vals ...float32) Frame {
	buf := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.BigEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return Frame{Type: FrameAscii, ID: id, Payload: buf, ChecksumOK: true}
}

// DecodeFloat32s returns the float32 parameters of a limit command.
func DecodeFloat32s(f Frame) ([]float32, error) {
	if len(f.Payload)%4 != 0 {
		return nil, fmt.Errorf("float payload: %d bytes not a multiple of 4", len(f.Payload))
	}
	vals := make([]float32, len(f.Payload)/4)
	for i := range vals {
		vals[i] = math.Float32frombits(binary.BigEndian.Uint32(f.Payload[4*i:]))
	}
	return vals, nil
}
