package telemetry

import (
	"bytes"
	"testing"
	"time"
)

func TestMotionBuffer_BufferedFraming(t *testing.T) {
	var b MotionBuffer
	b.Reset(0x01020304)

	rec := bytes.Repeat([]byte{0xEE}, 25)
	if !b.Append(rec, 0x0123, false) {
		t.Fatal("Append failed")
	}

	out := b.Take()
	want := append([]byte{0x01, 0x02, 0x03, 0x04, MotionSyncByte, 0x01, 0x23}, rec...)
	if !bytes.Equal(out, want) {
		t.Fatalf("framed buffer mismatch:\n got %x\nwant %x", out, want)
	}
	if b.Len() != 0 {
		t.Fatal("Take did not reset buffer")
	}
}

func TestMotionBuffer_RealtimeOmitsSync(t *testing.T) {
	var b MotionBuffer
	b.Reset(100)

	rec := bytes.Repeat([]byte{0x55}, 25)
	b.Append(rec, 999, true)
	out := b.Take()
	// epoch header, then the bare record
	if len(out) != 4+len(rec) {
		t.Fatalf("realtime packet length %d, want %d", len(out), 4+len(rec))
	}
	if out[4] == MotionSyncByte && out[5] == 0x03 {
		t.Fatal("realtime record carries sync framing")
	}
}

func TestMotionBuffer_OverflowDropsWholeRecords(t *testing.T) {
	var b MotionBuffer
	b.Reset(0)

	big := bytes.Repeat([]byte{1}, MotionBufferSize)
	if b.Append(big, 0, false) {
		t.Fatal("oversize record accepted")
	}
	if b.Dropped() != 1 {
		t.Fatalf("Dropped = %d", b.Dropped())
	}
	if b.Len() != 4 { // header only
		t.Fatalf("partial record written: len=%d", b.Len())
	}
}

func TestClassify(t *testing.T) {
	cls, body := Classify([]byte("STPU OK v=15.1"))
	if cls != LoRaStatus || string(body) != "PU OK v=15.1" {
		t.Fatalf("status classify = %v %q", cls, body)
	}
	cls, body = Classify(append([]byte("TM"), 1, 2, 3))
	if cls != LoRaTM || len(body) != 3 {
		t.Fatalf("TM classify = %v %v", cls, body)
	}
	if cls, _ := Classify([]byte("X")); cls != LoRaUnknown {
		t.Fatal("short packet not unknown")
	}
}

func TestLoRaAggregator_FlushBeforeOverflow(t *testing.T) {
	var a LoRaAggregator

	first := bytes.Repeat([]byte{0xAA}, LoRaBufferSize-10)
	if out := a.Append(first, 0); out != nil {
		t.Fatal("flush on first fragment")
	}

	second := bytes.Repeat([]byte{0xBB}, 20)
	out := a.Append(second, time.Second)
	if !bytes.Equal(out, first) {
		t.Fatal("overflow did not flush prior contents")
	}
	if a.Pending() != len(second) {
		t.Fatalf("Pending = %d, want %d", a.Pending(), len(second))
	}
}

func TestLoRaAggregator_IdleFlush(t *testing.T) {
	var a LoRaAggregator

	a.Append([]byte{1, 2, 3}, 10*time.Second)
	if out := a.IdleFlush(10*time.Second + FlushIdle); out != nil {
		t.Fatal("flushed at exactly the idle bound")
	}
	out := a.IdleFlush(11*time.Second + FlushIdle)
	if !bytes.Equal(out, []byte{1, 2, 3}) {
		t.Fatalf("IdleFlush = %v", out)
	}
	if a.IdleFlush(12*time.Second+FlushIdle) != nil {
		t.Fatal("second idle flush returned data")
	}
}
