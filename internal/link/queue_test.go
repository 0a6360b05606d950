package link

import "testing"

func TestFrameQueue_OverflowDrops(t *testing.T) {
	q := NewFrameQueue(2)
	if !q.Push(Ascii(MCBReelOut)) || !q.Push(Ascii(MCBReelIn)) {
		t.Fatal("push below capacity failed")
	}
	if q.Push(Ascii(MCBDock)) {
		t.Fatal("push past capacity succeeded")
	}
	if q.Dropped() != 1 {
		t.Fatalf("Dropped = %d, want 1", q.Dropped())
	}

	f, ok := q.Pop()
	if !ok || f.ID != MCBReelOut {
		t.Fatalf("Pop = %+v, %v", f, ok)
	}
}

func TestEndpoint_RoundTrip(t *testing.T) {
	e := NewEndpoint(8)
	e.Deliver(Ack(MCBGoLowPower, true))

	f, ok := e.Next()
	if !ok || f.Type != FrameAck || f.ID != MCBGoLowPower || !f.Accept {
		t.Fatalf("Next = %+v, %v", f, ok)
	}
	if _, ok := e.Next(); ok {
		t.Fatal("queue not drained")
	}

	e.Send(MotionCommand(MCBReelOut, 100, 250))
	sent := e.TakeSent()
	if len(sent) != 1 {
		t.Fatalf("TakeSent returned %d frames", len(sent))
	}
	l, v, err := DecodeMotionCommand(sent[0])
	if err != nil || l != 100 || v != 250 {
		t.Fatalf("DecodeMotionCommand = %v, %v, %v", l, v, err)
	}
}

func TestCodec_ProfileCommand(t *testing.T) {
	in := ProfileCommand{
		DownSeconds:  1980,
		DwellSeconds: 900,
		UpSeconds:    1830,
		ProfileRate:  1,
		DwellRate:    10,
		TSEN:         1,
		ROPC:         1,
		FLASH:        1,
		LoRaTM:       true,
	}
	out, err := DecodeProfile(ProfileFrame(in))
	if err != nil {
		t.Fatalf("DecodeProfile: %v", err)
	}
	if out != in {
		t.Fatalf("round trip mismatch: %+v != %+v", out, in)
	}
}

func TestZephyrQueue_ResendTM(t *testing.T) {
	var z ZephyrQueue
	z.TM(FlagFine, "Finished profile reel out", []byte{0xA5, 0x00})
	z.ResendTM()

	msgs := z.Take()
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Detail != msgs[1].Detail || string(msgs[0].Payload) != string(msgs[1].Payload) {
		t.Fatal("resend did not repeat the retained TM")
	}
}
