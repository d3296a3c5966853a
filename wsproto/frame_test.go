package wsproto

import (
	"bytes"
	"testing"
)

func TestWriteReadFrameUnmasked(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, OpText, []byte("hello"), false); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	frame, err := ReadFrame(&buf, true)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if frame.Opcode != OpText {
		t.Fatalf("opcode = %d, want %d", frame.Opcode, OpText)
	}
	if !frame.Fin {
		t.Fatal("expected fin bit set")
	}
	if string(frame.Payload) != "hello" {
		t.Fatalf("payload = %q, want %q", frame.Payload, "hello")
	}
}

func TestWriteReadFrameMasked(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, OpText, []byte("masked payload"), true); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	frame, err := ReadFrame(&buf, true)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !frame.Masked {
		t.Fatal("expected masked bit set")
	}
	if string(frame.Payload) != "masked payload" {
		t.Fatalf("payload = %q, want %q", frame.Payload, "masked payload")
	}
}

func TestWriteReadFrameExtended64(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 70000)
	var buf bytes.Buffer
	if err := WriteFrame(&buf, OpBinary, payload, false); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	frame, err := ReadFrame(&buf, false)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if len(frame.Payload) != len(payload) {
		t.Fatalf("payload length = %d, want %d", len(frame.Payload), len(payload))
	}
}

func TestReadFrameTooBig(t *testing.T) {
	var buf bytes.Buffer
	// Hand-build a header claiming a payload larger than the cap, without
	// actually writing that much data — ReadFrame must reject before trying
	// to read it all.
	buf.Write([]byte{0x82, 0x7f})
	var length [8]byte
	length[0] = 0x00
	length[7] = 0x01 // overwritten below: every byte ends up 0xff, far above maxPayload
	for i := range length {
		length[i] = 0xff
	}
	buf.Write(length[:])

	_, err := ReadFrame(&buf, false)
	if err == nil {
		t.Fatal("expected error for oversized frame")
	}
}

func TestWriteFrameMaskingRoundTrips(t *testing.T) {
	// Client frames must be masked on the wire and unmasked by the reader
	// when unmask=true, matching the server's read path.
	var buf bytes.Buffer
	payload := []byte(`{"hello":"world"}`)
	if err := WriteFrame(&buf, OpText, payload, true); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	raw := buf.Bytes()
	if raw[1]&0x80 == 0 {
		t.Fatal("expected MASK bit set in second header byte")
	}

	frame, err := ReadFrame(&buf, true)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if string(frame.Payload) != string(payload) {
		t.Fatalf("payload = %q, want %q", frame.Payload, payload)
	}
}
