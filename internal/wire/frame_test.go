package wire

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeFrameRoundTrip(t *testing.T) {
	body := []byte("hello world")
	frame := EncodeFrame(FrameSync, body)

	gotType, gotBody, consumed, err := DecodeFrame(frame)
	if err != nil {
		t.Fatal(err)
	}
	if gotType != FrameSync {
		t.Fatalf("frameType = %d, want %d", gotType, FrameSync)
	}
	if !bytes.Equal(gotBody, body) {
		t.Fatalf("body = %q, want %q", gotBody, body)
	}
	if consumed != len(frame) {
		t.Fatalf("consumed = %d, want %d", consumed, len(frame))
	}
}

func TestDecodeFrameTruncated(t *testing.T) {
	frame := EncodeFrame(FrameAwareness, []byte("some payload"))
	if _, _, _, err := DecodeFrame(frame[:len(frame)-3]); err != ErrTruncatedFrame {
		t.Fatalf("err = %v, want ErrTruncatedFrame", err)
	}
	if _, _, _, err := DecodeFrame(nil); err != ErrTruncatedFrame {
		t.Fatalf("err on empty input = %v, want ErrTruncatedFrame", err)
	}
}

func TestDecodeFrameConsecutiveFrames(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(EncodeFrame(FrameFileOp, []byte("one")))
	buf.Write(EncodeFrame(FrameSync, []byte("two")))

	data := buf.Bytes()
	typ1, body1, consumed1, err := DecodeFrame(data)
	if err != nil {
		t.Fatal(err)
	}
	if typ1 != FrameFileOp || string(body1) != "one" {
		t.Fatalf("first frame = (%d, %q)", typ1, body1)
	}

	typ2, body2, _, err := DecodeFrame(data[consumed1:])
	if err != nil {
		t.Fatal(err)
	}
	if typ2 != FrameSync || string(body2) != "two" {
		t.Fatalf("second frame = (%d, %q)", typ2, body2)
	}
}

func TestEncodeDecodeSync(t *testing.T) {
	body := EncodeSync(SyncStep2, []byte("payload"))
	msg, err := DecodeSync(body)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Step != SyncStep2 {
		t.Fatalf("Step = %d, want %d", msg.Step, SyncStep2)
	}
	if string(msg.Payload) != "payload" {
		t.Fatalf("Payload = %q, want %q", msg.Payload, "payload")
	}
}

func TestDecodeSyncEmptyBody(t *testing.T) {
	if _, err := DecodeSync(nil); err != ErrTruncatedFrame {
		t.Fatalf("err = %v, want ErrTruncatedFrame", err)
	}
}

func TestDecodeSyncEmptyPayload(t *testing.T) {
	body := EncodeSync(SyncStep1, nil)
	msg, err := DecodeSync(body)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Step != SyncStep1 || len(msg.Payload) != 0 {
		t.Fatalf("msg = %+v, want step-1 empty payload", msg)
	}
}
