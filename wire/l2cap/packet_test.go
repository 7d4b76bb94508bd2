package l2cap

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestEncodeATTPacket(t *testing.T) {
	got := NewATTPacket([]byte{0x0A, 0x0B, 0x00}).Encode()
	want := []byte{0x03, 0x00, 0x04, 0x00, 0x0A, 0x0B, 0x00}
	if !bytes.Equal(got, want) {
		t.Errorf("Encode = % X, want % X", got, want)
	}
}

func TestDecodeIncomplete(t *testing.T) {
	if _, err := Decode([]byte{0x05, 0x00, 0x04, 0x00, 0x01}); err == nil {
		t.Fatal("expected error for incomplete packet")
	}
	if _, err := Decode([]byte{0x05}); err == nil {
		t.Fatal("expected error for short header")
	}
}

func TestReadPacketStream(t *testing.T) {
	var buf bytes.Buffer
	if err := WritePacket(&buf, NewATTPacket([]byte{0x13})); err != nil {
		t.Fatalf("WritePacket failed: %v", err)
	}
	if err := WritePacket(&buf, NewATTPacket(nil)); err != nil {
		t.Fatalf("WritePacket failed: %v", err)
	}

	first, err := ReadPacket(&buf)
	if err != nil {
		t.Fatalf("ReadPacket failed: %v", err)
	}
	if first.ChannelID != ChannelATT || !bytes.Equal(first.Payload, []byte{0x13}) {
		t.Errorf("first packet = %+v", first)
	}

	second, err := ReadPacket(&buf)
	if err != nil {
		t.Fatalf("ReadPacket failed: %v", err)
	}
	if len(second.Payload) != 0 {
		t.Errorf("second payload = % X, want empty", second.Payload)
	}

	if _, err := ReadPacket(&buf); !errors.Is(err, io.EOF) {
		t.Errorf("ReadPacket at end = %v, want io.EOF", err)
	}
}

func TestReadPacketTooLarge(t *testing.T) {
	r := bytes.NewReader([]byte{0xFF, 0xFF, 0x04, 0x00})
	if _, err := ReadPacket(r); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("ReadPacket error = %v, want ErrFrameTooLarge", err)
	}
}
