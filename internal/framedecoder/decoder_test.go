package framedecoder

import (
	"encoding/binary"
	"errors"
	"testing"
)

func symtabWith(addr uint32, template string) *SymbolTable {
	return &SymbolTable{byAddr: map[uint32]string{addr: template}}
}

func encodeFrame(addr uint32, args ...int64) []byte {
	buf := []byte{frameMagic}
	var addrBuf [4]byte
	binary.LittleEndian.PutUint32(addrBuf[:], addr)
	buf = append(buf, addrBuf[:]...)
	buf = append(buf, byte(len(args)))
	for _, a := range args {
		var tmp [binary.MaxVarintLen64]byte
		n := binary.PutVarint(tmp[:], a)
		buf = append(buf, tmp[:n]...)
	}
	return buf
}

func TestDecoder_DecodesCompleteFrame(t *testing.T) {
	d := New(symtabWith(0x42, "EVENTS: TARGET: %d %d %d"))
	d.Feed(encodeFrame(0x42, 40, 1000, -2000))

	frame, err := d.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	want := "EVENTS: TARGET: 40 1000 -2000"
	if frame.Text != want {
		t.Fatalf("got %q want %q", frame.Text, want)
	}
}

func TestDecoder_NeedsMoreBytesOnPartialFrame(t *testing.T) {
	d := New(symtabWith(0x42, "EVENTS: TARGET: %d %d %d"))
	full := encodeFrame(0x42, 40, 1000, 2000)
	d.Feed(full[:len(full)-1])

	_, err := d.Next()
	if !errors.Is(err, ErrNeedMoreBytes) {
		t.Fatalf("expected ErrNeedMoreBytes, got %v", err)
	}

	d.Feed(full[len(full)-1:])
	frame, err := d.Next()
	if err != nil {
		t.Fatalf("Next after completing frame: %v", err)
	}
	if frame.Text == "" {
		t.Fatal("expected non-empty decoded text")
	}
}

func TestDecoder_BadMagicIsRecoverable(t *testing.T) {
	d := New(symtabWith(0x42, "EVENTS: TARGET: %d %d %d"))
	d.Feed([]byte{0x00})
	d.Feed(encodeFrame(0x42, 40, 1000, 2000))

	_, err := d.Next()
	var malformed *MalformedError
	if !errors.As(err, &malformed) || !malformed.Recoverable {
		t.Fatalf("expected recoverable MalformedError, got %v", err)
	}
	if malformed.Consumed {
		t.Fatal("expected Consumed false: a bad magic byte leaves the buffer untouched")
	}

	d.SkipByte()
	frame, err := d.Next()
	if err != nil {
		t.Fatalf("Next after resync: %v", err)
	}
	if frame.Text == "" {
		t.Fatal("expected decoded text after resync")
	}
}

func TestDecoder_UnknownSymbolIsRecoverableAndConsumesFrame(t *testing.T) {
	d := New(symtabWith(0x99, "unused"))
	d.Feed(encodeFrame(0x42, 1, 2, 3))
	// A second, known frame follows.
	d.Feed(encodeFrame(0x99))

	_, err := d.Next()
	var malformed *MalformedError
	if !errors.As(err, &malformed) || !malformed.Recoverable {
		t.Fatalf("expected recoverable MalformedError for unknown symbol, got %v", err)
	}
	if !malformed.Consumed {
		t.Fatal("expected Consumed: the decoder already advanced past the whole bad frame")
	}

	// The unknown frame's bytes were fully consumed; the next frame decodes
	// without any SkipByte() call (the caller must not skip on top of this).
	frame, err := d.Next()
	if err != nil {
		t.Fatalf("Next for second frame: %v", err)
	}
	if frame.Text != "unused" {
		t.Fatalf("got %q", frame.Text)
	}
}

func TestDecoder_EmptyBufferNeedsMoreBytes(t *testing.T) {
	d := New(symtabWith(0x42, "x"))
	_, err := d.Next()
	if !errors.Is(err, ErrNeedMoreBytes) {
		t.Fatalf("expected ErrNeedMoreBytes on empty buffer, got %v", err)
	}
}
