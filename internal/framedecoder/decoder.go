// Package framedecoder decodes the radar firmware's framed log stream: a
// symbol address (resolved against a SymbolTable loaded from the firmware's
// ELF file) followed by a small set of signed integer arguments, formatted
// into the display text the recorder parses.
//
// Written fresh (bufio-free incremental buffer, magic-byte framing,
// fmt.Errorf-wrapped errors) rather than adapted from an existing reader,
// since no frame format in the retrieval pack resembles defmt's (see
// DESIGN.md).
package framedecoder

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// frameMagic marks the start of a frame on the wire.
const frameMagic = 0xDF

// ErrNeedMoreBytes indicates the internal buffer holds an incomplete frame;
// the caller should read more serial bytes, Feed them, and retry Next. Per
// spec.md §4.4 this is not logged as an error — it is the normal "gather
// more bytes" path.
var ErrNeedMoreBytes = errors.New("framedecoder: need more bytes")

// MalformedError reports a frame that failed to decode. Recoverable is true
// when the decoder can resynchronize and keep going; false means the whole
// buffer should be dropped. When Recoverable is true, Consumed tells the
// caller whether it still needs to call SkipByte(): false for a bad magic
// byte, where the buffer is untouched and the caller must skip one byte
// itself; true for a frame whose header parsed but whose symbol or
// template failed, where the decoder already consumed the whole frame and
// an additional SkipByte() would eat a byte of the next one.
type MalformedError struct {
	Recoverable bool
	Consumed    bool
	Reason      string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("framedecoder: malformed frame: %s", e.Reason)
}

// Frame is one decoded log line, ready to hand to radarproto.ParseLine.
type Frame struct {
	Text string
}

// Decoder incrementally decodes frames out of a byte stream fed in chunks
// (the radar reader's fixed 4 KiB serial buffer).
type Decoder struct {
	symtab *SymbolTable
	buf    []byte
}

// New builds a Decoder resolving symbol addresses against symtab.
func New(symtab *SymbolTable) *Decoder {
	return &Decoder{symtab: symtab}
}

// Feed appends newly read bytes to the internal buffer.
func (d *Decoder) Feed(data []byte) {
	d.buf = append(d.buf, data...)
}

// SkipByte discards a single leading byte, used to resynchronize after a
// recoverable MalformedError.
func (d *Decoder) SkipByte() {
	if len(d.buf) > 0 {
		d.buf = d.buf[1:]
	}
}

// DropBuffer discards everything currently buffered, used after an
// unrecoverable MalformedError.
func (d *Decoder) DropBuffer() {
	d.buf = nil
}

// Next attempts to decode a single frame from the front of the buffer. On
// success it consumes that frame's bytes and returns it. On ErrNeedMoreBytes
// the buffer is left untouched. On *MalformedError the caller decides
// whether to SkipByte (Recoverable) or DropBuffer.
func (d *Decoder) Next() (Frame, error) {
	const headerLen = 1 + 4 + 1 // magic + symbol addr (LE u32) + argc

	if len(d.buf) == 0 {
		return Frame{}, ErrNeedMoreBytes
	}
	if d.buf[0] != frameMagic {
		return Frame{}, &MalformedError{Recoverable: true, Reason: "bad magic byte"}
	}
	if len(d.buf) < headerLen {
		return Frame{}, ErrNeedMoreBytes
	}

	addr := binary.LittleEndian.Uint32(d.buf[1:5])
	argc := int(d.buf[5])

	args := make([]int64, 0, argc)
	pos := headerLen
	for i := 0; i < argc; i++ {
		v, n := binary.Varint(d.buf[pos:])
		if n == 0 {
			return Frame{}, ErrNeedMoreBytes
		}
		if n < 0 {
			return Frame{}, &MalformedError{Recoverable: false, Reason: "argument varint overflow"}
		}
		args = append(args, v)
		pos += n
	}

	template, ok := d.symtab.Lookup(addr)
	if !ok {
		// Unknown symbol address: the frame boundary itself is trustworthy
		// (we parsed a complete header + argc varints), so skip exactly this
		// frame's bytes and keep going rather than dropping everything.
		// Consumed is true here: the caller must not also SkipByte(), or it
		// would drop a byte belonging to the next frame.
		d.buf = d.buf[pos:]
		return Frame{}, &MalformedError{Recoverable: true, Consumed: true, Reason: fmt.Sprintf("unknown symbol address 0x%x", addr)}
	}

	text, err := renderTemplate(template, args)
	if err != nil {
		d.buf = d.buf[pos:]
		return Frame{}, &MalformedError{Recoverable: true, Consumed: true, Reason: err.Error()}
	}

	d.buf = d.buf[pos:]
	return Frame{Text: text}, nil
}

func renderTemplate(template string, args []int64) (string, error) {
	anyArgs := make([]any, len(args))
	for i, v := range args {
		anyArgs[i] = v
	}
	want := countVerbs(template)
	if want != len(args) {
		return "", fmt.Errorf("template %q wants %d args, frame carried %d", template, want, len(args))
	}
	return fmt.Sprintf(template, anyArgs...), nil
}

func countVerbs(template string) int {
	n := 0
	for i := 0; i < len(template); i++ {
		if template[i] == '%' && i+1 < len(template) && template[i+1] == 'd' {
			n++
		}
	}
	return n
}
