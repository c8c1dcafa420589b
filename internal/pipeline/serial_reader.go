package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/flupke/radar-uploader/internal/actorsys"
	"github.com/flupke/radar-uploader/internal/framedecoder"
	"github.com/flupke/radar-uploader/internal/serialio"
)

// serialReadTimeout bounds a single Read call so the loop can check for
// cancellation between reads; 50ms matches the original firmware bridge's
// read timeout. serialio rounds it up to its 100ms VTIME granularity.
const serialReadTimeout = 50 * time.Millisecond

// postCaptureSettle is the brief pause after each hand-off to the recorder,
// giving the photo-capture latency time to pass before the input buffer is
// flushed — any radar bytes that arrived during capture are stale (spec.md
// §4.4).
const postCaptureSettle = 100 * time.Millisecond

// SerialReader is the radar-reader actor (spec.md §4.4): it owns the serial
// port, decodes the firmware's framed log stream, and hands decoded lines to
// the recorder one at a time, awaiting each acknowledgement before reading
// more.
type SerialReader struct {
	port     *serialio.Port
	decoder  *framedecoder.Decoder
	recorder actorsys.Port[RecorderCommand]
	logger   *slog.Logger
}

// NewSerialReader opens devicePath and builds a SerialReader decoding frames
// against symtab.
func NewSerialReader(devicePath string, symtab *framedecoder.SymbolTable, recorder actorsys.Port[RecorderCommand], logger *slog.Logger) (*SerialReader, error) {
	port, err := serialio.Open(devicePath, serialReadTimeout)
	if err != nil {
		return nil, err
	}
	return &SerialReader{
		port:     port,
		decoder:  framedecoder.New(symtab),
		recorder: recorder,
		logger:   logger.With("component", "serial_reader"),
	}, nil
}

// Receive implements actorsys.Actor[struct{}]. The reader has no command
// set of its own (spec.md §4.4); its mailbox exists only for lifecycle and
// monitoring, so Receive is never actually invoked in normal operation — the
// work happens in Run, driven by the owning goroutine's suspension points.
func (r *SerialReader) Receive(_ context.Context, _ struct{}) error {
	return nil
}

// Run drives the serial read loop until ctx is cancelled or a fatal I/O
// error occurs. It is meant to be launched on its own goroutine alongside
// the actor's mailbox loop (which here serves lifecycle/monitoring only);
// a fatal error return should be followed by aborting this actor's port so
// registered monitors fire (spec.md §7: "terminate reader, monitors fire").
func (r *SerialReader) Run(ctx context.Context) error {
	defer r.port.Close()

	buf := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		// serialio.Port.Read returns (0, nil) on a read timeout (spec.md
		// §4.4/§7: "silent no-op"); any other error is fatal.
		n, err := r.port.Read(buf)
		if err != nil {
			r.logger.Error("serial read failed, terminating reader", "error", err)
			return err
		}
		if n == 0 {
			continue
		}

		r.decoder.Feed(buf[:n])
		if !r.drainFrames(ctx) {
			return nil
		}
	}
}

// drainFrames decodes as many complete frames as are currently buffered,
// returning false if ctx was cancelled mid-drain.
func (r *SerialReader) drainFrames(ctx context.Context) bool {
	for {
		frame, err := r.decoder.Next()
		switch {
		case err == nil:
			if !r.handOff(ctx, frame.Text) {
				return false
			}
		case errors.Is(err, framedecoder.ErrNeedMoreBytes):
			return true
		default:
			var malformed *framedecoder.MalformedError
			if errors.As(err, &malformed) {
				if malformed.Recoverable {
					r.logger.Debug("skipping malformed frame", "reason", malformed.Reason)
					// Consumed means decoder.Next() already advanced past the
					// whole bad frame itself; calling SkipByte() here too
					// would drop a byte belonging to the next frame.
					if !malformed.Consumed {
						r.decoder.SkipByte()
					}
					continue
				}
				r.logger.Error("dropping decoder buffer after unrecoverable frame", "reason", malformed.Reason)
				r.decoder.DropBuffer()
				return true
			}
			r.logger.Error("unexpected decoder error", "error", err)
			r.decoder.DropBuffer()
			return true
		}
	}
}

// handOff sends one decoded line to the recorder and awaits its
// acknowledgement before returning, providing the backpressure from photo
// capture latency to the serial reader (spec.md §4.3/§4.4). After the
// hand-off, the reader settles briefly and flushes the input buffer so
// bytes that arrived during capture are discarded as stale.
func (r *SerialReader) handOff(ctx context.Context, line string) bool {
	ack := make(chan struct{})
	if err := r.recorder.Send(ProcessLogMessage(line, ack)); err != nil {
		r.logger.Error("recorder mailbox closed, stopping reader", "error", err)
		return false
	}

	select {
	case <-ack:
	case <-ctx.Done():
		return false
	}

	select {
	case <-time.After(postCaptureSettle):
	case <-ctx.Done():
		return false
	}

	if err := r.port.Flush(); err != nil {
		r.logger.Error("flushing serial input buffer failed", "error", err)
	}
	return true
}
