// Package serialio opens a serial device at a fixed baud/parity/stop-bit
// configuration using raw termios syscalls. No serial-port library appears
// anywhere in the retrieval pack, so this thin wrapper around
// golang.org/x/sys/unix is the one stdlib-adjacent boundary in the pipeline
// (see DESIGN.md). Linux-only: the radar host is assumed to be a Linux SBC,
// matching the gopsutil/v3 and robfig/cron deployment target elsewhere in
// this repository.
package serialio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// Port is an open serial device configured 115200 8-N-1 with a short read
// timeout, matching the radar reader's requirements (spec.md §4.4).
type Port struct {
	f *os.File
}

// Open opens path and configures it for 115200 8-N-1 with the given read
// timeout (VTIME granularity is 0.1s; sub-100ms timeouts round up to 100ms).
func Open(path string, readTimeout time.Duration) (*Port, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_NOCTTY, 0)
	if err != nil {
		return nil, fmt.Errorf("opening serial device %s: %w", path, err)
	}

	if err := configure(f, readTimeout); err != nil {
		f.Close()
		return nil, fmt.Errorf("configuring serial device %s: %w", path, err)
	}

	return &Port{f: f}, nil
}

func configure(f *os.File, readTimeout time.Duration) error {
	fd := int(f.Fd())

	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("getting termios: %w", err)
	}

	termios.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	termios.Oflag &^= unix.OPOST
	termios.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN

	// 8-N-1, local line, receiver enabled, 115200 baud.
	termios.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB | unix.CBAUD
	termios.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL | unix.B115200
	termios.Ispeed = unix.B115200
	termios.Ospeed = unix.B115200

	// No minimum byte count; VTIME in deciseconds, rounded up.
	termios.Cc[unix.VMIN] = 0
	vtime := byte(readTimeout / (100 * time.Millisecond))
	if readTimeout%(100*time.Millisecond) != 0 {
		vtime++
	}
	if vtime == 0 {
		vtime = 1
	}
	termios.Cc[unix.VTIME] = vtime

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, termios); err != nil {
		return fmt.Errorf("setting termios: %w", err)
	}

	return nil
}

// Read reads into p, returning 0, nil on a timeout (no bytes available
// within the configured VTIME) — the radar reader treats that as a silent
// no-op per spec.md §4.4/§7.
func (p *Port) Read(buf []byte) (int, error) {
	n, err := p.f.Read(buf)
	// os.File reports a zero-byte read as io.EOF; on a tty with VMIN=0 that
	// is the read timeout expiring.
	if n == 0 && errors.Is(err, io.EOF) {
		return 0, nil
	}
	return n, err
}

// Flush discards any unread input, used after each successful hand-off to
// the recorder so stale bytes accumulated during photo capture are dropped.
func (p *Port) Flush() error {
	return unix.IoctlTcflush(int(p.f.Fd()), unix.TCIFLUSH)
}

// Close closes the underlying device.
func (p *Port) Close() error {
	return p.f.Close()
}
