// Package photographer implements the "photographer" capability boundary
// from spec.md §6: capture(path) -> success | failure. The real
// implementation shells out to an external camera CLI; test mode writes a
// fixed embedded JPEG instead.
package photographer

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// Capture atomically produces a readable JPEG at path, or returns an error
// with diagnostic detail.
type Capture interface {
	Capture(ctx context.Context, path string) error
}

// CLI invokes an external camera CLI to capture and download a photo,
// overwriting any existing file, to the given target path.
type CLI struct {
	// Path to the camera CLI binary.
	BinPath string
	// Timeout bounds a single capture invocation.
	Timeout time.Duration
}

// NewCLI builds a CLI photographer with a sane default timeout.
func NewCLI(binPath string) *CLI {
	return &CLI{BinPath: binPath, Timeout: 10 * time.Second}
}

// Capture runs the camera CLI with flags meaning "capture and download,
// overwrite, target filename = path" (spec.md §6's reference contract).
func (c *CLI) Capture(ctx context.Context, path string) error {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, c.BinPath, "--capture-image-and-download", "--force-overwrite", "--filename", path)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("camera capture failed: %w: %s", err, output)
	}

	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("camera reported success but %s is unreadable: %w", path, err)
	}
	return nil
}

// fixedTestJPEG is a minimal valid 1x1 white JPEG, embedded for test mode
// per spec.md §4.3's "fixed embedded 1x1 JPEG" contract.
var fixedTestJPEG = []byte{
	0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 0x4A, 0x46, 0x49, 0x46, 0x00, 0x01,
	0x01, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0xFF, 0xDB, 0x00, 0x43,
	0x00, 0x03, 0x02, 0x02, 0x02, 0x02, 0x02, 0x03, 0x02, 0x02, 0x02, 0x03,
	0x03, 0x03, 0x03, 0x04, 0x06, 0x04, 0x04, 0x04, 0x04, 0x04, 0x08, 0x06,
	0x06, 0x05, 0x06, 0x09, 0x08, 0x0A, 0x0A, 0x09, 0x08, 0x09, 0x09, 0x0A,
	0x0C, 0x0F, 0x0C, 0x0A, 0x0B, 0x0E, 0x0B, 0x09, 0x09, 0x0D, 0x11, 0x0D,
	0x0E, 0x0F, 0x10, 0x10, 0x11, 0x10, 0x0A, 0x0C, 0x12, 0x13, 0x12, 0x10,
	0x13, 0x0F, 0x10, 0x10, 0x10, 0xFF, 0xC9, 0x00, 0x0B, 0x08, 0x00, 0x01,
	0x00, 0x01, 0x01, 0x01, 0x11, 0x00, 0xFF, 0xCC, 0x00, 0x06, 0x00, 0x10,
	0x10, 0x05, 0xFF, 0xDA, 0x00, 0x08, 0x01, 0x01, 0x00, 0x00, 0x3F, 0x00,
	0xD2, 0xCF, 0x20, 0xFF, 0xD9,
}

// Fixed writes the fixed test JPEG and ignores the camera CLI entirely; used
// in --test-mode.
type Fixed struct{}

// Capture writes the embedded fixed JPEG to path.
func (Fixed) Capture(_ context.Context, path string) error {
	return os.WriteFile(path, fixedTestJPEG, 0644)
}
