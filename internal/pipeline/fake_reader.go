package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/flupke/radar-uploader/internal/actorsys"
)

// fakeTickMs is the simulation step used by the fake reader's kinematics,
// ported from the original Rust source's FakeRadarReader (spec.md §4.4).
const fakeTickMs = 200

// FakeReader is the test-mode synthetic target generator (spec.md §4.4,
// component F): it drives the recorder with smooth random-walk pedestrian
// kinematics instead of real serial data, a direct port of
// fake_radar_reader.rs's Target struct and event loop.
type FakeReader struct {
	recorder actorsys.Port[RecorderCommand]
	logger   *slog.Logger
	rng      *rand.Rand
}

// NewFakeReader builds a FakeReader feeding synthetic targets to recorder.
func NewFakeReader(recorder actorsys.Port[RecorderCommand], logger *slog.Logger) *FakeReader {
	return &FakeReader{
		recorder: recorder,
		logger:   logger.With("component", "fake_reader"),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Receive implements actorsys.Actor[struct{}]; like SerialReader, the fake
// reader is a pure producer with no command set of its own.
func (f *FakeReader) Receive(_ context.Context, _ struct{}) error {
	return nil
}

// fakeTarget is a simulated pedestrian approaching the radar with smooth
// motion, mirroring fake_radar_reader.rs's Target.
type fakeTarget struct {
	x, y   float64 // mm: lateral position, forward distance from radar
	vx, vy float64 // mm/s: lateral velocity, forward velocity (negative = approaching)
}

func newFakeTarget(rng *rand.Rand) fakeTarget {
	y := 9000.0 + rng.Float64()*(14000.0-9000.0)
	x := -3000.0 + rng.Float64()*6000.0
	speedKmh := 3.0 + rng.Float64()*12.0 // walking 3-5, jogging 8-10, running 12-15
	vy := -speedKmh / 3.6 * 1000.0
	vx := -300.0 + rng.Float64()*600.0
	return fakeTarget{x: x, y: y, vx: vx, vy: vy}
}

func (t *fakeTarget) step(dt float64, rng *rand.Rand) {
	t.vx += (-200.0 + rng.Float64()*400.0) * dt
	t.vy += (-500.0 + rng.Float64()*1000.0) * dt

	t.vx = clamp(t.vx, -600.0, 600.0)
	t.vy = clamp(t.vy, -4200.0, -800.0)

	t.x += t.vx * dt
	t.y += t.vy * dt
}

func (t *fakeTarget) speedKmh() int16 {
	speedMmS := math.Hypot(t.vx, t.vy)
	return int16(speedMmS / 1000.0 * 3.6)
}

func (t *fakeTarget) hasPassed() bool {
	return t.y < -500.0
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Run generates an unbounded stream of synthetic targets until ctx is
// cancelled, handing each tick's log line to the recorder the same way the
// real serial reader does: one line, one acknowledgement.
func (f *FakeReader) Run(ctx context.Context) {
	f.logger.Info("fake radar reader started, generating synthetic data")
	dt := fakeTickMs / 1000.0

	for {
		target := newFakeTarget(f.rng)
		f.logger.Debug("new synthetic target", "x", target.x, "y", target.y, "speed_kmh", target.speedKmh())

		for !target.hasPassed() {
			line := fmt.Sprintf("EVENTS: TARGET: %d %d %d", target.speedKmh(), int16(target.x), int16(target.y))

			ack := make(chan struct{})
			if err := f.recorder.Send(ProcessLogMessage(line, ack)); err != nil {
				f.logger.Error("recorder mailbox closed, stopping fake reader", "error", err)
				return
			}
			select {
			case <-ack:
			case <-ctx.Done():
				return
			}

			target.step(dt, f.rng)

			select {
			case <-time.After(fakeTickMs * time.Millisecond):
			case <-ctx.Done():
				return
			}
		}

		gapMs := 500 + f.rng.Intn(1500)
		select {
		case <-time.After(time.Duration(gapMs) * time.Millisecond):
		case <-ctx.Done():
			return
		}
	}
}
