package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flupke/radar-uploader/internal/actorsys"
	"github.com/flupke/radar-uploader/internal/evidence"
	"github.com/flupke/radar-uploader/internal/photographer"
	"github.com/flupke/radar-uploader/internal/radarproto"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// countingUploader counts NotifyInfraction sends it receives.
type countingUploader struct {
	notifications atomic.Int32
}

func (u *countingUploader) Receive(_ context.Context, cmd UploaderCommand) error {
	if cmd == NotifyInfraction {
		u.notifications.Add(1)
	}
	return nil
}

type failingCapture struct{}

func (failingCapture) Capture(context.Context, string) error {
	return errors.New("camera offline")
}

func newTestRecorder(t *testing.T, cfg RadarConfig, capture photographer.Capture) (*Recorder, string, *countingUploader) {
	t.Helper()
	dir := t.TempDir()
	uploader := &countingUploader{}
	uploaderPort := actorsys.Spawn[UploaderCommand](context.Background(), uploader)
	t.Cleanup(uploaderPort.Release)

	samples := NewBroadcaster[radarproto.Sample]()
	r := NewRecorder(cfg, dir, capture, uploaderPort, samples, discardLogger())
	return r, dir, uploader
}

func evidenceFileCount(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("reading dir: %v", err)
	}
	return len(entries)
}

// S1 — single trigger.
func TestRecorder_SingleTrigger(t *testing.T) {
	cfg := RadarConfig{AuthorizedSpeed: 25, MinDist: 0, MaxDist: 10000, TriggerCooldownMs: 1000}
	r, dir, uploader := newTestRecorder(t, cfg, photographer.Fixed{})

	r.process(context.Background(), "EVENTS: TARGET: 40 1000 2000")

	if got := evidenceFileCount(t, dir); got != 2 {
		t.Fatalf("expected 1 jpeg + 1 json, got %d files", got)
	}
	if got := uploader.notifications.Load(); got != 1 {
		t.Fatalf("expected 1 NotifyInfraction, got %d", got)
	}
	if r.lastInfraction == nil {
		t.Fatal("expected lastInfraction to be set")
	}
	if r.lastInfraction.RecordedSpeed != 40 || r.lastInfraction.AuthorizedSpeed != 25 {
		t.Fatalf("unexpected infraction: %+v", r.lastInfraction)
	}
}

// Under-speed targets never trigger.
func TestRecorder_UnderSpeedDoesNotTrigger(t *testing.T) {
	cfg := RadarConfig{AuthorizedSpeed: 50, MinDist: 0, MaxDist: 10000, TriggerCooldownMs: 1000}
	r, dir, uploader := newTestRecorder(t, cfg, photographer.Fixed{})

	r.process(context.Background(), "EVENTS: TARGET: 40 1000 2000")

	if got := evidenceFileCount(t, dir); got != 0 {
		t.Fatalf("expected no evidence files, got %d", got)
	}
	if got := uploader.notifications.Load(); got != 0 {
		t.Fatalf("expected no NotifyInfraction, got %d", got)
	}
}

// Out-of-range targets never trigger, regardless of speed.
func TestRecorder_OutOfRangeDoesNotTrigger(t *testing.T) {
	cfg := RadarConfig{AuthorizedSpeed: 25, MinDist: 0, MaxDist: 500, TriggerCooldownMs: 1000}
	r, dir, _ := newTestRecorder(t, cfg, photographer.Fixed{})

	r.process(context.Background(), "EVENTS: TARGET: 40 1000 2000")

	if got := evidenceFileCount(t, dir); got != 0 {
		t.Fatalf("expected no evidence files, got %d", got)
	}
}

// Exactly-at-the-limit speed does not trigger (strict >).
func TestRecorder_ExactSpeedDoesNotTrigger(t *testing.T) {
	cfg := RadarConfig{AuthorizedSpeed: 40, MinDist: 0, MaxDist: 10000, TriggerCooldownMs: 1000}
	r, dir, _ := newTestRecorder(t, cfg, photographer.Fixed{})

	r.process(context.Background(), "EVENTS: TARGET: 40 1000 2000")

	if got := evidenceFileCount(t, dir); got != 0 {
		t.Fatalf("expected no evidence files for speed == authorized_speed, got %d", got)
	}
}

// Cooldown suppresses a second trigger arriving before the window elapses,
// measured from the previous infraction's datetime_taken.
func TestRecorder_CooldownSuppressesSecondTrigger(t *testing.T) {
	cfg := RadarConfig{AuthorizedSpeed: 25, MinDist: 0, MaxDist: 10000, TriggerCooldownMs: 60_000}
	r, dir, uploader := newTestRecorder(t, cfg, photographer.Fixed{})

	r.process(context.Background(), "EVENTS: TARGET: 40 1000 2000")
	r.process(context.Background(), "EVENTS: TARGET: 45 1000 2000")

	if got := evidenceFileCount(t, dir); got != 2 {
		t.Fatalf("expected only the first trigger's pair, got %d files", got)
	}
	if got := uploader.notifications.Load(); got != 1 {
		t.Fatalf("expected exactly 1 NotifyInfraction, got %d", got)
	}
}

// Once the cooldown elapses (measured from the previous infraction), a new
// in-range over-speed event triggers again.
func TestRecorder_TriggersAgainAfterCooldownElapses(t *testing.T) {
	cfg := RadarConfig{AuthorizedSpeed: 25, MinDist: 0, MaxDist: 10000, TriggerCooldownMs: 100}
	r, dir, uploader := newTestRecorder(t, cfg, photographer.Fixed{})

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var tick int
	r.now = func() time.Time {
		t := start.Add(time.Duration(tick) * 200 * time.Millisecond)
		tick++
		return t
	}

	r.process(context.Background(), "EVENTS: TARGET: 40 1000 2000")
	r.process(context.Background(), "EVENTS: TARGET: 45 1000 2000")

	if got := evidenceFileCount(t, dir); got != 4 {
		t.Fatalf("expected both triggers' pairs (4 files), got %d", got)
	}
	if got := uploader.notifications.Load(); got != 2 {
		t.Fatalf("expected 2 NotifyInfraction, got %d", got)
	}
}

// Photo capture failure drops the infraction without poisoning the
// cooldown window for the next, unrelated event.
func TestRecorder_CaptureFailureDoesNotPoisonCooldown(t *testing.T) {
	cfg := RadarConfig{AuthorizedSpeed: 25, MinDist: 0, MaxDist: 10000, TriggerCooldownMs: 60_000}
	r, dir, uploader := newTestRecorder(t, cfg, failingCapture{})

	r.process(context.Background(), "EVENTS: TARGET: 40 1000 2000")

	if got := evidenceFileCount(t, dir); got != 0 {
		t.Fatalf("expected no evidence written after capture failure, got %d", got)
	}
	if r.lastInfraction != nil {
		t.Fatal("expected lastInfraction to remain nil after capture failure")
	}
	if got := uploader.notifications.Load(); got != 0 {
		t.Fatalf("expected no NotifyInfraction after capture failure, got %d", got)
	}

	// A second, immediate over-speed event still triggers: the failed
	// attempt never set last_infraction, so cooldown never started.
	r.capture = photographer.Fixed{}
	r.process(context.Background(), "EVENTS: TARGET: 45 1000 2000")
	if got := evidenceFileCount(t, dir); got != 2 {
		t.Fatalf("expected the second attempt to succeed, got %d files", got)
	}
}

// Unparseable lines are ignored entirely.
func TestRecorder_MalformedLineIgnored(t *testing.T) {
	cfg := RadarConfig{AuthorizedSpeed: 25, MinDist: 0, MaxDist: 10000, TriggerCooldownMs: 1000}
	r, dir, uploader := newTestRecorder(t, cfg, photographer.Fixed{})

	r.process(context.Background(), "not a target line")

	if got := evidenceFileCount(t, dir); got != 0 {
		t.Fatalf("expected no evidence files, got %d", got)
	}
	if got := uploader.notifications.Load(); got != 0 {
		t.Fatalf("expected no NotifyInfraction, got %d", got)
	}
}

// UpdateConfig replaces the config wholesale.
func TestRecorder_UpdateConfigReplacesWholesale(t *testing.T) {
	cfg := RadarConfig{AuthorizedSpeed: 100, MinDist: 0, MaxDist: 10000, TriggerCooldownMs: 1000}
	r, dir, _ := newTestRecorder(t, cfg, photographer.Fixed{})

	// Under the initial config's threshold of 100, so no trigger yet.
	r.process(context.Background(), "EVENTS: TARGET: 40 1000 2000")
	if got := evidenceFileCount(t, dir); got != 0 {
		t.Fatalf("expected no trigger under the initial high threshold, got %d files", got)
	}

	ack := make(chan struct{})
	if err := r.Receive(context.Background(), UpdateConfig(RadarConfig{AuthorizedSpeed: 25, MinDist: 0, MaxDist: 10000, TriggerCooldownMs: 1000})); err != nil {
		t.Fatalf("Receive(UpdateConfig): %v", err)
	}
	close(ack)

	r.process(context.Background(), "EVENTS: TARGET: 40 1000 2000")
	if got := evidenceFileCount(t, dir); got != 2 {
		t.Fatalf("expected a trigger after lowering the threshold, got %d files", got)
	}
}

// Receive acknowledges ProcessLogMessage commands after applying them.
func TestRecorder_ReceiveAcknowledgesProcessLogMessage(t *testing.T) {
	cfg := DefaultRadarConfig(25)
	r, _, _ := newTestRecorder(t, cfg, photographer.Fixed{})

	ack := make(chan struct{})
	line := fmt.Sprintf("EVENTS: TARGET: %d %d %d", 40, 1000, 2000)
	if err := r.Receive(context.Background(), ProcessLogMessage(line, ack)); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	select {
	case <-ack:
	default:
		t.Fatal("expected ack to be closed synchronously by Receive")
	}
}

func TestRecorder_EvidencePairReadableAfterTrigger(t *testing.T) {
	cfg := RadarConfig{AuthorizedSpeed: 25, MinDist: 0, MaxDist: 10000, TriggerCooldownMs: 1000}
	r, dir, _ := newTestRecorder(t, cfg, photographer.Fixed{})

	r.process(context.Background(), "EVENTS: TARGET: 40 1000 2000")

	pair := evidence.PairFor(dir, r.lastInfraction.DatetimeTaken)
	inf, err := evidence.ReadInfraction(pair.JSONPath)
	if err != nil {
		t.Fatalf("ReadInfraction: %v", err)
	}
	if inf.RecordedSpeed != 40 || inf.AuthorizedSpeed != 25 || inf.Location != Location {
		t.Fatalf("unexpected infraction: %+v", inf)
	}
	if _, err := os.Stat(pair.JPEGPath); err != nil {
		t.Fatalf("jpeg missing: %v", err)
	}
}
