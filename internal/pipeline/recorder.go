package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/flupke/radar-uploader/internal/actorsys"
	"github.com/flupke/radar-uploader/internal/evidence"
	"github.com/flupke/radar-uploader/internal/photographer"
	"github.com/flupke/radar-uploader/internal/radarproto"
)

// Location is the hardcoded infraction location string (spec.md §9 Open
// Question #2, resolved in SPEC_FULL.md: kept hardcoded, not a flag).
const Location = "Lorgues"

// Clock abstracts time.Now for deterministic cooldown tests.
type Clock func() time.Time

// Recorder is the infraction recorder actor (spec.md §4.3): it parses radar
// log lines, applies the trigger policy, persists evidence, publishes
// TargetSamples, and notifies the uploader.
//
// The cooldown is measured from the previous infraction's DatetimeTaken,
// which is stamped before the photo is captured. A capture that takes
// longer than the cooldown window therefore lets the very next over-speed
// event trigger again immediately.
type Recorder struct {
	cfg            RadarConfig
	lastInfraction *evidence.Infraction
	evidenceDir    string
	capture        photographer.Capture
	uploader       actorsys.Port[UploaderCommand]
	samples        *Broadcaster[radarproto.Sample]
	logger         *slog.Logger
	now            Clock
}

// NewRecorder builds a Recorder. initial is the pre-config-arrival default
// (spec.md §3), later replaced wholesale by UpdateConfig commands.
func NewRecorder(
	initial RadarConfig,
	evidenceDir string,
	capture photographer.Capture,
	uploader actorsys.Port[UploaderCommand],
	samples *Broadcaster[radarproto.Sample],
	logger *slog.Logger,
) *Recorder {
	return &Recorder{
		cfg:         initial,
		evidenceDir: evidenceDir,
		capture:     capture,
		uploader:    uploader,
		samples:     samples,
		logger:      logger.With("component", "recorder"),
		now:         time.Now,
	}
}

// Receive implements actorsys.Actor[RecorderCommand].
func (r *Recorder) Receive(ctx context.Context, cmd RecorderCommand) error {
	switch {
	case cmd.updateConfig:
		r.logger.Info("config updated",
			"authorized_speed", cmd.cfg.AuthorizedSpeed,
			"min_dist", cmd.cfg.MinDist,
			"max_dist", cmd.cfg.MaxDist,
			"trigger_cooldown_ms", cmd.cfg.TriggerCooldownMs,
		)
		r.cfg = cmd.cfg
		return nil

	case cmd.processLogMessage:
		r.process(ctx, cmd.line)
		if cmd.ack != nil {
			close(cmd.ack)
		}
		return nil
	}
	return nil
}

// process parses one log line and applies the trigger policy (spec.md
// §4.3). Parse failures are logged and ignored, never propagated — the
// caller always gets acknowledged either way.
func (r *Recorder) process(ctx context.Context, line string) {
	target, ok := radarproto.ParseLine(line)
	if !ok {
		r.logger.Debug("ignoring log line that is not a well-formed target event", "line", line)
		return
	}

	sample := target.ToSample()
	distance := sample.Distance
	inRange := r.cfg.MinDist <= distance && distance <= r.cfg.MaxDist
	overSpeed := target.Speed > r.cfg.AuthorizedSpeed
	cooldownElapsed := r.lastInfraction == nil ||
		r.now().Sub(r.lastInfraction.DatetimeTaken) >= r.cfg.cooldown()

	triggered := inRange && overSpeed && cooldownElapsed
	sample.Triggered = triggered
	r.samples.Publish(sample)

	if !triggered {
		return
	}

	inf := evidence.Infraction{
		RecordedSpeed:   target.Speed,
		AuthorizedSpeed: r.cfg.AuthorizedSpeed,
		Location:        Location,
		DatetimeTaken:   r.now().UTC(),
	}

	pair := evidence.PairFor(r.evidenceDir, inf.DatetimeTaken)
	if err := r.capture.Capture(ctx, pair.JPEGPath); err != nil {
		// Photo-capture failure aborts the trigger path: no JSON, no
		// last_infraction update, cooldown is not poisoned (spec.md §4.3).
		r.logger.Error("photo capture failed, infraction dropped", "error", err)
		return
	}

	if _, err := evidence.WriteJSON(r.evidenceDir, inf); err != nil {
		r.logger.Error("writing evidence json failed", "error", err)
		return
	}

	// Best-effort: a dead uploader's mailbox-closed error is swallowed
	// (spec.md §4.1/§4.2).
	_ = r.uploader.Send(NotifyInfraction)

	infCopy := inf
	r.lastInfraction = &infCopy
	r.logger.Info("infraction recorded",
		"recorded_speed", inf.RecordedSpeed,
		"authorized_speed", inf.AuthorizedSpeed,
		"distance", distance,
	)
}
