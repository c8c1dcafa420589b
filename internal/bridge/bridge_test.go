package bridge

import (
	"encoding/json"
	"log/slog"
	"os"
	"testing"

	"golang.org/x/time/rate"

	"github.com/flupke/radar-uploader/internal/pipeline"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func TestBridge_HandleInbound_ValidConfigForwarded(t *testing.T) {
	var got pipeline.RadarConfig
	var calls int
	b := New("http://unused.invalid", "key", func(cfg pipeline.RadarConfig) {
		calls++
		got = cfg
	}, discardLogger())

	payload, _ := json.Marshal(map[string]any{
		"authorized_speed": 25,
		"min_dist":         0,
		"max_dist":         10000,
		"trigger_cooldown": 1000,
	})
	b.handleInbound(b.logger, phoenixFrame{Topic: topicConfig, Event: eventConfigUpdated, Payload: payload})

	if calls != 1 {
		t.Fatalf("expected onConfig to be called once, got %d", calls)
	}
	if got.AuthorizedSpeed != 25 || got.MinDist != 0 || got.MaxDist != 10000 || got.TriggerCooldownMs != 1000 {
		t.Fatalf("unexpected config: %+v", got)
	}
}

func TestBridge_HandleInbound_IncompletePayloadDiscarded(t *testing.T) {
	var calls int
	b := New("http://unused.invalid", "key", func(pipeline.RadarConfig) { calls++ }, discardLogger())

	payload, _ := json.Marshal(map[string]any{"authorized_speed": 25})
	b.handleInbound(b.logger, phoenixFrame{Topic: topicConfig, Event: eventConfigUpdated, Payload: payload})

	if calls != 0 {
		t.Fatalf("expected onConfig not to be called for an incomplete payload, got %d calls", calls)
	}
}

func TestBridge_HandleInbound_BinaryGarbageDiscarded(t *testing.T) {
	var calls int
	b := New("http://unused.invalid", "key", func(pipeline.RadarConfig) { calls++ }, discardLogger())

	b.handleInbound(b.logger, phoenixFrame{
		Topic:   topicConfig,
		Event:   eventConfigUpdated,
		Payload: json.RawMessage([]byte{0x00, 0x01, 0xFF}),
	})

	if calls != 0 {
		t.Fatalf("expected onConfig not to be called for a malformed payload, got %d calls", calls)
	}
}

func TestBridge_HandleInbound_InvalidRangeDiscarded(t *testing.T) {
	var calls int
	b := New("http://unused.invalid", "key", func(pipeline.RadarConfig) { calls++ }, discardLogger())

	// min_dist > max_dist violates RadarConfig.Validate's invariant.
	payload, _ := json.Marshal(map[string]any{
		"authorized_speed": 25,
		"min_dist":         9000,
		"max_dist":         100,
		"trigger_cooldown": 1000,
	})
	b.handleInbound(b.logger, phoenixFrame{Topic: topicConfig, Event: eventConfigUpdated, Payload: payload})

	if calls != 0 {
		t.Fatalf("expected onConfig not to be called for an invalid range, got %d calls", calls)
	}
}

func TestBridge_HandleInbound_IgnoresOtherEvents(t *testing.T) {
	var calls int
	b := New("http://unused.invalid", "key", func(pipeline.RadarConfig) { calls++ }, discardLogger())

	b.handleInbound(b.logger, phoenixFrame{Topic: topicConfig, Event: eventHeartbeat, Payload: json.RawMessage(`{}`)})
	if calls != 0 {
		t.Fatalf("expected heartbeat events to be ignored, got %d calls", calls)
	}
}

// The egress limiter refills at egressRateHz with a bucket of one token, so
// a burst of immediate Allow() calls beyond that token must return false.
func TestBridge_Limiter_ThrottlesBursts(t *testing.T) {
	limiter := rate.NewLimiter(egressRateHz, 1)
	allowed := 0
	for i := 0; i < 10; i++ {
		if limiter.Allow() {
			allowed++
		}
	}
	if allowed >= 10 {
		t.Fatalf("expected the burst of 10 immediate calls to be throttled, got %d allowed", allowed)
	}
}
