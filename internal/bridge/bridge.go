// Package bridge implements the config/telemetry bridge (spec.md §4.5): the
// single ambient-partition connection that joins the backend's Phoenix
// channel, turns inbound config_updated events into RadarConfig updates for
// the recorder, and forwards published TargetSamples out as target_data
// events at no more than 5Hz.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/flupke/radar-uploader/internal/pipeline"
)

// reconnectDelay is fixed, not exponential, per spec.md §4.5 — unlike the
// teacher's ControlChannel, which backs off exponentially between retries.
const reconnectDelay = 2 * time.Second

// joinTimeout bounds how long the bridge waits for a phx_reply to its
// phx_join before giving up on the connection and retrying.
const joinTimeout = 10 * time.Second

// egressRateHz caps outbound target_data frames (spec.md §4.5).
const egressRateHz = 5

// Bridge owns the WebSocket connection to the backend's Phoenix endpoint.
type Bridge struct {
	apiURL string
	apiKey string
	logger *slog.Logger

	onConfig func(pipeline.RadarConfig)
	limiter  *rate.Limiter
	health   *HealthSampler
}

// TelemetrySample is the bridge's outbound wire payload shape, built by the
// caller from a radarproto.Sample — kept decoupled from radarproto so this
// package's only domain dependency is pipeline.RadarConfig.
type TelemetrySample struct {
	Speed     int16
	X         int16
	Y         int16
	Distance  float64
	Triggered bool
}

// New builds a Bridge. onConfig is invoked (from the bridge's own goroutine)
// every time a config_updated event with a complete payload arrives; the
// caller is responsible for forwarding it into the recorder's mailbox as an
// UpdateConfig command — the bridge lives in the parallel partition and must
// never touch actor state directly (spec.md §4.5/§9).
func New(apiURL, apiKey string, onConfig func(pipeline.RadarConfig), logger *slog.Logger) *Bridge {
	return &Bridge{
		apiURL:   apiURL,
		apiKey:   apiKey,
		logger:   logger.With("component", "bridge"),
		onConfig: onConfig,
		limiter:  rate.NewLimiter(egressRateHz, 1),
	}
}

// WithHealthSampler attaches a HealthSampler whose most recently collected
// host-health snapshot is logged alongside every reconnect attempt
// (SPEC_FULL.md's DOMAIN STACK: gopsutil readings "attached to the
// bridge's reconnect logs"). Optional — a Bridge with no sampler attached
// just omits the extra fields. Returns b for chaining.
func (b *Bridge) WithHealthSampler(h *HealthSampler) *Bridge {
	b.health = h
	return b
}

// NewTelemetrySample builds a TelemetrySample from a radar target's fields.
func NewTelemetrySample(speed, x, y int16, distance float64, triggered bool) TelemetrySample {
	return TelemetrySample{Speed: speed, X: x, Y: y, Distance: distance, Triggered: triggered}
}

// Run drives the reconnect loop until ctx is cancelled. samples delivers
// outbound telemetry; each value is rate-limited to egressRateHz before
// being sent as a target_data event.
func (b *Bridge) Run(ctx context.Context, samples <-chan TelemetrySample) {
	sessionCount := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		sessionID := uuid.NewString()
		sessionCount++
		log := b.logger.With("session", sessionID, "attempt", sessionCount)

		if err := b.runSession(ctx, log, samples); err != nil {
			args := []any{"error", err, "retry_in", reconnectDelay}
			if b.health != nil {
				stats := b.health.Stats()
				args = append(args,
					"host_cpu_percent", stats.CPUPercent,
					"host_mem_percent", stats.MemoryPercent,
					"host_load1", stats.LoadAverage1,
				)
			}
			log.Warn("bridge session ended, reconnecting", args...)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

// runSession dials, joins radar:config, and services the connection until
// it errors, the join times out, or ctx is cancelled.
func (b *Bridge) runSession(ctx context.Context, log *slog.Logger, samples <-chan TelemetrySample) error {
	wsURL, err := b.wsURL()
	if err != nil {
		return fmt.Errorf("building websocket url: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dialing: %w", err)
	}
	defer conn.Close()

	log.Info("bridge connected", "url", b.apiURL)

	if err := b.join(conn); err != nil {
		return err
	}
	log.Info("joined radar:config channel")

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	inbound := make(chan phoenixFrame, 16)
	readErr := make(chan error, 1)
	go b.readLoop(conn, inbound, readErr)

	ref := 1
	for {
		select {
		case <-sessionCtx.Done():
			return nil

		case err := <-readErr:
			return err

		case frame := <-inbound:
			b.handleInbound(log, frame)

		case sample, ok := <-samples:
			if !ok {
				samples = nil
				continue
			}
			if !b.limiter.Allow() {
				continue
			}
			ref++
			if err := b.sendTargetData(conn, ref, sample); err != nil {
				return fmt.Errorf("sending target_data: %w", err)
			}
		}
	}
}

func (b *Bridge) wsURL() (string, error) {
	u, err := url.Parse(b.apiURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/socket/websocket"
	q := u.Query()
	q.Set("api_key", b.apiKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (b *Bridge) join(conn *websocket.Conn) error {
	joinRef := "1"
	ref := "1"
	frame := phoenixFrame{
		JoinRef: &joinRef,
		Ref:     &ref,
		Topic:   topicConfig,
		Event:   eventJoin,
		Payload: json.RawMessage("{}"),
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encoding join frame: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("writing join frame: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(joinTimeout))
	defer conn.SetReadDeadline(time.Time{})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("waiting for join reply: %w", err)
		}
		var reply phoenixFrame
		if err := json.Unmarshal(raw, &reply); err != nil {
			continue
		}
		if reply.Event != eventReply || reply.Topic != topicConfig {
			continue
		}
		var payload phxReplyPayload
		if err := json.Unmarshal(reply.Payload, &payload); err != nil {
			return fmt.Errorf("decoding join reply payload: %w", err)
		}
		if payload.Status != replyStatusOK {
			return fmt.Errorf("join rejected: status=%s", payload.Status)
		}
		return nil
	}
}

func (b *Bridge) readLoop(conn *websocket.Conn, out chan<- phoenixFrame, errc chan<- error) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			errc <- err
			return
		}
		var frame phoenixFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			continue
		}
		out <- frame
	}
}

func (b *Bridge) handleInbound(log *slog.Logger, frame phoenixFrame) {
	if frame.Event != eventConfigUpdated {
		return
	}
	var payload configPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		log.Warn("discarding malformed config_updated payload", "error", err)
		return
	}
	if !payload.complete() {
		log.Warn("discarding incomplete config_updated payload")
		return
	}

	cfg := pipeline.RadarConfig{
		AuthorizedSpeed:   *payload.AuthorizedSpeed,
		MinDist:           *payload.MinDist,
		MaxDist:           *payload.MaxDist,
		TriggerCooldownMs: *payload.TriggerCooldown,
	}
	if err := cfg.Validate(); err != nil {
		log.Warn("discarding invalid config_updated payload", "error", err)
		return
	}
	if b.onConfig != nil {
		b.onConfig(cfg)
	}
}

func (b *Bridge) sendTargetData(conn *websocket.Conn, ref int, s TelemetrySample) error {
	refStr := fmt.Sprintf("%d", ref)
	payload := targetDataPayload{
		Speed:     s.Speed,
		X:         s.X,
		Y:         s.Y,
		Distance:  s.Distance,
		Triggered: s.Triggered,
	}
	payloadData, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	frame := phoenixFrame{
		Ref:     &refStr,
		Topic:   topicConfig,
		Event:   eventTargetData,
		Payload: payloadData,
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}
