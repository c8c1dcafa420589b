package bridge

import (
	"encoding/json"
	"fmt"
)

// Phoenix channel messages travel as 5-element JSON arrays:
// [join_ref, ref, topic, event, payload]. No Phoenix client library appears
// anywhere in the retrieval pack (the original Rust source used
// phoenix_channels_client), so the wire format is encoded directly over
// gorilla/websocket — the pack's one WebSocket library — the same way
// Generativebots-ocx-backend-go-svc's fabric.WebSocketSpoke hand-rolls its
// own JSON envelope around gorilla/websocket frames.
type phoenixFrame struct {
	JoinRef *string
	Ref     *string
	Topic   string
	Event   string
	Payload json.RawMessage
}

func (f phoenixFrame) MarshalJSON() ([]byte, error) {
	arr := [5]any{
		nullableString(f.JoinRef),
		nullableString(f.Ref),
		f.Topic,
		f.Event,
		rawOrEmptyObject(f.Payload),
	}
	return json.Marshal(arr)
}

func (f *phoenixFrame) UnmarshalJSON(data []byte) error {
	var raw [5]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("bridge: decoding phoenix frame: %w", err)
	}
	f.JoinRef = decodeNullableString(raw[0])
	f.Ref = decodeNullableString(raw[1])
	if err := json.Unmarshal(raw[2], &f.Topic); err != nil {
		return fmt.Errorf("bridge: decoding frame topic: %w", err)
	}
	if err := json.Unmarshal(raw[3], &f.Event); err != nil {
		return fmt.Errorf("bridge: decoding frame event: %w", err)
	}
	f.Payload = raw[4]
	return nil
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func decodeNullableString(raw json.RawMessage) *string {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	return &s
}

func rawOrEmptyObject(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("{}")
	}
	return raw
}

// phxReplyPayload is the payload shape of a "phx_reply" frame.
type phxReplyPayload struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

const (
	eventJoin          = "phx_join"
	eventReply         = "phx_reply"
	eventHeartbeat     = "heartbeat"
	eventConfigUpdated = "config_updated"
	eventTargetData    = "target_data"

	topicConfig   = "radar:config"
	replyStatusOK = "ok"
)

// configPayload is the expected shape of a config_updated event (spec.md
// §4.5): integer authorized_speed, float min_dist/max_dist, integer
// trigger_cooldown in milliseconds. Binary or schema-incompatible payloads
// are dropped by the caller (with a warning log), not here.
type configPayload struct {
	AuthorizedSpeed *int16   `json:"authorized_speed"`
	MinDist         *float64 `json:"min_dist"`
	MaxDist         *float64 `json:"max_dist"`
	TriggerCooldown *int64   `json:"trigger_cooldown"`
}

func (p configPayload) complete() bool {
	return p.AuthorizedSpeed != nil && p.MinDist != nil && p.MaxDist != nil && p.TriggerCooldown != nil
}

// targetDataPayload is the outbound shape of a target_data event.
type targetDataPayload struct {
	Speed     int16   `json:"speed"`
	X         int16   `json:"x"`
	Y         int16   `json:"y"`
	Distance  float64 `json:"distance"`
	Triggered bool    `json:"triggered"`
}
