package events_test

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/rtbridge/pkg/realtime/events"
)

func TestCatalog_TypesMatchSchemas(t *testing.T) {
	t.Parallel()
	types := events.Types()
	if len(types) != 37 {
		t.Errorf("catalog has %d types, want 37", len(types))
	}
	for _, typ := range types {
		ev := events.New(typ)
		if ev == nil {
			t.Fatalf("New(%q) = nil", typ)
		}
		if got := ev.EventType(); got != typ {
			t.Errorf("New(%q).EventType() = %q", typ, got)
		}
	}
	if events.New("nope") != nil {
		t.Error("New of unknown type should be nil")
	}
}

func TestClientEvents_MarshalWithType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ev   events.ClientEvent
		want string
	}{
		{
			name: "clear",
			ev:   &events.InputAudioBufferClear{},
			want: `{"type":"input_audio_buffer.clear"}`,
		},
		{
			name: "truncate",
			ev:   &events.ConversationItemTruncate{ItemID: "item_1", ContentIndex: 0, AudioEndMS: 1500},
			want: `{"type":"conversation.item.truncate","item_id":"item_1","content_index":0,"audio_end_ms":1500}`,
		},
		{
			name: "response create with config",
			ev: &events.ResponseCreate{Response: &events.ResponseConfig{
				Temperature:     0.8,
				MaxOutputTokens: 1024,
			}},
			want: `{"type":"response.create","response":{"temperature":0.8,"max_output_tokens":1024}}`,
		},
		{
			name: "cancel",
			ev:   &events.ResponseCancel{},
			want: `{"type":"response.cancel"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := tt.ev.EventHeader()
			h.Type = tt.ev.EventType()
			b, err := json.Marshal(tt.ev)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if string(b) != tt.want {
				t.Errorf("got  %s\nwant %s", b, tt.want)
			}
		})
	}
}

func TestParseEnvelope(t *testing.T) {
	t.Parallel()

	env, err := events.ParseEnvelope([]byte(`{"type":"response.done","event_id":"evt_1","response":{}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.Type != events.TypeResponseDone || env.EventID != "evt_1" {
		t.Errorf("envelope = %+v", env)
	}

	if _, err := events.ParseEnvelope([]byte(`{"event_id":"x"}`)); !errors.Is(err, events.ErrMissingType) {
		t.Errorf("missing type: err = %v, want ErrMissingType", err)
	}
	if _, err := events.ParseEnvelope([]byte(`not json`)); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestDecode_ServerEvents(t *testing.T) {
	t.Parallel()

	raw := `{"type":"response.audio_transcript.delta","event_id":"e1","response_id":"r1","item_id":"i1","output_index":0,"content_index":1,"delta":"Hel"}`
	ev, err := events.Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	d, ok := ev.(*events.ResponseAudioTranscriptDelta)
	if !ok {
		t.Fatalf("Decode returned %T", ev)
	}
	if d.ResponseID != "r1" || d.ItemID != "i1" || d.ContentIndex != 1 || d.Delta != "Hel" || d.EventID != "e1" {
		t.Errorf("decoded = %+v", d)
	}

	raw = `{"type":"rate_limits.updated","rate_limits":[{"name":"tokens","limit":1000,"remaining":900,"reset_seconds":1.5}]}`
	ev, err = events.Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	rl := ev.(*events.RateLimitsUpdated)
	if len(rl.RateLimits) != 1 || rl.RateLimits[0].Remaining != 900 || rl.RateLimits[0].ResetSeconds != 1.5 {
		t.Errorf("rate limits = %+v", rl.RateLimits)
	}

	if _, err := events.Decode([]byte(`{"type":"made.up"}`)); !errors.Is(err, events.ErrUnknownType) {
		t.Errorf("unknown type: err = %v, want ErrUnknownType", err)
	}
}

func TestDecode_SessionCreated(t *testing.T) {
	t.Parallel()
	raw := `{
		"type": "session.created",
		"session": {
			"id": "sess_1",
			"model": "gpt-4o-realtime-preview-2024-10-01",
			"modalities": ["text", "audio"],
			"voice": "alloy",
			"input_audio_format": "pcm16",
			"turn_detection": {"type": "server_vad", "threshold": 0.5, "prefix_padding_ms": 300, "silence_duration_ms": 200},
			"max_response_output_tokens": "inf",
			"temperature": 0.8
		}
	}`
	ev, err := events.Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	s := ev.(*events.SessionCreated).Session
	if s.ID != "sess_1" || s.Voice != "alloy" || len(s.Modalities) != 2 {
		t.Errorf("session = %+v", s)
	}
	if s.TurnDetection == nil || s.TurnDetection.SilenceDurationMS != 200 {
		t.Errorf("turn detection = %+v", s.TurnDetection)
	}
	if s.MaxResponseOutputTokens != events.InfiniteTokens {
		t.Errorf("max tokens = %d, want InfiniteTokens", s.MaxResponseOutputTokens)
	}
}

func TestMaxTokens_JSON(t *testing.T) {
	t.Parallel()
	b, _ := json.Marshal(events.SessionConfig{MaxResponseOutputTokens: events.InfiniteTokens})
	if !strings.Contains(string(b), `"max_response_output_tokens":"inf"`) {
		t.Errorf("inf not encoded: %s", b)
	}
	b, _ = json.Marshal(events.SessionConfig{})
	if strings.Contains(string(b), "max_response_output_tokens") {
		t.Errorf("zero limit should be omitted: %s", b)
	}
	var m events.MaxTokens
	if err := json.Unmarshal([]byte(`4096`), &m); err != nil || m != 4096 {
		t.Errorf("unmarshal 4096 = %d, %v", m, err)
	}
	if err := json.Unmarshal([]byte(`"lots"`), &m); err == nil {
		t.Error("expected error for non-numeric limit")
	}
}

func TestNewAudioAppend(t *testing.T) {
	t.Parallel()
	ev := events.NewAudioAppend([]float32{0.5, -0.5, 1.0, -1.0})
	pcm, err := base64.StdEncoding.DecodeString(ev.Audio)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(pcm) != 8 {
		t.Errorf("pcm length = %d, want 8", len(pcm))
	}
	// 16383 little endian.
	if pcm[0] != 0xff || pcm[1] != 0x3f {
		t.Errorf("first sample bytes = %x %x, want ff 3f", pcm[0], pcm[1])
	}
}

func TestResponseAudioDelta_PCM16(t *testing.T) {
	t.Parallel()
	ev := &events.ResponseAudioDelta{Delta: base64.StdEncoding.EncodeToString([]byte{1, 2, 3, 4})}
	pcm, err := ev.PCM16()
	if err != nil {
		t.Fatalf("PCM16: %v", err)
	}
	if len(pcm) != 4 {
		t.Errorf("len = %d, want 4", len(pcm))
	}
	bad := &events.ResponseAudioDelta{Delta: "%%%"}
	if _, err := bad.PCM16(); err == nil {
		t.Error("expected base64 error")
	}
}

func TestNewTextMessage(t *testing.T) {
	t.Parallel()
	ev := events.NewTextMessage("msg_1", "hello")
	if ev.Item.ID != "msg_1" || ev.Item.Role != events.RoleUser || ev.Item.Type != events.ItemTypeMessage {
		t.Errorf("item = %+v", ev.Item)
	}
	if len(ev.Item.Content) != 1 || ev.Item.Content[0].Type != events.ContentInputText || ev.Item.Content[0].Text != "hello" {
		t.Errorf("content = %+v", ev.Item.Content)
	}
}

func TestErrorDetails_Error(t *testing.T) {
	t.Parallel()
	e := events.ErrorDetails{Code: "invalid_value", Message: "bad voice"}
	if got := e.Error(); got != "realtime: [invalid_value] bad voice" {
		t.Errorf("Error() = %q", got)
	}
}
