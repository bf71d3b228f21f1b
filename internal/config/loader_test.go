package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/rtbridge/internal/config"
)

const minimalYAML = `
realtime:
  api_key: sk-test
`

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != config.DefaultListenAddr {
		t.Errorf("listen_addr: got %q, want %q", cfg.Server.ListenAddr, config.DefaultListenAddr)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level: got %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
	if cfg.Realtime.Transport != config.DefaultTransport {
		t.Errorf("transport: got %q, want %q", cfg.Realtime.Transport, config.DefaultTransport)
	}
	if cfg.Audio.Backend != config.DefaultAudioBackend {
		t.Errorf("audio.backend: got %q, want %q", cfg.Audio.Backend, config.DefaultAudioBackend)
	}
	if cfg.Audio.BufferSeconds != config.DefaultBufferSeconds {
		t.Errorf("buffer_seconds: got %d, want %d", cfg.Audio.BufferSeconds, config.DefaultBufferSeconds)
	}
	if cfg.Telemetry.ServiceName != config.DefaultServiceName {
		t.Errorf("service_name: got %q", cfg.Telemetry.ServiceName)
	}
	if !cfg.Session.BargeInEnabled() {
		t.Error("barge-in should default to enabled")
	}
}

func TestLoadFromReader_FullConfig(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  listen_addr: ":9090"
  log_level: debug
realtime:
  base_url: ws://localhost:1234/v1/realtime
  api_key: sk-test
  model: gpt-4o-mini-realtime-preview
  transport: gorilla
  event_ids: true
  read_limit: 1048576
  reconnect:
    enabled: true
    max_retries: 3
    initial_backoff: 500ms
    max_backoff: 10s
session:
  instructions: Be brief.
  voice: verse
  temperature: 0.7
  max_output_tokens: -1
  modalities: [text, audio]
  input_transcription_model: whisper-1
  turn_detection:
    type: server_vad
    threshold: 0.6
    silence_duration_ms: 400
  barge_in: false
audio:
  backend: portaudio
  frames_per_buffer: 480
  microphone:
    enabled: true
    queue_blocks: 32
transcripts:
  postgres_dsn: postgres://localhost/rtbridge
relay:
  mqtt:
    broker_url: tcp://localhost:1883
    username: bridge
    password: secret
    qos: 1
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Realtime.Reconnect.InitialBackoff != 500*time.Millisecond {
		t.Errorf("initial_backoff: got %s", cfg.Realtime.Reconnect.InitialBackoff)
	}
	if cfg.Realtime.Reconnect.MaxBackoff != 10*time.Second {
		t.Errorf("max_backoff: got %s", cfg.Realtime.Reconnect.MaxBackoff)
	}
	if cfg.Session.MaxOutputTokens != -1 {
		t.Errorf("max_output_tokens: got %d, want -1", cfg.Session.MaxOutputTokens)
	}
	if cfg.Session.TurnDetection == nil || cfg.Session.TurnDetection.SilenceDurationMS != 400 {
		t.Errorf("turn_detection: got %+v", cfg.Session.TurnDetection)
	}
	if cfg.Session.BargeInEnabled() {
		t.Error("barge_in: false should disable barge-in")
	}
	if !cfg.Audio.Microphone.Enabled || cfg.Audio.Microphone.QueueBlocks != 32 {
		t.Errorf("microphone: got %+v", cfg.Audio.Microphone)
	}
	if cfg.Relay.MQTT.TopicPrefix != config.DefaultTopicPrefix {
		t.Errorf("topic_prefix: got %q", cfg.Relay.MQTT.TopicPrefix)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	yaml := `
realtime:
  api_key: sk-test
  api_kee: typo
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestLoadFromReader_APIKeyFromEnv(t *testing.T) {
	t.Setenv(config.APIKeyEnv, "sk-env")
	cfg, err := config.LoadFromReader(strings.NewReader("server:\n  log_level: warn\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Realtime.APIKey != "sk-env" {
		t.Errorf("api_key: got %q, want sk-env", cfg.Realtime.APIKey)
	}
}

func TestLoadFromReader_FileKeyWinsOverEnv(t *testing.T) {
	t.Setenv(config.APIKeyEnv, "sk-env")
	cfg, err := config.LoadFromReader(strings.NewReader(minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Realtime.APIKey != "sk-test" {
		t.Errorf("api_key: got %q, want sk-test", cfg.Realtime.APIKey)
	}
}

func TestLoadFromReader_MissingAPIKey(t *testing.T) {
	t.Setenv(config.APIKeyEnv, "")
	_, err := config.LoadFromReader(strings.NewReader(""))
	if err == nil {
		t.Fatal("expected error without api key, got nil")
	}
	if !strings.Contains(err.Error(), "realtime.api_key") {
		t.Errorf("error should mention realtime.api_key, got: %v", err)
	}
}

func TestLoad_InstructionsFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	instr := filepath.Join(dir, "prompt.txt")
	writeFile(t, instr, "  You are a helpful assistant.\n")
	cfgPath := filepath.Join(dir, "config.yaml")
	writeFile(t, cfgPath, minimalYAML+"session:\n  instructions: ignored\n  instructions_file: "+instr+"\n")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Session.Instructions != "You are a helpful assistant." {
		t.Errorf("instructions: got %q", cfg.Session.Instructions)
	}
}

func TestLoad_NotFound(t *testing.T) {
	t.Parallel()
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("want os.ErrNotExist, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "bad log level",
			yaml:    "server:\n  log_level: loud\n",
			wantErr: "server.log_level",
		},
		{
			name:    "http base url",
			yaml:    "realtime:\n  api_key: k\n  base_url: https://api.openai.com\n",
			wantErr: "ws or wss",
		},
		{
			name:    "temperature too low",
			yaml:    "session:\n  temperature: 0.2\n",
			wantErr: "session.temperature",
		},
		{
			name:    "too many tokens",
			yaml:    "session:\n  max_output_tokens: 5000\n",
			wantErr: "session.max_output_tokens",
		},
		{
			name:    "bad modality",
			yaml:    "session:\n  modalities: [video]\n",
			wantErr: "session.modalities[0]",
		},
		{
			name:    "bad turn detection type",
			yaml:    "session:\n  turn_detection:\n    type: semantic\n",
			wantErr: "session.turn_detection.type",
		},
		{
			name:    "backoff order",
			yaml:    "realtime:\n  api_key: k\n  reconnect:\n    initial_backoff: 5s\n    max_backoff: 1s\n",
			wantErr: "exceeds max_backoff",
		},
		{
			name:    "microphone without backend",
			yaml:    "audio:\n  backend: none\n  microphone:\n    enabled: true\n",
			wantErr: "audio.microphone.enabled",
		},
		{
			name:    "mqtt qos",
			yaml:    "relay:\n  mqtt:\n    broker_url: tcp://x:1883\n    qos: 3\n",
			wantErr: "relay.mqtt.qos",
		},
		{
			name:    "mqtt password without user",
			yaml:    "relay:\n  mqtt:\n    broker_url: tcp://x:1883\n    password: p\n",
			wantErr: "relay.mqtt.password",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			doc := tt.yaml
			if !strings.HasPrefix(doc, "realtime:") {
				doc = minimalYAML + doc
			}
			_, err := config.LoadFromReader(strings.NewReader(doc))
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error should contain %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidate_JoinsAllErrors(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server:   config.ServerConfig{LogLevel: "loud"},
		Realtime: config.RealtimeConfig{APIKey: "k", ReadLimit: -1},
		Session:  config.SessionConfig{Temperature: 3},
	}
	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	for _, want := range []string{"server.log_level", "realtime.read_limit", "session.temperature"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error missing %q: %v", want, err)
		}
	}
}
