package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// KnownTransports and KnownAudioBackends list the built-in registry names.
// Used by [Validate] to warn about unrecognised names.
var (
	KnownTransports    = []string{"coder", "gorilla"}
	KnownAudioBackends = []string{"miniaudio", "portaudio", "none"}
)

var validModalities = []string{"text", "audio"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// A relative session.instructions_file is resolved against the working
// directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and the
// API key environment fallback, and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := ApplyDefaults(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills empty fields, reads session.instructions_file and
// takes the API key from the environment when none is configured.
func ApplyDefaults(cfg *Config) error {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Realtime.APIKey == "" {
		cfg.Realtime.APIKey = os.Getenv(APIKeyEnv)
	}
	if cfg.Realtime.Transport == "" {
		cfg.Realtime.Transport = DefaultTransport
	}
	if cfg.Audio.Backend == "" {
		cfg.Audio.Backend = DefaultAudioBackend
	}
	if cfg.Audio.BufferSeconds == 0 {
		cfg.Audio.BufferSeconds = DefaultBufferSeconds
	}
	if cfg.Transcripts.QueueSize == 0 {
		cfg.Transcripts.QueueSize = DefaultQueueSize
	}
	if cfg.Relay.MQTT.TopicPrefix == "" {
		cfg.Relay.MQTT.TopicPrefix = DefaultTopicPrefix
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
	if path := cfg.Session.InstructionsFile; path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("config: session.instructions_file: %w", err)
		}
		cfg.Session.Instructions = strings.TrimSpace(string(b))
	}
	return nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Realtime
	if cfg.Realtime.APIKey == "" {
		errs = append(errs, fmt.Errorf("realtime.api_key is required (or set %s)", APIKeyEnv))
	}
	if u := cfg.Realtime.BaseURL; u != "" && !strings.HasPrefix(u, "ws://") && !strings.HasPrefix(u, "wss://") {
		errs = append(errs, fmt.Errorf("realtime.base_url %q must use the ws or wss scheme", u))
	}
	if cfg.Realtime.ReadLimit < 0 {
		errs = append(errs, fmt.Errorf("realtime.read_limit %d must not be negative", cfg.Realtime.ReadLimit))
	}
	rc := cfg.Realtime.Reconnect
	if rc.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("realtime.reconnect.max_retries %d must not be negative", rc.MaxRetries))
	}
	if rc.InitialBackoff < 0 || rc.MaxBackoff < 0 {
		errs = append(errs, errors.New("realtime.reconnect backoff durations must not be negative"))
	}
	if rc.MaxBackoff > 0 && rc.InitialBackoff > rc.MaxBackoff {
		errs = append(errs, fmt.Errorf("realtime.reconnect.initial_backoff %s exceeds max_backoff %s", rc.InitialBackoff, rc.MaxBackoff))
	}
	warnUnknown("transport", cfg.Realtime.Transport, KnownTransports)

	// Session
	errs = append(errs, validateSession(cfg.Session)...)

	// Audio
	if cfg.Audio.BufferSeconds < 0 {
		errs = append(errs, fmt.Errorf("audio.buffer_seconds %d must not be negative", cfg.Audio.BufferSeconds))
	}
	if cfg.Audio.FramesPerBuffer < 0 {
		errs = append(errs, fmt.Errorf("audio.frames_per_buffer %d must not be negative", cfg.Audio.FramesPerBuffer))
	}
	if cfg.Audio.Microphone.QueueBlocks < 0 {
		errs = append(errs, fmt.Errorf("audio.microphone.queue_blocks %d must not be negative", cfg.Audio.Microphone.QueueBlocks))
	}
	if cfg.Audio.Microphone.Enabled && cfg.Audio.Backend == "none" {
		errs = append(errs, errors.New("audio.microphone.enabled requires an audio backend other than none"))
	}
	warnUnknown("audio backend", cfg.Audio.Backend, KnownAudioBackends)

	// Transcripts
	if cfg.Transcripts.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("transcripts.queue_size %d must not be negative", cfg.Transcripts.QueueSize))
	}

	// Relay
	if m := cfg.Relay.MQTT; m.BrokerURL != "" {
		if m.QoS > 2 {
			errs = append(errs, fmt.Errorf("relay.mqtt.qos %d is out of range [0, 2]", m.QoS))
		}
		if m.Password != "" && m.Username == "" {
			errs = append(errs, errors.New("relay.mqtt.password is set without relay.mqtt.username"))
		}
	}

	return errors.Join(errs...)
}

func validateSession(s SessionConfig) []error {
	var errs []error
	if s.Temperature != 0 && (s.Temperature < 0.6 || s.Temperature > 1.2) {
		errs = append(errs, fmt.Errorf("session.temperature %.2f is out of range [0.6, 1.2]", s.Temperature))
	}
	if s.MaxOutputTokens < -1 || s.MaxOutputTokens > 4096 {
		errs = append(errs, fmt.Errorf("session.max_output_tokens %d is out of range [1, 4096] (-1 for unlimited)", s.MaxOutputTokens))
	}
	for i, m := range s.Modalities {
		if !slices.Contains(validModalities, m) {
			errs = append(errs, fmt.Errorf("session.modalities[%d] %q is invalid; valid values: text, audio", i, m))
		}
	}
	if td := s.TurnDetection; td != nil {
		if td.Type != "" && td.Type != "server_vad" {
			errs = append(errs, fmt.Errorf("session.turn_detection.type %q is invalid; valid values: server_vad", td.Type))
		}
		if td.Threshold < 0 || td.Threshold > 1 {
			errs = append(errs, fmt.Errorf("session.turn_detection.threshold %.2f is out of range [0, 1]", td.Threshold))
		}
		if td.PrefixPaddingMS < 0 || td.SilenceDurationMS < 0 {
			errs = append(errs, errors.New("session.turn_detection durations must not be negative"))
		}
	}
	return errs
}

// warnUnknown logs a warning if name is non-empty and not in known.
func warnUnknown(kind, name string, known []string) {
	if name == "" || slices.Contains(known, name) {
		return
	}
	slog.Warn("config: unknown name, may be a typo or a third-party registration",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
