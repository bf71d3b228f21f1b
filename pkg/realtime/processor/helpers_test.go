package processor_test

import (
	"context"
	"encoding/base64"
	"sync"
	"testing"

	"github.com/MrWong99/rtbridge/pkg/audio"
	"github.com/MrWong99/rtbridge/pkg/realtime/dispatch"
	"github.com/MrWong99/rtbridge/pkg/realtime/events"
	"go.opentelemetry.io/otel/metric/noop"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// fakeSender records every event passed to Send.
type fakeSender struct {
	mu   sync.Mutex
	sent []events.ClientEvent
	err  error
}

func (f *fakeSender) Send(_ context.Context, ev events.ClientEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	ev.EventHeader().Type = ev.EventType()
	f.sent = append(f.sent, ev)
	return nil
}

func (f *fakeSender) events() []events.ClientEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]events.ClientEvent, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeSender) types() []string {
	var out []string
	for _, ev := range f.events() {
		out = append(out, ev.EventType())
	}
	return out
}

// feed routes one raw frame through p the way the session would.
func feed(t *testing.T, p dispatch.Processor, raw string) {
	t.Helper()
	env, err := events.ParseEnvelope([]byte(raw))
	if err != nil {
		t.Fatalf("ParseEnvelope(%s): %v", raw, err)
	}
	if !p.CanProcess(env.Type) {
		t.Fatalf("%s cannot process %q", p.Name(), env.Type)
	}
	if _, err := p.Process(env.Type, []byte(raw)); err != nil {
		t.Fatalf("Process(%s): %v", env.Type, err)
	}
}

// pcmDelta returns the base64 PCM16 encoding of n samples of value v.
func pcmDelta(n int, v float32) string {
	s := make([]float32, n)
	for i := range s {
		s[i] = v
	}
	return base64.StdEncoding.EncodeToString(audio.EncodePCM16(s))
}

// newPlayback returns a 1 kHz mono buffer, so one sample is one millisecond.
func newPlayback() *audio.StreamingBuffer {
	return audio.NewStreamingBuffer(audio.Format{SampleRate: 1000, Channels: 1}, 1,
		audio.WithMeterProvider(noop.NewMeterProvider()),
	)
}
