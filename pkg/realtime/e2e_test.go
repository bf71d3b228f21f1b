package realtime_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/rtbridge/pkg/audio"
	audiomock "github.com/MrWong99/rtbridge/pkg/audio/mock"
	"github.com/MrWong99/rtbridge/pkg/realtime"
	"github.com/MrWong99/rtbridge/pkg/realtime/events"
	"github.com/MrWong99/rtbridge/pkg/realtime/processor"
	"github.com/MrWong99/rtbridge/pkg/realtime/transport/coderws"
)

// startRealtimeServer serves a scripted realtime endpoint: after the
// handshake it writes frames in order, then records every client frame until
// the client closes.
func startRealtimeServer(t *testing.T, frames []any, received chan<- map[string]any, req chan<- *http.Request) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer conn.CloseNow()
		req <- r

		ctx := context.Background()
		for _, f := range frames {
			data, _ := json.Marshal(f)
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				return
			}
		}
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var m map[string]any
			if json.Unmarshal(data, &m) == nil {
				received <- m
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func pcmChunk(n int, v float32) string {
	s := make([]float32, n)
	for i := range s {
		s[i] = v
	}
	return base64.StdEncoding.EncodeToString(audio.EncodePCM16(s))
}

func TestEndToEnd_AudioResponsePlaysThroughBuffer(t *testing.T) {
	t.Parallel()

	const chunk = 240 // 10 ms at 24 kHz
	ref := map[string]any{"response_id": "resp_1", "item_id": "item_1", "output_index": 0, "content_index": 0}
	delta := func(v float32) map[string]any {
		m := map[string]any{"type": "response.audio.delta", "delta": pcmChunk(chunk, v)}
		for k, val := range ref {
			m[k] = val
		}
		return m
	}
	done := map[string]any{"type": "response.audio.done"}
	for k, val := range ref {
		done[k] = val
	}
	frames := []any{
		map[string]any{"type": "session.created", "session": map[string]any{"id": "sess_1", "voice": "alloy"}},
		map[string]any{"type": "response.created", "response": map[string]any{"id": "resp_1", "status": "in_progress"}},
		delta(0.5),
		delta(0.5),
		delta(-0.5),
		done,
	}

	received := make(chan map[string]any, 16)
	reqs := make(chan *http.Request, 1)
	srv := startRealtimeServer(t, frames, received, reqs)

	buf := audio.NewStreamingBuffer(audio.WireFormat, 1, audio.WithMeterProvider(noop.NewMeterProvider()))
	dev := audiomock.NewDevice(buf, chunk)
	buf.AttachOutput(dev)

	streamDone := make(chan processor.Stream, 1)
	sess := realtime.New(realtime.Config{
		BaseURL: "ws" + strings.TrimPrefix(srv.URL, "http"),
		APIKey:  "sk-e2e",
	},
		realtime.WithDialer(coderws.NewDialer()),
		realtime.WithMeterProvider(noop.NewMeterProvider()),
		realtime.WithProcessors(processor.NewAudio(buf, func(s processor.Stream) { streamDone <- s })),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sess.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := sess.AwaitOpen(ctx); err != nil {
		t.Fatalf("AwaitOpen: %v", err)
	}

	r := <-reqs
	if got := r.URL.Query().Get("model"); got != realtime.DefaultModel {
		t.Errorf("model query = %q, want %q", got, realtime.DefaultModel)
	}
	if got := r.Header.Get("Authorization"); got != "Bearer sk-e2e" {
		t.Errorf("Authorization = %q", got)
	}
	if got := r.Header.Get("OpenAI-Beta"); got != "realtime=v1" {
		t.Errorf("OpenAI-Beta = %q", got)
	}

	var st processor.Stream
	select {
	case st = <-streamDone:
	case <-ctx.Done():
		t.Fatal("response.audio.done never reached the audio processor")
	}
	if st.ItemID != "item_1" || st.Samples != 3*chunk {
		t.Errorf("stream = %+v, want item_1 with %d samples", st, 3*chunk)
	}
	if buf.Buffered() != 3*chunk {
		t.Fatalf("Buffered = %d, want %d", buf.Buffered(), 3*chunk)
	}
	if !dev.Running() {
		t.Fatal("playback device was not started by the first delta")
	}

	for i, want := range []float32{0.5, 0.5, -0.5} {
		out := dev.Pull()
		if len(out) != chunk {
			t.Fatalf("period %d: pulled %d samples, want %d", i, len(out), chunk)
		}
		for j, s := range out {
			if math.Abs(float64(s-want)) > 2.0/32768 {
				t.Fatalf("period %d sample %d = %v, want ~%v", i, j, s, want)
			}
		}
	}
	// response.audio.done arrived before the drain, so the tail is not underrun.
	if tail := dev.Pull(); tail[0] != 0 || buf.Underrun() != 0 {
		t.Errorf("after drain: first sample %v, underrun %d; want silence and 0", tail[0], buf.Underrun())
	}

	// Outbound path on the real transport.
	if err := sess.Send(ctx, &events.ResponseCreate{}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case m := <-received:
		if m["type"] != events.TypeResponseCreate {
			t.Errorf("server received %v, want response.create", m)
		}
	case <-ctx.Done():
		t.Fatal("server never received response.create")
	}

	if err := sess.Close(ctx); err != nil {
		t.Errorf("Close: %v", err)
	}
	if sess.State() != realtime.StateClosed {
		t.Errorf("state = %s, want closed", sess.State())
	}
}
