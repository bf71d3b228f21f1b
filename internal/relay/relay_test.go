package relay_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/MrWong99/rtbridge/internal/relay"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func newToken(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { <-t.done; return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { <-t.done; return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type fakeClient struct {
	opts       *paho.ClientOptions
	connectErr error
	publishErr error

	mu           sync.Mutex
	msgs         []published
	disconnected bool
}

func (c *fakeClient) Connect() paho.Token { return newToken(c.connectErr) }

func (c *fakeClient) Publish(topic string, qos byte, _ bool, payload any) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, published{topic: topic, qos: qos, payload: payload.([]byte)})
	return newToken(c.publishErr)
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	c.disconnected = true
	c.mu.Unlock()
}

func (c *fakeClient) IsConnectionOpen() bool { return true }

func (c *fakeClient) messages() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]published(nil), c.msgs...)
}

func newRelay(t *testing.T, fc *fakeClient, cfg relay.Config) *relay.Relay {
	t.Helper()
	fixed := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	return relay.New(cfg,
		relay.WithClientFactory(func(o *paho.ClientOptions) relay.Client {
			fc.opts = o
			return fc
		}),
		relay.WithClock(func() time.Time { return fixed }),
	)
}

func TestRelay_PublishBeforeStart(t *testing.T) {
	t.Parallel()
	r := newRelay(t, &fakeClient{}, relay.Config{BrokerURL: "tcp://localhost:1883"})
	if err := r.Publish(relay.TopicCaptions, "x"); !errors.Is(err, relay.ErrNotStarted) {
		t.Errorf("want ErrNotStarted, got %v", err)
	}
}

func TestRelay_StartAndPublish(t *testing.T) {
	t.Parallel()
	fc := &fakeClient{}
	r := newRelay(t, fc, relay.Config{
		BrokerURL:   "tcp://broker:1883",
		ClientID:    "bridge-1",
		Username:    "u",
		Password:    "p",
		TopicPrefix: "home/bridge",
		QoS:         1,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if fc.opts.ClientID != "bridge-1" || fc.opts.Username != "u" {
		t.Errorf("client options not applied: id=%q user=%q", fc.opts.ClientID, fc.opts.Username)
	}

	r.SetSessionID("sess_1")
	if err := r.Publish(relay.TopicCaptions, map[string]string{"text": "hi"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	r.Close()

	msgs := fc.messages()
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].topic != "home/bridge/captions" || msgs[0].qos != 1 {
		t.Errorf("topic=%q qos=%d", msgs[0].topic, msgs[0].qos)
	}
	var m struct {
		Kind      string            `json:"kind"`
		SessionID string            `json:"session_id"`
		Time      time.Time         `json:"time"`
		Data      map[string]string `json:"data"`
	}
	if err := json.Unmarshal(msgs[0].payload, &m); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if m.Kind != "captions" || m.SessionID != "sess_1" || m.Data["text"] != "hi" {
		t.Errorf("message = %+v", m)
	}
	if !fc.disconnected {
		t.Error("Close should disconnect the client")
	}
}

func TestRelay_ConnectError(t *testing.T) {
	t.Parallel()
	fc := &fakeClient{connectErr: errors.New("refused")}
	r := newRelay(t, fc, relay.Config{BrokerURL: "tcp://broker:1883"})
	if err := r.Start(context.Background()); err == nil {
		t.Fatal("expected connect error")
	}
	if err := r.Publish(relay.TopicState, "open"); !errors.Is(err, relay.ErrNotStarted) {
		t.Errorf("publish after failed start: got %v", err)
	}
}

func TestRelay_PublishErrorIsNotReturned(t *testing.T) {
	t.Parallel()
	fc := &fakeClient{publishErr: errors.New("not connected")}
	r := newRelay(t, fc, relay.Config{BrokerURL: "tcp://broker:1883"})
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Close()
	if err := r.Publish(relay.TopicState, "open"); err != nil {
		t.Errorf("delivery errors are asynchronous, got %v", err)
	}
}

func TestRelay_RandomClientID(t *testing.T) {
	t.Parallel()
	fc := &fakeClient{}
	r := newRelay(t, fc, relay.Config{BrokerURL: "tcp://broker:1883"})
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Close()
	if len(fc.opts.ClientID) != len("rtbridge-")+8 {
		t.Errorf("client id = %q", fc.opts.ClientID)
	}
}

func TestRelay_UnmarshalableData(t *testing.T) {
	t.Parallel()
	fc := &fakeClient{}
	r := newRelay(t, fc, relay.Config{BrokerURL: "tcp://broker:1883"})
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Close()
	if err := r.Publish(relay.TopicTools, make(chan int)); err == nil {
		t.Error("expected marshal error")
	}
	if n := len(fc.messages()); n != 0 {
		t.Errorf("nothing should be published, got %d", n)
	}
}
