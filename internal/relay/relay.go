// Package relay publishes session events (captions, transcripts, state
// changes, interruptions, tool results) to an MQTT broker so other processes
// can follow the conversation.
//
// Publishing never blocks the caller: messages are handed to the paho client
// and completion is observed asynchronously.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/MrWong99/rtbridge/internal/observe"
)

// Topic suffixes appended to the configured prefix.
const (
	TopicCaptions    = "captions"
	TopicTranscripts = "transcripts"
	TopicState       = "state"
	TopicBargeIn     = "bargein"
	TopicTools       = "tools"
	TopicRateLimits  = "ratelimits"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
	disconnectMS   = 250
)

// ErrNotStarted is returned by Publish before Start succeeded.
var ErrNotStarted = errors.New("relay: not started")

// Client is the subset of [paho.Client] the relay uses.
type Client interface {
	Connect() paho.Token
	Publish(topic string, qos byte, retained bool, payload any) paho.Token
	Disconnect(quiesce uint)
	IsConnectionOpen() bool
}

// Config configures the MQTT connection.
type Config struct {
	BrokerURL   string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
}

// Message is the JSON envelope of every published payload.
type Message struct {
	Kind      string    `json:"kind"`
	SessionID string    `json:"session_id,omitempty"`
	Time      time.Time `json:"time"`
	Data      any       `json:"data"`
}

// Relay publishes [Message]s under Config.TopicPrefix.
type Relay struct {
	cfg       Config
	newClient func(*paho.ClientOptions) Client
	metrics   *observe.Metrics
	log       *slog.Logger
	now       func() time.Time

	mu        sync.RWMutex
	client    Client
	sessionID string

	wg sync.WaitGroup
}

// Option configures a [Relay].
type Option func(*Relay)

// WithClientFactory replaces paho.NewClient, e.g. with a fake in tests.
func WithClientFactory(fn func(*paho.ClientOptions) Client) Option {
	return func(r *Relay) { r.newClient = fn }
}

// WithMetrics records every publish in m.
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Relay) { r.metrics = m }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Relay) { r.log = l }
}

// WithClock sets the time source for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Relay) { r.now = now }
}

// New creates a relay. A missing client id gets a random one.
func New(cfg Config, opts ...Option) *Relay {
	if cfg.ClientID == "" {
		cfg.ClientID = "rtbridge-" + uuid.NewString()[:8]
	}
	r := &Relay{
		cfg:       cfg,
		newClient: func(o *paho.ClientOptions) Client { return paho.NewClient(o) },
		log:       slog.Default(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Start connects to the broker and disconnects when ctx is cancelled. The
// client reconnects on its own after connection loss.
func (r *Relay) Start(ctx context.Context) error {
	opts := paho.NewClientOptions().
		AddBroker(r.cfg.BrokerURL).
		SetClientID(r.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(connectTimeout)
	if r.cfg.Username != "" {
		opts.SetUsername(r.cfg.Username)
		opts.SetPassword(r.cfg.Password)
	}
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		r.log.Warn("relay: mqtt connection lost", "err", err)
	})
	opts.SetOnConnectHandler(func(paho.Client) {
		r.log.Info("relay: mqtt connected", "broker", r.cfg.BrokerURL)
	})

	c := r.newClient(opts)
	tok := c.Connect()
	if !tok.WaitTimeout(connectTimeout) {
		return fmt.Errorf("relay: connect %s: timed out", r.cfg.BrokerURL)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("relay: connect %s: %w", r.cfg.BrokerURL, err)
	}

	r.mu.Lock()
	r.client = c
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.Close()
	}()
	return nil
}

// Close waits for in-flight publishes and disconnects. Safe to call more
// than once.
func (r *Relay) Close() {
	r.mu.Lock()
	c := r.client
	r.client = nil
	r.mu.Unlock()
	if c == nil {
		return
	}
	r.wg.Wait()
	c.Disconnect(disconnectMS)
}

// SetSessionID sets the session id stamped on subsequent messages.
func (r *Relay) SetSessionID(id string) {
	r.mu.Lock()
	r.sessionID = id
	r.mu.Unlock()
}

// Topic returns the full topic for suffix.
func (r *Relay) Topic(suffix string) string {
	if r.cfg.TopicPrefix == "" {
		return suffix
	}
	return r.cfg.TopicPrefix + "/" + suffix
}

// Publish marshals data in a [Message] and publishes it on the topic for
// kind. It returns once the message is handed to the client; delivery
// errors are logged and counted.
func (r *Relay) Publish(kind string, data any) error {
	r.mu.RLock()
	c, sid := r.client, r.sessionID
	if c != nil {
		r.wg.Add(1)
	}
	r.mu.RUnlock()
	if c == nil {
		return ErrNotStarted
	}

	topic := r.Topic(kind)
	payload, err := json.Marshal(Message{Kind: kind, SessionID: sid, Time: r.now().UTC(), Data: data})
	if err != nil {
		r.wg.Done()
		r.record(topic, err)
		return fmt.Errorf("relay: marshal %s: %w", kind, err)
	}

	tok := c.Publish(topic, r.cfg.QoS, false, payload)
	go func() {
		defer r.wg.Done()
		var err error
		if !tok.WaitTimeout(publishTimeout) {
			err = errors.New("timed out")
		} else {
			err = tok.Error()
		}
		if err != nil {
			r.log.Warn("relay: publish", "topic", topic, "err", err)
		}
		r.record(topic, err)
	}()
	return nil
}

func (r *Relay) record(topic string, err error) {
	if r.metrics != nil {
		r.metrics.RecordPublish(context.Background(), topic, err)
	}
}
