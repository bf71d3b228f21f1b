// Package app wires the rtbridge subsystems into a running client.
//
// The App struct owns the full lifecycle: New builds the realtime session,
// the audio path, the processors and the optional transcript store and MQTT
// relay; Run connects and blocks until the context is cancelled; Shutdown
// tears everything down in order.
//
// For testing, inject doubles via functional options (WithTranscriptStore,
// WithRelayClientFactory, etc.) and register mock transports and audio
// backends in the [config.Registry] passed to New.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/rtbridge/internal/config"
	"github.com/MrWong99/rtbridge/internal/health"
	"github.com/MrWong99/rtbridge/internal/observe"
	"github.com/MrWong99/rtbridge/internal/relay"
	"github.com/MrWong99/rtbridge/internal/resilience"
	"github.com/MrWong99/rtbridge/internal/transcript"
	"github.com/MrWong99/rtbridge/internal/transcript/postgres"
	"github.com/MrWong99/rtbridge/pkg/audio"
	"github.com/MrWong99/rtbridge/pkg/realtime"
	"github.com/MrWong99/rtbridge/pkg/realtime/dispatch"
	"github.com/MrWong99/rtbridge/pkg/realtime/input"
	"github.com/MrWong99/rtbridge/pkg/realtime/processor"
	"github.com/MrWong99/rtbridge/pkg/realtime/tools"
	"github.com/MrWong99/rtbridge/pkg/realtime/tools/builtin"
)

// ErrMicrophoneDisabled is returned by the microphone controls when no
// capture device is configured.
var ErrMicrophoneDisabled = errors.New("app: microphone not configured")

// App owns all subsystem lifetimes of one realtime client.
type App struct {
	cfg     *config.Config
	reg     *config.Registry
	log     *slog.Logger
	level   *slog.LevelVar
	mp      metric.MeterProvider
	metrics *observe.Metrics
	now     func() time.Time

	// Subsystems, initialised in New and torn down in Shutdown.
	tools        *tools.Registry
	session      *realtime.Session
	manager      *SessionManager
	buffer       *audio.StreamingBuffer
	device       audio.Device
	audio        *processor.Audio
	configurator *processor.SessionConfigurator
	conversation *processor.Conversation
	latency      *processor.Latency
	rateLimits   *processor.RateLimits
	toolCalls    *processor.ToolCalls
	mic          *input.Microphone
	text         *input.Text
	store        transcript.Store
	storeBreaker *resilience.CircuitBreaker
	recorder     *transcript.Recorder
	relay        *relay.Relay
	relayFactory func(*paho.ClientOptions) relay.Client

	bargeIn bool
	wasOpen atomic.Bool
	giveUp  chan error

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithTranscriptStore injects a transcript store instead of creating one
// from config.
func WithTranscriptStore(s transcript.Store) Option {
	return func(a *App) { a.store = s }
}

// WithRelayClientFactory overrides how the relay creates its MQTT client.
func WithRelayClientFactory(fn func(*paho.ClientOptions) relay.Client) Option {
	return func(a *App) { a.relayFactory = fn }
}

// WithToolRegistry replaces the built-in tool set.
func WithToolRegistry(r *tools.Registry) Option {
	return func(a *App) { a.tools = r }
}

// WithMetrics sets the application metrics. Defaults to
// observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMeterProvider sets the meter provider handed to the session and the
// playback buffer. Defaults to the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(a *App) { a.mp = mp }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithLevelVar lets ApplyConfig change the log level of a running process.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Transports and audio
// backends are created through reg. New does not connect; Run does.
func New(ctx context.Context, cfg *config.Config, reg *config.Registry, opts ...Option) (*App, error) {
	a := &App{
		cfg:     cfg,
		reg:     reg,
		now:     time.Now,
		bargeIn: cfg.Session.BargeInEnabled(),
		giveUp:  make(chan error, 1),
	}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.mp == nil {
		a.mp = otel.GetMeterProvider()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Tools ─────────────────────────────────────────────────────────
	if err := a.initTools(); err != nil {
		return nil, fmt.Errorf("app: init tools: %w", err)
	}

	// ── 2. Realtime session ──────────────────────────────────────────────
	if err := a.initSession(); err != nil {
		return nil, fmt.Errorf("app: init session: %w", err)
	}

	// ── 3. Audio ─────────────────────────────────────────────────────────
	if err := a.initAudio(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init audio: %w", err)
	}

	// ── 4. Transcripts ───────────────────────────────────────────────────
	if err := a.initTranscripts(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init transcripts: %w", err)
	}

	// ── 5. Relay ─────────────────────────────────────────────────────────
	a.initRelay()

	// ── 6. Processors and inputs ─────────────────────────────────────────
	a.initProcessors()
	a.initInputs()

	// ── 7. Lifecycle ─────────────────────────────────────────────────────
	a.manager = NewSessionManager(SessionManagerConfig{
		Session:   a.session,
		Model:     cfg.Realtime.Model,
		Reconnect: cfg.Realtime.Reconnect,
		OnOpen:    a.onOpen,
		OnGiveUp: func(err error) {
			select {
			case a.giveUp <- err:
			default:
			}
		},
		Metrics: a.metrics,
		Logger:  a.log,
	})
	a.session.OnStateChange(a.onState)

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initTools() error {
	if a.tools != nil {
		return nil
	}
	a.tools = tools.NewRegistry()
	return builtin.Register(a.tools, nil)
}

func (a *App) initSession() error {
	dialer, err := a.reg.CreateTransport(a.cfg.Realtime)
	if err != nil {
		return err
	}
	rc := a.cfg.Realtime
	a.session = realtime.New(realtime.Config{
		BaseURL:    rc.BaseURL,
		APIKey:     rc.APIKey,
		Model:      rc.Model,
		BetaHeader: rc.BetaHeader,
	},
		realtime.WithDialer(dialer),
		realtime.WithLogger(a.log),
		realtime.WithMeterProvider(a.mp),
		realtime.WithEventIDs(rc.EventIDs),
	)
	return nil
}

// initAudio creates the playback buffer and the device behind it. A backend
// may return no device, in which case audio is decoded but not played.
func (a *App) initAudio() error {
	a.buffer = audio.NewStreamingBuffer(audio.WireFormat, a.cfg.Audio.BufferSeconds,
		audio.WithMeterProvider(a.mp),
		audio.WithLogger(a.log),
	)
	dev, err := a.reg.CreateAudio(a.cfg.Audio, a.buffer)
	if err != nil {
		return err
	}
	if dev == nil {
		a.log.Info("app: audio playback disabled", "backend", a.cfg.Audio.Backend)
		return nil
	}
	a.device = dev
	a.buffer.AttachOutput(dev)
	a.closers = append(a.closers, dev.Close)
	return nil
}

// initTranscripts sets up PostgreSQL when a DSN is configured and an
// in-memory store otherwise.
func (a *App) initTranscripts(ctx context.Context) error {
	if a.store == nil {
		if dsn := a.cfg.Transcripts.PostgresDSN; dsn != "" {
			s, err := postgres.New(ctx, dsn)
			if err != nil {
				return err
			}
			a.store = s
		} else {
			a.store = transcript.NewMemoryStore()
		}
	}
	a.closers = append(a.closers, a.store.Close)
	a.storeBreaker = resilience.New(resilience.Config{
		Name:   "transcripts",
		Logger: a.log,
	})
	a.recorder = transcript.NewRecorder(a.store,
		transcript.WithQueueSize(a.cfg.Transcripts.QueueSize),
		transcript.WithBreaker(a.storeBreaker),
		transcript.WithMetrics(a.metrics),
		transcript.WithLogger(a.log),
	)
	return nil
}

func (a *App) initRelay() {
	mc := a.cfg.Relay.MQTT
	if mc.BrokerURL == "" {
		return
	}
	opts := []relay.Option{
		relay.WithMetrics(a.metrics),
		relay.WithLogger(a.log),
	}
	if a.relayFactory != nil {
		opts = append(opts, relay.WithClientFactory(a.relayFactory))
	}
	a.relay = relay.New(relay.Config{
		BrokerURL:   mc.BrokerURL,
		ClientID:    mc.ClientID,
		Username:    mc.Username,
		Password:    mc.Password,
		TopicPrefix: mc.TopicPrefix,
		QoS:         mc.QoS,
	}, opts...)
}

// initProcessors registers the processors in dispatch order.
func (a *App) initProcessors() {
	popts := []processor.Option{processor.WithLogger(a.log)}

	info := dispatch.New("session-info")
	dispatch.MustRegister(info, a.onSessionCreated)
	a.session.AddProcessor(info)

	a.configurator = processor.NewSessionConfigurator(a.session, a.settings(a.cfg.Session), a.onSessionUpdated, popts...)
	a.session.AddProcessor(a.configurator)

	a.audio = processor.NewAudio(a.buffer, a.onStreamDone, popts...)
	a.session.AddProcessor(a.audio)

	if a.bargeIn {
		a.session.AddProcessor(processor.NewBargeIn(a.session, a.audio, a.onBargeIn, popts...))
	}

	a.session.AddProcessor(processor.NewCaptions(a.onCaption))
	a.session.AddProcessor(processor.NewTranscription(a.onTranscript, a.onTranscriptFailed))
	a.session.AddProcessor(processor.NewSpeechActivity(a.onSpeech))

	a.latency = processor.NewLatency(a.onLatency, popts...)
	a.session.AddProcessor(a.latency)

	a.toolCalls = processor.NewToolCalls(a.session, a.tools, a.onToolDone, popts...)
	a.session.AddProcessor(a.toolCalls)

	a.conversation = processor.NewConversation(a.onResponse)
	a.session.AddProcessor(a.conversation)

	a.rateLimits = processor.NewRateLimits(a.onRateLimits)
	a.session.AddProcessor(a.rateLimits)

	a.session.AddProcessor(processor.NewErrors(nil, popts...))
}

func (a *App) initInputs() {
	var topts []input.TextOption
	if a.cfg.Session.Temperature > 0 {
		topts = append(topts, input.WithTemperature(a.cfg.Session.Temperature))
	}
	if n := a.cfg.Session.MaxOutputTokens; n != 0 {
		topts = append(topts, input.WithMaxOutputTokens(maxTokens(n)))
	}
	if len(a.cfg.Session.Modalities) > 0 {
		topts = append(topts, input.WithModalities(a.cfg.Session.Modalities...))
	}
	a.text = input.NewText(a.session, topts...)

	mc := a.cfg.Audio.Microphone
	if !mc.Enabled || a.device == nil {
		return
	}
	a.mic = input.NewMicrophone(a.session, a.device,
		input.WithQueueBlocks(mc.QueueBlocks),
		input.WithMicLogger(a.log),
	)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run connects the session and blocks until ctx is cancelled or reconnection
// was abandoned. A clean cancellation returns nil.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.recorder.Run(gctx)
	})

	if a.relay != nil {
		g.Go(func() error {
			// The relay is optional; the session runs without it.
			if err := a.relay.Start(gctx); err != nil {
				a.log.Warn("app: relay unavailable", "err", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		if err := a.manager.Start(gctx); err != nil {
			return err
		}
		select {
		case <-gctx.Done():
			return nil
		case err := <-a.giveUp:
			return err
		}
	})

	a.log.Info("app: running",
		"model", a.cfg.Realtime.Model,
		"audio", a.cfg.Audio.Backend,
		"microphone", a.mic != nil,
		"barge_in", a.bargeIn,
		"tools", a.tools.Names(),
	)
	return g.Wait()
}

// onOpen runs after the session opened or re-opened.
func (a *App) onOpen() {
	if a.mic == nil || a.mic.Running() {
		return
	}
	if err := a.mic.Start(context.Background()); err != nil {
		a.log.Warn("app: start microphone", "err", err)
	}
}

// ─── Controls ────────────────────────────────────────────────────────────────

// SendText sends a typed user message and requests a response. It returns
// the id of the created item.
func (a *App) SendText(ctx context.Context, text string) (string, error) {
	return a.text.Send(ctx, text)
}

// StartMicrophone starts streaming the capture device.
func (a *App) StartMicrophone(ctx context.Context) error {
	if a.mic == nil {
		return ErrMicrophoneDisabled
	}
	return a.mic.Start(ctx)
}

// StopMicrophone stops capture and commits the input buffer.
func (a *App) StopMicrophone(ctx context.Context) error {
	if a.mic == nil {
		return ErrMicrophoneDisabled
	}
	return a.mic.Stop(ctx)
}

// Session returns the realtime session.
func (a *App) Session() *realtime.Session { return a.session }

// Info returns metadata about the active session.
func (a *App) Info() SessionInfo { return a.manager.Info() }

// ApplyConfig applies the hot-reloadable parts of a config change. Sections
// that need a restart are logged and otherwise ignored.
func (a *App) ApplyConfig(diff config.ConfigDiff) {
	if diff.LogLevelChanged && a.level != nil {
		a.level.Set(diff.NewLogLevel.Level())
		a.log.Info("app: log level changed", "level", diff.NewLogLevel)
	}
	if diff.SessionChanged {
		if diff.Session.BargeInEnabled() != a.bargeIn {
			a.log.Warn("app: barge_in change takes effect after restart")
		}
		if err := a.configurator.Update(a.settings(diff.Session)); err != nil {
			a.log.Warn("app: push session settings", "err", err)
		} else {
			a.log.Info("app: session settings updated")
		}
	}
	for _, section := range diff.RestartRequired {
		a.log.Warn("app: config change requires restart", "section", section)
	}
}

// ─── Health ──────────────────────────────────────────────────────────────────

// Checkers returns the readiness checks of the running client.
func (a *App) Checkers() []health.Checker {
	return []health.Checker{
		{
			Name: "session",
			Check: func(context.Context) error {
				if st := a.session.State(); st != realtime.StateOpen {
					return fmt.Errorf("session %s", st)
				}
				return nil
			},
		},
	}
}

// Snapshot is the debug view served on /debug/session.
type Snapshot struct {
	Session      SessionInfo       `json:"session"`
	Conversation processor.Stats   `json:"conversation"`
	Playback     PlaybackStats     `json:"playback"`
	Microphone   *MicrophoneStats  `json:"microphone,omitempty"`
	Transcripts  TranscriptStats   `json:"transcripts"`
	LastLatency  string            `json:"last_latency,omitempty"`
	RateLimits   []rateLimitStatus `json:"rate_limits,omitempty"`
	Processors   []string          `json:"processors"`
}

// PlaybackStats reports the playback buffer counters.
type PlaybackStats struct {
	Playing   bool   `json:"playing"`
	Buffered  int    `json:"buffered"`
	Written   uint64 `json:"written"`
	Played    uint64 `json:"played"`
	Underrun  int64  `json:"underrun"`
	Overrun   int64  `json:"overrun"`
	OddFrames int64  `json:"odd_frames"`
}

// MicrophoneStats reports the capture counters.
type MicrophoneStats struct {
	Running bool  `json:"running"`
	Sent    int64 `json:"sent"`
	Dropped int64 `json:"dropped"`
}

// TranscriptStats reports the recorder counters.
type TranscriptStats struct {
	Written int64  `json:"written"`
	Dropped int64  `json:"dropped"`
	Skipped int64  `json:"skipped"`
	Breaker string `json:"breaker"`
}

type rateLimitStatus struct {
	Name      string `json:"name"`
	Remaining int    `json:"remaining"`
	Limit     int    `json:"limit"`
}

// Debug returns a snapshot of the running client.
func (a *App) Debug() Snapshot {
	b := a.buffer
	s := Snapshot{
		Session:      a.manager.Info(),
		Conversation: a.conversation.Stats(),
		Playback: PlaybackStats{
			Playing:   b.Playing(),
			Buffered:  b.Buffered(),
			Written:   b.Written(),
			Played:    b.Played(),
			Underrun:  b.Underrun(),
			Overrun:   b.Overrun(),
			OddFrames: b.OddFrames(),
		},
		Transcripts: TranscriptStats{
			Written: a.recorder.Written(),
			Dropped: a.recorder.Dropped(),
			Skipped: a.recorder.Skipped(),
			Breaker: a.storeBreaker.State().String(),
		},
	}
	if a.mic != nil {
		s.Microphone = &MicrophoneStats{
			Running: a.mic.Running(),
			Sent:    a.mic.Sent(),
			Dropped: a.mic.Dropped(),
		}
	}
	if d := a.latency.Last(); d > 0 {
		s.LastLatency = d.String()
	}
	for _, rl := range a.rateLimits.Snapshot() {
		s.RateLimits = append(s.RateLimits, rateLimitStatus{Name: rl.Name, Remaining: rl.Remaining, Limit: rl.Limit})
	}
	for _, p := range a.session.Processors() {
		s.Processors = append(s.Processors, p.Name())
	}
	return s
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems. It respects the context deadline: if
// ctx expires before all closers finish, remaining closers are skipped and
// the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("app: shutting down", "closers", len(a.closers))

		if a.mic != nil {
			if err := a.mic.Stop(ctx); err != nil {
				a.log.Warn("app: stop microphone", "err", err)
			}
		}
		if err := a.manager.Stop(ctx); err != nil && !errors.Is(err, ErrNoSession) {
			a.log.Warn("app: close session", "err", err)
		}
		a.toolCalls.Close()
		if err := a.buffer.Stop(); err != nil {
			a.log.Warn("app: stop playback", "err", err)
		}
		if a.relay != nil {
			a.relay.Close()
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				a.log.Warn("app: shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				a.log.Warn("app: closer error", "index", i, "err", err)
			}
		}

		a.log.Info("app: shutdown complete")
	})
	return shutdownErr
}

// closeAll releases what New created before it failed.
func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
	a.closers = nil
}
