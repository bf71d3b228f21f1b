package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/rtbridge/internal/config"
	"github.com/MrWong99/rtbridge/internal/observe"
	"github.com/MrWong99/rtbridge/pkg/realtime"
)

// defaultConnectTimeout bounds the initial connect in Start.
const defaultConnectTimeout = 30 * time.Second

var (
	// ErrSessionActive is returned by Start while a session is running.
	ErrSessionActive = errors.New("app: session already active")

	// ErrNoSession is returned by Stop when nothing is running.
	ErrNoSession = errors.New("app: no active session")
)

// SessionInfo holds metadata about the active session.
type SessionInfo struct {
	// SessionID is the id the server assigned in session.created. Empty
	// until that event arrives.
	SessionID string `json:"session_id"`

	// Model is the realtime model the session was opened with.
	Model string `json:"model"`

	// StartedAt is when Start succeeded.
	StartedAt time.Time `json:"started_at"`

	// State is the current connection state.
	State string `json:"state"`
}

// SessionManager owns the lifecycle of one realtime session: the initial
// connect, automatic reconnection when enabled, and the final close.
// All exported methods are safe for concurrent use.
type SessionManager struct {
	sess           *realtime.Session
	model          string
	recon          *Reconnector
	onOpen         func()
	connectTimeout time.Duration
	log            *slog.Logger
	now            func() time.Time

	// active is read by the state listener without taking mu.
	active atomic.Bool

	mu         sync.Mutex
	info       SessionInfo
	monitorCtx context.CancelFunc
	monitorWG  sync.WaitGroup
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	Session *realtime.Session

	// Model is reported in [SessionInfo].
	Model string

	// Reconnect enables and tunes automatic reconnection.
	Reconnect config.ReconnectConfig

	// OnOpen runs after Start and after every successful reconnect, outside
	// any state listener. May be nil.
	OnOpen func()

	// OnGiveUp runs when reconnection was abandoned. May be nil.
	OnGiveUp func(error)

	// ConnectTimeout bounds Start. Defaults to 30s.
	ConnectTimeout time.Duration

	Metrics *observe.Metrics
	Logger  *slog.Logger
}

// NewSessionManager creates a SessionManager and registers its state
// listener on the session.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	sm := &SessionManager{
		sess:           cfg.Session,
		model:          cfg.Model,
		onOpen:         cfg.OnOpen,
		connectTimeout: cfg.ConnectTimeout,
		log:            cfg.Logger,
		now:            time.Now,
	}
	if sm.connectTimeout <= 0 {
		sm.connectTimeout = defaultConnectTimeout
	}
	if sm.log == nil {
		sm.log = slog.Default()
	}
	if cfg.Reconnect.Enabled {
		sm.recon = NewReconnector(ReconnectorConfig{
			Session:     cfg.Session,
			MaxRetries:  cfg.Reconnect.MaxRetries,
			Backoff:     cfg.Reconnect.InitialBackoff,
			MaxBackoff:  cfg.Reconnect.MaxBackoff,
			OnReconnect: sm.opened,
			OnGiveUp:    cfg.OnGiveUp,
			Metrics:     cfg.Metrics,
			Logger:      sm.log,
		})
	}
	cfg.Session.OnStateChange(sm.stateChanged)
	return sm
}

func (sm *SessionManager) stateChanged(st realtime.State, _ error) {
	if st != realtime.StateError {
		return
	}
	if sm.active.Load() && sm.recon != nil {
		sm.recon.NotifyDisconnect()
	}
}

func (sm *SessionManager) opened() {
	if sm.onOpen != nil {
		sm.onOpen()
	}
}

// Start connects the session and waits until it is open. Returns
// [ErrSessionActive] if a session is already running.
func (sm *SessionManager) Start(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.active.Load() {
		return ErrSessionActive
	}

	cctx, cancel := context.WithTimeout(ctx, sm.connectTimeout)
	defer cancel()
	if err := sm.sess.Connect(cctx); err != nil {
		return fmt.Errorf("app: connect: %w", err)
	}
	if err := sm.sess.AwaitOpen(cctx); err != nil {
		// Abort a handshake still in flight.
		_ = sm.sess.Close(context.WithoutCancel(ctx))
		return fmt.Errorf("app: connect: %w", err)
	}

	sm.active.Store(true)
	sm.info = SessionInfo{
		SessionID: sm.info.SessionID,
		Model:     sm.model,
		StartedAt: sm.now().UTC(),
	}

	if sm.recon != nil {
		mctx, mcancel := context.WithCancel(context.WithoutCancel(ctx))
		sm.monitorCtx = mcancel
		sm.monitorWG.Add(1)
		go func() {
			defer sm.monitorWG.Done()
			_ = sm.recon.Run(mctx)
		}()
	}

	sm.log.Info("app: session started", "model", sm.model, "reconnect", sm.recon != nil)
	go sm.opened()
	return nil
}

// Stop closes the session and stops reconnection. Returns [ErrNoSession] if
// no session is active.
func (sm *SessionManager) Stop(ctx context.Context) error {
	sm.mu.Lock()
	if !sm.active.Load() {
		sm.mu.Unlock()
		return ErrNoSession
	}
	sm.active.Store(false)
	cancel := sm.monitorCtx
	sm.monitorCtx = nil
	id := sm.info.SessionID
	sm.info = SessionInfo{}
	sm.mu.Unlock()

	if cancel != nil {
		cancel()
		sm.monitorWG.Wait()
	}
	err := sm.sess.Close(ctx)
	sm.log.Info("app: session stopped", "session_id", id)
	return err
}

// IsActive reports whether a session is currently running.
func (sm *SessionManager) IsActive() bool {
	return sm.active.Load()
}

// Info returns metadata about the session with its current state.
func (sm *SessionManager) Info() SessionInfo {
	sm.mu.Lock()
	info := sm.info
	sm.mu.Unlock()
	info.State = sm.sess.State().String()
	return info
}

// SetSessionID records the server-assigned session id.
func (sm *SessionManager) SetSessionID(id string) {
	sm.mu.Lock()
	sm.info.SessionID = id
	sm.mu.Unlock()
}

// SessionID returns the server-assigned session id, if known.
func (sm *SessionManager) SessionID() string {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.info.SessionID
}
