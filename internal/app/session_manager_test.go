package app_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/rtbridge/internal/app"
	"github.com/MrWong99/rtbridge/internal/config"
	"github.com/MrWong99/rtbridge/pkg/realtime"
	"github.com/MrWong99/rtbridge/pkg/realtime/mock"
)

func newTestSessionManager(t *testing.T, rc config.ReconnectConfig, onOpen func()) (*app.SessionManager, *mock.Dialer) {
	t.Helper()
	d := mock.NewDialer()
	sess := realtime.New(realtime.Config{APIKey: "test-key"}, realtime.WithDialer(d))
	sm := app.NewSessionManager(app.SessionManagerConfig{
		Session:        sess,
		Model:          "gpt-4o-realtime-preview",
		Reconnect:      rc,
		OnOpen:         onOpen,
		ConnectTimeout: 3 * time.Second,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = sm.Stop(ctx)
	})
	return sm, d
}

func nextConn(t *testing.T, d *mock.Dialer) *mock.Conn {
	t.Helper()
	select {
	case c := <-d.Conns:
		return c
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for dialed connection")
		return nil
	}
}

func TestSessionManager_StartStop(t *testing.T) {
	t.Parallel()

	sm, d := newTestSessionManager(t, config.ReconnectConfig{}, nil)

	ctx := context.Background()
	if err := sm.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if !sm.IsActive() {
		t.Fatal("expected session to be active after Start")
	}
	conn := nextConn(t, d)

	info := sm.Info()
	if info.Model != "gpt-4o-realtime-preview" {
		t.Errorf("Model = %q, want %q", info.Model, "gpt-4o-realtime-preview")
	}
	if info.State != "open" {
		t.Errorf("State = %q, want open", info.State)
	}
	if info.StartedAt.IsZero() {
		t.Error("StartedAt should be set")
	}

	sm.SetSessionID("sess_1")
	if got := sm.Info().SessionID; got != "sess_1" {
		t.Errorf("SessionID = %q, want sess_1", got)
	}

	if err := sm.Stop(ctx); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if sm.IsActive() {
		t.Fatal("expected session to be inactive after Stop")
	}
	if closed, _ := conn.Closed(); !closed {
		t.Error("connection should be closed after Stop")
	}
	if got := sm.Info().SessionID; got != "" {
		t.Errorf("SessionID after Stop = %q, want empty", got)
	}
}

func TestSessionManager_DoubleStart(t *testing.T) {
	t.Parallel()

	sm, _ := newTestSessionManager(t, config.ReconnectConfig{}, nil)

	ctx := context.Background()
	if err := sm.Start(ctx); err != nil {
		t.Fatalf("first Start() error: %v", err)
	}
	if err := sm.Start(ctx); !errors.Is(err, app.ErrSessionActive) {
		t.Fatalf("second Start() = %v, want ErrSessionActive", err)
	}
}

func TestSessionManager_StopWithoutStart(t *testing.T) {
	t.Parallel()

	sm, _ := newTestSessionManager(t, config.ReconnectConfig{}, nil)

	if err := sm.Stop(context.Background()); !errors.Is(err, app.ErrNoSession) {
		t.Fatalf("Stop() = %v, want ErrNoSession", err)
	}
}

func TestSessionManager_StartDialFailure(t *testing.T) {
	t.Parallel()

	sm, d := newTestSessionManager(t, config.ReconnectConfig{}, nil)
	d.SetDialError(errors.New("connection refused"))

	if err := sm.Start(context.Background()); err == nil {
		t.Fatal("Start() should fail when the dial fails")
	}
	if sm.IsActive() {
		t.Error("session must not be active after a failed Start")
	}

	// A later Start succeeds once the endpoint is reachable.
	d.SetDialError(nil)
	if err := sm.Start(context.Background()); err != nil {
		t.Fatalf("Start() after recovery: %v", err)
	}
}

func TestSessionManager_ReconnectsAfterDrop(t *testing.T) {
	t.Parallel()

	var opened atomic.Int32
	sm, d := newTestSessionManager(t, config.ReconnectConfig{
		Enabled:        true,
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}, func() { opened.Add(1) })

	if err := sm.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	first := nextConn(t, d)
	first.Drop()

	second := nextConn(t, d)
	if second == first {
		t.Fatal("expected a new connection after the drop")
	}

	deadline := time.Now().Add(3 * time.Second)
	for opened.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := opened.Load(); got != 2 {
		t.Errorf("OnOpen calls = %d, want 2", got)
	}
	if got := sm.Info().State; got != "open" {
		t.Errorf("State = %q, want open", got)
	}
}

func TestSessionManager_NoReconnectWhenDisabled(t *testing.T) {
	t.Parallel()

	sm, d := newTestSessionManager(t, config.ReconnectConfig{}, nil)

	if err := sm.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	nextConn(t, d).Drop()

	time.Sleep(50 * time.Millisecond)
	if got := d.CallCount(); got != 1 {
		t.Errorf("dial calls = %d, want 1", got)
	}
	if got := sm.Info().State; got != "error" {
		t.Errorf("State = %q, want error", got)
	}
}
