package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeConnector fails the first failN AwaitOpen calls.
type fakeConnector struct {
	mu       sync.Mutex
	failN    int
	connects int
	awaits   int
}

func (f *fakeConnector) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return nil
}

func (f *fakeConnector) AwaitOpen(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.awaits++
	if f.awaits <= f.failN {
		return errors.New("dial refused")
	}
	return nil
}

func (f *fakeConnector) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects, f.awaits
}

func runReconnector(t *testing.T, r *Reconnector) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestReconnector_RetriesUntilOpen(t *testing.T) {
	t.Parallel()

	conn := &fakeConnector{failN: 2}
	reconnected := make(chan struct{}, 1)
	r := NewReconnector(ReconnectorConfig{
		Session:     conn,
		MaxRetries:  5,
		Backoff:     time.Millisecond,
		MaxBackoff:  4 * time.Millisecond,
		OnReconnect: func() { reconnected <- struct{}{} },
	})
	runReconnector(t, r)

	r.NotifyDisconnect()

	select {
	case <-reconnected:
	case <-time.After(3 * time.Second):
		t.Fatal("OnReconnect not called")
	}
	if connects, awaits := conn.counts(); connects != 3 || awaits != 3 {
		t.Errorf("connects=%d awaits=%d, want 3 and 3", connects, awaits)
	}
}

func TestReconnector_GivesUp(t *testing.T) {
	t.Parallel()

	conn := &fakeConnector{failN: 100}
	gaveUp := make(chan error, 1)
	r := NewReconnector(ReconnectorConfig{
		Session:    conn,
		MaxRetries: 3,
		Backoff:    time.Millisecond,
		OnReconnect: func() {
			t.Error("OnReconnect called although every attempt failed")
		},
		OnGiveUp: func(err error) { gaveUp <- err },
	})
	runReconnector(t, r)

	r.NotifyDisconnect()

	select {
	case err := <-gaveUp:
		if !errors.Is(err, ErrReconnectFailed) {
			t.Errorf("err = %v, want ErrReconnectFailed", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("OnGiveUp not called")
	}
	if connects, _ := conn.counts(); connects != 3 {
		t.Errorf("connects = %d, want 3", connects)
	}
}

func TestReconnector_NotifyCoalesces(t *testing.T) {
	t.Parallel()

	r := NewReconnector(ReconnectorConfig{Session: &fakeConnector{}})
	// Without Run nothing drains the channel; extra calls must not block.
	for range 10 {
		r.NotifyDisconnect()
	}
	if got := len(r.disconnected); got != 1 {
		t.Errorf("pending signals = %d, want 1", got)
	}
}

func TestReconnector_StopEndsRun(t *testing.T) {
	t.Parallel()

	r := NewReconnector(ReconnectorConfig{Session: &fakeConnector{}})
	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	r.Stop()
	r.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestReconnector_Defaults(t *testing.T) {
	t.Parallel()

	r := NewReconnector(ReconnectorConfig{})
	if r.maxRetries != defaultMaxRetries {
		t.Errorf("maxRetries = %d, want %d", r.maxRetries, defaultMaxRetries)
	}
	if r.backoff != defaultBackoff || r.maxBackoff != defaultMaxBackoff {
		t.Errorf("backoff = %v/%v, want %v/%v", r.backoff, r.maxBackoff, defaultBackoff, defaultMaxBackoff)
	}
	if r.attemptTimeout != defaultAttemptTimeout {
		t.Errorf("attemptTimeout = %v, want %v", r.attemptTimeout, defaultAttemptTimeout)
	}
}
