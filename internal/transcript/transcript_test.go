package transcript_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/rtbridge/internal/resilience"
	"github.com/MrWong99/rtbridge/internal/transcript"
)

func TestMemoryStore_Recent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := transcript.NewMemoryStore()

	for i, text := range []string{"one", "two", "three"} {
		e := transcript.Entry{SessionID: "sess_1", ItemID: string(rune('a' + i)), Speaker: transcript.SpeakerUser, Text: text}
		if err := s.Write(ctx, e); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	_ = s.Write(ctx, transcript.Entry{SessionID: "sess_2", Text: "other"})

	tests := []struct {
		limit int
		want  []string
	}{
		{0, []string{"one", "two", "three"}},
		{2, []string{"two", "three"}},
		{10, []string{"one", "two", "three"}},
	}
	for _, tt := range tests {
		got, err := s.Recent(ctx, "sess_1", tt.limit)
		if err != nil {
			t.Fatalf("Recent: %v", err)
		}
		if len(got) != len(tt.want) {
			t.Fatalf("limit %d: got %d entries, want %d", tt.limit, len(got), len(tt.want))
		}
		for i := range got {
			if got[i].Text != tt.want[i] {
				t.Errorf("limit %d: entry %d = %q, want %q", tt.limit, i, got[i].Text, tt.want[i])
			}
		}
	}
}

// blockingStore blocks every Write until release is closed.
type blockingStore struct {
	*transcript.MemoryStore
	release chan struct{}
	err     error
}

func (b *blockingStore) Write(ctx context.Context, e transcript.Entry) error {
	select {
	case <-b.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	if b.err != nil {
		return b.err
	}
	return b.MemoryStore.Write(ctx, e)
}

func TestRecorder_WritesInOrder(t *testing.T) {
	t.Parallel()
	store := transcript.NewMemoryStore()
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r := transcript.NewRecorder(store, transcript.WithClock(func() time.Time { return fixed }))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = r.Run(ctx)
		close(done)
	}()

	for _, text := range []string{"hello", "world"} {
		if !r.Record(transcript.Entry{SessionID: "s", Speaker: transcript.SpeakerAssistant, Text: text}) {
			t.Fatal("Record returned false with an empty queue")
		}
	}
	cancel()
	<-done

	got, _ := store.Recent(context.Background(), "s", 0)
	if len(got) != 2 || got[0].Text != "hello" || got[1].Text != "world" {
		t.Fatalf("stored entries: %+v", got)
	}
	if !got[0].Timestamp.Equal(fixed) {
		t.Errorf("timestamp = %v, want %v", got[0].Timestamp, fixed)
	}
	if r.Written() != 2 {
		t.Errorf("Written = %d, want 2", r.Written())
	}
}

func TestRecorder_DropsWhenFull(t *testing.T) {
	t.Parallel()
	store := &blockingStore{MemoryStore: transcript.NewMemoryStore(), release: make(chan struct{})}
	r := transcript.NewRecorder(store, transcript.WithQueueSize(2))

	// Without a running writer the queue holds exactly two entries.
	for i := range 5 {
		ok := r.Record(transcript.Entry{SessionID: "s", Text: "x"})
		if want := i < 2; ok != want {
			t.Errorf("Record #%d = %v, want %v", i, ok, want)
		}
	}
	if r.Dropped() != 3 {
		t.Errorf("Dropped = %d, want 3", r.Dropped())
	}
}

func TestRecorder_WriteErrorIsCountedNotFatal(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	close(release)
	store := &blockingStore{MemoryStore: transcript.NewMemoryStore(), release: release, err: errors.New("disk full")}
	r := transcript.NewRecorder(store)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := r.Run(ctx); err != nil {
			t.Errorf("Run: %v", err)
		}
	}()
	r.Record(transcript.Entry{SessionID: "s", Text: "lost"})
	cancel()
	wg.Wait()

	if r.Written() != 0 {
		t.Errorf("Written = %d, want 0", r.Written())
	}
}

// failingStore fails every Write and counts the attempts.
type failingStore struct {
	*transcript.MemoryStore
	mu    sync.Mutex
	calls int
}

func (f *failingStore) Write(context.Context, transcript.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return errors.New("connection refused")
}

func (f *failingStore) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestRecorder_BreakerSkipsWhileOpen(t *testing.T) {
	t.Parallel()
	store := &failingStore{MemoryStore: transcript.NewMemoryStore()}
	cb := resilience.New(resilience.Config{Name: "transcripts", MaxFailures: 2, Cooldown: time.Hour})
	r := transcript.NewRecorder(store, transcript.WithBreaker(cb))

	for i := range 5 {
		r.Record(transcript.Entry{SessionID: "s", ItemID: string(rune('a' + i)), Text: "x"})
	}
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = r.Run(ctx)
	}()
	deadline := time.Now().Add(3 * time.Second)
	for int64(store.Calls())+r.Skipped() < 5 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	wg.Wait()

	if got := store.Calls(); got != 2 {
		t.Errorf("store writes = %d, want 2", got)
	}
	if got := r.Skipped(); got != 3 {
		t.Errorf("Skipped = %d, want 3", got)
	}
	if cb.State() != resilience.StateOpen {
		t.Errorf("breaker = %v, want open", cb.State())
	}
}
