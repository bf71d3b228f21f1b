// Package transcript persists the conversation's final texts: user speech
// transcriptions and completed assistant captions.
//
// Entries are produced on the session's read loop and must never block it,
// so they go through a [Recorder] that queues them for a background writer.
// A [Store] is either in memory ([MemoryStore]) or PostgreSQL
// (transcript/postgres).
package transcript

import (
	"context"
	"time"
)

// Speaker identifies who said an entry.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// Entry is one final utterance.
type Entry struct {
	// SessionID is the server-assigned session id.
	SessionID string

	// ItemID is the conversation item the text belongs to.
	ItemID string

	// ResponseID is set for assistant entries.
	ResponseID string

	Speaker Speaker
	Text    string

	// Timestamp is when the final text arrived.
	Timestamp time.Time
}

// Store persists entries. Implementations must be safe for concurrent use.
type Store interface {
	// Write appends e.
	Write(ctx context.Context, e Entry) error

	// Recent returns up to limit of the newest entries of sessionID, oldest
	// first. limit <= 0 returns all of them.
	Recent(ctx context.Context, sessionID string, limit int) ([]Entry, error)

	// Close releases the store.
	Close() error
}
