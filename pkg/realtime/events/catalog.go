package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

// ErrUnknownType is returned by [Decode] for discriminators outside the
// catalog.
var ErrUnknownType = errors.New("events: unknown event type")

var catalog = map[string]func() Event{
	TypeSessionUpdate:            func() Event { return new(SessionUpdate) },
	TypeInputAudioBufferAppend:   func() Event { return new(InputAudioBufferAppend) },
	TypeInputAudioBufferClear:    func() Event { return new(InputAudioBufferClear) },
	TypeInputAudioBufferCommit:   func() Event { return new(InputAudioBufferCommit) },
	TypeConversationItemCreate:   func() Event { return new(ConversationItemCreate) },
	TypeConversationItemDelete:   func() Event { return new(ConversationItemDelete) },
	TypeConversationItemTruncate: func() Event { return new(ConversationItemTruncate) },
	TypeResponseCreate:           func() Event { return new(ResponseCreate) },
	TypeResponseCancel:           func() Event { return new(ResponseCancel) },

	TypeSessionCreated:                   func() Event { return new(SessionCreated) },
	TypeSessionUpdated:                   func() Event { return new(SessionUpdated) },
	TypeConversationCreated:              func() Event { return new(ConversationCreated) },
	TypeConversationItemCreated:          func() Event { return new(ConversationItemCreated) },
	TypeConversationItemDeleted:          func() Event { return new(ConversationItemDeleted) },
	TypeConversationItemTruncated:        func() Event { return new(ConversationItemTruncated) },
	TypeInputAudioTranscriptionCompleted: func() Event { return new(InputAudioTranscriptionCompleted) },
	TypeInputAudioTranscriptionFailed:    func() Event { return new(InputAudioTranscriptionFailed) },
	TypeInputAudioBufferCleared:          func() Event { return new(InputAudioBufferCleared) },
	TypeInputAudioBufferCommitted:        func() Event { return new(InputAudioBufferCommitted) },
	TypeInputAudioBufferSpeechStarted:    func() Event { return new(InputAudioBufferSpeechStarted) },
	TypeInputAudioBufferSpeechStopped:    func() Event { return new(InputAudioBufferSpeechStopped) },
	TypeResponseCreated:                  func() Event { return new(ResponseCreated) },
	TypeResponseDone:                     func() Event { return new(ResponseDone) },
	TypeResponseOutputItemAdded:          func() Event { return new(ResponseOutputItemAdded) },
	TypeResponseOutputItemDone:           func() Event { return new(ResponseOutputItemDone) },
	TypeResponseContentPartAdded:         func() Event { return new(ResponseContentPartAdded) },
	TypeResponseContentPartDone:          func() Event { return new(ResponseContentPartDone) },
	TypeResponseTextDelta:                func() Event { return new(ResponseTextDelta) },
	TypeResponseTextDone:                 func() Event { return new(ResponseTextDone) },
	TypeResponseAudioDelta:               func() Event { return new(ResponseAudioDelta) },
	TypeResponseAudioDone:                func() Event { return new(ResponseAudioDone) },
	TypeResponseAudioTranscriptDelta:     func() Event { return new(ResponseAudioTranscriptDelta) },
	TypeResponseAudioTranscriptDone:      func() Event { return new(ResponseAudioTranscriptDone) },
	TypeResponseFunctionCallArgsDelta:    func() Event { return new(ResponseFunctionCallArgumentsDelta) },
	TypeResponseFunctionCallArgsDone:     func() Event { return new(ResponseFunctionCallArgumentsDone) },
	TypeRateLimitsUpdated:                func() Event { return new(RateLimitsUpdated) },
	TypeError:                            func() Event { return new(ErrorEvent) },
}

// Types returns every known discriminator, sorted.
func Types() []string {
	out := make([]string, 0, len(catalog))
	for t := range catalog {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// New returns a pointer to a fresh zero value of the schema for typ, or nil
// if typ is unknown.
func New(typ string) Event {
	if f, ok := catalog[typ]; ok {
		return f()
	}
	return nil
}

// Decode parses a complete frame into a freshly allocated schema. It is meant
// for diagnostics and tests; the hot path goes through the dispatcher, which
// reuses instances.
func Decode(raw []byte) (Event, error) {
	env, err := ParseEnvelope(raw)
	if err != nil {
		return nil, err
	}
	ev := New(env.Type)
	if ev == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	if err := json.Unmarshal(raw, ev); err != nil {
		return nil, fmt.Errorf("events: decode %s: %w", env.Type, err)
	}
	return ev, nil
}
