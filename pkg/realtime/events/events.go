// Package events defines the wire schemas of the realtime protocol.
//
// Every message is a JSON object carrying a "type" discriminator and an
// optional "event_id". Client events (sent by rtbridge) implement
// [ClientEvent]; server events implement [Event]. The discriminator of any
// schema can be read from its zero value via EventType, which is what the
// dispatcher uses to bind handlers to types without a hand-written table.
//
// Field names follow the protocol's snake_case JSON names. Audio payloads are
// base64-encoded little-endian PCM16 mono.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Event is implemented by every wire schema.
type Event interface {
	// EventType returns the "type" discriminator. It is defined on the value
	// receiver so that a zero value reports its type.
	EventType() string
}

// ClientEvent is an event the client may send. The session stamps the
// header's type (and optionally event id) before serializing.
type ClientEvent interface {
	Event
	EventHeader() *Header
	clientEvent()
}

// Header is embedded in every schema.
type Header struct {
	EventID string `json:"event_id,omitempty"`
	Type    string `json:"type"`
}

// EventHeader returns the header for in-place stamping.
func (h *Header) EventHeader() *Header { return h }

// Envelope is the minimal view of an inbound frame used to route it.
type Envelope struct {
	Type    string `json:"type"`
	EventID string `json:"event_id,omitempty"`
}

// ErrMissingType is returned by [ParseEnvelope] for frames without a type.
var ErrMissingType = errors.New("events: frame has no type")

// ParseEnvelope extracts the discriminator and event id from raw. Only the
// two envelope fields are decoded; the payload is left to the dispatcher.
func ParseEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("events: parse envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, ErrMissingType
	}
	return env, nil
}

// Client event discriminators.
const (
	TypeSessionUpdate            = "session.update"
	TypeInputAudioBufferAppend   = "input_audio_buffer.append"
	TypeInputAudioBufferClear    = "input_audio_buffer.clear"
	TypeInputAudioBufferCommit   = "input_audio_buffer.commit"
	TypeConversationItemCreate   = "conversation.item.create"
	TypeConversationItemDelete   = "conversation.item.delete"
	TypeConversationItemTruncate = "conversation.item.truncate"
	TypeResponseCreate           = "response.create"
	TypeResponseCancel           = "response.cancel"
)

// Server event discriminators.
const (
	TypeSessionCreated                   = "session.created"
	TypeSessionUpdated                   = "session.updated"
	TypeConversationCreated              = "conversation.created"
	TypeConversationItemCreated          = "conversation.item.created"
	TypeConversationItemDeleted          = "conversation.item.deleted"
	TypeConversationItemTruncated        = "conversation.item.truncated"
	TypeInputAudioTranscriptionCompleted = "conversation.item.input_audio_transcription.completed"
	TypeInputAudioTranscriptionFailed    = "conversation.item.input_audio_transcription.failed"
	TypeInputAudioBufferCleared          = "input_audio_buffer.cleared"
	TypeInputAudioBufferCommitted        = "input_audio_buffer.committed"
	TypeInputAudioBufferSpeechStarted    = "input_audio_buffer.speech_started"
	TypeInputAudioBufferSpeechStopped    = "input_audio_buffer.speech_stopped"
	TypeResponseCreated                  = "response.created"
	TypeResponseDone                     = "response.done"
	TypeResponseOutputItemAdded          = "response.output_item.added"
	TypeResponseOutputItemDone           = "response.output_item.done"
	TypeResponseContentPartAdded         = "response.content_part.added"
	TypeResponseContentPartDone          = "response.content_part.done"
	TypeResponseTextDelta                = "response.text.delta"
	TypeResponseTextDone                 = "response.text.done"
	TypeResponseAudioDelta               = "response.audio.delta"
	TypeResponseAudioDone                = "response.audio.done"
	TypeResponseAudioTranscriptDelta     = "response.audio_transcript.delta"
	TypeResponseAudioTranscriptDone      = "response.audio_transcript.done"
	TypeResponseFunctionCallArgsDelta    = "response.function_call_arguments.delta"
	TypeResponseFunctionCallArgsDone     = "response.function_call_arguments.done"
	TypeRateLimitsUpdated                = "rate_limits.updated"
	TypeError                            = "error"
)
