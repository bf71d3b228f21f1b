package events

import (
	"encoding/base64"
	"fmt"
)

// SessionCreated is the first event on a new connection.
type SessionCreated struct {
	Header
	Session SessionConfig `json:"session"`
}

// SessionUpdated confirms a session.update.
type SessionUpdated struct {
	Header
	Session SessionConfig `json:"session"`
}

// ConversationCreated announces the conversation.
type ConversationCreated struct {
	Header
	Conversation Conversation `json:"conversation"`
}

// ConversationItemCreated announces a new conversation item.
type ConversationItemCreated struct {
	Header
	PreviousItemID string `json:"previous_item_id,omitempty"`
	Item           Item   `json:"item"`
}

// ConversationItemDeleted confirms an item deletion.
type ConversationItemDeleted struct {
	Header
	ItemID string `json:"item_id"`
}

// ConversationItemTruncated confirms an item truncation.
type ConversationItemTruncated struct {
	Header
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	AudioEndMS   int    `json:"audio_end_ms"`
}

// InputAudioTranscriptionCompleted carries the transcript of user audio.
type InputAudioTranscriptionCompleted struct {
	Header
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	Transcript   string `json:"transcript"`
}

// InputAudioTranscriptionFailed reports a failed user audio transcription.
type InputAudioTranscriptionFailed struct {
	Header
	ItemID       string       `json:"item_id"`
	ContentIndex int          `json:"content_index"`
	Error        ErrorDetails `json:"error"`
}

// InputAudioBufferCleared confirms input_audio_buffer.clear.
type InputAudioBufferCleared struct {
	Header
}

// InputAudioBufferCommitted reports that the input buffer became an item.
type InputAudioBufferCommitted struct {
	Header
	PreviousItemID string `json:"previous_item_id,omitempty"`
	ItemID         string `json:"item_id"`
}

// InputAudioBufferSpeechStarted is sent when server VAD detects speech.
type InputAudioBufferSpeechStarted struct {
	Header
	AudioStartMS int    `json:"audio_start_ms"`
	ItemID       string `json:"item_id"`
}

// InputAudioBufferSpeechStopped is sent when server VAD detects the end of
// speech.
type InputAudioBufferSpeechStopped struct {
	Header
	AudioEndMS int    `json:"audio_end_ms"`
	ItemID     string `json:"item_id"`
}

// ResponseCreated starts a response.
type ResponseCreated struct {
	Header
	Response Response `json:"response"`
}

// ResponseDone ends a response.
type ResponseDone struct {
	Header
	Response Response `json:"response"`
}

// ResponseOutputItemAdded announces an output item of a response.
type ResponseOutputItemAdded struct {
	Header
	ResponseID  string `json:"response_id"`
	OutputIndex int    `json:"output_index"`
	Item        Item   `json:"item"`
}

// ResponseOutputItemDone completes an output item.
type ResponseOutputItemDone struct {
	Header
	ResponseID  string `json:"response_id"`
	OutputIndex int    `json:"output_index"`
	Item        Item   `json:"item"`
}

// ResponseContentPartAdded announces a content part.
type ResponseContentPartAdded struct {
	Header
	ContentRef
	Part ContentPart `json:"part"`
}

// ResponseContentPartDone completes a content part.
type ResponseContentPartDone struct {
	Header
	ContentRef
	Part ContentPart `json:"part"`
}

// ResponseTextDelta streams response text.
type ResponseTextDelta struct {
	Header
	ContentRef
	Delta string `json:"delta"`
}

// ResponseTextDone carries the complete response text.
type ResponseTextDone struct {
	Header
	ContentRef
	Text string `json:"text"`
}

// ResponseAudioDelta streams base64 PCM16 response audio.
type ResponseAudioDelta struct {
	Header
	ContentRef
	Delta string `json:"delta"`
}

// PCM16 decodes the base64 audio payload.
func (e *ResponseAudioDelta) PCM16() ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(e.Delta)
	if err != nil {
		return nil, fmt.Errorf("events: decode audio delta: %w", err)
	}
	return b, nil
}

// ResponseAudioDone ends the audio of a content part.
type ResponseAudioDone struct {
	Header
	ContentRef
}

// ResponseAudioTranscriptDelta streams the transcript of response audio.
type ResponseAudioTranscriptDelta struct {
	Header
	ContentRef
	Delta string `json:"delta"`
}

// ResponseAudioTranscriptDone carries the complete audio transcript.
type ResponseAudioTranscriptDone struct {
	Header
	ContentRef
	Transcript string `json:"transcript"`
}

// ResponseFunctionCallArgumentsDelta streams function call arguments.
type ResponseFunctionCallArgumentsDelta struct {
	Header
	ResponseID  string `json:"response_id"`
	ItemID      string `json:"item_id"`
	OutputIndex int    `json:"output_index"`
	CallID      string `json:"call_id"`
	Delta       string `json:"delta"`
}

// ResponseFunctionCallArgumentsDone carries the complete arguments.
type ResponseFunctionCallArgumentsDone struct {
	Header
	ResponseID  string `json:"response_id"`
	ItemID      string `json:"item_id"`
	OutputIndex int    `json:"output_index"`
	CallID      string `json:"call_id"`
	Name        string `json:"name,omitempty"`
	Arguments   string `json:"arguments"`
}

// RateLimitsUpdated reports the current rate limits.
type RateLimitsUpdated struct {
	Header
	RateLimits []RateLimit `json:"rate_limits"`
}

// ErrorEvent reports a server-side error. Errors are informational; the
// connection stays open.
type ErrorEvent struct {
	Header
	Error ErrorDetails `json:"error"`
}

func (SessionCreated) EventType() string                     { return TypeSessionCreated }
func (SessionUpdated) EventType() string                     { return TypeSessionUpdated }
func (ConversationCreated) EventType() string                { return TypeConversationCreated }
func (ConversationItemCreated) EventType() string            { return TypeConversationItemCreated }
func (ConversationItemDeleted) EventType() string            { return TypeConversationItemDeleted }
func (ConversationItemTruncated) EventType() string          { return TypeConversationItemTruncated }
func (InputAudioTranscriptionCompleted) EventType() string   { return TypeInputAudioTranscriptionCompleted }
func (InputAudioTranscriptionFailed) EventType() string      { return TypeInputAudioTranscriptionFailed }
func (InputAudioBufferCleared) EventType() string            { return TypeInputAudioBufferCleared }
func (InputAudioBufferCommitted) EventType() string          { return TypeInputAudioBufferCommitted }
func (InputAudioBufferSpeechStarted) EventType() string      { return TypeInputAudioBufferSpeechStarted }
func (InputAudioBufferSpeechStopped) EventType() string      { return TypeInputAudioBufferSpeechStopped }
func (ResponseCreated) EventType() string                    { return TypeResponseCreated }
func (ResponseDone) EventType() string                       { return TypeResponseDone }
func (ResponseOutputItemAdded) EventType() string            { return TypeResponseOutputItemAdded }
func (ResponseOutputItemDone) EventType() string             { return TypeResponseOutputItemDone }
func (ResponseContentPartAdded) EventType() string           { return TypeResponseContentPartAdded }
func (ResponseContentPartDone) EventType() string            { return TypeResponseContentPartDone }
func (ResponseTextDelta) EventType() string                  { return TypeResponseTextDelta }
func (ResponseTextDone) EventType() string                   { return TypeResponseTextDone }
func (ResponseAudioDelta) EventType() string                 { return TypeResponseAudioDelta }
func (ResponseAudioDone) EventType() string                  { return TypeResponseAudioDone }
func (ResponseAudioTranscriptDelta) EventType() string       { return TypeResponseAudioTranscriptDelta }
func (ResponseAudioTranscriptDone) EventType() string        { return TypeResponseAudioTranscriptDone }
func (ResponseFunctionCallArgumentsDelta) EventType() string { return TypeResponseFunctionCallArgsDelta }
func (ResponseFunctionCallArgumentsDone) EventType() string  { return TypeResponseFunctionCallArgsDone }
func (RateLimitsUpdated) EventType() string                  { return TypeRateLimitsUpdated }
func (ErrorEvent) EventType() string                         { return TypeError }
