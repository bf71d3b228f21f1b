package events

import (
	"encoding/base64"

	"github.com/MrWong99/rtbridge/pkg/audio"
)

// SessionUpdate changes the session configuration.
type SessionUpdate struct {
	Header
	Session SessionConfig `json:"session"`
}

// InputAudioBufferAppend appends base64 PCM16 audio to the input buffer.
type InputAudioBufferAppend struct {
	Header
	Audio string `json:"audio"`
}

// InputAudioBufferClear clears the input audio buffer.
type InputAudioBufferClear struct {
	Header
}

// InputAudioBufferCommit commits the input audio buffer as a user message.
type InputAudioBufferCommit struct {
	Header
}

// ConversationItemCreate adds an item to the conversation.
type ConversationItemCreate struct {
	Header
	PreviousItemID string `json:"previous_item_id,omitempty"`
	Item           Item   `json:"item"`
}

// ConversationItemDelete removes an item from the conversation.
type ConversationItemDelete struct {
	Header
	ItemID string `json:"item_id"`
}

// ConversationItemTruncate truncates an assistant audio item at AudioEndMS.
type ConversationItemTruncate struct {
	Header
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	AudioEndMS   int    `json:"audio_end_ms"`
}

// ResponseCreate asks the server to generate a response.
type ResponseCreate struct {
	Header
	Response *ResponseConfig `json:"response,omitempty"`
}

// ResponseCancel cancels an in-progress response.
type ResponseCancel struct {
	Header
	ResponseID string `json:"response_id,omitempty"`
}

func (SessionUpdate) EventType() string            { return TypeSessionUpdate }
func (InputAudioBufferAppend) EventType() string   { return TypeInputAudioBufferAppend }
func (InputAudioBufferClear) EventType() string    { return TypeInputAudioBufferClear }
func (InputAudioBufferCommit) EventType() string   { return TypeInputAudioBufferCommit }
func (ConversationItemCreate) EventType() string   { return TypeConversationItemCreate }
func (ConversationItemDelete) EventType() string   { return TypeConversationItemDelete }
func (ConversationItemTruncate) EventType() string { return TypeConversationItemTruncate }
func (ResponseCreate) EventType() string           { return TypeResponseCreate }
func (ResponseCancel) EventType() string           { return TypeResponseCancel }

func (*SessionUpdate) clientEvent()            {}
func (*InputAudioBufferAppend) clientEvent()   {}
func (*InputAudioBufferClear) clientEvent()    {}
func (*InputAudioBufferCommit) clientEvent()   {}
func (*ConversationItemCreate) clientEvent()   {}
func (*ConversationItemDelete) clientEvent()   {}
func (*ConversationItemTruncate) clientEvent() {}
func (*ResponseCreate) clientEvent()           {}
func (*ResponseCancel) clientEvent()           {}

var (
	_ ClientEvent = (*SessionUpdate)(nil)
	_ ClientEvent = (*InputAudioBufferAppend)(nil)
	_ ClientEvent = (*InputAudioBufferClear)(nil)
	_ ClientEvent = (*InputAudioBufferCommit)(nil)
	_ ClientEvent = (*ConversationItemCreate)(nil)
	_ ClientEvent = (*ConversationItemDelete)(nil)
	_ ClientEvent = (*ConversationItemTruncate)(nil)
	_ ClientEvent = (*ResponseCreate)(nil)
	_ ClientEvent = (*ResponseCancel)(nil)
)

// ── Constructors ─────────────────────────────────────────────────────────────

// NewAudioAppend encodes float samples as PCM16 and wraps them in an
// input_audio_buffer.append event.
func NewAudioAppend(samples []float32) *InputAudioBufferAppend {
	return NewAudioAppendPCM16(audio.EncodePCM16(samples))
}

// NewAudioAppendPCM16 wraps raw little-endian PCM16 in an
// input_audio_buffer.append event.
func NewAudioAppendPCM16(pcm []byte) *InputAudioBufferAppend {
	return &InputAudioBufferAppend{Audio: base64.StdEncoding.EncodeToString(pcm)}
}

// NewTextMessage builds a conversation.item.create carrying one user
// input_text part.
func NewTextMessage(id, text string) *ConversationItemCreate {
	return &ConversationItemCreate{
		Item: Item{
			ID:   id,
			Type: ItemTypeMessage,
			Role: RoleUser,
			Content: []ContentPart{
				{Type: ContentInputText, Text: text},
			},
		},
	}
}

// NewFunctionCallOutput builds a conversation.item.create returning a tool
// result for callID.
func NewFunctionCallOutput(callID, output string) *ConversationItemCreate {
	return &ConversationItemCreate{
		Item: Item{
			Type:   ItemTypeFunctionCallOutput,
			CallID: callID,
			Output: output,
		},
	}
}
