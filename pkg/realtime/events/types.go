package events

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Audio formats accepted by the protocol.
const (
	AudioFormatPCM16    = "pcm16"
	AudioFormatG711ULaw = "g711_ulaw"
	AudioFormatG711ALaw = "g711_alaw"
)

// Modalities.
const (
	ModalityText  = "text"
	ModalityAudio = "audio"
)

// Item types, roles and content part types.
const (
	ItemTypeMessage            = "message"
	ItemTypeFunctionCall       = "function_call"
	ItemTypeFunctionCallOutput = "function_call_output"

	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"

	ContentInputText  = "input_text"
	ContentInputAudio = "input_audio"
	ContentText       = "text"
	ContentAudio      = "audio"
)

// MaxTokens is an output token limit. [InfiniteTokens] encodes as "inf";
// zero is omitted.
type MaxTokens int

// InfiniteTokens is the "inf" token limit.
const InfiniteTokens MaxTokens = -1

// MarshalJSON implements [json.Marshaler].
func (m MaxTokens) MarshalJSON() ([]byte, error) {
	if m < 0 {
		return []byte(`"inf"`), nil
	}
	return []byte(strconv.Itoa(int(m))), nil
}

// UnmarshalJSON implements [json.Unmarshaler].
func (m *MaxTokens) UnmarshalJSON(b []byte) error {
	if string(b) == `"inf"` {
		*m = InfiniteTokens
		return nil
	}
	var n int
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("events: max tokens: %w", err)
	}
	*m = MaxTokens(n)
	return nil
}

// SessionConfig is the server-side session configuration, both as sent in
// session.update and as reported by session.created/updated.
type SessionConfig struct {
	ID                      string                   `json:"id,omitempty"`
	Object                  string                   `json:"object,omitempty"`
	Model                   string                   `json:"model,omitempty"`
	Modalities              []string                 `json:"modalities,omitempty"`
	Instructions            string                   `json:"instructions,omitempty"`
	Voice                   string                   `json:"voice,omitempty"`
	InputAudioFormat        string                   `json:"input_audio_format,omitempty"`
	OutputAudioFormat       string                   `json:"output_audio_format,omitempty"`
	InputAudioTranscription *InputAudioTranscription `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection           `json:"turn_detection,omitempty"`
	Tools                   []Tool                   `json:"tools,omitempty"`
	ToolChoice              string                   `json:"tool_choice,omitempty"`
	Temperature             float64                  `json:"temperature,omitempty"`
	MaxResponseOutputTokens MaxTokens                `json:"max_response_output_tokens,omitempty"`
}

// InputAudioTranscription enables transcription of user audio.
type InputAudioTranscription struct {
	Model string `json:"model,omitempty"`
}

// TurnDetection configures server-side voice activity detection.
type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMS   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMS int     `json:"silence_duration_ms,omitempty"`
}

// Tool is a function the model may call.
type Tool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ContentPart is one piece of an item's content.
type ContentPart struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Audio      string `json:"audio,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

// Item is a conversation item: a message, a function call or a function
// call output.
type Item struct {
	ID        string        `json:"id,omitempty"`
	Object    string        `json:"object,omitempty"`
	Type      string        `json:"type"`
	Status    string        `json:"status,omitempty"`
	Role      string        `json:"role,omitempty"`
	Content   []ContentPart `json:"content,omitempty"`
	CallID    string        `json:"call_id,omitempty"`
	Name      string        `json:"name,omitempty"`
	Arguments string        `json:"arguments,omitempty"`
	Output    string        `json:"output,omitempty"`
}

// Response describes a model response.
type Response struct {
	ID            string         `json:"id"`
	Object        string         `json:"object,omitempty"`
	Status        string         `json:"status,omitempty"`
	StatusDetails *StatusDetails `json:"status_details,omitempty"`
	Output        []Item         `json:"output,omitempty"`
	Usage         *Usage         `json:"usage,omitempty"`
}

// StatusDetails explains a non-completed response status.
type StatusDetails struct {
	Type   string        `json:"type,omitempty"`
	Reason string        `json:"reason,omitempty"`
	Error  *ErrorDetails `json:"error,omitempty"`
}

// Usage reports token counts for a response.
type Usage struct {
	TotalTokens  int `json:"total_tokens"`
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ResponseConfig overrides session settings for one response.create.
type ResponseConfig struct {
	Modalities        []string  `json:"modalities,omitempty"`
	Instructions      string    `json:"instructions,omitempty"`
	Voice             string    `json:"voice,omitempty"`
	OutputAudioFormat string    `json:"output_audio_format,omitempty"`
	Tools             []Tool    `json:"tools,omitempty"`
	ToolChoice        string    `json:"tool_choice,omitempty"`
	Temperature       float64   `json:"temperature,omitempty"`
	MaxOutputTokens   MaxTokens `json:"max_output_tokens,omitempty"`
}

// RateLimit is one entry of rate_limits.updated.
type RateLimit struct {
	Name         string  `json:"name"`
	Limit        int     `json:"limit"`
	Remaining    int     `json:"remaining"`
	ResetSeconds float64 `json:"reset_seconds"`
}

// ErrorDetails describes a server-side error.
type ErrorDetails struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
	EventID string `json:"event_id,omitempty"`
}

// Error implements error so details can be returned directly.
func (e ErrorDetails) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("realtime: [%s] %s", e.Code, e.Message)
	}
	return "realtime: " + e.Message
}

// Conversation identifies the server-side conversation.
type Conversation struct {
	ID     string `json:"id"`
	Object string `json:"object,omitempty"`
}

// ContentRef locates a streamed content part within a response.
type ContentRef struct {
	ResponseID   string `json:"response_id"`
	ItemID       string `json:"item_id"`
	OutputIndex  int    `json:"output_index"`
	ContentIndex int    `json:"content_index"`
}
