package input

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/MrWong99/rtbridge/pkg/realtime/events"
)

// Defaults for [Text].
const (
	DefaultTemperature     = 0.8
	DefaultMaxOutputTokens = events.MaxTokens(1024)
)

// ErrEmptyText is returned by [Text.Send] for an empty message.
var ErrEmptyText = errors.New("input: empty text")

// TextOption configures a [Text] input.
type TextOption func(*Text)

// WithTemperature sets the sampling temperature of the requested response.
func WithTemperature(t float64) TextOption {
	return func(x *Text) { x.temperature = t }
}

// WithMaxOutputTokens sets the response token limit. Use
// events.InfiniteTokens for no limit.
func WithMaxOutputTokens(n events.MaxTokens) TextOption {
	return func(x *Text) { x.maxTokens = n }
}

// WithModalities restricts the modalities of the requested response.
func WithModalities(m ...string) TextOption {
	return func(x *Text) { x.modalities = m }
}

// Text sends typed user messages. Each Send creates a completed user message
// item with id msg_<n> and asks for a response.
type Text struct {
	sender      Sender
	temperature float64
	maxTokens   events.MaxTokens
	modalities  []string

	seq atomic.Int64
}

// NewText creates a text input sending through s.
func NewText(s Sender, opts ...TextOption) *Text {
	x := &Text{
		sender:      s,
		temperature: DefaultTemperature,
		maxTokens:   DefaultMaxOutputTokens,
	}
	for _, o := range opts {
		o(x)
	}
	return x
}

// Send adds text as a user message and requests a response. It returns the
// message id.
func (x *Text) Send(ctx context.Context, text string) (string, error) {
	if text == "" {
		return "", ErrEmptyText
	}
	id := "msg_" + strconv.FormatInt(x.seq.Add(1)-1, 10)

	msg := events.NewTextMessage(id, text)
	msg.Item.Status = "completed"
	if err := x.sender.Send(ctx, msg); err != nil {
		return "", fmt.Errorf("input: send message: %w", err)
	}

	create := &events.ResponseCreate{Response: &events.ResponseConfig{
		Modalities:      x.modalities,
		Temperature:     x.temperature,
		MaxOutputTokens: x.maxTokens,
	}}
	if err := x.sender.Send(ctx, create); err != nil {
		return id, fmt.Errorf("input: request response: %w", err)
	}
	return id, nil
}
