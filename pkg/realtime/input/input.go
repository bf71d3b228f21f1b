// Package input turns local user input into realtime client events.
//
// [Microphone] streams captured audio as input_audio_buffer.append events
// bracketed by clear and commit. [Text] sends typed messages followed by a
// response request.
package input

import (
	"context"

	"github.com/MrWong99/rtbridge/pkg/realtime/events"
)

// Sender writes client events to the server. *realtime.Session implements it.
type Sender interface {
	Send(ctx context.Context, ev events.ClientEvent) error
}
