package processor

import (
	"log/slog"
	"time"

	"github.com/MrWong99/rtbridge/pkg/realtime/dispatch"
	"github.com/MrWong99/rtbridge/pkg/realtime/events"
)

// Interruption describes one barge-in.
type Interruption struct {
	Stream Stream

	// Played is how much of the interrupted audio the user heard.
	Played time.Duration

	// Discarded is the number of buffered samples thrown away.
	Discarded int
}

// BargeIn stops assistant playback when the user starts talking over it.
// On input_audio_buffer.speech_started with audio still buffered it clears
// the playback buffer, cancels the response if it is still streaming and
// truncates the assistant item to what was actually played.
type BargeIn struct {
	base
	sender Sender
	audio  *Audio
	fn     func(Interruption)
	log    *slog.Logger
}

// NewBargeIn creates a barge-in processor for the playback driven by a.
// fn, if non-nil, runs after every interruption.
func NewBargeIn(s Sender, a *Audio, fn func(Interruption), opts ...Option) *BargeIn {
	o := buildOptions(opts)
	b := &BargeIn{
		base:   newBase("barge-in"),
		sender: s,
		audio:  a,
		fn:     fn,
		log:    o.log,
	}
	dispatch.MustRegister(b.d, b.handleSpeechStarted)
	return b
}

func (b *BargeIn) handleSpeechStarted(*events.InputAudioBufferSpeechStarted) {
	buf := b.audio.Buffer()
	pending := buf.Buffered()
	if pending == 0 {
		return
	}
	st, played, ok := b.audio.Current()
	if !ok {
		return
	}
	buf.Clear()

	if !st.Done {
		if err := send(b.sender, &events.ResponseCancel{ResponseID: st.ResponseID}); err != nil {
			b.log.Warn("processor: send response.cancel", "err", err)
		}
	}
	trunc := &events.ConversationItemTruncate{
		ItemID:       st.ItemID,
		ContentIndex: st.ContentIndex,
		AudioEndMS:   int(played / time.Millisecond),
	}
	if err := send(b.sender, trunc); err != nil {
		b.log.Warn("processor: send conversation.item.truncate", "err", err)
	}
	b.log.Info("processor: barge-in", "item_id", st.ItemID, "played", played, "discarded", pending)

	if b.fn != nil {
		b.fn(Interruption{Stream: st, Played: played, Discarded: pending})
	}
}
