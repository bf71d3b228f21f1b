package processor

import (
	"github.com/MrWong99/rtbridge/pkg/realtime/dispatch"
	"github.com/MrWong99/rtbridge/pkg/realtime/events"
)

// Transcript is the server's transcription of one committed user audio item.
type Transcript struct {
	ItemID       string
	ContentIndex int
	Text         string
}

// Transcription reports user speech transcripts. It requires
// input_audio_transcription to be enabled on the session.
type Transcription struct {
	base
	onText func(Transcript)
	onFail func(itemID string, err error)
}

// NewTranscription creates a transcription processor. Either callback may be
// nil.
func NewTranscription(onText func(Transcript), onFail func(itemID string, err error)) *Transcription {
	t := &Transcription{base: newBase("transcription"), onText: onText, onFail: onFail}
	dispatch.MustRegister(t.d, func(ev *events.InputAudioTranscriptionCompleted) {
		if t.onText != nil {
			t.onText(Transcript{ItemID: ev.ItemID, ContentIndex: ev.ContentIndex, Text: ev.Transcript})
		}
	})
	dispatch.MustRegister(t.d, func(ev *events.InputAudioTranscriptionFailed) {
		if t.onFail != nil {
			t.onFail(ev.ItemID, ev.Error)
		}
	})
	return t
}
