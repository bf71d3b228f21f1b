package processor

import (
	"time"

	"github.com/MrWong99/rtbridge/pkg/realtime/dispatch"
	"github.com/MrWong99/rtbridge/pkg/realtime/events"
)

// Speech is a server VAD boundary. Offset is measured from the start of the
// input audio buffer.
type Speech struct {
	ItemID  string
	Offset  time.Duration
	Started bool
}

// SpeechActivity reports server-side voice activity boundaries.
type SpeechActivity struct {
	base
	fn func(Speech)
}

// NewSpeechActivity creates a processor calling fn on speech start and stop.
func NewSpeechActivity(fn func(Speech)) *SpeechActivity {
	s := &SpeechActivity{base: newBase("speech"), fn: fn}
	dispatch.MustRegister(s.d, func(ev *events.InputAudioBufferSpeechStarted) {
		s.emit(Speech{ItemID: ev.ItemID, Offset: ms(ev.AudioStartMS), Started: true})
	})
	dispatch.MustRegister(s.d, func(ev *events.InputAudioBufferSpeechStopped) {
		s.emit(Speech{ItemID: ev.ItemID, Offset: ms(ev.AudioEndMS)})
	})
	return s
}

func (s *SpeechActivity) emit(sp Speech) {
	if s.fn != nil {
		s.fn(sp)
	}
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }
