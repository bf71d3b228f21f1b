package processor

import (
	"strings"

	"github.com/MrWong99/rtbridge/pkg/realtime/dispatch"
	"github.com/MrWong99/rtbridge/pkg/realtime/events"
)

// Caption is the assistant's text for one response, either as the running
// concatenation of deltas or, when Final is set, the complete text.
type Caption struct {
	ResponseID string
	ItemID     string
	Text       string
	Final      bool
}

// Captions assembles assistant text from both text and audio transcript
// deltas. The text resets on every response.created.
type Captions struct {
	base
	fn func(Caption)

	sb strings.Builder
}

// NewCaptions creates a captions processor calling fn for every partial and
// final caption.
func NewCaptions(fn func(Caption)) *Captions {
	c := &Captions{base: newBase("captions"), fn: fn}
	dispatch.MustRegister(c.d, func(*events.ResponseCreated) { c.sb.Reset() })
	dispatch.MustRegister(c.d, func(ev *events.ResponseTextDelta) {
		c.partial(ev.ContentRef, ev.Delta)
	})
	dispatch.MustRegister(c.d, func(ev *events.ResponseAudioTranscriptDelta) {
		c.partial(ev.ContentRef, ev.Delta)
	})
	dispatch.MustRegister(c.d, func(ev *events.ResponseTextDone) {
		c.final(ev.ContentRef, ev.Text)
	})
	dispatch.MustRegister(c.d, func(ev *events.ResponseAudioTranscriptDone) {
		c.final(ev.ContentRef, ev.Transcript)
	})
	return c
}

func (c *Captions) partial(ref events.ContentRef, delta string) {
	c.sb.WriteString(delta)
	c.emit(Caption{ResponseID: ref.ResponseID, ItemID: ref.ItemID, Text: c.sb.String()})
}

func (c *Captions) final(ref events.ContentRef, text string) {
	c.emit(Caption{ResponseID: ref.ResponseID, ItemID: ref.ItemID, Text: text, Final: true})
}

func (c *Captions) emit(cp Caption) {
	if c.fn != nil {
		c.fn(cp)
	}
}
