package processor_test

import (
	"errors"
	"slices"
	"testing"

	"github.com/MrWong99/rtbridge/pkg/realtime/events"
	"github.com/MrWong99/rtbridge/pkg/realtime/processor"
)

func TestCaptions_AccumulatesAndResets(t *testing.T) {
	t.Parallel()
	var got []processor.Caption
	c := processor.NewCaptions(func(cp processor.Caption) { got = append(got, cp) })

	feed(t, c, `{"type":"response.created","response":{"id":"resp_1"}}`)
	feed(t, c, `{"type":"response.audio_transcript.delta","response_id":"resp_1","item_id":"item_1","delta":"Hel"}`)
	feed(t, c, `{"type":"response.text.delta","response_id":"resp_1","item_id":"item_1","delta":"lo"}`)
	feed(t, c, `{"type":"response.text.done","response_id":"resp_1","item_id":"item_1","text":"Hello!"}`)
	feed(t, c, `{"type":"response.created","response":{"id":"resp_2"}}`)
	feed(t, c, `{"type":"response.audio_transcript.delta","response_id":"resp_2","item_id":"item_2","delta":"Bye"}`)
	feed(t, c, `{"type":"response.audio_transcript.done","response_id":"resp_2","item_id":"item_2","transcript":"Bye."}`)

	want := []processor.Caption{
		{ResponseID: "resp_1", ItemID: "item_1", Text: "Hel"},
		{ResponseID: "resp_1", ItemID: "item_1", Text: "Hello"},
		{ResponseID: "resp_1", ItemID: "item_1", Text: "Hello!", Final: true},
		{ResponseID: "resp_2", ItemID: "item_2", Text: "Bye"},
		{ResponseID: "resp_2", ItemID: "item_2", Text: "Bye.", Final: true},
	}
	if !slices.Equal(got, want) {
		t.Errorf("captions:\n got %+v\nwant %+v", got, want)
	}
}

func TestTranscription_CompletedAndFailed(t *testing.T) {
	t.Parallel()
	var texts []processor.Transcript
	var failed []string
	var failErr error
	tr := processor.NewTranscription(
		func(tx processor.Transcript) { texts = append(texts, tx) },
		func(itemID string, err error) {
			failed = append(failed, itemID)
			failErr = err
		},
	)

	feed(t, tr, `{"type":"conversation.item.input_audio_transcription.completed","item_id":"item_u1","content_index":0,"transcript":"what time is it"}`)
	feed(t, tr, `{"type":"conversation.item.input_audio_transcription.failed","item_id":"item_u2","content_index":0,"error":{"type":"transcription_error","code":"audio_unintelligible","message":"could not transcribe"}}`)

	if len(texts) != 1 || texts[0] != (processor.Transcript{ItemID: "item_u1", Text: "what time is it"}) {
		t.Errorf("transcripts = %+v", texts)
	}
	if !slices.Equal(failed, []string{"item_u2"}) {
		t.Errorf("failed = %v, want [item_u2]", failed)
	}
	var details events.ErrorDetails
	if !errors.As(failErr, &details) || details.Code != "audio_unintelligible" {
		t.Errorf("failure error = %v, want ErrorDetails with code audio_unintelligible", failErr)
	}
}

func TestTranscription_NilCallbacks(t *testing.T) {
	t.Parallel()
	tr := processor.NewTranscription(nil, nil)
	feed(t, tr, `{"type":"conversation.item.input_audio_transcription.completed","item_id":"a","transcript":"x"}`)
	feed(t, tr, `{"type":"conversation.item.input_audio_transcription.failed","item_id":"a","error":{"message":"x"}}`)
}
