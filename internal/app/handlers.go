package app

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/rtbridge/internal/config"
	"github.com/MrWong99/rtbridge/internal/relay"
	"github.com/MrWong99/rtbridge/internal/transcript"
	"github.com/MrWong99/rtbridge/pkg/realtime"
	"github.com/MrWong99/rtbridge/pkg/realtime/events"
	"github.com/MrWong99/rtbridge/pkg/realtime/processor"
)

// Event callbacks run on the session read loop. They only log, count, queue
// transcripts and hand messages to the relay, none of which blocks.

// settings converts the session section of the config to the fields the
// configurator pushes.
func (a *App) settings(sc config.SessionConfig) processor.Settings {
	s := processor.Settings{
		Instructions:            sc.Instructions,
		Voice:                   sc.Voice,
		Temperature:             sc.Temperature,
		MaxOutputTokens:         maxTokens(sc.MaxOutputTokens),
		Modalities:              sc.Modalities,
		InputTranscriptionModel: sc.InputTranscriptionModel,
		Tools:                   a.tools.Definitions(),
	}
	if len(s.Tools) > 0 {
		s.ToolChoice = "auto"
	}
	if td := sc.TurnDetection; td != nil {
		s.TurnDetection = &events.TurnDetection{
			Type:              td.Type,
			Threshold:         td.Threshold,
			PrefixPaddingMS:   td.PrefixPaddingMS,
			SilenceDurationMS: td.SilenceDurationMS,
		}
	}
	return s
}

func maxTokens(n int) events.MaxTokens {
	if n < 0 {
		return events.InfiniteTokens
	}
	return events.MaxTokens(n)
}

// publish hands data to the relay when one is configured.
func (a *App) publish(kind string, data any) {
	if a.relay == nil {
		return
	}
	if err := a.relay.Publish(kind, data); err != nil && !errors.Is(err, relay.ErrNotStarted) {
		a.log.Warn("app: relay publish", "kind", kind, "err", err)
	}
}

func (a *App) record(e transcript.Entry) {
	e.SessionID = a.manager.SessionID()
	if e.Timestamp.IsZero() {
		e.Timestamp = a.now().UTC()
	}
	a.recorder.Record(e)
}

type stateMessage struct {
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

func (a *App) onState(st realtime.State, err error) {
	switch st {
	case realtime.StateOpen:
		if !a.wasOpen.Swap(true) {
			a.metrics.OpenSessions.Add(context.Background(), 1)
		}
	case realtime.StateClosed, realtime.StateError:
		if a.wasOpen.Swap(false) {
			a.metrics.OpenSessions.Add(context.Background(), -1)
		}
	}
	msg := stateMessage{State: st.String()}
	if err != nil {
		msg.Error = err.Error()
	}
	a.publish(relay.TopicState, msg)
}

func (a *App) onSessionCreated(ev *events.SessionCreated) {
	a.manager.SetSessionID(ev.Session.ID)
	if a.relay != nil {
		a.relay.SetSessionID(ev.Session.ID)
	}
	a.log.Info("app: session created", "session_id", ev.Session.ID, "model", ev.Session.Model)
}

func (a *App) onSessionUpdated(sc events.SessionConfig) {
	a.log.Info("app: session configured",
		"voice", sc.Voice,
		"modalities", sc.Modalities,
		"tools", len(sc.Tools),
	)
}

func (a *App) onStreamDone(st processor.Stream) {
	a.log.Debug("app: assistant audio done",
		"response_id", st.ResponseID,
		"item_id", st.ItemID,
		"duration", a.buffer.Format().Duration(int(st.Samples)),
	)
}

type captionMessage struct {
	ResponseID string `json:"response_id"`
	ItemID     string `json:"item_id"`
	Text       string `json:"text"`
	Final      bool   `json:"final"`
}

func (a *App) onCaption(c processor.Caption) {
	a.publish(relay.TopicCaptions, captionMessage(c))
	if !c.Final || c.Text == "" {
		return
	}
	a.record(transcript.Entry{
		ItemID:     c.ItemID,
		ResponseID: c.ResponseID,
		Speaker:    transcript.SpeakerAssistant,
		Text:       c.Text,
	})
}

type transcriptMessage struct {
	ItemID string `json:"item_id"`
	Text   string `json:"text"`
}

func (a *App) onTranscript(t processor.Transcript) {
	a.publish(relay.TopicTranscripts, transcriptMessage{ItemID: t.ItemID, Text: t.Text})
	if t.Text == "" {
		return
	}
	a.record(transcript.Entry{
		ItemID:  t.ItemID,
		Speaker: transcript.SpeakerUser,
		Text:    t.Text,
	})
}

func (a *App) onTranscriptFailed(itemID string, err error) {
	a.log.Warn("app: transcription failed", "item_id", itemID, "err", err)
}

func (a *App) onSpeech(s processor.Speech) {
	if s.Started {
		a.log.Debug("app: speech started", "item_id", s.ItemID, "offset", s.Offset)
		return
	}
	a.log.Debug("app: speech stopped", "item_id", s.ItemID, "offset", s.Offset)
}

type bargeInMessage struct {
	ResponseID string `json:"response_id"`
	ItemID     string `json:"item_id"`
	PlayedMS   int64  `json:"played_ms"`
	Discarded  int    `json:"discarded_samples"`
}

func (a *App) onBargeIn(in processor.Interruption) {
	a.metrics.BargeIns.Add(context.Background(), 1)
	a.log.Info("app: barge-in",
		"item_id", in.Stream.ItemID,
		"played", in.Played,
		"discarded", in.Discarded,
	)
	a.publish(relay.TopicBargeIn, bargeInMessage{
		ResponseID: in.Stream.ResponseID,
		ItemID:     in.Stream.ItemID,
		PlayedMS:   in.Played.Milliseconds(),
		Discarded:  in.Discarded,
	})
}

func (a *App) onLatency(d time.Duration) {
	a.metrics.RecordLatency(context.Background(), d)
	a.log.Debug("app: response latency", "latency", d)
}

type toolMessage struct {
	CallID     string `json:"call_id"`
	Name       string `json:"name"`
	Args       string `json:"arguments"`
	Output     string `json:"output"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

func (a *App) onToolDone(r processor.ToolResult) {
	a.metrics.RecordToolCall(context.Background(), r.Name, r.Duration, r.Err)
	msg := toolMessage{
		CallID:     r.CallID,
		Name:       r.Name,
		Args:       r.Args,
		Output:     r.Output,
		DurationMS: r.Duration.Milliseconds(),
	}
	if r.Err != nil {
		msg.Error = r.Err.Error()
	}
	a.publish(relay.TopicTools, msg)
}

func (a *App) onResponse(r events.Response) {
	attrs := []any{"response_id", r.ID, "status", r.Status}
	if r.StatusDetails != nil && r.StatusDetails.Reason != "" {
		attrs = append(attrs, "reason", r.StatusDetails.Reason)
	}
	if r.Usage != nil {
		attrs = append(attrs, "total_tokens", r.Usage.TotalTokens)
	}
	a.log.Debug("app: response done", attrs...)
}

func (a *App) onRateLimits(limits []events.RateLimit) {
	for _, l := range limits {
		a.metrics.RecordRateLimit(context.Background(), l.Name, l.Remaining)
	}
	a.publish(relay.TopicRateLimits, limits)
}
