package processor

import (
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"sync"

	"github.com/jinzhu/copier"

	"github.com/MrWong99/rtbridge/pkg/realtime/dispatch"
	"github.com/MrWong99/rtbridge/pkg/realtime/events"
)

// Settings are the session fields the client wants to control. Zero values
// leave the server default untouched.
type Settings struct {
	Instructions            string
	Voice                   string
	Temperature             float64
	MaxOutputTokens         events.MaxTokens
	Modalities              []string
	InputTranscriptionModel string
	TurnDetection           *events.TurnDetection
	Tools                   []events.Tool
	ToolChoice              string
}

// SessionConfigurator pushes [Settings] to the server. When session.created
// arrives it compares the server's defaults with the settings and sends a
// session.update carrying only the fields that differ. It keeps a deep copy
// of the last session the server reported.
type SessionConfigurator struct {
	base
	sender    Sender
	onUpdated func(events.SessionConfig)
	log       *slog.Logger

	mu       sync.Mutex
	settings Settings
	server   events.SessionConfig
	known    bool
}

// NewSessionConfigurator creates a configurator sending through s. onUpdated,
// if non-nil, runs on every session.updated with the confirmed config.
func NewSessionConfigurator(s Sender, settings Settings, onUpdated func(events.SessionConfig), opts ...Option) *SessionConfigurator {
	o := buildOptions(opts)
	c := &SessionConfigurator{
		base:      newBase("session-configurator"),
		sender:    s,
		onUpdated: onUpdated,
		log:       o.log,
		settings:  settings,
	}
	dispatch.MustRegister(c.d, c.handleCreated)
	dispatch.MustRegister(c.d, c.handleUpdated)
	return c
}

func (c *SessionConfigurator) handleCreated(ev *events.SessionCreated) {
	if err := c.remember(&ev.Session); err != nil {
		c.log.Warn("processor: copy session", "err", err)
		return
	}
	c.log.Info("processor: session created", "id", ev.Session.ID, "model", ev.Session.Model)
	if err := c.push(); err != nil {
		c.log.Error("processor: session update", "err", err)
	}
}

func (c *SessionConfigurator) handleUpdated(ev *events.SessionUpdated) {
	if err := c.remember(&ev.Session); err != nil {
		c.log.Warn("processor: copy session", "err", err)
		return
	}
	if c.onUpdated != nil {
		c.onUpdated(c.Server())
	}
}

// remember deep-copies src, which aliases the dispatcher's reused instance.
func (c *SessionConfigurator) remember(src *events.SessionConfig) error {
	cp, err := copySession(src)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.server = cp
	c.known = true
	c.mu.Unlock()
	return nil
}

// Update replaces the settings and, once the session exists, sends whatever
// differs from the server's current config.
func (c *SessionConfigurator) Update(settings Settings) error {
	c.mu.Lock()
	c.settings = settings
	c.mu.Unlock()
	return c.push()
}

// Server returns a deep copy of the last session config reported by the
// server. The zero value is returned before session.created or if the copy
// fails.
func (c *SessionConfigurator) Server() events.SessionConfig {
	c.mu.Lock()
	cp, err := copySession(&c.server)
	c.mu.Unlock()
	if err != nil {
		c.log.Warn("processor: copy session", "err", err)
		return events.SessionConfig{}
	}
	return cp
}

func copySession(src *events.SessionConfig) (events.SessionConfig, error) {
	var cp events.SessionConfig
	if err := copier.CopyWithOption(&cp, src, copier.Option{DeepCopy: true}); err != nil {
		return events.SessionConfig{}, fmt.Errorf("processor: copy session config: %w", err)
	}
	return cp, nil
}

func (c *SessionConfigurator) push() error {
	c.mu.Lock()
	if !c.known {
		c.mu.Unlock()
		return nil
	}
	upd, changed := diffSession(c.server, c.settings)
	c.mu.Unlock()
	if !changed {
		c.log.Debug("processor: session already matches settings")
		return nil
	}
	if err := send(c.sender, &events.SessionUpdate{Session: upd}); err != nil {
		return fmt.Errorf("processor: send session.update: %w", err)
	}
	return nil
}

// diffSession returns a session.update payload holding the settings that
// differ from cur.
func diffSession(cur events.SessionConfig, s Settings) (events.SessionConfig, bool) {
	var upd events.SessionConfig
	changed := false

	if s.Instructions != "" && s.Instructions != cur.Instructions {
		upd.Instructions = s.Instructions
		changed = true
	}
	if s.Voice != "" && s.Voice != cur.Voice {
		upd.Voice = s.Voice
		changed = true
	}
	if s.Temperature != 0 && s.Temperature != cur.Temperature {
		upd.Temperature = s.Temperature
		changed = true
	}
	if s.MaxOutputTokens != 0 && s.MaxOutputTokens != cur.MaxResponseOutputTokens {
		upd.MaxResponseOutputTokens = s.MaxOutputTokens
		changed = true
	}
	if len(s.Modalities) > 0 && !slices.Equal(s.Modalities, cur.Modalities) {
		upd.Modalities = slices.Clone(s.Modalities)
		changed = true
	}
	if s.InputTranscriptionModel != "" &&
		(cur.InputAudioTranscription == nil || cur.InputAudioTranscription.Model != s.InputTranscriptionModel) {
		upd.InputAudioTranscription = &events.InputAudioTranscription{Model: s.InputTranscriptionModel}
		changed = true
	}
	if s.TurnDetection != nil && (cur.TurnDetection == nil || *cur.TurnDetection != *s.TurnDetection) {
		td := *s.TurnDetection
		upd.TurnDetection = &td
		changed = true
	}
	if len(s.Tools) > 0 && !reflect.DeepEqual(s.Tools, cur.Tools) {
		upd.Tools = s.Tools
		changed = true
	}
	if s.ToolChoice != "" && s.ToolChoice != cur.ToolChoice {
		upd.ToolChoice = s.ToolChoice
		changed = true
	}
	return upd, changed
}
