package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Only session settings and the log level can be applied without restart;
// every other changed section is listed in RestartRequired.
type ConfigDiff struct {
	SessionChanged  bool
	Session         SessionConfig
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired names changed top-level sections that are only read
	// at startup.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.SessionChanged && !d.LogLevelChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Session
	if !sessionEqual(old.Session, new.Session) {
		d.SessionChanged = true
		d.Session = new.Session
	}

	// Startup-only sections
	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	for _, s := range []struct {
		name     string
		old, new any
	}{
		{"server", oldServer, newServer},
		{"realtime", old.Realtime, new.Realtime},
		{"audio", old.Audio, new.Audio},
		{"transcripts", old.Transcripts, new.Transcripts},
		{"relay", old.Relay, new.Relay},
		{"telemetry", old.Telemetry, new.Telemetry},
	} {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	return d
}

// sessionEqual compares the effective session settings. The instructions
// file path is ignored since its contents are already in Instructions.
func sessionEqual(a, b SessionConfig) bool {
	if a.Instructions != b.Instructions ||
		a.Voice != b.Voice ||
		a.Temperature != b.Temperature ||
		a.MaxOutputTokens != b.MaxOutputTokens ||
		a.InputTranscriptionModel != b.InputTranscriptionModel ||
		a.BargeInEnabled() != b.BargeInEnabled() {
		return false
	}
	if !slices.Equal(a.Modalities, b.Modalities) {
		return false
	}
	switch {
	case a.TurnDetection == nil && b.TurnDetection == nil:
		return true
	case a.TurnDetection == nil || b.TurnDetection == nil:
		return false
	default:
		return *a.TurnDetection == *b.TurnDetection
	}
}
