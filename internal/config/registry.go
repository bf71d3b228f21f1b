package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/rtbridge/pkg/audio"
	"github.com/MrWong99/rtbridge/pkg/realtime/transport"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// TransportFactory builds a dialer from the realtime section.
type TransportFactory func(RealtimeConfig) (transport.Dialer, error)

// AudioFactory builds a device whose playback pulls from src. A factory may
// return a nil device to run without local audio.
type AudioFactory func(cfg AudioConfig, src audio.Source) (audio.Device, error)

// Registry maps transport and audio backend names to their constructor
// functions. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	transports map[string]TransportFactory
	audio      map[string]AudioFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		transports: make(map[string]TransportFactory),
		audio:      make(map[string]AudioFactory),
	}
}

// RegisterTransport registers a dialer factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterTransport(name string, factory TransportFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transports[name] = factory
}

// RegisterAudio registers an audio device factory under name.
func (r *Registry) RegisterAudio(name string, factory AudioFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio[name] = factory
}

// CreateTransport instantiates the dialer registered under cfg.Transport.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateTransport(cfg RealtimeConfig) (transport.Dialer, error) {
	r.mu.RLock()
	factory, ok := r.transports[cfg.Transport]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: transport/%q", ErrProviderNotRegistered, cfg.Transport)
	}
	return factory(cfg)
}

// CreateAudio instantiates the device registered under cfg.Backend.
func (r *Registry) CreateAudio(cfg AudioConfig, src audio.Source) (audio.Device, error) {
	r.mu.RLock()
	factory, ok := r.audio[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: audio/%q", ErrProviderNotRegistered, cfg.Backend)
	}
	return factory(cfg, src)
}

// Transports returns the registered transport names, sorted.
func (r *Registry) Transports() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.transports)
}

// AudioBackends returns the registered audio backend names, sorted.
func (r *Registry) AudioBackends() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.audio)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
