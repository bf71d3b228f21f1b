package config_test

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"testing"

	"github.com/MrWong99/rtbridge/internal/config"
	"github.com/MrWong99/rtbridge/pkg/audio"
	"github.com/MrWong99/rtbridge/pkg/audio/mock"
	"github.com/MrWong99/rtbridge/pkg/realtime/transport"
)

type stubDialer struct{ readLimit int64 }

func (stubDialer) Dial(context.Context, string, http.Header) (transport.Conn, error) {
	return nil, errors.New("stub")
}

func TestRegistry_Transport(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	r.RegisterTransport("stub", func(c config.RealtimeConfig) (transport.Dialer, error) {
		return stubDialer{readLimit: c.ReadLimit}, nil
	})

	d, err := r.CreateTransport(config.RealtimeConfig{Transport: "stub", ReadLimit: 42})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sd, ok := d.(stubDialer); !ok || sd.readLimit != 42 {
		t.Errorf("factory did not receive the config, got %#v", d)
	}

	_, err = r.CreateTransport(config.RealtimeConfig{Transport: "carrier-pigeon"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("want ErrProviderNotRegistered, got %v", err)
	}
}

func TestRegistry_Audio(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	var gotSrc audio.Source
	r.RegisterAudio("mock", func(_ config.AudioConfig, src audio.Source) (audio.Device, error) {
		gotSrc = src
		return mock.NewDevice(src, 480), nil
	})

	buf := audio.NewStreamingBuffer(audio.WireFormat, 1)
	dev, err := r.CreateAudio(config.AudioConfig{Backend: "mock"}, buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dev == nil || gotSrc != audio.Source(buf) {
		t.Error("factory should receive the playback source")
	}

	if _, err := r.CreateAudio(config.AudioConfig{Backend: "alsa"}, buf); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("want ErrProviderNotRegistered, got %v", err)
	}
}

func TestRegistry_Names(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	for _, n := range []string{"gorilla", "coder"} {
		r.RegisterTransport(n, func(config.RealtimeConfig) (transport.Dialer, error) { return stubDialer{}, nil })
	}
	r.RegisterAudio("none", func(config.AudioConfig, audio.Source) (audio.Device, error) { return nil, nil })

	if got := r.Transports(); !slices.Equal(got, []string{"coder", "gorilla"}) {
		t.Errorf("Transports: got %v", got)
	}
	if got := r.AudioBackends(); !slices.Equal(got, []string{"none"}) {
		t.Errorf("AudioBackends: got %v", got)
	}
}
