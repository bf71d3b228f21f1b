// Command rtbridge is a terminal client for the OpenAI Realtime API. It plays
// assistant audio, streams the microphone, sends typed lines as user messages
// and serves health and metrics endpoints.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MrWong99/rtbridge/internal/app"
	"github.com/MrWong99/rtbridge/internal/config"
	"github.com/MrWong99/rtbridge/internal/health"
	"github.com/MrWong99/rtbridge/internal/observe"
	"github.com/MrWong99/rtbridge/pkg/audio"
	"github.com/MrWong99/rtbridge/pkg/audio/miniaudio"
	"github.com/MrWong99/rtbridge/pkg/audio/portaudio"
	"github.com/MrWong99/rtbridge/pkg/realtime/transport"
	"github.com/MrWong99/rtbridge/pkg/realtime/transport/coderws"
	"github.com/MrWong99/rtbridge/pkg/realtime/transport/gorillaws"
)

// version is set at build time via -ldflags.
var version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", true, "reload hot-reloadable settings when the config file changes")
	interactive := flag.Bool("stdin", true, "read user messages and commands from standard input")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "rtbridge: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "rtbridge: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Level())
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("rtbridge starting",
		"version", version,
		"config", *configPath,
		"model", cfg.Realtime.Model,
		"transport", cfg.Realtime.Transport,
		"audio", cfg.Audio.Backend,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Backend registry ──────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinBackends(reg)

	application, err := app.New(ctx, cfg, reg,
		app.WithLogger(logger),
		app.WithLevelVar(level),
		app.WithMetrics(metrics),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Hot reload ────────────────────────────────────────────────────────────
	if *watch {
		w, err := config.NewWatcher(*configPath, func(old, next *config.Config) {
			diff := config.Diff(old, next)
			if diff.Empty() {
				return
			}
			application.ApplyConfig(diff)
		}, config.WithWatcherLogger(logger))
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			defer w.Stop()
			go reloadOnHangup(ctx, w)
		}
	}

	// ── HTTP surface ──────────────────────────────────────────────────────────
	var httpServer *http.Server
	if addr := cfg.Server.ListenAddr; addr != "-" {
		h := health.New(application.Checkers(), health.WithDebug(func() any { return application.Debug() }))
		httpServer = &http.Server{
			Addr:              addr,
			Handler:           health.NewRouter(h, metrics),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			slog.Info("http server listening", "addr", addr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("http server error", "err", err)
			}
		}()
	}

	// ── Interactive input ─────────────────────────────────────────────────────
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	if *interactive {
		go readCommands(runCtx, os.Stdin, application, cancelRun)
	}

	slog.Info("client ready, type a message or /quit")

	exit := 0
	if err := application.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		exit = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	slog.Info("stopping…")

	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http server shutdown error", "err", err)
		}
	}
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		exit = 1
	}
	slog.Info("goodbye")
	return exit
}

// ── Backend wiring ────────────────────────────────────────────────────────────

// registerBuiltinBackends wires the shipped transports and audio backends
// into reg.
func registerBuiltinBackends(reg *config.Registry) {
	// ── Transports ────────────────────────────────────────────────────────────
	reg.RegisterTransport("coder", func(rc config.RealtimeConfig) (transport.Dialer, error) {
		var opts []coderws.Option
		if rc.ReadLimit > 0 {
			opts = append(opts, coderws.WithReadLimit(rc.ReadLimit))
		}
		return coderws.NewDialer(opts...), nil
	})
	reg.RegisterTransport("gorilla", func(rc config.RealtimeConfig) (transport.Dialer, error) {
		var opts []gorillaws.Option
		if rc.ReadLimit > 0 {
			opts = append(opts, gorillaws.WithReadLimit(rc.ReadLimit))
		}
		return gorillaws.NewDialer(opts...), nil
	})

	// ── Audio ─────────────────────────────────────────────────────────────────
	reg.RegisterAudio("miniaudio", func(ac config.AudioConfig, src audio.Source) (audio.Device, error) {
		return miniaudio.New(src, miniaudio.Config{
			PeriodFrames: ac.FramesPerBuffer,
			Periods:      ac.Periods,
		}, slog.Default())
	})
	reg.RegisterAudio("portaudio", func(ac config.AudioConfig, src audio.Source) (audio.Device, error) {
		return portaudio.New(src, audio.WireFormat, ac.FramesPerBuffer, slog.Default())
	})
	reg.RegisterAudio("none", func(config.AudioConfig, audio.Source) (audio.Device, error) {
		return nil, nil
	})

	slog.Debug("registered backends", "transports", reg.Transports(), "audio", reg.AudioBackends())
}

// reloadOnHangup rereads the config file on every SIGHUP until ctx ends.
func reloadOnHangup(ctx context.Context, w *config.Watcher) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if _, err := w.Reload(); err != nil {
				slog.Warn("config reload failed", "err", err)
			}
		}
	}
}

// ── Interactive input ─────────────────────────────────────────────────────────

// readCommands sends every line of r as a user message. Lines starting with a
// slash are commands: /mic start, /mic stop, /quit.
func readCommands(ctx context.Context, r io.Reader, a *app.App, quit context.CancelFunc) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if err := handleLine(ctx, a, line, quit); err != nil {
			fmt.Fprintf(os.Stderr, "rtbridge: %v\n", err)
		}
	}
	if err := sc.Err(); err != nil {
		slog.Warn("stdin read error", "err", err)
	}
}

func handleLine(ctx context.Context, a *app.App, line string, quit context.CancelFunc) error {
	switch line {
	case "/quit", "/exit":
		quit()
		return nil
	case "/mic start":
		return a.StartMicrophone(ctx)
	case "/mic stop":
		return a.StopMicrophone(ctx)
	case "/info":
		info := a.Info()
		fmt.Printf("session %s (%s) model=%s since %s\n",
			info.SessionID, info.State, info.Model, info.StartedAt.Format(time.RFC3339))
		return nil
	}
	if strings.HasPrefix(line, "/") {
		return fmt.Errorf("unknown command %q (try /mic start, /mic stop, /info, /quit)", line)
	}
	_, err := a.SendText(ctx, line)
	return err
}
