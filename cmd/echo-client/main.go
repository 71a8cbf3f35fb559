// Command echo-client is the microphone client of the Echo voice pipeline.
//
// It listens on the default (or configured) input device, cuts speech into
// utterances, sends each one to echo-server and speaks the reply.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/echo/internal/config"
	"github.com/MrWong99/echo/internal/pipeline"
	"github.com/MrWong99/echo/internal/playback"
	"github.com/MrWong99/echo/internal/providers"
	"github.com/MrWong99/echo/internal/segment"
	"github.com/MrWong99/echo/internal/transport"
	"github.com/MrWong99/echo/pkg/audio"
	"github.com/MrWong99/echo/pkg/audio/device"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	sessionID := flag.String("session", "", "continue an existing conversation instead of starting a new one")
	listDevices := flag.Bool("list-devices", false, "print the available audio devices and exit")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "echo-client: %v\n", err)
		return 1
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel(cfg.Server.LogLevel)})))

	// ── Audio devices ─────────────────────────────────────────────────────────
	devices, err := device.Open()
	if err != nil {
		slog.Error("failed to initialise audio backend", "err", err)
		return 1
	}
	defer func() {
		if err := devices.Close(); err != nil {
			slog.Warn("audio backend close error", "err", err)
		}
	}()

	if *listDevices {
		return printDevices(devices)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := cfg.Audio
	in := audio.Format{SampleRate: a.SampleRate, Channels: a.Channels}
	out := audio.Format{SampleRate: a.OutputSampleRate, Channels: a.Channels}

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	providers.RegisterBuiltins(reg)

	classifier, err := providers.NewVADSession(reg, cfg.Providers.VAD, a.SampleRate, a.FrameMs)
	if err != nil {
		slog.Error("failed to create voice activity detector", "err", err)
		return 1
	}
	defer classifier.Close()

	synth, err := providers.BuildTTS(reg, cfg.Providers)
	if err != nil {
		slog.Error("failed to build tts provider", "err", err)
		return 1
	}

	client, err := transport.New(cfg.Client.ServerURL,
		transport.WithTimeout(cfg.Client.Timeout),
		transport.WithUserAgent("echo-client/"+version))
	if err != nil {
		slog.Error("invalid server url", "err", err)
		return 1
	}

	// ── Output ────────────────────────────────────────────────────────────────
	sink, err := devices.OpenPlayback(a.OutputDevice, out)
	if err != nil {
		slog.Error("failed to open output device", "err", err)
		return 1
	}
	defer sink.Close()

	speaker := playback.New(synth, sink, playback.Config{
		Voice:        cfg.Client.Voice,
		ScratchDir:   cfg.Client.ScratchDir,
		ProviderName: cfg.Providers.TTS.Name,
	})

	if path := cfg.Client.WelcomeFile; path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := speaker.PlayFile(ctx, path); err != nil {
				slog.Warn("failed to play welcome file", "path", path, "err", err)
			}
		} else {
			slog.Debug("welcome file not found, skipping", "path", path)
		}
	}

	// ── Input ─────────────────────────────────────────────────────────────────
	mic, err := devices.OpenCapture(device.CaptureConfig{
		Index:   a.InputDevice,
		Format:  in,
		FrameMs: a.FrameMs,
		Buffer:  cfg.Client.FrameQueue,
	})
	if err != nil {
		slog.Error("failed to open input device", "err", err)
		return 1
	}
	defer mic.Close()

	// ── Pipeline ──────────────────────────────────────────────────────────────
	sess := transport.NewSession()
	if *sessionID != "" {
		sess = &transport.Session{ID: *sessionID}
	}

	frame := time.Duration(a.FrameMs) * time.Millisecond
	maxLen := time.Duration(max(cfg.Segmenter.MaxUtteranceMs, 0)) * time.Millisecond
	segCfg := segment.FramesFor(frame, time.Duration(cfg.Segmenter.HangoverMs)*time.Millisecond, maxLen)

	p := pipeline.New(pipeline.Config{
		Segmenter:      segCfg,
		FrameQueue:     cfg.Client.FrameQueue,
		UtteranceQueue: cfg.Client.UtteranceQueue,
		HalfDuplex:     *cfg.Client.HalfDuplex,
	}, mic, classifier, client, speaker, sess)

	slog.Info("listening",
		"session_id", sess.ID,
		"server", client.Endpoint(),
		"input", in,
		"frame_ms", a.FrameMs,
		"silence_frames", segCfg.SilenceFrames,
		"max_frames", segCfg.MaxFrames,
		"half_duplex", *cfg.Client.HalfDuplex,
	)

	runErr := p.Run(ctx)

	snap := p.Stats().Snapshot()
	slog.Info("session summary",
		"session_id", sess.ID,
		"frames", snap.Frames,
		"frames_dropped", snap.FramesDropped,
		"device_dropped", mic.Dropped(),
		"utterances", snap.Utterances,
		"forced", snap.Forced,
		"utterances_dropped", snap.UtterancesDropped,
		"turns", snap.Turns,
		"failed_turns", snap.FailedTurns,
		"round_trip_p50", snap.RoundTrip.P50,
		"round_trip_p95", snap.RoundTrip.P95,
	)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("pipeline stopped", "err", runErr)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	cfg = config.Default()
	config.ApplyEnv(cfg, os.LookupEnv)
	return cfg, config.Validate(cfg)
}

func printDevices(d *device.Context) int {
	for _, kind := range []struct {
		name string
		list func() ([]device.Info, error)
	}{
		{"input", d.Inputs},
		{"output", d.Outputs},
	} {
		infos, err := kind.list()
		if err != nil {
			slog.Error("failed to list devices", "kind", kind.name, "err", err)
			return 1
		}
		fmt.Printf("%s devices:\n", kind.name)
		for _, info := range infos {
			mark := " "
			if info.IsDefault {
				mark = "*"
			}
			fmt.Printf("  %s %2d  %s\n", mark, info.Index, info.Name)
		}
	}
	return 0
}

func slogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
