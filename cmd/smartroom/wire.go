package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"smart-room/config"
	"smart-room/internal/application"
	"smart-room/internal/infra/anthropic"
	"smart-room/internal/infra/audio"
	"smart-room/internal/infra/backend"
	"smart-room/internal/infra/camera"
	"smart-room/internal/infra/gemini"
	"smart-room/internal/infra/mqtt"
	"smart-room/internal/infra/openai"
	"smart-room/internal/infra/pushover"
)

const (
	cameraOpenTimeout = 3 * time.Second
	fileVoicePoll     = 500 * time.Millisecond
)

// roomParts holds everything built from config. Optional parts are nil.
type roomParts struct {
	room     *application.Room
	push     *mqtt.Client
	frames   *camera.PushSource
	voice    application.UtteranceSource
	voiceAPI http.Handler
	stt      application.SpeechToText
	closers  []io.Closer
}

func (p *roomParts) Close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		p.closers[i].Close()
	}
}

type buildOptions struct {
	withPush   bool
	withCamera bool
	withVoice  bool
}

func buildRoom(ctx context.Context, cfg *config.Config, opts buildOptions, logger *slog.Logger) (*roomParts, error) {
	parts := &roomParts{}

	interpreter, err := createInterpreter(ctx, cfg.Interpreter, logger)
	if err != nil {
		return nil, err
	}
	if c, ok := interpreter.(io.Closer); ok {
		parts.closers = append(parts.closers, c)
	}

	deps := application.RoomDeps{
		Backend:     backend.NewClient(cfg.Backend.URL, cfg.Backend.Token),
		Interpreter: interpreter,
		Notifier:    createNotifier(cfg.Pushover),
		Logger:      logger,
	}

	if opts.withPush && !cfg.MQTT.Disabled {
		parts.push = mqtt.NewClient(mqtt.Config{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
		}, logger.With("component", "mqtt"))
		deps.Push = parts.push
	}

	if opts.withCamera {
		encoder := camera.Encoder{Width: cfg.Camera.Width, Height: cfg.Camera.Height, Quality: cfg.Camera.Quality}
		switch cfg.Camera.Source {
		case "push":
			parts.frames = camera.NewPushSource(encoder, cfg.Camera.MaxAge, cameraOpenTimeout)
			deps.Frames = parts.frames
		case "file":
			deps.Frames = camera.NewDirSource(cfg.Camera.Dir, encoder)
		}
	}

	if opts.withVoice {
		parts.stt = createSpeechToText(cfg.Voice, logger)
		parts.voice, parts.voiceAPI = createUtteranceSource(cfg.Voice, logger)
	}

	parts.room = application.NewRoom(application.RoomConfig{
		RequestTimeout:  cfg.Backend.RequestTimeout,
		PerDeviceTopics: cfg.MQTT.PerDeviceTopics,
		PublishLocal:    cfg.MQTT.PublishLocal,
		DwellRate:       cfg.Interaction.DwellRate,
		ActivitySize:    cfg.Log.ActivitySize,
		AuthAtStart:     cfg.Interaction.AuthAtStart,
		GesturePause:    cfg.Camera.GesturePause,
		Identity: application.IdentityConfig{
			MaxRetries:     cfg.Identity.MaxRetries,
			RetryDelay:     cfg.Identity.RetryDelay,
			CloseDelay:     cfg.Identity.CloseDelay,
			RequestTimeout: cfg.Backend.RequestTimeout,
		},
		Locomotion: application.LocomotionConfig{
			Damping:        cfg.Interaction.Damping,
			Acceleration:   cfg.Interaction.Acceleration,
			EyeHeight:      cfg.Interaction.EyeHeight,
			RoomHalfExtent: cfg.Interaction.RoomHalfExtent,
		},
	}, deps)
	parts.closers = append(parts.closers, parts.room)

	return parts, nil
}

func createInterpreter(ctx context.Context, cfg config.InterpreterConfig, logger *slog.Logger) (application.CommandInterpreter, error) {
	switch cfg.Provider {
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			logger.Warn("no gemini api key, natural-language commands disabled")
			return application.NoInterpreter{}, nil
		}
		client, err := gemini.NewClient(ctx, cfg.GeminiAPIKey, cfg.Model)
		if err != nil {
			return nil, fmt.Errorf("creating gemini interpreter: %w", err)
		}
		return client, nil
	case "claude":
		if cfg.AnthropicAPIKey == "" {
			logger.Warn("no anthropic api key, natural-language commands disabled")
			return application.NoInterpreter{}, nil
		}
		return anthropic.NewClaudeClient(cfg.AnthropicAPIKey, cfg.Model), nil
	default:
		return application.NoInterpreter{}, nil
	}
}

func createNotifier(cfg config.PushoverConfig) application.Notifier {
	if !cfg.Enabled {
		return &application.NoopNotifier{}
	}
	return pushover.NewClient(cfg.Token, cfg.UserKey)
}

func createSpeechToText(cfg config.VoiceConfig, logger *slog.Logger) application.SpeechToText {
	if cfg.OpenAIAPIKey == "" {
		if cfg.Source != "none" {
			logger.Warn("no openai api key, only typed commands will be understood")
		}
		return &application.NoopSTT{}
	}
	return openai.NewWhisperClient(cfg.OpenAIAPIKey, cfg.Language)
}

// createUtteranceSource returns the console's source and, for the http
// source, the handler the control surface mounts under /voice.
func createUtteranceSource(cfg config.VoiceConfig, logger *slog.Logger) (application.UtteranceSource, http.Handler) {
	switch cfg.Source {
	case "file":
		return audio.NewFileSource(cfg.Dir, fileVoicePoll), nil
	case "http":
		src := audio.NewHTTPSource(cfg.QueueSize, logger.With("component", "voice"))
		return src, src.Handler()
	case "microphone":
		return audio.NewMicrophoneSource(application.DefaultAudioFormat(), audio.DefaultSilenceThreshold, logger.With("component", "voice")), nil
	default:
		return nil, nil
	}
}
