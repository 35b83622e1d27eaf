//go:build portaudio
// +build portaudio

package audio

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gordonklaus/portaudio"

	"smart-room/internal/application"
)

const framesPerBuffer = 1024

// MicrophoneSource records one utterance at a time from the default input
// device. An utterance ends after a second of silence or ten seconds of audio.
type MicrophoneSource struct {
	format    application.AudioFormat
	threshold int16
	logger    *slog.Logger

	stream *portaudio.Stream
	buffer []int16
}

func NewMicrophoneSource(format application.AudioFormat, threshold int16, logger *slog.Logger) *MicrophoneSource {
	if threshold <= 0 {
		threshold = DefaultSilenceThreshold
	}
	return &MicrophoneSource{
		format:    format,
		threshold: threshold,
		logger:    logger,
		buffer:    make([]int16, framesPerBuffer),
	}
}

func (m *MicrophoneSource) Name() string {
	return "microphone"
}

func (m *MicrophoneSource) Start(_ context.Context) error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("initializing portaudio: %w", err)
	}

	stream, err := portaudio.OpenDefaultStream(m.format.Channels, 0, float64(m.format.SampleRate), framesPerBuffer, m.buffer)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("opening stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("starting stream: %w", err)
	}
	m.stream = stream

	m.logger.Info("microphone started", "sampleRate", m.format.SampleRate)
	return nil
}

func (m *MicrophoneSource) Stop() error {
	if m.stream != nil {
		m.stream.Stop()
		m.stream.Close()
		m.stream = nil
	}
	return portaudio.Terminate()
}

func (m *MicrophoneSource) NextUtterance(ctx context.Context) ([]byte, error) {
	if m.stream == nil {
		return nil, fmt.Errorf("microphone not started")
	}

	detector := newUtteranceDetector(m.format.SampleRate, m.threshold)
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if err := m.stream.Read(); err != nil {
			return nil, fmt.Errorf("reading from stream: %w", err)
		}
		if detector.feed(m.buffer) {
			break
		}
	}

	samples := detector.samples()
	if len(samples) == 0 {
		return nil, nil
	}
	return encodeWAV(samples, m.format)
}
