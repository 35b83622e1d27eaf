package application

import (
	"context"

	"smart-room/internal/domain"
)

// DeviceBackend is the room backend's device API.
type DeviceBackend interface {
	ListDevices(ctx context.Context) ([]domain.Device, error)
	// ToggleDevice sends the requested status and returns the status the backend settled on.
	ToggleDevice(ctx context.Context, id string, status bool) (bool, error)
	SetDeviceValue(ctx context.Context, id string, value *domain.Value) error
	BatchUpdate(ctx context.Context, updates []domain.DeviceUpdate) (int, error)
	UpdateDevice(ctx context.Context, id string, patch domain.DeviceUpdate) (domain.Device, error)
}

// IdentityBackend performs face registration and recognition.
// Login returns domain.ErrNoMatch when nobody is recognized.
type IdentityBackend interface {
	Register(ctx context.Context, name string, face domain.Frame) (domain.UserProfile, error)
	Login(ctx context.Context, face domain.Frame) (domain.UserProfile, error)
}

type PresetBackend interface {
	CreatePreset(ctx context.Context, preset domain.Preset) (domain.Preset, error)
	RecognizePreset(ctx context.Context, face, gesture domain.Frame) (domain.Preset, error)
	ListPresets(ctx context.Context) ([]domain.Preset, error)
}

// Backend bundles every backend API the room needs.
type Backend interface {
	DeviceBackend
	IdentityBackend
	PresetBackend
}

// PushChannel is a publish/subscribe transport for out-of-band device updates.
// Subscribing to a topic that already has a handler replaces it.
type PushChannel interface {
	Connect(ctx context.Context) error
	Subscribe(topic string, handler func(payload []byte)) error
	Publish(ctx context.Context, topic string, payload []byte) error
	Close() error
}

// CommandInterpreter turns free text into device changes given the current devices.
type CommandInterpreter interface {
	Interpret(ctx context.Context, text string, devices []domain.Device) ([]domain.DeviceUpdate, error)
}

// FrameSource hands out camera streams.
type FrameSource interface {
	Open(ctx context.Context) (FrameStream, error)
	Name() string
}

type FrameStream interface {
	Capture(ctx context.Context) (domain.Frame, error)
	Close() error
}

// UtteranceSource yields spoken or typed commands for the voice console.
type UtteranceSource interface {
	Start(ctx context.Context) error
	Stop() error
	NextUtterance(ctx context.Context) ([]byte, error)
	Name() string
}

type AudioFormat struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

func DefaultAudioFormat() AudioFormat {
	return AudioFormat{
		SampleRate: 16000,
		Channels:   1,
		BitDepth:   16,
	}
}
