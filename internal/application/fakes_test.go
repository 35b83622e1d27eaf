package application_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	clocktesting "k8s.io/utils/clock/testing"

	"smart-room/internal/application"
	"smart-room/internal/domain"
)

const testFrame = domain.Frame("data:image/jpeg;base64,/9j/4AAQSkZJRg==")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func roomDevices() []domain.Device {
	return []domain.Device{
		{ID: "light-main", Name: "Ceiling light", Type: domain.DeviceTypeLight, Status: true, Value: domain.NumberValue(80)},
		{ID: "ac", Name: "Air conditioner", Type: domain.DeviceTypeAC, Status: false, Value: domain.NumberValue(24)},
		{ID: "desk", Name: "Standing desk", Type: domain.DeviceTypeDesk, Status: true, Value: domain.NumberValue(75)},
		{ID: "purifier", Name: "Air purifier", Type: domain.DeviceTypePurifier, Status: true, Value: domain.TextValue("Auto")},
		{ID: "cam-1", Name: "Camera front left", Type: domain.DeviceTypeCamera, Status: true},
	}
}

type fakeBackend struct {
	mu sync.Mutex

	devices   []domain.Device
	listErr   error
	toggleErr error
	// toggleResult overrides the status the backend settles on.
	toggleResult *bool
	onToggle     func(id string, status bool)
	valueErr     error
	batchErr     error
	updateErr    error
	block        bool

	toggles []bool
	values  []*domain.Value
	batches [][]domain.DeviceUpdate
	updates []domain.DeviceUpdate

	loginUser    domain.UserProfile
	loginErr     error
	logins       int
	registerErr  error
	registerGate chan struct{}
	registers    int

	createErr    error
	created      []domain.Preset
	recognized   domain.Preset
	recognizeErr error
	recognizes   int
	presets      []domain.Preset
}

func (f *fakeBackend) wait(ctx context.Context) error {
	f.mu.Lock()
	block := f.block
	f.mu.Unlock()
	if !block {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeBackend) ListDevices(ctx context.Context) ([]domain.Device, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.devices, nil
}

func (f *fakeBackend) ToggleDevice(ctx context.Context, id string, status bool) (bool, error) {
	if f.onToggle != nil {
		f.onToggle(id, status)
	}
	if err := f.wait(ctx); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toggles = append(f.toggles, status)
	if f.toggleErr != nil {
		return false, f.toggleErr
	}
	if f.toggleResult != nil {
		return *f.toggleResult, nil
	}
	return status, nil
}

func (f *fakeBackend) SetDeviceValue(ctx context.Context, id string, value *domain.Value) error {
	if err := f.wait(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values = append(f.values, value)
	return f.valueErr
}

func (f *fakeBackend) BatchUpdate(ctx context.Context, updates []domain.DeviceUpdate) (int, error) {
	if err := f.wait(ctx); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, updates)
	if f.batchErr != nil {
		return 0, f.batchErr
	}
	return len(updates), nil
}

func (f *fakeBackend) UpdateDevice(ctx context.Context, id string, patch domain.DeviceUpdate) (domain.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, patch)
	if f.updateErr != nil {
		return domain.Device{}, f.updateErr
	}
	for _, d := range f.devices {
		if d.ID == id {
			patch.Apply(&d)
			return d, nil
		}
	}
	return domain.Device{}, &domain.APIError{StatusCode: 404, Message: "device not found"}
}

func (f *fakeBackend) Register(ctx context.Context, name string, face domain.Frame) (domain.UserProfile, error) {
	f.mu.Lock()
	gate := f.registerGate
	f.registers++
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return domain.UserProfile{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.registerErr != nil {
		return domain.UserProfile{}, f.registerErr
	}
	return domain.UserProfile{ID: "u-" + strings.ToLower(name), Name: name}, nil
}

func (f *fakeBackend) Login(ctx context.Context, face domain.Frame) (domain.UserProfile, error) {
	if err := f.wait(ctx); err != nil {
		return domain.UserProfile{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logins++
	if f.loginErr != nil {
		return domain.UserProfile{}, f.loginErr
	}
	return f.loginUser, nil
}

func (f *fakeBackend) Logins() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logins
}

func (f *fakeBackend) CreatePreset(ctx context.Context, preset domain.Preset) (domain.Preset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return domain.Preset{}, f.createErr
	}
	preset.ID = "preset-1"
	f.created = append(f.created, preset)
	return preset, nil
}

func (f *fakeBackend) RecognizePreset(ctx context.Context, face, gesture domain.Frame) (domain.Preset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recognizes++
	if f.recognizeErr != nil {
		return domain.Preset{}, f.recognizeErr
	}
	return f.recognized, nil
}

func (f *fakeBackend) ListPresets(ctx context.Context) ([]domain.Preset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.presets, nil
}

type fakeFrames struct {
	mu      sync.Mutex
	openErr error
	opens   int
	closes  int
	frame   domain.Frame
}

func (f *fakeFrames) Name() string { return "fake" }

func (f *fakeFrames) Open(_ context.Context) (application.FrameStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.opens++
	return &fakeStream{frames: f}, nil
}

func (f *fakeFrames) Counts() (opens, closes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens, f.closes
}

type fakeStream struct {
	frames *fakeFrames
	closed bool
}

func (s *fakeStream) Capture(_ context.Context) (domain.Frame, error) {
	s.frames.mu.Lock()
	defer s.frames.mu.Unlock()
	if s.closed {
		return "", errors.New("stream closed")
	}
	if s.frames.frame != "" {
		return s.frames.frame, nil
	}
	return testFrame, nil
}

func (s *fakeStream) Close() error {
	s.frames.mu.Lock()
	defer s.frames.mu.Unlock()
	s.closed = true
	s.frames.closes++
	return nil
}

type fakeChannel struct {
	mu         sync.Mutex
	connects   int
	subscribes int
	handlers   map[string]func([]byte)
	published  map[string][]byte
	closed     bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		handlers:  make(map[string]func([]byte)),
		published: make(map[string][]byte),
	}
}

func (c *fakeChannel) Connect(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	return nil
}

func (c *fakeChannel) Subscribe(topic string, handler func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribes++
	c.handlers[topic] = handler
	return nil
}

func (c *fakeChannel) Publish(_ context.Context, topic string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published[topic] = payload
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeChannel) deliver(topic string, payload string) {
	c.mu.Lock()
	h := c.handlers[topic]
	c.mu.Unlock()
	if h != nil {
		h([]byte(payload))
	}
}

type fakeInterpreter struct {
	mu      sync.Mutex
	updates []domain.DeviceUpdate
	err     error
	gate    chan struct{}
	calls   int
	seen    []domain.Device
}

func (f *fakeInterpreter) Interpret(ctx context.Context, text string, devices []domain.Device) ([]domain.DeviceUpdate, error) {
	f.mu.Lock()
	f.calls++
	f.seen = devices
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return f.updates, f.err
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Notify(_ context.Context, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
	return nil
}

type testRoom struct {
	activity *application.ActivityLog
	registry *application.Registry
	backend  *fakeBackend
	clock    *clocktesting.FakeClock
}

func newTestRegistry(t *testing.T, backend *fakeBackend, timeout time.Duration) testRoom {
	t.Helper()
	clk := clocktesting.NewFakeClock(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
	activity := application.NewActivityLog(application.DefaultActivitySize, clk, discardLogger())
	registry := application.NewRegistry(backend, activity, timeout, discardLogger())
	registry.Load(roomDevices())
	return testRoom{activity: activity, registry: registry, backend: backend, clock: clk}
}

func countEntries(entries []application.ActivityEntry, substr string) int {
	n := 0
	for _, e := range entries {
		if strings.Contains(e.Message, substr) {
			n++
		}
	}
	return n
}
