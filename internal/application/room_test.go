package application_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"smart-room/internal/application"
	"smart-room/internal/domain"
)

type roomHarness struct {
	room    *application.Room
	backend *fakeBackend
	frames  *fakeFrames
	channel *fakeChannel
	clock   *clocktesting.FakeClock
}

func newTestRoom(t *testing.T, cfg application.RoomConfig) roomHarness {
	t.Helper()
	backend := &fakeBackend{devices: roomDevices(), loginErr: domain.ErrNoMatch}
	frames := &fakeFrames{}
	channel := newFakeChannel()
	clk := clocktesting.NewFakeClock(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))

	if cfg.Locomotion == (application.LocomotionConfig{}) {
		cfg.Locomotion = application.DefaultLocomotionConfig()
	}
	if cfg.Identity == (application.IdentityConfig{}) {
		cfg.Identity = application.DefaultIdentityConfig()
	}
	cfg.RequestTimeout = time.Second

	room := application.NewRoom(cfg, application.RoomDeps{
		Backend: backend,
		Push:    channel,
		Frames:  frames,
		Clock:   clk,
		Logger:  discardLogger(),
	})
	require.NoError(t, room.Start(context.Background()))
	t.Cleanup(func() { _ = room.Close() })

	return roomHarness{room: room, backend: backend, frames: frames, channel: channel, clock: clk}
}

func TestRoom_StartLoadsDevicesAndSubscribes(t *testing.T) {
	h := newTestRoom(t, application.RoomConfig{AuthAtStart: true})

	assert.Len(t, h.room.Registry.Snapshot(), len(roomDevices()))
	assert.Contains(t, h.channel.handlers, application.DevicesTopic)
	assert.True(t, h.room.Overlays.State().AuthOpen)
	assert.True(t, h.room.Identity.RetryPending())
	assert.ErrorIs(t, h.room.Locomotion.Lock(), application.ErrOverlayOpen)
}

func TestRoom_RefreshSubscribesNewDeviceTopics(t *testing.T) {
	backend := &fakeBackend{devices: roomDevices(), listErr: errors.New("backend down"), loginErr: domain.ErrNoMatch}
	channel := newFakeChannel()
	room := application.NewRoom(application.RoomConfig{
		PerDeviceTopics: true,
		Locomotion:      application.DefaultLocomotionConfig(),
		Identity:        application.DefaultIdentityConfig(),
		RequestTimeout:  time.Second,
	}, application.RoomDeps{
		Backend: backend,
		Push:    channel,
		Frames:  &fakeFrames{},
		Clock:   clocktesting.NewFakeClock(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)),
		Logger:  discardLogger(),
	})
	require.NoError(t, room.Start(context.Background()))
	t.Cleanup(func() { _ = room.Close() })

	topic := application.DeviceTopic("light-main")
	channel.mu.Lock()
	assert.Contains(t, channel.handlers, application.DevicesTopic)
	assert.NotContains(t, channel.handlers, topic)
	channel.mu.Unlock()

	backend.mu.Lock()
	backend.listErr = nil
	backend.mu.Unlock()
	require.NoError(t, room.Refresh(context.Background()))

	channel.mu.Lock()
	assert.Contains(t, channel.handlers, topic)
	assert.Len(t, channel.handlers, len(roomDevices())+1)
	channel.mu.Unlock()

	channel.deliver(topic, `{"deviceId":"light-main","status":false}`)
	d, ok := room.Registry.Get("light-main")
	require.True(t, ok)
	assert.False(t, d.Status)
}

func TestRoom_GazeOpensAndClosesFeed(t *testing.T) {
	h := newTestRoom(t, application.RoomConfig{DwellRate: 100})

	require.NoError(t, h.room.Locomotion.Lock())
	require.NoError(t, h.room.Gaze.Enter("cam-1"))
	for i := 0; i < 50; i++ {
		h.room.Gaze.Frame(0.02)
	}

	assert.True(t, h.room.Overlays.State().WebcamOpen)
	assert.True(t, h.room.Feed.IsOpen())
	assert.False(t, h.room.Locomotion.State().Locked, "an open overlay releases pointer lock")

	require.NoError(t, h.room.Gaze.Enter("cam-1"))
	h.room.Overlays.CloseWebcam()

	assert.False(t, h.room.Feed.IsOpen())
	assert.Equal(t, 0.0, h.room.Gaze.State().Progress)
	opens, closes := h.frames.Counts()
	assert.Equal(t, 1, opens)
	assert.Equal(t, 1, closes)
}

func TestRoom_FeedCameraFailureClosesModal(t *testing.T) {
	h := newTestRoom(t, application.RoomConfig{DwellRate: 100})
	h.frames.openErr = errors.New("no device")

	require.NoError(t, h.room.Gaze.Enter("cam-1"))
	for i := 0; i < 50; i++ {
		h.room.Gaze.Frame(0.02)
	}

	assert.False(t, h.room.Overlays.State().WebcamOpen)
	assert.Equal(t, 1, countEntries(h.room.Activity.Entries(), "camera unavailable"))
}

func TestRoom_PublishesCommittedEdits(t *testing.T) {
	h := newTestRoom(t, application.RoomConfig{PublishLocal: true})

	require.NoError(t, h.room.Registry.Toggle(context.Background(), "ac"))

	_, ok := h.channel.published[application.DeviceTopic("ac")]
	assert.True(t, ok)
}

func TestRoom_CloseReleasesEverything(t *testing.T) {
	h := newTestRoom(t, application.RoomConfig{AuthAtStart: true})

	require.NoError(t, h.room.Close())

	opens, closes := h.frames.Counts()
	assert.Equal(t, opens, closes)
	assert.False(t, h.clock.HasWaiters())
	assert.True(t, h.channel.closed)
}

func TestRoom_State(t *testing.T) {
	h := newTestRoom(t, application.RoomConfig{AuthAtStart: true})

	_, err := h.room.Sliders.Begin("desk")
	require.NoError(t, err)

	state := h.room.State()
	assert.Len(t, state.Devices, len(roomDevices()))
	assert.Equal(t, 75, state.Pending["desk"])
	assert.True(t, state.Overlays.AuthOpen)
	assert.Equal(t, application.StatusAwaitingRecognition, state.Identity.Status)
	assert.Equal(t, application.StepIdle, state.Wizard.Step)
}
