package application_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smart-room/internal/application"
	"smart-room/internal/domain"
)

func newTestGaze(t *testing.T, rate float64) (*application.Gaze, *application.Overlays, testRoom) {
	t.Helper()
	room := newTestRegistry(t, &fakeBackend{}, time.Second)
	overlays := application.NewOverlays(false)
	gaze := application.NewGaze(room.registry, overlays, room.activity, rate, discardLogger())
	return gaze, overlays, room
}

func TestGaze_DwellTriggersExactlyOnce(t *testing.T) {
	gaze, overlays, room := newTestGaze(t, 100)

	var opened int
	overlays.Subscribe(func(prev, next application.OverlayState) {
		if !prev.WebcamOpen && next.WebcamOpen {
			opened++
		}
	})

	require.NoError(t, gaze.Enter("cam-1"))

	triggers := 0
	for i := 0; i < 50; i++ {
		if gaze.Frame(0.02) {
			triggers++
		}
	}

	assert.Equal(t, 1, triggers)
	assert.Equal(t, 1, opened)
	assert.True(t, overlays.State().WebcamOpen)
	assert.Equal(t, 0.0, gaze.State().Progress)
	assert.Equal(t, 1, countEntries(room.activity.Entries(), "connecting to camera"))

	for i := 0; i < 200; i++ {
		assert.False(t, gaze.Frame(0.02))
	}
	assert.Equal(t, 1, opened)
	assert.Equal(t, application.GazeNoTarget, gaze.State().Phase)
}

func TestGaze_ProgressAccumulatesAndClamps(t *testing.T) {
	gaze, _, _ := newTestGaze(t, application.DefaultDwellRate)

	require.NoError(t, gaze.Enter("cam-1"))
	gaze.Frame(0.5)

	state := gaze.State()
	assert.Equal(t, application.GazeDwelling, state.Phase)
	assert.Equal(t, "cam-1", state.TargetID)
	assert.InDelta(t, 25.0, state.Progress, 1e-9)

	gaze.Frame(-1)
	assert.Equal(t, 0.0, gaze.State().Progress)
}

func TestGaze_LeaveResetsProgress(t *testing.T) {
	gaze, overlays, _ := newTestGaze(t, application.DefaultDwellRate)

	require.NoError(t, gaze.Enter("cam-1"))
	gaze.Frame(1.5)
	assert.InDelta(t, 75.0, gaze.State().Progress, 1e-9)

	gaze.Leave()
	assert.Equal(t, application.GazeState{Phase: application.GazeNoTarget}, gaze.State())

	require.NoError(t, gaze.Enter("cam-1"))
	gaze.Frame(1.5)
	assert.False(t, overlays.State().WebcamOpen, "progress must not persist across target loss")
}

func TestGaze_ReenteringSameTargetKeepsProgress(t *testing.T) {
	gaze, _, _ := newTestGaze(t, application.DefaultDwellRate)

	require.NoError(t, gaze.Enter("cam-1"))
	gaze.Frame(1)
	require.NoError(t, gaze.Enter("cam-1"))

	assert.InDelta(t, 50.0, gaze.State().Progress, 1e-9)
}

func TestGaze_ModalOpenPreventsDwell(t *testing.T) {
	gaze, overlays, _ := newTestGaze(t, application.DefaultDwellRate)
	overlays.SetAuthOpen(true)

	require.NoError(t, gaze.Enter("cam-1"))
	assert.Equal(t, application.GazeNoTarget, gaze.State().Phase)

	overlays.SetAuthOpen(false)
	require.NoError(t, gaze.Enter("cam-1"))
	gaze.Frame(1)

	overlays.SetAuthOpen(true)
	assert.False(t, gaze.Frame(2))
	assert.Equal(t, application.GazeState{Phase: application.GazeNoTarget}, gaze.State())
	assert.False(t, overlays.State().WebcamOpen)
}

func TestGaze_OnlyCamerasAreTargets(t *testing.T) {
	gaze, _, _ := newTestGaze(t, application.DefaultDwellRate)

	assert.ErrorIs(t, gaze.Enter("ac"), domain.ErrInvalidInput)
	assert.ErrorIs(t, gaze.Enter("ghost"), domain.ErrDeviceNotFound)
	assert.Equal(t, application.GazeNoTarget, gaze.State().Phase)
}

func TestGaze_ResetProgressKeepsTarget(t *testing.T) {
	gaze, _, _ := newTestGaze(t, application.DefaultDwellRate)

	require.NoError(t, gaze.Enter("cam-1"))
	gaze.Frame(1)
	gaze.ResetProgress()

	state := gaze.State()
	assert.Equal(t, "cam-1", state.TargetID)
	assert.Equal(t, 0.0, state.Progress)
}
