package application_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smart-room/internal/domain"
)

func TestRegistry_ToggleRollsBackOnFailure(t *testing.T) {
	backend := &fakeBackend{toggleErr: &domain.APIError{StatusCode: 500, Message: "relay offline"}}
	room := newTestRegistry(t, backend, time.Second)
	before := room.registry.Snapshot()

	var sawOptimistic bool
	backend.onToggle = func(id string, status bool) {
		d, _ := room.registry.Get(id)
		sawOptimistic = d.Status == status
	}

	err := room.registry.Toggle(context.Background(), "ac")
	require.Error(t, err)

	var failed *domain.DeviceUpdateFailed
	require.True(t, errors.As(err, &failed))
	assert.Equal(t, "ac", failed.DeviceID)
	assert.Equal(t, "relay offline", failed.Message)

	assert.True(t, sawOptimistic, "status should flip before the backend answers")
	assert.Equal(t, before, room.registry.Snapshot())
	assert.Equal(t, 1, countEntries(room.activity.Entries(), "failed"))
}

func TestRegistry_ToggleCommitsBackendStatus(t *testing.T) {
	tests := []struct {
		name   string
		result *bool
		want   bool
	}{
		{name: "backend confirms", result: nil, want: true},
		{name: "backend interlock keeps it off", result: domain.Bool(false), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &fakeBackend{toggleResult: tt.result}
			room := newTestRegistry(t, backend, time.Second)

			require.NoError(t, room.registry.Toggle(context.Background(), "ac"))

			d, ok := room.registry.Get("ac")
			require.True(t, ok)
			assert.Equal(t, tt.want, d.Status)
			assert.Equal(t, []bool{true}, backend.toggles)
			assert.Zero(t, countEntries(room.activity.Entries(), "failed"))
		})
	}
}

func TestRegistry_ToggleUnknownDevice(t *testing.T) {
	backend := &fakeBackend{}
	room := newTestRegistry(t, backend, time.Second)

	err := room.registry.Toggle(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrDeviceNotFound)
	assert.Empty(t, backend.toggles)
	assert.Zero(t, room.activity.Total())
}

func TestRegistry_ToggleStalls(t *testing.T) {
	backend := &fakeBackend{block: true}
	room := newTestRegistry(t, backend, 20*time.Millisecond)

	err := room.registry.Toggle(context.Background(), "ac")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	d, _ := room.registry.Get("ac")
	assert.False(t, d.Status)
	assert.Equal(t, 1, countEntries(room.activity.Entries(), "stalled"))
}

func TestRegistry_SetValueKeepsLocalValueOnFailure(t *testing.T) {
	backend := &fakeBackend{valueErr: errors.New("connection refused")}
	room := newTestRegistry(t, backend, time.Second)

	err := room.registry.SetValue(context.Background(), "ac", domain.NumberValue(27))
	require.Error(t, err)

	d, _ := room.registry.Get("ac")
	assert.True(t, domain.NumberValue(27).Equal(d.Value))
	assert.Equal(t, 1, countEntries(room.activity.Entries(), "failed"))
}

func TestRegistry_SetValueStoresWhateverIsSent(t *testing.T) {
	backend := &fakeBackend{}
	room := newTestRegistry(t, backend, time.Second)

	require.NoError(t, room.registry.SetValue(context.Background(), "ac", domain.NumberValue(40)))

	d, _ := room.registry.Get("ac")
	assert.True(t, domain.NumberValue(40).Equal(d.Value), "registry does not clamp")
}

func TestRegistry_ApplyBatchFailureLeavesStateUnchanged(t *testing.T) {
	backend := &fakeBackend{batchErr: errors.New("gateway timeout")}
	room := newTestRegistry(t, backend, time.Second)
	before := room.registry.Snapshot()
	total := room.activity.Total()

	err := room.registry.ApplyBatch(context.Background(), []domain.DeviceUpdate{
		{ID: "ac", Status: domain.Bool(true), Value: domain.TextValue("26")},
		{ID: "desk", Value: domain.NumberValue(110)},
	})
	require.Error(t, err)

	assert.Equal(t, before, room.registry.Snapshot())
	assert.Equal(t, total+1, room.activity.Total())
}

func TestRegistry_ApplyBatchMergesOnlyMatchingDevices(t *testing.T) {
	backend := &fakeBackend{}
	room := newTestRegistry(t, backend, time.Second)
	before := room.registry.Snapshot()
	total := room.activity.Total()

	err := room.registry.ApplyBatch(context.Background(), []domain.DeviceUpdate{
		{ID: "ac", Status: domain.Bool(true), Value: domain.TextValue("26")},
		{ID: "desk", Value: domain.NumberValue(110)},
		{ID: "ghost", Status: domain.Bool(true)},
	})
	require.NoError(t, err)

	ac, _ := room.registry.Get("ac")
	assert.True(t, ac.Status)
	assert.True(t, domain.NumberValue(26).Equal(ac.Value), "numeric strings become numbers for AC")

	desk, _ := room.registry.Get("desk")
	assert.True(t, domain.NumberValue(110).Equal(desk.Value))

	after := room.registry.Snapshot()
	for i, d := range after {
		if d.ID == "ac" || d.ID == "desk" {
			continue
		}
		assert.Equal(t, before[i], d)
	}
	assert.Equal(t, total+1, room.activity.Total())
	require.Len(t, backend.batches, 1)
	assert.Len(t, backend.batches[0], 3)
}

func TestRegistry_UpdateReplacesWithBackendDevice(t *testing.T) {
	backend := &fakeBackend{devices: roomDevices()}
	room := newTestRegistry(t, backend, time.Second)

	err := room.registry.Update(context.Background(), "light-main", domain.DeviceUpdate{Value: domain.NumberValue(30)})
	require.NoError(t, err)

	d, _ := room.registry.Get("light-main")
	assert.True(t, domain.NumberValue(30).Equal(d.Value))
	assert.Equal(t, "Ceiling light", d.Name)
}

func TestRegistry_UpdateRollsBackOnFailure(t *testing.T) {
	backend := &fakeBackend{updateErr: errors.New("boom")}
	room := newTestRegistry(t, backend, time.Second)

	err := room.registry.Update(context.Background(), "light-main", domain.DeviceUpdate{
		Status: domain.Bool(false),
		Value:  domain.NumberValue(10),
	})
	require.Error(t, err)

	d, _ := room.registry.Get("light-main")
	assert.True(t, d.Status)
	assert.True(t, domain.NumberValue(80).Equal(d.Value))
}

func TestRegistry_FetchAll(t *testing.T) {
	t.Run("replaces collection", func(t *testing.T) {
		backend := &fakeBackend{devices: []domain.Device{{ID: "robot", Name: "Vacuum", Type: domain.DeviceTypeRobot}}}
		room := newTestRegistry(t, backend, time.Second)

		require.NoError(t, room.registry.FetchAll(context.Background()))

		devices := room.registry.Snapshot()
		require.Len(t, devices, 1)
		assert.Equal(t, "robot", devices[0].ID)
	})

	t.Run("keeps stale state on failure", func(t *testing.T) {
		backend := &fakeBackend{listErr: errors.New("dial tcp: connection refused")}
		room := newTestRegistry(t, backend, time.Second)

		require.Error(t, room.registry.FetchAll(context.Background()))

		assert.Len(t, room.registry.Snapshot(), len(roomDevices()))
		assert.Equal(t, 1, room.activity.Total())
	})
}

func TestRegistry_SubscribeSeesChanges(t *testing.T) {
	backend := &fakeBackend{}
	room := newTestRegistry(t, backend, time.Second)

	var seen []string
	room.registry.Subscribe(func(d domain.Device) { seen = append(seen, d.ID) })

	require.NoError(t, room.registry.SetValue(context.Background(), "desk", domain.NumberValue(100)))
	assert.Equal(t, []string{"desk"}, seen)
}

func TestRegistry_Summary(t *testing.T) {
	room := newTestRegistry(t, &fakeBackend{}, time.Second)

	summary := room.registry.Summary()
	assert.Contains(t, summary, "Air conditioner (ID: ac, Type: AC, State: OFF, Value: 24)")
	assert.Contains(t, summary, "Camera front left (ID: cam-1, Type: CAMERA, State: ON, Value: none)")
}

func TestRegistry_SnapshotIsACopy(t *testing.T) {
	room := newTestRegistry(t, &fakeBackend{}, time.Second)

	snap := room.registry.Snapshot()
	snap[0].Status = false
	snap[0].Value = domain.NumberValue(1)

	d, _ := room.registry.Get(snap[0].ID)
	assert.True(t, d.Status)
	assert.True(t, domain.NumberValue(80).Equal(d.Value))
}
