package application_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smart-room/internal/application"
	"smart-room/internal/domain"
)

func newTestReconciler(t *testing.T, perDevice bool) (*application.Reconciler, *fakeChannel, testRoom) {
	t.Helper()
	room := newTestRegistry(t, &fakeBackend{}, time.Second)
	channel := newFakeChannel()
	r := application.NewReconciler(channel, room.registry, room.activity, perDevice, discardLogger())
	require.NoError(t, r.Start(context.Background()))
	return r, channel, room
}

func TestReconciler_PushIsIdempotent(t *testing.T) {
	_, channel, room := newTestReconciler(t, false)
	msg := `{"deviceId":"ac","status":true,"value":24}`

	channel.deliver(application.DevicesTopic, msg)
	afterFirst := room.activity.Total()
	assert.Equal(t, 1, afterFirst)

	channel.deliver(application.DevicesTopic, msg)
	assert.Equal(t, afterFirst, room.activity.Total())

	d, _ := room.registry.Get("ac")
	assert.True(t, d.Status)
	assert.True(t, domain.NumberValue(24).Equal(d.Value))
}

func TestReconciler_MatchingPushHasNoEffect(t *testing.T) {
	_, channel, room := newTestReconciler(t, false)

	var notified int
	room.registry.Subscribe(func(domain.Device) { notified++ })

	channel.deliver(application.DevicesTopic, `{"deviceId":"desk","status":true,"value":75}`)

	assert.Zero(t, room.activity.Total())
	assert.Zero(t, notified)
}

func TestReconciler_DiscardsBadMessages(t *testing.T) {
	_, channel, room := newTestReconciler(t, false)
	before := room.registry.Snapshot()

	for _, msg := range []string{
		`{"deviceId":"ghost","status":true}`,
		`{"status":true}`,
		`not json`,
	} {
		channel.deliver(application.DevicesTopic, msg)
	}

	assert.Equal(t, before, room.registry.Snapshot())
	assert.Zero(t, room.activity.Total())
}

func TestReconciler_TextValueForNumericDeviceIsNormalized(t *testing.T) {
	_, channel, room := newTestReconciler(t, false)

	channel.deliver(application.DevicesTopic, `{"deviceId":"ac","value":"24"}`)
	assert.Zero(t, room.activity.Total(), "\"24\" equals the stored 24")

	channel.deliver(application.DevicesTopic, `{"deviceId":"purifier","value":"Sleep"}`)
	d, _ := room.registry.Get("purifier")
	assert.Equal(t, "Sleep", d.Value.String())
	assert.Equal(t, 1, room.activity.Total())
}

func TestReconciler_PushDoesNotFightDrag(t *testing.T) {
	_, channel, room := newTestReconciler(t, false)
	sliders := application.NewSliders(room.registry)

	_, err := sliders.Begin("desk")
	require.NoError(t, err)
	_, err = sliders.Move("desk", 90)
	require.NoError(t, err)

	channel.deliver(application.DevicesTopic, `{"deviceId":"desk","value":75}`)
	channel.deliver(application.DevicesTopic, `{"deviceId":"desk","value":80}`)
	assert.Equal(t, "90", sliders.Displayed("desk").String())

	require.NoError(t, sliders.Release(context.Background(), "desk"))
	assert.Equal(t, "90", sliders.Displayed("desk").String())

	channel.deliver(application.DevicesTopic, `{"deviceId":"desk","value":75}`)
	assert.Equal(t, "75", sliders.Displayed("desk").String())

	d, _ := room.registry.Get("desk")
	assert.True(t, domain.NumberValue(75).Equal(d.Value))
}

func TestReconciler_ResubscribeDoesNotDuplicate(t *testing.T) {
	r, channel, room := newTestReconciler(t, true)

	require.NoError(t, r.Start(context.Background()))

	assert.Equal(t, 2, channel.connects)
	assert.Len(t, channel.handlers, 1+len(roomDevices()))
	assert.Contains(t, channel.handlers, application.DeviceTopic("ac"))

	channel.deliver(application.DeviceTopic("ac"), `{"deviceId":"ac","status":true}`)
	assert.Equal(t, 1, room.activity.Total())
}

func TestReconciler_Publish(t *testing.T) {
	r, channel, _ := newTestReconciler(t, false)

	err := r.Publish(context.Background(), domain.DeviceUpdate{ID: "light-main", Status: domain.Bool(false), Value: domain.NumberValue(40)})
	require.NoError(t, err)

	payload, ok := channel.published["iot/room/devices/light-main"]
	require.True(t, ok)

	var got map[string]any
	require.NoError(t, json.Unmarshal(payload, &got))
	assert.Equal(t, "light-main", got["deviceId"])
	assert.Equal(t, false, got["status"])
	assert.Equal(t, float64(40), got["value"])
}
