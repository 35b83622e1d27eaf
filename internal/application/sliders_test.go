package application_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smart-room/internal/application"
	"smart-room/internal/domain"
)

func TestSliders_ClampToDeviceRange(t *testing.T) {
	room := newTestRegistry(t, &fakeBackend{}, time.Second)
	sliders := application.NewSliders(room.registry)

	tests := []struct {
		id   string
		move int
		want int
	}{
		{id: "ac", move: 10, want: 16},
		{id: "ac", move: 35, want: 30},
		{id: "desk", move: 95, want: 95},
		{id: "desk", move: 200, want: 120},
		{id: "light-main", move: -5, want: 0},
	}

	for _, tt := range tests {
		got, err := sliders.Move(tt.id, tt.move)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s moved to %d", tt.id, tt.move)
	}
}

func TestSliders_RejectsDevicesWithoutRange(t *testing.T) {
	room := newTestRegistry(t, &fakeBackend{}, time.Second)
	sliders := application.NewSliders(room.registry)

	_, err := sliders.Begin("purifier")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = sliders.Move("ghost", 3)
	assert.ErrorIs(t, err, domain.ErrDeviceNotFound)
}

func TestSliders_ValueIsCommittedOnlyOnRelease(t *testing.T) {
	backend := &fakeBackend{}
	room := newTestRegistry(t, backend, time.Second)
	sliders := application.NewSliders(room.registry)

	start, err := sliders.Begin("light-main")
	require.NoError(t, err)
	assert.Equal(t, 80, start)

	_, err = sliders.Move("light-main", 55)
	require.NoError(t, err)

	d, _ := room.registry.Get("light-main")
	assert.True(t, domain.NumberValue(80).Equal(d.Value))
	assert.Empty(t, backend.values)

	require.NoError(t, sliders.Release(context.Background(), "light-main"))

	d, _ = room.registry.Get("light-main")
	assert.True(t, domain.NumberValue(55).Equal(d.Value))
	require.Len(t, backend.values, 1)
	_, pending := sliders.Pending("light-main")
	assert.False(t, pending)

	require.NoError(t, sliders.Release(context.Background(), "light-main"))
	assert.Len(t, backend.values, 1, "a second release has nothing to commit")
}
