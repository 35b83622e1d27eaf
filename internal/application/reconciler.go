package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"smart-room/internal/domain"
)

const (
	DevicesTopic      = "iot/room/devices"
	DeviceTopicPrefix = "iot/room/devices/"
)

func DeviceTopic(id string) string {
	return DeviceTopicPrefix + id
}

// Reconciler merges device updates arriving on the push channel into the registry.
// Applying the same message twice is a no-op, so duplicate delivery is harmless.
type Reconciler struct {
	channel         PushChannel
	registry        *Registry
	activity        *ActivityLog
	perDeviceTopics bool
	logger          *slog.Logger
}

func NewReconciler(channel PushChannel, registry *Registry, activity *ActivityLog, perDeviceTopics bool, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		channel:         channel,
		registry:        registry,
		activity:        activity,
		perDeviceTopics: perDeviceTopics,
		logger:          logger,
	}
}

// Start connects and subscribes. Calling it again re-subscribes the same
// topics; the channel replaces existing handlers.
func (r *Reconciler) Start(ctx context.Context) error {
	if err := r.channel.Connect(ctx); err != nil {
		return fmt.Errorf("connecting push channel: %w", err)
	}
	return r.Subscribe()
}

func (r *Reconciler) Subscribe() error {
	if err := r.channel.Subscribe(DevicesTopic, r.Handle); err != nil {
		return fmt.Errorf("subscribing %s: %w", DevicesTopic, err)
	}
	if !r.perDeviceTopics {
		return nil
	}
	for _, d := range r.registry.Snapshot() {
		topic := DeviceTopic(d.ID)
		if err := r.channel.Subscribe(topic, r.Handle); err != nil {
			return fmt.Errorf("subscribing %s: %w", topic, err)
		}
	}
	return nil
}

// Handle applies one raw push payload.
func (r *Reconciler) Handle(payload []byte) {
	var env domain.PushEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		r.logger.Warn("discarding malformed push message", "error", err)
		return
	}
	if env.DeviceID == "" {
		r.logger.Warn("discarding push message without deviceId", "payload", string(payload))
		return
	}

	device, changed, err := r.registry.ApplyPush(env.Update())
	if errors.Is(err, domain.ErrDeviceNotFound) {
		r.logger.Warn("push message for unknown device", "device", env.DeviceID)
		return
	}
	if !changed {
		return
	}

	r.activity.Add(fmt.Sprintf("%s updated remotely", device.Name), "device", device.ID, "status", device.Status, "value", device.Value.String())
}

// Publish sends a local edit on the device's own topic.
func (r *Reconciler) Publish(ctx context.Context, update domain.DeviceUpdate) error {
	payload, err := json.Marshal(domain.PushEnvelope{
		DeviceID: update.ID,
		Status:   update.Status,
		Value:    update.Value,
	})
	if err != nil {
		return fmt.Errorf("encoding push message: %w", err)
	}
	if err := r.channel.Publish(ctx, DeviceTopic(update.ID), payload); err != nil {
		return fmt.Errorf("publishing %s: %w", update.ID, err)
	}
	return nil
}

func (r *Reconciler) Close() error {
	return r.channel.Close()
}
