package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"smart-room/internal/domain"
)

// Registry owns the room's device collection. All device mutations go through it.
type Registry struct {
	backend  DeviceBackend
	activity *ActivityLog
	logger   *slog.Logger
	timeout  time.Duration

	mu        sync.RWMutex
	devices   []domain.Device
	index     map[string]int
	listeners []func(domain.Device)
	echo      func(ctx context.Context, update domain.DeviceUpdate)
}

func NewRegistry(backend DeviceBackend, activity *ActivityLog, timeout time.Duration, logger *slog.Logger) *Registry {
	return &Registry{
		backend:  backend,
		activity: activity,
		logger:   logger,
		timeout:  timeout,
		index:    make(map[string]int),
	}
}

// OnCommitted registers a hook called after the backend accepted a local edit.
func (r *Registry) OnCommitted(fn func(ctx context.Context, update domain.DeviceUpdate)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.echo = fn
}

// Subscribe registers a listener called with the new state of every changed device.
func (r *Registry) Subscribe(fn func(domain.Device)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Load replaces the collection without talking to the backend.
func (r *Registry) Load(devices []domain.Device) {
	r.mu.Lock()
	r.replaceLocked(devices)
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	r.notify(snapshot...)
}

// FetchAll replaces the collection with the backend's. On failure the current
// state is kept and one activity entry is written.
func (r *Registry) FetchAll(ctx context.Context) error {
	ctx, cancel := requestContext(ctx, r.timeout)
	defer cancel()

	devices, err := r.backend.ListDevices(ctx)
	if err != nil {
		r.reportFailure("fetching devices", "", err)
		return fmt.Errorf("fetching devices: %w", err)
	}

	r.Load(devices)
	r.logger.Info("device sync complete", "devices", len(devices))
	return nil
}

func (r *Registry) Toggle(ctx context.Context, id string) error {
	var next bool
	var name string

	return r.optimistic(ctx, optimisticWrite{
		deviceID: id,
		apply: func(d *domain.Device) func(*domain.Device) {
			prev := d.Status
			d.Status = !prev
			next, name = d.Status, d.Name
			return func(d *domain.Device) { d.Status = prev }
		},
		applied: func() {
			r.activity.Add(fmt.Sprintf("%s %s", onOff(next), name), "device", id)
		},
		send: func(ctx context.Context) (func(*domain.Device), error) {
			status, err := r.backend.ToggleDevice(ctx, id, next)
			if err != nil {
				return nil, err
			}
			r.committed(ctx, domain.DeviceUpdate{ID: id, Status: domain.Bool(status)})
			return func(d *domain.Device) { d.Status = status }, nil
		},
		operation: "toggle",
		rollback:  true,
	})
}

// SetValue writes the value locally and sends it. A failed send is logged but
// the local value stays; the push channel corrects it eventually.
func (r *Registry) SetValue(ctx context.Context, id string, value *domain.Value) error {
	return r.optimistic(ctx, optimisticWrite{
		deviceID: id,
		apply: func(d *domain.Device) func(*domain.Device) {
			prev := d.Value.Clone()
			d.Value = value.Clone()
			return func(d *domain.Device) { d.Value = prev }
		},
		send: func(ctx context.Context) (func(*domain.Device), error) {
			if err := r.backend.SetDeviceValue(ctx, id, value); err != nil {
				return nil, err
			}
			r.committed(ctx, domain.DeviceUpdate{ID: id, Value: value.Clone()})
			return nil, nil
		},
		operation: "setting value",
		rollback:  false,
	})
}

// Update patches one device. The backend's full device replaces the local one on success.
func (r *Registry) Update(ctx context.Context, id string, patch domain.DeviceUpdate) error {
	patch.ID = id
	return r.optimistic(ctx, optimisticWrite{
		deviceID: id,
		apply: func(d *domain.Device) func(*domain.Device) {
			prevStatus, prevValue := d.Status, d.Value.Clone()
			patch.Value = patch.Value.Normalize(d.Type)
			patch.Apply(d)
			return func(d *domain.Device) {
				d.Status = prevStatus
				d.Value = prevValue
			}
		},
		send: func(ctx context.Context) (func(*domain.Device), error) {
			updated, err := r.backend.UpdateDevice(ctx, id, patch)
			if err != nil {
				return nil, err
			}
			r.committed(ctx, patch)
			return func(d *domain.Device) { *d = updated.Clone() }, nil
		},
		operation: "updating device",
		rollback:  true,
	})
}

// ApplyBatch sends the updates to the backend and merges them locally only
// once the backend accepted all of them.
func (r *Registry) ApplyBatch(ctx context.Context, updates []domain.DeviceUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	r.mu.RLock()
	normalized := make([]domain.DeviceUpdate, len(updates))
	for i, u := range updates {
		normalized[i] = u
		if idx, ok := r.index[u.ID]; ok {
			normalized[i].Value = u.Value.Normalize(r.devices[idx].Type)
		}
	}
	r.mu.RUnlock()

	reqCtx, cancel := requestContext(ctx, r.timeout)
	defer cancel()

	if _, err := r.backend.BatchUpdate(reqCtx, normalized); err != nil {
		failed := domain.NewDeviceUpdateFailed("", err)
		r.reportFailure("batch update", "", failed)
		return failed
	}

	r.mu.Lock()
	var changed []domain.Device
	for _, u := range normalized {
		idx, ok := r.index[u.ID]
		if !ok {
			continue
		}
		if u.Apply(&r.devices[idx]) {
			changed = append(changed, r.devices[idx].Clone())
		}
	}
	r.mu.Unlock()

	r.notify(changed...)
	r.activity.Add(fmt.Sprintf("assistant updated %d device(s)", len(changed)), "requested", len(normalized))
	return nil
}

// ApplyPush merges a pushed update field by field, touching only fields that
// differ. It reports whether anything changed.
func (r *Registry) ApplyPush(update domain.DeviceUpdate) (domain.Device, bool, error) {
	r.mu.Lock()
	idx, ok := r.index[update.ID]
	if !ok {
		r.mu.Unlock()
		return domain.Device{}, false, domain.ErrDeviceNotFound
	}
	d := &r.devices[idx]
	update.Value = update.Value.Normalize(d.Type)
	changed := update.Apply(d)
	result := d.Clone()
	r.mu.Unlock()

	if changed {
		r.notify(result)
	}
	return result, changed, nil
}

func (r *Registry) Snapshot() []domain.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Registry) Get(id string) (domain.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.index[id]
	if !ok {
		return domain.Device{}, false
	}
	return r.devices[idx].Clone(), true
}

func (r *Registry) FindByName(name string) (domain.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key := strings.ToLower(strings.TrimSpace(name))
	for _, d := range r.devices {
		if strings.ToLower(d.Name) == key {
			return d.Clone(), true
		}
	}
	for _, d := range r.devices {
		if strings.Contains(strings.ToLower(d.Name), key) {
			return d.Clone(), true
		}
	}
	return domain.Device{}, false
}

// Summary renders the devices for an interpreter prompt.
func (r *Registry) Summary() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return SummarizeDevices(r.devices)
}

func SummarizeDevices(devices []domain.Device) string {
	var sb strings.Builder
	for _, d := range devices {
		state := "OFF"
		if d.Status {
			state = "ON"
		}
		value := d.Value.String()
		if value == "" {
			value = "none"
		}
		sb.WriteString(fmt.Sprintf("%s (ID: %s, Type: %s, State: %s, Value: %s)\n", d.Name, d.ID, d.Type, state, value))
	}
	return sb.String()
}

func (r *Registry) replaceLocked(devices []domain.Device) {
	r.devices = make([]domain.Device, len(devices))
	r.index = make(map[string]int, len(devices))
	for i, d := range devices {
		r.devices[i] = d.Clone()
		r.index[d.ID] = i
	}
}

func (r *Registry) snapshotLocked() []domain.Device {
	result := make([]domain.Device, len(r.devices))
	for i, d := range r.devices {
		result[i] = d.Clone()
	}
	return result
}

// mutate runs fn against the live device and returns its new state.
func (r *Registry) mutate(id string, fn func(*domain.Device)) (domain.Device, bool) {
	r.mu.Lock()
	idx, ok := r.index[id]
	if !ok {
		r.mu.Unlock()
		return domain.Device{}, false
	}
	fn(&r.devices[idx])
	result := r.devices[idx].Clone()
	r.mu.Unlock()

	r.notify(result)
	return result, true
}

func (r *Registry) notify(devices ...domain.Device) {
	r.mu.RLock()
	listeners := slices.Clone(r.listeners)
	r.mu.RUnlock()

	for _, d := range devices {
		for _, fn := range listeners {
			fn(d)
		}
	}
}

func (r *Registry) committed(ctx context.Context, update domain.DeviceUpdate) {
	r.mu.RLock()
	echo := r.echo
	r.mu.RUnlock()
	if echo != nil {
		echo(ctx, update)
	}
}

// reportFailure writes exactly one activity entry for a failed backend call.
func (r *Registry) reportFailure(operation, name string, err error) {
	subject := operation
	if name != "" {
		subject = fmt.Sprintf("%s %s", operation, name)
	}

	if isStalled(err) {
		r.activity.Warn(fmt.Sprintf("%s stalled: backend did not answer within %s", subject, r.timeout), "error", err)
		return
	}

	msg := err.Error()
	var failed *domain.DeviceUpdateFailed
	if errors.As(err, &failed) {
		msg = failed.Message
	}
	r.activity.Warn(fmt.Sprintf("%s failed: %s", subject, msg), "error", err)
}

func onOff(on bool) string {
	if on {
		return "turned on"
	}
	return "turned off"
}
