package application

import (
	"context"
	"fmt"
	"sync"

	"smart-room/internal/domain"
)

// Sliders holds slider values that are being dragged. A pending value is local
// only: pushes keep updating the registry underneath, but the displayed value
// stays the dragged one until release commits it.
type Sliders struct {
	registry *Registry

	mu      sync.Mutex
	pending map[string]int
}

func NewSliders(registry *Registry) *Sliders {
	return &Sliders{
		registry: registry,
		pending:  make(map[string]int),
	}
}

// Begin starts a drag from the device's current value.
func (s *Sliders) Begin(id string) (int, error) {
	d, ok := s.registry.Get(id)
	if !ok {
		return 0, domain.ErrDeviceNotFound
	}
	r, ok := d.Type.Range()
	if !ok {
		return 0, fmt.Errorf("%s has no adjustable value: %w", d.Type, domain.ErrInvalidInput)
	}

	v, ok := d.Value.Int()
	if !ok {
		v = r.Min
	}
	v = d.Type.Clamp(v)

	s.mu.Lock()
	s.pending[id] = v
	s.mu.Unlock()
	return v, nil
}

// Move updates the dragged value, clamped to the device type's range.
func (s *Sliders) Move(id string, value int) (int, error) {
	d, ok := s.registry.Get(id)
	if !ok {
		return 0, domain.ErrDeviceNotFound
	}
	if _, ok := d.Type.Range(); !ok {
		return 0, fmt.Errorf("%s has no adjustable value: %w", d.Type, domain.ErrInvalidInput)
	}

	value = d.Type.Clamp(value)

	s.mu.Lock()
	s.pending[id] = value
	s.mu.Unlock()
	return value, nil
}

// Release commits the dragged value to the registry.
func (s *Sliders) Release(ctx context.Context, id string) error {
	s.mu.Lock()
	value, ok := s.pending[id]
	delete(s.pending, id)
	s.mu.Unlock()

	if !ok {
		return nil
	}
	return s.registry.SetValue(ctx, id, domain.NumberValue(float64(value)))
}

func (s *Sliders) Pending(id string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.pending[id]
	return v, ok
}

// Displayed is what the renderer shows for the device's value.
func (s *Sliders) Displayed(id string) *domain.Value {
	if v, ok := s.Pending(id); ok {
		return domain.NumberValue(float64(v))
	}
	d, ok := s.registry.Get(id)
	if !ok {
		return nil
	}
	return d.Value
}

func (s *Sliders) PendingAll() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make(map[string]int, len(s.pending))
	for k, v := range s.pending {
		result[k] = v
	}
	return result
}
