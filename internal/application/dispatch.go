package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"smart-room/internal/domain"
)

// Dispatcher sends free-text commands through the interpreter and applies the
// resulting batch. One command is processed at a time.
type Dispatcher struct {
	interpreter CommandInterpreter
	registry    *Registry
	activity    *ActivityLog
	notifier    Notifier
	logger      *slog.Logger

	mu         sync.Mutex
	processing bool
}

func NewDispatcher(interpreter CommandInterpreter, registry *Registry, activity *ActivityLog, notifier Notifier, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		interpreter: interpreter,
		registry:    registry,
		activity:    activity,
		notifier:    notifier,
		logger:      logger,
	}
}

// Send interprets text and applies the result. Blank text does nothing and a
// send while another is in progress returns domain.ErrBusy.
func (d *Dispatcher) Send(ctx context.Context, text string) ([]domain.DeviceUpdate, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	d.mu.Lock()
	if d.processing {
		d.mu.Unlock()
		return nil, domain.ErrBusy
	}
	d.processing = true
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.processing = false
		d.mu.Unlock()
	}()

	d.activity.Add(fmt.Sprintf("user: %s", text))

	updates, err := d.interpreter.Interpret(ctx, text, d.registry.Snapshot())
	if err != nil {
		d.logger.Error("interpreting command", "text", text, "error", err)
		updates = nil
	}

	updates = d.known(updates)
	if len(updates) == 0 {
		d.activity.Add("no changes detected")
		return nil, nil
	}

	if err := d.registry.ApplyBatch(ctx, updates); err != nil {
		if notifyErr := d.notifier.Notify(ctx, fmt.Sprintf("Command %q failed: %v", text, err)); notifyErr != nil {
			d.logger.Error("notifying failure", "error", notifyErr)
		}
		return nil, fmt.Errorf("applying command: %w", err)
	}
	return updates, nil
}

// known drops updates that name no device or change nothing.
func (d *Dispatcher) known(updates []domain.DeviceUpdate) []domain.DeviceUpdate {
	var result []domain.DeviceUpdate
	for _, u := range updates {
		if u.ID == "" || u.Empty() {
			continue
		}
		if _, ok := d.registry.Get(u.ID); !ok {
			d.logger.Warn("interpreter returned unknown device", "device", u.ID)
			continue
		}
		result = append(result, u)
	}
	return result
}

func (d *Dispatcher) Processing() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.processing
}

// NoInterpreter is used when no interpreter is configured. Every command yields no changes.
type NoInterpreter struct{}

func (NoInterpreter) Interpret(_ context.Context, _ string, _ []domain.Device) ([]domain.DeviceUpdate, error) {
	return nil, nil
}
