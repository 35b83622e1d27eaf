package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"smart-room/internal/domain"
)

type WizardStep string

const (
	StepIdle    WizardStep = "idle"
	StepFace    WizardStep = "face"
	StepGesture WizardStep = "gesture"
	StepReview  WizardStep = "review"
	StepSaving  WizardStep = "saving"
)

type WizardState struct {
	Step       WizardStep `json:"step"`
	Name       string     `json:"name,omitempty"`
	HasFace    bool       `json:"has_face"`
	HasGesture bool       `json:"has_gesture"`
}

// Presets saves the current device states under a face + gesture pair and
// restores them when the same pair is shown again.
type Presets struct {
	backend  PresetBackend
	registry *Registry
	identity *Identity
	camera   *Camera
	activity *ActivityLog
	timeout  time.Duration
	clock    clock.WithDelayedExecution
	// gesturePause separates the face and gesture captures of Recall.
	gesturePause time.Duration
	logger       *slog.Logger

	mu    sync.Mutex
	step  WizardStep
	draft domain.Preset
	busy  bool
}

func NewPresets(
	backend PresetBackend,
	registry *Registry,
	identity *Identity,
	camera *Camera,
	activity *ActivityLog,
	timeout time.Duration,
	clk clock.WithDelayedExecution,
	gesturePause time.Duration,
	logger *slog.Logger,
) *Presets {
	return &Presets{
		backend:      backend,
		registry:     registry,
		identity:     identity,
		camera:       camera,
		activity:     activity,
		timeout:      timeout,
		clock:        clk,
		gesturePause: gesturePause,
		logger:       logger,
		step:         StepIdle,
	}
}

// Start begins the wizard with a preset name and opens the camera.
func (p *Presets) Start(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("preset name is required: %w", domain.ErrInvalidInput)
	}
	if err := p.camera.Open(ctx); err != nil {
		p.activity.Warn("camera unavailable", "error", err)
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.draft = domain.Preset{Name: name}
	p.step = StepFace
	return nil
}

func (p *Presets) CaptureFace(ctx context.Context) error {
	return p.capture(ctx, StepFace, StepGesture, func(f domain.Frame) { p.draft.FaceImage = f })
}

func (p *Presets) CaptureGesture(ctx context.Context) error {
	return p.capture(ctx, StepGesture, StepReview, func(f domain.Frame) { p.draft.GestureImage = f })
}

func (p *Presets) capture(ctx context.Context, want, next WizardStep, store func(domain.Frame)) error {
	p.mu.Lock()
	step := p.step
	p.mu.Unlock()
	if step != want {
		return fmt.Errorf("wizard is at step %s, not %s: %w", step, want, domain.ErrInvalidInput)
	}

	frame, err := p.camera.Capture(ctx)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.step != want {
		return fmt.Errorf("wizard moved on to %s: %w", p.step, domain.ErrInvalidInput)
	}
	store(frame)
	p.step = next
	return nil
}

// Submit saves the draft with the current device states.
func (p *Presets) Submit(ctx context.Context) (domain.Preset, error) {
	p.mu.Lock()
	if p.step != StepReview {
		step := p.step
		p.mu.Unlock()
		return domain.Preset{}, fmt.Errorf("wizard is at step %s: %w", step, domain.ErrInvalidInput)
	}
	p.step = StepSaving
	draft := p.draft
	p.mu.Unlock()

	draft.DeviceStates = domain.CaptureStates(p.registry.Snapshot())
	if users := p.identity.ActiveUsers(); len(users) > 0 {
		draft.UserID = users[0].ID
	}

	reqCtx, cancel := requestContext(ctx, p.timeout)
	defer cancel()

	saved, err := p.backend.CreatePreset(reqCtx, draft)
	if err != nil {
		p.mu.Lock()
		p.step = StepReview
		p.mu.Unlock()
		p.activity.Warn(fmt.Sprintf("saving preset failed: %v", err), "preset", draft.Name)
		return domain.Preset{}, fmt.Errorf("creating preset: %w", err)
	}

	p.Cancel()
	p.activity.Add(fmt.Sprintf("preset saved: %s", saved.Name), "preset", saved.ID, "devices", len(draft.DeviceStates))
	return saved, nil
}

// Cancel abandons the wizard and releases the camera.
func (p *Presets) Cancel() {
	p.mu.Lock()
	p.step = StepIdle
	p.draft = domain.Preset{}
	p.mu.Unlock()

	if err := p.camera.Close(); err != nil {
		p.logger.Warn("releasing camera", "error", err)
	}
}

func (p *Presets) Wizard() WizardState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return WizardState{
		Step:       p.step,
		Name:       p.draft.Name,
		HasFace:    !p.draft.FaceImage.Empty(),
		HasGesture: !p.draft.GestureImage.Empty(),
	}
}

// Recall captures a face, waits the gesture pause, captures a gesture, asks the
// backend for the matching preset and applies it. domain.ErrNoMatch means no
// preset matched.
func (p *Presets) Recall(ctx context.Context) (domain.Preset, error) {
	p.mu.Lock()
	if p.busy {
		p.mu.Unlock()
		return domain.Preset{}, domain.ErrBusy
	}
	p.busy = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.busy = false
		p.mu.Unlock()
	}()

	if err := p.camera.Open(ctx); err != nil {
		p.activity.Warn("camera unavailable", "error", err)
		return domain.Preset{}, err
	}
	defer func() {
		if err := p.camera.Close(); err != nil {
			p.logger.Warn("releasing camera", "error", err)
		}
	}()

	face, err := p.camera.Capture(ctx)
	if err != nil {
		return domain.Preset{}, err
	}
	if err := p.pause(ctx); err != nil {
		return domain.Preset{}, err
	}
	gesture, err := p.camera.Capture(ctx)
	if err != nil {
		return domain.Preset{}, err
	}

	return p.RecallFrames(ctx, face, gesture)
}

func (p *Presets) pause(ctx context.Context) error {
	if p.gesturePause <= 0 {
		return nil
	}
	p.activity.Add("face captured, show your gesture")
	select {
	case <-p.clock.After(p.gesturePause):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RecallFrames is Recall with frames the caller already captured, for clients
// that run their own two-step capture.
func (p *Presets) RecallFrames(ctx context.Context, face, gesture domain.Frame) (domain.Preset, error) {
	if face.Empty() || gesture.Empty() {
		return domain.Preset{}, fmt.Errorf("face and gesture images are required: %w", domain.ErrInvalidInput)
	}

	reqCtx, cancel := requestContext(ctx, p.timeout)
	preset, err := p.backend.RecognizePreset(reqCtx, face, gesture)
	cancel()
	if err != nil {
		if errors.Is(err, domain.ErrNoMatch) {
			p.activity.Add("no preset matched")
			return domain.Preset{}, err
		}
		p.activity.Warn(fmt.Sprintf("preset recognition failed: %v", err))
		return domain.Preset{}, fmt.Errorf("recognizing preset: %w", err)
	}

	applied := p.Apply(ctx, preset)
	p.activity.Add(fmt.Sprintf("preset %s applied to %d device(s)", preset.Name, applied),
		"preset", preset.ID, "confidence", preset.Confidence)
	return preset, nil
}

// Apply issues one toggle and/or value call per device that differs from the preset.
// It returns the number of devices touched.
func (p *Presets) Apply(ctx context.Context, preset domain.Preset) int {
	touched := 0
	for _, state := range preset.DeviceStates {
		d, ok := p.registry.Get(state.DeviceID)
		if !ok {
			p.logger.Warn("preset references unknown device", "device", state.DeviceID, "preset", preset.ID)
			continue
		}

		changed := false
		if d.Status != state.Status {
			if err := p.registry.Toggle(ctx, d.ID); err != nil {
				p.logger.Error("applying preset status", "device", d.ID, "error", err)
			}
			changed = true
		}
		if value := state.Value.Normalize(d.Type); value != nil && !value.Equal(d.Value) {
			if err := p.registry.SetValue(ctx, d.ID, value); err != nil {
				p.logger.Error("applying preset value", "device", d.ID, "error", err)
			}
			changed = true
		}
		if changed {
			touched++
		}
	}
	return touched
}

func (p *Presets) List(ctx context.Context) ([]domain.Preset, error) {
	reqCtx, cancel := requestContext(ctx, p.timeout)
	defer cancel()

	presets, err := p.backend.ListPresets(reqCtx)
	if err != nil {
		return nil, fmt.Errorf("listing presets: %w", err)
	}
	return presets, nil
}
