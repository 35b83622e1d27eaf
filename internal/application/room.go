package application

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"smart-room/internal/domain"
)

type RoomConfig struct {
	RequestTimeout  time.Duration
	PerDeviceTopics bool
	PublishLocal    bool
	DwellRate       float64
	ActivitySize    int
	AuthAtStart     bool
	GesturePause    time.Duration
	Identity        IdentityConfig
	Locomotion      LocomotionConfig
}

type RoomDeps struct {
	Backend     Backend
	Push        PushChannel
	Interpreter CommandInterpreter
	Frames      FrameSource
	Notifier    Notifier
	Clock       clock.WithDelayedExecution
	Logger      *slog.Logger
}

type RoomState struct {
	Devices    []domain.Device  `json:"devices"`
	Pending    map[string]int   `json:"pending_sliders"`
	Overlays   OverlayState     `json:"overlays"`
	Gaze       GazeState        `json:"gaze"`
	Locomotion LocomotionState  `json:"locomotion"`
	Identity   IdentitySnapshot `json:"identity"`
	Wizard     WizardState      `json:"preset_wizard"`
	Processing bool             `json:"processing"`
	Activity   []ActivityEntry  `json:"activity"`
	Feed       bool             `json:"feed_streaming"`
}

// Room is the explicit state container for one room session. It builds every
// controller around a single Registry.
type Room struct {
	Activity   *ActivityLog
	Registry   *Registry
	Sliders    *Sliders
	Overlays   *Overlays
	Gaze       *Gaze
	Locomotion *Locomotion
	Identity   *Identity
	Presets    *Presets
	Dispatcher *Dispatcher
	Reconciler *Reconciler
	Feed       *Camera

	logger *slog.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

func NewRoom(cfg RoomConfig, deps RoomDeps) *Room {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = &NoopNotifier{}
	}
	interpreter := deps.Interpreter
	if interpreter == nil {
		interpreter = NoInterpreter{}
	}
	if cfg.Identity.RequestTimeout == 0 {
		cfg.Identity.RequestTimeout = cfg.RequestTimeout
	}

	activity := NewActivityLog(cfg.ActivitySize, clk, logger.With("component", "activity"))
	registry := NewRegistry(deps.Backend, activity, cfg.RequestTimeout, logger.With("component", "registry"))
	overlays := NewOverlays(cfg.AuthAtStart)
	identity := NewIdentity(
		deps.Backend,
		NewCamera(deps.Frames, logger.With("component", "identity-camera")),
		overlays,
		activity,
		notifier,
		clk,
		cfg.Identity,
		logger.With("component", "identity"),
	)

	r := &Room{
		Activity:   activity,
		Registry:   registry,
		Sliders:    NewSliders(registry),
		Overlays:   overlays,
		Gaze:       NewGaze(registry, overlays, activity, cfg.DwellRate, logger.With("component", "gaze")),
		Locomotion: NewLocomotion(overlays, cfg.Locomotion),
		Identity:   identity,
		Presets: NewPresets(
			deps.Backend,
			registry,
			identity,
			NewCamera(deps.Frames, logger.With("component", "preset-camera")),
			activity,
			cfg.RequestTimeout,
			clk,
			cfg.GesturePause,
			logger.With("component", "presets"),
		),
		Dispatcher: NewDispatcher(interpreter, registry, activity, notifier, logger.With("component", "dispatch")),
		Feed:       NewCamera(deps.Frames, logger.With("component", "feed-camera")),
		logger:     logger,
	}

	if deps.Push != nil {
		r.Reconciler = NewReconciler(deps.Push, registry, activity, cfg.PerDeviceTopics, logger.With("component", "reconciler"))
		if cfg.PublishLocal {
			registry.OnCommitted(func(ctx context.Context, u domain.DeviceUpdate) {
				if err := r.Reconciler.Publish(ctx, u); err != nil {
					r.logger.Warn("publishing local edit", "device", u.ID, "error", err)
				}
			})
		}
	}

	overlays.Subscribe(r.overlayChanged)
	return r
}

// Start loads devices, connects the push channel and, when the identity
// overlay starts open, begins recognition. Backend and broker failures are
// logged, not fatal: the room keeps running on stale state.
func (r *Room) Start(ctx context.Context) error {
	r.mu.Lock()
	r.ctx, r.cancel = context.WithCancel(ctx)
	runCtx := r.ctx
	r.mu.Unlock()

	if err := r.Registry.FetchAll(runCtx); err != nil {
		r.logger.Warn("starting with stale device state", "error", err)
	}

	if r.Reconciler != nil {
		if err := r.Reconciler.Start(runCtx); err != nil {
			r.Activity.Warn("live updates unavailable", "error", err)
		}
	}

	if r.Overlays.State().AuthOpen {
		if err := r.Identity.OpenOverlay(runCtx); err != nil {
			r.logger.Warn("identity overlay", "error", err)
		}
	}
	return nil
}

// Refresh reloads devices from the backend and, on success, subscribes the
// push topics of any devices that were not known before.
func (r *Room) Refresh(ctx context.Context) error {
	if err := r.Registry.FetchAll(ctx); err != nil {
		return err
	}
	if r.Reconciler != nil {
		if err := r.Reconciler.Subscribe(); err != nil {
			r.logger.Warn("subscribing refreshed devices", "error", err)
		}
	}
	return nil
}

func (r *Room) overlayChanged(prev, next OverlayState) {
	if next.AnyOpen() {
		r.Locomotion.Unlock()
	}

	switch {
	case !prev.WebcamOpen && next.WebcamOpen:
		if err := r.Feed.Open(r.context()); err != nil {
			r.Activity.Warn("camera unavailable", "error", err)
			r.Overlays.CloseWebcam()
		}
	case prev.WebcamOpen && !next.WebcamOpen:
		r.Gaze.ResetProgress()
		if err := r.Feed.Close(); err != nil {
			r.logger.Warn("releasing feed camera", "error", err)
		}
	}
}

func (r *Room) context() context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

func (r *Room) State() RoomState {
	return RoomState{
		Devices:    r.Registry.Snapshot(),
		Pending:    r.Sliders.PendingAll(),
		Overlays:   r.Overlays.State(),
		Gaze:       r.Gaze.State(),
		Locomotion: r.Locomotion.State(),
		Identity:   r.Identity.Snapshot(),
		Wizard:     r.Presets.Wizard(),
		Processing: r.Dispatcher.Processing(),
		Activity:   r.Activity.Entries(),
		Feed:       r.Feed.IsOpen(),
	}
}

// Close tears the session down and releases every camera stream.
func (r *Room) Close() error {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()

	r.Locomotion.Close()
	r.Identity.Shutdown()
	r.Presets.Cancel()

	var errs []error
	if err := r.Feed.Close(); err != nil {
		errs = append(errs, err)
	}
	if r.Reconciler != nil {
		if err := r.Reconciler.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
