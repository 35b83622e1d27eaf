package application

import (
	"fmt"
	"log/slog"
	"sync"

	"smart-room/internal/domain"
)

const (
	DefaultDwellRate = 50.0
	maxDwellProgress = 100.0
)

type GazePhase string

const (
	GazeNoTarget  GazePhase = "no-target"
	GazeDwelling  GazePhase = "dwelling"
	GazeTriggered GazePhase = "triggered"
)

type GazeState struct {
	Phase    GazePhase `json:"phase"`
	TargetID string    `json:"target_id,omitempty"`
	Progress float64   `json:"progress"`
}

// Gaze opens a camera's live feed once the pointer has rested on it long enough.
type Gaze struct {
	registry *Registry
	overlays *Overlays
	activity *ActivityLog
	logger   *slog.Logger
	rate     float64

	mu    sync.Mutex
	state GazeState
}

func NewGaze(registry *Registry, overlays *Overlays, activity *ActivityLog, rate float64, logger *slog.Logger) *Gaze {
	if rate <= 0 {
		rate = DefaultDwellRate
	}
	return &Gaze{
		registry: registry,
		overlays: overlays,
		activity: activity,
		logger:   logger,
		rate:     rate,
		state:    GazeState{Phase: GazeNoTarget},
	}
}

// Enter starts dwelling on a camera. With a modal open the gaze resets instead.
func (g *Gaze) Enter(id string) error {
	d, ok := g.registry.Get(id)
	if !ok {
		return domain.ErrDeviceNotFound
	}
	if d.Type != domain.DeviceTypeCamera {
		return fmt.Errorf("%s is not a camera: %w", id, domain.ErrInvalidInput)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.overlays.AnyOpen() {
		g.state = GazeState{Phase: GazeNoTarget}
		return nil
	}
	if g.state.Phase == GazeDwelling && g.state.TargetID == id {
		return nil
	}
	g.state = GazeState{Phase: GazeDwelling, TargetID: id}
	return nil
}

// Leave drops the target. Progress does not survive target loss.
func (g *Gaze) Leave() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = GazeState{Phase: GazeNoTarget}
}

// ResetProgress zeroes progress but keeps the target.
func (g *Gaze) ResetProgress() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state.Progress = 0
}

// Frame advances dwell progress by dt seconds and reports whether the feed was opened.
func (g *Gaze) Frame(dt float64) bool {
	g.mu.Lock()
	if g.state.Phase != GazeDwelling {
		if g.state.Phase == GazeTriggered {
			g.state = GazeState{Phase: GazeNoTarget}
		}
		g.mu.Unlock()
		return false
	}
	if g.overlays.AnyOpen() {
		g.state = GazeState{Phase: GazeNoTarget}
		g.mu.Unlock()
		return false
	}

	progress := g.state.Progress + dt*g.rate
	if progress < maxDwellProgress {
		g.state.Progress = max(progress, 0)
		g.mu.Unlock()
		return false
	}

	target := g.state.TargetID
	g.state = GazeState{Phase: GazeTriggered, TargetID: target}
	g.mu.Unlock()

	// Overlay listeners may call back into Gaze, so the lock is released first.
	if !g.overlays.OpenWebcam() {
		g.Leave()
		return false
	}
	g.activity.Add("connecting to camera...", "camera", target)
	return true
}

func (g *Gaze) State() GazeState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}
