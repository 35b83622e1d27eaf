package application

import (
	"errors"
	"math"
	"sync"

	"smart-room/internal/domain"
)

var (
	ErrOverlayOpen = errors.New("an overlay is open")
	ErrClosed      = errors.New("controller closed")
)

type LocomotionConfig struct {
	Damping        float64
	Acceleration   float64
	EyeHeight      float64
	RoomHalfExtent float64
}

func DefaultLocomotionConfig() LocomotionConfig {
	return LocomotionConfig{
		Damping:        10,
		Acceleration:   40,
		EyeHeight:      1.6,
		RoomHalfExtent: 4.8,
	}
}

type moveKey int

const (
	keyForward moveKey = iota
	keyBackward
	keyLeft
	keyRight
)

var keyBindings = map[string]moveKey{
	"KeyW":       keyForward,
	"ArrowUp":    keyForward,
	"KeyS":       keyBackward,
	"ArrowDown":  keyBackward,
	"KeyA":       keyLeft,
	"ArrowLeft":  keyLeft,
	"KeyD":       keyRight,
	"ArrowRight": keyRight,
}

type LocomotionState struct {
	Locked   bool        `json:"locked"`
	Position domain.Vec3 `json:"position"`
	Yaw      float64     `json:"yaw"`
}

// Locomotion moves the first-person viewpoint while pointer lock is engaged.
// Velocity lives in the viewer's local frame: x is right, z is backward.
type Locomotion struct {
	overlays *Overlays
	cfg      LocomotionConfig

	mu       sync.Mutex
	held     [4]bool
	locked   bool
	closed   bool
	velocity [2]float64
	position domain.Vec3
	yaw      float64
}

func NewLocomotion(overlays *Overlays, cfg LocomotionConfig) *Locomotion {
	return &Locomotion{
		overlays: overlays,
		cfg:      cfg,
		position: domain.Vec3{0, cfg.EyeHeight, 0},
	}
}

// KeyDown reports whether the key code is a movement key.
func (l *Locomotion) KeyDown(code string) bool {
	return l.setKey(code, true)
}

func (l *Locomotion) KeyUp(code string) bool {
	return l.setKey(code, false)
}

func (l *Locomotion) setKey(code string, down bool) bool {
	k, ok := keyBindings[code]
	if !ok {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.held[k] = down
	return true
}

// Lock engages pointer lock. It is refused while any overlay is open.
func (l *Locomotion) Lock() error {
	if l.overlays.AnyOpen() {
		return ErrOverlayOpen
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	l.locked = true
	return nil
}

func (l *Locomotion) Unlock() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.locked = false
}

// Look sets the viewing direction as a rotation around the vertical axis.
func (l *Locomotion) Look(yaw float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.yaw = yaw
}

// Frame integrates dt seconds of movement and returns the new position.
func (l *Locomotion) Frame(dt float64) domain.Vec3 {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.locked {
		return l.position
	}

	l.velocity[0] -= l.velocity[0] * l.cfg.Damping * dt
	l.velocity[1] -= l.velocity[1] * l.cfg.Damping * dt

	dirX := boolToFloat(l.held[keyRight]) - boolToFloat(l.held[keyLeft])
	dirZ := boolToFloat(l.held[keyForward]) - boolToFloat(l.held[keyBackward])
	if n := math.Hypot(dirX, dirZ); n > 0 {
		dirX /= n
		dirZ /= n
	}

	if l.held[keyForward] || l.held[keyBackward] {
		l.velocity[1] -= dirZ * l.cfg.Acceleration * dt
	}
	if l.held[keyLeft] || l.held[keyRight] {
		l.velocity[0] -= dirX * l.cfg.Acceleration * dt
	}

	right := -l.velocity[0] * dt
	forward := -l.velocity[1] * dt

	// Forward is -z at yaw 0, right is +x.
	sin, cos := math.Sincos(l.yaw)
	l.position[0] += right*cos - forward*sin
	l.position[2] += -right*sin - forward*cos

	bound := l.cfg.RoomHalfExtent
	l.position[1] = l.cfg.EyeHeight
	l.position[0] = clamp(l.position[0], -bound, bound)
	l.position[2] = clamp(l.position[2], -bound, bound)

	return l.position
}

func (l *Locomotion) State() LocomotionState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return LocomotionState{Locked: l.locked, Position: l.position, Yaw: l.yaw}
}

// Close drops all held keys and unlocks. Key events after Close are ignored.
func (l *Locomotion) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.locked = false
	l.held = [4]bool{}
	l.velocity = [2]float64{}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
