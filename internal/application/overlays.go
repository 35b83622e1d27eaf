package application

import (
	"slices"
	"sync"
)

type OverlayState struct {
	WebcamOpen bool `json:"webcam_open"`
	AuthOpen   bool `json:"auth_open"`
}

func (s OverlayState) AnyOpen() bool {
	return s.WebcamOpen || s.AuthOpen
}

// Overlays tracks the modal surfaces: the live camera feed and the identity overlay.
type Overlays struct {
	mu        sync.Mutex
	state     OverlayState
	listeners []func(prev, next OverlayState)
}

func NewOverlays(authOpen bool) *Overlays {
	return &Overlays{state: OverlayState{AuthOpen: authOpen}}
}

func (o *Overlays) State() OverlayState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Overlays) AnyOpen() bool {
	return o.State().AnyOpen()
}

// Subscribe registers a listener for state transitions. Listeners run without the lock held.
func (o *Overlays) Subscribe(fn func(prev, next OverlayState)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.listeners = append(o.listeners, fn)
}

// OpenWebcam opens the feed modal. It reports false if it was already open.
func (o *Overlays) OpenWebcam() bool {
	return o.set(func(s *OverlayState) { s.WebcamOpen = true })
}

func (o *Overlays) CloseWebcam() bool {
	return o.set(func(s *OverlayState) { s.WebcamOpen = false })
}

func (o *Overlays) SetAuthOpen(open bool) bool {
	return o.set(func(s *OverlayState) { s.AuthOpen = open })
}

func (o *Overlays) set(fn func(*OverlayState)) bool {
	o.mu.Lock()
	prev := o.state
	fn(&o.state)
	next := o.state
	listeners := slices.Clone(o.listeners)
	o.mu.Unlock()

	if prev == next {
		return false
	}
	for _, l := range listeners {
		l(prev, next)
	}
	return true
}
