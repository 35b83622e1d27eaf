package surface

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"smart-room/internal/application"
	"smart-room/internal/domain"
)

const stateInterval = 50 * time.Millisecond

type Config struct {
	Addr          string
	AuthToken     string
	RatePerSecond float64
	Burst         int
}

// FramePusher accepts webcam frames from the renderer.
type FramePusher interface {
	Push(data []byte) error
	Wanted() bool
}

// Server is the control surface a renderer drives: REST routes for every room
// operation and a websocket stream of room state.
type Server struct {
	cfg     Config
	room    *application.Room
	frames  FramePusher
	voice   http.Handler
	hub     *Hub
	limiter *clientLimiter
	logger  *slog.Logger
	router  *mux.Router

	dirty chan struct{}

	mu      sync.Mutex
	server  *http.Server
	running bool
}

// NewServer wires the routes. frames and voice are optional.
func NewServer(cfg Config, room *application.Room, frames FramePusher, voice http.Handler, logger *slog.Logger) *Server {
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 30
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 60
	}

	s := &Server{
		cfg:     cfg,
		room:    room,
		frames:  frames,
		voice:   voice,
		limiter: newClientLimiter(cfg.RatePerSecond, cfg.Burst),
		logger:  logger,
		dirty:   make(chan struct{}, 1),
	}
	s.hub = NewHub(s.handleMessage, logger.With("component", "hub"))
	s.routes()

	room.Registry.Subscribe(func(d domain.Device) {
		s.hub.Broadcast(Message{Type: "device", Data: d})
		s.markDirty()
	})
	room.Activity.Subscribe(func(e application.ActivityEntry) {
		s.hub.Broadcast(Message{Type: "activity", Data: e})
		s.markDirty()
	})
	room.Overlays.Subscribe(func(_, _ application.OverlayState) {
		s.markDirty()
	})

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Hub() *Hub {
	return s.hub
}

// Run drives the websocket hub and the state broadcaster until ctx ends.
func (s *Server) Run(ctx context.Context) {
	go s.hub.Run(ctx)

	ticker := time.NewTicker(stateInterval)
	defer ticker.Stop()

	pending := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.dirty:
			pending = true
		case <-ticker.C:
			if pending {
				s.hub.Broadcast(s.stateMessage())
				pending = false
			}
		}
	}
}

func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	s.server = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go s.Run(ctx)
	go func() {
		s.logger.Info("control surface starting", "addr", s.cfg.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("control surface error", "error", err)
		}
	}()

	s.running = true
	return nil
}

func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Warn("graceful shutdown failed, forcing close", "error", err)
		if err := s.server.Close(); err != nil {
			return fmt.Errorf("closing server: %w", err)
		}
	}
	return nil
}

func (s *Server) markDirty() {
	select {
	case s.dirty <- struct{}{}:
	default:
	}
}

type stateView struct {
	application.RoomState
	CameraWanted bool `json:"camera_wanted"`
}

func (s *Server) state() stateView {
	view := stateView{RoomState: s.room.State()}
	if s.frames != nil {
		view.CameraWanted = s.frames.Wanted()
	}
	return view
}

func (s *Server) stateMessage() Message {
	return Message{Type: "state", Data: s.state()}
}
