package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"smart-room/internal/application"
	"smart-room/internal/domain"
)

var (
	ErrNoFeed       = errors.New("no camera feed")
	ErrStreamClosed = errors.New("camera stream closed")
)

// PushSource receives webcam frames from the renderer. A stream can only be
// opened while frames keep arriving; Capture returns the newest frame that is
// younger than MaxAge, waiting for the next push otherwise.
type PushSource struct {
	encoder     Encoder
	maxAge      time.Duration
	openTimeout time.Duration
	now         func() time.Time

	mu      sync.Mutex
	latest  domain.Frame
	at      time.Time
	arrived chan struct{}
	streams int
}

func NewPushSource(encoder Encoder, maxAge, openTimeout time.Duration) *PushSource {
	if maxAge <= 0 {
		maxAge = 2 * time.Second
	}
	if openTimeout <= 0 {
		openTimeout = 3 * time.Second
	}
	return &PushSource{
		encoder:     encoder,
		maxAge:      maxAge,
		openTimeout: openTimeout,
		now:         time.Now,
		arrived:     make(chan struct{}),
	}
}

func (p *PushSource) Name() string {
	return "push"
}

// Push stores a raw JPEG or PNG image as the latest frame.
func (p *PushSource) Push(data []byte) error {
	frame, err := p.encoder.EncodeBytes(data)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.latest = frame
	p.at = p.now()
	close(p.arrived)
	p.arrived = make(chan struct{})
	p.mu.Unlock()
	return nil
}

// Wanted reports whether any stream is open, so the renderer knows to stream.
func (p *PushSource) Wanted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.streams > 0
}

func (p *PushSource) fresh() (domain.Frame, <-chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.latest != "" && p.now().Sub(p.at) <= p.maxAge {
		return p.latest, nil
	}
	return "", p.arrived
}

func (p *PushSource) Open(ctx context.Context) (application.FrameStream, error) {
	p.mu.Lock()
	p.streams++
	p.mu.Unlock()

	s := &pushStream{source: p, closed: make(chan struct{})}

	ctx, cancel := context.WithTimeout(ctx, p.openTimeout)
	defer cancel()
	if _, err := s.Capture(ctx); err != nil {
		s.Close()
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrNoFeed
		}
		return nil, err
	}
	return s, nil
}

type pushStream struct {
	source    *PushSource
	closeOnce sync.Once
	closed    chan struct{}
}

func (s *pushStream) Capture(ctx context.Context) (domain.Frame, error) {
	for {
		frame, next := s.source.fresh()
		if frame != "" {
			return frame, nil
		}
		select {
		case <-next:
		case <-s.closed:
			return "", ErrStreamClosed
		case <-ctx.Done():
			return "", fmt.Errorf("waiting for frame: %w", ctx.Err())
		}
	}
}

func (s *pushStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.source.mu.Lock()
		s.source.streams--
		s.source.mu.Unlock()
	})
	return nil
}
