package application

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"smart-room/internal/domain"
)

// Camera is a scoped handle on a FrameSource: a stream exists only between
// Open and Close.
type Camera struct {
	source FrameSource
	logger *slog.Logger

	mu     sync.Mutex
	stream FrameStream
}

func NewCamera(source FrameSource, logger *slog.Logger) *Camera {
	return &Camera{source: source, logger: logger}
}

// Open acquires a stream. It is a no-op when one is already open.
func (c *Camera) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream != nil {
		return nil
	}
	if c.source == nil {
		return domain.ErrCameraUnavailable
	}

	stream, err := c.source.Open(ctx)
	if err != nil {
		return fmt.Errorf("opening %s camera: %w: %w", c.source.Name(), domain.ErrCameraUnavailable, err)
	}
	c.stream = stream
	c.logger.Debug("camera stream opened", "source", c.source.Name())
	return nil
}

func (c *Camera) Capture(ctx context.Context) (domain.Frame, error) {
	c.mu.Lock()
	stream := c.stream
	c.mu.Unlock()

	if stream == nil {
		return "", fmt.Errorf("capturing frame: stream not open: %w", domain.ErrCameraUnavailable)
	}

	frame, err := stream.Capture(ctx)
	if err != nil {
		return "", fmt.Errorf("capturing frame: %w", err)
	}
	if frame.Empty() {
		return "", fmt.Errorf("capturing frame: empty frame: %w", domain.ErrCameraUnavailable)
	}
	return frame, nil
}

// Close releases the stream. Safe to call any number of times.
func (c *Camera) Close() error {
	c.mu.Lock()
	stream := c.stream
	c.stream = nil
	c.mu.Unlock()

	if stream == nil {
		return nil
	}
	if err := stream.Close(); err != nil {
		return fmt.Errorf("closing camera stream: %w", err)
	}
	c.logger.Debug("camera stream closed")
	return nil
}

func (c *Camera) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream != nil
}
