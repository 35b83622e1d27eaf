package camera

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"smart-room/internal/application"
	"smart-room/internal/domain"
)

// DirSource replays still images from a directory in name order, looping.
// Useful for kiosks without a webcam and for demos.
type DirSource struct {
	dir     string
	encoder Encoder
}

func NewDirSource(dir string, encoder Encoder) *DirSource {
	return &DirSource{dir: dir, encoder: encoder}
}

func (d *DirSource) Name() string {
	return "file"
}

func (d *DirSource) Open(_ context.Context) (application.FrameStream, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, fmt.Errorf("reading frame dir: %w", err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".jpg", ".jpeg", ".png":
			paths = append(paths, filepath.Join(d.dir, entry.Name()))
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no images in %s", d.dir)
	}
	sort.Strings(paths)

	return &dirStream{paths: paths, encoder: d.encoder}, nil
}

type dirStream struct {
	encoder Encoder

	mu     sync.Mutex
	paths  []string
	next   int
	closed bool
}

func (s *dirStream) Capture(ctx context.Context) (domain.Frame, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrStreamClosed
	}
	path := s.paths[s.next]
	s.next = (s.next + 1) % len(s.paths)
	s.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return s.encoder.EncodeBytes(data)
}

func (s *dirStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
