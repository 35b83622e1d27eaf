package audio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"smart-room/internal/domain"
)

const processedDir = "processed"

var audioExtensions = map[string]bool{
	".wav":  true,
	".mp3":  true,
	".m4a":  true,
	".webm": true,
}

// FileSource watches a drop directory. Audio files become utterances for
// transcription and .txt files are typed commands that skip it. Handled
// files are moved to a processed/ subdirectory.
type FileSource struct {
	dir      string
	interval time.Duration
}

func NewFileSource(dir string, interval time.Duration) *FileSource {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &FileSource{
		dir:      dir,
		interval: interval,
	}
}

func (f *FileSource) Name() string {
	return "file"
}

func (f *FileSource) Start(_ context.Context) error {
	if err := os.MkdirAll(filepath.Join(f.dir, processedDir), 0755); err != nil {
		return fmt.Errorf("creating drop dir: %w", err)
	}
	return nil
}

func (f *FileSource) Stop() error {
	return nil
}

func (f *FileSource) NextUtterance(ctx context.Context) ([]byte, error) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		data, err := f.next()
		if err != nil || data != nil {
			return data, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// next returns the oldest pending file, or nil when the directory is empty.
func (f *FileSource) next() ([]byte, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("reading drop dir: %w", err)
	}

	type pending struct {
		name    string
		modTime time.Time
	}
	var files []pending
	for _, entry := range entries {
		if entry.IsDir() || !accepted(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, pending{name: entry.Name(), modTime: info.ModTime()})
	}
	if len(files) == 0 {
		return nil, nil
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].modTime.Equal(files[j].modTime) {
			return files[i].name < files[j].name
		}
		return files[i].modTime.Before(files[j].modTime)
	})

	name := files[0].name
	path := filepath.Join(f.dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file %s: %w", path, err)
	}
	if err := os.Rename(path, filepath.Join(f.dir, processedDir, name)); err != nil {
		return nil, fmt.Errorf("moving %s to processed: %w", name, err)
	}

	if strings.EqualFold(filepath.Ext(name), ".txt") {
		text := strings.TrimSpace(string(data))
		if text == "" {
			return nil, nil
		}
		return []byte(domain.TextCommandPrefix + text), nil
	}
	return data, nil
}

func accepted(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".txt" || audioExtensions[ext]
}
