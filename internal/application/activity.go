package application

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/utils/clock"
)

const DefaultActivitySize = 5

type ActivityEntry struct {
	ID      string    `json:"id"`
	At      time.Time `json:"at"`
	Warning bool      `json:"warning"`
	Message string    `json:"message"`
}

// ActivityLog is the user-visible log panel: the most recent entries only.
// Every entry is mirrored to the structured logger.
type ActivityLog struct {
	logger *slog.Logger
	clock  clock.PassiveClock
	size   int

	mu        sync.Mutex
	entries   []ActivityEntry
	total     int
	listeners []func(ActivityEntry)
}

func NewActivityLog(size int, clk clock.PassiveClock, logger *slog.Logger) *ActivityLog {
	if size <= 0 {
		size = DefaultActivitySize
	}
	return &ActivityLog{
		logger: logger,
		clock:  clk,
		size:   size,
	}
}

// Add appends an informational entry. attrs go to the structured log only.
func (l *ActivityLog) Add(msg string, attrs ...any) {
	l.logger.Info(msg, attrs...)
	l.append(msg, false)
}

func (l *ActivityLog) Warn(msg string, attrs ...any) {
	l.logger.Warn(msg, attrs...)
	l.append(msg, true)
}

func (l *ActivityLog) append(msg string, warning bool) {
	entry := ActivityEntry{
		ID:      uuid.NewString(),
		At:      l.clock.Now(),
		Warning: warning,
		Message: msg,
	}

	l.mu.Lock()
	l.entries = append(l.entries, entry)
	if len(l.entries) > l.size {
		l.entries = append([]ActivityEntry(nil), l.entries[len(l.entries)-l.size:]...)
	}
	l.total++
	listeners := slices.Clone(l.listeners)
	l.mu.Unlock()

	for _, fn := range listeners {
		fn(entry)
	}
}

func (l *ActivityLog) Entries() []ActivityEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	result := make([]ActivityEntry, len(l.entries))
	copy(result, l.entries)
	return result
}

// Total counts every entry ever appended, including evicted ones.
func (l *ActivityLog) Total() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

func (l *ActivityLog) Subscribe(fn func(ActivityEntry)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}
