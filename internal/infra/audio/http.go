package audio

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"smart-room/internal/domain"
)

const (
	maxAudioBytes = 10 * 1024 * 1024
	maxTextBytes  = 1024
)

var ErrSourceClosed = errors.New("utterance source closed")

// HTTPSource queues utterances posted by the control surface. It does not
// listen on its own: the surface mounts Handler behind its auth and rate limit.
type HTTPSource struct {
	queue     chan []byte
	logger    *slog.Logger
	closeOnce sync.Once
	done      chan struct{}
}

func NewHTTPSource(queueSize int, logger *slog.Logger) *HTTPSource {
	if queueSize <= 0 {
		queueSize = 10
	}
	return &HTTPSource{
		queue:  make(chan []byte, queueSize),
		logger: logger,
		done:   make(chan struct{}),
	}
}

func (h *HTTPSource) Name() string {
	return "http"
}

func (h *HTTPSource) Start(_ context.Context) error {
	return nil
}

func (h *HTTPSource) Stop() error {
	h.closeOnce.Do(func() { close(h.done) })
	return nil
}

func (h *HTTPSource) NextUtterance(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
		return nil, ErrSourceClosed
	case data := <-h.queue:
		return data, nil
	}
}

// Enqueue reports false when the queue is full or the source stopped.
func (h *HTTPSource) Enqueue(data []byte) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.queue <- data:
		return true
	default:
		return false
	}
}

func (h *HTTPSource) Pending() int {
	return len(h.queue)
}

// Handler serves POST /audio (raw audio bytes) and POST /text (plain text).
func (h *HTTPSource) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /audio", h.handleAudio)
	mux.HandleFunc("POST /text", h.handleText)
	return mux
}

func (h *HTTPSource) handleAudio(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	data, err := io.ReadAll(io.LimitReader(r.Body, maxAudioBytes))
	if err != nil {
		h.logger.Error("reading audio body", "error", err)
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	if len(data) == 0 {
		http.Error(w, "empty audio", http.StatusBadRequest)
		return
	}

	if !h.Enqueue(data) {
		http.Error(w, "queue full, try again", http.StatusServiceUnavailable)
		return
	}
	h.logger.Info("received audio via HTTP", "bytes", len(data))
	writeAccepted(w, map[string]any{"status": "received", "bytes": len(data)})
}

func (h *HTTPSource) handleText(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	data, err := io.ReadAll(io.LimitReader(r.Body, maxTextBytes))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	text := strings.TrimSpace(string(data))
	if text == "" {
		http.Error(w, "empty text", http.StatusBadRequest)
		return
	}

	if !h.Enqueue([]byte(domain.TextCommandPrefix + text)) {
		http.Error(w, "queue full, try again", http.StatusServiceUnavailable)
		return
	}
	h.logger.Info("received text command via HTTP", "text", text)
	writeAccepted(w, map[string]any{"status": "received", "text": text})
}

func writeAccepted(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(body)
}
