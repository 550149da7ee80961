// Package preview fans live-view frames out to HTTP clients. The camera
// worker publishes each frame once; the hub handles per-client pacing so
// slow clients never back-pressure the worker loop.
package preview

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/smazurov/tethernode/internal/driver"
)

// Hub routes frames from the single producer (the worker's frame sink)
// to any number of subscribers. Each subscriber holds a one-slot buffer;
// when a client lags, older frames are dropped so it always gets the
// most recent one.
type Hub struct {
	mu     sync.RWMutex
	subs   map[int]chan driver.Frame
	nextID int
	latest driver.Frame
	logger *slog.Logger
}

// NewHub creates an empty preview hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		subs:   make(map[int]chan driver.Frame),
		logger: logger,
	}
}

// Publish delivers a frame to all subscribers. Never blocks.
func (h *Hub) Publish(frame driver.Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.latest = frame
	for _, ch := range h.subs {
		select {
		case ch <- frame:
		default:
			// Slot taken: replace the stale frame with the new one.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- frame:
			default:
			}
		}
	}
}

// Subscribe registers a client and returns its frame channel plus an
// unsubscribe function. The last published frame, if any, is pre-loaded
// so new clients paint immediately.
func (h *Hub) Subscribe() (<-chan driver.Frame, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan driver.Frame, 1)
	if h.latest.Data != nil {
		ch <- h.latest
	}
	h.subs[id] = ch
	h.logger.Debug("Preview subscriber added", "subscribers", len(h.subs))

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(ch)
		}
	}
}

// SubscriberCount returns the number of connected preview clients.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

const mjpegBoundary = "frame"

// ServeHTTP streams frames as multipart/x-mixed-replace (MJPEG) until the
// client disconnects. Registered outside the OpenAPI surface since the
// content type is not expressible there.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	frames, unsub := h.Subscribe()
	defer unsub()

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mjpegBoundary)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	for {
		select {
		case <-r.Context().Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			mime := frame.Mime
			if mime == "" {
				mime = "image/jpeg"
			}
			_, err := fmt.Fprintf(w, "--%s\r\nContent-Type: %s\r\nContent-Length: %d\r\n\r\n",
				mjpegBoundary, mime, len(frame.Data))
			if err != nil {
				return
			}
			if _, err := w.Write(frame.Data); err != nil {
				return
			}
			if _, err := fmt.Fprint(w, "\r\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
