package feed

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// DefaultBufferSize is the default per-subscriber frame buffer.
const DefaultBufferSize = 64

// Hub fans frames out to subscribers. Each subscriber owns a buffered
// queue; when a queue overflows the oldest frame is dropped, so a stuck
// display falls behind on history but always converges on fresh state.
type Hub struct {
	logger *slog.Logger

	subscribers sync.Map // subscriber ID → *Subscriber

	seq            atomic.Uint64
	totalPublished atomic.Int64
	totalDropped   atomic.Int64

	bufferSize int
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithBufferSize sets the per-subscriber frame buffer size.
func WithBufferSize(size int) HubOption {
	return func(h *Hub) {
		if size > 0 {
			h.bufferSize = size
		}
	}
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger, opts ...HubOption) *Hub {
	h := &Hub{
		logger:     logger,
		bufferSize: DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe registers a new subscriber. An existing subscriber with the
// same ID is replaced and closed.
func (h *Hub) Subscribe(id string) *Subscriber {
	sub := newSubscriber(id, h.bufferSize)
	if prev, loaded := h.subscribers.Swap(id, sub); loaded {
		prev.(*Subscriber).Close()
	}
	h.logger.Debug("feed: subscriber joined", "subscriber", id)
	return sub
}

// Remove unregisters and closes a subscriber.
func (h *Hub) Remove(id string) {
	if val, ok := h.subscribers.LoadAndDelete(id); ok {
		val.(*Subscriber).Close()
		h.logger.Debug("feed: subscriber left", "subscriber", id)
	}
}

// Broadcast stamps the frame's sequence number and delivers it to every
// subscriber. Slow subscribers lose their oldest buffered frame.
func (h *Hub) Broadcast(f *Frame) {
	f.Seq = h.seq.Add(1)
	h.subscribers.Range(func(_, val any) bool {
		sub := val.(*Subscriber)
		delivered, dropped := sub.send(f)
		if delivered {
			h.totalPublished.Add(1)
		}
		if dropped {
			h.totalDropped.Add(1)
		}
		return true
	})
}

// Stats returns hub counters.
func (h *Hub) Stats() HubStats {
	count := 0
	h.subscribers.Range(func(_, _ any) bool {
		count++
		return true
	})
	return HubStats{
		Subscribers: count,
		Published:   h.totalPublished.Load(),
		Dropped:     h.totalDropped.Load(),
	}
}

// HubStats contains hub counters.
type HubStats struct {
	Subscribers int   `json:"subscribers"`
	Published   int64 `json:"published"`
	Dropped     int64 `json:"dropped"`
}

// Shutdown closes every subscriber.
func (h *Hub) Shutdown() {
	h.subscribers.Range(func(key, val any) bool {
		val.(*Subscriber).Close()
		h.subscribers.Delete(key)
		return true
	})
	h.logger.Info("feed hub shut down")
}

// Subscriber receives frames from the hub it was created by.
type Subscriber struct {
	id      string
	dropped atomic.Int64

	// mu serializes sends against Close. Sends never block, so holding
	// it through a delivery is cheap.
	mu     sync.Mutex
	ch     chan *Frame
	closed bool
}

func newSubscriber(id string, bufferSize int) *Subscriber {
	return &Subscriber{
		id: id,
		ch: make(chan *Frame, bufferSize),
	}
}

// ID returns the subscriber identifier.
func (s *Subscriber) ID() string { return s.id }

// C returns the read-only frame channel. It closes when the subscriber
// is removed or the hub shuts down.
func (s *Subscriber) C() <-chan *Frame { return s.ch }

// Dropped returns how many frames this subscriber has lost.
func (s *Subscriber) Dropped() int64 { return s.dropped.Load() }

// send delivers a frame, evicting the oldest buffered frame on overflow.
func (s *Subscriber) send(f *Frame) (delivered, droppedOld bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, false
	}

	select {
	case s.ch <- f:
		return true, false
	default:
	}

	// Buffer full: make room by discarding the oldest frame.
	select {
	case <-s.ch:
		s.dropped.Add(1)
		droppedOld = true
	default:
	}

	select {
	case s.ch <- f:
		return true, droppedOld
	default:
		return false, droppedOld
	}
}

// Close closes the subscriber channel. Safe to call multiple times.
func (s *Subscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
