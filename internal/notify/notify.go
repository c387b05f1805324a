// Package notify provides a fan-out broadcaster with per-subscriber buffered
// channels. Delivery is best-effort: a subscriber whose buffer is full has
// that event dropped so one slow consumer can never stall the publisher.
package notify

import (
	"log/slog"
	"sync"
)

// FanOut broadcasts values of type T to any number of subscribers.
type FanOut[T any] struct {
	logger *slog.Logger
	buffer int

	mu          sync.RWMutex
	closed      bool
	subscribers map[chan T]struct{}
}

// NewFanOut creates a broadcaster whose subscriber channels hold up to buffer
// pending events each.
func NewFanOut[T any](buffer int, logger *slog.Logger) *FanOut[T] {
	if buffer <= 0 {
		buffer = 64
	}
	return &FanOut[T]{
		logger:      logger,
		buffer:      buffer,
		subscribers: make(map[chan T]struct{}),
	}
}

// Subscribe returns a channel that receives published events. The caller must
// call Unsubscribe when done. Returns a closed channel after Close.
func (f *FanOut[T]) Subscribe() <-chan T {
	ch := make(chan T, f.buffer)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		close(ch)
		return ch
	}
	f.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (f *FanOut[T]) Unsubscribe(ch <-chan T) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for sub := range f.subscribers {
		if sub == ch {
			delete(f.subscribers, sub)
			close(sub)
			return
		}
	}
}

// Publish delivers the event to every subscriber whose buffer has room.
// Never blocks.
func (f *FanOut[T]) Publish(event T) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return
	}
	for ch := range f.subscribers {
		select {
		case ch <- event:
		default:
			// Full buffer: drop for this subscriber.
			if f.logger != nil {
				f.logger.Debug("notify: subscriber buffer full, event dropped")
			}
		}
	}
}

// Close closes every subscriber channel and rejects future publishes.
// Idempotent.
func (f *FanOut[T]) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for ch := range f.subscribers {
		close(ch)
		delete(f.subscribers, ch)
	}
}
