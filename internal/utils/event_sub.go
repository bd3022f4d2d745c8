package utils

import (
	"sync"
)

// EventSub fans each pushed event out to every subscriber channel.
// Based on PubSub from https://eli.thegreenplace.net/2020/pubsub-using-channels-in-go/
type EventSub[T any] struct {
	mu        sync.RWMutex
	subs      []chan *T
	closed    bool
	done      chan struct{}
	closeOnce sync.Once
	bufferAmt uint
}

// NewEventSub creates an EventSub whose subscriber channels hold bufferAmt
// events before Push has to wait on a slow reader.
func NewEventSub[T any](bufferAmt uint) *EventSub[T] {
	return &EventSub[T]{
		subs:      make([]chan *T, 0),
		done:      make(chan struct{}),
		bufferAmt: bufferAmt,
	}
}

// Subscribe returns a new channel receiving every subsequent event. The channel
// is closed by Close. Subscribing after Close returns a closed channel.
func (es *EventSub[T]) Subscribe() <-chan *T {
	es.mu.Lock()
	defer es.mu.Unlock()

	ch := make(chan *T, es.bufferAmt)
	if es.closed {
		close(ch)
		return ch
	}
	es.subs = append(es.subs, ch)
	return ch
}

// Unsubscribe removes and closes a channel returned by Subscribe.
func (es *EventSub[T]) Unsubscribe(c <-chan *T) {
	es.mu.Lock()
	defer es.mu.Unlock()

	for i, ch := range es.subs {
		if ch == c {
			close(ch)
			es.subs[i] = es.subs[len(es.subs)-1]
			es.subs = es.subs[:len(es.subs)-1]
			return
		}
	}
}

// Push delivers data to every subscriber. A push racing with Close is
// abandoned instead of blocking on a reader that has gone away.
func (es *EventSub[T]) Push(data *T) {
	es.mu.RLock()
	defer es.mu.RUnlock()

	if es.closed {
		return
	}

	for _, ch := range es.subs {
		select {
		case ch <- data:
		case <-es.done:
			return
		}
	}
}

// Close closes every subscriber channel. It is safe to call more than once.
func (es *EventSub[T]) Close() {
	es.closeOnce.Do(func() { close(es.done) })

	es.mu.Lock()
	defer es.mu.Unlock()

	if !es.closed {
		es.closed = true
		for _, ch := range es.subs {
			close(ch)
		}
		es.subs = nil
	}
}
