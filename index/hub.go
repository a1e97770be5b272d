package index

import (
	"bytes"
	"context"
	"sync"
)

// Hub distributes Changes to subscribers.
// Publish never blocks on a slow subscriber:
// each Subscription queues its own undelivered changes.
type Hub struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// Subscription is a stream of changes to one index,
// restricted to keys with a given prefix.
// It begins with a snapshot of the matching entries as Added changes.
type Subscription struct {
	Index  string
	Prefix []byte

	hub    *Hub
	ch     chan Change
	notify chan struct{}
	done   chan struct{}
	once   sync.Once

	mu    sync.Mutex
	queue []Change
}

// Subscribe registers a new subscription on the given index and key prefix.
// The caller supplies the snapshot,
// which must be read under the same lock that serializes Publish calls
// so that no change falls between the snapshot and the stream.
//
// The subscription ends when ctx is canceled or Close is called,
// at which point its channel is closed.
func (h *Hub) Subscribe(ctx context.Context, index string, prefix []byte, snapshot []Change) *Subscription {
	s := &Subscription{
		Index:  index,
		Prefix: prefix,
		hub:    h,
		ch:     make(chan Change),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		queue:  snapshot,
	}

	h.mu.Lock()
	if h.subs == nil {
		h.subs = make(map[*Subscription]struct{})
	}
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	go s.pump(ctx)

	return s
}

// Publish delivers changes to every matching subscription.
func (h *Hub) Publish(changes []Change) {
	if len(changes) == 0 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for s := range h.subs {
		var matching []Change
		for _, c := range changes {
			if c.Index == s.Index && bytes.HasPrefix(c.Key, s.Prefix) {
				matching = append(matching, c)
			}
		}
		if len(matching) > 0 {
			s.enqueue(matching)
		}
	}
}

// Close ends every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = nil
	h.mu.Unlock()

	for s := range subs {
		s.Close()
	}
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
}

// C is the channel on which changes arrive.
func (s *Subscription) C() <-chan Change {
	return s.ch
}

// Close ends the subscription.
func (s *Subscription) Close() {
	s.once.Do(func() { close(s.done) })
}

func (s *Subscription) enqueue(changes []Change) {
	s.mu.Lock()
	s.queue = append(s.queue, changes...)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscription) pump(ctx context.Context) {
	defer close(s.ch)
	defer s.hub.remove(s)

	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.notify:
				continue
			case <-ctx.Done():
				return
			case <-s.done:
				return
			}
		}
		next := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.ch <- next:
		case <-ctx.Done():
			return
		case <-s.done:
			return
		}
	}
}
