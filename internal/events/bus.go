// Package events implements the Conductor event bus (spec §4.C): a typed
// publish/subscribe fanout with bounded per-subscriber buffering and
// drop-oldest overflow semantics, broadcasting to a "global" topic and
// per-agent "agent:<id>" topics.
package events

import (
	"sync"

	"github.com/hugo-lorenzo-mato/quorum-ai/internal/core"
)

// DefaultQueueSize is the default bounded queue depth per subscriber.
const DefaultQueueSize = 256

type subscriber struct {
	ch      chan core.BusMessage
	topics  map[string]bool
	mu      sync.Mutex
	dropped int
	closed  bool
}

func (s *subscriber) deliver(msg core.BusMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- msg:
		return
	default:
	}
	// Queue full: drop the oldest pending message, make room, and retry.
	select {
	case <-s.ch:
		s.dropped++
	default:
	}
	select {
	case s.ch <- msg:
	default:
		s.dropped++
	}
}

func (s *subscriber) deliverLaggedIfNeeded() {
	s.mu.Lock()
	n := s.dropped
	if n == 0 {
		s.mu.Unlock()
		return
	}
	s.dropped = 0
	s.mu.Unlock()
	marker := core.BusMessage{Topic: core.GlobalTopic, Kind: core.BusPayloadKind("lagged"), Payload: core.LaggedMarker{Dropped: n}}
	select {
	case s.ch <- marker:
	default:
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// subscription is the Subscription handle returned by Bus.Subscribe.
type subscription struct {
	sub *subscriber
	bus *Bus
}

func (s *subscription) Messages() <-chan core.BusMessage { return s.sub.ch }

func (s *subscription) Close() { s.bus.remove(s.sub) }

var _ core.Subscription = (*subscription)(nil)

// Bus is the process-wide EventBus singleton (spec §5).
type Bus struct {
	mu        sync.RWMutex
	bySubj    map[string][]*subscriber
	queueSize int
	closed    bool
}

// New creates an event bus with the given per-subscriber queue depth.
// A non-positive size falls back to DefaultQueueSize.
func New(queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Bus{bySubj: make(map[string][]*subscriber), queueSize: queueSize}
}

var _ core.EventBus = (*Bus)(nil)

// Subscribe registers a subscriber on the given topics (spec §4.C: a
// subscriber is added to the topic's table under a short write lock and
// receives only events published after this call; no replay).
func (b *Bus) Subscribe(topics ...string) core.Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscriber{
		ch:     make(chan core.BusMessage, b.queueSize),
		topics: make(map[string]bool, len(topics)),
	}
	for _, t := range topics {
		sub.topics[t] = true
		b.bySubj[t] = append(b.bySubj[t], sub)
	}
	if b.closed {
		sub.close()
	}
	return &subscription{sub: sub, bus: b}
}

// Publish fans a payload out to every subscriber of topic. Never blocks:
// a full subscriber queue drops its oldest pending message and the
// subscriber is marked lagged, delivered once on its next successful send.
func (b *Bus) Publish(topic string, kind core.BusPayloadKind, payload any) {
	b.mu.RLock()
	subs := b.bySubj[topic]
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return
	}
	msg := core.BusMessage{Topic: topic, Kind: kind, Payload: payload}
	for _, s := range subs {
		s.deliver(msg)
		s.deliverLaggedIfNeeded()
	}
}

// remove unregisters sub from every topic table it was added to
// (idempotent: closing an already-removed subscription is a no-op).
func (b *Bus) remove(sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for t := range sub.topics {
		list := b.bySubj[t]
		for i, s := range list {
			if s == sub {
				b.bySubj[t] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}
	sub.close()
}

// Close shuts the bus down: every subscriber queue is closed so pending
// readers observe queue-closed rather than hanging.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	seen := make(map[*subscriber]bool)
	for _, list := range b.bySubj {
		for _, s := range list {
			if !seen[s] {
				seen[s] = true
				s.close()
			}
		}
	}
	b.bySubj = make(map[string][]*subscriber)
}
