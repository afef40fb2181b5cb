// ABOUTME: Event sinks: destinations that accept stream events without blocking
// ABOUTME: A full sink drops deltas but always keeps room for the terminal event

package conversation

import "sync"

// Sink receives stream events. Deliver must not block; it reports whether the
// event was accepted.
type Sink interface {
	Deliver(e Event) bool
}

// SinkFunc adapts a function to Sink
type SinkFunc func(e Event) bool

// Deliver calls f(e)
func (f SinkFunc) Deliver(e Event) bool { return f(e) }

// DiscardSink drops every event
var DiscardSink Sink = SinkFunc(func(Event) bool { return false })

// ChanSink buffers events on a channel for a single consumer. One slot beyond
// the buffer is held back for the terminal event, so a lagging consumer loses
// deltas (counted by Dropped) but always sees how the stream ended.
type ChanSink struct {
	mu      sync.Mutex
	ch      chan Event
	buffer  int
	dropped int
	closed  bool
}

// NewChanSink creates a sink holding up to buffer non-terminal events
func NewChanSink(buffer int) *ChanSink {
	if buffer < 0 {
		buffer = 0
	}
	return &ChanSink{ch: make(chan Event, buffer+1), buffer: buffer}
}

// Events returns the receive side of the sink
func (s *ChanSink) Events() <-chan Event {
	return s.ch
}

// Deliver enqueues e unless the sink is closed. Non-terminal events are
// dropped once the buffer is full.
func (s *ChanSink) Deliver(e Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if !e.Terminal() && len(s.ch) >= s.buffer {
		s.dropped++
		return false
	}
	select {
	case s.ch <- e:
		return true
	default:
		s.dropped++
		return false
	}
}

// Dropped returns how many events were refused because the buffer was full
func (s *ChanSink) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close closes the channel. Later deliveries are dropped.
func (s *ChanSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Tee delivers every event to all sinks. It reports true if any accepted it.
func Tee(sinks ...Sink) Sink {
	return SinkFunc(func(e Event) bool {
		accepted := false
		for _, s := range sinks {
			if s != nil && s.Deliver(e) {
				accepted = true
			}
		}
		return accepted
	})
}
