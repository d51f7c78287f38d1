// Package jobs maintains the current block template and mints per-session
// worker jobs from it. Templates arrive from the daemon poller and fan out
// through a watch-style stream: subscribers always see the newest template,
// never block the producer, and may miss intermediate ones.
package jobs

import (
	"sync"

	"github.com/bardlex/cnpool/internal/daemon"
)

// Stream is a multicast, hot, latest-value template stream. New subscribers
// immediately receive the current template, then all subsequent ones subject
// to overwrite-latest back-pressure.
type Stream struct {
	mu      sync.Mutex
	current *daemon.BlockTemplate
	subs    map[uint64]chan *daemon.BlockTemplate
	nextID  uint64
}

// NewStream creates an empty template stream.
func NewStream() *Stream {
	return &Stream{
		subs: make(map[uint64]chan *daemon.BlockTemplate),
	}
}

// Publish makes t the current template and delivers it to every subscriber.
// A subscriber that has not consumed the previous value has it overwritten;
// the producer never blocks.
func (s *Stream) Publish(t *daemon.BlockTemplate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = t

	for _, ch := range s.subs {
		select {
		case ch <- t:
		default:
			// Drop the stale value, deliver the newest
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- t:
			default:
			}
		}
	}
}

// Subscribe registers a subscriber. The returned channel has capacity one
// and carries the current template immediately if one exists. The cancel
// function must be called exactly once when done.
func (s *Stream) Subscribe() (<-chan *daemon.BlockTemplate, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++

	ch := make(chan *daemon.BlockTemplate, 1)
	if s.current != nil {
		ch <- s.current
	}
	s.subs[id] = ch

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(ch)
		}
	}

	return ch, cancel
}

// Current returns the latest published template, or nil before the first
// poll succeeds.
func (s *Stream) Current() *daemon.BlockTemplate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}
