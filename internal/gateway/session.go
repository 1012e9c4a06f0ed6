package gateway

import (
	"sync"
	"sync/atomic"
)

// Session is one connected client. Frames are queued in a bounded outbox
// and written by the transport; a full outbox drops the frame.
type Session struct {
	ID string

	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once
	dropped   atomic.Int64
}

func newSession(id string, outboxSize int) *Session {
	return &Session{
		ID:   id,
		out:  make(chan []byte, outboxSize),
		done: make(chan struct{}),
	}
}

// Outbox yields encoded frames in the order they were queued.
func (s *Session) Outbox() <-chan []byte { return s.out }

// Done is closed once the session is disconnected.
func (s *Session) Done() <-chan struct{} { return s.done }

// Dropped is the number of frames lost to a full outbox.
func (s *Session) Dropped() int64 { return s.dropped.Load() }

func (s *Session) trySend(frame []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.out <- frame:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() { close(s.done) })
}
