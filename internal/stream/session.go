package stream

import (
	"context"
	"sync"
	"time"
)

// Control is a signal sent to a running session.
type Control int

const (
	ControlPause Control = iota
	ControlResume
	ControlStop
)

// Session is one in-flight generation task.
type Session struct {
	ID        string
	Model     string
	StartedAt time.Time

	cancel  context.CancelFunc
	done    chan struct{}
	control chan Control

	mu     sync.Mutex
	active bool
	paused bool
}

func newSession(id, model string, cancel context.CancelFunc) *Session {
	return &Session{
		ID:        id,
		Model:     model,
		StartedAt: time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
		control:   make(chan Control, 4),
		active:    true,
	}
}

// Active reports whether the session may still emit events.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Paused reports whether the session is holding between chunks.
func (s *Session) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Done is closed when the background task has returned.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// deactivate stops all further emits, signals ControlStop and cancels the
// task. Cancellation still ends the task when the control queue is full.
func (s *Session) deactivate() {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()
	s.sendControl(ControlStop)
	s.cancel()
}

// emit runs publish while the session is active. The lock is held across
// publish so a concurrent stop either precedes the event or follows it.
func (s *Session) emit(terminal bool, publish func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return false
	}
	publish()
	if terminal {
		s.active = false
	}
	return true
}

func (s *Session) sendControl(c Control) bool {
	select {
	case s.control <- c:
		return true
	default:
		return false
	}
}

// checkpoint applies pending control signals. A paused session blocks here
// until resumed, stopped or cancelled. It returns false when the task should exit.
func (s *Session) checkpoint(ctx context.Context) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case c := <-s.control:
			if !s.apply(c) {
				return false
			}
			continue
		default:
		}
		if !s.Paused() {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case c := <-s.control:
			if !s.apply(c) {
				return false
			}
		}
	}
}

func (s *Session) apply(c Control) bool {
	if c == ControlStop {
		return false
	}
	s.setPaused(c == ControlPause)
	return true
}

func (s *Session) setPaused(p bool) {
	s.mu.Lock()
	s.paused = p
	s.mu.Unlock()
}
