package llm

import (
	"context"
	"io"
	"sync"
)

// eventStream adapts a producer goroutine into a Stream.
type eventStream struct {
	events chan Event
	cancel context.CancelFunc
	once   sync.Once
}

// newEventStream runs produce in a goroutine and exposes what it sends as a
// Stream. A non-nil error returned by produce becomes a trailing EventError.
// The channel is closed when produce returns, which Recv reports as io.EOF.
func newEventStream(ctx context.Context, produce func(ctx context.Context, events chan<- Event) error) Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := &eventStream{
		events: make(chan Event, 16),
		cancel: cancel,
	}
	go func() {
		defer close(s.events)
		if err := produce(ctx, s.events); err != nil {
			select {
			case s.events <- Event{Type: EventError, Err: err}:
			case <-ctx.Done():
			}
		}
	}()
	return s
}

func (s *eventStream) Recv() (Event, error) {
	ev, ok := <-s.events
	if !ok {
		return Event{}, io.EOF
	}
	return ev, nil
}

// Close cancels the producer and drains anything it still sends so it can exit.
func (s *eventStream) Close() error {
	s.once.Do(func() {
		s.cancel()
		go func() {
			for range s.events {
			}
		}()
	})
	return nil
}
