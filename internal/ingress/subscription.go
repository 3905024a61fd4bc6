package ingress

import (
	"context"
	"sync"

	"github.com/PratikDhanave/wheel-activity-tracker/internal/models"
)

// Subscription is one consumer group's queue. Next may be called from many
// goroutines; each event goes to exactly one of them.
type Subscription struct {
	name  string
	limit int
	bus   *Bus

	mu     sync.Mutex
	queue  []models.Envelope
	closed bool

	ready chan struct{}
	done  chan struct{}
}

// Name is the consumer group the subscription was created for.
func (s *Subscription) Name() string {
	return s.name
}

// Len is the number of queued events.
func (s *Subscription) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Next blocks until an event is available, the subscription is closed and
// drained (ErrClosed), or ctx is done.
func (s *Subscription) Next(ctx context.Context) (models.Envelope, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			env := s.queue[0]
			s.queue[0] = models.Envelope{}
			s.queue = s.queue[1:]
			more := len(s.queue) > 0
			s.mu.Unlock()
			if more {
				s.signal()
			}
			return env, nil
		}
		closed := s.closed
		s.mu.Unlock()

		if closed {
			return models.Envelope{}, ErrClosed
		}
		select {
		case <-ctx.Done():
			return models.Envelope{}, ctx.Err()
		case <-s.done:
		case <-s.ready:
		}
	}
}

// Close detaches the subscription from the bus. Queued events can still be read.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s)
	s.close()
}

func (s *Subscription) push(env models.Envelope) bool {
	s.mu.Lock()
	if s.closed || (s.limit > 0 && len(s.queue) >= s.limit) {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, env)
	s.mu.Unlock()
	s.signal()
	return true
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
}

func (s *Subscription) signal() {
	select {
	case s.ready <- struct{}{}:
	default:
	}
}
