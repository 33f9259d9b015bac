// Package event publishes task lifecycle events to a message queue and
// dispatches them to a listener.
package event

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/viant/ktask/service/messaging"
)

// Service publishes lifecycle events.
type Service struct {
	bootID    string
	logger    *slog.Logger
	publisher *Publisher[Lifecycle]
	mux       sync.Mutex
	listener  *Listener[Lifecycle]
}

// New creates the service over queue.
func New(queue messaging.Queue[Event[Lifecycle]], opts ...Option) (*Service, error) {
	if queue == nil {
		return nil, fmt.Errorf("event queue is required")
	}
	ret := &Service{logger: slog.Default(), publisher: NewPublisher[Lifecycle](queue)}
	for _, opt := range opts {
		opt(ret)
	}
	return ret, nil
}

// Publish emits an event of eventType for pid.
func (s *Service) Publish(ctx context.Context, eventType Type, pid, parent int, data Lifecycle) error {
	evt := NewEvent(&Context{BootID: s.bootID, Pid: pid, Parent: parent, EventType: eventType}, data)
	if err := s.publisher.Publish(ctx, evt); err != nil {
		return fmt.Errorf("failed to publish %s event for pid %d: %w", eventType, pid, err)
	}
	return nil
}

// SetListener replaces the background listener.
func (s *Service) SetListener(handler func(*Event[Lifecycle])) {
	s.mux.Lock()
	defer s.mux.Unlock()
	if s.listener != nil {
		s.listener.Stop()
	}
	s.listener = NewListener[Lifecycle](s.publisher, handler, s.logger)
	s.listener.Start()
}

// Stop stops the background listener, if any.
func (s *Service) Stop() {
	s.mux.Lock()
	defer s.mux.Unlock()
	if s.listener != nil {
		s.listener.Stop()
		s.listener = nil
	}
}

// Drain synchronously hands queued events to handler.
func (s *Service) Drain(handler func(*Event[Lifecycle])) int {
	return s.publisher.Drain(handler)
}
