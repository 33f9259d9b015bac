package event

import (
	"context"

	"github.com/viant/ktask/internal/clock"
	"github.com/viant/ktask/service/messaging"
)

// Publisher writes events to a queue.
type Publisher[T any] struct {
	queue messaging.Queue[Event[T]]
}

// NewPublisher creates a publisher over queue.
func NewPublisher[T any](queue messaging.Queue[Event[T]]) *Publisher[T] {
	return &Publisher[T]{
		queue: queue,
	}
}

// Publish stamps and enqueues event.
func (p *Publisher[T]) Publish(ctx context.Context, event *Event[T]) error {
	event.CreatedAt = clock.Now()
	return p.queue.Publish(ctx, event)
}

// Consume waits for the next event and acknowledges it.
func (p *Publisher[T]) Consume(ctx context.Context) (*Event[T], error) {
	msg, err := p.queue.Consume(ctx)
	if err != nil || msg == nil {
		return nil, err
	}
	if err = msg.Ack(); err != nil {
		return nil, err
	}
	return msg.T(), nil
}

type tryConsumer[T any] interface {
	TryConsume() (messaging.Message[T], bool)
}

// Drain hands every queued event to handler without waiting for new ones.
// It returns the number of events handled; queues that cannot be polled
// yield 0.
func (p *Publisher[T]) Drain(handler func(*Event[T])) int {
	queue, ok := p.queue.(tryConsumer[Event[T]])
	if !ok {
		return 0
	}
	count := 0
	for {
		msg, ok := queue.TryConsume()
		if !ok {
			return count
		}
		if err := msg.Ack(); err != nil {
			continue
		}
		handler(msg.T())
		count++
	}
}
