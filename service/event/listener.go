package event

import (
	"context"
	"errors"
	"log/slog"
)

// Listener consumes events in the background and passes them to handler.
type Listener[T any] struct {
	publisher *Publisher[T]
	handler   func(*Event[T])
	logger    *slog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewListener creates a stopped listener.
func NewListener[T any](publisher *Publisher[T], handler func(*Event[T]), logger *slog.Logger) *Listener[T] {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Listener[T]{
		publisher: publisher,
		handler:   handler,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// Stop ends consumption and waits for the running handler to return.
func (l *Listener[T]) Stop() {
	l.cancel()
	<-l.done
}

// Start consumes events until Stop.
func (l *Listener[T]) Start() {
	go func() {
		defer close(l.done)
		for {
			event, err := l.publisher.Consume(l.ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				l.logger.Warn("failed to consume event", "error", err)
				continue
			}
			if event != nil {
				l.handler(event)
			}
		}
	}()
}
