package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/viant/ktask/internal/clock"
	"github.com/viant/ktask/internal/idgen"
	"github.com/viant/ktask/service/messaging"
)

// Config for memory queue implementation
type Config struct {
	// MaxRetries is how many times a nacked message is redelivered.
	MaxRetries int `json:"maxRetries" yaml:"maxRetries"`
	// QueueBuffer is the channel capacity.
	QueueBuffer int `json:"queueBuffer" yaml:"queueBuffer"`
	// NonBlocking makes Publish fail with messaging.ErrQueueFull instead of
	// waiting for room.
	NonBlocking bool `json:"nonBlocking" yaml:"nonBlocking"`
}

// DefaultConfig returns a standard configuration for memory queue
func DefaultConfig() Config {
	return Config{
		MaxRetries:  3,
		QueueBuffer: 1024,
	}
}

// Message is a message of the in-memory queue
type Message[T any] struct {
	id         string
	payload    T
	queue      *Queue[T]
	retryCount int
	mu         sync.Mutex
	processed  bool
	createdAt  time.Time
}

// ID returns the message identifier
func (m *Message[T]) ID() string { return m.id }

// T returns the message payload
func (m *Message[T]) T() *T {
	return &m.payload
}

// CreatedAt returns the publication time
func (m *Message[T]) CreatedAt() time.Time { return m.createdAt }

// Ack acknowledges the message as processed successfully
func (m *Message[T]) Ack() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.processed {
		return fmt.Errorf("message %s already processed", m.id)
	}
	m.processed = true
	return nil
}

// Nack redelivers the message until MaxRetries is exceeded; after that it
// moves to the dead letter list.
func (m *Message[T]) Nack(err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.processed {
		return fmt.Errorf("message %s already processed", m.id)
	}
	m.processed = true
	m.retryCount++
	if m.retryCount > m.queue.config.MaxRetries {
		m.queue.deadLetter(m, err)
		return nil
	}
	retry := &Message[T]{
		id:         m.id,
		payload:    m.payload,
		queue:      m.queue,
		retryCount: m.retryCount,
		createdAt:  clock.Now(),
	}
	select {
	case m.queue.messages <- retry:
	default:
		m.queue.deadLetter(retry, messaging.ErrQueueFull)
	}
	return nil
}

type deadLetter[T any] struct {
	message *Message[T]
	err     error
}

// Queue implements an in-memory messaging.Queue
type Queue[T any] struct {
	messages chan *Message[T]
	config   Config
	dlqMu    sync.Mutex
	dlq      []deadLetter[T]
}

// NewQueue creates a new in-memory queue
func NewQueue[T any](config Config) *Queue[T] {
	if config.QueueBuffer <= 0 {
		config.QueueBuffer = DefaultConfig().QueueBuffer
	}
	return &Queue[T]{
		messages: make(chan *Message[T], config.QueueBuffer),
		config:   config,
	}
}

// Publish adds a new item to the queue
func (q *Queue[T]) Publish(ctx context.Context, t *T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := &Message[T]{
		id:        idgen.New(),
		payload:   *t,
		queue:     q,
		createdAt: clock.Now(),
	}
	if q.config.NonBlocking {
		select {
		case q.messages <- msg:
			return nil
		default:
			return messaging.ErrQueueFull
		}
	}
	select {
	case q.messages <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume retrieves a single item from the queue
func (q *Queue[T]) Consume(ctx context.Context) (messaging.Message[T], error) {
	select {
	case msg := <-q.messages:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryConsume returns the next message without waiting; ok is false when the
// queue is empty.
func (q *Queue[T]) TryConsume() (messaging.Message[T], bool) {
	select {
	case msg := <-q.messages:
		return msg, true
	default:
		return nil, false
	}
}

// Size returns the current number of messages in the queue
func (q *Queue[T]) Size() int {
	return len(q.messages)
}

// DLQSize returns the number of messages in the dead letter queue
func (q *Queue[T]) DLQSize() int {
	q.dlqMu.Lock()
	defer q.dlqMu.Unlock()
	return len(q.dlq)
}

func (q *Queue[T]) deadLetter(m *Message[T], err error) {
	q.dlqMu.Lock()
	q.dlq = append(q.dlq, deadLetter[T]{message: m, err: err})
	q.dlqMu.Unlock()
}

var _ messaging.Queue[any] = (*Queue[any])(nil)
