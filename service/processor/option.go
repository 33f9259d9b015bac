package processor

import (
	"github.com/viant/ktask/service/ready"
)

// Option configures the processor.
type Option func(*Service)

// WithReadySet sets the ready set the idle loop fetches from
func WithReadySet(readySet *ready.Service) Option {
	return func(s *Service) {
		s.ready = readySet
	}
}

// WithListeners registers callbacks invoked right before a task is
// switched in. Listeners must not block or switch.
func WithListeners(listeners ...Listener) Option {
	return func(s *Service) {
		if len(listeners) == 0 {
			return
		}
		s.listeners = append(s.listeners, listeners...)
	}
}

// WithConfig sets the configuration for the service
func WithConfig(config Config) Option {
	return func(s *Service) {
		s.config = config
	}
}
