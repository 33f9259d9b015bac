package event

import "log/slog"

// Option configures the event service.
type Option func(s *Service)

// WithBootID stamps every event with the boot identifier
func WithBootID(bootID string) Option {
	return func(s *Service) {
		s.bootID = bootID
	}
}

// WithLogger sets the logger used for delivery failures
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}
