package hart

import (
	"io"
	"log/slog"
)

// Config controls the interpreter.
type Config struct {
	// TimeSlice preempts the running task after that many instructions;
	// zero disables preemption.
	TimeSlice int `json:"timeSlice" yaml:"timeSlice"`
	// MaxPath bounds path strings read from user memory.
	MaxPath int `json:"maxPath" yaml:"maxPath"`
}

// DefaultConfig returns a cooperative configuration.
func DefaultConfig() Config {
	return Config{MaxPath: 256}
}

// Option configures a Hart.
type Option func(*Hart)

// WithConfig sets the interpreter configuration.
func WithConfig(config Config) Option {
	return func(h *Hart) {
		h.config = config
	}
}

// WithTimeSlice enables preemption every n instructions.
func WithTimeSlice(n int) Option {
	return func(h *Hart) {
		h.config.TimeSlice = n
	}
}

// WithStdout sets where the write syscall sends fd 1.
func WithStdout(w io.Writer) Option {
	return func(h *Hart) {
		h.stdout = w
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hart) {
		if logger != nil {
			h.logger = logger
		}
	}
}
